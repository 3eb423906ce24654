// Package workspace manages the per-team-run temporary directory tree
// used to materialize task results and shared artifacts during team
// mode. Each call to New creates a fresh root under the OS temp
// directory (or a caller-supplied parent); Teardown removes it.
package workspace

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Workspace is a per-team-run temporary directory tree with tasks/ and
// artifacts/ subdirectories.
type Workspace struct {
	Root  string
	RunID string // Stable correlation ID for this run, independent of the directory name.

	mu      sync.Mutex
	created map[string]bool
}

// New creates a fresh workspace rooted under parent (the OS temp
// directory if parent is empty), named pi-<safeName>-*, with its
// tasks/ and artifacts/ subdirectories already present.
func New(parent, name string) (*Workspace, error) {
	if parent == "" {
		parent = os.TempDir()
	}
	pattern := "pi-" + sanitizeName(name) + "-*"
	root, err := os.MkdirTemp(parent, pattern)
	if err != nil {
		return nil, fmt.Errorf("creating workspace root: %w", err)
	}

	w := &Workspace{
		Root:    root,
		RunID:   uuid.NewString(),
		created: make(map[string]bool),
	}

	if err := w.ensureDir(w.TasksDir()); err != nil {
		return nil, err
	}
	if err := w.ensureDir(w.ArtifactsDir()); err != nil {
		return nil, err
	}

	return w, nil
}

// TasksDir returns <root>/tasks/.
func (w *Workspace) TasksDir() string {
	return filepath.Join(w.Root, "tasks")
}

// ArtifactsDir returns <root>/artifacts/.
func (w *Workspace) ArtifactsDir() string {
	return filepath.Join(w.Root, "artifacts")
}

// taskResultFile is the JSON shape written by WriteTaskResult.
type taskResultFile struct {
	RunID     string    `json:"runId"`
	ID        string    `json:"id"`
	Status    string    `json:"status"`
	Output    string    `json:"output"`
	Timestamp time.Time `json:"timestamp"`
}

// WriteTaskResult writes tasks/<sanitized-id>.json containing
// {runId, id, status, output, timestamp}.
func (w *Workspace) WriteTaskResult(id, output, status string) error {
	rec := taskResultFile{
		RunID:     w.RunID,
		ID:        id,
		Status:    status,
		Output:    output,
		Timestamp: time.Now(),
	}
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling task result %s: %w", id, err)
	}

	path := filepath.Join(w.TasksDir(), sanitizeName(id)+".json")
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing task result %s: %w", id, err)
	}
	return nil
}

// Teardown removes the workspace root entirely. Errors are swallowed,
// matching the caller's always-tear-down-on-return contract.
func (w *Workspace) Teardown() {
	_ = os.RemoveAll(w.Root)
}

// ensureDir creates a directory if it doesn't already exist, caching
// the result to avoid redundant mkdir calls.
func (w *Workspace) ensureDir(path string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.created[path] {
		return nil
	}
	if err := os.MkdirAll(path, 0750); err != nil {
		return fmt.Errorf("creating directory %s: %w", path, err)
	}
	w.created[path] = true
	return nil
}

// sanitizeName replaces path separator characters to prevent directory
// traversal, and collapses an empty name to "_".
func sanitizeName(name string) string {
	name = strings.ReplaceAll(name, "/", "_")
	name = strings.ReplaceAll(name, "\\", "_")
	name = strings.ReplaceAll(name, "..", "_")
	if name == "" {
		name = "_"
	}
	return name
}
