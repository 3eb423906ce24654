// Package agentdef discovers named agent definitions from Markdown
// files with YAML frontmatter, scoped to a user-level directory, a
// project-level directory, or both.
package agentdef

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Scope selects which discovery roots a lookup consults.
type Scope string

const (
	ScopeUser    Scope = "user"
	ScopeProject Scope = "project"
	ScopeBoth    Scope = "both"
)

// Definition is one named agent's default settings, parsed from a
// Markdown file's YAML frontmatter.
type Definition struct {
	Name         string   `yaml:"name"`
	Model        string   `yaml:"model"`
	Tools        []string `yaml:"tools"`
	SystemPrompt string   `yaml:"-"` // Parsed from the Markdown body.
	Thinking     string   `yaml:"thinking"`
	SourceFile   string   `yaml:"-"`
}

// Registry holds every definition discovered under a set of roots,
// keyed by name.
type Registry struct {
	defs map[string]Definition
}

// Load discovers agent definitions under userDir and/or projectDir per
// scope. A missing directory is not an error — it simply contributes no
// definitions. Project-scope definitions take precedence over
// user-scope ones when both define the same name.
func Load(scope Scope, userDir, projectDir string) (*Registry, error) {
	reg := &Registry{defs: make(map[string]Definition)}

	if scope == ScopeUser || scope == ScopeBoth {
		if err := reg.loadDir(userDir); err != nil {
			return nil, err
		}
	}
	if scope == ScopeProject || scope == ScopeBoth {
		if err := reg.loadDir(projectDir); err != nil {
			return nil, err
		}
	}

	return reg, nil
}

func (r *Registry) loadDir(dir string) error {
	if dir == "" {
		return nil
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("reading agent definitions dir %s: %w", dir, err)
	}

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".md") {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		def, err := parseFile(path)
		if err != nil {
			continue // Malformed definitions are skipped, not fatal.
		}
		if def.Name == "" {
			def.Name = filenameStem(path)
		}
		r.defs[def.Name] = *def
	}
	return nil
}

// Get returns the definition named name, if any.
func (r *Registry) Get(name string) (Definition, bool) {
	if r == nil {
		return Definition{}, false
	}
	d, ok := r.defs[name]
	return d, ok
}

// Names returns every known definition name, sorted.
func (r *Registry) Names() []string {
	if r == nil {
		return nil
	}
	names := make([]string, 0, len(r.defs))
	for n := range r.defs {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func parseFile(path string) (*Definition, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening file: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)

	if !scanner.Scan() {
		return nil, fmt.Errorf("empty file")
	}
	if strings.TrimSpace(scanner.Text()) != "---" {
		return nil, fmt.Errorf("missing YAML frontmatter")
	}

	var frontmatterLines []string
	foundClose := false
	for scanner.Scan() {
		line := scanner.Text()
		if strings.TrimSpace(line) == "---" {
			foundClose = true
			break
		}
		frontmatterLines = append(frontmatterLines, line)
	}
	if !foundClose {
		return nil, fmt.Errorf("unclosed YAML frontmatter")
	}

	var bodyLines []string
	for scanner.Scan() {
		bodyLines = append(bodyLines, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading file: %w", err)
	}

	def := &Definition{}
	if err := yaml.Unmarshal([]byte(strings.Join(frontmatterLines, "\n")), def); err != nil {
		return nil, fmt.Errorf("parsing YAML frontmatter: %w", err)
	}

	def.SystemPrompt = strings.TrimSpace(strings.Join(bodyLines, "\n"))
	def.SourceFile = path
	return def, nil
}

func filenameStem(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// Resolved merges an agent definition's defaults with inline overrides,
// where any non-empty/non-nil override wins. provider is never taken
// from the definition.
type Resolved struct {
	Model        string
	Tools        []string
	SystemPrompt string
	Thinking     string
}

// Resolve merges def (if found) with the supplied inline overrides.
func (d Definition) Resolve(model string, tools []string, systemPrompt, thinking string) Resolved {
	r := Resolved{
		Model:        d.Model,
		Tools:        d.Tools,
		SystemPrompt: d.SystemPrompt,
		Thinking:     d.Thinking,
	}
	if model != "" {
		r.Model = model
	}
	if len(tools) > 0 {
		r.Tools = tools
	}
	if systemPrompt != "" {
		r.SystemPrompt = systemPrompt
	}
	if thinking != "" {
		r.Thinking = thinking
	}
	return r
}
