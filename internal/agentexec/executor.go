package agentexec

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/jkaninda/pi-parallel/internal/outputshape"
)

const (
	// softKillGrace is how long the executor waits after a soft
	// termination signal before escalating to a hard kill.
	softKillGrace = 5 * time.Second

	// maxStderrBytes bounds how much stderr is retained, mirroring the
	// sandbox's limitedWriter discipline so a chatty child cannot OOM
	// the orchestrator.
	maxStderrBytes = 1 << 20

	// maxPreviewChars is the length of a recentOutput text preview.
	maxPreviewChars = 100
)

// Run spawns one child agent subprocess, streams its event protocol,
// and returns exactly one TaskResult. It never panics or returns an
// error to the caller — failure is always expressed through the
// returned TaskResult's ExitCode/Error/Aborted fields.
func Run(ctx context.Context, req Request) TaskResult {
	sink := req.Sink
	if sink == nil {
		sink = NopSink{}
	}
	step := req.Step

	start := time.Now()
	prog := TaskProgress{
		ID:     req.ID,
		Name:   req.Name,
		Status: StatusPending,
		Task:   req.Task,
		Model:  req.Model,
	}
	sink.Publish(prog.Clone())

	promptFile, cleanup, err := writeSystemPromptFile(req.ID, req.SystemPrompt)
	if err != nil {
		return TaskResult{
			ID: req.ID, Name: req.Name, Task: req.Task, Model: req.Model,
			ExitCode: 1, Error: fmt.Sprintf("writing system prompt file: %v", err),
			DurationMs: durationMs(start), Step: step,
		}
	}
	defer cleanup()

	mcpConfigFile, mcpCleanup, err := writeMCPConfigFile(req.ID, req.MCPServers)
	if err != nil {
		return TaskResult{
			ID: req.ID, Name: req.Name, Task: req.Task, Model: req.Model,
			ExitCode: 1, Error: fmt.Sprintf("writing mcp config file: %v", err),
			DurationMs: durationMs(start), Step: step,
		}
	}
	defer mcpCleanup()

	childPath := req.ChildPath
	if childPath == "" {
		childPath = "pi"
	}
	args := buildArgs(req, promptFile, mcpConfigFile)

	cmd := exec.Command(childPath, args...)
	if req.Cwd != "" {
		cmd.Dir = req.Cwd
	}
	// Run the child in its own process group so cancellation signals also
	// reach any processes it spawned, which may hold its stdout open.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return TaskResult{
			ID: req.ID, Name: req.Name, Task: req.Task, Model: req.Model,
			ExitCode: 1, Error: fmt.Sprintf("creating stdout pipe: %v", err),
			DurationMs: durationMs(start), Step: step,
		}
	}
	var stderrBuf bytes.Buffer
	cmd.Stderr = &limitedWriter{w: &stderrBuf, remaining: maxStderrBytes}

	if err := cmd.Start(); err != nil {
		return TaskResult{
			ID: req.ID, Name: req.Name, Task: req.Task, Model: req.Model,
			ExitCode: 1, Error: fmt.Sprintf("starting child: %v", err),
			DurationMs: durationMs(start), Step: step,
		}
	}

	watcher := &runState{
		req:   req,
		sink:  sink,
		start: start,
		prog:  prog,
	}
	watcher.setStatus(StatusRunning)

	killed := make(chan struct{})
	abortDone := make(chan struct{})
	go watchCancellation(ctx, cmd, killed, abortDone)

	watcher.consumeReader(stdout)

	waitErr := cmd.Wait()
	close(killed)
	<-abortDone

	aborted := ctx.Err() != nil
	exitCode := 0
	if waitErr != nil {
		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) {
			exitCode = exitErr.ExitCode()
		} else if !aborted {
			exitCode = 1
		}
	}

	result := watcher.finalize(exitCode, stderrBuf.String(), aborted)
	result.Step = step
	return result
}

// runState accumulates everything observed from the child's event stream
// for a single Run call.
type runState struct {
	req   Request
	sink  ProgressSink
	start time.Time

	mu       sync.Mutex
	prog     TaskProgress
	usage    UsageStats
	lastText string
	apiError string
}

// consumeReader reads newline-delimited JSON events from stdout until
// the child closes the stream, dispatching each per the event table.
func (r *runState) consumeReader(stdout io.Reader) {
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 64*1024), 8*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		ev, ok := parseEvent(line)
		if !ok {
			continue
		}
		r.handleEvent(ev)
	}
}

func (r *runState) handleEvent(ev event) {
	switch ev.Type {
	case typeMessageEnd:
		r.handleMessageEnd(ev)
	case typeToolExecStart:
		r.handleToolStart(ev)
	case typeToolExecEnd:
		r.handleToolEnd(ev)
	case typeToolResultEnd:
		r.emitProgress()
	default:
		// Unknown event type: ignore silently.
	}
}

func (r *runState) handleMessageEnd(ev event) {
	if ev.Message == nil || ev.Message.Role != "assistant" {
		return
	}
	m := ev.Message

	r.mu.Lock()
	r.usage.Turns++
	if m.Usage != nil {
		r.usage.Input += m.Usage.Input
		r.usage.Output += m.Usage.Output
		r.usage.CacheRead += m.Usage.CacheRead
		r.usage.CacheWrite += m.Usage.CacheWrite
		if m.Usage.Cost != nil {
			r.usage.Cost += m.Usage.Cost.Total
		}
		r.usage.ContextTokens = m.Usage.TotalTokens
	}
	for _, part := range m.Content {
		if part.Type != "text" {
			continue
		}
		r.lastText = part.Text
		preview := part.Text
		if len(preview) > maxPreviewChars {
			preview = preview[:maxPreviewChars]
		}
		r.prog.RecentOutput = appendBounded(r.prog.RecentOutput, preview, maxRecentOutput)
	}
	if m.StopReason == "error" && m.ErrorMsg != "" {
		r.apiError = m.ErrorMsg
	}
	r.prog.Tokens = r.usage.Input + r.usage.Output
	r.mu.Unlock()

	r.emitProgress()
}

func (r *runState) handleToolStart(ev event) {
	preview := formatToolArgs(ev.Tool, ev.Args)
	r.mu.Lock()
	r.prog.CurrentTool = ev.Tool
	r.prog.CurrentToolArgs = preview
	r.mu.Unlock()
	r.emitProgress()
}

func (r *runState) handleToolEnd(ev event) {
	preview := formatToolArgs(ev.Tool, ev.Args)
	r.mu.Lock()
	r.prog.RecentTools = appendBounded(r.prog.RecentTools, ToolCall{Tool: ev.Tool, Args: preview}, maxRecentTools)
	r.prog.ToolCount++
	r.prog.CurrentTool = ""
	r.prog.CurrentToolArgs = ""
	r.mu.Unlock()
	r.emitProgress()
}

func (r *runState) setStatus(s Status) {
	r.mu.Lock()
	r.prog.Status = s
	r.mu.Unlock()
	r.emitProgress()
}

func (r *runState) emitProgress() {
	r.mu.Lock()
	r.prog.DurationMs = durationMs(r.start)
	snapshot := r.prog.Clone()
	r.mu.Unlock()
	r.sink.Publish(snapshot)
}

func (r *runState) finalize(exitCode int, stderr string, aborted bool) TaskResult {
	r.mu.Lock()
	defer r.mu.Unlock()

	if aborted {
		r.prog.Status = StatusAborted
	} else if exitCode == 0 {
		r.prog.Status = StatusCompleted
	} else {
		r.prog.Status = StatusFailed
	}
	r.prog.DurationMs = durationMs(r.start)
	r.sink.Publish(r.prog.Clone())

	capped, truncated := outputshape.Cap(r.lastText)

	result := TaskResult{
		ID:         r.req.ID,
		Name:       r.req.Name,
		Task:       r.req.Task,
		Model:      r.req.Model,
		ExitCode:   exitCode,
		Output:     capped,
		Stderr:     stderr,
		Truncated:  truncated,
		DurationMs: r.prog.DurationMs,
		Usage:      r.usage,
		Aborted:    aborted,
	}

	if exitCode == 0 && r.apiError != "" {
		// The child exited 0 but reported a fatal API-level error
		// in-band; compensate by rewriting to a failure.
		result.ExitCode = 1
		result.Error = r.apiError
	} else if exitCode != 0 && !aborted {
		if stderr != "" {
			result.Error = stderr
		} else {
			result.Error = fmt.Sprintf("Exit code: %d", exitCode)
		}
	}

	return result
}

// watchCancellation waits for either ctx to be done or killed to be
// closed (the caller has already reaped the child). On cancellation it
// escalates on the child's process group: soft terminate, then a hard
// kill after softKillGrace if the child has not been reaped.
func watchCancellation(ctx context.Context, cmd *exec.Cmd, killed, done chan struct{}) {
	defer close(done)
	select {
	case <-killed:
		return
	case <-ctx.Done():
	}

	if cmd.Process == nil {
		return
	}
	pgid := -cmd.Process.Pid
	_ = syscall.Kill(pgid, syscall.SIGTERM)

	select {
	case <-killed:
		return
	case <-time.After(softKillGrace):
		_ = syscall.Kill(pgid, syscall.SIGKILL)
		<-killed
	}
}

// writeSystemPromptFile writes a private-mode temp file containing the
// system prompt and returns its path. When prompt is empty, it returns
// ("", no-op cleanup, nil) — no file is written, per spec: the path is
// only passed when a system prompt was supplied.
func writeSystemPromptFile(id, prompt string) (path string, cleanup func(), err error) {
	if prompt == "" {
		return "", func() {}, nil
	}

	dir, err := os.MkdirTemp("", "pi-parallel-*")
	if err != nil {
		return "", nil, fmt.Errorf("creating temp dir: %w", err)
	}
	safeID := outputshape.SafeName(id)
	file := filepath.Join(dir, "prompt-"+safeID+".md")
	if err := os.WriteFile(file, []byte(prompt), 0o600); err != nil {
		_ = os.RemoveAll(dir)
		return "", nil, fmt.Errorf("writing prompt file: %w", err)
	}
	return file, func() { _ = os.RemoveAll(dir) }, nil
}

// buildArgs constructs the child's CLI flags per the §4.1 command
// construction rules.
func buildArgs(req Request, promptFile, mcpConfigFile string) []string {
	args := []string{"--mode", "json", "-p", "--no-session"}
	if req.Provider != "" {
		args = append(args, "--provider", req.Provider)
	}
	if req.Model != "" {
		args = append(args, "--model", req.Model)
	}
	if len(req.Tools) > 0 {
		args = append(args, "--tools", strings.Join(req.Tools, ","))
	}
	if req.Thinking != "" {
		args = append(args, "--thinking", req.Thinking)
	}
	if promptFile != "" {
		args = append(args, "--append-system-prompt", promptFile)
	}
	if mcpConfigFile != "" {
		args = append(args, "--mcp-config", mcpConfigFile)
	}
	args = append(args, compositePrompt(req.Context, req.Task))
	return args
}

// writeMCPConfigFile serializes servers to a private-mode temp JSON file
// for the child to read via --mcp-config. Empty servers writes nothing.
func writeMCPConfigFile(id string, servers []MCPServer) (path string, cleanup func(), err error) {
	if len(servers) == 0 {
		return "", func() {}, nil
	}

	data, err := json.Marshal(struct {
		MCPServers []MCPServer `json:"mcpServers"`
	}{MCPServers: servers})
	if err != nil {
		return "", nil, fmt.Errorf("marshaling mcp servers: %w", err)
	}

	dir, err := os.MkdirTemp("", "pi-parallel-*")
	if err != nil {
		return "", nil, fmt.Errorf("creating temp dir: %w", err)
	}
	safeID := outputshape.SafeName(id)
	file := filepath.Join(dir, "mcp-"+safeID+".json")
	if err := os.WriteFile(file, data, 0o600); err != nil {
		_ = os.RemoveAll(dir)
		return "", nil, fmt.Errorf("writing mcp config file: %w", err)
	}
	return file, func() { _ = os.RemoveAll(dir) }, nil
}

func compositePrompt(context, task string) string {
	if context == "" {
		return "Task: " + task
	}
	return context + "\n\nTask: " + task
}

// limitedWriter wraps a writer and silently discards data past a byte
// limit, preventing a chatty child from exhausting memory. Grounded on
// the teacher's sandbox.limitedWriter.
type limitedWriter struct {
	w         *bytes.Buffer
	remaining int
}

func (lw *limitedWriter) Write(p []byte) (int, error) {
	if lw.remaining <= 0 {
		return len(p), nil
	}
	if len(p) > lw.remaining {
		p = p[:lw.remaining]
	}
	n, err := lw.w.Write(p)
	lw.remaining -= n
	return n, err
}
