package agentexec

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"
)

// fakeChild writes a tiny shell script to dir that prints body to
// stdout (one JSON event per line) and exits with code. It stands in
// for the real "pi" child process so these tests exercise the real
// exec.Command/pipe/scanner plumbing without spawning an LLM.
func fakeChild(t *testing.T, body string, code int) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("fake child script is a POSIX shell script")
	}

	dir := t.TempDir()
	path := filepath.Join(dir, "fake-pi.sh")
	script := fmt.Sprintf("#!/bin/sh\ncat <<'EOF'\n%s\nEOF\nexit %d\n", body, code)
	if err := os.WriteFile(path, []byte(script), 0755); err != nil {
		t.Fatal(err)
	}
	return path
}

type recordingSink struct {
	snapshots []TaskProgress
}

func (s *recordingSink) Publish(p TaskProgress) {
	s.snapshots = append(s.snapshots, p)
}

func TestRunSuccess(t *testing.T) {
	events := `{"type":"message_end","message":{"role":"assistant","content":[{"type":"text","text":"done"}],"usage":{"input":10,"output":5,"totalTokens":15}}}`
	childPath := fakeChild(t, events, 0)

	sink := &recordingSink{}
	result := Run(context.Background(), Request{
		ID:        "t1",
		Task:      "say hi",
		ChildPath: childPath,
		Sink:      sink,
	})

	if result.ExitCode != 0 {
		t.Errorf("ExitCode = %d, want 0", result.ExitCode)
	}
	if result.Output != "done" {
		t.Errorf("Output = %q, want %q", result.Output, "done")
	}
	if result.Usage.Input != 10 || result.Usage.Output != 5 {
		t.Errorf("Usage = %+v, want input=10 output=5", result.Usage)
	}
	if result.Usage.ContextTokens != 15 {
		t.Errorf("ContextTokens = %d, want 15", result.Usage.ContextTokens)
	}
	if len(sink.snapshots) == 0 {
		t.Error("expected at least one progress snapshot")
	}
	if sink.snapshots[0].Status != StatusPending {
		t.Errorf("first snapshot status = %q, want pending", sink.snapshots[0].Status)
	}
}

func TestRunNonZeroExit(t *testing.T) {
	childPath := fakeChild(t, `{"type":"message_end","message":{"role":"assistant","content":[{"type":"text","text":"partial"}]}}`, 3)

	result := Run(context.Background(), Request{ID: "t2", Task: "fail", ChildPath: childPath})

	if result.ExitCode != 3 {
		t.Errorf("ExitCode = %d, want 3", result.ExitCode)
	}
	if result.Error == "" {
		t.Error("expected Error to be set on non-zero exit")
	}
}

func TestRunAPIErrorCompensatesExitCode(t *testing.T) {
	events := `{"type":"message_end","message":{"role":"assistant","content":[{"type":"text","text":"oops"}],"stopReason":"error","errorMessage":"rate limited"}}`
	childPath := fakeChild(t, events, 0)

	result := Run(context.Background(), Request{ID: "t3", Task: "x", ChildPath: childPath})

	if result.ExitCode != 1 {
		t.Errorf("ExitCode = %d, want 1 (compensated)", result.ExitCode)
	}
	if result.Error != "rate limited" {
		t.Errorf("Error = %q, want %q", result.Error, "rate limited")
	}
}

func TestRunToolEvents(t *testing.T) {
	events := `{"type":"tool_execution_start","tool":"read","args":{"path":"a.go"}}
{"type":"tool_execution_end","tool":"read","args":{"path":"a.go"}}
{"type":"message_end","message":{"role":"assistant","content":[{"type":"text","text":"ok"}]}}`
	childPath := fakeChild(t, events, 0)

	result := Run(context.Background(), Request{ID: "t4", Task: "x", ChildPath: childPath})

	if result.Output != "ok" {
		t.Errorf("Output = %q, want %q", result.Output, "ok")
	}
}

func TestRunMissingChild(t *testing.T) {
	result := Run(context.Background(), Request{ID: "t5", Task: "x", ChildPath: filepath.Join(t.TempDir(), "does-not-exist")})

	if result.ExitCode == 0 {
		t.Error("expected non-zero exit for missing child executable")
	}
	if result.Error == "" {
		t.Error("expected Error to be set")
	}
}

func TestRunCancellation(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("signal-based cancellation is POSIX-specific")
	}

	dir := t.TempDir()
	path := filepath.Join(dir, "slow.sh")
	script := "#!/bin/sh\ntrap '' TERM\nsleep 30\n"
	if err := os.WriteFile(path, []byte(script), 0755); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	result := Run(ctx, Request{ID: "t6", Task: "x", ChildPath: path})
	elapsed := time.Since(start)

	if !result.Aborted {
		t.Error("expected Aborted = true")
	}
	if elapsed >= softKillGrace+2*time.Second {
		t.Errorf("Run took %v, expected escalation to hard kill well before %v", elapsed, softKillGrace+2*time.Second)
	}
}

func TestWriteSystemPromptFile(t *testing.T) {
	path, cleanup, err := writeSystemPromptFile("my/id", "be helpful")
	if err != nil {
		t.Fatal(err)
	}
	defer cleanup()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "be helpful" {
		t.Errorf("prompt file contents = %q", data)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Errorf("prompt file perm = %o, want 0600", info.Mode().Perm())
	}

	cleanup()
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("expected prompt dir to be removed after cleanup")
	}
}

func TestWriteSystemPromptFileEmptyIsNoop(t *testing.T) {
	path, cleanup, err := writeSystemPromptFile("id", "")
	if err != nil {
		t.Fatal(err)
	}
	defer cleanup()
	if path != "" {
		t.Errorf("path = %q, want empty for no system prompt", path)
	}
}

func TestWriteMCPConfigFile(t *testing.T) {
	servers := []MCPServer{
		{Name: "search", Transport: "stdio", Command: "search-mcp", Args: []string{"--quiet"}},
	}
	path, cleanup, err := writeMCPConfigFile("my/id", servers)
	if err != nil {
		t.Fatal(err)
	}
	defer cleanup()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), `"search-mcp"`) {
		t.Errorf("mcp config file missing server command: %s", data)
	}

	cleanup()
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("expected mcp config dir to be removed after cleanup")
	}
}

func TestWriteMCPConfigFileEmptyIsNoop(t *testing.T) {
	path, cleanup, err := writeMCPConfigFile("id", nil)
	if err != nil {
		t.Fatal(err)
	}
	defer cleanup()
	if path != "" {
		t.Errorf("path = %q, want empty for no mcp servers", path)
	}
}

func TestBuildArgs(t *testing.T) {
	req := Request{
		Provider: "anthropic",
		Model:    "claude-opus",
		Tools:    []string{"read", "grep"},
		Thinking: "high",
		Task:     "do the thing",
		Context:  "shared ctx",
	}
	args := buildArgs(req, "/tmp/prompt.md", "")

	want := []string{
		"--mode", "json", "-p", "--no-session",
		"--provider", "anthropic",
		"--model", "claude-opus",
		"--tools", "read,grep",
		"--thinking", "high",
		"--append-system-prompt", "/tmp/prompt.md",
		"shared ctx\n\nTask: do the thing",
	}
	if len(args) != len(want) {
		t.Fatalf("args = %v, want %v", args, want)
	}
	for i := range want {
		if args[i] != want[i] {
			t.Errorf("args[%d] = %q, want %q", i, args[i], want[i])
		}
	}
}

func TestBuildArgsIncludesMCPConfigFlag(t *testing.T) {
	args := buildArgs(Request{Task: "do the thing"}, "", "/tmp/mcp.json")

	found := false
	for i, a := range args {
		if a == "--mcp-config" && i+1 < len(args) && args[i+1] == "/tmp/mcp.json" {
			found = true
		}
	}
	if !found {
		t.Errorf("args = %v, want --mcp-config /tmp/mcp.json", args)
	}
}
