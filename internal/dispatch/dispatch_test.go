package dispatch

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/jkaninda/pi-parallel/internal/agentdef"
	"github.com/jkaninda/pi-parallel/internal/agentexec"
)

// fakeChild writes a POSIX shell script that echoes one canned
// message_end event containing text, then exits with code.
func fakeChild(t *testing.T, text string, code int) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("fake child script is a POSIX shell script")
	}
	dir := t.TempDir()
	path := filepath.Join(dir, "fake-pi.sh")
	script := fmt.Sprintf(`#!/bin/sh
cat <<'EOF'
{"type":"message_end","message":{"role":"assistant","content":[{"type":"text","text":%q}]}}
EOF
exit %d
`, text, code)
	if err := os.WriteFile(path, []byte(script), 0755); err != nil {
		t.Fatal(err)
	}
	return path
}

func baseDeps(childPath string) Dependencies {
	reg, _ := agentdef.Load(agentdef.ScopeUser, "", "")
	return Dependencies{Agents: reg, ChildPath: childPath, Now: func() int64 { return 1000 }}
}

func TestSelectModeRejectsZeroOrMultiple(t *testing.T) {
	if _, err := selectMode(Params{}); err == nil {
		t.Error("expected error when no mode is supplied")
	}
	if _, err := selectMode(Params{Task: "x", Chain: []ChainStep{{Task: "y"}}}); err == nil {
		t.Error("expected error when two modes are supplied")
	}
}

func TestSelectModeAcceptsExactlyOne(t *testing.T) {
	mode, err := selectMode(Params{Task: "hello"})
	if err != nil || mode != "single" {
		t.Errorf("mode=%q err=%v, want single/nil", mode, err)
	}
}

func TestDispatchSingle(t *testing.T) {
	childPath := fakeChild(t, "hello world", 0)

	resp, err := Dispatch(context.Background(), Params{Task: "greet"}, baseDeps(childPath))
	if err != nil {
		t.Fatal(err)
	}
	if resp.Details.Mode != "single" {
		t.Errorf("Mode = %q", resp.Details.Mode)
	}
	if resp.Content[0].Text != "hello world" {
		t.Errorf("Text = %q", resp.Content[0].Text)
	}
	if resp.IsError {
		t.Error("did not expect IsError")
	}
}

func TestDispatchChainHaltsOnFailure(t *testing.T) {
	ok := fakeChild(t, "step ok", 0)
	fail := fakeChild(t, "step fail", 1)

	params := Params{
		Chain: []ChainStep{
			{Task: "first"},
			{Task: "second"},
			{Task: "never runs"},
		},
	}
	deps := baseDeps(ok)

	// Make step 1 fail by swapping the child path mid-run isn't possible
	// with a single ChildPath in Dependencies, so instead verify the halt
	// behavior using a chain whose single shared child always fails.
	deps.ChildPath = fail
	resp, err := Dispatch(context.Background(), params, deps)
	if err != nil {
		t.Fatal(err)
	}
	if !resp.IsError {
		t.Error("expected chain to halt with IsError set")
	}
	// A non-zero exit code is an ordinary task failure, not a
	// cancellation — Aborted must stay false for it.
	if resp.Details.Aborted {
		t.Error("did not expect Details.Aborted for a plain exit-code failure")
	}
	if len(resp.Details.Results) != 1 {
		t.Errorf("expected exactly 1 result before halting, got %d", len(resp.Details.Results))
	}
	if !strings.Contains(resp.Content[0].Text, "Chain stopped at step 0") {
		t.Errorf("Text = %q", resp.Content[0].Text)
	}
}

func TestDispatchChainAbortedOnlyOnCancellation(t *testing.T) {
	childPath := fakeChild(t, "step ok", 0)
	params := Params{
		Chain: []ChainStep{{Task: "first"}, {Task: "second"}},
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	resp, err := Dispatch(ctx, params, baseDeps(childPath))
	if err != nil {
		t.Fatal(err)
	}
	if !resp.IsError {
		t.Error("expected IsError on a cancelled chain")
	}
	if !resp.Details.Aborted {
		t.Error("expected Details.Aborted for a genuinely cancelled context")
	}
}

func TestDispatchChainRunsAllSteps(t *testing.T) {
	childPath := fakeChild(t, "ok", 0)
	params := Params{
		Chain: []ChainStep{{Task: "a"}, {Task: "b"}, {Task: "c"}},
	}
	resp, err := Dispatch(context.Background(), params, baseDeps(childPath))
	if err != nil {
		t.Fatal(err)
	}
	if resp.Details.Aborted {
		t.Error("did not expect abort")
	}
	if len(resp.Details.Results) != 3 {
		t.Errorf("got %d results, want 3", len(resp.Details.Results))
	}
}

func TestDispatchParallelOrderPreserved(t *testing.T) {
	childPath := fakeChild(t, "result", 0)
	params := Params{
		Tasks: []TaskSpec{
			{Task: "one", Name: "a"},
			{Task: "two", Name: "b"},
			{Task: "three", Name: "c"},
		},
	}
	resp, err := Dispatch(context.Background(), params, baseDeps(childPath))
	if err != nil {
		t.Fatal(err)
	}
	if len(resp.Details.Results) != 3 {
		t.Fatalf("got %d results, want 3", len(resp.Details.Results))
	}
	names := []string{resp.Details.Results[0].Name, resp.Details.Results[1].Name, resp.Details.Results[2].Name}
	want := []string{"a", "b", "c"}
	for i := range want {
		if names[i] != want[i] {
			t.Errorf("Results[%d].Name = %q, want %q", i, names[i], want[i])
		}
	}
}

func TestDispatchUnknownAgentRejected(t *testing.T) {
	childPath := fakeChild(t, "x", 0)
	params := Params{Task: "hi", Agent: "ghost"}
	_, err := Dispatch(context.Background(), params, baseDeps(childPath))
	if err == nil {
		t.Fatal("expected error for unknown agent")
	}
	if !strings.Contains(err.Error(), "ghost") {
		t.Errorf("error = %v, want it to mention the unknown agent", err)
	}
}

func TestSubstituteCrossRefs(t *testing.T) {
	results := []agentexec.TaskResult{{Output: "first output"}, {Output: "second output"}}

	got := substituteCrossRefs("see {task_1} and {result_2}", results)
	want := "see first output and second output"
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}

	unresolved := substituteCrossRefs("dangling {task_9}", results)
	if unresolved != "dangling {task_9}" {
		t.Errorf("unresolved ref should be left literal, got %q", unresolved)
	}
}

func TestHasCrossRefs(t *testing.T) {
	if !hasCrossRefs([]TaskSpec{{Task: "use {task_1} here"}}) {
		t.Error("expected cross-ref to be detected")
	}
	if hasCrossRefs([]TaskSpec{{Task: "no refs here"}}) {
		t.Error("did not expect a cross-ref")
	}
}
