package orchestrator

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/jkaninda/pi-parallel/internal/agentexec"
)

// fakeChildSequence writes a script that returns one of texts per
// invocation, in order (sticking on the last entry once exhausted), each
// exiting 0. A counter file next to the script tracks call index.
func fakeChildSequence(t *testing.T, texts []string) string {
	t.Helper()
	dir := t.TempDir()
	scriptPath := filepath.Join(dir, "fake-pi.sh")
	counterPath := filepath.Join(dir, "count")

	var caseBlock string
	for i, text := range texts {
		caseBlock += fmt.Sprintf("%d) TEXT=%q ;;\n", i, text)
	}

	script := fmt.Sprintf(`#!/bin/sh
COUNTER_FILE=%q
N=0
if [ -f "$COUNTER_FILE" ]; then
  N=$(cat "$COUNTER_FILE")
fi
echo $((N+1)) > "$COUNTER_FILE"

MAX=%d
if [ "$N" -ge "$MAX" ]; then
  N=%d
fi

case "$N" in
%s
esac

printf '{"type":"message_end","message":{"role":"assistant","content":[{"type":"text","text":"%%s"}]}}\n' "$TEXT"
exit 0
`, counterPath, len(texts)-1, len(texts)-1, caseBlock)

	if err := os.WriteFile(scriptPath, []byte(script), 0755); err != nil {
		t.Fatal(err)
	}
	return scriptPath
}

func TestRunReviewCycleApprovesImmediately(t *testing.T) {
	childPath := fakeChildSequence(t, []string{"Looks great.\nAPPROVED"})

	tasks := []TeamTask{
		{ID: "draft", Assignee: "writer", Review: &ReviewConfig{Assignee: "editor"}},
	}
	nodes, _, err := Build(tasks, map[string]TeamMember{
		"writer": {Role: "writer"},
		"editor": {Role: "editor"},
	})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	node := nodes["draft"]
	node.Result = &agentexec.TaskResult{Output: "worker output"}

	cfg := Config{
		ChildPath: childPath,
		Sink:      agentexec.NopSink{},
		Members: map[string]TeamMember{
			"writer": {Role: "writer"},
			"editor": {Role: "editor"},
		},
	}

	produced := runReviewCycle(context.Background(), nodes, "draft", cfg)

	if len(produced) != 1 {
		t.Fatalf("got %d produced results, want 1 (single reviewer pass)", len(produced))
	}
	if node.Status != StatusCompleted {
		t.Errorf("node status = %v, want completed", node.Status)
	}
	if len(node.ReviewHistory) != 1 || !node.ReviewHistory[0].Approved {
		t.Errorf("ReviewHistory = %+v, want one approved entry", node.ReviewHistory)
	}
}

func TestRunReviewCycleRevisesThenApproves(t *testing.T) {
	childPath := fakeChildSequence(t, []string{
		"Needs more detail.\nREVISION_NEEDED",
		"revised worker output",
		"Much better.\nAPPROVED",
	})

	tasks := []TeamTask{
		{ID: "draft", Assignee: "writer", Review: &ReviewConfig{Assignee: "editor", MaxIterations: 3}},
	}
	members := map[string]TeamMember{
		"writer": {Role: "writer"},
		"editor": {Role: "editor"},
	}
	nodes, _, err := Build(tasks, members)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	node := nodes["draft"]
	node.Result = &agentexec.TaskResult{Output: "first draft"}

	cfg := Config{ChildPath: childPath, Sink: agentexec.NopSink{}, Members: members}

	produced := runReviewCycle(context.Background(), nodes, "draft", cfg)

	if len(produced) != 3 {
		t.Fatalf("got %d produced results, want 3 (review, revision, review)", len(produced))
	}
	if node.Status != StatusCompleted {
		t.Errorf("node status = %v, want completed", node.Status)
	}
	if len(node.ReviewHistory) != 2 {
		t.Fatalf("got %d review history entries, want 2", len(node.ReviewHistory))
	}
	if node.ReviewHistory[0].Approved {
		t.Error("first review entry should not be approved")
	}
	if !node.ReviewHistory[1].Approved {
		t.Error("second review entry should be approved")
	}
	if node.Result.Output != "revised worker output" {
		t.Errorf("node.Result.Output = %q, want the revised output", node.Result.Output)
	}
}

func TestRunReviewCycleStopsAtMaxIterations(t *testing.T) {
	childPath := fakeChildSequence(t, []string{"Still not good enough.\nREVISION_NEEDED"})

	tasks := []TeamTask{
		{ID: "draft", Assignee: "writer", Review: &ReviewConfig{Assignee: "editor", MaxIterations: 2}},
	}
	members := map[string]TeamMember{
		"writer": {Role: "writer"},
		"editor": {Role: "editor"},
	}
	nodes, _, err := Build(tasks, members)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	node := nodes["draft"]
	node.Result = &agentexec.TaskResult{Output: "draft"}

	cfg := Config{ChildPath: childPath, Sink: agentexec.NopSink{}, Members: members}

	produced := runReviewCycle(context.Background(), nodes, "draft", cfg)

	if node.Status != StatusCompleted {
		t.Errorf("node status = %v, want completed (accepted at iteration cap)", node.Status)
	}
	if len(node.ReviewHistory) != 2 {
		t.Fatalf("got %d review history entries, want 2 (MaxIterations cap)", len(node.ReviewHistory))
	}
	if produced[len(produced)-1].Aborted {
		t.Error("final review result should not be aborted")
	}
}

func TestRunReviewCycleAcceptsWorkOnReviewerFailure(t *testing.T) {
	childPath := fakeChild(t, "reviewer crashed", 1)

	tasks := []TeamTask{
		{ID: "draft", Assignee: "writer", Review: &ReviewConfig{Assignee: "editor"}},
	}
	members := map[string]TeamMember{
		"writer": {Role: "writer"},
		"editor": {Role: "editor"},
	}
	nodes, _, err := Build(tasks, members)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	node := nodes["draft"]
	node.Result = &agentexec.TaskResult{Output: "draft"}

	cfg := Config{ChildPath: childPath, Sink: agentexec.NopSink{}, Members: members}

	produced := runReviewCycle(context.Background(), nodes, "draft", cfg)

	if len(produced) != 1 {
		t.Fatalf("got %d produced results, want 1", len(produced))
	}
	if node.Status != StatusCompleted {
		t.Errorf("node status = %v, want completed (worker output accepted as-is)", node.Status)
	}
}
