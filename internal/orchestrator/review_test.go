package orchestrator

import (
	"strings"
	"testing"
)

func TestParseDecisionTailMarker(t *testing.T) {
	tests := []struct {
		name         string
		output       string
		wantApproved bool
		wantFeedback string
	}{
		{
			name:         "approved with trailing blank lines",
			output:       "Looks solid.\n\nAPPROVED\n\n",
			wantApproved: true,
			wantFeedback: "Looks solid.\n",
		},
		{
			name:         "revision needed",
			output:       "Missing error handling.\nREVISION_NEEDED",
			wantApproved: false,
			wantFeedback: "Missing error handling.",
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			d := parseDecision(tc.output)
			if d.approved != tc.wantApproved {
				t.Errorf("approved = %v, want %v", d.approved, tc.wantApproved)
			}
			if d.feedback != tc.wantFeedback {
				t.Errorf("feedback = %q, want %q", d.feedback, tc.wantFeedback)
			}
		})
	}
}

func TestParseDecisionFallsBackToTailScan(t *testing.T) {
	d := parseDecision("After careful review, this change is approved for merge.")
	if !d.approved {
		t.Error("expected fallback scan to detect approval")
	}
}

func TestParseDecisionFallbackRejectsNotApproved(t *testing.T) {
	d := parseDecision("This is not approved, please revise the error handling.")
	if d.approved {
		t.Error("expected 'not approved' to be treated as a rejection")
	}
}

func TestParseDecisionDefaultsToRejectedWhenAmbiguous(t *testing.T) {
	d := parseDecision("I have some thoughts about this output.")
	if d.approved {
		t.Error("expected an ambiguous output to default to not approved")
	}
}

func TestParseDecisionNeverPanicsOnEmptyInput(t *testing.T) {
	d := parseDecision("")
	if d.approved {
		t.Error("empty output should not be approved")
	}
}

func TestBuildReviewPromptDefaultTemplate(t *testing.T) {
	review := ReviewConfig{Assignee: "editor"}
	prompt := buildReviewPrompt(review, "write a haiku", "autumn leaves fall", 1, "")
	if !containsAll(prompt, "write a haiku", "autumn leaves fall", "iteration 1/3") {
		t.Errorf("prompt missing expected content: %q", prompt)
	}
}

func TestBuildReviewPromptCustomTemplate(t *testing.T) {
	review := ReviewConfig{Assignee: "editor", Task: "Review: {output}\nAgainst: {task}"}
	prompt := buildReviewPrompt(review, "task text", "output text", 1, "")
	if !containsAll(prompt, "Review: output text", "Against: task text") {
		t.Errorf("custom template not substituted: %q", prompt)
	}
}

func TestBuildReviewPromptIncludesPreviousFeedbackOnLaterIterations(t *testing.T) {
	review := ReviewConfig{Assignee: "editor"}
	prompt := buildReviewPrompt(review, "task", "output", 2, "needs more detail")
	if !containsAll(prompt, "Previous Review Feedback", "needs more detail") {
		t.Errorf("expected previous feedback on iteration 2: %q", prompt)
	}
}

func TestBuildReviewPromptFlagsFinalIteration(t *testing.T) {
	review := ReviewConfig{Assignee: "editor", MaxIterations: 2}
	prompt := buildReviewPrompt(review, "task", "output", 2, "")
	if !containsAll(prompt, "final iteration") {
		t.Errorf("expected final-iteration notice: %q", prompt)
	}
}

func TestBuildRevisionPrompt(t *testing.T) {
	prompt := buildRevisionPrompt("original task", "previous output", "add tests")
	if !containsAll(prompt, "original task", "previous output", "add tests") {
		t.Errorf("revision prompt missing expected content: %q", prompt)
	}
}

func containsAll(s string, substrs ...string) bool {
	for _, sub := range substrs {
		if !strings.Contains(s, sub) {
			return false
		}
	}
	return true
}
