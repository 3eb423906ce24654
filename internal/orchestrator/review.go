package orchestrator

import (
	"fmt"
	"strings"
)

const reviewProtocolBlock = `

## Review Protocol

End your response with exactly one of the following on its own line, and nothing after it:

APPROVED
REVISION_NEEDED`

// decision is the parsed outcome of a reviewer's output.
type decision struct {
	approved bool
	feedback string
}

// parseDecision implements the tail-marker decision parser: scan from
// the end, skipping blank lines; if the first non-blank trailing line is
// exactly APPROVED or REVISION_NEEDED, that is the decision and feedback
// is everything preceding it. Otherwise fall back to a case-insensitive
// scan of the final 200 characters. parseDecision never panics.
func parseDecision(output string) decision {
	lines := strings.Split(output, "\n")
	last := len(lines) - 1
	for last >= 0 && strings.TrimSpace(lines[last]) == "" {
		last--
	}
	if last >= 0 {
		trimmed := strings.TrimSpace(lines[last])
		switch trimmed {
		case "APPROVED":
			return decision{approved: true, feedback: strings.Join(lines[:last], "\n")}
		case "REVISION_NEEDED":
			return decision{approved: false, feedback: strings.Join(lines[:last], "\n")}
		}
	}

	tail := output
	if len(tail) > 200 {
		tail = tail[len(tail)-200:]
	}
	tailLower := strings.ToLower(tail)
	if strings.Contains(tailLower, "approved") &&
		!strings.Contains(tailLower, "not approved") &&
		!strings.Contains(tailLower, "revision") {
		return decision{approved: true, feedback: output}
	}

	return decision{approved: false, feedback: output}
}

// buildReviewPrompt renders the reviewer's prompt for one iteration.
func buildReviewPrompt(review ReviewConfig, taskText, workerOutput string, iteration int, previousReviewerOutput string) string {
	var body string
	if review.Task != "" {
		body = strings.NewReplacer("{output}", workerOutput, "{task}", taskText).Replace(review.Task)
	} else {
		body = fmt.Sprintf("Review the following output against the original task.\n\nOriginal task:\n%s\n\nOutput to review:\n%s", taskText, workerOutput)
	}

	max := review.maxIterations()
	body += fmt.Sprintf("\n\n(iteration %d/%d)", iteration, max)

	if iteration >= 2 && previousReviewerOutput != "" {
		body += "\n\nPrevious Review Feedback:\n" + previousReviewerOutput
	}
	if iteration >= max {
		body += "\n\nThis is the final iteration: the work will be accepted regardless of your decision."
	}

	return body
}

// buildRevisionPrompt renders the prompt used to rerun the worker after
// a REVISION_NEEDED decision.
func buildRevisionPrompt(originalTask, previousOutput, feedback string) string {
	return fmt.Sprintf(
		"Revise your previous output based on reviewer feedback.\n\nOriginal task:\n%s\n\nYour previous output:\n%s\n\nReviewer feedback:\n%s",
		originalTask, previousOutput, feedback,
	)
}
