package orchestrator

import (
	"fmt"
	"strings"
)

// resolvePlaceholders replaces every "{task:id}" occurrence in text with
// the output of the named node, provided that node has a result with a
// non-empty output (its status is not checked). Unresolved placeholders
// (unknown id, or the node has no output yet) are left literal.
func resolvePlaceholders(text string, nodes map[string]*DagNode) string {
	var b strings.Builder
	i := 0
	for {
		start := strings.Index(text[i:], "{task:")
		if start < 0 {
			b.WriteString(text[i:])
			break
		}
		start += i
		b.WriteString(text[i:start])

		end := strings.IndexByte(text[start:], '}')
		if end < 0 {
			b.WriteString(text[start:])
			break
		}
		end += start

		id := text[start+len("{task:") : end]
		literal := text[start : end+1]
		if node, ok := nodes[id]; ok && node.Result != nil && node.Result.Output != "" {
			b.WriteString(node.Result.Output)
		} else {
			b.WriteString(literal)
		}
		i = end + 1
	}
	return b.String()
}

// buildContext assembles the layered context string passed to a worker
// run, per the ordering: objective, shared context, shared workspace
// pointer, then one section per completed dependency's output.
func buildContext(objective, sharedContext, workspaceRoot string, node *DagNode, nodes map[string]*DagNode) string {
	var sections []string

	if objective != "" {
		sections = append(sections, "## Team Objective\n\n"+objective)
	}
	if sharedContext != "" {
		sections = append(sections, sharedContext)
	}
	if workspaceRoot != "" {
		sections = append(sections, "## Shared Workspace\n\n"+workspaceRoot)
	}

	for _, dep := range node.DependsOn {
		d := nodes[dep]
		if d.Status != StatusCompleted || d.Result == nil {
			continue
		}
		role := ""
		if d.Assignee != nil {
			role = d.Assignee.Role
		}
		header := fmt.Sprintf(`## Output from prerequisite task "%s (%s)"`, role, dep)
		sections = append(sections, header+"\n\n"+d.Result.Output)
	}

	return strings.Join(sections, "\n\n---\n\n")
}
