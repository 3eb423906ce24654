package dispatch

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"github.com/jkaninda/pi-parallel/internal/agentexec"
	"github.com/jkaninda/pi-parallel/internal/outputshape"
	"github.com/jkaninda/pi-parallel/internal/pool"
)

var crossRefPattern = regexp.MustCompile(`\{(?:task|result)_(\d+)\}`)

// hasCrossRefs reports whether any task in tasks references another
// task's position via {task_N} or {result_N}.
func hasCrossRefs(tasks []TaskSpec) bool {
	for _, t := range tasks {
		if crossRefPattern.MatchString(t.Task) {
			return true
		}
	}
	return false
}

// substituteCrossRefs replaces {task_N}/{result_N} in text with the
// output of results[N] (1-based in the placeholder, 0-based in
// results). Unresolved references are left literal.
func substituteCrossRefs(text string, results []agentexec.TaskResult) string {
	return crossRefPattern.ReplaceAllStringFunc(text, func(match string) string {
		sub := crossRefPattern.FindStringSubmatch(match)
		n, err := strconv.Atoi(sub[1])
		if err != nil || n < 1 || n > len(results) {
			return match
		}
		return results[n-1].Output
	})
}

func runParallel(ctx context.Context, p Params, deps Dependencies) (*Response, error) {
	tasks := p.Tasks
	requested := p.MaxConcurrency
	if hasCrossRefs(tasks) {
		requested = 1
	}
	k := pool.Clamp(requested, len(tasks))
	progress := newCollectingSink(deps.Sink)

	// Cross-ref substitution requires sequential accumulation, so when
	// forced to k=1 we still run through pool.Run (which preserves
	// launch order at k=1) but build the substitution against results
	// completed so far.
	var completedMu completedResults
	results, aborted := pool.Run(ctx, len(tasks), k, func(ctx context.Context, i int) agentexec.TaskResult {
		spec := tasks[i]
		settings := resolveSettings(deps.Agents, spec.Agent, spec.Provider, spec.Model, spec.Tools, spec.SystemPrompt, spec.Thinking)

		task := substituteCrossRefs(spec.Task, completedMu.snapshot())

		id := spec.Name
		if id == "" {
			id = fmt.Sprintf("task-%d", i)
		}

		req := agentexec.Request{
			ID:           id,
			Name:         spec.Name,
			Task:         task,
			Context:      p.Context,
			Cwd:          spec.Cwd,
			Provider:     settings.Provider,
			Model:        settings.Model,
			Tools:        settings.Tools,
			SystemPrompt: settings.SystemPrompt,
			Thinking:     settings.Thinking,
			Step:         -1,
			ChildPath:    deps.ChildPath,
			MCPServers:   deps.MCPServers,
			Sink:         progress,
		}
		result := agentexec.Run(ctx, req)
		completedMu.set(i, result)
		return result
	})

	flat := make([]agentexec.TaskResult, len(results))
	for i, r := range results {
		flat[i] = r.Value
	}

	summary := buildParallelSummary(flat, progress, deps.Now())

	return &Response{
		Content: []ContentBlock{{Type: "text", Text: summary}},
		Details: ParallelToolDetails{
			Mode:    "parallel",
			Results: flat,
			Usage:   totalUsage(flat),
			Aborted: aborted,
		},
		IsError: aborted,
	}, nil
}

// completedResults is a concurrency-safe accumulator of parallel-mode
// results in input-index order, used so cross-ref substitution (which
// only ever matters at k=1, hence strictly sequential completion) can
// read prior outputs.
type completedResults struct {
	mu      sync.Mutex
	results []agentexec.TaskResult
}

func (c *completedResults) set(i int, r agentexec.TaskResult) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for len(c.results) <= i {
		c.results = append(c.results, agentexec.TaskResult{})
	}
	c.results[i] = r
}

func (c *completedResults) snapshot() []agentexec.TaskResult {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]agentexec.TaskResult, len(c.results))
	copy(out, c.results)
	return out
}

func buildParallelSummary(results []agentexec.TaskResult, progress *collectingSink, epoch int64) string {
	spiller := &outputshape.Spiller{Prefix: "parallel"}
	var b strings.Builder

	for _, r := range results {
		glyph := "✅"
		switch {
		case r.Aborted:
			glyph = "⛔"
		case r.ExitCode != 0:
			glyph = "❌"
		}

		name := r.Name
		if name == "" {
			name = r.ID
		}

		fmt.Fprintf(&b, "## %s %s\n\n", glyph, name)
		fmt.Fprintf(&b, "- model: %s\n", r.Model)
		fmt.Fprintf(&b, "- usage: input=%d output=%d cost=%.4f turns=%d\n", r.Usage.Input, r.Usage.Output, r.Usage.Cost, r.Usage.Turns)
		fmt.Fprintf(&b, "- tools: %s\n", toolRollup(progress.progressFor(r.ID)))

		if r.Error != "" {
			fmt.Fprintf(&b, "- error: %s\n", r.Error)
		}

		capped, truncated := outputshape.Cap(r.Output)
		shaped := spiller.Shape(capped, outputshape.SafeName(r.ID), epoch)
		b.WriteString("\n")
		b.WriteString(shaped.Inline)
		if shaped.Spilled {
			fmt.Fprintf(&b, "\n\n_full output spilled to %s_\n", shaped.Path)
		} else if truncated {
			b.WriteString("\n\n_output truncated_\n")
		}
		b.WriteString("\n\n")
	}

	return strings.TrimRight(b.String(), "\n") + "\n"
}
