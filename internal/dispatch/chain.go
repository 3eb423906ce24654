package dispatch

import (
	"context"
	"fmt"
	"strings"

	"github.com/jkaninda/pi-parallel/internal/agentexec"
)

// runChain executes chain-mode steps sequentially, substituting
// "{previous}" in each step's task with the prior step's output.
func runChain(ctx context.Context, p Params, deps Dependencies) (*Response, error) {
	var results []agentexec.TaskResult
	previous := ""
	halted := false
	anyAborted := false
	var haltMsg string

	for i, step := range p.Chain {
		settings := resolveSettings(deps.Agents, step.Agent, step.Provider, step.Model, step.Tools, step.SystemPrompt, step.Thinking)

		task := strings.ReplaceAll(step.Task, "{previous}", previous)

		req := agentexec.Request{
			ID:           fmt.Sprintf("chain-%d", i),
			Task:         task,
			Context:      p.Context,
			Cwd:          p.Cwd,
			Provider:     settings.Provider,
			Model:        settings.Model,
			Tools:        settings.Tools,
			SystemPrompt: settings.SystemPrompt,
			Thinking:     settings.Thinking,
			Step:         i,
			ChildPath:    deps.ChildPath,
			MCPServers:   deps.MCPServers,
			Sink:         deps.Sink,
		}

		result := agentexec.Run(ctx, req)
		results = append(results, result)

		if result.Aborted || result.ExitCode != 0 {
			halted = true
			anyAborted = anyAborted || result.Aborted
			haltMsg = fmt.Sprintf("Chain stopped at step %d", i)
			break
		}

		previous = result.Output
	}

	text := previous
	if halted {
		text = haltMsg
	}

	return &Response{
		Content: []ContentBlock{{Type: "text", Text: text}},
		Details: ParallelToolDetails{
			Mode:    "chain",
			Results: results,
			Usage:   totalUsage(results),
			Aborted: anyAborted,
		},
		IsError: halted,
	}, nil
}
