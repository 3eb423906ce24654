package dispatch

import (
	"context"

	"github.com/jkaninda/pi-parallel/internal/agentexec"
)

func runSingle(ctx context.Context, p Params, deps Dependencies) (*Response, error) {
	settings := resolveSettings(deps.Agents, p.Agent, p.Provider, p.Model, p.Tools, p.SystemPrompt, p.Thinking)

	req := agentexec.Request{
		ID:           "single",
		Task:         p.Task,
		Context:      p.Context,
		Cwd:          p.Cwd,
		Provider:     settings.Provider,
		Model:        settings.Model,
		Tools:        settings.Tools,
		SystemPrompt: settings.SystemPrompt,
		Thinking:     settings.Thinking,
		Step:         -1,
		ChildPath:    deps.ChildPath,
		MCPServers:   deps.MCPServers,
		Sink:         deps.Sink,
	}

	result := agentexec.Run(ctx, req)

	return &Response{
		Content: []ContentBlock{{Type: "text", Text: result.Output}},
		Details: ParallelToolDetails{
			Mode:    "single",
			Results: []agentexec.TaskResult{result},
			Usage:   result.Usage,
			Aborted: result.Aborted,
		},
		IsError: result.ExitCode != 0 || result.Aborted,
	}, nil
}
