package dispatch

import (
	"context"
	"fmt"

	"github.com/jkaninda/pi-parallel/internal/agentexec"
	"github.com/jkaninda/pi-parallel/internal/race"
)

func runRace(ctx context.Context, p Params, deps Dependencies) (*Response, error) {
	spec := p.Race
	settings := resolveSettings(deps.Agents, "", spec.Provider, "", spec.Tools, spec.SystemPrompt, spec.Thinking)

	_, winnerResult, outcomes, aborted := race.Run(ctx, len(spec.Models), func(ctx context.Context, i int) agentexec.TaskResult {
		model := spec.Models[i]
		req := agentexec.Request{
			ID:           fmt.Sprintf("race-%d", i),
			Task:         spec.Task,
			Context:      p.Context,
			Cwd:          p.Cwd,
			Provider:     settings.Provider,
			Model:        model,
			Tools:        settings.Tools,
			SystemPrompt: settings.SystemPrompt,
			Thinking:     settings.Thinking,
			Step:         -1,
			ChildPath:    deps.ChildPath,
			MCPServers:   deps.MCPServers,
			Sink:         deps.Sink,
		}
		return agentexec.Run(ctx, req)
	}, func(r agentexec.TaskResult) bool {
		return !r.Aborted && r.ExitCode == 0
	})

	var results []agentexec.TaskResult
	var progress []agentexec.TaskProgress
	for _, o := range outcomes {
		results = append(results, o.Result)
		progress = append(progress, terminalProgress(o.Result))
	}

	resp := &Response{
		Details: ParallelToolDetails{
			Mode:     "race",
			Results:  results,
			Progress: progress,
			Usage:    totalUsage(results),
			Aborted:  aborted,
		},
	}

	if aborted {
		resp.Content = []ContentBlock{{Type: "text", Text: "race aborted: no candidate completed successfully"}}
		resp.IsError = true
		return resp, nil
	}

	resp.Details.Winner = &winnerResult
	resp.Content = []ContentBlock{{Type: "text", Text: winnerResult.Output}}
	return resp, nil
}

func terminalProgress(r agentexec.TaskResult) agentexec.TaskProgress {
	status := agentexec.StatusCompleted
	switch {
	case r.Aborted:
		status = agentexec.StatusAborted
	case r.ExitCode != 0:
		status = agentexec.StatusFailed
	}
	return agentexec.TaskProgress{
		ID:         r.ID,
		Name:       r.Name,
		Status:     status,
		Task:       r.Task,
		Model:      r.Model,
		DurationMs: r.DurationMs,
	}
}
