package dispatch

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jkaninda/pi-parallel/internal/agentdef"
	"github.com/jkaninda/pi-parallel/internal/agentexec"
	"github.com/jkaninda/pi-parallel/internal/metrics"
	"github.com/jkaninda/pi-parallel/internal/orchestrator"
)

// Dependencies bundles the collaborators Dispatch needs beyond the
// request itself.
type Dependencies struct {
	Agents        *agentdef.Registry
	ChildPath     string
	WorkspaceRoot string // Parent dir for team-mode workspaces; "" = OS temp dir.
	MCPServers    []agentexec.MCPServer
	Sink          agentexec.ProgressSink
	Approve       func(ctx context.Context, taskID, plan string) (ApprovalDecision, error)
	Sink7         ResultSink   // nil = no-op.
	Now           func() int64 // epoch seconds for output-spill filenames; nil = time.Now().
	Metrics       *metrics.DispatchMetrics
	TeamMetrics   *orchestrator.Metrics
}

// ApprovalDecision mirrors orchestrator.ApprovalDecision at the
// dispatcher boundary, decoupling the public API from the internal
// package.
type ApprovalDecision struct {
	Approved bool
	Feedback string
}

// Dispatch validates the mode selection, resolves settings, and routes
// to the appropriate engine.
func Dispatch(ctx context.Context, params Params, deps Dependencies) (*Response, error) {
	mode, err := selectMode(params)
	if err != nil {
		return nil, err
	}

	if err := validateAgentReferences(params, deps.Agents); err != nil {
		return nil, err
	}

	if deps.Sink7 == nil {
		deps.Sink7 = nopResultSink{}
	}
	if deps.Sink == nil {
		deps.Sink = agentexec.NopSink{}
	}
	if deps.Now == nil {
		deps.Now = func() int64 { return time.Now().Unix() }
	}

	start := time.Now()
	var resp *Response

	switch mode {
	case "single":
		resp, err = runSingle(ctx, params, deps)
	case "chain":
		resp, err = runChain(ctx, params, deps)
	case "race":
		resp, err = runRace(ctx, params, deps)
	case "parallel":
		resp, err = runParallel(ctx, params, deps)
	case "team":
		resp, err = runTeam(ctx, params, deps)
	}
	if err != nil {
		return nil, err
	}

	resp.Details.TotalDurationMs = time.Since(start).Milliseconds()
	deps.Sink7.Record(mode, resp.Details)

	if deps.Metrics != nil {
		outcome := "ok"
		if resp.IsError {
			outcome = "error"
		}
		deps.Metrics.RunsTotal.WithLabelValues(mode, outcome).Inc()
		deps.Metrics.DurationSeconds.WithLabelValues(mode).Observe(time.Since(start).Seconds())
	}

	return resp, nil
}

// selectMode enforces invariant 1: exactly one mode is active.
func selectMode(p Params) (string, error) {
	type candidate struct {
		name    string
		present bool
	}
	candidates := []candidate{
		{"single", p.Task != ""},
		{"parallel", len(p.Tasks) > 0},
		{"chain", len(p.Chain) > 0},
		{"race", p.Race != nil},
		{"team", p.Team != nil},
	}

	var selected []string
	for _, c := range candidates {
		if c.present {
			selected = append(selected, c.name)
		}
	}

	if len(selected) != 1 {
		return "", fmt.Errorf("exactly one mode must be supplied (task, tasks, chain, race, team); got %d: %v", len(selected), selected)
	}
	return selected[0], nil
}

// resolvedSettings is the outcome of merging an agent definition's
// defaults with inline overrides. Provider is always inline.
type resolvedSettings struct {
	Provider     string
	Model        string
	Tools        []string
	SystemPrompt string
	Thinking     string
}

func resolveSettings(agents *agentdef.Registry, agentName, provider, model string, tools []string, systemPrompt, thinking string) resolvedSettings {
	if agentName == "" {
		return resolvedSettings{Provider: provider, Model: model, Tools: tools, SystemPrompt: systemPrompt, Thinking: thinking}
	}
	def, _ := agents.Get(agentName)
	r := def.Resolve(model, tools, systemPrompt, thinking)
	return resolvedSettings{
		Provider:     provider,
		Model:        r.Model,
		Tools:        r.Tools,
		SystemPrompt: r.SystemPrompt,
		Thinking:     r.Thinking,
	}
}

// validateAgentReferences checks every agent name referenced anywhere
// in params against the registry, per §4.6's pre-flight check.
func validateAgentReferences(p Params, agents *agentdef.Registry) error {
	var referenced []string
	add := func(name string) {
		if name != "" {
			referenced = append(referenced, name)
		}
	}

	add(p.Agent)
	for _, t := range p.Tasks {
		add(t.Agent)
	}
	for _, s := range p.Chain {
		add(s.Agent)
	}
	if p.Team != nil {
		for _, m := range p.Team.Members {
			add(m.Agent)
		}
	}

	var unknown []string
	for _, name := range referenced {
		if _, ok := agents.Get(name); !ok {
			unknown = append(unknown, name)
		}
	}
	if len(unknown) == 0 {
		return nil
	}

	available := agents.Names()
	const maxListed = 10
	if len(available) > maxListed {
		available = available[:maxListed]
	}
	return fmt.Errorf("unknown agent(s) %s; available agents include: %s", strings.Join(unknown, ", "), strings.Join(available, ", "))
}

func totalUsage(results []agentexec.TaskResult) agentexec.UsageStats {
	var total agentexec.UsageStats
	for _, r := range results {
		total.Add(r.Usage)
	}
	return total
}
