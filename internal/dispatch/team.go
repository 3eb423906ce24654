package dispatch

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/jkaninda/pi-parallel/internal/agentexec"
	"github.com/jkaninda/pi-parallel/internal/orchestrator"
	"github.com/jkaninda/pi-parallel/internal/outputshape"
	"github.com/jkaninda/pi-parallel/internal/workspace"
)

func runTeam(ctx context.Context, p Params, deps Dependencies) (*Response, error) {
	spec := p.Team

	members := make(map[string]orchestrator.TeamMember, len(spec.Members))
	for _, m := range spec.Members {
		settings := resolveSettings(deps.Agents, m.Agent, m.Provider, m.Model, m.Tools, m.SystemPrompt, m.Thinking)
		members[m.Role] = orchestrator.TeamMember{
			Role:         m.Role,
			Provider:     settings.Provider,
			Model:        settings.Model,
			Tools:        settings.Tools,
			SystemPrompt: settings.SystemPrompt,
			Thinking:     settings.Thinking,
			AgentName:    m.Agent,
		}
	}

	tasks := buildTeamTasks(spec)

	nodes, order, err := orchestrator.Build(tasks, members)
	if err != nil {
		return nil, fmt.Errorf("building team DAG: %w", err)
	}

	ws, err := workspace.New(deps.WorkspaceRoot, teamWorkspaceName(spec.Objective))
	if err != nil {
		return nil, fmt.Errorf("creating team workspace: %w", err)
	}
	defer ws.Teardown()

	progress := newCollectingSink(deps.Sink)

	cfg := orchestrator.Config{
		Objective:      spec.Objective,
		SharedContext:  p.Context,
		WorkspaceRoot:  ws.Root,
		ChildPath:      deps.ChildPath,
		MCPServers:     deps.MCPServers,
		MaxConcurrency: spec.MaxConcurrency,
		Sink:           progress,
		Members:        members,
		Metrics:        deps.TeamMetrics,
	}

	var approveFn orchestrator.ApprovalFunc
	if deps.Approve != nil {
		approveFn = func(ctx context.Context, taskID, plan string) (orchestrator.ApprovalDecision, error) {
			d, err := deps.Approve(ctx, taskID, plan)
			return orchestrator.ApprovalDecision{Approved: d.Approved, Feedback: d.Feedback}, err
		}
	}

	results, aborted := orchestrator.Execute(ctx, nodes, order, cfg, approveFn)

	for _, r := range results {
		status := "completed"
		if r.Aborted {
			status = "aborted"
		} else if r.ExitCode != 0 {
			status = "failed"
		}
		_ = ws.WriteTaskResult(r.ID, r.Output, status)
	}

	declaredIDs := make(map[string]bool, len(order))
	for _, id := range order {
		declaredIDs[id] = true
	}

	var primary, subResults []agentexec.TaskResult
	for _, r := range results {
		if strings.Contains(r.ID, ":review:") || strings.Contains(r.ID, ":revision:") {
			subResults = append(subResults, r)
		} else {
			primary = append(primary, r)
		}
	}

	var blocked, memberNames []string
	var taskInfos []DagTaskInfo
	var pendingApproval string
	for _, id := range order {
		n := nodes[id]
		if n.Status == orchestrator.StatusBlocked {
			blocked = append(blocked, id)
		}
		if n.Status == orchestrator.StatusAwaitingApproval && pendingApproval == "" {
			pendingApproval = id
		}
		assignee := ""
		if n.Assignee != nil {
			assignee = n.Assignee.Role
		}
		taskInfos = append(taskInfos, DagTaskInfo{
			ID:            id,
			Assignee:      assignee,
			Depends:       n.DependsOn,
			Status:        dagStatusOf(n),
			Iteration:     n.Iteration,
			MaxIterations: reviewMaxIterations(n),
		})
	}
	for role := range members {
		memberNames = append(memberNames, role)
	}
	sort.Strings(memberNames)

	summary := buildTeamSummary(primary, subResults, blocked, progress, deps.Now())

	return &Response{
		Content: []ContentBlock{{Type: "text", Text: summary}},
		Details: ParallelToolDetails{
			Mode:    "team",
			Results: results,
			Usage:   totalUsage(results),
			Aborted: aborted,
			DagInfo: &DagInfo{
				Objective:       spec.Objective,
				Members:         memberNames,
				Tasks:           taskInfos,
				BlockedTaskIDs:  blocked,
				PendingApproval: pendingApproval,
			},
		},
		IsError: aborted,
	}, nil
}

func reviewMaxIterations(n *orchestrator.DagNode) int {
	if n.Task.Review == nil {
		return 0
	}
	if n.Task.Review.MaxIterations > 0 {
		return n.Task.Review.MaxIterations
	}
	return 3
}

// buildTeamTasks builds the DAG's declared task list: the explicit
// Tasks slice if supplied, else one auto-generated node per member that
// sets Task.
func buildTeamTasks(spec *TeamSpec) []orchestrator.TeamTask {
	if len(spec.Tasks) > 0 {
		tasks := make([]orchestrator.TeamTask, 0, len(spec.Tasks))
		for _, t := range spec.Tasks {
			var review *orchestrator.ReviewConfig
			if t.Review != nil {
				review = &orchestrator.ReviewConfig{
					Assignee:      t.Review.Assignee,
					Task:          t.Review.Task,
					MaxIterations: t.Review.MaxIterations,
					Provider:      t.Review.Provider,
					Model:         t.Review.Model,
					Tools:         t.Review.Tools,
				}
			}
			tasks = append(tasks, orchestrator.TeamTask{
				ID:               t.ID,
				Task:             t.Task,
				Assignee:         t.Assignee,
				Depends:          t.Depends,
				RequiresApproval: t.RequiresApproval,
				Review:           review,
			})
		}
		return tasks
	}

	var tasks []orchestrator.TeamTask
	for _, m := range spec.Members {
		if m.Task == "" {
			continue
		}
		tasks = append(tasks, orchestrator.TeamTask{
			ID:       m.Role,
			Task:     m.Task,
			Assignee: m.Role,
		})
	}
	return tasks
}

func teamWorkspaceName(objective string) string {
	if objective == "" {
		return "team"
	}
	return outputshape.SafeName(objective)
}

func buildTeamSummary(primary, subResults []agentexec.TaskResult, blocked []string, progress *collectingSink, epoch int64) string {
	spiller := &outputshape.Spiller{Prefix: "team"}
	var b strings.Builder

	b.WriteString("## Team Run Summary\n\n")

	for _, r := range primary {
		writeTeamEntry(&b, r, spiller, progress, epoch)
	}

	if len(subResults) > 0 {
		b.WriteString("### Review / Revision Sub-results\n\n")
		for _, r := range subResults {
			writeTeamEntry(&b, r, spiller, progress, epoch)
		}
	}

	if len(blocked) > 0 {
		fmt.Fprintf(&b, "### Blocked Tasks\n\n%s\n\n", strings.Join(blocked, ", "))
	}

	return strings.TrimRight(b.String(), "\n") + "\n"
}

func writeTeamEntry(b *strings.Builder, r agentexec.TaskResult, spiller *outputshape.Spiller, progress *collectingSink, epoch int64) {
	glyph := "✅"
	switch {
	case r.Aborted:
		glyph = "⛔"
	case r.ExitCode != 0:
		glyph = "❌"
	}

	fmt.Fprintf(b, "#### %s %s\n\n", glyph, r.ID)
	fmt.Fprintf(b, "tools: %s\n\n", toolRollup(progress.progressFor(r.ID)))
	capped, truncated := outputshape.Cap(r.Output)
	shaped := spiller.Shape(capped, outputshape.SafeName(r.ID), epoch)
	b.WriteString(shaped.Inline)
	if shaped.Spilled {
		fmt.Fprintf(b, "\n\n_full output spilled to %s_\n", shaped.Path)
	} else if truncated {
		b.WriteString("\n\n_output truncated_\n")
	}
	b.WriteString("\n\n")
}
