package orchestrator

import (
	"context"
	"sync"
	"time"

	"github.com/jkaninda/pi-parallel/internal/agentexec"
)

// readOnlyTools restricts an approval-gated task's first pass.
var readOnlyTools = []string{"read", "bash", "grep", "find", "mcp"}

// ApprovalDecision is the caller's response to an approval-gate request.
type ApprovalDecision struct {
	Approved bool
	Feedback string
}

// ApprovalFunc is invoked once per node entering awaiting_approval. plan
// is the node's current result output. A nil ApprovalFunc auto-approves.
type ApprovalFunc func(ctx context.Context, taskID string, plan string) (ApprovalDecision, error)

// Config configures one DAG execution run.
type Config struct {
	Objective      string
	SharedContext  string
	WorkspaceRoot  string
	ChildPath      string
	MCPServers     []agentexec.MCPServer
	MaxConcurrency int
	Sink           agentexec.ProgressSink
	Members        map[string]TeamMember
	Metrics        *Metrics
}

// Execute drives the scheduling loop described in §4.5 to completion, or
// until ctx is cancelled. results contains every TaskResult produced, in
// completion order (including review/revision sub-results, whose IDs
// carry ":review:"/":revision:" suffixes).
func Execute(ctx context.Context, nodes map[string]*DagNode, order []string, cfg Config, approve ApprovalFunc) (results []agentexec.TaskResult, aborted bool) {
	maxConcurrency := cfg.MaxConcurrency
	if maxConcurrency <= 0 || maxConcurrency > 8 {
		if maxConcurrency > 8 {
			maxConcurrency = 8
		}
	}
	if maxConcurrency <= 0 {
		maxConcurrency = 4
	}

	for {
		if ctx.Err() != nil {
			return results, true
		}

		if id := firstAwaitingApproval(nodes, order); id != "" {
			node := nodes[id]
			decision, err := requestApproval(ctx, approve, id, node)
			if err != nil || ctx.Err() != nil {
				return results, true
			}
			approved := applyApprovalDecision(node, decision)
			if approved && node.Task.Review != nil {
				results = append(results, runReviewCycle(ctx, nodes, id, cfg)...)
			}
			updateReadiness(nodes)
			continue
		}

		ready := readyNodes(nodes, order, maxConcurrency)
		if len(ready) == 0 {
			if anyRunningOrAwaiting(nodes) {
				// Shouldn't happen given the synchronous scheduler, but
				// guard against infinite loop.
				return results, ctx.Err() != nil
			}
			return results, false
		}

		for _, id := range ready {
			nodes[id].Status = StatusRunning
		}

		results = append(results, runBatch(ctx, nodes, ready, cfg)...)

		updateReadiness(nodes)
	}
}

func firstAwaitingApproval(nodes map[string]*DagNode, order []string) string {
	for _, id := range order {
		if nodes[id].Status == StatusAwaitingApproval {
			return id
		}
	}
	return ""
}

func anyRunningOrAwaiting(nodes map[string]*DagNode) bool {
	for _, n := range nodes {
		if n.Status == StatusRunning || n.Status == StatusAwaitingApproval || n.Status == StatusReviewing || n.Status == StatusRevising {
			return true
		}
	}
	return false
}

func requestApproval(ctx context.Context, approve ApprovalFunc, id string, node *DagNode) (ApprovalDecision, error) {
	plan := ""
	if node.Result != nil {
		plan = node.Result.Output
	}
	if approve == nil {
		return ApprovalDecision{Approved: true}, nil
	}
	return approve(ctx, id, plan)
}

// applyApprovalDecision mutates node per the caller's decision and
// reports whether it was approved. When approved and the node has no
// review config, the node is marked completed directly; otherwise the
// caller is responsible for driving the review cycle before the node is
// considered done.
func applyApprovalDecision(node *DagNode, decision ApprovalDecision) bool {
	if decision.Approved {
		if node.Task.Review == nil {
			node.Status = StatusCompleted
		}
		return true
	}

	if decision.Feedback != "" {
		node.Task.Task = node.Task.Task + "\n\nApproval feedback: " + decision.Feedback
	}
	node.Status = StatusReady
	return false
}

// runBatch executes every ready node concurrently and returns the results
// they produced (each node's worker run plus any review/revision
// sub-results), grouped per node in the order the nodes finished.
func runBatch(ctx context.Context, nodes map[string]*DagNode, ids []string, cfg Config) []agentexec.TaskResult {
	var out []agentexec.TaskResult
	var mu sync.Mutex
	var wg sync.WaitGroup

	for _, id := range ids {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			produced := runNode(ctx, nodes, id, cfg)
			mu.Lock()
			out = append(out, produced...)
			mu.Unlock()
		}(id)
	}

	wg.Wait()
	return out
}

// runNode executes a single node's worker pass (and, synchronously
// afterward, its review cycle when the node has one and needs no
// approval), mutating nodes[id] in place. An approval-gated node is left
// awaiting_approval for Execute to resolve.
func runNode(ctx context.Context, nodes map[string]*DagNode, id string, cfg Config) []agentexec.TaskResult {
	node := nodes[id]
	var produced []agentexec.TaskResult

	start := time.Now()
	if cfg.Metrics != nil {
		cfg.Metrics.ActiveNodes.Inc()
		defer cfg.Metrics.ActiveNodes.Dec()
	}
	defer func() {
		if cfg.Metrics == nil {
			return
		}
		status := string(node.Status)
		cfg.Metrics.NodesTotal.WithLabelValues(status).Inc()
		cfg.Metrics.NodeDuration.WithLabelValues(status).Observe(time.Since(start).Seconds())
		if node.Task.Review != nil && len(node.ReviewHistory) > 0 {
			cfg.Metrics.ReviewIterations.Observe(float64(len(node.ReviewHistory)))
		}
	}()

	taskText := resolvePlaceholders(node.Task.Task, nodes)
	tools := []string(nil)
	if node.Assignee != nil {
		tools = node.Assignee.Tools
	}
	if node.Task.RequiresApproval {
		if node.ApprovalAttempts == 0 {
			tools = readOnlyTools
		}
		node.ApprovalAttempts++
	}

	req := agentexec.Request{
		ID:      id,
		Name:    roleOf(node),
		Task:    taskText,
		Context: buildContext(cfg.Objective, cfg.SharedContext, cfg.WorkspaceRoot, node, nodes),
		Tools:   tools,
		Step:    -1,
		Sink:    cfg.Sink,
	}
	applyAssignee(&req, node.Assignee)
	req.ChildPath = cfg.ChildPath
	req.MCPServers = cfg.MCPServers

	result := agentexec.Run(ctx, req)
	node.Result = &result
	node.IterationResults = append(node.IterationResults, result)
	produced = append(produced, result)

	if result.Aborted || result.ExitCode != 0 {
		node.Status = StatusFailed
		return produced
	}

	if node.Task.RequiresApproval {
		node.Status = StatusAwaitingApproval
		return produced
	}

	if node.Task.Review != nil {
		reviewResults := runReviewCycle(ctx, nodes, id, cfg)
		produced = append(produced, reviewResults...)
		return produced
	}

	node.Status = StatusCompleted
	return produced
}

func roleOf(node *DagNode) string {
	if node.Assignee != nil {
		return node.Assignee.Role
	}
	return node.Task.ID
}

func applyAssignee(req *agentexec.Request, member *TeamMember) {
	if member == nil {
		return
	}
	req.Provider = member.Provider
	req.Model = member.Model
	req.SystemPrompt = member.SystemPrompt
	req.Thinking = member.Thinking
}
