package orchestrator

import (
	"context"
	"strconv"

	"github.com/jkaninda/pi-parallel/internal/agentexec"
)

// runReviewCycle drives the review/revision sub-protocol for node id
// until the reviewer approves, the iteration cap is reached, the
// reviewer itself fails (in which case the worker's output is accepted
// as-is), or the revision rerun fails. It mutates nodes[id] in place and
// returns every TaskResult produced by reviewer/revision runs, in order.
func runReviewCycle(ctx context.Context, nodes map[string]*DagNode, id string, cfg Config) []agentexec.TaskResult {
	node := nodes[id]
	review := *node.Task.Review
	reviewer := cfg.Members[review.Assignee]

	var produced []agentexec.TaskResult
	var previousReviewerOutput string

	for iteration := 1; ; iteration++ {
		node.Status = StatusReviewing
		node.Iteration = iteration

		workerOutput := ""
		if node.Result != nil {
			workerOutput = node.Result.Output
		}

		prompt := buildReviewPrompt(review, node.Task.Task, workerOutput, iteration, previousReviewerOutput)

		reviewReq := agentexec.Request{
			ID:      id + ":review:" + strconv.Itoa(iteration),
			Name:    review.Assignee,
			Task:    prompt,
			Context: buildContext(cfg.Objective, cfg.SharedContext, cfg.WorkspaceRoot, node, nodes),
			Step:    -1,
			Sink:    cfg.Sink,
		}
		applyReviewAssignee(&reviewReq, &reviewer, review)
		reviewReq.SystemPrompt = reviewReq.SystemPrompt + reviewProtocolBlock
		reviewReq.ChildPath = cfg.ChildPath
		reviewReq.MCPServers = cfg.MCPServers

		reviewResult := agentexec.Run(ctx, reviewReq)
		produced = append(produced, reviewResult)

		if reviewResult.Aborted || reviewResult.ExitCode != 0 {
			node.Status = StatusCompleted
			return produced
		}

		dec := parseDecision(reviewResult.Output)
		node.ReviewHistory = append(node.ReviewHistory, ReviewEntry{
			Iteration:      iteration,
			WorkerOutput:   workerOutput,
			ReviewerOutput: reviewResult.Output,
			Approved:       dec.approved,
		})

		if dec.approved || iteration >= review.maxIterations() {
			node.Status = StatusCompleted
			return produced
		}

		node.Status = StatusRevising
		revisionPrompt := buildRevisionPrompt(node.Task.Task, workerOutput, dec.feedback)

		revisionReq := agentexec.Request{
			ID:      id + ":revision:" + strconv.Itoa(iteration),
			Name:    roleOf(node),
			Task:    revisionPrompt,
			Context: buildContext(cfg.Objective, cfg.SharedContext, cfg.WorkspaceRoot, node, nodes),
			Step:    -1,
			Sink:    cfg.Sink,
		}
		applyAssignee(&revisionReq, node.Assignee)
		revisionReq.ChildPath = cfg.ChildPath
		revisionReq.MCPServers = cfg.MCPServers

		revisionResult := agentexec.Run(ctx, revisionReq)
		produced = append(produced, revisionResult)
		node.IterationResults = append(node.IterationResults, revisionResult)

		if revisionResult.Aborted || revisionResult.ExitCode != 0 {
			node.Status = StatusFailed
			return produced
		}

		node.Result = &revisionResult
		previousReviewerOutput = reviewResult.Output
	}
}

// applyReviewAssignee fills req from the reviewer's member defaults,
// then lets the review config's own provider/model/tools override them.
func applyReviewAssignee(req *agentexec.Request, member *TeamMember, review ReviewConfig) {
	if member != nil {
		req.Provider = member.Provider
		req.Model = member.Model
		req.Tools = member.Tools
		req.SystemPrompt = member.SystemPrompt
		req.Thinking = member.Thinking
	}
	if review.Provider != "" {
		req.Provider = review.Provider
	}
	if review.Model != "" {
		req.Model = review.Model
	}
	if len(review.Tools) > 0 {
		req.Tools = review.Tools
	}
}

