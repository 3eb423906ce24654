// Package orchestrator builds and executes a dependency graph of team
// tasks: validating the graph (C4), scheduling ready nodes, driving
// approval gates, and running reviewer/revision loops (C5).
package orchestrator

import "github.com/jkaninda/pi-parallel/internal/agentexec"

// NodeStatus is the lifecycle state of one DagNode.
type NodeStatus string

const (
	StatusPending          NodeStatus = "pending"
	StatusBlocked          NodeStatus = "blocked"
	StatusReady            NodeStatus = "ready"
	StatusRunning          NodeStatus = "running"
	StatusCompleted        NodeStatus = "completed"
	StatusFailed           NodeStatus = "failed"
	StatusAwaitingApproval NodeStatus = "awaiting_approval"
	StatusReviewing        NodeStatus = "reviewing"
	StatusRevising         NodeStatus = "revising"
)

// TeamMember describes one role available to a team run.
type TeamMember struct {
	Role         string
	Provider     string
	Model        string
	Tools        []string
	SystemPrompt string
	Thinking     string
	AgentName    string // Name of the agent definition that supplied defaults, if any.
}

// ReviewConfig controls the reviewer loop attached to a TeamTask.
type ReviewConfig struct {
	Assignee      string // Role of the reviewer; required.
	Task          string // Template with {output}/{task} placeholders; empty = default template.
	MaxIterations int    // Default 3.
	Provider      string
	Model         string
	Tools         []string
}

func (r ReviewConfig) maxIterations() int {
	if r.MaxIterations > 0 {
		return r.MaxIterations
	}
	return 3
}

// TeamTask is one node of the declared dependency graph.
type TeamTask struct {
	ID               string
	Task             string // May contain {task:id} placeholders.
	Assignee         string
	Depends          []string
	RequiresApproval bool
	Review           *ReviewConfig
}

// ReviewEntry records one pass of the review/revision loop.
type ReviewEntry struct {
	Iteration      int
	WorkerOutput   string
	ReviewerOutput string
	Approved       bool
}

// DagNode is the mutable runtime state of one TeamTask during execution.
// Ownership is exclusive to the executor for the duration of a run;
// callers only ever see defensive snapshots.
type DagNode struct {
	Task       TeamTask
	Assignee   *TeamMember
	DependsOn  []string
	DependedBy []string
	Status     NodeStatus

	Result *agentexec.TaskResult

	Iteration        int
	ReviewHistory    []ReviewEntry
	IterationResults []agentexec.TaskResult

	// ApprovalAttempts counts how many times a requiresApproval task has
	// been run, so the scheduler knows whether the read-only tool
	// restriction still applies on this pass. Lives on the node itself
	// since a node's attempt count belongs to its run, not to any
	// process-lifetime state.
	ApprovalAttempts int
}

// Snapshot returns a defensive copy of n suitable for handing to a caller
// (e.g. for dagInfo reporting or an approval callback).
func (n *DagNode) Snapshot() DagNode {
	c := *n
	c.DependsOn = append([]string(nil), n.DependsOn...)
	c.DependedBy = append([]string(nil), n.DependedBy...)
	c.ReviewHistory = append([]ReviewEntry(nil), n.ReviewHistory...)
	c.IterationResults = append([]agentexec.TaskResult(nil), n.IterationResults...)
	if n.Result != nil {
		r := *n.Result
		c.Result = &r
	}
	return c
}
