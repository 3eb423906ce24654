// Package dispatch implements the mode dispatcher (C6): validates that
// exactly one execution mode was requested, resolves per-task agent
// settings, and routes to the bounded worker pool, race selector, or
// DAG executor before assembling the final structured response.
package dispatch

import (
	"github.com/jkaninda/pi-parallel/internal/agentdef"
	"github.com/jkaninda/pi-parallel/internal/agentexec"
	"github.com/jkaninda/pi-parallel/internal/orchestrator"
)

// TaskSpec is one entry of a parallel-mode task list.
type TaskSpec struct {
	Task         string   `json:"task"`
	Name         string   `json:"name,omitempty"`
	Agent        string   `json:"agent,omitempty"`
	Provider     string   `json:"provider,omitempty"`
	Model        string   `json:"model,omitempty"`
	Tools        []string `json:"tools,omitempty"`
	SystemPrompt string   `json:"systemPrompt,omitempty"`
	Cwd          string   `json:"cwd,omitempty"`
	Thinking     string   `json:"thinking,omitempty"`
}

// ChainStep is one step of a chain-mode sequence. A step's Task may
// contain the literal "{previous}", replaced with the prior step's
// output (empty on the first step).
type ChainStep struct {
	Task         string   `json:"task"`
	Agent        string   `json:"agent,omitempty"`
	Provider     string   `json:"provider,omitempty"`
	Model        string   `json:"model,omitempty"`
	Tools        []string `json:"tools,omitempty"`
	SystemPrompt string   `json:"systemPrompt,omitempty"`
	Thinking     string   `json:"thinking,omitempty"`
}

// RaceSpec configures race mode: the same task run against every model
// in Models, with the first successful completion winning.
type RaceSpec struct {
	Task         string   `json:"task"`
	Models       []string `json:"models"`
	Provider     string   `json:"provider,omitempty"`
	Tools        []string `json:"tools,omitempty"`
	SystemPrompt string   `json:"systemPrompt,omitempty"`
	Thinking     string   `json:"thinking,omitempty"`
}

// MemberSpec declares one team-mode participant. Task is only used when
// the caller omits an explicit Tasks list: one auto-generated DAG node
// is built per member that sets it.
type MemberSpec struct {
	Role         string   `json:"role"`
	Agent        string   `json:"agent,omitempty"`
	Provider     string   `json:"provider,omitempty"`
	Model        string   `json:"model,omitempty"`
	Tools        []string `json:"tools,omitempty"`
	SystemPrompt string   `json:"systemPrompt,omitempty"`
	Thinking     string   `json:"thinking,omitempty"`
	Task         string   `json:"task,omitempty"`
}

// TeamTaskSpec declares one team-mode DAG node.
type TeamTaskSpec struct {
	ID               string      `json:"id"`
	Task             string      `json:"task"`
	Assignee         string      `json:"assignee"`
	Depends          []string    `json:"depends,omitempty"`
	RequiresApproval bool        `json:"requiresApproval,omitempty"`
	Review           *ReviewSpec `json:"review,omitempty"`
}

// ReviewSpec configures a team-mode review/revision loop.
type ReviewSpec struct {
	Assignee      string   `json:"assignee"`
	Task          string   `json:"task,omitempty"`
	MaxIterations int      `json:"maxIterations,omitempty"`
	Provider      string   `json:"provider,omitempty"`
	Model         string   `json:"model,omitempty"`
	Tools         []string `json:"tools,omitempty"`
}

// TeamSpec configures team mode.
type TeamSpec struct {
	Objective      string         `json:"objective"`
	Members        []MemberSpec   `json:"members"`
	Tasks          []TeamTaskSpec `json:"tasks,omitempty"`
	MaxConcurrency int            `json:"maxConcurrency,omitempty"`
}

// Params is the single parameter object accepted by the `parallel`
// tool. Exactly one of Task, Tasks, Chain, Race, Team must be set.
type Params struct {
	AgentScope agentdef.Scope `json:"agentScope,omitempty"` // "user" (default), "project", or "both".

	// Single mode.
	Task         string   `json:"task,omitempty"`
	Agent        string   `json:"agent,omitempty"`
	Provider     string   `json:"provider,omitempty"`
	Model        string   `json:"model,omitempty"`
	Tools        []string `json:"tools,omitempty"`
	SystemPrompt string   `json:"systemPrompt,omitempty"`
	Thinking     string   `json:"thinking,omitempty"`

	// Parallel mode.
	Tasks []TaskSpec `json:"tasks,omitempty"`

	// Shared context, every mode.
	Context string `json:"context,omitempty"`
	// ContextFiles and GitContext are accepted for interface
	// compatibility with the host tool-calling runtime but are not
	// resolved here — file/git context gathering is the host's
	// responsibility (see DESIGN.md).
	ContextFiles []string `json:"contextFiles,omitempty"`
	GitContext   any      `json:"gitContext,omitempty"`

	MaxConcurrency int `json:"maxConcurrency,omitempty"`

	// Chain mode.
	Chain []ChainStep `json:"chain,omitempty"`

	// Race mode.
	Race *RaceSpec `json:"race,omitempty"`

	// Team mode.
	Team *TeamSpec `json:"team,omitempty"`

	Cwd string `json:"cwd,omitempty"`
}

// Response is the structured result returned to the host.
type Response struct {
	Content []ContentBlock      `json:"content"`
	Details ParallelToolDetails `json:"details"`
	IsError bool                `json:"isError,omitempty"`
}

// ContentBlock is one entry of Response.Content.
type ContentBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// ParallelToolDetails carries the machine-readable portion of the
// response.
type ParallelToolDetails struct {
	Mode            string                   `json:"mode"`
	Results         []agentexec.TaskResult   `json:"results"`
	Progress        []agentexec.TaskProgress `json:"progress,omitempty"`
	TotalDurationMs int64                    `json:"totalDurationMs"`
	Usage           agentexec.UsageStats     `json:"usage"`
	Winner          *agentexec.TaskResult    `json:"winner,omitempty"`
	DagInfo         *DagInfo                 `json:"dagInfo,omitempty"`
	Aborted         bool                     `json:"aborted,omitempty"`
}

// DagInfo is the team-mode structured summary of the underlying DAG.
type DagInfo struct {
	Objective       string        `json:"objective"`
	Members         []string      `json:"members"`
	Tasks           []DagTaskInfo `json:"tasks"`
	BlockedTaskIDs  []string      `json:"blockedTaskIds,omitempty"`
	PendingApproval string        `json:"pendingApproval,omitempty"`
}

// DagTaskInfo is one DAG node's summary entry.
type DagTaskInfo struct {
	ID            string   `json:"id"`
	Assignee      string   `json:"assignee"`
	Depends       []string `json:"depends,omitempty"`
	Status        string   `json:"status"`
	Iteration     int      `json:"iteration,omitempty"`
	MaxIterations int      `json:"maxIterations,omitempty"`
}

// ResultSink is an optional extension point a host may implement to
// persist a run's structured summary without this package importing a
// database driver. The in-process default is a no-op.
type ResultSink interface {
	Record(mode string, details ParallelToolDetails)
}

type nopResultSink struct{}

func (nopResultSink) Record(string, ParallelToolDetails) {}

func dagStatusOf(n *orchestrator.DagNode) string {
	return string(n.Status)
}
