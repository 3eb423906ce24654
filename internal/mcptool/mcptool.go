// Package mcptool exposes the parallel dispatcher as a single MCP tool,
// so any MCP-speaking host (editor, CLI, chat client) can drive single,
// chain, race, parallel, and team task execution over stdio.
package mcptool

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/jkaninda/pi-parallel/internal/dispatch"
)

// Server builds and owns the MCP server exposing the parallel tool.
type Server struct {
	mcp    *server.MCPServer
	deps   dispatch.Dependencies
	logger *slog.Logger
}

// New constructs the MCP server with the parallel tool registered.
func New(version string, deps dispatch.Dependencies, logger *slog.Logger) *Server {
	s := server.NewMCPServer(
		"pi-parallel",
		version,
		server.WithToolCapabilities(false),
		server.WithRecovery(),
		server.WithInstructions(instructions()),
	)

	srv := &Server{mcp: s, deps: deps, logger: logger}
	s.AddTool(parallelToolDefinition(), srv.handleParallel)
	return srv
}

// ServeStdio runs the server over stdio until ctx is cancelled or the
// transport closes.
func (s *Server) ServeStdio(ctx context.Context) error {
	return server.ServeStdio(s.mcp, server.WithStdioContextFunc(func(context.Context) context.Context { return ctx }))
}

func parallelToolDefinition() mcp.Tool {
	return mcp.NewTool("parallel",
		mcp.WithDescription("Dispatch one or more agent tasks: single run, sequential chain, "+
			"multi-model race, bounded-concurrency parallel batch, or a dependency-graph team run."),
		mcp.WithString("task", mcp.Description("Single-mode task description.")),
		mcp.WithString("agent", mcp.Description("Named agent definition supplying defaults for single mode.")),
		mcp.WithString("provider", mcp.Description("Model provider for single mode.")),
		mcp.WithString("model", mcp.Description("Model name for single mode.")),
		mcp.WithArray("tools", mcp.Description("Tool names available to single mode.")),
		mcp.WithString("systemPrompt", mcp.Description("System prompt override for single mode.")),
		mcp.WithString("thinking", mcp.Description("Thinking effort for single mode.")),
		mcp.WithArray("tasks", mcp.Description("Parallel-mode task list; each entry may set task, name, agent, provider, model, tools, systemPrompt, cwd, thinking.")),
		mcp.WithString("context", mcp.Description("Shared context prefixed onto every task's prompt.")),
		mcp.WithArray("contextFiles", mcp.Description("File paths for host-side context gathering (not resolved by this tool).")),
		mcp.WithNumber("maxConcurrency", mcp.Description("Worker pool size for parallel mode.")),
		mcp.WithArray("chain", mcp.Description("Chain-mode step list; each entry may set task, agent, provider, model, tools, systemPrompt, thinking.")),
		mcp.WithObject("race", mcp.Description("Race-mode spec: task, models, provider, tools, systemPrompt, thinking.")),
		mcp.WithObject("team", mcp.Description("Team-mode spec: objective, members, tasks, maxConcurrency.")),
		mcp.WithString("cwd", mcp.Description("Working directory passed to child processes.")),
		mcp.WithString("agentScope", mcp.Description("Agent definition discovery scope: user, project, or both.")),
	)
}

func (s *Server) handleParallel(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	raw, err := json.Marshal(req.GetArguments())
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("encoding arguments: %v", err)), nil
	}

	var params dispatch.Params
	if err := json.Unmarshal(raw, &params); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("decoding parallel arguments: %v", err)), nil
	}

	resp, err := dispatch.Dispatch(ctx, params, s.deps)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	text := ""
	if len(resp.Content) > 0 {
		text = resp.Content[0].Text
	}
	details, err := json.Marshal(resp.Details)
	if err != nil {
		s.logger.Error("marshaling parallel details", slog.String("error", err.Error()))
	}

	result := mcp.NewToolResultText(text)
	if len(details) > 0 {
		result.Content = append(result.Content, mcp.NewTextContent(string(details)))
	}
	result.IsError = resp.IsError
	return result, nil
}

func instructions() string {
	return `pi-parallel runs agent tasks through five modes, selected by which field you set:

- task: run a single agent task and return its output.
- tasks: run an independent batch of tasks under a bounded worker pool. Use
  {task_N} or {result_N} (1-based) inside a later task's text to reference an
  earlier task's output; cross-references force sequential execution.
- chain: run tasks in order, substituting {previous} with the prior step's
  output. The chain halts at the first failed or aborted step.
- race: run the same task against several models and keep the first
  successful completion; the rest are cancelled.
- team: build and execute a dependency graph of role-assigned tasks, with
  optional review/revision loops and approval gates.

Exactly one of task, tasks, chain, race, team must be set per call.`
}
