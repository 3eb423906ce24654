package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/jkaninda/pi-parallel/internal/agentdef"
	"github.com/jkaninda/pi-parallel/internal/agentexec"
	"github.com/jkaninda/pi-parallel/internal/config"
	"github.com/jkaninda/pi-parallel/internal/dispatch"
	"github.com/jkaninda/pi-parallel/internal/mcptool"
	"github.com/jkaninda/pi-parallel/internal/metrics"
	"github.com/jkaninda/pi-parallel/internal/workspace"
)

var serveConfigPath string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the parallel MCP tool server over stdio",
	RunE:  runServe,
}

func init() {
	for _, cmd := range []*cobra.Command{rootCmd, serveCmd} {
		cmd.Flags().StringVar(&serveConfigPath, "config", config.DefaultConfigPath(), "path to config file")
	}
}

func runServe(_ *cobra.Command, _ []string) error {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	cfg, err := config.Load(serveConfigPath)
	if err != nil {
		return err
	}

	agents, err := agentdef.Load(agentdef.ScopeBoth, cfg.Agents.ResolvedUserDir(), cfg.Agents.ResolvedProjectDir())
	if err != nil {
		return fmt.Errorf("loading agent definitions: %w", err)
	}
	logger.Info("agent definitions loaded", slog.Int("count", len(agents.Names())))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var reg *metrics.Registry
	if cfg.Metrics != nil && cfg.Metrics.Enabled {
		reg = metrics.New()
		startMetricsServer(ctx, cfg, reg, logger)
	}

	if cfg.Reaper != nil {
		reaper, err := workspace.NewReaper(cfg.WorkspaceRoot(), cfg.Reaper.Schedule(), cfg.Reaper.MaxAge(), logger)
		if err != nil {
			return fmt.Errorf("starting workspace reaper: %w", err)
		}
		go reaper.Run(ctx)
		logger.Debug("workspace reaper started",
			slog.String("schedule", cfg.Reaper.Schedule()),
			slog.String("max_age", cfg.Reaper.MaxAge().String()),
		)
	}

	deps := dispatch.Dependencies{
		Agents:        agents,
		ChildPath:     cfg.ResolvedChildPath(),
		WorkspaceRoot: cfg.WorkspaceRoot(),
		MCPServers:    toMCPServers(cfg.MCP),
	}
	if reg != nil {
		deps.Metrics = reg.Dispatch
		deps.TeamMetrics = reg.Team
	}

	logger.Info("starting pi-parallel MCP server", slog.String("config", serveConfigPath))

	srv := mcptool.New(version, deps, logger)
	return srv.ServeStdio(ctx)
}

// toMCPServers adapts the config file's MCP server list into the shape
// agentexec hands to the spawned child.
func toMCPServers(servers []config.MCPServerConfig) []agentexec.MCPServer {
	if len(servers) == 0 {
		return nil
	}
	out := make([]agentexec.MCPServer, len(servers))
	for i, s := range servers {
		out[i] = agentexec.MCPServer{
			Name:      s.Name,
			Transport: s.Transport,
			Command:   s.Command,
			Args:      s.Args,
			Env:       s.Env,
			URL:       s.URL,
			Headers:   s.Headers,
		}
	}
	return out
}

func startMetricsServer(ctx context.Context, cfg *config.Config, reg *metrics.Registry, logger *slog.Logger) {
	mux := http.NewServeMux()
	mux.Handle(cfg.Metrics.Path(), reg.Handler())

	httpServer := &http.Server{
		Addr:              cfg.Metrics.Addr(),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics server exited", slog.String("error", err.Error()))
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(shutdownCtx)
	}()

	logger.Debug("metrics server started", slog.String("addr", cfg.Metrics.Addr()), slog.String("path", cfg.Metrics.Path()))
}
