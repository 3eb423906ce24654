package workspace

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// Reaper periodically sweeps a parent directory for abandoned team-mode
// workspace directories older than MaxAge and removes them. It guards
// against workspaces left behind by a process that crashed before
// reaching Teardown. Every directory whose name starts with "pi-" is a
// candidate, not only team workspaces.
type Reaper struct {
	Parent string
	MaxAge time.Duration

	schedule cron.Schedule
	logger   *slog.Logger
}

// NewReaper parses schedule (a standard 5-field cron expression) and
// returns a Reaper that sweeps parent for directories older than maxAge.
func NewReaper(parent, schedule string, maxAge time.Duration, logger *slog.Logger) (*Reaper, error) {
	sched, err := cron.ParseStandard(schedule)
	if err != nil {
		return nil, fmt.Errorf("parsing reaper schedule %q: %w", schedule, err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Reaper{
		Parent:   parent,
		MaxAge:   maxAge,
		schedule: sched,
		logger:   logger,
	}, nil
}

// Run blocks, sweeping at each cron-scheduled tick until ctx is
// cancelled.
func (r *Reaper) Run(ctx context.Context) {
	next := r.schedule.Next(time.Now())
	timer := time.NewTimer(time.Until(next))
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			r.Sweep()
			next = r.schedule.Next(time.Now())
			timer.Reset(time.Until(next))
		}
	}
}

// Sweep removes every abandoned workspace directory under Parent whose
// modification time is older than MaxAge. Errors reading or removing
// individual entries are logged and otherwise swallowed.
func (r *Reaper) Sweep() {
	entries, err := os.ReadDir(r.Parent)
	if err != nil {
		if !os.IsNotExist(err) {
			r.logger.Warn("workspace reaper: reading parent dir", "error", err)
		}
		return
	}

	cutoff := time.Now().Add(-r.MaxAge)
	for _, entry := range entries {
		if !entry.IsDir() || !strings.HasPrefix(entry.Name(), "pi-") {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if info.ModTime().After(cutoff) {
			continue
		}
		path := filepath.Join(r.Parent, entry.Name())
		if err := os.RemoveAll(path); err != nil {
			r.logger.Warn("workspace reaper: removing abandoned workspace", "path", path, "error", err)
			continue
		}
		r.logger.Info("workspace reaper: removed abandoned workspace", "path", path)
	}
}
