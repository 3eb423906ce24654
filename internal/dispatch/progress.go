package dispatch

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/jkaninda/pi-parallel/internal/agentexec"
)

// collectingSink wraps a caller-supplied ProgressSink and additionally
// retains the latest TaskProgress snapshot seen per task ID, so a
// dispatcher can roll up tool usage into its summary once a run
// completes without the caller's own sink having to support readback.
type collectingSink struct {
	mu     sync.Mutex
	sink   agentexec.ProgressSink
	latest map[string]agentexec.TaskProgress
}

func newCollectingSink(sink agentexec.ProgressSink) *collectingSink {
	return &collectingSink{sink: sink, latest: make(map[string]agentexec.TaskProgress)}
}

func (c *collectingSink) Publish(p agentexec.TaskProgress) {
	c.mu.Lock()
	c.latest[p.ID] = p.Clone()
	c.mu.Unlock()
	if c.sink != nil {
		c.sink.Publish(p)
	}
}

func (c *collectingSink) progressFor(id string) agentexec.TaskProgress {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.latest[id]
}

// toolRollup renders a one-line tool-usage summary derived from a task's
// final progress snapshot: total call count plus a per-tool breakdown of
// whatever made it into the bounded recent-tools window.
func toolRollup(p agentexec.TaskProgress) string {
	if p.ToolCount == 0 {
		return "none"
	}

	counts := make(map[string]int, len(p.RecentTools))
	var names []string
	for _, tc := range p.RecentTools {
		if counts[tc.Tool] == 0 {
			names = append(names, tc.Tool)
		}
		counts[tc.Tool]++
	}
	sort.Strings(names)

	parts := make([]string, 0, len(names))
	for _, name := range names {
		parts = append(parts, fmt.Sprintf("%s×%d", name, counts[name]))
	}

	if len(parts) == 0 {
		return fmt.Sprintf("%d calls", p.ToolCount)
	}
	return fmt.Sprintf("%d calls (%s)", p.ToolCount, strings.Join(parts, ", "))
}
