// Package outputshape caps agent output to bounded size before it is
// returned to the caller, and spills oversized Markdown summaries to a
// temp file so the caller can still retrieve the full text.
package outputshape

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"
)

const (
	// MaxOutputLines is the line cap applied to every TaskResult.Output.
	MaxOutputLines = 2000
	// MaxOutputBytes is the byte cap applied to every TaskResult.Output,
	// checked after the line cap.
	MaxOutputBytes = 50 * 1024

	// summarySpillThreshold is the point at which a Markdown summary
	// entry is spilled to a file instead of inlined in full.
	summarySpillThreshold = 2000
)

// Cap applies the line cap then the byte cap to s, in that order, per
// spec invariant 7: truncated is true if either cap actually trimmed
// content.
func Cap(s string) (capped string, truncated bool) {
	capped, lineTrunc := capLines(s, MaxOutputLines)
	capped, byteTrunc := capBytes(capped, MaxOutputBytes)
	return capped, lineTrunc || byteTrunc
}

// capLines keeps only the last maxLines lines of s, dropping the oldest.
func capLines(s string, maxLines int) (string, bool) {
	lines := strings.Split(s, "\n")
	if len(lines) <= maxLines {
		return s, false
	}
	kept := lines[len(lines)-maxLines:]
	return strings.Join(kept, "\n"), true
}

// capBytes repeatedly discards the first half of s while its UTF-8 byte
// length exceeds maxBytes. This is a lossy bisection, not a line-aligned
// cut: each halving can split a multi-byte rune, so the result is
// re-aligned to the next valid rune boundary afterward.
func capBytes(s string, maxBytes int) (string, bool) {
	if len(s) <= maxBytes {
		return s, false
	}
	truncated := false
	for len(s) > maxBytes {
		truncated = true
		half := len(s) / 2
		if half == 0 {
			break
		}
		s = s[half:]
	}
	// Re-align to a rune boundary: skip continuation bytes left dangling
	// by the bisection cut.
	for len(s) > 0 && !utf8.RuneStart(s[0]) {
		s = s[1:]
	}
	return s, truncated
}

// Spiller writes full outputs to temp files when a Markdown summary
// entry would otherwise exceed summarySpillThreshold characters.
type Spiller struct {
	Prefix string // "parallel" or "team".
}

// SpillResult is what the caller gets back for one summary entry.
type SpillResult struct {
	Inline   string // First summarySpillThreshold chars (or the whole string if it fit).
	Path     string // Non-empty only if the full text was spilled to a file.
	Spilled  bool
}

// Shape decides whether output needs spilling for a Markdown summary
// entry named by safeName, and performs the spill if so. epoch is a
// caller-supplied timestamp (the package never calls time.Now itself,
// so callers control determinism in tests).
func (sp *Spiller) Shape(output string, safeName string, epoch int64) SpillResult {
	if len(output) <= summarySpillThreshold {
		return SpillResult{Inline: output}
	}

	path := filepath.Join(os.TempDir(), fmt.Sprintf("%s-%s-%d.md", sp.Prefix, safeName, epoch))
	if err := os.WriteFile(path, []byte(output), 0o644); err != nil {
		// Fall back to in-line truncation only.
		return SpillResult{Inline: truncateRunes(output, summarySpillThreshold)}
	}

	return SpillResult{
		Inline:  truncateRunes(output, summarySpillThreshold),
		Path:    path,
		Spilled: true,
	}
}

func truncateRunes(s string, n int) string {
	if len(s) <= n {
		return s
	}
	cut := s[:n]
	for len(cut) > 0 && !utf8.RuneStart(cut[len(cut)-1]) {
		// Shouldn't happen since n is a byte count on ASCII-heavy text,
		// but guard against splitting a rune at the boundary.
		cut = cut[:len(cut)-1]
	}
	return cut
}

// SafeName sanitizes a string for use as a filename fragment.
func SafeName(name string) string {
	if name == "" {
		return "task"
	}
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	out := b.String()
	if out == "" {
		return "task"
	}
	if len(out) > 64 {
		out = out[:64]
	}
	return out
}
