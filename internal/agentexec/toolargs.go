package agentexec

import (
	"encoding/json"
	"fmt"
	"sort"
)

// maxArgsPreviewLen is the hard cap on a formatted tool-args preview.
const maxArgsPreviewLen = 60

// fallbackKeys is the priority order used when a tool has no dedicated
// preview rule.
var fallbackKeys = []string{"command", "path", "file", "pattern", "query", "url", "task", "prompt", "name", "action"}

// formatToolArgs renders a short human-readable preview of a tool call's
// arguments, per the per-tool heuristics. The result is always capped at
// maxArgsPreviewLen characters.
func formatToolArgs(tool string, raw json.RawMessage) string {
	args := decodeArgs(raw)
	var preview string
	switch tool {
	case "read":
		preview = previewRead(args)
	case "write":
		preview = previewWrite(args)
	case "edit":
		preview = previewEdit(args)
	case "bash":
		preview = str(args["command"])
	case "grep":
		preview = previewGrep(args)
	case "find":
		preview = previewFind(args)
	case "mcp":
		preview = previewMCP(args)
	case "subagent":
		preview = previewSubagent(args)
	case "todo":
		preview = previewTodo(args)
	default:
		preview = previewFallback(args)
	}
	return capPreview(preview)
}

func decodeArgs(raw json.RawMessage) map[string]any {
	if len(raw) == 0 {
		return map[string]any{}
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return map[string]any{}
	}
	return m
}

func str(v any) string {
	s, _ := v.(string)
	return s
}

func elideLeft(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return "..." + s[len(s)-(max-3):]
}

func capPreview(s string) string {
	if len(s) <= maxArgsPreviewLen {
		return s
	}
	return s[:maxArgsPreviewLen]
}

func previewRead(args map[string]any) string {
	path := elideLeft(str(args["path"]), 50)
	offset, hasOffset := numOrZero(args["offset"])
	limit, hasLimit := numOrZero(args["limit"])
	if hasOffset || hasLimit {
		return fmt.Sprintf("%s [%d-%d]", path, offset, offset+limit)
	}
	return path
}

func previewWrite(args map[string]any) string {
	path := elideLeft(str(args["path"]), 40)
	content := str(args["content"])
	return fmt.Sprintf("%s (%d chars)", path, len(content))
}

func previewEdit(args map[string]any) string {
	return elideLeft(str(args["path"]), 50)
}

func previewGrep(args map[string]any) string {
	pattern := str(args["pattern"])
	if path := str(args["path"]); path != "" {
		return fmt.Sprintf("%s in %s", pattern, path)
	}
	return pattern
}

func previewFind(args map[string]any) string {
	path := str(args["path"])
	if name := str(args["name"]); name != "" {
		return fmt.Sprintf(`%s -name "%s"`, path, name)
	}
	return path
}

func previewMCP(args map[string]any) string {
	for _, key := range []string{"tool", "search", "server"} {
		if v := str(args[key]); v != "" {
			return fmt.Sprintf("%s: %s", key, v)
		}
	}
	return ""
}

func previewSubagent(args map[string]any) string {
	if task := str(args["task"]); task != "" {
		return elideLeft(task, 50)
	}
	if agent := str(args["agent"]); agent != "" {
		return "agent:" + agent
	}
	return ""
}

func previewTodo(args map[string]any) string {
	if title := str(args["title"]); title != "" {
		return "action: " + title
	}
	return "action: " + str(args["id"])
}

func previewFallback(args map[string]any) string {
	for _, key := range fallbackKeys {
		if v, ok := args[key]; ok {
			if s := str(v); s != "" {
				return s
			}
		}
	}
	// No prioritized key present: fall back to the first string-valued
	// key, in a stable (sorted) order so output is deterministic.
	keys := make([]string, 0, len(args))
	for k := range args {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if s := str(args[k]); s != "" {
			return fmt.Sprintf("%s: %s", k, s)
		}
	}
	return ""
}

func numOrZero(v any) (int, bool) {
	switch n := v.(type) {
	case float64:
		return int(n), true
	case int:
		return n, true
	default:
		return 0, false
	}
}
