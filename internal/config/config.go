// Package config handles loading and validating pi-parallel configuration.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

func init() {
	_ = godotenv.Load()
}

// Config is the root configuration for pi-parallel.
type Config struct {
	Workspace   string               `json:"workspace,omitempty" yaml:"workspace,omitempty"`   // Temp-dir root for team-mode workspaces. Default: os.TempDir(). Override: PI_PARALLEL_WORKSPACE.
	ChildPath   string               `json:"child_path,omitempty" yaml:"child_path,omitempty"` // Executable to spawn for each agent run. Default: "pi". Override: PI_PARALLEL_CHILD.
	Concurrency ConcurrencyConfig    `json:"concurrency" yaml:"concurrency"`
	Output      OutputConfig         `json:"output" yaml:"output"`
	Agents      AgentDiscoveryConfig `json:"agents" yaml:"agents"`
	MCP         []MCPServerConfig    `json:"mcp,omitempty" yaml:"mcp,omitempty"`         // External MCP tool servers exposed to every spawned agent.
	Reaper      *ReaperConfig        `json:"reaper,omitempty" yaml:"reaper,omitempty"`   // nil = workspace reaper disabled.
	Metrics     *MetricsConfig       `json:"metrics,omitempty" yaml:"metrics,omitempty"` // nil = metrics disabled.
}

// ConcurrencyConfig holds concurrency settings read from the config file.
// Nothing outside this package reads them: the dispatcher and the team
// engine apply their own built-in default (4) and ceiling (8).
type ConcurrencyConfig struct {
	Default int `json:"default" yaml:"default"` // Default: 4.
	Max     int `json:"max" yaml:"max"`         // Hard ceiling. Default: 8 (MAX_CONCURRENCY).
}

func (c ConcurrencyConfig) DefaultConcurrency() int {
	if c.Default > 0 {
		return c.Default
	}
	return 4
}

func (c ConcurrencyConfig) MaxConcurrency() int {
	if c.Max > 0 {
		return c.Max
	}
	return 8
}

// OutputConfig holds output-cap settings read from the config file. They
// are validated but not read elsewhere: outputshape applies its own
// fixed caps and spill threshold.
type OutputConfig struct {
	MaxLines        int `json:"max_lines" yaml:"max_lines"`                 // Default: 2000.
	MaxBytes        int `json:"max_bytes" yaml:"max_bytes"`                 // Default: 51200 (50 KiB).
	SummarySpillLen int `json:"summary_spill_len" yaml:"summary_spill_len"` // Default: 2000.
}

// AgentDiscoveryConfig configures where named agent definitions are read from.
type AgentDiscoveryConfig struct {
	UserDir    string `json:"user_dir,omitempty" yaml:"user_dir,omitempty"`       // Default: ~/.pi-parallel/agents.
	ProjectDir string `json:"project_dir,omitempty" yaml:"project_dir,omitempty"` // Default: ./.pi-parallel/agents.
}

// ResolvedUserDir returns the user-scope agent definitions directory,
// defaulting to ~/.pi-parallel/agents.
func (a AgentDiscoveryConfig) ResolvedUserDir() string {
	if a.UserDir != "" {
		return a.UserDir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".pi-parallel", "agents")
}

// ResolvedProjectDir returns the project-scope agent definitions
// directory, defaulting to ./.pi-parallel/agents.
func (a AgentDiscoveryConfig) ResolvedProjectDir() string {
	if a.ProjectDir != "" {
		return a.ProjectDir
	}
	return filepath.Join(".pi-parallel", "agents")
}

// MCPServerConfig defines a single external MCP server connection made
// available to every spawned child agent.
type MCPServerConfig struct {
	Name      string            `json:"name" yaml:"name"`
	Transport string            `json:"transport" yaml:"transport"` // "stdio", "sse", or "streamable_http".
	Command   string            `json:"command,omitempty" yaml:"command,omitempty"`
	Args      []string          `json:"args,omitempty" yaml:"args,omitempty"`
	Env       map[string]string `json:"env,omitempty" yaml:"env,omitempty"`
	URL       string            `json:"url,omitempty" yaml:"url,omitempty"`
	Headers   map[string]string `json:"headers,omitempty" yaml:"headers,omitempty"`
}

// ReaperConfig configures the periodic sweep of abandoned team-mode
// workspace directories.
type ReaperConfig struct {
	ScheduleExpr string        `json:"schedule" yaml:"schedule"` // Cron expression. Default: "*/15 * * * *".
	MaxAgeValue  time.Duration `json:"max_age" yaml:"max_age"`   // Directories older than this are removed. Default: 1h.
}

func (r *ReaperConfig) schedule() string {
	if r != nil && r.ScheduleExpr != "" {
		return r.ScheduleExpr
	}
	return "*/15 * * * *"
}

func (r *ReaperConfig) maxAge() time.Duration {
	if r != nil && r.MaxAgeValue > 0 {
		return r.MaxAgeValue
	}
	return time.Hour
}

// Schedule returns the reaper's cron schedule, defaulting when r is nil.
func (r *ReaperConfig) Schedule() string { return r.schedule() }

// MaxAge returns the reaper's retention window, defaulting when r is nil.
func (r *ReaperConfig) MaxAge() time.Duration { return r.maxAge() }

// MetricsConfig controls Prometheus exposition.
type MetricsConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	AddrVal string `json:"addr" yaml:"addr"` // Default: ":9090".
	PathVal string `json:"path" yaml:"path"` // Default: "/metrics".
}

func (m *MetricsConfig) addr() string {
	if m != nil && m.AddrVal != "" {
		return m.AddrVal
	}
	return ":9090"
}

func (m *MetricsConfig) path() string {
	if m != nil && m.PathVal != "" {
		return m.PathVal
	}
	return "/metrics"
}

// Addr returns the metrics listen address, defaulting when m is nil.
func (m *MetricsConfig) Addr() string { return m.addr() }

// Path returns the metrics HTTP path, defaulting when m is nil.
func (m *MetricsConfig) Path() string { return m.path() }

// DefaultConfigPath returns the conventional config file location.
func DefaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "pi-parallel.yaml"
	}
	return filepath.Join(home, ".pi-parallel", "config.yaml")
}

// Load reads a JSON or YAML config file and returns a validated Config.
// The format is detected by file extension: .yml/.yaml for YAML,
// everything else for JSON. A missing file at path returns the defaults.
func Load(path string) (*Config, error) {
	resolved, err := resolvePath(path)
	if err != nil {
		return nil, fmt.Errorf("resolving config path %s: %w", path, err)
	}

	cfg := &Config{}
	data, err := os.ReadFile(resolved)
	if err != nil {
		if os.IsNotExist(err) {
			applyEnvOverrides(cfg)
			return cfg, nil
		}
		return nil, fmt.Errorf("reading config %s: %w", resolved, err)
	}

	switch ext := strings.ToLower(filepath.Ext(resolved)); ext {
	case ".yml", ".yaml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing YAML config %s: %w", resolved, err)
		}
	default:
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing JSON config %s: %w", resolved, err)
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("PI_PARALLEL_WORKSPACE"); v != "" {
		cfg.Workspace = v
	}
	if v := os.Getenv("PI_PARALLEL_CHILD"); v != "" {
		cfg.ChildPath = v
	}
}

func resolvePath(path string) (string, error) {
	if strings.HasPrefix(path, "~/") || path == "~" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		path = filepath.Join(home, path[1:])
	}
	return filepath.Abs(path)
}

func (c *Config) validate() error {
	if c.Concurrency.Max < 0 {
		return fmt.Errorf("concurrency.max must be non-negative")
	}
	if c.Output.MaxLines < 0 || c.Output.MaxBytes < 0 {
		return fmt.Errorf("output caps must be non-negative")
	}
	for _, m := range c.MCP {
		switch m.Transport {
		case "stdio", "sse", "streamable_http":
		default:
			return fmt.Errorf("mcp server %q: unsupported transport %q", m.Name, m.Transport)
		}
	}
	return nil
}

// WorkspaceRoot returns the configured workspace root, defaulting to the
// OS temp directory.
func (c *Config) WorkspaceRoot() string {
	if c.Workspace != "" {
		return c.Workspace
	}
	return os.TempDir()
}

// ResolvedChildPath returns the executable to spawn for each agent run.
func (c *Config) ResolvedChildPath() string {
	if c.ChildPath != "" {
		return c.ChildPath
	}
	return "pi"
}
