// Package config handles HerSite server configuration loading.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultSearchPaths returns the config file search order.
// An explicit path (from -config flag) is checked first.
// Then: ./hersite.yaml, ~/.config/hersite/hersite.yaml, /etc/hersite/hersite.yaml.
func DefaultSearchPaths() []string {
	paths := []string{"hersite.yaml"}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "hersite", "hersite.yaml"))
	}

	paths = append(paths, "/etc/hersite/hersite.yaml")
	return paths
}

// FindConfig locates a config file. If explicit is non-empty, it must exist.
// Otherwise, searches DefaultSearchPaths and returns the first that exists.
// Returns the path found, or an error if nothing was found.
func FindConfig(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	for _, p := range DefaultSearchPaths() {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	return "", fmt.Errorf("no config file found (searched: %v)", DefaultSearchPaths())
}

// Config holds all HerSite server configuration.
type Config struct {
	Listen    ListenConfig    `yaml:"listen"`
	Anthropic AnthropicConfig `yaml:"anthropic"`
	Agent     AgentConfig     `yaml:"agent"`
	Projects  ProjectsConfig  `yaml:"projects"`
	Builder   BuilderConfig   `yaml:"builder"`
	Git       GitConfig       `yaml:"git"`
	Deploy    DeployConfig    `yaml:"deploy"`
	DataDir   string          `yaml:"data_dir"`
	LogLevel  string          `yaml:"log_level"`
	LogFormat string          `yaml:"log_format"` // text (default) or json
}

// ListenConfig defines the server bind settings.
type ListenConfig struct {
	Address string `yaml:"address"` // Bind address (default: "" = all interfaces)
	Port    int    `yaml:"port"`
}

// AnthropicConfig defines Anthropic API settings. An empty APIKey falls
// back to the credential resolver (env var, then the local CLI OAuth
// credentials file).
type AnthropicConfig struct {
	APIKey string `yaml:"api_key"`
	Model  string `yaml:"model"`
}

// AgentConfig tunes the tool-calling loop.
type AgentConfig struct {
	// MaxToolRounds caps model/tool round trips per incoming message.
	// A model that never stops requesting tools is terminated with an
	// error turn once this is exceeded.
	MaxToolRounds int `yaml:"max_tool_rounds"`
	// ModelTimeoutSec bounds each individual model call.
	ModelTimeoutSec int `yaml:"model_timeout_sec"`
	// MaxTokens is the per-call output token budget.
	MaxTokens int `yaml:"max_tokens"`
}

// ModelTimeout returns the per-call model timeout as a duration.
func (a AgentConfig) ModelTimeout() time.Duration {
	if a.ModelTimeoutSec <= 0 {
		return 120 * time.Second
	}
	return time.Duration(a.ModelTimeoutSec) * time.Second
}

// ProjectsConfig defines where project sandboxes and templates live.
type ProjectsConfig struct {
	// Dir is the parent directory of all per-user sandbox roots.
	Dir string `yaml:"dir"`
	// TemplatesDir holds the scaffold template trees, one per template id.
	TemplatesDir string `yaml:"templates_dir"`
	// IgnoreGlobs are doublestar patterns excluded from file listings,
	// in addition to the built-in node_modules/.git/dist exclusions.
	IgnoreGlobs []string `yaml:"ignore_globs"`
}

// BuilderConfig defines static-site build and preview settings.
type BuilderConfig struct {
	// BasePort is the first dev-server port; user N gets BasePort+N.
	BasePort int `yaml:"base_port"`
	// BuildTimeoutSec bounds a single astro build invocation.
	BuildTimeoutSec int `yaml:"build_timeout_sec"`
	// InstallTimeoutSec bounds npm install.
	InstallTimeoutSec int `yaml:"install_timeout_sec"`
	// WatchRebuilds enables the fsnotify sandbox watcher that rebuilds
	// the preview on out-of-band file changes.
	WatchRebuilds bool `yaml:"watch_rebuilds"`
	// WatchDebounceMs is the settle time before a watched change
	// triggers a rebuild.
	WatchDebounceMs int `yaml:"watch_debounce_ms"`
}

// BuildTimeout returns the build timeout as a duration.
func (b BuilderConfig) BuildTimeout() time.Duration {
	if b.BuildTimeoutSec <= 0 {
		return 5 * time.Minute
	}
	return time.Duration(b.BuildTimeoutSec) * time.Second
}

// InstallTimeout returns the npm install timeout as a duration.
func (b BuilderConfig) InstallTimeout() time.Duration {
	if b.InstallTimeoutSec <= 0 {
		return 10 * time.Minute
	}
	return time.Duration(b.InstallTimeoutSec) * time.Second
}

// GitConfig defines version-control settings.
type GitConfig struct {
	// Remote is an optional git remote URL. When set, commits are pushed
	// (best effort) after every turn that changed files.
	Remote string `yaml:"remote"`
}

// DeployConfig defines deployment API settings.
type DeployConfig struct {
	// VercelToken authorizes the deployments API. Empty disables publish.
	VercelToken string `yaml:"vercel_token"`
	// ProjectName is the Vercel project deployments attach to.
	ProjectName string `yaml:"project_name"`
	// TimeoutSec bounds a single deployment request.
	TimeoutSec int `yaml:"timeout_sec"`
}

// Timeout returns the deploy timeout as a duration.
func (d DeployConfig) Timeout() time.Duration {
	if d.TimeoutSec <= 0 {
		return 2 * time.Minute
	}
	return time.Duration(d.TimeoutSec) * time.Second
}

// Load reads configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	// Expand environment variables
	expanded := os.ExpandEnv(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks for configuration values that would fail later in
// confusing ways.
func (c *Config) Validate() error {
	if c.LogLevel != "" {
		if _, err := ParseLogLevel(c.LogLevel); err != nil {
			return err
		}
	}
	if c.LogFormat != "" && c.LogFormat != "text" && c.LogFormat != "json" {
		return fmt.Errorf("unknown log_format %q (valid: text, json)", c.LogFormat)
	}
	if c.Agent.MaxToolRounds < 0 {
		return fmt.Errorf("agent.max_tool_rounds must be >= 0")
	}
	return nil
}

// Default returns a default configuration.
func Default() *Config {
	return &Config{
		Listen: ListenConfig{Port: 3001},
		Anthropic: AnthropicConfig{
			Model: "claude-sonnet-4-5-20250929",
		},
		Agent: AgentConfig{
			MaxToolRounds:   25,
			ModelTimeoutSec: 120,
			MaxTokens:       4096,
		},
		Projects: ProjectsConfig{
			Dir:          "projects",
			TemplatesDir: "templates",
		},
		Builder: BuilderConfig{
			BasePort:        4321,
			WatchRebuilds:   true,
			WatchDebounceMs: 500,
		},
		Deploy:  DeployConfig{ProjectName: "hersite"},
		DataDir: "data",
	}
}
