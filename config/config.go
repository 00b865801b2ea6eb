// Package config provides configuration loading and management for the
// gorilla-troop orchestration runtime.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete runtime configuration.
type Config struct {
	Model     ModelConfig     `yaml:"model"`
	Repo      RepoConfig      `yaml:"repo"`
	Bus       BusConfig       `yaml:"bus"`
	Tools     ToolsConfig     `yaml:"tools"`
	Prompts   PromptsConfig   `yaml:"prompts"`
	Engine    EngineConfig    `yaml:"engine"`
	Workspace WorkspaceConfig `yaml:"workspace"`
}

// ModelConfig configures the LLM model settings shared by every worker.
type ModelConfig struct {
	// Default is the default model to use (e.g., "qwen2.5-coder:32b")
	Default string `yaml:"default"`
	// Endpoint is the API endpoint (default: http://localhost:11434/v1)
	Endpoint string `yaml:"endpoint"`
	// Temperature controls randomness (0.0-1.0, default: 0.2)
	Temperature float64 `yaml:"temperature"`
	// Timeout is the maximum time to wait for model responses
	Timeout time.Duration `yaml:"timeout"`
}

// RepoConfig configures the repository settings
type RepoConfig struct {
	// Path is the repository root path (auto-detected from git if empty)
	Path string `yaml:"path"`
}

// BusConfig configures the inter-agent message bus client.
type BusConfig struct {
	// BaseURL is the message-bus HTTP endpoint.
	BaseURL string `yaml:"base_url"`
}

// ToolsConfig configures tool executor settings
type ToolsConfig struct {
	// Allowlist is the list of allowed tool names (empty = allow all)
	Allowlist []string `yaml:"allowlist"`
}

// PromptsConfig locates the hot-reloaded worker prompt library.
type PromptsConfig struct {
	// Dir holds one `<worker-type>.md` file per stage worker.
	Dir string `yaml:"dir"`
}

// EngineConfig bounds the dispatch engine's concurrency and per-run
// deadline. These map directly onto engine.Config.
type EngineConfig struct {
	// ConcurrencyCeiling caps how many worker instances may run at once.
	ConcurrencyCeiling int `yaml:"concurrency_ceiling"`
	// InvocationTimeout is the hard per-invocation deadline.
	InvocationTimeout time.Duration `yaml:"invocation_timeout"`
}

// WorkspaceConfig locates a project's working tree and registry directory.
type WorkspaceConfig struct {
	// Root is the default workspace root new projects are created under.
	Root string `yaml:"root"`
	// RegistryDir names a directory (relative to Root) for the project
	// registry. registry.Load does not read this field; it always uses
	// .gorilla-troop under the workspace root.
	RegistryDir string `yaml:"registry_dir"`
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Model: ModelConfig{
			Default:     "qwen2.5-coder:32b",
			Endpoint:    "http://localhost:11434/v1",
			Temperature: 0.2,
			Timeout:     5 * time.Minute,
		},
		Repo: RepoConfig{
			Path: "", // Auto-detect
		},
		Bus: BusConfig{
			BaseURL: "http://localhost:8077",
		},
		Tools: ToolsConfig{
			Allowlist: nil, // Allow all
		},
		Prompts: PromptsConfig{
			Dir: "prompts",
		},
		Engine: EngineConfig{
			ConcurrencyCeiling: 4,
			InvocationTimeout:  3600 * time.Second,
		},
		Workspace: WorkspaceConfig{
			Root:        "",
			RegistryDir: ".gorilla-troop",
		},
	}
}

// Validate checks that the configuration is valid
func (c *Config) Validate() error {
	if c.Model.Default == "" {
		return fmt.Errorf("model.default is required")
	}
	if c.Model.Endpoint == "" {
		return fmt.Errorf("model.endpoint is required")
	}
	if c.Model.Temperature < 0 || c.Model.Temperature > 1 {
		return fmt.Errorf("model.temperature must be between 0 and 1")
	}
	if c.Engine.ConcurrencyCeiling <= 0 {
		return fmt.Errorf("engine.concurrency_ceiling must be positive")
	}
	if c.Bus.BaseURL == "" {
		return fmt.Errorf("bus.base_url is required")
	}
	return nil
}

// LoadFromFile loads configuration from a YAML file
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := DefaultConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return config, nil
}

// SaveToFile saves configuration to a YAML file
func (c *Config) SaveToFile(path string) error {
	// Ensure parent directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Merge merges another config into this one (other takes precedence for non-zero values)
func (c *Config) Merge(other *Config) {
	if other == nil {
		return
	}

	// Model
	if other.Model.Default != "" {
		c.Model.Default = other.Model.Default
	}
	if other.Model.Endpoint != "" {
		c.Model.Endpoint = other.Model.Endpoint
	}
	if other.Model.Temperature != 0 {
		c.Model.Temperature = other.Model.Temperature
	}
	if other.Model.Timeout != 0 {
		c.Model.Timeout = other.Model.Timeout
	}

	// Repo
	if other.Repo.Path != "" {
		c.Repo.Path = other.Repo.Path
	}

	// Bus
	if other.Bus.BaseURL != "" {
		c.Bus.BaseURL = other.Bus.BaseURL
	}

	// Tools
	if len(other.Tools.Allowlist) > 0 {
		c.Tools.Allowlist = other.Tools.Allowlist
	}

	// Prompts
	if other.Prompts.Dir != "" {
		c.Prompts.Dir = other.Prompts.Dir
	}

	// Engine
	if other.Engine.ConcurrencyCeiling != 0 {
		c.Engine.ConcurrencyCeiling = other.Engine.ConcurrencyCeiling
	}
	if other.Engine.InvocationTimeout != 0 {
		c.Engine.InvocationTimeout = other.Engine.InvocationTimeout
	}

	// Workspace
	if other.Workspace.Root != "" {
		c.Workspace.Root = other.Workspace.Root
	}
	if other.Workspace.RegistryDir != "" {
		c.Workspace.RegistryDir = other.Workspace.RegistryDir
	}
}
