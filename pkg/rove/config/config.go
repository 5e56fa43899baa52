// Package config loads Rove's YAML configuration the way the teacher's
// pkg/goclaw/copilot/loader.go does: defaults first, then a YAML overlay,
// with .env support via godotenv for secret-adjacent environment
// variables (provider API keys are still resolved through
// pkg/rove/secrets, never read directly here).
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// ProviderConfig describes one LLM provider entry for the Router
// (spec.md §4.2).
type ProviderConfig struct {
	Name        string  `yaml:"name"`
	BaseURL     string  `yaml:"base_url"`
	Model       string  `yaml:"model"`
	IsLocal     bool    `yaml:"is_local"`
	IsDefault   bool    `yaml:"is_default"`
	CostPer1k   float64 `yaml:"cost_per_1k"`
	APIKeyEnv   string  `yaml:"api_key_env"`
	APIKey      string  `yaml:"api_key"` // least secure, kept for parity with teacher's config priority
}

// RouterConfig tunes the ranking thresholds from spec.md §4.2.
type RouterConfig struct {
	SensitivityThreshold float64 `yaml:"sensitivity_threshold"`
	ComplexityThreshold  float64 `yaml:"complexity_threshold"`
	TokenThreshold       int     `yaml:"token_threshold"`
}

// AgentConfig tunes the Agent Loop bounds from spec.md §4.1.
// LocalTimeoutSeconds and RemoteTimeoutSeconds are not read by the daemon:
// the loop's outer per-call timeouts are fixed at 300s (local) and 30s
// (remote).
type AgentConfig struct {
	MaxIterations         int `yaml:"max_iterations"`
	LocalTimeoutSeconds   int `yaml:"local_timeout_seconds"`
	RemoteTimeoutSeconds  int `yaml:"remote_timeout_seconds"`
	MaxResultBytes        int `yaml:"max_result_bytes"`
	WorkingMemoryBudget   int `yaml:"working_memory_budget_tokens"`
}

// RateLimitConfig tunes the sliding-window limiter from spec.md §4.3.
type RateLimitConfig struct {
	Tier1Limit            int `yaml:"tier1_limit"`
	Tier1WindowMs         int `yaml:"tier1_window_ms"`
	Tier2Limit            int `yaml:"tier2_limit"`
	Tier2WindowMs         int `yaml:"tier2_window_ms"`
	BreakerThreshold      int `yaml:"breaker_threshold"`
	BreakerWindowMs       int `yaml:"breaker_window_ms"`
	BreakerCooldownMs     int `yaml:"breaker_cooldown_ms"`
	EntryRetentionMs      int `yaml:"entry_retention_ms"`
}

// Config is the top-level daemon configuration.
type Config struct {
	DataDir        string           `yaml:"data_dir"`
	WorkspaceDir   string           `yaml:"workspace_dir"`
	ManifestPath   string           `yaml:"manifest_path"`
	Production     bool             `yaml:"production"`
	Providers      []ProviderConfig `yaml:"providers"`
	Router         RouterConfig     `yaml:"router"`
	Agent          AgentConfig      `yaml:"agent"`
	RateLimit      RateLimitConfig  `yaml:"rate_limit"`
	Logging        LoggingConfig    `yaml:"logging"`
}

// LoggingConfig controls the slog handler (text vs JSON), matching the
// teacher's cmd/copilot/commands/serve.go handler selection.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// DefaultConfig returns sensible defaults for attended local use.
func DefaultConfig() *Config {
	return &Config{
		DataDir:      "./data",
		WorkspaceDir: ".",
		ManifestPath: "./manifest.json",
		Production:   false,
		Router: RouterConfig{
			SensitivityThreshold: 0.5,
			ComplexityThreshold:  0.5,
			TokenThreshold:       4000,
		},
		Agent: AgentConfig{
			MaxIterations:        20,
			LocalTimeoutSeconds:  300,
			RemoteTimeoutSeconds: 30,
			MaxResultBytes:       5 * 1024 * 1024,
			WorkingMemoryBudget:  8000,
		},
		RateLimit: RateLimitConfig{
			Tier1Limit:        60,
			Tier1WindowMs:     int(time.Hour / time.Millisecond),
			Tier2Limit:        10,
			Tier2WindowMs:     int(10 * time.Minute / time.Millisecond),
			BreakerThreshold:  5,
			BreakerWindowMs:   int(60 * time.Second / time.Millisecond),
			BreakerCooldownMs: int(300 * time.Second / time.Millisecond),
			EntryRetentionMs:  int(time.Hour / time.Millisecond),
		},
		Logging: LoggingConfig{Level: "info", Format: "json"},
	}
}

// LoadFromFile reads and parses a YAML configuration file, overlaying it
// onto DefaultConfig. It also loads a .env file from the current working
// directory, if present, following the teacher's godotenv usage.
func LoadFromFile(path string) (*Config, error) {
	_ = godotenv.Load() // best-effort; absence of .env is not an error

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	return Parse(data)
}

// Parse parses YAML bytes into a Config, starting from defaults.
func Parse(data []byte) (*Config, error) {
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config YAML: %w", err)
	}
	return cfg, nil
}

// FindFile searches standard locations for a config file, mirroring
// loader.go's FindConfigFile.
func FindFile() string {
	candidates := []string{"rove.yaml", "rove.yml", "config/rove.yaml"}
	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// SaveToFile writes cfg as YAML to path, mirroring loader.go's
// SaveConfigToFile, used by `rove config init`.
func SaveToFile(cfg *Config, path string) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encoding config YAML: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}
	return nil
}
