// ABOUTME: Configuration loading and parsing for the chart client.
// ABOUTME: Supports YAML files with environment variable expansion and duration parsing.

package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete client configuration.
type Config struct {
	Agent    AgentConfig    `yaml:"agent"`
	Sessions SessionsConfig `yaml:"sessions"`
	Local    LocalConfig    `yaml:"local"`
	Pipeline PipelineConfig `yaml:"pipeline"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// AgentConfig holds the agent endpoint configuration.
type AgentConfig struct {
	BaseURL    string `yaml:"base_url"`
	Token      string `yaml:"token"`
	TopK       int    `yaml:"top_k"`
	RerankTopK int    `yaml:"rerank_top_k"`

	TurnTimeout   time.Duration `yaml:"-"`
	HealthTimeout time.Duration `yaml:"-"`

	// Raw string values for YAML unmarshaling
	TurnTimeoutRaw   string `yaml:"turn_timeout"`
	HealthTimeoutRaw string `yaml:"health_timeout"`
}

// SessionsConfig holds the session directory configuration.
type SessionsConfig struct {
	BaseURL      string `yaml:"base_url"`
	MaxPerUser   int    `yaml:"max_per_user"`
	HistoryLimit int    `yaml:"history_limit"`
}

// LocalConfig holds local state configuration.
type LocalConfig struct {
	Path string `yaml:"path"`
}

// PipelineConfig holds pipeline display configuration.
type PipelineConfig struct {
	// PhrasesPath optionally overrides the embedded stage phrase table.
	PhrasesPath string `yaml:"phrases_path"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text or json
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	expandedData := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment
// variable values. If the environment variable is not set, it is replaced with
// an empty string.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Agent.BaseURL == "" {
		return fmt.Errorf("agent.base_url is required")
	}
	if c.Sessions.BaseURL == "" {
		return fmt.Errorf("sessions.base_url is required")
	}
	if c.Sessions.MaxPerUser < 0 {
		return fmt.Errorf("sessions.max_per_user must not be negative")
	}
	return nil
}

// parseDurations converts the raw duration strings into time.Duration values.
func parseDurations(cfg *Config) error {
	var err error

	if cfg.Agent.TurnTimeoutRaw != "" {
		cfg.Agent.TurnTimeout, err = time.ParseDuration(cfg.Agent.TurnTimeoutRaw)
		if err != nil {
			return fmt.Errorf("parsing turn_timeout %q: %w", cfg.Agent.TurnTimeoutRaw, err)
		}
	}

	if cfg.Agent.HealthTimeoutRaw != "" {
		cfg.Agent.HealthTimeout, err = time.ParseDuration(cfg.Agent.HealthTimeoutRaw)
		if err != nil {
			return fmt.Errorf("parsing health_timeout %q: %w", cfg.Agent.HealthTimeoutRaw, err)
		}
	}

	return nil
}
