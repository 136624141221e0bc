// Package config loads meshchat client settings from YAML with environment
// overrides.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Environment variables that override file settings.
const (
	EnvBaseURL   = "MESHCHAT_BASE_URL"
	EnvAgentID   = "MESHCHAT_AGENT_ID"
	EnvJWTSecret = "MESHCHAT_JWT_SECRET"
)

// Config holds all meshchat client configuration.
type Config struct {
	// Backend
	BaseURL   string          `yaml:"base_url"`
	AgentID   string          `yaml:"agent_id"`
	Endpoints EndpointsConfig `yaml:"endpoints"`

	// Orchestration
	MultiAgent          bool           `yaml:"multi_agent"`
	MaxConcurrentAgents int            `yaml:"max_concurrent_agents"`
	FailurePolicy       string         `yaml:"failure_policy"` // isolate, abort
	Timeouts            TimeoutsConfig `yaml:"timeouts"`

	Auth    AuthConfig    `yaml:"auth"`
	Logging LoggingConfig `yaml:"logging"`
}

// EndpointsConfig overrides the backend endpoint paths.
type EndpointsConfig struct {
	Stream string `yaml:"stream"`
	Route  string `yaml:"route"`
	Clear  string `yaml:"clear"`
}

// TimeoutsConfig holds durations in time.ParseDuration syntax. An empty or
// "0" value disables the timeout.
type TimeoutsConfig struct {
	Request string `yaml:"request"`
	Agent   string `yaml:"agent"`
	Turn    string `yaml:"turn"`
}

// AuthConfig enables bearer tokens when JWTSecret is set.
type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret"`
	Subject   string `yaml:"subject"`
	TokenTTL  string `yaml:"token_ttl"`
}

// LoggingConfig configures logging.
type LoggingConfig struct {
	Level   string `yaml:"level"`   // debug, info, warn, error
	Format  string `yaml:"format"`  // text, json
	Backend string `yaml:"backend"` // slog, zap
}

// Default returns a configuration pointing at a local backend.
func Default() *Config {
	return &Config{
		BaseURL: "http://localhost:8080",
		Endpoints: EndpointsConfig{
			Stream: "/api/chat/stream",
			Route:  "/api/chat/route",
			Clear:  "/api/chat/clear",
		},
		FailurePolicy: "isolate",
		Timeouts: TimeoutsConfig{
			Request: "60s",
			Agent:   "5m",
			Turn:    "10m",
		},
		Auth: AuthConfig{
			Subject:  "meshchat",
			TokenTTL: "5m",
		},
		Logging: LoggingConfig{
			Level:   "info",
			Format:  "text",
			Backend: "slog",
		},
	}
}

// Load reads path over the defaults and applies environment overrides. A
// missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case os.IsNotExist(err):
		case err != nil:
			return nil, fmt.Errorf("failed to read config: %w", err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config: %w", err)
			}
		}
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// Save writes the configuration as YAML.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

func (c *Config) applyEnvOverrides() {
	if v := os.Getenv(EnvBaseURL); v != "" {
		c.BaseURL = v
	}
	if v := os.Getenv(EnvAgentID); v != "" {
		c.AgentID = v
	}
	if v := os.Getenv(EnvJWTSecret); v != "" {
		c.Auth.JWTSecret = v
	}
}

// ValidFailurePolicies lists the accepted failure_policy values.
var ValidFailurePolicies = []string{"isolate", "abort"}

// Validate checks the configuration for values the client cannot use.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.BaseURL) == "" {
		return fmt.Errorf("base_url not configured (set %s)", EnvBaseURL)
	}
	if c.MaxConcurrentAgents < 0 {
		return fmt.Errorf("max_concurrent_agents must not be negative: %d", c.MaxConcurrentAgents)
	}

	valid := false
	for _, p := range ValidFailurePolicies {
		if strings.EqualFold(c.FailurePolicy, p) {
			valid = true
			break
		}
	}
	if !valid {
		return fmt.Errorf("invalid failure_policy: %s (valid: %v)", c.FailurePolicy, ValidFailurePolicies)
	}

	for name, v := range map[string]string{
		"timeouts.request": c.Timeouts.Request,
		"timeouts.agent":   c.Timeouts.Agent,
		"timeouts.turn":    c.Timeouts.Turn,
		"auth.token_ttl":   c.Auth.TokenTTL,
	} {
		if _, err := parseDuration(v); err != nil {
			return fmt.Errorf("invalid %s: %w", name, err)
		}
	}
	return nil
}

// RequestTimeout returns the route and clear call timeout.
func (c *Config) RequestTimeout() time.Duration { return mustDuration(c.Timeouts.Request) }

// AgentTimeout returns the per-agent stream timeout.
func (c *Config) AgentTimeout() time.Duration { return mustDuration(c.Timeouts.Agent) }

// TurnTimeout returns the whole-turn timeout.
func (c *Config) TurnTimeout() time.Duration { return mustDuration(c.Timeouts.Turn) }

// TokenTTL returns the bearer token lifetime.
func (c *Config) TokenTTL() time.Duration { return mustDuration(c.Auth.TokenTTL) }

// AuthEnabled reports whether requests carry bearer tokens.
func (c *Config) AuthEnabled() bool { return c.Auth.JWTSecret != "" }

func parseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" || s == "0" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, err
	}
	if d < 0 {
		return 0, fmt.Errorf("negative duration %q", s)
	}
	return d, nil
}

// mustDuration returns 0 for values Validate would reject.
func mustDuration(s string) time.Duration {
	d, err := parseDuration(s)
	if err != nil {
		return 0
	}
	return d
}
