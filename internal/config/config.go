package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config models flashflow.yml.
type Config struct {
	Defaults struct {
		ClaimTTLMinutes int `yaml:"claim_ttl_minutes"`
	} `yaml:"defaults"`
	// Admins may force custody transitions regardless of current holder.
	// Injected at startup so tests can substitute configurations without
	// process-wide side effects.
	Admins []string `yaml:"admins"`
	Auth   struct {
		JWTSecret string `yaml:"jwt_secret"`
		// AllowActorHeader accepts a bare X-Actor-Id header for
		// non-interactive and test callers. Keep this off in production.
		AllowActorHeader bool `yaml:"allow_actor_header"`
	} `yaml:"auth"`
	Notify struct {
		NtfyTopic      string `yaml:"ntfy_topic"`
		TimeoutSeconds int    `yaml:"timeout_seconds"`
	} `yaml:"notify"`
	Webhooks []WebhookConfig `yaml:"webhooks"`
}

type WebhookConfig struct {
	URL            string   `yaml:"url"`
	Events         []string `yaml:"events"`
	Secret         string   `yaml:"secret"`
	TimeoutSeconds int      `yaml:"timeout_seconds"`
	Enabled        *bool    `yaml:"enabled"`
}

// IsAdmin reports whether actorID is on the configured allowlist.
func (c *Config) IsAdmin(actorID string) bool {
	for _, id := range c.Admins {
		if id == actorID {
			return true
		}
	}
	return false
}

// ClaimTTLMinutes returns the configured default lease duration.
func (c *Config) ClaimTTLMinutes() int {
	return c.Defaults.ClaimTTLMinutes
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Defaults.ClaimTTLMinutes <= 0 {
		return fmt.Errorf("config.defaults.claim_ttl_minutes must be positive")
	}
	for _, id := range c.Admins {
		if id == "" {
			return fmt.Errorf("config.admins contains empty actor id")
		}
	}
	if c.Notify.TimeoutSeconds < 0 {
		return fmt.Errorf("config.notify.timeout_seconds must not be negative")
	}
	for i, hook := range c.Webhooks {
		if hook.URL == "" {
			return fmt.Errorf("config.webhooks[%d].url is required", i)
		}
		if hook.TimeoutSeconds < 0 {
			return fmt.Errorf("config.webhooks[%d].timeout_seconds must not be negative", i)
		}
	}
	return nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "flashflow.yml")
}

// Load reads and validates config from the workspace, falling back to
// defaults when no file exists.
func Load(workspace string) (*Config, error) {
	data, err := os.ReadFile(Path(workspace))
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Default returns the baseline configuration.
func Default() *Config {
	var cfg Config
	cfg.Defaults.ClaimTTLMinutes = 120
	cfg.Notify.TimeoutSeconds = 10
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes. Fields absent
// from the document keep their defaults.
func FromYAML(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}
