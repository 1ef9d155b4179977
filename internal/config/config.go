// Package config loads the daemon's YAML configuration and applies defaults.
// Secrets (API key, state-store secret) can be supplied through the
// environment so they stay out of the file.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"NamePilot/pkg/logger"
)

// Duration is a time.Duration that unmarshals from YAML strings like "30s".
type Duration time.Duration

// UnmarshalYAML accepts either a duration string or integer nanoseconds.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err == nil {
		parsed, err := time.ParseDuration(raw)
		if err != nil {
			return fmt.Errorf("parse duration %q: %w", raw, err)
		}
		*d = Duration(parsed)
		return nil
	}
	var ns int64
	if err := value.Decode(&ns); err != nil {
		return fmt.Errorf("parse duration: %w", err)
	}
	*d = Duration(ns)
	return nil
}

// Std converts to the standard library type.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Config is the root configuration for the daemon.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Logger  logger.Config `yaml:"logger"`
	Redis   RedisConfig   `yaml:"redis"`
	MySQL   MySQLConfig   `yaml:"mysql"`
	LLM     LLMConfig     `yaml:"llm"`
	Chains  ChainsConfig  `yaml:"chains"`
	Agent   AgentConfig   `yaml:"agent"`
	State   StateConfig   `yaml:"state"`
	Chat    ChatConfig    `yaml:"chat"`
	Alerts  AlertsConfig  `yaml:"alerts"`
	Metrics MetricsConfig `yaml:"metrics"`
}

// ServerConfig controls the API listener.
type ServerConfig struct {
	Address string `yaml:"address"`
}

// RedisConfig locates the state-store backend.
type RedisConfig struct {
	Address  string `yaml:"address"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// MySQLConfig locates the operation archive. An empty DSN selects the
// in-memory archive.
type MySQLConfig struct {
	DSN string `yaml:"dsn"`
}

// LLMConfig configures the model client.
type LLMConfig struct {
	APIKey         string   `yaml:"api_key"`
	BaseURL        string   `yaml:"base_url"`
	Model          string   `yaml:"model"`
	MaxTokens      int      `yaml:"max_tokens"`
	Timeout        Duration `yaml:"timeout"`
	CostPerMInput  float64  `yaml:"cost_per_m_input"`
	CostPerMOutput float64  `yaml:"cost_per_m_output"`
}

// ChainsConfig points at the chain definitions file.
type ChainsConfig struct {
	DefinitionsPath string `yaml:"definitions_path"`
}

// AgentConfig holds the turn-loop knobs.
type AgentConfig struct {
	MaxTurns      int    `yaml:"max_turns"`
	MessageWindow int    `yaml:"message_window"`
	SystemPrompt  string `yaml:"system_prompt"`
}

// StateConfig holds the signed-store parameters. Secret is overridden by
// NAMEPILOT_STATE_SECRET when set.
type StateConfig struct {
	Secret string `yaml:"secret"`
}

// ChatConfig locates the chat platform's outbound webhook.
type ChatConfig struct {
	WebhookURL string   `yaml:"webhook_url"`
	Timeout    Duration `yaml:"timeout"`
}

// AlertsConfig selects optional notification channels.
type AlertsConfig struct {
	SlackChannelID string `yaml:"slack_channel_id"`
}

// MetricsConfig controls the optional standalone metrics listener. When the
// address is empty, metrics are only served on the API listener.
type MetricsConfig struct {
	Address string `yaml:"address"`
}

// Load parses the YAML file at path.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(content, &cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	cfg.applyDefaults(filepath.Dir(path))
	cfg.applyEnvironment()
	return &cfg, nil
}

func (c *Config) applyDefaults(baseDir string) {
	if c.Server.Address == "" {
		c.Server.Address = ":8080"
	}
	if c.Redis.Address == "" {
		c.Redis.Address = "127.0.0.1:6379"
	}
	if c.Chains.DefinitionsPath == "" {
		c.Chains.DefinitionsPath = filepath.Join(baseDir, "chains.yaml")
	} else if !filepath.IsAbs(c.Chains.DefinitionsPath) {
		c.Chains.DefinitionsPath = filepath.Join(baseDir, c.Chains.DefinitionsPath)
	}
	if c.Agent.MaxTurns <= 0 {
		c.Agent.MaxTurns = 25
	}
	if c.Agent.MessageWindow <= 0 {
		c.Agent.MessageWindow = 10
	}
}

func (c *Config) applyEnvironment() {
	if v := os.Getenv("NAMEPILOT_STATE_SECRET"); v != "" {
		c.State.Secret = v
	}
	if v := os.Getenv("NAMEPILOT_LLM_API_KEY"); v != "" {
		c.LLM.APIKey = v
	}
	if v := os.Getenv("NAMEPILOT_REDIS_PASSWORD"); v != "" {
		c.Redis.Password = v
	}
	if v := os.Getenv("NAMEPILOT_MYSQL_DSN"); v != "" {
		c.MySQL.DSN = v
	}
}
