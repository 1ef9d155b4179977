package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "namepilot.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, "llm:\n  model: claude-sonnet-4-20250514\n")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Address != ":8080" {
		t.Errorf("server address = %q, want :8080", cfg.Server.Address)
	}
	if cfg.Redis.Address != "127.0.0.1:6379" {
		t.Errorf("redis address = %q", cfg.Redis.Address)
	}
	if cfg.Agent.MaxTurns != 25 || cfg.Agent.MessageWindow != 10 {
		t.Errorf("agent defaults = %d/%d", cfg.Agent.MaxTurns, cfg.Agent.MessageWindow)
	}
	want := filepath.Join(filepath.Dir(path), "chains.yaml")
	if cfg.Chains.DefinitionsPath != want {
		t.Errorf("chains path = %q, want %q", cfg.Chains.DefinitionsPath, want)
	}
}

func TestLoadParsesValues(t *testing.T) {
	path := writeConfig(t, `
server:
  address: ":9090"
llm:
  api_key: file-key
  timeout: 30s
  cost_per_m_input: 1.5
state:
  secret: file-secret
chat:
  webhook_url: https://chat.example/hook
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Address != ":9090" {
		t.Errorf("server address = %q", cfg.Server.Address)
	}
	if cfg.LLM.Timeout.Std() != 30*time.Second {
		t.Errorf("llm timeout = %v", cfg.LLM.Timeout)
	}
	if cfg.LLM.CostPerMInput != 1.5 {
		t.Errorf("cost per m input = %v", cfg.LLM.CostPerMInput)
	}
	if cfg.Chat.WebhookURL != "https://chat.example/hook" {
		t.Errorf("webhook url = %q", cfg.Chat.WebhookURL)
	}
}

func TestEnvironmentOverridesFile(t *testing.T) {
	path := writeConfig(t, "state:\n  secret: file-secret\nllm:\n  api_key: file-key\n")

	t.Setenv("NAMEPILOT_STATE_SECRET", "env-secret")
	t.Setenv("NAMEPILOT_LLM_API_KEY", "env-key")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.State.Secret != "env-secret" {
		t.Errorf("state secret = %q, want env override", cfg.State.Secret)
	}
	if cfg.LLM.APIKey != "env-key" {
		t.Errorf("llm api key = %q, want env override", cfg.LLM.APIKey)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}
