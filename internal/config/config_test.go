// ABOUTME: Tests for configuration loading and parsing.
// ABOUTME: Covers YAML loading, env var expansion, duration parsing, and validation.

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "chartclient.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("writing config: %v", err)
	}
	return path
}

func TestLoad_ValidConfig(t *testing.T) {
	path := writeConfig(t, `
agent:
  base_url: "http://localhost:8090"
  turn_timeout: "30m"
  health_timeout: "3s"
  top_k: 20
  rerank_top_k: 5
sessions:
  base_url: "http://localhost:8091"
  max_per_user: 10
  history_limit: 50
local:
  path: "/tmp/chartclient/state.db"
logging:
  level: "debug"
  format: "json"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Agent.BaseURL != "http://localhost:8090" {
		t.Errorf("agent.base_url = %q", cfg.Agent.BaseURL)
	}
	if cfg.Agent.TurnTimeout != 30*time.Minute {
		t.Errorf("turn_timeout = %v, want 30m", cfg.Agent.TurnTimeout)
	}
	if cfg.Agent.HealthTimeout != 3*time.Second {
		t.Errorf("health_timeout = %v, want 3s", cfg.Agent.HealthTimeout)
	}
	if cfg.Agent.TopK != 20 || cfg.Agent.RerankTopK != 5 {
		t.Errorf("retrieval counts = %d/%d, want 20/5", cfg.Agent.TopK, cfg.Agent.RerankTopK)
	}
	if cfg.Sessions.MaxPerUser != 10 {
		t.Errorf("max_per_user = %d, want 10", cfg.Sessions.MaxPerUser)
	}
	if cfg.Logging.Level != "debug" || cfg.Logging.Format != "json" {
		t.Errorf("logging = %q/%q", cfg.Logging.Level, cfg.Logging.Format)
	}
}

func TestLoad_EnvVarExpansion(t *testing.T) {
	t.Setenv("CHART_AGENT_URL", "http://agent.internal:8090")
	t.Setenv("CHART_TOKEN", "secret-token")

	path := writeConfig(t, `
agent:
  base_url: "${CHART_AGENT_URL}"
  token: "${CHART_TOKEN}"
sessions:
  base_url: "http://localhost:8091"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Agent.BaseURL != "http://agent.internal:8090" {
		t.Errorf("base_url = %q, env var not expanded", cfg.Agent.BaseURL)
	}
	if cfg.Agent.Token != "secret-token" {
		t.Errorf("token = %q, env var not expanded", cfg.Agent.Token)
	}
}

func TestLoad_UnsetEnvVarBecomesEmpty(t *testing.T) {
	path := writeConfig(t, `
agent:
  base_url: "http://localhost:8090"
  token: "${CHART_DEFINITELY_UNSET_VAR}"
sessions:
  base_url: "http://localhost:8091"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Agent.Token != "" {
		t.Errorf("token = %q, want empty for unset env var", cfg.Agent.Token)
	}
}

func TestLoad_InvalidDuration(t *testing.T) {
	path := writeConfig(t, `
agent:
  base_url: "http://localhost:8090"
  turn_timeout: "half an hour"
sessions:
  base_url: "http://localhost:8091"
`)

	_, err := Load(path)
	if err == nil {
		t.Fatal("expected error for invalid duration")
	}
	if !strings.Contains(err.Error(), "turn_timeout") {
		t.Errorf("error %q does not name the bad field", err)
	}
}

func TestLoad_MissingAgentURL(t *testing.T) {
	path := writeConfig(t, `
sessions:
  base_url: "http://localhost:8091"
`)

	_, err := Load(path)
	if err == nil || !strings.Contains(err.Error(), "agent.base_url") {
		t.Fatalf("expected agent.base_url validation error, got %v", err)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err == nil {
		t.Fatal("expected error for missing file")
	}
}
