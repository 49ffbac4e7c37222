// ABOUTME: Tests for configuration loading and parsing
// ABOUTME: Covers YAML and TOML loading, env var expansion, defaults and validation

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return path
}

func TestLoad_ValidConfig(t *testing.T) {
	configPath := writeConfig(t, "config.yaml", `
server:
  http_addr: "0.0.0.0:8000"
  static_dir: "./dist"
  allowed_origins:
    - "http://localhost:5173"

database:
  path: "./test.db"
  driver: "sqlite3"

reports:
  dir: "./reports"

engine:
  provider: "openai"
  timeout: "15m"
  research_model:
    name: "gpt-4.1-mini"
    base_url: "http://localhost:11434/v1"
    max_tokens: 4096
  final_report_model:
    name: "gpt-4.1"

sessions:
  token_buffer_size: 500
  write_timeout: "5s"
  max_frames_per_second: 2.5

workers:
  pool_size: 4

logging:
  level: "debug"
  format: "json"

metrics:
  enabled: true
  path: "/metrics"
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.HTTPAddr != "0.0.0.0:8000" {
		t.Errorf("Server.HTTPAddr = %q, want %q", cfg.Server.HTTPAddr, "0.0.0.0:8000")
	}
	if cfg.Server.StaticDir != "./dist" {
		t.Errorf("Server.StaticDir = %q, want %q", cfg.Server.StaticDir, "./dist")
	}
	if len(cfg.Server.AllowedOrigins) != 1 || cfg.Server.AllowedOrigins[0] != "http://localhost:5173" {
		t.Errorf("Server.AllowedOrigins = %v", cfg.Server.AllowedOrigins)
	}
	if cfg.Database.Path != "./test.db" || cfg.Database.Driver != "sqlite3" {
		t.Errorf("Database = %+v", cfg.Database)
	}
	if cfg.Reports.Dir != "./reports" {
		t.Errorf("Reports.Dir = %q, want %q", cfg.Reports.Dir, "./reports")
	}

	if cfg.Engine.Provider != ProviderOpenAI {
		t.Errorf("Engine.Provider = %q, want %q", cfg.Engine.Provider, ProviderOpenAI)
	}
	if cfg.Engine.Timeout != 15*time.Minute {
		t.Errorf("Engine.Timeout = %v, want %v", cfg.Engine.Timeout, 15*time.Minute)
	}
	if cfg.Engine.ResearchModel.MaxTokens != 4096 {
		t.Errorf("ResearchModel.MaxTokens = %d, want 4096", cfg.Engine.ResearchModel.MaxTokens)
	}
	// Unset fields in a nested section keep their defaults
	if cfg.Engine.FinalReportModel.MaxTokens != 16384 {
		t.Errorf("FinalReportModel.MaxTokens = %d, want 16384", cfg.Engine.FinalReportModel.MaxTokens)
	}

	if cfg.Sessions.TokenBufferSize != 500 {
		t.Errorf("Sessions.TokenBufferSize = %d, want 500", cfg.Sessions.TokenBufferSize)
	}
	if cfg.Sessions.WriteQueueSize != 256 {
		t.Errorf("Sessions.WriteQueueSize = %d, want default 256", cfg.Sessions.WriteQueueSize)
	}
	if cfg.Sessions.WriteTimeout != 5*time.Second {
		t.Errorf("Sessions.WriteTimeout = %v, want 5s", cfg.Sessions.WriteTimeout)
	}
	if cfg.Sessions.MaxFramesPerSecond != 2.5 {
		t.Errorf("Sessions.MaxFramesPerSecond = %v, want 2.5", cfg.Sessions.MaxFramesPerSecond)
	}
	if cfg.Workers.PoolSize != 4 {
		t.Errorf("Workers.PoolSize = %d, want 4", cfg.Workers.PoolSize)
	}
	if cfg.Logging.Level != "debug" || cfg.Logging.Format != "json" {
		t.Errorf("Logging = %+v", cfg.Logging)
	}
	if !cfg.Metrics.Enabled || cfg.Metrics.Path != "/metrics" {
		t.Errorf("Metrics = %+v", cfg.Metrics)
	}
}

func TestLoad_TOML(t *testing.T) {
	configPath := writeConfig(t, "gateway.toml", `
[server]
http_addr = "127.0.0.1:9000"

[engine]
provider = "fake"
timeout = "30s"

[sessions]
token_buffer_size = 64
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.HTTPAddr != "127.0.0.1:9000" {
		t.Errorf("Server.HTTPAddr = %q", cfg.Server.HTTPAddr)
	}
	if cfg.Engine.Timeout != 30*time.Second {
		t.Errorf("Engine.Timeout = %v, want 30s", cfg.Engine.Timeout)
	}
	if cfg.Sessions.TokenBufferSize != 64 {
		t.Errorf("Sessions.TokenBufferSize = %d, want 64", cfg.Sessions.TokenBufferSize)
	}
	if cfg.Database.Path != "research_chats.db" {
		t.Errorf("Database.Path = %q, want default", cfg.Database.Path)
	}
}

func TestLoad_EmptyFileUsesDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "config.yaml", ""))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	def := Defaults()
	if cfg.Server.HTTPAddr != def.Server.HTTPAddr {
		t.Errorf("Server.HTTPAddr = %q, want %q", cfg.Server.HTTPAddr, def.Server.HTTPAddr)
	}
	if cfg.Engine.Provider != ProviderFake {
		t.Errorf("Engine.Provider = %q, want fake", cfg.Engine.Provider)
	}
	if cfg.Engine.Timeout != 0 {
		t.Errorf("Engine.Timeout = %v, want 0", cfg.Engine.Timeout)
	}
	if cfg.Sessions.WriteTimeout != 10*time.Second {
		t.Errorf("Sessions.WriteTimeout = %v, want 10s", cfg.Sessions.WriteTimeout)
	}
}

func TestLoad_EnvVarExpansion(t *testing.T) {
	t.Setenv("TEST_OPENAI_KEY", "sk-test-123")
	t.Setenv("TEST_DB_PATH", "/tmp/research.db")

	cfg, err := Load(writeConfig(t, "config.yaml", `
database:
  path: "${TEST_DB_PATH}"
engine:
  provider: openai
  research_model:
    name: gpt-4.1
    api_key: "${TEST_OPENAI_KEY}"
    base_url: "${TEST_UNSET_VARIABLE_XYZ}"
`))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Engine.ResearchModel.APIKey != "sk-test-123" {
		t.Errorf("APIKey = %q, want %q", cfg.Engine.ResearchModel.APIKey, "sk-test-123")
	}
	if cfg.Database.Path != "/tmp/research.db" {
		t.Errorf("Database.Path = %q", cfg.Database.Path)
	}
	if cfg.Engine.ResearchModel.BaseURL != "" {
		t.Errorf("BaseURL = %q, want empty for unset variable", cfg.Engine.ResearchModel.BaseURL)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv(EnvDBPath, "/data/override.db")
	t.Setenv(EnvReportsDir, "/data/reports")

	cfg, err := Load(writeConfig(t, "config.yaml", "database:\n  path: file.db\n"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Database.Path != "/data/override.db" {
		t.Errorf("Database.Path = %q, want override", cfg.Database.Path)
	}
	if cfg.Reports.Dir != "/data/reports" {
		t.Errorf("Reports.Dir = %q, want override", cfg.Reports.Dir)
	}
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{"invalid yaml", "server: [unclosed", "parsing config file"},
		{"bad duration", "engine:\n  timeout: soon\n", "parsing engine.timeout"},
		{"bad write timeout", "sessions:\n  write_timeout: 5 parsecs\n", "parsing sessions.write_timeout"},
		{"unknown provider", "engine:\n  provider: llama\n", "engine.provider"},
		{"openai without model", "engine:\n  provider: openai\n", "engine.research_model.name"},
		{"bad driver", "database:\n  driver: postgres\n", "database.driver"},
		{"zero pool", "workers:\n  pool_size: 0\n", "workers.pool_size"},
		{"zero token buffer", "sessions:\n  token_buffer_size: 0\n", "sessions.token_buffer_size"},
		{"bad log level", "logging:\n  level: loud\n", "logging.level"},
		{"bad metrics path", "metrics:\n  enabled: true\n  path: metrics\n", "metrics.path"},
		{"tailscale without hostname", "tailscale:\n  enabled: true\n  hostname: \"\"\n", "tailscale.hostname"},
		{"no address", "server:\n  http_addr: \"\"\n", "server.http_addr"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, "config.yaml", tt.content))
			if err == nil {
				t.Fatal("Load() expected error, got nil")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Load() error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err == nil || !strings.Contains(err.Error(), "reading config file") {
		t.Errorf("Load() error = %v, want reading error", err)
	}
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := LoadDefaults()
	if err != nil {
		t.Fatalf("LoadDefaults() error = %v", err)
	}
	if cfg.Workers.PoolSize != 8 {
		t.Errorf("Workers.PoolSize = %d, want 8", cfg.Workers.PoolSize)
	}
}

func TestResolvePath(t *testing.T) {
	t.Setenv(EnvConfigPath, "")
	t.Setenv("XDG_CONFIG_HOME", "/xdg")

	if got := ResolvePath("/explicit.yaml"); got != "/explicit.yaml" {
		t.Errorf("ResolvePath(flag) = %q", got)
	}
	if got := ResolvePath(""); got != filepath.Join("/xdg", "research-gateway", "gateway.yaml") {
		t.Errorf("ResolvePath(xdg) = %q", got)
	}

	t.Setenv(EnvConfigPath, "/from/env.toml")
	if got := ResolvePath(""); got != "/from/env.toml" {
		t.Errorf("ResolvePath(env) = %q", got)
	}
}
