// ABOUTME: Tests for CLI helpers: engine selection, config fallback and transcript previews
// ABOUTME: The chats command is exercised against an httptest gateway

package main

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/research-gateway/internal/config"
	"github.com/2389/research-gateway/internal/engine/fake"
	"github.com/2389/research-gateway/internal/engine/openai"
	"github.com/2389/research-gateway/internal/gateway"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestPreview(t *testing.T) {
	assert.Equal(t, "short text", preview("short\n  text"))

	long := strings.Repeat("é", previewRunes+10)
	got := preview(long)
	assert.True(t, strings.HasSuffix(got, "..."))
	assert.Equal(t, previewRunes+3, len([]rune(got)))
}

func TestNewEngine(t *testing.T) {
	eng, err := newEngine(config.EngineConfig{Provider: config.ProviderFake}, discardLogger())
	require.NoError(t, err)
	assert.IsType(t, &fake.Engine{}, eng)

	eng, err = newEngine(config.EngineConfig{
		Provider:      config.ProviderOpenAI,
		ResearchModel: config.ModelConfig{Name: "gpt-4o-mini", APIKey: "test"},
	}, discardLogger())
	require.NoError(t, err)
	assert.IsType(t, &openai.Engine{}, eng)

	_, err = newEngine(config.EngineConfig{Provider: config.ProviderOpenAI}, discardLogger())
	assert.Error(t, err)

	_, err = newEngine(config.EngineConfig{Provider: "carrier-pigeon"}, discardLogger())
	assert.Error(t, err)
}

func TestLoadConfigFallsBackToDefaults(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv(config.EnvConfigPath, "")
	configPath = ""

	cfg, path, err := loadConfig()
	require.NoError(t, err)
	assert.Equal(t, "(defaults)", path)
	assert.Equal(t, config.Defaults().Server.HTTPAddr, cfg.Server.HTTPAddr)
}

func TestLoadConfigExplicitPathMustExist(t *testing.T) {
	configPath = filepath.Join(t.TempDir(), "missing.yaml")
	t.Cleanup(func() { configPath = "" })

	_, _, err := loadConfig()
	assert.Error(t, err)
}

func TestLoadConfigFromFlag(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gateway.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  http_addr: \"127.0.0.1:9123\"\n"), 0644))
	configPath = path
	t.Cleanup(func() { configPath = "" })

	cfg, got, err := loadConfig()
	require.NoError(t, err)
	assert.Equal(t, path, got)
	assert.Equal(t, "127.0.0.1:9123", cfg.Server.HTTPAddr)
}

func TestSetupLoggerLevels(t *testing.T) {
	logger := setupLogger(config.LoggingConfig{Level: "warn", Format: "text"})
	t.Cleanup(func() { slog.SetDefault(discardLogger()) })

	ctx := context.Background()
	assert.False(t, logger.Enabled(ctx, slog.LevelInfo))
	assert.True(t, logger.Enabled(ctx, slog.LevelWarn))

	grouped := logger.Handler().WithGroup("run").WithAttrs([]slog.Attr{slog.String("id", "1")})
	assert.True(t, grouped.Enabled(ctx, slog.LevelError))
}

func TestPrintChatsAndTranscript(t *testing.T) {
	cfg := config.Defaults()
	cfg.Database.Path = ":memory:"
	cfg.Reports.Dir = t.TempDir()
	gw, err := gateway.New(cfg, &fake.Engine{}, discardLogger())
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = gw.Shutdown(ctx)
	})
	srv := httptest.NewServer(gw.Handler())
	t.Cleanup(srv.Close)

	var out bytes.Buffer
	require.NoError(t, printChats(context.Background(), &out, srv.URL))
	assert.Equal(t, "no chats\n", out.String())

	out.Reset()
	require.NoError(t, printTranscript(context.Background(), &out, srv.URL, "unknown"))
	assert.Equal(t, "no messages\n", out.String())

	resp, err := http.Post(srv.URL+"/api/chats", "application/json", strings.NewReader(`{"title":"Tidal power"}`))
	require.NoError(t, err)
	resp.Body.Close()

	out.Reset()
	require.NoError(t, printChats(context.Background(), &out, srv.URL))
	assert.Contains(t, out.String(), "Tidal power")
	assert.Contains(t, out.String(), "no messages")
}
