// ABOUTME: Shared test harness for gateway tests plus health, readiness and metrics checks
// ABOUTME: Builds a Gateway on an in-memory database and a temporary report archive

package gateway

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/research-gateway/internal/config"
	"github.com/2389/research-gateway/internal/engine"
	"github.com/2389/research-gateway/internal/engine/fake"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Defaults()
	cfg.Database.Path = ":memory:"
	cfg.Reports.Dir = t.TempDir()
	cfg.Sessions.WriteTimeout = 5 * time.Second
	return cfg
}

func newTestGateway(t *testing.T, cfg *config.Config, eng engine.Engine) *Gateway {
	t.Helper()
	if cfg == nil {
		cfg = testConfig(t)
	}
	if eng == nil {
		eng = &fake.Engine{}
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	gw, err := New(cfg, eng, logger)
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = gw.Shutdown(ctx)
	})
	return gw
}

func do(t *testing.T, gw *Gateway, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	gw.Handler().ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	gw := newTestGateway(t, nil, nil)

	rec := do(t, gw, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OK", rec.Body.String())
}

func TestReady(t *testing.T) {
	gw := newTestGateway(t, nil, nil)

	rec := do(t, gw, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ready (0 sessions)", rec.Body.String())
}

func TestReadyStoreClosed(t *testing.T) {
	gw := newTestGateway(t, nil, nil)
	require.NoError(t, gw.store.Close())

	rec := do(t, gw, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "store unavailable", rec.Body.String())
}

func TestMetricsEndpoint(t *testing.T) {
	gw := newTestGateway(t, nil, nil)

	rec := do(t, gw, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "research_gateway_sessions_active")
}

func TestMetricsDisabled(t *testing.T) {
	cfg := testConfig(t)
	cfg.Metrics.Enabled = false
	gw := newTestGateway(t, cfg, nil)

	rec := do(t, gw, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestStaticDir(t *testing.T) {
	cfg := testConfig(t)
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "index.html"), []byte("<h1>research</h1>"), 0644))
	cfg.Server.StaticDir = dir
	gw := newTestGateway(t, cfg, nil)

	rec := do(t, gw, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "<h1>research</h1>")
}

func TestAppendCloseError(t *testing.T) {
	var errs []error
	errs = appendCloseError(errs, "a", nil)
	assert.Empty(t, errs)
	errs = appendCloseError(errs, "b", io.ErrUnexpectedEOF)
	require.Len(t, errs, 1)
	assert.ErrorIs(t, errs[0], io.ErrUnexpectedEOF)
	assert.Contains(t, errs[0].Error(), "b")
}

func TestResolveTailscaleStateDir(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	tests := []struct {
		name       string
		configured string
		want       string
	}{
		{"explicit", "/var/lib/gateway/ts", "/var/lib/gateway/ts"},
		{"default under home", "", filepath.Join(home, ".local", "share", "research-gateway", "tailscale")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := resolveTailscaleStateDir(tt.configured)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestResolveTailscaleAuthKey(t *testing.T) {
	tests := []struct {
		name       string
		configured string
		env        string
		want       string
		wantErr    bool
	}{
		{name: "explicit wins over env", configured: "tskey-config", env: "tskey-env", want: "tskey-config"},
		{name: "env fallback", env: "tskey-env", want: "tskey-env"},
		{name: "missing", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("TS_AUTHKEY", tt.env)
			got, err := resolveTailscaleAuthKey(tt.configured)
			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), "TS_AUTHKEY")
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
