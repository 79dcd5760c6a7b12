package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/stealthfetch/internal/config"
)

func loadDefaults(t *testing.T) *config.Config {
	t.Helper()
	cfg, err := config.Load("")
	require.NoError(t, err)
	return &cfg
}

func TestNewAppRequiresConfig(t *testing.T) {
	_, err := NewApp(nil, zap.NewNop())
	require.Error(t, err)
}

func TestBuildWithDefaults(t *testing.T) {
	cfg := loadDefaults(t)

	app, err := BuildWithLogger(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	require.Nil(t, app.pubsubClient)

	rr := httptest.NewRecorder()
	app.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	require.Contains(t, rr.Body.String(), `"status":"ok"`)

	rr = httptest.NewRecorder()
	app.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/html", strings.NewReader(`{}`)))
	require.Equal(t, http.StatusBadRequest, rr.Code)

	require.NoError(t, app.Close(context.Background()))
}

func TestBuildWiresOptionalComponents(t *testing.T) {
	cfg := loadDefaults(t)
	cfg.Browser.Engine = config.EngineRod
	cfg.Proxy.Enabled = true
	cfg.Proxy.Addresses = []string{"http://p1:8080"}
	cfg.Behavior.Enabled = true
	cfg.RateLimit.PerHostRPS = 2
	cfg.Notify.Backend = config.NotifyMemory
	cfg.Auth.Enabled = true
	cfg.Auth.APIKey = "secret"

	app, err := BuildWithLogger(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)

	rr := httptest.NewRecorder()
	app.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/captchas", nil))
	require.Equal(t, http.StatusUnauthorized, rr.Code)

	require.NoError(t, app.Close(context.Background()))
}

func TestBuildRejectsBadScreenshotMode(t *testing.T) {
	cfg := loadDefaults(t)
	cfg.Fetch.ChallengeScreenshot = "thumbnail"

	_, err := BuildWithLogger(context.Background(), cfg, zap.NewNop())
	require.Error(t, err)
}

func TestProxyOverrideEnablesProxyingByDefault(t *testing.T) {
	cfg := loadDefaults(t)
	cfg.Proxy.Override = "http://global:3128"

	app, err := BuildWithLogger(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	require.NotNil(t, app.Handler())
	require.NoError(t, app.Close(context.Background()))
}
