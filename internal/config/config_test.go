package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/stealthfetch/internal/fetch"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	require.Equal(t, 8080, cfg.Server.Port)
	require.Equal(t, int64(5<<20), cfg.Server.MaxBodyBytes)
	require.Equal(t, EngineChromedp, cfg.Browser.Engine)
	require.True(t, cfg.Browser.DefaultHeadless)
	require.Equal(t, 45*time.Second, cfg.Browser.NavigationTimeout())
	require.Equal(t, 2, cfg.Fetch.Retries)
	require.Equal(t, 15*time.Second, cfg.Fetch.SelectorTimeout())
	lo, hi := cfg.Fetch.Backoff()
	require.Equal(t, 500*time.Millisecond, lo)
	require.Equal(t, 1500*time.Millisecond, hi)
	require.Equal(t, 24*time.Hour, cfg.Captcha.Retention())
	require.Equal(t, time.Hour, cfg.Captcha.SweepInterval())
	require.Equal(t, NotifyNone, cfg.Notify.Backend)
	require.False(t, cfg.Auth.Enabled)
}

func TestLoadWithFileOverrides(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	configYAML := `
server:
  port: 9090
  max_body_bytes: 1024
auth:
  enabled: true
  api_key: secret
browser:
  engine: rod
  default_headless: false
  max_sessions: 8
  viewports:
    - width: 1280
      height: 720
  user_agents: ["agent-a", "agent-b"]
fetch:
  retries: 4
  challenge_screenshot: full
  backoff_min_ms: 100
  backoff_max_ms: 200
proxy:
  enabled: true
  addresses: ["http://p1:8080", " ", "http://p2:8080"]
detector:
  keywords: ["blocked"]
captcha:
  retention_hours: 6
notify:
  backend: pubsub
  project_id: proj
  topic: captchas
logging:
  development: true
  level: debug
`
	require.NoError(t, os.WriteFile(path, []byte(configYAML), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	require.Equal(t, 9090, cfg.Server.Port)
	require.Equal(t, int64(1024), cfg.Server.MaxBodyBytes)
	require.True(t, cfg.Auth.Enabled)
	require.Equal(t, "secret", cfg.Auth.APIKey)
	require.Equal(t, EngineRod, cfg.Browser.Engine)
	require.False(t, cfg.Browser.DefaultHeadless)
	require.Equal(t, 8, cfg.Browser.MaxSessions)
	require.Equal(t, []fetch.Viewport{{Width: 1280, Height: 720}}, cfg.Browser.Viewports)
	require.Equal(t, []string{"agent-a", "agent-b"}, cfg.Browser.UserAgents)
	require.Equal(t, 4, cfg.Fetch.Retries)
	require.Equal(t, "full", cfg.Fetch.ChallengeScreenshot)
	require.Equal(t, []string{"http://p1:8080", "http://p2:8080"}, cfg.Proxy.Addresses)
	require.Equal(t, []string{"blocked"}, cfg.Detector.Keywords)
	require.Equal(t, 6*time.Hour, cfg.Captcha.Retention())
	require.Equal(t, NotifyPubSub, cfg.Notify.Backend)
	require.True(t, cfg.Logging.Development)
	require.Equal(t, "debug", cfg.Logging.Level)
}

func TestLoadEnvAliases(t *testing.T) {
	t.Setenv("PORT", "7070")
	t.Setenv("PROXY", "http://global:3128")
	t.Setenv("BROWSER_EXEC_PATH", "/opt/chrome/chrome")
	t.Setenv("DEFAULT_HEADLESS", "false")
	t.Setenv("AUTH_TOKEN", "token-123")
	t.Setenv("MAX_BODY_BYTES", "2048")
	t.Setenv("STEALTHFETCH_FETCH_RETRIES", "5")

	cfg, err := Load("")
	require.NoError(t, err)

	require.Equal(t, 7070, cfg.Server.Port)
	require.Equal(t, "http://global:3128", cfg.Proxy.Override)
	require.Equal(t, "/opt/chrome/chrome", cfg.Browser.ExecPath)
	require.False(t, cfg.Browser.DefaultHeadless)
	require.Equal(t, "token-123", cfg.Auth.APIKey)
	require.True(t, cfg.Auth.Enabled, "an auth token enables auth unless explicitly disabled")
	require.Equal(t, int64(2048), cfg.Server.MaxBodyBytes)
	require.Equal(t, 5, cfg.Fetch.Retries)
}

func TestLoadPrefixedEnvBeatsAlias(t *testing.T) {
	t.Setenv("PORT", "7070")
	t.Setenv("STEALTHFETCH_SERVER_PORT", "6060")

	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, 6060, cfg.Server.Port)
}

func TestLoadProxyAddressesFromEnv(t *testing.T) {
	t.Setenv("STEALTHFETCH_PROXY_ENABLED", "true")
	t.Setenv("STEALTHFETCH_PROXY_ADDRESSES", "http://a:1, http://b:2")

	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, []string{"http://a:1", "http://b:2"}, cfg.Proxy.Addresses)
}

func TestLoadMissingFile(t *testing.T) {
	t.Parallel()

	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func validConfig() Config {
	return Config{
		Server:  ServerConfig{Port: 8080, MaxBodyBytes: 1024},
		Browser: BrowserConfig{Engine: EngineChromedp},
		Captcha: CaptchaConfig{RetentionHours: 24},
	}
}

func TestConfigValidateErrors(t *testing.T) {
	t.Parallel()

	require.NoError(t, validConfig().Validate())

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{name: "invalid port", mutate: func(c *Config) { c.Server.Port = 0 }, want: "server.port"},
		{name: "invalid body ceiling", mutate: func(c *Config) { c.Server.MaxBodyBytes = 0 }, want: "server.max_body_bytes"},
		{name: "unknown engine", mutate: func(c *Config) { c.Browser.Engine = "webkit" }, want: "browser.engine"},
		{name: "negative sessions", mutate: func(c *Config) { c.Browser.MaxSessions = -1 }, want: "browser.max_sessions"},
		{
			name:   "zero viewport",
			mutate: func(c *Config) { c.Browser.Viewports = []fetch.Viewport{{Width: 100}} },
			want:   "browser.viewports",
		},
		{name: "negative retries", mutate: func(c *Config) { c.Fetch.Retries = -1 }, want: "fetch.retries"},
		{name: "inverted backoff", mutate: func(c *Config) { c.Fetch.BackoffMinMs = 10 }, want: "min <= max"},
		{
			name:   "unknown screenshot mode",
			mutate: func(c *Config) { c.Fetch.ChallengeScreenshot = "thumbnail" },
			want:   "fetch.challenge_screenshot",
		},
		{name: "empty proxy pool", mutate: func(c *Config) { c.Proxy.Enabled = true }, want: "proxy.addresses"},
		{name: "auth missing api key", mutate: func(c *Config) { c.Auth.Enabled = true }, want: "auth.api_key"},
		{name: "no retention", mutate: func(c *Config) { c.Captcha.RetentionHours = 0 }, want: "captcha.retention_hours"},
		{name: "pubsub without topic", mutate: func(c *Config) { c.Notify.Backend = NotifyPubSub }, want: "notify.project_id"},
		{name: "unknown notifier", mutate: func(c *Config) { c.Notify.Backend = "sns" }, want: "notify.backend"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := validConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			require.True(t, strings.Contains(err.Error(), tt.want), "expected %q in %v", tt.want, err)
		})
	}
}

func TestProxyOverrideSatisfiesEnabledProxy(t *testing.T) {
	t.Parallel()

	cfg := validConfig()
	cfg.Proxy.Enabled = true
	cfg.Proxy.Override = "http://global:3128"
	require.NoError(t, cfg.Validate())
}
