// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/JakeFAU/stealthfetch/internal/fetch"
)

// Browser engines.
const (
	EngineChromedp = "chromedp"
	EngineRod      = "rod"
)

// Notification backends.
const (
	NotifyNone   = "none"
	NotifyMemory = "memory"
	NotifyPubSub = "pubsub"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Browser   BrowserConfig   `mapstructure:"browser"`
	Fetch     FetchConfig     `mapstructure:"fetch"`
	Proxy     ProxyConfig     `mapstructure:"proxy"`
	Behavior  BehaviorConfig  `mapstructure:"behavior"`
	Detector  DetectorConfig  `mapstructure:"detector"`
	Captcha   CaptchaConfig   `mapstructure:"captcha"`
	RateLimit RateLimitConfig `mapstructure:"ratelimit"`
	Notify    NotifyConfig    `mapstructure:"notify"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port                   int   `mapstructure:"port"`
	MaxBodyBytes           int64 `mapstructure:"max_body_bytes"`
	RequestTimeoutSeconds  int   `mapstructure:"request_timeout_seconds"`
	ShutdownTimeoutSeconds int   `mapstructure:"shutdown_timeout_seconds"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// BrowserConfig selects and tunes the browser engine.
type BrowserConfig struct {
	Engine                string           `mapstructure:"engine"`
	ExecPath              string           `mapstructure:"exec_path"`
	DefaultHeadless       bool             `mapstructure:"default_headless"`
	MaxSessions           int              `mapstructure:"max_sessions"`
	AcceptLanguage        string           `mapstructure:"accept_language"`
	NavTimeoutSeconds     int              `mapstructure:"nav_timeout_seconds"`
	SessionTimeoutSeconds int              `mapstructure:"session_timeout_seconds"`
	Viewports             []fetch.Viewport `mapstructure:"viewports"`
	UserAgents            []string         `mapstructure:"user_agents"`
}

// FetchConfig governs retries and pacing of a single fetch.
type FetchConfig struct {
	Retries             int    `mapstructure:"retries"`
	MaxRetries          int    `mapstructure:"max_retries"`
	SelectorTimeoutMs   int    `mapstructure:"selector_timeout_ms"`
	PreNavigateMinMs    int    `mapstructure:"pre_navigate_min_ms"`
	PreNavigateMaxMs    int    `mapstructure:"pre_navigate_max_ms"`
	SettleMinMs         int    `mapstructure:"settle_min_ms"`
	SettleMaxMs         int    `mapstructure:"settle_max_ms"`
	BackoffMinMs        int    `mapstructure:"backoff_min_ms"`
	BackoffMaxMs        int    `mapstructure:"backoff_max_ms"`
	ChallengeScreenshot string `mapstructure:"challenge_screenshot"`
}

// ProxyConfig holds the rotation list and the global override.
type ProxyConfig struct {
	Enabled   bool     `mapstructure:"enabled"`
	Addresses []string `mapstructure:"addresses"`
	Override  string   `mapstructure:"override"`
}

// BehaviorConfig tunes the human-like interaction phases.
type BehaviorConfig struct {
	Enabled        bool `mapstructure:"enabled"`
	Arcs           int  `mapstructure:"arcs"`
	StepsPerArc    int  `mapstructure:"steps_per_arc"`
	MaxScrollSteps int  `mapstructure:"max_scroll_steps"`
	DisableMouse   bool `mapstructure:"disable_mouse"`
	DisableScroll  bool `mapstructure:"disable_scroll"`
}

// DetectorConfig overrides the challenge signatures. Empty lists keep the
// built-in signatures.
type DetectorConfig struct {
	Keywords  []string `mapstructure:"keywords"`
	Selectors []string `mapstructure:"selectors"`
}

// CaptchaConfig controls artifact retention.
type CaptchaConfig struct {
	RetentionHours       int `mapstructure:"retention_hours"`
	SweepIntervalMinutes int `mapstructure:"sweep_interval_minutes"`
}

// RateLimitConfig paces session launches per host. A zero rate disables it.
type RateLimitConfig struct {
	PerHostRPS float64 `mapstructure:"per_host_rps"`
	Burst      int     `mapstructure:"burst"`
}

// NotifyConfig selects where challenge notices are published.
type NotifyConfig struct {
	Backend        string `mapstructure:"backend"`
	ProjectID      string `mapstructure:"project_id"`
	Topic          string `mapstructure:"topic"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// envAliases maps config keys to the short, unprefixed variables commonly
// set by container platforms. Prefixed variables still win.
var envAliases = map[string]string{
	"server.port":              "PORT",
	"server.max_body_bytes":    "MAX_BODY_BYTES",
	"proxy.override":           "PROXY",
	"browser.exec_path":        "BROWSER_EXEC_PATH",
	"browser.default_headless": "DEFAULT_HEADLESS",
	"auth.api_key":             "AUTH_TOKEN",
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("STEALTHFETCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	for key, alias := range envAliases {
		prefixed := "STEALTHFETCH_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := v.BindEnv(key, prefixed, alias); err != nil {
			return Config{}, fmt.Errorf("bind env %s: %w", alias, err)
		}
	}

	// auth.enabled has no default so an explicit setting can be told apart.
	if err := v.BindEnv("auth.enabled"); err != nil {
		return Config{}, fmt.Errorf("bind env auth.enabled: %w", err)
	}

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.Proxy.Addresses = compact(cfg.Proxy.Addresses)
	if cfg.Auth.APIKey != "" && !v.IsSet("auth.enabled") {
		cfg.Auth.Enabled = true
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.max_body_bytes", 5<<20)
	v.SetDefault("server.request_timeout_seconds", 300)
	v.SetDefault("server.shutdown_timeout_seconds", 15)
	v.SetDefault("browser.engine", EngineChromedp)
	v.SetDefault("browser.exec_path", "")
	v.SetDefault("browser.user_agents", []string{})
	v.SetDefault("browser.default_headless", true)
	v.SetDefault("browser.max_sessions", 4)
	v.SetDefault("browser.accept_language", "en-US,en;q=0.9")
	v.SetDefault("browser.nav_timeout_seconds", 45)
	v.SetDefault("browser.session_timeout_seconds", 120)
	v.SetDefault("fetch.retries", 2)
	v.SetDefault("fetch.max_retries", 10)
	v.SetDefault("fetch.selector_timeout_ms", 15000)
	v.SetDefault("fetch.pre_navigate_min_ms", 300)
	v.SetDefault("fetch.pre_navigate_max_ms", 1000)
	v.SetDefault("fetch.settle_min_ms", 500)
	v.SetDefault("fetch.settle_max_ms", 1500)
	v.SetDefault("fetch.backoff_min_ms", 500)
	v.SetDefault("fetch.backoff_max_ms", 1500)
	v.SetDefault("fetch.challenge_screenshot", "viewport")
	v.SetDefault("proxy.enabled", false)
	v.SetDefault("proxy.addresses", []string{})
	v.SetDefault("proxy.override", "")
	v.SetDefault("detector.keywords", []string{})
	v.SetDefault("detector.selectors", []string{})
	v.SetDefault("behavior.disable_mouse", false)
	v.SetDefault("behavior.disable_scroll", false)
	v.SetDefault("behavior.enabled", true)
	v.SetDefault("behavior.arcs", 5)
	v.SetDefault("behavior.steps_per_arc", 20)
	v.SetDefault("behavior.max_scroll_steps", 200)
	v.SetDefault("captcha.retention_hours", 24)
	v.SetDefault("captcha.sweep_interval_minutes", 60)
	v.SetDefault("ratelimit.per_host_rps", 0)
	v.SetDefault("ratelimit.burst", 1)
	v.SetDefault("notify.backend", NotifyNone)
	v.SetDefault("notify.project_id", "")
	v.SetDefault("notify.topic", "")
	v.SetDefault("notify.timeout_seconds", 10)
	v.SetDefault("auth.api_key", "")
	v.SetDefault("logging.development", false)
	v.SetDefault("logging.level", "info")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Server.MaxBodyBytes <= 0 {
		return fmt.Errorf("server.max_body_bytes must be > 0")
	}
	switch c.Browser.Engine {
	case EngineChromedp, EngineRod:
	default:
		return fmt.Errorf("browser.engine must be %q or %q, got %q", EngineChromedp, EngineRod, c.Browser.Engine)
	}
	if c.Browser.MaxSessions < 0 {
		return fmt.Errorf("browser.max_sessions must be >= 0")
	}
	for _, vp := range c.Browser.Viewports {
		if vp.IsZero() {
			return fmt.Errorf("browser.viewports entries must have width and height > 0")
		}
	}
	if c.Fetch.Retries < 0 {
		return fmt.Errorf("fetch.retries must be >= 0")
	}
	if c.Fetch.PreNavigateMinMs > c.Fetch.PreNavigateMaxMs ||
		c.Fetch.SettleMinMs > c.Fetch.SettleMaxMs ||
		c.Fetch.BackoffMinMs > c.Fetch.BackoffMaxMs {
		return fmt.Errorf("fetch delay ranges must have min <= max")
	}
	switch c.Fetch.ChallengeScreenshot {
	case "", "viewport", "full", "none":
	default:
		return fmt.Errorf("fetch.challenge_screenshot must be viewport, full or none")
	}
	if c.Proxy.Enabled && len(c.Proxy.Addresses) == 0 && c.Proxy.Override == "" {
		return fmt.Errorf("proxy.addresses must not be empty when proxy is enabled")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	if c.Captcha.RetentionHours <= 0 {
		return fmt.Errorf("captcha.retention_hours must be > 0")
	}
	switch c.Notify.Backend {
	case "", NotifyNone, NotifyMemory:
	case NotifyPubSub:
		if c.Notify.ProjectID == "" || c.Notify.Topic == "" {
			return fmt.Errorf("notify.project_id and notify.topic are required for the pubsub backend")
		}
	default:
		return fmt.Errorf("notify.backend %q is not supported", c.Notify.Backend)
	}
	return nil
}

// RequestTimeout bounds one captcha artifact request. Fetches are bounded by
// the session timeout and retry budget instead.
func (c ServerConfig) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutSeconds) * time.Second
}

// ShutdownTimeout bounds graceful shutdown.
func (c ServerConfig) ShutdownTimeout() time.Duration {
	return time.Duration(c.ShutdownTimeoutSeconds) * time.Second
}

// NavigationTimeout bounds one page navigation.
func (c BrowserConfig) NavigationTimeout() time.Duration {
	return time.Duration(c.NavTimeoutSeconds) * time.Second
}

// SessionTimeout bounds one attempt from launch to extraction.
func (c BrowserConfig) SessionTimeout() time.Duration {
	return time.Duration(c.SessionTimeoutSeconds) * time.Second
}

// Retention is how long challenge artifacts are kept.
func (c CaptchaConfig) Retention() time.Duration {
	return time.Duration(c.RetentionHours) * time.Hour
}

// SweepInterval is how often expired artifacts are removed.
func (c CaptchaConfig) SweepInterval() time.Duration {
	return time.Duration(c.SweepIntervalMinutes) * time.Minute
}

// Timeout bounds one notification publish.
func (c NotifyConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

func ms(n int) time.Duration {
	return time.Duration(n) * time.Millisecond
}

// SelectorTimeout is the default marker wait.
func (c FetchConfig) SelectorTimeout() time.Duration { return ms(c.SelectorTimeoutMs) }

// PreNavigate returns the pre-navigation delay range.
func (c FetchConfig) PreNavigate() (time.Duration, time.Duration) {
	return ms(c.PreNavigateMinMs), ms(c.PreNavigateMaxMs)
}

// Settle returns the post-simulation settle delay range.
func (c FetchConfig) Settle() (time.Duration, time.Duration) {
	return ms(c.SettleMinMs), ms(c.SettleMaxMs)
}

// Backoff returns the delay range between failed attempts.
func (c FetchConfig) Backoff() (time.Duration, time.Duration) {
	return ms(c.BackoffMinMs), ms(c.BackoffMaxMs)
}

func compact(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		for _, part := range strings.Split(s, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}
