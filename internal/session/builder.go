// Package session builds the per-attempt launch profile for a browser session.
package session

import (
	"fmt"
	"strings"
	"time"

	"github.com/JakeFAU/stealthfetch/internal/fetch"
)

// DefaultViewports are common desktop resolutions.
var DefaultViewports = []fetch.Viewport{
	{Width: 1920, Height: 1080},
	{Width: 1366, Height: 768},
	{Width: 1440, Height: 900},
	{Width: 1536, Height: 864},
}

// DefaultUserAgents are common modern desktop browser user-agents.
var DefaultUserAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/16.0 Safari/605.1.15",
	"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/119.0.0.0 Safari/537.36",
}

// baseFlags are applied to every session, in order.
var baseFlags = []string{
	"--no-sandbox",
	"--disable-setuid-sandbox",
	"--disable-dev-shm-usage",
	"--disable-blink-features=AutomationControlled",
	"--disable-features=IsolateOrigins,site-per-process",
	"--disable-web-security",
}

// Config holds the fixed inputs of the builder.
type Config struct {
	ExecPath          string
	NavigationTimeout time.Duration
	SessionTimeout    time.Duration
	Viewports         []fetch.Viewport
	UserAgents        []string
}

// Options are the per-request inputs of one build.
type Options struct {
	Headless bool
	UseProxy bool
	// Proxy, when set, is used instead of drawing from the pool.
	Proxy     string
	Viewport  *fetch.Viewport
	UserAgent string
}

// Builder produces a fresh SessionConfig for every attempt.
type Builder struct {
	cfg     Config
	proxies fetch.ProxySelector
	rnd     fetch.Randomizer
}

// NewBuilder creates a Builder. proxies may be nil when proxying is disabled.
func NewBuilder(cfg Config, proxies fetch.ProxySelector, rnd fetch.Randomizer) *Builder {
	if len(cfg.Viewports) == 0 {
		cfg.Viewports = DefaultViewports
	}
	if len(cfg.UserAgents) == 0 {
		cfg.UserAgents = DefaultUserAgents
	}
	if cfg.NavigationTimeout <= 0 {
		cfg.NavigationTimeout = 45 * time.Second
	}
	if cfg.SessionTimeout <= 0 {
		cfg.SessionTimeout = 2 * time.Minute
	}
	if rnd == nil {
		rnd = fetch.GlobalRand{}
	}
	return &Builder{cfg: cfg, proxies: proxies, rnd: rnd}
}

// HasPool reports whether a proxy pool is attached.
func (b *Builder) HasPool() bool {
	return b.proxies != nil
}

// Build returns a new launch profile. A pool slot is consumed only when
// proxying is requested and no explicit proxy was given.
func (b *Builder) Build(opts Options) fetch.SessionConfig {
	viewport := fetch.Pick(b.rnd, b.cfg.Viewports)
	if opts.Viewport != nil && !opts.Viewport.IsZero() {
		viewport = *opts.Viewport
	}
	userAgent := fetch.Pick(b.rnd, b.cfg.UserAgents)
	if opts.UserAgent != "" {
		userAgent = opts.UserAgent
	}

	proxy := strings.TrimSpace(opts.Proxy)
	if proxy == "" && opts.UseProxy && b.proxies != nil {
		proxy = b.proxies.Next()
	}

	flags := make([]string, 0, len(baseFlags)+2)
	flags = append(flags, baseFlags...)
	flags = append(flags, fmt.Sprintf("--window-size=%d,%d", viewport.Width, viewport.Height))
	if proxy != "" {
		flags = append(flags, "--proxy-server="+proxy)
	}

	return fetch.SessionConfig{
		Headless:          opts.Headless,
		Flags:             flags,
		Proxy:             proxy,
		Viewport:          viewport,
		UserAgent:         userAgent,
		NavigationTimeout: b.cfg.NavigationTimeout,
		SessionTimeout:    b.cfg.SessionTimeout,
		ExecPath:          b.cfg.ExecPath,
	}
}

// SplitFlag turns "--name=value" into ("name", "value"). Switches without a
// value return an empty value.
func SplitFlag(flag string) (string, string) {
	flag = strings.TrimLeft(strings.TrimSpace(flag), "-")
	name, value, _ := strings.Cut(flag, "=")
	return name, value
}
