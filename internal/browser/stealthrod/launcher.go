// Package stealthrod launches browser sessions through go-rod with the
// stealth evasions applied to every page.
package stealthrod

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/launcher/flags"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
	"go.uber.org/zap"

	"github.com/JakeFAU/stealthfetch/internal/fetch"
	"github.com/JakeFAU/stealthfetch/internal/session"
)

const defaultNavigationTimeout = 45 * time.Second

// Config controls headers sent by every session.
type Config struct {
	AcceptLanguage string
	ExtraHeaders   http.Header
}

// Launcher implements fetch.Launcher with go-rod.
type Launcher struct {
	cfg    Config
	logger *zap.Logger
}

// NewLauncher creates a rod-backed launcher.
func NewLauncher(cfg Config, logger *zap.Logger) *Launcher {
	if cfg.AcceptLanguage == "" {
		cfg.AcceptLanguage = "en-US,en;q=0.9"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Launcher{cfg: cfg, logger: logger}
}

// Launch starts a browser process and opens one stealth page.
func (l *Launcher) Launch(ctx context.Context, cfg fetch.SessionConfig) (fetch.Session, error) {
	ln := newProcessLauncher(cfg).Context(ctx)
	controlURL, err := ln.Launch()
	if err != nil {
		return nil, fmt.Errorf("launch browser: %w", err)
	}
	s := &Session{process: ln, navTimeout: cfg.NavigationTimeout, logger: l.logger}

	browser := rod.New().ControlURL(controlURL)
	if err := browser.Connect(); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("connect to browser: %w", err)
	}
	s.browser = browser

	page, err := stealth.Page(browser)
	if err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("open stealth page: %w", err)
	}
	s.page = page

	if err := l.preparePage(page, cfg); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

func (l *Launcher) preparePage(page *rod.Page, cfg fetch.SessionConfig) error {
	if !cfg.Viewport.IsZero() {
		err := page.SetViewport(&proto.EmulationSetDeviceMetricsOverride{
			Width:             cfg.Viewport.Width,
			Height:            cfg.Viewport.Height,
			DeviceScaleFactor: 1,
		})
		if err != nil {
			return fmt.Errorf("set viewport: %w", err)
		}
	}
	if cfg.UserAgent != "" {
		err := page.SetUserAgent(&proto.NetworkSetUserAgentOverride{
			UserAgent:      cfg.UserAgent,
			AcceptLanguage: l.cfg.AcceptLanguage,
		})
		if err != nil {
			return fmt.Errorf("set user-agent: %w", err)
		}
	}
	if _, err := page.SetExtraHeaders(headerPairs(l.cfg)); err != nil {
		return fmt.Errorf("set extra headers: %w", err)
	}
	return nil
}

// newProcessLauncher translates the session's flag list onto a rod launcher.
func newProcessLauncher(cfg fetch.SessionConfig) *launcher.Launcher {
	l := launcher.New().Headless(cfg.Headless).Leakless(false)
	if cfg.ExecPath != "" {
		l = l.Bin(cfg.ExecPath)
	}
	for _, raw := range cfg.Flags {
		name, value := session.SplitFlag(raw)
		if name == "" {
			continue
		}
		if value == "" {
			l.Set(flags.Flag(name))
			continue
		}
		l.Set(flags.Flag(name), value)
	}
	if cfg.UserAgent != "" {
		l.Set(flags.Flag("user-agent"), cfg.UserAgent)
	}
	l.Delete(flags.Flag("enable-automation"))
	return l
}

// headerPairs flattens headers into the key, value list rod expects.
func headerPairs(cfg Config) []string {
	pairs := []string{
		"Accept-Language", cfg.AcceptLanguage,
		"Upgrade-Insecure-Requests", "1",
	}
	for key, values := range cfg.ExtraHeaders {
		if len(values) == 0 || http.CanonicalHeaderKey(key) == "Accept-Language" {
			continue
		}
		pairs = append(pairs, key, values[len(values)-1])
	}
	return pairs
}

// Session is one browser process with a single stealth page.
type Session struct {
	process    *launcher.Launcher
	browser    *rod.Browser
	page       *rod.Page
	navTimeout time.Duration
	logger     *zap.Logger
	closeOnce  sync.Once
	closeErr   error
}

var _ fetch.Session = (*Session)(nil)

// Navigate loads url and waits for the load event.
func (s *Session) Navigate(ctx context.Context, url string) error {
	ctx, cancel := context.WithTimeout(ctx, s.navigationTimeout())
	defer cancel()
	page := s.page.Context(ctx)
	if err := page.Navigate(url); err != nil {
		return fmt.Errorf("navigate %s: %w", url, err)
	}
	if err := page.WaitLoad(); err != nil {
		return fmt.Errorf("wait for load %s: %w", url, err)
	}
	return nil
}

// HTML returns the serialized document.
func (s *Session) HTML(ctx context.Context) (string, error) {
	html, err := s.page.Context(ctx).HTML()
	if err != nil {
		return "", fmt.Errorf("extract html: %w", err)
	}
	return html, nil
}

// Screenshot captures a PNG of the viewport or the full page.
func (s *Session) Screenshot(ctx context.Context, fullPage bool) ([]byte, error) {
	data, err := s.page.Context(ctx).Screenshot(fullPage, &proto.PageCaptureScreenshot{
		Format: proto.PageCaptureScreenshotFormatPng,
	})
	if err != nil {
		return nil, fmt.Errorf("capture screenshot: %w", err)
	}
	return data, nil
}

// WaitVisible blocks until selector is visible or ctx ends.
func (s *Session) WaitVisible(ctx context.Context, selector string) error {
	el, err := s.page.Context(ctx).Element(selector)
	if err != nil {
		return fmt.Errorf("wait for %q: %w", selector, err)
	}
	if err := el.WaitVisible(); err != nil {
		return fmt.Errorf("wait for %q: %w", selector, err)
	}
	return nil
}

// ViewportSize reports the page's inner window size.
func (s *Session) ViewportSize(ctx context.Context) (fetch.Viewport, error) {
	res, err := s.page.Context(ctx).Eval(`() => ({w: window.innerWidth, h: window.innerHeight})`)
	if err != nil {
		return fetch.Viewport{}, fmt.Errorf("read viewport: %w", err)
	}
	return fetch.Viewport{Width: res.Value.Get("w").Int(), Height: res.Value.Get("h").Int()}, nil
}

// MoveMouse dispatches a mouse move to x,y.
func (s *Session) MoveMouse(ctx context.Context, x, y float64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.page.Mouse.MoveTo(proto.Point{X: x, Y: y})
}

// ScrollBy scrolls the window vertically by dy pixels.
func (s *Session) ScrollBy(ctx context.Context, dy int) error {
	_, err := s.page.Context(ctx).Eval(`(dy) => window.scrollBy(0, dy)`, dy)
	return err
}

// ScrollHeight returns the document body's scroll height.
func (s *Session) ScrollHeight(ctx context.Context) (int, error) {
	res, err := s.page.Context(ctx).Eval(`() => document.body ? document.body.scrollHeight : 0`)
	if err != nil {
		return 0, fmt.Errorf("read scroll height: %w", err)
	}
	return res.Value.Int(), nil
}

// Close closes the browser and removes its profile. It is safe to call more
// than once.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		if s.browser != nil {
			if err := s.browser.Close(); err != nil {
				s.closeErr = fmt.Errorf("close browser: %w", err)
				s.logger.Debug("browser close failed", zap.Error(err))
			}
		}
		if s.process != nil {
			s.process.Kill()
			s.process.Cleanup()
		}
	})
	return s.closeErr
}

func (s *Session) navigationTimeout() time.Duration {
	if s.navTimeout > 0 {
		return s.navTimeout
	}
	return defaultNavigationTimeout
}
