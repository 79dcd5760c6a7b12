// Package headless launches isolated Chrome sessions driven by chromedp.
package headless

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/input"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
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

// Launcher implements fetch.Launcher with one Chrome process per session.
type Launcher struct {
	cfg    Config
	logger *zap.Logger
}

// NewLauncher creates a chromedp-backed launcher.
func NewLauncher(cfg Config, logger *zap.Logger) *Launcher {
	if cfg.AcceptLanguage == "" {
		cfg.AcceptLanguage = "en-US,en;q=0.9"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Launcher{cfg: cfg, logger: logger}
}

// Launch starts Chrome with the session's flags and prepares the first tab.
func (l *Launcher) Launch(ctx context.Context, cfg fetch.SessionConfig) (fetch.Session, error) {
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), allocatorOptions(cfg)...)
	taskCtx, taskCancel := chromedp.NewContext(allocCtx,
		chromedp.WithLogf(l.logger.Sugar().Debugf),
	)
	s := &Session{
		taskCtx:     taskCtx,
		taskCancel:  taskCancel,
		allocCancel: allocCancel,
		navTimeout:  cfg.NavigationTimeout,
		logger:      l.logger,
	}
	// The caller's context bounds the whole session, not only this call.
	s.stopForward = context.AfterFunc(ctx, s.cancel)

	// The first Run allocates the browser; it must not carry a timeout.
	if err := chromedp.Run(taskCtx); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("start chrome: %w", err)
	}
	if err := s.run(ctx, setupAction(cfg, l.requestHeaders())); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

func (l *Launcher) requestHeaders() http.Header {
	headers := cloneHeader(l.cfg.ExtraHeaders)
	if headers == nil {
		headers = http.Header{}
	}
	headers.Set("Accept-Language", l.cfg.AcceptLanguage)
	headers.Set("Upgrade-Insecure-Requests", "1")
	return headers
}

// Session is one Chrome process with a single tab.
type Session struct {
	taskCtx     context.Context
	taskCancel  context.CancelFunc
	allocCancel context.CancelFunc
	stopForward func() bool
	navTimeout  time.Duration
	logger      *zap.Logger
	closeOnce   sync.Once
	closeErr    error
}

var _ fetch.Session = (*Session)(nil)

// Navigate loads url, bounded by the navigation timeout.
func (s *Session) Navigate(ctx context.Context, url string) error {
	ctx, cancel := context.WithTimeout(ctx, s.navigationTimeout())
	defer cancel()
	if err := s.run(ctx, chromedp.Navigate(url)); err != nil {
		return fmt.Errorf("navigate %s: %w", url, err)
	}
	return nil
}

// HTML returns the serialized document.
func (s *Session) HTML(ctx context.Context) (string, error) {
	var html string
	if err := s.run(ctx, chromedp.OuterHTML("html", &html, chromedp.ByQuery)); err != nil {
		return "", fmt.Errorf("extract html: %w", err)
	}
	return html, nil
}

// Screenshot captures a PNG of the viewport or the full page.
func (s *Session) Screenshot(ctx context.Context, fullPage bool) ([]byte, error) {
	var buf []byte
	action := chromedp.CaptureScreenshot(&buf)
	if fullPage {
		action = chromedp.FullScreenshot(&buf, 100)
	}
	if err := s.run(ctx, action); err != nil {
		return nil, fmt.Errorf("capture screenshot: %w", err)
	}
	return buf, nil
}

// WaitVisible blocks until selector is visible or ctx ends.
func (s *Session) WaitVisible(ctx context.Context, selector string) error {
	if err := s.run(ctx, chromedp.WaitVisible(selector, chromedp.ByQuery)); err != nil {
		return fmt.Errorf("wait for %q: %w", selector, err)
	}
	return nil
}

// ViewportSize reports the page's inner window size.
func (s *Session) ViewportSize(ctx context.Context) (fetch.Viewport, error) {
	var dims []int
	if err := s.run(ctx, chromedp.Evaluate(viewportScript, &dims)); err != nil {
		return fetch.Viewport{}, fmt.Errorf("read viewport: %w", err)
	}
	if len(dims) != 2 {
		return fetch.Viewport{}, fmt.Errorf("read viewport: unexpected result %v", dims)
	}
	return fetch.Viewport{Width: dims[0], Height: dims[1]}, nil
}

// MoveMouse dispatches a mouse move to x,y.
func (s *Session) MoveMouse(ctx context.Context, x, y float64) error {
	return s.run(ctx, chromedp.MouseEvent(input.MouseMoved, x, y))
}

// ScrollBy scrolls the window vertically by dy pixels.
func (s *Session) ScrollBy(ctx context.Context, dy int) error {
	var ok bool
	return s.run(ctx, chromedp.Evaluate(scrollScript(dy), &ok))
}

// ScrollHeight returns the document body's scroll height.
func (s *Session) ScrollHeight(ctx context.Context) (int, error) {
	var height int
	if err := s.run(ctx, chromedp.Evaluate(scrollHeightScript, &height)); err != nil {
		return 0, fmt.Errorf("read scroll height: %w", err)
	}
	return height, nil
}

// Close shuts the browser down. It is safe to call more than once.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		if s.stopForward != nil {
			s.stopForward()
		}
		if chromedp.FromContext(s.taskCtx) != nil {
			if err := chromedp.Cancel(s.taskCtx); err != nil && !errors.Is(err, context.Canceled) {
				s.closeErr = fmt.Errorf("close chrome: %w", err)
			}
		}
		s.taskCancel()
		s.allocCancel()
	})
	return s.closeErr
}

func (s *Session) cancel() {
	s.taskCancel()
	s.allocCancel()
}

// run executes actions on the session's tab, honoring ctx's cancellation and
// deadline without tearing down the tab when ctx ends.
func (s *Session) run(ctx context.Context, actions ...chromedp.Action) error {
	runCtx, cancel := context.WithCancel(s.taskCtx)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()
	if deadline, ok := ctx.Deadline(); ok {
		var cancelDeadline context.CancelFunc
		runCtx, cancelDeadline = context.WithDeadline(runCtx, deadline)
		defer cancelDeadline()
	}
	if err := chromedp.Run(runCtx, actions...); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("%w: %w", ctxErr, err)
		}
		return err
	}
	return nil
}

func (s *Session) navigationTimeout() time.Duration {
	if s.navTimeout > 0 {
		return s.navTimeout
	}
	return defaultNavigationTimeout
}

func setupAction(cfg fetch.SessionConfig, headers http.Header) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network domain: %w", err)
		}
		if !cfg.Viewport.IsZero() {
			metrics := emulation.SetDeviceMetricsOverride(int64(cfg.Viewport.Width), int64(cfg.Viewport.Height), 1, false)
			if err := metrics.Do(ctx); err != nil {
				return fmt.Errorf("set viewport: %w", err)
			}
		}
		if cfg.UserAgent != "" {
			override := emulation.SetUserAgentOverride(cfg.UserAgent).
				WithAcceptLanguage(headers.Get("Accept-Language"))
			if err := override.Do(ctx); err != nil {
				return fmt.Errorf("set user-agent: %w", err)
			}
		}
		if len(headers) > 0 {
			if err := network.SetExtraHTTPHeaders(toNetworkHeaders(headers)).Do(ctx); err != nil {
				return fmt.Errorf("set extra headers: %w", err)
			}
		}
		return nil
	})
}

// launchFlags flattens a session's flag list into chromedp flag values. A
// flag without a value is a boolean switch.
func launchFlags(cfg fetch.SessionConfig) map[string]any {
	out := make(map[string]any, len(cfg.Flags)+2)
	for _, raw := range cfg.Flags {
		name, value := session.SplitFlag(raw)
		if name == "" {
			continue
		}
		if value == "" {
			out[name] = true
			continue
		}
		out[name] = value
	}
	out["enable-automation"] = false
	if !cfg.Headless {
		out["headless"] = false
	}
	return out
}

func allocatorOptions(cfg fetch.SessionConfig) []chromedp.ExecAllocatorOption {
	opts := append([]chromedp.ExecAllocatorOption(nil), chromedp.DefaultExecAllocatorOptions[:]...)
	for name, value := range launchFlags(cfg) {
		opts = append(opts, chromedp.Flag(name, value))
	}
	if cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(cfg.ExecPath))
	}
	if cfg.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(cfg.UserAgent))
	}
	if !cfg.Viewport.IsZero() {
		opts = append(opts, chromedp.WindowSize(cfg.Viewport.Width, cfg.Viewport.Height))
	}
	return opts
}

const (
	viewportScript     = `[window.innerWidth, window.innerHeight]`
	scrollHeightScript = `document.body ? document.body.scrollHeight : 0`
)

func scrollScript(dy int) string {
	return fmt.Sprintf("window.scrollBy(0, %d); true", dy)
}

func cloneHeader(src http.Header) http.Header {
	if src == nil {
		return nil
	}
	dst := make(http.Header, len(src))
	for k, values := range src {
		for _, v := range values {
			dst.Add(k, v)
		}
	}
	return dst
}

func toNetworkHeaders(h http.Header) network.Headers {
	headers := network.Headers{}
	for key, values := range h {
		if len(values) == 0 {
			continue
		}
		if len(values) == 1 {
			headers[key] = values[0]
		} else {
			headers[key] = append([]string(nil), values...)
		}
	}
	return headers
}
