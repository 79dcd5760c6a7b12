// Package orchestrator drives one fetch request through isolated browser
// sessions until it yields a success, a challenge, or exhausts its attempts.
//
// Each attempt follows the same sequence: build a launch profile, launch,
// pause, navigate, detect, simulate, settle, optionally wait for a marker,
// extract and close. A detected challenge ends the request immediately; any
// other error is retried after a randomized backoff.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/JakeFAU/stealthfetch/internal/clock/system"
	"github.com/JakeFAU/stealthfetch/internal/fetch"
	"github.com/JakeFAU/stealthfetch/internal/metrics"
	"github.com/JakeFAU/stealthfetch/internal/session"
)

// ScreenshotMode selects what is captured when a challenge is detected.
type ScreenshotMode string

// Challenge screenshot modes.
const (
	ScreenshotViewport ScreenshotMode = "viewport"
	ScreenshotFull     ScreenshotMode = "full"
	ScreenshotNone     ScreenshotMode = "none"
)

// ParseScreenshotMode validates a configured mode. Empty means viewport.
func ParseScreenshotMode(raw string) (ScreenshotMode, error) {
	switch mode := ScreenshotMode(strings.ToLower(strings.TrimSpace(raw))); mode {
	case "":
		return ScreenshotViewport, nil
	case ScreenshotViewport, ScreenshotFull, ScreenshotNone:
		return mode, nil
	default:
		return "", fmt.Errorf("unknown challenge screenshot mode %q", raw)
	}
}

// Attempt results recorded in metrics.
const (
	resultSuccess   = "success"
	resultChallenge = "challenge"
	resultError     = "error"
)

// Config controls retry and pacing behavior.
type Config struct {
	// DefaultRetries applies when a request does not set Retries.
	DefaultRetries int
	// MaxRetries caps caller-supplied retries. Zero disables the cap.
	MaxRetries      int
	DefaultHeadless bool
	// DefaultUseProxy applies when a request does not set UseProxy.
	DefaultUseProxy bool
	// ProxyOverride, when set, replaces pool rotation for proxied requests
	// that do not name their own proxy.
	ProxyOverride       string
	SelectorTimeout     time.Duration
	PreNavigateMin      time.Duration
	PreNavigateMax      time.Duration
	SettleMin           time.Duration
	SettleMax           time.Duration
	BackoffMin          time.Duration
	BackoffMax          time.Duration
	ChallengeScreenshot ScreenshotMode
	// MaxSessions caps concurrently open sessions. Zero means unlimited.
	MaxSessions int64
}

// DefaultConfig returns the standard pacing profile.
func DefaultConfig() Config {
	return Config{
		DefaultRetries:      2,
		MaxRetries:          10,
		DefaultHeadless:     true,
		SelectorTimeout:     15 * time.Second,
		PreNavigateMin:      300 * time.Millisecond,
		PreNavigateMax:      1000 * time.Millisecond,
		SettleMin:           500 * time.Millisecond,
		SettleMax:           1500 * time.Millisecond,
		BackoffMin:          500 * time.Millisecond,
		BackoffMax:          1500 * time.Millisecond,
		ChallengeScreenshot: ScreenshotViewport,
		MaxSessions:         4,
	}
}

// SessionBuilder produces the launch profile for each attempt.
type SessionBuilder interface {
	Build(opts session.Options) fetch.SessionConfig
	HasPool() bool
}

// Deps are the collaborators of an Orchestrator. Builder, Launcher and
// Detector are required.
type Deps struct {
	Builder   SessionBuilder
	Launcher  fetch.Launcher
	Detector  fetch.Detector
	Simulator fetch.Simulator
	Clock     fetch.Clock
	Rand      fetch.Randomizer
	Store     fetch.ChallengeStore
	Notifier  fetch.Notifier
	Limiter   fetch.HostLimiter
	IDs       fetch.IDGenerator
	Logger    *zap.Logger
}

// Orchestrator executes fetch requests. It is safe for concurrent use.
type Orchestrator struct {
	cfg       Config
	builder   SessionBuilder
	launcher  fetch.Launcher
	detector  fetch.Detector
	simulator fetch.Simulator
	clock     fetch.Clock
	rnd       fetch.Randomizer
	store     fetch.ChallengeStore
	notifier  fetch.Notifier
	limiter   fetch.HostLimiter
	ids       fetch.IDGenerator
	sem       *semaphore.Weighted
	logger    *zap.Logger
}

// New wires an Orchestrator.
func New(cfg Config, deps Deps) (*Orchestrator, error) {
	switch {
	case deps.Builder == nil:
		return nil, errors.New("orchestrator: session builder is required")
	case deps.Launcher == nil:
		return nil, errors.New("orchestrator: launcher is required")
	case deps.Detector == nil:
		return nil, errors.New("orchestrator: detector is required")
	}
	if cfg.DefaultRetries < 0 {
		cfg.DefaultRetries = 0
	}
	if cfg.SelectorTimeout <= 0 {
		cfg.SelectorTimeout = 15 * time.Second
	}
	if cfg.ChallengeScreenshot == "" {
		cfg.ChallengeScreenshot = ScreenshotViewport
	}
	o := &Orchestrator{
		cfg:       cfg,
		builder:   deps.Builder,
		launcher:  deps.Launcher,
		detector:  deps.Detector,
		simulator: deps.Simulator,
		clock:     deps.Clock,
		rnd:       deps.Rand,
		store:     deps.Store,
		notifier:  deps.Notifier,
		limiter:   deps.Limiter,
		ids:       deps.IDs,
		logger:    deps.Logger,
	}
	if o.simulator == nil {
		o.simulator = noopSimulator{}
	}
	if o.clock == nil {
		o.clock = system.New()
	}
	if o.rnd == nil {
		o.rnd = fetch.GlobalRand{}
	}
	if o.logger == nil {
		o.logger = zap.NewNop()
	}
	if cfg.MaxSessions > 0 {
		o.sem = semaphore.NewWeighted(cfg.MaxSessions)
	}
	return o, nil
}

// plan is a request with every default resolved.
type plan struct {
	req             fetch.Request
	options         session.Options
	attempts        int
	selectorTimeout time.Duration
}

func (o *Orchestrator) resolve(req fetch.Request) (plan, error) {
	if err := req.Validate(); err != nil {
		return plan{}, err
	}
	req.URL = strings.TrimSpace(req.URL)

	retries := o.cfg.DefaultRetries
	if req.Retries != nil {
		retries = *req.Retries
	}
	if o.cfg.MaxRetries > 0 && retries > o.cfg.MaxRetries {
		retries = o.cfg.MaxRetries
	}

	headless := o.cfg.DefaultHeadless
	if req.Headless != nil {
		headless = *req.Headless
	}

	useProxy := o.cfg.DefaultUseProxy
	if req.UseProxy != nil {
		useProxy = *req.UseProxy
	}
	proxy := strings.TrimSpace(req.Proxy)
	if proxy == "" && useProxy {
		proxy = o.cfg.ProxyOverride
	}
	if useProxy && proxy == "" && !o.builder.HasPool() {
		return plan{}, fetch.ErrNoProxy
	}

	selectorTimeout := o.cfg.SelectorTimeout
	if req.SelectorTimeout > 0 {
		selectorTimeout = req.SelectorTimeout
	}

	return plan{
		req: req,
		options: session.Options{
			Headless:  headless,
			UseProxy:  useProxy,
			Proxy:     proxy,
			Viewport:  req.Viewport,
			UserAgent: req.UserAgent,
		},
		attempts:        retries + 1,
		selectorTimeout: selectorTimeout,
	}, nil
}

// Fetch runs req to completion. The error return is reserved for requests
// that can never succeed as submitted (fetch.ErrInvalidRequest,
// fetch.ErrNoProxy); every other result is an Outcome.
func (o *Orchestrator) Fetch(ctx context.Context, req fetch.Request) (fetch.Outcome, error) {
	p, err := o.resolve(req)
	if err != nil {
		return nil, err
	}
	logger := o.logger.With(
		zap.String("fetch_id", o.fetchID(p.req)),
		zap.String("url", p.req.URL),
	)
	start := o.clock.Now()

	var (
		lastErr error
		made    int
	)
	for attempt := 1; attempt <= p.attempts; attempt++ {
		made = attempt
		logger.Debug("attempt starting", zap.Int("attempt", attempt), zap.Int("max_attempts", p.attempts))

		outcome, err := o.attempt(ctx, p, logger)
		if err == nil {
			return o.finish(ctx, outcome, attempt, start, logger), nil
		}

		lastErr = err
		metrics.ObserveAttempt(resultError)
		logger.Warn("fetch attempt failed", zap.Int("attempt", attempt), zap.Error(err))

		if ctx.Err() != nil || attempt == p.attempts {
			break
		}
		if err := o.clock.Sleep(ctx, fetch.Between(o.rnd, o.cfg.BackoffMin, o.cfg.BackoffMax)); err != nil {
			break
		}
	}

	failure := &fetch.Failure{URL: p.req.URL, Err: lastErr.Error(), Attempts: made}
	metrics.ObserveOutcome(failure.Kind(), o.clock.Now().Sub(start))
	logger.Info("fetch exhausted", zap.Int("attempts", made), zap.String("error", failure.Err))
	return failure, nil
}

func (o *Orchestrator) finish(ctx context.Context, outcome fetch.Outcome, attempt int, start time.Time, logger *zap.Logger) fetch.Outcome {
	switch out := outcome.(type) {
	case *fetch.Success:
		out.Attempts = attempt
		metrics.ObserveAttempt(resultSuccess)
		logger.Info("fetch succeeded",
			zap.Int("attempts", attempt),
			zap.Int("html_length", len(out.HTML)),
			zap.Bool("screenshot", out.Screenshot != nil),
		)
	case *fetch.Challenge:
		out.Attempts = attempt
		metrics.ObserveAttempt(resultChallenge)
		logger.Info("challenge detected",
			zap.Int("attempts", attempt),
			zap.String("reason", out.Reason),
			zap.String("execution_id", out.ExecutionID),
		)
		o.handOff(ctx, out, logger)
	}
	metrics.ObserveOutcome(outcome.Kind(), o.clock.Now().Sub(start))
	return outcome
}

// attempt runs one session from launch to close. The session is closed on
// every return path before the caller decides whether to retry.
func (o *Orchestrator) attempt(ctx context.Context, p plan, logger *zap.Logger) (fetch.Outcome, error) {
	cfg := o.builder.Build(p.options)
	logger.Debug("session configured",
		zap.Bool("headless", cfg.Headless),
		zap.Bool("proxied", cfg.HasProxy()),
		zap.Stringer("viewport", cfg.Viewport),
	)

	if o.limiter != nil {
		if err := o.limiter.Wait(ctx, p.req.URL); err != nil {
			return nil, err
		}
	}
	if err := o.acquire(ctx); err != nil {
		return nil, err
	}
	defer o.release()

	attemptCtx := ctx
	if cfg.SessionTimeout > 0 {
		var cancel context.CancelFunc
		attemptCtx, cancel = context.WithTimeout(ctx, cfg.SessionTimeout)
		defer cancel()
	}

	sess, err := o.launcher.Launch(attemptCtx, cfg)
	if err != nil {
		return nil, fmt.Errorf("launch session: %w", err)
	}
	metrics.IncSessions()
	defer func() {
		if err := sess.Close(); err != nil {
			logger.Debug("session close failed", zap.Error(err))
		}
		metrics.DecSessions()
	}()

	return o.drive(attemptCtx, sess, cfg, p, logger)
}

func (o *Orchestrator) drive(ctx context.Context, sess fetch.Session, cfg fetch.SessionConfig, p plan, logger *zap.Logger) (fetch.Outcome, error) {
	if err := o.clock.Sleep(ctx, fetch.Between(o.rnd, o.cfg.PreNavigateMin, o.cfg.PreNavigateMax)); err != nil {
		return nil, fmt.Errorf("pre-navigation delay: %w", err)
	}

	logger.Debug("navigating")
	if err := sess.Navigate(ctx, p.req.URL); err != nil {
		return nil, err
	}

	html, err := sess.HTML(ctx)
	if err != nil {
		return nil, err
	}
	if det := o.detector.Detect(html); det.Found {
		return &fetch.Challenge{
			URL:         p.req.URL,
			HTML:        html,
			Screenshot:  o.challengeScreenshot(ctx, sess, logger),
			Reason:      det.Reason,
			ExecutionID: p.req.ExecutionID,
			UserAgent:   cfg.UserAgent,
			Viewport:    cfg.Viewport,
		}, nil
	}

	logger.Debug("simulating")
	o.simulator.Simulate(ctx, sess)
	if err := o.clock.Sleep(ctx, fetch.Between(o.rnd, o.cfg.SettleMin, o.cfg.SettleMax)); err != nil {
		return nil, fmt.Errorf("settle delay: %w", err)
	}

	if selector := strings.TrimSpace(p.req.WaitForSelector); selector != "" {
		waitCtx, cancel := context.WithTimeout(ctx, p.selectorTimeout)
		err := sess.WaitVisible(waitCtx, selector)
		cancel()
		if err != nil {
			logger.Debug("marker not visible, extracting anyway",
				zap.String("selector", selector),
				zap.Error(err),
			)
		}
	}

	logger.Debug("extracting")
	html, err = sess.HTML(ctx)
	if err != nil {
		return nil, err
	}

	var shot *fetch.Screenshot
	if p.req.Screenshot {
		data, err := sess.Screenshot(ctx, true)
		if err != nil {
			logger.Debug("screenshot omitted", zap.Error(err))
		} else {
			shot = fetch.NewScreenshot(data)
		}
	}

	return &fetch.Success{
		URL:        p.req.URL,
		HTML:       html,
		Screenshot: shot,
		UserAgent:  cfg.UserAgent,
		Viewport:   cfg.Viewport,
	}, nil
}

func (o *Orchestrator) challengeScreenshot(ctx context.Context, sess fetch.Session, logger *zap.Logger) *fetch.Screenshot {
	if o.cfg.ChallengeScreenshot == ScreenshotNone {
		return nil
	}
	data, err := sess.Screenshot(ctx, o.cfg.ChallengeScreenshot == ScreenshotFull)
	if err != nil {
		logger.Debug("challenge screenshot omitted", zap.Error(err))
		return nil
	}
	return fetch.NewScreenshot(data)
}

// handOff stores the challenge and tells the notifier. Neither step can
// change the outcome.
func (o *Orchestrator) handOff(ctx context.Context, c *fetch.Challenge, logger *zap.Logger) {
	if c.ExecutionID == "" {
		return
	}
	if o.store != nil {
		o.store.PutChallenge(c)
	}
	if o.notifier == nil {
		return
	}
	notice := fetch.ChallengeNotice{
		ExecutionID:   c.ExecutionID,
		URL:           c.URL,
		Reason:        c.Reason,
		CapturedAt:    o.clock.Now(),
		HTMLLength:    len(c.HTML),
		HasScreenshot: c.Screenshot != nil,
	}
	if err := o.notifier.NotifyChallenge(context.WithoutCancel(ctx), notice); err != nil {
		metrics.ObserveNotifyError()
		logger.Warn("challenge notification failed", zap.Error(err))
	}
}

func (o *Orchestrator) acquire(ctx context.Context) error {
	if o.sem == nil {
		return nil
	}
	if err := o.sem.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("wait for session slot: %w", err)
	}
	return nil
}

func (o *Orchestrator) release() {
	if o.sem != nil {
		o.sem.Release(1)
	}
}

func (o *Orchestrator) fetchID(req fetch.Request) string {
	if req.ExecutionID != "" {
		return req.ExecutionID
	}
	if o.ids != nil {
		if id, err := o.ids.NewID(); err == nil {
			return id
		}
	}
	return "unknown"
}

type noopSimulator struct{}

func (noopSimulator) Simulate(context.Context, fetch.Page) {}
