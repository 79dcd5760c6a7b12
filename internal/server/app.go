// Package server builds the application's dependency graph and runs the HTTP
// server until the process is signaled.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"cloud.google.com/go/pubsub"
	"go.uber.org/zap"

	"github.com/JakeFAU/stealthfetch/internal/api"
	"github.com/JakeFAU/stealthfetch/internal/behavior"
	"github.com/JakeFAU/stealthfetch/internal/browser/headless"
	"github.com/JakeFAU/stealthfetch/internal/browser/stealthrod"
	"github.com/JakeFAU/stealthfetch/internal/captcha"
	"github.com/JakeFAU/stealthfetch/internal/clock/system"
	"github.com/JakeFAU/stealthfetch/internal/config"
	"github.com/JakeFAU/stealthfetch/internal/detector"
	"github.com/JakeFAU/stealthfetch/internal/fetch"
	"github.com/JakeFAU/stealthfetch/internal/id/uuid"
	"github.com/JakeFAU/stealthfetch/internal/logging"
	"github.com/JakeFAU/stealthfetch/internal/metrics"
	memorynotify "github.com/JakeFAU/stealthfetch/internal/notify/memory"
	pubsubnotify "github.com/JakeFAU/stealthfetch/internal/notify/pubsub"
	"github.com/JakeFAU/stealthfetch/internal/orchestrator"
	"github.com/JakeFAU/stealthfetch/internal/policy/ratelimit"
	"github.com/JakeFAU/stealthfetch/internal/proxy"
	"github.com/JakeFAU/stealthfetch/internal/session"
)

// App contains the application's dependencies.
type App struct {
	cfg            *config.Config
	logger         *zap.Logger
	apiServer      *api.Server
	sweeper        *captcha.Sweeper
	pubsubClient   *pubsub.Client
	pubsubNotifier *pubsubnotify.Notifier
}

// NewApp creates a new App with the given configuration.
func NewApp(cfg *config.Config, logger *zap.Logger) (*App, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	logger.Info("creating application",
		zap.Int("server_port", cfg.Server.Port),
		zap.String("engine", cfg.Browser.Engine),
		zap.Bool("proxy_enabled", cfg.Proxy.Enabled),
		zap.Bool("auth_enabled", cfg.Auth.Enabled),
		zap.String("notify_backend", cfg.Notify.Backend),
	)
	return &App{cfg: cfg, logger: logger}, nil
}

// Handler exposes the HTTP handler, mainly for tests.
func (a *App) Handler() http.Handler {
	return a.apiServer.Handler()
}

// Run starts the application and blocks until the context is canceled or a
// termination signal arrives.
func (a *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a.sweeper.Start()
	a.logger.Info("captcha sweeper started", zap.Duration("interval", a.cfg.Captcha.SweepInterval()))

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("http server error", zap.Error(err))
			errCh <- err
			stop()
		}
	}()

	<-ctx.Done()
	a.logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout())
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}
	closeErr := a.Close(shutdownCtx)

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	default:
		return closeErr
	}
}

// Close gracefully shuts down background work and external clients.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	if a.sweeper != nil {
		if err := a.sweeper.Stop(ctx); err != nil {
			a.logger.Warn("captcha sweeper stop failed", zap.Error(err))
			errs = append(errs, err)
		}
	}
	if a.pubsubNotifier != nil {
		a.pubsubNotifier.Stop()
	}
	if a.pubsubClient != nil {
		if err := a.pubsubClient.Close(); err != nil {
			a.logger.Warn("pubsub client close failed", zap.Error(err))
			errs = append(errs, err)
		}
	}
	if err := a.logger.Sync(); err != nil {
		a.logger.Debug("logger sync failed", zap.Error(err))
	}
	a.logger.Info("shutdown complete")
	return errors.Join(errs...)
}

// Build creates the application's dependencies.
func Build(ctx context.Context, cfg *config.Config) (*App, error) {
	logger, err := logging.New(logging.Config{
		Development: cfg.Logging.Development,
		Level:       cfg.Logging.Level,
	})
	if err != nil {
		return nil, fmt.Errorf("logger init failed: %w", err)
	}
	zap.ReplaceGlobals(logger)
	return BuildWithLogger(ctx, cfg, logger)
}

// BuildWithLogger creates the application's dependencies using logger.
func BuildWithLogger(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	app, err := NewApp(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("app init failed: %w", err)
	}
	metrics.Init()
	clock := system.New()

	store := captcha.NewStore(clock, cfg.Captcha.Retention())
	app.sweeper, err = captcha.NewSweeper(store, clock, cfg.Captcha.SweepInterval(), logger.Named("captcha"))
	if err != nil {
		return nil, err
	}

	notifier, err := setupNotifier(ctx, app)
	if err != nil {
		return nil, err
	}

	orch, err := setupOrchestrator(app, clock, store, notifier)
	if err != nil {
		return nil, err
	}

	token := ""
	if cfg.Auth.Enabled {
		token = cfg.Auth.APIKey
	}
	app.apiServer = api.NewServer(orch, store, clock, api.Options{
		AuthToken:      token,
		MaxBodyBytes:   cfg.Server.MaxBodyBytes,
		RequestTimeout: cfg.Server.RequestTimeout(),
	}, logger)

	return app, nil
}

func setupNotifier(ctx context.Context, app *App) (fetch.Notifier, error) {
	switch app.cfg.Notify.Backend {
	case config.NotifyPubSub:
		client, err := pubsub.NewClient(ctx, app.cfg.Notify.ProjectID)
		if err != nil {
			return nil, fmt.Errorf("pubsub client init failed: %w", err)
		}
		app.pubsubClient = client
		app.pubsubNotifier = pubsubnotify.New(client.Topic(app.cfg.Notify.Topic), app.cfg.Notify.Timeout())
		app.logger.Info("Pub/Sub challenge notifier initialized",
			zap.String("project", app.cfg.Notify.ProjectID),
			zap.String("topic", app.cfg.Notify.Topic),
		)
		return app.pubsubNotifier, nil
	case config.NotifyMemory:
		app.logger.Info("using in-memory challenge notifier")
		return memorynotify.New(), nil
	default:
		app.logger.Info("challenge notifications disabled")
		return nil, nil
	}
}

func setupOrchestrator(
	app *App,
	clock *system.Clock,
	store *captcha.Store,
	notifier fetch.Notifier,
) (*orchestrator.Orchestrator, error) {
	cfg := app.cfg
	rnd := fetch.GlobalRand{}

	var proxies fetch.ProxySelector
	if cfg.Proxy.Enabled && len(cfg.Proxy.Addresses) > 0 {
		pool, err := proxy.New(cfg.Proxy.Addresses)
		if err != nil {
			return nil, fmt.Errorf("proxy pool init failed: %w", err)
		}
		proxies = pool
		app.logger.Info("proxy pool initialized", zap.Int("size", pool.Len()))
	}

	builder := session.NewBuilder(session.Config{
		ExecPath:          cfg.Browser.ExecPath,
		NavigationTimeout: cfg.Browser.NavigationTimeout(),
		SessionTimeout:    cfg.Browser.SessionTimeout(),
		Viewports:         cfg.Browser.Viewports,
		UserAgents:        cfg.Browser.UserAgents,
	}, proxies, rnd)

	var launcher fetch.Launcher
	switch cfg.Browser.Engine {
	case config.EngineRod:
		launcher = stealthrod.NewLauncher(stealthrod.Config{AcceptLanguage: cfg.Browser.AcceptLanguage}, app.logger.Named("rod"))
	default:
		launcher = headless.NewLauncher(headless.Config{AcceptLanguage: cfg.Browser.AcceptLanguage}, app.logger.Named("chromedp"))
	}
	app.logger.Info("browser launcher selected",
		zap.String("engine", cfg.Browser.Engine),
		zap.String("exec_path", cfg.Browser.ExecPath),
		zap.Int("max_sessions", cfg.Browser.MaxSessions),
	)

	var simulator fetch.Simulator
	if cfg.Behavior.Enabled {
		simulator = behavior.New(behavior.Config{
			Arcs:           cfg.Behavior.Arcs,
			StepsPerArc:    cfg.Behavior.StepsPerArc,
			MaxScrollSteps: cfg.Behavior.MaxScrollSteps,
			DisableMouse:   cfg.Behavior.DisableMouse,
			DisableScroll:  cfg.Behavior.DisableScroll,
		}, clock, rnd, app.logger.Named("behavior"))
	}

	var limiter fetch.HostLimiter
	if cfg.RateLimit.PerHostRPS > 0 {
		limiter = ratelimit.New(ratelimit.Config{
			DefaultRPS:   cfg.RateLimit.PerHostRPS,
			DefaultBurst: cfg.RateLimit.Burst,
		})
		app.logger.Info("per-host rate limit enabled",
			zap.Float64("rps", cfg.RateLimit.PerHostRPS),
			zap.Int("burst", cfg.RateLimit.Burst),
		)
	}

	mode, err := orchestrator.ParseScreenshotMode(cfg.Fetch.ChallengeScreenshot)
	if err != nil {
		return nil, err
	}
	preMin, preMax := cfg.Fetch.PreNavigate()
	settleMin, settleMax := cfg.Fetch.Settle()
	backoffMin, backoffMax := cfg.Fetch.Backoff()

	deps := orchestrator.Deps{
		Builder:   builder,
		Launcher:  launcher,
		Detector:  detector.NewDefault(cfg.Detector.Keywords, cfg.Detector.Selectors),
		Simulator: simulator,
		Clock:     clock,
		Rand:      rnd,
		Store:     store,
		Notifier:  notifier,
		Limiter:   limiter,
		IDs:       uuid.New(),
		Logger:    app.logger.Named("orchestrator"),
	}
	return orchestrator.New(orchestrator.Config{
		DefaultRetries:      cfg.Fetch.Retries,
		MaxRetries:          cfg.Fetch.MaxRetries,
		DefaultHeadless:     cfg.Browser.DefaultHeadless,
		DefaultUseProxy:     cfg.Proxy.Enabled || cfg.Proxy.Override != "",
		ProxyOverride:       cfg.Proxy.Override,
		SelectorTimeout:     cfg.Fetch.SelectorTimeout(),
		PreNavigateMin:      preMin,
		PreNavigateMax:      preMax,
		SettleMin:           settleMin,
		SettleMax:           settleMax,
		BackoffMin:          backoffMin,
		BackoffMax:          backoffMax,
		ChallengeScreenshot: mode,
		MaxSessions:         int64(cfg.Browser.MaxSessions),
	}, deps)
}
