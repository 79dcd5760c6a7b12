package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/stealthfetch/internal/captcha"
	"github.com/JakeFAU/stealthfetch/internal/fetch"
	"github.com/JakeFAU/stealthfetch/internal/metrics"
)

// Fetcher runs one fetch request to an outcome.
type Fetcher interface {
	Fetch(ctx context.Context, req fetch.Request) (fetch.Outcome, error)
}

// Clock reports the current time.
type Clock interface {
	Now() time.Time
}

// Options tune the HTTP surface.
type Options struct {
	// AuthToken, when set, is required as a Bearer token or X-API-Key header.
	AuthToken    string
	MaxBodyBytes int64
	// RequestTimeout bounds the captcha artifact routes. Fetch routes are
	// not subject to it.
	RequestTimeout time.Duration
}

// Server wires HTTP handlers to the orchestrator and the artifact store.
type Server struct {
	router  chi.Router
	fetcher Fetcher
	store   *captcha.Store
	clock   Clock
	opts    Options
	logger  *zap.Logger
	started time.Time
}

// NewServer constructs a Server with middleware and routes.
func NewServer(fetcher Fetcher, store *captcha.Store, clock Clock, opts Options, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = 5 << 20
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 5 * time.Minute
	}
	s := &Server{
		fetcher: fetcher,
		store:   store,
		clock:   clock,
		opts:    opts,
		logger:  logger.Named("api"),
		started: clock.Now(),
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(s.logger))
	r.Use(recoverMiddleware(s.logger))
	r.Use(metrics.Middleware)

	r.Get("/health", s.health)
	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Group(func(r chi.Router) {
		r.Use(maxBodyMiddleware(opts.MaxBodyBytes))
		if opts.AuthToken != "" {
			r.Use(authMiddleware(opts.AuthToken))
		}

		// Fetches are bounded by the per-attempt session timeout and the
		// retry budget, not by a request deadline.
		r.Post("/html", s.fetchHTML)
		r.Post("/screenshot", s.fetchScreenshot)

		r.Group(func(r chi.Router) {
			r.Use(timeoutMiddleware(opts.RequestTimeout))

			r.Post("/captcha", s.submitCaptcha)
			r.Get("/captchas", s.listCaptchas)
			r.Route("/captcha/{executionId}", func(r chi.Router) {
				r.Get("/", s.getCaptchaHTML)
				r.Delete("/", s.deleteCaptcha)
				r.Get("/info", s.getCaptchaInfo)
				r.Get("/screenshot", s.getCaptchaScreenshot)
			})
		})
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

type healthResponse struct {
	Status         string  `json:"status"`
	CaptchasStored int     `json:"captchasStored"`
	Uptime         float64 `json:"uptime"`
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, healthResponse{
		Status:         "ok",
		CaptchasStored: s.store.Len(),
		Uptime:         s.clock.Now().Sub(s.started).Seconds(),
	})
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("write JSON failed", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]any{"success": false, "error": msg})
}
