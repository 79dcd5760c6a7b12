package api

import (
	"context"
	"fmt"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/stealthfetch/internal/captcha"
	"github.com/JakeFAU/stealthfetch/internal/detector"
	"github.com/JakeFAU/stealthfetch/internal/fetch"
	"github.com/JakeFAU/stealthfetch/internal/orchestrator"
	"github.com/JakeFAU/stealthfetch/internal/session"
)

// instantClock reports a fixed time and never waits.
type instantClock struct{ now time.Time }

func (c instantClock) Now() time.Time { return c.now }

func (instantClock) Sleep(ctx context.Context, _ time.Duration) error { return ctx.Err() }

// slowFailingLauncher takes delay to fail every launch.
type slowFailingLauncher struct {
	delay    time.Duration
	launches atomic.Int32
}

func (l *slowFailingLauncher) Launch(ctx context.Context, _ fetch.SessionConfig) (fetch.Session, error) {
	n := l.launches.Add(1)
	select {
	case <-time.After(l.delay):
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return nil, fmt.Errorf("chrome failed to start (attempt %d)", n)
}

func newOrchestratedServer(t *testing.T, launcher fetch.Launcher, opts Options) *Server {
	t.Helper()
	clk := instantClock{now: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
	orch, err := orchestrator.New(orchestrator.Config{DefaultRetries: 2}, orchestrator.Deps{
		Builder:  session.NewBuilder(session.Config{}, nil, nil),
		Launcher: launcher,
		Detector: detector.NewDefault(nil, nil),
		Clock:    clk,
	})
	require.NoError(t, err)
	return NewServer(orch, captcha.NewStore(clk, captcha.DefaultRetention), clk, opts, nil)
}

func TestFetchRunsEveryAttemptBeyondRequestTimeout(t *testing.T) {
	t.Parallel()

	launcher := &slowFailingLauncher{delay: 40 * time.Millisecond}
	srv := newOrchestratedServer(t, launcher, Options{RequestTimeout: 100 * time.Millisecond})
	h := &harness{srv: srv}

	rr := h.do(t, http.MethodPost, "/html", `{"url":"https://slow.example","retries":"4"}`, nil)

	require.Equal(t, http.StatusInternalServerError, rr.Code, rr.Body.String())
	body := decode(t, rr)
	require.Equal(t, false, body["success"])
	require.Equal(t, "launch session: chrome failed to start (attempt 5)", body["error"])
	require.Equal(t, int32(5), launcher.launches.Load())
}
