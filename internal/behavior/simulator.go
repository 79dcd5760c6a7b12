// Package behavior drives human-like cursor and scroll activity on a page.
// Every phase is best-effort: failures are logged and swallowed.
package behavior

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/stealthfetch/internal/fetch"
)

// Config tunes the simulator. Zero values fall back to defaults.
type Config struct {
	Arcs           int
	StepsPerArc    int
	MaxScrollSteps int
	DisableMouse   bool
	DisableScroll  bool
}

// Timing bounds for the randomized pauses.
const (
	arcPauseMin    = 200 * time.Millisecond
	arcPauseMax    = 600 * time.Millisecond
	scrollStepMin  = 150
	scrollStepMax  = 349
	scrollPauseMin = 150 * time.Millisecond
	scrollPauseMax = 550 * time.Millisecond
	backScrollMax  = 199
	readPauseMin   = 500 * time.Millisecond
	readPauseMax   = 1300 * time.Millisecond
)

// Simulator implements fetch.Simulator.
type Simulator struct {
	cfg    Config
	clock  fetch.Clock
	rnd    fetch.Randomizer
	logger *zap.Logger
}

// New constructs a Simulator.
func New(cfg Config, clock fetch.Clock, rnd fetch.Randomizer, logger *zap.Logger) *Simulator {
	if cfg.Arcs <= 0 {
		cfg.Arcs = 5
	}
	if cfg.StepsPerArc <= 0 {
		cfg.StepsPerArc = 20
	}
	if cfg.MaxScrollSteps <= 0 {
		cfg.MaxScrollSteps = 200
	}
	if rnd == nil {
		rnd = fetch.GlobalRand{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Simulator{cfg: cfg, clock: clock, rnd: rnd, logger: logger}
}

// Simulate runs the cursor phase and then the scroll phase.
func (s *Simulator) Simulate(ctx context.Context, page fetch.Page) {
	if !s.cfg.DisableMouse {
		if err := s.moveMouse(ctx, page); err != nil {
			s.logger.Debug("mouse simulation aborted", zap.Error(err))
		}
	}
	if !s.cfg.DisableScroll {
		if err := s.scroll(ctx, page); err != nil {
			s.logger.Debug("scroll simulation aborted", zap.Error(err))
		}
	}
}

func (s *Simulator) moveMouse(ctx context.Context, page fetch.Page) error {
	vp, err := page.ViewportSize(ctx)
	if err != nil {
		return fmt.Errorf("viewport size: %w", err)
	}
	if vp.IsZero() {
		return fmt.Errorf("empty viewport %s", vp)
	}
	from := point{x: float64(vp.Width) / 2, y: float64(vp.Height) / 2}
	for i := 0; i < s.cfg.Arcs; i++ {
		to := point{x: float64(s.rnd.IntN(vp.Width)), y: float64(s.rnd.IntN(vp.Height))}
		ctrl := point{x: float64(s.rnd.IntN(vp.Width)), y: float64(s.rnd.IntN(vp.Height))}
		for _, p := range arc(from, ctrl, to, s.cfg.StepsPerArc) {
			if err := page.MoveMouse(ctx, p.x, p.y); err != nil {
				return fmt.Errorf("move mouse: %w", err)
			}
		}
		from = to
		if err := s.clock.Sleep(ctx, fetch.Between(s.rnd, arcPauseMin, arcPauseMax)); err != nil {
			return fmt.Errorf("arc pause: %w", err)
		}
	}
	return nil
}

func (s *Simulator) scroll(ctx context.Context, page fetch.Page) error {
	height, err := page.ScrollHeight(ctx)
	if err != nil {
		return fmt.Errorf("scroll height: %w", err)
	}
	step := fetch.IntBetween(s.rnd, scrollStepMin, scrollStepMax)
	steps := 0
	for pos := 0; pos < height && steps < s.cfg.MaxScrollSteps; pos += step {
		if err := page.ScrollBy(ctx, step); err != nil {
			return fmt.Errorf("scroll by %d: %w", step, err)
		}
		steps++
		if err := s.clock.Sleep(ctx, fetch.Between(s.rnd, scrollPauseMin, scrollPauseMax)); err != nil {
			return fmt.Errorf("scroll pause: %w", err)
		}
	}
	if back := s.rnd.IntN(backScrollMax + 1); back > 0 {
		if err := page.ScrollBy(ctx, -back); err != nil {
			return fmt.Errorf("scroll back: %w", err)
		}
	}
	if err := s.clock.Sleep(ctx, fetch.Between(s.rnd, readPauseMin, readPauseMax)); err != nil {
		return fmt.Errorf("read pause: %w", err)
	}
	return nil
}

type point struct {
	x, y float64
}

// arc samples a quadratic Bezier curve from a to b bent towards ctrl,
// excluding the start point and ending exactly on b.
func arc(a, ctrl, b point, steps int) []point {
	out := make([]point, 0, steps)
	for i := 1; i <= steps; i++ {
		t := float64(i) / float64(steps)
		mt := 1 - t
		out = append(out, point{
			x: mt*mt*a.x + 2*mt*t*ctrl.x + t*t*b.x,
			y: mt*mt*a.y + 2*mt*t*ctrl.y + t*t*b.y,
		})
	}
	return out
}
