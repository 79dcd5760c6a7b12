package behavior

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/stealthfetch/internal/fetch"
)

type fakePage struct {
	viewport  fetch.Viewport
	height    int
	moves     []point
	scrolls   []int
	moveErr   error
	scrollErr error
	heightErr error
	viewErr   error
}

func (p *fakePage) ViewportSize(context.Context) (fetch.Viewport, error) {
	return p.viewport, p.viewErr
}

func (p *fakePage) MoveMouse(_ context.Context, x, y float64) error {
	if p.moveErr != nil {
		return p.moveErr
	}
	p.moves = append(p.moves, point{x: x, y: y})
	return nil
}

func (p *fakePage) ScrollBy(_ context.Context, dy int) error {
	if p.scrollErr != nil {
		return p.scrollErr
	}
	p.scrolls = append(p.scrolls, dy)
	return nil
}

func (p *fakePage) ScrollHeight(context.Context) (int, error) {
	return p.height, p.heightErr
}

type fakeClock struct {
	sleeps []time.Duration
	err    error
}

func (c *fakeClock) Now() time.Time { return time.Unix(0, 0) }

func (c *fakeClock) Sleep(_ context.Context, d time.Duration) error {
	c.sleeps = append(c.sleeps, d)
	return c.err
}

type fixedRand struct{ n int }

func (r fixedRand) IntN(n int) int { return r.n % n }

func TestSimulate_MouseArcsAndScroll(t *testing.T) {
	t.Parallel()

	page := &fakePage{viewport: fetch.Viewport{Width: 1000, Height: 800}, height: 1000}
	clock := &fakeClock{}
	sim := New(Config{}, clock, fixedRand{n: 100}, nil)

	sim.Simulate(context.Background(), page)

	require.Len(t, page.moves, 5*20)
	last := page.moves[19]
	require.InDelta(t, 100, last.x, 1e-9)
	require.InDelta(t, 100, last.y, 1e-9)

	// step = 150+100 = 250; 1000px takes 4 steps, then a 100px correction.
	require.Equal(t, []int{250, 250, 250, 250, -100}, page.scrolls)
	// 5 arc pauses + 4 scroll pauses + 1 read pause.
	require.Len(t, clock.sleeps, 10)
	require.Equal(t, 300*time.Millisecond, clock.sleeps[0])
	require.Equal(t, 600*time.Millisecond, clock.sleeps[len(clock.sleeps)-1])
}

func TestSimulate_MouseFailureDoesNotStopScroll(t *testing.T) {
	t.Parallel()

	page := &fakePage{
		viewport: fetch.Viewport{Width: 1000, Height: 800},
		height:   300,
		moveErr:  errors.New("target closed"),
	}
	sim := New(Config{}, &fakeClock{}, fixedRand{n: 0}, nil)

	require.NotPanics(t, func() { sim.Simulate(context.Background(), page) })
	require.Empty(t, page.moves)
	require.Equal(t, []int{150, 150}, page.scrolls)
}

func TestSimulate_ScrollFailureIsSwallowed(t *testing.T) {
	t.Parallel()

	page := &fakePage{
		viewport:  fetch.Viewport{Width: 100, Height: 100},
		heightErr: errors.New("eval failed"),
	}
	sim := New(Config{Arcs: 1, StepsPerArc: 2}, &fakeClock{}, fixedRand{n: 1}, nil)
	sim.Simulate(context.Background(), page)

	require.Len(t, page.moves, 2)
	require.Empty(t, page.scrolls)
}

func TestSimulate_CanceledSleepAbortsPhase(t *testing.T) {
	t.Parallel()

	page := &fakePage{viewport: fetch.Viewport{Width: 100, Height: 100}, height: 10_000}
	clock := &fakeClock{err: context.Canceled}
	sim := New(Config{Arcs: 3, StepsPerArc: 1}, clock, fixedRand{n: 1}, nil)
	sim.Simulate(context.Background(), page)

	require.Len(t, page.moves, 1)
	require.Len(t, page.scrolls, 1)
}

func TestSimulate_MaxScrollStepsCapsInfinitePages(t *testing.T) {
	t.Parallel()

	page := &fakePage{viewport: fetch.Viewport{Width: 10, Height: 10}, height: math.MaxInt32}
	sim := New(Config{DisableMouse: true, MaxScrollSteps: 3}, &fakeClock{}, fixedRand{n: 0}, nil)
	sim.Simulate(context.Background(), page)

	require.Equal(t, []int{150, 150, 150}, page.scrolls)
}

func TestSimulate_EmptyViewportSkipsMouse(t *testing.T) {
	t.Parallel()

	page := &fakePage{}
	sim := New(Config{DisableScroll: true}, &fakeClock{}, fixedRand{}, nil)
	sim.Simulate(context.Background(), page)
	require.Empty(t, page.moves)
	require.Empty(t, page.scrolls)
}

func TestArcEndsOnTarget(t *testing.T) {
	t.Parallel()

	pts := arc(point{0, 0}, point{50, 100}, point{100, 0}, 4)
	require.Len(t, pts, 4)
	require.Equal(t, point{100, 0}, pts[3])
	require.InDelta(t, 50, pts[1].x, 1e-9)
	require.InDelta(t, 50, pts[1].y, 1e-9)
}
