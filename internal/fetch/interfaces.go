package fetch

import (
	"context"
	"time"
)

// Launcher starts one isolated browser session from a launch profile.
type Launcher interface {
	Launch(ctx context.Context, cfg SessionConfig) (Session, error)
}

// Page is the interaction surface used for human-like behavior.
type Page interface {
	ViewportSize(ctx context.Context) (Viewport, error)
	MoveMouse(ctx context.Context, x, y float64) error
	ScrollBy(ctx context.Context, dy int) error
	ScrollHeight(ctx context.Context) (int, error)
}

// Session is one live browser instance used for exactly one attempt.
// Close must be safe to call more than once.
type Session interface {
	Page
	Navigate(ctx context.Context, url string) error
	HTML(ctx context.Context) (string, error)
	Screenshot(ctx context.Context, fullPage bool) ([]byte, error)
	WaitVisible(ctx context.Context, selector string) error
	Close() error
}

// Detector decides whether markup is an anti-bot challenge page.
type Detector interface {
	Detect(html string) Detection
}

// Simulator performs best-effort human-like interaction on a page.
type Simulator interface {
	Simulate(ctx context.Context, page Page)
}

// Clock returns the current time and waits (useful for testing).
type Clock interface {
	Now() time.Time
	Sleep(ctx context.Context, d time.Duration) error
}

// Randomizer supplies the randomness behind fingerprints and timing.
type Randomizer interface {
	// IntN returns a value in [0, n). n must be > 0.
	IntN(n int) int
}

// ProxySelector hands out proxy addresses in rotation.
type ProxySelector interface {
	Next() string
}

// ChallengeStore keeps challenge artifacts for out-of-band resolution.
type ChallengeStore interface {
	PutChallenge(challenge *Challenge)
}

// Notifier tells external workflows about newly stored challenges.
type Notifier interface {
	NotifyChallenge(ctx context.Context, notice ChallengeNotice) error
}

// HostLimiter throttles session launches per target host.
type HostLimiter interface {
	Wait(ctx context.Context, url string) error
}

// IDGenerator produces identifiers for log correlation.
type IDGenerator interface {
	NewID() (string, error)
}
