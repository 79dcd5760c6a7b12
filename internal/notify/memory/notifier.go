// Package memory contains an in-memory challenge notifier for tests and
// local runs without a message broker.
package memory

import (
	"context"
	"sync"

	"github.com/JakeFAU/stealthfetch/internal/fetch"
)

// DefaultCapacity is how many recent notices New keeps.
const DefaultCapacity = 256

// Notifier keeps the most recent notices for inspection. Older notices are
// dropped once capacity is reached.
type Notifier struct {
	mu       sync.RWMutex
	notices  []fetch.ChallengeNotice
	next     int
	capacity int
	err      error
}

// New returns a memory Notifier holding up to DefaultCapacity notices.
func New() *Notifier {
	return NewWithCapacity(DefaultCapacity)
}

// NewWithCapacity returns a memory Notifier holding up to capacity notices.
// A non-positive capacity falls back to DefaultCapacity.
func NewWithCapacity(capacity int) *Notifier {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Notifier{
		notices:  make([]fetch.ChallengeNotice, 0, capacity),
		capacity: capacity,
	}
}

// FailWith makes every later NotifyChallenge call return err.
func (n *Notifier) FailWith(err error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.err = err
}

// NotifyChallenge implements fetch.Notifier.
func (n *Notifier) NotifyChallenge(_ context.Context, notice fetch.ChallengeNotice) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.err != nil {
		return n.err
	}
	if len(n.notices) < n.capacity {
		n.notices = append(n.notices, notice)
		return nil
	}
	n.notices[n.next] = notice
	n.next = (n.next + 1) % n.capacity
	return nil
}

// Notices returns the retained notices, oldest first.
func (n *Notifier) Notices() []fetch.ChallengeNotice {
	n.mu.RLock()
	defer n.mu.RUnlock()
	out := make([]fetch.ChallengeNotice, 0, len(n.notices))
	out = append(out, n.notices[n.next:]...)
	out = append(out, n.notices[:n.next]...)
	return out
}
