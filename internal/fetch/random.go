package fetch

import (
	"math/rand/v2"
	"time"
)

// GlobalRand implements Randomizer with the goroutine-safe math/rand/v2 source.
type GlobalRand struct{}

// IntN implements Randomizer.
func (GlobalRand) IntN(n int) int {
	return rand.IntN(n)
}

// Between returns a duration in [lo, hi]. It returns lo when hi <= lo.
func Between(r Randomizer, lo, hi time.Duration) time.Duration {
	if hi <= lo {
		return lo
	}
	span := int((hi - lo) / time.Millisecond)
	if span <= 0 {
		return lo
	}
	return lo + time.Duration(r.IntN(span+1))*time.Millisecond
}

// IntBetween returns an int in [lo, hi]. It returns lo when hi <= lo.
func IntBetween(r Randomizer, lo, hi int) int {
	if hi <= lo {
		return lo
	}
	return lo + r.IntN(hi-lo+1)
}

// Pick returns a uniformly chosen element. items must be non-empty.
func Pick[T any](r Randomizer, items []T) T {
	return items[r.IntN(len(items))]
}
