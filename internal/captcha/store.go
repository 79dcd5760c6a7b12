// Package captcha retains snapshots of detected anti-bot challenges so that
// an external workflow can resolve them. Records live in memory only and are
// evicted once they exceed the retention window.
package captcha

import (
	"sort"
	"sync"
	"time"

	"github.com/JakeFAU/stealthfetch/internal/fetch"
	"github.com/JakeFAU/stealthfetch/internal/metrics"
)

// DefaultRetention is how long a record survives before a sweep removes it.
const DefaultRetention = 24 * time.Hour

// Record sources.
const (
	SourceDetected  = "detected"
	SourceSubmitted = "submitted"
)

// Record is one stored challenge artifact.
type Record struct {
	ExecutionID string
	HTML        string
	URL         string
	Screenshot  *fetch.Screenshot
	CapturedAt  time.Time
	UserAgent   string
	Viewport    *fetch.Viewport
	Reason      string
	Source      string
}

// Entry is a listed record with its age at listing time.
type Entry struct {
	Record
	Age time.Duration
}

type clock interface {
	Now() time.Time
}

// Store is a concurrency-safe, keyed artifact store.
type Store struct {
	mu        sync.RWMutex
	records   map[string]Record
	clock     clock
	retention time.Duration
}

// NewStore creates an empty Store.
func NewStore(clk clock, retention time.Duration) *Store {
	if retention <= 0 {
		retention = DefaultRetention
	}
	return &Store{
		records:   make(map[string]Record),
		clock:     clk,
		retention: retention,
	}
}

// Put inserts rec, fully replacing any record with the same execution ID.
// A zero CapturedAt is stamped with the current time.
func (s *Store) Put(rec Record) {
	if rec.CapturedAt.IsZero() {
		rec.CapturedAt = s.clock.Now()
	}
	if rec.Screenshot != nil {
		rec.Screenshot = fetch.NewScreenshot(rec.Screenshot.Data)
	}
	if rec.Viewport != nil {
		vp := *rec.Viewport
		rec.Viewport = &vp
	}
	s.mu.Lock()
	s.records[rec.ExecutionID] = rec
	n := len(s.records)
	s.mu.Unlock()
	metrics.SetCaptchaRecords(n)
}

// PutChallenge implements fetch.ChallengeStore.
func (s *Store) PutChallenge(c *fetch.Challenge) {
	if c == nil || c.ExecutionID == "" {
		return
	}
	vp := c.Viewport
	rec := Record{
		ExecutionID: c.ExecutionID,
		HTML:        c.HTML,
		URL:         c.URL,
		Screenshot:  c.Screenshot,
		UserAgent:   c.UserAgent,
		Reason:      c.Reason,
		Source:      SourceDetected,
	}
	if !vp.IsZero() {
		rec.Viewport = &vp
	}
	s.Put(rec)
}

// Get returns the record for id, if present.
func (s *Store) Get(id string) (Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[id]
	return rec, ok
}

// Delete removes the record for id and reports whether one existed.
func (s *Store) Delete(id string) bool {
	s.mu.Lock()
	_, ok := s.records[id]
	delete(s.records, id)
	n := len(s.records)
	s.mu.Unlock()
	if ok {
		metrics.SetCaptchaRecords(n)
	}
	return ok
}

// List returns every record, oldest first, with its current age.
func (s *Store) List() []Entry {
	now := s.clock.Now()
	s.mu.RLock()
	out := make([]Entry, 0, len(s.records))
	for _, rec := range s.records {
		out = append(out, Entry{Record: rec, Age: now.Sub(rec.CapturedAt)})
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].CapturedAt.Equal(out[j].CapturedAt) {
			return out[i].ExecutionID < out[j].ExecutionID
		}
		return out[i].CapturedAt.Before(out[j].CapturedAt)
	})
	return out
}

// Len returns the number of stored records.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// Retention returns the configured retention window.
func (s *Store) Retention() time.Duration {
	return s.retention
}

// Sweep removes every record captured more than the retention window before
// now and returns how many were removed.
func (s *Store) Sweep(now time.Time) int {
	cutoff := now.Add(-s.retention)
	s.mu.Lock()
	removed := 0
	for id, rec := range s.records {
		if rec.CapturedAt.Before(cutoff) {
			delete(s.records, id)
			removed++
		}
	}
	n := len(s.records)
	s.mu.Unlock()
	metrics.SetCaptchaRecords(n)
	metrics.ObserveCaptchaEvictions(removed)
	return removed
}
