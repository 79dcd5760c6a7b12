package captcha

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/stealthfetch/internal/fetch"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestStore() (*Store, *fakeClock) {
	clk := &fakeClock{now: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)}
	return NewStore(clk, 0), clk
}

func TestStore_PutGetDelete(t *testing.T) {
	t.Parallel()

	store, clk := newTestStore()
	store.Put(Record{ExecutionID: "exec-1", HTML: "<html>captcha</html>", URL: "https://example.com"})

	rec, ok := store.Get("exec-1")
	require.True(t, ok)
	require.Equal(t, "<html>captcha</html>", rec.HTML)
	require.Equal(t, "https://example.com", rec.URL)
	require.Equal(t, clk.Now(), rec.CapturedAt)

	require.True(t, store.Delete("exec-1"))
	_, ok = store.Get("exec-1")
	require.False(t, ok)
	require.False(t, store.Delete("exec-1"))
}

func TestStore_PutReplacesPriorRecord(t *testing.T) {
	t.Parallel()

	store, _ := newTestStore()
	store.Put(Record{
		ExecutionID: "exec-1",
		HTML:        "old",
		URL:         "https://old.example.com",
		Screenshot:  fetch.NewScreenshot([]byte("png")),
		UserAgent:   "ua-old",
	})
	store.Put(Record{ExecutionID: "exec-1", HTML: "new", URL: "https://new.example.com"})

	rec, ok := store.Get("exec-1")
	require.True(t, ok)
	require.Equal(t, "new", rec.HTML)
	require.Equal(t, "https://new.example.com", rec.URL)
	require.Nil(t, rec.Screenshot)
	require.Empty(t, rec.UserAgent)
	require.Equal(t, 1, store.Len())
}

func TestStore_PutCopiesScreenshot(t *testing.T) {
	t.Parallel()

	store, _ := newTestStore()
	shot := &fetch.Screenshot{Data: []byte("png")}
	store.Put(Record{ExecutionID: "exec-2", Screenshot: shot})
	shot.Data[0] = 'X'

	rec, _ := store.Get("exec-2")
	require.Equal(t, []byte("png"), rec.Screenshot.Data)
}

func TestStore_SweepRemovesOnlyExpired(t *testing.T) {
	t.Parallel()

	store, clk := newTestStore()
	now := clk.Now()
	store.Put(Record{ExecutionID: "stale", CapturedAt: now.Add(-25 * time.Hour)})
	store.Put(Record{ExecutionID: "fresh", CapturedAt: now.Add(-time.Minute)})
	store.Put(Record{ExecutionID: "edge", CapturedAt: now.Add(-DefaultRetention)})

	removed := store.Sweep(now)

	require.Equal(t, 1, removed)
	_, ok := store.Get("stale")
	require.False(t, ok)
	_, ok = store.Get("fresh")
	require.True(t, ok)
	_, ok = store.Get("edge")
	require.True(t, ok)
}

func TestStore_ListReportsAgeOldestFirst(t *testing.T) {
	t.Parallel()

	store, clk := newTestStore()
	store.Put(Record{ExecutionID: "b", URL: "https://b"})
	clk.Advance(time.Minute)
	store.Put(Record{ExecutionID: "a", URL: "https://a"})
	clk.Advance(time.Minute)

	entries := store.List()
	require.Len(t, entries, 2)
	require.Equal(t, "b", entries[0].ExecutionID)
	require.Equal(t, 2*time.Minute, entries[0].Age)
	require.Equal(t, "a", entries[1].ExecutionID)
	require.Equal(t, time.Minute, entries[1].Age)
}

func TestStore_PutChallenge(t *testing.T) {
	t.Parallel()

	store, _ := newTestStore()
	store.PutChallenge(&fetch.Challenge{HTML: "no id"})
	store.PutChallenge(nil)
	require.Equal(t, 0, store.Len())

	store.PutChallenge(&fetch.Challenge{
		ExecutionID: "exec-3",
		URL:         "https://example.com",
		HTML:        "<div class=g-recaptcha>",
		Reason:      "keyword:recaptcha",
		UserAgent:   "ua",
		Viewport:    fetch.Viewport{Width: 1366, Height: 768},
	})
	rec, ok := store.Get("exec-3")
	require.True(t, ok)
	require.Equal(t, SourceDetected, rec.Source)
	require.Equal(t, "keyword:recaptcha", rec.Reason)
	require.Equal(t, &fetch.Viewport{Width: 1366, Height: 768}, rec.Viewport)
}

func TestStore_ConcurrentPuts(t *testing.T) {
	t.Parallel()

	store, _ := newTestStore()
	var wg sync.WaitGroup
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("exec-%d", i%8)
			store.Put(Record{ExecutionID: id, HTML: id})
		}(i)
	}
	wg.Wait()

	require.Equal(t, 8, store.Len())
	for i := 0; i < 8; i++ {
		id := fmt.Sprintf("exec-%d", i)
		rec, ok := store.Get(id)
		require.True(t, ok)
		require.Equal(t, id, rec.HTML)
	}
}
