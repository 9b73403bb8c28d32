package memory

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/storefinder/internal/crawler"
)

type manualClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newClock() *manualClock {
	return &manualClock{now: time.Date(2024, 8, 11, 19, 22, 10, 0, time.UTC)}
}

var ref = crawler.SearchRef{Owner: "owner-1", ID: "0191442e-7c6b-7a3e-8a4f-3b1f7e0c2d11"}

func TestSessionStoreLifecycle(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	clk := newClock()
	store := NewSessionStore(clk)
	groups := []crawler.QueryGroup{{"usb cable"}}

	require.NoError(t, store.Create(ctx, ref, groups))
	require.Error(t, store.Create(ctx, ref, groups))
	exists, err := store.Exists(ctx, ref)
	require.NoError(t, err)
	require.True(t, exists)

	require.NoError(t, store.Append(ctx, ref, "one"))
	require.NoError(t, store.Append(ctx, ref, "two"))

	snap, err := store.Poll(ctx, ref)
	require.NoError(t, err)
	require.Equal(t, []string{"one", "two"}, snap.Messages)
	require.False(t, snap.Finished)
	require.Nil(t, snap.Result)

	snap, err = store.Poll(ctx, ref)
	require.NoError(t, err)
	require.Empty(t, snap.Messages)

	result := crawler.ResultSet{"https://store/1": {7: {ID: 7, Title: "cable"}}}
	require.NoError(t, store.Append(ctx, ref, "three"))
	require.NoError(t, store.SaveResult(ctx, ref, result))
	require.NoError(t, store.MarkFinished(ctx, ref, clk.Now()))
	result["https://store/1"][7] = crawler.Product{ID: 7, Title: "mutated"}

	snap, err = store.Poll(ctx, ref)
	require.NoError(t, err)
	require.Equal(t, []string{"three"}, snap.Messages)
	require.True(t, snap.Finished)
	require.Equal(t, "cable", snap.Result["https://store/1"][7].Title)

	stored, ok, err := store.Result(ctx, ref)
	require.NoError(t, err)
	require.True(t, ok)
	require.Len(t, stored, 1)

	queries, err := store.Queries(ctx, ref)
	require.NoError(t, err)
	require.Equal(t, groups, queries)
}

func TestSessionStoreResultRequiresFinished(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	clk := newClock()
	store := NewSessionStore(clk)
	require.NoError(t, store.Create(ctx, ref, nil))

	require.NoError(t, store.SaveResult(ctx, ref, crawler.ResultSet{"https://store/1": {}}))
	_, ok, err := store.Result(ctx, ref)
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, store.MarkFinished(ctx, ref, clk.Now()))
	stored, ok, err := store.Result(ctx, ref)
	require.NoError(t, err)
	require.True(t, ok)
	require.Contains(t, stored, "https://store/1")
}

func TestSessionStoreStopFlag(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewSessionStore(newClock())
	require.NoError(t, store.Create(ctx, ref, nil))

	stop, err := store.StopRequested(ctx, ref)
	require.NoError(t, err)
	require.False(t, stop)

	require.NoError(t, store.RequestStop(ctx, ref))
	stop, err = store.StopRequested(ctx, ref)
	require.NoError(t, err)
	require.True(t, stop)
}

func TestSessionStoreUnknownSession(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewSessionStore(newClock())

	require.ErrorIs(t, store.Append(ctx, ref, "x"), crawler.ErrNotFound)
	_, err := store.Poll(ctx, ref)
	require.ErrorIs(t, err, crawler.ErrNotFound)
	_, _, err = store.Result(ctx, ref)
	require.ErrorIs(t, err, crawler.ErrNotFound)
	_, err = store.StopRequested(ctx, ref)
	require.ErrorIs(t, err, crawler.ErrNotFound)
}

func TestSessionStoreReleaseExpiresAfterGrace(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	clk := newClock()
	store := NewSessionStore(clk)
	require.NoError(t, store.Create(ctx, ref, nil))
	require.NoError(t, store.Release(ctx, ref, 10*time.Second))

	clk.Advance(9 * time.Second)
	exists, err := store.Exists(ctx, ref)
	require.NoError(t, err)
	require.True(t, exists)

	clk.Advance(time.Second)
	exists, err = store.Exists(ctx, ref)
	require.NoError(t, err)
	require.False(t, exists)
}

func TestSessionStoreSweep(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	clk := newClock()
	store := NewSessionStore(clk)
	old := crawler.SearchRef{Owner: "owner-1", ID: "old"}
	fresh := crawler.SearchRef{Owner: "owner-1", ID: "fresh"}
	running := crawler.SearchRef{Owner: "owner-2", ID: "running"}
	for _, r := range []crawler.SearchRef{old, fresh, running} {
		require.NoError(t, store.Create(ctx, r, nil))
	}
	require.NoError(t, store.MarkFinished(ctx, old, clk.Now()))
	clk.Advance(25 * time.Hour)
	require.NoError(t, store.MarkFinished(ctx, fresh, clk.Now()))

	removed, err := store.Sweep(ctx, clk.Now().Add(-24*time.Hour))
	require.NoError(t, err)
	require.Equal(t, 1, removed)

	for r, want := range map[crawler.SearchRef]bool{old: false, fresh: true, running: true} {
		exists, err := store.Exists(ctx, r)
		require.NoError(t, err)
		require.Equal(t, want, exists, r.ID)
	}
}

func TestSessionStoreConcurrentPollsNeverRedeliver(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewSessionStore(newClock())
	require.NoError(t, store.Create(ctx, ref, nil))
	const total = 200
	for i := 0; i < total; i++ {
		require.NoError(t, store.Append(ctx, ref, "m"))
	}

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		seen int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			snap, err := store.Poll(ctx, ref)
			if err != nil {
				return
			}
			mu.Lock()
			seen += len(snap.Messages)
			mu.Unlock()
		}()
	}
	wg.Wait()
	require.Equal(t, total, seen)
}
