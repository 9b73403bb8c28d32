package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/storefinder/internal/crawler"
)

func task(id string) crawler.SearchTask {
	return crawler.SearchTask{
		Search: crawler.SearchRef{Owner: "owner-1", ID: id},
		Groups: []crawler.QueryGroup{{"usb cable"}},
	}
}

func TestQueueIsFIFO(t *testing.T) {
	t.Parallel()

	q := NewQueue(3)
	for _, id := range []string{"s-1", "s-2", "s-3"} {
		require.NoError(t, q.Enqueue(context.Background(), task(id)))
	}
	require.Equal(t, 3, q.Len())
	for _, want := range []string{"s-1", "s-2", "s-3"} {
		got, err := q.Dequeue(context.Background())
		require.NoError(t, err)
		require.Equal(t, want, got.Search.ID)
	}
}

func TestQueueRejectsWhenFull(t *testing.T) {
	t.Parallel()

	q := NewQueue(1)
	require.NoError(t, q.Enqueue(context.Background(), task("s-1")))
	err := q.Enqueue(context.Background(), task("s-2"))
	require.ErrorIs(t, err, crawler.ErrQueueFull)
	require.Contains(t, err.Error(), "owner-1:s-2")
}

func TestUnbufferedQueueHandsOffToWaitingWorker(t *testing.T) {
	t.Parallel()

	q := NewQueue(0)
	require.ErrorIs(t, q.Enqueue(context.Background(), task("nobody")), crawler.ErrQueueFull)

	got := make(chan crawler.SearchTask, 1)
	go func() {
		item, err := q.Dequeue(context.Background())
		if err == nil {
			got <- item
		}
	}()
	require.Eventually(t, func() bool {
		return q.Enqueue(context.Background(), task("s-1")) == nil
	}, time.Second, 5*time.Millisecond)
	require.Equal(t, "s-1", (<-got).Search.ID)
}

func TestQueueCancellation(t *testing.T) {
	t.Parallel()

	q := NewQueue(1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := q.Dequeue(ctx)
	require.ErrorIs(t, err, context.Canceled)
	require.ErrorIs(t, q.Enqueue(ctx, task("late")), context.Canceled)
	require.Zero(t, q.Len())
}

func TestQueueClose(t *testing.T) {
	t.Parallel()

	q := NewQueue(2)
	require.NoError(t, q.Enqueue(context.Background(), task("pending")))
	q.Close()
	q.Close()

	require.ErrorIs(t, q.Enqueue(context.Background(), task("late")), crawler.ErrQueueClosed)
	got, err := q.Dequeue(context.Background())
	require.NoError(t, err)
	require.Equal(t, "pending", got.Search.ID)
	_, err = q.Dequeue(context.Background())
	require.ErrorIs(t, err, crawler.ErrQueueClosed)
}
