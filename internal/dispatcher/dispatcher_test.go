package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/storefinder/internal/crawler"
	"github.com/JakeFAU/storefinder/internal/queue/memory"
	"github.com/JakeFAU/storefinder/internal/worker"
)

func TestDispatcherRunStartsWorkers(t *testing.T) {
	t.Parallel()

	queue := &blockingQueue{started: make(chan struct{}, 2)}
	workers := []*worker.Worker{
		worker.New(worker.Deps{Queue: queue}, worker.Config{}),
		worker.New(worker.Deps{Queue: queue}, worker.Config{}),
	}
	dispatch := New(queue, workers)
	require.Equal(t, 2, dispatch.Size())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		dispatch.Run(ctx)
		close(done)
	}()

	for i := 0; i < 2; i++ {
		select {
		case <-queue.started:
		case <-time.After(time.Second):
			t.Fatal("worker did not begin dequeuing")
		}
	}
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("dispatcher did not stop after context cancel")
	}
}

func TestDispatcherEnqueueWrapsErrors(t *testing.T) {
	t.Parallel()

	boom := errors.New("boom")
	dispatch := New(&errorQueue{err: boom}, nil)

	err := dispatch.Enqueue(context.Background(), crawler.SearchTask{Search: crawler.SearchRef{Owner: "a", ID: "b"}})
	require.ErrorIs(t, err, boom)
	require.EqualError(t, err, "dispatch a:b: boom")
	require.Equal(t, -1, dispatch.Pending())
}

func TestDispatcherReturnsWhenQueueCloses(t *testing.T) {
	t.Parallel()

	queue := memory.NewQueue(4)
	dispatch := New(queue, []*worker.Worker{
		worker.New(worker.Deps{Queue: queue}, worker.Config{}),
	})
	require.Zero(t, dispatch.Pending())

	done := make(chan struct{})
	go func() {
		dispatch.Run(context.Background())
		close(done)
	}()
	queue.Close()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("dispatcher did not stop after the queue closed")
	}
}

type blockingQueue struct {
	started chan struct{}
}

func (q *blockingQueue) Enqueue(context.Context, crawler.SearchTask) error {
	return nil
}

func (q *blockingQueue) Dequeue(ctx context.Context) (crawler.SearchTask, error) {
	q.started <- struct{}{}
	<-ctx.Done()
	return crawler.SearchTask{}, fmt.Errorf("blocking dequeue canceled: %w", ctx.Err())
}

type errorQueue struct {
	err error
}

func (q *errorQueue) Enqueue(context.Context, crawler.SearchTask) error {
	return q.err
}

func (q *errorQueue) Dequeue(context.Context) (crawler.SearchTask, error) {
	return crawler.SearchTask{}, nil
}
