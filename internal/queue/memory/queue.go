// Package memory provides the in-process search task queue.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/JakeFAU/storefinder/internal/crawler"
)

// Queue is a bounded FIFO of search tasks. Enqueue never waits for space: a
// full queue rejects the task so the caller can answer immediately.
type Queue struct {
	tasks chan crawler.SearchTask

	mu     sync.RWMutex
	closed bool
}

// NewQueue constructs a queue holding at most capacity pending tasks. A zero
// capacity only accepts a task when a worker is already waiting for one.
func NewQueue(capacity int) *Queue {
	return &Queue{tasks: make(chan crawler.SearchTask, max(capacity, 0))}
}

// Enqueue adds task, failing with crawler.ErrQueueFull when there is no room.
func (q *Queue) Enqueue(ctx context.Context, task crawler.SearchTask) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return crawler.ErrQueueClosed
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("enqueue %s: %w", task.Search, err)
	}
	select {
	case q.tasks <- task:
		return nil
	default:
		return fmt.Errorf("enqueue %s: %w", task.Search, crawler.ErrQueueFull)
	}
}

// Dequeue blocks for the next task. Once the queue is closed and drained it
// returns crawler.ErrQueueClosed.
func (q *Queue) Dequeue(ctx context.Context) (crawler.SearchTask, error) {
	select {
	case <-ctx.Done():
		return crawler.SearchTask{}, fmt.Errorf("dequeue: %w", ctx.Err())
	case task, ok := <-q.tasks:
		if !ok {
			return crawler.SearchTask{}, crawler.ErrQueueClosed
		}
		return task, nil
	}
}

// Len reports the number of pending tasks.
func (q *Queue) Len() int {
	return len(q.tasks)
}

// Close stops accepting tasks; pending tasks can still be dequeued.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.closed {
		q.closed = true
		close(q.tasks)
	}
}
