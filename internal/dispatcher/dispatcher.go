// Package dispatcher fans queued searches out to the worker pool.
package dispatcher

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/storefinder/internal/crawler"
	"github.com/JakeFAU/storefinder/internal/worker"
)

// Dispatcher owns the queue and the workers that drain it.
type Dispatcher struct {
	queue   crawler.Queue
	workers []*worker.Worker
}

// New creates a Dispatcher.
func New(queue crawler.Queue, workers []*worker.Worker) *Dispatcher {
	return &Dispatcher{
		queue:   queue,
		workers: workers,
	}
}

// Run starts every worker and blocks until all of them have returned, which
// happens when ctx ends or the queue is closed and drained.
func (d *Dispatcher) Run(ctx context.Context) {
	var g errgroup.Group
	for _, w := range d.workers {
		g.Go(func() error {
			w.Run(ctx)
			return nil
		})
	}
	_ = g.Wait()
}

// Size reports the number of workers.
func (d *Dispatcher) Size() int {
	return len(d.workers)
}

// Pending reports queued tasks no worker has picked up yet, or -1 when the
// queue cannot tell.
func (d *Dispatcher) Pending() int {
	if q, ok := d.queue.(interface{ Len() int }); ok {
		return q.Len()
	}
	return -1
}

// Enqueue hands task to the queue. A full queue surfaces as
// crawler.ErrQueueFull.
func (d *Dispatcher) Enqueue(ctx context.Context, task crawler.SearchTask) error {
	if err := d.queue.Enqueue(ctx, task); err != nil {
		return fmt.Errorf("dispatch %s: %w", task.Search, err)
	}
	return nil
}
