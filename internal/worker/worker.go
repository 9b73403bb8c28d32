// Package worker executes queued searches.
package worker

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/storefinder/internal/clock/system"
	"github.com/JakeFAU/storefinder/internal/crawler"
	"github.com/JakeFAU/storefinder/internal/metrics"
	"github.com/JakeFAU/storefinder/internal/progress"
)

const (
	defaultStoppedGrace    = time.Hour
	defaultFinalizeTimeout = 10 * time.Second
)

// Runner executes one search. crawler.Orchestrator implements it.
type Runner interface {
	Run(ctx context.Context, ref crawler.SearchRef, groups []crawler.QueryGroup) (crawler.ResultSet, error)
}

// Tracker hands out the cancellable context of a registered search and frees
// its slot once the worker is done with it.
type Tracker interface {
	Activate(ctx context.Context, ref crawler.SearchRef) (context.Context, bool)
	Release(ref crawler.SearchRef)
}

// Config controls Worker behavior.
type Config struct {
	// Topic receives completion notices; empty disables publishing.
	Topic string
	// StoppedGrace is how long a stopped session stays readable.
	StoppedGrace time.Duration
	// FinalizeTimeout bounds the bookkeeping done after a search ends.
	FinalizeTimeout time.Duration
}

// Deps are the collaborators of a Worker. Queue, Runner, Sessions and
// Tracker are required.
type Deps struct {
	Queue     crawler.Queue
	Runner    Runner
	Sessions  crawler.SessionStore
	Tracker   Tracker
	Publisher crawler.Publisher
	Emitter   progress.Emitter
	Clock     crawler.Clock
	Logger    *zap.Logger
}

// Notice is published when a search ends.
type Notice struct {
	SearchID   string               `json:"search_id"`
	Owner      string               `json:"owner"`
	Outcome    crawler.Outcome      `json:"outcome"`
	Queries    []crawler.QueryGroup `json:"queries"`
	Stores     int                  `json:"stores"`
	StartedAt  time.Time            `json:"started_at"`
	FinishedAt time.Time            `json:"finished_at"`
	Error      string               `json:"error,omitempty"`
}

// SearchKey identifies the search a notice belongs to.
func (n Notice) SearchKey() string {
	return n.Owner + ":" + n.SearchID
}

// Worker consumes search tasks and runs them one at a time.
type Worker struct {
	deps Deps
	cfg  Config
}

// New constructs a Worker.
func New(deps Deps, cfg Config) *Worker {
	if deps.Emitter == nil {
		deps.Emitter = progress.Discard{}
	}
	if deps.Clock == nil {
		deps.Clock = system.New()
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if cfg.StoppedGrace <= 0 {
		cfg.StoppedGrace = defaultStoppedGrace
	}
	if cfg.FinalizeTimeout <= 0 {
		cfg.FinalizeTimeout = defaultFinalizeTimeout
	}
	return &Worker{deps: deps, cfg: cfg}
}

// Run blocks, consuming tasks until ctx ends or the queue closes.
func (w *Worker) Run(ctx context.Context) {
	for {
		task, err := w.deps.Queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, crawler.ErrQueueClosed) {
				return
			}
			w.deps.Logger.Error("queue dequeue failed", zap.Error(err))
			continue
		}
		w.deps.Logger.Debug("dequeued search",
			zap.String("search_id", task.Search.ID),
			zap.String("owner", task.Search.Owner),
		)
		w.process(ctx, task)
	}
}

func (w *Worker) process(ctx context.Context, task crawler.SearchTask) {
	ref := task.Search
	log := w.deps.Logger.With(zap.String("search_id", ref.ID), zap.String("owner", ref.Owner))

	searchCtx, ok := w.deps.Tracker.Activate(ctx, ref)
	if !ok {
		log.Warn("search is no longer registered; skipping")
		return
	}
	defer w.deps.Tracker.Release(ref)

	metrics.IncActiveWorkers()
	defer metrics.DecActiveWorkers()

	started := w.deps.Clock.Now()
	w.emit(ref, progress.StageSearchStart, 0, 0, "")
	result, err := w.deps.Runner.Run(searchCtx, ref, task.Groups)
	finished := w.deps.Clock.Now()
	dur := finished.Sub(started)

	fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), w.cfg.FinalizeTimeout)
	defer cancel()

	notice := Notice{
		SearchID:   ref.ID,
		Owner:      ref.Owner,
		Queries:    task.Groups,
		StartedAt:  started,
		FinishedAt: finished,
	}
	switch {
	case err == nil:
		notice.Outcome = crawler.OutcomeFinished
		notice.Stores = len(result)
		w.emit(ref, progress.StageSearchDone, dur, len(result), "")
		log.Info("search finished", zap.Int("stores", len(result)), zap.Duration("duration", dur))
	case errors.Is(err, crawler.ErrStopped):
		notice.Outcome = crawler.OutcomeStopped
		w.emit(ref, progress.StageSearchStopped, dur, 0, "")
		log.Info("search stopped", zap.Duration("duration", dur))
		if relErr := w.deps.Sessions.Release(fctx, ref, w.cfg.StoppedGrace); relErr != nil {
			log.Warn("release stopped session failed", zap.Error(relErr))
		}
	default:
		notice.Outcome = crawler.OutcomeFailed
		notice.Error = err.Error()
		w.emit(ref, progress.StageSearchError, dur, 0, err.Error())
		log.Error("search failed", zap.Error(err), zap.Duration("duration", dur))
		w.closeFailed(fctx, ref, log)
	}
	w.publish(fctx, notice, log)
}

// closeFailed marks a failed session finished so pollers stop waiting. The
// store may be the thing that failed, so errors are only logged.
func (w *Worker) closeFailed(ctx context.Context, ref crawler.SearchRef, log *zap.Logger) {
	now := w.deps.Clock.Now()
	if err := w.deps.Sessions.Append(ctx, ref, crawler.FormatMessage(now, crawler.MessageSearchFailed)); err != nil {
		log.Warn("append failure message failed", zap.Error(err))
	}
	if err := w.deps.Sessions.MarkFinished(ctx, ref, now); err != nil {
		log.Warn("mark failed session finished failed", zap.Error(err))
	}
}

func (w *Worker) publish(ctx context.Context, notice Notice, log *zap.Logger) {
	if w.cfg.Topic == "" || w.deps.Publisher == nil {
		return
	}
	id, err := w.deps.Publisher.Publish(ctx, w.cfg.Topic, notice)
	if err != nil {
		log.Warn("publish completion notice failed", zap.Error(err))
		return
	}
	log.Debug("completion notice published", zap.String("message_id", id), zap.String("topic", w.cfg.Topic))
}

func (w *Worker) emit(ref crawler.SearchRef, stage progress.Stage, dur time.Duration, stores int, note string) {
	w.deps.Emitter.Emit(progress.Event{
		SearchID: progress.ParseSearchID(ref.ID),
		Owner:    ref.Owner,
		TS:       w.deps.Clock.Now(),
		Stage:    stage,
		Dur:      dur,
		Stores:   stores,
		Note:     note,
	})
}
