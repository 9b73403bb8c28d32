// Package search is the entry point for starting, stopping and observing
// crawls. It owns search ids, the per-owner concurrency cap and the hand-off
// to the worker queue.
package search

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/storefinder/internal/clock/system"
	"github.com/JakeFAU/storefinder/internal/crawler"
	"github.com/JakeFAU/storefinder/internal/id/uuid"
	"github.com/JakeFAU/storefinder/internal/metrics"
)

const defaultDrainGrace = 30 * time.Second

// Enqueuer accepts tasks for the worker pool. dispatcher.Dispatcher implements it.
type Enqueuer interface {
	Enqueue(ctx context.Context, task crawler.SearchTask) error
}

// Config tunes the manager.
type Config struct {
	// DrainGrace is how long a finished session stays readable after the
	// poll that drained it.
	DrainGrace time.Duration
}

// Manager coordinates search sessions and the worker queue.
type Manager struct {
	sessions crawler.SessionStore
	registry *Registry
	queue    Enqueuer
	ids      crawler.IDGenerator
	clock    crawler.Clock
	logger   *zap.Logger
	cfg      Config
}

// Options wires a Manager. Sessions, Registry and Queue are required.
type Options struct {
	Sessions crawler.SessionStore
	Registry *Registry
	Queue    Enqueuer
	IDs      crawler.IDGenerator
	Clock    crawler.Clock
	Logger   *zap.Logger
	Config   Config
}

// NewManager validates opts and fills defaults.
func NewManager(opts Options) (*Manager, error) {
	if opts.Sessions == nil || opts.Registry == nil || opts.Queue == nil {
		return nil, errors.New("search manager requires sessions, registry and queue")
	}
	if opts.IDs == nil {
		opts.IDs = uuid.New()
	}
	if opts.Clock == nil {
		opts.Clock = system.New()
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Config.DrainGrace <= 0 {
		opts.Config.DrainGrace = defaultDrainGrace
	}
	return &Manager{
		sessions: opts.Sessions,
		registry: opts.Registry,
		queue:    opts.Queue,
		ids:      opts.IDs,
		clock:    opts.Clock,
		logger:   opts.Logger.Named("search"),
		cfg:      opts.Config,
	}, nil
}

// Start validates groups, creates the session and queues the crawl. It returns
// as soon as the task is queued.
func (m *Manager) Start(ctx context.Context, owner string, groups []crawler.QueryGroup) (crawler.SearchRef, error) {
	if strings.TrimSpace(owner) == "" {
		metrics.ObserveRejectedSearch("invalid")
		return crawler.SearchRef{}, fmt.Errorf("%w: owner is required", crawler.ErrInvalidQuery)
	}
	groups = normalize(groups)
	if err := crawler.ValidateGroups(groups); err != nil {
		metrics.ObserveRejectedSearch("invalid")
		return crawler.SearchRef{}, err
	}
	id, err := m.ids.NewID()
	if err != nil {
		return crawler.SearchRef{}, err
	}
	ref := crawler.SearchRef{Owner: owner, ID: id}

	if err := m.registry.Reserve(ref); err != nil {
		metrics.ObserveRejectedSearch("cap")
		return crawler.SearchRef{}, err
	}
	if err := m.sessions.Create(ctx, ref, groups); err != nil {
		m.registry.Release(ref)
		return crawler.SearchRef{}, fmt.Errorf("create session: %w", err)
	}
	task := crawler.SearchTask{Search: ref, Groups: groups, Submitted: m.clock.Now()}
	if err := m.queue.Enqueue(ctx, task); err != nil {
		if errors.Is(err, crawler.ErrQueueFull) {
			metrics.ObserveRejectedSearch("queue_full")
		}
		m.registry.Release(ref)
		if relErr := m.sessions.Release(context.WithoutCancel(ctx), ref, 0); relErr != nil {
			m.logger.Warn("drop unqueued session failed", zap.String("search_id", id), zap.Error(relErr))
		}
		return crawler.SearchRef{}, fmt.Errorf("queue search: %w", err)
	}
	m.logger.Info("search queued",
		zap.String("search_id", id),
		zap.String("owner", owner),
		zap.Int("groups", len(groups)),
	)
	return ref, nil
}

// Stop asks a running search to end. With force the search context is also
// canceled so in-flight requests abort. Stopping a finished or already stopped
// search is a no-op.
func (m *Manager) Stop(ctx context.Context, ref crawler.SearchRef, force bool) error {
	exists, err := m.sessions.Exists(ctx, ref)
	if err != nil {
		return fmt.Errorf("check session: %w", err)
	}
	if !exists {
		return crawler.ErrNotFound
	}
	if !m.registry.Active(ref) {
		return nil
	}
	already, err := m.sessions.StopRequested(ctx, ref)
	if err != nil {
		return fmt.Errorf("read stop flag: %w", err)
	}
	if !already {
		if err := m.sessions.RequestStop(ctx, ref); err != nil {
			return fmt.Errorf("request stop: %w", err)
		}
		msg := crawler.FormatMessage(m.clock.Now(), "Search stopped by user")
		if err := m.sessions.Append(ctx, ref, msg); err != nil {
			return fmt.Errorf("append stop message: %w", err)
		}
	}
	if force {
		m.registry.Cancel(ref)
	}
	m.logger.Info("search stop requested",
		zap.String("search_id", ref.ID),
		zap.String("owner", ref.Owner),
		zap.Bool("force", force),
	)
	return nil
}

// Poll returns messages since the previous poll. Once a finished search has
// been drained its session is released after the drain grace period.
func (m *Manager) Poll(ctx context.Context, ref crawler.SearchRef) (crawler.Snapshot, error) {
	snap, err := m.sessions.Poll(ctx, ref)
	if err != nil {
		return crawler.Snapshot{}, err
	}
	if snap.Finished {
		if err := m.sessions.Release(ctx, ref, m.cfg.DrainGrace); err != nil {
			m.logger.Warn("release drained session failed", zap.String("search_id", ref.ID), zap.Error(err))
		}
	}
	return snap, nil
}

// Result returns the persisted result set. ok is false until the search has
// finished.
func (m *Manager) Result(ctx context.Context, ref crawler.SearchRef) (crawler.ResultSet, bool, error) {
	return m.sessions.Result(ctx, ref)
}

// Queries returns the query groups a search was started with.
func (m *Manager) Queries(ctx context.Context, ref crawler.SearchRef) ([]crawler.QueryGroup, error) {
	return m.sessions.Queries(ctx, ref)
}

// Running reports how many searches owner has queued or running.
func (m *Manager) Running(owner string) int {
	return m.registry.Count(owner)
}

// Ready checks the session store.
func (m *Manager) Ready(ctx context.Context) error {
	return m.sessions.Ping(ctx)
}

// normalize trims every term so "  usb cable " and "usb cable" crawl alike.
func normalize(groups []crawler.QueryGroup) []crawler.QueryGroup {
	out := make([]crawler.QueryGroup, len(groups))
	for i, group := range groups {
		g := make(crawler.QueryGroup, len(group))
		for j, term := range group {
			g[j] = strings.TrimSpace(term)
		}
		out[i] = g
	}
	return out
}
