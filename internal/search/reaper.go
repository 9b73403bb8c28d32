package search

import (
	"context"
	"errors"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/JakeFAU/storefinder/internal/clock/system"
	"github.com/JakeFAU/storefinder/internal/crawler"
	"github.com/JakeFAU/storefinder/internal/metrics"
)

const (
	defaultReapSchedule = "@every 24h"
	defaultFinishedTTL  = 24 * time.Hour
	sweepTimeout        = 5 * time.Minute
)

// ReaperConfig controls the periodic sweep of finished sessions.
type ReaperConfig struct {
	Schedule    string
	FinishedTTL time.Duration
}

// Reaper deletes finished sessions that nobody drained.
type Reaper struct {
	sessions crawler.SessionStore
	clock    crawler.Clock
	logger   *zap.Logger
	cfg      ReaperConfig
	cron     *cron.Cron
}

// NewReaper registers the sweep on a cron schedule. Call Start to run it.
func NewReaper(sessions crawler.SessionStore, clock crawler.Clock, logger *zap.Logger, cfg ReaperConfig) (*Reaper, error) {
	if sessions == nil {
		return nil, errors.New("reaper requires a session store")
	}
	if clock == nil {
		clock = system.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Schedule == "" {
		cfg.Schedule = defaultReapSchedule
	}
	if cfg.FinishedTTL <= 0 {
		cfg.FinishedTTL = defaultFinishedTTL
	}
	r := &Reaper{
		sessions: sessions,
		clock:    clock,
		logger:   logger.Named("reaper"),
		cfg:      cfg,
		cron:     cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
	}
	if _, err := r.cron.AddFunc(cfg.Schedule, r.tick); err != nil {
		return nil, err
	}
	return r, nil
}

// Start runs the schedule in the background.
func (r *Reaper) Start() {
	r.cron.Start()
}

// Stop halts the schedule and waits for a running sweep.
func (r *Reaper) Stop(ctx context.Context) error {
	done := r.cron.Stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Sweep removes finished sessions older than the configured TTL.
func (r *Reaper) Sweep(ctx context.Context) (int, error) {
	cutoff := r.clock.Now().Add(-r.cfg.FinishedTTL)
	n, err := r.sessions.Sweep(ctx, cutoff)
	metrics.ObserveSweep(n)
	if err != nil {
		return n, err
	}
	r.logger.Info("finished sessions swept", zap.Int("removed", n), zap.Time("cutoff", cutoff))
	return n, nil
}

func (r *Reaper) tick() {
	ctx, cancel := context.WithTimeout(context.Background(), sweepTimeout)
	defer cancel()
	if _, err := r.Sweep(ctx); err != nil {
		r.logger.Warn("session sweep failed", zap.Error(err))
	}
}
