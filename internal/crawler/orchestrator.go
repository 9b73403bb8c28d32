package crawler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/storefinder/internal/clock/system"
	"github.com/JakeFAU/storefinder/internal/progress"
)

// TermRunner crawls a single term. TermCrawler implements it.
type TermRunner interface {
	Crawl(ctx context.Context, ref SearchRef, term string) (StoreAggregate, error)
}

// OrchestratorOptions wires the collaborators of an Orchestrator. Terms and
// Sessions are required; Reporter is optional.
type OrchestratorOptions struct {
	Terms    TermRunner
	Sessions SessionStore
	Reporter Reporter
	Pauser   Pauser
	Clock    Clock
	Emitter  progress.Emitter
	Logger   *zap.Logger
	MaxPause time.Duration
	Jitter   func(limit time.Duration) time.Duration
}

// Orchestrator runs every term of every query group in order and intersects
// the resulting store aggregates.
type Orchestrator struct {
	terms    TermRunner
	sessions SessionStore
	reporter Reporter
	pauser   Pauser
	clock    Clock
	emitter  progress.Emitter
	logger   *zap.Logger
	maxPause time.Duration
	jitter   func(time.Duration) time.Duration
}

// NewOrchestrator validates opts and fills defaults.
func NewOrchestrator(opts OrchestratorOptions) (*Orchestrator, error) {
	if opts.Terms == nil || opts.Sessions == nil {
		return nil, errors.New("orchestrator requires term runner and session store")
	}
	o := &Orchestrator{
		terms:    opts.Terms,
		sessions: opts.Sessions,
		reporter: opts.Reporter,
		pauser:   opts.Pauser,
		clock:    opts.Clock,
		emitter:  opts.Emitter,
		logger:   opts.Logger,
		maxPause: opts.MaxPause,
		jitter:   opts.Jitter,
	}
	if o.pauser == nil {
		o.pauser = TimerPauser{}
	}
	if o.clock == nil {
		o.clock = system.New()
	}
	if o.emitter == nil {
		o.emitter = progress.Discard{}
	}
	if o.logger == nil {
		o.logger = zap.NewNop()
	}
	if o.jitter == nil {
		o.jitter = RandomPause
	}
	return o, nil
}

// ValidateGroups rejects an empty group list, empty groups and blank terms.
func ValidateGroups(groups []QueryGroup) error {
	if len(groups) == 0 {
		return fmt.Errorf("%w: at least one query group is required", ErrInvalidQuery)
	}
	for i, group := range groups {
		if len(group) == 0 {
			return fmt.Errorf("%w: group %d is empty", ErrInvalidQuery, i)
		}
		for _, term := range group {
			if strings.TrimSpace(term) == "" {
				return fmt.Errorf("%w: group %d has a blank term", ErrInvalidQuery, i)
			}
		}
	}
	return nil
}

// Run executes the crawl and persists its result. It returns ErrStopped when
// the stop flag or ctx ends the crawl early; nothing is persisted then and the
// finished flag stays false. Session failures surface as *PersistenceError.
func (o *Orchestrator) Run(ctx context.Context, ref SearchRef, groups []QueryGroup) (ResultSet, error) {
	if err := ValidateGroups(groups); err != nil {
		return nil, err
	}
	result, err := o.run(ctx, ref, groups)
	if err != nil && ctx.Err() != nil {
		return nil, ErrStopped
	}
	return result, err
}

func (o *Orchestrator) run(ctx context.Context, ref SearchRef, groups []QueryGroup) (ResultSet, error) {
	log := o.logger.With(zap.String("search_id", ref.ID), zap.String("owner", ref.Owner))
	j := journal{store: o.sessions, ref: ref, clock: o.clock}

	if err := j.post(ctx, "Start searching"); err != nil {
		return nil, err
	}

	all := make([]StoreAggregate, 0, len(groups))
	for _, group := range groups {
		groupStores := make(StoreAggregate)
		for _, term := range group {
			if ctx.Err() != nil {
				return nil, ErrStopped
			}
			stop, err := j.stopRequested(ctx)
			if err != nil {
				return nil, err
			}
			if stop {
				log.Info("stop flag observed", zap.String("term", term))
				if err := j.post(ctx, "Stop command received"); err != nil {
					return nil, err
				}
				return nil, ErrStopped
			}

			stores, err := o.terms.Crawl(ctx, ref, term)
			switch {
			case err == nil:
				MergeStores(groupStores, stores)
			case errors.Is(err, ErrStopped):
				return nil, ErrStopped
			case isPersistence(err):
				return nil, err
			default:
				log.Warn("term failed", zap.String("term", term), zap.Error(err))
				if err := j.post(ctx, "Failed to parse results for %q", term); err != nil {
					return nil, err
				}
			}
			o.emitter.Emit(progress.Event{
				SearchID: progress.ParseSearchID(ref.ID),
				Owner:    ref.Owner,
				TS:       o.clock.Now(),
				Stage:    progress.StageTermDone,
				Term:     term,
				Stores:   len(stores),
				Products: stores.ProductCount(),
			})

			if err := o.pause(ctx, j); err != nil {
				return nil, err
			}
		}

		if err := j.post(ctx, "Total stores by requests %q - %d",
			strings.Join(group, " and "), len(groupStores)); err != nil {
			return nil, err
		}
		if o.reporter != nil {
			if err := o.reporter.GroupReport(ctx, ref, group, groupStores); err != nil {
				log.Warn("group report failed", zap.Strings("group", group), zap.Error(err))
			}
		}
		all = append(all, groupStores)
	}

	// A stop that arrived during the final term still wins over persistence.
	stop, err := j.stopRequested(ctx)
	if err != nil {
		return nil, err
	}
	if stop {
		if err := j.post(ctx, "Stop command received"); err != nil {
			return nil, err
		}
		return nil, ErrStopped
	}

	result := Intersect(all)
	if o.reporter != nil {
		if err := o.reporter.FinalReport(ctx, ref, groups, all, result); err != nil {
			log.Warn("final report failed", zap.Error(err))
		}
	}
	if err := j.post(ctx, "Total stores by requests %q - %d", describeGroups(groups), len(result)); err != nil {
		return nil, err
	}

	if err := o.sessions.SaveResult(ctx, ref, result); err != nil {
		return nil, persistenceErr("save result", err)
	}
	if err := j.post(ctx, "Search finished"); err != nil {
		return nil, err
	}
	if err := o.sessions.MarkFinished(ctx, ref, o.clock.Now()); err != nil {
		return nil, persistenceErr("mark finished", err)
	}
	log.Info("search finished", zap.Int("stores", len(result)))
	return result, nil
}

func (o *Orchestrator) pause(ctx context.Context, j journal) error {
	d := o.jitter(o.maxPause)
	if err := j.post(ctx, "Pause for %s", d); err != nil {
		return err
	}
	if err := o.pauser.Pause(ctx, d); err != nil {
		return ErrStopped
	}
	return nil
}

func describeGroups(groups []QueryGroup) string {
	parts := make([]string, len(groups))
	for i, group := range groups {
		parts[i] = strings.Join(group, "+")
	}
	return strings.Join(parts, " and ")
}

func isPersistence(err error) bool {
	var perr *PersistenceError
	return errors.As(err, &perr)
}
