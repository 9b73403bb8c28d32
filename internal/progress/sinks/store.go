package sinks

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/storefinder/internal/progress"
	"github.com/JakeFAU/storefinder/internal/store"
)

// StoreSink records search runs via a store.RunRepository. Page events are
// collapsed per search so each batch issues at most one counter update per run.
type StoreSink struct {
	repo   store.RunRepository
	logger *zap.Logger
}

// NewStoreSink constructs a StoreSink for the provided repository.
func NewStoreSink(repo store.RunRepository, logger *zap.Logger) *StoreSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StoreSink{repo: repo, logger: logger}
}

// Consume forwards lifecycle events and collapsed page counters to the
// repository. Repository errors are returned wrapped.
func (s *StoreSink) Consume(ctx context.Context, batch []progress.Event) error {
	if s == nil || s.repo == nil {
		return nil
	}
	stats := make(map[uuid.UUID]*pageDelta)
	var order []uuid.UUID

	for _, evt := range batch {
		searchID := evt.SearchUUID()
		switch evt.Stage {
		case progress.StagePageDone:
			delta, ok := stats[searchID]
			if !ok {
				delta = &pageDelta{}
				stats[searchID] = delta
				order = append(order, searchID)
			}
			delta.add(evt)
		case progress.StageSearchStart:
			if err := s.repo.StartRun(ctx, searchID, evt.Owner, evt.TS); err != nil {
				return fmt.Errorf("start run: %w", err)
			}
		case progress.StageSearchDone, progress.StageSearchStopped, progress.StageSearchError:
			// Flush pending page counters first so the completed row is final.
			if delta, ok := stats[searchID]; ok {
				if err := s.flushDelta(ctx, searchID, delta); err != nil {
					return err
				}
				delete(stats, searchID)
			}
			if err := s.complete(ctx, searchID, evt); err != nil {
				return err
			}
		}
	}

	for _, searchID := range order {
		delta, ok := stats[searchID]
		if !ok {
			continue
		}
		if err := s.flushDelta(ctx, searchID, delta); err != nil {
			return err
		}
	}
	return nil
}

func (s *StoreSink) complete(ctx context.Context, searchID uuid.UUID, evt progress.Event) error {
	status := store.RunFinished
	var note *string
	switch evt.Stage {
	case progress.StageSearchStopped:
		status = store.RunStopped
	case progress.StageSearchError:
		status = store.RunFailed
		if evt.Note != "" {
			note = &evt.Note
		}
	}
	if err := s.repo.CompleteRun(ctx, searchID, evt.TS, status, evt.Stores, note); err != nil {
		return fmt.Errorf("complete run: %w", err)
	}
	return nil
}

func (s *StoreSink) flushDelta(ctx context.Context, searchID uuid.UUID, delta *pageDelta) error {
	if delta.ok == 0 && delta.failed == 0 {
		return nil
	}
	if err := s.repo.AddPageStats(ctx, searchID, delta.ok, delta.failed, delta.products, delta.at); err != nil {
		return fmt.Errorf("add page stats: %w", err)
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *StoreSink) Close(context.Context) error {
	return nil
}

type pageDelta struct {
	ok       int64
	failed   int64
	products int64
	at       time.Time
}

func (d *pageDelta) add(evt progress.Event) {
	if evt.Outcome == progress.PageOK {
		d.ok++
	} else {
		d.failed++
	}
	d.products += int64(evt.Products)
	if evt.TS.After(d.at) {
		d.at = evt.TS
	}
}
