// Package store declares the repository used to keep a ledger of search runs.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrRunNotFound reports a search run missing from the ledger.
var ErrRunNotFound = errors.New("search run not found")

// RunStatus mirrors the search_runs.status column.
type RunStatus string

// Search run statuses persisted in search_runs.status.
const (
	RunRunning  RunStatus = "running"
	RunFinished RunStatus = "finished"
	RunStopped  RunStatus = "stopped"
	RunFailed   RunStatus = "failed"
)

// Run is one ledger row.
type Run struct {
	SearchID    uuid.UUID
	Owner       string
	Status      RunStatus
	StartedAt   time.Time
	FinishedAt  *time.Time
	PagesOK     int64
	PagesFailed int64
	Products    int64
	Stores      int
	Error       *string
}

// RunReader loads ledger rows for the HTTP API.
type RunReader interface {
	GetRun(ctx context.Context, searchID uuid.UUID) (Run, error)
}

// RunRepository persists one row per search plus page counters.
type RunRepository interface {
	// StartRun inserts the run or leaves an existing row untouched.
	StartRun(ctx context.Context, searchID uuid.UUID, owner string, startedAt time.Time) error
	// CompleteRun records the final status, store count and optional error.
	CompleteRun(
		ctx context.Context,
		searchID uuid.UUID,
		finishedAt time.Time,
		status RunStatus,
		stores int,
		errMsg *string,
	) error
	// AddPageStats applies page and product deltas to a run.
	AddPageStats(ctx context.Context, searchID uuid.UUID, pagesOK, pagesFailed, products int64, at time.Time) error
}
