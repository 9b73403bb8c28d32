package crawler

import (
	"errors"
	"fmt"
)

var (
	// ErrRetryable marks page-level failures that the term crawler retries.
	ErrRetryable = errors.New("retryable page failure")
	// ErrRetriesExhausted is returned when a term used up its retry budget.
	ErrRetriesExhausted = errors.New("retry budget exhausted")
	// ErrStopped signals a clean early exit: the stop flag was observed or the
	// crawl context was canceled. It is not a failure.
	ErrStopped = errors.New("search stopped")
	// ErrInvalidQuery rejects malformed query groups at crawl start.
	ErrInvalidQuery = errors.New("invalid query groups")
	// ErrNotFound reports an unknown or reclaimed search session.
	ErrNotFound = errors.New("search not found")
	// ErrTooManySearches reports that an owner reached the active crawl cap.
	ErrTooManySearches = errors.New("too many searches running")
	// ErrQueueClosed is returned by a queue after shutdown.
	ErrQueueClosed = errors.New("queue closed")
	// ErrQueueFull is returned when no worker slot or queue space is free.
	ErrQueueFull = errors.New("search queue full")
	// ErrSearchFailed reports a search that ended without a result.
	ErrSearchFailed = errors.New("search failed")
)

// FetchFailureKind separates HTTP status failures from transport failures.
type FetchFailureKind string

// Fetch failure classes.
const (
	StatusFailure    FetchFailureKind = "status"
	TransportFailure FetchFailureKind = "transport"
)

// FetchError is returned by Fetcher implementations.
type FetchError struct {
	Kind       FetchFailureKind
	URL        string
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	if e.Kind == StatusFailure {
		return fmt.Sprintf("fetch %s: status %d", e.URL, e.StatusCode)
	}
	return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// Is makes every fetch failure match ErrRetryable.
func (e *FetchError) Is(target error) bool { return target == ErrRetryable }

// ParseError is returned when a page cannot be turned into products.
type ParseError struct {
	Reason string
	Err    error
}

func (e *ParseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("parse page: %s: %v", e.Reason, e.Err)
	}
	return "parse page: " + e.Reason
}

func (e *ParseError) Unwrap() error { return e.Err }

// Is makes every parse failure match ErrRetryable.
func (e *ParseError) Is(target error) bool { return target == ErrRetryable }

// PersistenceError wraps a failed session store write or read.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("session %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

func persistenceErr(op string, err error) error {
	if err == nil {
		return nil
	}
	return &PersistenceError{Op: op, Err: err}
}
