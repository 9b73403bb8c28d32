package crawler

import (
	"context"
	"io"
	"time"
)

// Fetcher retrieves one search results page for a term. Page 1 omits the page
// parameter. Failures are reported as *FetchError.
type Fetcher interface {
	Fetch(ctx context.Context, term string, page int) ([]byte, error)
}

// Extractor turns raw page content into products and pagination metadata.
// Failures are reported as *ParseError. Work stops when ctx ends.
type Extractor interface {
	Extract(ctx context.Context, body []byte) (Page, error)
}

// SessionStore persists the per-search progress channel and results.
type SessionStore interface {
	Create(ctx context.Context, ref SearchRef, groups []QueryGroup) error
	Exists(ctx context.Context, ref SearchRef) (bool, error)
	// Queries returns the groups the session was created with.
	Queries(ctx context.Context, ref SearchRef) ([]QueryGroup, error)
	Append(ctx context.Context, ref SearchRef, message string) error
	RequestStop(ctx context.Context, ref SearchRef) error
	StopRequested(ctx context.Context, ref SearchRef) (bool, error)
	SaveResult(ctx context.Context, ref SearchRef, result ResultSet) error
	MarkFinished(ctx context.Context, ref SearchRef, at time.Time) error
	// Poll returns messages past the read cursor and advances it atomically.
	Poll(ctx context.Context, ref SearchRef) (Snapshot, error)
	Result(ctx context.Context, ref SearchRef) (ResultSet, bool, error)
	// Release schedules reclamation of a drained session after grace.
	Release(ctx context.Context, ref SearchRef, grace time.Duration) error
	// Sweep deletes finished sessions older than cutoff and reports how many.
	Sweep(ctx context.Context, cutoff time.Time) (int, error)
	Ping(ctx context.Context) error
}

// BlobStore writes report artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
}

// Publisher pushes completion notices to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Reporter stores intermediate and final aggregates for offline inspection.
type Reporter interface {
	GroupReport(ctx context.Context, ref SearchRef, group QueryGroup, stores StoreAggregate) error
	FinalReport(ctx context.Context, ref SearchRef, groups []QueryGroup, all []StoreAggregate, result ResultSet) error
}

// Pauser sleeps between requests and returns early when ctx ends.
type Pauser interface {
	Pause(ctx context.Context, d time.Duration) error
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// Queue buffers search tasks between the manager and the worker pool.
type Queue interface {
	Enqueue(ctx context.Context, task SearchTask) error
	Dequeue(ctx context.Context) (SearchTask, error)
}

// IDGenerator produces search IDs.
type IDGenerator interface {
	NewID() (string, error)
}
