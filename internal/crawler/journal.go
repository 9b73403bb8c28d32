package crawler

import (
	"context"
	"fmt"
	"strings"
	"time"
)

const (
	// MessageTimeLayout prefixes every progress message.
	MessageTimeLayout = "2006-01-02 15:04:05"
	// MessageSearchFailed is the last message of a search that failed.
	MessageSearchFailed = "Search failed"
)

// journal appends timestamped progress messages to a session.
type journal struct {
	store SessionStore
	ref   SearchRef
	clock Clock
}

// FormatMessage renders a progress line the way observers receive it.
func FormatMessage(at time.Time, msg string) string {
	return at.Format(MessageTimeLayout) + " - " + msg
}

// IsFailureMessage reports whether msg is the closing line of a failed search.
func IsFailureMessage(msg string) bool {
	return strings.HasSuffix(msg, " - "+MessageSearchFailed)
}

func (j journal) post(ctx context.Context, format string, args ...any) error {
	line := FormatMessage(j.clock.Now(), fmt.Sprintf(format, args...))
	return persistenceErr("append message", j.store.Append(ctx, j.ref, line))
}

func (j journal) stopRequested(ctx context.Context) (bool, error) {
	stop, err := j.store.StopRequested(ctx, j.ref)
	if err != nil {
		return false, persistenceErr("read stop flag", err)
	}
	return stop, nil
}
