package crawler

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"time"
)

// RandomPause returns a uniformly distributed duration in [0, limit], truncated
// to whole milliseconds.
func RandomPause(limit time.Duration) time.Duration {
	ms := limit.Milliseconds()
	if ms <= 0 {
		return 0
	}
	n, err := rand.Int(rand.Reader, big.NewInt(ms+1))
	if err != nil {
		return limit / 2
	}
	return time.Duration(n.Int64()) * time.Millisecond
}

// TimerPauser sleeps on a timer and wakes early when ctx ends.
type TimerPauser struct{}

// Pause implements Pauser.
func (TimerPauser) Pause(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("pause: %w", err)
		}
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return fmt.Errorf("pause: %w", ctx.Err())
	case <-timer.C:
		return nil
	}
}
