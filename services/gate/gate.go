// Package gate decides whether a recurring task may fire again for a client.
// A (task, client) pair fires at most once per interval.
package gate

import (
	"context"
	"time"
)

type Gate interface {
	// ShouldFire reports whether at least interval has passed since the last
	// recorded firing, or no firing was recorded.
	ShouldFire(ctx context.Context, taskID, clientID string, interval time.Duration, now time.Time) (bool, error)
	// RecordFire stores now as the last firing.
	RecordFire(ctx context.Context, taskID, clientID string, interval time.Duration, now time.Time) error
	// Acquire is ShouldFire and RecordFire as one atomic step. Concurrent
	// callers for the same pair get at most one true per interval.
	Acquire(ctx context.Context, taskID, clientID string, interval time.Duration, now time.Time) (bool, error)
}

func due(last, now time.Time, interval time.Duration) bool {
	return !now.Before(last.Add(interval))
}
