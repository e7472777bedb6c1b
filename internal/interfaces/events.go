package interfaces

import (
	"context"
	"time"
)

// EventNotifier is the in-process wake-up channel between event-log
// writers and blocked readers. Appends publish a notification per job;
// the SSE gateway waits on it instead of polling the store in a tight
// loop. Notifications are best-effort: a missed wake-up only delays the
// next read until the wait expires.
type EventNotifier interface {
	// NotifyAppended wakes all readers waiting on the job
	NotifyAppended(jobID string)

	// AwaitAppend blocks until the job appends an event, the wait
	// elapses, or ctx is done. Returns true when woken by an append.
	AwaitAppend(ctx context.Context, jobID string, wait time.Duration) bool

	// Close releases all waiters
	Close() error
}
