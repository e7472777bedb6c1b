package events

import (
	"context"
	"sync"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/docspasta/internal/interfaces"
)

// Notifier implements EventNotifier with one broadcast channel per job.
// An append closes the job's current channel, waking every blocked reader
// at once, and installs a fresh channel for the next round. Entries are
// removed when a job goes quiet so the map stays bounded by active jobs.
type Notifier struct {
	mu       sync.Mutex
	channels map[string]chan struct{}
	closed   bool
	logger   arbor.ILogger
}

// NewNotifier creates a new in-process append notifier
func NewNotifier(logger arbor.ILogger) interfaces.EventNotifier {
	return &Notifier{
		channels: make(map[string]chan struct{}),
		logger:   logger,
	}
}

func (n *Notifier) channel(jobID string) chan struct{} {
	ch, ok := n.channels[jobID]
	if !ok {
		ch = make(chan struct{})
		n.channels[jobID] = ch
	}
	return ch
}

// NotifyAppended wakes all readers waiting on the job
func (n *Notifier) NotifyAppended(jobID string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return
	}
	if ch, ok := n.channels[jobID]; ok {
		close(ch)
		delete(n.channels, jobID)
	}
}

// AwaitAppend blocks until the job appends an event, the wait elapses,
// or ctx is done. Returns true only when woken by an append.
func (n *Notifier) AwaitAppend(ctx context.Context, jobID string, wait time.Duration) bool {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return false
	}
	ch := n.channel(jobID)
	n.mu.Unlock()

	timer := time.NewTimer(wait)
	defer timer.Stop()

	select {
	case <-ch:
		return true
	case <-timer.C:
		return false
	case <-ctx.Done():
		return false
	}
}

// Close releases all waiters
func (n *Notifier) Close() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return nil
	}
	n.closed = true
	for jobID, ch := range n.channels {
		close(ch)
		delete(n.channels, jobID)
	}
	return nil
}
