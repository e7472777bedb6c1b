package events

import (
	"context"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/docspasta/internal/interfaces"
	"github.com/ternarybob/docspasta/internal/models"
)

// Publisher appends typed events to a job's log and wakes blocked stream
// readers. Publishing is best-effort on the worker path: a failed append
// is logged and dropped rather than failing the crawl, since the event
// log is progress telemetry, not the source of crawl state.
type Publisher struct {
	events   interfaces.EventStorage
	notifier interfaces.EventNotifier
	logger   arbor.ILogger
}

// NewPublisher creates a new event publisher
func NewPublisher(events interfaces.EventStorage, notifier interfaces.EventNotifier, logger arbor.ILogger) *Publisher {
	return &Publisher{
		events:   events,
		notifier: notifier,
		logger:   logger,
	}
}

// Publish marshals payload, appends the event and notifies readers.
// Returns the assigned sequence, or 0 when the append failed.
func (p *Publisher) Publish(ctx context.Context, jobID, userID string, eventType models.EventType, payload interface{}) uint64 {
	data, err := models.MarshalPayload(payload)
	if err != nil {
		p.logger.Warn().
			Err(err).
			Str("job_id", jobID).
			Str("type", string(eventType)).
			Msg("Dropping event with unmarshalable payload")
		return 0
	}

	seq, err := p.events.Append(ctx, &models.JobEvent{
		JobID:   jobID,
		UserID:  userID,
		Type:    eventType,
		Payload: data,
	})
	if err != nil {
		p.logger.Warn().
			Err(err).
			Str("job_id", jobID).
			Str("type", string(eventType)).
			Msg("Failed to append event")
		return 0
	}

	p.notifier.NotifyAppended(jobID)
	return seq
}

// NotifyAppended forwards a wake-up for events appended outside the
// publisher, such as terminal events written by the completion primitive.
func (p *Publisher) NotifyAppended(jobID string) {
	p.notifier.NotifyAppended(jobID)
}
