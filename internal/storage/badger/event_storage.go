package badger

import (
	"context"
	"errors"
	"fmt"
	"time"

	badgerdb "github.com/dgraph-io/badger/v4"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/docspasta/internal/interfaces"
	"github.com/ternarybob/docspasta/internal/models"
	"github.com/timshannon/badgerhold/v4"
)

// eventSeqRecord tracks the last event sequence assigned for one job.
// It is read and bumped inside the same transaction as the event insert,
// so assigned Seq values are strictly monotonic per job with no gaps.
type eventSeqRecord struct {
	JobID string `badgerhold:"key"`
	Last  uint64
}

// EventStorage implements the EventStorage interface for Badger
type EventStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewEventStorage creates a new EventStorage instance
func NewEventStorage(db *BadgerDB, logger arbor.ILogger) interfaces.EventStorage {
	return &EventStorage{
		db:     db,
		logger: logger,
	}
}

// appendEventTx assigns the next Seq for the job and inserts the event,
// all within the caller's transaction. CompleteJob shares this helper so
// a terminal event lands atomically with the status transition.
func appendEventTx(store *badgerhold.Store, tx *badgerdb.Txn, event *models.JobEvent) (uint64, error) {
	var seq eventSeqRecord
	err := store.TxGet(tx, event.JobID, &seq)
	if err != nil && !errors.Is(err, badgerhold.ErrNotFound) {
		return 0, fmt.Errorf("failed to read event sequence: %w", err)
	}
	seq.JobID = event.JobID
	seq.Last++

	event.Seq = seq.Last
	event.Key = models.EventKey(event.JobID, event.Seq)
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}

	if err := store.TxUpsert(tx, seq.JobID, &seq); err != nil {
		return 0, fmt.Errorf("failed to advance event sequence: %w", err)
	}
	if err := store.TxInsert(tx, event.Key, event); err != nil {
		return 0, fmt.Errorf("failed to insert event: %w", err)
	}
	return seq.Last, nil
}

func (s *EventStorage) Append(ctx context.Context, event *models.JobEvent) (uint64, error) {
	if event.JobID == "" {
		return 0, fmt.Errorf("event job ID is required")
	}

	var assigned uint64
	err := s.db.Update(func(tx *badgerdb.Txn) error {
		seq, err := appendEventTx(s.db.Store(), tx, event)
		if err != nil {
			return err
		}
		assigned = seq
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to append event: %w", err)
	}

	s.logger.Trace().
		Str("job_id", event.JobID).
		Str("type", string(event.Type)).
		Int64("seq", int64(assigned)).
		Msg("BadgerDB: event appended")
	return assigned, nil
}

func (s *EventStorage) ReadAfter(ctx context.Context, jobID string, cursor uint64, limit int) ([]*models.JobEvent, error) {
	var events []*models.JobEvent
	query := badgerhold.Where("JobID").Eq(jobID).And("Seq").Gt(cursor).SortBy("Seq")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := s.db.Store().Find(&events, query); err != nil {
		return nil, fmt.Errorf("failed to read events after %d: %w", cursor, err)
	}
	return events, nil
}

func (s *EventStorage) LastSeq(ctx context.Context, jobID string) (uint64, error) {
	var seq eventSeqRecord
	err := s.db.Store().Get(jobID, &seq)
	if errors.Is(err, badgerhold.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read event sequence: %w", err)
	}
	return seq.Last, nil
}

func (s *EventStorage) RecentEvents(ctx context.Context, jobID string, limit int) ([]*models.JobEvent, error) {
	var events []*models.JobEvent
	query := badgerhold.Where("JobID").Eq(jobID).SortBy("Seq").Reverse()
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := s.db.Store().Find(&events, query); err != nil {
		return nil, fmt.Errorf("failed to read recent events: %w", err)
	}
	// Reverse() returns newest first; callers want log order
	for i, j := 0, len(events)-1; i < j; i, j = i+1, j-1 {
		events[i], events[j] = events[j], events[i]
	}
	return events, nil
}
