package badger

import (
	"context"
	"errors"
	"fmt"

	badgerdb "github.com/dgraph-io/badger/v4"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/docspasta/internal/interfaces"
	"github.com/ternarybob/docspasta/internal/models"
	"github.com/timshannon/badgerhold/v4"
)

// queueSeqRecord tracks the tail position of one job's FIFO queue
type queueSeqRecord struct {
	JobID string `badgerhold:"key"`
	Last  uint64
}

// seenURLRecord marks one url_hash as admitted for a job. Insert-if-absent
// on the composite key is the shared atomic ADD of the dedup set.
type seenURLRecord struct {
	Key   string `badgerhold:"key"` // jobID|urlHash
	JobID string `badgerhold:"index"`
}

// workerCountRecord tracks live workers for one job
type workerCountRecord struct {
	JobID string `badgerhold:"key"`
	Count int
}

// CrawlStateStorage implements the CrawlStateStorage interface for Badger.
// The queue, dedup set, progress counters and worker counter are only ever
// mutated inside read-write transactions; no caller read-modify-writes.
type CrawlStateStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewCrawlStateStorage creates a new CrawlStateStorage instance
func NewCrawlStateStorage(db *BadgerDB, logger arbor.ILogger) interfaces.CrawlStateStorage {
	return &CrawlStateStorage{
		db:     db,
		logger: logger,
	}
}

func (s *CrawlStateStorage) enqueueTx(tx *badgerdb.Txn, jobID string, tasks []models.Task) error {
	var seq queueSeqRecord
	err := s.db.Store().TxGet(tx, jobID, &seq)
	if err != nil && !errors.Is(err, badgerhold.ErrNotFound) {
		return fmt.Errorf("failed to read queue sequence: %w", err)
	}
	seq.JobID = jobID

	for i := range tasks {
		seq.Last++
		tasks[i].JobID = jobID
		tasks[i].QSeq = seq.Last
		tasks[i].Key = models.TaskKey(jobID, seq.Last)
		if err := s.db.Store().TxInsert(tx, tasks[i].Key, &tasks[i]); err != nil {
			return fmt.Errorf("failed to enqueue task: %w", err)
		}
	}
	return s.db.Store().TxUpsert(tx, jobID, &seq)
}

func (s *CrawlStateStorage) EnqueueTasks(ctx context.Context, jobID string, tasks []models.Task) error {
	if len(tasks) == 0 {
		return nil
	}
	err := s.db.Update(func(tx *badgerdb.Txn) error {
		return s.enqueueTx(tx, jobID, tasks)
	})
	if err != nil {
		return err
	}

	s.logger.Trace().Str("job_id", jobID).Int("tasks", len(tasks)).Msg("BadgerDB: tasks enqueued")
	return nil
}

// AdmitTasks enqueues tasks while the queued counter stays under the cap.
// The capacity check, the inserts and the counter bumps commit together,
// so concurrent workers cannot overshoot max_pages between a read and a
// write. Tasks that do not fit are counted as filtered.
func (s *CrawlStateStorage) AdmitTasks(ctx context.Context, jobID string, tasks []models.Task, maxQueued int) (int, error) {
	if len(tasks) == 0 {
		return 0, nil
	}

	admitted := 0
	err := s.db.Update(func(tx *badgerdb.Txn) error {
		var progress models.Progress
		err := s.db.Store().TxGet(tx, jobID, &progress)
		if err != nil && !errors.Is(err, badgerhold.ErrNotFound) {
			return fmt.Errorf("failed to read progress: %w", err)
		}
		progress.JobID = jobID

		room := maxQueued - progress.Queued
		if room < 0 {
			room = 0
		}
		admitted = len(tasks)
		if admitted > room {
			admitted = room
		}

		if admitted > 0 {
			if err := s.enqueueTx(tx, jobID, tasks[:admitted]); err != nil {
				return err
			}
		}

		progress.Queued += admitted
		progress.Filtered += len(tasks) - admitted
		return s.db.Store().TxUpsert(tx, jobID, &progress)
	})
	if err != nil {
		return 0, err
	}

	s.logger.Trace().
		Str("job_id", jobID).
		Int("admitted", admitted).
		Int("capped", len(tasks)-admitted).
		Msg("BadgerDB: tasks admitted")
	return admitted, nil
}

func (s *CrawlStateStorage) PopBatch(ctx context.Context, jobID string, n int) ([]models.Task, error) {
	if n <= 0 {
		return nil, nil
	}

	var claimed []models.Task
	err := s.db.Update(func(tx *badgerdb.Txn) error {
		claimed = nil
		var tasks []models.Task
		query := badgerhold.Where("JobID").Eq(jobID).SortBy("QSeq").Limit(n)
		if err := s.db.Store().TxFind(tx, &tasks, query); err != nil {
			return fmt.Errorf("failed to read queue head: %w", err)
		}
		for i := range tasks {
			if err := s.db.Store().TxDelete(tx, tasks[i].Key, &models.Task{}); err != nil {
				return fmt.Errorf("failed to claim task: %w", err)
			}
		}
		claimed = tasks
		return nil
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

func (s *CrawlStateStorage) QueueLen(ctx context.Context, jobID string) (int, error) {
	count, err := s.db.Store().Count(&models.Task{}, badgerhold.Where("JobID").Eq(jobID))
	if err != nil {
		return 0, fmt.Errorf("failed to count queue: %w", err)
	}
	return int(count), nil
}

func (s *CrawlStateStorage) MarkSeen(ctx context.Context, jobID, urlHash string) (bool, error) {
	key := jobID + "|" + urlHash
	added := false
	err := s.db.Update(func(tx *badgerdb.Txn) error {
		added = false
		record := seenURLRecord{Key: key, JobID: jobID}
		err := s.db.Store().TxInsert(tx, key, &record)
		if errors.Is(err, badgerhold.ErrKeyExists) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to mark url seen: %w", err)
		}
		added = true
		return nil
	})
	if err != nil {
		return false, err
	}
	return added, nil
}

func (s *CrawlStateStorage) IncrProgress(ctx context.Context, jobID string, delta models.ProgressDelta) (*models.Progress, error) {
	var snapshot models.Progress
	err := s.db.Update(func(tx *badgerdb.Txn) error {
		var progress models.Progress
		err := s.db.Store().TxGet(tx, jobID, &progress)
		if err != nil && !errors.Is(err, badgerhold.ErrNotFound) {
			return fmt.Errorf("failed to read progress: %w", err)
		}
		progress.JobID = jobID
		progress.Discovered += delta.Discovered
		progress.Queued += delta.Queued
		progress.Processed += delta.Processed
		progress.Filtered += delta.Filtered
		progress.Skipped += delta.Skipped
		progress.Failed += delta.Failed
		progress.TotalWords += delta.TotalWords

		if err := s.db.Store().TxUpsert(tx, jobID, &progress); err != nil {
			return fmt.Errorf("failed to write progress: %w", err)
		}
		snapshot = progress
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &snapshot, nil
}

func (s *CrawlStateStorage) GetProgress(ctx context.Context, jobID string) (*models.Progress, error) {
	var progress models.Progress
	err := s.db.Store().Get(jobID, &progress)
	if errors.Is(err, badgerhold.ErrNotFound) {
		return &models.Progress{JobID: jobID}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get progress: %w", err)
	}
	return &progress, nil
}

func (s *CrawlStateStorage) addWorkers(jobID string, delta int) (int, error) {
	count := 0
	err := s.db.Update(func(tx *badgerdb.Txn) error {
		var record workerCountRecord
		err := s.db.Store().TxGet(tx, jobID, &record)
		if err != nil && !errors.Is(err, badgerhold.ErrNotFound) {
			return fmt.Errorf("failed to read worker counter: %w", err)
		}
		record.JobID = jobID
		record.Count += delta
		if record.Count < 0 {
			record.Count = 0
		}
		if err := s.db.Store().TxUpsert(tx, jobID, &record); err != nil {
			return fmt.Errorf("failed to write worker counter: %w", err)
		}
		count = record.Count
		return nil
	})
	return count, err
}

func (s *CrawlStateStorage) IncrWorkers(ctx context.Context, jobID string) (int, error) {
	return s.addWorkers(jobID, 1)
}

func (s *CrawlStateStorage) DecrWorkers(ctx context.Context, jobID string) (int, error) {
	return s.addWorkers(jobID, -1)
}

func (s *CrawlStateStorage) WorkerCount(ctx context.Context, jobID string) (int, error) {
	var record workerCountRecord
	err := s.db.Store().Get(jobID, &record)
	if errors.Is(err, badgerhold.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to get worker counter: %w", err)
	}
	return record.Count, nil
}

func (s *CrawlStateStorage) ClearJobState(ctx context.Context, jobID string) error {
	if err := s.db.Store().DeleteMatching(&seenURLRecord{}, badgerhold.Where("JobID").Eq(jobID)); err != nil {
		return fmt.Errorf("failed to clear dedup set: %w", err)
	}
	if err := s.db.Store().DeleteMatching(&models.Task{}, badgerhold.Where("JobID").Eq(jobID)); err != nil {
		return fmt.Errorf("failed to clear queue: %w", err)
	}
	err := s.db.Store().Delete(jobID, &workerCountRecord{})
	if err != nil && !errors.Is(err, badgerhold.ErrNotFound) {
		return fmt.Errorf("failed to clear worker counter: %w", err)
	}

	s.logger.Debug().Str("job_id", jobID).Msg("BadgerDB: crawl state cleared")
	return nil
}
