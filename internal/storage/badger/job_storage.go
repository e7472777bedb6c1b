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

// JobStorage implements the JobStorage interface for Badger. Every
// user-facing read is scoped by user ID; a job owned by another user is
// indistinguishable from a missing one.
type JobStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewJobStorage creates a new JobStorage instance
func NewJobStorage(db *BadgerDB, logger arbor.ILogger) interfaces.JobStorage {
	return &JobStorage{
		db:     db,
		logger: logger,
	}
}

func (s *JobStorage) CreateJob(ctx context.Context, job *models.Job) error {
	if job.ID == "" {
		return fmt.Errorf("job ID is required")
	}
	if job.UserID == "" {
		return fmt.Errorf("job user ID is required")
	}

	now := time.Now().UTC()
	if job.CreatedAt.IsZero() {
		job.CreatedAt = now
	}
	job.UpdatedAt = now
	if job.Status == "" {
		job.Status = models.JobStatusPending
	}
	if job.StateVersion < 1 {
		job.StateVersion = 1
	}

	if err := s.db.Store().Insert(job.ID, job); err != nil {
		if errors.Is(err, badgerhold.ErrKeyExists) {
			return fmt.Errorf("job %s already exists", job.ID)
		}
		return fmt.Errorf("failed to create job: %w", err)
	}

	s.logger.Debug().
		Str("job_id", job.ID).
		Str("user_id", job.UserID).
		Str("seed_url", job.SeedURL).
		Msg("BadgerDB: job created")
	return nil
}

func (s *JobStorage) GetJob(ctx context.Context, userID, jobID string) (*models.Job, error) {
	job, err := s.GetJobByID(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.UserID != userID {
		return nil, interfaces.ErrJobNotFound
	}
	return job, nil
}

func (s *JobStorage) GetJobByID(ctx context.Context, jobID string) (*models.Job, error) {
	var job models.Job
	if err := s.db.Store().Get(jobID, &job); err != nil {
		if errors.Is(err, badgerhold.ErrNotFound) {
			return nil, interfaces.ErrJobNotFound
		}
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return &job, nil
}

func (s *JobStorage) ListRecentJobs(ctx context.Context, userID string, since time.Time, limit int) ([]*models.Job, error) {
	var jobs []*models.Job
	query := badgerhold.Where("UserID").Eq(userID).SortBy("CreatedAt").Reverse()
	if err := s.db.Store().Find(&jobs, query); err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}

	result := make([]*models.Job, 0, len(jobs))
	for _, job := range jobs {
		if !since.IsZero() && job.CreatedAt.Before(since) {
			continue
		}
		result = append(result, job)
		if limit > 0 && len(result) >= limit {
			break
		}
	}
	return result, nil
}

func (s *JobStorage) MarkRunning(ctx context.Context, jobID string) error {
	err := s.db.Update(func(tx *badgerdb.Txn) error {
		var job models.Job
		if err := s.db.Store().TxGet(tx, jobID, &job); err != nil {
			if errors.Is(err, badgerhold.ErrNotFound) {
				return interfaces.ErrJobNotFound
			}
			return fmt.Errorf("failed to get job: %w", err)
		}
		if job.Status.IsTerminal() {
			return interfaces.ErrAlreadyTerminal
		}
		if job.Status == models.JobStatusRunning {
			return nil
		}
		job.Status = models.JobStatusRunning
		job.StateVersion++
		job.UpdatedAt = time.Now().UTC()
		return s.db.Store().TxUpdate(tx, jobID, &job)
	})
	if err != nil {
		return err
	}

	s.logger.Debug().Str("job_id", jobID).Msg("BadgerDB: job running")
	return nil
}

func (s *JobStorage) TouchJob(ctx context.Context, jobID string) error {
	return s.db.Update(func(tx *badgerdb.Txn) error {
		var job models.Job
		if err := s.db.Store().TxGet(tx, jobID, &job); err != nil {
			if errors.Is(err, badgerhold.ErrNotFound) {
				return interfaces.ErrJobNotFound
			}
			return fmt.Errorf("failed to get job: %w", err)
		}
		if job.Status.IsTerminal() {
			return interfaces.ErrAlreadyTerminal
		}
		job.StateVersion++
		job.UpdatedAt = time.Now().UTC()
		return s.db.Store().TxUpdate(tx, jobID, &job)
	})
}

// CompleteJob applies the single-winner terminal transition. The status
// write, the state-version bump, any pre-terminal summary events and the
// terminal event itself all commit in one transaction; concurrent callers
// race on the job key and exactly one commit survives. Losers re-run the
// closure, observe the terminal status and return won=false.
func (s *JobStorage) CompleteJob(ctx context.Context, jobID string, result interfaces.CompletionResult) (bool, error) {
	if !result.Status.IsTerminal() {
		return false, fmt.Errorf("completion status %q is not terminal", result.Status)
	}

	won := false
	err := s.db.Update(func(tx *badgerdb.Txn) error {
		won = false

		var job models.Job
		if err := s.db.Store().TxGet(tx, jobID, &job); err != nil {
			if errors.Is(err, badgerhold.ErrNotFound) {
				return interfaces.ErrJobNotFound
			}
			return fmt.Errorf("failed to get job: %w", err)
		}
		if job.Status.IsTerminal() {
			return nil
		}

		now := time.Now().UTC()
		job.Status = result.Status
		job.StatusMessage = result.Message
		if result.FinalMarkdown != "" {
			job.FinalMarkdown = result.FinalMarkdown
		}
		job.StateVersion++
		job.UpdatedAt = now
		job.CompletedAt = &now

		if err := s.db.Store().TxUpdate(tx, jobID, &job); err != nil {
			return fmt.Errorf("failed to write terminal status: %w", err)
		}

		for _, draft := range result.PreEvents {
			event := &models.JobEvent{
				JobID:   jobID,
				UserID:  job.UserID,
				Type:    draft.Type,
				Payload: draft.Payload,
			}
			if _, err := appendEventTx(s.db.Store(), tx, event); err != nil {
				return err
			}
		}

		terminal := &models.JobEvent{
			JobID:   jobID,
			UserID:  job.UserID,
			Type:    result.EventType,
			Payload: result.EventPayload,
		}
		if _, err := appendEventTx(s.db.Store(), tx, terminal); err != nil {
			return err
		}

		won = true
		return nil
	})
	if err != nil {
		return false, err
	}

	if won {
		s.logger.Info().
			Str("job_id", jobID).
			Str("status", string(result.Status)).
			Msg("Job reached terminal state")
	}
	return won, nil
}

func (s *JobStorage) GetStaleRunningJobs(ctx context.Context, cutoff time.Time) ([]*models.Job, error) {
	var jobs []*models.Job
	query := badgerhold.Where("Status").Eq(models.JobStatusRunning)
	if err := s.db.Store().Find(&jobs, query); err != nil {
		return nil, fmt.Errorf("failed to find running jobs: %w", err)
	}

	stale := make([]*models.Job, 0)
	for _, job := range jobs {
		if job.UpdatedAt.Before(cutoff) {
			stale = append(stale, job)
		}
	}
	return stale, nil
}
