package maintenance

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/docspasta/internal/common"
	"github.com/ternarybob/docspasta/internal/interfaces"
	"github.com/ternarybob/docspasta/internal/models"
)

// notifier is the slice of the events service the sweeper needs
type notifier interface {
	NotifyAppended(jobID string)
}

// Service is the background sweeper. On its cron schedule it fails
// running jobs whose workers went silent past the stale threshold and
// clears their queue residue, dedup set and worker counter. The terminal
// write goes through the same single-winner primitive as every other
// completion, so a sweep racing a live finalizer is harmless.
type Service struct {
	config    common.MaintenanceConfig
	storage   interfaces.StorageManager
	publisher notifier
	cron      *cron.Cron
	logger    arbor.ILogger
	running   bool
}

// NewService creates the maintenance sweeper
func NewService(config common.MaintenanceConfig, storage interfaces.StorageManager, publisher notifier, logger arbor.ILogger) *Service {
	return &Service{
		config:    config,
		storage:   storage,
		publisher: publisher,
		cron:      cron.New(),
		logger:    logger,
	}
}

// Start registers the sweep on the configured schedule and starts the cron
func (s *Service) Start() error {
	if !s.config.Enabled {
		s.logger.Info().Msg("Maintenance sweeper disabled")
		return nil
	}
	if s.running {
		return fmt.Errorf("maintenance sweeper already running")
	}

	if _, err := s.cron.AddFunc(s.config.Schedule, s.sweep); err != nil {
		return fmt.Errorf("failed to schedule maintenance sweep: %w", err)
	}
	s.cron.Start()
	s.running = true

	s.logger.Info().
		Str("schedule", s.config.Schedule).
		Str("stale_after", s.config.StaleAfter.String()).
		Msg("Maintenance sweeper started")
	return nil
}

// Stop halts the cron and waits for an in-flight sweep to finish
func (s *Service) Stop() {
	if !s.running {
		return
	}
	stopCtx := s.cron.Stop()
	<-stopCtx.Done()
	s.running = false
	s.logger.Debug().Msg("Maintenance sweeper stopped")
}

// sweep fails stale running jobs and clears their crawl state
func (s *Service) sweep() {
	ctx := context.Background()
	cutoff := time.Now().UTC().Add(-s.config.StaleAfter)

	stale, err := s.storage.JobStorage().GetStaleRunningJobs(ctx, cutoff)
	if err != nil {
		s.logger.Warn().Err(err).Msg("Stale job scan failed")
		return
	}
	if len(stale) == 0 {
		return
	}

	s.logger.Info().
		Int("count", len(stale)).
		Str("cutoff", cutoff.Format(time.RFC3339)).
		Msg("Sweeping stale jobs")

	for _, job := range stale {
		if err := s.failStaleJob(ctx, job); err != nil {
			s.logger.Warn().Err(err).Str("job_id", job.ID).Msg("Failed to sweep stale job")
		}
	}
}

func (s *Service) failStaleJob(ctx context.Context, job *models.Job) error {
	progress, err := s.storage.CrawlStateStorage().GetProgress(ctx, job.ID)
	if err != nil {
		return err
	}

	const message = "Timeout: no activity"
	payload, err := models.MarshalPayload(models.JobFailedPayload{
		JobID:           job.ID,
		Error:           message,
		TotalProcessed:  progress.Processed,
		TotalDiscovered: progress.Discovered,
	})
	if err != nil {
		return err
	}

	won, err := s.storage.JobStorage().CompleteJob(ctx, job.ID, interfaces.CompletionResult{
		Status:       models.JobStatusFailed,
		Message:      message,
		EventType:    models.EventJobFailed,
		EventPayload: payload,
	})
	if err != nil {
		return err
	}
	if !won {
		// A finalizer beat the sweep to the terminal write
		return nil
	}

	if err := s.storage.CrawlStateStorage().ClearJobState(ctx, job.ID); err != nil {
		s.logger.Warn().Err(err).Str("job_id", job.ID).Msg("Failed to clear state of swept job")
	}
	s.publisher.NotifyAppended(job.ID)

	s.logger.Info().
		Str("job_id", job.ID).
		Str("seed", job.SeedURL).
		Msg("Stale job failed by sweeper")
	return nil
}
