package crawler

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/docspasta/internal/common"
	"github.com/ternarybob/docspasta/internal/interfaces"
	"github.com/ternarybob/docspasta/internal/models"
)

// ErrInvalidRequest marks crawl requests rejected before any state is
// written; handlers map it to a 400 response.
var ErrInvalidRequest = errors.New("invalid crawl request")

// Service owns the crawl job lifecycle: creation, the worker pool behind
// each running job, cancellation and finalization. All job state lives in
// storage; the service holds only goroutine bookkeeping, so any instance
// can act on any job.
type Service struct {
	config    *common.Config
	storage   interfaces.StorageManager
	publisher eventPublisher
	finalizer *Finalizer
	logger    arbor.ILogger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewService creates the crawler service
func NewService(config *common.Config, storage interfaces.StorageManager, publisher eventPublisher, logger arbor.ILogger) *Service {
	ctx, cancel := context.WithCancel(context.Background())
	return &Service{
		config:    config,
		storage:   storage,
		publisher: publisher,
		finalizer: NewFinalizer(storage, publisher, logger),
		logger:    logger,
		ctx:       ctx,
		cancel:    cancel,
	}
}

var _ interfaces.CrawlerService = (*Service)(nil)

func (s *Service) defaultJobConfig() models.JobConfig {
	c := s.config.Crawler
	return models.JobConfig{
		MaxDepth:            c.MaxDepth,
		MaxPages:            c.MaxPages,
		QualityThreshold:    c.QualityThreshold,
		Concurrency:         c.Concurrency,
		PageTimeout:         c.PageTimeout,
		RespectRobotsTxt:    c.RespectRobotsTxt,
		Delay:               c.Delay,
		FollowExternalLinks: c.FollowExternalLinks,
	}
}

// CreateJob validates the seed, persists the job, seeds the ledger, dedup
// set and queue, and spawns the initial workers. The job is running when
// this returns; progress arrives over the event stream.
func (s *Service) CreateJob(ctx context.Context, userID string, req *models.CrawlRequest) (*models.Job, error) {
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}

	seed, err := Normalize(req.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	if seed.Scheme != "http" && seed.Scheme != "https" {
		return nil, fmt.Errorf("%w: only http and https URLs are crawlable", ErrInvalidRequest)
	}
	if !s.config.AllowTestURLs() && IsPrivateHost(seed.Hostname()) {
		return nil, fmt.Errorf("%w: private and loopback hosts are not crawlable", ErrInvalidRequest)
	}

	jobConfig := req.ToJobConfig(s.defaultJobConfig())
	if err := jobConfig.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}

	job := &models.Job{
		ID:      common.NewJobID(),
		UserID:  userID,
		SeedURL: seed.String(),
		Config:  jobConfig,
		Status:  models.JobStatusPending,
	}
	if err := s.storage.JobStorage().CreateJob(ctx, job); err != nil {
		return nil, fmt.Errorf("failed to create job: %w", err)
	}

	hash := Fingerprint(seed)
	if _, _, err := s.storage.PageStorage().UpsertPending(ctx, &models.Page{
		ID:      common.NewPageID(),
		JobID:   job.ID,
		URL:     seed.String(),
		URLHash: hash,
		Depth:   0,
	}); err != nil {
		return nil, fmt.Errorf("failed to seed page ledger: %w", err)
	}

	state := s.storage.CrawlStateStorage()
	if _, err := state.MarkSeen(ctx, job.ID, hash); err != nil {
		return nil, fmt.Errorf("failed to seed dedup set: %w", err)
	}
	if err := state.EnqueueTasks(ctx, job.ID, []models.Task{{
		TaskID: common.NewTaskID(),
		JobID:  job.ID,
		URL:    seed.String(),
		Depth:  0,
	}}); err != nil {
		return nil, fmt.Errorf("failed to enqueue seed: %w", err)
	}

	snapshot, err := state.IncrProgress(ctx, job.ID, models.ProgressDelta{Discovered: 1, Queued: 1})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize progress: %w", err)
	}

	if err := s.storage.JobStorage().MarkRunning(ctx, job.ID); err != nil {
		return nil, fmt.Errorf("failed to start job: %w", err)
	}
	job.Status = models.JobStatusRunning

	// The sitemap ingest registers in the worker counter before any crawl
	// worker starts, so a fast crawl cannot finalize ahead of it.
	if _, err := state.IncrWorkers(ctx, job.ID); err != nil {
		s.logger.Warn().Err(err).Str("job_id", job.ID).Msg("Skipping sitemap ingest, worker slot unavailable")
	} else {
		ingestor := newSitemapIngestor(s, job, NewScope(seed, jobConfig.FollowExternalLinks))
		s.wg.Add(1)
		common.SafeGo(s.logger, "sitemap-ingest", func() {
			defer s.wg.Done()
			ingestor.run(s.ctx)
		})
	}

	for i := 0; i < s.config.Crawler.InitialWorkers; i++ {
		s.spawnWorker(job)
	}

	s.publisher.Publish(ctx, job.ID, userID, models.EventProgress, models.ProgressPayload{
		Processed:  snapshot.Processed,
		Discovered: snapshot.Discovered,
		Queued:     snapshot.Queued,
		Pending:    snapshot.Pending(),
	})

	s.logger.Info().
		Str("job_id", job.ID).
		Str("user_id", userID).
		Str("seed", job.SeedURL).
		Int("max_pages", jobConfig.MaxPages).
		Int("max_depth", jobConfig.MaxDepth).
		Msg("Crawl job started")
	return job, nil
}

// CancelJob drives a non-terminal job to failed through the completion
// primitive. Workers notice the terminal status on their next batch and
// drain out.
func (s *Service) CancelJob(ctx context.Context, userID, jobID string) error {
	job, err := s.storage.JobStorage().GetJob(ctx, userID, jobID)
	if err != nil {
		return err
	}
	if job.IsTerminal() {
		return interfaces.ErrAlreadyTerminal
	}

	progress, err := s.storage.CrawlStateStorage().GetProgress(ctx, jobID)
	if err != nil {
		return fmt.Errorf("failed to read progress for job %s: %w", jobID, err)
	}
	payload, err := models.MarshalPayload(models.JobFailedPayload{
		JobID:           jobID,
		Error:           "job cancelled",
		TotalProcessed:  progress.Processed,
		TotalDiscovered: progress.Discovered,
	})
	if err != nil {
		return err
	}

	won, err := s.storage.JobStorage().CompleteJob(ctx, jobID, interfaces.CompletionResult{
		Status:       models.JobStatusFailed,
		Message:      "job cancelled",
		EventType:    models.EventJobFailed,
		EventPayload: payload,
	})
	if err != nil {
		return fmt.Errorf("failed to cancel job %s: %w", jobID, err)
	}
	if !won {
		return interfaces.ErrAlreadyTerminal
	}

	if err := s.storage.CrawlStateStorage().ClearJobState(ctx, jobID); err != nil {
		s.logger.Warn().Err(err).Str("job_id", jobID).Msg("Failed to clear crawl state of cancelled job")
	}
	s.publisher.NotifyAppended(jobID)

	s.logger.Info().
		Str("job_id", jobID).
		Str("user_id", userID).
		Msg("Crawl job cancelled")
	return nil
}

// Finalize assembles the artifact and applies the terminal transition.
// Safe to call repeatedly; only the completion winner writes.
func (s *Service) Finalize(ctx context.Context, jobID string) error {
	return s.finalizer.Finalize(ctx, jobID)
}

// Close stops accepting work and waits for all workers to exit
func (s *Service) Close() error {
	s.cancel()
	s.wg.Wait()
	s.logger.Debug().Msg("Crawler service closed")
	return nil
}

// spawnWorker starts one worker invocation for the job, fire-and-forget
func (s *Service) spawnWorker(job *models.Job) {
	seed, err := Normalize(job.SeedURL, nil)
	if err != nil {
		s.logger.Warn().Err(err).Str("job_id", job.ID).Msg("Cannot derive crawl scope from seed")
		return
	}
	scope := NewScope(seed, job.Config.FollowExternalLinks)
	w := newWorker(s, job, scope)

	s.wg.Add(1)
	common.SafeGo(s.logger, "crawl-worker", func() {
		defer s.wg.Done()
		w.run(s.ctx)
	})
}

// handOff releases one worker-counter slot after a worker or the sitemap
// ingest finishes. Leftover queued work below the worker ceiling gets a
// fresh invocation; a drained queue with no remaining slots finalizes.
func (s *Service) handOff(ctx context.Context, jobID string) {
	state := s.storage.CrawlStateStorage()
	remaining, err := state.DecrWorkers(ctx, jobID)
	if err != nil {
		s.logger.Warn().Err(err).Str("job_id", jobID).Msg("Failed to release worker slot")
		return
	}

	qlen, err := state.QueueLen(ctx, jobID)
	if err != nil {
		s.logger.Warn().Err(err).Str("job_id", jobID).Msg("Failed to read queue length on worker exit")
		return
	}

	if qlen > 0 {
		if remaining < s.config.Crawler.MaxWorkersPerJob {
			s.spawnForJob(jobID)
		}
		return
	}
	if remaining == 0 {
		if err := s.Finalize(ctx, jobID); err != nil {
			s.logger.Warn().Err(err).Str("job_id", jobID).Msg("Finalization failed on worker exit")
		}
	}
}

// spawnForJob respawns a worker for a job that still has queued work.
// The job is re-read so a job gone terminal since the exit is left alone.
func (s *Service) spawnForJob(jobID string) {
	if s.ctx.Err() != nil {
		return
	}
	job, err := s.storage.JobStorage().GetJobByID(s.ctx, jobID)
	if err != nil || job.Status != models.JobStatusRunning {
		return
	}
	s.spawnWorker(job)
}
