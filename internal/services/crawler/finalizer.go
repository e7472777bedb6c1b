package crawler

import (
	"context"
	"fmt"
	"strings"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/docspasta/internal/interfaces"
	"github.com/ternarybob/docspasta/internal/models"
)

// Finalizer assembles the consolidated Markdown artifact and applies the
// terminal transition through the single-winner completion write. Finalize
// is idempotent: once a job is terminal every later call is a no-op, and
// concurrent callers race safely because only the completion winner writes.
type Finalizer struct {
	storage   interfaces.StorageManager
	publisher eventPublisher
	logger    arbor.ILogger
}

// eventPublisher is the slice of the events service the finalizer needs
type eventPublisher interface {
	Publish(ctx context.Context, jobID, userID string, eventType models.EventType, payload interface{}) uint64
	NotifyAppended(jobID string)
}

// NewFinalizer creates a finalizer over the given storage
func NewFinalizer(storage interfaces.StorageManager, publisher eventPublisher, logger arbor.ILogger) *Finalizer {
	return &Finalizer{
		storage:   storage,
		publisher: publisher,
		logger:    logger,
	}
}

// Finalize drives a drained job to its terminal state. The terminal
// policy: no crawled pages means failed; crawled pages alongside errors
// means partial; a clean run means completed.
func (f *Finalizer) Finalize(ctx context.Context, jobID string) error {
	job, err := f.storage.JobStorage().GetJobByID(ctx, jobID)
	if err != nil {
		return err
	}
	if job.IsTerminal() {
		return nil
	}

	counts, err := f.storage.PageStorage().CountByStatus(ctx, jobID)
	if err != nil {
		return fmt.Errorf("failed to tally pages for job %s: %w", jobID, err)
	}
	crawled := counts[models.PageStatusCrawled]
	errored := counts[models.PageStatusError]

	progress, err := f.storage.CrawlStateStorage().GetProgress(ctx, jobID)
	if err != nil {
		return fmt.Errorf("failed to read progress for job %s: %w", jobID, err)
	}

	artifact, included, err := f.assembleArtifact(ctx, jobID, job.Config.QualityThreshold)
	if err != nil {
		return err
	}

	result := interfaces.CompletionResult{FinalMarkdown: artifact}
	switch {
	case crawled == 0:
		result.Status = models.JobStatusFailed
		result.Message = "no pages crawled"
		result.EventType = models.EventJobFailed
		result.EventPayload, err = models.MarshalPayload(models.JobFailedPayload{
			JobID:           jobID,
			Error:           result.Message,
			TotalProcessed:  progress.Processed,
			TotalDiscovered: progress.Discovered,
		})
	case errored > 0:
		result.Status = models.JobStatusPartial
		result.Message = fmt.Sprintf("crawled %d pages, %d failed", crawled, errored)
		result.EventType = models.EventJobCompleted
		result.EventPayload, err = models.MarshalPayload(models.JobCompletedPayload{
			JobID:           jobID,
			TotalProcessed:  progress.Processed,
			TotalDiscovered: progress.Discovered,
		})
	default:
		result.Status = models.JobStatusCompleted
		result.Message = fmt.Sprintf("crawled %d pages", crawled)
		result.EventType = models.EventJobCompleted
		result.EventPayload, err = models.MarshalPayload(models.JobCompletedPayload{
			JobID:           jobID,
			TotalProcessed:  progress.Processed,
			TotalDiscovered: progress.Discovered,
		})
	}
	if err != nil {
		return err
	}

	summary, err := models.MarshalPayload(models.ContentProcessedPayload{
		Pages:              included,
		TotalWords:         progress.TotalWords,
		LowQualityFiltered: crawled - included,
	})
	if err != nil {
		return err
	}
	result.PreEvents = []interfaces.EventDraft{
		{Type: models.EventContentProcessed, Payload: summary},
	}

	won, err := f.storage.JobStorage().CompleteJob(ctx, jobID, result)
	if err != nil {
		return fmt.Errorf("failed to complete job %s: %w", jobID, err)
	}
	if !won {
		return nil
	}

	if err := f.storage.CrawlStateStorage().ClearJobState(ctx, jobID); err != nil {
		f.logger.Warn().Err(err).Str("job_id", jobID).Msg("Failed to clear crawl state of finalized job")
	}
	f.publisher.NotifyAppended(jobID)

	f.logger.Info().
		Str("job_id", jobID).
		Str("status", string(result.Status)).
		Int("pages", included).
		Int("errors", errored).
		Int("words", progress.TotalWords).
		Msg("Job finalized")
	return nil
}

// assembleArtifact concatenates the qualifying pages into one Markdown
// document. Pages come back score-ascending with CreatedAt as tiebreak;
// each page's chunks are joined in ChunkIndex order and wrapped with a
// title heading and a rule.
func (f *Finalizer) assembleArtifact(ctx context.Context, jobID string, minScore int) (string, int, error) {
	pages, err := f.storage.PageStorage().GetArtifactPages(ctx, jobID, minScore)
	if err != nil {
		return "", 0, fmt.Errorf("failed to load artifact pages for job %s: %w", jobID, err)
	}
	if len(pages) == 0 {
		return "", 0, nil
	}

	var b strings.Builder
	for _, page := range pages {
		chunks, err := f.storage.PageStorage().GetChunksByPage(ctx, page.ID)
		if err != nil {
			return "", 0, fmt.Errorf("failed to load chunks for page %s: %w", page.ID, err)
		}

		var content strings.Builder
		for _, chunk := range chunks {
			content.WriteString(chunk.Content)
		}

		title := page.Title
		if title == "" {
			title = page.URL
		}
		b.WriteString("## ")
		b.WriteString(title)
		b.WriteString("\n\n")
		b.WriteString(strings.TrimSpace(content.String()))
		b.WriteString("\n\n---\n")
	}
	return b.String(), len(pages), nil
}
