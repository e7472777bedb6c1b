package interfaces

import (
	"context"
	"encoding/json"
	"time"

	"github.com/ternarybob/docspasta/internal/models"
)

// EventDraft is an event prepared outside the store, sequenced inside it
type EventDraft struct {
	Type    models.EventType
	Payload json.RawMessage
}

// CompletionResult describes the terminal write applied by CompleteJob.
// The status transition and the terminal event land in one atomic write;
// losers of the completion race observe won=false and write nothing.
// PreEvents are appended before the terminal event in the same write, so
// a winner's summary events always precede its terminal event in the log.
type CompletionResult struct {
	Status        models.JobStatus // completed, failed, or partial
	Message       string
	FinalMarkdown string
	PreEvents     []EventDraft
	EventType     models.EventType // job_completed or job_failed
	EventPayload  json.RawMessage
}

// JobStorage - interface for crawl job persistence
type JobStorage interface {
	// CreateJob persists a new job in pending state
	CreateJob(ctx context.Context, job *models.Job) error

	// GetJob returns a job scoped to its owner. Jobs owned by other
	// users are reported as not found.
	GetJob(ctx context.Context, userID, jobID string) (*models.Job, error)

	// GetJobByID returns a job without user scoping (worker paths)
	GetJobByID(ctx context.Context, jobID string) (*models.Job, error)

	// ListRecentJobs returns the user's jobs created at or after since,
	// newest first
	ListRecentJobs(ctx context.Context, userID string, since time.Time, limit int) ([]*models.Job, error)

	// MarkRunning transitions pending -> running and bumps StateVersion
	MarkRunning(ctx context.Context, jobID string) error

	// TouchJob bumps UpdatedAt and StateVersion on a non-terminal job.
	// Used as the activity signal for stale-job detection.
	TouchJob(ctx context.Context, jobID string) error

	// CompleteJob applies the single-winner terminal transition: in one
	// atomic write it sets the terminal status, message and artifact,
	// bumps StateVersion, and appends the terminal event. Returns false
	// without writing when the job is already terminal.
	CompleteJob(ctx context.Context, jobID string, result CompletionResult) (bool, error)

	// GetStaleRunningJobs returns running jobs not touched since the cutoff
	GetStaleRunningJobs(ctx context.Context, cutoff time.Time) ([]*models.Job, error)
}

// PageResult carries a page's crawl outcome to storage
type PageResult struct {
	Status       models.PageStatus
	HTTPStatus   int
	Title        string
	ErrorMessage string
	QualityScore int
	WordCount    int
}

// PageStorage - interface for per-URL page rows and content chunks.
// Page rows are keyed (job_id, url_hash) and double as the durable
// dedup ledger.
type PageStorage interface {
	// UpsertPending inserts a pending page row if no row exists for
	// (job_id, url_hash). When a row already exists it is returned
	// unchanged with created=false, which workers treat as a cache hit
	// if the row is terminal.
	UpsertPending(ctx context.Context, page *models.Page) (existing *models.Page, created bool, err error)

	// SetResult writes the page's terminal outcome
	SetResult(ctx context.Context, jobID, urlHash string, result PageResult) error

	// GetPage returns one page row
	GetPage(ctx context.Context, jobID, urlHash string) (*models.Page, error)

	// GetPagesByJob returns all pages of a job, oldest first
	GetPagesByJob(ctx context.Context, jobID string) ([]*models.Page, error)

	// GetArtifactPages returns crawled pages with score >= minScore,
	// sorted score ascending then CreatedAt ascending
	GetArtifactPages(ctx context.Context, jobID string, minScore int) ([]*models.Page, error)

	// CountByStatus tallies a job's pages per status
	CountByStatus(ctx context.Context, jobID string) (map[models.PageStatus]int, error)

	// SaveChunks persists a page's content chunks
	SaveChunks(ctx context.Context, chunks []*models.ContentChunk) error

	// GetChunksByPage returns a page's chunks in ChunkIndex order
	GetChunksByPage(ctx context.Context, pageID string) ([]*models.ContentChunk, error)
}

// EventStorage - interface for the per-job append-only event log.
// Seq values are store-assigned and strictly monotonic per job.
type EventStorage interface {
	// Append writes one event and returns its assigned Seq
	Append(ctx context.Context, event *models.JobEvent) (uint64, error)

	// ReadAfter returns up to limit events with Seq > cursor, ascending
	ReadAfter(ctx context.Context, jobID string, cursor uint64, limit int) ([]*models.JobEvent, error)

	// LastSeq returns the highest Seq assigned for the job (0 if none)
	LastSeq(ctx context.Context, jobID string) (uint64, error)

	// RecentEvents returns the newest events up to limit, ascending
	RecentEvents(ctx context.Context, jobID string, limit int) ([]*models.JobEvent, error)
}

// CrawlStateStorage - interface for the shared crawl coordination state:
// FIFO work queue, dedup set, progress counters and the worker counter.
// Every method is a single atomic operation.
type CrawlStateStorage interface {
	// EnqueueTasks appends tasks to the job's FIFO queue in one write
	EnqueueTasks(ctx context.Context, jobID string, tasks []models.Task) error

	// AdmitTasks enqueues as many of the given tasks as fit under the
	// job's queued-page cap, in one write. It bumps the queued counter
	// by the admitted count and the filtered counter by the remainder,
	// and returns how many tasks were admitted.
	AdmitTasks(ctx context.Context, jobID string, tasks []models.Task, maxQueued int) (int, error)

	// PopBatch atomically claims and removes up to n oldest tasks
	PopBatch(ctx context.Context, jobID string, n int) ([]models.Task, error)

	// QueueLen returns the number of queued tasks
	QueueLen(ctx context.Context, jobID string) (int, error)

	// MarkSeen adds url_hash to the job's dedup set. Returns true when
	// the hash was newly added, false when already present.
	MarkSeen(ctx context.Context, jobID, urlHash string) (bool, error)

	// IncrProgress applies counter deltas atomically and returns the
	// updated snapshot
	IncrProgress(ctx context.Context, jobID string, delta models.ProgressDelta) (*models.Progress, error)

	// GetProgress returns the job's counter snapshot
	GetProgress(ctx context.Context, jobID string) (*models.Progress, error)

	// IncrWorkers increments the live worker counter, returning the new count
	IncrWorkers(ctx context.Context, jobID string) (int, error)

	// DecrWorkers decrements the live worker counter, returning the new count
	DecrWorkers(ctx context.Context, jobID string) (int, error)

	// WorkerCount returns the live worker counter
	WorkerCount(ctx context.Context, jobID string) (int, error)

	// ClearJobState removes the dedup set, queue residue and worker
	// counter of a terminal job. Progress is kept for status reads.
	ClearJobState(ctx context.Context, jobID string) error
}

// StorageManager - composite interface for all storage operations
type StorageManager interface {
	JobStorage() JobStorage
	PageStorage() PageStorage
	EventStorage() EventStorage
	CrawlStateStorage() CrawlStateStorage
	Close() error
}
