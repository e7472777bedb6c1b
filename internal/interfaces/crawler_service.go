package interfaces

import (
	"context"

	"github.com/ternarybob/docspasta/internal/models"
)

// CrawlerService defines the job lifecycle operations exposed to the
// HTTP layer. Reads of job state, pages and events go through the
// storage interfaces directly; this service owns the mutations and the
// worker pool behind them.
type CrawlerService interface {
	// CreateJob validates the request, persists the job, seeds the queue
	// and spawns the initial workers. The job is running when this returns.
	CreateJob(ctx context.Context, userID string, req *models.CrawlRequest) (*models.Job, error)

	// CancelJob transitions a non-terminal job to failed via the
	// single-winner completion write. Workers observe the status and exit.
	CancelJob(ctx context.Context, userID, jobID string) error

	// Finalize assembles the artifact and applies the terminal status for
	// a drained job. Safe to call repeatedly; only one caller wins.
	Finalize(ctx context.Context, jobID string) error

	// Close stops all workers and waits for them to exit
	Close() error
}
