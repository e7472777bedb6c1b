package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// JobStatus represents the lifecycle state of a crawl job
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusPartial   JobStatus = "partial"
)

// IsTerminal returns true if the status is a final state. Terminal jobs
// are immutable; the single-winner completion write is the only path in.
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed || s == JobStatusPartial
}

// IsValid returns true for a known job status
func (s JobStatus) IsValid() bool {
	switch s {
	case JobStatusPending, JobStatusRunning, JobStatusCompleted, JobStatusFailed, JobStatusPartial:
		return true
	}
	return false
}

// JobConfig holds the per-job crawl parameters. Zero values are filled
// from the server defaults when the job is created.
type JobConfig struct {
	MaxDepth            int           `json:"max_depth"`
	MaxPages            int           `json:"max_pages"`
	QualityThreshold    int           `json:"quality_threshold"`
	Concurrency         int           `json:"concurrency"`
	PageTimeout         time.Duration `json:"page_timeout"`
	RespectRobotsTxt    bool          `json:"respect_robots_txt"`
	Delay               time.Duration `json:"delay"`
	FollowExternalLinks bool          `json:"follow_external_links"`
}

// Validate checks config bounds after defaults have been applied
func (c *JobConfig) Validate() error {
	if c.MaxDepth < 0 {
		return fmt.Errorf("max_depth must be >= 0, got %d", c.MaxDepth)
	}
	if c.MaxPages < 1 {
		return fmt.Errorf("max_pages must be >= 1, got %d", c.MaxPages)
	}
	if c.QualityThreshold < 0 || c.QualityThreshold > 100 {
		return fmt.Errorf("quality_threshold must be in [0,100], got %d", c.QualityThreshold)
	}
	if c.Concurrency < 1 {
		return fmt.Errorf("concurrency must be >= 1, got %d", c.Concurrency)
	}
	if c.PageTimeout <= 0 {
		return fmt.Errorf("page_timeout must be positive, got %s", c.PageTimeout)
	}
	if c.Delay < 0 {
		return fmt.Errorf("delay must be >= 0, got %s", c.Delay)
	}
	return nil
}

// Job represents one crawl from a seed URL to a consolidated Markdown
// artifact. Progress counters and the event log live in their own records
// so they can be updated atomically without touching the job row.
type Job struct {
	ID            string     `json:"id" badgerhold:"key"`
	UserID        string     `json:"user_id" badgerhold:"index"`
	SeedURL       string     `json:"seed_url"`
	Config        JobConfig  `json:"config"`
	Status        JobStatus  `json:"status" badgerhold:"index"`
	StatusMessage string     `json:"status_message,omitempty"`
	FinalMarkdown string     `json:"final_markdown,omitempty"`
	StateVersion  int        `json:"state_version"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
}

// IsTerminal returns true if the job has reached a final state
func (j *Job) IsTerminal() bool {
	return j.Status.IsTerminal()
}

// ToJSON serializes the job to JSON
func (j *Job) ToJSON() (string, error) {
	data, err := json.Marshal(j)
	if err != nil {
		return "", fmt.Errorf("failed to marshal job: %w", err)
	}
	return string(data), nil
}

// JobFromJSON deserializes a job from JSON
func JobFromJSON(data string) (*Job, error) {
	var job Job
	if err := json.Unmarshal([]byte(data), &job); err != nil {
		return nil, fmt.Errorf("failed to unmarshal job: %w", err)
	}
	return &job, nil
}

// Progress holds the per-job monotonic counters. Invariant:
// discovered >= queued >= processed + failed + skipped.
//
// discovered counts the seed plus every link that passed normalization and
// scope checks; queued counts tasks actually enqueued; processed/failed are
// crawl outcomes of popped tasks; skipped counts popped tasks dropped
// without a fetch (depth exceeded, cache hit, job stopped); filtered counts
// in-scope candidates rejected before the queue (duplicate or page cap).
type Progress struct {
	JobID      string `json:"job_id" badgerhold:"key"`
	Discovered int    `json:"discovered"`
	Queued     int    `json:"queued"`
	Processed  int    `json:"processed"`
	Filtered   int    `json:"filtered"`
	Skipped    int    `json:"skipped"`
	Failed     int    `json:"failed"`
	TotalWords int    `json:"total_words"`
}

// Pending returns queued tasks not yet resolved to an outcome
func (p *Progress) Pending() int {
	pending := p.Queued - p.Processed - p.Failed - p.Skipped
	if pending < 0 {
		return 0
	}
	return pending
}

// ProgressDelta is applied atomically to a job's Progress record
type ProgressDelta struct {
	Discovered int
	Queued     int
	Processed  int
	Filtered   int
	Skipped    int
	Failed     int
	TotalWords int
}

// IsZero returns true when the delta would not change any counter
func (d ProgressDelta) IsZero() bool {
	return d == ProgressDelta{}
}
