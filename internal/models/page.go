package models

import (
	"fmt"
	"time"
)

// PageStatus represents the lifecycle state of one page within a job
type PageStatus string

const (
	PageStatusPending PageStatus = "pending"
	PageStatusCrawled PageStatus = "crawled"
	PageStatusError   PageStatus = "error"
	PageStatusSkipped PageStatus = "skipped"
)

// IsTerminal returns true once a page has a final outcome
func (s PageStatus) IsTerminal() bool {
	return s == PageStatusCrawled || s == PageStatusError || s == PageStatusSkipped
}

// Page represents one URL within a crawl job. The record is keyed by
// (job_id, url_hash), which doubles as the durable dedup ledger: at most
// one page row exists per normalized URL per job, and the ledger is
// authoritative when a crawl resumes after a process loss.
type Page struct {
	Key            string     `json:"-" badgerhold:"key"` // jobID|urlHash
	ID             string     `json:"id"`
	JobID          string     `json:"job_id" badgerhold:"index"`
	URL            string     `json:"url"`
	URLHash        string     `json:"url_hash"`
	Title          string     `json:"title,omitempty"`
	Status         PageStatus `json:"status" badgerhold:"index"`
	HTTPStatus     int        `json:"http_status,omitempty"`
	ErrorMessage   string     `json:"error_message,omitempty"`
	Depth          int        `json:"depth"`
	DiscoveredFrom string     `json:"discovered_from,omitempty"`
	QualityScore   int        `json:"quality_score"`
	WordCount      int        `json:"word_count"`
	CreatedAt      time.Time  `json:"created_at"`
	CrawledAt      *time.Time `json:"crawled_at,omitempty"`
}

// PageKey builds the storage key enforcing (job_id, url_hash) uniqueness
func PageKey(jobID, urlHash string) string {
	return jobID + "|" + urlHash
}

// ChunkContentType identifies what a content chunk holds
type ChunkContentType string

const (
	ChunkTypeRaw       ChunkContentType = "raw"
	ChunkTypeMarkdown  ChunkContentType = "markdown"
	ChunkTypeProcessed ChunkContentType = "processed"
)

// ContentChunk holds extracted content for a page. Chunks are ordered by
// ChunkIndex and concatenated to reconstruct the page Markdown.
type ContentChunk struct {
	Key         string            `json:"-" badgerhold:"key"` // pageID|index
	ID          string            `json:"id"`
	PageID      string            `json:"page_id" badgerhold:"index"`
	JobID       string            `json:"job_id" badgerhold:"index"`
	Content     string            `json:"content"`
	ContentType ChunkContentType  `json:"content_type"`
	ChunkIndex  int               `json:"chunk_index"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
}

// ChunkKey builds the storage key ordering chunks within a page
func ChunkKey(pageID string, index int) string {
	return fmt.Sprintf("%s|%06d", pageID, index)
}
