package models

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// EventType identifies a crawl job event on the wire and in the log
type EventType string

const (
	EventStreamConnected  EventType = "stream_connected"
	EventURLStarted       EventType = "url_started"
	EventURLCrawled       EventType = "url_crawled"
	EventURLsDiscovered   EventType = "urls_discovered"
	EventBatchStarted     EventType = "batch_started"
	EventBatchCompleted   EventType = "batch_completed"
	EventBatchError       EventType = "batch_error"
	EventSentToProcessing EventType = "sent_to_processing"
	EventContentProcessed EventType = "content_processed"
	EventProgress         EventType = "progress"
	EventWorkerError      EventType = "worker_error"
	EventJobCompleted     EventType = "job_completed"
	EventJobFailed        EventType = "job_failed"
	EventProcessingError  EventType = "processing_error"

	// Gateway-synthesized types: never persisted to the event log.
	EventReconnect EventType = "reconnect"
	EventHeartbeat EventType = "heartbeat"
)

// JobEvent is one entry in a job's append-only event log. Seq is assigned
// by the store inside the append transaction and is strictly monotonic per
// job; it doubles as the SSE event id for resume.
type JobEvent struct {
	Key       string          `json:"-" badgerhold:"key"` // jobID|seq
	Seq       uint64          `json:"seq"`
	JobID     string          `json:"job_id" badgerhold:"index"`
	UserID    string          `json:"user_id"`
	Type      EventType       `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
}

// EventKey builds the log key; zero-padded so key order is append order
func EventKey(jobID string, seq uint64) string {
	return fmt.Sprintf("%s|%020d", jobID, seq)
}

// WireID returns the SSE id for this event
func (e *JobEvent) WireID() string {
	return strconv.FormatUint(e.Seq, 10)
}

// Event payloads. Field names follow the wire contract consumed by
// existing clients, which mixes snake_case and camelCase per event.

type StreamConnectedPayload struct {
	JobID string `json:"jobId"`
	URL   string `json:"url"`
}

type URLStartedPayload struct {
	URL   string `json:"url"`
	Depth int    `json:"depth"`
}

type QualityInfo struct {
	Score  int    `json:"score"`
	Reason string `json:"reason"`
}

type URLCrawledPayload struct {
	URL           string       `json:"url"`
	Success       bool         `json:"success"`
	ContentLength int          `json:"content_length"`
	Title         string       `json:"title,omitempty"`
	Quality       *QualityInfo `json:"quality,omitempty"`
	Error         string       `json:"error,omitempty"`
}

type URLsDiscoveredPayload struct {
	SourceURL       string   `json:"source_url"`
	DiscoveredURLs  []string `json:"discovered_urls"`
	Count           int      `json:"count"`
	TotalDiscovered int      `json:"total_discovered"`
}

type BatchStartedPayload struct {
	Count int      `json:"count"`
	URLs  []string `json:"urls"`
}

type BatchCompletedPayload struct {
	Completed  int  `json:"completed"`
	Failed     int  `json:"failed"`
	Discovered int  `json:"discovered"`
	FromCache  bool `json:"fromCache"`
}

type BatchErrorPayload struct {
	Error string   `json:"error"`
	URLs  []string `json:"urls"`
}

type SentToProcessingPayload struct {
	URL       string `json:"url"`
	WordCount int    `json:"word_count"`
}

type ContentProcessedPayload struct {
	Pages              int `json:"pages"`
	TotalWords         int `json:"totalWords"`
	LowQualityFiltered int `json:"lowQualityFiltered"`
}

type ProgressPayload struct {
	Processed  int `json:"processed"`
	Discovered int `json:"discovered"`
	Queued     int `json:"queued"`
	Pending    int `json:"pending"`
}

type WorkerErrorPayload struct {
	Error string `json:"error"`
}

type JobCompletedPayload struct {
	JobID           string `json:"jobId"`
	TotalProcessed  int    `json:"totalProcessed"`
	TotalDiscovered int    `json:"totalDiscovered"`
}

type JobFailedPayload struct {
	JobID           string `json:"jobId"`
	Error           string `json:"error"`
	TotalProcessed  int    `json:"totalProcessed,omitempty"`
	TotalDiscovered int    `json:"totalDiscovered,omitempty"`
}

type ProcessingErrorPayload struct {
	EventID string `json:"eventId"`
	Error   string `json:"error"`
}

type ReconnectPayload struct {
	Reason string `json:"reason"`
}

// MarshalPayload encodes a typed payload for the event log
func MarshalPayload(v interface{}) (json.RawMessage, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal event payload: %w", err)
	}
	return data, nil
}
