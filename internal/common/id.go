package common

import (
	"github.com/google/uuid"
)

// NewJobID generates a unique crawl job identifier
func NewJobID() string {
	return uuid.New().String()
}

// NewPageID generates a unique page identifier with the "page_" prefix
// Format: page_<uuid>
func NewPageID() string {
	return "page_" + uuid.New().String()
}

// NewTaskID generates a unique queue task identifier with the "task_" prefix
// Format: task_<uuid>
func NewTaskID() string {
	return "task_" + uuid.New().String()
}

// NewChunkID generates a unique content chunk identifier with the "chunk_" prefix
// Format: chunk_<uuid>
func NewChunkID() string {
	return "chunk_" + uuid.New().String()
}
