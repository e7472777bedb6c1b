package models

import "fmt"

// Task is one unit of crawl work in a job's FIFO queue. Tasks are
// transient: they exist only between enqueue and pop, and carry no
// crawl outcome.
type Task struct {
	Key    string `json:"-" badgerhold:"key"` // jobID|qseq
	TaskID string `json:"task_id"`
	JobID  string `json:"job_id" badgerhold:"index"`
	URL    string `json:"url"`
	Depth  int    `json:"depth"`
	QSeq   uint64 `json:"qseq"`
}

// TaskKey builds the queue key; zero-padded so key order is FIFO order
func TaskKey(jobID string, qseq uint64) string {
	return fmt.Sprintf("%s|%020d", jobID, qseq)
}
