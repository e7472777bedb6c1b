package models

import (
	"testing"
	"time"
)

func TestJobStatus_IsTerminal(t *testing.T) {
	tests := []struct {
		status   JobStatus
		terminal bool
	}{
		{JobStatusPending, false},
		{JobStatusRunning, false},
		{JobStatusCompleted, true},
		{JobStatusFailed, true},
		{JobStatusPartial, true},
	}

	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			if got := tt.status.IsTerminal(); got != tt.terminal {
				t.Errorf("IsTerminal(%s): got %v, want %v", tt.status, got, tt.terminal)
			}
		})
	}
}

func TestJobStatus_IsValid(t *testing.T) {
	valid := []JobStatus{JobStatusPending, JobStatusRunning, JobStatusCompleted, JobStatusFailed, JobStatusPartial}
	for _, s := range valid {
		if !s.IsValid() {
			t.Errorf("IsValid(%s): got false, want true", s)
		}
	}

	invalid := []JobStatus{"", "cancelled", "done", "RUNNING"}
	for _, s := range invalid {
		if s.IsValid() {
			t.Errorf("IsValid(%q): got true, want false", s)
		}
	}
}

func TestProgress_Pending(t *testing.T) {
	tests := []struct {
		name     string
		progress Progress
		want     int
	}{
		{
			name:     "all queued pending",
			progress: Progress{Queued: 10},
			want:     10,
		},
		{
			name:     "outcomes subtract",
			progress: Progress{Queued: 10, Processed: 4, Failed: 2, Skipped: 1},
			want:     3,
		},
		{
			name:     "fully drained",
			progress: Progress{Queued: 5, Processed: 5},
			want:     0,
		},
		{
			name:     "clamped to zero",
			progress: Progress{Queued: 2, Processed: 2, Skipped: 1},
			want:     0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.progress.Pending(); got != tt.want {
				t.Errorf("Pending(): got %d, want %d", got, tt.want)
			}
		})
	}
}

func TestJobConfig_Validate(t *testing.T) {
	valid := JobConfig{
		MaxDepth:         2,
		MaxPages:         50,
		QualityThreshold: 20,
		Concurrency:      3,
		PageTimeout:      8 * time.Second,
	}
	if err := valid.Validate(); err != nil {
		t.Fatalf("Validate() on defaults: unexpected error %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*JobConfig)
	}{
		{"negative depth", func(c *JobConfig) { c.MaxDepth = -1 }},
		{"zero pages", func(c *JobConfig) { c.MaxPages = 0 }},
		{"threshold too high", func(c *JobConfig) { c.QualityThreshold = 101 }},
		{"zero concurrency", func(c *JobConfig) { c.Concurrency = 0 }},
		{"zero timeout", func(c *JobConfig) { c.PageTimeout = 0 }},
		{"negative delay", func(c *JobConfig) { c.Delay = -time.Second }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid
			tt.mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("Validate(): expected error, got nil")
			}
		})
	}
}

func TestJob_JSONRoundTrip(t *testing.T) {
	now := time.Now().UTC().Truncate(time.Second)
	job := &Job{
		ID:           "a1b2c3",
		UserID:       "user-1",
		SeedURL:      "https://docs.example.com/guide",
		Status:       JobStatusRunning,
		StateVersion: 3,
		Config: JobConfig{
			MaxDepth:    2,
			MaxPages:    50,
			Concurrency: 3,
			PageTimeout: 8 * time.Second,
		},
		CreatedAt: now,
		UpdatedAt: now,
	}

	data, err := job.ToJSON()
	if err != nil {
		t.Fatalf("ToJSON: %v", err)
	}

	got, err := JobFromJSON(data)
	if err != nil {
		t.Fatalf("JobFromJSON: %v", err)
	}

	if got.ID != job.ID || got.Status != job.Status || got.StateVersion != job.StateVersion {
		t.Errorf("round trip mismatch: got %+v, want %+v", got, job)
	}
	if got.Config.PageTimeout != 8*time.Second {
		t.Errorf("PageTimeout: got %s, want 8s", got.Config.PageTimeout)
	}
}
