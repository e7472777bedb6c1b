package models

import (
	"testing"
	"time"
)

func TestCrawlRequest_Validate(t *testing.T) {
	tests := []struct {
		name    string
		req     CrawlRequest
		wantErr bool
	}{
		{
			name: "minimal valid",
			req:  CrawlRequest{URL: "https://docs.example.com"},
		},
		{
			name:    "missing url",
			req:     CrawlRequest{},
			wantErr: true,
		},
		{
			name:    "not a url",
			req:     CrawlRequest{URL: "docs dot example"},
			wantErr: true,
		},
		{
			name:    "depth out of range",
			req:     CrawlRequest{URL: "https://docs.example.com", MaxDepth: intPtr(11)},
			wantErr: true,
		},
		{
			name:    "zero pages",
			req:     CrawlRequest{URL: "https://docs.example.com", MaxPages: intPtr(0)},
			wantErr: true,
		},
		{
			name: "all overrides valid",
			req: CrawlRequest{
				URL:                 "https://docs.example.com/guide",
				MaxDepth:            intPtr(3),
				MaxPages:            intPtr(100),
				QualityThreshold:    intPtr(40),
				Concurrency:         intPtr(5),
				PageTimeoutSeconds:  intPtr(30),
				RespectRobotsTxt:    boolPtr(false),
				DelayMillis:         intPtr(250),
				FollowExternalLinks: boolPtr(true),
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.req.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate(): err=%v, wantErr=%v", err, tt.wantErr)
			}
		})
	}
}

func TestCrawlRequest_ToJobConfig(t *testing.T) {
	defaults := JobConfig{
		MaxDepth:         2,
		MaxPages:         50,
		QualityThreshold: 20,
		Concurrency:      3,
		PageTimeout:      8 * time.Second,
		RespectRobotsTxt: true,
	}

	t.Run("defaults pass through", func(t *testing.T) {
		req := CrawlRequest{URL: "https://docs.example.com"}
		cfg := req.ToJobConfig(defaults)
		if cfg != defaults {
			t.Errorf("got %+v, want defaults %+v", cfg, defaults)
		}
	})

	t.Run("overrides applied", func(t *testing.T) {
		req := CrawlRequest{
			URL:                 "https://docs.example.com",
			MaxDepth:            intPtr(4),
			PageTimeoutSeconds:  intPtr(30),
			DelayMillis:         intPtr(500),
			RespectRobotsTxt:    boolPtr(false),
			FollowExternalLinks: boolPtr(true),
		}
		cfg := req.ToJobConfig(defaults)

		if cfg.MaxDepth != 4 {
			t.Errorf("MaxDepth: got %d, want 4", cfg.MaxDepth)
		}
		if cfg.PageTimeout != 30*time.Second {
			t.Errorf("PageTimeout: got %s, want 30s", cfg.PageTimeout)
		}
		if cfg.Delay != 500*time.Millisecond {
			t.Errorf("Delay: got %s, want 500ms", cfg.Delay)
		}
		if cfg.RespectRobotsTxt {
			t.Error("RespectRobotsTxt: got true, want false")
		}
		if !cfg.FollowExternalLinks {
			t.Error("FollowExternalLinks: got false, want true")
		}
		// Untouched fields keep defaults
		if cfg.MaxPages != 50 || cfg.QualityThreshold != 20 || cfg.Concurrency != 3 {
			t.Errorf("defaults clobbered: %+v", cfg)
		}
	})
}

func TestBatchStateRequest_Validate(t *testing.T) {
	t.Run("empty list is valid", func(t *testing.T) {
		req := BatchStateRequest{JobIDs: []string{}}
		if err := req.Validate(); err != nil {
			t.Errorf("Validate(): unexpected error %v", err)
		}
	})

	t.Run("21 ids rejected", func(t *testing.T) {
		ids := make([]string, 21)
		for i := range ids {
			ids[i] = "0b078674-43a2-4e33-8eb2-b526af9f70da"
		}
		req := BatchStateRequest{JobIDs: ids}
		if err := req.Validate(); err == nil {
			t.Error("Validate(): expected error for 21 ids, got nil")
		}
	})

	t.Run("malformed id rejected", func(t *testing.T) {
		req := BatchStateRequest{JobIDs: []string{"not-a-uuid"}}
		if err := req.Validate(); err == nil {
			t.Error("Validate(): expected error for malformed id, got nil")
		}
	})
}

func intPtr(v int) *int    { return &v }
func boolPtr(v bool) *bool { return &v }
