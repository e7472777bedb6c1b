package models

import (
	"time"

	"github.com/go-playground/validator/v10"
)

// CrawlRequest is the body of POST /api/v1/crawl. Optional fields default
// from server configuration; pointers distinguish "absent" from zero.
type CrawlRequest struct {
	URL                 string `json:"url" validate:"required,url"`
	MaxDepth            *int   `json:"maxDepth,omitempty" validate:"omitempty,min=0,max=10"`
	MaxPages            *int   `json:"maxPages,omitempty" validate:"omitempty,min=1,max=1000"`
	QualityThreshold    *int   `json:"qualityThreshold,omitempty" validate:"omitempty,min=0,max=100"`
	Concurrency         *int   `json:"concurrency,omitempty" validate:"omitempty,min=1,max=10"`
	PageTimeoutSeconds  *int   `json:"pageTimeoutSeconds,omitempty" validate:"omitempty,min=1,max=120"`
	RespectRobotsTxt    *bool  `json:"respectRobotsTxt,omitempty"`
	DelayMillis         *int   `json:"delayMillis,omitempty" validate:"omitempty,min=0,max=60000"`
	FollowExternalLinks *bool  `json:"followExternalLinks,omitempty"`
}

// Validate validates the request using go-playground/validator
func (r *CrawlRequest) Validate() error {
	validate := validator.New()
	return validate.Struct(r)
}

// ToJobConfig merges the request overrides onto the given defaults
func (r *CrawlRequest) ToJobConfig(defaults JobConfig) JobConfig {
	cfg := defaults
	if r.MaxDepth != nil {
		cfg.MaxDepth = *r.MaxDepth
	}
	if r.MaxPages != nil {
		cfg.MaxPages = *r.MaxPages
	}
	if r.QualityThreshold != nil {
		cfg.QualityThreshold = *r.QualityThreshold
	}
	if r.Concurrency != nil {
		cfg.Concurrency = *r.Concurrency
	}
	if r.PageTimeoutSeconds != nil {
		cfg.PageTimeout = time.Duration(*r.PageTimeoutSeconds) * time.Second
	}
	if r.RespectRobotsTxt != nil {
		cfg.RespectRobotsTxt = *r.RespectRobotsTxt
	}
	if r.DelayMillis != nil {
		cfg.Delay = time.Duration(*r.DelayMillis) * time.Millisecond
	}
	if r.FollowExternalLinks != nil {
		cfg.FollowExternalLinks = *r.FollowExternalLinks
	}
	return cfg
}

// BatchStateRequest is the body of POST /api/v1/jobs/batch-state.
// At most 20 job IDs per call.
type BatchStateRequest struct {
	JobIDs []string `json:"jobIds" validate:"max=20,dive,uuid4"`
}

// Validate validates the request using go-playground/validator
func (r *BatchStateRequest) Validate() error {
	validate := validator.New()
	return validate.Struct(r)
}
