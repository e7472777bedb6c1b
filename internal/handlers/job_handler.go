package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/docspasta/internal/interfaces"
	"github.com/ternarybob/docspasta/internal/models"
	"github.com/ternarybob/docspasta/internal/services/crawler"
)

// JobHandler serves the crawl job API: creation, status, listing,
// artifact download, batch state and cancellation. All reads are scoped
// to the caller's user; other users' jobs look like they do not exist.
type JobHandler struct {
	crawler interfaces.CrawlerService
	storage interfaces.StorageManager
	logger  arbor.ILogger
}

// NewJobHandler creates a new job handler
func NewJobHandler(crawlerService interfaces.CrawlerService, storage interfaces.StorageManager, logger arbor.ILogger) *JobHandler {
	return &JobHandler{
		crawler: crawlerService,
		storage: storage,
		logger:  logger,
	}
}

// CreateCrawlHandler handles POST /api/v1/crawl
func (h *JobHandler) CreateCrawlHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}

	var req models.CrawlRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteErrorDetails(w, http.StatusBadRequest, "Invalid request body", err.Error())
		return
	}

	job, err := h.crawler.CreateJob(r.Context(), GetUserID(r), &req)
	if err != nil {
		if errors.Is(err, crawler.ErrInvalidRequest) {
			WriteErrorDetails(w, http.StatusBadRequest, "Invalid crawl request", err.Error())
			return
		}
		h.logger.Error().Err(err).Str("url", req.URL).Msg("Failed to create crawl job")
		WriteError(w, http.StatusInternalServerError, "Failed to create crawl job")
		return
	}

	WriteSuccess(w, http.StatusAccepted, map[string]interface{}{
		"jobId":      job.ID,
		"status":     string(models.JobStatusPending),
		"statusUrl":  fmt.Sprintf("/api/v1/jobs/%s/status", job.ID),
		"detailsUrl": fmt.Sprintf("/api/v1/jobs/%s", job.ID),
	})
}

// ListJobsHandler handles GET /api/v1/jobs. The since filter accepts an
// RFC3339 timestamp or a duration like "2h"; default is the last 24h.
func (h *JobHandler) ListJobsHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	since := time.Now().UTC().Add(-24 * time.Hour)
	if raw := r.URL.Query().Get("since"); raw != "" {
		if ts, err := time.Parse(time.RFC3339, raw); err == nil {
			since = ts
		} else if d, err := time.ParseDuration(raw); err == nil {
			since = time.Now().UTC().Add(-d)
		} else {
			WriteErrorDetails(w, http.StatusBadRequest, "Invalid since parameter", "expected RFC3339 timestamp or duration")
			return
		}
	}

	jobs, err := h.storage.JobStorage().ListRecentJobs(r.Context(), GetUserID(r), since, 100)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to list jobs")
		WriteError(w, http.StatusInternalServerError, "Failed to list jobs")
		return
	}

	WriteSuccess(w, http.StatusOK, map[string]interface{}{
		"jobs":  jobs,
		"count": len(jobs),
	})
}

// StatusHandler handles GET /api/v1/jobs/{id}/status
func (h *JobHandler) StatusHandler(w http.ResponseWriter, r *http.Request, jobID string) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	job, ok := h.loadJob(w, r, jobID)
	if !ok {
		return
	}
	progress, err := h.storage.CrawlStateStorage().GetProgress(r.Context(), jobID)
	if err != nil {
		h.logger.Error().Err(err).Str("job_id", jobID).Msg("Failed to read progress")
		WriteError(w, http.StatusInternalServerError, "Failed to read job progress")
		return
	}

	fields := map[string]interface{}{
		"jobId":           job.ID,
		"status":          string(job.Status),
		"totalProcessed":  progress.Processed,
		"totalDiscovered": progress.Discovered,
		"totalWords":      progress.TotalWords,
		"stateVersion":    job.StateVersion,
		"progressSummary": progress,
		"createdAt":       job.CreatedAt,
		"updatedAt":       job.UpdatedAt,
	}
	if job.Status == models.JobStatusFailed && job.StatusMessage != "" {
		fields["error"] = job.StatusMessage
	} else if job.StatusMessage != "" {
		fields["message"] = job.StatusMessage
	}
	if job.CompletedAt != nil {
		fields["completedAt"] = job.CompletedAt
	}
	WriteSuccess(w, http.StatusOK, fields)
}

// DetailsHandler handles GET /api/v1/jobs/{id}
func (h *JobHandler) DetailsHandler(w http.ResponseWriter, r *http.Request, jobID string) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	job, ok := h.loadJob(w, r, jobID)
	if !ok {
		return
	}
	progress, err := h.storage.CrawlStateStorage().GetProgress(r.Context(), jobID)
	if err != nil {
		h.logger.Error().Err(err).Str("job_id", jobID).Msg("Failed to read progress")
		WriteError(w, http.StatusInternalServerError, "Failed to read job progress")
		return
	}
	counts, err := h.storage.PageStorage().CountByStatus(r.Context(), jobID)
	if err != nil {
		h.logger.Error().Err(err).Str("job_id", jobID).Msg("Failed to count pages")
		WriteError(w, http.StatusInternalServerError, "Failed to read job pages")
		return
	}

	WriteSuccess(w, http.StatusOK, map[string]interface{}{
		"job":      job,
		"progress": progress,
		"pages":    counts,
	})
}

// DownloadHandler handles GET /api/v1/jobs/{id}/download
func (h *JobHandler) DownloadHandler(w http.ResponseWriter, r *http.Request, jobID string) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	job, ok := h.loadJob(w, r, jobID)
	if !ok {
		return
	}
	if job.Status != models.JobStatusCompleted && job.Status != models.JobStatusPartial {
		WriteError(w, http.StatusBadRequest, "Job has no downloadable artifact yet")
		return
	}
	if job.FinalMarkdown == "" {
		WriteError(w, http.StatusNotFound, "No artifact was produced for this job")
		return
	}

	w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="crawl-%s.md"`, job.ID))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(job.FinalMarkdown))
}

// batchJobState is one entry in the batch-state response
type batchJobState struct {
	Status          string       `json:"status"`
	TotalProcessed  int          `json:"totalProcessed"`
	TotalDiscovered int          `json:"totalDiscovered"`
	RecentActivity  []batchEvent `json:"recentActivity"`
	LastEventID     string       `json:"lastEventId"`
	Error           string       `json:"error,omitempty"`
}

type batchEvent struct {
	EventID string          `json:"eventId"`
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// BatchStateHandler handles POST /api/v1/jobs/batch-state. Jobs that do
// not exist, or belong to another user, land in notFound.
func (h *JobHandler) BatchStateHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}

	var req models.BatchStateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteErrorDetails(w, http.StatusBadRequest, "Invalid request body", err.Error())
		return
	}
	if err := req.Validate(); err != nil {
		WriteErrorDetails(w, http.StatusBadRequest, "Invalid batch-state request", err.Error())
		return
	}

	userID := GetUserID(r)
	states := make(map[string]batchJobState)
	notFound := []string{}

	for _, jobID := range req.JobIDs {
		job, err := h.storage.JobStorage().GetJob(r.Context(), userID, jobID)
		if err != nil {
			if errors.Is(err, interfaces.ErrJobNotFound) {
				notFound = append(notFound, jobID)
				continue
			}
			h.logger.Error().Err(err).Str("job_id", jobID).Msg("Failed to load job for batch state")
			WriteError(w, http.StatusInternalServerError, "Failed to load job state")
			return
		}

		progress, err := h.storage.CrawlStateStorage().GetProgress(r.Context(), jobID)
		if err != nil {
			h.logger.Error().Err(err).Str("job_id", jobID).Msg("Failed to read progress for batch state")
			WriteError(w, http.StatusInternalServerError, "Failed to load job state")
			return
		}
		recent, err := h.storage.EventStorage().RecentEvents(r.Context(), jobID, 10)
		if err != nil {
			h.logger.Error().Err(err).Str("job_id", jobID).Msg("Failed to read events for batch state")
			WriteError(w, http.StatusInternalServerError, "Failed to load job state")
			return
		}

		activity := make([]batchEvent, 0, len(recent))
		lastEventID := "0"
		for _, event := range recent {
			activity = append(activity, batchEvent{
				EventID: event.WireID(),
				Type:    string(event.Type),
				Payload: event.Payload,
			})
			lastEventID = event.WireID()
		}

		state := batchJobState{
			Status:          string(job.Status),
			TotalProcessed:  progress.Processed,
			TotalDiscovered: progress.Discovered,
			RecentActivity:  activity,
			LastEventID:     lastEventID,
		}
		if job.Status == models.JobStatusFailed {
			state.Error = job.StatusMessage
		}
		states[jobID] = state
	}

	WriteSuccess(w, http.StatusOK, map[string]interface{}{
		"states":   states,
		"notFound": notFound,
	})
}

// DeleteHandler handles DELETE /api/v1/jobs/{id} by cancelling the job
func (h *JobHandler) DeleteHandler(w http.ResponseWriter, r *http.Request, jobID string) {
	if !RequireMethod(w, r, http.MethodDelete) {
		return
	}

	err := h.crawler.CancelJob(r.Context(), GetUserID(r), jobID)
	switch {
	case err == nil:
		WriteSuccess(w, http.StatusOK, map[string]interface{}{
			"jobId":  jobID,
			"status": string(models.JobStatusFailed),
		})
	case errors.Is(err, interfaces.ErrJobNotFound):
		WriteError(w, http.StatusNotFound, "Job not found")
	case errors.Is(err, interfaces.ErrAlreadyTerminal):
		WriteError(w, http.StatusConflict, "Job already finished")
	default:
		h.logger.Error().Err(err).Str("job_id", jobID).Msg("Failed to cancel job")
		WriteError(w, http.StatusInternalServerError, "Failed to cancel job")
	}
}

// loadJob fetches a user-scoped job, writing the 404 envelope on miss
func (h *JobHandler) loadJob(w http.ResponseWriter, r *http.Request, jobID string) (*models.Job, bool) {
	job, err := h.storage.JobStorage().GetJob(r.Context(), GetUserID(r), jobID)
	if err != nil {
		if errors.Is(err, interfaces.ErrJobNotFound) {
			WriteError(w, http.StatusNotFound, "Job not found")
			return nil, false
		}
		h.logger.Error().Err(err).Str("job_id", jobID).Msg("Failed to load job")
		WriteError(w, http.StatusInternalServerError, "Failed to load job")
		return nil, false
	}
	return job, true
}
