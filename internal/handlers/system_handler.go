package handlers

import (
	"net/http"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/docspasta/internal/common"
)

// SystemHandler serves health, version and API 404 responses
type SystemHandler struct {
	startTime time.Time
	logger    arbor.ILogger
}

// NewSystemHandler creates a new system handler
func NewSystemHandler(logger arbor.ILogger) *SystemHandler {
	return &SystemHandler{
		startTime: time.Now(),
		logger:    logger,
	}
}

// HealthHandler handles GET /api/v1/health
func (h *SystemHandler) HealthHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}
	WriteSuccess(w, http.StatusOK, map[string]interface{}{
		"status": "healthy",
		"uptime": time.Since(h.startTime).Round(time.Second).String(),
	})
}

// VersionHandler handles GET /api/v1/version
func (h *SystemHandler) VersionHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}
	WriteSuccess(w, http.StatusOK, map[string]interface{}{
		"version": common.GetVersion(),
		"build":   common.GetBuild(),
		"commit":  common.GetGitCommit(),
	})
}

// NotFoundHandler is the fallback for unmatched API routes
func (h *SystemHandler) NotFoundHandler(w http.ResponseWriter, r *http.Request) {
	WriteError(w, http.StatusNotFound, "Not found")
}
