package server

import (
	"net/http"
	"strings"
)

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() *http.ServeMux {
	mux := http.NewServeMux()

	// Crawl jobs
	mux.HandleFunc("/api/v1/crawl", s.app.JobHandler.CreateCrawlHandler)           // POST - start a crawl
	mux.HandleFunc("/api/v1/jobs", s.app.JobHandler.ListJobsHandler)               // GET - recent jobs
	mux.HandleFunc("/api/v1/jobs/batch-state", s.app.JobHandler.BatchStateHandler) // POST - bulk state lookup
	mux.HandleFunc("/api/v1/jobs/", s.handleJobRoutes)                             // /{id} and subpaths

	// System
	mux.HandleFunc("/api/v1/health", s.app.SystemHandler.HealthHandler)
	mux.HandleFunc("/api/v1/version", s.app.SystemHandler.VersionHandler)

	// 404 handler for everything else
	mux.HandleFunc("/", s.app.SystemHandler.NotFoundHandler)

	return mux
}

// handleJobRoutes dispatches /api/v1/jobs/{id}, /{id}/status,
// /{id}/stream and /{id}/download
func (s *Server) handleJobRoutes(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/v1/jobs/")
	parts := strings.Split(strings.TrimSuffix(rest, "/"), "/")
	if len(parts) == 0 || parts[0] == "" {
		s.app.SystemHandler.NotFoundHandler(w, r)
		return
	}
	jobID := parts[0]

	if len(parts) == 1 {
		switch r.Method {
		case http.MethodGet:
			s.app.JobHandler.DetailsHandler(w, r, jobID)
		case http.MethodDelete:
			s.app.JobHandler.DeleteHandler(w, r, jobID)
		default:
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		}
		return
	}

	if len(parts) == 2 {
		switch parts[1] {
		case "status":
			s.app.JobHandler.StatusHandler(w, r, jobID)
			return
		case "stream":
			s.app.SSEHandler.StreamHandler(w, r, jobID)
			return
		case "download":
			s.app.JobHandler.DownloadHandler(w, r, jobID)
			return
		}
	}

	s.app.SystemHandler.NotFoundHandler(w, r)
}
