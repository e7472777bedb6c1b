package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/docspasta/internal/common"
	"github.com/ternarybob/docspasta/internal/interfaces"
	"github.com/ternarybob/docspasta/internal/models"
)

// SSEHandler streams a job's event log over Server-Sent Events. The log
// is the single source of truth: the stream is a cursor walk over stored
// events, so a reconnecting client resumes exactly where it left off via
// Last-Event-ID. Connections live under a wall-clock budget and end with
// a reconnect hint rather than running forever.
type SSEHandler struct {
	storage  interfaces.StorageManager
	notifier interfaces.EventNotifier
	config   common.SSEConfig
	logger   arbor.ILogger
}

// NewSSEHandler creates a new SSE streaming handler
func NewSSEHandler(storage interfaces.StorageManager, notifier interfaces.EventNotifier, config common.SSEConfig, logger arbor.ILogger) *SSEHandler {
	return &SSEHandler{
		storage:  storage,
		notifier: notifier,
		config:   config,
		logger:   logger,
	}
}

// StreamHandler handles GET /api/v1/jobs/{id}/stream
func (h *SSEHandler) StreamHandler(w http.ResponseWriter, r *http.Request, jobID string) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	job, err := h.storage.JobStorage().GetJob(r.Context(), GetUserID(r), jobID)
	if err != nil {
		if errors.Is(err, interfaces.ErrJobNotFound) {
			WriteError(w, http.StatusNotFound, "Job not found")
			return
		}
		h.logger.Error().Err(err).Str("job_id", jobID).Msg("Failed to load job for streaming")
		WriteError(w, http.StatusInternalServerError, "Failed to load job")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		WriteError(w, http.StatusInternalServerError, "Streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	cursor := resumeCursor(r)
	stream := &eventStream{w: w, flusher: flusher}

	h.logger.Debug().
		Str("job_id", jobID).
		Int64("cursor", int64(cursor)).
		Msg("SSE stream opened")

	connected, err := models.MarshalPayload(models.StreamConnectedPayload{JobID: jobID, URL: job.SeedURL})
	if err == nil {
		stream.write(models.EventStreamConnected, connected, cursor)
	}

	if job.IsTerminal() {
		h.writeSyntheticTerminal(r.Context(), stream, job, cursor)
		return
	}

	h.streamLoop(r.Context(), stream, jobID, cursor)
}

// streamLoop walks the log from the cursor until the connection budget
// runs out, the client disconnects, or the job drains to terminal.
func (h *SSEHandler) streamLoop(ctx context.Context, stream *eventStream, jobID string, cursor uint64) {
	start := time.Now()
	lastWrite := time.Now()

	for {
		if ctx.Err() != nil {
			return
		}
		if time.Since(start) >= h.config.WallClock-h.config.BlockWait {
			h.writeReconnect(stream, cursor)
			return
		}

		batch, err := h.storage.EventStorage().ReadAfter(ctx, jobID, cursor, h.config.ReadBatch)
		if err != nil {
			h.logger.Warn().Err(err).Str("job_id", jobID).Msg("Event log read failed, closing stream")
			return
		}

		if len(batch) > 0 {
			for _, event := range batch {
				// The cursor advances no matter what, so one poisoned
				// payload can never wedge the stream.
				cursor = event.Seq
				if json.Valid(event.Payload) {
					stream.write(event.Type, event.Payload, event.Seq)
					continue
				}
				poison, perr := models.MarshalPayload(models.ProcessingErrorPayload{
					EventID: event.WireID(),
					Error:   "malformed event payload",
				})
				if perr == nil {
					stream.write(models.EventProcessingError, poison, event.Seq)
				}
			}
			lastWrite = time.Now()
			continue
		}

		job, err := h.storage.JobStorage().GetJobByID(ctx, jobID)
		if err != nil {
			h.logger.Warn().Err(err).Str("job_id", jobID).Msg("Job read failed, closing stream")
			return
		}
		if job.IsTerminal() {
			// Log drained and the job is done: synthesize the terminal
			// event in case the client resumed past it.
			h.writeSyntheticTerminal(ctx, stream, job, cursor)
			return
		}

		if !h.notifier.AwaitAppend(ctx, jobID, h.config.BlockWait) &&
			time.Since(lastWrite) >= h.config.Heartbeat {
			stream.heartbeat()
			lastWrite = time.Now()
		}
	}
}

func (h *SSEHandler) writeSyntheticTerminal(ctx context.Context, stream *eventStream, job *models.Job, cursor uint64) {
	progress, err := h.storage.CrawlStateStorage().GetProgress(ctx, job.ID)
	if err != nil {
		h.logger.Warn().Err(err).Str("job_id", job.ID).Msg("Failed to read progress for terminal event")
		progress = &models.Progress{JobID: job.ID}
	}

	if job.Status == models.JobStatusFailed {
		payload, err := models.MarshalPayload(models.JobFailedPayload{
			JobID:           job.ID,
			Error:           job.StatusMessage,
			TotalProcessed:  progress.Processed,
			TotalDiscovered: progress.Discovered,
		})
		if err == nil {
			stream.write(models.EventJobFailed, payload, cursor)
		}
		return
	}
	payload, err := models.MarshalPayload(models.JobCompletedPayload{
		JobID:           job.ID,
		TotalProcessed:  progress.Processed,
		TotalDiscovered: progress.Discovered,
	})
	if err == nil {
		stream.write(models.EventJobCompleted, payload, cursor)
	}
}

func (h *SSEHandler) writeReconnect(stream *eventStream, cursor uint64) {
	payload, err := models.MarshalPayload(models.ReconnectPayload{Reason: "function_timeout"})
	if err == nil {
		stream.write(models.EventReconnect, payload, cursor)
	}
}

// resumeCursor reads the resume position: Last-Event-ID wins, then the
// resumeAt query parameter, then the start of the log.
func resumeCursor(r *http.Request) uint64 {
	if raw := r.Header.Get("Last-Event-ID"); raw != "" {
		if id, err := strconv.ParseUint(raw, 10, 64); err == nil {
			return id
		}
	}
	if raw := r.URL.Query().Get("resumeAt"); raw != "" {
		if id, err := strconv.ParseUint(raw, 10, 64); err == nil {
			return id
		}
	}
	return 0
}

// eventStream writes SSE frames with an immediate flush per frame
type eventStream struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

func (s *eventStream) write(eventType models.EventType, data json.RawMessage, id uint64) {
	fmt.Fprintf(s.w, "event: %s\ndata: %s\nid: %d\n\n", eventType, data, id)
	s.flusher.Flush()
}

func (s *eventStream) heartbeat() {
	fmt.Fprint(s.w, ": heartbeat\n\n")
	s.flusher.Flush()
}
