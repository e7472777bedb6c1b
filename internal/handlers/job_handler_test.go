package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/docspasta/internal/common"
	"github.com/ternarybob/docspasta/internal/interfaces"
	"github.com/ternarybob/docspasta/internal/models"
	"github.com/ternarybob/docspasta/internal/services/crawler"
	"github.com/ternarybob/docspasta/internal/services/events"
	badgerstore "github.com/ternarybob/docspasta/internal/storage/badger"
)

type handlerEnv struct {
	jobs      *JobHandler
	sse       *SSEHandler
	storage   interfaces.StorageManager
	publisher *events.Publisher
}

// newHandlerEnv wires the handlers against a real Badger store and a real
// crawler service, the same way app.New does.
func newHandlerEnv(t *testing.T, mutate func(*common.Config)) *handlerEnv {
	t.Helper()
	logger := arbor.NewLogger()

	cfg := common.NewDefaultConfig()
	cfg.Storage.Badger.Path = t.TempDir()
	cfg.SSE.WallClock = 300 * time.Millisecond
	cfg.SSE.BlockWait = 25 * time.Millisecond
	if mutate != nil {
		mutate(cfg)
	}

	storage, err := badgerstore.NewManager(logger, &cfg.Storage.Badger)
	require.NoError(t, err)

	notifier := events.NewNotifier(logger)
	publisher := events.NewPublisher(storage.EventStorage(), notifier, logger)
	svc := crawler.NewService(cfg, storage, publisher, logger)

	t.Cleanup(func() {
		_ = svc.Close()
		_ = notifier.Close()
		_ = storage.Close()
	})

	return &handlerEnv{
		jobs:      NewJobHandler(svc, storage, logger),
		sse:       NewSSEHandler(storage, notifier, cfg.SSE, logger),
		storage:   storage,
		publisher: publisher,
	}
}

// seedJob stores a job row directly, bypassing the crawler service
func seedJob(t *testing.T, env *handlerEnv, userID string, status models.JobStatus) *models.Job {
	t.Helper()
	job := &models.Job{
		ID:      common.NewJobID(),
		UserID:  userID,
		SeedURL: "https://docs.example.com/",
		Status:  status,
	}
	require.NoError(t, env.storage.JobStorage().CreateJob(context.Background(), job))
	return job
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestCreateCrawlHandler_InvalidBody(t *testing.T) {
	env := newHandlerEnv(t, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/crawl", strings.NewReader("{not json"))
	rec := httptest.NewRecorder()
	env.jobs.CreateCrawlHandler(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, false, body["success"])
	assert.Equal(t, "Invalid request body", body["error"])
}

func TestCreateCrawlHandler_RejectsInvalidURL(t *testing.T) {
	env := newHandlerEnv(t, nil)

	payload, _ := json.Marshal(models.CrawlRequest{URL: "ftp://docs.example.com/guide"})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/crawl", bytes.NewReader(payload))
	rec := httptest.NewRecorder()
	env.jobs.CreateCrawlHandler(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "Invalid crawl request", body["error"])
}

func TestCreateCrawlHandler_MethodNotAllowed(t *testing.T) {
	env := newHandlerEnv(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/crawl", nil)
	rec := httptest.NewRecorder()
	env.jobs.CreateCrawlHandler(rec, req)

	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestStatusHandler_UserIsolation(t *testing.T) {
	env := newHandlerEnv(t, nil)
	job := seedJob(t, env, "alice", models.JobStatusRunning)

	// Owner sees the job
	req := httptest.NewRequest(http.MethodGet, "/api/v1/jobs/"+job.ID+"/status", nil)
	req.Header.Set("X-User-ID", "alice")
	rec := httptest.NewRecorder()
	env.jobs.StatusHandler(rec, req, job.ID)
	assert.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, job.ID, body["jobId"])
	assert.Equal(t, "running", body["status"])

	// Another user gets a 404, not a 403
	req = httptest.NewRequest(http.MethodGet, "/api/v1/jobs/"+job.ID+"/status", nil)
	req.Header.Set("X-User-ID", "mallory")
	rec = httptest.NewRecorder()
	env.jobs.StatusHandler(rec, req, job.ID)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestStatusHandler_TopLevelTotalsAndStateVersion(t *testing.T) {
	env := newHandlerEnv(t, nil)
	job := seedJob(t, env, AnonymousUser, models.JobStatusRunning)

	ctx := context.Background()
	_, err := env.storage.CrawlStateStorage().IncrProgress(ctx, job.ID,
		models.ProgressDelta{Discovered: 7, Queued: 5, Processed: 3, TotalWords: 420})
	require.NoError(t, err)
	require.NoError(t, env.storage.JobStorage().MarkRunning(ctx, job.ID))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/jobs/"+job.ID+"/status", nil)
	rec := httptest.NewRecorder()
	env.jobs.StatusHandler(rec, req, job.ID)

	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, float64(3), body["totalProcessed"])
	assert.Equal(t, float64(7), body["totalDiscovered"])
	assert.Equal(t, float64(420), body["totalWords"])
	assert.Equal(t, float64(2), body["stateVersion"], "MarkRunning bumps the created version")

	summary, ok := body["progressSummary"].(map[string]interface{})
	require.True(t, ok, "progressSummary is the full counter snapshot")
	assert.Equal(t, float64(5), summary["queued"])

	// Failed jobs surface the status message as error
	failedPayload, _ := models.MarshalPayload(models.JobFailedPayload{JobID: job.ID, Error: "no pages crawled"})
	won, err := env.storage.JobStorage().CompleteJob(ctx, job.ID, interfaces.CompletionResult{
		Status:       models.JobStatusFailed,
		Message:      "no pages crawled",
		EventType:    models.EventJobFailed,
		EventPayload: failedPayload,
	})
	require.NoError(t, err)
	require.True(t, won)

	rec = httptest.NewRecorder()
	env.jobs.StatusHandler(rec, req, job.ID)
	body = decodeBody(t, rec)
	assert.Equal(t, "no pages crawled", body["error"])
	assert.NotNil(t, body["completedAt"])
}

func TestDownloadHandler_Gating(t *testing.T) {
	env := newHandlerEnv(t, nil)
	ctx := context.Background()

	running := seedJob(t, env, AnonymousUser, models.JobStatusRunning)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/jobs/"+running.ID+"/download", nil)
	rec := httptest.NewRecorder()
	env.jobs.DownloadHandler(rec, req, running.ID)
	assert.Equal(t, http.StatusBadRequest, rec.Code, "running job has no artifact yet")

	done := seedJob(t, env, AnonymousUser, models.JobStatusRunning)
	terminalPayload, _ := models.MarshalPayload(models.JobCompletedPayload{JobID: done.ID})
	won, err := env.storage.JobStorage().CompleteJob(ctx, done.ID, interfaces.CompletionResult{
		Status:        models.JobStatusCompleted,
		Message:       "crawled 2 pages",
		FinalMarkdown: "## Guide\n\nSome content.\n\n---\n",
		EventType:     models.EventJobCompleted,
		EventPayload:  terminalPayload,
	})
	require.NoError(t, err)
	require.True(t, won)

	req = httptest.NewRequest(http.MethodGet, "/api/v1/jobs/"+done.ID+"/download", nil)
	rec = httptest.NewRecorder()
	env.jobs.DownloadHandler(rec, req, done.ID)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/markdown; charset=utf-8", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), fmt.Sprintf("crawl-%s.md", done.ID))
	assert.Contains(t, rec.Body.String(), "## Guide")

	empty := seedJob(t, env, AnonymousUser, models.JobStatusRunning)
	won, err = env.storage.JobStorage().CompleteJob(ctx, empty.ID, interfaces.CompletionResult{
		Status:       models.JobStatusCompleted,
		Message:      "crawled 0 pages",
		EventType:    models.EventJobCompleted,
		EventPayload: terminalPayload,
	})
	require.NoError(t, err)
	require.True(t, won)

	req = httptest.NewRequest(http.MethodGet, "/api/v1/jobs/"+empty.ID+"/download", nil)
	rec = httptest.NewRecorder()
	env.jobs.DownloadHandler(rec, req, empty.ID)
	assert.Equal(t, http.StatusNotFound, rec.Code, "terminal job without markdown")
}

func TestBatchStateHandler(t *testing.T) {
	env := newHandlerEnv(t, nil)
	ctx := context.Background()

	mine := seedJob(t, env, AnonymousUser, models.JobStatusRunning)
	env.publisher.Publish(ctx, mine.ID, AnonymousUser, models.EventURLStarted,
		models.URLStartedPayload{URL: mine.SeedURL, Depth: 0})
	env.publisher.Publish(ctx, mine.ID, AnonymousUser, models.EventProgress,
		models.ProgressPayload{Processed: 1, Discovered: 3, Queued: 3})
	_, err := env.storage.CrawlStateStorage().IncrProgress(ctx, mine.ID,
		models.ProgressDelta{Discovered: 3, Queued: 3, Processed: 1})
	require.NoError(t, err)

	failed := seedJob(t, env, AnonymousUser, models.JobStatusRunning)
	failedPayload, _ := models.MarshalPayload(models.JobFailedPayload{JobID: failed.ID, Error: "no pages crawled"})
	won, err := env.storage.JobStorage().CompleteJob(ctx, failed.ID, interfaces.CompletionResult{
		Status:       models.JobStatusFailed,
		Message:      "no pages crawled",
		EventType:    models.EventJobFailed,
		EventPayload: failedPayload,
	})
	require.NoError(t, err)
	require.True(t, won)

	theirs := seedJob(t, env, "alice", models.JobStatusRunning)
	missing := uuid.New().String()

	payload, _ := json.Marshal(models.BatchStateRequest{
		JobIDs: []string{mine.ID, failed.ID, theirs.ID, missing},
	})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/jobs/batch-state", bytes.NewReader(payload))
	rec := httptest.NewRecorder()
	env.jobs.BatchStateHandler(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Success  bool                       `json:"success"`
		States   map[string]json.RawMessage `json:"states"`
		NotFound []string                   `json:"notFound"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.True(t, body.Success)
	assert.ElementsMatch(t, []string{theirs.ID, missing}, body.NotFound,
		"other users' jobs are indistinguishable from missing ones")
	require.Len(t, body.States, 2)

	var mineState batchJobState
	require.NoError(t, json.Unmarshal(body.States[mine.ID], &mineState))
	assert.Equal(t, "running", mineState.Status)
	assert.Equal(t, 1, mineState.TotalProcessed)
	assert.Equal(t, 3, mineState.TotalDiscovered)
	assert.Empty(t, mineState.Error)
	require.Len(t, mineState.RecentActivity, 2)
	assert.Equal(t, "url_started", mineState.RecentActivity[0].Type)
	assert.Equal(t, "progress", mineState.RecentActivity[1].Type)
	assert.Equal(t, mineState.RecentActivity[1].EventID, mineState.LastEventID)

	var failedState batchJobState
	require.NoError(t, json.Unmarshal(body.States[failed.ID], &failedState))
	assert.Equal(t, "failed", failedState.Status)
	assert.Equal(t, "no pages crawled", failedState.Error)
}

func TestBatchStateHandler_Bounds(t *testing.T) {
	env := newHandlerEnv(t, nil)

	ids := make([]string, 21)
	for i := range ids {
		ids[i] = uuid.New().String()
	}
	payload, _ := json.Marshal(models.BatchStateRequest{JobIDs: ids})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/jobs/batch-state", bytes.NewReader(payload))
	rec := httptest.NewRecorder()
	env.jobs.BatchStateHandler(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code, "more than 20 job IDs")

	payload, _ = json.Marshal(models.BatchStateRequest{JobIDs: []string{}})
	req = httptest.NewRequest(http.MethodPost, "/api/v1/jobs/batch-state", bytes.NewReader(payload))
	rec = httptest.NewRecorder()
	env.jobs.BatchStateHandler(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		States   map[string]json.RawMessage `json:"states"`
		NotFound []string                   `json:"notFound"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Empty(t, body.States)
	assert.Empty(t, body.NotFound)
}

func TestDeleteHandler(t *testing.T) {
	env := newHandlerEnv(t, nil)
	job := seedJob(t, env, AnonymousUser, models.JobStatusRunning)

	req := httptest.NewRequest(http.MethodDelete, "/api/v1/jobs/"+job.ID, nil)
	rec := httptest.NewRecorder()
	env.jobs.DeleteHandler(rec, req, job.ID)
	assert.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "failed", body["status"])

	// Cancelling again conflicts: the job is already terminal
	rec = httptest.NewRecorder()
	env.jobs.DeleteHandler(rec, req, job.ID)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = httptest.NewRecorder()
	env.jobs.DeleteHandler(rec, req, uuid.New().String())
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListJobsHandler(t *testing.T) {
	env := newHandlerEnv(t, nil)
	seedJob(t, env, AnonymousUser, models.JobStatusRunning)
	seedJob(t, env, AnonymousUser, models.JobStatusRunning)
	seedJob(t, env, "alice", models.JobStatusRunning)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/jobs", nil)
	rec := httptest.NewRecorder()
	env.jobs.ListJobsHandler(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, float64(2), body["count"], "only the caller's jobs are listed")

	req = httptest.NewRequest(http.MethodGet, "/api/v1/jobs?since=bogus", nil)
	rec = httptest.NewRecorder()
	env.jobs.ListJobsHandler(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/api/v1/jobs?since=2h", nil)
	rec = httptest.NewRecorder()
	env.jobs.ListJobsHandler(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code, "duration form of since")
}
