package crawler

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/docspasta/internal/common"
	"github.com/ternarybob/docspasta/internal/interfaces"
	"github.com/ternarybob/docspasta/internal/models"
	"github.com/ternarybob/docspasta/internal/services/events"
	badgerstore "github.com/ternarybob/docspasta/internal/storage/badger"
)

type testEnv struct {
	svc     *Service
	storage interfaces.StorageManager
}

// newTestEnv wires a real Badger store, notifier and publisher behind a
// service tuned for fast tests.
func newTestEnv(t *testing.T, mutate func(*common.Config)) *testEnv {
	t.Helper()
	logger := arbor.NewLogger()

	cfg := common.NewDefaultConfig()
	cfg.Environment = "development"
	cfg.Storage.Badger.Path = t.TempDir()
	cfg.Crawler.RespectRobotsTxt = false
	cfg.Crawler.PageTimeout = 5 * time.Second
	cfg.Crawler.InterBatchDelay = 10 * time.Millisecond
	if mutate != nil {
		mutate(cfg)
	}

	storage, err := badgerstore.NewManager(logger, &cfg.Storage.Badger)
	require.NoError(t, err)

	notifier := events.NewNotifier(logger)
	publisher := events.NewPublisher(storage.EventStorage(), notifier, logger)
	svc := NewService(cfg, storage, publisher, logger)

	t.Cleanup(func() {
		_ = svc.Close()
		_ = notifier.Close()
		_ = storage.Close()
	})
	return &testEnv{svc: svc, storage: storage}
}

func awaitTerminal(t *testing.T, env *testEnv, jobID string) *models.Job {
	t.Helper()
	var job *models.Job
	require.Eventually(t, func() bool {
		j, err := env.storage.JobStorage().GetJobByID(context.Background(), jobID)
		if err != nil {
			return false
		}
		job = j
		return j.IsTerminal()
	}, 15*time.Second, 25*time.Millisecond, "job never reached a terminal state")
	return job
}

func docPage(title string, links ...string) string {
	body := fmt.Sprintf("<html><head><title>%s</title></head><body><main><h1>%s</h1>", title, title)
	body += "<p>Documentation about installation, configuration and usage of the API with plenty of prose to score above the threshold.</p>"
	for _, link := range links {
		body += fmt.Sprintf(`<a href="%s">%s</a>`, link, link)
	}
	return body + "</main></body></html>"
}

func serveDocs(t *testing.T, pages map[string]string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		page, ok := pages[r.URL.Path]
		if !ok {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte(page))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestService_CrawlHappyPath(t *testing.T) {
	srv := serveDocs(t, map[string]string{
		"/":       docPage("Docs Home", "/docs/a", "/docs/b"),
		"/docs/a": docPage("Guide A", "/docs/b"),
		"/docs/b": docPage("Guide B", "/"),
	})
	env := newTestEnv(t, nil)

	job, err := env.svc.CreateJob(context.Background(), "user-1", &models.CrawlRequest{URL: srv.URL})
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusRunning, job.Status)

	done := awaitTerminal(t, env, job.ID)
	assert.Equal(t, models.JobStatusCompleted, done.Status)
	assert.Contains(t, done.FinalMarkdown, "## Guide A")
	assert.Contains(t, done.FinalMarkdown, "## Guide B")
	assert.Contains(t, done.FinalMarkdown, "## Docs Home")

	counts, err := env.storage.PageStorage().CountByStatus(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, counts[models.PageStatusCrawled])
	assert.Zero(t, counts[models.PageStatusError])

	progress, err := env.storage.CrawlStateStorage().GetProgress(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, progress.Processed)
	assert.GreaterOrEqual(t, progress.Discovered, progress.Queued)
	assert.GreaterOrEqual(t, progress.Queued, progress.Processed+progress.Failed+progress.Skipped)

	evts, err := env.storage.EventStorage().ReadAfter(context.Background(), job.ID, 0, 1000)
	require.NoError(t, err)
	require.NotEmpty(t, evts)
	last := evts[len(evts)-1]
	assert.Equal(t, models.EventJobCompleted, last.Type)
	assert.Equal(t, models.EventContentProcessed, evts[len(evts)-2].Type)

	seen := map[models.EventType]bool{}
	for _, e := range evts {
		seen[e.Type] = true
	}
	assert.True(t, seen[models.EventURLStarted])
	assert.True(t, seen[models.EventURLCrawled])
	assert.True(t, seen[models.EventBatchStarted])
	assert.True(t, seen[models.EventBatchCompleted])
	assert.True(t, seen[models.EventProgress])
}

func TestService_DepthBoundary(t *testing.T) {
	srv := serveDocs(t, map[string]string{
		"/":       docPage("Docs Home", "/docs/a", "/docs/b"),
		"/docs/a": docPage("Guide A"),
		"/docs/b": docPage("Guide B"),
	})
	env := newTestEnv(t, func(cfg *common.Config) {
		cfg.Crawler.MaxDepth = 0
	})

	job, err := env.svc.CreateJob(context.Background(), "user-1", &models.CrawlRequest{URL: srv.URL})
	require.NoError(t, err)

	done := awaitTerminal(t, env, job.ID)
	assert.Equal(t, models.JobStatusCompleted, done.Status)

	counts, err := env.storage.PageStorage().CountByStatus(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, counts[models.PageStatusCrawled], "only the seed is crawled at depth 0")
	assert.Equal(t, 2, counts[models.PageStatusSkipped], "depth-1 links are dropped on pop")

	progress, err := env.storage.CrawlStateStorage().GetProgress(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, progress.Processed)
	assert.Equal(t, 2, progress.Skipped)
}

func TestService_MaxPagesCap(t *testing.T) {
	links := []string{"/docs/a", "/docs/b", "/docs/c", "/docs/d", "/docs/e"}
	pages := map[string]string{"/": docPage("Docs Home", links...)}
	for _, link := range links {
		pages[link] = docPage("Guide " + link)
	}
	srv := serveDocs(t, pages)
	env := newTestEnv(t, func(cfg *common.Config) {
		cfg.Crawler.MaxPages = 2
	})

	job, err := env.svc.CreateJob(context.Background(), "user-1", &models.CrawlRequest{URL: srv.URL})
	require.NoError(t, err)

	done := awaitTerminal(t, env, job.ID)
	assert.Equal(t, models.JobStatusCompleted, done.Status)

	progress, err := env.storage.CrawlStateStorage().GetProgress(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, progress.Queued, "queued never exceeds max_pages")
	assert.Equal(t, 4, progress.Filtered, "overflow candidates are filtered")
	assert.Equal(t, 6, progress.Discovered)
	assert.Equal(t, 2, progress.Processed)
}

func TestService_CancelJob(t *testing.T) {
	links := make([]string, 10)
	pages := map[string]string{}
	for i := range links {
		links[i] = fmt.Sprintf("/docs/p%d", i)
		pages[links[i]] = docPage(fmt.Sprintf("Guide %d", i))
	}
	pages["/"] = docPage("Docs Home", links...)
	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(300 * time.Millisecond)
		page, ok := pages[r.URL.Path]
		if !ok {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(page))
	}))
	t.Cleanup(slow.Close)

	env := newTestEnv(t, func(cfg *common.Config) {
		cfg.Crawler.Concurrency = 1
	})

	job, err := env.svc.CreateJob(context.Background(), "user-1", &models.CrawlRequest{URL: slow.URL})
	require.NoError(t, err)

	require.NoError(t, env.svc.CancelJob(context.Background(), "user-1", job.ID))

	cancelled, err := env.storage.JobStorage().GetJobByID(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusFailed, cancelled.Status)
	assert.Equal(t, "job cancelled", cancelled.StatusMessage)

	// Cancelling again is rejected, as is cancelling another user's job
	assert.ErrorIs(t, env.svc.CancelJob(context.Background(), "user-1", job.ID), interfaces.ErrAlreadyTerminal)
	assert.ErrorIs(t, env.svc.CancelJob(context.Background(), "user-2", job.ID), interfaces.ErrJobNotFound)
}

func TestService_SeedFetchFailure(t *testing.T) {
	srv := serveDocs(t, map[string]string{}) // every path is a 404
	env := newTestEnv(t, nil)

	job, err := env.svc.CreateJob(context.Background(), "user-1", &models.CrawlRequest{URL: srv.URL + "/missing"})
	require.NoError(t, err)

	done := awaitTerminal(t, env, job.ID)
	assert.Equal(t, models.JobStatusFailed, done.Status)
	assert.Equal(t, "no pages crawled", done.StatusMessage)

	evts, err := env.storage.EventStorage().ReadAfter(context.Background(), job.ID, 0, 1000)
	require.NoError(t, err)
	require.NotEmpty(t, evts)
	assert.Equal(t, models.EventJobFailed, evts[len(evts)-1].Type)

	// The whole batch failed, so the log carries a batch_error
	var sawBatchError bool
	for _, evt := range evts {
		if evt.Type == models.EventBatchError {
			sawBatchError = true
		}
	}
	assert.True(t, sawBatchError, "a fully failed batch emits batch_error")
}

func TestService_ProgressInvariantHoldsThroughoutCrawl(t *testing.T) {
	// A densely interlinked site widens the window between link discovery
	// and admission; concurrent snapshots must never see queued overtake
	// discovered, or outcomes overtake queued.
	pages := map[string]string{}
	var links []string
	for i := 0; i < 12; i++ {
		links = append(links, fmt.Sprintf("/docs/p%d", i))
	}
	pages["/"] = docPage("Home", links...)
	for i := 0; i < 12; i++ {
		pages[fmt.Sprintf("/docs/p%d", i)] = docPage(fmt.Sprintf("Page %d", i), links...)
	}
	srv := serveDocs(t, pages)
	env := newTestEnv(t, nil)

	job, err := env.svc.CreateJob(context.Background(), "user-1", &models.CrawlRequest{URL: srv.URL})
	require.NoError(t, err)

	stop := make(chan struct{})
	polled := make(chan struct{})
	var violations []string
	go func() {
		defer close(polled)
		for {
			select {
			case <-stop:
				return
			default:
			}
			p, err := env.storage.CrawlStateStorage().GetProgress(context.Background(), job.ID)
			if err == nil {
				if p.Queued > p.Discovered {
					violations = append(violations,
						fmt.Sprintf("queued %d > discovered %d", p.Queued, p.Discovered))
				}
				if p.Processed+p.Failed+p.Skipped > p.Queued {
					violations = append(violations,
						fmt.Sprintf("outcomes %d > queued %d", p.Processed+p.Failed+p.Skipped, p.Queued))
				}
			}
			time.Sleep(time.Millisecond)
		}
	}()

	awaitTerminal(t, env, job.ID)
	close(stop)
	<-polled
	assert.Empty(t, violations)
}

func TestService_CreateJobValidation(t *testing.T) {
	env := newTestEnv(t, func(cfg *common.Config) {
		cfg.Environment = "production"
	})

	cases := []models.CrawlRequest{
		{URL: ""},
		{URL: "not a url"},
		{URL: "ftp://example.com/docs"},
		{URL: "http://127.0.0.1/docs"},
		{URL: "http://192.168.1.10/docs"},
		{URL: "http://localhost/docs"},
	}
	for _, req := range cases {
		req := req
		_, err := env.svc.CreateJob(context.Background(), "user-1", &req)
		assert.ErrorIs(t, err, ErrInvalidRequest, "URL %q must be rejected", req.URL)
	}
}

func TestService_DedupAcrossWorkers(t *testing.T) {
	// Every page links to every other page; each URL must still be
	// crawled exactly once.
	paths := []string{"/docs/a", "/docs/b", "/docs/c"}
	pages := map[string]string{"/": docPage("Docs Home", paths...)}
	for _, p := range paths {
		pages[p] = docPage("Guide "+p, append([]string{"/"}, paths...)...)
	}
	srv := serveDocs(t, pages)
	env := newTestEnv(t, nil)

	job, err := env.svc.CreateJob(context.Background(), "user-1", &models.CrawlRequest{URL: srv.URL})
	require.NoError(t, err)

	done := awaitTerminal(t, env, job.ID)
	assert.Equal(t, models.JobStatusCompleted, done.Status)

	all, err := env.storage.PageStorage().GetPagesByJob(context.Background(), job.ID)
	require.NoError(t, err)
	byURL := map[string]int{}
	for _, page := range all {
		byURL[page.URL]++
	}
	for url, n := range byURL {
		assert.Equal(t, 1, n, "URL %s has more than one page row", url)
	}
	assert.Len(t, all, 4)
}
