package crawler

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/docspasta/internal/common"
	"github.com/ternarybob/docspasta/internal/interfaces"
	"github.com/ternarybob/docspasta/internal/models"
)

// worker drains one job's queue in batches. Every invocation runs under a
// batch cap and a wall-clock budget; leftover work is handed to a
// respawned invocation instead of letting one goroutine run unbounded.
// All coordination with sibling workers goes through the atomic store
// primitives, never through shared process memory.
type worker struct {
	svc       *Service
	job       *models.Job
	scope     *Scope
	fetcher   *Fetcher
	extractor *Extractor
	logger    arbor.ILogger

	mu   sync.Mutex
	seen map[string]bool // invocation-local dedup fast path
}

func newWorker(svc *Service, job *models.Job, scope *Scope) *worker {
	return &worker{
		svc:       svc,
		job:       job,
		scope:     scope,
		fetcher:   NewFetcher(svc.config.Crawler, job.Config, svc.logger),
		extractor: NewExtractor(svc.logger),
		logger:    svc.logger,
		seen:      make(map[string]bool),
	}
}

// batchOutcome tallies one batch for the batch_completed event
type batchOutcome struct {
	mu         sync.Mutex
	completed  int
	failed     int
	discovered int
	cacheHits  int
}

func (o *batchOutcome) add(completed, failed, discovered, cacheHits int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.completed += completed
	o.failed += failed
	o.discovered += discovered
	o.cacheHits += cacheHits
}

func (w *worker) run(ctx context.Context) {
	state := w.svc.storage.CrawlStateStorage()
	count, err := state.IncrWorkers(ctx, w.job.ID)
	if err != nil {
		w.logger.Warn().Err(err).Str("job_id", w.job.ID).Msg("Failed to register worker")
		return
	}
	defer w.onExit(ctx)

	orch := w.svc.config.Crawler
	deadline := time.Now().Add(orch.WorkerWallClock)
	w.logger.Debug().
		Str("job_id", w.job.ID).
		Int("workers", count).
		Msg("Crawl worker started")

	for batch := 0; batch < orch.MaxBatches; batch++ {
		if ctx.Err() != nil || time.Now().After(deadline) {
			return
		}

		job, err := w.svc.storage.JobStorage().GetJobByID(ctx, w.job.ID)
		if err != nil || job.Status != models.JobStatusRunning {
			return
		}

		tasks, err := state.PopBatch(ctx, w.job.ID, orch.BatchSize)
		if err != nil {
			w.publish(ctx, models.EventBatchError, models.BatchErrorPayload{Error: err.Error()})
			return
		}
		if len(tasks) == 0 {
			return
		}

		w.processBatch(ctx, tasks)

		if err := w.svc.storage.JobStorage().TouchJob(ctx, w.job.ID); err != nil {
			// Terminal between the status check and here: stop quietly
			return
		}

		if batch < orch.MaxBatches-1 {
			select {
			case <-ctx.Done():
				return
			case <-time.After(orch.InterBatchDelay):
			}
		}
	}
}

// onExit releases the worker slot and hands off: a nonempty queue below
// the worker ceiling gets a fresh invocation, a drained queue with no
// remaining workers triggers finalization.
func (w *worker) onExit(ctx context.Context) {
	w.svc.handOff(ctx, w.job.ID)
}

func (w *worker) processBatch(ctx context.Context, tasks []models.Task) {
	urls := make([]string, len(tasks))
	for i, task := range tasks {
		urls[i] = task.URL
	}
	w.publish(ctx, models.EventBatchStarted, models.BatchStartedPayload{Count: len(tasks), URLs: urls})

	outcome := &batchOutcome{}
	sem := make(chan struct{}, w.job.Config.Concurrency)
	var wg sync.WaitGroup
	for _, task := range tasks {
		task := task
		wg.Add(1)
		sem <- struct{}{}
		common.SafeGo(w.logger, "crawl-url", func() {
			defer wg.Done()
			defer func() { <-sem }()
			w.crawlOne(ctx, task, outcome)
		})
	}
	wg.Wait()

	if outcome.failed == len(tasks) {
		w.publish(ctx, models.EventBatchError, models.BatchErrorPayload{
			Error: fmt.Sprintf("all %d pages in batch failed", len(tasks)),
			URLs:  urls,
		})
	}

	w.publish(ctx, models.EventBatchCompleted, models.BatchCompletedPayload{
		Completed:  outcome.completed,
		Failed:     outcome.failed,
		Discovered: outcome.discovered,
		FromCache:  outcome.cacheHits == len(tasks),
	})

	snapshot, err := w.svc.storage.CrawlStateStorage().GetProgress(ctx, w.job.ID)
	if err != nil {
		w.logger.Warn().Err(err).Str("job_id", w.job.ID).Msg("Failed to read progress after batch")
		return
	}
	w.publish(ctx, models.EventProgress, models.ProgressPayload{
		Processed:  snapshot.Processed,
		Discovered: snapshot.Discovered,
		Queued:     snapshot.Queued,
		Pending:    snapshot.Pending(),
	})
}

// crawlOne resolves a single task to a terminal page outcome: skipped on
// depth or cache hit, crawled on a successful fetch, error otherwise.
func (w *worker) crawlOne(ctx context.Context, task models.Task, outcome *batchOutcome) {
	state := w.svc.storage.CrawlStateStorage()
	pages := w.svc.storage.PageStorage()

	parsed, err := url.Parse(task.URL)
	if err != nil {
		// The queue only holds canonical URLs; guard anyway
		if _, perr := state.IncrProgress(ctx, w.job.ID, models.ProgressDelta{Failed: 1}); perr != nil {
			w.logger.Warn().Err(perr).Str("job_id", w.job.ID).Msg("Failed to count unparseable task")
		}
		outcome.add(0, 1, 0, 0)
		return
	}
	hash := Fingerprint(parsed)

	page, created, err := pages.UpsertPending(ctx, &models.Page{
		ID:      common.NewPageID(),
		JobID:   w.job.ID,
		URL:     task.URL,
		URLHash: hash,
		Depth:   task.Depth,
	})
	if err != nil {
		w.failPage(ctx, task, hash, 0, err.Error(), outcome)
		return
	}
	if !created && page.Status.IsTerminal() {
		// Cache hit: a previous invocation already resolved this URL
		if _, err := state.IncrProgress(ctx, w.job.ID, models.ProgressDelta{Skipped: 1}); err != nil {
			w.logger.Warn().Err(err).Str("job_id", w.job.ID).Msg("Failed to count cache hit")
		}
		outcome.add(0, 0, 0, 1)
		return
	}

	if task.Depth > w.job.Config.MaxDepth {
		if err := pages.SetResult(ctx, w.job.ID, hash, interfaces.PageResult{Status: models.PageStatusSkipped}); err != nil {
			w.logger.Warn().Err(err).Str("url", task.URL).Msg("Failed to mark depth-skipped page")
		}
		if _, err := state.IncrProgress(ctx, w.job.ID, models.ProgressDelta{Skipped: 1}); err != nil {
			w.logger.Warn().Err(err).Str("job_id", w.job.ID).Msg("Failed to count depth skip")
		}
		return
	}

	w.publish(ctx, models.EventURLStarted, models.URLStartedPayload{URL: task.URL, Depth: task.Depth})

	res, err := w.fetcher.Fetch(ctx, task.URL)
	if err != nil {
		w.failPage(ctx, task, hash, 0, err.Error(), outcome)
		return
	}
	if !StatusSuccess(res.StatusCode) {
		w.failPage(ctx, task, hash, res.StatusCode, fmt.Sprintf("HTTP %d", res.StatusCode), outcome)
		return
	}
	if len(res.Body) == 0 {
		w.failPage(ctx, task, hash, res.StatusCode, "no HTML body", outcome)
		return
	}

	extracted, err := w.extractor.Extract(parsed, res.Body)
	if err != nil {
		w.failPage(ctx, task, hash, res.StatusCode, err.Error(), outcome)
		return
	}

	quality := ScoreQuality(QualityInput{
		URL:        task.URL,
		Title:      extracted.Title,
		Markdown:   extracted.Markdown,
		HTTPStatus: res.StatusCode,
	})
	words := CountWords(extracted.Markdown)

	if err := pages.SaveChunks(ctx, []*models.ContentChunk{{
		ID:          common.NewChunkID(),
		PageID:      page.ID,
		JobID:       w.job.ID,
		Content:     extracted.Markdown,
		ContentType: models.ChunkTypeMarkdown,
		ChunkIndex:  0,
	}}); err != nil {
		w.failPage(ctx, task, hash, res.StatusCode, err.Error(), outcome)
		return
	}
	if err := pages.SetResult(ctx, w.job.ID, hash, interfaces.PageResult{
		Status:       models.PageStatusCrawled,
		HTTPStatus:   res.StatusCode,
		Title:        extracted.Title,
		QualityScore: quality.Score,
		WordCount:    words,
	}); err != nil {
		w.failPage(ctx, task, hash, res.StatusCode, err.Error(), outcome)
		return
	}
	if _, err := state.IncrProgress(ctx, w.job.ID, models.ProgressDelta{Processed: 1, TotalWords: words}); err != nil {
		w.logger.Warn().Err(err).Str("job_id", w.job.ID).Msg("Failed to count processed page")
	}
	outcome.add(1, 0, 0, 0)

	w.publish(ctx, models.EventURLCrawled, models.URLCrawledPayload{
		URL:           task.URL,
		Success:       true,
		ContentLength: len(extracted.Markdown),
		Title:         extracted.Title,
		Quality:       &models.QualityInfo{Score: quality.Score, Reason: quality.Reason},
	})
	if quality.Score >= w.job.Config.QualityThreshold {
		w.publish(ctx, models.EventSentToProcessing, models.SentToProcessingPayload{URL: task.URL, WordCount: words})
	}

	w.admitLinks(ctx, task, parsed, extracted.Links, outcome)
}

// failPage records a crawl failure as the page's terminal outcome.
// Failed URLs are never re-queued.
func (w *worker) failPage(ctx context.Context, task models.Task, hash string, httpStatus int, message string, outcome *batchOutcome) {
	if err := w.svc.storage.PageStorage().SetResult(ctx, w.job.ID, hash, interfaces.PageResult{
		Status:       models.PageStatusError,
		HTTPStatus:   httpStatus,
		ErrorMessage: message,
	}); err != nil {
		w.logger.Warn().Err(err).Str("url", task.URL).Msg("Failed to record page error")
	}
	if _, err := w.svc.storage.CrawlStateStorage().IncrProgress(ctx, w.job.ID, models.ProgressDelta{Failed: 1}); err != nil {
		w.logger.Warn().Err(err).Str("job_id", w.job.ID).Msg("Failed to count failed page")
	}
	outcome.add(0, 1, 0, 0)

	w.publish(ctx, models.EventURLCrawled, models.URLCrawledPayload{
		URL:     task.URL,
		Success: false,
		Error:   message,
	})
	w.logger.Debug().
		Str("job_id", w.job.ID).
		Str("url", task.URL).
		Int("status", httpStatus).
		Str("error", message).
		Msg("Page crawl failed")
}

// admitLinks normalizes the page's outbound links, applies the job scope,
// dedups against the invocation-local map and the shared set, and enqueues
// what fits under the page cap. Candidates rejected by dedup or the cap
// are counted filtered; everything in scope counts discovered.
func (w *worker) admitLinks(ctx context.Context, task models.Task, base *url.URL, links []string, outcome *batchOutcome) {
	if len(links) == 0 {
		return
	}
	state := w.svc.storage.CrawlStateStorage()

	var candidates []models.Task
	var candidateURLs []string
	discovered := 0
	duplicates := 0
	childDepth := task.Depth + 1

	for _, link := range links {
		normalized, err := Normalize(link, base)
		if err != nil {
			continue
		}
		if w.scope.Admit(normalized) != RejectNone {
			continue
		}
		discovered++

		hash := Fingerprint(normalized)
		w.mu.Lock()
		local := w.seen[hash]
		w.seen[hash] = true
		w.mu.Unlock()
		if local {
			duplicates++
			continue
		}

		added, err := state.MarkSeen(ctx, w.job.ID, hash)
		if err != nil {
			w.logger.Warn().Err(err).Str("url", normalized.String()).Msg("Failed to mark url seen")
			duplicates++
			continue
		}
		if !added {
			duplicates++
			continue
		}

		candidates = append(candidates, models.Task{
			TaskID: common.NewTaskID(),
			JobID:  w.job.ID,
			URL:    normalized.String(),
			Depth:  childDepth,
		})
		candidateURLs = append(candidateURLs, normalized.String())
	}

	if discovered == 0 {
		return
	}

	// Discovered commits before the enqueue so no snapshot between the two
	// writes can observe queued > discovered.
	snapshot, err := state.IncrProgress(ctx, w.job.ID, models.ProgressDelta{
		Discovered: discovered,
		Filtered:   duplicates,
	})
	if err != nil {
		w.logger.Warn().Err(err).Str("job_id", w.job.ID).Msg("Failed to count discovered links")
		return
	}

	admitted := 0
	if len(candidates) > 0 {
		admitted, err = state.AdmitTasks(ctx, w.job.ID, candidates, w.job.Config.MaxPages)
		if err != nil {
			w.publish(ctx, models.EventWorkerError, models.WorkerErrorPayload{Error: err.Error()})
			return
		}
	}

	// Ledger rows for admitted links carry the referrer; the crawl later
	// flips them terminal through the same (job_id, url_hash) key.
	for _, candidate := range candidates[:admitted] {
		candidateURL, err := url.Parse(candidate.URL)
		if err != nil {
			continue
		}
		if _, _, err := w.svc.storage.PageStorage().UpsertPending(ctx, &models.Page{
			ID:             common.NewPageID(),
			JobID:          w.job.ID,
			URL:            candidate.URL,
			URLHash:        Fingerprint(candidateURL),
			Depth:          childDepth,
			DiscoveredFrom: task.URL,
		}); err != nil {
			w.logger.Warn().Err(err).Str("url", candidate.URL).Msg("Failed to write pending page row")
		}
	}

	outcome.add(0, 0, admitted, 0)
	w.publish(ctx, models.EventURLsDiscovered, models.URLsDiscoveredPayload{
		SourceURL:       task.URL,
		DiscoveredURLs:  candidateURLs[:admitted],
		Count:           admitted,
		TotalDiscovered: snapshot.Discovered,
	})
}

func (w *worker) publish(ctx context.Context, eventType models.EventType, payload interface{}) {
	w.svc.publisher.Publish(ctx, w.job.ID, w.job.UserID, eventType, payload)
}
