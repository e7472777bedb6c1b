package badger

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/docspasta/internal/interfaces"
	"github.com/ternarybob/docspasta/internal/models"
)

func testPage(jobID, urlHash, url string) *models.Page {
	return &models.Page{
		ID:      "page-" + urlHash,
		JobID:   jobID,
		URL:     url,
		URLHash: urlHash,
	}
}

func TestPageStorage_UpsertPendingDedup(t *testing.T) {
	manager := newTestManager(t)
	store := manager.PageStorage()
	ctx := context.Background()

	page, created, err := store.UpsertPending(ctx, testPage("job-1", "hash-a", "https://docs.example.com/a"))
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, models.PageStatusPending, page.Status)

	// Second upsert for the same (job, hash) returns the existing row
	dup := testPage("job-1", "hash-a", "https://docs.example.com/a")
	dup.ID = "page-duplicate"
	existing, created, err := store.UpsertPending(ctx, dup)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, "page-hash-a", existing.ID)

	// Same hash in another job is a separate row
	_, created, err = store.UpsertPending(ctx, testPage("job-2", "hash-a", "https://docs.example.com/a"))
	require.NoError(t, err)
	assert.True(t, created)
}

func TestPageStorage_UpsertPendingRace(t *testing.T) {
	manager := newTestManager(t)
	store := manager.PageStorage()
	ctx := context.Background()

	// The (job_id, url_hash) ledger serializes concurrent inserts
	var inserts int64
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, created, err := store.UpsertPending(ctx, testPage("job-1", "contended", "https://docs.example.com/x"))
			require.NoError(t, err)
			if created {
				atomic.AddInt64(&inserts, 1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(1), inserts)

	pages, err := store.GetPagesByJob(ctx, "job-1")
	require.NoError(t, err)
	assert.Len(t, pages, 1)
}

func TestPageStorage_SetResult(t *testing.T) {
	manager := newTestManager(t)
	store := manager.PageStorage()
	ctx := context.Background()

	_, _, err := store.UpsertPending(ctx, testPage("job-1", "hash-a", "https://docs.example.com/a"))
	require.NoError(t, err)

	require.NoError(t, store.SetResult(ctx, "job-1", "hash-a", interfaces.PageResult{
		Status:       models.PageStatusCrawled,
		HTTPStatus:   200,
		Title:        "Getting Started",
		QualityScore: 75,
		WordCount:    340,
	}))

	page, err := store.GetPage(ctx, "job-1", "hash-a")
	require.NoError(t, err)
	assert.Equal(t, models.PageStatusCrawled, page.Status)
	assert.Equal(t, "Getting Started", page.Title)
	assert.Equal(t, 75, page.QualityScore)
	require.NotNil(t, page.CrawledAt)

	err = store.SetResult(ctx, "job-1", "missing", interfaces.PageResult{Status: models.PageStatusError})
	assert.ErrorIs(t, err, interfaces.ErrPageNotFound)
}

func TestPageStorage_GetArtifactPagesOrdering(t *testing.T) {
	manager := newTestManager(t)
	store := manager.PageStorage()
	ctx := context.Background()

	add := func(hash string, status models.PageStatus, score int) {
		_, _, err := store.UpsertPending(ctx, testPage("job-1", hash, "https://docs.example.com/"+hash))
		require.NoError(t, err)
		require.NoError(t, store.SetResult(ctx, "job-1", hash, interfaces.PageResult{
			Status:       status,
			HTTPStatus:   200,
			QualityScore: score,
		}))
	}

	add("high", models.PageStatusCrawled, 90)
	add("low", models.PageStatusCrawled, 35)
	add("mid", models.PageStatusCrawled, 60)
	add("below", models.PageStatusCrawled, 10)
	add("errored", models.PageStatusError, 95)

	pages, err := store.GetArtifactPages(ctx, "job-1", 20)
	require.NoError(t, err)
	require.Len(t, pages, 3)

	// Quality ascending; error pages and sub-threshold pages excluded
	assert.Equal(t, "low", pages[0].URLHash)
	assert.Equal(t, 35, pages[0].QualityScore)
	assert.Equal(t, 60, pages[1].QualityScore)
	assert.Equal(t, 90, pages[2].QualityScore)
}

func TestPageStorage_CountByStatus(t *testing.T) {
	manager := newTestManager(t)
	store := manager.PageStorage()
	ctx := context.Background()

	_, _, err := store.UpsertPending(ctx, testPage("job-1", "a", "https://docs.example.com/a"))
	require.NoError(t, err)
	_, _, err = store.UpsertPending(ctx, testPage("job-1", "b", "https://docs.example.com/b"))
	require.NoError(t, err)
	require.NoError(t, store.SetResult(ctx, "job-1", "b", interfaces.PageResult{Status: models.PageStatusCrawled}))

	counts, err := store.CountByStatus(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, 1, counts[models.PageStatusPending])
	assert.Equal(t, 1, counts[models.PageStatusCrawled])
}

func TestPageStorage_Chunks(t *testing.T) {
	manager := newTestManager(t)
	store := manager.PageStorage()
	ctx := context.Background()

	chunks := []*models.ContentChunk{
		{ID: "c2", PageID: "page-1", JobID: "job-1", Content: "second", ContentType: models.ChunkTypeMarkdown, ChunkIndex: 1},
		{ID: "c1", PageID: "page-1", JobID: "job-1", Content: "first", ContentType: models.ChunkTypeMarkdown, ChunkIndex: 0},
		{ID: "c3", PageID: "page-2", JobID: "job-1", Content: "other page", ContentType: models.ChunkTypeMarkdown, ChunkIndex: 0},
	}
	require.NoError(t, store.SaveChunks(ctx, chunks))

	got, err := store.GetChunksByPage(ctx, "page-1")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "first", got[0].Content)
	assert.Equal(t, "second", got[1].Content)
}
