package badger

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	badgerdb "github.com/dgraph-io/badger/v4"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/docspasta/internal/interfaces"
	"github.com/ternarybob/docspasta/internal/models"
	"github.com/timshannon/badgerhold/v4"
)

// PageStorage implements the PageStorage interface for Badger. Pages are
// keyed jobID|urlHash, which makes the store itself enforce the
// (job_id, url_hash) uniqueness that backs dedup.
type PageStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewPageStorage creates a new PageStorage instance
func NewPageStorage(db *BadgerDB, logger arbor.ILogger) interfaces.PageStorage {
	return &PageStorage{
		db:     db,
		logger: logger,
	}
}

func (s *PageStorage) UpsertPending(ctx context.Context, page *models.Page) (*models.Page, bool, error) {
	if page.JobID == "" || page.URLHash == "" {
		return nil, false, fmt.Errorf("page job ID and url hash are required")
	}

	key := models.PageKey(page.JobID, page.URLHash)
	page.Key = key
	page.Status = models.PageStatusPending
	if page.CreatedAt.IsZero() {
		page.CreatedAt = time.Now().UTC()
	}

	var existing models.Page
	created := false
	err := s.db.Update(func(tx *badgerdb.Txn) error {
		created = false
		err := s.db.Store().TxGet(tx, key, &existing)
		if err == nil {
			return nil
		}
		if !errors.Is(err, badgerhold.ErrNotFound) {
			return fmt.Errorf("failed to check page: %w", err)
		}
		if err := s.db.Store().TxInsert(tx, key, page); err != nil {
			return fmt.Errorf("failed to insert page: %w", err)
		}
		created = true
		return nil
	})
	if err != nil {
		return nil, false, err
	}

	if created {
		return page, true, nil
	}
	return &existing, false, nil
}

func (s *PageStorage) SetResult(ctx context.Context, jobID, urlHash string, result interfaces.PageResult) error {
	key := models.PageKey(jobID, urlHash)
	err := s.db.Update(func(tx *badgerdb.Txn) error {
		var page models.Page
		if err := s.db.Store().TxGet(tx, key, &page); err != nil {
			if errors.Is(err, badgerhold.ErrNotFound) {
				return interfaces.ErrPageNotFound
			}
			return fmt.Errorf("failed to get page: %w", err)
		}

		now := time.Now().UTC()
		page.Status = result.Status
		page.HTTPStatus = result.HTTPStatus
		page.Title = result.Title
		page.ErrorMessage = result.ErrorMessage
		page.QualityScore = result.QualityScore
		page.WordCount = result.WordCount
		page.CrawledAt = &now

		return s.db.Store().TxUpdate(tx, key, &page)
	})
	if err != nil {
		return err
	}

	s.logger.Trace().
		Str("job_id", jobID).
		Str("url_hash", urlHash).
		Str("status", string(result.Status)).
		Int("quality", result.QualityScore).
		Msg("BadgerDB: page result written")
	return nil
}

func (s *PageStorage) GetPage(ctx context.Context, jobID, urlHash string) (*models.Page, error) {
	var page models.Page
	if err := s.db.Store().Get(models.PageKey(jobID, urlHash), &page); err != nil {
		if errors.Is(err, badgerhold.ErrNotFound) {
			return nil, interfaces.ErrPageNotFound
		}
		return nil, fmt.Errorf("failed to get page: %w", err)
	}
	return &page, nil
}

func (s *PageStorage) GetPagesByJob(ctx context.Context, jobID string) ([]*models.Page, error) {
	var pages []*models.Page
	query := badgerhold.Where("JobID").Eq(jobID).SortBy("CreatedAt")
	if err := s.db.Store().Find(&pages, query); err != nil {
		return nil, fmt.Errorf("failed to list pages: %w", err)
	}
	return pages, nil
}

func (s *PageStorage) GetArtifactPages(ctx context.Context, jobID string, minScore int) ([]*models.Page, error) {
	var pages []*models.Page
	query := badgerhold.Where("JobID").Eq(jobID).And("Status").Eq(models.PageStatusCrawled)
	if err := s.db.Store().Find(&pages, query); err != nil {
		return nil, fmt.Errorf("failed to find crawled pages: %w", err)
	}

	result := make([]*models.Page, 0, len(pages))
	for _, page := range pages {
		if page.QualityScore >= minScore {
			result = append(result, page)
		}
	}
	sort.SliceStable(result, func(i, j int) bool {
		if result[i].QualityScore != result[j].QualityScore {
			return result[i].QualityScore < result[j].QualityScore
		}
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result, nil
}

func (s *PageStorage) CountByStatus(ctx context.Context, jobID string) (map[models.PageStatus]int, error) {
	var pages []*models.Page
	query := badgerhold.Where("JobID").Eq(jobID)
	if err := s.db.Store().Find(&pages, query); err != nil {
		return nil, fmt.Errorf("failed to count pages: %w", err)
	}

	counts := make(map[models.PageStatus]int)
	for _, page := range pages {
		counts[page.Status]++
	}
	return counts, nil
}

func (s *PageStorage) SaveChunks(ctx context.Context, chunks []*models.ContentChunk) error {
	if len(chunks) == 0 {
		return nil
	}

	err := s.db.Update(func(tx *badgerdb.Txn) error {
		for _, chunk := range chunks {
			if chunk.PageID == "" {
				return fmt.Errorf("chunk page ID is required")
			}
			chunk.Key = models.ChunkKey(chunk.PageID, chunk.ChunkIndex)
			if chunk.CreatedAt.IsZero() {
				chunk.CreatedAt = time.Now().UTC()
			}
			if err := s.db.Store().TxUpsert(tx, chunk.Key, chunk); err != nil {
				return fmt.Errorf("failed to save chunk %d: %w", chunk.ChunkIndex, err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.logger.Trace().
		Str("page_id", chunks[0].PageID).
		Int("chunks", len(chunks)).
		Msg("BadgerDB: content chunks saved")
	return nil
}

func (s *PageStorage) GetChunksByPage(ctx context.Context, pageID string) ([]*models.ContentChunk, error) {
	var chunks []*models.ContentChunk
	query := badgerhold.Where("PageID").Eq(pageID).SortBy("ChunkIndex")
	if err := s.db.Store().Find(&chunks, query); err != nil {
		return nil, fmt.Errorf("failed to get chunks: %w", err)
	}
	return chunks, nil
}
