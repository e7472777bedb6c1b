package crawler

import (
	"context"
	"encoding/xml"
	"fmt"
	"net/url"
	"strings"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/docspasta/internal/common"
	"github.com/ternarybob/docspasta/internal/models"
)

// maxSitemapFetches bounds how many sitemap documents one job reads: the
// root plus children of a sitemap index.
const maxSitemapFetches = 5

type sitemapLoc struct {
	Loc string `xml:"loc"`
}

type sitemapURLSet struct {
	XMLName xml.Name     `xml:"urlset"`
	URLs    []sitemapLoc `xml:"url"`
}

type sitemapIndex struct {
	XMLName  xml.Name     `xml:"sitemapindex"`
	Sitemaps []sitemapLoc `xml:"sitemap"`
}

// parseSitemap decodes a urlset or a sitemap index document, returning
// page URLs and child sitemap URLs respectively.
func parseSitemap(body []byte) (pages []string, children []string, err error) {
	var set sitemapURLSet
	if err := xml.Unmarshal(body, &set); err == nil {
		for _, entry := range set.URLs {
			if loc := strings.TrimSpace(entry.Loc); loc != "" {
				pages = append(pages, loc)
			}
		}
		return pages, nil, nil
	}

	var index sitemapIndex
	if err := xml.Unmarshal(body, &index); err != nil {
		return nil, nil, fmt.Errorf("not a sitemap document: %w", err)
	}
	for _, entry := range index.Sitemaps {
		if loc := strings.TrimSpace(entry.Loc); loc != "" {
			children = append(children, loc)
		}
	}
	return nil, children, nil
}

// sitemapIngestor seeds a job's queue from the origin's sitemap.xml at
// job start. Entries go through the same normalize/scope/dedup/admission
// pipeline as extracted links and enter the crawl at depth 1. The
// ingestor occupies a worker-counter slot so a fast crawl cannot
// finalize before the sitemap lands; a missing or malformed sitemap is
// normal and leaves the job untouched.
type sitemapIngestor struct {
	svc     *Service
	job     *models.Job
	scope   *Scope
	fetcher *Fetcher
	logger  arbor.ILogger
}

func newSitemapIngestor(svc *Service, job *models.Job, scope *Scope) *sitemapIngestor {
	return &sitemapIngestor{
		svc:     svc,
		job:     job,
		scope:   scope,
		fetcher: NewFetcher(svc.config.Crawler, job.Config, svc.logger),
		logger:  svc.logger,
	}
}

// run collects sitemap entries and admits them. The caller registered
// this ingestor in the worker counter before any crawl worker started.
func (si *sitemapIngestor) run(ctx context.Context) {
	defer si.svc.handOff(ctx, si.job.ID)

	seed, err := url.Parse(si.job.SeedURL)
	if err != nil {
		return
	}
	root := seed.Scheme + "://" + seed.Host + "/sitemap.xml"

	pending := []string{root}
	fetched := 0
	var entries []string
	for len(pending) > 0 && fetched < maxSitemapFetches {
		sitemapURL := pending[0]
		pending = pending[1:]
		fetched++

		res, err := si.fetcher.FetchSitemap(ctx, sitemapURL)
		if err != nil || !StatusSuccess(res.StatusCode) || len(res.Body) == 0 {
			si.logger.Debug().
				Str("job_id", si.job.ID).
				Str("sitemap", sitemapURL).
				Msg("No sitemap available")
			continue
		}

		pages, children, err := parseSitemap(res.Body)
		if err != nil {
			si.logger.Debug().
				Err(err).
				Str("job_id", si.job.ID).
				Str("sitemap", sitemapURL).
				Msg("Skipping unparseable sitemap")
			continue
		}
		entries = append(entries, pages...)
		pending = append(pending, children...)
	}

	if len(entries) > 0 {
		si.admit(ctx, root, entries)
	}
}

// admit runs sitemap entries through scope, dedup and the page cap. Same
// counter semantics as link admission: in-scope entries count discovered,
// dedup rejects count filtered, and discovered commits before the enqueue.
func (si *sitemapIngestor) admit(ctx context.Context, source string, locs []string) {
	state := si.svc.storage.CrawlStateStorage()

	var candidates []models.Task
	var candidateURLs []string
	discovered := 0
	duplicates := 0

	for _, loc := range locs {
		normalized, err := Normalize(loc, nil)
		if err != nil {
			continue
		}
		if si.scope.Admit(normalized) != RejectNone {
			continue
		}
		discovered++

		added, err := state.MarkSeen(ctx, si.job.ID, Fingerprint(normalized))
		if err != nil {
			si.logger.Warn().Err(err).Str("url", normalized.String()).Msg("Failed to mark sitemap url seen")
			duplicates++
			continue
		}
		if !added {
			duplicates++
			continue
		}

		candidates = append(candidates, models.Task{
			TaskID: common.NewTaskID(),
			JobID:  si.job.ID,
			URL:    normalized.String(),
			Depth:  1,
		})
		candidateURLs = append(candidateURLs, normalized.String())
	}

	if discovered == 0 {
		return
	}

	snapshot, err := state.IncrProgress(ctx, si.job.ID, models.ProgressDelta{
		Discovered: discovered,
		Filtered:   duplicates,
	})
	if err != nil {
		si.logger.Warn().Err(err).Str("job_id", si.job.ID).Msg("Failed to count sitemap entries")
		return
	}

	admitted := 0
	if len(candidates) > 0 {
		admitted, err = state.AdmitTasks(ctx, si.job.ID, candidates, si.job.Config.MaxPages)
		if err != nil {
			si.logger.Warn().Err(err).Str("job_id", si.job.ID).Msg("Failed to enqueue sitemap entries")
			return
		}
	}

	for _, candidate := range candidates[:admitted] {
		candidateURL, err := url.Parse(candidate.URL)
		if err != nil {
			continue
		}
		if _, _, err := si.svc.storage.PageStorage().UpsertPending(ctx, &models.Page{
			ID:             common.NewPageID(),
			JobID:          si.job.ID,
			URL:            candidate.URL,
			URLHash:        Fingerprint(candidateURL),
			Depth:          1,
			DiscoveredFrom: source,
		}); err != nil {
			si.logger.Warn().Err(err).Str("url", candidate.URL).Msg("Failed to write pending page row")
		}
	}

	si.svc.publisher.Publish(ctx, si.job.ID, si.job.UserID, models.EventURLsDiscovered, models.URLsDiscoveredPayload{
		SourceURL:       source,
		DiscoveredURLs:  candidateURLs[:admitted],
		Count:           admitted,
		TotalDiscovered: snapshot.Discovered,
	})

	si.logger.Info().
		Str("job_id", si.job.ID).
		Int("entries", discovered).
		Int("admitted", admitted).
		Msg("Sitemap entries admitted")
}
