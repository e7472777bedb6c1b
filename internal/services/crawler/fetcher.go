package crawler

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/gocolly/colly/v2"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/docspasta/internal/common"
	"github.com/ternarybob/docspasta/internal/models"
	"golang.org/x/time/rate"
)

// FetchResult is the raw outcome of one page fetch
type FetchResult struct {
	StatusCode  int
	Body        []byte
	ContentType string
}

// Fetcher retrieves pages over HTTP via a shared colly collector. The
// collector is cloned per fetch so per-request callbacks never accumulate;
// a per-job rate limiter applies the configured politeness delay across
// concurrent fetches.
type Fetcher struct {
	collector *colly.Collector
	limiter   *rate.Limiter
	logger    arbor.ILogger
}

// NewFetcher creates a fetcher honoring one job's crawl configuration
func NewFetcher(serverCfg common.CrawlerConfig, jobCfg models.JobConfig, logger arbor.ILogger) *Fetcher {
	opts := []colly.CollectorOption{
		colly.UserAgent(serverCfg.UserAgent),
	}
	if !jobCfg.RespectRobotsTxt {
		opts = append(opts, colly.IgnoreRobotsTxt())
	}

	c := colly.NewCollector(opts...)
	c.MaxBodySize = serverCfg.MaxBodySize
	c.SetRequestTimeout(jobCfg.PageTimeout)

	limiter := rate.NewLimiter(rate.Inf, 1)
	if jobCfg.Delay > 0 {
		limiter = rate.NewLimiter(rate.Every(jobCfg.Delay), 1)
	}

	return &Fetcher{
		collector: c,
		limiter:   limiter,
		logger:    logger,
	}
}

// Fetch retrieves one page. Non-2xx responses (other than 304) return the
// status with no body; only text/html bodies are kept.
func (f *Fetcher) Fetch(ctx context.Context, targetURL string) (*FetchResult, error) {
	return f.fetch(ctx, targetURL, "text/html,application/xhtml+xml", isHTMLContentType)
}

// FetchSitemap retrieves a sitemap document, keeping XML bodies instead
// of HTML. Politeness, timeout and status handling match Fetch.
func (f *Fetcher) FetchSitemap(ctx context.Context, targetURL string) (*FetchResult, error) {
	return f.fetch(ctx, targetURL, "application/xml,text/xml", isXMLContentType)
}

func (f *Fetcher) fetch(ctx context.Context, targetURL, accept string, keepBody func(string) bool) (*FetchResult, error) {
	if err := f.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait cancelled: %w", err)
	}

	result := &FetchResult{}
	var fetchErr error

	c := f.collector.Clone()

	c.OnRequest(func(r *colly.Request) {
		if ctx.Err() != nil {
			r.Abort()
			return
		}
		r.Headers.Set("Accept", accept)
		r.Headers.Set("Accept-Language", "en-US,en;q=0.9")
	})

	c.OnResponse(func(r *colly.Response) {
		result.StatusCode = r.StatusCode
		result.ContentType = r.Headers.Get("Content-Type")
		if r.StatusCode >= 200 && r.StatusCode < 300 {
			if keepBody(result.ContentType) {
				result.Body = r.Body
			}
		}
	})

	c.OnError(func(r *colly.Response, err error) {
		if r != nil && r.StatusCode > 0 {
			// Non-2xx is a valid outcome: keep the status, drop the body
			result.StatusCode = r.StatusCode
			return
		}
		fetchErr = err
	})

	if err := c.Visit(targetURL); err != nil {
		// Visit errors for forbidden or already-visited URLs surface here
		if fetchErr == nil && result.StatusCode == 0 {
			fetchErr = err
		}
	}
	c.Wait()

	if ctx.Err() != nil {
		return nil, fmt.Errorf("fetch cancelled: %w", ctx.Err())
	}
	if fetchErr != nil {
		return nil, fmt.Errorf("failed to fetch %s: %w", targetURL, fetchErr)
	}
	if result.StatusCode == 0 {
		return nil, fmt.Errorf("no response received for %s", targetURL)
	}

	f.logger.Trace().
		Str("url", targetURL).
		Int("status", result.StatusCode).
		Int("body_bytes", len(result.Body)).
		Msg("Page fetched")
	return result, nil
}

func isHTMLContentType(contentType string) bool {
	if contentType == "" {
		return true
	}
	lower := strings.ToLower(contentType)
	return strings.Contains(lower, "text/html") || strings.Contains(lower, "application/xhtml")
}

// isXMLContentType admits the types sitemaps are served with in practice,
// including text/plain from misconfigured hosts
func isXMLContentType(contentType string) bool {
	if contentType == "" {
		return true
	}
	lower := strings.ToLower(contentType)
	return strings.Contains(lower, "xml") || strings.Contains(lower, "text/plain")
}

// StatusSuccess reports whether a status counts as a crawlable success
func StatusSuccess(status int) bool {
	return (status >= 200 && status < 300) || status == http.StatusNotModified
}
