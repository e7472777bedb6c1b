package crawler

import (
	"bytes"
	"fmt"
	"net/url"
	"strings"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/PuerkitoBio/goquery"
	"github.com/ternarybob/arbor"
)

// mainContentSelectors are tried in order; the first match wins. The
// document body is the fallback when none match.
var mainContentSelectors = []string{
	"main", "article", "[role=main]", ".main-content", ".content",
	".article", ".documentation", ".docs-content", "#main-content", "#content",
}

// chromeSelectors are stripped from the selected content before conversion
var chromeSelectors = []string{
	"script", "style", "iframe", "noscript", "[aria-hidden=true]", ".hidden", ".display-none",
}

// ExtractResult is the structured content pulled from one fetched page
type ExtractResult struct {
	Title    string
	Markdown string
	Links    []string
}

// Extractor turns fetched HTML into Markdown plus outbound links
type Extractor struct {
	logger arbor.ILogger
}

// NewExtractor creates a content extractor
func NewExtractor(logger arbor.ILogger) *Extractor {
	return &Extractor{logger: logger}
}

// Extract parses the HTML, locates the main content element, strips page
// chrome, converts the remainder to Markdown and collects the anchor
// hrefs of the cleaned element. Links are returned raw; the caller
// resolves and filters them against the job scope.
func (e *Extractor) Extract(pageURL *url.URL, body []byte) (*ExtractResult, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to parse HTML: %w", err)
	}

	result := &ExtractResult{
		Title: extractTitle(doc),
	}

	content := selectMainContent(doc)
	for _, selector := range chromeSelectors {
		content.Find(selector).Remove()
	}

	converter := md.NewConverter(pageURL.Host, true, &md.Options{
		HeadingStyle:     "atx",
		CodeBlockStyle:   "fenced",
		BulletListMarker: "-",
		EmDelimiter:      "_",
		StrongDelimiter:  "**",
		HorizontalRule:   "---",
	})
	result.Markdown = strings.TrimSpace(converter.Convert(content))

	content.Find("a[href]").Each(func(_ int, sel *goquery.Selection) {
		href, ok := sel.Attr("href")
		if !ok {
			return
		}
		href = strings.TrimSpace(href)
		if href != "" {
			result.Links = append(result.Links, href)
		}
	})

	e.logger.Trace().
		Str("url", pageURL.String()).
		Str("title", result.Title).
		Int("markdown_chars", len(result.Markdown)).
		Int("links", len(result.Links)).
		Msg("Content extracted")
	return result, nil
}

func selectMainContent(doc *goquery.Document) *goquery.Selection {
	for _, selector := range mainContentSelectors {
		selection := doc.Find(selector).First()
		if selection.Length() > 0 {
			return selection
		}
	}
	return doc.Find("body").First()
}

func extractTitle(doc *goquery.Document) string {
	title := strings.TrimSpace(doc.Find("title").First().Text())
	if title != "" {
		return title
	}
	return strings.TrimSpace(doc.Find("h1").First().Text())
}

// CountWords returns the whitespace-separated word count of the Markdown
func CountWords(markdown string) int {
	return len(strings.Fields(markdown))
}
