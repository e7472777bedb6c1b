package crawler

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	gmtext "github.com/yuin/goldmark/text"
)

// Recommendation bands over the 0-100 quality score
const (
	RecommendationReject     = "reject"
	RecommendationPoor       = "poor"
	RecommendationAcceptable = "acceptable"
	RecommendationGood       = "good"
	RecommendationExcellent  = "excellent"
)

// QualityResult is the outcome of scoring one extracted page
type QualityResult struct {
	Score          int
	Recommendation string
	Reason         string
}

// QualityInput carries everything the scorer looks at
type QualityInput struct {
	URL        string
	Title      string
	Markdown   string
	HTTPStatus int
}

// docKeywords signal documentation-like prose
var docKeywords = []string{
	"api", "documentation", "guide", "tutorial", "reference", "example",
	"install", "configuration", "getting started", "usage", "parameter",
	"endpoint", "sdk", "cli",
}

// errorPhrases mark error pages served with a 200
var errorPhrases = []string{
	"404", "not found", "page not found", "access denied", "forbidden",
	"internal server error", "something went wrong",
}

// codePattern catches code-like lines outside fenced blocks
var codePattern = regexp.MustCompile(`(?m)^\s*(func|def|class|function|import|const|var|let|return|public|private)\b`)

// markdownStats holds the structure counts pulled from the goldmark AST
type markdownStats struct {
	headings     int
	lists        int
	links        int
	fencedBlocks int
	codeSpans    int
	codeChars    int
}

func analyzeMarkdown(markdown string) markdownStats {
	var stats markdownStats
	source := []byte(markdown)
	doc := goldmark.New().Parser().Parse(gmtext.NewReader(source))

	_ = ast.Walk(doc, func(node ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		switch node.Kind() {
		case ast.KindHeading:
			stats.headings++
		case ast.KindList:
			stats.lists++
		case ast.KindLink, ast.KindAutoLink:
			stats.links++
		case ast.KindFencedCodeBlock, ast.KindCodeBlock:
			stats.fencedBlocks++
			lines := node.Lines()
			for i := 0; i < lines.Len(); i++ {
				segment := lines.At(i)
				stats.codeChars += segment.Len()
			}
		case ast.KindCodeSpan:
			stats.codeSpans++
			for child := node.FirstChild(); child != nil; child = child.NextSibling() {
				if text, ok := child.(*ast.Text); ok {
					stats.codeChars += text.Segment.Len()
				}
			}
		}
		return ast.WalkContinue, nil
	})

	return stats
}

func countKeywords(body string, keywords []string) int {
	count := 0
	for _, keyword := range keywords {
		if strings.Contains(body, keyword) {
			count++
		}
	}
	return count
}

// ScoreQuality computes the deterministic additive quality score. Every
// factor is independent; the total is clamped to [0,100].
func ScoreQuality(input QualityInput) QualityResult {
	score := 0
	var reasons []string

	lowerBody := strings.ToLower(input.Markdown)
	lowerTitle := strings.ToLower(input.Title)
	lowerURL := strings.ToLower(input.URL)
	stats := analyzeMarkdown(input.Markdown)

	statusOK := (input.HTTPStatus >= 200 && input.HTTPStatus < 300) || input.HTTPStatus == 304
	if statusOK {
		score += 20
	}

	if len(input.Markdown) > 100 {
		score += 20
	} else {
		reasons = append(reasons, "thin content")
	}

	nonCodeChars := len(input.Markdown) - stats.codeChars
	if nonCodeChars > 200 {
		score += 25
	}

	keywordHits := countKeywords(lowerBody, docKeywords)
	signals := 0
	if stats.headings >= 2 {
		signals++
	}
	if stats.lists > 0 {
		signals++
	}
	if stats.links >= 3 {
		signals++
	}
	if stats.links >= 8 {
		signals++
	}
	if keywordHits >= 2 {
		signals++
	}
	if keywordHits >= 4 {
		signals++
	}
	if signals >= 4 {
		score += 20
		reasons = append(reasons, fmt.Sprintf("%d structure signals", signals))
	}

	hasCode := stats.fencedBlocks > 0 || stats.codeSpans >= 3 || codePattern.MatchString(input.Markdown)
	if hasCode {
		score += 10
		reasons = append(reasons, "code examples")
	}

	tokenEstimate := len(input.Markdown) / 4
	if tokenEstimate > 100 && tokenEstimate < 8000 {
		score += 5
	}

	if strings.Contains(lowerURL, "/docs/") {
		score += 5
	}
	if strings.Contains(lowerURL, "/api/") || strings.Contains(lowerURL, "/reference/") {
		score += 5
	}

	errorPage := input.HTTPStatus >= 400
	if !errorPage {
		for _, phrase := range errorPhrases {
			if strings.Contains(lowerTitle, phrase) || strings.Contains(lowerBody, phrase) {
				errorPage = true
				break
			}
		}
	}
	if errorPage {
		score -= 50
		reasons = append(reasons, "error page heuristics")
	}

	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}

	recommendation := recommendationFor(score)
	reason := recommendation
	if len(reasons) > 0 {
		reason = fmt.Sprintf("%s (%s)", recommendation, strings.Join(reasons, ", "))
	}

	return QualityResult{
		Score:          score,
		Recommendation: recommendation,
		Reason:         reason,
	}
}

func recommendationFor(score int) string {
	switch {
	case score < 20:
		return RecommendationReject
	case score < 40:
		return RecommendationPoor
	case score < 60:
		return RecommendationAcceptable
	case score < 80:
		return RecommendationGood
	default:
		return RecommendationExcellent
	}
}
