package crawler

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
)

func TestExtract_MainContentAndChrome(t *testing.T) {
	html := `<html><head><title>Guide</title><script>var tracked = 1;</script></head>
<body>
<nav><a href="/nav">Navigation</a></nav>
<main>
<h1>Install</h1>
<p>Use the <strong>CLI</strong> to install the service.</p>
<script>tracker()</script>
<ul><li>one</li><li>two</li></ul>
<pre><code>npm install docspasta</code></pre>
<a href="/docs/setup">Setup</a>
<a href="#section">Anchor</a>
</main>
</body></html>`

	extractor := NewExtractor(arbor.NewLogger())
	result, err := extractor.Extract(mustParse(t, "https://docs.example.com/guide"), []byte(html))
	require.NoError(t, err)

	assert.Equal(t, "Guide", result.Title)
	assert.Contains(t, result.Markdown, "# Install")
	assert.Contains(t, result.Markdown, "**CLI**")
	assert.Contains(t, result.Markdown, "- one")
	assert.Contains(t, result.Markdown, "npm install docspasta")
	assert.NotContains(t, result.Markdown, "tracker()")
	assert.NotContains(t, result.Markdown, "Navigation")

	// Links come from the selected content only, raw and unresolved
	assert.Contains(t, result.Links, "/docs/setup")
	assert.Contains(t, result.Links, "#section")
	assert.NotContains(t, result.Links, "/nav")
}

func TestExtract_TitleFallsBackToH1(t *testing.T) {
	html := `<html><body><main><h1>Reference Manual</h1><p>Body text.</p></main></body></html>`

	extractor := NewExtractor(arbor.NewLogger())
	result, err := extractor.Extract(mustParse(t, "https://docs.example.com/ref"), []byte(html))
	require.NoError(t, err)
	assert.Equal(t, "Reference Manual", result.Title)
}

func TestExtract_FallsBackToBody(t *testing.T) {
	html := `<html><head><title>Plain</title></head><body><p>No landmark element here.</p></body></html>`

	extractor := NewExtractor(arbor.NewLogger())
	result, err := extractor.Extract(mustParse(t, "https://docs.example.com/p"), []byte(html))
	require.NoError(t, err)
	assert.Contains(t, result.Markdown, "No landmark element here.")
}

func TestExtract_PrefersFirstMatchingSelector(t *testing.T) {
	html := `<html><body>
<div class="content"><p>Secondary container.</p></div>
<main><p>Primary container.</p></main>
</body></html>`

	extractor := NewExtractor(arbor.NewLogger())
	result, err := extractor.Extract(mustParse(t, "https://docs.example.com/p"), []byte(html))
	require.NoError(t, err)
	assert.Contains(t, result.Markdown, "Primary container.")
	assert.NotContains(t, result.Markdown, "Secondary container.")
}

func TestCountWords(t *testing.T) {
	assert.Equal(t, 0, CountWords(""))
	assert.Equal(t, 0, CountWords("   \n\t"))
	assert.Equal(t, 5, CountWords("# Install\n\nthe service quickly"))
}
