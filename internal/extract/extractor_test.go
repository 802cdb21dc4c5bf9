package extract

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/docpress/docpress/internal/crawler"
)

const samplePage = `<!DOCTYPE html>
<html>
<head><title>Installation | Example Docs</title></head>
<body>
<nav><a href="/guide">Guide</a><a href="/api">API</a></nav>
<aside class="sidebar"><a href="/changelog">Changelog</a></aside>
<main>
  <h1>Installation</h1>
  <p>Install the package with your favorite package manager and verify the binary works.</p>
  <p>tiny</p>
  <pre><code class="language-bash">go install example.com/tool@latest</code></pre>
  <h2>Requirements</h2>
  <ul>
    <li>Go 1.22 or newer</li>
    <li>A supported platform
      <ul><li>Linux</li><li>macOS</li></ul>
    </li>
  </ul>
  <blockquote>Upgrade before filing bug reports.</blockquote>
  <table>
    <tr><th>Flag</th><th>Default</th></tr>
    <tr><td>--port</td><td>8080</td></tr>
  </table>
  <a href="./advanced">Advanced</a>
  <a href="#skip">Skip</a>
  <a href="https://github.com/example/tool">Source</a>
</main>
<footer><p>Copyright Example Inc. All rights reserved worldwide, every year.</p></footer>
</body>
</html>`

func extractSample(t *testing.T) *crawler.Page {
	t.Helper()
	page := &crawler.Page{
		URL:  "https://docs.example.com/guide/install",
		Body: []byte(samplePage),
	}
	require.NoError(t, New(Config{MinTextChars: 20}).Extract(page))
	return page
}

func TestExtractTitle(t *testing.T) {
	page := extractSample(t)
	require.Equal(t, "Installation", page.Title)
}

func TestExtractLinksIncludeNavigation(t *testing.T) {
	page := extractSample(t)
	require.Contains(t, page.Links, "https://docs.example.com/guide")
	require.Contains(t, page.Links, "https://docs.example.com/api")
	require.Contains(t, page.Links, "https://docs.example.com/changelog")
	require.Contains(t, page.Links, "https://docs.example.com/guide/advanced")
	require.Contains(t, page.Links, "https://github.com/example/tool")
	for _, link := range page.Links {
		require.NotContains(t, link, "#")
	}
}

func TestExtractBlocks(t *testing.T) {
	page := extractSample(t)

	kinds := make([]crawler.BlockKind, 0, len(page.Blocks))
	for _, b := range page.Blocks {
		kinds = append(kinds, b.Kind)
	}
	require.Equal(t, []crawler.BlockKind{
		crawler.BlockHeading,
		crawler.BlockParagraph,
		crawler.BlockCode,
		crawler.BlockHeading,
		crawler.BlockList,
		crawler.BlockQuote,
		crawler.BlockTable,
	}, kinds)

	require.Equal(t, 1, page.Blocks[0].Level)
	require.Equal(t, "Installation", page.Blocks[0].Text)

	code := page.Blocks[2]
	require.Equal(t, "bash", code.Language)
	require.Equal(t, "go install example.com/tool@latest", code.Text)

	list := page.Blocks[4]
	require.Contains(t, list.Text, "- Go 1.22 or newer")
	require.Contains(t, list.Text, "  - Linux")

	table := page.Blocks[6]
	require.Contains(t, table.Text, "| Flag | Default |")
	require.Contains(t, table.Text, "| --port | 8080 |")
}

func TestExtractDropsShortParagraphsAndChrome(t *testing.T) {
	page := extractSample(t)
	for _, b := range page.Blocks {
		require.NotContains(t, b.Text, "tiny")
		require.NotContains(t, b.Text, "Copyright")
	}
}

func TestExtractFallsBackToBody(t *testing.T) {
	page := &crawler.Page{
		URL:  "https://docs.example.com/plain",
		Body: []byte("<html><body><h1>Plain</h1><p>A page without a main landmark still yields blocks.</p></body></html>"),
	}
	require.NoError(t, New(Config{}).Extract(page))
	require.Len(t, page.Blocks, 2)
	require.Equal(t, "Plain", page.Title)
}

func TestExtractInlineLinksBecomeMarkdown(t *testing.T) {
	page := &crawler.Page{
		URL: "https://docs.example.com/guide/install",
		Body: []byte(`<html><body><main>
			<p>Read the <a href="../api/reference">API reference</a> before continuing with the setup steps.</p>
			<p>Jump to <a href="#section">a section</a> in this very page for more local context here.</p>
		</main></body></html>`),
	}
	require.NoError(t, New(Config{MinTextChars: 20}).Extract(page))
	require.Len(t, page.Blocks, 2)
	require.Contains(t, page.Blocks[0].Text, "[API reference](https://docs.example.com/api/reference)")
	require.Contains(t, page.Blocks[1].Text, "a section")
	require.NotContains(t, page.Blocks[1].Text, "](#section)")
}

func TestExtractCodeWithoutLanguage(t *testing.T) {
	page := &crawler.Page{
		URL:  "https://docs.example.com/code",
		Body: []byte("<html><body><main><pre>plain output\nline two</pre></main></body></html>"),
	}
	require.NoError(t, New(Config{}).Extract(page))
	require.Len(t, page.Blocks, 1)
	require.Equal(t, crawler.BlockCode, page.Blocks[0].Kind)
	require.Equal(t, "", page.Blocks[0].Language)
	require.Equal(t, "plain output\nline two", page.Blocks[0].Text)
}

func TestExtractPrefersDensestContainer(t *testing.T) {
	page := &crawler.Page{
		URL: "https://docs.example.com/dense",
		Body: []byte(`<html><body>
			<div class="wrapper"><a href="/a">Link one here</a> <a href="/b">Link two here</a> <a href="/c">Link three here</a></div>
			<div class="prose">
				<p>This paragraph carries the actual documentation content of the page and runs long enough to dominate the density score.</p>
				<p>A second paragraph keeps the prose container comfortably ahead of any of the navigation wrappers on this page.</p>
			</div>
		</body></html>`),
	}
	require.NoError(t, New(Config{MinTextChars: 20}).Extract(page))
	require.Len(t, page.Blocks, 2)
	for _, block := range page.Blocks {
		require.Equal(t, crawler.BlockParagraph, block.Kind)
	}
}
