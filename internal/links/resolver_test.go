package links

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/docpress/docpress/internal/crawler"
)

func TestSlug(t *testing.T) {
	require.Equal(t, "getting-started", Slug("Getting Started"))
	require.Equal(t, "whats-new-in-v20", Slug("What's New in v2.0?"))
	require.Equal(t, "api-reference", Slug("  API   Reference  "))
	require.Equal(t, "", Slug("!!!"))
}

func TestSectionTitleFallsBackToPath(t *testing.T) {
	require.Equal(t, "Setup Guide", SectionTitle(crawler.Page{URL: "https://docs.example.com/setup", Title: "Setup Guide"}))
	require.Equal(t, "setup", SectionTitle(crawler.Page{URL: "https://docs.example.com/guide/setup"}))
	require.Equal(t, "getting started", SectionTitle(crawler.Page{URL: "https://docs.example.com/getting-started"}))
}

func TestAnchorsUniquifyTitles(t *testing.T) {
	pages := []crawler.Page{
		{URL: "https://docs.example.com/a", Title: "Overview"},
		{URL: "https://docs.example.com/b", Title: "Overview"},
		{URL: "https://docs.example.com/c", Title: ""},
	}
	anchors := Anchors(pages)
	require.Equal(t, "overview", anchors["https://docs.example.com/a"])
	require.Equal(t, "overview-2", anchors["https://docs.example.com/b"])
	require.Equal(t, "c", anchors["https://docs.example.com/c"])
}

func TestRewrite(t *testing.T) {
	pages := []crawler.Page{
		{
			URL:   "https://docs.example.com/guide",
			Title: "Guide",
			Blocks: []crawler.ContentBlock{
				{Kind: crawler.BlockParagraph, Text: "See the [API](https://docs.example.com/api) and [GitHub](https://github.com/example/tool) or the [missing page](https://docs.example.com/gone)."},
				{Kind: crawler.BlockCode, Text: "curl [not a link](https://docs.example.com/api)"},
			},
		},
		{URL: "https://docs.example.com/api", Title: "API Reference"},
	}
	anchors := Anchors(pages)

	res := Rewrite(pages, anchors, "docs.example.com")
	require.Equal(t, 1, res.InternalLinks)
	require.Equal(t, 1, res.ExternalLinks)
	require.Equal(t, 1, res.BrokenLinks)

	text := pages[0].Blocks[0].Text
	require.Contains(t, text, "[API](#api-reference)")
	require.Contains(t, text, "[GitHub](https://github.com/example/tool)")
	require.Contains(t, text, "[missing page](https://docs.example.com/gone)")

	// Code blocks are never rewritten.
	require.Contains(t, pages[0].Blocks[1].Text, "https://docs.example.com/api")
}
