// Package links rewrites cross-page references into intra-document anchors.
package links

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/docpress/docpress/internal/crawler"
)

var (
	markdownLinkRe = regexp.MustCompile(`\[([^\]]*)\]\((https?://[^)\s]+)\)`)
	slugStripRe    = regexp.MustCompile(`[^a-z0-9 -]`)
	spaceRe        = regexp.MustCompile(`\s+`)
)

// Result summarizes what the resolver saw across all pages.
type Result struct {
	InternalLinks int
	ExternalLinks int
	BrokenLinks   int
}

// Slug converts a heading into its markdown anchor form.
func Slug(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = slugStripRe.ReplaceAllString(s, "")
	s = spaceRe.ReplaceAllString(s, "-")
	return strings.Trim(s, "-")
}

// SectionTitle returns the heading text used for a page's section in the
// artifact. Untitled pages fall back to a readable form of the last URL path
// segment so the rendered heading and the anchor derive from the same text.
func SectionTitle(page crawler.Page) string {
	if page.Title != "" {
		return page.Title
	}
	return pathFallback(page.URL)
}

// Anchors assigns a unique document anchor to every page, keyed by URL.
// Collisions between identical titles get a numeric suffix in page order,
// matching how the assembler emits section headings.
func Anchors(pages []crawler.Page) map[string]string {
	anchors := make(map[string]string, len(pages))
	used := make(map[string]int)
	for _, page := range pages {
		slug := Slug(SectionTitle(page))
		if slug == "" {
			slug = "page"
		}
		used[slug]++
		if n := used[slug]; n > 1 {
			slug = fmt.Sprintf("%s-%d", slug, n)
		}
		anchors[page.URL] = slug
	}
	return anchors
}

// Rewrite replaces markdown links that target crawled pages with their
// intra-document anchors. Links to the crawl host that were not captured
// count as broken; everything else counts as external. Code blocks are left
// untouched.
func Rewrite(pages []crawler.Page, anchors map[string]string, baseHost string) Result {
	var res Result
	for i := range pages {
		for j := range pages[i].Blocks {
			block := &pages[i].Blocks[j]
			if block.Kind == crawler.BlockCode {
				continue
			}
			block.Text = markdownLinkRe.ReplaceAllStringFunc(block.Text, func(match string) string {
				groups := markdownLinkRe.FindStringSubmatch(match)
				label, target := groups[1], groups[2]
				normalized, err := crawler.NormalizeURL(target)
				if err != nil {
					return match
				}
				if anchor, ok := anchors[normalized]; ok {
					res.InternalLinks++
					return fmt.Sprintf("[%s](#%s)", label, anchor)
				}
				if crawler.Host(normalized) == baseHost {
					res.BrokenLinks++
					return match
				}
				res.ExternalLinks++
				return match
			})
		}
	}
	return res
}

func pathFallback(rawURL string) string {
	trimmed := strings.Trim(rawURL, "/")
	if idx := strings.LastIndex(trimmed, "/"); idx >= 0 {
		trimmed = trimmed[idx+1:]
	}
	trimmed = strings.ReplaceAll(trimmed, ".", " ")
	trimmed = strings.ReplaceAll(trimmed, "-", " ")
	trimmed = strings.ReplaceAll(trimmed, "_", " ")
	if trimmed == "" {
		return "index"
	}
	return trimmed
}
