// Package extract pulls main documentation content out of page HTML.
package extract

import (
	"bytes"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/docpress/docpress/internal/crawler"
)

// DefaultMainSelectors are tried in order; the first match wins.
var DefaultMainSelectors = []string{
	"main",
	"[role=main]",
	"article",
	".content",
	".main-content",
	".documentation",
	".docs-content",
	"#content",
	"#main",
}

// DefaultStripSelectors remove navigation chrome and other boilerplate before
// the content walk.
var DefaultStripSelectors = []string{
	"script", "style", "noscript", "iframe", "svg",
	"nav", "header", "footer", "aside",
	"[role=navigation]", "[role=banner]", "[role=contentinfo]",
	".sidebar", ".navigation", ".menu", ".breadcrumb", ".breadcrumbs",
	".toc", ".table-of-contents", ".edit-page", ".page-nav",
	".advertisement", ".cookie-banner",
}

var codeLanguageRe = regexp.MustCompile(`(?:language|lang)-([\w#+-]+)`)

// Config tunes the extractor.
type Config struct {
	MainSelectors  []string
	StripSelectors []string
	MinTextChars   int
}

// Extractor converts fetched HTML into titled pages with content blocks and
// outgoing links.
type Extractor struct {
	cfg Config
}

// New builds an Extractor, filling unset fields with defaults.
func New(cfg Config) *Extractor {
	if len(cfg.MainSelectors) == 0 {
		cfg.MainSelectors = DefaultMainSelectors
	}
	if len(cfg.StripSelectors) == 0 {
		cfg.StripSelectors = DefaultStripSelectors
	}
	if cfg.MinTextChars <= 0 {
		cfg.MinTextChars = 40
	}
	return &Extractor{cfg: cfg}
}

// Extract parses page.Body and fills Title, Links, and Blocks in place.
// Links are collected before boilerplate removal so navigation URLs still
// feed discovery.
func (e *Extractor) Extract(page *crawler.Page) error {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(page.Body))
	if err != nil {
		return fmt.Errorf("parse html: %w", err)
	}

	page.Links = e.collectLinks(doc, page.URL)
	page.Title = e.title(doc)

	for _, sel := range e.cfg.StripSelectors {
		doc.Find(sel).Remove()
	}

	root := e.mainContent(doc)
	e.inlineLinks(root, page.URL)
	page.Blocks = e.walk(root, page.URL)
	return nil
}

// inlineLinks rewrites anchors inside the content subtree to markdown link
// syntax so downstream stages can resolve them after the DOM is gone.
func (e *Extractor) inlineLinks(root *goquery.Selection, pageURL string) {
	root.Find("a[href]").Each(func(_ int, a *goquery.Selection) {
		if a.ParentsFiltered("pre, table").Length() > 0 {
			return
		}
		href, _ := a.Attr("href")
		href = strings.TrimSpace(href)
		text := normalizeSpace(a.Text())
		if text == "" || href == "" || strings.HasPrefix(href, "#") {
			return
		}
		resolved, err := crawler.ResolveURL(pageURL, href)
		if err != nil {
			return
		}
		a.SetText(fmt.Sprintf("[%s](%s)", text, resolved))
	})
}

func (e *Extractor) collectLinks(doc *goquery.Document, pageURL string) []string {
	var links []string
	seen := make(map[string]struct{})
	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		href = strings.TrimSpace(href)
		if href == "" || strings.HasPrefix(href, "#") {
			return
		}
		resolved, err := crawler.ResolveURL(pageURL, href)
		if err != nil {
			return
		}
		if _, dup := seen[resolved]; dup {
			return
		}
		seen[resolved] = struct{}{}
		links = append(links, resolved)
	})
	return links
}

func (e *Extractor) title(doc *goquery.Document) string {
	if t := normalizeSpace(doc.Find("title").First().Text()); t != "" {
		// Site names are commonly appended after a separator.
		for _, sep := range []string{" | ", " – ", " - "} {
			if idx := strings.Index(t, sep); idx > 0 {
				return t[:idx]
			}
		}
		return t
	}
	return normalizeSpace(doc.Find("h1").First().Text())
}

func (e *Extractor) mainContent(doc *goquery.Document) *goquery.Selection {
	for _, sel := range e.cfg.MainSelectors {
		if found := doc.Find(sel).First(); found.Length() > 0 {
			return found
		}
	}
	if dense := e.densestContainer(doc); dense != nil {
		return dense
	}
	return doc.Find("body").First()
}

// densestContainer scores top-level div/section candidates by text volume,
// penalizing link-heavy subtrees so navigation wrappers lose to prose.
func (e *Extractor) densestContainer(doc *goquery.Document) *goquery.Selection {
	var best *goquery.Selection
	bestScore := 0
	doc.Find("body > div, body > section, body div > section").Each(func(_ int, s *goquery.Selection) {
		textLen := len(normalizeSpace(s.Text()))
		linkLen := 0
		s.Find("a").Each(func(_ int, a *goquery.Selection) {
			linkLen += len(normalizeSpace(a.Text()))
		})
		score := textLen - 2*linkLen
		if score > bestScore {
			bestScore = score
			best = s
		}
	})
	if bestScore < e.cfg.MinTextChars*3 {
		return nil
	}
	return best
}

// walk flattens the content subtree into ordered blocks.
func (e *Extractor) walk(root *goquery.Selection, pageURL string) []crawler.ContentBlock {
	var blocks []crawler.ContentBlock
	root.Find("h1, h2, h3, h4, h5, h6, p, pre, ul, ol, blockquote, table").Each(func(_ int, s *goquery.Selection) {
		if e.insideHandledContainer(s) {
			return
		}
		if block, ok := e.toBlock(s, pageURL); ok {
			blocks = append(blocks, block)
		}
	})
	return blocks
}

// insideHandledContainer skips nodes emitted as part of an enclosing block,
// like paragraphs inside a blockquote or nested lists.
func (e *Extractor) insideHandledContainer(s *goquery.Selection) bool {
	return s.ParentsFiltered("pre, ul, ol, blockquote, table").Length() > 0
}

func (e *Extractor) toBlock(s *goquery.Selection, pageURL string) (crawler.ContentBlock, bool) {
	tag := goquery.NodeName(s)
	switch tag {
	case "h1", "h2", "h3", "h4", "h5", "h6":
		text := normalizeSpace(s.Text())
		if text == "" {
			return crawler.ContentBlock{}, false
		}
		level, _ := strconv.Atoi(tag[1:])
		return crawler.ContentBlock{Kind: crawler.BlockHeading, Level: level, Text: text, PageURL: pageURL}, true
	case "p":
		text := normalizeSpace(s.Text())
		if len(text) < e.cfg.MinTextChars {
			return crawler.ContentBlock{}, false
		}
		return crawler.ContentBlock{Kind: crawler.BlockParagraph, Text: text, PageURL: pageURL}, true
	case "pre":
		return e.codeBlock(s, pageURL)
	case "ul", "ol":
		return e.listBlock(s, tag == "ol", pageURL)
	case "blockquote":
		text := normalizeSpace(s.Text())
		if text == "" {
			return crawler.ContentBlock{}, false
		}
		return crawler.ContentBlock{Kind: crawler.BlockQuote, Text: text, PageURL: pageURL}, true
	case "table":
		return e.tableBlock(s, pageURL)
	}
	return crawler.ContentBlock{}, false
}

// codeBlock preserves the code text verbatim; only the trailing newline is
// trimmed so fences render tightly.
func (e *Extractor) codeBlock(s *goquery.Selection, pageURL string) (crawler.ContentBlock, bool) {
	code := s.Find("code").First()
	target := code
	if code.Length() == 0 {
		target = s
	}
	text := strings.TrimRight(target.Text(), "\n")
	if strings.TrimSpace(text) == "" {
		return crawler.ContentBlock{}, false
	}
	lang := codeLanguage(s, code)
	return crawler.ContentBlock{Kind: crawler.BlockCode, Language: lang, Text: text, PageURL: pageURL}, true
}

func (e *Extractor) listBlock(s *goquery.Selection, ordered bool, pageURL string) (crawler.ContentBlock, bool) {
	var lines []string
	idx := 0
	s.ChildrenFiltered("li").Each(func(_ int, li *goquery.Selection) {
		text := normalizeSpace(li.Clone().ChildrenFiltered("ul, ol").Remove().End().Text())
		if text == "" {
			return
		}
		idx++
		if ordered {
			lines = append(lines, fmt.Sprintf("%d. %s", idx, text))
		} else {
			lines = append(lines, "- "+text)
		}
		li.ChildrenFiltered("ul, ol").Each(func(_ int, nested *goquery.Selection) {
			nested.ChildrenFiltered("li").Each(func(_ int, inner *goquery.Selection) {
				if t := normalizeSpace(inner.Text()); t != "" {
					lines = append(lines, "  - "+t)
				}
			})
		})
	})
	if len(lines) == 0 {
		return crawler.ContentBlock{}, false
	}
	return crawler.ContentBlock{Kind: crawler.BlockList, Text: strings.Join(lines, "\n"), PageURL: pageURL}, true
}

func (e *Extractor) tableBlock(s *goquery.Selection, pageURL string) (crawler.ContentBlock, bool) {
	var rows [][]string
	s.Find("tr").Each(func(_ int, tr *goquery.Selection) {
		var cells []string
		tr.Find("th, td").Each(func(_ int, cell *goquery.Selection) {
			cells = append(cells, normalizeSpace(cell.Text()))
		})
		if len(cells) > 0 {
			rows = append(rows, cells)
		}
	})
	if len(rows) == 0 {
		return crawler.ContentBlock{}, false
	}
	var b strings.Builder
	for i, row := range rows {
		b.WriteString("| " + strings.Join(row, " | ") + " |\n")
		if i == 0 {
			b.WriteString("|" + strings.Repeat(" --- |", len(row)) + "\n")
		}
	}
	return crawler.ContentBlock{Kind: crawler.BlockTable, Text: strings.TrimRight(b.String(), "\n"), PageURL: pageURL}, true
}

func codeLanguage(pre, code *goquery.Selection) string {
	for _, sel := range []*goquery.Selection{code, pre} {
		if sel == nil || sel.Length() == 0 {
			continue
		}
		class, _ := sel.Attr("class")
		if m := codeLanguageRe.FindStringSubmatch(class); m != nil {
			return strings.ToLower(m[1])
		}
	}
	return ""
}

func normalizeSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
