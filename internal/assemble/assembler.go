// Package assemble renders deduplicated pages into a single markdown artifact.
package assemble

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/nao1215/markdown"
	"gopkg.in/yaml.v3"

	"github.com/docpress/docpress/internal/crawler"
	"github.com/docpress/docpress/internal/links"
)

// ContentType is the MIME type of generated artifacts.
const ContentType = "text/markdown; charset=utf-8"

// Config controls artifact naming and titling.
type Config struct {
	FilePrefix string
	Title      string
}

// Input is everything the assembler needs for one job.
type Input struct {
	JobID       string
	BaseURL     string
	Pages       []crawler.Page
	Anchors     map[string]string
	Structure   crawler.SiteStructure
	GeneratedAt time.Time
}

// Output is the rendered artifact.
type Output struct {
	FileName string
	Content  []byte
	Words    int
}

// frontMatter is the YAML header prepended to the artifact.
type frontMatter struct {
	Title       string                `yaml:"title"`
	JobID       string                `yaml:"job_id"`
	SourceURL   string                `yaml:"source_url"`
	GeneratedAt string                `yaml:"generated_at"`
	Generator   string                `yaml:"generator"`
	Pages       int                   `yaml:"pages"`
	Words       int                   `yaml:"words"`
	Structure   crawler.SiteStructure `yaml:"site_structure"`
}

// Assembler builds the final markdown document.
type Assembler struct {
	cfg Config
}

// New constructs an Assembler.
func New(cfg Config) *Assembler {
	if cfg.FilePrefix == "" {
		cfg.FilePrefix = "docpress"
	}
	return &Assembler{cfg: cfg}
}

// Build renders the artifact: YAML front matter, title, table of contents,
// one section per page, and a statistics footer.
func (a *Assembler) Build(in Input) (Output, error) {
	title := a.cfg.Title
	if title == "" {
		title = fmt.Sprintf("%s Documentation", crawler.Host(in.BaseURL))
	}
	words := countWords(in.Pages)

	var buf bytes.Buffer
	if err := a.writeFrontMatter(&buf, title, in, words); err != nil {
		return Output{}, err
	}

	md := markdown.NewMarkdown(&buf)
	md.H1(title)
	md.PlainText("")
	md.PlainTextf("Generated from %s on %s.", in.BaseURL, in.GeneratedAt.Format("2006-01-02 15:04:05 MST"))
	md.PlainText("")

	a.writeTOC(md, in)
	a.writePages(md, in)
	a.writeFooter(md, in, words)

	if err := md.Build(); err != nil {
		return Output{}, fmt.Errorf("render markdown: %w", err)
	}

	return Output{
		FileName: a.fileName(in),
		Content:  buf.Bytes(),
		Words:    words,
	}, nil
}

func (a *Assembler) writeFrontMatter(buf *bytes.Buffer, title string, in Input, words int) error {
	fm := frontMatter{
		Title:       title,
		JobID:       in.JobID,
		SourceURL:   in.BaseURL,
		GeneratedAt: in.GeneratedAt.Format(time.RFC3339),
		Generator:   "docpress",
		Pages:       len(in.Pages),
		Words:       words,
		Structure:   in.Structure,
	}
	data, err := yaml.Marshal(fm)
	if err != nil {
		return fmt.Errorf("marshal front matter: %w", err)
	}
	buf.WriteString("---\n")
	buf.Write(data)
	buf.WriteString("---\n\n")
	return nil
}

func (a *Assembler) writeTOC(md *markdown.Markdown, in Input) {
	md.H2("Table of Contents")
	md.PlainText("")
	entries := make([]string, 0, len(in.Pages))
	for _, page := range in.Pages {
		entries = append(entries, fmt.Sprintf("[%s](#%s)", sectionTitle(page), in.Anchors[page.URL]))
	}
	md.BulletList(entries...)
	md.PlainText("")
}

func (a *Assembler) writePages(md *markdown.Markdown, in Input) {
	for _, page := range in.Pages {
		md.HorizontalRule()
		md.PlainText("")
		md.H2(sectionTitle(page))
		md.PlainText("")
		md.PlainTextf("Source: %s", page.URL)
		md.PlainText("")
		for _, block := range page.Blocks {
			writeBlock(md, block)
		}
	}
}

func (a *Assembler) writeFooter(md *markdown.Markdown, in Input, words int) {
	md.HorizontalRule()
	md.PlainText("")
	md.H2("Crawl Statistics")
	md.PlainText("")
	md.Table(markdown.TableSet{
		Header: []string{"Metric", "Value"},
		Rows: [][]string{
			{"Pages Included", strconv.Itoa(len(in.Pages))},
			{"Total Pages Crawled", strconv.Itoa(in.Structure.TotalPages)},
			{"Duplicate Pages Removed", strconv.Itoa(in.Structure.DuplicatePages)},
			{"External Links", strconv.Itoa(in.Structure.ExternalLinks)},
			{"Broken Links", strconv.Itoa(in.Structure.BrokenLinks)},
			{"Words", strconv.Itoa(words)},
		},
	})
	md.PlainText("")
}

// writeBlock renders one content block. In-page headings are clamped below
// the page section level so the document keeps a single H1 and one H2 per
// page.
func writeBlock(md *markdown.Markdown, block crawler.ContentBlock) {
	switch block.Kind {
	case crawler.BlockHeading:
		level := block.Level + 2
		if level < 3 {
			level = 3
		}
		if level > 6 {
			level = 6
		}
		md.PlainText(strings.Repeat("#", level) + " " + block.Text)
	case crawler.BlockCode:
		md.CodeBlocks(markdown.SyntaxHighlight(block.Language), block.Text)
	case crawler.BlockQuote:
		md.PlainText("> " + block.Text)
	default:
		md.PlainText(block.Text)
	}
	md.PlainText("")
}

func (a *Assembler) fileName(in Input) string {
	host := crawler.Host(in.BaseURL)
	if host == "" {
		host = "site"
	}
	host = strings.ReplaceAll(host, ".", "_")
	return fmt.Sprintf("%s_%s_%s.md", a.cfg.FilePrefix, host, in.GeneratedAt.Format("20060102_150405"))
}

func sectionTitle(page crawler.Page) string {
	return links.SectionTitle(page)
}

func countWords(pages []crawler.Page) int {
	words := 0
	for _, page := range pages {
		for _, block := range page.Blocks {
			words += len(strings.Fields(block.Text))
		}
	}
	return words
}
