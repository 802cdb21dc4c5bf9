// Package dedup removes repeated template fragments and near-duplicate pages.
package dedup

import (
	"strings"

	"github.com/cespare/xxhash/v2"

	"github.com/docpress/docpress/internal/crawler"
)

// Config tunes deduplication thresholds.
type Config struct {
	// BoilerplateRatio is the fraction of pages a fragment must appear on
	// to count as template boilerplate.
	BoilerplateRatio float64
	// BoilerplateMinPages is the absolute floor for that page count.
	BoilerplateMinPages int
	// PageSimilarity is the Jaccard threshold above which two pages are
	// considered duplicates.
	PageSimilarity float64
	// ShingleSize is the token window used for page similarity.
	ShingleSize int
}

// Result reports what survived deduplication.
type Result struct {
	Pages          []crawler.Page
	DuplicatePages int
	BlocksDropped  int
}

// Deduplicator drops near-duplicate pages, then fragments shared across
// enough of the remaining pages. The first page discovered always wins.
type Deduplicator struct {
	cfg Config
}

// New builds a Deduplicator, filling unset fields with defaults.
func New(cfg Config) *Deduplicator {
	if cfg.BoilerplateRatio <= 0 {
		cfg.BoilerplateRatio = 0.6
	}
	if cfg.BoilerplateMinPages <= 0 {
		cfg.BoilerplateMinPages = 3
	}
	if cfg.PageSimilarity <= 0 {
		cfg.PageSimilarity = 0.8
	}
	if cfg.ShingleSize <= 0 {
		cfg.ShingleSize = 4
	}
	return &Deduplicator{cfg: cfg}
}

// Fingerprint computes the stable identity of a block over its kind and
// whitespace-normalized lowercase text.
func Fingerprint(block crawler.ContentBlock) uint64 {
	var b strings.Builder
	b.WriteString(string(block.Kind))
	b.WriteByte(':')
	b.WriteString(normalizeText(block.Text))
	return xxhash.Sum64String(b.String())
}

// Process fingerprints every block and returns the deduplicated page set in
// input order.
func (d *Deduplicator) Process(pages []crawler.Page) Result {
	for i := range pages {
		for j := range pages[i].Blocks {
			pages[i].Blocks[j].Fingerprint = Fingerprint(pages[i].Blocks[j])
		}
	}

	kept, dupes := d.dropDuplicatePages(pages)
	dropped := d.dropBoilerplate(kept)

	return Result{
		Pages:          kept,
		DuplicatePages: dupes,
		BlocksDropped:  dropped,
	}
}

func (d *Deduplicator) dropDuplicatePages(pages []crawler.Page) ([]crawler.Page, int) {
	var (
		kept     []crawler.Page
		shingles []map[uint64]struct{}
		dupes    int
	)
	for _, page := range pages {
		sh := d.shingles(page)
		dup := false
		for _, keptSh := range shingles {
			if jaccard(sh, keptSh) >= d.cfg.PageSimilarity {
				dup = true
				break
			}
		}
		if dup {
			dupes++
			continue
		}
		kept = append(kept, page)
		shingles = append(shingles, sh)
	}
	return kept, dupes
}

func (d *Deduplicator) dropBoilerplate(pages []crawler.Page) int {
	if len(pages) == 0 {
		return 0
	}
	pageCount := make(map[uint64]int)
	for _, page := range pages {
		seen := make(map[uint64]struct{})
		for _, block := range page.Blocks {
			if _, dup := seen[block.Fingerprint]; dup {
				continue
			}
			seen[block.Fingerprint] = struct{}{}
			pageCount[block.Fingerprint]++
		}
	}

	threshold := int(d.cfg.BoilerplateRatio * float64(len(pages)))
	if threshold < d.cfg.BoilerplateMinPages {
		threshold = d.cfg.BoilerplateMinPages
	}

	dropped := 0
	for i := range pages {
		filtered := pages[i].Blocks[:0]
		for _, block := range pages[i].Blocks {
			if pageCount[block.Fingerprint] >= threshold {
				dropped++
				continue
			}
			filtered = append(filtered, block)
		}
		pages[i].Blocks = filtered
	}
	return dropped
}

// shingles builds the token-window set over all block text of a page.
func (d *Deduplicator) shingles(page crawler.Page) map[uint64]struct{} {
	var tokens []string
	for _, block := range page.Blocks {
		tokens = append(tokens, strings.Fields(normalizeText(block.Text))...)
	}
	out := make(map[uint64]struct{})
	if len(tokens) == 0 {
		return out
	}
	size := d.cfg.ShingleSize
	if len(tokens) < size {
		out[xxhash.Sum64String(strings.Join(tokens, " "))] = struct{}{}
		return out
	}
	for i := 0; i+size <= len(tokens); i++ {
		out[xxhash.Sum64String(strings.Join(tokens[i:i+size], " "))] = struct{}{}
	}
	return out
}

func jaccard(a, b map[uint64]struct{}) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 1
	}
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	small, large := a, b
	if len(small) > len(large) {
		small, large = large, small
	}
	intersection := 0
	for k := range small {
		if _, ok := large[k]; ok {
			intersection++
		}
	}
	union := len(a) + len(b) - intersection
	return float64(intersection) / float64(union)
}

func normalizeText(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}
