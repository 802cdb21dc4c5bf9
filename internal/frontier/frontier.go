// Package frontier manages breadth-first URL discovery for a crawl.
package frontier

import (
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/bits-and-blooms/bloom/v3"

	"github.com/docpress/docpress/internal/crawler"
)

// languagePathMarkers are translated-docs path segments skipped by default so
// the artifact stays in one language.
var languagePathMarkers = []string{
	"/zh/", "/zh-cn/", "/zh-tw/", "/ja/", "/ko/", "/fr/", "/de/",
	"/es/", "/pt/", "/ru/", "/it/", "/nl/", "/pl/", "/tr/",
}

// skipExtensions are binary or asset suffixes never worth fetching.
var skipExtensions = []string{
	".png", ".jpg", ".jpeg", ".gif", ".svg", ".ico", ".webp",
	".css", ".js", ".mjs", ".map",
	".pdf", ".zip", ".tar", ".gz", ".tgz", ".whl",
	".woff", ".woff2", ".ttf", ".eot",
	".mp4", ".webm", ".mp3",
}

// Item is a URL scheduled for fetching at a given depth.
type Item struct {
	URL   string
	Depth int
}

// Config bounds and filters discovery.
type Config struct {
	BaseURL         string
	MaxPages        int
	MaxDepth        int
	IncludePatterns []string
	ExcludePatterns []string
	FollowExternal  bool
}

// Frontier is a bounded breadth-first queue with duplicate suppression. A
// Bloom filter screens most repeats cheaply; an exact set confirms, so false
// positives never drop a URL.
type Frontier struct {
	mu       sync.Mutex
	queue    []Item
	filter   *bloom.BloomFilter
	seen     map[string]struct{}
	baseHost string
	cfg      Config
	include  []*regexp.Regexp
	exclude  []*regexp.Regexp
	accepted int
}

// New builds a Frontier seeded with the normalized base URL.
func New(cfg Config) (*Frontier, error) {
	base, err := crawler.NormalizeURL(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("normalize base url: %w", err)
	}
	include, err := compilePatterns(cfg.IncludePatterns)
	if err != nil {
		return nil, fmt.Errorf("include patterns: %w", err)
	}
	exclude, err := compilePatterns(cfg.ExcludePatterns)
	if err != nil {
		return nil, fmt.Errorf("exclude patterns: %w", err)
	}
	if cfg.MaxPages <= 0 {
		cfg.MaxPages = 1000
	}
	if cfg.MaxDepth <= 0 {
		cfg.MaxDepth = 10
	}

	capacity := uint(cfg.MaxPages * 20)
	f := &Frontier{
		filter:   bloom.NewWithEstimates(capacity, 0.01),
		seen:     make(map[string]struct{}),
		baseHost: crawler.Host(base),
		cfg:      cfg,
		include:  include,
		exclude:  exclude,
	}
	f.queue = append(f.queue, Item{URL: base, Depth: 0})
	f.markSeen(base)
	f.accepted = 1
	return f, nil
}

// Next pops the next URL in breadth-first order.
func (f *Frontier) Next() (Item, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.queue) == 0 {
		return Item{}, false
	}
	item := f.queue[0]
	f.queue = f.queue[1:]
	return item, true
}

// Enqueue offers a discovered URL at the given depth and reports whether it
// was accepted.
func (f *Frontier) Enqueue(rawURL string, depth int) bool {
	normalized, err := crawler.NormalizeURL(rawURL)
	if err != nil {
		return false
	}
	if depth > f.cfg.MaxDepth {
		return false
	}
	if !f.admissible(normalized) {
		return false
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.accepted >= f.cfg.MaxPages {
		return false
	}
	if f.filter.TestString(normalized) {
		if _, dup := f.seen[normalized]; dup {
			return false
		}
	}
	f.markSeen(normalized)
	f.accepted++
	f.queue = append(f.queue, Item{URL: normalized, Depth: depth})
	return true
}

// Discovered returns the number of accepted URLs including the seed.
func (f *Frontier) Discovered() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.accepted
}

func (f *Frontier) markSeen(url string) {
	f.filter.AddString(url)
	f.seen[url] = struct{}{}
}

func (f *Frontier) admissible(normalized string) bool {
	if !f.cfg.FollowExternal && crawler.Host(normalized) != f.baseHost {
		return false
	}
	lower := strings.ToLower(normalized)
	for _, ext := range skipExtensions {
		if strings.HasSuffix(lower, ext) {
			return false
		}
	}
	for _, marker := range languagePathMarkers {
		if strings.Contains(lower, marker) {
			return false
		}
	}
	for _, re := range f.exclude {
		if re.MatchString(normalized) {
			return false
		}
	}
	if len(f.include) == 0 {
		return true
	}
	for _, re := range f.include {
		if re.MatchString(normalized) {
			return true
		}
	}
	return false
}

func compilePatterns(patterns []string) ([]*regexp.Regexp, error) {
	out := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		if strings.TrimSpace(p) == "" {
			continue
		}
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("compile %q: %w", p, err)
		}
		out = append(out, re)
	}
	return out, nil
}
