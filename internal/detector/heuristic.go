// Package detector decides when a page needs headless rendering.
package detector

import (
	"bytes"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/docpress/docpress/internal/crawler"
)

// DefaultKeywords are markers left behind by client-rendered app shells.
var DefaultKeywords = []string{
	"enable javascript",
	"javascript is required",
	"<noscript>",
	"__NEXT_DATA__",
	"window.__NUXT__",
}

// DefaultSelectors must all be present for a page to count as server-rendered.
var DefaultSelectors = []string{"body", "title"}

// Heuristic implements crawler.HeadlessDetector using simple HTML signals.
type Heuristic struct {
	minHTMLBytes int
	selectors    []string
	keywords     [][]byte
}

// NewHeuristic constructs a detector with the configured thresholds.
func NewHeuristic(minBytes int, selectors, keywords []string) *Heuristic {
	if selectors == nil {
		selectors = DefaultSelectors
	}
	if keywords == nil {
		keywords = DefaultKeywords
	}
	lowerKeywords := make([][]byte, 0, len(keywords))
	for _, kw := range keywords {
		kw = strings.TrimSpace(kw)
		if kw == "" {
			continue
		}
		lowerKeywords = append(lowerKeywords, bytes.ToLower([]byte(kw)))
	}
	return &Heuristic{
		minHTMLBytes: minBytes,
		selectors:    selectors,
		keywords:     lowerKeywords,
	}
}

// ShouldPromote inspects the probe response for signals that the page is
// rendered client side.
func (d *Heuristic) ShouldPromote(probe crawler.FetchResponse) bool {
	if d == nil || probe.UsedHeadless {
		return false
	}
	switch {
	case d.bodyBelowThreshold(probe.Body):
		return true
	case d.containsKeywords(probe.Body):
		return true
	default:
		return d.missingSelectors(probe.Body)
	}
}

func (d *Heuristic) bodyBelowThreshold(body []byte) bool {
	return d.minHTMLBytes > 0 && len(body) < d.minHTMLBytes
}

func (d *Heuristic) containsKeywords(body []byte) bool {
	if len(body) == 0 || len(d.keywords) == 0 {
		return false
	}
	lowerBody := bytes.ToLower(body)
	for _, kw := range d.keywords {
		if len(kw) == 0 {
			continue
		}
		if bytes.Contains(lowerBody, kw) {
			return true
		}
	}
	return false
}

func (d *Heuristic) missingSelectors(body []byte) bool {
	if len(d.selectors) == 0 || len(body) == 0 {
		return false
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return true
	}
	for _, sel := range d.selectors {
		if sel == "" {
			continue
		}
		if doc.Find(sel).Length() == 0 {
			return true
		}
	}
	return false
}
