// Package crawler defines core types shared across subsystems.
package crawler

import (
	"net/http"
	"time"
)

// JobStatus represents the lifecycle state of a conversion job.
type JobStatus string

// Job status values persisted in the job store. A job moves
// pending -> crawling -> processing -> completed, or ends in
// failed/canceled from any active state.
const (
	JobStatusPending    JobStatus = "pending"
	JobStatusCrawling   JobStatus = "crawling"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
	JobStatusCanceled   JobStatus = "canceled"
)

// IsTerminal reports whether the status ends the job lifecycle.
func (s JobStatus) IsTerminal() bool {
	switch s {
	case JobStatusCompleted, JobStatusFailed, JobStatusCanceled:
		return true
	default:
		return false
	}
}

// JobOptions captures per-job configuration knobs requested by the client.
type JobOptions struct {
	MaxPages        int           `json:"max_pages" mapstructure:"max_pages"`
	MaxDepth        int           `json:"max_depth" mapstructure:"max_depth"`
	IncludePatterns []string      `json:"include_patterns" mapstructure:"include_patterns"`
	ExcludePatterns []string      `json:"exclude_patterns" mapstructure:"exclude_patterns"`
	RespectRobots   bool          `json:"respect_robots" mapstructure:"respect_robots"`
	Delay           time.Duration `json:"delay" mapstructure:"delay"`
	Timeout         time.Duration `json:"timeout" mapstructure:"timeout"`
	FollowExternal  bool          `json:"follow_external" mapstructure:"follow_external"`
	HeadlessAllowed bool          `json:"headless_allowed" mapstructure:"headless_allowed"`
}

// Job represents the metadata persisted for each submitted conversion request.
type Job struct {
	ID        string        `json:"id"`
	BaseURL   string        `json:"base_url"`
	Status    JobStatus     `json:"status"`
	Submitted time.Time     `json:"submitted_at"`
	Started   *time.Time    `json:"started_at,omitempty"`
	Finished  *time.Time    `json:"finished_at,omitempty"`
	ErrorText string        `json:"error_text,omitempty"`
	Options   JobOptions    `json:"options"`
	Counters  JobCounters   `json:"counters"`
	Artifact  *ArtifactInfo `json:"artifact,omitempty"`
}

// JobCounters tracks per-job progress. Counters only ever increase while a
// job runs.
type JobCounters struct {
	PagesDiscovered int `json:"pages_discovered"`
	PagesCrawled    int `json:"pages_crawled"`
	PagesFailed     int `json:"pages_failed"`
	PagesDeduped    int `json:"pages_deduped"`
	BlocksDropped   int `json:"blocks_dropped"`
	Retries         int `json:"retries"`
}

// Merge returns counters where every field is the max of the two inputs,
// preserving monotonicity when stages report independently.
func (c JobCounters) Merge(o JobCounters) JobCounters {
	return JobCounters{
		PagesDiscovered: maxInt(c.PagesDiscovered, o.PagesDiscovered),
		PagesCrawled:    maxInt(c.PagesCrawled, o.PagesCrawled),
		PagesFailed:     maxInt(c.PagesFailed, o.PagesFailed),
		PagesDeduped:    maxInt(c.PagesDeduped, o.PagesDeduped),
		BlocksDropped:   maxInt(c.BlocksDropped, o.BlocksDropped),
		Retries:         maxInt(c.Retries, o.Retries),
	}
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// ArtifactInfo describes the generated markdown file for a completed job.
type ArtifactInfo struct {
	URI       string `json:"uri"`
	FileName  string `json:"file_name"`
	SizeBytes int64  `json:"size_bytes"`
	Pages     int    `json:"pages"`
	Words     int    `json:"words"`
}

// Page is one crawled URL flowing through the pipeline.
type Page struct {
	URL          string         `json:"url"`
	Title        string         `json:"title"`
	Depth        int            `json:"depth"`
	StatusCode   int            `json:"status_code"`
	ContentType  string         `json:"content_type"`
	Body         []byte         `json:"-"`
	ContentHash  string         `json:"content_hash"`
	UsedHeadless bool           `json:"used_headless"`
	FetchedAt    time.Time      `json:"fetched_at"`
	Duration     time.Duration  `json:"-"`
	Links        []string       `json:"-"`
	Blocks       []ContentBlock `json:"-"`
}

// BlockKind is the semantic type of an extracted content fragment.
type BlockKind string

// Supported content block kinds.
const (
	BlockHeading   BlockKind = "heading"
	BlockParagraph BlockKind = "paragraph"
	BlockCode      BlockKind = "code"
	BlockList      BlockKind = "list"
	BlockQuote     BlockKind = "quote"
	BlockTable     BlockKind = "table"
)

// ContentBlock is a fragment of extracted page content. Fingerprints are
// computed over normalized text so the deduplicator can compare blocks
// across pages.
type ContentBlock struct {
	Kind        BlockKind
	Level       int    // heading level, 1-6
	Language    string // code fence language hint
	Text        string
	Fingerprint uint64
	PageURL     string
}

// FetchRequest captures everything needed to fetch a URL.
type FetchRequest struct {
	JobID         string
	URL           string
	Depth         int
	UseHeadless   bool
	Headers       http.Header
	RespectRobots bool
}

// FetchResponse is the result returned by a Fetcher implementation.
type FetchResponse struct {
	URL          string
	StatusCode   int
	Headers      http.Header
	Body         []byte
	Duration     time.Duration
	UsedHeadless bool
}

// SiteStructure summarizes the crawled site for artifact metadata.
type SiteStructure struct {
	TotalPages        int            `json:"total_pages" yaml:"total_pages"`
	UniquePages       int            `json:"unique_pages" yaml:"unique_pages"`
	DuplicatePages    int            `json:"duplicate_pages" yaml:"duplicate_pages"`
	ExternalLinks     int            `json:"external_links" yaml:"external_links"`
	BrokenLinks       int            `json:"broken_links" yaml:"broken_links"`
	AveragePageSize   float64        `json:"average_page_size" yaml:"average_page_size"`
	ContentTypes      map[string]int `json:"content_types" yaml:"content_types"`
	DepthDistribution map[int]int    `json:"depth_distribution" yaml:"depth_distribution"`
}

// JobResult is returned by the API result endpoint.
type JobResult struct {
	Job       Job            `json:"job"`
	Structure *SiteStructure `json:"site_structure,omitempty"`
}

// QueueItem wraps a job ready to run.
type QueueItem struct {
	JobID     string
	BaseURL   string
	Options   JobOptions
	Submitted int64
}
