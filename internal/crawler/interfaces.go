package crawler

import (
	"context"
	"errors"
	"time"
)

// ErrJobNotFound is returned by job stores when the requested job does not exist.
var ErrJobNotFound = errors.New("job not found")

// JobStore persists job metadata and site structure summaries.
type JobStore interface {
	CreateJob(ctx context.Context, job Job) error
	UpdateJobStatus(ctx context.Context, jobID string, status JobStatus, errText string, counters JobCounters) error
	SetArtifact(ctx context.Context, jobID string, artifact ArtifactInfo) error
	SetStructure(ctx context.Context, jobID string, structure SiteStructure) error
	GetJob(ctx context.Context, jobID string) (Job, error)
	GetStructure(ctx context.Context, jobID string) (SiteStructure, error)
	ListJobs(ctx context.Context) ([]Job, error)
}

// ArtifactStore writes generated artifacts and returns a URI.
type ArtifactStore interface {
	PutObject(ctx context.Context, name string, contentType string, data []byte) (string, error)
	GetObject(ctx context.Context, name string) ([]byte, error)
}

// Fetcher fetches a URL and returns the body plus metadata.
type Fetcher interface {
	Fetch(ctx context.Context, request FetchRequest) (FetchResponse, error)
}

// HeadlessDetector decides whether a headless fetch is warranted.
type HeadlessDetector interface {
	ShouldPromote(probe FetchResponse) bool
}

// RobotsPolicy answers whether a URL may be fetched under robots.txt.
type RobotsPolicy interface {
	Allowed(ctx context.Context, rawURL string) bool
}

// Queue provides enqueue/dequeue semantics for conversion jobs.
type Queue interface {
	Enqueue(ctx context.Context, item QueueItem) error
	Dequeue(ctx context.Context) (QueueItem, error)
}

// RetryPolicy governs transient-failure retries for fetches.
type RetryPolicy interface {
	ShouldRetry(err error, attempt int) bool
	Backoff(attempt int) time.Duration
}

// Hasher computes digests for integrity and change detection.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces job IDs (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}

// Canceler tracks per-job cancellation hooks so the API can stop a
// running job cooperatively.
type Canceler interface {
	Register(jobID string, cancel context.CancelFunc)
	Cancel(jobID string) bool
	Remove(jobID string)
}
