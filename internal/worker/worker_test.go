package worker

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/docpress/docpress/internal/assemble"
	"github.com/docpress/docpress/internal/clock/system"
	"github.com/docpress/docpress/internal/crawler"
	"github.com/docpress/docpress/internal/dedup"
	"github.com/docpress/docpress/internal/extract"
	"github.com/docpress/docpress/internal/hash/sha256"
	"github.com/docpress/docpress/internal/links"
	"github.com/docpress/docpress/internal/metrics"
	"github.com/docpress/docpress/internal/storage/memory"
)

type fakeFetcher struct {
	mu        sync.Mutex
	responses map[string]crawler.FetchResponse
	errs      map[string]error
	blockAll  bool
	calls     []string
}

func (f *fakeFetcher) Fetch(ctx context.Context, req crawler.FetchRequest) (crawler.FetchResponse, error) {
	if f.blockAll {
		<-ctx.Done()
		return crawler.FetchResponse{}, ctx.Err()
	}
	f.mu.Lock()
	f.calls = append(f.calls, req.URL)
	f.mu.Unlock()
	if err, ok := f.errs[req.URL]; ok {
		return crawler.FetchResponse{}, err
	}
	resp, ok := f.responses[req.URL]
	if !ok {
		return crawler.FetchResponse{}, fmt.Errorf("unexpected fetch for %s", req.URL)
	}
	return resp, nil
}

func (f *fakeFetcher) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type fakeDetector struct {
	promote bool
}

func (d *fakeDetector) ShouldPromote(resp crawler.FetchResponse) bool {
	return d.promote && !resp.UsedHeadless
}

func htmlResponse(url, body string) crawler.FetchResponse {
	headers := http.Header{}
	headers.Set("Content-Type", "text/html; charset=utf-8")
	return crawler.FetchResponse{
		URL:        url,
		StatusCode: 200,
		Headers:    headers,
		Body:       []byte(body),
		Duration:   10 * time.Millisecond,
	}
}

func docPage(title, body string) string {
	return fmt.Sprintf(
		`<html><head><title>%s | Example Docs</title></head><body><main><h1>%s</h1>%s</main></body></html>`,
		title, title, body,
	)
}

type workerFixture struct {
	worker    *Worker
	jobStore  *memory.JobStore
	artifacts *memory.ArtifactStore
	probe     *fakeFetcher
	headless  *fakeFetcher
	detector  *fakeDetector
}

func newFixture(probe *fakeFetcher) *workerFixture {
	metrics.Init()
	f := &workerFixture{
		jobStore:  memory.NewJobStore(nil),
		artifacts: memory.NewArtifactStore(),
		probe:     probe,
		headless:  &fakeFetcher{responses: map[string]crawler.FetchResponse{}},
		detector:  &fakeDetector{},
	}
	f.worker = New(Deps{
		JobStore:        f.jobStore,
		ArtifactStore:   f.artifacts,
		Hasher:          sha256.NewHasher(),
		Clock:           system.NewClock(),
		ProbeFetcher:    probe,
		HeadlessFetcher: f.headless,
		Detector:        f.detector,
		Canceler:        crawler.NewCancelRegistry(),
		Extractor:       extract.New(extract.Config{MinTextChars: 10}),
		Deduper:         dedup.New(dedup.Config{}),
		Assembler:       assemble.New(assemble.Config{FilePrefix: "docpress"}),
		Logger:          zap.NewNop(),
	}, Config{
		FetchParallelism: 2,
		DefaultDelay:     time.Millisecond,
		DefaultTimeout:   5 * time.Second,
	})
	return f
}

func (f *workerFixture) submit(t *testing.T, jobID, baseURL string, opts crawler.JobOptions) crawler.QueueItem {
	t.Helper()
	require.NoError(t, f.jobStore.CreateJob(context.Background(), crawler.Job{
		ID:        jobID,
		BaseURL:   baseURL,
		Status:    crawler.JobStatusPending,
		Submitted: time.Now().UTC(),
		Options:   opts,
	}))
	return crawler.QueueItem{JobID: jobID, BaseURL: baseURL, Options: opts}
}

func TestProcessJobCompletes(t *testing.T) {
	base := "https://docs.example.com"
	probe := &fakeFetcher{responses: map[string]crawler.FetchResponse{
		base: htmlResponse(base, docPage("Getting Started",
			`<p>Install the binary and run the init command to scaffold a project.</p>
			 <p><a href="/guide">Read the full guide</a> for configuration details.</p>`)),
		base + "/guide": htmlResponse(base+"/guide", docPage("Configuration Guide",
			`<p>Every option can be set through the config file or environment.</p>`)),
	}}
	f := newFixture(probe)

	item := f.submit(t, "job-1", base, crawler.JobOptions{
		MaxPages: 10,
		MaxDepth: 3,
		Delay:    time.Millisecond,
		Timeout:  5 * time.Second,
	})
	f.worker.processJob(context.Background(), item)

	job, err := f.jobStore.GetJob(context.Background(), "job-1")
	require.NoError(t, err)
	require.Equal(t, crawler.JobStatusCompleted, job.Status)
	require.Empty(t, job.ErrorText)
	require.Equal(t, 2, job.Counters.PagesCrawled)
	require.Zero(t, job.Counters.PagesFailed)
	require.NotNil(t, job.Started)
	require.NotNil(t, job.Finished)

	require.NotNil(t, job.Artifact)
	require.Equal(t, 2, job.Artifact.Pages)
	data, err := f.artifacts.GetObject(context.Background(), job.Artifact.FileName)
	require.NoError(t, err)
	content := string(data)
	require.Contains(t, content, "Getting Started")
	require.Contains(t, content, "Configuration Guide")

	structure, err := f.jobStore.GetStructure(context.Background(), "job-1")
	require.NoError(t, err)
	require.Equal(t, 2, structure.TotalPages)
	require.Equal(t, 2, structure.UniquePages)
	require.Equal(t, map[int]int{0: 1, 1: 1}, structure.DepthDistribution)
}

func TestProcessJobFailsWhenNothingFetched(t *testing.T) {
	base := "https://docs.example.com"
	probe := &fakeFetcher{errs: map[string]error{
		base: errors.New("connection refused"),
	}}
	f := newFixture(probe)

	item := f.submit(t, "job-2", base, crawler.JobOptions{MaxPages: 5, MaxDepth: 2})
	f.worker.processJob(context.Background(), item)

	job, err := f.jobStore.GetJob(context.Background(), "job-2")
	require.NoError(t, err)
	require.Equal(t, crawler.JobStatusFailed, job.Status)
	require.Equal(t, "no pages were fetched", job.ErrorText)
	require.Equal(t, 1, job.Counters.PagesFailed)
	require.Nil(t, job.Artifact)
}

func TestProcessJobCanceled(t *testing.T) {
	base := "https://docs.example.com"
	probe := &fakeFetcher{blockAll: true}
	f := newFixture(probe)

	item := f.submit(t, "job-3", base, crawler.JobOptions{MaxPages: 5, MaxDepth: 2})

	done := make(chan struct{})
	go func() {
		defer close(done)
		f.worker.processJob(context.Background(), item)
	}()

	canceler := f.worker.canceler
	require.Eventually(t, func() bool {
		return canceler.Cancel("job-3")
	}, time.Second, 10*time.Millisecond)

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("worker did not stop after cancel")
	}

	job, err := f.jobStore.GetJob(context.Background(), "job-3")
	require.NoError(t, err)
	require.Equal(t, crawler.JobStatusCanceled, job.Status)
}

func TestProcessJobSkipsJobCanceledWhilePending(t *testing.T) {
	base := "https://docs.example.com"
	probe := &fakeFetcher{responses: map[string]crawler.FetchResponse{
		base: htmlResponse(base, docPage("Home",
			`<p>Content that must never be fetched for a canceled job.</p>`)),
	}}
	f := newFixture(probe)

	item := f.submit(t, "job-7", base, crawler.JobOptions{MaxPages: 5, MaxDepth: 2})

	// Cancel before the queue item is picked up. The stale item must not
	// resurrect the job.
	require.NoError(t, f.jobStore.UpdateJobStatus(context.Background(), "job-7",
		crawler.JobStatusCanceled, "canceled via api", crawler.JobCounters{}))

	f.worker.processJob(context.Background(), item)

	job, err := f.jobStore.GetJob(context.Background(), "job-7")
	require.NoError(t, err)
	require.Equal(t, crawler.JobStatusCanceled, job.Status)
	require.Equal(t, "canceled via api", job.ErrorText)
	require.Zero(t, probe.callCount())
	require.Nil(t, job.Artifact)
}

func TestProcessJobHeadlessPromotion(t *testing.T) {
	base := "https://docs.example.com"
	probe := &fakeFetcher{responses: map[string]crawler.FetchResponse{
		base: htmlResponse(base, `<html><body><noscript>enable javascript</noscript></body></html>`),
	}}
	f := newFixture(probe)
	f.detector.promote = true
	f.headless.responses[base] = htmlResponse(base, docPage("Rendered Page",
		`<p>This content only exists after client side rendering finishes.</p>`))

	item := f.submit(t, "job-4", base, crawler.JobOptions{
		MaxPages:        5,
		MaxDepth:        2,
		HeadlessAllowed: true,
	})
	f.worker.processJob(context.Background(), item)

	require.Equal(t, 1, f.headless.callCount())
	job, err := f.jobStore.GetJob(context.Background(), "job-4")
	require.NoError(t, err)
	require.Equal(t, crawler.JobStatusCompleted, job.Status)

	data, err := f.artifacts.GetObject(context.Background(), job.Artifact.FileName)
	require.NoError(t, err)
	require.Contains(t, string(data), "Rendered Page")
}

func TestProcessJobHeadlessNotAllowed(t *testing.T) {
	base := "https://docs.example.com"
	probe := &fakeFetcher{responses: map[string]crawler.FetchResponse{
		base: htmlResponse(base, docPage("Static Page",
			`<p>Server rendered content that needs no browser at all.</p>`)),
	}}
	f := newFixture(probe)
	f.detector.promote = true

	item := f.submit(t, "job-5", base, crawler.JobOptions{MaxPages: 5, MaxDepth: 2})
	f.worker.processJob(context.Background(), item)

	require.Zero(t, f.headless.callCount())
	job, err := f.jobStore.GetJob(context.Background(), "job-5")
	require.NoError(t, err)
	require.Equal(t, crawler.JobStatusCompleted, job.Status)
}

func TestProcessJobSkipsNonHTML(t *testing.T) {
	base := "https://docs.example.com"
	pdf := crawler.FetchResponse{StatusCode: 200, Headers: http.Header{}, Body: []byte("%PDF-1.4")}
	pdf.Headers.Set("Content-Type", "application/pdf")
	probe := &fakeFetcher{responses: map[string]crawler.FetchResponse{
		base: htmlResponse(base, docPage("Home",
			`<p>Welcome to the documentation for this example project.</p>
			 <p><a href="/manual">Manual page link</a> for offline reading.</p>`)),
		base + "/manual": pdf,
	}}
	f := newFixture(probe)

	item := f.submit(t, "job-6", base, crawler.JobOptions{MaxPages: 5, MaxDepth: 2})
	f.worker.processJob(context.Background(), item)

	job, err := f.jobStore.GetJob(context.Background(), "job-6")
	require.NoError(t, err)
	require.Equal(t, crawler.JobStatusCompleted, job.Status)
	require.Equal(t, 1, job.Counters.PagesCrawled)
	require.Zero(t, job.Counters.PagesFailed)
}

func TestDeriveFinalStatus(t *testing.T) {
	w := &Worker{}

	canceled, cancel := context.WithCancel(context.Background())
	cancel()

	status, _ := w.deriveFinalStatus(canceled, crawler.JobCounters{PagesCrawled: 3}, nil)
	require.Equal(t, crawler.JobStatusCanceled, status)

	status, errText := w.deriveFinalStatus(context.Background(), crawler.JobCounters{}, errors.New("boom"))
	require.Equal(t, crawler.JobStatusFailed, status)
	require.Equal(t, "boom", errText)

	status, errText = w.deriveFinalStatus(context.Background(), crawler.JobCounters{}, nil)
	require.Equal(t, crawler.JobStatusFailed, status)
	require.Equal(t, "no pages were fetched", errText)

	status, _ = w.deriveFinalStatus(context.Background(), crawler.JobCounters{PagesCrawled: 5}, nil)
	require.Equal(t, crawler.JobStatusCompleted, status)
}

func TestBuildStructure(t *testing.T) {
	all := []crawler.Page{
		{URL: "https://d.example/a", Depth: 0, Body: make([]byte, 100), ContentType: "text/html"},
		{URL: "https://d.example/b", Depth: 1, Body: make([]byte, 300), ContentType: "text/html"},
		{URL: "https://d.example/c", Depth: 1, Body: make([]byte, 200), ContentType: ""},
	}
	structure := buildStructure(all,
		dedup.Result{Pages: all[:2], DuplicatePages: 1, BlocksDropped: 4},
		links.Result{ExternalLinks: 3, BrokenLinks: 1},
	)

	require.Equal(t, 3, structure.TotalPages)
	require.Equal(t, 2, structure.UniquePages)
	require.Equal(t, 1, structure.DuplicatePages)
	require.Equal(t, 3, structure.ExternalLinks)
	require.Equal(t, 1, structure.BrokenLinks)
	require.InDelta(t, 200.0, structure.AveragePageSize, 0.001)
	require.Equal(t, map[string]int{"text/html": 2, "unknown": 1}, structure.ContentTypes)
	require.Equal(t, map[int]int{0: 1, 1: 2}, structure.DepthDistribution)
}
