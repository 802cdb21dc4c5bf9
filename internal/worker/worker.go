// Package worker implements the conversion pipeline execution loop.
package worker

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/docpress/docpress/internal/assemble"
	"github.com/docpress/docpress/internal/crawler"
	"github.com/docpress/docpress/internal/dedup"
	"github.com/docpress/docpress/internal/extract"
	"github.com/docpress/docpress/internal/frontier"
	"github.com/docpress/docpress/internal/links"
	"github.com/docpress/docpress/internal/metrics"
	"github.com/docpress/docpress/internal/progress"
	"github.com/docpress/docpress/internal/ratelimit"
)

// errSkipPage marks URLs that are deliberately not included in the artifact,
// like robots-disallowed paths or non-HTML responses. Skips are not failures.
var errSkipPage = errors.New("page skipped")

// Config controls Worker behavior.
type Config struct {
	FetchParallelism int
	DefaultMaxPages  int
	DefaultMaxDepth  int
	DefaultDelay     time.Duration
	DefaultTimeout   time.Duration
}

// Worker consumes queue items and executes the full crawl-to-artifact
// pipeline for each job.
type Worker struct {
	queue           crawler.Queue
	jobStore        crawler.JobStore
	artifactStore   crawler.ArtifactStore
	hasher          crawler.Hasher
	clock           crawler.Clock
	probeFetcher    crawler.Fetcher
	headlessFetcher crawler.Fetcher
	detector        crawler.HeadlessDetector
	robots          crawler.RobotsPolicy
	retry           crawler.RetryPolicy
	canceler        crawler.Canceler
	extractor       *extract.Extractor
	deduper         *dedup.Deduplicator
	assembler       *assemble.Assembler
	emitter         progress.Emitter
	cfg             Config
	logger          *zap.Logger
}

// Deps bundles the collaborators a Worker needs.
type Deps struct {
	Queue           crawler.Queue
	JobStore        crawler.JobStore
	ArtifactStore   crawler.ArtifactStore
	Hasher          crawler.Hasher
	Clock           crawler.Clock
	ProbeFetcher    crawler.Fetcher
	HeadlessFetcher crawler.Fetcher
	Detector        crawler.HeadlessDetector
	Robots          crawler.RobotsPolicy
	Retry           crawler.RetryPolicy
	Canceler        crawler.Canceler
	Extractor       *extract.Extractor
	Deduper         *dedup.Deduplicator
	Assembler       *assemble.Assembler
	Emitter         progress.Emitter
	Logger          *zap.Logger
}

// New constructs a Worker.
func New(deps Deps, cfg Config) *Worker {
	if cfg.FetchParallelism <= 0 {
		cfg.FetchParallelism = 4
	}
	if cfg.DefaultMaxPages <= 0 {
		cfg.DefaultMaxPages = 1000
	}
	if cfg.DefaultMaxDepth <= 0 {
		cfg.DefaultMaxDepth = 10
	}
	if cfg.DefaultDelay <= 0 {
		cfg.DefaultDelay = time.Second
	}
	if cfg.DefaultTimeout <= 0 {
		cfg.DefaultTimeout = 30 * time.Second
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{
		queue:           deps.Queue,
		jobStore:        deps.JobStore,
		artifactStore:   deps.ArtifactStore,
		hasher:          deps.Hasher,
		clock:           deps.Clock,
		probeFetcher:    deps.ProbeFetcher,
		headlessFetcher: deps.HeadlessFetcher,
		detector:        deps.Detector,
		robots:          deps.Robots,
		retry:           deps.Retry,
		canceler:        deps.Canceler,
		extractor:       deps.Extractor,
		deduper:         deps.Deduper,
		assembler:       deps.Assembler,
		emitter:         deps.Emitter,
		cfg:             cfg,
		logger:          logger,
	}
}

// Run blocks, consuming queue items until the context finishes.
func (w *Worker) Run(ctx context.Context) {
	for {
		item, err := w.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			w.logger.Error("queue dequeue failed", zap.Error(err))
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}
		w.logger.Debug("dequeued job", zap.String("job_id", item.JobID))
		w.processJob(ctx, item)
	}
}

func (w *Worker) processJob(ctx context.Context, item crawler.QueueItem) {
	metrics.IncActiveWorkers()
	defer metrics.DecActiveWorkers()

	start := w.clock.Now()
	opts := w.normalizeOptions(item.Options)

	// The queue item may be stale: the job can be canceled between submission
	// and dequeue. Terminal jobs are never run.
	job, err := w.jobStore.GetJob(ctx, item.JobID)
	if err != nil {
		w.logger.Error("load job failed", zap.String("job_id", item.JobID), zap.Error(err))
		return
	}
	if job.Status.IsTerminal() {
		w.logger.Info("skipping finalized job", zap.String("job_id", item.JobID), zap.String("status", string(job.Status)))
		return
	}

	jobCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	if w.canceler != nil {
		w.canceler.Register(item.JobID, cancel)
		defer w.canceler.Remove(item.JobID)
	}

	if err := w.jobStore.UpdateJobStatus(ctx, item.JobID, crawler.JobStatusCrawling, "", crawler.JobCounters{}); err != nil {
		w.logger.Error("update job status failed", zap.String("job_id", item.JobID), zap.Error(err))
		return
	}
	w.emit(progress.Event{JobID: item.JobID, TS: start, Stage: progress.StageJobStart, URL: item.BaseURL})

	result, err := w.runPipeline(jobCtx, item, opts)

	status, errText := w.deriveFinalStatus(jobCtx, result.counters, err)
	// The job context may already be canceled; the final status write must
	// still land.
	if updErr := w.jobStore.UpdateJobStatus(ctx, item.JobID, status, errText, result.counters); updErr != nil {
		w.logger.Error("final job status update failed", zap.String("job_id", item.JobID), zap.Error(updErr))
	}

	elapsed := w.clock.Now().Sub(start)
	metrics.ObserveJob(string(status))
	metrics.ObserveJobDuration(string(status), elapsed)
	w.emit(progress.Event{
		JobID: item.JobID,
		TS:    w.clock.Now(),
		Stage: stageForStatus(status),
		Pages: int64(result.counters.PagesCrawled),
		Dur:   elapsed,
		Note:  errText,
	})
	w.logger.Info("job finished",
		zap.String("job_id", item.JobID),
		zap.String("status", string(status)),
		zap.Int("pages", result.counters.PagesCrawled),
		zap.Duration("elapsed", elapsed),
	)
}

func (w *Worker) normalizeOptions(opts crawler.JobOptions) crawler.JobOptions {
	if opts.MaxPages <= 0 {
		opts.MaxPages = w.cfg.DefaultMaxPages
	}
	if opts.MaxDepth <= 0 {
		opts.MaxDepth = w.cfg.DefaultMaxDepth
	}
	if opts.Delay <= 0 {
		opts.Delay = w.cfg.DefaultDelay
	}
	if opts.Timeout <= 0 {
		opts.Timeout = w.cfg.DefaultTimeout
	}
	return opts
}

type pipelineResult struct {
	counters crawler.JobCounters
}

// runPipeline executes crawl, extract, dedup, link resolution, and assembly
// for one job. The returned counters are valid even on error.
func (w *Worker) runPipeline(ctx context.Context, item crawler.QueueItem, opts crawler.JobOptions) (pipelineResult, error) {
	res := pipelineResult{}

	pages, crawlCounters, err := w.crawl(ctx, item, opts)
	res.counters = crawlCounters
	if err != nil {
		return res, err
	}
	if len(pages) == 0 {
		return res, errors.New("no pages were fetched")
	}

	if err := w.jobStore.UpdateJobStatus(ctx, item.JobID, crawler.JobStatusProcessing, "", res.counters); err != nil {
		w.logger.Error("update job status failed", zap.String("job_id", item.JobID), zap.Error(err))
	}

	w.emitStage(item.JobID, "dedup")
	dedupRes := w.deduper.Process(pages)
	res.counters.PagesDeduped = dedupRes.DuplicatePages
	res.counters.BlocksDropped = dedupRes.BlocksDropped
	metrics.ObserveBlocksDropped("boilerplate", dedupRes.BlocksDropped)

	w.emitStage(item.JobID, "links")
	anchors := links.Anchors(dedupRes.Pages)
	linkRes := links.Rewrite(dedupRes.Pages, anchors, crawler.Host(item.BaseURL))

	structure := buildStructure(pages, dedupRes, linkRes)

	w.emitStage(item.JobID, "assemble")
	out, err := w.assembler.Build(assemble.Input{
		JobID:       item.JobID,
		BaseURL:     item.BaseURL,
		Pages:       dedupRes.Pages,
		Anchors:     anchors,
		Structure:   structure,
		GeneratedAt: w.clock.Now(),
	})
	if err != nil {
		return res, fmt.Errorf("assemble artifact: %w", err)
	}

	uri, err := w.artifactStore.PutObject(ctx, out.FileName, assemble.ContentType, out.Content)
	if err != nil {
		return res, fmt.Errorf("store artifact: %w", err)
	}
	metrics.ObserveArtifactSize(int64(len(out.Content)))

	artifact := crawler.ArtifactInfo{
		URI:       uri,
		FileName:  out.FileName,
		SizeBytes: int64(len(out.Content)),
		Pages:     len(dedupRes.Pages),
		Words:     out.Words,
	}
	if err := w.jobStore.SetArtifact(ctx, item.JobID, artifact); err != nil {
		return res, fmt.Errorf("record artifact: %w", err)
	}
	if err := w.jobStore.SetStructure(ctx, item.JobID, structure); err != nil {
		return res, fmt.Errorf("record structure: %w", err)
	}
	return res, nil
}

// crawl walks the site breadth first with a bounded fetch pool. New links can
// only appear while a fetch is in flight, so the pool drains once the
// frontier is empty and nothing is outstanding.
func (w *Worker) crawl(ctx context.Context, item crawler.QueueItem, opts crawler.JobOptions) ([]crawler.Page, crawler.JobCounters, error) {
	fr, err := frontier.New(frontier.Config{
		BaseURL:         item.BaseURL,
		MaxPages:        opts.MaxPages,
		MaxDepth:        opts.MaxDepth,
		IncludePatterns: opts.IncludePatterns,
		ExcludePatterns: opts.ExcludePatterns,
		FollowExternal:  opts.FollowExternal,
	})
	if err != nil {
		return nil, crawler.JobCounters{}, fmt.Errorf("build frontier: %w", err)
	}
	limiter := ratelimit.New(opts.Delay)

	var (
		popMu    sync.Mutex
		pagesMu  sync.Mutex
		pages    []crawler.Page
		inflight atomic.Int64
		failed   atomic.Int64
		retries  atomic.Int64
	)
	pop := func() (frontier.Item, bool) {
		popMu.Lock()
		defer popMu.Unlock()
		it, ok := fr.Next()
		if ok {
			inflight.Add(1)
		}
		return it, ok
	}

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < w.cfg.FetchParallelism; i++ {
		g.Go(func() error {
			for {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				it, ok := pop()
				if !ok {
					if inflight.Load() > 0 {
						select {
						case <-gctx.Done():
							return gctx.Err()
						case <-time.After(25 * time.Millisecond):
						}
						continue
					}
					// Re-check: a finishing fetch enqueues links before
					// it decrements inflight.
					if it, ok = pop(); !ok {
						return nil
					}
				}

				page, err := w.crawlPage(gctx, item, opts, limiter, it, &retries)
				switch {
				case err == nil:
					pagesMu.Lock()
					pages = append(pages, page)
					pagesMu.Unlock()
					for _, link := range page.Links {
						fr.Enqueue(link, it.Depth+1)
					}
				case errors.Is(err, errSkipPage):
				case gctx.Err() != nil:
					inflight.Add(-1)
					return gctx.Err()
				default:
					failed.Add(1)
					w.emit(progress.Event{
						JobID: item.JobID,
						TS:    w.clock.Now(),
						Stage: progress.StagePageFailed,
						Site:  crawler.Host(it.URL),
						URL:   it.URL,
						Note:  err.Error(),
					})
					w.logger.Warn("page fetch failed", zap.String("job_id", item.JobID), zap.String("url", it.URL), zap.Error(err))
				}
				inflight.Add(-1)
			}
		})
	}
	err = g.Wait()

	// Pages arrive in completion order; restore breadth-first discovery
	// order for deterministic artifacts.
	sortPages(pages)

	counters := crawler.JobCounters{
		PagesDiscovered: fr.Discovered(),
		PagesCrawled:    len(pages),
		PagesFailed:     int(failed.Load()),
		Retries:         int(retries.Load()),
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		return pages, counters, err
	}
	if ctx.Err() != nil {
		return pages, counters, ctx.Err()
	}
	return pages, counters, nil
}

// crawlPage fetches one URL, promotes to headless when warranted, and
// extracts its content blocks.
func (w *Worker) crawlPage(
	ctx context.Context,
	item crawler.QueueItem,
	opts crawler.JobOptions,
	limiter *ratelimit.Limiter,
	it frontier.Item,
	retries *atomic.Int64,
) (crawler.Page, error) {
	if opts.RespectRobots && w.robots != nil && !w.robots.Allowed(ctx, it.URL) {
		metrics.ObserveRobotsDisallowed()
		w.logger.Debug("robots disallowed", zap.String("job_id", item.JobID), zap.String("url", it.URL))
		return crawler.Page{}, errSkipPage
	}
	if err := limiter.Wait(ctx, it.URL); err != nil {
		return crawler.Page{}, err
	}

	fetchCtx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()

	resp, err := w.fetchWithRetry(fetchCtx, retries, crawler.FetchRequest{
		JobID:         item.JobID,
		URL:           it.URL,
		Depth:         it.Depth,
		RespectRobots: opts.RespectRobots,
	})
	if err != nil {
		metrics.ObserveCrawl(it.URL, "error", 0)
		return crawler.Page{}, err
	}
	if resp.StatusCode >= 400 {
		metrics.ObserveCrawl(it.URL, "http_error", len(resp.Body))
		return crawler.Page{}, fmt.Errorf("http status %d", resp.StatusCode)
	}
	contentType := strings.ToLower(resp.Headers.Get("Content-Type"))
	if contentType != "" && !strings.Contains(contentType, "html") {
		w.logger.Debug("skipping non-html response",
			zap.String("job_id", item.JobID),
			zap.String("url", it.URL),
			zap.String("content_type", contentType),
		)
		return crawler.Page{}, errSkipPage
	}

	if promoted, ok := w.maybePromote(ctx, item, opts, it, resp); ok {
		resp = promoted
		w.logger.Info("headless promotion applied", zap.String("job_id", item.JobID), zap.String("url", it.URL))
	}

	hash, err := w.hasher.Hash(resp.Body)
	if err != nil {
		return crawler.Page{}, fmt.Errorf("hash body: %w", err)
	}

	page := crawler.Page{
		URL:          it.URL,
		Depth:        it.Depth,
		StatusCode:   resp.StatusCode,
		ContentType:  baseContentType(contentType),
		Body:         resp.Body,
		ContentHash:  hash,
		UsedHeadless: resp.UsedHeadless,
		FetchedAt:    w.clock.Now(),
		Duration:     resp.Duration,
	}
	if err := w.extractor.Extract(&page); err != nil {
		return crawler.Page{}, fmt.Errorf("extract content: %w", err)
	}

	metrics.ObserveCrawl(it.URL, "ok", len(resp.Body))
	w.emit(progress.Event{
		JobID:       item.JobID,
		TS:          w.clock.Now(),
		Stage:       progress.StagePageFetched,
		Site:        crawler.Host(it.URL),
		URL:         it.URL,
		Bytes:       int64(len(resp.Body)),
		Pages:       1,
		StatusClass: progress.ClassifyStatus(resp.StatusCode),
		Dur:         resp.Duration,
	})
	return page, nil
}

func (w *Worker) fetchWithRetry(ctx context.Context, retries *atomic.Int64, req crawler.FetchRequest) (crawler.FetchResponse, error) {
	var lastErr error
	for attempt := 0; ; attempt++ {
		resp, err := w.probeFetcher.Fetch(ctx, req)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		if w.retry == nil || !w.retry.ShouldRetry(err, attempt) {
			break
		}
		retries.Add(1)
		metrics.ObserveFetchRetry()
		select {
		case <-ctx.Done():
			return crawler.FetchResponse{}, ctx.Err()
		case <-time.After(w.retry.Backoff(attempt)):
		}
	}
	return crawler.FetchResponse{}, lastErr
}

func (w *Worker) maybePromote(
	ctx context.Context,
	item crawler.QueueItem,
	opts crawler.JobOptions,
	it frontier.Item,
	resp crawler.FetchResponse,
) (crawler.FetchResponse, bool) {
	if !opts.HeadlessAllowed || w.detector == nil || w.headlessFetcher == nil {
		return resp, false
	}
	if !w.detector.ShouldPromote(resp) {
		return resp, false
	}

	headlessCtx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()

	headlessResp, err := w.headlessFetcher.Fetch(headlessCtx, crawler.FetchRequest{
		JobID:         item.JobID,
		URL:           it.URL,
		Depth:         it.Depth,
		UseHeadless:   true,
		RespectRobots: opts.RespectRobots,
	})
	if err != nil {
		w.logger.Warn("headless promotion failed", zap.String("job_id", item.JobID), zap.String("url", it.URL), zap.Error(err))
		return resp, false
	}
	metrics.ObserveHeadlessPromotion()
	headlessResp.UsedHeadless = true
	return headlessResp, true
}

func (w *Worker) deriveFinalStatus(ctx context.Context, counters crawler.JobCounters, err error) (crawler.JobStatus, string) {
	errText := ""
	if err != nil {
		errText = err.Error()
	}
	switch {
	case ctx.Err() != nil:
		return crawler.JobStatusCanceled, errText
	case err != nil:
		return crawler.JobStatusFailed, errText
	case counters.PagesCrawled == 0:
		return crawler.JobStatusFailed, "no pages were fetched"
	default:
		return crawler.JobStatusCompleted, errText
	}
}

func (w *Worker) emit(evt progress.Event) {
	if w.emitter == nil {
		return
	}
	w.emitter.Emit(evt)
}

func (w *Worker) emitStage(jobID, stage string) {
	w.emit(progress.Event{JobID: jobID, TS: w.clock.Now(), Stage: progress.StagePipeline, Note: stage})
}

func stageForStatus(status crawler.JobStatus) progress.Stage {
	switch status {
	case crawler.JobStatusCompleted:
		return progress.StageJobDone
	case crawler.JobStatusCanceled:
		return progress.StageJobCanceled
	default:
		return progress.StageJobError
	}
}

func buildStructure(all []crawler.Page, dedupRes dedup.Result, linkRes links.Result) crawler.SiteStructure {
	structure := crawler.SiteStructure{
		TotalPages:        len(all),
		UniquePages:       len(dedupRes.Pages),
		DuplicatePages:    dedupRes.DuplicatePages,
		ExternalLinks:     linkRes.ExternalLinks,
		BrokenLinks:       linkRes.BrokenLinks,
		ContentTypes:      make(map[string]int),
		DepthDistribution: make(map[int]int),
	}
	totalBytes := 0
	for _, page := range all {
		totalBytes += len(page.Body)
		ct := page.ContentType
		if ct == "" {
			ct = "unknown"
		}
		structure.ContentTypes[ct]++
		structure.DepthDistribution[page.Depth]++
	}
	if len(all) > 0 {
		structure.AveragePageSize = float64(totalBytes) / float64(len(all))
	}
	return structure
}

func baseContentType(contentType string) string {
	if idx := strings.Index(contentType, ";"); idx >= 0 {
		contentType = contentType[:idx]
	}
	return strings.TrimSpace(contentType)
}

func sortPages(pages []crawler.Page) {
	sort.Slice(pages, func(i, j int) bool {
		if pages[i].Depth != pages[j].Depth {
			return pages[i].Depth < pages[j].Depth
		}
		return pages[i].URL < pages[j].URL
	})
}
