package cmd

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/docpress/docpress/internal/assemble"
	"github.com/docpress/docpress/internal/clock/system"
	"github.com/docpress/docpress/internal/config"
	"github.com/docpress/docpress/internal/crawler"
	"github.com/docpress/docpress/internal/dedup"
	"github.com/docpress/docpress/internal/detector"
	"github.com/docpress/docpress/internal/dispatcher"
	"github.com/docpress/docpress/internal/extract"
	collyfetcher "github.com/docpress/docpress/internal/fetcher/colly"
	headlessfetcher "github.com/docpress/docpress/internal/fetcher/headless"
	"github.com/docpress/docpress/internal/hash/sha256"
	"github.com/docpress/docpress/internal/id/uuid"
	"github.com/docpress/docpress/internal/metrics"
	"github.com/docpress/docpress/internal/progress"
	"github.com/docpress/docpress/internal/progress/sinks"
	queueMemory "github.com/docpress/docpress/internal/queue/memory"
	storageLocal "github.com/docpress/docpress/internal/storage/local"
	storageMemory "github.com/docpress/docpress/internal/storage/memory"
	storageSqlite "github.com/docpress/docpress/internal/storage/sqlite"
	"github.com/docpress/docpress/internal/worker"
)

// app bundles the long-lived service components shared by the serve and
// crawl commands.
type app struct {
	cfg       config.Config
	logger    *zap.Logger
	jobStore  crawler.JobStore
	artifacts crawler.ArtifactStore
	queue     *queueMemory.Queue
	canceler  *crawler.CancelRegistry
	hub       *progress.Hub
	dispatch  *dispatcher.Dispatcher
	idGen     crawler.IDGenerator
	clock     crawler.Clock

	headless *headlessfetcher.Fetcher
	sqlite   *storageSqlite.JobStore
}

func buildApp(cfg config.Config, logger *zap.Logger) (*app, error) {
	metrics.Init()

	a := &app{
		cfg:      cfg,
		logger:   logger,
		queue:    queueMemory.NewQueue(cfg.Crawler.GlobalQueueDepth),
		canceler: crawler.NewCancelRegistry(),
		idGen:    uuid.NewGenerator(),
		clock:    system.NewClock(),
	}

	switch cfg.DB.Backend {
	case "sqlite":
		store, err := storageSqlite.Open(cfg.DB.Path, a.clock)
		if err != nil {
			return nil, fmt.Errorf("open sqlite job store: %w", err)
		}
		a.sqlite = store
		a.jobStore = store
	default:
		a.jobStore = storageMemory.NewJobStore(a.clock)
	}

	switch cfg.Storage.Backend {
	case "local":
		store, err := storageLocal.New(storageLocal.Config{BaseDir: cfg.Storage.Dir})
		if err != nil {
			return nil, fmt.Errorf("init artifact store: %w", err)
		}
		a.artifacts = store
	default:
		a.artifacts = storageMemory.NewArtifactStore()
	}

	promSink, err := sinks.NewPrometheusSink(nil)
	if err != nil {
		return nil, fmt.Errorf("init prometheus sink: %w", err)
	}
	a.hub = progress.NewHub(
		progress.Config{Logger: logger.Named("progress")},
		sinks.NewLogSink(logger.Named("progress")),
		promSink,
	)

	probeFetcher := collyfetcher.New(collyfetcher.Config{
		UserAgent: cfg.Crawler.UserAgent,
		Timeout:   cfg.FetchTimeout(),
	})
	var headless crawler.Fetcher
	if cfg.Headless.Enabled {
		hf, err := headlessfetcher.NewChromedp(headlessfetcher.Config{
			MaxParallel:       cfg.Headless.MaxParallel,
			UserAgent:         cfg.Crawler.UserAgent,
			NavigationTimeout: cfg.FetchTimeout(),
		})
		if err != nil {
			logger.Warn("headless fetcher init failed", zap.Error(err))
		} else {
			a.headless = hf
			headless = hf
		}
	}

	detect := detector.NewHeuristic(cfg.Headless.MinBodyBytes, detector.DefaultSelectors, detector.DefaultKeywords)
	robots := crawler.NewRobotsEnforcer(!cfg.Crawler.IgnoreRobots, cfg.Crawler.UserAgent, logger.Named("robots"))
	extractor := extract.New(extract.Config{
		MainSelectors:  cfg.Extract.MainSelectors,
		StripSelectors: cfg.Extract.StripSelectors,
		MinTextChars:   cfg.Extract.MinTextChars,
	})
	deduper := dedup.New(dedup.Config{
		BoilerplateRatio:    cfg.Dedup.BoilerplateRatio,
		BoilerplateMinPages: cfg.Dedup.BoilerplateMin,
		PageSimilarity:      cfg.Dedup.PageSimilarity,
		ShingleSize:         cfg.Dedup.ShingleSize,
	})
	assembler := assemble.New(assemble.Config{
		FilePrefix: cfg.Output.FilePrefix,
		Title:      cfg.Output.Title,
	})

	workerCfg := worker.Config{
		FetchParallelism: cfg.Crawler.FetchParallelism,
		DefaultMaxPages:  cfg.Crawler.MaxPagesDefault,
		DefaultMaxDepth:  cfg.Crawler.MaxDepthDefault,
		DefaultDelay:     cfg.CrawlDelay(),
		DefaultTimeout:   cfg.FetchTimeout(),
	}
	var workers []*worker.Worker
	for i := 0; i < cfg.Crawler.Concurrency; i++ {
		workers = append(workers, worker.New(worker.Deps{
			Queue:           a.queue,
			JobStore:        a.jobStore,
			ArtifactStore:   a.artifacts,
			Hasher:          sha256.NewHasher(),
			Clock:           a.clock,
			ProbeFetcher:    probeFetcher,
			HeadlessFetcher: headless,
			Detector:        detect,
			Robots:          robots,
			Retry:           crawler.NewExponentialRetryPolicy(),
			Canceler:        a.canceler,
			Extractor:       extractor,
			Deduper:         deduper,
			Assembler:       assembler,
			Emitter:         a.hub,
			Logger:          logger.Named("worker").With(zap.Int("index", i)),
		}, workerCfg))
	}
	a.dispatch = dispatcher.New(a.queue, workers, logger.Named("dispatcher"))
	return a, nil
}

func (a *app) close(ctx context.Context) {
	a.queue.Close()
	if err := a.hub.Close(ctx); err != nil {
		a.logger.Warn("progress hub close failed", zap.Error(err))
	}
	if a.headless != nil {
		a.headless.Close()
	}
	if a.sqlite != nil {
		if err := a.sqlite.Close(); err != nil {
			a.logger.Warn("sqlite close failed", zap.Error(err))
		}
	}
}
