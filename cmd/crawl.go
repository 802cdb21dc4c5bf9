package cmd

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/docpress/docpress/internal/crawler"
)

type crawlFlags struct {
	maxPages       int
	maxDepth       int
	include        []string
	exclude        []string
	headless       bool
	followExternal bool
	ignoreRobots   bool
	outputDir      string
}

func newCrawlCmd() *cobra.Command {
	flags := &crawlFlags{}
	cmd := &cobra.Command{
		Use:   "crawl <base-url>",
		Short: "Crawls a documentation site and writes the markdown artifact",
		Long: `Runs a single conversion job to completion without starting the HTTP
service. The assembled markdown artifact is written to the configured
storage directory.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCrawlCommand(cmd, args[0], flags)
		},
	}
	cmd.Flags().IntVar(&flags.maxPages, "max-pages", 0, "page budget (0 uses the configured default)")
	cmd.Flags().IntVar(&flags.maxDepth, "max-depth", 0, "link depth limit (0 uses the configured default)")
	cmd.Flags().StringSliceVar(&flags.include, "include", nil, "regex patterns a URL path must match")
	cmd.Flags().StringSliceVar(&flags.exclude, "exclude", nil, "regex patterns that exclude URL paths")
	cmd.Flags().BoolVar(&flags.headless, "headless", false, "allow headless browser promotion")
	cmd.Flags().BoolVar(&flags.followExternal, "follow-external", false, "follow links off the base host")
	cmd.Flags().BoolVar(&flags.ignoreRobots, "ignore-robots", false, "skip robots.txt checks")
	cmd.Flags().StringVar(&flags.outputDir, "out", "", "artifact output directory (overrides storage.dir)")
	return cmd
}

func runCrawlCommand(cmd *cobra.Command, rawURL string, flags *crawlFlags) error {
	cfg, logger, err := loadConfigAndLogger()
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	baseURL, err := crawler.NormalizeURL(rawURL)
	if err != nil {
		return fmt.Errorf("invalid base url: %w", err)
	}
	if flags.outputDir != "" {
		cfg.Storage.Backend = "local"
		cfg.Storage.Dir = flags.outputDir
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := buildApp(cfg, logger)
	if err != nil {
		return err
	}

	runCtx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()
	go a.dispatch.Run(runCtx)

	jobID, err := a.idGen.NewID()
	if err != nil {
		return fmt.Errorf("generate job id: %w", err)
	}
	opts := crawler.JobOptions{
		MaxPages:        flags.maxPages,
		MaxDepth:        flags.maxDepth,
		IncludePatterns: flags.include,
		ExcludePatterns: flags.exclude,
		RespectRobots:   !flags.ignoreRobots && !cfg.Crawler.IgnoreRobots,
		FollowExternal:  flags.followExternal,
		HeadlessAllowed: flags.headless || cfg.Headless.Enabled,
	}
	now := a.clock.Now()
	if err := a.jobStore.CreateJob(ctx, crawler.Job{
		ID:        jobID,
		BaseURL:   baseURL,
		Status:    crawler.JobStatusPending,
		Submitted: now,
		Options:   opts,
	}); err != nil {
		return fmt.Errorf("create job: %w", err)
	}
	if err := a.dispatch.Enqueue(ctx, crawler.QueueItem{
		JobID:     jobID,
		BaseURL:   baseURL,
		Options:   opts,
		Submitted: now.Unix(),
	}); err != nil {
		return err
	}
	logger.Info("crawl started", zap.String("job_id", jobID), zap.String("base_url", baseURL))

	job, err := waitForJob(ctx, a, jobID)

	cancelRun()
	closeCtx, cancelClose := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelClose()
	a.close(closeCtx)

	if err != nil {
		return err
	}
	if job.Status != crawler.JobStatusCompleted {
		return fmt.Errorf("job %s: %s", job.Status, job.ErrorText)
	}
	cmd.Printf("artifact: %s (%d pages, %d words)\n", job.Artifact.URI, job.Artifact.Pages, job.Artifact.Words)
	return nil
}

func waitForJob(ctx context.Context, a *app, jobID string) (crawler.Job, error) {
	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			// Give the worker a moment to record the canceled status.
			a.canceler.Cancel(jobID)
			time.Sleep(time.Second)
			job, err := a.jobStore.GetJob(context.Background(), jobID)
			if err != nil {
				return crawler.Job{}, errors.New("crawl interrupted")
			}
			return job, nil
		case <-ticker.C:
			job, err := a.jobStore.GetJob(ctx, jobID)
			if err != nil {
				return crawler.Job{}, fmt.Errorf("poll job: %w", err)
			}
			if job.Status.IsTerminal() {
				return job, nil
			}
		}
	}
}
