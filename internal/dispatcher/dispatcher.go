// Package dispatcher fans queue items out to a pool of workers.
package dispatcher

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/docpress/docpress/internal/crawler"
	"github.com/docpress/docpress/internal/worker"
)

// Dispatcher owns the worker pool lifecycle and the submission path into the
// job queue.
type Dispatcher struct {
	queue   crawler.Queue
	workers []*worker.Worker
	logger  *zap.Logger
}

// New constructs a Dispatcher over the given queue and workers.
func New(queue crawler.Queue, workers []*worker.Worker, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{queue: queue, workers: workers, logger: logger}
}

// Run starts every worker and blocks until the context finishes and all
// workers have drained.
func (d *Dispatcher) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for i, w := range d.workers {
		wg.Add(1)
		go func(idx int, w *worker.Worker) {
			defer wg.Done()
			d.logger.Debug("worker started", zap.Int("worker", idx))
			w.Run(ctx)
			d.logger.Debug("worker stopped", zap.Int("worker", idx))
		}(i, w)
	}
	<-ctx.Done()
	wg.Wait()
}

// Enqueue submits a job for processing.
func (d *Dispatcher) Enqueue(ctx context.Context, item crawler.QueueItem) error {
	if err := d.queue.Enqueue(ctx, item); err != nil {
		return fmt.Errorf("enqueue job %s: %w", item.JobID, err)
	}
	return nil
}
