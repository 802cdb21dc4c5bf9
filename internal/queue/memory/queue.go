// Package memory provides the in-process job queue the service runs on.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/docpress/docpress/internal/crawler"
)

// ErrClosed is returned once the queue has shut down.
var ErrClosed = errors.New("job queue closed")

// Queue is a bounded FIFO of crawl jobs. Submissions block when the queue is
// full, which backpressures the API instead of accepting unbounded work.
type Queue struct {
	mu     sync.RWMutex
	items  chan crawler.QueueItem
	closed bool
}

// NewQueue constructs a queue holding at most capacity pending jobs.
func NewQueue(capacity int) *Queue {
	if capacity <= 0 {
		capacity = 1
	}
	return &Queue{items: make(chan crawler.QueueItem, capacity)}
}

// Enqueue submits a job, waiting for space until the context ends. After
// Close it fails with ErrClosed instead of accepting work no worker will see.
func (q *Queue) Enqueue(ctx context.Context, item crawler.QueueItem) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return ErrClosed
	}
	select {
	case q.items <- item:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("enqueue wait: %w", ctx.Err())
	}
}

// Dequeue returns the next job. Jobs already queued remain deliverable after
// Close; once drained, Dequeue fails with ErrClosed.
func (q *Queue) Dequeue(ctx context.Context) (crawler.QueueItem, error) {
	select {
	case item, ok := <-q.items:
		if !ok {
			return crawler.QueueItem{}, ErrClosed
		}
		return item, nil
	case <-ctx.Done():
		return crawler.QueueItem{}, fmt.Errorf("dequeue wait: %w", ctx.Err())
	}
}

// Close rejects further submissions. It waits for in-flight Enqueue calls to
// finish and is safe to call more than once.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	close(q.items)
}
