package crawler

import (
	"context"
	"sync"
)

// CancelRegistry is the default Canceler backed by a mutex-guarded map.
type CancelRegistry struct {
	mu      sync.Mutex
	cancels map[string]context.CancelFunc
}

// NewCancelRegistry constructs an empty registry.
func NewCancelRegistry() *CancelRegistry {
	return &CancelRegistry{cancels: make(map[string]context.CancelFunc)}
}

// Register stores the cancel hook for a running job, replacing any prior one.
func (r *CancelRegistry) Register(jobID string, cancel context.CancelFunc) {
	if jobID == "" || cancel == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cancels[jobID] = cancel
}

// Cancel fires the hook for jobID and reports whether one was registered.
func (r *CancelRegistry) Cancel(jobID string) bool {
	r.mu.Lock()
	cancel, ok := r.cancels[jobID]
	delete(r.cancels, jobID)
	r.mu.Unlock()
	if ok {
		cancel()
	}
	return ok
}

// Remove drops the hook without firing it; workers call this on job exit.
func (r *CancelRegistry) Remove(jobID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.cancels, jobID)
}
