// Package memory provides in-memory storage for development and tests.
package memory

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/docpress/docpress/internal/clock/system"
	"github.com/docpress/docpress/internal/crawler"
)

// JobStore provides an in-memory implementation for development/testing.
type JobStore struct {
	mu         sync.RWMutex
	clock      crawler.Clock
	jobs       map[string]crawler.Job
	structures map[string]crawler.SiteStructure
}

// NewJobStore constructs a JobStore. A nil clock falls back to wall time.
func NewJobStore(clk crawler.Clock) *JobStore {
	if clk == nil {
		clk = system.NewClock()
	}
	return &JobStore{
		clock:      clk,
		jobs:       make(map[string]crawler.Job),
		structures: make(map[string]crawler.SiteStructure),
	}
}

// CreateJob stores a new job in pending status.
func (s *JobStore) CreateJob(_ context.Context, job crawler.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[job.ID]; exists {
		return errors.New("job already exists")
	}
	s.jobs[job.ID] = job
	return nil
}

// UpdateJobStatus updates the status and counters for a job. Jobs already in
// a terminal status stay there; a late transition, like a worker picking up a
// queue item for a job canceled while pending, is silently dropped.
func (s *JobStore) UpdateJobStatus(
	_ context.Context,
	jobID string,
	status crawler.JobStatus,
	errText string,
	counters crawler.JobCounters,
) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return crawler.ErrJobNotFound
	}
	if job.Status.IsTerminal() {
		return nil
	}
	job.Status = status
	job.ErrorText = errText
	job.Counters = job.Counters.Merge(counters)
	now := s.clock.Now().UTC()
	if status == crawler.JobStatusCrawling && job.Started == nil {
		job.Started = pointerTime(now)
	}
	if status.IsTerminal() && job.Finished == nil {
		job.Finished = pointerTime(now)
	}
	s.jobs[jobID] = job
	return nil
}

// SetArtifact records the generated artifact for a job.
func (s *JobStore) SetArtifact(_ context.Context, jobID string, artifact crawler.ArtifactInfo) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return crawler.ErrJobNotFound
	}
	job.Artifact = &artifact
	s.jobs[jobID] = job
	return nil
}

// SetStructure records the site structure summary for a job.
func (s *JobStore) SetStructure(_ context.Context, jobID string, structure crawler.SiteStructure) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[jobID]; !ok {
		return crawler.ErrJobNotFound
	}
	s.structures[jobID] = structure
	return nil
}

// GetJob fetches a job by ID.
func (s *JobStore) GetJob(_ context.Context, jobID string) (crawler.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return crawler.Job{}, crawler.ErrJobNotFound
	}
	return job, nil
}

// GetStructure fetches the site structure summary for a job.
func (s *JobStore) GetStructure(_ context.Context, jobID string) (crawler.SiteStructure, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	structure, ok := s.structures[jobID]
	if !ok {
		return crawler.SiteStructure{}, crawler.ErrJobNotFound
	}
	return structure, nil
}

// ListJobs returns all jobs ordered by submission time, newest first.
func (s *JobStore) ListJobs(_ context.Context) ([]crawler.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]crawler.Job, 0, len(s.jobs))
	for _, job := range s.jobs {
		out = append(out, job)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Submitted.After(out[j].Submitted)
	})
	return out, nil
}

func pointerTime(t time.Time) *time.Time {
	ts := t
	return &ts
}
