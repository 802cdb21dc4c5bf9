// Package api exposes the HTTP interface for the docpress service.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/docpress/docpress/internal/assemble"
	"github.com/docpress/docpress/internal/config"
	"github.com/docpress/docpress/internal/crawler"
	"github.com/docpress/docpress/internal/dispatcher"
	"github.com/docpress/docpress/internal/metrics"
)

// Server wires HTTP handlers to the dispatcher and stores.
type Server struct {
	router        chi.Router
	jobStore      crawler.JobStore
	artifactStore crawler.ArtifactStore
	dispatcher    *dispatcher.Dispatcher
	canceler      crawler.Canceler
	idGen         crawler.IDGenerator
	clock         crawler.Clock
	cfg           config.Config
	logger        *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(
	jobStore crawler.JobStore,
	artifactStore crawler.ArtifactStore,
	dispatcher *dispatcher.Dispatcher,
	canceler crawler.Canceler,
	idGen crawler.IDGenerator,
	clock crawler.Clock,
	cfg config.Config,
	logger *zap.Logger,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		jobStore:      jobStore,
		artifactStore: artifactStore,
		dispatcher:    dispatcher,
		canceler:      canceler,
		idGen:         idGen,
		clock:         clock,
		cfg:           cfg,
		logger:        logger,
	}
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	r.Use(timeoutMiddleware(60 * time.Second))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		if cfg.Auth.Enabled {
			r.Use(apiKeyMiddleware(cfg.Auth.APIKey))
		}
		r.Route("/jobs", func(r chi.Router) {
			r.Post("/", s.submitJob)
			r.Get("/", s.listJobs)
			r.Route("/{job_id}", func(r chi.Router) {
				r.Get("/status", s.getJobStatus)
				r.Get("/result", s.getJobResult)
				r.Get("/download", s.downloadArtifact)
				r.Post("/cancel", s.cancelJob)
			})
		})
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	if _, err := s.jobStore.ListJobs(r.Context()); err != nil {
		s.writeError(w, http.StatusServiceUnavailable, "job store unavailable")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

type submitJobRequest struct {
	BaseURL         string   `json:"base_url"`
	MaxPages        *int     `json:"max_pages"`
	MaxDepth        *int     `json:"max_depth"`
	IncludePatterns []string `json:"include_patterns"`
	ExcludePatterns []string `json:"exclude_patterns"`
	RespectRobots   *bool    `json:"respect_robots"`
	DelaySeconds    *float64 `json:"delay_seconds"`
	TimeoutSeconds  *int     `json:"timeout_seconds"`
	FollowExternal  *bool    `json:"follow_external"`
	HeadlessAllowed *bool    `json:"headless_allowed"`
}

func (s *Server) submitJob(w http.ResponseWriter, r *http.Request) {
	var req submitJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	baseURL, err := crawler.NormalizeURL(req.BaseURL)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid base_url: %v", err))
		return
	}
	opts := s.toJobOptions(req)
	jobID, err := s.enqueueJob(r.Context(), baseURL, opts)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, context.DeadlineExceeded) {
			status = http.StatusServiceUnavailable
		}
		s.writeError(w, status, err.Error())
		return
	}
	s.writeJSON(w, http.StatusAccepted, map[string]string{
		"job_id": jobID,
		"status": string(crawler.JobStatusPending),
	})
}

func (s *Server) listJobs(w http.ResponseWriter, r *http.Request) {
	jobs, err := s.jobStore.ListJobs(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "failed to list jobs")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"jobs": jobs})
}

func (s *Server) getJobStatus(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	job, err := s.jobStore.GetJob(r.Context(), jobID)
	if err != nil {
		s.writeError(w, http.StatusNotFound, "job not found")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"job": job})
}

func (s *Server) getJobResult(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	job, err := s.jobStore.GetJob(r.Context(), jobID)
	if err != nil {
		s.writeError(w, http.StatusNotFound, "job not found")
		return
	}
	result := crawler.JobResult{Job: job}
	if structure, err := s.jobStore.GetStructure(r.Context(), jobID); err == nil {
		result.Structure = &structure
	}
	s.writeJSON(w, http.StatusOK, result)
}

func (s *Server) downloadArtifact(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	job, err := s.jobStore.GetJob(r.Context(), jobID)
	if err != nil {
		s.writeError(w, http.StatusNotFound, "job not found")
		return
	}
	if job.Artifact == nil {
		s.writeError(w, http.StatusConflict, "artifact not ready")
		return
	}
	data, err := s.artifactStore.GetObject(r.Context(), job.Artifact.FileName)
	if err != nil {
		s.writeError(w, http.StatusNotFound, "artifact not found")
		return
	}
	w.Header().Set("Content-Type", assemble.ContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", job.Artifact.FileName))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(data); err != nil {
		s.logger.Error("artifact write failed", zap.String("job_id", jobID), zap.Error(err))
	}
}

func (s *Server) cancelJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	job, err := s.jobStore.GetJob(r.Context(), jobID)
	if err != nil {
		s.writeError(w, http.StatusNotFound, "job not found")
		return
	}
	if job.Status.IsTerminal() {
		s.writeError(w, http.StatusConflict, fmt.Sprintf("job already %s", job.Status))
		return
	}
	// A running job gets canceled through its context; a pending job never
	// registered a cancel func and is finalized directly.
	if !s.canceler.Cancel(jobID) {
		if err := s.jobStore.UpdateJobStatus(
			r.Context(),
			jobID,
			crawler.JobStatusCanceled,
			"canceled via api",
			crawler.JobCounters{},
		); err != nil {
			s.writeError(w, http.StatusInternalServerError, "failed to cancel job")
			return
		}
	}
	s.writeJSON(w, http.StatusAccepted, map[string]string{
		"job_id": jobID,
		"status": string(crawler.JobStatusCanceled),
	})
}

func (s *Server) enqueueJob(ctx context.Context, baseURL string, opts crawler.JobOptions) (string, error) {
	jobID, err := s.idGen.NewID()
	if err != nil {
		return "", fmt.Errorf("generate job id: %w", err)
	}
	now := s.clock.Now()
	job := crawler.Job{
		ID:        jobID,
		BaseURL:   baseURL,
		Status:    crawler.JobStatusPending,
		Submitted: now,
		Options:   opts,
	}
	if err := s.jobStore.CreateJob(ctx, job); err != nil {
		return "", fmt.Errorf("create job: %w", err)
	}
	queueCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	item := crawler.QueueItem{
		JobID:     jobID,
		BaseURL:   baseURL,
		Options:   opts,
		Submitted: now.Unix(),
	}
	if err := s.dispatcher.Enqueue(queueCtx, item); err != nil {
		return "", fmt.Errorf("enqueue job: %w", err)
	}
	return jobID, nil
}

func (s *Server) toJobOptions(req submitJobRequest) crawler.JobOptions {
	opts := crawler.JobOptions{
		MaxPages:        valueOrDefault(req.MaxPages, s.cfg.Crawler.MaxPagesDefault),
		MaxDepth:        valueOrDefault(req.MaxDepth, s.cfg.Crawler.MaxDepthDefault),
		IncludePatterns: req.IncludePatterns,
		ExcludePatterns: req.ExcludePatterns,
		RespectRobots:   valueOrDefault(req.RespectRobots, !s.cfg.Crawler.IgnoreRobots),
		FollowExternal:  valueOrDefault(req.FollowExternal, false),
		HeadlessAllowed: valueOrDefault(req.HeadlessAllowed, s.cfg.Headless.Enabled),
	}
	if req.DelaySeconds != nil {
		opts.Delay = time.Duration(*req.DelaySeconds * float64(time.Second))
	} else {
		opts.Delay = s.cfg.CrawlDelay()
	}
	if req.TimeoutSeconds != nil {
		opts.Timeout = time.Duration(*req.TimeoutSeconds) * time.Second
	} else {
		opts.Timeout = s.cfg.FetchTimeout()
	}
	return opts
}

func valueOrDefault[T any](ptr *T, def T) T {
	if ptr == nil {
		return def
	}
	return *ptr
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("write JSON failed", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}

type requestIDKey struct{}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := uuid.NewString()
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func loggingMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(ww, r)
			elapsed := time.Since(start)

			route := r.URL.Path
			if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
				route = rctx.RoutePattern()
			}
			metrics.ObserveHTTPRequest(r.Method, route, ww.status, elapsed)
			logger.Info("request completed",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.status),
				zap.Duration("duration", elapsed),
			)
		})
	}
}

func recoverMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error("panic recovered", zap.Any("error", rec))
					w.Header().Set("Content-Type", "application/json")
					w.WriteHeader(http.StatusInternalServerError)
					_, _ = w.Write([]byte(`{"error":"internal server error"}`))
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
	}
}

func apiKeyMiddleware(expected string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get("X-API-Key")
			if key == "" {
				key = r.URL.Query().Get("api_key")
			}
			if key != expected {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusForbidden)
				_, _ = w.Write([]byte(`{"error":"unauthorized"}`))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}
