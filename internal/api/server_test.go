package api

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/docpress/docpress/internal/assemble"
	"github.com/docpress/docpress/internal/config"
	"github.com/docpress/docpress/internal/crawler"
	"github.com/docpress/docpress/internal/dispatcher"
	"github.com/docpress/docpress/internal/metrics"
	queueMemory "github.com/docpress/docpress/internal/queue/memory"
	storageMemory "github.com/docpress/docpress/internal/storage/memory"
)

type fakeIDGen struct {
	mu  sync.Mutex
	ids []string
}

func (f *fakeIDGen) NewID() (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.ids) == 0 {
		return "id-default", nil
	}
	id := f.ids[0]
	f.ids = f.ids[1:]
	return id, nil
}

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	return c.now
}

type serverFixture struct {
	server    *Server
	jobStore  *storageMemory.JobStore
	artifacts *storageMemory.ArtifactStore
	queue     *queueMemory.Queue
	canceler  *crawler.CancelRegistry
}

func testConfig() config.Config {
	return config.Config{
		Crawler: config.CrawlerConfig{
			MaxDepthDefault: 5,
			MaxPagesDefault: 100,
		},
		HTTP: config.HTTPConfig{
			TimeoutSeconds: 30,
		},
		Logging: config.LoggingConfig{Development: true},
	}
}

func newServerFixture(cfg config.Config, ids ...string) *serverFixture {
	metrics.Init()
	f := &serverFixture{
		jobStore:  storageMemory.NewJobStore(nil),
		artifacts: storageMemory.NewArtifactStore(),
		queue:     queueMemory.NewQueue(10),
		canceler:  crawler.NewCancelRegistry(),
	}
	f.server = NewServer(
		f.jobStore,
		f.artifacts,
		dispatcher.New(f.queue, nil, nil),
		f.canceler,
		&fakeIDGen{ids: ids},
		&fakeClock{now: time.Unix(100, 0).UTC()},
		cfg,
		zap.NewNop(),
	)
	return f
}

func TestServer_SubmitJob_Succeeds(t *testing.T) {
	t.Parallel()

	f := newServerFixture(testConfig(), "job-submit")

	reqBody := []byte(`{"base_url":"https://docs.example.com","max_pages":25}`)
	req := httptest.NewRequest(http.MethodPost, "/v1/jobs", bytes.NewReader(reqBody))
	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusAccepted, rec.Code)
	require.Contains(t, rec.Body.String(), "job-submit")

	item, err := f.queue.Dequeue(context.Background())
	require.NoError(t, err)
	require.Equal(t, "job-submit", item.JobID)
	require.Equal(t, "https://docs.example.com", item.BaseURL)
	require.Equal(t, 25, item.Options.MaxPages)
	require.Equal(t, 5, item.Options.MaxDepth)

	job, err := f.jobStore.GetJob(context.Background(), "job-submit")
	require.NoError(t, err)
	require.Equal(t, crawler.JobStatusPending, job.Status)
}

func TestServer_SubmitJob_InvalidJSON(t *testing.T) {
	t.Parallel()

	f := newServerFixture(testConfig())
	req := httptest.NewRequest(http.MethodPost, "/v1/jobs", bytes.NewBufferString("{invalid"))
	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServer_SubmitJob_InvalidBaseURL(t *testing.T) {
	t.Parallel()

	f := newServerFixture(testConfig())
	req := httptest.NewRequest(http.MethodPost, "/v1/jobs", bytes.NewBufferString(`{"base_url":"ftp://example.com"}`))
	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Contains(t, rec.Body.String(), "base_url")
}

func TestServer_ListJobs(t *testing.T) {
	t.Parallel()

	f := newServerFixture(testConfig())
	require.NoError(t, f.jobStore.CreateJob(context.Background(), crawler.Job{
		ID: "job-a", BaseURL: "https://docs.example.com", Status: crawler.JobStatusCompleted,
	}))

	req := httptest.NewRequest(http.MethodGet, "/v1/jobs", nil)
	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "job-a")
}

func TestServer_GetJobStatus(t *testing.T) {
	t.Parallel()

	f := newServerFixture(testConfig())
	require.NoError(t, f.jobStore.CreateJob(context.Background(), crawler.Job{
		ID: "job-status", Status: crawler.JobStatusCompleted,
	}))

	req := httptest.NewRequest(http.MethodGet, "/v1/jobs/job-status/status", nil)
	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "completed")

	req = httptest.NewRequest(http.MethodGet, "/v1/jobs/missing/status", nil)
	rec = httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServer_GetJobResult_IncludesStructure(t *testing.T) {
	t.Parallel()

	f := newServerFixture(testConfig())
	ctx := context.Background()
	require.NoError(t, f.jobStore.CreateJob(ctx, crawler.Job{
		ID: "job-result", Status: crawler.JobStatusCompleted,
	}))
	require.NoError(t, f.jobStore.SetStructure(ctx, "job-result", crawler.SiteStructure{
		TotalPages: 7, UniquePages: 6, DuplicatePages: 1,
	}))

	req := httptest.NewRequest(http.MethodGet, "/v1/jobs/job-result/result", nil)
	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "site_structure")
	require.Contains(t, rec.Body.String(), `"total_pages":7`)
}

func TestServer_DownloadArtifact(t *testing.T) {
	t.Parallel()

	f := newServerFixture(testConfig())
	ctx := context.Background()
	_, err := f.artifacts.PutObject(ctx, "docpress_docs_example_com.md", assemble.ContentType, []byte("# Example Docs\n"))
	require.NoError(t, err)
	require.NoError(t, f.jobStore.CreateJob(ctx, crawler.Job{
		ID: "job-dl", Status: crawler.JobStatusCompleted,
	}))
	require.NoError(t, f.jobStore.SetArtifact(ctx, "job-dl", crawler.ArtifactInfo{
		FileName: "docpress_docs_example_com.md",
	}))

	req := httptest.NewRequest(http.MethodGet, "/v1/jobs/job-dl/download", nil)
	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, assemble.ContentType, rec.Header().Get("Content-Type"))
	require.Contains(t, rec.Header().Get("Content-Disposition"), "docpress_docs_example_com.md")
	require.Contains(t, rec.Body.String(), "# Example Docs")
}

func TestServer_DownloadArtifact_NotReady(t *testing.T) {
	t.Parallel()

	f := newServerFixture(testConfig())
	require.NoError(t, f.jobStore.CreateJob(context.Background(), crawler.Job{
		ID: "job-pending", Status: crawler.JobStatusCrawling,
	}))

	req := httptest.NewRequest(http.MethodGet, "/v1/jobs/job-pending/download", nil)
	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusConflict, rec.Code)
}

func TestServer_CancelPendingJob(t *testing.T) {
	t.Parallel()

	f := newServerFixture(testConfig())
	require.NoError(t, f.jobStore.CreateJob(context.Background(), crawler.Job{
		ID: "job-cancel", Status: crawler.JobStatusPending,
	}))

	req := httptest.NewRequest(http.MethodPost, "/v1/jobs/job-cancel/cancel", nil)
	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusAccepted, rec.Code)
	job, err := f.jobStore.GetJob(context.Background(), "job-cancel")
	require.NoError(t, err)
	require.Equal(t, crawler.JobStatusCanceled, job.Status)
}

func TestServer_CancelRunningJobFiresCancelFunc(t *testing.T) {
	t.Parallel()

	f := newServerFixture(testConfig())
	require.NoError(t, f.jobStore.CreateJob(context.Background(), crawler.Job{
		ID: "job-running", Status: crawler.JobStatusCrawling,
	}))
	jobCtx, cancel := context.WithCancel(context.Background())
	f.canceler.Register("job-running", cancel)

	req := httptest.NewRequest(http.MethodPost, "/v1/jobs/job-running/cancel", nil)
	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusAccepted, rec.Code)
	require.Error(t, jobCtx.Err())

	// The worker owns the final status write for running jobs.
	job, err := f.jobStore.GetJob(context.Background(), "job-running")
	require.NoError(t, err)
	require.Equal(t, crawler.JobStatusCrawling, job.Status)
}

func TestServer_CancelTerminalJobConflicts(t *testing.T) {
	t.Parallel()

	f := newServerFixture(testConfig())
	require.NoError(t, f.jobStore.CreateJob(context.Background(), crawler.Job{
		ID: "job-done", Status: crawler.JobStatusCompleted,
	}))

	req := httptest.NewRequest(http.MethodPost, "/v1/jobs/job-done/cancel", nil)
	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusConflict, rec.Code)
}

func TestServer_APIKeyMiddleware(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.Auth = config.AuthConfig{Enabled: true, APIKey: "secret"}
	f := newServerFixture(cfg)

	req := httptest.NewRequest(http.MethodGet, "/v1/jobs", nil)
	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusForbidden, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/v1/jobs", nil)
	req.Header.Set("X-API-Key", "secret")
	rec = httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	// Health stays open for probes.
	req = httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec = httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestRequestIDMiddlewareSetsHeader(t *testing.T) {
	t.Parallel()

	f := newServerFixture(testConfig())
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	f.server.Handler().ServeHTTP(rec, req)

	require.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}
