package sinks

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/docpress/docpress/internal/progress"
)

func TestPrometheusSinkJobLifecycle(t *testing.T) {
	reg := prometheus.NewRegistry()
	sink, err := NewPrometheusSink(reg)
	require.NoError(t, err)

	now := time.Now().UTC()
	batch := []progress.Event{
		{JobID: "job-1", TS: now, Stage: progress.StageJobStart},
		{JobID: "job-1", TS: now, Stage: progress.StagePageFetched, Site: "docs.example.com", StatusClass: progress.Status2xx, Bytes: 2048, Dur: 50 * time.Millisecond},
		{JobID: "job-1", TS: now, Stage: progress.StageJobDone, Dur: 3 * time.Second},
	}
	require.NoError(t, sink.Consume(context.Background(), batch))

	require.Equal(t, 1.0, testutil.ToFloat64(sink.jobsStarted))
	require.Equal(t, 0.0, testutil.ToFloat64(sink.jobsRunning))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.jobsCompleted.WithLabelValues("success")))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.pageFetches.WithLabelValues("docs.example.com", "2xx")))
	require.Equal(t, 2048.0, testutil.ToFloat64(sink.pageBytes.WithLabelValues("docs.example.com")))
}

func TestPrometheusSinkCanceledJob(t *testing.T) {
	reg := prometheus.NewRegistry()
	sink, err := NewPrometheusSink(reg)
	require.NoError(t, err)

	now := time.Now().UTC()
	require.NoError(t, sink.Consume(context.Background(), []progress.Event{
		{JobID: "job-2", TS: now, Stage: progress.StageJobStart},
		{JobID: "job-2", TS: now, Stage: progress.StageJobCanceled, Dur: time.Second},
	}))

	require.Equal(t, 1.0, testutil.ToFloat64(sink.jobsCompleted.WithLabelValues("canceled")))
	require.Equal(t, 0.0, testutil.ToFloat64(sink.jobsRunning))
}

func TestPrometheusSinkDuplicateStart(t *testing.T) {
	reg := prometheus.NewRegistry()
	sink, err := NewPrometheusSink(reg)
	require.NoError(t, err)

	now := time.Now().UTC()
	require.NoError(t, sink.Consume(context.Background(), []progress.Event{
		{JobID: "job-3", TS: now, Stage: progress.StageJobStart},
		{JobID: "job-3", TS: now, Stage: progress.StageJobStart},
	}))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.jobsRunning))
}
