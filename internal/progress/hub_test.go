package progress

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type captureSink struct {
	mu     sync.Mutex
	events []Event
	closed bool
}

func (s *captureSink) Consume(_ context.Context, batch []Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, batch...)
	return nil
}

func (s *captureSink) Close(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *captureSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

func validEvent(jobID string) Event {
	return Event{JobID: jobID, TS: time.Now().UTC(), Stage: StageJobStart}
}

func TestHubDeliversEvents(t *testing.T) {
	sink := &captureSink{}
	hub := NewHub(Config{MaxBatchWait: 10 * time.Millisecond}, sink)

	hub.Emit(validEvent("job-1"))
	hub.Emit(validEvent("job-2"))

	require.Eventually(t, func() bool {
		return sink.count() == 2
	}, time.Second, 10*time.Millisecond)

	require.NoError(t, hub.Close(context.Background()))
	require.True(t, sink.closed)
}

func TestHubDropsInvalidEvents(t *testing.T) {
	sink := &captureSink{}
	hub := NewHub(Config{MaxBatchWait: 10 * time.Millisecond}, sink)
	defer func() { _ = hub.Close(context.Background()) }()

	hub.Emit(Event{}) // no job id
	hub.Emit(validEvent("job-1"))

	require.Eventually(t, func() bool {
		return sink.count() == 1
	}, time.Second, 10*time.Millisecond)
}

func TestHubFlushesOnClose(t *testing.T) {
	sink := &captureSink{}
	hub := NewHub(Config{MaxBatchWait: time.Hour}, sink)

	for i := 0; i < 10; i++ {
		hub.Emit(validEvent("job-1"))
	}
	require.NoError(t, hub.Close(context.Background()))
	require.Equal(t, 10, sink.count())
}

func TestHubEmitAfterCloseIsNoop(t *testing.T) {
	sink := &captureSink{}
	hub := NewHub(Config{}, sink)
	require.NoError(t, hub.Close(context.Background()))
	hub.Emit(validEvent("job-1"))
	require.Zero(t, sink.count())
}

func TestEventValidate(t *testing.T) {
	require.Error(t, Event{TS: time.Now(), Stage: StageJobStart}.Validate())
	require.Error(t, Event{JobID: "j", Stage: StageJobStart}.Validate())
	require.Error(t, Event{JobID: "j", TS: time.Now(), Stage: "BOGUS"}.Validate())
	require.Error(t, Event{JobID: "j", TS: time.Now(), Stage: StagePageFetched}.Validate())
	require.Error(t, Event{JobID: "j", TS: time.Now(), Stage: StagePipeline}.Validate())

	require.NoError(t, Event{JobID: "j", TS: time.Now(), Stage: StagePipeline, Note: "dedup"}.Validate())
	require.NoError(t, Event{
		JobID: "j", TS: time.Now(), Stage: StagePageFetched,
		Site: "docs.example.com", StatusClass: Status2xx,
	}.Validate())
}

func TestClassifyStatus(t *testing.T) {
	require.Equal(t, Status2xx, ClassifyStatus(200))
	require.Equal(t, Status3xx, ClassifyStatus(301))
	require.Equal(t, Status4xx, ClassifyStatus(404))
	require.Equal(t, Status5xx, ClassifyStatus(503))
	require.Equal(t, StatusOther, ClassifyStatus(0))
}
