// Package progress defines the event stream emitted by conversion workers.
package progress

import (
	"errors"
	"fmt"
	"time"
)

// Stage denotes the type of milestone represented by an Event.
type Stage string

// Supported progress stages.
const (
	StageJobStart    Stage = "JOB_START"
	StageJobDone     Stage = "JOB_DONE"
	StageJobError    Stage = "JOB_ERROR"
	StageJobCanceled Stage = "JOB_CANCELED"
	StagePageFetched Stage = "PAGE_FETCHED"
	StagePageFailed  Stage = "PAGE_FAILED"
	StagePipeline    Stage = "PIPELINE_STAGE"
)

// StatusClass is a coarse HTTP response grouping.
type StatusClass string

// Supported HTTP status classes tracked for page fetches.
const (
	Status2xx   StatusClass = "2xx"
	Status3xx   StatusClass = "3xx"
	Status4xx   StatusClass = "4xx"
	Status5xx   StatusClass = "5xx"
	StatusOther StatusClass = "other"
)

// Event captures a single milestone of job progress.
type Event struct {
	// JobID identifies the conversion job.
	JobID string
	// TS is the UTC timestamp recorded by the emitter.
	TS time.Time
	// Stage denotes which lifecycle or fetch milestone occurred.
	Stage Stage
	// Site optionally scopes page events to a host label.
	Site string
	// URL is the optional page URL.
	URL string
	// Bytes carries the response size for a fetched page.
	Bytes int64
	// Pages increments by one for each page completion.
	Pages int64
	// StatusClass groups HTTP response codes (2xx, 3xx, etc).
	StatusClass StatusClass
	// Dur captures latency for fetches and whole jobs.
	Dur time.Duration
	// Note lets emitters attach low-volume context, like a pipeline stage
	// name or error text.
	Note string
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.JobID == "" {
		return errors.New("job id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Stage {
	case StageJobStart, StageJobDone, StageJobError, StageJobCanceled:
	case StagePipeline:
		if e.Note == "" {
			return errors.New("pipeline event requires a stage note")
		}
	case StagePageFetched:
		if e.Site == "" {
			return errors.New("page fetched requires site")
		}
		if e.StatusClass == "" {
			return errors.New("page fetched requires status class")
		}
	case StagePageFailed:
		if e.Site == "" {
			return errors.New("page failed requires site")
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	return nil
}

// ClassifyStatus groups HTTP status codes for page events.
func ClassifyStatus(code int) StatusClass {
	switch {
	case code >= 200 && code < 300:
		return Status2xx
	case code >= 300 && code < 400:
		return Status3xx
	case code >= 400 && code < 500:
		return Status4xx
	case code >= 500 && code < 600:
		return Status5xx
	default:
		return StatusOther
	}
}
