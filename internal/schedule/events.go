// Package schedule owns the job state machine, the dispatch queue, and the
// bounded worker pool that drives text units through an engine adapter.
//
// All job and unit state lives behind the scheduler's single mutex; workers
// and callers mutate it only through the transition methods here. The mutex
// is held just long enough to flip state and record a result, never across
// a synthesis call.
package schedule

import (
	"time"

	"github.com/book-expert/audiobook-engine/internal/core"
)

// EventType identifies one progress event on the scheduler's stream.
type EventType string

// Progress event types.
const (
	EventUnitStarted      EventType = "unit_started"
	EventUnitSucceeded    EventType = "unit_succeeded"
	EventUnitFailed       EventType = "unit_failed"
	EventJobPaused        EventType = "job_paused"
	EventJobResumed       EventType = "job_resumed"
	EventJobCompleted     EventType = "job_completed"
	EventJobFailed        EventType = "job_failed"
	EventJobCanceled      EventType = "job_canceled"
	EventProgressSnapshot EventType = "progress_snapshot"
)

// Progress is a point-in-time summary of a job, including the character
// throughput estimate used for remaining-time prediction.
type Progress struct {
	JobID          string  `json:"job_id"`
	State          string  `json:"state"`
	UnitsTotal     int     `json:"units_total"`
	UnitsDone      int     `json:"units_done"`
	UnitsFailed    int     `json:"units_failed"`
	CharsTotal     int     `json:"chars_total"`
	CharsDone      int     `json:"chars_done"`
	ElapsedSeconds float64 `json:"elapsed_seconds"`
	// EstimatedSecondsLeft extrapolates from observed characters per
	// second. Negative means no estimate yet.
	EstimatedSecondsLeft float64 `json:"estimated_seconds_left"`
}

// Event is one entry on the scheduler's progress stream. UnitID is -1 for
// job-level events. Snapshot is non-nil only for EventProgressSnapshot.
type Event struct {
	JobID    string    `json:"job_id"`
	Type     EventType `json:"type"`
	UnitID   int       `json:"unit_id"`
	Attempt  int       `json:"attempt"`
	Error    string    `json:"error,omitempty"`
	Snapshot *Progress `json:"snapshot,omitempty"`
}

// eventStream is the bounded, non-blocking progress buffer. When a slow
// consumer lets the buffer fill, per-job events are dropped and replaced by
// a single coalesced snapshot once space frees up; the producer never
// blocks.
type eventStream struct {
	out      chan Event
	coalesce map[string]bool
	closed   bool
}

func newEventStream(size int) *eventStream {
	return &eventStream{
		out:      make(chan Event, size),
		coalesce: make(map[string]bool),
		closed:   false,
	}
}

// publish delivers ev without blocking. snapshot supplies the coalesced
// replacement when earlier events for the job were dropped. Callers hold
// the scheduler mutex.
func (e *eventStream) publish(ev Event, snapshot func() Progress) {
	if e.closed {
		return
	}

	if e.coalesce[ev.JobID] {
		progress := snapshot()
		coalesced := Event{
			JobID:    ev.JobID,
			Type:     EventProgressSnapshot,
			UnitID:   -1,
			Attempt:  0,
			Error:    "",
			Snapshot: &progress,
		}

		if !e.trySend(coalesced) {
			return
		}

		delete(e.coalesce, ev.JobID)
	}

	if !e.trySend(ev) {
		e.coalesce[ev.JobID] = true
	}
}

func (e *eventStream) trySend(ev Event) bool {
	select {
	case e.out <- ev:
		return true
	default:
		return false
	}
}

// close ends the stream. Callers hold the scheduler mutex.
func (e *eventStream) close() {
	if e.closed {
		return
	}

	e.closed = true
	close(e.out)
}

// backoffFor computes the delay before a unit's next attempt. Network-bound
// adapters get exponential backoff with jitter; local-resource-bound
// adapters retry immediately, since their transient failures resolve
// quickly or not at all.
func backoffFor(flavor core.AdapterFlavor, attempt int, base, ceiling time.Duration, jitter func(time.Duration) time.Duration) time.Duration {
	if flavor == core.LocalResourceBound {
		return 0
	}

	delay := base << uint(attempt-1)
	if delay > ceiling || delay <= 0 {
		delay = ceiling
	}

	return delay + jitter(delay/2)
}
