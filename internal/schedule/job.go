package schedule

import (
	"context"
	"time"

	"github.com/book-expert/audiobook-engine/internal/core"
)

// job is the scheduler's internal record of one conversion request. All
// fields are guarded by the scheduler mutex; the job's aggregate state is
// always derived from its units, never stored where it could desync.
type job struct {
	id        string
	units     []core.TextUnit
	params    core.VoiceParams
	adapter   core.Adapter
	createdAt time.Time
	startedAt time.Time

	// ctx is canceled on job cancellation (and scheduler shutdown); every
	// in-flight synthesis call runs under it.
	ctx    context.Context
	cancel context.CancelFunc

	// paused stops new dispatches without interrupting in-flight units.
	// canceled marks the terminal cancel request.
	paused   bool
	canceled bool

	results   []*core.UnitResult
	notBefore []time.Time
	inFlight  int

	// pendingDeliveries counts sink deliveries handed off but not yet
	// completed. A job is not terminal until its sink has seen every
	// unit; callers may drop per-job sink state as soon as they observe
	// a terminal status.
	pendingDeliveries int

	unitsDone   int
	unitsFailed int
	charsTotal  int
	charsDone   int

	finalized bool
}

func newJob(id string, units []core.TextUnit, params core.VoiceParams, adapter core.Adapter, parent context.Context) *job {
	ctx, cancel := context.WithCancel(parent)

	results := make([]*core.UnitResult, len(units))
	notBefore := make([]time.Time, len(units))
	charsTotal := 0

	for i, unit := range units {
		results[i] = &core.UnitResult{
			UnitID:    unit.ID,
			State:     core.UnitPending,
			Attempts:  0,
			Audio:     nil,
			LastError: nil,
		}
		charsTotal += unit.EstimatedChars
	}

	return &job{
		id:                id,
		units:             units,
		params:            params,
		adapter:           adapter,
		createdAt:         time.Now(),
		startedAt:         time.Time{},
		ctx:               ctx,
		cancel:            cancel,
		paused:            false,
		canceled:          false,
		results:           results,
		notBefore:         notBefore,
		inFlight:          0,
		pendingDeliveries: 0,
		unitsDone:         0,
		unitsFailed:       0,
		charsTotal:        charsTotal,
		charsDone:         0,
		finalized:         false,
	}
}

// aggregate derives the job state from its units and control flags.
func (j *job) aggregate() core.JobState {
	if j.canceled {
		if j.allTerminal() && j.pendingDeliveries == 0 {
			return core.JobCanceled
		}

		return core.JobRunning
	}

	if j.allTerminal() {
		if j.pendingDeliveries > 0 {
			return core.JobRunning
		}

		if j.unitsFailed > 0 {
			return core.JobFailed
		}

		return core.JobCompleted
	}

	if j.paused {
		return core.JobPaused
	}

	if j.startedAt.IsZero() {
		return core.JobQueued
	}

	return core.JobRunning
}

func (j *job) allTerminal() bool {
	for _, result := range j.results {
		if !result.State.Terminal() {
			return false
		}
	}

	return true
}

// nextEligible returns the lowest-id pending unit whose backoff deadline
// has passed, or -1. Dispatch in ascending id order is what preserves
// resume-at-next-unit semantics.
func (j *job) nextEligible(now time.Time) int {
	if j.paused || j.canceled {
		return -1
	}

	for i, result := range j.results {
		if result.State == core.UnitPending && !j.notBefore[i].After(now) {
			return i
		}
	}

	return -1
}

// earliestRetry returns the soonest backoff deadline still in the future
// among pending units, and whether one exists.
func (j *job) earliestRetry(now time.Time) (time.Time, bool) {
	var earliest time.Time

	found := false

	for i, result := range j.results {
		if result.State != core.UnitPending || !j.notBefore[i].After(now) {
			continue
		}

		if !found || j.notBefore[i].Before(earliest) {
			earliest = j.notBefore[i]
			found = true
		}
	}

	return earliest, found
}

// progress builds the throughput-based snapshot for status queries and
// coalesced events.
func (j *job) progress(now time.Time) Progress {
	elapsed := 0.0
	if !j.startedAt.IsZero() {
		elapsed = now.Sub(j.startedAt).Seconds()
	}

	estimate := -1.0
	if j.charsDone > 0 && elapsed > 0 {
		rate := float64(j.charsDone) / elapsed
		estimate = float64(j.charsTotal-j.charsDone) / rate
	}

	return Progress{
		JobID:                j.id,
		State:                string(j.aggregate()),
		UnitsTotal:           len(j.units),
		UnitsDone:            j.unitsDone,
		UnitsFailed:          j.unitsFailed,
		CharsTotal:           j.charsTotal,
		CharsDone:            j.charsDone,
		ElapsedSeconds:       elapsed,
		EstimatedSecondsLeft: estimate,
	}
}

// failures lists permanently failed units with their final error kind and
// attempt count, enough for a caller to resubmit just the failed subset.
func (j *job) failures() []core.UnitFailure {
	var failed []core.UnitFailure

	for _, result := range j.results {
		if result.State != core.UnitFailed {
			continue
		}

		message := ""
		if result.LastError != nil {
			message = result.LastError.Error()
		}

		failed = append(failed, core.UnitFailure{
			UnitID:   result.UnitID,
			Kind:     core.KindOf(result.LastError),
			Attempts: result.Attempts,
			Message:  message,
		})
	}

	return failed
}

// JobStatus is the caller-visible view of a job.
type JobStatus struct {
	JobID     string             `json:"job_id"`
	State     core.JobState      `json:"state"`
	CreatedAt time.Time          `json:"created_at"`
	Progress  Progress           `json:"progress"`
	Failures  []core.UnitFailure `json:"failures,omitempty"`
}
