package schedule

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/book-expert/logger"
	"github.com/google/uuid"

	"github.com/book-expert/audiobook-engine/internal/core"
	"github.com/book-expert/audiobook-engine/internal/engine"
)

// Defaults applied by Config.withDefaults.
const (
	defaultWorkers         = 4
	defaultMaxRetries      = 3
	defaultBackoffBase     = 500 * time.Millisecond
	defaultBackoffCap      = 30 * time.Second
	defaultEventBufferSize = 256
)

// localTransientAttempts is the attempt budget for resource-exhaustion
// failures: the first attempt plus one immediate retry.
const localTransientAttempts = 2

// idleWait bounds how long a worker sleeps when no retry deadline is
// pending; all state transitions also wake workers explicitly.
const idleWait = time.Hour

// Static errors.
var (
	// ErrJobNotFound indicates an unknown job id.
	ErrJobNotFound = errors.New("job not found")
	// ErrJobNotActive indicates a control operation on a terminal job.
	ErrJobNotActive = errors.New("job is not active")
	// ErrUnitSequence indicates unit ids that are not contiguous from
	// zero.
	ErrUnitSequence = errors.New("unit ids must be contiguous from zero")
	// ErrSchedulerClosed indicates a submission after shutdown.
	ErrSchedulerClosed = errors.New("scheduler is closed")
	// ErrDuplicateJob indicates a caller-supplied job id that is already in
	// use.
	ErrDuplicateJob = errors.New("duplicate job id")
)

// Config tunes the scheduler.
type Config struct {
	// Workers is the size of the execution pool.
	Workers int
	// MaxRetries bounds retries per unit for network and runtime-fault
	// failures; a unit runs at most MaxRetries+1 attempts. Zero selects
	// the default; negative disables retries.
	MaxRetries int
	// BackoffBase and BackoffCap shape the exponential retry delay for
	// network-bound adapters.
	BackoffBase time.Duration
	BackoffCap  time.Duration
	// EventBufferSize bounds the progress event stream.
	EventBufferSize int
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = defaultWorkers
	}

	if c.MaxRetries == 0 {
		c.MaxRetries = defaultMaxRetries
	}

	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}

	if c.BackoffBase <= 0 {
		c.BackoffBase = defaultBackoffBase
	}

	if c.BackoffCap <= 0 {
		c.BackoffCap = defaultBackoffCap
	}

	if c.EventBufferSize <= 0 {
		c.EventBufferSize = defaultEventBufferSize
	}

	return c
}

// Scheduler owns the set of jobs and drives their units through engine
// adapters with a bounded worker pool. All methods are safe for concurrent
// use.
type Scheduler struct {
	cfg      Config
	registry *engine.Registry
	sink     core.ResultSink
	log      *logger.Logger

	rootCtx    context.Context
	rootCancel context.CancelFunc

	mu          sync.Mutex
	jobs        map[string]*job
	rotation    []string
	adapterLoad map[string]int
	events      *eventStream
	closed      bool

	wake chan struct{}
}

// New creates a scheduler. The sink receives exactly one terminal delivery
// per unit; the registry supplies adapters and validates voice parameters
// at submission.
func New(cfg Config, registry *engine.Registry, sink core.ResultSink, log *logger.Logger) *Scheduler {
	cfg = cfg.withDefaults()

	rootCtx, rootCancel := context.WithCancel(context.Background())

	return &Scheduler{
		cfg:         cfg,
		registry:    registry,
		sink:        sink,
		log:         log,
		rootCtx:     rootCtx,
		rootCancel:  rootCancel,
		mu:          sync.Mutex{},
		jobs:        make(map[string]*job),
		rotation:    nil,
		adapterLoad: make(map[string]int),
		events:      newEventStream(cfg.EventBufferSize),
		closed:      false,
		wake:        make(chan struct{}, 1),
	}
}

// Events exposes the bounded progress stream. The channel is closed when
// the scheduler shuts down.
func (s *Scheduler) Events() <-chan Event {
	return s.events.out
}

// SubmitJob validates the voice parameters against the bound adapter,
// creates the job, and admits it to the dispatch queue. Invalid parameters
// are a creation-time error; an admitted job never fails on them mid-run. A
// job with zero units completes immediately.
//
// An empty jobID selects a generated one; callers that must correlate the
// job with external state (sink bindings, workflow ids) pass their own.
func (s *Scheduler) SubmitJob(ctx context.Context, jobID string, units []core.TextUnit, params core.VoiceParams) (string, error) {
	err := validateUnitSequence(units)
	if err != nil {
		return "", err
	}

	err = s.registry.ValidateParams(ctx, params)
	if err != nil {
		return "", fmt.Errorf("job rejected: %w", err)
	}

	adapter, err := s.registry.Lookup(params.EngineID)
	if err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return "", ErrSchedulerClosed
	}

	if jobID == "" {
		jobID = uuid.NewString()
	}

	if _, exists := s.jobs[jobID]; exists {
		return "", fmt.Errorf("%w: %q", ErrDuplicateJob, jobID)
	}

	newJobRecord := newJob(jobID, units, params, adapter, s.rootCtx)
	s.jobs[jobID] = newJobRecord
	s.rotation = append(s.rotation, jobID)

	if len(units) == 0 {
		s.finalizeLocked(newJobRecord, time.Now())

		return jobID, nil
	}

	s.kick()

	return jobID, nil
}

// PauseJob stops further dispatch for the job without interrupting units
// already handed to a worker: drain, don't kill. Pausing a paused job is a
// no-op.
func (s *Scheduler) PauseJob(jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	jobRecord, ok := s.jobs[jobID]
	if !ok {
		return fmt.Errorf("%w: %q", ErrJobNotFound, jobID)
	}

	if jobRecord.aggregate().Terminal() {
		return fmt.Errorf("%w: %q is %s", ErrJobNotActive, jobID, jobRecord.aggregate())
	}

	if jobRecord.paused {
		return nil
	}

	jobRecord.paused = true
	s.publishLocked(jobRecord, Event{
		JobID: jobID, Type: EventJobPaused, UnitID: -1, Attempt: 0, Error: "", Snapshot: nil,
	})

	return nil
}

// ResumeJob re-admits a paused job at its next pending unit. Resuming a job
// that is not paused is a no-op.
func (s *Scheduler) ResumeJob(jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	jobRecord, ok := s.jobs[jobID]
	if !ok {
		return fmt.Errorf("%w: %q", ErrJobNotFound, jobID)
	}

	if jobRecord.aggregate().Terminal() {
		return fmt.Errorf("%w: %q is %s", ErrJobNotActive, jobID, jobRecord.aggregate())
	}

	if !jobRecord.paused {
		return nil
	}

	jobRecord.paused = false
	s.publishLocked(jobRecord, Event{
		JobID: jobID, Type: EventJobResumed, UnitID: -1, Attempt: 0, Error: "", Snapshot: nil,
	})
	s.kick()

	return nil
}

// CancelJob cancels a job from any non-terminal state. In-flight attempts
// receive the cancellation signal and their results are discarded; pending
// units are skipped. Canceling an already-terminal job is a no-op returning
// the existing terminal state.
//
// The returned JobCanceled is the job's destination, not necessarily its
// current state: JobStatus keeps reporting the job as running until every
// in-flight attempt has drained and the sink has seen every unit.
func (s *Scheduler) CancelJob(jobID string) (core.JobState, error) {
	s.mu.Lock()

	jobRecord, ok := s.jobs[jobID]
	if !ok {
		s.mu.Unlock()

		return "", fmt.Errorf("%w: %q", ErrJobNotFound, jobID)
	}

	state := jobRecord.aggregate()
	if state.Terminal() {
		s.mu.Unlock()

		return state, nil
	}

	jobRecord.canceled = true
	jobRecord.cancel()

	var deliveries []core.UnitDelivery

	for i, result := range jobRecord.results {
		if result.State != core.UnitPending {
			continue
		}

		result.State = core.UnitSkipped
		deliveries = append(deliveries, core.UnitDelivery{
			JobID:    jobID,
			Unit:     jobRecord.units[i],
			Outcome:  core.OutcomeCanceled,
			Attempts: result.Attempts,
			Audio:    nil,
			Err:      core.ErrSynthesisCanceled,
		})
	}

	jobRecord.pendingDeliveries += len(deliveries)
	s.maybeFinalizeLocked(jobRecord, time.Now())
	s.mu.Unlock()

	s.deliverAll(deliveries)
	s.completeDeliveries(jobRecord, len(deliveries))

	return core.JobCanceled, nil
}

// JobStatus reports the job's aggregate state, progress, and, when failed,
// the failed units with their final error kinds and attempt counts.
func (s *Scheduler) JobStatus(jobID string) (JobStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	jobRecord, ok := s.jobs[jobID]
	if !ok {
		return JobStatus{}, fmt.Errorf("%w: %q", ErrJobNotFound, jobID)
	}

	return JobStatus{
		JobID:     jobID,
		State:     jobRecord.aggregate(),
		CreatedAt: jobRecord.createdAt,
		Progress:  jobRecord.progress(time.Now()),
		Failures:  jobRecord.failures(),
	}, nil
}

// ReleaseJob drops a terminal job and its buffers. Release is caller
// controlled so status remains queryable until the caller is done with it.
func (s *Scheduler) ReleaseJob(jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	jobRecord, ok := s.jobs[jobID]
	if !ok {
		return fmt.Errorf("%w: %q", ErrJobNotFound, jobID)
	}

	if !jobRecord.aggregate().Terminal() {
		return fmt.Errorf("%w: %q is %s", ErrJobNotActive, jobID, jobRecord.aggregate())
	}

	delete(s.jobs, jobID)
	s.removeFromRotation(jobID)

	return nil
}

// maybeFinalizeLocked finalizes the job once every unit is terminal and
// every sink delivery has completed. Gating on deliveries lets callers drop
// per-job sink state the moment they observe a terminal status.
func (s *Scheduler) maybeFinalizeLocked(jobRecord *job, now time.Time) {
	if !jobRecord.allTerminal() || jobRecord.pendingDeliveries > 0 {
		return
	}

	s.finalizeLocked(jobRecord, now)
}

// completeDeliveries retires delivery slots handed out under the lock.
func (s *Scheduler) completeDeliveries(jobRecord *job, count int) {
	if count == 0 {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	jobRecord.pendingDeliveries -= count
	s.maybeFinalizeLocked(jobRecord, time.Now())
}

// finalizeLocked publishes the job's terminal event exactly once.
func (s *Scheduler) finalizeLocked(jobRecord *job, now time.Time) {
	if jobRecord.finalized {
		return
	}

	jobRecord.finalized = true

	eventType := EventJobCompleted

	switch jobRecord.aggregate() {
	case core.JobCanceled:
		eventType = EventJobCanceled
	case core.JobFailed:
		eventType = EventJobFailed
	case core.JobCompleted, core.JobQueued, core.JobRunning, core.JobPaused:
	}

	progress := jobRecord.progress(now)
	s.publishLocked(jobRecord, Event{
		JobID:    jobRecord.id,
		Type:     eventType,
		UnitID:   -1,
		Attempt:  0,
		Error:    "",
		Snapshot: &progress,
	})
}

func (s *Scheduler) publishLocked(jobRecord *job, event Event) {
	s.events.publish(event, func() Progress {
		return jobRecord.progress(time.Now())
	})
}

func (s *Scheduler) deliverAll(deliveries []core.UnitDelivery) {
	for _, delivery := range deliveries {
		err := s.sink.Deliver(s.rootCtx, delivery)
		if err != nil {
			s.log.Error("Failed to deliver unit %d of job %s to sink: %v",
				delivery.Unit.ID, delivery.JobID, err)
		}
	}
}

// kick wakes one idle worker; pick chains further wakes while eligible
// work remains.
func (s *Scheduler) kick() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Scheduler) removeFromRotation(jobID string) {
	for i, id := range s.rotation {
		if id == jobID {
			s.rotation = append(s.rotation[:i], s.rotation[i+1:]...)

			return
		}
	}
}

// attemptBudget returns the maximum total attempts for a failure kind.
func (s *Scheduler) attemptBudget(kind core.ErrorKind) int {
	switch kind {
	case core.ErrorKindResourceExhausted:
		budget := localTransientAttempts
		if budget > s.cfg.MaxRetries+1 {
			budget = s.cfg.MaxRetries + 1
		}

		return budget
	case core.ErrorKindNetwork, core.ErrorKindRuntimeFault:
		return s.cfg.MaxRetries + 1
	case core.ErrorKindInvalidInput, core.ErrorKindCanceled:
		return 1
	default:
		return 1
	}
}

func (s *Scheduler) jitter(limit time.Duration) time.Duration {
	if limit <= 0 {
		return 0
	}

	return rand.N(limit)
}

func validateUnitSequence(units []core.TextUnit) error {
	for i, unit := range units {
		if unit.ID != i {
			return fmt.Errorf("%w: unit at position %d has id %d", ErrUnitSequence, i, unit.ID)
		}
	}

	return nil
}
