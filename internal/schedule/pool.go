package schedule

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/book-expert/audiobook-engine/internal/core"
)

// assignment is one dispatched unit attempt.
type assignment struct {
	job     *job
	unitIdx int
	attempt int
}

func (a *assignment) unit() core.TextUnit {
	return a.job.units[a.unitIdx]
}

// Run starts the worker pool and blocks until ctx is canceled and every
// in-flight attempt has drained. In-flight synthesis calls are canceled
// through the job contexts so draining is prompt; interrupted units return
// to pending without consuming an attempt.
func (s *Scheduler) Run(ctx context.Context) error {
	group, groupCtx := errgroup.WithContext(ctx)

	for workerID := range s.cfg.Workers {
		group.Go(func() error {
			s.workerLoop(groupCtx, workerID)

			return nil
		})
	}

	// Cut in-flight synthesis loose as soon as shutdown begins, otherwise
	// Wait would block on a slow backend.
	go func() {
		<-groupCtx.Done()
		s.rootCancel()
	}()

	err := group.Wait()

	s.mu.Lock()
	s.closed = true
	s.events.close()
	s.mu.Unlock()

	if err != nil {
		return fmt.Errorf("worker pool: %w", err)
	}

	return nil
}

func (s *Scheduler) workerLoop(ctx context.Context, workerID int) {
	for {
		work, ok := s.nextAssignment(ctx)
		if !ok {
			s.log.Info("Worker %d stopping", workerID)

			return
		}

		s.execute(work)
	}
}

// nextAssignment blocks until a unit is eligible for dispatch or ctx is
// canceled. Workers sleep on the wake channel between transitions; a timer
// covers pending backoff deadlines so no one busy-polls.
func (s *Scheduler) nextAssignment(ctx context.Context) (*assignment, bool) {
	for {
		s.mu.Lock()

		if s.closed {
			s.mu.Unlock()

			return nil, false
		}

		now := time.Now()

		work := s.pickLocked(now)
		if work != nil {
			// Chain the wake so sibling workers drain remaining
			// eligible units.
			if s.anyEligibleLocked(time.Now()) {
				s.kick()
			}

			s.mu.Unlock()

			return work, true
		}

		wait := s.nextWakeLocked(now)
		s.mu.Unlock()

		timer := time.NewTimer(wait)

		select {
		case <-ctx.Done():
			timer.Stop()

			return nil, false
		case <-s.wake:
			timer.Stop()
		case <-timer.C:
		}
	}
}

// pickLocked selects the next unit in round-robin order across jobs and
// marks it running. Jobs take turns so a long book cannot starve a short
// one; within a job, units dispatch in ascending id order.
func (s *Scheduler) pickLocked(now time.Time) *assignment {
	for _, jobID := range s.rotation {
		jobRecord := s.jobs[jobID]

		unitIdx := jobRecord.nextEligible(now)
		if unitIdx < 0 {
			continue
		}

		traits := jobRecord.adapter.Traits()
		if traits.MaxConcurrent > 0 && s.adapterLoad[jobRecord.adapter.ID()] >= traits.MaxConcurrent {
			continue
		}

		result := jobRecord.results[unitIdx]
		result.State = core.UnitRunning
		result.Attempts++
		jobRecord.inFlight++
		s.adapterLoad[jobRecord.adapter.ID()]++

		if jobRecord.startedAt.IsZero() {
			jobRecord.startedAt = now
		}

		s.publishLocked(jobRecord, Event{
			JobID:    jobID,
			Type:     EventUnitStarted,
			UnitID:   jobRecord.units[unitIdx].ID,
			Attempt:  result.Attempts,
			Error:    "",
			Snapshot: nil,
		})
		s.rotateLocked(jobID)

		return &assignment{job: jobRecord, unitIdx: unitIdx, attempt: result.Attempts}
	}

	return nil
}

func (s *Scheduler) anyEligibleLocked(now time.Time) bool {
	for _, jobID := range s.rotation {
		jobRecord := s.jobs[jobID]
		if jobRecord.nextEligible(now) < 0 {
			continue
		}

		traits := jobRecord.adapter.Traits()
		if traits.MaxConcurrent > 0 && s.adapterLoad[jobRecord.adapter.ID()] >= traits.MaxConcurrent {
			continue
		}

		return true
	}

	return false
}

// nextWakeLocked returns how long a worker may sleep: until the earliest
// retry deadline, or idleWait when nothing is scheduled.
func (s *Scheduler) nextWakeLocked(now time.Time) time.Duration {
	wait := idleWait

	for _, jobRecord := range s.jobs {
		deadline, ok := jobRecord.earliestRetry(now)
		if !ok {
			continue
		}

		until := deadline.Sub(now)
		if until < wait {
			wait = until
		}
	}

	if wait < time.Millisecond {
		wait = time.Millisecond
	}

	return wait
}

// rotateLocked moves the job to the back of the service order.
func (s *Scheduler) rotateLocked(jobID string) {
	s.removeFromRotation(jobID)
	s.rotation = append(s.rotation, jobID)
}

// execute runs one synthesis attempt outside the mutex and records its
// outcome.
func (s *Scheduler) execute(work *assignment) {
	audio, err := s.invoke(work)
	s.finishAttempt(work, audio, err)
}

// invoke calls the adapter with panic recovery: a panicking backend must
// not take down the pool, it surfaces as a runtime fault on the unit.
func (s *Scheduler) invoke(work *assignment) (audio []byte, err error) {
	defer func() {
		panicValue := recover()
		if panicValue != nil {
			audio = nil
			err = core.NewSynthesisError(core.ErrorKindRuntimeFault,
				fmt.Errorf("synthesis panicked: %v", panicValue))

			s.log.Error("Adapter %s panicked on unit %d of job %s: %v",
				work.job.adapter.ID(), work.unit().ID, work.job.id, panicValue)
		}
	}()

	return work.job.adapter.Synthesize(work.job.ctx, work.unit(), work.job.params)
}

// finishAttempt applies the state transition for a completed attempt and
// performs any sink delivery after releasing the mutex.
func (s *Scheduler) finishAttempt(work *assignment, audio []byte, attemptErr error) {
	s.mu.Lock()

	jobRecord := work.job
	result := jobRecord.results[work.unitIdx]
	unit := work.unit()
	now := time.Now()

	jobRecord.inFlight--
	s.adapterLoad[jobRecord.adapter.ID()]--

	var deliveries []core.UnitDelivery

	switch {
	case jobRecord.canceled:
		// The cancel request already skipped the pending units; this
		// attempt's result is discarded regardless of how it ended.
		result.State = core.UnitSkipped
		result.Audio = nil
		deliveries = append(deliveries, core.UnitDelivery{
			JobID:    jobRecord.id,
			Unit:     unit,
			Outcome:  core.OutcomeCanceled,
			Attempts: result.Attempts,
			Audio:    nil,
			Err:      core.ErrSynthesisCanceled,
		})
	case attemptErr == nil:
		result.State = core.UnitSucceeded
		result.Audio = audio
		result.LastError = nil
		jobRecord.unitsDone++
		jobRecord.charsDone += unit.EstimatedChars

		s.publishLocked(jobRecord, Event{
			JobID:    jobRecord.id,
			Type:     EventUnitSucceeded,
			UnitID:   unit.ID,
			Attempt:  result.Attempts,
			Error:    "",
			Snapshot: nil,
		})

		deliveries = append(deliveries, core.UnitDelivery{
			JobID:    jobRecord.id,
			Unit:     unit,
			Outcome:  core.OutcomeSucceeded,
			Attempts: result.Attempts,
			Audio:    audio,
			Err:      nil,
		})
	default:
		deliveries = s.recordFailureLocked(jobRecord, work.unitIdx, attemptErr, now)
	}

	jobRecord.pendingDeliveries += len(deliveries)
	s.maybeFinalizeLocked(jobRecord, now)
	s.mu.Unlock()

	s.deliverAll(deliveries)
	s.completeDeliveries(jobRecord, len(deliveries))
	s.kick()
}

// recordFailureLocked classifies a failed attempt and either requeues the
// unit with backoff or marks it permanently failed.
func (s *Scheduler) recordFailureLocked(
	jobRecord *job, unitIdx int, attemptErr error, now time.Time,
) []core.UnitDelivery {
	result := jobRecord.results[unitIdx]
	unit := jobRecord.units[unitIdx]
	kind := core.KindOf(attemptErr)

	// A canceled attempt on a live job means the pool is shutting down,
	// not that the unit failed: requeue it without consuming the attempt.
	if kind == core.ErrorKindCanceled {
		result.Attempts--
		result.State = core.UnitPending

		return nil
	}

	result.LastError = attemptErr

	if kind.Retryable() && result.Attempts < s.attemptBudget(kind) {
		result.State = core.UnitPending
		jobRecord.notBefore[unitIdx] = now.Add(backoffFor(
			jobRecord.adapter.Traits().Flavor, result.Attempts,
			s.cfg.BackoffBase, s.cfg.BackoffCap, s.jitter,
		))

		s.publishLocked(jobRecord, Event{
			JobID:    jobRecord.id,
			Type:     EventUnitFailed,
			UnitID:   unit.ID,
			Attempt:  result.Attempts,
			Error:    attemptErr.Error(),
			Snapshot: nil,
		})

		return nil
	}

	result.State = core.UnitFailed
	jobRecord.unitsFailed++

	s.log.Warn("Unit %d of job %s failed permanently after %d attempts: %v",
		unit.ID, jobRecord.id, result.Attempts, attemptErr)
	s.publishLocked(jobRecord, Event{
		JobID:    jobRecord.id,
		Type:     EventUnitFailed,
		UnitID:   unit.ID,
		Attempt:  result.Attempts,
		Error:    attemptErr.Error(),
		Snapshot: nil,
	})

	return []core.UnitDelivery{{
		JobID:    jobRecord.id,
		Unit:     unit,
		Outcome:  core.OutcomeFailed,
		Attempts: result.Attempts,
		Audio:    nil,
		Err:      attemptErr,
	}}
}
