// Package worker bridges NATS workflow events to the conversion engine. It
// consumes TextProcessedEvent messages, turns the referenced text into a
// scheduled job, and answers with an AudioChunkCreatedEvent once the job
// reaches a terminal state. Per-unit chunk events are published by the NATS
// sink while the job runs; the reply's AudioKey carries the object store
// prefix the unit files were written under.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/book-expert/events"
	"github.com/book-expert/logger"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"github.com/book-expert/audiobook-engine/internal/core"
	"github.com/book-expert/audiobook-engine/internal/schedule"
	"github.com/book-expert/audiobook-engine/internal/segment"
	"github.com/book-expert/audiobook-engine/internal/sink"
	"github.com/book-expert/audiobook-engine/internal/textnorm"
)

const (
	defaultJobTimeout = 10 * time.Minute
	statusPollPeriod  = 50 * time.Millisecond
)

// ErrJobTimeout indicates a job that did not finish within the per-message
// deadline.
var ErrJobTimeout = errors.New("job did not finish before the deadline")

// Bridge subscribes to text-processed events and drives jobs through the
// scheduler.
type Bridge struct {
	conn         *nats.Conn
	subject      string
	store        core.ObjectStore
	scheduler    *schedule.Scheduler
	results      *sink.Nats
	normalizer   *textnorm.Normalizer
	maxUnitChars int
	params       core.VoiceParams
	jobTimeout   time.Duration
	log          *logger.Logger
}

// NewBridge creates a bridge. params supplies the engine and default voice
// for incoming jobs; a message's Voice field overrides the voice only. A
// non-positive jobTimeout selects the default.
func NewBridge(
	conn *nats.Conn,
	subject string,
	store core.ObjectStore,
	scheduler *schedule.Scheduler,
	results *sink.Nats,
	params core.VoiceParams,
	maxUnitChars int,
	jobTimeout time.Duration,
	log *logger.Logger,
) *Bridge {
	if jobTimeout <= 0 {
		jobTimeout = defaultJobTimeout
	}

	return &Bridge{
		conn:         conn,
		subject:      subject,
		store:        store,
		scheduler:    scheduler,
		results:      results,
		normalizer:   textnorm.New(),
		maxUnitChars: maxUnitChars,
		params:       params,
		jobTimeout:   jobTimeout,
		log:          log,
	}
}

// Run subscribes and blocks until ctx is canceled, then drains the
// subscription.
func (b *Bridge) Run(ctx context.Context) error {
	sub, err := b.conn.Subscribe(b.subject, b.handleMessage)
	if err != nil {
		return fmt.Errorf("failed to subscribe to subject %s: %w", b.subject, err)
	}

	<-ctx.Done()

	drainErr := sub.Drain()
	if drainErr != nil {
		return fmt.Errorf("failed to drain subscription: %w", drainErr)
	}

	return nil
}

func (b *Bridge) handleMessage(msg *nats.Msg) {
	ctx, cancel := context.WithTimeout(context.Background(), b.jobTimeout)
	defer cancel()

	event, err := parseEvent(msg)
	if err != nil {
		b.log.Error("Failed to parse text processed event: %v", err)

		return
	}

	status, err := b.processJob(ctx, event)
	if err != nil {
		b.log.Error("Failed to process job for workflow %s: %v", event.Header.WorkflowID, err)

		return
	}

	err = b.publishReply(msg, event, status)
	if err != nil {
		b.log.Error("Failed to publish reply for workflow %s: %v", event.Header.WorkflowID, err)
	}
}

// processJob turns one workflow message into a scheduled job and waits for
// its terminal state.
func (b *Bridge) processJob(
	ctx context.Context, event *events.TextProcessedEvent,
) (schedule.JobStatus, error) {
	units, err := b.loadUnits(ctx, event.TextKey)
	if err != nil {
		return schedule.JobStatus{}, err
	}

	params := b.params
	if event.Voice != "" {
		params.VoiceID = event.Voice
	}

	jobID := uuid.NewString()

	b.results.Bind(jobID, event.Header, len(units))
	defer b.results.Release(jobID)

	_, err = b.scheduler.SubmitJob(ctx, jobID, units, params)
	if err != nil {
		return schedule.JobStatus{}, fmt.Errorf("failed to submit job: %w", err)
	}

	status, err := b.awaitTerminal(ctx, jobID)
	if err != nil {
		return schedule.JobStatus{}, err
	}

	releaseErr := b.scheduler.ReleaseJob(jobID)
	if releaseErr != nil {
		b.log.Warn("Failed to release job %s: %v", jobID, releaseErr)
	}

	return status, nil
}

// loadUnits downloads the text object, normalizes it, and segments it into
// units with detected chapter boundaries. Text that is empty after
// normalization yields zero units, which becomes a job that completes
// immediately; the caller still receives a reply.
func (b *Bridge) loadUnits(ctx context.Context, textKey string) ([]core.TextUnit, error) {
	textData, err := b.store.Download(ctx, textKey)
	if err != nil {
		return nil, fmt.Errorf("failed to download text data for key '%s': %w", textKey, err)
	}

	normalized := b.normalizer.Normalize(string(textData))
	if strings.TrimSpace(normalized) == "" {
		b.log.Warn("Text object '%s' contains nothing to speak", textKey)

		return nil, nil
	}

	hints := segment.DetectChapters(normalized)
	units := segment.Segment(normalized, hints, b.maxUnitChars)

	return units, nil
}

// awaitTerminal polls the job until it reaches a terminal state. On
// deadline, the job is canceled and the timeout reported.
func (b *Bridge) awaitTerminal(ctx context.Context, jobID string) (schedule.JobStatus, error) {
	ticker := time.NewTicker(statusPollPeriod)
	defer ticker.Stop()

	for {
		status, err := b.scheduler.JobStatus(jobID)
		if err != nil {
			return schedule.JobStatus{}, fmt.Errorf("failed to query job %s: %w", jobID, err)
		}

		if status.State.Terminal() {
			return status, nil
		}

		select {
		case <-ctx.Done():
			_, cancelErr := b.scheduler.CancelJob(jobID)
			if cancelErr != nil {
				b.log.Warn("Failed to cancel timed-out job %s: %v", jobID, cancelErr)
			}

			return schedule.JobStatus{}, fmt.Errorf("%w: job %s", ErrJobTimeout, jobID)
		case <-ticker.C:
		}
	}
}

// publishReply answers the request with a summary event: the AudioKey is the
// object store prefix holding the unit files, PageNumber the number of units
// synthesized, TotalPages the unit count.
func (b *Bridge) publishReply(
	msg *nats.Msg, event *events.TextProcessedEvent, status schedule.JobStatus,
) error {
	header := event.Header
	header.EventID = uuid.NewString()
	header.Timestamp = time.Now().UTC()

	reply := events.AudioChunkCreatedEvent{
		Header:     header,
		AudioKey:   status.JobID,
		PageNumber: status.Progress.UnitsDone,
		TotalPages: status.Progress.UnitsTotal,
	}

	replyData, err := json.Marshal(reply)
	if err != nil {
		return fmt.Errorf("failed to marshal reply event: %w", err)
	}

	err = msg.Respond(replyData)
	if err != nil {
		return fmt.Errorf("failed to publish reply event: %w", err)
	}

	return nil
}

func parseEvent(msg *nats.Msg) (*events.TextProcessedEvent, error) {
	var event events.TextProcessedEvent

	err := json.Unmarshal(msg.Data, &event)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal event: %w", err)
	}

	return &event, nil
}
