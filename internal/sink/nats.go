package sink

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/book-expert/events"
	"github.com/book-expert/logger"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"github.com/book-expert/audiobook-engine/internal/audio"
	"github.com/book-expert/audiobook-engine/internal/core"
)

// ErrJobNotBound indicates a delivery for a job that was never bound to a
// workflow.
var ErrJobNotBound = errors.New("job is not bound to a workflow")

// binding ties a scheduler job to the workflow that requested it.
type binding struct {
	header     events.EventHeader
	totalUnits int
}

// Nats uploads each successful unit's audio to the object store and
// announces it with an AudioChunkCreatedEvent on the configured subject.
// Jobs must be bound to their originating workflow header before the first
// delivery arrives; Bind before submit, Release after the job is done.
//
// Failures and cancellations produce no event, only the upload of successes;
// the job-level outcome travels through the scheduler's own status surface.
type Nats struct {
	conn    *nats.Conn
	store   core.ObjectStore
	subject string
	log     *logger.Logger

	mu       sync.Mutex
	bindings map[string]binding
}

// NewNats creates a NATS-backed sink publishing to subject.
func NewNats(conn *nats.Conn, store core.ObjectStore, subject string, log *logger.Logger) *Nats {
	return &Nats{
		conn:     conn,
		store:    store,
		subject:  subject,
		log:      log,
		mu:       sync.Mutex{},
		bindings: make(map[string]binding),
	}
}

// Bind associates a job with the workflow header its events must carry.
func (n *Nats) Bind(jobID string, header events.EventHeader, totalUnits int) {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.bindings[jobID] = binding{header: header, totalUnits: totalUnits}
}

// Release drops a job's binding.
func (n *Nats) Release(jobID string) {
	n.mu.Lock()
	defer n.mu.Unlock()

	delete(n.bindings, jobID)
}

// Deliver implements core.ResultSink.
func (n *Nats) Deliver(ctx context.Context, delivery core.UnitDelivery) error {
	n.mu.Lock()
	bound, ok := n.bindings[delivery.JobID]
	n.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %q", ErrJobNotBound, delivery.JobID)
	}

	if delivery.Outcome != core.OutcomeSucceeded {
		n.log.Warn("Unit %d of job %s ended %s after %d attempts",
			delivery.Unit.ID, delivery.JobID, delivery.Outcome, delivery.Attempts)

		return nil
	}

	audioKey := fmt.Sprintf("%s/"+unitFileFormat,
		delivery.JobID, delivery.Unit.ID, audio.DetectFormat(delivery.Audio).Extension())

	err := n.store.Upload(ctx, audioKey, delivery.Audio)
	if err != nil {
		return fmt.Errorf("failed to upload audio for key %q: %w", audioKey, err)
	}

	return n.publishChunkEvent(bound, delivery, audioKey)
}

func (n *Nats) publishChunkEvent(bound binding, delivery core.UnitDelivery, audioKey string) error {
	header := bound.header
	header.EventID = uuid.NewString()
	header.Timestamp = time.Now().UTC()

	chunkEvent := events.AudioChunkCreatedEvent{
		Header:     header,
		AudioKey:   audioKey,
		PageNumber: delivery.Unit.ID + 1,
		TotalPages: bound.totalUnits,
	}

	payload, err := json.Marshal(chunkEvent)
	if err != nil {
		return fmt.Errorf("failed to marshal audio chunk event: %w", err)
	}

	err = n.conn.Publish(n.subject, payload)
	if err != nil {
		return fmt.Errorf("failed to publish audio chunk event: %w", err)
	}

	return nil
}
