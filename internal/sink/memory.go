// Package sink provides the delivery targets for terminal unit results. The
// scheduler pushes exactly one delivery per unit; sinks decide where the
// audio lands: process memory, a directory tree, or a NATS object store with
// event notifications.
package sink

import (
	"context"
	"sync"

	"github.com/book-expert/audiobook-engine/internal/core"
)

// Memory keeps deliveries in process memory, grouped by job. It backs the
// embedded API surface and tests.
type Memory struct {
	mu    sync.Mutex
	byJob map[string][]core.UnitDelivery
}

// NewMemory creates an empty in-memory sink.
func NewMemory() *Memory {
	return &Memory{
		mu:    sync.Mutex{},
		byJob: make(map[string][]core.UnitDelivery),
	}
}

// Deliver implements core.ResultSink.
func (m *Memory) Deliver(_ context.Context, delivery core.UnitDelivery) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.byJob[delivery.JobID] = append(m.byJob[delivery.JobID], delivery)

	return nil
}

// Deliveries returns the job's deliveries in arrival order.
func (m *Memory) Deliveries(jobID string) []core.UnitDelivery {
	m.mu.Lock()
	defer m.mu.Unlock()

	deliveries := m.byJob[jobID]
	out := make([]core.UnitDelivery, len(deliveries))
	copy(out, deliveries)

	return out
}

// Audio returns the successful audio payloads keyed by unit id.
func (m *Memory) Audio(jobID string) map[int][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make(map[int][]byte)

	for _, delivery := range m.byJob[jobID] {
		if delivery.Outcome == core.OutcomeSucceeded {
			out[delivery.Unit.ID] = delivery.Audio
		}
	}

	return out
}

// Release drops a job's deliveries.
func (m *Memory) Release(jobID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.byJob, jobID)
}
