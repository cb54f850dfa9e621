package core

import "context"

// AdapterFlavor distinguishes the failure and concurrency profile of a
// synthesis backend. The scheduler picks retry policy per flavor, not per
// job.
type AdapterFlavor string

// Adapter flavors.
const (
	// NetworkBound adapters call a remote service; transient failures are
	// network errors and benefit from retry with backoff.
	NetworkBound AdapterFlavor = "network_bound"
	// LocalResourceBound adapters run a local model or binary; transient
	// failures are resource exhaustion and either resolve immediately or
	// not at all.
	LocalResourceBound AdapterFlavor = "local_resource_bound"
)

// AdapterTraits declares the scheduling-relevant properties of an adapter.
type AdapterTraits struct {
	Flavor AdapterFlavor
	// MaxConcurrent caps simultaneous Synthesize calls the adapter can
	// serve. Zero means no adapter-imposed cap.
	MaxConcurrent int
}

// Adapter is the uniform capability contract each TTS backend implements.
// Synthesize must honor ctx cancellation promptly and report it as a
// cancellation outcome (ErrorKindCanceled), never as a generic failure.
// Adapters are stateless per call; any internal resource limit is declared
// through Traits rather than assumed safe for unbounded concurrency.
type Adapter interface {
	ID() string
	Traits() AdapterTraits
	ListVoices(ctx context.Context) ([]Voice, error)
	ParamRanges() ParamRanges
	Synthesize(ctx context.Context, unit TextUnit, params VoiceParams) ([]byte, error)
}

// UnitOutcome is the terminal disposition of a unit as reported to the
// result sink.
type UnitOutcome string

// Unit outcomes.
const (
	OutcomeSucceeded UnitOutcome = "succeeded"
	OutcomeFailed    UnitOutcome = "failed"
	OutcomeCanceled  UnitOutcome = "canceled"
)

// UnitDelivery is one indexed result handed to the sink. Audio is non-nil
// only for succeeded units. Deliveries are indexed by unit id rather than
// buffered into order inside the engine; reordering is the sink's
// responsibility.
type UnitDelivery struct {
	JobID    string
	Unit     TextUnit
	Outcome  UnitOutcome
	Attempts int
	Audio    []byte
	Err      error
}

// ResultSink consumes per-unit terminal outcomes. The engine guarantees
// exactly one delivery per unit, covering succeeded, permanently failed, and
// canceled units alike, so downstream assembly can decide how to handle
// gaps.
type ResultSink interface {
	Deliver(ctx context.Context, delivery UnitDelivery) error
}

// ObjectStore is a key-value blob store used to exchange source text and
// synthesized audio with collaborating services.
type ObjectStore interface {
	Download(ctx context.Context, key string) ([]byte, error)
	Upload(ctx context.Context, key string, data []byte) error
}
