// Package core defines the shared data model and contracts for the
// audiobook synthesis engine: text units, voice parameters, unit and job
// states, and the engine adapter interface implemented by every backend.
package core

// UnitKind classifies how a text unit was produced by the segmenter.
type UnitKind string

// Unit kinds.
const (
	UnitParagraph        UnitKind = "paragraph"
	UnitChapterBreak     UnitKind = "chapter_break"
	UnitSentenceFragment UnitKind = "sentence_fragment"
)

// TextUnit is the smallest ordered, independently synthesizable chunk of
// source text. Units are immutable once produced; the ID sequence within a
// job is contiguous, starts at zero, and is the authoritative ordering
// contract for downstream audio assembly.
type TextUnit struct {
	ID             int      `json:"id"`
	SourceOffset   int      `json:"source_offset"`
	Text           string   `json:"text"`
	Kind           UnitKind `json:"kind"`
	EstimatedChars int      `json:"estimated_chars"`
}

// Voice describes one selectable voice of a synthesis backend.
type Voice struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Language string `json:"language"`
	Gender   string `json:"gender"`
}

// VoiceParams binds a job to a specific engine, voice, and prosody settings.
// Values are validated against the adapter's declared ranges when the job is
// created, never at synthesis time.
type VoiceParams struct {
	EngineID string  `json:"engine_id"`
	VoiceID  string  `json:"voice_id"`
	Rate     float64 `json:"rate"`
	Pitch    float64 `json:"pitch"`
	Volume   float64 `json:"volume"`
	Language string  `json:"language"`
}

// FloatRange is an inclusive numeric parameter range.
type FloatRange struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

// Contains reports whether v falls inside the range.
func (r FloatRange) Contains(v float64) bool {
	return v >= r.Min && v <= r.Max
}

// ParamRanges declares the prosody ranges an adapter accepts. An empty
// Languages slice means the adapter accepts any language tag.
type ParamRanges struct {
	Rate      FloatRange `json:"rate"`
	Pitch     FloatRange `json:"pitch"`
	Volume    FloatRange `json:"volume"`
	Languages []string   `json:"languages"`
}

// UnitState is the lifecycle state of a single text unit within a job.
type UnitState string

// Unit states.
const (
	UnitPending   UnitState = "pending"
	UnitRunning   UnitState = "running"
	UnitSucceeded UnitState = "succeeded"
	UnitFailed    UnitState = "failed"
	UnitSkipped   UnitState = "skipped"
)

// Terminal reports whether the state admits no further transitions.
func (s UnitState) Terminal() bool {
	return s == UnitSucceeded || s == UnitFailed || s == UnitSkipped
}

// JobState is the aggregate state of a job.
type JobState string

// Job states.
const (
	JobQueued    JobState = "queued"
	JobRunning   JobState = "running"
	JobPaused    JobState = "paused"
	JobCompleted JobState = "completed"
	JobFailed    JobState = "failed"
	JobCanceled  JobState = "canceled"
)

// Terminal reports whether the job state admits no further transitions.
func (s JobState) Terminal() bool {
	return s == JobCompleted || s == JobFailed || s == JobCanceled
}

// UnitResult records the outcome of one unit. Audio is present iff the unit
// succeeded. A succeeded result is immutable; a retry always starts a fresh
// attempt, it never rewrites history.
type UnitResult struct {
	UnitID    int
	State     UnitState
	Attempts  int
	Audio     []byte
	LastError error
}

// UnitFailure summarizes one permanently failed unit for job status queries,
// so callers can resubmit just the failed subset.
type UnitFailure struct {
	UnitID   int       `json:"unit_id"`
	Kind     ErrorKind `json:"kind"`
	Attempts int       `json:"attempts"`
	Message  string    `json:"message"`
}
