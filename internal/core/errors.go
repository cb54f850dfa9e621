package core

import (
	"context"
	"errors"
	"fmt"
)

// ErrorKind classifies a synthesis failure for retry accounting.
type ErrorKind string

// Error kinds reported by adapters and the worker pool.
const (
	// ErrorKindNetwork marks a transient network failure; retried with
	// exponential backoff on network-bound adapters.
	ErrorKindNetwork ErrorKind = "network"
	// ErrorKindResourceExhausted marks a transient local resource failure
	// (model lock contention, exhausted slots); retried once, immediately.
	ErrorKindResourceExhausted ErrorKind = "resource_exhausted"
	// ErrorKindInvalidInput marks an unrecoverable adapter rejection of the
	// unit text or parameters; never retried.
	ErrorKindInvalidInput ErrorKind = "invalid_input"
	// ErrorKindRuntimeFault marks a worker-side crash during synthesis;
	// consumes a retry attempt like any transient failure.
	ErrorKindRuntimeFault ErrorKind = "runtime_fault"
	// ErrorKindCanceled marks cooperative cancellation. Not a failure:
	// excluded from retry accounting and from job failure determination.
	ErrorKindCanceled ErrorKind = "canceled"
)

// Retryable reports whether a failure of this kind may consume a retry
// attempt.
func (k ErrorKind) Retryable() bool {
	switch k {
	case ErrorKindNetwork, ErrorKindResourceExhausted, ErrorKindRuntimeFault:
		return true
	case ErrorKindInvalidInput, ErrorKindCanceled:
		return false
	default:
		return false
	}
}

// Static errors shared across packages.
var (
	// ErrUnknownEngine indicates that no adapter is registered under the
	// requested engine id.
	ErrUnknownEngine = errors.New("unknown engine")
	// ErrUnknownVoice indicates that the adapter does not offer the
	// requested voice.
	ErrUnknownVoice = errors.New("unknown voice")
	// ErrParamOutOfRange indicates a prosody parameter outside the
	// adapter's declared range.
	ErrParamOutOfRange = errors.New("parameter out of range")
	// ErrUnsupportedLanguage indicates a language tag the adapter does not
	// accept.
	ErrUnsupportedLanguage = errors.New("unsupported language")
	// ErrSynthesisCanceled is the sentinel wrapped by cancellation
	// outcomes.
	ErrSynthesisCanceled = errors.New("synthesis canceled")
)

// SynthesisError wraps an adapter or worker failure with its taxonomy kind.
type SynthesisError struct {
	Kind ErrorKind
	Err  error
}

// NewSynthesisError builds a classified synthesis error.
func NewSynthesisError(kind ErrorKind, err error) *SynthesisError {
	return &SynthesisError{Kind: kind, Err: err}
}

// Error implements the error interface.
func (e *SynthesisError) Error() string {
	return fmt.Sprintf("synthesis %s: %v", e.Kind, e.Err)
}

// Unwrap exposes the underlying cause for errors.Is / errors.As.
func (e *SynthesisError) Unwrap() error {
	return e.Err
}

// KindOf extracts the taxonomy kind from an error chain. Context
// cancellation maps to ErrorKindCanceled; unclassified errors are treated as
// transient network failures so that retry policy still applies to adapters
// that forget to classify.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}

	var synthErr *SynthesisError
	if errors.As(err, &synthErr) {
		return synthErr.Kind
	}

	if errors.Is(err, ErrSynthesisCanceled) || errors.Is(err, context.Canceled) {
		return ErrorKindCanceled
	}

	return ErrorKindNetwork
}
