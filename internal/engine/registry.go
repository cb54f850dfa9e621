// Package engine maintains the open registry of speech-synthesis backends.
//
// Backends qualify by implementing core.Adapter; they register under their
// engine id together with a declared trait (network-bound or
// local-resource-bound) that the scheduler uses to pick retry policy. There
// is no inheritance hierarchy, only the capability contract.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/book-expert/audiobook-engine/internal/core"
)

// ErrDuplicateEngine indicates that an adapter is already registered under
// the same engine id.
var ErrDuplicateEngine = errors.New("duplicate engine id")

// Registry is a concurrency-safe set of registered adapters keyed by engine
// id.
type Registry struct {
	mu       sync.RWMutex
	adapters map[string]core.Adapter
}

// NewRegistry creates an empty adapter registry.
func NewRegistry() *Registry {
	return &Registry{
		adapters: make(map[string]core.Adapter),
	}
}

// Register adds an adapter under its own id. Registering two adapters with
// the same id is a programming error and is rejected.
func (r *Registry) Register(adapter core.Adapter) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := adapter.ID()
	if _, exists := r.adapters[id]; exists {
		return fmt.Errorf("%w: %q", ErrDuplicateEngine, id)
	}

	r.adapters[id] = adapter

	return nil
}

// Lookup resolves an engine id to its adapter.
func (r *Registry) Lookup(engineID string) (core.Adapter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	adapter, ok := r.adapters[engineID]
	if !ok {
		return nil, fmt.Errorf("%w: %q", core.ErrUnknownEngine, engineID)
	}

	return adapter, nil
}

// IDs returns the registered engine ids in sorted order.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.adapters))
	for id := range r.adapters {
		ids = append(ids, id)
	}

	sort.Strings(ids)

	return ids
}

// healthChecker is implemented by adapters that can probe their backend.
type healthChecker interface {
	Health(ctx context.Context) error
}

// Available reports per-engine availability. Adapters without a health probe
// count as available; the scheduler dispatches to them and relies on the
// retry policy when the backend turns out to be down.
func (r *Registry) Available(ctx context.Context) map[string]error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	availability := make(map[string]error, len(r.adapters))

	for id, adapter := range r.adapters {
		checker, ok := adapter.(healthChecker)
		if !ok {
			availability[id] = nil

			continue
		}

		availability[id] = checker.Health(ctx)
	}

	return availability
}

// ValidateParams checks voice parameters against the bound adapter's
// declared voices and ranges. Jobs with invalid parameters are rejected at
// creation time; an accepted job never sees a parameter error mid-run.
func (r *Registry) ValidateParams(ctx context.Context, params core.VoiceParams) error {
	adapter, err := r.Lookup(params.EngineID)
	if err != nil {
		return err
	}

	voices, err := adapter.ListVoices(ctx)
	if err != nil {
		return fmt.Errorf("failed to list voices for engine %q: %w", params.EngineID, err)
	}

	if !voiceKnown(voices, params.VoiceID) {
		return fmt.Errorf("%w: %q on engine %q", core.ErrUnknownVoice, params.VoiceID, params.EngineID)
	}

	ranges := adapter.ParamRanges()

	err = checkRanges(ranges, params)
	if err != nil {
		return err
	}

	if len(ranges.Languages) > 0 && params.Language != "" && !languageKnown(ranges.Languages, params.Language) {
		return fmt.Errorf("%w: %q on engine %q", core.ErrUnsupportedLanguage, params.Language, params.EngineID)
	}

	return nil
}

func voiceKnown(voices []core.Voice, voiceID string) bool {
	for _, voice := range voices {
		if voice.ID == voiceID {
			return true
		}
	}

	return false
}

func languageKnown(languages []string, language string) bool {
	for _, candidate := range languages {
		if candidate == language {
			return true
		}
	}

	return false
}

func checkRanges(ranges core.ParamRanges, params core.VoiceParams) error {
	if !ranges.Rate.Contains(params.Rate) {
		return fmt.Errorf("%w: rate %.2f outside [%.2f, %.2f]",
			core.ErrParamOutOfRange, params.Rate, ranges.Rate.Min, ranges.Rate.Max)
	}

	if !ranges.Pitch.Contains(params.Pitch) {
		return fmt.Errorf("%w: pitch %.2f outside [%.2f, %.2f]",
			core.ErrParamOutOfRange, params.Pitch, ranges.Pitch.Min, ranges.Pitch.Max)
	}

	if !ranges.Volume.Contains(params.Volume) {
		return fmt.Errorf("%w: volume %.2f outside [%.2f, %.2f]",
			core.ErrParamOutOfRange, params.Volume, ranges.Volume.Min, ranges.Volume.Max)
	}

	return nil
}
