// Package engine_test tests the adapter registry and parameter validation.
package engine_test

import (
	"context"
	"testing"

	"github.com/book-expert/audiobook-engine/internal/core"
	"github.com/book-expert/audiobook-engine/internal/engine"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubAdapter is a minimal adapter for registry tests.
type stubAdapter struct {
	id     string
	traits core.AdapterTraits
	voices []core.Voice
	ranges core.ParamRanges
}

func (s *stubAdapter) ID() string { return s.id }

func (s *stubAdapter) Traits() core.AdapterTraits { return s.traits }

func (s *stubAdapter) ListVoices(_ context.Context) ([]core.Voice, error) {
	return s.voices, nil
}

func (s *stubAdapter) ParamRanges() core.ParamRanges { return s.ranges }

func (s *stubAdapter) Synthesize(
	_ context.Context, _ core.TextUnit, _ core.VoiceParams,
) ([]byte, error) {
	return []byte("stub audio"), nil
}

func newStubAdapter(id string) *stubAdapter {
	return &stubAdapter{
		id:     id,
		traits: core.AdapterTraits{Flavor: core.NetworkBound, MaxConcurrent: 0},
		voices: []core.Voice{
			{ID: "narrator", Name: "Narrator", Language: "en", Gender: "female"},
		},
		ranges: core.ParamRanges{
			Rate:      core.FloatRange{Min: 0.5, Max: 2.0},
			Pitch:     core.FloatRange{Min: 0.5, Max: 2.0},
			Volume:    core.FloatRange{Min: 0.0, Max: 1.0},
			Languages: []string{"en", "es"},
		},
	}
}

func validParams(engineID string) core.VoiceParams {
	return core.VoiceParams{
		EngineID: engineID,
		VoiceID:  "narrator",
		Rate:     1.0,
		Pitch:    1.0,
		Volume:   0.8,
		Language: "en",
	}
}

func TestRegistry_RegisterAndLookup(t *testing.T) {
	t.Parallel()

	registry := engine.NewRegistry()

	require.NoError(t, registry.Register(newStubAdapter("stub")))

	adapter, err := registry.Lookup("stub")
	require.NoError(t, err)
	assert.Equal(t, "stub", adapter.ID())
}

func TestRegistry_DuplicateRejected(t *testing.T) {
	t.Parallel()

	registry := engine.NewRegistry()

	require.NoError(t, registry.Register(newStubAdapter("stub")))

	err := registry.Register(newStubAdapter("stub"))
	require.ErrorIs(t, err, engine.ErrDuplicateEngine)
}

func TestRegistry_LookupUnknown(t *testing.T) {
	t.Parallel()

	registry := engine.NewRegistry()

	_, err := registry.Lookup("missing")
	require.ErrorIs(t, err, core.ErrUnknownEngine)
}

func TestRegistry_IDsSorted(t *testing.T) {
	t.Parallel()

	registry := engine.NewRegistry()

	require.NoError(t, registry.Register(newStubAdapter("zeta")))
	require.NoError(t, registry.Register(newStubAdapter("alpha")))

	assert.Equal(t, []string{"alpha", "zeta"}, registry.IDs())
}

// probedAdapter adds a health probe to the stub.
type probedAdapter struct {
	stubAdapter

	healthErr error
}

func (p *probedAdapter) Health(_ context.Context) error { return p.healthErr }

func TestRegistry_Available(t *testing.T) {
	t.Parallel()

	registry := engine.NewRegistry()

	require.NoError(t, registry.Register(newStubAdapter("plain")))

	down := &probedAdapter{stubAdapter: *newStubAdapter("down"), healthErr: assert.AnError}
	up := &probedAdapter{stubAdapter: *newStubAdapter("up"), healthErr: nil}

	require.NoError(t, registry.Register(down))
	require.NoError(t, registry.Register(up))

	availability := registry.Available(context.Background())

	require.Len(t, availability, 3)
	require.NoError(t, availability["plain"])
	require.NoError(t, availability["up"])
	require.ErrorIs(t, availability["down"], assert.AnError)
}

func TestValidateParams_Accepts(t *testing.T) {
	t.Parallel()

	registry := engine.NewRegistry()
	require.NoError(t, registry.Register(newStubAdapter("stub")))

	require.NoError(t, registry.ValidateParams(context.Background(), validParams("stub")))
}

func TestValidateParams_Rejections(t *testing.T) {
	t.Parallel()

	registry := engine.NewRegistry()
	require.NoError(t, registry.Register(newStubAdapter("stub")))

	tests := []struct {
		name    string
		mutate  func(*core.VoiceParams)
		wantErr error
	}{
		{
			name:    "unknown engine",
			mutate:  func(p *core.VoiceParams) { p.EngineID = "missing" },
			wantErr: core.ErrUnknownEngine,
		},
		{
			name:    "unknown voice",
			mutate:  func(p *core.VoiceParams) { p.VoiceID = "ghost" },
			wantErr: core.ErrUnknownVoice,
		},
		{
			name:    "rate too high",
			mutate:  func(p *core.VoiceParams) { p.Rate = 3.5 },
			wantErr: core.ErrParamOutOfRange,
		},
		{
			name:    "volume negative",
			mutate:  func(p *core.VoiceParams) { p.Volume = -0.1 },
			wantErr: core.ErrParamOutOfRange,
		},
		{
			name:    "unsupported language",
			mutate:  func(p *core.VoiceParams) { p.Language = "xx" },
			wantErr: core.ErrUnsupportedLanguage,
		},
	}

	for _, testCase := range tests {
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			params := validParams("stub")
			testCase.mutate(&params)

			err := registry.ValidateParams(context.Background(), params)
			require.ErrorIs(t, err, testCase.wantErr)
		})
	}
}
