package chatllm_test

import (
	"context"
	"testing"

	"github.com/book-expert/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/book-expert/audiobook-engine/internal/core"
	"github.com/book-expert/audiobook-engine/internal/engine/chatllm"
)

func newTestLogger(t *testing.T) *logger.Logger {
	t.Helper()

	log, err := logger.New(t.TempDir(), "chatllm-test.log")
	require.NoError(t, err)

	t.Cleanup(func() {
		closeErr := log.Close()
		require.NoError(t, closeErr)
	})

	return log
}

func testConfig() chatllm.Config {
	return chatllm.Config{
		ModelPath:         "/models/tts.gguf",
		SnacModelPath:     "/models/snac.gguf",
		Seed:              42,
		NGL:               99,
		TopP:              0.95,
		RepetitionPenalty: 1.1,
		Temperature:       0.7,
	}
}

func TestNewRejectsMissingModelPaths(t *testing.T) {
	t.Parallel()

	log := newTestLogger(t)

	cfg := testConfig()
	cfg.ModelPath = ""

	_, err := chatllm.New(cfg, log)
	require.ErrorIs(t, err, chatllm.ErrModelPathEmpty)

	cfg = testConfig()
	cfg.SnacModelPath = ""

	_, err = chatllm.New(cfg, log)
	require.ErrorIs(t, err, chatllm.ErrSnacModelPathEmpty)
}

func TestAdapterIdentityAndTraits(t *testing.T) {
	t.Parallel()

	adapter, err := chatllm.New(testConfig(), newTestLogger(t))
	require.NoError(t, err)

	assert.Equal(t, chatllm.EngineID, adapter.ID())

	traits := adapter.Traits()
	assert.Equal(t, core.LocalResourceBound, traits.Flavor)
	assert.Equal(t, 1, traits.MaxConcurrent)
}

func TestListVoicesReturnsIsolatedCopy(t *testing.T) {
	t.Parallel()

	adapter, err := chatllm.New(testConfig(), newTestLogger(t))
	require.NoError(t, err)

	voices, err := adapter.ListVoices(context.Background())
	require.NoError(t, err)
	require.NotEmpty(t, voices)

	voices[0].ID = "mutated"

	again, err := adapter.ListVoices(context.Background())
	require.NoError(t, err)
	assert.NotEqual(t, "mutated", again[0].ID)
}

func TestSynthesizeHonorsCanceledContext(t *testing.T) {
	t.Parallel()

	adapter, err := chatllm.New(testConfig(), newTestLogger(t))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	unit := core.TextUnit{
		ID:             0,
		Kind:           core.UnitParagraph,
		Text:           "Hello.",
		EstimatedChars: 6,
	}
	params := core.VoiceParams{
		EngineID: chatllm.EngineID,
		VoiceID:  "default",
		Rate:     1.0,
		Pitch:    1.0,
		Volume:   1.0,
		Language: "en",
	}

	_, synthErr := adapter.Synthesize(ctx, unit, params)
	require.Error(t, synthErr)
	assert.Equal(t, core.ErrorKindCanceled, core.KindOf(synthErr))
}
