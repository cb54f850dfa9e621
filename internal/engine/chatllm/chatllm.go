// Package chatllm implements the engine adapter for local neural synthesis
// through the chatllm binary. Only one model fits in memory at a time, so
// the adapter declares a local-resource-bound trait with a concurrency cap
// of one; the scheduler respects the cap instead of assuming the backend
// tolerates parallel calls.
package chatllm

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"

	"github.com/book-expert/logger"

	"github.com/book-expert/audiobook-engine/internal/core"
)

// EngineID identifies this adapter in the registry.
const EngineID = "chatllm"

// maxConcurrentModels is the number of models the host can keep loaded.
const maxConcurrentModels = 1

// Static errors.
var (
	// ErrModelPathEmpty indicates that the model path is empty.
	ErrModelPathEmpty = errors.New("model path cannot be empty")
	// ErrSnacModelPathEmpty indicates that the SNAC vocoder path is empty.
	ErrSnacModelPathEmpty = errors.New("snac model path cannot be empty")
)

// voiceCatalog lists the speaker presets baked into the local model.
var voiceCatalog = []core.Voice{
	{ID: "default", Name: "Default", Language: "en", Gender: "neutral"},
	{ID: "male1", Name: "Male 1", Language: "en", Gender: "male"},
	{ID: "female1", Name: "Female 1", Language: "en", Gender: "female"},
}

// Config holds the local model settings.
type Config struct {
	ModelPath         string
	SnacModelPath     string
	Seed              int
	NGL               int
	TopP              float64
	RepetitionPenalty float64
	Temperature       float64
}

// Adapter shells out to the chatllm binary for each unit.
type Adapter struct {
	config Config
	log    *logger.Logger
}

// New creates a chatllm adapter after validating the model paths.
func New(cfg Config, log *logger.Logger) (*Adapter, error) {
	if cfg.ModelPath == "" {
		return nil, ErrModelPathEmpty
	}

	if cfg.SnacModelPath == "" {
		return nil, ErrSnacModelPathEmpty
	}

	return &Adapter{config: cfg, log: log}, nil
}

// ID implements core.Adapter.
func (a *Adapter) ID() string {
	return EngineID
}

// Traits declares the single-model concurrency cap. A transient failure
// here is resource exhaustion, not a network fault, so the scheduler
// retries once immediately instead of backing off.
func (a *Adapter) Traits() core.AdapterTraits {
	return core.AdapterTraits{
		Flavor:        core.LocalResourceBound,
		MaxConcurrent: maxConcurrentModels,
	}
}

// ListVoices returns the model's speaker presets.
func (a *Adapter) ListVoices(_ context.Context) ([]core.Voice, error) {
	voices := make([]core.Voice, len(voiceCatalog))
	copy(voices, voiceCatalog)

	return voices, nil
}

// ParamRanges declares the accepted parameter space. The local model reads
// prosody from the speaker preset; rate and pitch accept only the neutral
// value.
func (a *Adapter) ParamRanges() core.ParamRanges {
	return core.ParamRanges{
		Rate:      core.FloatRange{Min: 1.0, Max: 1.0},
		Pitch:     core.FloatRange{Min: 1.0, Max: 1.0},
		Volume:    core.FloatRange{Min: 0.0, Max: 1.0},
		Languages: []string{"en"},
	}
}

// Synthesize runs the chatllm binary for one unit and returns the WAV bytes
// it exported. The process is killed when ctx is canceled, which surfaces
// as a cancellation outcome rather than a failure.
func (a *Adapter) Synthesize(
	ctx context.Context, unit core.TextUnit, params core.VoiceParams,
) ([]byte, error) {
	tempFile, err := os.CreateTemp("", "audiobook-unit-*.wav")
	if err != nil {
		return nil, core.NewSynthesisError(core.ErrorKindResourceExhausted,
			fmt.Errorf("failed to create temp file for audio output: %w", err))
	}

	defer func() {
		removeErr := os.Remove(tempFile.Name())
		if removeErr != nil {
			a.log.Warn("Failed to remove temp file '%s': %v", tempFile.Name(), removeErr)
		}
	}()

	voice := params.VoiceID
	if voice == "" {
		voice = "default"
	}

	args := []string{
		"-m", a.config.ModelPath,
		"--snac_model", a.config.SnacModelPath,
		"-p", fmt.Sprintf("{%s}: %s", voice, unit.Text),
		"--tts_export", tempFile.Name(),
		"--seed", strconv.Itoa(a.config.Seed),
		"-ngl", strconv.Itoa(a.config.NGL),
		"--top_p", fmt.Sprintf("%.2f", a.config.TopP),
		"--repetition_penalty", fmt.Sprintf("%.2f", a.config.RepetitionPenalty),
		"--temp", fmt.Sprintf("%.2f", a.config.Temperature),
	}

	// #nosec G204 -- model paths are validated at construction
	cmd := exec.CommandContext(ctx, "chatllm", args...)

	output, err := cmd.CombinedOutput()
	if err != nil {
		if ctx.Err() != nil {
			return nil, core.NewSynthesisError(core.ErrorKindCanceled, core.ErrSynthesisCanceled)
		}

		return nil, core.NewSynthesisError(core.ErrorKindResourceExhausted,
			fmt.Errorf("chatllm binary execution failed: %w - output: %s", err, string(output)))
	}

	audio, err := os.ReadFile(tempFile.Name())
	if err != nil {
		return nil, core.NewSynthesisError(core.ErrorKindResourceExhausted,
			fmt.Errorf("failed to read audio data from temp file: %w", err))
	}

	return audio, nil
}
