// Package edge implements the engine adapter for Microsoft Edge's cloud
// speech service, using the edge-tts-go client. The service is free-tier
// and rate-limited, which makes it the canonical network-bound backend:
// transient failures are network errors and retry with backoff pays off.
package edge

import (
	"context"
	"fmt"

	"github.com/wujunwei928/edge-tts-go/edge_tts"

	"github.com/book-expert/audiobook-engine/internal/core"
)

// EngineID identifies this adapter in the registry.
const EngineID = "edge"

// DefaultVoice is used when the adapter is constructed without one.
const DefaultVoice = "en-US-AriaNeural"

// voiceCatalog lists the neural voices this adapter offers. The cloud
// catalog is far larger; this subset covers the languages the engine is
// deployed for and keeps validation offline.
var voiceCatalog = []core.Voice{
	{ID: "en-US-AriaNeural", Name: "Aria", Language: "en-US", Gender: "female"},
	{ID: "en-US-GuyNeural", Name: "Guy", Language: "en-US", Gender: "male"},
	{ID: "en-GB-SoniaNeural", Name: "Sonia", Language: "en-GB", Gender: "female"},
	{ID: "de-DE-KatjaNeural", Name: "Katja", Language: "de-DE", Gender: "female"},
	{ID: "fr-FR-DeniseNeural", Name: "Denise", Language: "fr-FR", Gender: "female"},
	{ID: "zh-CN-XiaoxiaoNeural", Name: "Xiaoxiao", Language: "zh-CN", Gender: "female"},
	{ID: "zh-CN-YunxiNeural", Name: "Yunxi", Language: "zh-CN", Gender: "male"},
	{ID: "ja-JP-NanamiNeural", Name: "Nanami", Language: "ja-JP", Gender: "female"},
}

// synthesisResult carries the outcome of one cloud call back across the
// cancellation select.
type synthesisResult struct {
	audio []byte
	err   error
}

// Adapter is the network-bound Edge cloud adapter.
type Adapter struct {
	defaultVoice string
}

// New creates an Edge adapter. An empty defaultVoice selects DefaultVoice.
func New(defaultVoice string) *Adapter {
	if defaultVoice == "" {
		defaultVoice = DefaultVoice
	}

	return &Adapter{defaultVoice: defaultVoice}
}

// ID implements core.Adapter.
func (a *Adapter) ID() string {
	return EngineID
}

// Traits declares the adapter network-bound with no local concurrency cap.
func (a *Adapter) Traits() core.AdapterTraits {
	return core.AdapterTraits{Flavor: core.NetworkBound, MaxConcurrent: 0}
}

// ListVoices returns the supported voice catalog.
func (a *Adapter) ListVoices(_ context.Context) ([]core.Voice, error) {
	voices := make([]core.Voice, len(voiceCatalog))
	copy(voices, voiceCatalog)

	return voices, nil
}

// ParamRanges declares what the cloud service accepts. Prosody is shaped by
// the selected neural voice; rate, pitch and volume accept the neutral
// midpoint only.
func (a *Adapter) ParamRanges() core.ParamRanges {
	languages := make([]string, 0, len(voiceCatalog))
	for _, voice := range voiceCatalog {
		languages = append(languages, voice.Language)
	}

	return core.ParamRanges{
		Rate:      core.FloatRange{Min: 1.0, Max: 1.0},
		Pitch:     core.FloatRange{Min: 1.0, Max: 1.0},
		Volume:    core.FloatRange{Min: 0.0, Max: 1.0},
		Languages: languages,
	}
}

// Synthesize sends one unit to the Edge cloud and returns the synthesized
// MP3 bytes. The client library does not accept a context, so the call runs
// in its own goroutine and the adapter returns a cancellation outcome as
// soon as ctx is done; the orphaned call finishes and is discarded.
func (a *Adapter) Synthesize(
	ctx context.Context, unit core.TextUnit, params core.VoiceParams,
) ([]byte, error) {
	voice := params.VoiceID
	if voice == "" {
		voice = a.defaultVoice
	}

	results := make(chan synthesisResult, 1)

	go func() {
		results <- a.callCloud(voice, unit.Text)
	}()

	select {
	case <-ctx.Done():
		return nil, core.NewSynthesisError(core.ErrorKindCanceled, core.ErrSynthesisCanceled)
	case result := <-results:
		if result.err != nil {
			return nil, core.NewSynthesisError(core.ErrorKindNetwork, result.err)
		}

		return result.audio, nil
	}
}

// callCloud performs the blocking edge-tts exchange.
func (a *Adapter) callCloud(voice, text string) synthesisResult {
	communicate, err := edge_tts.NewCommunicate(text, edge_tts.SetVoice(voice))
	if err != nil {
		return synthesisResult{
			audio: nil,
			err:   fmt.Errorf("failed to create Edge TTS communicator: %w", err),
		}
	}

	audio, err := communicate.Stream()
	if err != nil {
		return synthesisResult{
			audio: nil,
			err:   fmt.Errorf("edge TTS synthesis failed: %w", err),
		}
	}

	return synthesisResult{audio: audio, err: nil}
}
