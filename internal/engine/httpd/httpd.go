// Package httpd implements the engine adapter for the standalone TTS HTTP
// service. The service exposes a JSON speech-generation endpoint returning
// raw WAV bytes plus a health endpoint; this adapter maps that contract onto
// core.Adapter and classifies failures for the scheduler's retry policy.
package httpd

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/book-expert/audiobook-engine/internal/core"
)

// EngineID identifies this adapter in the registry.
const EngineID = "httpd"

// API endpoints.
const (
	apiGenerateSpeech = "/v1/generate/speech"
	apiHealth         = "/health"
)

// HTTP headers.
const (
	headerContentType = "Content-Type"
	headerAccept      = "Accept"
	contentTypeJSON   = "application/json"
	contentTypeWAV    = "audio/wav"
)

// Defaults applied to optional request fields.
const (
	defaultTemperature = 0.75
	defaultLanguage    = "en"
	defaultTimeout     = 120 * time.Second
)

// Static errors.
var (
	// ErrEmptyAudio indicates the service returned a success status with
	// no audio payload.
	ErrEmptyAudio = errors.New("received empty audio data")
	// ErrUnexpectedContentType indicates the service returned something
	// other than WAV audio.
	ErrUnexpectedContentType = errors.New("unexpected content type")
)

// request is the JSON payload for the speech-generation endpoint.
type request struct {
	Text           string  `json:"text"`
	SpeakerRefPath string  `json:"speaker_ref_path,omitempty"`
	Language       string  `json:"language"`
	Temperature    float64 `json:"temperature"`
}

// errorResponse is the structured error body the service returns on
// failure.
type errorResponse struct {
	Detail    string `json:"detail"`
	ErrorCode string `json:"error_code,omitempty"`
}

// Config holds the adapter's connection settings.
type Config struct {
	// BaseURL includes protocol and port, e.g. "http://localhost:8000".
	BaseURL string
	// Timeout bounds each HTTP request. Zero selects a generous default
	// sized for long paragraphs.
	Timeout time.Duration
	// Temperature controls generation randomness; zero selects the
	// service default.
	Temperature float64
}

// Adapter is a network-bound engine adapter backed by the TTS HTTP service.
type Adapter struct {
	httpClient  *http.Client
	baseURL     string
	temperature float64
}

// New creates an adapter for the TTS HTTP service.
func New(cfg Config) *Adapter {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	temperature := cfg.Temperature
	if temperature == 0 {
		temperature = defaultTemperature
	}

	return &Adapter{
		httpClient:  &http.Client{Timeout: timeout},
		baseURL:     cfg.BaseURL,
		temperature: temperature,
	}
}

// ID implements core.Adapter.
func (a *Adapter) ID() string {
	return EngineID
}

// Traits declares this adapter network-bound with no local concurrency cap;
// the service applies its own admission control.
func (a *Adapter) Traits() core.AdapterTraits {
	return core.AdapterTraits{Flavor: core.NetworkBound, MaxConcurrent: 0}
}

// ListVoices reports the single default speaker the service exposes.
func (a *Adapter) ListVoices(_ context.Context) ([]core.Voice, error) {
	return []core.Voice{
		{ID: "default", Name: "Service Default", Language: "en", Gender: "neutral"},
	}, nil
}

// ParamRanges declares the parameter space the service accepts. Rate, pitch
// and volume are fixed server-side, so only the neutral value passes
// validation.
func (a *Adapter) ParamRanges() core.ParamRanges {
	return core.ParamRanges{
		Rate:      core.FloatRange{Min: 1.0, Max: 1.0},
		Pitch:     core.FloatRange{Min: 1.0, Max: 1.0},
		Volume:    core.FloatRange{Min: 0.0, Max: 1.0},
		Languages: nil,
	}
}

// Synthesize sends one unit to the speech-generation endpoint and returns
// the WAV bytes. Failures carry taxonomy kinds: transport problems and 5xx
// responses are network errors, 4xx responses are invalid input, context
// cancellation is a cancellation outcome.
func (a *Adapter) Synthesize(
	ctx context.Context, unit core.TextUnit, params core.VoiceParams,
) ([]byte, error) {
	language := params.Language
	if language == "" {
		language = defaultLanguage
	}

	payload := request{
		Text:           unit.Text,
		SpeakerRefPath: "",
		Language:       language,
		Temperature:    a.temperature,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, core.NewSynthesisError(core.ErrorKindInvalidInput,
			fmt.Errorf("failed to marshal request: %w", err))
	}

	httpReq, err := http.NewRequestWithContext(
		ctx, http.MethodPost, a.baseURL+apiGenerateSpeech, bytes.NewReader(body),
	)
	if err != nil {
		return nil, core.NewSynthesisError(core.ErrorKindInvalidInput,
			fmt.Errorf("failed to create request: %w", err))
	}

	httpReq.Header.Set(headerContentType, contentTypeJSON)
	httpReq.Header.Set(headerAccept, contentTypeWAV)

	resp, err := a.httpClient.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, core.NewSynthesisError(core.ErrorKindCanceled, core.ErrSynthesisCanceled)
		}

		return nil, core.NewSynthesisError(core.ErrorKindNetwork,
			fmt.Errorf("failed to reach TTS service at %s: %w", a.baseURL, err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, a.classifyErrorResponse(resp)
	}

	contentType := resp.Header.Get(headerContentType)
	if contentType != contentTypeWAV {
		return nil, core.NewSynthesisError(core.ErrorKindNetwork,
			fmt.Errorf("%w: expected %s, got %s", ErrUnexpectedContentType, contentTypeWAV, contentType))
	}

	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, core.NewSynthesisError(core.ErrorKindNetwork,
			fmt.Errorf("failed to read audio data: %w", err))
	}

	if len(audio) == 0 {
		return nil, core.NewSynthesisError(core.ErrorKindNetwork, ErrEmptyAudio)
	}

	return audio, nil
}

// Health verifies the service is reachable and reports healthy. Callers use
// it to fail fast before admitting large jobs.
func (a *Adapter) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.baseURL+apiHealth, http.NoBody)
	if err != nil {
		return fmt.Errorf("failed to create health check request: %w", err)
	}

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed for service at %s: %w", a.baseURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check failed with status: %s", resp.Status)
	}

	return nil
}

// classifyErrorResponse maps HTTP failure statuses onto the synthesis error
// taxonomy, preserving the service's structured diagnostics when present.
func (a *Adapter) classifyErrorResponse(resp *http.Response) error {
	kind := core.ErrorKindNetwork
	if resp.StatusCode >= http.StatusBadRequest && resp.StatusCode < http.StatusInternalServerError {
		kind = core.ErrorKindInvalidInput
	}

	var structured errorResponse

	err := json.NewDecoder(resp.Body).Decode(&structured)
	if err == nil && structured.Detail != "" {
		return core.NewSynthesisError(kind,
			fmt.Errorf("TTS service error (%s): %s (code: %s)",
				resp.Status, structured.Detail, structured.ErrorCode))
	}

	body, _ := io.ReadAll(resp.Body)

	return core.NewSynthesisError(kind,
		fmt.Errorf("TTS service returned non-OK status: %s, body: %s", resp.Status, string(body)))
}
