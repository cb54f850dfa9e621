// Package httpd_test tests the HTTP service adapter.
package httpd_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/book-expert/audiobook-engine/internal/core"
	"github.com/book-expert/audiobook-engine/internal/engine/httpd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testAudio = "fake-wav-bytes"

func testUnit() core.TextUnit {
	return core.TextUnit{
		ID:             0,
		SourceOffset:   0,
		Text:           "Hello world.",
		Kind:           core.UnitParagraph,
		EstimatedChars: 12,
	}
}

func testParams() core.VoiceParams {
	return core.VoiceParams{
		EngineID: httpd.EngineID,
		VoiceID:  "default",
		Rate:     1.0,
		Pitch:    1.0,
		Volume:   1.0,
		Language: "en",
	}
}

func successHandler(t *testing.T) http.HandlerFunc {
	t.Helper()

	return func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/v1/generate/speech", r.URL.Path)

		var payload struct {
			Text     string `json:"text"`
			Language string `json:"language"`
		}

		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		assert.Equal(t, "Hello world.", payload.Text)
		assert.Equal(t, "en", payload.Language)

		w.Header().Set("Content-Type", "audio/wav")
		_, _ = w.Write([]byte(testAudio))
	}
}

func TestSynthesize_Success(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(successHandler(t))
	defer server.Close()

	adapter := httpd.New(httpd.Config{BaseURL: server.URL, Timeout: 5 * time.Second, Temperature: 0})

	audio, err := adapter.Synthesize(context.Background(), testUnit(), testParams())
	require.NoError(t, err)
	assert.Equal(t, []byte(testAudio), audio)
}

func TestSynthesize_ServerErrorIsNetworkKind(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, `{"detail":"model crashed"}`, http.StatusInternalServerError)
	}))
	defer server.Close()

	adapter := httpd.New(httpd.Config{BaseURL: server.URL, Timeout: 5 * time.Second, Temperature: 0})

	_, err := adapter.Synthesize(context.Background(), testUnit(), testParams())
	require.Error(t, err)
	assert.Equal(t, core.ErrorKindNetwork, core.KindOf(err))
}

func TestSynthesize_BadRequestIsInvalidInput(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, `{"detail":"text too long","error_code":"TEXT_TOO_LONG"}`, http.StatusBadRequest)
	}))
	defer server.Close()

	adapter := httpd.New(httpd.Config{BaseURL: server.URL, Timeout: 5 * time.Second, Temperature: 0})

	_, err := adapter.Synthesize(context.Background(), testUnit(), testParams())
	require.Error(t, err)
	assert.Equal(t, core.ErrorKindInvalidInput, core.KindOf(err))
	assert.Contains(t, err.Error(), "text too long")
}

func TestSynthesize_CanceledContext(t *testing.T) {
	t.Parallel()

	blocked := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		<-blocked

		w.Header().Set("Content-Type", "audio/wav")
		_, _ = w.Write([]byte(testAudio))
	}))

	defer func() {
		close(blocked)
		server.Close()
	}()

	adapter := httpd.New(httpd.Config{BaseURL: server.URL, Timeout: 30 * time.Second, Temperature: 0})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	_, err := adapter.Synthesize(ctx, testUnit(), testParams())
	require.Error(t, err)
	assert.Equal(t, core.ErrorKindCanceled, core.KindOf(err))
}

func TestSynthesize_WrongContentType(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		_, _ = w.Write([]byte("not audio"))
	}))
	defer server.Close()

	adapter := httpd.New(httpd.Config{BaseURL: server.URL, Timeout: 5 * time.Second, Temperature: 0})

	_, err := adapter.Synthesize(context.Background(), testUnit(), testParams())
	require.ErrorIs(t, err, httpd.ErrUnexpectedContentType)
}

func TestHealth(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/health", r.URL.Path)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	adapter := httpd.New(httpd.Config{BaseURL: server.URL, Timeout: 5 * time.Second, Temperature: 0})

	require.NoError(t, adapter.Health(context.Background()))
}

func TestTraits(t *testing.T) {
	t.Parallel()

	adapter := httpd.New(httpd.Config{BaseURL: "http://localhost:8000", Timeout: 0, Temperature: 0})

	traits := adapter.Traits()
	assert.Equal(t, core.NetworkBound, traits.Flavor)
	assert.Zero(t, traits.MaxConcurrent)
}
