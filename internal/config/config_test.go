// Package config_test tests the configuration loading for the audiobook
// engine.
package config_test

import (
	"testing"
	"time"

	"github.com/pelletier/go-toml/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/book-expert/audiobook-engine/internal/config"
)

const sampleTOML = `
[nats]
url = "nats://127.0.0.1:4222"
text_processed_subject = "text.processed"
audio_chunk_created_subject = "audio.chunk.created"
object_store_bucket = "AUDIOBOOK_FILES"

[scheduler]
workers = 8
max_retries = 3
backoff_base_seconds = 0.5
backoff_cap_seconds = 30.0
event_buffer_size = 512

[segmentation]
max_unit_chars = 4000

[engines.httpd]
enabled = true
base_url = "http://127.0.0.1:8000"
timeout_seconds = 120
temperature = 0.7

[engines.edge]
enabled = true
default_voice = "en-US-AriaNeural"

[engines.chatllm]
enabled = false
model_path = "models/outetts.gguf"
snac_model_path = "models/snac.gguf"
seed = 42
ngl = 99
top_p = 0.9
repetition_penalty = 1.1
temperature = 0.4

[paths]
base_logs_dir = "/var/log/audiobook-engine"
output_dir = "/var/lib/audiobook-engine/out"
`

func loadSample(t *testing.T) config.Config {
	t.Helper()

	var cfg config.Config

	require.NoError(t, toml.Unmarshal([]byte(sampleTOML), &cfg))

	return cfg
}

func TestConfigUnmarshal(t *testing.T) {
	t.Parallel()

	cfg := loadSample(t)

	assert.Equal(t, "nats://127.0.0.1:4222", cfg.NATS.URL)
	assert.Equal(t, "text.processed", cfg.NATS.TextProcessedSubject)
	assert.Equal(t, "audio.chunk.created", cfg.NATS.AudioChunkCreatedSubject)
	assert.Equal(t, "AUDIOBOOK_FILES", cfg.NATS.ObjectStoreBucket)

	assert.Equal(t, 8, cfg.Scheduler.Workers)
	assert.Equal(t, 3, cfg.Scheduler.MaxRetries)
	assert.Equal(t, 512, cfg.Scheduler.EventBufferSize)
	assert.Equal(t, 4000, cfg.Segmentation.MaxUnitChars)

	assert.True(t, cfg.Engines.HTTPD.Enabled)
	assert.Equal(t, "http://127.0.0.1:8000", cfg.Engines.HTTPD.BaseURL)
	assert.True(t, cfg.Engines.Edge.Enabled)
	assert.Equal(t, "en-US-AriaNeural", cfg.Engines.Edge.DefaultVoice)
	assert.False(t, cfg.Engines.ChatLLM.Enabled)
	assert.Equal(t, "models/outetts.gguf", cfg.Engines.ChatLLM.ModelPath)

	assert.Equal(t, "/var/log/audiobook-engine", cfg.Paths.BaseLogsDir)
	assert.Equal(t, "/var/lib/audiobook-engine/out", cfg.Paths.OutputDir)
}

func TestDurationHelpers(t *testing.T) {
	t.Parallel()

	cfg := loadSample(t)

	assert.Equal(t, 500*time.Millisecond, cfg.Scheduler.BackoffBase())
	assert.Equal(t, 30*time.Second, cfg.Scheduler.BackoffCap())
	assert.Equal(t, 2*time.Minute, cfg.Engines.HTTPD.Timeout())
}

func TestValidate(t *testing.T) {
	t.Parallel()

	valid := loadSample(t)
	require.NoError(t, valid.Validate())

	missingURL := loadSample(t)
	missingURL.NATS.URL = ""
	require.ErrorIs(t, missingURL.Validate(), config.ErrNATSURLEmpty)

	missingBucket := loadSample(t)
	missingBucket.NATS.ObjectStoreBucket = ""
	require.ErrorIs(t, missingBucket.Validate(), config.ErrBucketEmpty)

	missingSubject := loadSample(t)
	missingSubject.NATS.AudioChunkCreatedSubject = ""
	require.ErrorIs(t, missingSubject.Validate(), config.ErrSubjectEmpty)

	noEngines := loadSample(t)
	noEngines.Engines.HTTPD.Enabled = false
	noEngines.Engines.Edge.Enabled = false
	noEngines.Engines.ChatLLM.Enabled = false
	require.ErrorIs(t, noEngines.Validate(), config.ErrNoEngineEnabled)
}
