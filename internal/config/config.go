// Package config provides the configuration structure for the audiobook
// engine. Configuration is TOML loaded through the configurator, which
// resolves the file from the environment.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/book-expert/configurator"
	"github.com/book-expert/logger"
)

// Static errors.
var (
	// ErrNATSURLEmpty indicates a missing NATS server URL.
	ErrNATSURLEmpty = errors.New("nats url cannot be empty")
	// ErrBucketEmpty indicates a missing object store bucket name.
	ErrBucketEmpty = errors.New("object store bucket cannot be empty")
	// ErrSubjectEmpty indicates a missing NATS subject.
	ErrSubjectEmpty = errors.New("nats subject cannot be empty")
	// ErrNoEngineEnabled indicates that no synthesis engine is configured.
	ErrNoEngineEnabled = errors.New("at least one engine must be enabled")
)

// NATSConfig holds the messaging and object store settings.
type NATSConfig struct {
	URL                      string `toml:"url"`
	TextProcessedSubject     string `toml:"text_processed_subject"`
	AudioChunkCreatedSubject string `toml:"audio_chunk_created_subject"`
	ObjectStoreBucket        string `toml:"object_store_bucket"`
}

// SchedulerConfig tunes the worker pool and retry policy.
type SchedulerConfig struct {
	Workers            int     `toml:"workers"`
	MaxRetries         int     `toml:"max_retries"`
	BackoffBaseSeconds float64 `toml:"backoff_base_seconds"`
	BackoffCapSeconds  float64 `toml:"backoff_cap_seconds"`
	EventBufferSize    int     `toml:"event_buffer_size"`
}

// BackoffBase returns the configured base delay as a duration.
func (s SchedulerConfig) BackoffBase() time.Duration {
	return time.Duration(s.BackoffBaseSeconds * float64(time.Second))
}

// BackoffCap returns the configured delay ceiling as a duration.
func (s SchedulerConfig) BackoffCap() time.Duration {
	return time.Duration(s.BackoffCapSeconds * float64(time.Second))
}

// SegmentationConfig bounds unit sizes.
type SegmentationConfig struct {
	MaxUnitChars int `toml:"max_unit_chars"`
}

// HTTPDEngineConfig configures the HTTP synthesis daemon adapter.
type HTTPDEngineConfig struct {
	Enabled        bool    `toml:"enabled"`
	BaseURL        string  `toml:"base_url"`
	TimeoutSeconds int     `toml:"timeout_seconds"`
	Temperature    float64 `toml:"temperature"`
}

// Timeout returns the request timeout as a duration.
func (h HTTPDEngineConfig) Timeout() time.Duration {
	return time.Duration(h.TimeoutSeconds) * time.Second
}

// EdgeEngineConfig configures the Edge cloud adapter.
type EdgeEngineConfig struct {
	Enabled      bool   `toml:"enabled"`
	DefaultVoice string `toml:"default_voice"`
}

// ChatLLMEngineConfig configures the local chatllm adapter.
type ChatLLMEngineConfig struct {
	Enabled           bool    `toml:"enabled"`
	ModelPath         string  `toml:"model_path"`
	SnacModelPath     string  `toml:"snac_model_path"`
	Seed              int     `toml:"seed"`
	NGL               int     `toml:"ngl"`
	TopP              float64 `toml:"top_p"`
	RepetitionPenalty float64 `toml:"repetition_penalty"`
	Temperature       float64 `toml:"temperature"`
}

// EnginesConfig groups the adapter settings.
type EnginesConfig struct {
	HTTPD   HTTPDEngineConfig   `toml:"httpd"`
	Edge    EdgeEngineConfig    `toml:"edge"`
	ChatLLM ChatLLMEngineConfig `toml:"chatllm"`
}

// PathsConfig holds file path settings.
type PathsConfig struct {
	BaseLogsDir string `toml:"base_logs_dir"`
	OutputDir   string `toml:"output_dir"`
}

// Config is the root configuration structure.
type Config struct {
	NATS         NATSConfig         `toml:"nats"`
	Scheduler    SchedulerConfig    `toml:"scheduler"`
	Segmentation SegmentationConfig `toml:"segmentation"`
	Engines      EnginesConfig      `toml:"engines"`
	Paths        PathsConfig        `toml:"paths"`
}

// Load loads and validates the engine configuration.
func Load(log *logger.Logger) (*Config, error) {
	var cfg Config

	err := configurator.Load(&cfg, log)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration from configurator: %w", err)
	}

	err = cfg.Validate()
	if err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks the settings a service cannot start without.
func (c *Config) Validate() error {
	if c.NATS.URL == "" {
		return ErrNATSURLEmpty
	}

	if c.NATS.ObjectStoreBucket == "" {
		return ErrBucketEmpty
	}

	if c.NATS.TextProcessedSubject == "" || c.NATS.AudioChunkCreatedSubject == "" {
		return ErrSubjectEmpty
	}

	if !c.Engines.HTTPD.Enabled && !c.Engines.Edge.Enabled && !c.Engines.ChatLLM.Enabled {
		return ErrNoEngineEnabled
	}

	return nil
}
