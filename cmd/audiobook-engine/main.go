// main package for the audiobook-engine service.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/book-expert/logger"
	"github.com/nats-io/nats.go"
	"golang.org/x/sync/errgroup"

	"github.com/book-expert/audiobook-engine/internal/config"
	"github.com/book-expert/audiobook-engine/internal/core"
	"github.com/book-expert/audiobook-engine/internal/engine"
	"github.com/book-expert/audiobook-engine/internal/engine/chatllm"
	"github.com/book-expert/audiobook-engine/internal/engine/edge"
	"github.com/book-expert/audiobook-engine/internal/engine/httpd"
	"github.com/book-expert/audiobook-engine/internal/objectstore"
	"github.com/book-expert/audiobook-engine/internal/schedule"
	"github.com/book-expert/audiobook-engine/internal/sink"
	"github.com/book-expert/audiobook-engine/internal/worker"
)

const logFileName = "audiobook-engine.log"

func main() {
	err := run()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Service exited with error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	bootstrapLog, err := logger.New(os.TempDir(), "audiobook-engine-bootstrap.log")
	if err != nil {
		return fmt.Errorf("failed to create bootstrap logger: %w", err)
	}

	cfg, err := config.Load(bootstrapLog)
	if err != nil {
		bootstrapLog.Error("Failed to load configuration: %v", err)

		return fmt.Errorf("failed to load configuration: %w", err)
	}

	log, err := logger.New(cfg.Paths.BaseLogsDir, logFileName)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}

	defer func() {
		closeErr := log.Close()
		if closeErr != nil {
			fmt.Fprintf(os.Stderr, "error closing logger: %v\n", closeErr)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return serve(ctx, cfg, log)
}

// serve wires the NATS transport, the engine registry, the scheduler, and
// the bridge, then runs until the context is canceled.
func serve(ctx context.Context, cfg *config.Config, log *logger.Logger) error {
	conn, err := nats.Connect(cfg.NATS.URL)
	if err != nil {
		return fmt.Errorf("failed to connect to NATS at %s: %w", cfg.NATS.URL, err)
	}
	defer conn.Close()

	jetstreamContext, err := conn.JetStream()
	if err != nil {
		return fmt.Errorf("failed to create JetStream context: %w", err)
	}

	store, err := objectstore.New(jetstreamContext, cfg.NATS.ObjectStoreBucket)
	if err != nil {
		return fmt.Errorf("failed to open object store: %w", err)
	}

	registry, defaultParams, err := buildRegistry(cfg, log)
	if err != nil {
		return err
	}

	results := sink.NewNats(conn, store, cfg.NATS.AudioChunkCreatedSubject, log)
	scheduler := schedule.New(schedule.Config{
		Workers:         cfg.Scheduler.Workers,
		MaxRetries:      cfg.Scheduler.MaxRetries,
		BackoffBase:     cfg.Scheduler.BackoffBase(),
		BackoffCap:      cfg.Scheduler.BackoffCap(),
		EventBufferSize: cfg.Scheduler.EventBufferSize,
	}, registry, results, log)

	bridge := worker.NewBridge(
		conn, cfg.NATS.TextProcessedSubject, store, scheduler, results,
		defaultParams, cfg.Segmentation.MaxUnitChars, 0, log)

	for engineID, healthErr := range registry.Available(ctx) {
		if healthErr != nil {
			log.Warn("Engine %s is not reachable yet: %v", engineID, healthErr)

			continue
		}

		log.Info("Engine %s is available", engineID)
	}

	log.System("Audiobook engine initialized. Listening for jobs on subject: %s",
		cfg.NATS.TextProcessedSubject)

	go drainEvents(scheduler, log)

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error { return scheduler.Run(groupCtx) })
	group.Go(func() error { return bridge.Run(groupCtx) })

	err = group.Wait()
	if err != nil {
		return fmt.Errorf("service stopped: %w", err)
	}

	return nil
}

// buildRegistry registers every enabled adapter and picks the default voice
// parameters from the first one.
func buildRegistry(cfg *config.Config, log *logger.Logger) (*engine.Registry, core.VoiceParams, error) {
	registry := engine.NewRegistry()

	var adapters []core.Adapter

	if cfg.Engines.HTTPD.Enabled {
		adapters = append(adapters, httpd.New(httpd.Config{
			BaseURL:     cfg.Engines.HTTPD.BaseURL,
			Timeout:     cfg.Engines.HTTPD.Timeout(),
			Temperature: cfg.Engines.HTTPD.Temperature,
		}))
	}

	if cfg.Engines.Edge.Enabled {
		adapters = append(adapters, edge.New(cfg.Engines.Edge.DefaultVoice))
	}

	if cfg.Engines.ChatLLM.Enabled {
		adapter, err := chatllm.New(chatllm.Config{
			ModelPath:         cfg.Engines.ChatLLM.ModelPath,
			SnacModelPath:     cfg.Engines.ChatLLM.SnacModelPath,
			Seed:              cfg.Engines.ChatLLM.Seed,
			NGL:               cfg.Engines.ChatLLM.NGL,
			TopP:              cfg.Engines.ChatLLM.TopP,
			RepetitionPenalty: cfg.Engines.ChatLLM.RepetitionPenalty,
			Temperature:       cfg.Engines.ChatLLM.Temperature,
		}, log)
		if err != nil {
			return nil, core.VoiceParams{}, fmt.Errorf("failed to create chatllm adapter: %w", err)
		}

		adapters = append(adapters, adapter)
	}

	if len(adapters) == 0 {
		return nil, core.VoiceParams{}, config.ErrNoEngineEnabled
	}

	for _, adapter := range adapters {
		err := registry.Register(adapter)
		if err != nil {
			return nil, core.VoiceParams{}, fmt.Errorf("failed to register engine: %w", err)
		}
	}

	params, err := defaultVoiceParams(adapters[0])
	if err != nil {
		return nil, core.VoiceParams{}, err
	}

	return registry, params, nil
}

var errNoVoices = errors.New("engine lists no voices")

func defaultVoiceParams(adapter core.Adapter) (core.VoiceParams, error) {
	voices, err := adapter.ListVoices(context.Background())
	if err != nil {
		return core.VoiceParams{}, fmt.Errorf("failed to list voices for %s: %w", adapter.ID(), err)
	}

	if len(voices) == 0 {
		return core.VoiceParams{}, fmt.Errorf("%w: %s", errNoVoices, adapter.ID())
	}

	return core.VoiceParams{
		EngineID: adapter.ID(),
		VoiceID:  voices[0].ID,
		Rate:     1.0,
		Pitch:    1.0,
		Volume:   1.0,
		Language: "",
	}, nil
}

// drainEvents forwards scheduler progress to the log until the stream
// closes.
func drainEvents(scheduler *schedule.Scheduler, log *logger.Logger) {
	for event := range scheduler.Events() {
		switch event.Type {
		case schedule.EventUnitFailed, schedule.EventJobFailed, schedule.EventJobCanceled:
			log.Warn("Job %s: %s (unit %d, attempt %d) %s",
				event.JobID, event.Type, event.UnitID, event.Attempt, event.Error)
		case schedule.EventUnitStarted, schedule.EventUnitSucceeded, schedule.EventJobPaused,
			schedule.EventJobResumed, schedule.EventJobCompleted, schedule.EventProgressSnapshot:
			log.Info("Job %s: %s (unit %d)", event.JobID, event.Type, event.UnitID)
		}
	}
}
