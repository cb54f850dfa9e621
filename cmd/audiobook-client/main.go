// main package for the audiobook-client command line tool. It converts a
// local text file into per-unit audio files without a NATS deployment: the
// text is normalized, segmented, scheduled against one engine adapter, and
// written to a directory sink.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/book-expert/logger"

	"github.com/book-expert/audiobook-engine/internal/core"
	"github.com/book-expert/audiobook-engine/internal/engine"
	"github.com/book-expert/audiobook-engine/internal/engine/edge"
	"github.com/book-expert/audiobook-engine/internal/engine/httpd"
	"github.com/book-expert/audiobook-engine/internal/schedule"
	"github.com/book-expert/audiobook-engine/internal/segment"
	"github.com/book-expert/audiobook-engine/internal/sink"
	"github.com/book-expert/audiobook-engine/internal/textnorm"
)

// Flag descriptions.
const (
	flagInputDesc    = "Text file to convert"
	flagOutputDesc   = "Directory the audio files are written to"
	flagEngineDesc   = "Engine to synthesize with (edge or httpd)"
	flagVoiceDesc    = "Voice id (engine default when empty)"
	flagURLDesc      = "Base URL of the HTTP synthesis daemon (httpd engine only)"
	flagMaxCharsDesc = "Maximum characters per unit"
	flagWorkersDesc  = "Concurrent synthesis workers"
)

const (
	logFileName    = "audiobook-client.log"
	progressPeriod = 2 * time.Second
)

// Static errors.
var (
	ErrInputRequired = errors.New("an input file is required")
	ErrUnitsFailed   = errors.New("some units failed")
	ErrNoSpeakable   = errors.New("input contains nothing to speak")
)

type appFlags struct {
	input    string
	output   string
	engine   string
	voice    string
	url      string
	maxChars int
	workers  int
}

func parseFlags() appFlags {
	var flags appFlags

	flag.StringVar(&flags.input, "input", "", flagInputDesc)
	flag.StringVar(&flags.output, "out", "audiobook", flagOutputDesc)
	flag.StringVar(&flags.engine, "engine", edge.EngineID, flagEngineDesc)
	flag.StringVar(&flags.voice, "voice", "", flagVoiceDesc)
	flag.StringVar(&flags.url, "url", "http://127.0.0.1:8000", flagURLDesc)
	flag.IntVar(&flags.maxChars, "max-chars", segment.DefaultMaxUnitChars, flagMaxCharsDesc)
	flag.IntVar(&flags.workers, "workers", 4, flagWorkersDesc)
	flag.Parse()

	return flags
}

func main() {
	err := run()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	flags := parseFlags()
	if flags.input == "" {
		flag.Usage()

		return ErrInputRequired
	}

	log, err := logger.New(os.TempDir(), logFileName)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}

	defer func() {
		closeErr := log.Close()
		if closeErr != nil {
			fmt.Fprintf(os.Stderr, "error closing logger: %v\n", closeErr)
		}
	}()

	units, err := loadUnits(flags.input, flags.maxChars)
	if err != nil {
		return err
	}

	fmt.Printf("Segmented %q into %d units\n", flags.input, len(units))

	return convert(flags, units, log)
}

// loadUnits reads, normalizes, and segments the input file.
func loadUnits(path string, maxChars int) ([]core.TextUnit, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read input file %q: %w", path, err)
	}

	normalized := textnorm.New().Normalize(string(raw))
	hints := segment.DetectChapters(normalized)
	units := segment.Segment(normalized, hints, maxChars)

	if len(units) == 0 {
		return nil, fmt.Errorf("%w: %q", ErrNoSpeakable, path)
	}

	return units, nil
}

// convert runs the whole job through the scheduler and reports progress on
// stdout.
func convert(flags appFlags, units []core.TextUnit, log *logger.Logger) error {
	registry := engine.NewRegistry()

	adapter, err := buildAdapter(flags)
	if err != nil {
		return err
	}

	err = registry.Register(adapter)
	if err != nil {
		return fmt.Errorf("failed to register engine: %w", err)
	}

	results, err := sink.NewDirectory(flags.output, log)
	if err != nil {
		return err
	}

	scheduler := schedule.New(schedule.Config{
		Workers:         flags.workers,
		MaxRetries:      0,
		BackoffBase:     0,
		BackoffCap:      0,
		EventBufferSize: 0,
	}, registry, results, log)

	runCtx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)

	go func() {
		done <- scheduler.Run(runCtx)
	}()

	status, err := driveJob(scheduler, adapter, units, flags)

	cancel()

	runErr := <-done
	if err != nil {
		return err
	}

	if runErr != nil {
		return runErr
	}

	return report(status, results.JobDir(status.JobID))
}

func buildAdapter(flags appFlags) (core.Adapter, error) {
	switch flags.engine {
	case edge.EngineID:
		return edge.New(flags.voice), nil
	case httpd.EngineID:
		return httpd.New(httpd.Config{
			BaseURL:     flags.url,
			Timeout:     0,
			Temperature: 0,
		}), nil
	default:
		return nil, fmt.Errorf("%w: %q", core.ErrUnknownEngine, flags.engine)
	}
}

// driveJob submits the units and polls status until the job is terminal.
func driveJob(
	scheduler *schedule.Scheduler, adapter core.Adapter, units []core.TextUnit, flags appFlags,
) (schedule.JobStatus, error) {
	params, err := pickParams(adapter, flags)
	if err != nil {
		return schedule.JobStatus{}, err
	}

	jobID, err := scheduler.SubmitJob(context.Background(), "", units, params)
	if err != nil {
		return schedule.JobStatus{}, fmt.Errorf("failed to submit job: %w", err)
	}

	ticker := time.NewTicker(progressPeriod)
	defer ticker.Stop()

	for {
		status, statusErr := scheduler.JobStatus(jobID)
		if statusErr != nil {
			return schedule.JobStatus{}, fmt.Errorf("failed to query job: %w", statusErr)
		}

		if status.State.Terminal() {
			return status, nil
		}

		fmt.Printf("  %d/%d units done, %d failed\n",
			status.Progress.UnitsDone, status.Progress.UnitsTotal, status.Progress.UnitsFailed)

		<-ticker.C
	}
}

// pickParams falls back to the adapter's first voice when none was chosen.
func pickParams(adapter core.Adapter, flags appFlags) (core.VoiceParams, error) {
	voice := flags.voice
	if voice == "" {
		voices, voicesErr := adapter.ListVoices(context.Background())
		if voicesErr != nil || len(voices) == 0 {
			return core.VoiceParams{}, fmt.Errorf("failed to list voices: %w", voicesErr)
		}

		voice = voices[0].ID
	}

	return core.VoiceParams{
		EngineID: flags.engine,
		VoiceID:  voice,
		Rate:     1.0,
		Pitch:    1.0,
		Volume:   1.0,
		Language: "",
	}, nil
}

// report prints the outcome and surfaces failed units as a non-zero exit.
func report(status schedule.JobStatus, outputDir string) error {
	fmt.Printf("Job %s finished %s: %d/%d units in %s\n",
		status.JobID, status.State, status.Progress.UnitsDone,
		status.Progress.UnitsTotal, outputDir)

	if len(status.Failures) == 0 {
		return nil
	}

	for _, failure := range status.Failures {
		fmt.Fprintf(os.Stderr, "  unit %d failed (%s, %d attempts): %s\n",
			failure.UnitID, failure.Kind, failure.Attempts, failure.Message)
	}

	return fmt.Errorf("%w: %d of %d", ErrUnitsFailed,
		len(status.Failures), status.Progress.UnitsTotal)
}
