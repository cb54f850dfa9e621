package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/book-expert/logger"

	"github.com/book-expert/audiobook-engine/internal/audio"
	"github.com/book-expert/audiobook-engine/internal/core"
)

const (
	dirPermissions  = 0o750
	filePermissions = 0o600
	manifestName    = "results.jsonl"
	unitFileFormat  = "unit_%04d%s"
)

// invalidPathChars replaces characters that are invalid in common
// filesystems.
var invalidPathChars = strings.NewReplacer(
	"<", "_", ">", "_", ":", "_", "\"", "_",
	"/", "_", "\\", "_", "|", "_", "?", "_", "*", "_",
)

// manifestRecord is one line of a job's results.jsonl.
type manifestRecord struct {
	UnitID   int              `json:"unit_id"`
	Outcome  core.UnitOutcome `json:"outcome"`
	Attempts int              `json:"attempts"`
	File     string           `json:"file,omitempty"`
	Error    string           `json:"error,omitempty"`
}

// Directory writes each successful unit's audio under <root>/<job>/ with a
// zero-padded index in the file name, so a plain directory sort plays the
// book in order. Every delivery, including failures and cancellations, is
// appended to the job's results.jsonl manifest.
type Directory struct {
	root string
	log  *logger.Logger

	// serializes manifest appends across workers.
	mu sync.Mutex
}

// NewDirectory creates a directory sink rooted at root.
func NewDirectory(root string, log *logger.Logger) (*Directory, error) {
	err := os.MkdirAll(root, dirPermissions)
	if err != nil {
		return nil, fmt.Errorf("failed to create sink root %q: %w", root, err)
	}

	return &Directory{root: root, log: log, mu: sync.Mutex{}}, nil
}

// Deliver implements core.ResultSink.
func (d *Directory) Deliver(_ context.Context, delivery core.UnitDelivery) error {
	jobDir := filepath.Join(d.root, sanitizeName(delivery.JobID))

	err := os.MkdirAll(jobDir, dirPermissions)
	if err != nil {
		return fmt.Errorf("failed to create job directory %q: %w", jobDir, err)
	}

	record := manifestRecord{
		UnitID:   delivery.Unit.ID,
		Outcome:  delivery.Outcome,
		Attempts: delivery.Attempts,
		File:     "",
		Error:    "",
	}

	if delivery.Err != nil {
		record.Error = delivery.Err.Error()
	}

	if delivery.Outcome != core.OutcomeSucceeded {
		d.log.Warn("Unit %d of job %s ended %s after %d attempts",
			delivery.Unit.ID, delivery.JobID, delivery.Outcome, delivery.Attempts)
	}

	if delivery.Outcome == core.OutcomeSucceeded {
		fileName := fmt.Sprintf(unitFileFormat,
			delivery.Unit.ID, audio.DetectFormat(delivery.Audio).Extension())

		err = os.WriteFile(filepath.Join(jobDir, fileName), delivery.Audio, filePermissions)
		if err != nil {
			return fmt.Errorf("failed to write audio for unit %d: %w", delivery.Unit.ID, err)
		}

		record.File = fileName
	}

	err = d.appendManifest(jobDir, record)
	if err != nil {
		return err
	}

	return nil
}

// JobDir returns the directory a job's files land in.
func (d *Directory) JobDir(jobID string) string {
	return filepath.Join(d.root, sanitizeName(jobID))
}

func (d *Directory) appendManifest(jobDir string, record manifestRecord) error {
	line, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal manifest record: %w", err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	manifestPath := filepath.Join(jobDir, manifestName)

	file, err := os.OpenFile(manifestPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, filePermissions)
	if err != nil {
		return fmt.Errorf("failed to open manifest %q: %w", manifestPath, err)
	}

	_, writeErr := file.Write(append(line, '\n'))
	closeErr := file.Close()

	if writeErr != nil {
		return fmt.Errorf("failed to append manifest record: %w", writeErr)
	}

	if closeErr != nil {
		return fmt.Errorf("failed to close manifest: %w", closeErr)
	}

	return nil
}

func sanitizeName(name string) string {
	return invalidPathChars.Replace(name)
}
