package sink_test

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/book-expert/events"
	"github.com/book-expert/logger"
	"github.com/google/uuid"
	"github.com/nats-io/nats-server/v2/test"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/book-expert/audiobook-engine/internal/core"
	"github.com/book-expert/audiobook-engine/internal/sink"
)

var errDeliveryFailed = errors.New("synthesis gave up")

// wavPayload is a minimal RIFF prefix, enough for format detection.
func wavPayload() []byte {
	return []byte("RIFF\x00\x00\x00\x00WAVEdata")
}

func mp3Payload() []byte {
	return []byte("ID3\x04\x00\x00\x00\x00\x00\x00")
}

func makeDelivery(jobID string, unitID int, outcome core.UnitOutcome, audioData []byte) core.UnitDelivery {
	var deliveryErr error
	if outcome == core.OutcomeFailed {
		deliveryErr = errDeliveryFailed
	}

	return core.UnitDelivery{
		JobID: jobID,
		Unit: core.TextUnit{
			ID:             unitID,
			SourceOffset:   0,
			Text:           "some text",
			Kind:           core.UnitParagraph,
			EstimatedChars: 9,
		},
		Outcome:  outcome,
		Attempts: 1,
		Audio:    audioData,
		Err:      deliveryErr,
	}
}

func newTestLogger(t *testing.T) *logger.Logger {
	t.Helper()

	testLog, err := logger.New(t.TempDir(), "sink_test.log")
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, testLog.Close())
	})

	return testLog
}

func TestMemorySinkGroupsByJob(t *testing.T) {
	t.Parallel()

	memory := sink.NewMemory()
	ctx := context.Background()

	require.NoError(t, memory.Deliver(ctx, makeDelivery("job-a", 0, core.OutcomeSucceeded, wavPayload())))
	require.NoError(t, memory.Deliver(ctx, makeDelivery("job-a", 1, core.OutcomeFailed, nil)))
	require.NoError(t, memory.Deliver(ctx, makeDelivery("job-b", 0, core.OutcomeSucceeded, mp3Payload())))

	deliveries := memory.Deliveries("job-a")
	require.Len(t, deliveries, 2)
	assert.Equal(t, 0, deliveries[0].Unit.ID)
	assert.Equal(t, core.OutcomeFailed, deliveries[1].Outcome)

	audioByUnit := memory.Audio("job-a")
	require.Len(t, audioByUnit, 1)
	assert.Equal(t, wavPayload(), audioByUnit[0])

	memory.Release("job-a")
	assert.Empty(t, memory.Deliveries("job-a"))
	assert.Len(t, memory.Deliveries("job-b"), 1)
}

func TestDirectorySinkWritesIndexedFilesAndManifest(t *testing.T) {
	t.Parallel()

	root := t.TempDir()

	directory, err := sink.NewDirectory(root, newTestLogger(t))
	require.NoError(t, err)

	ctx := context.Background()
	jobID := "job-123"

	require.NoError(t, directory.Deliver(ctx, makeDelivery(jobID, 0, core.OutcomeSucceeded, wavPayload())))
	require.NoError(t, directory.Deliver(ctx, makeDelivery(jobID, 1, core.OutcomeFailed, nil)))
	require.NoError(t, directory.Deliver(ctx, makeDelivery(jobID, 2, core.OutcomeSucceeded, mp3Payload())))

	jobDir := directory.JobDir(jobID)

	wavBytes, err := os.ReadFile(filepath.Join(jobDir, "unit_0000.wav"))
	require.NoError(t, err)
	assert.Equal(t, wavPayload(), wavBytes)

	_, err = os.Stat(filepath.Join(jobDir, "unit_0002.mp3"))
	require.NoError(t, err)

	manifest, err := os.Open(filepath.Join(jobDir, "results.jsonl"))
	require.NoError(t, err)

	defer func() {
		require.NoError(t, manifest.Close())
	}()

	var records []map[string]any

	scanner := bufio.NewScanner(manifest)
	for scanner.Scan() {
		var record map[string]any

		require.NoError(t, json.Unmarshal(scanner.Bytes(), &record))
		records = append(records, record)
	}

	require.NoError(t, scanner.Err())
	require.Len(t, records, 3)

	assert.Equal(t, "unit_0000.wav", records[0]["file"])
	assert.Equal(t, "failed", records[1]["outcome"])
	assert.Equal(t, "synthesis gave up", records[1]["error"])
	assert.NotContains(t, records[1], "file")
}

func TestDirectorySinkSanitizesJobNames(t *testing.T) {
	t.Parallel()

	root := t.TempDir()

	directory, err := sink.NewDirectory(root, newTestLogger(t))
	require.NoError(t, err)

	jobID := "job/../escape:attempt"

	require.NoError(t, directory.Deliver(
		context.Background(), makeDelivery(jobID, 0, core.OutcomeSucceeded, wavPayload())))

	jobDir := directory.JobDir(jobID)
	assert.Equal(t, root, filepath.Dir(jobDir), "job directory must stay under the sink root")

	_, err = os.Stat(filepath.Join(jobDir, "unit_0000.wav"))
	require.NoError(t, err)
}

// mockObjectStore records uploads for the NATS sink tests.
type mockObjectStore struct {
	uploadedKey  string
	uploadedData []byte
}

func (m *mockObjectStore) Download(_ context.Context, _ string) ([]byte, error) {
	return nil, os.ErrNotExist
}

func (m *mockObjectStore) Upload(_ context.Context, key string, data []byte) error {
	m.uploadedKey = key
	m.uploadedData = data

	return nil
}

func createTestNatsConn(t *testing.T) *nats.Conn {
	t.Helper()

	opts := test.DefaultTestOptions
	opts.Port = -1
	opts.JetStream = true
	server := test.RunServer(&opts)

	conn, err := nats.Connect(server.ClientURL())
	require.NoError(t, err)

	t.Cleanup(func() {
		conn.Close()
		server.Shutdown()
	})

	return conn
}

func TestNatsSinkUploadsAndAnnouncesChunks(t *testing.T) {
	t.Parallel()

	conn := createTestNatsConn(t)
	store := &mockObjectStore{uploadedKey: "", uploadedData: nil}
	natsSink := sink.NewNats(conn, store, "audio.chunks", newTestLogger(t))

	subscription, err := conn.SubscribeSync("audio.chunks")
	require.NoError(t, err)

	jobID := uuid.NewString()
	header := events.EventHeader{
		Timestamp:  time.Now(),
		WorkflowID: uuid.NewString(),
		EventID:    uuid.NewString(),
		UserID:     "user-1",
		TenantID:   "tenant-1",
	}

	natsSink.Bind(jobID, header, 3)

	err = natsSink.Deliver(context.Background(), makeDelivery(jobID, 0, core.OutcomeSucceeded, wavPayload()))
	require.NoError(t, err)

	assert.Equal(t, jobID+"/unit_0000.wav", store.uploadedKey)
	assert.Equal(t, wavPayload(), store.uploadedData)

	msg, err := subscription.NextMsg(5 * time.Second)
	require.NoError(t, err)

	var chunkEvent events.AudioChunkCreatedEvent

	require.NoError(t, json.Unmarshal(msg.Data, &chunkEvent))
	assert.Equal(t, header.WorkflowID, chunkEvent.Header.WorkflowID)
	assert.NotEqual(t, header.EventID, chunkEvent.Header.EventID, "each chunk event gets its own id")
	assert.Equal(t, store.uploadedKey, chunkEvent.AudioKey)
	assert.Equal(t, 1, chunkEvent.PageNumber)
	assert.Equal(t, 3, chunkEvent.TotalPages)
}

func TestNatsSinkSkipsEventsForFailedUnits(t *testing.T) {
	t.Parallel()

	conn := createTestNatsConn(t)
	store := &mockObjectStore{uploadedKey: "", uploadedData: nil}
	natsSink := sink.NewNats(conn, store, "audio.chunks.failed", newTestLogger(t))

	subscription, err := conn.SubscribeSync("audio.chunks.failed")
	require.NoError(t, err)

	jobID := uuid.NewString()
	natsSink.Bind(jobID, events.EventHeader{
		Timestamp:  time.Now(),
		WorkflowID: uuid.NewString(),
		EventID:    uuid.NewString(),
		UserID:     "",
		TenantID:   "",
	}, 1)

	err = natsSink.Deliver(context.Background(), makeDelivery(jobID, 0, core.OutcomeFailed, nil))
	require.NoError(t, err)
	assert.Empty(t, store.uploadedKey)

	_, err = subscription.NextMsg(100 * time.Millisecond)
	require.ErrorIs(t, err, nats.ErrTimeout)
}

func TestNatsSinkRejectsUnboundJobs(t *testing.T) {
	t.Parallel()

	conn := createTestNatsConn(t)
	natsSink := sink.NewNats(conn, &mockObjectStore{uploadedKey: "", uploadedData: nil},
		"audio.chunks.unbound", newTestLogger(t))

	err := natsSink.Deliver(context.Background(), makeDelivery("ghost", 0, core.OutcomeSucceeded, wavPayload()))
	require.ErrorIs(t, err, sink.ErrJobNotBound)
}
