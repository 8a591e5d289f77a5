// Package worker_test tests the NATS worker for the gateway.
package worker_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/book-expert/events"
	"github.com/book-expert/logger"
	"github.com/book-expert/melo-gateway/internal/audio"
	"github.com/book-expert/melo-gateway/internal/core"
	"github.com/book-expert/melo-gateway/internal/worker"
	"github.com/google/uuid"

	"github.com/nats-io/nats-server/v2/test"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	errMockDownload   = errors.New("mock download error")
	errMockUpload     = errors.New("mock upload error")
	errMockSynthesize = errors.New("mock synthesize error")
)

// mockObjectStore is a mock implementation of the ObjectStore interface.
type mockObjectStore struct {
	downloadShouldFail bool
	uploadShouldFail   bool
	downloadedKey      string
	uploadedKey        string
	uploadedData       []byte
}

func (m *mockObjectStore) Download(_ context.Context, key string) ([]byte, error) {
	if m.downloadShouldFail {
		return nil, errMockDownload
	}

	m.downloadedKey = key

	return []byte("sample text"), nil
}

func (m *mockObjectStore) Upload(_ context.Context, key string, data []byte) error {
	if m.uploadShouldFail {
		return errMockUpload
	}

	m.uploadedKey = key
	m.uploadedData = data

	return nil
}

// mockSynthesizer is a mock implementation of the SpeechSynthesizer interface.
type mockSynthesizer struct {
	synthesizeShouldFail bool
	synthesizedRequest   core.SynthesisRequest
}

func (m *mockSynthesizer) LanguageForSpeaker(_ context.Context, speaker string) (string, error) {
	if speaker == "ES" {
		return "ES", nil
	}

	return "EN", nil
}

func (m *mockSynthesizer) Synthesize(
	_ context.Context,
	req core.SynthesisRequest,
) ([]byte, audio.Info, error) {
	if m.synthesizeShouldFail {
		return nil, audio.Info{}, errMockSynthesize
	}

	m.synthesizedRequest = req

	return []byte("sample audio"), audio.Info{
		SampleRate:    44100,
		Channels:      1,
		BitsPerSample: 16,
		DataBytes:     len("sample audio"),
		Duration:      time.Second,
	}, nil
}

func createTestNatsClient(t *testing.T) (*nats.Conn, func()) {
	t.Helper()

	opts := test.DefaultTestOptions
	opts.Port = -1 // Use a random port
	opts.JetStream = true
	server := test.RunServer(&opts)

	natsConnection, err := nats.Connect(server.ClientURL())
	if err != nil {
		t.Fatalf("Failed to connect to test NATS server: %v", err)
	}

	cleanup := func() {
		server.Shutdown()
		natsConnection.Close()
	}

	return natsConnection, cleanup
}

func setupTest(t *testing.T) (
	*worker.NatsWorker,
	*mockObjectStore,
	*mockSynthesizer,
	context.Context,
	context.CancelFunc,
	*nats.Conn,
) {
	t.Helper()

	mockStore := &mockObjectStore{
		downloadShouldFail: false,
		uploadShouldFail:   false,
		downloadedKey:      "",
		uploadedKey:        "",
		uploadedData:       nil,
	}
	synth := &mockSynthesizer{
		synthesizeShouldFail: false,
		synthesizedRequest:   core.SynthesisRequest{Text: "", Language: "", Speaker: "", Speed: 0},
	}

	natsConnection, natsCleanup := createTestNatsClient(t)
	t.Cleanup(natsCleanup)

	testLogger, err := logger.New(t.TempDir(), "worker-test.log")
	require.NoError(t, err)

	workerInstance, err := worker.NewNatsWorker(
		natsConnection, "test_subject", mockStore, synth, 10*time.Second, testLogger,
	)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())

	return workerInstance, mockStore, synth, ctx, cancel, natsConnection
}

func newTestEvent(voice string) *events.TextProcessedEvent {
	return &events.TextProcessedEvent{
		Header: events.EventHeader{
			Timestamp:  time.Now(),
			WorkflowID: uuid.NewString(),
			EventID:    uuid.NewString(),
			UserID:     "",
			TenantID:   "",
		},
		TextKey:           "test-text-key",
		PNGKey:            "",
		PageNumber:        1,
		TotalPages:        3,
		Voice:             voice,
		Seed:              0,
		NGL:               0,
		TopP:              0,
		RepetitionPenalty: 0,
		Temperature:       0,
	}
}

func TestMessageHandler_Success(t *testing.T) {
	t.Parallel()

	workerInstance, mockStore, synth, ctx, cancel, natsConnection := setupTest(t)
	defer cancel()

	errChan := make(chan error, 1)

	go func() {
		errChan <- workerInstance.Run(ctx)
	}()

	testEvent := newTestEvent("")
	eventData, err := json.Marshal(testEvent)
	require.NoError(t, err)

	replyMsg, err := natsConnection.Request("test_subject", eventData, 5*time.Second)
	require.NoError(t, err, "Request should succeed and receive a reply")

	var replyEvent events.AudioChunkCreatedEvent

	err = json.Unmarshal(replyMsg.Data, &replyEvent)
	require.NoError(t, err)

	assert.Equal(t, "test-text-key", mockStore.downloadedKey)
	assert.Equal(t, "sample text", synth.synthesizedRequest.Text)
	assert.Empty(t, synth.synthesizedRequest.Speaker, "An empty voice should defer to registry defaults")
	assert.NotEmpty(t, mockStore.uploadedKey, "An audio key should have been generated and uploaded")
	assert.Equal(t, []byte("sample audio"), mockStore.uploadedData)

	assert.Equal(t, mockStore.uploadedKey, replyEvent.AudioKey)
	assert.Equal(t, testEvent.Header.WorkflowID, replyEvent.Header.WorkflowID)
	assert.Equal(t, testEvent.PageNumber, replyEvent.PageNumber)
	assert.Equal(t, testEvent.TotalPages, replyEvent.TotalPages)

	cancel()

	shutdownErr := <-errChan
	assert.NoError(t, shutdownErr, "worker.Run should not error on graceful shutdown")
}

func TestMessageHandler_ResolvesVoiceLanguage(t *testing.T) {
	t.Parallel()

	workerInstance, _, synth, ctx, cancel, natsConnection := setupTest(t)
	defer cancel()

	errChan := make(chan error, 1)

	go func() {
		errChan <- workerInstance.Run(ctx)
	}()

	testEvent := newTestEvent("ES")
	eventData, err := json.Marshal(testEvent)
	require.NoError(t, err)

	_, err = natsConnection.Request("test_subject", eventData, 5*time.Second)
	require.NoError(t, err)

	assert.Equal(t, "ES", synth.synthesizedRequest.Language)
	assert.Equal(t, "ES", synth.synthesizedRequest.Speaker)

	cancel()
	assert.NoError(t, <-errChan)
}

func TestMessageHandler_SynthesisFailureProducesNoReply(t *testing.T) {
	t.Parallel()

	workerInstance, mockStore, synth, ctx, cancel, natsConnection := setupTest(t)
	defer cancel()

	synth.synthesizeShouldFail = true

	errChan := make(chan error, 1)

	go func() {
		errChan <- workerInstance.Run(ctx)
	}()

	testEvent := newTestEvent("")
	eventData, err := json.Marshal(testEvent)
	require.NoError(t, err)

	_, err = natsConnection.Request("test_subject", eventData, 500*time.Millisecond)
	require.Error(t, err, "A failed job should not produce a reply")

	assert.Empty(t, mockStore.uploadedKey)

	cancel()
	assert.NoError(t, <-errChan)
}
