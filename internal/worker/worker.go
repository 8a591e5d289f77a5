// Package worker provides a NATS worker that processes synthesis jobs.
package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/book-expert/events"
	"github.com/book-expert/logger"
	"github.com/book-expert/melo-gateway/internal/audio"
	"github.com/book-expert/melo-gateway/internal/core"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
)

const defaultJobTimeout = 120 * time.Second

const (
	logFmtParseFailed   = "Failed to parse synthesis event: %v"
	logFmtJobFailed     = "Failed to process synthesis job for workflow %s: %v"
	logFmtReplyFailed   = "Failed to publish reply event for workflow %s: %v"
	logFmtJobCompleted  = "Synthesized page %d/%d for workflow %s as %s"
	logFmtVoiceResolved = "Resolved voice %s to language %s for workflow %s"
)

// SpeechSynthesizer is the slice of the voice registry the worker needs.
type SpeechSynthesizer interface {
	LanguageForSpeaker(ctx context.Context, speaker string) (string, error)
	Synthesize(ctx context.Context, req core.SynthesisRequest) ([]byte, audio.Info, error)
}

// NatsWorker listens for synthesis jobs on a NATS subject and processes them.
type NatsWorker struct {
	natsConnection *nats.Conn
	subject        string
	store          core.ObjectStore
	synthesizer    SpeechSynthesizer
	jobTimeout     time.Duration
	log            *logger.Logger
}

// NewNatsWorker creates a new instance of a NATS worker. A non-positive
// jobTimeout falls back to the default.
func NewNatsWorker(
	natsConnection *nats.Conn,
	subject string,
	store core.ObjectStore,
	synthesizer SpeechSynthesizer,
	jobTimeout time.Duration,
	log *logger.Logger,
) (*NatsWorker, error) {
	if jobTimeout <= 0 {
		jobTimeout = defaultJobTimeout
	}

	return &NatsWorker{
		natsConnection: natsConnection,
		subject:        subject,
		store:          store,
		synthesizer:    synthesizer,
		jobTimeout:     jobTimeout,
		log:            log,
	}, nil
}

// Run starts the worker and begins listening for messages.
func (w *NatsWorker) Run(ctx context.Context) error {
	sub, err := w.natsConnection.Subscribe(w.subject, w.handleMessage)
	if err != nil {
		return fmt.Errorf("failed to subscribe to subject %s: %w", w.subject, err)
	}

	<-ctx.Done()

	drainErr := sub.Drain()
	if drainErr != nil {
		return fmt.Errorf("failed to drain subscription: %w", drainErr)
	}

	return nil
}

func (w *NatsWorker) handleMessage(msg *nats.Msg) {
	ctx, cancel := context.WithTimeout(context.Background(), w.jobTimeout)
	defer cancel()

	event, err := w.parseEvent(msg)
	if err != nil {
		w.log.Error(logFmtParseFailed, err)

		return
	}

	audioKey, processErr := w.processSynthesisJob(ctx, event)
	if processErr != nil {
		w.log.Error(logFmtJobFailed, event.Header.WorkflowID, processErr)

		return
	}

	replyEvent := &events.AudioChunkCreatedEvent{
		Header:     event.Header,
		AudioKey:   audioKey,
		PageNumber: event.PageNumber,
		TotalPages: event.TotalPages,
	}

	err = w.publishReplyEvent(msg, replyEvent)
	if err != nil {
		w.log.Error(logFmtReplyFailed, event.Header.WorkflowID, err)
	}
}

// processSynthesisJob downloads the text chunk, synthesizes it, and uploads
// the resulting audio. The event's voice doubles as the speaker identifier;
// when it is empty the registry's configured defaults take over.
func (w *NatsWorker) processSynthesisJob(
	ctx context.Context,
	event *events.TextProcessedEvent,
) (string, error) {
	textData, err := w.store.Download(ctx, event.TextKey)
	if err != nil {
		return "", fmt.Errorf("failed to download text data for key '%s': %w", event.TextKey, err)
	}

	req := core.SynthesisRequest{
		Text:     string(textData),
		Language: "",
		Speaker:  "",
		Speed:    0,
	}

	if event.Voice != "" {
		language, resolveErr := w.synthesizer.LanguageForSpeaker(ctx, event.Voice)
		if resolveErr != nil {
			return "", fmt.Errorf("failed to resolve voice '%s': %w", event.Voice, resolveErr)
		}

		w.log.Info(logFmtVoiceResolved, event.Voice, language, event.Header.WorkflowID)

		req.Language = language
		req.Speaker = event.Voice
	}

	audioData, _, err := w.synthesizer.Synthesize(ctx, req)
	if err != nil {
		return "", fmt.Errorf("failed to synthesize text: %w", err)
	}

	audioKey := uuid.NewString() + ".wav"

	err = w.store.Upload(ctx, audioKey, audioData)
	if err != nil {
		return "", fmt.Errorf("failed to upload audio data for key '%s': %w", audioKey, err)
	}

	w.log.Info(logFmtJobCompleted, event.PageNumber, event.TotalPages, event.Header.WorkflowID, audioKey)

	return audioKey, nil
}

// publishReplyEvent marshals and responds with the AudioChunkCreatedEvent.
func (w *NatsWorker) publishReplyEvent(msg *nats.Msg, replyEvent *events.AudioChunkCreatedEvent) error {
	replyData, err := json.Marshal(replyEvent)
	if err != nil {
		return fmt.Errorf("failed to marshal reply event: %w", err)
	}

	err = msg.Respond(replyData)
	if err != nil {
		return fmt.Errorf("failed to publish reply event: %w", err)
	}

	return nil
}

func (w *NatsWorker) parseEvent(msg *nats.Msg) (*events.TextProcessedEvent, error) {
	var event events.TextProcessedEvent

	err := json.Unmarshal(msg.Data, &event)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal event: %w", err)
	}

	return &event, nil
}
