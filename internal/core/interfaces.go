// Package core defines the interfaces and shared types for the melo-gateway service.
package core

import (
	"context"
	"errors"
)

// Sentinel errors shared across the engine, registry, and server layers.
var (
	// ErrUnknownLanguage indicates that a language has no model or catalog entry.
	ErrUnknownLanguage = errors.New("unknown language")
	// ErrNoSpeakers indicates that a language loaded but exposes no speakers.
	ErrNoSpeakers = errors.New("no speakers available for language")
	// ErrEmptyText indicates that a synthesis request carried no text.
	ErrEmptyText = errors.New("text cannot be empty")
)

// SynthesisRequest describes a single text-to-speech request after defaults
// have been applied. Language codes are upper-case by the time a request
// reaches an engine.
type SynthesisRequest struct {
	Text     string
	Language string
	Speaker  string
	Speed    float64
}

// SpeechEngine defines the interface for a MeloTTS engine adapter.
type SpeechEngine interface {
	// LoadVoices loads the model for a language and returns the speaker
	// identifiers it provides.
	LoadVoices(ctx context.Context, language string) ([]string, error)
	// Synthesize converts text to WAV audio data.
	Synthesize(ctx context.Context, req SynthesisRequest) ([]byte, error)
}

// ObjectStore defines the interface for interacting with a key-value blob store.
type ObjectStore interface {
	Download(ctx context.Context, key string) ([]byte, error)
	Upload(ctx context.Context, key string, data []byte) error
}

// AudioCache defines the interface for caching synthesized audio by request key.
type AudioCache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Put(ctx context.Context, key string, data []byte) error
}
