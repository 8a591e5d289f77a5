// Package registry maintains the per-language model state of the gateway.
//
// Languages are loaded lazily through the configured engine on first use and
// cached for the lifetime of the process, matching the model cache of the
// MeloTTS web server the gateway fronts.
package registry

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/book-expert/logger"
	"github.com/book-expert/melo-gateway/internal/audio"
	"github.com/book-expert/melo-gateway/internal/core"
)

// warmupText is the short prime synthesized after preload to pull model
// weights into whatever caches the engine keeps.
const warmupText = "warmup"

// Log formats.
const (
	logFmtLanguageLoaded  = "Loaded language %s with %d speakers"
	logFmtPreloadFailed   = "Preload of language %s failed: %v"
	logFmtPrimeFailed     = "Warmup synthesis for %s/%s failed (ignored): %v"
	logFmtSpeakerFallback = "Speaker %q not available for %s, falling back to %q"
)

// Defaults applied to requests that omit language, speaker, or speed.
type Defaults struct {
	Language string
	Speaker  string
	Speed    float64
}

// Normalizer cleans request text before synthesis. The text package provides
// the production implementation.
type Normalizer interface {
	Normalize(input string) string
}

// Registry caches the speaker lists of loaded languages and applies request
// defaults and speaker fallback.
type Registry struct {
	engine     core.SpeechEngine
	defaults   Defaults
	normalizer Normalizer
	log        *logger.Logger

	mu        sync.Mutex
	languages map[string][]string
}

// New creates a registry over an engine. normalizer may be nil to disable
// text normalization.
func New(
	engine core.SpeechEngine,
	defaults Defaults,
	normalizer Normalizer,
	log *logger.Logger,
) *Registry {
	defaults.Language = strings.ToUpper(defaults.Language)

	return &Registry{
		engine:     engine,
		defaults:   defaults,
		normalizer: normalizer,
		log:        log,
		languages:  make(map[string][]string),
	}
}

// EnsureLanguage loads a language through the engine on first use and returns
// its sorted speaker list. A language never becomes visible half-loaded: the
// load completes under the registry lock before the entry is published.
func (r *Registry) EnsureLanguage(ctx context.Context, language string) ([]string, error) {
	code := strings.ToUpper(strings.TrimSpace(language))
	if code == "" {
		code = r.defaults.Language
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if speakers, loaded := r.languages[code]; loaded {
		return speakers, nil
	}

	speakers, err := r.engine.LoadVoices(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("failed to load language %q: %w", code, err)
	}

	sorted := append([]string(nil), speakers...)
	sort.Strings(sorted)

	r.languages[code] = sorted
	r.log.Info(logFmtLanguageLoaded, code, len(sorted))

	return sorted, nil
}

// Snapshot returns a copy of the loaded language table.
func (r *Registry) Snapshot() map[string][]string {
	r.mu.Lock()
	defer r.mu.Unlock()

	snapshot := make(map[string][]string, len(r.languages))
	for code, speakers := range r.languages {
		snapshot[code] = append([]string(nil), speakers...)
	}

	return snapshot
}

// LanguageForSpeaker resolves which language serves a speaker identifier.
// Speaker IDs embed their language ("EN-US" belongs to "EN"), so the prefix is
// tried first; loaded languages are scanned as a fallback.
func (r *Registry) LanguageForSpeaker(ctx context.Context, speaker string) (string, error) {
	candidate := strings.ToUpper(speaker)
	if idx := strings.IndexAny(candidate, "-_"); idx > 0 {
		candidate = candidate[:idx]
	}

	speakers, err := r.EnsureLanguage(ctx, candidate)
	if err == nil && containsSpeaker(speakers, speaker) {
		return candidate, nil
	}

	for code, loaded := range r.Snapshot() {
		if containsSpeaker(loaded, speaker) {
			return code, nil
		}
	}

	return "", fmt.Errorf("%w: no loaded language serves speaker %q",
		core.ErrUnknownLanguage, speaker)
}

// Synthesize applies defaults, loads the language, resolves the speaker, and
// runs the engine. The returned audio is guaranteed to be a parseable WAV
// container.
func (r *Registry) Synthesize(
	ctx context.Context,
	req core.SynthesisRequest,
) ([]byte, audio.Info, error) {
	var info audio.Info

	resolved, err := r.resolveRequest(ctx, req)
	if err != nil {
		return nil, info, err
	}

	audioData, err := r.engine.Synthesize(ctx, resolved)
	if err != nil {
		return nil, info, fmt.Errorf("synthesis failed: %w", err)
	}

	info, err = audio.Probe(audioData)
	if err != nil {
		return nil, info, fmt.Errorf("engine returned invalid audio: %w", err)
	}

	return audioData, info, nil
}

// resolveRequest fills defaults and validates the speaker against the
// language's loaded voice list.
func (r *Registry) resolveRequest(
	ctx context.Context,
	req core.SynthesisRequest,
) (core.SynthesisRequest, error) {
	if req.Text == "" {
		return req, core.ErrEmptyText
	}

	if req.Language == "" {
		req.Language = r.defaults.Language
	}

	req.Language = strings.ToUpper(req.Language)

	if req.Speaker == "" {
		req.Speaker = r.defaults.Speaker
	}

	if req.Speed == 0 {
		req.Speed = r.defaults.Speed
	}

	speakers, err := r.EnsureLanguage(ctx, req.Language)
	if err != nil {
		return req, err
	}

	speaker, err := r.resolveSpeaker(req.Language, speakers, req.Speaker)
	if err != nil {
		return req, err
	}

	req.Speaker = speaker

	if r.normalizer != nil {
		req.Text = r.normalizer.Normalize(req.Text)
	}

	return req, nil
}

// resolveSpeaker returns the requested speaker when the language serves it,
// or falls back to the language's first available speaker.
func (r *Registry) resolveSpeaker(
	language string,
	speakers []string,
	requested string,
) (string, error) {
	if len(speakers) == 0 {
		return "", fmt.Errorf("%w: %q", core.ErrNoSpeakers, language)
	}

	if containsSpeaker(speakers, requested) {
		return requested, nil
	}

	fallback := speakers[0]
	r.log.Warn(logFmtSpeakerFallback, requested, language, fallback)

	return fallback, nil
}

// Warmup preloads the configured languages and primes each with one short
// synthesis. Load failures keep the language lazy; prime failures are logged
// and ignored.
func (r *Registry) Warmup(ctx context.Context, languages []string) {
	for _, language := range languages {
		speakers, err := r.EnsureLanguage(ctx, language)
		if err != nil {
			r.log.Warn(logFmtPreloadFailed, language, err)

			continue
		}

		if len(speakers) == 0 {
			continue
		}

		speaker := speakers[0]
		if containsSpeaker(speakers, r.defaults.Speaker) {
			speaker = r.defaults.Speaker
		}

		_, err = r.engine.Synthesize(ctx, core.SynthesisRequest{
			Text:     warmupText,
			Language: strings.ToUpper(language),
			Speaker:  speaker,
			Speed:    r.defaults.Speed,
		})
		if err != nil {
			r.log.Warn(logFmtPrimeFailed, language, speaker, err)
		}
	}
}

func containsSpeaker(speakers []string, speaker string) bool {
	for _, candidate := range speakers {
		if candidate == speaker {
			return true
		}
	}

	return false
}
