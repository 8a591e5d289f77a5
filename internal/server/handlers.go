// Package server provides the HTTP API of the melo-gateway: health, voice
// listing, and synthesis endpoints over the language registry.
package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/book-expert/logger"
	"github.com/book-expert/melo-gateway/internal/cache"
	"github.com/book-expert/melo-gateway/internal/config"
	"github.com/book-expert/melo-gateway/internal/core"
	"github.com/book-expert/melo-gateway/internal/registry"
)

// Response headers of the synthesis endpoint.
const (
	headerContentType        = "Content-Type"
	headerContentDisposition = "Content-Disposition"
	contentTypeWAV           = "audio/wav"
	contentTypeJSON          = "application/json"
	contentTypePlain         = "text/plain; charset=utf-8"
	dispositionInlineWAV     = `inline; filename="speech.wav"`
)

// Log formats.
const (
	logFmtCacheReadFailed  = "Cache read failed for %s: %v"
	logFmtCacheWriteFailed = "Cache write failed for %s: %v"
	logFmtSynthesized      = "Synthesized %s/%s: %d bytes, %s"
)

// synthesizeIn is the JSON body of POST /synthesize. Speed is a pointer to
// distinguish an omitted field from an explicit zero.
type synthesizeIn struct {
	Text     string   `json:"text"`
	Language string   `json:"language,omitempty"`
	Speaker  string   `json:"speaker,omitempty"`
	Speed    *float64 `json:"speed,omitempty"`
}

// errorResponse is the JSON error payload.
type errorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// Handler wires the registry and cache into HTTP handlers.
type Handler struct {
	registry *registry.Registry
	cache    core.AudioCache
	cfg      *config.Config
	log      *logger.Logger
}

// NewHandler constructs a Handler with the provided dependencies.
func NewHandler(
	reg *registry.Registry,
	audioCache core.AudioCache,
	cfg *config.Config,
	log *logger.Logger,
) *Handler {
	return &Handler{
		registry: reg,
		cache:    audioCache,
		cfg:      cfg,
		log:      log,
	}
}

// handleHealthz reports process liveness.
func (h *Handler) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set(headerContentType, contentTypePlain)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// handleVoices lists the speakers of every loaded language. The default
// language (or the one named in the query) is loaded first so a fresh process
// never answers with an empty listing.
func (h *Handler) handleVoices(w http.ResponseWriter, r *http.Request) {
	language := strings.TrimSpace(r.URL.Query().Get("language"))
	if language == "" {
		language = h.cfg.Melo.DefaultLanguage
	}

	_, err := h.registry.EnsureLanguage(r.Context(), language)
	if err != nil {
		h.writeLanguageError(w, err)

		return
	}

	writeJSON(w, http.StatusOK, h.registry.Snapshot())
}

// handleSynthesize converts text to speech and streams the WAV back.
func (h *Handler) handleSynthesize(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decodeSynthesizeRequest(w, r)
	if !ok {
		return
	}

	cacheKey := cache.Key(req)

	cached, found, err := h.cache.Get(r.Context(), cacheKey)
	if err != nil {
		h.log.Warn(logFmtCacheReadFailed, cacheKey, err)
	}

	if found {
		writeWAV(w, cached)

		return
	}

	audioData, info, err := h.registry.Synthesize(r.Context(), req)
	if err != nil {
		h.writeLanguageError(w, err)

		return
	}

	putErr := h.cache.Put(r.Context(), cacheKey, audioData)
	if putErr != nil {
		h.log.Warn(logFmtCacheWriteFailed, cacheKey, putErr)
	}

	h.log.Info(logFmtSynthesized, req.Language, req.Speaker, len(audioData), info.Duration)
	writeWAV(w, audioData)
}

// decodeSynthesizeRequest parses and validates the request body, applying the
// configured defaults. It reports validation failures to the client itself.
func (h *Handler) decodeSynthesizeRequest(
	w http.ResponseWriter,
	r *http.Request,
) (core.SynthesisRequest, bool) {
	var (
		body synthesizeIn
		req  core.SynthesisRequest
	)

	err := json.NewDecoder(r.Body).Decode(&body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request", "unable to parse JSON payload")

		return req, false
	}

	if strings.TrimSpace(body.Text) == "" {
		writeError(w, http.StatusBadRequest, "Invalid request", "text must not be empty")

		return req, false
	}

	if len(body.Text) > h.cfg.Melo.MaxTextLength {
		writeError(w, http.StatusBadRequest, "Invalid request",
			fmt.Sprintf("text exceeds maximum length of %d characters", h.cfg.Melo.MaxTextLength))

		return req, false
	}

	speed := h.cfg.Melo.DefaultSpeed
	if body.Speed != nil {
		speed = *body.Speed
	}

	if speed < config.MinSpeed || speed > config.MaxSpeed {
		writeError(w, http.StatusBadRequest, "Invalid request",
			fmt.Sprintf("speed must be between %.1f and %.1f", config.MinSpeed, config.MaxSpeed))

		return req, false
	}

	language := body.Language
	if language == "" {
		language = h.cfg.Melo.DefaultLanguage
	}

	speaker := body.Speaker
	if speaker == "" {
		speaker = h.cfg.Melo.DefaultSpeaker
	}

	req = core.SynthesisRequest{
		Text:     body.Text,
		Language: strings.ToUpper(language),
		Speaker:  speaker,
		Speed:    speed,
	}

	return req, true
}

// writeLanguageError maps registry errors onto status codes: unknown languages
// and speakerless models are client errors, everything else is a 500.
func (h *Handler) writeLanguageError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, core.ErrUnknownLanguage):
		writeError(w, http.StatusBadRequest, "Unknown language", err.Error())
	case errors.Is(err, core.ErrNoSpeakers):
		writeError(w, http.StatusBadRequest, "No speakers available", err.Error())
	case errors.Is(err, core.ErrEmptyText):
		writeError(w, http.StatusBadRequest, "Invalid request", err.Error())
	default:
		h.log.Error("Synthesis failed: %v", err)
		writeError(w, http.StatusInternalServerError, "Synthesis failed", err.Error())
	}
}

func writeWAV(w http.ResponseWriter, audioData []byte) {
	w.Header().Set(headerContentType, contentTypeWAV)
	w.Header().Set(headerContentDisposition, dispositionInlineWAV)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(audioData)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set(headerContentType, contentTypeJSON)
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message, details string) {
	writeJSON(w, status, errorResponse{
		Error:   message,
		Details: details,
	})
}
