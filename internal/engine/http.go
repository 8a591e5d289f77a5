package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/book-expert/melo-gateway/internal/core"
)

// API endpoints of the MeloTTS runtime. The gateway exposes the same paths,
// which lets the CLI client reuse this client against either process.
const (
	apiSynthesize = "/synthesize"
	apiVoices     = "/voices"
	apiHealth     = "/healthz"
)

// HTTP headers.
const (
	headerContentType = "Content-Type"
	headerAccept      = "Accept"
	contentTypeJSON   = "application/json"
	contentTypeWAV    = "audio/wav"
)

// Static errors.
var (
	ErrEmptyAudioBody    = errors.New("received empty audio data")
	ErrUnexpectedContent = errors.New("unexpected response content type")
)

// SynthesizeRequest is the JSON payload of the synthesis endpoint. The field
// set mirrors the MeloTTS web API contract.
type SynthesizeRequest struct {
	Text     string  `json:"text"`
	Language string  `json:"language,omitempty"`
	Speaker  string  `json:"speaker,omitempty"`
	Speed    float64 `json:"speed,omitempty"`
}

// apiError is the structured JSON error body returned by the runtime.
type apiError struct {
	Error  string `json:"error,omitempty"`
	Detail string `json:"detail,omitempty"`
}

// RuntimeClient is an HTTP client for a MeloTTS runtime (or another
// melo-gateway). It implements core.SpeechEngine.
type RuntimeClient struct {
	httpClient *http.Client
	baseURL    string
}

// NewRuntimeClient creates a client for the runtime at baseURL, which must
// include the scheme and port (e.g. "http://127.0.0.1:8001"). The timeout
// applies to every request the client makes.
func NewRuntimeClient(baseURL string, timeout time.Duration) *RuntimeClient {
	return &RuntimeClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// LoadVoices asks the runtime to load a language and returns its speakers.
func (c *RuntimeClient) LoadVoices(ctx context.Context, language string) ([]string, error) {
	voices, err := c.Voices(ctx, language)
	if err != nil {
		return nil, err
	}

	speakers, ok := voices[strings.ToUpper(language)]
	if !ok {
		return nil, fmt.Errorf("%w: runtime does not serve %q", core.ErrUnknownLanguage, language)
	}

	return speakers, nil
}

// Voices fetches the voice listing. When language is non-empty it is passed as
// a query parameter so the runtime loads that language before answering.
func (c *RuntimeClient) Voices(ctx context.Context, language string) (map[string][]string, error) {
	endpoint := c.baseURL + apiVoices
	if language != "" {
		endpoint += "?language=" + url.QueryEscape(strings.ToUpper(language))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("failed to create voices request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("voices request to %s failed: %w", c.baseURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, c.decodeError(resp)
	}

	var voices map[string][]string

	err = json.NewDecoder(resp.Body).Decode(&voices)
	if err != nil {
		return nil, fmt.Errorf("failed to decode voices response: %w", err)
	}

	return voices, nil
}

// Synthesize posts a synthesis request and returns the raw WAV data.
func (c *RuntimeClient) Synthesize(ctx context.Context, req core.SynthesisRequest) ([]byte, error) {
	if req.Text == "" {
		return nil, core.ErrEmptyText
	}

	payload := SynthesizeRequest{
		Text:     req.Text,
		Language: req.Language,
		Speaker:  req.Speaker,
		Speed:    req.Speed,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal synthesis request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(
		ctx,
		http.MethodPost,
		c.baseURL+apiSynthesize,
		bytes.NewReader(body),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create synthesis request: %w", err)
	}

	httpReq.Header.Set(headerContentType, contentTypeJSON)
	httpReq.Header.Set(headerAccept, contentTypeWAV)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("synthesis request to %s failed: %w", c.baseURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, c.decodeError(resp)
	}

	contentType := resp.Header.Get(headerContentType)
	if !strings.HasPrefix(contentType, contentTypeWAV) {
		return nil, fmt.Errorf("%w: expected %s, got %s",
			ErrUnexpectedContent, contentTypeWAV, contentType)
	}

	audioData, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read audio data: %w", err)
	}

	if len(audioData) == 0 {
		return nil, ErrEmptyAudioBody
	}

	return audioData, nil
}

// Health verifies that the runtime answers its health endpoint.
func (c *RuntimeClient) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(
		ctx,
		http.MethodGet,
		c.baseURL+apiHealth,
		http.NoBody,
	)
	if err != nil {
		return fmt.Errorf("failed to create health check request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed for %s: %w", c.baseURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check failed with status: %s", resp.Status)
	}

	return nil
}

// decodeError turns a non-200 response into a diagnostic error. Structured
// JSON errors are preferred; the raw body is the fallback. A 400 response
// about a language maps onto core.ErrUnknownLanguage so callers can classify.
func (c *RuntimeClient) decodeError(resp *http.Response) error {
	raw, _ := io.ReadAll(resp.Body)

	var structured apiError

	detail := string(raw)

	err := json.Unmarshal(raw, &structured)
	if err == nil {
		if structured.Detail != "" {
			detail = structured.Detail
		} else if structured.Error != "" {
			detail = structured.Error
		}
	}

	if resp.StatusCode == http.StatusBadRequest &&
		strings.Contains(strings.ToLower(detail), "language") {
		return fmt.Errorf("%w: %s", core.ErrUnknownLanguage, detail)
	}

	return fmt.Errorf("runtime returned %s: %s", resp.Status, detail)
}
