// Package engine provides the MeloTTS engine adapters for the melo-gateway.
//
// Two adapters implement core.SpeechEngine: ExecEngine drives the melo CLI
// binary per request, and RuntimeClient talks to a sidecar MeloTTS HTTP
// runtime. The gateway selects one at startup from configuration.
package engine

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/book-expert/logger"
	"github.com/book-expert/melo-gateway/internal/core"
)

// CLI flag names of the melo binary.
const (
	flagLanguage = "--language"
	flagSpeaker  = "--speaker"
	flagSpeed    = "--speed"
	flagDevice   = "--device"
)

// ErrEmptyAudioFile indicates the CLI exited successfully but wrote no audio.
var ErrEmptyAudioFile = errors.New("melo binary produced an empty audio file")

// ExecEngine implements core.SpeechEngine by invoking the melo CLI binary.
// Speaker discovery is catalog-driven: the CLI cannot enumerate speakers, so
// the per-language speaker lists come from configuration.
type ExecEngine struct {
	binaryPath string
	device     string
	catalog    map[string][]string
	log        *logger.Logger
}

// NewExecEngine creates an exec-based engine. The catalog maps upper-case
// language codes to the speaker identifiers their models provide.
func NewExecEngine(
	binaryPath, device string,
	catalog map[string][]string,
	log *logger.Logger,
) *ExecEngine {
	return &ExecEngine{
		binaryPath: binaryPath,
		device:     device,
		catalog:    catalog,
		log:        log,
	}
}

// LoadVoices returns the configured speakers for a language. Loading is
// otherwise a no-op for the CLI: model weights are fetched on first synthesis.
func (e *ExecEngine) LoadVoices(_ context.Context, language string) ([]string, error) {
	speakers, ok := e.catalog[strings.ToUpper(language)]
	if !ok {
		return nil, fmt.Errorf("%w: %q has no catalog entry", core.ErrUnknownLanguage, language)
	}

	return append([]string(nil), speakers...), nil
}

// Synthesize runs the melo binary and returns the WAV data it produced.
func (e *ExecEngine) Synthesize(ctx context.Context, req core.SynthesisRequest) ([]byte, error) {
	if req.Text == "" {
		return nil, core.ErrEmptyText
	}

	tempFile, err := os.CreateTemp("", "melo-out-*.wav")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp file for melo output: %w", err)
	}

	closeErr := tempFile.Close()
	if closeErr != nil {
		return nil, fmt.Errorf("failed to close temp file: %w", closeErr)
	}

	defer func() {
		removeErr := os.Remove(tempFile.Name())
		if removeErr != nil {
			e.log.Warn("Failed to remove temp file '%s': %v", tempFile.Name(), removeErr)
		}
	}()

	args := []string{
		req.Text,
		tempFile.Name(),
		flagLanguage, req.Language,
		flagSpeaker, req.Speaker,
		flagSpeed, fmt.Sprintf("%.2f", req.Speed),
		flagDevice, e.device,
	}

	// #nosec G204 -- language and speaker are validated against the catalog
	cmd := exec.CommandContext(ctx, e.binaryPath, args...)

	output, err := cmd.CombinedOutput()
	if err != nil {
		return nil, fmt.Errorf("melo binary execution failed: %w - output: %s", err, string(output))
	}

	audioData, err := os.ReadFile(tempFile.Name())
	if err != nil {
		return nil, fmt.Errorf("failed to read audio data from temp file: %w", err)
	}

	if len(audioData) == 0 {
		return nil, ErrEmptyAudioFile
	}

	return audioData, nil
}
