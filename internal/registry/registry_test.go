// Package registry_test tests the per-language model registry.
package registry_test

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"sync"
	"testing"

	"github.com/book-expert/logger"
	"github.com/book-expert/melo-gateway/internal/core"
	"github.com/book-expert/melo-gateway/internal/registry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errMockLoad = errors.New("mock load error")

// testWAV builds a minimal PCM WAV payload.
func testWAV(t *testing.T) []byte {
	t.Helper()

	var buf bytes.Buffer

	const dataBytes = 320

	buf.WriteString("RIFF")
	_ = binary.Write(&buf, binary.LittleEndian, uint32(36+dataBytes))
	buf.WriteString("WAVE")
	buf.WriteString("fmt ")
	_ = binary.Write(&buf, binary.LittleEndian, uint32(16))
	_ = binary.Write(&buf, binary.LittleEndian, uint16(1))
	_ = binary.Write(&buf, binary.LittleEndian, uint16(1))
	_ = binary.Write(&buf, binary.LittleEndian, uint32(16000))
	_ = binary.Write(&buf, binary.LittleEndian, uint32(32000))
	_ = binary.Write(&buf, binary.LittleEndian, uint16(2))
	_ = binary.Write(&buf, binary.LittleEndian, uint16(16))
	buf.WriteString("data")
	_ = binary.Write(&buf, binary.LittleEndian, uint32(dataBytes))
	buf.Write(make([]byte, dataBytes))

	return buf.Bytes()
}

// mockEngine is a mock implementation of core.SpeechEngine.
type mockEngine struct {
	mu             sync.Mutex
	voices         map[string][]string
	loadCalls      map[string]int
	synthesized    []core.SynthesisRequest
	synthesizeFail bool
	audio          []byte
}

func newMockEngine(t *testing.T) *mockEngine {
	t.Helper()

	return &mockEngine{
		voices: map[string][]string{
			"EN": {"EN-US", "EN-BR", "EN-AU"},
			"ES": {"ES"},
			"JP": {},
		},
		loadCalls: make(map[string]int),
		audio:     testWAV(t),
	}
}

func (m *mockEngine) LoadVoices(_ context.Context, language string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.loadCalls[language]++

	speakers, ok := m.voices[language]
	if !ok {
		return nil, errMockLoad
	}

	return speakers, nil
}

func (m *mockEngine) Synthesize(_ context.Context, req core.SynthesisRequest) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.synthesizeFail {
		return nil, errMockLoad
	}

	m.synthesized = append(m.synthesized, req)

	return m.audio, nil
}

func (m *mockEngine) lastRequest(t *testing.T) core.SynthesisRequest {
	t.Helper()

	m.mu.Lock()
	defer m.mu.Unlock()

	require.NotEmpty(t, m.synthesized)

	return m.synthesized[len(m.synthesized)-1]
}

func testRegistry(t *testing.T, engine core.SpeechEngine) *registry.Registry {
	t.Helper()

	log, err := logger.New(t.TempDir(), "registry-test.log")
	require.NoError(t, err)

	t.Cleanup(func() { _ = log.Close() })

	defaults := registry.Defaults{
		Language: "EN",
		Speaker:  "EN-US",
		Speed:    1.0,
	}

	return registry.New(engine, defaults, nil, log)
}

func TestEnsureLanguageLoadsOnce(t *testing.T) {
	t.Parallel()

	engine := newMockEngine(t)
	reg := testRegistry(t, engine)

	speakers, err := reg.EnsureLanguage(context.Background(), "en")
	require.NoError(t, err)
	assert.Equal(t, []string{"EN-AU", "EN-BR", "EN-US"}, speakers)

	_, err = reg.EnsureLanguage(context.Background(), "EN")
	require.NoError(t, err)
	assert.Equal(t, 1, engine.loadCalls["EN"])
}

func TestEnsureLanguageUnknown(t *testing.T) {
	t.Parallel()

	engine := newMockEngine(t)
	reg := testRegistry(t, engine)

	_, err := reg.EnsureLanguage(context.Background(), "KR")
	require.Error(t, err)
	require.ErrorIs(t, err, errMockLoad)
}

func TestSynthesizeAppliesDefaults(t *testing.T) {
	t.Parallel()

	engine := newMockEngine(t)
	reg := testRegistry(t, engine)

	audioData, info, err := reg.Synthesize(context.Background(), core.SynthesisRequest{
		Text: "hello",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, audioData)
	assert.Equal(t, 16000, info.SampleRate)

	last := engine.lastRequest(t)
	assert.Equal(t, "EN", last.Language)
	assert.Equal(t, "EN-US", last.Speaker)
	assert.InEpsilon(t, 1.0, last.Speed, 0.001)
}

func TestSynthesizeSpeakerFallback(t *testing.T) {
	t.Parallel()

	engine := newMockEngine(t)
	reg := testRegistry(t, engine)

	_, _, err := reg.Synthesize(context.Background(), core.SynthesisRequest{
		Text:     "hola",
		Language: "es",
		Speaker:  "EN-US",
	})
	require.NoError(t, err)

	last := engine.lastRequest(t)
	assert.Equal(t, "ES", last.Language)
	assert.Equal(t, "ES", last.Speaker)
}

func TestSynthesizeNoSpeakers(t *testing.T) {
	t.Parallel()

	engine := newMockEngine(t)
	reg := testRegistry(t, engine)

	_, _, err := reg.Synthesize(context.Background(), core.SynthesisRequest{
		Text:     "konnichiwa",
		Language: "JP",
	})
	require.ErrorIs(t, err, core.ErrNoSpeakers)
}

func TestSynthesizeEmptyText(t *testing.T) {
	t.Parallel()

	engine := newMockEngine(t)
	reg := testRegistry(t, engine)

	_, _, err := reg.Synthesize(context.Background(), core.SynthesisRequest{})
	require.ErrorIs(t, err, core.ErrEmptyText)
}

func TestSynthesizeRejectsInvalidEngineAudio(t *testing.T) {
	t.Parallel()

	engine := newMockEngine(t)
	engine.audio = []byte("not a wav container")
	reg := testRegistry(t, engine)

	_, _, err := reg.Synthesize(context.Background(), core.SynthesisRequest{
		Text: "hello",
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid audio")
}

func TestWarmupPreloadsAndPrimes(t *testing.T) {
	t.Parallel()

	engine := newMockEngine(t)
	reg := testRegistry(t, engine)

	reg.Warmup(context.Background(), []string{"EN", "ES", "KR"})

	// KR fails to load; EN and ES are visible afterwards.
	snapshot := reg.Snapshot()
	assert.Len(t, snapshot, 2)
	assert.Contains(t, snapshot, "EN")
	assert.Contains(t, snapshot, "ES")

	// EN primes with the default speaker, ES with its only speaker.
	engine.mu.Lock()
	defer engine.mu.Unlock()
	require.Len(t, engine.synthesized, 2)
	assert.Equal(t, "EN-US", engine.synthesized[0].Speaker)
	assert.Equal(t, "warmup", engine.synthesized[0].Text)
	assert.Equal(t, "ES", engine.synthesized[1].Speaker)
}

func TestLanguageForSpeaker(t *testing.T) {
	t.Parallel()

	engine := newMockEngine(t)
	reg := testRegistry(t, engine)

	language, err := reg.LanguageForSpeaker(context.Background(), "EN-BR")
	require.NoError(t, err)
	assert.Equal(t, "EN", language)

	language, err = reg.LanguageForSpeaker(context.Background(), "ES")
	require.NoError(t, err)
	assert.Equal(t, "ES", language)

	_, err = reg.LanguageForSpeaker(context.Background(), "KR-SEOUL")
	require.ErrorIs(t, err, core.ErrUnknownLanguage)
}
