// Package audio_test tests WAV container probing.
package audio_test

import (
	"bytes"
	"encoding/binary"
	"testing"
	"time"

	"github.com/book-expert/melo-gateway/internal/audio"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// buildWAV assembles a minimal PCM WAV payload for testing.
func buildWAV(t *testing.T, sampleRate, channels, bits, dataBytes int) []byte {
	t.Helper()

	var buf bytes.Buffer

	dataSize := uint32(dataBytes)
	byteRate := uint32(sampleRate * channels * bits / 8)
	blockAlign := uint16(channels * bits / 8)

	buf.WriteString("RIFF")
	_ = binary.Write(&buf, binary.LittleEndian, 36+dataSize)
	buf.WriteString("WAVE")

	buf.WriteString("fmt ")
	_ = binary.Write(&buf, binary.LittleEndian, uint32(16))
	_ = binary.Write(&buf, binary.LittleEndian, uint16(1)) // PCM
	_ = binary.Write(&buf, binary.LittleEndian, uint16(channels))
	_ = binary.Write(&buf, binary.LittleEndian, uint32(sampleRate))
	_ = binary.Write(&buf, binary.LittleEndian, byteRate)
	_ = binary.Write(&buf, binary.LittleEndian, blockAlign)
	_ = binary.Write(&buf, binary.LittleEndian, uint16(bits))

	buf.WriteString("data")
	_ = binary.Write(&buf, binary.LittleEndian, dataSize)
	buf.Write(make([]byte, dataBytes))

	return buf.Bytes()
}

func TestProbeValidPayload(t *testing.T) {
	t.Parallel()

	// One second of 16-bit mono at 44100 Hz.
	payload := buildWAV(t, 44100, 1, 16, 88200)

	info, err := audio.Probe(payload)
	require.NoError(t, err)

	assert.Equal(t, 44100, info.SampleRate)
	assert.Equal(t, 1, info.Channels)
	assert.Equal(t, 16, info.BitsPerSample)
	assert.Equal(t, 88200, info.DataBytes)
	assert.Equal(t, time.Second, info.Duration)
}

func TestProbeSkipsUnknownChunks(t *testing.T) {
	t.Parallel()

	payload := buildWAV(t, 22050, 2, 16, 1000)

	// Splice a LIST chunk between the header and the fmt chunk.
	list := []byte("LIST")
	list = append(list, 4, 0, 0, 0)
	list = append(list, []byte("INFO")...)

	spliced := append([]byte{}, payload[:12]...)
	spliced = append(spliced, list...)
	spliced = append(spliced, payload[12:]...)

	info, err := audio.Probe(spliced)
	require.NoError(t, err)
	assert.Equal(t, 22050, info.SampleRate)
	assert.Equal(t, 2, info.Channels)
}

func TestProbeRejectsBadPayloads(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		payload []byte
		wantErr error
	}{
		{
			name:    "empty payload",
			payload: nil,
			wantErr: audio.ErrTruncated,
		},
		{
			name:    "not riff",
			payload: []byte("OggS\x00\x00\x00\x00\x00\x00\x00\x00"),
			wantErr: audio.ErrNotRIFF,
		},
		{
			name:    "riff but not wave",
			payload: []byte("RIFF\x04\x00\x00\x00AVI "),
			wantErr: audio.ErrNotWAVE,
		},
		{
			name:    "header only",
			payload: []byte("RIFF\x04\x00\x00\x00WAVE"),
			wantErr: audio.ErrMissingFormat,
		},
	}

	for _, testCase := range tests {
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			_, err := audio.Probe(testCase.payload)
			require.ErrorIs(t, err, testCase.wantErr)
		})
	}
}

func TestProbeRejectsOverrunningChunk(t *testing.T) {
	t.Parallel()

	payload := buildWAV(t, 16000, 1, 16, 100)

	// Truncate inside the data chunk body.
	_, err := audio.Probe(payload[:len(payload)-50])
	require.ErrorIs(t, err, audio.ErrTruncated)
}
