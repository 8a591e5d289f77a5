// Package audio provides WAV container inspection for the melo-gateway.
//
// The gateway never decodes or edits audio; it only verifies that engine
// output is a well-formed RIFF/WAVE container and reports its parameters.
package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"time"
)

// Container layout constants.
const (
	riffHeaderSize  = 12
	chunkHeaderSize = 8
	fmtChunkMinSize = 16
)

// Static errors.
var (
	ErrNotRIFF       = errors.New("data is not a RIFF container")
	ErrNotWAVE       = errors.New("RIFF container is not WAVE")
	ErrTruncated     = errors.New("WAV data is truncated")
	ErrMissingFormat = errors.New("WAV data has no fmt chunk")
	ErrMissingData   = errors.New("WAV data has no data chunk")
	ErrBadFormat     = errors.New("WAV format parameters are invalid")
)

// Info describes the parameters of a WAV payload.
type Info struct {
	SampleRate    int
	Channels      int
	BitsPerSample int
	DataBytes     int
	Duration      time.Duration
}

// Probe parses the RIFF/WAVE header of data and returns the audio parameters.
// It walks the chunk list rather than assuming a canonical 44-byte header, so
// containers with LIST or fact chunks are handled.
func Probe(data []byte) (Info, error) {
	var info Info

	err := checkRIFFHeader(data)
	if err != nil {
		return info, err
	}

	haveFmt := false
	haveData := false
	offset := riffHeaderSize

	for offset+chunkHeaderSize <= len(data) {
		chunkID := string(data[offset : offset+4])
		chunkSize := int(binary.LittleEndian.Uint32(data[offset+4 : offset+8]))
		body := offset + chunkHeaderSize

		if body+chunkSize > len(data) {
			return info, fmt.Errorf("%w: chunk %q overruns payload", ErrTruncated, chunkID)
		}

		switch chunkID {
		case "fmt ":
			fmtErr := parseFormatChunk(data[body:body+chunkSize], &info)
			if fmtErr != nil {
				return info, fmtErr
			}

			haveFmt = true
		case "data":
			info.DataBytes = chunkSize
			haveData = true
		}

		// Chunks are word-aligned; odd sizes carry a pad byte.
		offset = body + chunkSize + chunkSize%2
	}

	if !haveFmt {
		return info, ErrMissingFormat
	}

	if !haveData {
		return info, ErrMissingData
	}

	info.Duration = dataDuration(info)

	return info, nil
}

func checkRIFFHeader(data []byte) error {
	if len(data) < riffHeaderSize {
		return ErrTruncated
	}

	if string(data[0:4]) != "RIFF" {
		return ErrNotRIFF
	}

	if string(data[8:12]) != "WAVE" {
		return ErrNotWAVE
	}

	return nil
}

func parseFormatChunk(chunk []byte, info *Info) error {
	if len(chunk) < fmtChunkMinSize {
		return fmt.Errorf("%w: fmt chunk too short", ErrTruncated)
	}

	info.Channels = int(binary.LittleEndian.Uint16(chunk[2:4]))
	info.SampleRate = int(binary.LittleEndian.Uint32(chunk[4:8]))
	info.BitsPerSample = int(binary.LittleEndian.Uint16(chunk[14:16]))

	if info.Channels <= 0 || info.SampleRate <= 0 || info.BitsPerSample <= 0 {
		return fmt.Errorf("%w: channels=%d rate=%d bits=%d",
			ErrBadFormat, info.Channels, info.SampleRate, info.BitsPerSample)
	}

	return nil
}

func dataDuration(info Info) time.Duration {
	bytesPerSecond := info.SampleRate * info.Channels * info.BitsPerSample / 8
	if bytesPerSecond <= 0 {
		return 0
	}

	seconds := float64(info.DataBytes) / float64(bytesPerSecond)

	return time.Duration(seconds * float64(time.Second))
}
