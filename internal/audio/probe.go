// Package audio inspects synthesized audio payloads. Engines return either
// RIFF/WAV (local backends) or MP3 (cloud backends); the probe identifies
// the container and reports sample rate, channel count, and play duration so
// sinks can name files correctly and progress reporting can account real
// audio time.
package audio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/hajimehoshi/go-mp3"
)

// Format identifies an audio container.
type Format string

// Supported formats.
const (
	FormatWAV     Format = "wav"
	FormatMP3     Format = "mp3"
	FormatUnknown Format = "unknown"
)

// Static errors.
var (
	// ErrUnknownFormat indicates a payload that is neither WAV nor MP3.
	ErrUnknownFormat = errors.New("unknown audio format")
	// ErrMalformedWAV indicates a RIFF payload with a truncated or
	// inconsistent chunk layout.
	ErrMalformedWAV = errors.New("malformed wav data")
)

const (
	wavHeaderSize   = 12
	chunkHeaderSize = 8
	fmtChunkMinSize = 16
	mp3SyncMask     = 0xE0
	// decoded MP3 is always 16-bit stereo, 4 bytes per sample frame.
	mp3FrameBytes = 4
)

// Extension returns the file extension for the format, including the dot.
func (f Format) Extension() string {
	switch f {
	case FormatWAV:
		return ".wav"
	case FormatMP3:
		return ".mp3"
	case FormatUnknown:
		return ".bin"
	default:
		return ".bin"
	}
}

// Info describes a probed audio payload.
type Info struct {
	Format     Format        `json:"format"`
	SampleRate int           `json:"sample_rate"`
	Channels   int           `json:"channels"`
	BitDepth   int           `json:"bit_depth"`
	Duration   time.Duration `json:"duration"`
}

// DetectFormat sniffs the container from the payload's leading bytes.
func DetectFormat(data []byte) Format {
	if len(data) >= wavHeaderSize &&
		bytes.HasPrefix(data, []byte("RIFF")) &&
		bytes.Equal(data[8:12], []byte("WAVE")) {
		return FormatWAV
	}

	if bytes.HasPrefix(data, []byte("ID3")) {
		return FormatMP3
	}

	if len(data) >= 2 && data[0] == 0xFF && data[1]&mp3SyncMask == mp3SyncMask {
		return FormatMP3
	}

	return FormatUnknown
}

// Probe parses the payload and returns its format and timing information.
func Probe(data []byte) (Info, error) {
	switch DetectFormat(data) {
	case FormatWAV:
		return probeWAV(data)
	case FormatMP3:
		return probeMP3(data)
	case FormatUnknown:
		return Info{}, ErrUnknownFormat
	default:
		return Info{}, ErrUnknownFormat
	}
}

// probeWAV walks the RIFF chunk list for "fmt " and "data".
func probeWAV(data []byte) (Info, error) {
	info := Info{
		Format:     FormatWAV,
		SampleRate: 0,
		Channels:   0,
		BitDepth:   0,
		Duration:   0,
	}

	var (
		byteRate uint32
		dataSize uint32
		haveFmt  bool
		haveData bool
	)

	offset := wavHeaderSize

	for offset+chunkHeaderSize <= len(data) {
		chunkID := string(data[offset : offset+4])
		chunkSize := binary.LittleEndian.Uint32(data[offset+4 : offset+8])
		body := offset + chunkHeaderSize

		switch chunkID {
		case "fmt ":
			if chunkSize < fmtChunkMinSize || body+fmtChunkMinSize > len(data) {
				return Info{}, fmt.Errorf("%w: short fmt chunk", ErrMalformedWAV)
			}

			info.Channels = int(binary.LittleEndian.Uint16(data[body+2 : body+4]))
			info.SampleRate = int(binary.LittleEndian.Uint32(data[body+4 : body+8]))
			byteRate = binary.LittleEndian.Uint32(data[body+8 : body+12])
			info.BitDepth = int(binary.LittleEndian.Uint16(data[body+14 : body+16]))
			haveFmt = true
		case "data":
			dataSize = chunkSize
			haveData = true
		}

		// Chunks are word-aligned.
		offset = body + int(chunkSize)
		if chunkSize%2 == 1 {
			offset++
		}
	}

	if !haveFmt || !haveData {
		return Info{}, fmt.Errorf("%w: missing fmt or data chunk", ErrMalformedWAV)
	}

	if byteRate > 0 {
		seconds := float64(dataSize) / float64(byteRate)
		info.Duration = time.Duration(seconds * float64(time.Second))
	}

	return info, nil
}

// probeMP3 decodes the stream header to learn sample rate and total decoded
// length.
func probeMP3(data []byte) (Info, error) {
	decoder, err := mp3.NewDecoder(bytes.NewReader(data))
	if err != nil {
		return Info{}, fmt.Errorf("failed to decode mp3 stream: %w", err)
	}

	sampleRate := decoder.SampleRate()

	info := Info{
		Format:     FormatMP3,
		SampleRate: sampleRate,
		Channels:   2,
		BitDepth:   16,
		Duration:   0,
	}

	if sampleRate > 0 {
		frames := decoder.Length() / mp3FrameBytes
		seconds := float64(frames) / float64(sampleRate)
		info.Duration = time.Duration(seconds * float64(time.Second))
	}

	return info, nil
}
