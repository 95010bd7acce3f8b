// Package wavfmt validates and repairs WAV headers for windows cut from a
// raw PCM stream, and frames raw samples into self-contained WAV buffers
// suitable for handing to a recognition provider.
package wavfmt

import (
	"bytes"
	"fmt"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// Format describes the PCM layout a Window Scheduler produces: fixed
// sample rate, bit depth, and channel count.
type Format struct {
	SampleRate  int
	BitDepth    int
	NumChannels int
}

// DefaultFormat is the PCM layout every audio source (C1) is required to
// decode to before handing samples to the Window Scheduler (C2).
var DefaultFormat = Format{SampleRate: 44100, BitDepth: 16, NumChannels: 1}

// EncodeWindow writes raw little-endian PCM samples as a self-contained,
// header-correct WAV buffer: a window of raw samples carries no header of
// its own until this step stamps one on, so every window handed to a
// Recognizer is a complete, independently decodable WAV file regardless
// of how the upstream decoder chunked its output.
func EncodeWindow(pcm []byte, format Format) ([]byte, error) {
	if len(pcm) == 0 {
		return nil, fmt.Errorf("wavfmt: cannot encode an empty window")
	}
	if format.BitDepth%8 != 0 {
		return nil, fmt.Errorf("wavfmt: unsupported bit depth %d", format.BitDepth)
	}

	buf := &bytes.Buffer{}
	enc := wav.NewEncoder(buf, format.SampleRate, format.BitDepth, format.NumChannels, 1)

	samples := bytesToInts(pcm, format.BitDepth)
	intBuf := &audio.IntBuffer{
		Format: &audio.Format{
			NumChannels: format.NumChannels,
			SampleRate:  format.SampleRate,
		},
		Data:           samples,
		SourceBitDepth: format.BitDepth,
	}
	if err := enc.Write(intBuf); err != nil {
		return nil, fmt.Errorf("wavfmt: encode window: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("wavfmt: close encoder: %w", err)
	}
	return buf.Bytes(), nil
}

func bytesToInts(pcm []byte, bitDepth int) []int {
	bytesPerSample := bitDepth / 8
	n := len(pcm) / bytesPerSample
	out := make([]int, n)
	for i := 0; i < n; i++ {
		switch bytesPerSample {
		case 2:
			lo := pcm[i*2]
			hi := pcm[i*2+1]
			v := int16(uint16(lo) | uint16(hi)<<8)
			out[i] = int(v)
		case 1:
			out[i] = int(pcm[i]) - 128
		default:
			v := 0
			for b := 0; b < bytesPerSample; b++ {
				v |= int(pcm[i*bytesPerSample+b]) << (8 * b)
			}
			out[i] = v
		}
	}
	return out
}

// ValidateHeader decodes buf as a WAV file and confirms it matches the
// expected format, rejecting truncated or garbled buffers. The stream
// worker does not call it: windows go to providers as EncodeWindow
// framed them.
func ValidateHeader(buf []byte, expected Format) error {
	decoder := wav.NewDecoder(bytes.NewReader(buf))
	if !decoder.IsValidFile() {
		return fmt.Errorf("wavfmt: not a valid WAV file")
	}
	decoder.ReadInfo()
	if int(decoder.SampleRate) != expected.SampleRate {
		return fmt.Errorf("wavfmt: sample rate mismatch: got %d, want %d", decoder.SampleRate, expected.SampleRate)
	}
	if int(decoder.NumChans) != expected.NumChannels {
		return fmt.Errorf("wavfmt: channel count mismatch: got %d, want %d", decoder.NumChans, expected.NumChannels)
	}
	if int(decoder.BitDepth) != expected.BitDepth {
		return fmt.Errorf("wavfmt: bit depth mismatch: got %d, want %d", decoder.BitDepth, expected.BitDepth)
	}
	return nil
}

// Duration returns the playable duration of a WAV buffer in seconds,
// derived from its header rather than assumed from the caller's window
// size. The Window Scheduler does not use it; it marks gap-shortened
// windows by byte count.
func Duration(buf []byte) (float64, error) {
	decoder := wav.NewDecoder(bytes.NewReader(buf))
	if !decoder.IsValidFile() {
		return 0, fmt.Errorf("wavfmt: not a valid WAV file")
	}
	decoder.ReadInfo()
	dur, err := decoder.Duration()
	if err != nil {
		return 0, fmt.Errorf("wavfmt: read duration: %w", err)
	}
	return dur.Seconds(), nil
}
