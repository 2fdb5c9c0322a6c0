// Package pcm holds helpers for 16-bit little-endian PCM payloads.
package pcm

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// BitDepth is the only sample width carried through the pipeline.
const BitDepth = 16

// SilenceDB is reported for empty or all-zero payloads.
const SilenceDB = -160.0

// ErrUnaligned is returned when a payload is not a whole number of samples.
var ErrUnaligned = errors.New("pcm payload not aligned to 16-bit samples")

// Ints decodes a S16LE payload into go-audio integer samples.
func Ints(payload []byte) ([]int, error) {
	if len(payload)%2 != 0 {
		return nil, ErrUnaligned
	}
	samples := make([]int, len(payload)/2)
	for i := range samples {
		samples[i] = int(int16(binary.LittleEndian.Uint16(payload[i*2:])))
	}
	return samples, nil
}

// Bytes encodes integer samples back into S16LE, clipping to int16.
func Bytes(samples []int) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		if s > math.MaxInt16 {
			s = math.MaxInt16
		} else if s < math.MinInt16 {
			s = math.MinInt16
		}
		binary.LittleEndian.PutUint16(out[i*2:], uint16(int16(s)))
	}
	return out
}

// PowerDB returns the RMS power of a payload in dBFS.
func PowerDB(payload []byte) float64 {
	n := len(payload) / 2
	if n == 0 {
		return SilenceDB
	}
	var sum float64
	for i := 0; i < n; i++ {
		v := float64(int16(binary.LittleEndian.Uint16(payload[i*2:]))) / 32768.0
		sum += v * v
	}
	rms := math.Sqrt(sum / float64(n))
	if rms == 0 {
		return SilenceDB
	}
	db := 20 * math.Log10(rms)
	if db < SilenceDB {
		return SilenceDB
	}
	return db
}

// WriteWAV writes a complete WAV file holding payload.
func WriteWAV(w io.WriteSeeker, payload []byte, sampleRate, channels int) error {
	samples, err := Ints(payload)
	if err != nil {
		return err
	}
	enc := wav.NewEncoder(w, sampleRate, BitDepth, channels, 1)
	buf := &audio.IntBuffer{
		Format:         &audio.Format{NumChannels: channels, SampleRate: sampleRate},
		Data:           samples,
		SourceBitDepth: BitDepth,
	}
	if err := enc.Write(buf); err != nil {
		return fmt.Errorf("write wav: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("close wav encoder: %w", err)
	}
	return nil
}
