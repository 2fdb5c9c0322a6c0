package stt

import (
	"fmt"
	"os"
	"sync"

	"speech-capture-service/internal/pcm"
)

// AudioBuffer accumulates request audio for batch recognizers.
type AudioBuffer struct {
	mu   sync.Mutex
	data []byte
}

// Append copies audio into the buffer.
func (b *AudioBuffer) Append(audio []byte) {
	b.mu.Lock()
	b.data = append(b.data, audio...)
	b.mu.Unlock()
}

// Len is the buffered byte count.
func (b *AudioBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.data)
}

// Snapshot returns a copy of the buffered audio.
func (b *AudioBuffer) Snapshot() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]byte(nil), b.data...)
}

// TempWAV writes payload to a new WAV file in the system temp dir. The
// caller removes the file.
func TempWAV(pattern string, payload []byte, sampleRate, channels int) (string, error) {
	f, err := os.CreateTemp("", pattern)
	if err != nil {
		return "", fmt.Errorf("temp file: %w", err)
	}
	defer f.Close()
	if err := pcm.WriteWAV(f, payload, sampleRate, channels); err != nil {
		os.Remove(f.Name())
		return "", err
	}
	return f.Name(), nil
}
