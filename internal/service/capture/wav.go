package capture

import (
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/go-audio/wav"

	"speech-capture-service/internal/pcm"
)

// ErrFormatMismatch is returned when a recorded file cannot be delivered
// in the requested capture format.
var ErrFormatMismatch = errors.New("input format does not match requested format")

// WAVDevice replays a 16-bit WAV file as if it were a microphone. It is
// used for headless runs and tests.
type WAVDevice struct {
	Path string
	// Pace is the delay between buffers. Zero means real time.
	Pace time.Duration
	// Loop restarts the file at EOF instead of going silent.
	Loop bool
}

type wavStream struct {
	stop chan struct{}
	done chan struct{}
	once sync.Once
}

// Open decodes the file and starts delivering buffers.
func (d WAVDevice) Open(bufferSize int, format Format, deliver DeliverFunc) (Stream, error) {
	f, err := os.Open(d.Path)
	if err != nil {
		return nil, fmt.Errorf("open wav input: %w", err)
	}
	defer f.Close()

	dec := wav.NewDecoder(f)
	if !dec.IsValidFile() {
		return nil, fmt.Errorf("%s: not a valid wav file", d.Path)
	}
	if int(dec.BitDepth) != pcm.BitDepth ||
		int(dec.SampleRate) != format.SampleRate ||
		int(dec.NumChans) != format.Channels {
		return nil, fmt.Errorf("%w: file is %d Hz/%d ch/%d bit, want %d Hz/%d ch/16 bit",
			ErrFormatMismatch, dec.SampleRate, dec.NumChans, dec.BitDepth,
			format.SampleRate, format.Channels)
	}
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, fmt.Errorf("decode wav input: %w", err)
	}
	payload := pcm.Bytes(buf.Data)

	chunk := bufferSize * format.BytesPerFrame()
	pace := d.Pace
	if pace <= 0 {
		pace = time.Duration(bufferSize) * time.Second / time.Duration(format.SampleRate)
	}

	s := &wavStream{stop: make(chan struct{}), done: make(chan struct{})}
	go func() {
		defer close(s.done)
		ticker := time.NewTicker(pace)
		defer ticker.Stop()
		offset := 0
		for {
			select {
			case <-s.stop:
				return
			case at := <-ticker.C:
				if offset >= len(payload) {
					if !d.Loop || len(payload) == 0 {
						continue
					}
					offset = 0
				}
				end := offset + chunk
				if end > len(payload) {
					end = len(payload)
				}
				deliver(payload[offset:end], at)
				offset = end
			}
		}
	}()
	return s, nil
}

func (s *wavStream) Close() error {
	s.once.Do(func() {
		close(s.stop)
		<-s.done
	})
	return nil
}
