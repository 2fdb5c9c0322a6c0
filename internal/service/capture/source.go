// Package capture pulls PCM frames from an input device and fans them out
// to a registered consumer.
package capture

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"speech-capture-service/internal/pcm"
)

// DefaultBufferSize is the number of sample frames requested per buffer.
const DefaultBufferSize = 1024

var (
	ErrInvalidBufferSize = errors.New("buffer size must be positive")
	ErrInvalidFormat     = errors.New("sample rate and channel count must be positive")
	ErrNoDevice          = errors.New("no input device configured")
	ErrNilConsumer       = errors.New("frame consumer must not be nil")
)

// Format describes interleaved S16LE PCM.
type Format struct {
	SampleRate int
	Channels   int
}

// Validate checks the format is usable.
func (f Format) Validate() error {
	if f.SampleRate <= 0 || f.Channels <= 0 {
		return ErrInvalidFormat
	}
	return nil
}

// BytesPerFrame is the size of one sample frame across all channels.
func (f Format) BytesPerFrame() int {
	return f.Channels * pcm.BitDepth / 8
}

// Frame is one buffer of captured audio. PCM is owned by the frame and is
// never mutated after delivery, so consumers may share and retain it.
type Frame struct {
	PCM       []byte
	Format    Format
	Timestamp time.Time
	Sequence  uint64
}

// Duration is the playback length of the frame.
func (f Frame) Duration() time.Duration {
	bpf := f.Format.BytesPerFrame()
	if bpf == 0 || f.Format.SampleRate == 0 {
		return 0
	}
	frames := len(f.PCM) / bpf
	return time.Duration(frames) * time.Second / time.Duration(f.Format.SampleRate)
}

// DeliverFunc receives raw device buffers. The buffer may be reused by the
// device after the call returns.
type DeliverFunc func(buf []byte, at time.Time)

// Stream is an open device input stream.
type Stream interface {
	Close() error
}

// Device is the external audio input capability.
type Device interface {
	Open(bufferSize int, format Format, deliver DeliverFunc) (Stream, error)
}

// Handle identifies one attachment to a Source.
type Handle struct {
	stream   Stream
	detached atomic.Bool
	once     sync.Once
	seq      atomic.Uint64
}

// Active reports whether the handle is still attached.
func (h *Handle) Active() bool {
	return h != nil && !h.detached.Load()
}

// Source attaches to a Device and forwards copied frames to a consumer.
type Source struct {
	device Device
	format Format
	log    zerolog.Logger
}

// NewSource creates a frame source for the given device and capture format.
func NewSource(device Device, format Format, log zerolog.Logger) *Source {
	return &Source{
		device: device,
		format: format,
		log:    log.With().Str("component", "capture").Logger(),
	}
}

// Format returns the capture format frames are delivered in.
func (s *Source) Format() Format {
	return s.format
}

// Attach opens the device in the source's format and starts delivering
// frames to onFrame until the returned handle is detached. Delivery happens
// on the device's goroutine.
func (s *Source) Attach(bufferSize int, onFrame func(Frame)) (*Handle, error) {
	if s == nil {
		return nil, ErrNoDevice
	}
	return s.AttachFormat(bufferSize, s.format, onFrame)
}

// AttachFormat is Attach with an explicit capture format.
func (s *Source) AttachFormat(bufferSize int, format Format, onFrame func(Frame)) (*Handle, error) {
	if s == nil || s.device == nil {
		return nil, ErrNoDevice
	}
	if onFrame == nil {
		return nil, ErrNilConsumer
	}
	if bufferSize <= 0 {
		return nil, ErrInvalidBufferSize
	}
	if err := format.Validate(); err != nil {
		return nil, err
	}

	h := &Handle{}
	deliver := func(buf []byte, at time.Time) {
		if h.detached.Load() || len(buf) == 0 {
			return
		}
		data := make([]byte, len(buf))
		copy(data, buf)
		onFrame(Frame{
			PCM:       data,
			Format:    format,
			Timestamp: at,
			Sequence:  h.seq.Add(1),
		})
	}

	stream, err := s.device.Open(bufferSize, format, deliver)
	if err != nil {
		return nil, fmt.Errorf("open input device: %w", err)
	}
	h.stream = stream

	s.log.Debug().
		Int("bufferSize", bufferSize).
		Int("sampleRate", format.SampleRate).
		Int("channels", format.Channels).
		Msg("Input tap attached")
	return h, nil
}

// Detach stops delivery and closes the device stream. Safe to call more
// than once and on a nil handle.
func (s *Source) Detach(h *Handle) {
	if h == nil {
		return
	}
	h.once.Do(func() {
		h.detached.Store(true)
		if h.stream == nil {
			return
		}
		if err := h.stream.Close(); err != nil {
			s.log.Warn().Err(err).Msg("Closing input stream failed")
			return
		}
		s.log.Debug().Uint64("frames", h.seq.Load()).Msg("Input tap detached")
	})
}
