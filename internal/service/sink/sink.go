// Package sink persists captured frames to a per-session recording and
// meters their power.
package sink

import (
	"errors"
	"fmt"
	"sync"

	"speech-capture-service/internal/pcm"
	"speech-capture-service/internal/service/capture"
	"speech-capture-service/internal/service/meter"
)

var (
	ErrSinkClosed     = errors.New("sink is closed")
	ErrFormatMismatch = errors.New("frame format does not match recording format")
)

// smoothing weights the newest frame in the running average.
const smoothing = 0.3

// Option customises Open.
type Option func(*options)

type options struct {
	command string
	factory EncoderFactory
}

// WithEncoderCommand overrides the AAC encoder command line. Placeholders:
// {rate} {channels} {bitrate} {path}.
func WithEncoderCommand(command string) Option {
	return func(o *options) {
		if command != "" {
			o.command = command
		}
	}
}

// WithEncoderFactory replaces encoder construction entirely.
func WithEncoderFactory(f EncoderFactory) Option {
	return func(o *options) { o.factory = f }
}

// Sink writes every frame it receives to one recording file.
type Sink struct {
	path string
	cfg  EncodingConfig
	enc  Encoder

	mu      sync.Mutex
	closed  bool
	metered bool
	power   float64
	written int64
	err     error
}

// Open creates the recording at path.
func Open(path string, cfg EncodingConfig, opts ...Option) (*Sink, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	o := options{command: DefaultEncoderCommand}
	for _, opt := range opts {
		opt(&o)
	}
	factory := o.factory
	if factory == nil {
		factory = defaultFactory(o.command)
	}
	enc, err := factory(path, cfg)
	if err != nil {
		return nil, fmt.Errorf("open recording %s: %w", path, err)
	}
	return &Sink{
		path:  path,
		cfg:   cfg,
		enc:   enc,
		power: pcm.SilenceDB,
	}, nil
}

// Path returns the recording location.
func (s *Sink) Path() string {
	if s == nil {
		return ""
	}
	return s.path
}

// Encoding returns the settings the recording is written with.
func (s *Sink) Encoding() EncodingConfig {
	return s.cfg
}

// Write meters and persists one frame.
func (s *Sink) Write(f capture.Frame) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSinkClosed
	}
	if f.Format.SampleRate != s.cfg.SampleRate || f.Format.Channels != s.cfg.Channels {
		return fmt.Errorf("%w: frame %d Hz/%d ch, recording %d Hz/%d ch", ErrFormatMismatch,
			f.Format.SampleRate, f.Format.Channels, s.cfg.SampleRate, s.cfg.Channels)
	}

	db := pcm.PowerDB(f.PCM)
	if !s.metered {
		s.power = db
		s.metered = true
	} else {
		s.power = smoothing*db + (1-smoothing)*s.power
	}

	if err := s.enc.Write(f.PCM); err != nil {
		return fmt.Errorf("write recording: %w", err)
	}
	s.written += int64(len(f.PCM))
	return nil
}

// Close finalises the recording. It is idempotent and safe on a nil sink;
// later calls return the first call's result.
func (s *Sink) Close() error {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return s.err
	}
	s.closed = true
	s.err = s.enc.Close()
	return s.err
}

// BytesWritten is the PCM byte count persisted so far.
func (s *Sink) BytesWritten() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.written
}

// AveragePower is the running average power in dBFS. It keeps the last
// reading after Close.
func (s *Sink) AveragePower() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.power
}

// CurrentInputLevel returns the metered input level.
func (s *Sink) CurrentInputLevel() float64 {
	if s == nil {
		return meter.Floor
	}
	return meter.Read(s)
}
