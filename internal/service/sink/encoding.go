package sink

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// Format identifies the persisted container/codec.
type Format string

const (
	// FormatMPEG4AAC is AAC audio in an MPEG-4 container.
	FormatMPEG4AAC Format = "aac"
	// FormatLinearPCM is 16-bit PCM in a WAV container.
	FormatLinearPCM Format = "lpcm"
)

// Extension returns the file extension used for the format.
func (f Format) Extension() string {
	switch f {
	case FormatMPEG4AAC:
		return "m4a"
	case FormatLinearPCM:
		return "wav"
	default:
		return "bin"
	}
}

// ParseFormat accepts the config spellings of a format.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "aac", "m4a", "mpeg4aac":
		return FormatMPEG4AAC, nil
	case "lpcm", "wav", "pcm":
		return FormatLinearPCM, nil
	default:
		return "", fmt.Errorf("unknown recording format %q", s)
	}
}

// Quality is the encoder quality hint.
type Quality int

const (
	QualityMin Quality = iota
	QualityLow
	QualityMedium
	QualityHigh
	QualityMax
)

func (q Quality) String() string {
	switch q {
	case QualityMin:
		return "min"
	case QualityLow:
		return "low"
	case QualityMedium:
		return "medium"
	case QualityHigh:
		return "high"
	case QualityMax:
		return "max"
	default:
		return fmt.Sprintf("quality(%d)", int(q))
	}
}

// Bitrate maps quality onto an AAC bitrate in bits per second.
func (q Quality) Bitrate() int {
	switch q {
	case QualityMin:
		return 32000
	case QualityLow:
		return 48000
	case QualityHigh:
		return 96000
	case QualityMax:
		return 128000
	default:
		return 64000
	}
}

// ParseQuality parses min|low|medium|high|max.
func ParseQuality(s string) (Quality, error) {
	for q := QualityMin; q <= QualityMax; q++ {
		if strings.EqualFold(strings.TrimSpace(s), q.String()) {
			return q, nil
		}
	}
	return QualityMedium, fmt.Errorf("unknown recording quality %q", s)
}

var (
	ErrUnsupportedFormat = errors.New("unsupported recording format")
	ErrInvalidEncoding   = errors.New("sample rate and channel count must be positive")
)

// EncodingConfig is the single bundle of settings a recording is written with.
type EncodingConfig struct {
	Format     Format
	SampleRate int
	Channels   int
	Quality    Quality
}

// DefaultEncoding returns AAC, 22000 Hz, mono, medium quality.
func DefaultEncoding() EncodingConfig {
	return EncodingConfig{
		Format:     FormatMPEG4AAC,
		SampleRate: 22000,
		Channels:   1,
		Quality:    QualityMedium,
	}
}

// Validate checks the bundle is complete.
func (c EncodingConfig) Validate() error {
	switch c.Format {
	case FormatMPEG4AAC, FormatLinearPCM:
	default:
		return fmt.Errorf("%w: %q", ErrUnsupportedFormat, c.Format)
	}
	if c.SampleRate <= 0 || c.Channels <= 0 {
		return ErrInvalidEncoding
	}
	return nil
}

// NewPath returns a fresh, collision-free recording path inside dir.
func NewPath(dir string, cfg EncodingConfig) string {
	return filepath.Join(dir, uuid.NewString()+"."+cfg.Format.Extension())
}
