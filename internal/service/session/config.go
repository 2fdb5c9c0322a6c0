package session

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"speech-capture-service/internal/models"
	"speech-capture-service/internal/observability/metrics"
	"speech-capture-service/internal/service/capture"
	"speech-capture-service/internal/service/permission"
	"speech-capture-service/internal/service/sink"
	"speech-capture-service/internal/service/stt"
)

// Limits bounds a single session. Zero disables a limit.
type Limits struct {
	MaxDuration   time.Duration // recording time before an automatic stop
	MaxAudioBytes int64         // captured PCM before an automatic stop
	MaxPartials   int           // partials delivered per session
}

// DefaultLimits returns sensible default limits.
func DefaultLimits() Limits {
	return Limits{
		MaxDuration:   5 * time.Minute,
		MaxAudioBytes: 64 * 1024 * 1024,
		MaxPartials:   500,
	}
}

// Config holds controller settings.
type Config struct {
	ReportPartialResults bool
	BufferSize           int
	Encoding             sink.EncodingConfig
	RecordDir            string
	Limits               Limits
	FinishTimeout        time.Duration
	LanguageCode         string
	TaskHint             stt.TaskHint
	Provider             string
	SinkOptions          []sink.Option
}

// DefaultConfig returns the dictation defaults.
func DefaultConfig() Config {
	return Config{
		BufferSize:    capture.DefaultBufferSize,
		Encoding:      sink.DefaultEncoding(),
		Limits:        DefaultLimits(),
		FinishTimeout: 30 * time.Second,
		LanguageCode:  "en-US",
		TaskHint:      stt.TaskHintDictation,
		Provider:      "mock",
	}
}

// FrameSource is the capture side the controller attaches to.
type FrameSource interface {
	AttachFormat(bufferSize int, format capture.Format, onFrame func(capture.Frame)) (*capture.Handle, error)
	Detach(h *capture.Handle)
}

// Publisher receives transcript events.
type Publisher interface {
	PublishPartial(ctx context.Context, key string, event any) error
	PublishFinal(ctx context.Context, key string, event any) error
}

// Journal records session history.
type Journal interface {
	BeginSession(ctx context.Context, rec models.SessionRecord) error
	EndSession(ctx context.Context, rec models.SessionRecord) error
}

// Dependencies are the collaborators of a Controller. Recognizer may be nil,
// in which case every session fails with a recognizer error. Publisher,
// Journal and Gate are optional.
type Dependencies struct {
	Source     FrameSource
	Recognizer stt.Recognizer
	Gate       permission.Gate
	Publisher  Publisher
	Journal    Journal
	Metrics    *metrics.Metrics
	Logger     zerolog.Logger
}

// StartOption customises a single Start call.
type StartOption func(*startOptions)

type startOptions struct {
	partials bool
	language string
}

// WithPartialResults overrides the controller's partial results flag for
// one session.
func WithPartialResults(enabled bool) StartOption {
	return func(o *startOptions) { o.partials = enabled }
}

// WithLanguage overrides the recognition language for one session.
func WithLanguage(code string) StartOption {
	return func(o *startOptions) {
		if code != "" {
			o.language = code
		}
	}
}
