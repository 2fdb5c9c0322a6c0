package session

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"speech-capture-service/internal/observability/logging"
	"speech-capture-service/internal/observability/metrics"
	"speech-capture-service/internal/schema"
	"speech-capture-service/internal/service/capture"
	"speech-capture-service/internal/service/meter"
	"speech-capture-service/internal/service/permission"
	"speech-capture-service/internal/service/request"
	"speech-capture-service/internal/service/sink"
	"speech-capture-service/internal/service/stt"
)

const sideEffectTimeout = 5 * time.Second

// Controller runs at most one recording session at a time.
type Controller struct {
	cfg       Config
	deps      Dependencies
	ids       *request.Generator
	log       zerolog.Logger
	metrics   *metrics.Metrics
	validator *schema.Validator

	mu       sync.Mutex
	encoding sink.EncodingConfig
	current  *Session
}

// NewController creates a controller.
func NewController(cfg Config, deps Dependencies) *Controller {
	m := deps.Metrics
	if m == nil {
		m = metrics.DefaultMetrics
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = capture.DefaultBufferSize
	}
	if cfg.Encoding.Format == "" {
		cfg.Encoding = sink.DefaultEncoding()
	}
	if cfg.TaskHint == "" {
		cfg.TaskHint = stt.TaskHintDictation
	}
	return &Controller{
		cfg:       cfg,
		deps:      deps,
		ids:       request.NewGenerator(),
		log:       deps.Logger.With().Str("component", "session").Logger(),
		metrics:   m,
		validator: schema.New(),
		encoding:  cfg.Encoding,
	}
}

// Start begins a new session. It returns an error only when completion is
// nil or a session is already recording. Every other failure, including
// failures during setup, is delivered once through completion and the
// returned session ends in StateFailed.
//
// A session that is still stopping is aborted and replaced.
func (c *Controller) Start(ctx context.Context, completion Completion, opts ...StartOption) (*Session, error) {
	if completion == nil {
		c.metrics.RecordSessionRejected("nil_completion")
		return nil, ErrNilCompletion
	}
	o := startOptions{partials: c.cfg.ReportPartialResults, language: c.cfg.LanguageCode}
	for _, opt := range opts {
		opt(&o)
	}

	c.mu.Lock()
	prev := c.current
	if prev != nil {
		switch prev.State() {
		case StateIdle, StateRecording:
			c.mu.Unlock()
			c.metrics.RecordSessionRejected("already_recording")
			return nil, ErrAlreadyRecording
		}
	}
	s := c.newSession(ctx, completion, o)
	c.current = s
	c.mu.Unlock()

	if prev != nil && prev.State() == StateStopping {
		prev.log.Info().Str("replacedBy", s.id).Msg("Superseding stopping session")
		prev.abort("superseded")
	}

	c.metrics.RecordSessionStart()
	if err := s.setup(ctx); err != nil {
		if errors.Is(err, errSessionReleased) {
			s.log.Debug().Msg("Session released during setup")
			return s, nil
		}
		s.fail(err)
		return s, nil
	}
	return s, nil
}

func (c *Controller) newSession(ctx context.Context, completion Completion, o startOptions) *Session {
	id := uuid.NewString()
	dir := c.cfg.RecordDir
	if dir == "" {
		dir = os.TempDir()
	}
	s := &Session{
		id:         id,
		requestId:  c.ids.Next(id),
		partials:   o.partials,
		language:   o.language,
		startedAt:  time.Now(),
		encoding:   c.encoding,
		completion: completion,
		ctl:        c,
		done:       make(chan struct{}),
	}
	s.audioPath = sink.NewPath(dir, s.encoding)
	s.log = logging.WithSession(c.log, s.id, s.audioPath).With().Str("requestId", s.requestId).Logger()
	s.ctx, s.cancel = context.WithCancel(context.WithoutCancel(ctx))
	return s
}

// Stop stops the current session, if it is recording.
func (c *Controller) Stop() {
	if s := c.Current(); s != nil {
		s.Stop()
	}
}

// Abort forcibly ends the current session without delivering its outcome.
func (c *Controller) Abort() {
	if s := c.Current(); s != nil {
		s.Abort()
	}
}

// SetEncoding changes the recording settings for later sessions.
func (c *Controller) SetEncoding(cfg sink.EncodingConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current != nil && !c.current.State().Terminal() {
		return ErrEncodingLocked
	}
	c.encoding = cfg
	return nil
}

// Encoding returns the recording settings new sessions use.
func (c *Controller) Encoding() sink.EncodingConfig {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.encoding
}

// CurrentAmplitude is the metered input level of the recording session, or
// the floor when nothing is recording.
func (c *Controller) CurrentAmplitude() float64 {
	s := c.Current()
	if s == nil {
		return meter.Floor
	}
	return s.CurrentInputLevel()
}

// State returns the state of the current session, or StateIdle.
func (c *Controller) State() State {
	s := c.Current()
	if s == nil {
		return StateIdle
	}
	return s.State()
}

// Current returns the most recent session, or nil.
func (c *Controller) Current() *Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// setup acquires every session resource in order. Each step re-checks
// whether the session was released concurrently and, if so, releases what
// it just acquired itself.
func (s *Session) setup(ctx context.Context) error {
	c := s.ctl

	if err := s.checkPermissions(ctx); err != nil {
		return err
	}
	if c.deps.Recognizer == nil {
		return recognizerError(stt.ErrRecognizerUnavailable)
	}

	ch, err := stt.Open(s.ctx, c.deps.Recognizer, s.requestId, stt.Options{
		ReportPartialResults: s.partials,
		TaskHint:             c.cfg.TaskHint,
		SampleRateHz:         s.encoding.SampleRate,
		Channels:             s.encoding.Channels,
		LanguageCode:         s.language,
	}, logging.WithRequest(s.log, s.requestId, c.cfg.Provider))
	if err != nil {
		return recognizerError(err)
	}
	c.metrics.RecordRequestCreated()
	if !s.adopt(func() { s.channel = ch }) {
		ch.Close()
		return errSessionReleased
	}

	sk, err := sink.Open(s.audioPath, s.encoding, c.cfg.SinkOptions...)
	if err != nil {
		return audioEngineError(err)
	}
	if !s.adopt(func() { s.sink = sk }) {
		_ = sk.Close()
		return errSessionReleased
	}

	if c.deps.Source == nil {
		return audioEngineError(capture.ErrNoDevice)
	}
	format := capture.Format{SampleRate: s.encoding.SampleRate, Channels: s.encoding.Channels}
	h, err := c.deps.Source.AttachFormat(c.cfg.BufferSize, format, s.onFrame)
	if err != nil {
		return audioEngineError(err)
	}
	if !s.adopt(func() { s.handle = h }) {
		c.deps.Source.Detach(h)
		return errSessionReleased
	}

	if !s.state.CompareAndSwap(int32(StateIdle), int32(StateRecording)) {
		return errSessionReleased
	}
	s.capturing.Store(true)

	s.beginJournal()
	go s.consume(ch)

	if d := c.cfg.Limits.MaxDuration; d > 0 {
		s.adopt(func() {
			s.limitTimer = time.AfterFunc(d, func() { s.limitReached("max_duration") })
		})
	}

	s.log.Info().
		Bool("partials", s.partials).
		Str("format", string(s.encoding.Format)).
		Int("sampleRate", s.encoding.SampleRate).
		Msg("Session started")
	return nil
}

// adopt runs assign under the session lock unless the session has already
// been released.
func (s *Session) adopt(assign func()) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.released {
		return false
	}
	assign()
	return true
}

func (s *Session) checkPermissions(ctx context.Context) error {
	gate := s.ctl.deps.Gate
	if gate == nil {
		return nil
	}
	st, err := gate.RequestMicrophoneAccess(ctx)
	if err != nil {
		return audioEngineError(fmt.Errorf("microphone permission: %w", err))
	}
	if st != permission.Granted {
		return audioEngineError(fmt.Errorf("%w (%s)", ErrMicrophoneDenied, st))
	}
	st, err = gate.RequestRecognitionAccess(ctx)
	if err != nil {
		return recognizerError(fmt.Errorf("recognition permission: %w", err))
	}
	if st != permission.Granted {
		return recognizerError(fmt.Errorf("%w (%s)", ErrRecognitionDenied, st))
	}
	return nil
}

func (s *Session) beginJournal() {
	j := s.ctl.deps.Journal
	if j == nil {
		return
	}
	s.mu.Lock()
	rec := s.recordLocked()
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), sideEffectTimeout)
	defer cancel()
	if err := j.BeginSession(ctx, rec); err != nil {
		s.log.Warn().Err(err).Msg("Journal begin failed")
	}
}

// publish validates and forwards one transcript event. Failures are logged
// and never affect the session.
func (c *Controller) publish(s *Session, event any, terminal bool) {
	if c.deps.Publisher == nil {
		return
	}
	if err := c.validator.Validate(event); err != nil {
		s.log.Error().Err(err).Msg("Transcript event failed validation")
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), sideEffectTimeout)
	defer cancel()

	var err error
	if terminal {
		err = c.deps.Publisher.PublishFinal(ctx, s.id, event)
	} else {
		err = c.deps.Publisher.PublishPartial(ctx, s.id, event)
	}
	if err != nil {
		s.log.Warn().Err(err).Bool("final", terminal).Msg("Publishing transcript event failed")
	}
}
