// Package session owns the capture-to-transcript lifecycle: one Controller
// runs at most one recording session at a time and reports its transcripts
// and its single terminal outcome through a completion handler.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"speech-capture-service/internal/models"
	"speech-capture-service/internal/service/capture"
	"speech-capture-service/internal/service/meter"
	"speech-capture-service/internal/service/request"
	"speech-capture-service/internal/service/sink"
	"speech-capture-service/internal/service/stt"
)

// State is the session lifecycle state.
type State int32

const (
	StateIdle State = iota
	StateRecording
	StateStopping
	StateStopped
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRecording:
		return "recording"
	case StateStopping:
		return "stopping"
	case StateStopped:
		return "stopped"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Terminal reports whether the session has ended.
func (s State) Terminal() bool {
	return s == StateStopped || s == StateFailed
}

// TranscriptResult is what a completion receives for partials and finals.
// Metadata is the recognizer's raw payload.
type TranscriptResult struct {
	Text       string
	IsFinal    bool
	Confidence float64
	AudioPath  string
	Metadata   any
}

// Completion receives every partial, then exactly one final or one error.
// It is never invoked while controller locks are held, so it may call back
// into the controller.
type Completion func(result TranscriptResult, err error)

const (
	outcomePending int32 = iota
	outcomeDelivered
	outcomeDiscarded
)

// Session is one recording. All methods are safe for concurrent use.
type Session struct {
	id         string
	requestId  string
	audioPath  string
	partials   bool
	language   string
	startedAt  time.Time
	encoding   sink.EncodingConfig
	completion Completion
	ctl        *Controller
	log        zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	state     atomic.Int32
	outcome   atomic.Int32
	capturing atomic.Bool
	bytes     atomic.Int64
	limitHit  atomic.Bool
	sinkFail  atomic.Bool

	mu           sync.Mutex
	released     bool
	handle       *capture.Handle
	sink         *sink.Sink
	channel      *stt.Channel
	limitTimer   *time.Timer
	finishTimer  *time.Timer
	stoppedAt    time.Time
	partialCount int
	transcript   string
	err          error
	outcomeLabel string

	// deliverMu serializes completion calls so the terminal one is last.
	// Stop, Abort and Start never take it.
	deliverMu sync.Mutex

	detachOnce   sync.Once
	sinkOnce     sync.Once
	teardownOnce sync.Once
	doneOnce     sync.Once
	done         chan struct{}
}

// ID returns the session id.
func (s *Session) ID() string { return s.id }

// RequestID returns the recognition request id.
func (s *Session) RequestID() string { return s.requestId }

// AudioPath returns where the recording is written.
func (s *Session) AudioPath() string { return s.audioPath }

// ReportPartialResults is the partial flag fixed at start.
func (s *Session) ReportPartialResults() bool { return s.partials }

// StartedAt returns when Start was called.
func (s *Session) StartedAt() time.Time { return s.startedAt }

// State returns the current lifecycle state.
func (s *Session) State() State { return State(s.state.Load()) }

// Done is closed once the session has ended and its outcome, if any, has
// been delivered.
func (s *Session) Done() <-chan struct{} { return s.done }

// Err returns the failure delivered to the completion, if any.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Info is a point-in-time view of a session.
type Info struct {
	ID                   string    `json:"id"`
	RequestID            string    `json:"requestId"`
	AudioPath            string    `json:"audioPath"`
	State                string    `json:"state"`
	ReportPartialResults bool      `json:"reportPartialResults"`
	StartedAt            time.Time `json:"startedAt"`
	AudioBytes           int64     `json:"audioBytes"`
	Partials             int       `json:"partials"`
	Transcript           string    `json:"transcript"`
	Error                string    `json:"error,omitempty"`
}

// Info returns a snapshot of the session.
func (s *Session) Info() Info {
	s.mu.Lock()
	defer s.mu.Unlock()
	info := Info{
		ID:                   s.id,
		RequestID:            s.requestId,
		AudioPath:            s.audioPath,
		State:                s.State().String(),
		ReportPartialResults: s.partials,
		StartedAt:            s.startedAt,
		AudioBytes:           s.bytes.Load(),
		Partials:             s.partialCount,
		Transcript:           s.transcript,
	}
	if s.err != nil {
		info.Error = s.err.Error()
	}
	return info
}

// CurrentInputLevel meters the recording, or returns the floor when the
// session is not recording.
func (s *Session) CurrentInputLevel() float64 {
	if s.State() != StateRecording {
		return meter.Floor
	}
	s.mu.Lock()
	sk := s.sink
	s.mu.Unlock()
	if sk == nil {
		return meter.Floor
	}
	return meter.Read(sk)
}

// Stop ends capture and asks the recognizer for its final result. It is a
// no-op unless the session is recording. The terminal outcome still
// arrives through the completion.
func (s *Session) Stop() {
	if !s.state.CompareAndSwap(int32(StateRecording), int32(StateStopping)) {
		return
	}
	s.log.Info().Msg("Stopping session")
	s.capturing.Store(false)

	s.mu.Lock()
	h, ch := s.handle, s.channel
	s.stoppedAt = time.Now()
	if s.limitTimer != nil {
		s.limitTimer.Stop()
	}
	if timeout := s.ctl.cfg.FinishTimeout; timeout > 0 && !s.released {
		s.finishTimer = time.AfterFunc(timeout, s.finishTimedOut)
	}
	s.mu.Unlock()

	s.detach(h)
	s.closeSink()
	if ch != nil {
		if err := ch.Finish(); err != nil {
			s.log.Debug().Err(err).Msg("Finish on recognition request ignored")
		}
	}
}

// Abort tears the session down immediately. Its outcome is discarded and
// the completion is not invoked again.
func (s *Session) Abort() {
	s.abort("aborted")
}

func (s *Session) abort(reason string) {
	discarded := s.outcome.CompareAndSwap(outcomePending, outcomeDiscarded)
	s.teardown(reason)
	if !discarded {
		return
	}
	s.state.Store(int32(StateStopped))
	s.log.Info().Str("reason", reason).Msg("Session aborted")
	s.end(reason, "")
	s.closeDone()
}

func (s *Session) finishTimedOut() {
	if s.outcome.Load() != outcomePending {
		return
	}
	s.ctl.metrics.RecordLimitExceeded("finish_timeout")
	s.fail(recognizerError(fmt.Errorf("%w (%s)", ErrFinishTimeout, s.ctl.cfg.FinishTimeout)))
}

// onFrame runs on the device goroutine. It must never block on the
// recognizer and never tears the session down inline.
func (s *Session) onFrame(f capture.Frame) {
	if !s.capturing.Load() {
		return
	}
	s.ctl.metrics.RecordAudioCaptured(len(f.PCM))

	if err := s.sink.Write(f); err != nil && !errors.Is(err, sink.ErrSinkClosed) {
		if s.sinkFail.CompareAndSwap(false, true) {
			s.ctl.metrics.RecordSinkError()
			go s.fail(audioEngineError(err))
		}
	}

	if err := s.channel.Append(f); err != nil {
		if errors.Is(err, stt.ErrBackpressure) {
			s.ctl.metrics.RecordFrameDropped("recognizer")
		}
	}

	total := s.bytes.Add(int64(len(f.PCM)))
	if limit := s.ctl.cfg.Limits.MaxAudioBytes; limit > 0 && total > limit && s.limitHit.CompareAndSwap(false, true) {
		go s.limitReached("max_audio_bytes")
	}
}

func (s *Session) limitReached(limit string) {
	s.ctl.metrics.RecordLimitExceeded(limit)
	s.log.Warn().
		Str("limit", limit).
		Int64("audioBytes", s.bytes.Load()).
		Dur("elapsed", time.Since(s.startedAt)).
		Msg("Session limit reached, stopping")
	s.Stop()
}

// consume drains recognition events until the request ends.
func (s *Session) consume(ch *stt.Channel) {
	for ev := range ch.Events() {
		switch ev.Kind {
		case stt.EventPartial:
			s.partial(ev.Result)
		case stt.EventFinal:
			s.final(ev.Result)
		case stt.EventError:
			s.fail(recognizerError(ev.Err))
		}
	}
}

func (s *Session) partial(r stt.Result) {
	if s.outcome.Load() != outcomePending {
		return
	}
	s.mu.Lock()
	s.partialCount++
	count := s.partialCount
	s.transcript = r.Text
	s.mu.Unlock()

	if limit := s.ctl.cfg.Limits.MaxPartials; limit > 0 && count > limit {
		if count == limit+1 {
			s.ctl.metrics.RecordLimitExceeded("max_partials")
			s.log.Warn().Int("maxPartials", limit).Msg("Partial limit reached, suppressing further partials")
		}
		return
	}

	s.ctl.metrics.RecordPartialTranscript()
	s.ctl.publish(s, models.TranscriptPartial{
		EventType: models.EventTypePartial,
		SessionID: s.id,
		RequestID: s.requestId,
		Text:      r.Text,
		Timestamp: time.Now().UnixMilli(),
	}, false)

	s.deliverMu.Lock()
	defer s.deliverMu.Unlock()
	if s.outcome.Load() != outcomePending {
		return
	}
	s.completion(TranscriptResult{
		Text:       r.Text,
		IsFinal:    false,
		Confidence: r.Confidence,
		AudioPath:  s.audioPath,
		Metadata:   r.Metadata,
	}, nil)
}

func (s *Session) final(r stt.Result) {
	if !s.outcome.CompareAndSwap(outcomePending, outcomeDelivered) {
		return
	}
	s.teardown("final")
	s.state.Store(int32(StateStopped))

	s.mu.Lock()
	s.transcript = r.Text
	stoppedAt := s.stoppedAt
	s.mu.Unlock()

	if !stoppedAt.IsZero() {
		s.ctl.metrics.RecordFinalLatency(time.Since(stoppedAt).Seconds())
	}
	s.ctl.metrics.RecordFinalTranscript()
	s.log.Info().
		Int("textLength", len(r.Text)).
		Float64("confidence", r.Confidence).
		Msg("Final transcript received")

	s.ctl.publish(s, models.TranscriptFinal{
		EventType:     models.EventTypeFinal,
		SessionID:     s.id,
		RequestID:     s.requestId,
		Text:          r.Text,
		Confidence:    r.Confidence,
		AudioPath:     s.audioPath,
		AudioOffsetMs: s.offsetMs(),
		Timestamp:     time.Now().UnixMilli(),
	}, true)
	s.end("stopped", "")

	s.deliverMu.Lock()
	s.completion(TranscriptResult{
		Text:       r.Text,
		IsFinal:    true,
		Confidence: r.Confidence,
		AudioPath:  s.audioPath,
		Metadata:   r.Metadata,
	}, nil)
	s.deliverMu.Unlock()
	s.closeDone()
}

// fail delivers err once, after releasing every resource.
func (s *Session) fail(err error) {
	if !s.outcome.CompareAndSwap(outcomePending, outcomeDelivered) {
		return
	}
	s.teardown("error")
	s.state.Store(int32(StateFailed))

	s.mu.Lock()
	s.err = err
	s.mu.Unlock()

	kind, _ := KindOf(err)
	if kind == KindRecognizer {
		s.ctl.metrics.RecordSTTError(s.ctl.cfg.Provider, errorType(err))
	}
	s.log.Error().Err(err).Str("kind", kind.String()).Msg("Session failed")

	s.ctl.publish(s, models.TranscriptFailed{
		EventType: models.EventTypeFailed,
		SessionID: s.id,
		RequestID: s.requestId,
		Kind:      kind.String(),
		Error:     err.Error(),
		AudioPath: s.audioPath,
		Timestamp: time.Now().UnixMilli(),
	}, true)
	s.end("failed", err.Error())

	s.deliverMu.Lock()
	s.completion(TranscriptResult{AudioPath: s.audioPath}, err)
	s.deliverMu.Unlock()
	s.closeDone()
}

func errorType(err error) string {
	switch {
	case errors.Is(err, stt.ErrRecognizerUnavailable):
		return "unavailable"
	case errors.Is(err, ErrRecognitionDenied):
		return "permission"
	case errors.Is(err, ErrFinishTimeout):
		return "timeout"
	default:
		return "provider"
	}
}

func (s *Session) offsetMs() int64 {
	bpf := s.encoding.Channels * 2
	if bpf == 0 || s.encoding.SampleRate == 0 {
		return 0
	}
	return s.bytes.Load() / int64(bpf) * 1000 / int64(s.encoding.SampleRate)
}

func (s *Session) detach(h *capture.Handle) {
	if h == nil || s.ctl.deps.Source == nil {
		return
	}
	s.detachOnce.Do(func() { s.ctl.deps.Source.Detach(h) })
}

func (s *Session) closeSink() {
	s.mu.Lock()
	sk := s.sink
	s.mu.Unlock()
	if sk == nil {
		return
	}
	s.sinkOnce.Do(func() {
		if err := sk.Close(); err != nil {
			s.ctl.metrics.RecordSinkError()
			s.log.Error().Err(err).Msg("Finalizing recording failed")
			return
		}
		s.log.Debug().Int64("bytes", sk.BytesWritten()).Msg("Recording finalized")
	})
}

// teardown releases capture, sink and recognition request exactly once.
func (s *Session) teardown(reason string) {
	s.teardownOnce.Do(func() {
		s.capturing.Store(false)

		s.mu.Lock()
		s.released = true
		h, ch := s.handle, s.channel
		if s.limitTimer != nil {
			s.limitTimer.Stop()
		}
		if s.finishTimer != nil {
			s.finishTimer.Stop()
		}
		s.mu.Unlock()

		s.detach(h)
		s.closeSink()
		if ch != nil {
			ch.Close()
			if ch.State() == request.StateDropped {
				s.ctl.metrics.RecordRequestDropped(reason)
			}
		}
		s.cancel()
		s.log.Debug().Str("reason", reason).Msg("Session resources released")
	})
}

// end records the session's terminal outcome in metrics and the journal.
func (s *Session) end(outcome, errText string) {
	s.mu.Lock()
	if s.outcomeLabel != "" {
		s.mu.Unlock()
		return
	}
	s.outcomeLabel = outcome
	rec := s.recordLocked()
	s.mu.Unlock()

	s.ctl.metrics.RecordSessionEnd(outcome, time.Since(s.startedAt).Seconds())
	if s.ctl.deps.Journal == nil {
		return
	}
	now := time.Now().UTC()
	rec.State = outcome
	rec.Error = errText
	rec.EndedAt = &now
	ctx, cancel := context.WithTimeout(context.Background(), sideEffectTimeout)
	defer cancel()
	if err := s.ctl.deps.Journal.EndSession(ctx, rec); err != nil {
		s.log.Warn().Err(err).Msg("Journal end failed")
	}
}

// recordLocked must be called with mu held.
func (s *Session) recordLocked() models.SessionRecord {
	return models.SessionRecord{
		ID:         s.id,
		RequestID:  s.requestId,
		AudioPath:  s.audioPath,
		State:      s.State().String(),
		Partials:   s.partials,
		Transcript: s.transcript,
		AudioBytes: s.bytes.Load(),
		StartedAt:  s.startedAt.UTC(),
	}
}

func (s *Session) closeDone() {
	s.doneOnce.Do(func() { close(s.done) })
}
