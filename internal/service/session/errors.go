package session

import (
	"errors"
	"fmt"
)

// Kind classifies session failures.
type Kind int

const (
	KindAudioEngine Kind = iota + 1
	KindRecognizer
)

func (k Kind) String() string {
	switch k {
	case KindAudioEngine:
		return "audio_engine"
	case KindRecognizer:
		return "recognizer"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

var (
	// ErrAudioEngine matches every audio-side failure via errors.Is.
	ErrAudioEngine = errors.New("audio engine error")
	// ErrRecognizer matches every recognition-side failure via errors.Is.
	ErrRecognizer = errors.New("recognizer error")

	ErrAlreadyRecording  = errors.New("a session is already recording")
	ErrNilCompletion     = errors.New("completion handler must not be nil")
	ErrMicrophoneDenied  = errors.New("microphone access denied")
	ErrRecognitionDenied = errors.New("speech recognition access denied")
	ErrFinishTimeout     = errors.New("recognizer did not deliver a result after stop")
	ErrEncodingLocked    = errors.New("encoding cannot change while a session is active")

	errSessionReleased = errors.New("session released during setup")
)

// Error is the single failure delivered to a session's completion.
type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Is makes errors.Is(err, ErrAudioEngine) and errors.Is(err, ErrRecognizer)
// match on kind.
func (e *Error) Is(target error) bool {
	switch target {
	case ErrAudioEngine:
		return e.Kind == KindAudioEngine
	case ErrRecognizer:
		return e.Kind == KindRecognizer
	}
	return false
}

func audioEngineError(err error) error {
	return &Error{Kind: KindAudioEngine, Err: err}
}

func recognizerError(err error) error {
	return &Error{Kind: KindRecognizer, Err: err}
}

// KindOf reports the kind of a session error.
func KindOf(err error) (Kind, bool) {
	var se *Error
	if errors.As(err, &se) {
		return se.Kind, true
	}
	return 0, false
}
