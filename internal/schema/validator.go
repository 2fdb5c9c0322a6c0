// Package schema validates transcript events before they leave the service.
package schema

import (
	"errors"
	"fmt"

	"speech-capture-service/internal/models"
)

var (
	ErrUnknownEvent   = errors.New("unknown event type")
	ErrMissingField   = errors.New("required field missing")
	ErrWrongEventType = errors.New("event type does not match payload")
)

type Validator struct{}

func New() *Validator {
	return &Validator{}
}

// Validate checks the required fields of a transcript event.
func (v *Validator) Validate(event any) error {
	switch ev := event.(type) {
	case models.TranscriptPartial:
		return check(ev.EventType, models.EventTypePartial, ev.SessionID, ev.Timestamp)
	case *models.TranscriptPartial:
		return v.Validate(*ev)
	case models.TranscriptFinal:
		if err := check(ev.EventType, models.EventTypeFinal, ev.SessionID, ev.Timestamp); err != nil {
			return err
		}
		if ev.Confidence < 0 || ev.Confidence > 1 {
			return fmt.Errorf("confidence %v out of range", ev.Confidence)
		}
		return nil
	case *models.TranscriptFinal:
		return v.Validate(*ev)
	case models.TranscriptFailed:
		if err := check(ev.EventType, models.EventTypeFailed, ev.SessionID, ev.Timestamp); err != nil {
			return err
		}
		if ev.Kind == "" {
			return fmt.Errorf("%w: kind", ErrMissingField)
		}
		return nil
	case *models.TranscriptFailed:
		return v.Validate(*ev)
	default:
		return fmt.Errorf("%w: %T", ErrUnknownEvent, event)
	}
}

func check(eventType, want, sessionID string, ts int64) error {
	if eventType != want {
		return fmt.Errorf("%w: %q", ErrWrongEventType, eventType)
	}
	if sessionID == "" {
		return fmt.Errorf("%w: sessionId", ErrMissingField)
	}
	if ts <= 0 {
		return fmt.Errorf("%w: timestamp", ErrMissingField)
	}
	return nil
}
