// Package permission models the user-consent checks made before capture.
package permission

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// Status is the outcome of a permission request.
type Status int

const (
	Undetermined Status = iota
	Granted
	Denied
)

func (s Status) String() string {
	switch s {
	case Granted:
		return "granted"
	case Denied:
		return "denied"
	default:
		return "undetermined"
	}
}

// Parse reads granted|denied|undetermined.
func Parse(s string) (Status, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "granted", "allow", "true":
		return Granted, nil
	case "denied", "deny", "false":
		return Denied, nil
	case "undetermined", "":
		return Undetermined, nil
	default:
		return Undetermined, fmt.Errorf("unknown permission status %q", s)
	}
}

// Gate answers the two consent questions. Both may block on user input.
type Gate interface {
	RequestMicrophoneAccess(ctx context.Context) (Status, error)
	RequestRecognitionAccess(ctx context.Context) (Status, error)
}

// Static answers from fixed settings. An undetermined status resolves to
// the Prompt answer, which defaults to Denied.
type Static struct {
	mu          sync.RWMutex
	microphone  Status
	recognition Status
	Prompt      Status
}

// NewStatic returns a gate with the given answers.
func NewStatic(microphone, recognition Status) *Static {
	return &Static{microphone: microphone, recognition: recognition, Prompt: Denied}
}

// AllowAll grants everything.
func AllowAll() *Static {
	return NewStatic(Granted, Granted)
}

// Set updates the stored answers.
func (s *Static) Set(microphone, recognition Status) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.microphone, s.recognition = microphone, recognition
}

func (s *Static) resolve(ctx context.Context, st Status) (Status, error) {
	if err := ctx.Err(); err != nil {
		return Undetermined, err
	}
	if st == Undetermined {
		return s.Prompt, nil
	}
	return st, nil
}

func (s *Static) RequestMicrophoneAccess(ctx context.Context) (Status, error) {
	s.mu.RLock()
	st := s.microphone
	s.mu.RUnlock()
	return s.resolve(ctx, st)
}

func (s *Static) RequestRecognitionAccess(ctx context.Context) (Status, error) {
	s.mu.RLock()
	st := s.recognition
	s.mu.RUnlock()
	return s.resolve(ctx, st)
}
