// Package models defines the data structures for transcript events and the
// session journal.
package models

import "time"

// Event types carried in EventType and in message headers.
const (
	EventTypePartial = "session.transcript.partial"
	EventTypeFinal   = "session.transcript.final"
	EventTypeFailed  = "session.transcript.failed"
)

// TranscriptPartial represents an interim transcript result.
type TranscriptPartial struct {
	EventType string `json:"eventType"`
	SessionID string `json:"sessionId"`
	RequestID string `json:"requestId"`
	Timestamp int64  `json:"timestamp"`
	Text      string `json:"text"`
}

// TranscriptFinal represents the final transcript of a session.
type TranscriptFinal struct {
	EventType     string  `json:"eventType"`
	SessionID     string  `json:"sessionId"`
	RequestID     string  `json:"requestId"`
	Timestamp     int64   `json:"timestamp"`
	Text          string  `json:"text"`
	Confidence    float64 `json:"confidence"`
	AudioPath     string  `json:"audioPath"`
	AudioOffsetMs int64   `json:"audioOffsetMs"`
}

// TranscriptFailed is published when a session ends with an error.
type TranscriptFailed struct {
	EventType string `json:"eventType"`
	SessionID string `json:"sessionId"`
	RequestID string `json:"requestId"`
	Timestamp int64  `json:"timestamp"`
	Kind      string `json:"kind"`
	Error     string `json:"error"`
	AudioPath string `json:"audioPath"`
}

// SessionRecord is one row of the session journal.
type SessionRecord struct {
	ID         string     `json:"id"`
	RequestID  string     `json:"requestId"`
	AudioPath  string     `json:"audioPath"`
	State      string     `json:"state"`
	Partials   bool       `json:"reportPartialResults"`
	Transcript string     `json:"transcript"`
	Error      string     `json:"error,omitempty"`
	AudioBytes int64      `json:"audioBytes"`
	StartedAt  time.Time  `json:"startedAt"`
	EndedAt    *time.Time `json:"endedAt,omitempty"`
}
