// Package stt defines the recognizer capability and the per-request
// recognition channel built on top of it.
package stt

import (
	"context"
	"errors"
)

// ErrRecognizerUnavailable is returned when no recognizer is configured.
var ErrRecognizerUnavailable = errors.New("speech recognizer unavailable")

// TaskHint tells the recognizer what kind of speech to expect.
type TaskHint string

const (
	TaskHintDictation TaskHint = "dictation"
	TaskHintSearch    TaskHint = "search"
)

// Options configures one recognition request.
type Options struct {
	ReportPartialResults bool
	TaskHint             TaskHint
	SampleRateHz         int
	Channels             int
	LanguageCode         string
}

// Result is one transcription hypothesis. Metadata is the provider's raw
// payload, passed through uninterpreted.
type Result struct {
	Text       string
	Confidence float64
	IsFinal    bool
	Metadata   any
}

// Callback receives transcript results from the STT provider.
type Callback interface {
	// OnPartial is called when an interim transcript is received.
	OnPartial(r Result)

	// OnFinal is called once, when the request's final transcript is known.
	OnFinal(r Result)

	// OnError is called when the request fails.
	OnError(err error)
}

// Adapter is one streaming recognition request against a provider.
type Adapter interface {
	// Start begins the request. Cancelling ctx tears it down forcibly.
	Start(ctx context.Context, opts Options, cb Callback) error

	// SendAudio sends S16LE audio bytes to the provider.
	SendAudio(ctx context.Context, audio []byte) error

	// Close signals end of audio. The final result may still arrive.
	Close() error
}

// Recognizer creates adapters, one per request.
type Recognizer interface {
	NewAdapter(ctx context.Context) (Adapter, error)
}

// RecognizerFunc adapts a function to Recognizer.
type RecognizerFunc func(ctx context.Context) (Adapter, error)

func (f RecognizerFunc) NewAdapter(ctx context.Context) (Adapter, error) {
	return f(ctx)
}
