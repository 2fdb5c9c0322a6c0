// Package mock provides a simulated recognizer for running without cloud
// credentials. Each request plays one scripted utterance: progressive
// partials while audio flows, then exactly one final at end of audio.
package mock

import (
	"context"
	"errors"
	"sync"
	"time"

	"speech-capture-service/internal/service/stt"
)

// ErrSimulatedFailure is reported when FailAfterFrames is reached.
var ErrSimulatedFailure = errors.New("mock recognizer: simulated failure")

// SimulatedUtterance represents a mock utterance with progressive transcripts.
type SimulatedUtterance struct {
	Partials   []string // Progressive partial transcripts
	Final      string   // Final transcript text
	Confidence float64  // Confidence score for final
}

// DefaultUtterances provides sample utterances for simulation.
var DefaultUtterances = []SimulatedUtterance{
	{
		Partials:   []string{"Remind me", "Remind me to", "Remind me to call"},
		Final:      "Remind me to call the dentist tomorrow",
		Confidence: 0.94,
	},
	{
		Partials:   []string{"Add milk", "Add milk and"},
		Final:      "Add milk and eggs to the shopping list",
		Confidence: 0.97,
	},
	{
		Partials:   []string{"The meeting", "The meeting has", "The meeting has moved"},
		Final:      "The meeting has moved to three thirty",
		Confidence: 0.91,
	},
	{
		Partials:   []string{"Dear team", "Dear team thanks", "Dear team thanks for"},
		Final:      "Dear team thanks for the great work this week",
		Confidence: 0.89,
	},
	{
		Partials:   []string{"Note to self"},
		Final:      "Note to self water the plants",
		Confidence: 0.98,
	},
}

// Recognizer hands out mock adapters, cycling through Utterances.
type Recognizer struct {
	Utterances       []SimulatedUtterance
	FramesPerPartial int           // audio frames between partials
	Delay            time.Duration // simulated processing delay per result
	FailAfterFrames  int           // 0 disables the simulated failure

	mu      sync.Mutex
	counter int
}

// NewRecognizer returns a recognizer with the default script.
func NewRecognizer() *Recognizer {
	return &Recognizer{
		Utterances:       DefaultUtterances,
		FramesPerPartial: 10,
		Delay:            50 * time.Millisecond,
	}
}

// NewAdapter implements stt.Recognizer.
func (r *Recognizer) NewAdapter(context.Context) (stt.Adapter, error) {
	r.mu.Lock()
	utts := r.Utterances
	if len(utts) == 0 {
		utts = DefaultUtterances
	}
	idx := r.counter % len(utts)
	r.counter++
	r.mu.Unlock()

	fpp := r.FramesPerPartial
	if fpp <= 0 {
		fpp = 1
	}
	return &Adapter{
		utterance:        utts[idx],
		index:            idx,
		framesPerPartial: fpp,
		delay:            r.Delay,
		failAfter:        r.FailAfterFrames,
	}, nil
}

type delivery func(cb stt.Callback)

// Adapter implements stt.Adapter with scripted responses. Results are
// delivered in order from a single goroutine.
type Adapter struct {
	utterance        SimulatedUtterance
	index            int
	framesPerPartial int
	delay            time.Duration
	failAfter        int

	mu           sync.Mutex
	cb           stt.Callback
	ctx          context.Context
	deliveries   chan delivery
	frames       int
	partialIndex int
	finalSent    bool
	closed       bool
}

// Start begins a mock transcription session.
func (a *Adapter) Start(ctx context.Context, _ stt.Options, cb stt.Callback) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.cb = cb
	a.ctx = ctx
	a.deliveries = make(chan delivery, 64)
	go a.deliver(ctx, cb, a.deliveries)
	return nil
}

// SendAudio advances the script: every framesPerPartial frames the next
// partial is produced.
func (a *Adapter) SendAudio(ctx context.Context, audio []byte) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed || a.cb == nil || a.finalSent {
		return nil
	}
	a.frames++

	if a.failAfter > 0 && a.frames >= a.failAfter {
		a.finalSent = true
		a.queue(func(cb stt.Callback) { cb.OnError(ErrSimulatedFailure) })
		return nil
	}

	if a.frames%a.framesPerPartial == 0 && a.partialIndex < len(a.utterance.Partials) {
		text := a.utterance.Partials[a.partialIndex]
		a.partialIndex++
		a.queue(func(cb stt.Callback) { cb.OnPartial(stt.Result{Text: text}) })
	}
	return nil
}

// Close signals end of audio and schedules the final. A request that never
// received audio ends with an empty final.
func (a *Adapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return nil
	}
	a.closed = true
	if a.cb == nil {
		return nil
	}

	if !a.finalSent {
		a.finalSent = true
		res := stt.Result{Metadata: map[string]any{"provider": "mock", "utterance": a.index}}
		if a.frames > 0 {
			res.Text = a.utterance.Final
			res.Confidence = a.utterance.Confidence
		}
		select {
		case a.deliveries <- func(cb stt.Callback) { cb.OnFinal(res) }:
		case <-a.ctx.Done():
		}
	}
	close(a.deliveries)
	return nil
}

// queue must be called with mu held. Partials are dropped when the
// delivery buffer is full.
func (a *Adapter) queue(d delivery) {
	select {
	case a.deliveries <- d:
	default:
	}
}

func (a *Adapter) deliver(ctx context.Context, cb stt.Callback, in <-chan delivery) {
	for d := range in {
		select {
		case <-time.After(a.delay):
		case <-ctx.Done():
			return
		}
		d(cb)
	}
}
