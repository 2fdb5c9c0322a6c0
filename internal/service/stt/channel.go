package stt

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"speech-capture-service/internal/service/capture"
	"speech-capture-service/internal/service/request"
)

// DefaultAudioQueue is the number of frames buffered towards the provider.
const DefaultAudioQueue = 256

var (
	ErrChannelClosed = errors.New("recognition channel no longer accepts audio")
	ErrBackpressure  = errors.New("recognizer is not keeping up, frame dropped")
)

// EventKind classifies recognition events.
type EventKind int

const (
	EventPartial EventKind = iota
	EventFinal
	EventError
)

func (k EventKind) String() string {
	switch k {
	case EventPartial:
		return "partial"
	case EventFinal:
		return "final"
	case EventError:
		return "error"
	default:
		return fmt.Sprintf("event(%d)", int(k))
	}
}

// Event is one recognition outcome. Err is set only for EventError.
type Event struct {
	Kind   EventKind
	Result Result
	Err    error
}

// Terminal reports whether the event ends the request.
func (e Event) Terminal() bool {
	return e.Kind != EventPartial
}

// Channel is a live recognition request fed with captured frames.
//
// Events are delivered in the order the recognizer produced them. The
// Events channel is closed after the first terminal event has been
// received, or after Close. Provider callbacks never block: events are
// queued and drained by a single goroutine.
type Channel struct {
	id      string
	opts    Options
	adapter Adapter
	lc      *request.Lifecycle
	log     zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	queue  []Event
	notify chan struct{}
	done   chan struct{}
	events chan Event

	audioMu     sync.Mutex
	audio       chan []byte
	audioClosed bool

	closeOnce sync.Once
}

// Open starts a recognition request on rec.
func Open(ctx context.Context, rec Recognizer, id string, opts Options, log zerolog.Logger) (*Channel, error) {
	if rec == nil {
		return nil, ErrRecognizerUnavailable
	}
	if opts.TaskHint == "" {
		opts.TaskHint = TaskHintDictation
	}
	adapter, err := rec.NewAdapter(ctx)
	if err != nil {
		return nil, fmt.Errorf("create recognizer adapter: %w", err)
	}

	cctx, cancel := context.WithCancel(ctx)
	c := &Channel{
		id:      id,
		opts:    opts,
		adapter: adapter,
		lc:      request.NewLifecycle(id),
		log:     log.With().Str("requestId", id).Logger(),
		ctx:     cctx,
		cancel:  cancel,
		notify:  make(chan struct{}, 1),
		done:    make(chan struct{}),
		events:  make(chan Event),
		audio:   make(chan []byte, DefaultAudioQueue),
	}

	if err := adapter.Start(cctx, opts, callback{c}); err != nil {
		cancel()
		return nil, fmt.Errorf("start recognition request: %w", err)
	}

	go c.pump()
	go c.send()
	return c, nil
}

// ID returns the request id.
func (c *Channel) ID() string { return c.id }

// State returns the request lifecycle state.
func (c *Channel) State() request.State { return c.lc.State() }

// Events returns the ordered stream of recognition events.
func (c *Channel) Events() <-chan Event { return c.events }

// Append queues one frame for the recognizer. It never blocks; a full
// queue drops the frame and returns ErrBackpressure.
func (c *Channel) Append(f capture.Frame) error {
	c.audioMu.Lock()
	defer c.audioMu.Unlock()
	if c.audioClosed || !c.lc.AcceptsAudio() {
		return ErrChannelClosed
	}
	select {
	case c.audio <- f.PCM:
		return nil
	default:
		return ErrBackpressure
	}
}

// Finish signals end of audio. Queued frames are still sent; the terminal
// event follows.
func (c *Channel) Finish() error {
	c.audioMu.Lock()
	defer c.audioMu.Unlock()
	if err := c.lc.Finish(); err != nil {
		return err
	}
	c.closeAudio()
	return nil
}

// Close tears the request down. Pending and late events are discarded.
// Safe to call more than once and after a terminal event.
func (c *Channel) Close() {
	c.closeOnce.Do(func() {
		if c.lc.Drop() {
			c.log.Debug().Msg("recognition request dropped")
		}
		c.cancel()
		c.audioMu.Lock()
		c.closeAudio()
		c.audioMu.Unlock()
		close(c.done)
	})
}

// closeAudio must be called with audioMu held.
func (c *Channel) closeAudio() {
	if !c.audioClosed {
		c.audioClosed = true
		close(c.audio)
	}
}

func (c *Channel) send() {
	var failed bool
	for buf := range c.audio {
		if failed || c.ctx.Err() != nil {
			continue
		}
		if err := c.adapter.SendAudio(c.ctx, buf); err != nil {
			failed = true
			c.fail(fmt.Errorf("send audio: %w", err))
		}
	}
	if failed || c.ctx.Err() != nil {
		return
	}
	if err := c.adapter.Close(); err != nil {
		c.fail(fmt.Errorf("end of audio: %w", err))
	}
}

func (c *Channel) pump() {
	defer close(c.events)
	for {
		c.mu.Lock()
		batch := c.queue
		c.queue = nil
		c.mu.Unlock()

		for _, ev := range batch {
			select {
			case c.events <- ev:
			case <-c.done:
				return
			}
			if ev.Terminal() {
				return
			}
		}

		select {
		case <-c.notify:
		case <-c.done:
			return
		}
	}
}

func (c *Channel) wake() {
	select {
	case c.notify <- struct{}{}:
	default:
	}
}

func (c *Channel) partial(r Result) {
	if !c.opts.ReportPartialResults {
		return
	}
	r.IsFinal = false
	c.mu.Lock()
	if c.lc.EmitPartial() != nil {
		c.mu.Unlock()
		return
	}
	c.queue = append(c.queue, Event{Kind: EventPartial, Result: r})
	c.mu.Unlock()
	c.wake()
}

func (c *Channel) final(r Result) {
	r.IsFinal = true
	c.mu.Lock()
	if err := c.lc.Terminate(); err != nil {
		c.mu.Unlock()
		c.log.Debug().Err(err).Msg("late final discarded")
		return
	}
	c.queue = append(c.queue, Event{Kind: EventFinal, Result: r})
	c.mu.Unlock()
	c.wake()
}

func (c *Channel) fail(err error) {
	c.mu.Lock()
	if terr := c.lc.Terminate(); terr != nil {
		c.mu.Unlock()
		c.log.Debug().Err(err).Msg("late error discarded")
		return
	}
	c.queue = append(c.queue, Event{Kind: EventError, Err: err})
	c.mu.Unlock()
	c.wake()
}

// callback keeps the Callback methods off Channel's exported surface.
type callback struct{ c *Channel }

func (cb callback) OnPartial(r Result) { cb.c.partial(r) }
func (cb callback) OnFinal(r Result)   { cb.c.final(r) }
func (cb callback) OnError(err error)  { cb.c.fail(err) }
