package mock

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"speech-capture-service/internal/service/stt"
)

// testCallback implements stt.Callback for testing
type testCallback struct {
	mu       sync.Mutex
	partials []string
	finals   []stt.Result
	errors   []error
	done     chan struct{}
}

func newTestCallback() *testCallback {
	return &testCallback{done: make(chan struct{}, 1)}
}

func (c *testCallback) OnPartial(r stt.Result) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.partials = append(c.partials, r.Text)
}

func (c *testCallback) OnFinal(r stt.Result) {
	c.mu.Lock()
	c.finals = append(c.finals, r)
	c.mu.Unlock()
	c.done <- struct{}{}
}

func (c *testCallback) OnError(err error) {
	c.mu.Lock()
	c.errors = append(c.errors, err)
	c.mu.Unlock()
	c.done <- struct{}{}
}

func (c *testCallback) wait(t *testing.T) {
	t.Helper()
	select {
	case <-c.done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for terminal result")
	}
}

func fastRecognizer() *Recognizer {
	r := NewRecognizer()
	r.FramesPerPartial = 1
	r.Delay = time.Millisecond
	return r
}

func newAdapter(t *testing.T, r *Recognizer) *Adapter {
	t.Helper()
	a, err := r.NewAdapter(context.Background())
	if err != nil {
		t.Fatalf("NewAdapter: %v", err)
	}
	return a.(*Adapter)
}

func TestAdapter_PartialsThenFinal(t *testing.T) {
	a := newAdapter(t, fastRecognizer())
	cb := newTestCallback()
	_ = a.Start(context.Background(), stt.Options{}, cb)

	for i := 0; i < 5; i++ {
		if err := a.SendAudio(context.Background(), []byte("audio")); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if err := a.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	cb.wait(t)

	cb.mu.Lock()
	defer cb.mu.Unlock()
	want := DefaultUtterances[0]
	if len(cb.partials) != len(want.Partials) {
		t.Errorf("expected %d partials, got %v", len(want.Partials), cb.partials)
	}
	for i, p := range cb.partials {
		if p != want.Partials[i] {
			t.Errorf("partial %d = %q, want %q", i, p, want.Partials[i])
		}
	}
	if len(cb.finals) != 1 || cb.finals[0].Text != want.Final {
		t.Fatalf("expected final %q, got %+v", want.Final, cb.finals)
	}
	if cb.finals[0].Metadata == nil {
		t.Error("expected provider metadata on final")
	}
}

func TestAdapter_EmptyFinalWithoutAudio(t *testing.T) {
	a := newAdapter(t, fastRecognizer())
	cb := newTestCallback()
	_ = a.Start(context.Background(), stt.Options{}, cb)

	_ = a.Close()
	cb.wait(t)

	cb.mu.Lock()
	defer cb.mu.Unlock()
	if len(cb.finals) != 1 || cb.finals[0].Text != "" {
		t.Fatalf("expected one empty final, got %+v", cb.finals)
	}
}

func TestAdapter_Close_Idempotent(t *testing.T) {
	a := newAdapter(t, fastRecognizer())
	cb := newTestCallback()
	_ = a.Start(context.Background(), stt.Options{}, cb)

	_ = a.Close()
	if err := a.Close(); err != nil {
		t.Fatalf("unexpected error on second close: %v", err)
	}
	cb.wait(t)

	cb.mu.Lock()
	defer cb.mu.Unlock()
	if len(cb.finals) != 1 {
		t.Errorf("expected exactly 1 final, got %d", len(cb.finals))
	}
}

func TestAdapter_SendAudio_AfterClose(t *testing.T) {
	a := newAdapter(t, fastRecognizer())
	_ = a.Start(context.Background(), stt.Options{}, newTestCallback())
	_ = a.Close()

	if err := a.SendAudio(context.Background(), []byte("audio")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestAdapter_SimulatedFailure(t *testing.T) {
	r := fastRecognizer()
	r.FailAfterFrames = 2
	a := newAdapter(t, r)
	cb := newTestCallback()
	_ = a.Start(context.Background(), stt.Options{}, cb)

	for i := 0; i < 4; i++ {
		_ = a.SendAudio(context.Background(), []byte("audio"))
	}
	cb.wait(t)
	_ = a.Close()

	cb.mu.Lock()
	defer cb.mu.Unlock()
	if len(cb.errors) != 1 || !errors.Is(cb.errors[0], ErrSimulatedFailure) {
		t.Fatalf("expected simulated failure, got %v", cb.errors)
	}
	if len(cb.finals) != 0 {
		t.Errorf("no final expected after failure, got %+v", cb.finals)
	}
}

func TestAdapter_CancelStopsDelivery(t *testing.T) {
	r := fastRecognizer()
	r.Delay = time.Hour
	a := newAdapter(t, r)
	cb := newTestCallback()
	ctx, cancel := context.WithCancel(context.Background())
	_ = a.Start(ctx, stt.Options{}, cb)

	_ = a.SendAudio(ctx, []byte("audio"))
	cancel()
	_ = a.Close()

	select {
	case <-cb.done:
		t.Fatal("no result expected after cancellation")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestRecognizer_CyclesThroughUtterances(t *testing.T) {
	r := NewRecognizer()
	first := newAdapter(t, r)
	second := newAdapter(t, r)

	if first.utterance.Final == second.utterance.Final {
		t.Error("expected consecutive adapters to use different utterances")
	}
	for i := 0; i < len(DefaultUtterances)-2; i++ {
		newAdapter(t, r)
	}
	if again := newAdapter(t, r); again.utterance.Final != first.utterance.Final {
		t.Error("expected the script to wrap around")
	}
}

func TestDefaultUtterances(t *testing.T) {
	for i, utt := range DefaultUtterances {
		if len(utt.Partials) == 0 {
			t.Errorf("utterance %d has no partials", i)
		}
		if utt.Final == "" {
			t.Errorf("utterance %d has empty final", i)
		}
		if utt.Confidence <= 0 || utt.Confidence > 1 {
			t.Errorf("utterance %d has invalid confidence %f", i, utt.Confidence)
		}
	}
}

func TestAdapter_NoCallbackSet(t *testing.T) {
	a := newAdapter(t, fastRecognizer())

	if err := a.SendAudio(context.Background(), []byte("audio")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := a.Close(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
