package openai

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"speech-capture-service/internal/service/stt"
)

type fakeTranscriber struct {
	req   openai.AudioRequest
	body  int
	text  string
	err   error
	calls int
}

func (f *fakeTranscriber) CreateTranscription(_ context.Context, req openai.AudioRequest) (openai.AudioResponse, error) {
	f.calls++
	f.req = req
	if req.Reader != nil {
		b, _ := io.ReadAll(req.Reader)
		f.body = len(b)
	}
	if f.err != nil {
		return openai.AudioResponse{}, f.err
	}
	return openai.AudioResponse{Text: f.text}, nil
}

type doneCallback struct {
	done chan stt.Result
	errs chan error
}

func (c *doneCallback) OnPartial(stt.Result) {}
func (c *doneCallback) OnFinal(r stt.Result) { c.done <- r }
func (c *doneCallback) OnError(err error)    { c.errs <- err }

func run(t *testing.T, ft *fakeTranscriber, audio []byte) (stt.Result, error) {
	t.Helper()
	rec := &Recognizer{client: ft, model: openai.Whisper1}
	a, _ := rec.NewAdapter(context.Background())
	cb := &doneCallback{done: make(chan stt.Result, 1), errs: make(chan error, 1)}
	_ = a.Start(context.Background(), stt.Options{SampleRateHz: 16000, Channels: 1, LanguageCode: "en-US"}, cb)
	if len(audio) > 0 {
		_ = a.SendAudio(context.Background(), audio)
	}
	_ = a.Close()

	select {
	case r := <-cb.done:
		return r, nil
	case err := <-cb.errs:
		return stt.Result{}, err
	case <-time.After(5 * time.Second):
		t.Fatal("timed out")
		return stt.Result{}, nil
	}
}

func TestNewRecognizer_RequiresKey(t *testing.T) {
	if _, err := NewRecognizer(Config{}); err == nil {
		t.Error("expected error for missing API key")
	}
	rec, err := NewRecognizer(Config{APIKey: "test-key"})
	if err != nil {
		t.Fatalf("NewRecognizer: %v", err)
	}
	if rec.model != openai.Whisper1 {
		t.Errorf("expected default model whisper-1, got %s", rec.model)
	}
}

func TestAdapter_Transcribes(t *testing.T) {
	ft := &fakeTranscriber{text: "take a note"}
	r, err := run(t, ft, make([]byte, 3200))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if r.Text != "take a note" || !r.IsFinal {
		t.Errorf("unexpected result %+v", r)
	}
	if ft.req.Language != "en" || ft.req.FilePath != "audio.wav" {
		t.Errorf("unexpected request %+v", ft.req)
	}
	if ft.body <= 3200 {
		t.Errorf("expected a WAV body larger than the payload, got %d bytes", ft.body)
	}
}

func TestAdapter_EmptyAudio(t *testing.T) {
	ft := &fakeTranscriber{}
	r, err := run(t, ft, nil)
	if err != nil || r.Text != "" {
		t.Fatalf("expected empty final, got %+v %v", r, err)
	}
	if ft.calls != 0 {
		t.Error("no upload expected for empty audio")
	}
}

func TestAdapter_Error(t *testing.T) {
	boom := errors.New("rate limited")
	_, err := run(t, &fakeTranscriber{err: boom}, make([]byte, 100))
	if !errors.Is(err, boom) {
		t.Fatalf("expected wrapped error, got %v", err)
	}
}
