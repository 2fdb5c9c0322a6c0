// Package openai transcribes buffered request audio with OpenAI Whisper.
// Whisper has no interim results; each request produces one final.
package openai

import (
	"context"
	"fmt"
	"os"
	"sync"

	openai "github.com/sashabaranov/go-openai"

	"speech-capture-service/internal/service/stt"
)

// Config holds configuration for OpenAI STT.
type Config struct {
	APIKey   string
	BaseURL  string
	Model    string // Default: whisper-1
	Language string // Default: auto-detect (empty)
}

type transcriber interface {
	CreateTranscription(ctx context.Context, req openai.AudioRequest) (openai.AudioResponse, error)
}

// Recognizer creates Whisper-backed adapters.
type Recognizer struct {
	client   transcriber
	model    string
	language string
}

// NewRecognizer creates a new OpenAI Whisper recognizer.
func NewRecognizer(cfg Config) (*Recognizer, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("OpenAI API key is required")
	}
	model := cfg.Model
	if model == "" {
		model = openai.Whisper1
	}
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	return &Recognizer{
		client:   openai.NewClientWithConfig(clientCfg),
		model:    model,
		language: cfg.Language,
	}, nil
}

// NewAdapter implements stt.Recognizer.
func (r *Recognizer) NewAdapter(context.Context) (stt.Adapter, error) {
	return &Adapter{rec: r}, nil
}

func (r *Recognizer) transcribe(ctx context.Context, payload []byte, opts stt.Options) (stt.Result, error) {
	path, err := stt.TempWAV("whisper_*.wav", payload, opts.SampleRateHz, opts.Channels)
	if err != nil {
		return stt.Result{}, err
	}
	defer os.Remove(path)

	f, err := os.Open(path)
	if err != nil {
		return stt.Result{}, fmt.Errorf("open temp wav: %w", err)
	}
	defer f.Close()

	language := r.language
	if language == "" && len(opts.LanguageCode) >= 2 {
		language = opts.LanguageCode[:2]
	}
	resp, err := r.client.CreateTranscription(ctx, openai.AudioRequest{
		Model:    r.model,
		Language: language,
		Format:   openai.AudioResponseFormatJSON,
		Reader:   f,
		FilePath: "audio.wav",
	})
	if err != nil {
		return stt.Result{}, fmt.Errorf("transcription failed: %w", err)
	}
	return stt.Result{
		Text:     resp.Text,
		IsFinal:  true,
		Metadata: resp,
	}, nil
}

// Adapter buffers audio until end of audio.
type Adapter struct {
	rec *Recognizer
	buf stt.AudioBuffer

	mu     sync.Mutex
	ctx    context.Context
	opts   stt.Options
	cb     stt.Callback
	closed bool
}

func (a *Adapter) Start(ctx context.Context, opts stt.Options, cb stt.Callback) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.ctx, a.opts, a.cb = ctx, opts, cb
	return nil
}

func (a *Adapter) SendAudio(_ context.Context, audio []byte) error {
	a.buf.Append(audio)
	return nil
}

// Close uploads the buffered audio and reports the final.
func (a *Adapter) Close() error {
	a.mu.Lock()
	if a.closed || a.cb == nil {
		a.mu.Unlock()
		return nil
	}
	a.closed = true
	a.mu.Unlock()

	go func() {
		payload := a.buf.Snapshot()
		if len(payload) == 0 {
			a.cb.OnFinal(stt.Result{IsFinal: true})
			return
		}
		res, err := a.rec.transcribe(a.ctx, payload, a.opts)
		if err != nil {
			if a.ctx.Err() == nil {
				a.cb.OnError(err)
			}
			return
		}
		a.cb.OnFinal(res)
	}()
	return nil
}
