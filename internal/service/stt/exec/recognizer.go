// Package exec runs an external speech-to-text command over buffered
// request audio. The command receives a WAV file and prints
// {"text": "...", "confidence": 0.9} on stdout.
package exec

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	osexec "os/exec"
	"sync"
	"time"

	"github.com/mattn/go-shellwords"

	"speech-capture-service/internal/service/stt"
)

// Config configures the external command.
type Config struct {
	Command         string
	ModelPath       string
	Language        string
	PartialInterval time.Duration // 0 disables interim runs
}

type execResult struct {
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
}

// Recognizer runs one command invocation per transcription.
type Recognizer struct {
	cmd []string
	cfg Config
}

// NewRecognizer parses cfg.Command.
func NewRecognizer(cfg Config) (*Recognizer, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(cfg.Command)
	if err != nil {
		return nil, fmt.Errorf("parse stt command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("stt command is empty")
	}
	return &Recognizer{cmd: args, cfg: cfg}, nil
}

// NewAdapter implements stt.Recognizer.
func (r *Recognizer) NewAdapter(context.Context) (stt.Adapter, error) {
	return &Adapter{rec: r}, nil
}

func (r *Recognizer) args(wavPath, language string, final bool) []string {
	args := append([]string{}, r.cmd[1:]...)
	args = append(args, "--audio", wavPath)
	if r.cfg.ModelPath != "" {
		args = append(args, "--model", r.cfg.ModelPath)
	}
	if language != "" {
		args = append(args, "--language", language)
	}
	if !final {
		args = append(args, "--partial")
	}
	return args
}

func (r *Recognizer) transcribe(ctx context.Context, payload []byte, opts stt.Options, final bool) (stt.Result, error) {
	path, err := stt.TempWAV("stt_*.wav", payload, opts.SampleRateHz, opts.Channels)
	if err != nil {
		return stt.Result{}, err
	}
	defer os.Remove(path)

	language := r.cfg.Language
	if language == "" {
		language = opts.LanguageCode
	}
	command := osexec.CommandContext(ctx, r.cmd[0], r.args(path, language, final)...)
	var stdout, stderr bytes.Buffer
	command.Stdout = &stdout
	command.Stderr = &stderr

	if err := command.Run(); err != nil {
		return stt.Result{}, fmt.Errorf("stt command failed: %w: %s", err, stderr.String())
	}

	var resp execResult
	if err := json.Unmarshal(stdout.Bytes(), &resp); err != nil {
		return stt.Result{}, fmt.Errorf("decode stt response: %w", err)
	}
	return stt.Result{
		Text:       resp.Text,
		Confidence: resp.Confidence,
		IsFinal:    final,
		Metadata:   json.RawMessage(append([]byte(nil), bytes.TrimSpace(stdout.Bytes())...)),
	}, nil
}

// Adapter buffers audio and transcribes it when the request ends.
type Adapter struct {
	rec *Recognizer
	buf stt.AudioBuffer

	mu     sync.Mutex
	ctx    context.Context
	opts   stt.Options
	cb     stt.Callback
	stop   chan struct{}
	wg     sync.WaitGroup
	closed bool
}

// Start records the request options and, when partials are wanted, starts
// the interim runner.
func (a *Adapter) Start(ctx context.Context, opts stt.Options, cb stt.Callback) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.ctx, a.opts, a.cb = ctx, opts, cb
	a.stop = make(chan struct{})
	if opts.ReportPartialResults && a.rec.cfg.PartialInterval > 0 {
		a.wg.Add(1)
		go a.interim()
	}
	return nil
}

// SendAudio buffers audio.
func (a *Adapter) SendAudio(_ context.Context, audio []byte) error {
	a.buf.Append(audio)
	return nil
}

// Close runs the final transcription in the background.
func (a *Adapter) Close() error {
	a.mu.Lock()
	if a.closed || a.cb == nil {
		a.mu.Unlock()
		return nil
	}
	a.closed = true
	close(a.stop)
	a.mu.Unlock()

	go func() {
		a.wg.Wait()
		payload := a.buf.Snapshot()
		if len(payload) == 0 {
			a.cb.OnFinal(stt.Result{IsFinal: true})
			return
		}
		res, err := a.rec.transcribe(a.ctx, payload, a.opts, true)
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

func (a *Adapter) interim() {
	defer a.wg.Done()
	ticker := time.NewTicker(a.rec.cfg.PartialInterval)
	defer ticker.Stop()

	var last int
	for {
		select {
		case <-a.stop:
			return
		case <-a.ctx.Done():
			return
		case <-ticker.C:
		}
		payload := a.buf.Snapshot()
		if len(payload) == last {
			continue
		}
		last = len(payload)
		res, err := a.rec.transcribe(a.ctx, payload, a.opts, false)
		if err != nil || res.Text == "" {
			continue
		}
		a.cb.OnPartial(res)
	}
}
