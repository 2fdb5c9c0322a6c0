package app

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"speech-capture-service/internal/config"
	"speech-capture-service/internal/service/capture"
	"speech-capture-service/internal/service/permission"
	"speech-capture-service/internal/service/session"
	"speech-capture-service/internal/service/sink"
	"speech-capture-service/internal/service/stt"
	"speech-capture-service/internal/service/stt/mock"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Defaults()
	cfg.Observability.LogLevel = "error"
	cfg.Capture.Device = "none"
	cfg.Recording.Dir = t.TempDir()
	cfg.Store.Path = filepath.Join(t.TempDir(), "journal", "sessions.db")
	return cfg
}

func TestNewRecognizer(t *testing.T) {
	tests := []struct {
		name     string
		cfg      config.STTConfig
		wantNil  bool
		wantErr  bool
		wantMock bool
	}{
		{name: "default is mock", cfg: config.STTConfig{}, wantMock: true},
		{name: "mock", cfg: config.STTConfig{Provider: "MOCK"}, wantMock: true},
		{name: "none", cfg: config.STTConfig{Provider: "none"}, wantNil: true},
		{name: "exec", cfg: config.STTConfig{Provider: "exec", Command: "whisper-cli -m model.bin"}},
		{name: "exec empty command", cfg: config.STTConfig{Provider: "exec"}, wantErr: true},
		{name: "openai without key", cfg: config.STTConfig{Provider: "openai"}, wantErr: true},
		{name: "openai", cfg: config.STTConfig{Provider: "openai", OpenAIAPIKey: "sk-test"}},
		{name: "unknown", cfg: config.STTConfig{Provider: "carrier-pigeon"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, closeFn, err := newRecognizer(context.Background(), tt.cfg)
			if closeFn == nil {
				t.Fatal("close func must never be nil")
			}
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if tt.wantNil != (rec == nil) {
				t.Errorf("recognizer = %v, wantNil %v", rec, tt.wantNil)
			}
			if _, ok := rec.(*mock.Recognizer); ok != tt.wantMock {
				t.Errorf("recognizer type %T, wantMock %v", rec, tt.wantMock)
			}
			if err := closeFn(); err != nil {
				t.Errorf("close: %v", err)
			}
		})
	}
}

func TestNewDevice(t *testing.T) {
	if d, err := newDevice(config.CaptureConfig{Device: "microphone"}); err != nil {
		t.Errorf("microphone: %v", err)
	} else if _, ok := d.(capture.MalgoDevice); !ok {
		t.Errorf("microphone device = %T", d)
	}

	d, err := newDevice(config.CaptureConfig{Device: "wav", WAVFile: "in.wav", Loop: true})
	if err != nil {
		t.Fatalf("wav: %v", err)
	}
	if w, ok := d.(capture.WAVDevice); !ok || w.Path != "in.wav" || !w.Loop {
		t.Errorf("wav device = %#v", d)
	}

	if _, err := newDevice(config.CaptureConfig{Device: "wav"}); err == nil {
		t.Error("wav without file should fail")
	}
	if d, err := newDevice(config.CaptureConfig{Device: "none"}); err != nil || d != nil {
		t.Errorf("none = %v, %v", d, err)
	}
	if _, err := newDevice(config.CaptureConfig{Device: "theremin"}); err == nil {
		t.Error("unknown device should fail")
	}
}

func TestEncodingFrom(t *testing.T) {
	enc, err := encodingFrom(config.RecordingConfig{Format: "wav", SampleRate: 16000, Channels: 2, Quality: "high"})
	if err != nil {
		t.Fatal(err)
	}
	want := sink.EncodingConfig{Format: sink.FormatLinearPCM, SampleRate: 16000, Channels: 2, Quality: sink.QualityHigh}
	if enc != want {
		t.Errorf("encoding = %+v, want %+v", enc, want)
	}

	bad := []config.RecordingConfig{
		{Format: "flac", SampleRate: 16000, Channels: 1, Quality: "high"},
		{Format: "aac", SampleRate: 16000, Channels: 1, Quality: "lossless"},
		{Format: "aac", SampleRate: 0, Channels: 1, Quality: "low"},
	}
	for _, rc := range bad {
		if _, err := encodingFrom(rc); err == nil {
			t.Errorf("encodingFrom(%+v) should fail", rc)
		}
	}
}

func TestGateFrom(t *testing.T) {
	gate, err := gateFrom(config.PermissionsConfig{Microphone: "granted", Recognition: "undetermined", Prompt: "granted"})
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	if st, _ := gate.RequestMicrophoneAccess(ctx); st != permission.Granted {
		t.Errorf("microphone = %v", st)
	}
	if st, _ := gate.RequestRecognitionAccess(ctx); st != permission.Granted {
		t.Errorf("undetermined recognition should resolve to the prompt answer, got %v", st)
	}

	if _, err := gateFrom(config.PermissionsConfig{Microphone: "maybe"}); err == nil {
		t.Error("invalid status should fail")
	}
}

func TestStartAndShutdown(t *testing.T) {
	a := New(testConfig(t))
	if err := a.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if a.Controller == nil || a.Journal == nil || a.Hub == nil || a.Publisher == nil {
		t.Fatalf("incomplete wiring: %+v", a)
	}
	if a.Publisher.Len() != 2 {
		t.Errorf("publish targets = %d, want kafka log-only and hub", a.Publisher.Len())
	}
	for _, check := range a.ReadinessChecks() {
		if err := check(context.Background()); err != nil {
			t.Errorf("readiness: %v", err)
		}
	}

	// No capture device: the session fails through its completion.
	var got error
	s, err := a.Controller.Start(context.Background(), func(_ session.TranscriptResult, err error) { got = err })
	if err != nil {
		t.Fatalf("session start: %v", err)
	}
	if s.State() != session.StateFailed {
		t.Errorf("state = %v, want failed", s.State())
	}
	if !errors.Is(got, session.ErrAudioEngine) || !errors.Is(got, capture.ErrNoDevice) {
		t.Errorf("completion error = %v", got)
	}

	rec, err := a.Journal.GetSession(context.Background(), s.ID())
	if err != nil {
		t.Fatalf("journal: %v", err)
	}
	if rec.State != "failed" || rec.Error == "" {
		t.Errorf("journal record = %+v", rec)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	a.Shutdown(ctx)
	select {
	case <-a.hubDone:
	default:
		t.Error("hub still running after shutdown")
	}
}

func TestStart_NoRecognizer(t *testing.T) {
	cfg := testConfig(t)
	cfg.STT.Provider = "none"
	cfg.Store.Enabled = false
	a := New(cfg)
	if err := a.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer a.Shutdown(context.Background())

	var got error
	a.Controller.Start(context.Background(), func(_ session.TranscriptResult, err error) { got = err })
	if !errors.Is(got, session.ErrRecognizer) || !errors.Is(got, stt.ErrRecognizerUnavailable) {
		t.Errorf("completion error = %v", got)
	}
}

func TestStart_InvalidConfig(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*config.Config)
	}{
		{"format", func(c *config.Config) { c.Recording.Format = "ogg" }},
		{"permission", func(c *config.Config) { c.Permissions.Microphone = "sometimes" }},
		{"device", func(c *config.Config) { c.Capture.Device = "tape" }},
		{"provider", func(c *config.Config) { c.STT.Provider = "oracle" }},
		{"nats without servers", func(c *config.Config) { c.NATS.Enabled = true }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig(t)
			tt.mutate(cfg)
			a := New(cfg)
			if err := a.Start(context.Background()); err == nil {
				a.Shutdown(context.Background())
				t.Fatal("expected Start to fail")
			}
		})
	}
}
