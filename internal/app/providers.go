package app

import (
	"context"
	"fmt"
	"strings"

	"speech-capture-service/internal/config"
	"speech-capture-service/internal/service/capture"
	"speech-capture-service/internal/service/permission"
	"speech-capture-service/internal/service/sink"
	"speech-capture-service/internal/service/stt"
	sttexec "speech-capture-service/internal/service/stt/exec"
	"speech-capture-service/internal/service/stt/google"
	"speech-capture-service/internal/service/stt/mock"
	sttopenai "speech-capture-service/internal/service/stt/openai"
)

// newRecognizer builds the configured STT provider. Provider "none" yields a
// nil recognizer, which makes every session fail with a recognizer error.
// The returned close func is never nil.
func newRecognizer(ctx context.Context, cfg config.STTConfig) (stt.Recognizer, func() error, error) {
	noop := func() error { return nil }

	switch strings.ToLower(cfg.Provider) {
	case "", "mock":
		return mock.NewRecognizer(), noop, nil

	case "google":
		gcfg := google.DefaultConfig()
		gcfg.LanguageCode = cfg.LanguageCode
		gcfg.SampleRateHz = cfg.SampleRateHz
		gcfg.InterimResults = cfg.InterimResults
		gcfg.AudioEncoding = cfg.AudioEncoding
		gcfg.Model = cfg.Model
		rec, err := google.NewRecognizer(ctx, gcfg)
		if err != nil {
			return nil, noop, fmt.Errorf("google stt: %w", err)
		}
		return rec, rec.Close, nil

	case "exec":
		rec, err := sttexec.NewRecognizer(sttexec.Config{
			Command:         cfg.Command,
			ModelPath:       cfg.ModelPath,
			Language:        cfg.LanguageCode,
			PartialInterval: cfg.PartialInterval,
		})
		if err != nil {
			return nil, noop, fmt.Errorf("exec stt: %w", err)
		}
		return rec, noop, nil

	case "openai":
		rec, err := sttopenai.NewRecognizer(sttopenai.Config{
			APIKey:   cfg.OpenAIAPIKey,
			BaseURL:  cfg.OpenAIBaseURL,
			Model:    cfg.OpenAIModel,
			Language: cfg.LanguageCode,
		})
		if err != nil {
			return nil, noop, fmt.Errorf("openai stt: %w", err)
		}
		return rec, noop, nil

	case "none":
		return nil, noop, nil

	default:
		return nil, noop, fmt.Errorf("unknown stt provider %q", cfg.Provider)
	}
}

// newDevice maps the capture setting onto an input device. Device "none"
// yields nil.
func newDevice(cfg config.CaptureConfig) (capture.Device, error) {
	switch strings.ToLower(cfg.Device) {
	case "", "microphone", "default":
		return capture.MalgoDevice{}, nil
	case "wav":
		if cfg.WAVFile == "" {
			return nil, fmt.Errorf("capture device wav needs a file")
		}
		return capture.WAVDevice{Path: cfg.WAVFile, Loop: cfg.Loop}, nil
	case "none":
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown capture device %q", cfg.Device)
	}
}

// encodingFrom reads the recording bundle.
func encodingFrom(cfg config.RecordingConfig) (sink.EncodingConfig, error) {
	format, err := sink.ParseFormat(cfg.Format)
	if err != nil {
		return sink.EncodingConfig{}, err
	}
	quality, err := sink.ParseQuality(cfg.Quality)
	if err != nil {
		return sink.EncodingConfig{}, err
	}
	enc := sink.EncodingConfig{
		Format:     format,
		SampleRate: cfg.SampleRate,
		Channels:   cfg.Channels,
		Quality:    quality,
	}
	return enc, enc.Validate()
}

// gateFrom builds the consent gate.
func gateFrom(cfg config.PermissionsConfig) (*permission.Static, error) {
	mic, err := permission.Parse(cfg.Microphone)
	if err != nil {
		return nil, fmt.Errorf("microphone: %w", err)
	}
	rec, err := permission.Parse(cfg.Recognition)
	if err != nil {
		return nil, fmt.Errorf("recognition: %w", err)
	}
	prompt, err := permission.Parse(cfg.Prompt)
	if err != nil {
		return nil, fmt.Errorf("prompt: %w", err)
	}
	gate := permission.NewStatic(mic, rec)
	gate.Prompt = prompt
	return gate, nil
}
