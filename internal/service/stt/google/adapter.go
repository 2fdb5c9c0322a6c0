// Package google provides a Google Cloud Speech-to-Text adapter.
package google

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	speech "cloud.google.com/go/speech/apiv1"
	"cloud.google.com/go/speech/apiv1/speechpb"
	"google.golang.org/protobuf/encoding/protojson"

	"speech-capture-service/internal/service/stt"
)

// Config holds the provider settings that are not per request.
type Config struct {
	LanguageCode   string
	SampleRateHz   int
	InterimResults bool
	AudioEncoding  string
	// Model overrides the model chosen from the task hint.
	Model string
}

// DefaultConfig returns the provider defaults.
func DefaultConfig() Config {
	return Config{
		LanguageCode:   "en-US",
		SampleRateHz:   8000,
		InterimResults: true,
		AudioEncoding:  "LINEAR16",
	}
}

// parseAudioEncoding maps an encoding name onto the proto enum, falling back
// to LINEAR16.
func parseAudioEncoding(s string) speechpb.RecognitionConfig_AudioEncoding {
	v, ok := speechpb.RecognitionConfig_AudioEncoding_value[s]
	if !ok || v == int32(speechpb.RecognitionConfig_ENCODING_UNSPECIFIED) {
		return speechpb.RecognitionConfig_LINEAR16
	}
	return speechpb.RecognitionConfig_AudioEncoding(v)
}

// modelFor picks the recognition model for a task hint.
func modelFor(hint stt.TaskHint) string {
	switch hint {
	case stt.TaskHintSearch:
		return "command_and_search"
	default:
		return "latest_long"
	}
}

// Recognizer shares one client across requests.
type Recognizer struct {
	client *speech.Client
	cfg    Config
}

// NewRecognizer dials the Speech API.
// Requires GOOGLE_APPLICATION_CREDENTIALS environment variable to be set.
func NewRecognizer(ctx context.Context, cfg Config) (*Recognizer, error) {
	c, err := speech.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("speech client: %w", err)
	}
	return &Recognizer{client: c, cfg: cfg}, nil
}

// NewAdapter implements stt.Recognizer.
func (r *Recognizer) NewAdapter(context.Context) (stt.Adapter, error) {
	return &Adapter{client: r.client, cfg: r.cfg}, nil
}

// Close releases the client connection.
func (r *Recognizer) Close() error {
	return r.client.Close()
}

// Adapter implements stt.Adapter using Google Cloud Speech-to-Text.
type Adapter struct {
	client *speech.Client
	cfg    Config
	stream speechpb.Speech_StreamingRecognizeClient

	closeOnce sync.Once
	closeErr  error
}

// streamingConfig builds the first message of a request.
func streamingConfig(cfg Config, opts stt.Options) *speechpb.StreamingRecognitionConfig {
	rate := opts.SampleRateHz
	if rate <= 0 {
		rate = cfg.SampleRateHz
	}
	lang := opts.LanguageCode
	if lang == "" {
		lang = cfg.LanguageCode
	}
	channels := opts.Channels
	if channels <= 0 {
		channels = 1
	}
	model := cfg.Model
	if model == "" {
		model = modelFor(opts.TaskHint)
	}
	return &speechpb.StreamingRecognitionConfig{
		Config: &speechpb.RecognitionConfig{
			Encoding:                   parseAudioEncoding(cfg.AudioEncoding),
			SampleRateHertz:            int32(rate),
			AudioChannelCount:          int32(channels),
			LanguageCode:               lang,
			Model:                      model,
			EnableAutomaticPunctuation: opts.TaskHint == stt.TaskHintDictation,
		},
		InterimResults: cfg.InterimResults && opts.ReportPartialResults,
	}
}

// Start opens the stream, sends the config and starts listening.
func (a *Adapter) Start(ctx context.Context, opts stt.Options, cb stt.Callback) error {
	stream, err := a.client.StreamingRecognize(ctx)
	if err != nil {
		return err
	}
	a.stream = stream

	// Send streaming config as the first message
	err = stream.Send(&speechpb.StreamingRecognizeRequest{
		StreamingRequest: &speechpb.StreamingRecognizeRequest_StreamingConfig{
			StreamingConfig: streamingConfig(a.cfg, opts),
		},
	})
	if err != nil {
		return fmt.Errorf("send streaming config: %w", err)
	}

	go listen(ctx, stream, cb)
	return nil
}

// SendAudio sends audio bytes to Google Speech-to-Text.
func (a *Adapter) SendAudio(ctx context.Context, audio []byte) error {
	return a.stream.Send(&speechpb.StreamingRecognizeRequest{
		StreamingRequest: &speechpb.StreamingRecognizeRequest_AudioContent{
			AudioContent: audio,
		},
	})
}

// Close half-closes the stream; remaining results still arrive.
func (a *Adapter) Close() error {
	a.closeOnce.Do(func() {
		if a.stream != nil {
			a.closeErr = a.stream.CloseSend()
		}
	})
	return a.closeErr
}

type receiver interface {
	Recv() (*speechpb.StreamingRecognizeResponse, error)
}

// listen turns stream responses into callbacks. Utterance finals are
// joined into one transcript that is reported as the request's final at
// end of stream.
func listen(ctx context.Context, stream receiver, cb stt.Callback) {
	var (
		parts    []string
		confSum  float64
		lastMeta json.RawMessage
	)
	for {
		resp, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			res := stt.Result{Text: strings.Join(parts, " "), Metadata: lastMeta}
			if len(parts) > 0 {
				res.Confidence = confSum / float64(len(parts))
			}
			cb.OnFinal(res)
			return
		}
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			cb.OnError(err)
			return
		}
		if st := resp.GetError(); st != nil && st.GetCode() != 0 {
			cb.OnError(fmt.Errorf("speech api error %d: %s", st.GetCode(), st.GetMessage()))
			return
		}

		for _, r := range resp.GetResults() {
			if len(r.GetAlternatives()) == 0 {
				continue
			}
			alt := r.GetAlternatives()[0]
			text := strings.TrimSpace(alt.GetTranscript())
			if raw, err := protojson.Marshal(resp); err == nil {
				lastMeta = raw
			}
			if r.GetIsFinal() {
				if text != "" {
					parts = append(parts, text)
					confSum += float64(alt.GetConfidence())
				}
				continue
			}
			cb.OnPartial(stt.Result{
				Text:       strings.TrimSpace(strings.Join(append(append([]string{}, parts...), text), " ")),
				Confidence: float64(r.GetStability()),
				Metadata:   lastMeta,
			})
		}
	}
}
