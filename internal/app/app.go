package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"

	"speech-capture-service/internal/config"
	"speech-capture-service/internal/events"
	"speech-capture-service/internal/observability"
	"speech-capture-service/internal/observability/logging"
	"speech-capture-service/internal/observability/metrics"
	"speech-capture-service/internal/service/capture"
	"speech-capture-service/internal/service/permission"
	"speech-capture-service/internal/service/session"
	"speech-capture-service/internal/service/sink"
	"speech-capture-service/internal/store"
)

// Application holds process-wide state for the service.
type Application struct {
	StartupTime time.Time
	Logger      zerolog.Logger
	Cfg         *config.Config

	Registry   *prometheus.Registry
	Metrics    *metrics.Metrics
	Controller *session.Controller
	Gate       *permission.Static
	Journal    *store.Journal
	Hub        *events.Hub
	Publisher  *events.Fanout

	nats            *events.NATSPublisher
	closeRecognizer func() error
	stopHub         context.CancelFunc
	hubDone         chan struct{}
}

// New constructs a new Application from the provided configuration.
func New(cfg *config.Config) *Application {
	a := &Application{
		Cfg: cfg,
	}
	a.setupLogger()

	a.Registry = prometheus.NewRegistry()
	a.Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	a.Metrics = metrics.NewMetrics(a.Registry)

	a.Logger.Info().
		Str("method", "New").
		Msg("Speech capture service application created")
	return a
}

// setupLogger configures zerolog for the service.
func (a *Application) setupLogger() {
	format := a.Cfg.Observability.LogFormat
	if a.Cfg.Service.Env == "dev" {
		format = "console"
	}
	logging.Init(logging.Config{
		Level:      a.Cfg.Observability.LogLevel,
		Format:     format,
		TimeFormat: time.RFC3339,
	})

	a.Logger = logging.WithComponent("application").With().
		Str("service", a.Cfg.Service.Name).
		Logger()

	a.Logger.Info().
		Str("logLevel", zerolog.GlobalLevel().String()).
		Str("environment", a.Cfg.Service.Env).
		Msg("Logger setup completed")
}

// Start wires the capture device, recognizer, publishers and journal into a
// session controller. Nothing is recording when it returns.
func (a *Application) Start(ctx context.Context) error {
	startLogger := a.Logger.With().
		Str("method", "Start").
		Logger()
	cfg := a.Cfg

	enc, err := encodingFrom(cfg.Recording)
	if err != nil {
		return fmt.Errorf("recording settings: %w", err)
	}
	gate, err := gateFrom(cfg.Permissions)
	if err != nil {
		return fmt.Errorf("permission settings: %w", err)
	}
	a.Gate = gate

	device, err := newDevice(cfg.Capture)
	if err != nil {
		return err
	}
	rec, closeRec, err := newRecognizer(ctx, cfg.STT)
	if err != nil {
		return err
	}
	a.closeRecognizer = closeRec

	var targets []events.Target
	kafka := events.New(&events.Config{
		Enabled:      cfg.Kafka.Enabled,
		Brokers:      cfg.Kafka.Brokers,
		TopicPartial: cfg.Kafka.TopicPartial,
		TopicFinal:   cfg.Kafka.TopicFinal,
		Principal:    cfg.Kafka.Principal,
		Metrics:      a.Metrics,
	})
	targets = append(targets, kafka)

	if cfg.NATS.Enabled {
		nc, err := events.ConnectNATS(events.NATSConfig{
			Servers:        cfg.NATS.Servers,
			SubjectPartial: cfg.NATS.SubjectPartial,
			SubjectFinal:   cfg.NATS.SubjectFinal,
			Name:           cfg.Service.Name,
			Token:          cfg.NATS.Token,
			Username:       cfg.NATS.Username,
			Password:       cfg.NATS.Password,
			ConnectTimeout: cfg.NATS.ConnectTimeout,
			Metrics:        a.Metrics,
		})
		if err != nil {
			a.closePartial(kafka)
			return err
		}
		a.nats = nc
		targets = append(targets, nc)
	}

	a.Hub = events.NewHub(a.Metrics)
	hubCtx, stopHub := context.WithCancel(context.WithoutCancel(ctx))
	a.stopHub = stopHub
	a.hubDone = make(chan struct{})
	go func() {
		defer close(a.hubDone)
		a.Hub.Run(hubCtx)
	}()
	targets = append(targets, a.Hub)
	a.Publisher = events.NewFanout(targets...)

	deps := session.Dependencies{
		Recognizer: rec,
		Gate:       gate,
		Publisher:  a.Publisher,
		Metrics:    a.Metrics,
		Logger:     a.Logger,
	}
	if device != nil {
		format := capture.Format{SampleRate: enc.SampleRate, Channels: enc.Channels}
		deps.Source = capture.NewSource(device, format, a.Logger)
	}

	if cfg.Store.Enabled {
		j, err := store.Open(ctx, store.Config{
			Path:        cfg.Store.Path,
			MaxSessions: cfg.Store.MaxSessions,
		}, a.Logger)
		if err != nil {
			a.closePartial(a.Publisher)
			return err
		}
		a.Journal = j
		deps.Journal = j
	}

	scfg := session.DefaultConfig()
	scfg.ReportPartialResults = cfg.STT.ReportPartialResults
	scfg.BufferSize = cfg.Capture.BufferSize
	scfg.Encoding = enc
	scfg.RecordDir = cfg.Recording.Dir
	scfg.Limits = session.Limits{
		MaxDuration:   cfg.SessionLimits.MaxDuration,
		MaxAudioBytes: cfg.SessionLimits.MaxAudioBytes,
		MaxPartials:   cfg.SessionLimits.MaxPartials,
	}
	scfg.FinishTimeout = cfg.STT.FinishTimeout
	scfg.LanguageCode = cfg.STT.LanguageCode
	scfg.Provider = cfg.STT.Provider
	if cfg.Recording.EncoderCommand != "" {
		scfg.SinkOptions = append(scfg.SinkOptions, sink.WithEncoderCommand(cfg.Recording.EncoderCommand))
	}
	a.Controller = session.NewController(scfg, deps)

	a.StartupTime = time.Now().UTC()
	startLogger.Info().
		Time("startupTime", a.StartupTime).
		Str("sttProvider", cfg.STT.Provider).
		Str("captureDevice", cfg.Capture.Device).
		Str("format", string(enc.Format)).
		Int("publishTargets", a.Publisher.Len()).
		Bool("journal", a.Journal != nil).
		Msg("Speech capture service starting")
	return nil
}

func (a *Application) closePartial(c interface{ Close() error }) {
	if err := c.Close(); err != nil {
		a.Logger.Warn().Err(err).Msg("Cleanup after failed start")
	}
	if a.stopHub != nil {
		a.stopHub()
	}
	_ = a.closeRecognizer()
}

// ReadinessChecks reports the dependencies /readyz waits on.
func (a *Application) ReadinessChecks() []observability.ReadinessCheck {
	checks := []observability.ReadinessCheck{
		func(context.Context) error {
			if a.Controller == nil {
				return errors.New("application not started")
			}
			return nil
		},
	}
	if a.Journal != nil {
		checks = append(checks, a.Journal.Ping)
	}
	if a.nats != nil {
		checks = append(checks, func(context.Context) error {
			if !a.nats.Healthy() {
				return errors.New("nats disconnected")
			}
			return nil
		})
	}
	return checks
}

// Shutdown aborts any live session and releases every dependency.
func (a *Application) Shutdown(ctx context.Context) {
	shutdownLogger := a.Logger.With().
		Str("method", "Shutdown").
		Logger()

	shutdownLogger.Info().Msg("Speech capture service shutting down")

	if a.Controller != nil {
		if s := a.Controller.Current(); s != nil && !s.State().Terminal() {
			s.Abort()
			select {
			case <-s.Done():
			case <-ctx.Done():
				shutdownLogger.Warn().Str("sessionId", s.ID()).Msg("Session did not release before shutdown deadline")
			}
		}
	}
	if a.stopHub != nil {
		a.stopHub()
		select {
		case <-a.hubDone:
		case <-ctx.Done():
		}
	}
	if a.Publisher != nil {
		if err := a.Publisher.Close(); err != nil {
			shutdownLogger.Warn().Err(err).Msg("Closing publishers failed")
		}
	}
	if err := a.Journal.Close(); err != nil {
		shutdownLogger.Warn().Err(err).Msg("Closing journal failed")
	}
	if a.closeRecognizer != nil {
		if err := a.closeRecognizer(); err != nil {
			shutdownLogger.Warn().Err(err).Msg("Closing recognizer failed")
		}
	}
}
