package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"

	"speech-capture-service/internal/observability/metrics"
)

const transportNATS = "nats"

var ErrNoServers = errors.New("no NATS servers configured")

// NATSConfig holds NATS publisher configuration.
type NATSConfig struct {
	Servers        []string
	SubjectPartial string
	SubjectFinal   string
	Name           string
	Token          string
	Username       string
	Password       string
	ConnectTimeout time.Duration
	Metrics        *metrics.Metrics
}

// msgPublisher is the part of *nats.Conn the publisher needs.
type msgPublisher interface {
	PublishMsg(m *nats.Msg) error
}

// NATSPublisher publishes transcript events as core NATS messages.
type NATSPublisher struct {
	conn           *nats.Conn
	pub            msgPublisher
	subjectPartial string
	subjectFinal   string
	name           string
	metrics        *metrics.Metrics
}

// ConnectNATS dials the configured servers.
func ConnectNATS(cfg NATSConfig) (*NATSPublisher, error) {
	if len(cfg.Servers) == 0 {
		return nil, ErrNoServers
	}
	if cfg.Name == "" {
		cfg.Name = "speech-capture-service"
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 5 * time.Second
	}

	options := []nats.Option{
		nats.Name(cfg.Name),
		nats.Timeout(cfg.ConnectTimeout),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warn().Err(err).Msg("NATS disconnected")
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			log.Info().Str("server", c.ConnectedUrl()).Msg("NATS reconnected")
		}),
	}
	if cfg.Username != "" || cfg.Password != "" {
		options = append(options, nats.UserInfo(cfg.Username, cfg.Password))
	}
	if cfg.Token != "" {
		options = append(options, nats.Token(cfg.Token))
	}

	url := strings.Join(cfg.Servers, ",")
	conn, err := nats.Connect(url, options...)
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}

	log.Info().
		Str("servers", url).
		Str("subjectPartial", cfg.SubjectPartial).
		Str("subjectFinal", cfg.SubjectFinal).
		Msg("NATS publisher initialized")

	p := newNATSPublisher(conn, cfg)
	p.conn = conn
	return p, nil
}

func newNATSPublisher(pub msgPublisher, cfg NATSConfig) *NATSPublisher {
	m := cfg.Metrics
	if m == nil {
		m = metrics.DefaultMetrics
	}
	return &NATSPublisher{
		pub:            pub,
		subjectPartial: cfg.SubjectPartial,
		subjectFinal:   cfg.SubjectFinal,
		name:           cfg.Name,
		metrics:        m,
	}
}

// PublishPartial publishes a partial transcript event.
func (p *NATSPublisher) PublishPartial(ctx context.Context, key string, event any) error {
	return p.publish(ctx, p.subjectPartial, "partial", key, event)
}

// PublishFinal publishes a final or failed transcript event.
func (p *NATSPublisher) PublishFinal(ctx context.Context, key string, event any) error {
	return p.publish(ctx, p.subjectFinal, "final", key, event)
}

func (p *NATSPublisher) publish(ctx context.Context, subject, eventType, key string, event any) error {
	start := time.Now()
	if err := ctx.Err(); err != nil {
		p.metrics.RecordPublish(transportNATS, eventType, err, time.Since(start).Seconds())
		return err
	}

	payload, err := json.Marshal(event)
	if err != nil {
		log.Error().Err(err).Str("subject", subject).Msg("Failed to marshal event")
		return err
	}

	msg := nats.NewMsg(subject)
	msg.Data = payload
	msg.Header.Set("sessionId", key)
	msg.Header.Set("eventType", EventType(event))
	if p.name != "" {
		msg.Header.Set("principal", p.name)
	}

	if err := p.pub.PublishMsg(msg); err != nil {
		log.Error().
			Err(err).
			Str("subject", subject).
			Str("key", key).
			Msg("Failed to publish to NATS")
		p.metrics.RecordPublish(transportNATS, eventType, err, time.Since(start).Seconds())
		return err
	}
	p.metrics.RecordPublish(transportNATS, eventType, nil, time.Since(start).Seconds())
	return nil
}

// Healthy reports whether the connection is up.
func (p *NATSPublisher) Healthy() bool {
	return p != nil && p.conn != nil && p.conn.Status() == nats.CONNECTED
}

// Close drains and closes the connection.
func (p *NATSPublisher) Close() error {
	if p == nil || p.conn == nil {
		return nil
	}
	log.Info().Msg("Closing NATS connection")
	err := p.conn.Drain()
	p.conn.Close()
	return err
}
