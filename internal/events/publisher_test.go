package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"speech-capture-service/internal/models"
	"speech-capture-service/internal/observability/metrics"
)

func TestNew_DisabledMode(t *testing.T) {
	tests := []struct {
		name string
		cfg  *Config
	}{
		{"nil config", nil},
		{"disabled", &Config{Enabled: false, Brokers: []string{"localhost:9092"}}},
		{"no brokers", &Config{Enabled: true, Brokers: []string{}}},
		{"empty brokers", &Config{Enabled: true, Brokers: nil}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := New(tt.cfg)
			if p == nil {
				t.Fatal("expected non-nil publisher")
			}
			if p.enabled {
				t.Error("expected publisher to be disabled")
			}
			if p.writerPartial != nil || p.writerFinal != nil {
				t.Error("expected nil writers when disabled")
			}
		})
	}
}

func TestNew_ConfigValues(t *testing.T) {
	p := New(&Config{
		Enabled:      false,
		Brokers:      []string{"localhost:9092"},
		TopicPartial: "test.partial",
		TopicFinal:   "test.final",
		Principal:    "test-principal",
	})

	if p.principal != "test-principal" {
		t.Errorf("expected principal 'test-principal', got %s", p.principal)
	}
	if p.topicPartial != "test.partial" {
		t.Errorf("expected topic partial 'test.partial', got %s", p.topicPartial)
	}
	if p.topicFinal != "test.final" {
		t.Errorf("expected topic final 'test.final', got %s", p.topicFinal)
	}
}

func TestNew_EnabledBuildsWriters(t *testing.T) {
	p := New(&Config{
		Enabled:      true,
		Brokers:      []string{"localhost:9092"},
		TopicPartial: "speech.partial",
		TopicFinal:   "speech.final",
		Metrics:      metrics.NewMetrics(prometheus.NewRegistry()),
	})
	defer p.Close()

	if p.writerPartial == nil || p.writerPartial.Topic != "speech.partial" {
		t.Errorf("partial writer not configured: %+v", p.writerPartial)
	}
	if p.writerFinal == nil || p.writerFinal.Topic != "speech.final" {
		t.Errorf("final writer not configured: %+v", p.writerFinal)
	}
}

func TestPublisher_DisabledRecordsMetrics(t *testing.T) {
	m := metrics.NewMetrics(prometheus.NewRegistry())
	p := New(&Config{Enabled: false, Metrics: m})

	event := models.TranscriptPartial{EventType: models.EventTypePartial, SessionID: "s-1", Text: "he"}
	if err := p.PublishPartial(context.Background(), "s-1", event); err != nil {
		t.Fatalf("PublishPartial: %v", err)
	}
	if err := p.PublishFinal(context.Background(), "s-1", models.TranscriptFinal{EventType: models.EventTypeFinal}); err != nil {
		t.Fatalf("PublishFinal: %v", err)
	}

	if got := testutil.ToFloat64(m.PublishTotal.WithLabelValues("kafka", "partial")); got != 1 {
		t.Errorf("partial publishes = %v", got)
	}
	if got := testutil.ToFloat64(m.PublishTotal.WithLabelValues("kafka", "final")); got != 1 {
		t.Errorf("final publishes = %v", got)
	}
}

func TestPublisher_InvalidJSON(t *testing.T) {
	p := New(&Config{Enabled: false})

	if err := p.PublishPartial(context.Background(), "k", make(chan int)); err == nil {
		t.Error("expected error for unmarshalable partial")
	}
	if err := p.PublishFinal(context.Background(), "k", make(chan int)); err == nil {
		t.Error("expected error for unmarshalable final")
	}
}

func TestPublisher_MessageHeaders(t *testing.T) {
	p := New(&Config{Enabled: false, Principal: "capture-svc"})
	event := models.TranscriptFailed{EventType: models.EventTypeFailed, SessionID: "s-9"}

	msg := p.message("s-9", event, []byte(`{}`))
	if string(msg.Key) != "s-9" {
		t.Errorf("key = %q", msg.Key)
	}
	headers := map[string]string{}
	for _, h := range msg.Headers {
		headers[h.Key] = string(h.Value)
	}
	if headers["eventType"] != models.EventTypeFailed || headers["principal"] != "capture-svc" {
		t.Errorf("headers = %v", headers)
	}
}

func TestPublisher_Close_NoWriters(t *testing.T) {
	if err := New(&Config{Enabled: false}).Close(); err != nil {
		t.Errorf("expected no error closing disabled publisher, got %v", err)
	}
	if err := (&Publisher{}).Close(); err != nil {
		t.Errorf("expected no error closing publisher with nil writers, got %v", err)
	}
}

func TestEventType(t *testing.T) {
	tests := []struct {
		event any
		want  string
	}{
		{models.TranscriptPartial{EventType: models.EventTypePartial}, models.EventTypePartial},
		{&models.TranscriptFinal{EventType: models.EventTypeFinal}, models.EventTypeFinal},
		{models.TranscriptFailed{EventType: models.EventTypeFailed}, models.EventTypeFailed},
		{map[string]string{}, "unknown"},
	}
	for _, tt := range tests {
		if got := EventType(tt.event); got != tt.want {
			t.Errorf("EventType(%T) = %q, want %q", tt.event, got, tt.want)
		}
	}
}

type capturedMsgs struct {
	msgs []*nats.Msg
	err  error
}

func (c *capturedMsgs) PublishMsg(m *nats.Msg) error {
	c.msgs = append(c.msgs, m)
	return c.err
}

func TestNATSPublisher_Publish(t *testing.T) {
	sink := &capturedMsgs{}
	m := metrics.NewMetrics(prometheus.NewRegistry())
	p := newNATSPublisher(sink, NATSConfig{
		SubjectPartial: "speech.transcript.partial",
		SubjectFinal:   "speech.transcript.final",
		Name:           "capture-svc",
		Metrics:        m,
	})

	final := models.TranscriptFinal{EventType: models.EventTypeFinal, SessionID: "s-1", Text: "hello"}
	if err := p.PublishFinal(context.Background(), "s-1", final); err != nil {
		t.Fatalf("PublishFinal: %v", err)
	}
	if len(sink.msgs) != 1 {
		t.Fatalf("published %d messages", len(sink.msgs))
	}
	msg := sink.msgs[0]
	if msg.Subject != "speech.transcript.final" {
		t.Errorf("subject = %q", msg.Subject)
	}
	if msg.Header.Get("sessionId") != "s-1" || msg.Header.Get("eventType") != models.EventTypeFinal {
		t.Errorf("headers = %v", msg.Header)
	}
	var decoded models.TranscriptFinal
	if err := json.Unmarshal(msg.Data, &decoded); err != nil || decoded.Text != "hello" {
		t.Errorf("payload %s: %v", msg.Data, err)
	}
	if got := testutil.ToFloat64(m.PublishTotal.WithLabelValues("nats", "final")); got != 1 {
		t.Errorf("publish metric = %v", got)
	}
}

func TestNATSPublisher_Errors(t *testing.T) {
	boom := errors.New("connection closed")
	m := metrics.NewMetrics(prometheus.NewRegistry())
	p := newNATSPublisher(&capturedMsgs{err: boom}, NATSConfig{SubjectPartial: "p", Metrics: m})

	if err := p.PublishPartial(context.Background(), "s", map[string]string{}); !errors.Is(err, boom) {
		t.Fatalf("PublishPartial = %v", err)
	}
	if got := testutil.ToFloat64(m.PublishErrors.WithLabelValues("nats", "partial")); got != 1 {
		t.Errorf("error metric = %v", got)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := p.PublishPartial(ctx, "s", map[string]string{}); !errors.Is(err, context.Canceled) {
		t.Errorf("cancelled publish = %v", err)
	}
}

func TestConnectNATS_NoServers(t *testing.T) {
	if _, err := ConnectNATS(NATSConfig{}); !errors.Is(err, ErrNoServers) {
		t.Fatalf("ConnectNATS = %v", err)
	}
	var p *NATSPublisher
	if p.Healthy() {
		t.Error("nil publisher reported healthy")
	}
	if err := p.Close(); err != nil {
		t.Errorf("nil Close = %v", err)
	}
}

type countingTarget struct {
	partials, finals int
	err              error
	closed           bool
}

func (c *countingTarget) PublishPartial(context.Context, string, any) error {
	c.partials++
	return c.err
}

func (c *countingTarget) PublishFinal(context.Context, string, any) error {
	c.finals++
	return c.err
}

func (c *countingTarget) Close() error {
	c.closed = true
	return nil
}

func TestFanout(t *testing.T) {
	boom := errors.New("broker down")
	a, b := &countingTarget{err: boom}, &countingTarget{}
	f := NewFanout(a, nil, b)
	if f.Len() != 2 {
		t.Fatalf("Len = %d", f.Len())
	}

	if err := f.PublishPartial(context.Background(), "k", nil); !errors.Is(err, boom) {
		t.Errorf("PublishPartial = %v", err)
	}
	if err := f.PublishFinal(context.Background(), "k", nil); !errors.Is(err, boom) {
		t.Errorf("PublishFinal = %v", err)
	}
	if a.partials != 1 || b.partials != 1 || a.finals != 1 || b.finals != 1 {
		t.Errorf("deliveries a=%+v b=%+v", a, b)
	}
	if err := f.Close(); err != nil || !a.closed || !b.closed {
		t.Errorf("Close = %v closed=%v/%v", err, a.closed, b.closed)
	}
}
