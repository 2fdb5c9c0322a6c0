package events

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"speech-capture-service/internal/observability/metrics"
)

const (
	transportWebSocket = "websocket"
	hubBuffer          = 100
	clientBuffer       = 32
	writeWait          = 5 * time.Second
)

// Envelope is what websocket subscribers receive.
type Envelope struct {
	SessionID string          `json:"sessionId"`
	EventType string          `json:"eventType"`
	Event     json.RawMessage `json:"event"`
}

type client struct {
	conn *websocket.Conn
	send chan []byte
}

// Hub fans transcript events out to websocket subscribers. Slow subscribers
// lose events rather than stall publishing.
type Hub struct {
	clients    map[*client]bool
	broadcast  chan []byte
	register   chan *client
	unregister chan *client
	done       chan struct{}
	mu         sync.RWMutex
	metrics    *metrics.Metrics
}

// NewHub creates a hub. Call Run before serving connections.
func NewHub(m *metrics.Metrics) *Hub {
	if m == nil {
		m = metrics.DefaultMetrics
	}
	return &Hub{
		clients:    make(map[*client]bool),
		broadcast:  make(chan []byte, hubBuffer),
		register:   make(chan *client),
		unregister: make(chan *client),
		done:       make(chan struct{}),
		metrics:    m,
	}
}

// Run dispatches until ctx is done, then disconnects every subscriber.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for c := range h.clients {
				delete(h.clients, c)
				close(c.send)
			}
			h.mu.Unlock()
			return

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = true
			n := len(h.clients)
			h.mu.Unlock()
			log.Debug().Int("clients", n).Msg("Event subscriber connected")

		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
			n := len(h.clients)
			h.mu.Unlock()
			log.Debug().Int("clients", n).Msg("Event subscriber disconnected")

		case payload := <-h.broadcast:
			h.mu.RLock()
			for c := range h.clients {
				select {
				case c.send <- payload:
				default:
					h.metrics.RecordFrameDropped("websocket")
				}
			}
			h.mu.RUnlock()
		}
	}
}

// Clients returns the number of connected subscribers.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) PublishPartial(ctx context.Context, key string, event any) error {
	return h.publish(ctx, "partial", key, event)
}

func (h *Hub) PublishFinal(ctx context.Context, key string, event any) error {
	return h.publish(ctx, "final", key, event)
}

func (h *Hub) publish(ctx context.Context, eventType, key string, event any) error {
	start := time.Now()
	raw, err := json.Marshal(event)
	if err != nil {
		return err
	}
	payload, err := json.Marshal(Envelope{SessionID: key, EventType: EventType(event), Event: raw})
	if err != nil {
		return err
	}
	select {
	case h.broadcast <- payload:
	case <-h.done:
	case <-ctx.Done():
		err = ctx.Err()
	}
	h.metrics.RecordPublish(transportWebSocket, eventType, err, time.Since(start).Seconds())
	return err
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// Upgrader returns the websocket upgrader used by Serve.
func Upgrader(checkOrigin bool) websocket.Upgrader {
	u := upgrader
	if !checkOrigin {
		u.CheckOrigin = func(*http.Request) bool { return true }
	}
	return u
}

// Serve registers conn and pumps events to it until it disconnects.
func (h *Hub) Serve(conn *websocket.Conn) {
	c := &client{conn: conn, send: make(chan []byte, clientBuffer)}
	select {
	case h.register <- c:
	case <-h.done:
		conn.Close()
		return
	}

	go func() {
		defer func() {
			select {
			case h.unregister <- c:
			case <-h.done:
			}
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	defer conn.Close()
	for payload := range c.send {
		conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			log.Debug().Err(err).Msg("Event subscriber write failed")
			return
		}
	}
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}
