package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/health/grpc_health_v1"

	"speech-capture-service/internal/events"
	"speech-capture-service/internal/service/session"
)

const amplitudeInterval = 500 * time.Millisecond

func main() {
	serverURL := flag.String("server", "http://localhost:8080", "HTTP control API base URL")
	grpcAddr := flag.String("grpc", "localhost:50051", "gRPC health address; empty skips the check")
	duration := flag.Duration("duration", 5*time.Second, "how long to record before stopping")
	partials := flag.Bool("partials", true, "request partial transcripts")
	language := flag.String("language", "", "recognition language")
	flag.Parse()

	if *grpcAddr != "" {
		checkHealth(*grpcAddr)
	}

	base, err := url.Parse(*serverURL)
	if err != nil {
		log.Fatalf("Invalid server URL: %v", err)
	}

	// Subscribe before starting so no event is missed
	wsURL := *base
	wsURL.Scheme = strings.Replace(base.Scheme, "http", "ws", 1)
	wsURL.Path = "/v1/events"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL.String(), nil)
	if err != nil {
		log.Fatalf("Failed to subscribe: %v", err)
	}
	defer conn.Close()
	go readEvents(conn)

	body, _ := json.Marshal(map[string]any{"partialResults": *partials, "language": *language})
	var info session.Info
	status := call(http.MethodPost, base.JoinPath("/v1/sessions").String(), body, &info)
	if status != http.StatusCreated {
		log.Fatalf("Start failed (%d): %s", status, info.Error)
	}
	log.Printf("Recording: sessionId=%s audioPath=%s", info.ID, info.AudioPath)

	deadline := time.After(*duration)
	ticker := time.NewTicker(amplitudeInterval)
	defer ticker.Stop()
recording:
	for {
		select {
		case <-ticker.C:
			var amp struct {
				Level float64 `json:"level"`
				State string  `json:"state"`
			}
			call(http.MethodGet, base.JoinPath("/v1/amplitude").String(), nil, &amp)
			log.Printf("Input level %5.1f %s", amp.Level, strings.Repeat("|", int(amp.Level/5)))
			if amp.State != "recording" {
				break recording
			}
		case <-deadline:
			break recording
		}
	}

	log.Println("Stopping, waiting for final transcript...")
	call(http.MethodPost, base.JoinPath("/v1/sessions/current/stop").String(), nil, nil)

	waitURL := base.JoinPath("/v1/sessions/current/wait")
	waitURL.RawQuery = "timeout=60s"
	status = call(http.MethodGet, waitURL.String(), nil, &info)
	if status != http.StatusOK {
		log.Fatalf("Session did not finish (%d)", status)
	}
	if info.Error != "" {
		log.Fatalf("Session failed: %s", info.Error)
	}
	log.Printf("Session completed: state=%s bytes=%d transcript=%q", info.State, info.AudioBytes, info.Transcript)
}

func checkHealth(addr string) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		log.Fatalf("Failed to connect: %v", err)
	}
	defer conn.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	resp, err := grpc_health_v1.NewHealthClient(conn).Check(ctx, &grpc_health_v1.HealthCheckRequest{})
	if err != nil {
		log.Fatalf("Health check failed: %v", err)
	}
	log.Printf("Server health: %s", resp.GetStatus())
}

func readEvents(conn *websocket.Conn) {
	for {
		var env events.Envelope
		if err := conn.ReadJSON(&env); err != nil {
			return
		}
		var ev struct {
			Text  string `json:"text"`
			Error string `json:"error"`
		}
		_ = json.Unmarshal(env.Event, &ev)
		if ev.Error != "" {
			log.Printf("[%s] %s", env.EventType, ev.Error)
			continue
		}
		log.Printf("[%s] %s", env.EventType, ev.Text)
	}
}

// call sends one request and decodes the JSON response into out, if given.
func call(method, target string, body []byte, out any) int {
	req, err := http.NewRequest(method, target, bytes.NewReader(body))
	if err != nil {
		log.Fatalf("Build request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		log.Fatalf("%s %s: %v", method, target, err)
	}
	defer resp.Body.Close()
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			log.Printf("Decode %s: %v", target, err)
		}
	}
	return resp.StatusCode
}
