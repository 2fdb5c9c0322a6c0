package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"speech-capture-service/internal/app"
	"speech-capture-service/internal/events"
	"speech-capture-service/internal/service/session"
	"speech-capture-service/internal/service/sink"
	"speech-capture-service/internal/store"
)

const (
	defaultWait = 30 * time.Second
	maxWait     = 5 * time.Minute
)

type handlers struct {
	app *app.Application
	log zerolog.Logger
}

type startRequest struct {
	PartialResults *bool  `json:"partialResults,omitempty"`
	Language       string `json:"language,omitempty"`
}

type errorResponse struct {
	Error   string        `json:"error"`
	Session *session.Info `json:"session,omitempty"`
}

type encodingBody struct {
	Format     string `json:"format"`
	SampleRate int    `json:"sampleRate"`
	Channels   int    `json:"channels"`
	Quality    string `json:"quality"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, errorResponse{Error: err.Error()})
}

func (h *handlers) controller(w http.ResponseWriter) (*session.Controller, bool) {
	if h.app.Controller == nil {
		writeError(w, http.StatusServiceUnavailable, errors.New("service not started"))
		return nil, false
	}
	return h.app.Controller, true
}

func (h *handlers) readiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	for _, check := range h.app.ReadinessChecks() {
		if err := check(ctx); err != nil {
			http.Error(w, "not ready: "+err.Error(), http.StatusServiceUnavailable)
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}

// startSession begins recording. Failures the controller delivers
// synchronously are reported in the response as well as to subscribers.
func (h *handlers) startSession(w http.ResponseWriter, r *http.Request) {
	ctl, ok := h.controller(w)
	if !ok {
		return
	}

	var req startRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	var opts []session.StartOption
	if req.PartialResults != nil {
		opts = append(opts, session.WithPartialResults(*req.PartialResults))
	}
	opts = append(opts, session.WithLanguage(req.Language))

	reqLog := h.log.With().Str("httpRequestId", middleware.GetReqID(r.Context())).Logger()
	completion := func(res session.TranscriptResult, err error) {
		if err != nil {
			reqLog.Warn().Err(err).Msg("Session ended with error")
			return
		}
		reqLog.Info().
			Str("audioPath", res.AudioPath).
			Float64("confidence", res.Confidence).
			Int("textLength", len(res.Text)).
			Msg("Session delivered transcript")
	}

	s, err := ctl.Start(r.Context(), completion, opts...)
	if err != nil {
		if errors.Is(err, session.ErrAlreadyRecording) {
			writeError(w, http.StatusConflict, err)
			return
		}
		writeError(w, http.StatusBadRequest, err)
		return
	}

	info := s.Info()
	if s.State() == session.StateFailed {
		status := http.StatusServiceUnavailable
		serr := s.Err()
		if errors.Is(serr, session.ErrMicrophoneDenied) || errors.Is(serr, session.ErrRecognitionDenied) {
			status = http.StatusForbidden
		}
		writeJSON(w, status, errorResponse{Error: info.Error, Session: &info})
		return
	}
	writeJSON(w, http.StatusCreated, info)
}

func (h *handlers) currentSession(w http.ResponseWriter, _ *http.Request) {
	ctl, ok := h.controller(w)
	if !ok {
		return
	}
	s := ctl.Current()
	if s == nil {
		writeError(w, http.StatusNotFound, errors.New("no session"))
		return
	}
	writeJSON(w, http.StatusOK, s.Info())
}

func (h *handlers) stopSession(w http.ResponseWriter, _ *http.Request) {
	ctl, ok := h.controller(w)
	if !ok {
		return
	}
	s := ctl.Current()
	if s == nil {
		writeError(w, http.StatusNotFound, errors.New("no session"))
		return
	}
	s.Stop()
	writeJSON(w, http.StatusAccepted, s.Info())
}

func (h *handlers) abortSession(w http.ResponseWriter, _ *http.Request) {
	ctl, ok := h.controller(w)
	if !ok {
		return
	}
	s := ctl.Current()
	if s == nil {
		writeError(w, http.StatusNotFound, errors.New("no session"))
		return
	}
	s.Abort()
	writeJSON(w, http.StatusOK, s.Info())
}

// waitSession blocks until the current session ends or the timeout passes.
func (h *handlers) waitSession(w http.ResponseWriter, r *http.Request) {
	ctl, ok := h.controller(w)
	if !ok {
		return
	}
	timeout := defaultWait
	if v := r.URL.Query().Get("timeout"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			writeError(w, http.StatusBadRequest, errors.New("invalid timeout"))
			return
		}
		timeout = min(d, maxWait)
	}
	s := ctl.Current()
	if s == nil {
		writeError(w, http.StatusNotFound, errors.New("no session"))
		return
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-s.Done():
		writeJSON(w, http.StatusOK, s.Info())
	case <-timer.C:
		writeJSON(w, http.StatusRequestTimeout, errorResponse{Error: "session still active"})
	case <-r.Context().Done():
	}
}

func (h *handlers) amplitude(w http.ResponseWriter, _ *http.Request) {
	ctl, ok := h.controller(w)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"level": ctl.CurrentAmplitude(),
		"state": ctl.State().String(),
	})
}

func (h *handlers) getEncoding(w http.ResponseWriter, _ *http.Request) {
	ctl, ok := h.controller(w)
	if !ok {
		return
	}
	enc := ctl.Encoding()
	writeJSON(w, http.StatusOK, encodingBody{
		Format:     string(enc.Format),
		SampleRate: enc.SampleRate,
		Channels:   enc.Channels,
		Quality:    enc.Quality.String(),
	})
}

func (h *handlers) putEncoding(w http.ResponseWriter, r *http.Request) {
	ctl, ok := h.controller(w)
	if !ok {
		return
	}
	var body encodingBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	format, err := sink.ParseFormat(body.Format)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	quality, err := sink.ParseQuality(body.Quality)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	enc := sink.EncodingConfig{
		Format:     format,
		SampleRate: body.SampleRate,
		Channels:   body.Channels,
		Quality:    quality,
	}
	if err := ctl.SetEncoding(enc); err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, session.ErrEncodingLocked) {
			status = http.StatusConflict
		}
		writeError(w, status, err)
		return
	}
	h.log.Info().
		Str("format", string(enc.Format)).
		Int("sampleRate", enc.SampleRate).
		Int("channels", enc.Channels).
		Str("quality", enc.Quality.String()).
		Msg("Recording settings changed")
	h.getEncoding(w, r)
}

func (h *handlers) listSessions(w http.ResponseWriter, r *http.Request) {
	if h.app.Journal == nil {
		writeError(w, http.StatusServiceUnavailable, errors.New("session journal disabled"))
		return
	}
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, errors.New("invalid limit"))
			return
		}
		limit = n
	}
	recs, err := h.app.Journal.ListSessions(r.Context(), limit)
	if err != nil {
		h.log.Error().Err(err).Msg("Listing sessions failed")
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, recs)
}

func (h *handlers) getSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if ctl := h.app.Controller; ctl != nil {
		if s := ctl.Current(); s != nil && s.ID() == id && !s.State().Terminal() {
			writeJSON(w, http.StatusOK, s.Info())
			return
		}
	}
	if h.app.Journal == nil {
		writeError(w, http.StatusServiceUnavailable, errors.New("session journal disabled"))
		return
	}
	rec, err := h.app.Journal.GetSession(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, err)
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// events upgrades to a websocket that receives every transcript event.
func (h *handlers) subscribe(w http.ResponseWriter, r *http.Request) {
	if h.app.Hub == nil {
		writeError(w, http.StatusServiceUnavailable, errors.New("event hub not running"))
		return
	}
	upgrader := events.Upgrader(false)
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Debug().Err(err).Msg("Websocket upgrade failed")
		return
	}
	h.app.Hub.Serve(conn)
}
