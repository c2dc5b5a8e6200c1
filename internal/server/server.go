// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/jeranaias/offchat/internal/lifecycle"
	"github.com/jeranaias/offchat/internal/model"
	"github.com/jeranaias/offchat/internal/observe"
	"github.com/jeranaias/offchat/internal/tasks"
	"github.com/jeranaias/offchat/internal/telemetry"
	"github.com/jeranaias/offchat/internal/transcript"
	"github.com/jeranaias/offchat/internal/voice"
)

const (
	// MaxRequestBodySize caps JSON request bodies.
	MaxRequestBodySize = 1 << 20

	// MaxMessageLength caps a single user message.
	MaxMessageLength = 32 * 1024
)

// Backend is the conversation the server exposes. *session.Session
// satisfies it.
type Backend interface {
	Transcript() *observe.Value[transcript.Snapshot]
	ModelStatus() *observe.Value[lifecycle.StatusUpdate]
	SpeechStatus() *observe.Value[lifecycle.StatusUpdate]
	SpeechReady() *observe.Value[bool]
	Advisory() *observe.Value[string]
	VoiceState() *observe.Value[voice.State]

	Settings() model.Settings
	UpdateSettings(model.Settings) error
	ModelInfo() lifecycle.ModelInfo
	SpeechModelID() string
	Usage() telemetry.SessionUsage
	Tasks() (running, finished []*tasks.Task)

	SendUserInput(text string, attachments []string) bool
	PressVoice()
	ClearMessages()
	AcknowledgeError()
}

// Options configure a Server.
type Options struct {
	// AllowedOrigins extends the default local CORS and websocket origins.
	AllowedOrigins []string

	// RateLimiter defaults to DefaultRateLimiter.
	RateLimiter *RateLimiter

	Logger zerolog.Logger
}

// =============================================================================
// SERVER
// =============================================================================

// Server bridges a Backend to HTTP clients.
type Server struct {
	addr    string
	backend Backend
	cors    *CORSConfig
	limiter *RateLimiter
	log     zerolog.Logger
	mux     *http.ServeMux
	started time.Time

	mu     sync.Mutex
	server *http.Server
	conns  sync.WaitGroup
	stop   chan struct{}
}

// New creates a server for backend listening on addr.
func New(addr string, backend Backend, opts Options) *Server {
	cors := DefaultCORSConfig()
	cors.AllowedOrigins = append(cors.AllowedOrigins, opts.AllowedOrigins...)

	limiter := opts.RateLimiter
	if limiter == nil {
		limiter = DefaultRateLimiter()
	}

	s := &Server{
		addr:    addr,
		backend: backend,
		cors:    cors,
		limiter: limiter,
		log:     opts.Logger.With().Str("component", "server").Logger(),
		mux:     http.NewServeMux(),
		started: time.Now(),
		stop:    make(chan struct{}),
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("GET /api/status", s.handleStatus)
	s.mux.HandleFunc("GET /api/stats", s.handleStats)
	s.mux.HandleFunc("GET /api/transcript", s.handleTranscript)
	s.mux.HandleFunc("POST /api/messages", s.handleMessages)
	s.mux.HandleFunc("POST /api/voice", s.handleVoice)
	s.mux.HandleFunc("GET /api/settings", s.handleGetSettings)
	s.mux.HandleFunc("PUT /api/settings", s.handlePutSettings)
	s.mux.HandleFunc("POST /api/clear", s.handleClear)
	s.mux.HandleFunc("POST /api/advisory/ack", s.handleAck)
	s.mux.HandleFunc("GET /ws", s.handleWebsocket)
}

// Handler returns the routed handler wrapped in the middleware chain.
func (s *Server) Handler() http.Handler {
	return Chain(
		RecoveryMiddleware(s.log),
		SecurityHeadersMiddleware(),
		LoggingMiddleware(s.log),
		CORSMiddleware(s.cors),
		RateLimitMiddleware(s.limiter),
	)(s.mux)
}

// ListenAndServe listens on the configured address.
func (s *Server) ListenAndServe() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.addr, err)
	}
	return s.Serve(ln)
}

// Serve accepts connections on ln until Shutdown.
func (s *Server) Serve(ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	s.mu.Lock()
	s.server = srv
	s.mu.Unlock()

	s.log.Info().Str("addr", ln.Addr().String()).Msg("server listening")
	err := srv.Serve(ln)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown stops accepting requests, closes websocket streams and waits
// for handlers to finish, bounded by ctx.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	srv := s.server
	select {
	case <-s.stop:
	default:
		close(s.stop)
	}
	s.mu.Unlock()

	s.log.Info().Msg("server shutting down")
	var err error
	if srv != nil {
		err = srv.Shutdown(ctx)
	}

	done := make(chan struct{})
	go func() {
		s.conns.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		if err == nil {
			err = ctx.Err()
		}
	}
	return err
}

// =============================================================================
// HANDLERS
// =============================================================================

// StatusResponse is the GET /api/status body.
type StatusResponse struct {
	Model         lifecycle.ModelInfo    `json:"model"`
	ModelStatus   lifecycle.StatusUpdate `json:"model_status"`
	SpeechStatus  lifecycle.StatusUpdate `json:"speech_status"`
	SpeechModelID string                 `json:"speech_model_id"`
	SpeechReady   bool                   `json:"speech_ready"`
	Voice         voice.State            `json:"voice"`
	Advisory      string                 `json:"advisory"`
	Stats         StatsResponse          `json:"stats"`
	Tasks         []TaskInfo             `json:"tasks"`
}

// TaskInfo describes one background task: engine loads, replies,
// captures and archive writes.
type TaskInfo struct {
	ID          string `json:"id"`
	Description string `json:"description"`
	Status      string `json:"status"`
	Progress    int    `json:"progress"`
	DurationMS  int64  `json:"duration_ms"`
	Error       string `json:"error,omitempty"`
}

func (s *Server) tasks() []TaskInfo {
	running, finished := s.backend.Tasks()
	out := make([]TaskInfo, 0, len(running)+len(finished))
	for _, t := range append(running, finished...) {
		info := TaskInfo{
			ID:          t.ID,
			Description: t.Description,
			Status:      t.Status().String(),
			Progress:    t.Progress(),
			DurationMS:  t.Duration().Milliseconds(),
		}
		if err := t.Err(); err != nil {
			info.Error = err.Error()
		}
		out = append(out, info)
	}
	return out
}

// StatsResponse summarizes usage for the current session.
type StatsResponse struct {
	SessionID         string  `json:"session_id"`
	Uptime            string  `json:"uptime"`
	Generations       int     `json:"generations"`
	FailedGenerations int     `json:"failed_generations"`
	Fragments         int     `json:"fragments"`
	AverageMillis     int64   `json:"average_generation_ms"`
	Transcriptions    int     `json:"transcriptions"`
	FailedTranscripts int     `json:"failed_transcriptions"`
	GenerationSeconds float64 `json:"generation_seconds"`
}

func (s *Server) stats() StatsResponse {
	u := s.backend.Usage()
	return StatsResponse{
		SessionID:         u.ID,
		Uptime:            time.Since(s.started).Round(time.Second).String(),
		Generations:       u.Generations,
		FailedGenerations: u.FailedGenerations,
		Fragments:         u.Fragments,
		AverageMillis:     u.AverageDuration().Milliseconds(),
		Transcriptions:    u.Transcriptions,
		FailedTranscripts: u.FailedTranscriptions,
		GenerationSeconds: u.GenerationTime.Seconds(),
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"model":  s.backend.ModelStatus().Get().Status,
		"speech": s.backend.SpeechStatus().Get().Status,
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, StatusResponse{
		Model:         s.backend.ModelInfo(),
		ModelStatus:   s.backend.ModelStatus().Get(),
		SpeechStatus:  s.backend.SpeechStatus().Get(),
		SpeechModelID: s.backend.SpeechModelID(),
		SpeechReady:   s.backend.SpeechReady().Get(),
		Voice:         s.backend.VoiceState().Get(),
		Advisory:      s.backend.Advisory().Get(),
		Stats:         s.stats(),
		Tasks:         s.tasks(),
	})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.stats())
}

func (s *Server) handleTranscript(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.backend.Transcript().Get())
}

// SendRequest is the POST /api/messages body.
type SendRequest struct {
	Text        string   `json:"text"`
	Attachments []string `json:"attachments,omitempty"`
}

func (s *Server) handleMessages(w http.ResponseWriter, r *http.Request) {
	var req SendRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if err := validateSend(req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if !s.backend.SendUserInput(req.Text, req.Attachments) {
		writeError(w, http.StatusConflict, s.backend.Advisory().Get())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]bool{"accepted": true})
}

func validateSend(req SendRequest) error {
	if strings.TrimSpace(req.Text) == "" && len(req.Attachments) == 0 {
		return errors.New("text or attachments required")
	}
	if len(req.Text) > MaxMessageLength {
		return fmt.Errorf("message exceeds %d bytes", MaxMessageLength)
	}
	return nil
}

func (s *Server) handleVoice(w http.ResponseWriter, r *http.Request) {
	s.backend.PressVoice()
	writeJSON(w, http.StatusOK, map[string]voice.State{"voice": s.backend.VoiceState().Get()})
}

func (s *Server) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.backend.Settings())
}

// handlePutSettings applies a partial update: omitted fields keep their
// current values.
func (s *Server) handlePutSettings(w http.ResponseWriter, r *http.Request) {
	next := s.backend.Settings()
	if !decodeBody(w, r, &next) {
		return
	}
	if err := s.backend.UpdateSettings(next); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, s.backend.Settings())
}

func (s *Server) handleClear(w http.ResponseWriter, r *http.Request) {
	s.backend.ClearMessages()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleAck(w http.ResponseWriter, r *http.Request) {
	s.backend.AcknowledgeError()
	w.WriteHeader(http.StatusNoContent)
}

// =============================================================================
// HELPERS
// =============================================================================

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	body := http.MaxBytesReader(w, r.Body, MaxRequestBodySize)
	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		var tooBig *http.MaxBytesError
		switch {
		case errors.As(err, &tooBig):
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
		case errors.Is(err, io.EOF):
			writeError(w, http.StatusBadRequest, "empty request body")
		default:
			writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		}
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// ErrorResponse is the body of every non-2xx reply.
type ErrorResponse struct {
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, ErrorResponse{Error: message})
}
