package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/dohr-michael/smoothstream/internal/chunks"
	"github.com/dohr-michael/smoothstream/internal/events"
	"github.com/dohr-michael/smoothstream/internal/gateway/ws"
	"github.com/dohr-michael/smoothstream/internal/smooth"
	"github.com/dohr-michael/smoothstream/internal/storage"
)

// maxSmoothBody caps the request body of /api/smooth.
const maxSmoothBody = 1 << 20

// Server is the smoothstream gateway HTTP server.
type Server struct {
	httpServer *http.Server
	hub        *ws.Hub
	bus        *events.Bus
	recorder   *storage.SQLiteRecorder
	host       string
	port       int
}

// NewServer creates a new gateway server. factory builds the smoothing stage
// of every WebSocket connection.
func NewServer(bus *events.Bus, factory smooth.Factory, host string, port int) *Server {
	hub := ws.NewHub(bus, factory)

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)

	s := &Server{
		hub:  hub,
		bus:  bus,
		host: host,
		port: port,
	}

	r.Get("/api/health", s.handleHealth)
	r.Get("/api/ws", hub.ServeWS)
	r.Get("/api/events", s.handleEvents)
	r.Post("/api/smooth", s.handleSmooth)
	r.Get("/api/sessions/{id}/transcript", s.handleTranscript)

	s.httpServer = &http.Server{
		Addr:    fmt.Sprintf("%s:%d", host, port),
		Handler: r,
	}

	return s
}

// SetRecorder enables the transcript endpoint.
func (s *Server) SetRecorder(rec *storage.SQLiteRecorder) {
	s.recorder = rec
}

// Hub returns the WebSocket hub.
func (s *Server) Hub() *ws.Hub {
	return s.hub
}

// Addr returns the configured listen address.
func (s *Server) Addr() string {
	return s.httpServer.Addr
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start begins listening. It blocks until the server is stopped.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return err
	}
	slog.Info("smoothstream gateway listening", "addr", ln.Addr().String())
	return s.httpServer.Serve(ln)
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.hub.Close()
	return s.httpServer.Shutdown(ctx)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
		limit = n
	}

	history := s.bus.History(limit)

	type eventJSON struct {
		ID        string             `json:"id"`
		SessionID string             `json:"session_id,omitempty"`
		Type      string             `json:"type"`
		Timestamp string             `json:"timestamp"`
		Source    events.EventSource `json:"source"`
		Payload   map[string]any     `json:"payload"`
	}

	result := make([]eventJSON, len(history))
	for i, e := range history {
		result[i] = eventJSON{
			ID:        e.ID,
			SessionID: e.SessionID,
			Type:      string(e.Type),
			Timestamp: e.Timestamp.Format(time.RFC3339Nano),
			Source:    e.Source,
			Payload:   e.Payload,
		}
	}

	writeJSON(w, http.StatusOK, result)
}

type smoothRequest struct {
	Text     string `json:"text"`
	Chunking string `json:"chunking,omitempty"`
}

type smoothResponse struct {
	Pieces []string `json:"pieces"`
}

// handleSmooth splits a whole text the way a stage would emit it, without
// pacing. The trailing remainder is flushed as the last piece.
func (s *Server) handleSmooth(w http.ResponseWriter, r *http.Request) {
	var req smoothRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxSmoothBody)).Decode(&req); err != nil {
		http.Error(w, "invalid body: "+err.Error(), http.StatusBadRequest)
		return
	}
	mode, err := smooth.ParseChunking(req.Chunking)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	t := smooth.New(smooth.WithDelay(0), smooth.WithChunking(mode))
	out, err := smooth.Collect(r.Context(), t, []chunks.Chunk{
		chunks.TextDelta{Text: req.Text},
		chunks.StepFinish{},
	})
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	resp := smoothResponse{Pieces: []string{}}
	for _, c := range out {
		if d, ok := c.(chunks.TextDelta); ok {
			resp.Pieces = append(resp.Pieces, d.Text)
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleTranscript(w http.ResponseWriter, r *http.Request) {
	if s.recorder == nil {
		http.Error(w, "recording not enabled", http.StatusServiceUnavailable)
		return
	}

	sessionID := chi.URLParam(r, "id")
	pieces, err := s.recorder.Pieces(r.Context(), sessionID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	text, err := s.recorder.Transcript(r.Context(), sessionID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"session_id": sessionID,
		"pieces":     len(pieces),
		"text":       text,
	})
}
