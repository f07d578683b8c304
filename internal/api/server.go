// Package api exposes the daemon's observable state and a chat
// endpoint over HTTP, plus a WebSocket stream of bus snapshots for
// dashboards.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Pl4yer-ONE/jarvis-commander/internal/brain"
	"github.com/Pl4yer-ONE/jarvis-commander/internal/buildinfo"
	"github.com/Pl4yer-ONE/jarvis-commander/internal/freetalk"
	"github.com/Pl4yer-ONE/jarvis-commander/internal/speech"
	"github.com/Pl4yer-ONE/jarvis-commander/internal/statebus"
	"github.com/Pl4yer-ONE/jarvis-commander/internal/thought"
)

// snapshotInterval is how often the WebSocket stream pushes a full
// state snapshot.
const snapshotInterval = 3 * time.Second

// Server serves the observe API.
type Server struct {
	bus      *statebus.Bus
	brain    *brain.Brain
	thoughts *thought.Buffer
	freetalk *freetalk.Controller
	speaker  speech.Speaker
	logger   *slog.Logger

	upgrader websocket.Upgrader
	httpSrv  *http.Server
}

// WithSpeaker makes chat replies also play through the speaker,
// sentence by sentence as the response streams.
func (s *Server) WithSpeaker(speaker speech.Speaker) *Server {
	s.speaker = speaker
	return s
}

// New creates a server. brain, thoughts and freetalk may be nil;
// their endpoints then report unavailable.
func New(bus *statebus.Bus, b *brain.Brain, thoughts *thought.Buffer, ft *freetalk.Controller, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		bus:      bus,
		brain:    b,
		thoughts: thoughts,
		freetalk: ft,
		logger:   logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			// Local dashboard; access control is the listen address,
			// not the Origin header.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// Handler returns the route mux, usable directly in tests.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/health", s.handleHealth)
	mux.HandleFunc("GET /api/state", s.handleState)
	mux.HandleFunc("GET /api/thoughts", s.handleThoughts)
	mux.HandleFunc("POST /api/chat", s.handleChat)
	mux.HandleFunc("GET /api/events", s.handleEvents)
	return mux
}

// ListenAndServe serves until ctx is canceled, then drains.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	s.httpSrv = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("observe API listening", "addr", addr)
		errCh <- s.httpSrv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.httpSrv.Shutdown(shutdownCtx)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"build":  buildinfo.Info(),
		"uptime": buildinfo.Uptime().Round(time.Second).String(),
	})
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"state": s.bus.GetAll(),
	})
}

func (s *Server) handleThoughts(w http.ResponseWriter, r *http.Request) {
	if s.thoughts == nil {
		writeError(w, http.StatusServiceUnavailable, "thought engine disabled")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"thoughts": s.thoughts.Recent(20),
		"total":    s.thoughts.Len(),
	})
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	if s.brain == nil {
		writeError(w, http.StatusServiceUnavailable, "brain unavailable")
		return
	}

	var req struct {
		Message string `json:"message"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Message == "" {
		writeError(w, http.StatusBadRequest, "message is required")
		return
	}

	// Max should not talk over his own answer.
	if s.freetalk != nil {
		s.freetalk.Pause()
		defer s.freetalk.Resume()
	}

	var reply string
	if s.speaker != nil {
		flusher := speech.NewSentenceFlusher(s.speaker)
		reply = s.brain.ThinkStream(r.Context(), req.Message, flusher.Write)
		flusher.Flush()
	} else {
		reply = s.brain.Think(r.Context(), req.Message)
	}
	writeJSON(w, http.StatusOK, map[string]any{"reply": reply})
}

// handleEvents upgrades to WebSocket and pushes full bus snapshots on
// an interval until the client goes away.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	// Reads only observe close frames.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(snapshotInterval)
	defer ticker.Stop()

	for {
		snapshot := map[string]any{
			"at":    time.Now().Format(time.RFC3339),
			"state": s.bus.GetAll(),
		}
		conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
		if err := conn.WriteJSON(snapshot); err != nil {
			s.logger.Debug("websocket client gone", "error", err)
			return
		}
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{"error": msg})
}

// Addr formats host and port into a listen address.
func Addr(host string, port int) string {
	return fmt.Sprintf("%s:%d", host, port)
}
