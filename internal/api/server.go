// Package api exposes the debug HTTP surface of the capture engine: session
// state, source enumeration, and the live debug timeline. It is read-only
// and never required for recording correctness.
package api

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/clipforge/capture/internal/bridge"
	"github.com/clipforge/capture/internal/config"
	"github.com/clipforge/capture/internal/logger"
	"github.com/clipforge/capture/internal/recorder"
	"github.com/clipforge/capture/internal/timeline"
)

// Server represents the debug HTTP API server
type Server struct {
	router     *mux.Router
	controller *recorder.Controller
	sink       *timeline.MemorySink
	configMgr  *config.Manager
	bridge     bridge.Bridge
	upgrader   websocket.Upgrader
}

// NewServer creates a new API server
func NewServer(ctl *recorder.Controller, sink *timeline.MemorySink, configMgr *config.Manager, b bridge.Bridge) *Server {
	s := &Server{
		router:     mux.NewRouter(),
		controller: ctl,
		sink:       sink,
		configMgr:  configMgr,
		bridge:     b,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // Local debug tooling only
			},
		},
	}

	s.setupRoutes()
	return s
}

// setupRoutes configures the API routes
func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api").Subrouter()

	// Session state
	api.HandleFunc("/session", s.handleGetSession).Methods("GET")

	// Capture enumeration
	api.HandleFunc("/sources", s.handleGetSources).Methods("GET")
	api.HandleFunc("/displays", s.handleGetDisplays).Methods("GET")

	// Debug timeline
	api.HandleFunc("/timeline", s.handleGetTimeline).Methods("GET")
	api.HandleFunc("/timeline/stream", s.handleTimelineStream)

	// Configuration
	api.HandleFunc("/config", s.handleGetConfig).Methods("GET")

	// Health check
	api.HandleFunc("/health", s.handleHealth).Methods("GET")
}

// Start starts the HTTP server
func (s *Server) Start(addr string) error {
	logger.WithComponent("api").Info().Str("addr", addr).Msg("Starting debug API server")
	return http.ListenAndServe(addr, s.router)
}

// Handler returns the HTTP handler, for embedding and tests
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.controller.Snapshot())
}

func (s *Server) handleGetSources(w http.ResponseWriter, r *http.Request) {
	sources, err := s.bridge.Sources(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, sources)
}

func (s *Server) handleGetDisplays(w http.ResponseWriter, r *http.Request) {
	displays, err := s.bridge.Displays(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, displays)
}

func (s *Server) handleGetTimeline(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.sink.Events())
}

// handleTimelineStream streams live timeline events over a websocket. A slow
// client misses events rather than stalling the engine.
func (s *Server) handleTimelineStream(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.WithComponent("api").Warn().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	defer conn.Close()

	updates := s.sink.Subscribe()
	defer s.sink.Unsubscribe(updates)

	for ev := range updates {
		if err := conn.WriteJSON(ev); err != nil {
			logger.WithComponent("api").Debug().Err(err).Msg("WebSocket write failed")
			return
		}
	}
}

func (s *Server) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	cfg := s.configMgr.Get()
	writeJSON(w, cfg)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]string{
		"status": "ok",
		"state":  string(s.controller.State()),
	})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.WithComponent("api").Debug().Err(err).Msg("Response encode failed")
	}
}
