// Package api exposes the engine over HTTP: event submission, actor and
// statistics queries, alert/pattern/session listings, and on-demand mining.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kestrelsec/kestrel/internal/engine"
	"github.com/kestrelsec/kestrel/internal/model"
	"github.com/kestrelsec/kestrel/internal/store"
)

// Server routes HTTP requests to the engine.
type Server struct {
	engine   *engine.Engine
	natsConn *nats.Conn
	logger   *slog.Logger
	router   *mux.Router
}

// New creates the API server and wires its routes. natsConn may be nil
// when the service runs without a broker; readiness then checks the store
// only.
func New(eng *engine.Engine, natsConn *nats.Conn, logger *slog.Logger) *Server {
	s := &Server{
		engine:   eng,
		natsConn: natsConn,
		logger:   logger,
		router:   mux.NewRouter(),
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.HandleFunc("/events", s.handleSubmitEvent).Methods("POST")
	s.router.HandleFunc("/actors/{id}/summary", s.handleActorSummary).Methods("GET")
	s.router.HandleFunc("/statistics", s.handleStatistics).Methods("GET")
	s.router.HandleFunc("/alerts", s.handleAlerts).Methods("GET")
	s.router.HandleFunc("/patterns", s.handlePatterns).Methods("GET")
	s.router.HandleFunc("/sessions", s.handleSessions).Methods("GET")
	s.router.HandleFunc("/mine", s.handleMine).Methods("POST")

	s.router.Handle("/metrics", promhttp.Handler()).Methods("GET")
	s.router.HandleFunc("/healthz", s.handleHealth).Methods("GET")
	s.router.HandleFunc("/readyz", s.handleReady).Methods("GET")
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) handleSubmitEvent(w http.ResponseWriter, r *http.Request) {
	var ev model.ActivityEvent
	if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
		s.writeJSON(w, http.StatusBadRequest, map[string]any{
			"accepted": false,
			"reason":   "malformed JSON: " + err.Error(),
		})
		return
	}

	accepted, reason, err := s.engine.SubmitEvent(r.Context(), &ev)
	if err != nil {
		s.logger.Error("Event submission failed", "actor_id", ev.ActorID, "error", err)
		s.writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"accepted": false,
			"reason":   reason,
		})
		return
	}
	if !accepted {
		s.writeJSON(w, http.StatusBadRequest, map[string]any{
			"accepted": false,
			"reason":   reason,
		})
		return
	}

	s.writeJSON(w, http.StatusAccepted, map[string]any{
		"accepted": true,
		"id":       ev.ID,
	})
}

func (s *Server) handleActorSummary(w http.ResponseWriter, r *http.Request) {
	actorID := mux.Vars(r)["id"]

	summary, err := s.engine.GetActorSummary(r.Context(), actorID)
	if errors.Is(err, store.ErrNotFound) {
		http.Error(w, "actor not found", http.StatusNotFound)
		return
	}
	if err != nil {
		s.logger.Error("Actor summary failed", "actor_id", actorID, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	s.writeJSON(w, http.StatusOK, summary)
}

func (s *Server) handleStatistics(w http.ResponseWriter, r *http.Request) {
	stats, err := s.engine.GetStatistics(r.Context())
	if err != nil {
		s.logger.Error("Statistics query failed", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	s.writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleAlerts(w http.ResponseWriter, r *http.Request) {
	filter := store.AlertFilter{
		ActorID: r.URL.Query().Get("actor_id"),
	}
	if raw := r.URL.Query().Get("min_severity"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > 10 {
			http.Error(w, "min_severity must be an integer between 1 and 10", http.StatusBadRequest)
			return
		}
		filter.MinSeverity = n
	}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			http.Error(w, "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		filter.Limit = n
	}

	alerts, err := s.engine.Alerts(r.Context(), filter)
	if err != nil {
		s.logger.Error("Alert listing failed", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"alerts":    alerts,
		"count":     len(alerts),
		"timestamp": time.Now().UTC(),
	})
}

func (s *Server) handlePatterns(w http.ResponseWriter, r *http.Request) {
	patterns, err := s.engine.Patterns(r.Context(), r.URL.Query().Get("actor_id"))
	if err != nil {
		s.logger.Error("Pattern listing failed", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"patterns": patterns,
		"count":    len(patterns),
	})
}

func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := s.engine.Sessions(r.Context(), r.URL.Query().Get("actor_id"))
	if err != nil {
		s.logger.Error("Session listing failed", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"sessions": sessions,
		"count":    len(sessions),
	})
}

func (s *Server) handleMine(w http.ResponseWriter, r *http.Request) {
	patterns, err := s.engine.MineNow(r.Context(), r.URL.Query().Get("actor_id"))
	if err != nil {
		s.logger.Error("On-demand mining failed", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"patterns": patterns,
		"count":    len(patterns),
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
	})
}

// handleReady reports ready only when the store answers queries and, if a
// broker is configured, the connection is up.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if !s.engine.Healthy(r.Context()) {
		s.writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not ready",
			"reason": "store unavailable",
		})
		return
	}
	if s.natsConn != nil && !s.natsConn.IsConnected() {
		s.writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not ready",
			"reason": "NATS disconnected",
		})
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("Failed to encode response", "error", err)
	}
}
