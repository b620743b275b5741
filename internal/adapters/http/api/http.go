// Package api declares HTTP contracts and route registration helpers.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/okian/perception/internal/adapters/realtime"
	"github.com/okian/perception/internal/adapters/repository"
	"github.com/okian/perception/internal/domain/model"
)

// Dependencies required by HTTP handlers. Using an interface bundle keeps
// the handler layer loosely coupled to the hub implementation.
type Dependencies interface {
	SessionCount(ctx context.Context) (int, error)
	Session(ctx context.Context, sessionID string) (realtime.SessionView, error)
	History(ctx context.Context, sessionID string) ([]model.Rating, error)
	ClearSession(ctx context.Context, sessionID string) error
}

// ArchiveReader reads archived session data. A nil reader disables the archive route.
type ArchiveReader interface {
	List(ctx context.Context, sessionID string, limit int) (*model.ArchiveExport, error)
}

// Server wires HTTP routes for health, statistics and session administration.
type Server struct {
	healthHandler   *HealthHandler
	statsHandler    *StatsHandler
	sessionsHandler *SessionsHandler
	archiveHandler  *ArchiveHandler
}

// NewServer creates a new API server with all handlers. archive may be nil.
func NewServer(deps Dependencies, statsProvider StatsProvider, archive ArchiveReader) *Server {
	return &Server{
		healthHandler:   NewHealthHandler(deps),
		statsHandler:    NewStatsHandler(statsProvider),
		sessionsHandler: NewSessionsHandler(deps),
		archiveHandler:  NewArchiveHandler(archive),
	}
}

// Register attaches all HTTP routes to mux.
func (s *Server) Register(mux *http.ServeMux) {
	if mux == nil {
		panic("mux is nil")
	}
	mux.HandleFunc("GET /health", MetricsMiddleware(s.healthHandler.HandleHealth, "health"))
	mux.HandleFunc("GET /metrics", MetricsMiddleware(s.healthHandler.HandleMetrics, "metrics"))
	mux.HandleFunc("GET /stats", MetricsMiddleware(s.statsHandler.HandleStats, "stats"))
	mux.HandleFunc("GET /sessions/{id}", MetricsMiddleware(s.sessionsHandler.HandleGetSession, "session"))
	mux.HandleFunc("DELETE /sessions/{id}", MetricsMiddleware(s.sessionsHandler.HandleClearSession, "session"))
	mux.HandleFunc("GET /sessions/{id}/history", MetricsMiddleware(s.sessionsHandler.HandleGetHistory, "history"))
	mux.HandleFunc("GET /sessions/{id}/archive", MetricsMiddleware(s.archiveHandler.HandleGetArchive, "archive"))
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code string, err error) {
	msg := http.StatusText(status)
	if err != nil {
		msg = err.Error()
	}
	writeJSON(w, status, errorResponse{Code: code, Message: msg})
}

// writeHubError translates hub and registry errors into responses.
func writeHubError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, repository.ErrSessionNotFound):
		writeError(w, http.StatusNotFound, "session_not_found", err)
	case errors.Is(err, realtime.ErrStopped):
		writeError(w, http.StatusServiceUnavailable, "unavailable", err)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusServiceUnavailable, "timeout", err)
	default:
		writeError(w, http.StatusInternalServerError, "internal", err)
	}
}
