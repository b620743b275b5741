package api

import (
	"net/http"

	"github.com/okian/perception/internal/domain/model"
)

// SessionsHandler exposes read and admin operations over tracked sessions.
type SessionsHandler struct {
	deps Dependencies
}

// NewSessionsHandler creates a new sessions handler.
func NewSessionsHandler(deps Dependencies) *SessionsHandler {
	return &SessionsHandler{deps: deps}
}

type historyResponse struct {
	SessionID string         `json:"sessionId"`
	History   []model.Rating `json:"history"`
}

// HandleGetSession handles GET /sessions/{id}.
func (h *SessionsHandler) HandleGetSession(w http.ResponseWriter, r *http.Request) {
	view, err := h.deps.Session(r.Context(), r.PathValue("id"))
	if err != nil {
		writeHubError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// HandleGetHistory handles GET /sessions/{id}/history.
func (h *SessionsHandler) HandleGetHistory(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	history, err := h.deps.History(r.Context(), id)
	if err != nil {
		writeHubError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, historyResponse{SessionID: id, History: history})
}

// HandleClearSession handles DELETE /sessions/{id}.
func (h *SessionsHandler) HandleClearSession(w http.ResponseWriter, r *http.Request) {
	if err := h.deps.ClearSession(r.Context(), r.PathValue("id")); err != nil {
		writeHubError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
