// Package ws serves the realtime hub over WebSocket connections.
package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/okian/perception/internal/adapters/realtime"
	"github.com/okian/perception/pkg/logger"
	"github.com/okian/perception/pkg/metrics"
)

// Handshake query parameters.
const (
	ParamSessionID     = "sessionId"
	ParamParticipantID = "participantId"
	ParamUserID        = "userId"
)

// Hub is the part of the realtime hub the transport drives.
type Hub interface {
	Connect(ctx context.Context, c realtime.Client, sessionID, participantID string) error
	Disconnect(ctx context.Context, c realtime.Client) error
	Dispatch(ctx context.Context, c realtime.Client, frame []byte) error
}

// Server upgrades HTTP requests to WebSocket connections bound to a session.
type Server struct {
	hub      Hub
	upgrader websocket.Upgrader

	origins      []string
	sendBuffer   int
	maxMessage   int64
	pingInterval time.Duration
	idleTimeout  time.Duration
	writeTimeout time.Duration

	logger logger.Logger
}

// NewServer creates a WebSocket server in front of hub.
func NewServer(hub Hub, opts ...Option) *Server {
	s := &Server{
		hub:          hub,
		origins:      []string{"*"},
		sendBuffer:   defaultSendBuffer,
		maxMessage:   defaultMaxMessage,
		pingInterval: defaultPingInterval,
		idleTimeout:  defaultIdleTimeout,
		writeTimeout: defaultWriteTimeout,
	}

	for _, opt := range opts {
		opt(s)
	}

	if s.logger == nil {
		s.logger = logger.Get().Named("ws")
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.checkOrigin,
	}

	return s
}

// ServeHTTP handles GET /ws?sessionId=...&participantId=...
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := context.WithoutCancel(r.Context())

	sessionID := strings.TrimSpace(r.URL.Query().Get(ParamSessionID))
	if sessionID == "" {
		metrics.RecordHandshakeRejected("missing_session")
		writeHandshakeError(w, http.StatusBadRequest, "missing_session", "sessionId query parameter is required")
		return
	}
	participantID := strings.TrimSpace(r.URL.Query().Get(ParamParticipantID))
	if participantID == "" {
		participantID = strings.TrimSpace(r.URL.Query().Get(ParamUserID))
	}
	if participantID == "" {
		participantID = uuid.NewString()
	}

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// The upgrader has already written the HTTP error.
		s.logger.Warn(ctx, "websocket upgrade failed",
			logger.String("remote", r.RemoteAddr),
			logger.Error(err),
		)
		return
	}

	c := newConn(ws, s)
	if err := s.hub.Connect(ctx, c, sessionID, participantID); err != nil {
		s.logger.Warn(ctx, "hub refused connection", logger.String("session", sessionID), logger.Error(err))
		_ = ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "hub unavailable"),
			time.Now().Add(s.writeTimeout))
		_ = ws.Close()
		metrics.RecordConnectionClosed("hub_unavailable")
		return
	}
	metrics.RecordConnectionOpened()
	s.logger.Debug(ctx, "connection opened",
		logger.String("client", c.id),
		logger.String("session", sessionID),
		logger.String("participant", participantID),
	)

	go c.writePump()
	go c.readPump(ctx)
}

func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range s.origins {
		if allowed == "*" || strings.EqualFold(allowed, origin) {
			return true
		}
	}
	metrics.RecordHandshakeRejected("origin")
	return false
}

func writeHandshakeError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"code": code, "message": message})
}
