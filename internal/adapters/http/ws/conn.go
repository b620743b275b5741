package ws

import (
	"context"
	"errors"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/okian/perception/internal/adapters/realtime"
	"github.com/okian/perception/pkg/logger"
	"github.com/okian/perception/pkg/metrics"
)

// conn is one WebSocket peer. The hub writes through Send; writePump owns
// every data write on the socket.
type conn struct {
	id     string
	ws     *websocket.Conn
	server *Server

	send      chan []byte
	closed    chan struct{}
	closeOnce sync.Once
}

func newConn(ws *websocket.Conn, s *Server) *conn {
	return &conn{
		id:     uuid.NewString(),
		ws:     ws,
		server: s,
		send:   make(chan []byte, s.sendBuffer),
		closed: make(chan struct{}),
	}
}

// ID returns the connection id.
func (c *conn) ID() string { return c.id }

// Send queues a frame without blocking. Frames sent after Close are discarded.
func (c *conn) Send(frame []byte) bool {
	select {
	case <-c.closed:
		return true
	default:
	}
	select {
	case c.send <- frame:
		return true
	default:
		return false
	}
}

// Close asks writePump to send a close frame and drop the socket.
func (c *conn) Close() {
	c.closeOnce.Do(func() { close(c.closed) })
}

func (c *conn) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

func (c *conn) readPump(ctx context.Context) {
	s := c.server
	cause := "client_closed"
	defer func() {
		if err := s.hub.Disconnect(ctx, c); err != nil && !errors.Is(err, realtime.ErrStopped) {
			s.logger.Warn(ctx, "disconnect failed", logger.String("client", c.id), logger.Error(err))
		}
		c.Close()
		metrics.RecordConnectionClosed(cause)
		s.logger.Debug(ctx, "connection closed", logger.String("client", c.id), logger.String("cause", cause))
	}()

	c.ws.SetReadLimit(s.maxMessage)
	_ = c.ws.SetReadDeadline(time.Now().Add(s.idleTimeout))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(s.idleTimeout))
	})

	for {
		msgType, frame, err := c.ws.ReadMessage()
		if err != nil {
			cause = closeCause(c, err)
			if cause == "error" {
				s.logger.Warn(ctx, "websocket read failed", logger.String("client", c.id), logger.Error(err))
			}
			return
		}
		_ = c.ws.SetReadDeadline(time.Now().Add(s.idleTimeout))

		if msgType != websocket.TextMessage {
			metrics.RecordRatingRejected("binary_frame")
			continue
		}
		if err := s.hub.Dispatch(ctx, c, frame); errors.Is(err, realtime.ErrStopped) {
			cause = "hub_stopped"
			return
		}
	}
}

func (c *conn) writePump() {
	s := c.server
	ticker := time.NewTicker(s.pingInterval)
	defer func() {
		ticker.Stop()
		_ = c.ws.Close()
	}()

	for {
		select {
		case frame := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(s.writeTimeout))
			if err := c.ws.WriteMessage(websocket.TextMessage, frame); err != nil {
				c.Close()
				return
			}

		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(s.writeTimeout))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.Close()
				return
			}

		case <-c.closed:
			_ = c.ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(s.writeTimeout))
			return
		}
	}
}

func closeCause(c *conn, err error) string {
	var netErr net.Error
	switch {
	case c.isClosed():
		return "server_closed"
	case errors.Is(err, websocket.ErrReadLimit):
		return "read_limit"
	case errors.As(err, &netErr) && netErr.Timeout():
		return "idle_timeout"
	case websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived, websocket.CloseAbnormalClosure):
		return "client_closed"
	case websocket.IsUnexpectedCloseError(err):
		return "error"
	default:
		return "client_closed"
	}
}
