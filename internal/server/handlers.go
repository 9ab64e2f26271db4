// Package server exposes HTTP handlers: the WebSocket gateway onto the line
// protocol, health checks and the Prometheus endpoint.
package server

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// wsConn carries one protocol line per WebSocket text frame.
type wsConn struct {
	conn *websocket.Conn
	addr string
}

// NewWebSocketConn adapts an upgraded connection to LineConn.
func NewWebSocketConn(conn *websocket.Conn, addr string, maxLine int) LineConn {
	if maxLine > 0 {
		conn.SetReadLimit(int64(maxLine))
	}
	return &wsConn{conn: conn, addr: addr}
}

func (c *wsConn) ReadLine() (string, error) {
	for {
		messageType, data, err := c.conn.ReadMessage()
		if err != nil {
			if errors.Is(err, websocket.ErrReadLimit) {
				return "", ErrLineTooLong
			}
			return "", err
		}
		if messageType != websocket.TextMessage {
			continue
		}
		return normalizeLine(data), nil
	}
}

func (c *wsConn) WriteLine(line string) error {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return err
	}
	return c.conn.WriteMessage(websocket.TextMessage, []byte(line))
}

func (c *wsConn) SetReadDeadline(t time.Time) error {
	return c.conn.SetReadDeadline(t)
}

func (c *wsConn) Close() error {
	// WriteControl may run concurrently with the write pump.
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	return c.conn.Close()
}

func (c *wsConn) RemoteAddr() string { return c.addr }

// WebSocketHandler upgrades GET requests and runs a session on the
// connection for as long as it stays open.
func (s *Server) WebSocketHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed. WebSocket endpoint only accepts GET requests.", http.StatusMethodNotAllowed)
		return
	}

	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.origins.checkOrigin,
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("WebSocket upgrade failed", zap.Error(err))
		return
	}

	if err := s.ServeConn(s.ctx, NewWebSocketConn(conn, r.RemoteAddr, s.cfg.MaxLineBytes)); err != nil {
		s.logger.Debug("WebSocket connection not served", zap.Error(err))
	}
}

// HealthHandler reports liveness and the number of users online.
func (s *Server) HealthHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	_, _ = fmt.Fprintf(w, "linechat server is running! online=%d\n", s.registry.Len())
}

// OnlineHandler lists the usernames currently in the registry, one per line.
func (s *Server) OnlineHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	names := s.registry.Names()
	if len(names) == 0 {
		return
	}
	_, _ = fmt.Fprintln(w, strings.Join(names, "\n"))
}
