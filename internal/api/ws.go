package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/websocket"

	"subflow/internal/logging"
)

const (
	wsWriteTimeout = 10 * time.Second
	wsPingInterval = 30 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// Access is gated by the bearer token, not the origin.
	CheckOrigin: func(*http.Request) bool { return true },
}

// handleLogStream upgrades to a websocket, replays buffered entries newer
// than since and then pushes each new entry as a JSON message.
func (s *Server) handleLogStream(w http.ResponseWriter, r *http.Request) {
	since, _ := strconv.ParseUint(r.URL.Query().Get("since"), 10, 64)
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", logging.Error(err))
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// Reader loop only detects the peer closing.
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	state := s.ctrl.State()
	for {
		waitCtx, waitCancel := context.WithTimeout(ctx, wsPingInterval)
		entries, _, err := state.WaitLogs(waitCtx, since, maxLogLimit)
		waitCancel()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if errors.Is(err, context.DeadlineExceeded) {
				if !s.ping(conn) {
					return
				}
				continue
			}
			return
		}
		for _, entry := range entries {
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteJSON(entry); err != nil {
				return
			}
			since = entry.Sequence
		}
	}
}

func (s *Server) ping(conn *websocket.Conn) bool {
	deadline := time.Now().Add(wsWriteTimeout)
	return conn.WriteControl(websocket.PingMessage, nil, deadline) == nil
}
