package server

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Ndahiroloicke/Transcripto/internal/events"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = pongWait * 9 / 10
	maxMessageSize = 512
)

// handleWebSocket upgrades /ws and streams publisher events to the client.
// Messages are {"event": "...", "data": ...}; clients never need to send anything.
func (h *HTTPServer) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.metrics.RecordHTTPError(r.Method, "/ws", "upgrade_failed")
		h.logger.Warn("WebSocket upgrade failed",
			slog.String("remote_addr", r.RemoteAddr),
			slog.String("error", err.Error()),
		)
		return
	}

	sub := h.manager.Publisher().Subscribe(events.DefaultBuffer)

	h.mu.Lock()
	h.clients[conn] = struct{}{}
	h.mu.Unlock()

	h.logger.Info("WebSocket client connected",
		slog.String("subscriber_id", sub.ID),
		slog.String("remote_addr", r.RemoteAddr),
	)

	done := make(chan struct{})
	go h.readPump(conn, done)
	h.writePump(conn, sub, done)

	h.manager.Publisher().Unsubscribe(sub)
	conn.Close()

	h.mu.Lock()
	delete(h.clients, conn)
	h.mu.Unlock()

	h.logger.Info("WebSocket client disconnected",
		slog.String("subscriber_id", sub.ID),
		slog.Uint64("dropped_events", sub.Dropped()),
	)
}

// readPump consumes control frames so pongs and close messages are seen
func (h *HTTPServer) readPump(conn *websocket.Conn, done chan<- struct{}) {
	defer close(done)

	conn.SetReadLimit(maxMessageSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Debug("WebSocket read error", slog.String("error", err.Error()))
			}
			return
		}
	}
}

// writePump is the only writer on conn
func (h *HTTPServer) writePump(conn *websocket.Conn, sub *events.Subscription, done <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case ev, ok := <-sub.Events():
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"))
				return
			}
			if err := conn.WriteJSON(ev); err != nil {
				h.logger.Debug("WebSocket write failed",
					slog.String("subscriber_id", sub.ID),
					slog.String("error", err.Error()),
				)
				return
			}

		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-done:
			return
		}
	}
}
