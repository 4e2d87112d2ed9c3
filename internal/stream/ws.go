package stream

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

const maxClientMessageBytes = 4096

var upgrader = websocket.Upgrader{
	CheckOrigin: func(*http.Request) bool { return true },
}

// ServeWS carries the same frames as ServeSSE over a WebSocket, using
// ping control frames as the heartbeat.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	sub, snapshot := h.open("ws")
	reason := "client"
	defer func() { h.close(sub, reason) }()

	// The dashboard never sends anything meaningful; reading is only how
	// close frames and pongs are noticed.
	pongWait := 2 * h.heartbeat
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		conn.SetReadLimit(maxClientMessageBytes)
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(pongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	first, err := encodeInit(snapshot)
	if err != nil {
		h.logger.Error("encoding snapshot", "err", err)
		reason = "encode"
		return
	}
	if err := writeText(conn, first); err != nil {
		reason = "write"
		return
	}

	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-gone:
			return
		case u, ok := <-sub.ch:
			if !ok {
				h.logger.Warn("dropping slow subscriber", "subscriber", sub.id, "transport", sub.transport)
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "too slow"),
					time.Now().Add(writeTimeout))
				return
			}
			b, err := encodeUpdate(u)
			if err != nil {
				h.logger.Error("encoding call update", "call_id", u.call.ID, "err", err)
				continue
			}
			if err := writeText(conn, b); err != nil {
				reason = "write"
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout)); err != nil {
				reason = "write"
				return
			}
		}
	}
}

func writeText(conn *websocket.Conn, b []byte) error {
	_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return conn.WriteMessage(websocket.TextMessage, b)
}
