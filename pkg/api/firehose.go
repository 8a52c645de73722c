package api

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

const (
	firehoseWriteWait     = 10 * time.Second
	firehoseHeartbeatTick = 30 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The API is CORS-open; the firehose carries no caller-specific data.
	CheckOrigin: func(r *http.Request) bool { return true },
}

type firehoseInit struct {
	Type      string `json:"type"`
	Listeners int    `json:"listeners"`
}

type firehoseHeartbeat struct {
	Type string    `json:"type"`
	At   time.Time `json:"at"`
}

// HandleFirehose upgrades to a WebSocket and streams executed-search events
// until the client disconnects. Slow clients miss events rather than slow
// down request handling.
func (s *Server) HandleFirehose(w http.ResponseWriter, r *http.Request) {
	if s.hub == nil {
		s.writeError(w, http.StatusServiceUnavailable, "Firehose unavailable", "no event hub configured")
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error.
		s.logger.Debugf("firehose upgrade failed: %v", err)
		return
	}
	defer func() {
		_ = conn.Close()
	}()

	id, events := s.hub.Register()
	defer s.hub.Unregister(id)

	_ = conn.SetWriteDeadline(time.Now().Add(firehoseWriteWait))
	if err := conn.WriteJSON(firehoseInit{Type: "init", Listeners: s.hub.Size()}); err != nil {
		return
	}

	// Reader goroutine: we never expect client messages, but reading is what
	// surfaces the close frame.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	heartbeat := time.NewTicker(firehoseHeartbeatTick)
	defer heartbeat.Stop()

	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(firehoseWriteWait))
			if err := conn.WriteJSON(ev); err != nil {
				return
			}
		case <-heartbeat.C:
			_ = conn.SetWriteDeadline(time.Now().Add(firehoseWriteWait))
			if err := conn.WriteJSON(firehoseHeartbeat{Type: "heartbeat", At: time.Now().UTC()}); err != nil {
				return
			}
		case <-done:
			return
		case <-r.Context().Done():
			return
		}
	}
}
