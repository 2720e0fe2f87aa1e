package daemon

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"platter/internal/api"
	"platter/internal/broadcast"
	"platter/internal/logging"
)

const streamHeartbeat = 15 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The API binds to loopback; browser clients on the same host are fine.
	CheckOrigin: func(*http.Request) bool { return true },
}

// handleEvents streams change events over SSE. New subscribers get the
// latest status and outputs immediately, then live updates as they happen.
func (s *apiServer) handleEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		s.writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	sub := s.daemon.hub.Subscribe("sse:" + r.RemoteAddr)
	defer sub.Close()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	heartbeat := time.NewTicker(streamHeartbeat)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-heartbeat.C:
			if _, err := fmt.Fprint(w, ": keepalive\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case event, open := <-sub.C():
			if !open {
				return
			}
			name, payload, err := encodeEvent(event)
			if err != nil {
				s.logger.Warn("event not encodable", logging.Error(err))
				continue
			}
			if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", name, payload); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

// handleWebsocket streams the same events over a websocket for clients that
// prefer a bidirectional transport.
func (s *apiServer) handleWebsocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", logging.Error(err))
		return
	}
	defer conn.Close()

	sub := s.daemon.hub.Subscribe("ws:" + r.RemoteAddr)
	defer sub.Close()

	// Drain the read side so close frames and pings are processed.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				sub.Close()
				return
			}
		}
	}()

	heartbeat := time.NewTicker(streamHeartbeat)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-heartbeat.C:
			deadline := time.Now().Add(5 * time.Second)
			if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				return
			}
		case event, open := <-sub.C():
			if !open {
				return
			}
			_, payload, err := encodeEvent(event)
			if err != nil {
				s.logger.Warn("event not encodable", logging.Error(err))
				continue
			}
			if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		}
	}
}

func encodeEvent(event broadcast.Event) (string, []byte, error) {
	var name string
	switch event.(type) {
	case api.StatusEvent:
		name = api.EventTypeStatus
	case api.OutputsEvent:
		name = api.EventTypeOutputs
	default:
		return "", nil, fmt.Errorf("unknown event type %T", event)
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return "", nil, err
	}
	return name, payload, nil
}
