package web

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/mbocsi/robobus/proto"
	"github.com/mbocsi/robobus/services"
)

const writeTimeout = 5 * time.Second

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins for now
	},
}

// streamReply is written back when a watcher publishes over the socket.
type streamReply struct {
	Published *services.MessageInfo `json:"published,omitempty"`
	Error     string                `json:"error,omitempty"`
}

// HandleStream upgrades to a websocket and streams every routed message as
// JSON. ?types=POSE,TICK_1S narrows the stream. Text frames sent by the
// watcher are publish requests.
func (m *Monitor) HandleStream(wr http.ResponseWriter, r *http.Request) {
	types, err := m.parseTypes(r.URL.Query().Get("types"))
	if err != nil {
		http.Error(wr, err.Error(), http.StatusBadRequest)
		return
	}

	w, ok := m.addWatcher(types)
	if !ok {
		slog.Warn("Max watchers reached, rejecting stream", "remote_addr", r.RemoteAddr)
		http.Error(wr, "Too many watchers", http.StatusServiceUnavailable)
		return
	}

	conn, err := upgrader.Upgrade(wr, r, nil)
	if err != nil {
		m.removeWatcher(w.id)
		slog.Error("Failed to upgrade connection", "error", err)
		return
	}
	slog.Info("Watcher connected", "addr", r.RemoteAddr, "id", w.id)

	var wmu sync.Mutex
	send := func(v any) error {
		wmu.Lock()
		defer wmu.Unlock()
		conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		return conn.WriteJSON(v)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		m.readStream(conn, w.id, send)
	}()

	defer func() {
		m.removeWatcher(w.id)
		conn.Close()
		slog.Info("Watcher disconnected", "addr", r.RemoteAddr, "id", w.id)
	}()

	for {
		select {
		case msg := <-w.ch:
			if err := send(m.services.Bus.Describe(&msg)); err != nil {
				slog.Debug("Stream write failed", "id", w.id, "error", err)
				return
			}
		case <-done:
			return
		}
	}
}

func (m *Monitor) readStream(conn *websocket.Conn, id string, send func(any) error) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				slog.Warn("WebSocket connection error", "id", id, "error", err)
			}
			return
		}

		var req services.PublishRequest
		if err := json.Unmarshal(data, &req); err != nil {
			slog.Warn("Invalid JSON message received", "id", id, "error", err)
			send(streamReply{Error: "invalid JSON"})
			continue
		}
		info, err := m.services.Messaging.Publish(req)
		reply := streamReply{Published: info}
		if err != nil {
			reply.Error = err.Error()
		}
		if err := send(reply); err != nil {
			return
		}
	}
}

func (m *Monitor) parseTypes(raw string) ([]proto.Type, error) {
	if raw == "" {
		return nil, nil
	}
	known := make(map[string]proto.Type)
	list, err := m.services.Bus.ListMessageTypes()
	if err != nil {
		return nil, err
	}
	for _, info := range list {
		known[info.Key] = proto.Type(info.Type)
	}

	var types []proto.Type
	for _, key := range strings.Split(raw, ",") {
		key = strings.ToUpper(strings.TrimSpace(key))
		t, ok := known[key]
		if !ok {
			return nil, services.ServiceError{Code: services.ErrCodeInvalidInput, Message: "Unknown message type: " + key}
		}
		types = append(types, t)
	}
	return types, nil
}
