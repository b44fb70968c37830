package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/nikicat/unitbar/internal/status"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Send pings to peer with this period.
	pingPeriod = 30 * time.Second

	// Maximum message size allowed from peer.
	maxMessageSize = 512
)

// WSMessage represents a message sent over the WebSocket.
type WSMessage struct {
	Type string `json:"type"`

	// For snapshot - no omitempty to ensure the array is always present in JSON
	Events []status.Event `json:"events"`

	// For status updates
	Event *status.Event `json:"event,omitempty"`
}

// WSHandler handles WebSocket connections for real-time status updates.
type WSHandler struct {
	registry *status.Registry

	connsMu sync.RWMutex
	conns   map[*wsConnection]struct{}
}

// NewWSHandler creates a new WebSocket handler.
func NewWSHandler(registry *status.Registry) *WSHandler {
	return &WSHandler{
		registry: registry,
		conns:    make(map[*wsConnection]struct{}),
	}
}

// wsConnection represents a single WebSocket connection.
type wsConnection struct {
	handler *WSHandler
	conn    *websocket.Conn
	send    chan []byte
	ctx     context.Context
	cancel  context.CancelFunc
}

// HandleWS handles WebSocket upgrade requests.
func (h *WSHandler) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		slog.Error("WebSocket accept failed", "error", err)
		return
	}

	conn.SetReadLimit(maxMessageSize)

	// Use background context - the WebSocket connection lives beyond the HTTP request
	ctx, cancel := context.WithCancel(context.Background())
	wsc := &wsConnection{
		handler: h,
		conn:    conn,
		send:    make(chan []byte, 256),
		ctx:     ctx,
		cancel:  cancel,
	}

	h.connsMu.Lock()
	h.conns[wsc] = struct{}{}
	total := len(h.conns)
	h.connsMu.Unlock()
	slog.Debug("WebSocket client connected", "total", total)

	h.registry.Subscribe(wsc)

	if err := wsc.sendSnapshot(); err != nil {
		slog.Error("failed to send snapshot", "error", err)
		wsc.close()
		return
	}

	go wsc.writePump()
	go wsc.readPump()
}

// OnStatus implements status.Observer.
func (wsc *wsConnection) OnStatus(ev status.Event) {
	msg := WSMessage{
		Type:  "status",
		Event: &ev,
	}

	data, err := json.Marshal(msg)
	if err != nil {
		slog.Error("failed to marshal WebSocket message", "error", err)
		return
	}

	// Non-blocking send - drop message if client is slow
	select {
	case wsc.send <- data:
	default:
		slog.Warn("WebSocket send buffer full, dropping message")
	}
}

// sendSnapshot sends the current state to the client.
func (wsc *wsConnection) sendSnapshot() error {
	events := wsc.handler.registry.Snapshot()
	if events == nil {
		events = []status.Event{}
	}

	data, err := json.Marshal(WSMessage{
		Type:   "snapshot",
		Events: events,
	})
	if err != nil {
		return err
	}

	// Send directly (not through channel) for initial snapshot
	ctx, cancel := context.WithTimeout(wsc.ctx, writeWait)
	defer cancel()
	return wsc.conn.Write(ctx, websocket.MessageText, data)
}

// writePump pumps messages from the send channel to the WebSocket connection.
func (wsc *wsConnection) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		wsc.close()
	}()

	for {
		select {
		case <-wsc.ctx.Done():
			return

		case message, ok := <-wsc.send:
			if !ok {
				return
			}
			ctx, cancel := context.WithTimeout(wsc.ctx, writeWait)
			err := wsc.conn.Write(ctx, websocket.MessageText, message)
			cancel()
			if err != nil {
				slog.Debug("WebSocket write failed", "error", err)
				return
			}

		case <-ticker.C:
			ctx, cancel := context.WithTimeout(wsc.ctx, writeWait)
			err := wsc.conn.Ping(ctx)
			cancel()
			if err != nil {
				slog.Debug("WebSocket ping failed", "error", err)
				return
			}
		}
	}
}

// readPump reads messages from the WebSocket connection.
// We don't expect any messages from the client, this is just for close detection.
func (wsc *wsConnection) readPump() {
	defer wsc.close()

	for {
		_, _, err := wsc.conn.Read(wsc.ctx)
		if err != nil {
			return
		}
	}
}

// close cleans up the connection.
func (wsc *wsConnection) close() {
	wsc.cancel()

	wsc.handler.registry.Unsubscribe(wsc)

	wsc.handler.connsMu.Lock()
	delete(wsc.handler.conns, wsc)
	total := len(wsc.handler.conns)
	wsc.handler.connsMu.Unlock()
	slog.Debug("WebSocket client disconnected", "total", total)

	wsc.conn.Close(websocket.StatusNormalClosure, "")
}
