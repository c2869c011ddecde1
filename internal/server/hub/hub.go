package hub

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const writeWait = 5 * time.Second

// Update is one progress message sent to every listener.
type Update struct {
	Type   string `json:"type"` // "job_status", "progress"
	JobID  string `json:"job_id"`
	Kind   string `json:"kind,omitempty"`
	Table  string `json:"table,omitempty"`
	Status string `json:"status,omitempty"`
	Rows   int64  `json:"rows"`
	Error  string `json:"error,omitempty"`
}

// Hub fans job updates out to websocket listeners.
type Hub struct {
	listeners map[*websocket.Conn]bool
	mu        sync.Mutex
}

func NewHub() *Hub {
	return &Hub{
		listeners: make(map[*websocket.Conn]bool),
	}
}

func (h *Hub) Register(conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.listeners[conn] = true
	slog.Info("Progress listener connected", "total_connections", len(h.listeners))
}

func (h *Hub) Unregister(conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.listeners[conn]; ok {
		delete(h.listeners, conn)
		conn.Close()
		slog.Info("Progress listener disconnected", "total_connections", len(h.listeners))
	}
}

// Count returns the number of connected listeners.
func (h *Hub) Count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.listeners)
}

// Broadcast sends update to every listener, dropping those that fail.
func (h *Hub) Broadcast(update Update) {
	payload, err := json.Marshal(update)
	if err != nil {
		slog.Error("Encode broadcast failed", "error", err)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for conn := range h.listeners {
		conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			slog.Warn("Broadcast failed, dropping listener", "error", err)
			conn.Close()
			delete(h.listeners, conn)
		}
	}
}
