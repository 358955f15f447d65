// Package broadcast pushes snapshots to connected viewers over websockets.
package broadcast

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/standardbeagle/aglink/internal/snapshot"
)

// Message types.
const (
	TypeSnapshot        = "snapshot"
	TypeRequestSnapshot = "request_snapshot"
)

const writeWait = 5 * time.Second

// Message is the frame exchanged with viewers.
type Message struct {
	Type      string             `json:"type"`
	Data      *snapshot.Snapshot `json:"data,omitempty"`
	Timestamp time.Time          `json:"timestamp"`
}

// Source supplies the most recent snapshot.
type Source interface {
	LastSnapshot() *snapshot.Snapshot
}

type viewer struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (v *viewer) send(data []byte) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	_ = v.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return v.conn.WriteMessage(websocket.TextMessage, data)
}

// Hub tracks viewers and fans snapshots out to them.
type Hub struct {
	source   Source
	upgrader websocket.Upgrader
	clients  sync.Map // map[*viewer]bool

	// mu is held for reading while sending so Close can wait out in-flight
	// broadcasts.
	mu     sync.RWMutex
	closed bool
}

// NewHub creates a hub. source may be nil.
func NewHub(source Source) *Hub {
	return &Hub{
		source: source,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // Viewers are phones and other LAN devices
			},
		},
	}
}

// ServeHTTP upgrades a viewer, pushes the last snapshot and then serves its
// requests until it disconnects.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	closed := h.closed
	h.mu.RUnlock()
	if closed {
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[WARN] [broadcast] upgrade: %v", err)
		return
	}
	v := &viewer{conn: conn}

	h.mu.RLock()
	if h.closed {
		h.mu.RUnlock()
		_ = conn.Close()
		return
	}
	h.clients.Store(v, true)
	h.pushLast(v)
	h.mu.RUnlock()

	defer func() {
		h.clients.Delete(v)
		_ = conn.Close()
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("[DEBUG] [broadcast] viewer read: %v", err)
			}
			return
		}

		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}
		if msg.Type == TypeRequestSnapshot {
			h.mu.RLock()
			if !h.closed {
				h.pushLast(v)
			}
			h.mu.RUnlock()
		}
	}
}

// pushLast sends the last snapshot to one viewer. Callers hold mu for reading.
func (h *Hub) pushLast(v *viewer) {
	if h.source == nil {
		return
	}
	snap := h.source.LastSnapshot()
	if snap == nil {
		return
	}
	data, err := encode(snap)
	if err != nil {
		return
	}
	if err := v.send(data); err != nil {
		log.Printf("[DEBUG] [broadcast] push: %v", err)
	}
}

// Broadcast sends snap to every viewer. It is a no-op after Close.
func (h *Hub) Broadcast(snap *snapshot.Snapshot) {
	if snap == nil {
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed {
		return
	}

	data, err := encode(snap)
	if err != nil {
		log.Printf("[WARN] [broadcast] encode snapshot: %v", err)
		return
	}

	h.clients.Range(func(key, _ interface{}) bool {
		v := key.(*viewer)
		if err := v.send(data); err != nil {
			log.Printf("[DEBUG] [broadcast] send: %v", err)
		}
		return true
	})
}

// Count returns the number of connected viewers.
func (h *Hub) Count() int {
	n := 0
	h.clients.Range(func(_, _ interface{}) bool {
		n++
		return true
	})
	return n
}

// Close disconnects every viewer. Broadcasts after Close are dropped.
func (h *Hub) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil
	}
	h.closed = true

	h.clients.Range(func(key, _ interface{}) bool {
		v := key.(*viewer)
		v.mu.Lock()
		_ = v.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server stopping"),
			time.Now().Add(time.Second))
		v.mu.Unlock()
		_ = v.conn.Close()
		h.clients.Delete(key)
		return true
	})
	return nil
}

func encode(snap *snapshot.Snapshot) ([]byte, error) {
	return json.Marshal(Message{Type: TypeSnapshot, Data: snap, Timestamp: time.Now().UTC()})
}
