package notify

import (
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const EventNotificationNew = "notification:new"

type Frame struct {
	Event string      `json:"event"`
	Data  interface{} `json:"data"`
}

// Hub owns at most one live connection per user id. Registering a second
// connection for the same user replaces the first; the replaced connection is
// closed so a single pushed event is never delivered twice.
type Hub struct {
	mu    sync.Mutex
	conns map[string]*connection
}

func NewHub() *Hub {
	return &Hub{conns: make(map[string]*connection)}
}

type connection struct {
	userID string
	ws     *websocket.Conn
	send   chan Frame
	done   chan struct{}
	once   sync.Once
}

func (c *connection) close() {
	c.once.Do(func() {
		close(c.done)
		_ = c.ws.Close()
	})
}

func (c *connection) writePump() {
	for {
		select {
		case frame := <-c.send:
			if err := c.ws.WriteJSON(frame); err != nil {
				log.Printf("notify: write to user %s failed: %v", c.userID, err)
				c.close()
				return
			}
		case <-c.done:
			return
		}
	}
}

// Register attaches ws as the user's live connection, closing any prior one.
func (h *Hub) Register(userID string, ws *websocket.Conn) {
	conn := &connection{
		userID: userID,
		ws:     ws,
		send:   make(chan Frame, 16),
		done:   make(chan struct{}),
	}

	h.mu.Lock()
	prev := h.conns[userID]
	h.conns[userID] = conn
	h.mu.Unlock()

	if prev != nil {
		prev.close()
	}
	go conn.writePump()
}

// Unregister removes ws if it is still the user's current connection. Safe to
// call repeatedly and after a replacement has already evicted it.
func (h *Hub) Unregister(userID string, ws *websocket.Conn) {
	h.mu.Lock()
	conn := h.conns[userID]
	if conn != nil && conn.ws == ws {
		delete(h.conns, userID)
	} else {
		conn = nil
	}
	h.mu.Unlock()

	if conn != nil {
		conn.close()
	}
}

// CloseUser tears down the user's connection immediately. Called on logout;
// no connection may outlive the session that opened it.
func (h *Hub) CloseUser(userID string) {
	h.mu.Lock()
	conn := h.conns[userID]
	delete(h.conns, userID)
	h.mu.Unlock()

	if conn != nil {
		conn.close()
	}
}

// Push queues frame for the user's live connection, if any. Frames are queued
// in call order; a saturated client is disconnected rather than reordered.
func (h *Hub) Push(userID string, frame Frame) bool {
	h.mu.Lock()
	conn := h.conns[userID]
	h.mu.Unlock()

	if conn == nil {
		return false
	}
	select {
	case conn.send <- frame:
		return true
	case <-conn.done:
		return false
	case <-time.After(time.Second):
		log.Printf("notify: user %s not draining, dropping connection", userID)
		h.Unregister(userID, conn.ws)
		return false
	}
}

func (h *Hub) Connected(userID string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.conns[userID] != nil
}
