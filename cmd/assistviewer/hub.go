package main

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// Envelope is one Kafka record forwarded to browsers.
type Envelope struct {
	Topic   string          `json:"topic"`
	Session string          `json:"sessionId"`
	Event   json.RawMessage `json:"event"`
}

// Hub fans envelopes out to connected WebSocket clients. Each client has its
// own send queue; a client that cannot keep up is disconnected.
type Hub struct {
	mu      sync.Mutex
	clients map[*client]struct{}
}

type client struct {
	conn *websocket.Conn
	send chan Envelope
}

const clientBuffer = 64

func newHub() *Hub {
	return &Hub{clients: make(map[*client]struct{})}
}

// Broadcast queues env for every client.
func (h *Hub) Broadcast(env Envelope) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.send <- env:
		default:
			log.Warn().Msg("Slow viewer client, disconnecting")
			h.removeLocked(c)
		}
	}
}

// Len returns the number of connected clients.
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (h *Hub) add(c *client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()
	log.Info().Int("clients", n).Msg("Client connected")
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	h.removeLocked(c)
	n := len(h.clients)
	h.mu.Unlock()
	log.Info().Int("clients", n).Msg("Client disconnected")
}

func (h *Hub) removeLocked(c *client) {
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins for local dev
	},
}

// ServeHTTP upgrades the request and streams envelopes until either side closes.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Debug().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	c := &client{conn: conn, send: make(chan Envelope, clientBuffer)}
	h.add(c)

	// Keep connection alive, handle disconnects
	go func() {
		defer h.remove(c)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	go func() {
		defer conn.Close()
		for env := range c.send {
			_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
			if err := conn.WriteJSON(env); err != nil {
				log.Debug().Err(err).Msg("Write error")
				return
			}
		}
	}()
}
