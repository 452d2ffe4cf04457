// Package main implements cmd/canvas-api: a gin HTTP surface exposing the
// core's read/command interfaces plus a gorilla/websocket bridge streaming
// RuntimeEvents and tick snapshots to any external UI, since this module
// renders nothing itself. A single goroutine owns the client set and all
// broadcast fan-out, so no lock is needed around the write itself.
package main

import (
	"log"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// wsMessage is the wire envelope for every push to a connected client.
type wsMessage struct {
	Type string      `json:"type"`
	Data interface{} `json:"data,omitempty"`
}

// wsHub fans out tick/event notifications to every connected websocket
// client without requiring callers to hold a lock across the write.
type wsHub struct {
	clients    map[*websocket.Conn]bool
	register   chan *websocket.Conn
	unregister chan *websocket.Conn
	broadcast  chan wsMessage
	mu         sync.RWMutex
}

func newHub() *wsHub {
	return &wsHub{
		clients:    make(map[*websocket.Conn]bool),
		register:   make(chan *websocket.Conn),
		unregister: make(chan *websocket.Conn),
		broadcast:  make(chan wsMessage, 256),
	}
}

func (h *wsHub) run() {
	for {
		select {
		case conn := <-h.register:
			h.mu.Lock()
			h.clients[conn] = true
			h.mu.Unlock()
		case conn := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[conn]; ok {
				delete(h.clients, conn)
				conn.Close()
			}
			h.mu.Unlock()
		case msg := <-h.broadcast:
			h.mu.RLock()
			for conn := range h.clients {
				if err := conn.WriteJSON(msg); err != nil {
					log.Printf("canvas-api: websocket write failed: %v", err)
					go func(c *websocket.Conn) { h.unregister <- c }(conn)
				}
			}
			h.mu.RUnlock()
		}
	}
}

func (h *wsHub) Broadcast(msgType string, data interface{}) {
	h.broadcast <- wsMessage{Type: msgType, Data: data}
}

func (h *wsHub) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("canvas-api: upgrade failed: %v", err)
		return
	}
	h.register <- conn

	go func() {
		defer func() { h.unregister <- conn }()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
					log.Printf("canvas-api: websocket error: %v", err)
				}
				return
			}
		}
	}()
}
