package server

import (
	"context"
	"log/slog"

	"github.com/gorilla/websocket"
)

// resultHub fans job result payloads out to connected websocket clients.
type resultHub struct {
	log        *slog.Logger
	clients    map[*websocket.Conn]bool
	broadcast  chan []byte
	register   chan *websocket.Conn
	unregister chan *websocket.Conn
}

func newResultHub(logger *slog.Logger) *resultHub {
	return &resultHub{
		log:        logger,
		clients:    make(map[*websocket.Conn]bool),
		broadcast:  make(chan []byte, 16),
		register:   make(chan *websocket.Conn),
		unregister: make(chan *websocket.Conn),
	}
}

func (h *resultHub) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			for conn := range h.clients {
				_ = conn.Close()
				delete(h.clients, conn)
			}
			return
		case conn := <-h.register:
			h.clients[conn] = true
			h.log.Debug("websocket client connected", "clients", len(h.clients))
		case conn := <-h.unregister:
			if _, ok := h.clients[conn]; ok {
				delete(h.clients, conn)
				_ = conn.Close()
			}
			h.log.Debug("websocket client disconnected", "clients", len(h.clients))
		case payload := <-h.broadcast:
			for conn := range h.clients {
				if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
					delete(h.clients, conn)
					_ = conn.Close()
				}
			}
		}
	}
}
