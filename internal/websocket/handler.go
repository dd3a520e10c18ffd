package websocket

import (
	"github.com/gofiber/websocket/v2"
	"github.com/google/uuid"
)

// ServeWs streams progress of one session to the peer. initial, when non-nil,
// is sent first so late watchers see the current state.
func ServeWs(hub *Hub, c *websocket.Conn, sessionID uuid.UUID, initial []byte) {
	client := &Client{Hub: hub, Conn: c, SessionID: sessionID, Send: make(chan []byte, 256)}
	client.Hub.register <- client
	if initial != nil {
		client.Send <- initial
	}

	go client.writePump()
	client.readPump()
}
