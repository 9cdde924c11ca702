package websocket

import (
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
)

// Client is a middleman between the websocket connection and the hub.
type Client struct {
	hub  *Hub
	conn *websocket.Conn

	// Username of the authenticated session that opened the connection.
	Username string

	// Buffered channel of outbound messages.
	Send chan []byte
}

// NewClient creates a client for conn. It is not registered until Attach.
func NewClient(hub *Hub, conn *websocket.Conn, username string) *Client {
	return &Client{hub: hub, conn: conn, Username: username, Send: make(chan []byte, 32)}
}

// Attach registers the client with the hub. It reports false if the hub has stopped.
func (c *Client) Attach() bool {
	select {
	case c.hub.Register <- c:
		return true
	case <-c.hub.done:
		return false
	}
}

func (c *Client) detach() {
	select {
	case c.hub.Unregister <- c:
	case <-c.hub.done:
	}
}

// ReadPump pumps messages from the connection to handle until the peer
// goes away, then unregisters the client.
func (c *Client) ReadPump(handle func(*Client, []byte)) {
	defer func() {
		c.detach()
		c.conn.Close()
	}()
	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Warn().Err(err).Str("user", c.Username).Msg("Websocket closed unexpectedly")
			}
			return
		}
		if handle != nil {
			handle(c, message)
		}
	}
}

// WritePump pumps messages from the hub to the connection and keeps it alive
// with pings. It returns when Send is closed.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case message, ok := <-c.Send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// Reply queues a message for this client only. Delivery goes through the hub
// so it never races with the hub closing Send.
func (c *Client) Reply(message []byte) {
	select {
	case c.hub.direct <- directMessage{client: c, data: message}:
	case <-c.hub.done:
	}
}
