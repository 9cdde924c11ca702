package websocket

import (
	"sync"

	"github.com/rs/zerolog/log"
)

// Hub maintains the set of active clients and routes messages to the
// connections of the user they belong to.
type Hub struct {
	// Registered clients.
	clients map[*Client]bool

	// Outbound messages, each addressed to one user.
	outbound chan userMessage

	// Register requests from the clients.
	Register chan *Client

	// Unregister requests from clients.
	Unregister chan *Client

	direct chan directMessage
	done   chan struct{}
	stop   sync.Once
}

type userMessage struct {
	username string
	data     []byte
}

type directMessage struct {
	client *Client
	data   []byte
}

// NewHub creates a new Hub.
func NewHub() *Hub {
	return &Hub{
		outbound:   make(chan userMessage, 64),
		Register:   make(chan *Client),
		Unregister: make(chan *Client),
		clients:    make(map[*Client]bool),
		direct:     make(chan directMessage),
		done:       make(chan struct{}),
	}
}

// Run starts the Hub's message processing loop. It returns after Stop.
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.Register:
			h.clients[client] = true
			log.Info().Str("user", client.Username).Int("total_clients", len(h.clients)).Msg("Client connected")
		case client := <-h.Unregister:
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.Send)
				log.Info().Str("user", client.Username).Int("total_clients", len(h.clients)).Msg("Client disconnected")
			}
		case m := <-h.direct:
			if _, ok := h.clients[m.client]; ok {
				select {
				case m.client.Send <- m.data:
				default:
				}
			}
		case m := <-h.outbound:
			for client := range h.clients {
				if client.Username != m.username {
					continue
				}
				select {
				case client.Send <- m.data:
				default:
					// Slow consumer; drop it rather than stall everyone else.
					close(client.Send)
					delete(h.clients, client)
				}
			}
		case <-h.done:
			for client := range h.clients {
				close(client.Send)
				delete(h.clients, client)
			}
			return
		}
	}
}

// Stop ends Run and disconnects every client.
func (h *Hub) Stop() {
	h.stop.Do(func() { close(h.done) })
}

// PublishTo encodes a message and queues it for every connection opened by
// username. It never blocks the caller: when the queue is full or the hub is
// stopped the message is dropped.
func (h *Hub) PublishTo(username, action string, payload any) {
	if username == "" {
		return
	}
	data := encode(action, payload)
	if data == nil {
		return
	}
	select {
	case <-h.done:
	case h.outbound <- userMessage{username: username, data: data}:
	default:
		log.Warn().Str("action", action).Msg("Websocket outbound queue full, dropping message")
	}
}
