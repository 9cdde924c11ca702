package websocket

import (
	"encoding/json"

	"github.com/rs/zerolog/log"
)

// Message defines the structure for websocket messages.
type Message struct {
	Action  string `json:"action"`
	Payload any    `json:"payload"`
}

func encode(action string, payload any) []byte {
	data, err := json.Marshal(Message{Action: action, Payload: payload})
	if err != nil {
		log.Error().Err(err).Str("action", action).Msg("Failed to encode websocket message")
		return nil
	}
	return data
}

// NewErrorMessage builds an "error" message for a single client.
func NewErrorMessage(msg string) []byte {
	return encode("error", map[string]string{"message": msg})
}

// NewPongMessage answers a client "ping".
func NewPongMessage() []byte {
	return encode("pong", nil)
}
