package ws

import (
	"encoding/json"

	"github.com/chatrelay/internal/model"
)

// Client command destinations.
const (
	DestSend   = "/app/chat.send"
	DestTyping = "/app/typing"
	DestSeen   = "/app/chat.seen"
	DestAck    = "/app/chat.ack"
)

// IncomingMessage is what the client sends to the server.
// Body is decoded according to Destination.
type IncomingMessage struct {
	Destination string          `json:"destination"`
	Body        json.RawMessage `json:"body"`
}

// OutgoingMessage is what the server sends to the client.
// Payload uses typed structs to avoid heap-heavy map[string]any.
type OutgoingMessage struct {
	Topic   string          `json:"topic"`
	Type    model.EventType `json:"type"`
	Payload any             `json:"payload"`
}

func outgoing(userID string, ev model.Event) OutgoingMessage {
	return OutgoingMessage{Topic: ev.Channel.Topic(userID), Type: ev.Type, Payload: ev.Payload}
}

// errorEvent hides internal error text from clients.
func errorEvent(err error) model.Event {
	code := model.ErrorCode(err)
	msg := err.Error()
	if code == "internal" {
		msg = "internal error"
	}
	return model.ChatEvent(model.EventError, model.ErrorPayload{Code: code, Message: msg})
}
