package model

import (
	"strings"
	"time"
)

type MessageType string

const (
	MessageTypeText  MessageType = "TEXT"
	MessageTypeImage MessageType = "IMAGE"
	MessageTypeVideo MessageType = "VIDEO"
	MessageTypeAudio MessageType = "AUDIO"
	MessageTypeDoc   MessageType = "DOC"
)

// ParseMessageType accepts the client spelling in any case; empty means TEXT.
func ParseMessageType(s string) (MessageType, bool) {
	switch MessageType(strings.ToUpper(strings.TrimSpace(s))) {
	case "", MessageTypeText:
		return MessageTypeText, true
	case MessageTypeImage:
		return MessageTypeImage, true
	case MessageTypeVideo:
		return MessageTypeVideo, true
	case MessageTypeAudio:
		return MessageTypeAudio, true
	case MessageTypeDoc:
		return MessageTypeDoc, true
	}
	return "", false
}

// Status is ordered: a message only moves forward through these values.
type Status int

const (
	StatusSent      Status = 0
	StatusDelivered Status = 1
	StatusSeen      Status = 2
)

func (s Status) Valid() bool { return s >= StatusSent && s <= StatusSeen }

func (s Status) String() string {
	switch s {
	case StatusSent:
		return "sent"
	case StatusDelivered:
		return "delivered"
	case StatusSeen:
		return "seen"
	}
	return "unknown"
}

// MaxContentLength limits text content in bytes.
const MaxContentLength = 4000

// Message is immutable once stored, except for Status.
// ReceiverID is set for direct messages, GroupID for group messages.
type Message struct {
	ID         int64       `json:"id"`
	SenderID   string      `json:"senderId"`
	ReceiverID string      `json:"receiverId,omitempty"`
	GroupID    string      `json:"groupId,omitempty"`
	Content    string      `json:"content,omitempty"`
	MediaURL   string      `json:"mediaUrl,omitempty"`
	Type       MessageType `json:"type"`
	CreatedAt  time.Time   `json:"createdAt"`
	Status     Status      `json:"status"`
}

// Conversation derives the routing reference from the stored target fields.
func (m *Message) Conversation() ConversationRef {
	if m.GroupID != "" {
		return GroupConversation(m.GroupID)
	}
	return DirectConversation(m.SenderID, m.ReceiverID)
}

// Validate checks the payload rules for a new message: text needs content,
// media types need a media URL.
func (m *Message) Validate() error {
	if m.SenderID == "" {
		return ErrInvalidMessage
	}
	t, ok := ParseMessageType(string(m.Type))
	if !ok {
		return ErrInvalidMessage
	}
	m.Type = t
	if len(m.Content) > MaxContentLength {
		return ErrInvalidMessage
	}
	if t == MessageTypeText {
		if strings.TrimSpace(m.Content) == "" {
			return ErrInvalidMessage
		}
		return nil
	}
	if strings.TrimSpace(m.MediaURL) == "" {
		return ErrInvalidMessage
	}
	return nil
}

// Before reports whether m sorts before o in conversation order.
func (m *Message) Before(o *Message) bool {
	if !m.CreatedAt.Equal(o.CreatedAt) {
		return m.CreatedAt.Before(o.CreatedAt)
	}
	return m.ID < o.ID
}

// HistoryQuery pages through a conversation. BeforeID == 0 means from the newest;
// Limit <= 0 means no limit.
type HistoryQuery struct {
	BeforeID int64
	Limit    int
}

// SendCommand is the client "send message" command (WS /app/chat.send or POST /api/chat/send).
type SendCommand struct {
	SenderID   string `json:"senderId"`
	ReceiverID string `json:"receiverId"`
	GroupID    string `json:"groupId"`
	Content    string `json:"content"`
	MediaURL   string `json:"mediaUrl"`
	Type       string `json:"type"`
}
