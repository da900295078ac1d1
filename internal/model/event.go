package model

// Channel is one of the two per-user push topics every session subscribes to.
type Channel string

const (
	ChannelChat   Channel = "chat"
	ChannelTyping Channel = "typing"
)

// Topic returns the per-user topic name, e.g. /topic/chat/42.
func (c Channel) Topic(userID string) string {
	return "/topic/" + string(c) + "/" + userID
}

type EventType string

const (
	EventMessage  EventType = "message"
	EventStatus   EventType = "status"
	EventSent     EventType = "sent"
	EventPresence EventType = "presence"
	EventTyping   EventType = "typing"
	EventError    EventType = "error"
)

// Event is a server push addressed to a session.
type Event struct {
	Channel Channel
	Type    EventType
	Payload any
}

func ChatEvent(t EventType, payload any) Event {
	return Event{Channel: ChannelChat, Type: t, Payload: payload}
}

// TypingEvent is advisory UI state; receivers keep the last one.
type TypingEvent struct {
	From    string `json:"from"`
	To      string `json:"to"`
	GroupID string `json:"groupId,omitempty"`
	Typing  bool   `json:"typing"`
}

// TypingCommand is the client "typing" command. To may name a user or a group.
type TypingCommand struct {
	From    string `json:"from"`
	To      string `json:"to"`
	GroupID string `json:"groupId"`
	Typing  bool   `json:"typing"`
}

// StatusUpdate tells a sender that some of its messages moved forward.
type StatusUpdate struct {
	ConversationID string  `json:"conversationId"`
	ReceiverID     string  `json:"receiverId,omitempty"`
	GroupID        string  `json:"groupId,omitempty"`
	MessageIDs     []int64 `json:"messageIds"`
	Status         Status  `json:"status"`
	By             string  `json:"by,omitempty"`
}

type PresenceEvent struct {
	UserID string `json:"userId"`
	Online bool   `json:"online"`
}

type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// SeenCommand marks a conversation seen (WS /app/chat.seen).
type SeenCommand struct {
	ReceiverID string `json:"receiverId"`
	GroupID    string `json:"groupId"`
}

// AckCommand acknowledges receipt of one message (WS /app/chat.ack).
type AckCommand struct {
	MessageID int64 `json:"messageId"`
}
