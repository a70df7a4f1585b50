package domain

import (
	"encoding/json"
	"time"
)

// EventType tags a real-time envelope so clients can decode Data.
type EventType string

const (
	EventNewMessage         EventType = "new_message"
	EventConversationUpdate EventType = "conversation_update"
)

// Reasons carried by ConversationUpdateEvent.
const (
	UpdateReasonMessage = "message"
	UpdateReasonRead    = "read"
)

// NewMessageEvent announces a freshly persisted message.
type NewMessageEvent struct {
	Message *Message
}

// ConversationUpdateEvent announces a change to conversation metadata, either
// a new last message or a read receipt.
type ConversationUpdateEvent struct {
	ConversationID string     `json:"conversation_id"`
	User1ID        string     `json:"user1_id"`
	User2ID        string     `json:"user2_id"`
	LastMessageAt  *time.Time `json:"last_message_at,omitempty"`
	LastSeq        int64      `json:"last_seq"`
	Reason         string     `json:"reason"`
	MessageID      string     `json:"message_id,omitempty"`
}

// UpdateFromConversation builds a ConversationUpdateEvent from the stored row.
func UpdateFromConversation(c *Conversation, reason string) ConversationUpdateEvent {
	return ConversationUpdateEvent{
		ConversationID: c.ID,
		User1ID:        c.User1ID,
		User2ID:        c.User2ID,
		LastMessageAt:  c.LastMessageAt,
		LastSeq:        c.LastSeq,
		Reason:         reason,
	}
}

// Envelope is the server-to-client frame: {"type": ..., "data": ...}.
// Build it with NewMessageEnvelope or ConversationUpdateEnvelope so Type and
// the shape of Data always agree.
type Envelope struct {
	Type EventType       `json:"type"`
	Data json.RawMessage `json:"data"`
}

// NewMessageEnvelope wraps a new message event. The message itself is the
// payload, so clients decode Data straight into a Message.
func NewMessageEnvelope(ev NewMessageEvent) (Envelope, error) {
	b, err := json.Marshal(ev.Message)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{Type: EventNewMessage, Data: b}, nil
}

// ConversationUpdateEnvelope wraps a conversation update.
func ConversationUpdateEnvelope(ev ConversationUpdateEvent) (Envelope, error) {
	b, err := json.Marshal(ev)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{Type: EventConversationUpdate, Data: b}, nil
}
