package models

import "time"

// Role is the author of a turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Conversation is a chat session.
type Conversation struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
}

// Turn is one entry in a conversation's append-only log.
type Turn struct {
	ID             int64       `json:"id"`
	ConversationID string      `json:"conversation_id"`
	Role           Role        `json:"role"`
	Text           string      `json:"text"`
	Responder      ResponderID `json:"responder,omitempty"`
	Failed         bool        `json:"failed,omitempty"`
	CreatedAt      time.Time   `json:"created_at"`
}
