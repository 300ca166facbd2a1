// Package dispatch hands routed requests to specialist responders. Conversation
// context is always passed explicitly, and both sides of every exchange are
// persisted as turns.
package dispatch

import (
	"strings"

	"github.com/hyperjump/shiryo/internal/llm"
	"github.com/hyperjump/shiryo/internal/models"
	"github.com/hyperjump/shiryo/pkg/utils"
)

// ConversationContext is the window of prior turns a responder may use.
type ConversationContext struct {
	ConversationID string
	// History is oldest first and excludes the current request.
	History []models.Turn
}

// NewConversationContext creates a context for conversationID.
func NewConversationContext(conversationID string, history []models.Turn) ConversationContext {
	return ConversationContext{
		ConversationID: conversationID,
		History:        append([]models.Turn(nil), history...),
	}
}

// Messages converts the history into chat messages, skipping failed turns.
func (c ConversationContext) Messages() []llm.Message {
	out := make([]llm.Message, 0, len(c.History))
	for _, t := range c.History {
		if t.Failed || strings.TrimSpace(t.Text) == "" {
			continue
		}
		role := llm.RoleUser
		if t.Role == models.RoleAssistant {
			role = llm.RoleAssistant
		}
		out = append(out, llm.Message{Role: role, Content: t.Text})
	}
	return out
}

// LastUserText returns the most recent user turn, or "".
func (c ConversationContext) LastUserText() string {
	for i := len(c.History) - 1; i >= 0; i-- {
		if c.History[i].Role == models.RoleUser {
			return c.History[i].Text
		}
	}
	return ""
}

// LastAssistantText returns the most recent answer that did not fail, or "".
func (c ConversationContext) LastAssistantText() string {
	for i := len(c.History) - 1; i >= 0; i-- {
		if t := c.History[i]; t.Role == models.RoleAssistant && !t.Failed {
			return t.Text
		}
	}
	return ""
}

// Transcript renders the history as "role: text" lines.
func (c ConversationContext) Transcript(maxTurnLen int) string {
	var b strings.Builder
	for _, m := range c.Messages() {
		b.WriteString(m.Role)
		b.WriteString(": ")
		b.WriteString(utils.Truncate(m.Content, maxTurnLen))
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}
