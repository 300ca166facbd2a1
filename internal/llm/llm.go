// Package llm provides chat-completion clients for the routing decider and the
// specialist responders. Callers only submit messages and receive text.
package llm

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hyperjump/shiryo/internal/config"
)

// ErrNotConfigured is returned by New when no provider is configured.
var ErrNotConfigured = errors.New("llm: no provider configured")

// Providers.
const (
	ProviderAnthropic = "anthropic"
	ProviderOpenAI    = "openai"
)

const (
	defaultMaxTokens = 1024
	defaultTimeout   = 60 * time.Second
)

// Message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one chat message.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Options tunes a single chat call.
type Options struct {
	MaxTokens   int
	Temperature float64
}

// Client submits a conversation and returns the model's reply text.
type Client interface {
	Chat(ctx context.Context, messages []Message, opts Options) (string, error)
	Model() string
}

// StatusError is a non-200 response from a provider.
type StatusError struct {
	Provider   string
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: status %d: %s", e.Provider, e.StatusCode, e.Message)
}

// New builds the client selected by cfg. It returns ErrNotConfigured when the
// provider is empty so callers can fall back to rule-based behavior.
func New(cfg config.LLMConfig) (Client, error) {
	switch cfg.Provider {
	case "":
		return nil, ErrNotConfigured
	case ProviderAnthropic:
		return NewAnthropic(AnthropicConfig{
			APIKey:    cfg.APIKey(),
			BaseURL:   cfg.BaseURL,
			Model:     cfg.Model,
			Timeout:   cfg.Timeout,
			MaxTokens: cfg.MaxTokens,
		})
	case ProviderOpenAI:
		return NewOpenAI(OpenAIConfig{
			APIKey:    cfg.APIKey(),
			BaseURL:   cfg.BaseURL,
			Model:     cfg.Model,
			Timeout:   cfg.Timeout,
			MaxTokens: cfg.MaxTokens,
		})
	default:
		return nil, fmt.Errorf("llm: unknown provider %q", cfg.Provider)
	}
}

// splitSystem separates system messages from the conversation.
func splitSystem(messages []Message) (string, []Message) {
	var system string
	out := make([]Message, 0, len(messages))
	for _, m := range messages {
		if m.Role == RoleSystem {
			if system != "" {
				system += "\n\n"
			}
			system += m.Content
			continue
		}
		out = append(out, m)
	}
	return system, out
}
