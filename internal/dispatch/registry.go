package dispatch

import (
	"context"
	"fmt"
	"sync"

	"github.com/hyperjump/shiryo/internal/models"
)

// Reply is a responder's answer.
type Reply struct {
	Text      string             `json:"text"`
	Responder models.ResponderID `json:"responder"`
	Citations []string           `json:"citations,omitempty"`
	Failed    bool               `json:"failed,omitempty"`
	// Err holds the cause when Failed is set.
	Err error `json:"-"`
}

// Responder answers one request.
type Responder interface {
	Respond(ctx context.Context, query string) (Reply, error)
}

// Factory builds a responder bound to a conversation context.
type Factory func(cc ConversationContext) Responder

// Registry maps responder identities to factories.
type Registry struct {
	mu        sync.RWMutex
	factories map[models.ResponderID]Factory
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[models.ResponderID]Factory)}
}

// Register adds a factory. Only the enumerated specialists can be registered.
func (r *Registry) Register(id models.ResponderID, f Factory) error {
	if !id.Known() || id == models.ResponderClarify {
		return fmt.Errorf("register responder %q: not a specialist", id)
	}
	if f == nil {
		return fmt.Errorf("register responder %q: nil factory", id)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[id] = f
	return nil
}

// Build creates the responder for id with cc.
func (r *Registry) Build(id models.ResponderID, cc ConversationContext) (Responder, error) {
	r.mu.RLock()
	f, ok := r.factories[id]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("no responder registered for %q", id)
	}
	return f(cc), nil
}

// Missing returns the specialists without a factory.
func (r *Registry) Missing() []models.ResponderID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []models.ResponderID
	for _, id := range models.Responders {
		if _, ok := r.factories[id]; !ok {
			out = append(out, id)
		}
	}
	return out
}
