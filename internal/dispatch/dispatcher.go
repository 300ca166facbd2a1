package dispatch

import (
	"context"
	"errors"
	"fmt"

	"github.com/hyperjump/shiryo/internal/metrics"
	"github.com/hyperjump/shiryo/internal/models"
	"github.com/hyperjump/shiryo/internal/storage"
	"go.uber.org/zap"
)

var (
	// ErrResponderFailed marks a reply whose responder could not answer.
	ErrResponderFailed = errors.New("responder failed")
	// ErrMissingContext is returned when a dispatch has no conversation.
	ErrMissingContext = errors.New("dispatch: conversation context is required")
)

// Dispatcher invokes the responder named by a directive and logs the exchange.
type Dispatcher struct {
	registry *Registry
	storage  storage.Storage
	logger   *zap.Logger
}

// Option configures a Dispatcher or an Assistant.
type Option func(*options)

type options struct {
	logger       *zap.Logger
	contextTurns int
	searchLimit  int
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithContextTurns sets how many prior turns form the context window.
func WithContextTurns(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.contextTurns = n
		}
	}
}

// WithSearchLimit sets how many results fast-path answers include.
func WithSearchLimit(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.searchLimit = n
		}
	}
}

func applyOptions(opts []Option) options {
	o := options{logger: zap.NewNop(), contextTurns: 10, searchLimit: 5}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// NewDispatcher creates a dispatcher.
func NewDispatcher(registry *Registry, store storage.Storage, opts ...Option) *Dispatcher {
	o := applyOptions(opts)
	return &Dispatcher{registry: registry, storage: store, logger: o.logger}
}

// Dispatch answers directive within cc and persists the user and assistant turns.
// A responder failure yields an apology reply with Failed set; the returned
// error is reserved for missing context and persistence failures.
func (d *Dispatcher) Dispatch(ctx context.Context, directive models.RoutingDirective, cc ConversationContext) (Reply, error) {
	if cc.ConversationID == "" {
		return Reply{}, ErrMissingContext
	}
	if _, _, err := d.storage.EnsureConversation(ctx, cc.ConversationID); err != nil {
		return Reply{}, fmt.Errorf("ensure conversation: %w", err)
	}
	if err := d.storage.AppendTurn(ctx, &models.Turn{
		ConversationID: cc.ConversationID,
		Role:           models.RoleUser,
		Text:           directive.Query,
	}); err != nil {
		return Reply{}, fmt.Errorf("append user turn: %w", err)
	}

	reply := d.respond(ctx, directive, cc)

	if err := d.storage.AppendTurn(ctx, &models.Turn{
		ConversationID: cc.ConversationID,
		Role:           models.RoleAssistant,
		Text:           reply.Text,
		Responder:      reply.Responder,
		Failed:         reply.Failed,
	}); err != nil {
		return reply, fmt.Errorf("append assistant turn: %w", err)
	}
	return reply, nil
}

func (d *Dispatcher) respond(ctx context.Context, directive models.RoutingDirective, cc ConversationContext) Reply {
	target := directive.Target
	if target == models.ResponderClarify {
		return Reply{Text: ClarifyText, Responder: models.ResponderClarify}
	}
	reply, err := d.invoke(ctx, target, directive.Query, cc)
	if err != nil {
		metrics.ResponderFailures.WithLabelValues(string(target)).Inc()
		d.logger.Error("responder failed",
			zap.String("responder", string(target)),
			zap.String("conversation", cc.ConversationID),
			zap.Error(err))
		return Reply{
			Text:      ApologyText,
			Responder: target,
			Failed:    true,
			Err:       fmt.Errorf("%w: %s: %w", ErrResponderFailed, target, err),
		}
	}
	reply.Responder = target
	return reply
}

// invoke builds and runs the responder, converting panics into errors.
func (d *Dispatcher) invoke(ctx context.Context, target models.ResponderID, query string, cc ConversationContext) (reply Reply, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	responder, err := d.registry.Build(target, cc)
	if err != nil {
		return Reply{}, err
	}
	return responder.Respond(ctx, query)
}
