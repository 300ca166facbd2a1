package dispatch

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/hyperjump/shiryo/internal/models"
	"github.com/hyperjump/shiryo/internal/router"
	"github.com/hyperjump/shiryo/internal/storage"
	"go.uber.org/zap"
)

// ErrEmptyMessage is returned by Ask for a blank message.
var ErrEmptyMessage = errors.New("message is empty")

// Answer is the result of Ask.
type Answer struct {
	Response      string   `json:"response"`
	ResponderUsed string   `json:"responder_used"`
	SessionID     string   `json:"session_id"`
	Citations     []string `json:"citations,omitempty"`
	Tier          int      `json:"tier"`
}

// Assistant runs the whole request flow: load context, route, then answer
// through search or a specialist.
type Assistant struct {
	router       *router.Router
	dispatcher   *Dispatcher
	search       Searcher
	storage      storage.Storage
	contextTurns int
	searchLimit  int
	logger       *zap.Logger
}

// NewAssistant creates an assistant.
func NewAssistant(r *router.Router, d *Dispatcher, search Searcher, store storage.Storage, opts ...Option) *Assistant {
	o := applyOptions(opts)
	return &Assistant{
		router:       r,
		dispatcher:   d,
		search:       search,
		storage:      store,
		contextTurns: o.contextTurns,
		searchLimit:  o.searchLimit,
		logger:       o.logger,
	}
}

// Ask answers message in the session sessionID, starting a new session when it is empty.
func (a *Assistant) Ask(ctx context.Context, message, sessionID string) (*Answer, error) {
	message = strings.TrimSpace(message)
	if message == "" {
		return nil, ErrEmptyMessage
	}
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	if _, _, err := a.storage.EnsureConversation(ctx, sessionID); err != nil {
		return nil, fmt.Errorf("ensure conversation: %w", err)
	}
	history, err := a.storage.RecentTurns(ctx, sessionID, a.contextTurns)
	if err != nil {
		return nil, fmt.Errorf("load context: %w", err)
	}
	cc := NewConversationContext(sessionID, history)

	decision := a.router.Route(ctx, message, history)
	if decision.FastPath != nil {
		return a.fastPath(ctx, decision.FastPath, cc)
	}

	reply, err := a.dispatcher.Dispatch(ctx, *decision.Directive, cc)
	if err != nil {
		return nil, err
	}
	return &Answer{
		Response:      reply.Text,
		ResponderUsed: string(reply.Responder),
		SessionID:     sessionID,
		Citations:     reply.Citations,
		Tier:          decision.Tier(),
	}, nil
}

// fastPath answers directly from search and persists both turns.
func (a *Assistant) fastPath(ctx context.Context, fp *router.FastPathResult, cc ConversationContext) (*Answer, error) {
	if err := a.storage.AppendTurn(ctx, &models.Turn{
		ConversationID: cc.ConversationID,
		Role:           models.RoleUser,
		Text:           fp.Query,
	}); err != nil {
		return nil, fmt.Errorf("append user turn: %w", err)
	}

	answer := &Answer{ResponderUsed: string(models.ResponderFastPath), SessionID: cc.ConversationID, Tier: 1}
	failed := false
	resp, err := a.search.Search(ctx, fp.Query, a.searchLimit)
	if err != nil {
		a.logger.Error("fast path search failed", zap.String("query", fp.Query), zap.Error(err))
		answer.Response = ApologyText
		failed = true
	} else {
		answer.Response = RenderResults(resp)
		answer.Citations = resp.Citations
	}

	if err := a.storage.AppendTurn(ctx, &models.Turn{
		ConversationID: cc.ConversationID,
		Role:           models.RoleAssistant,
		Text:           answer.Response,
		Responder:      models.ResponderFastPath,
		Failed:         failed,
	}); err != nil {
		return nil, fmt.Errorf("append assistant turn: %w", err)
	}
	return answer, nil
}
