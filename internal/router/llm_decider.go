package router

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/hyperjump/shiryo/internal/llm"
	"github.com/hyperjump/shiryo/internal/models"
	"github.com/hyperjump/shiryo/pkg/utils"
	"go.uber.org/zap"
)

const historyTurns = 6

const deciderPrompt = `You route user requests to exactly one specialist. You never answer the request.

Specialists:
- docs: questions answered by the company knowledge base (manuals, policies, specifications, procedures)
- telemetry: the current state of the battery and power system (charge, voltage, temperature, status)
- general: greetings, small talk, and questions about the assistant itself
- clarify: the request is too ambiguous to route

Reply with a single JSON object and nothing else:
{"target": "<docs|telemetry|general|clarify>", "confidence": <0..1>, "rationale": "<short reason>"}`

// LLMDecider asks a chat model for a routing label.
type LLMDecider struct {
	client   llm.Client
	fallback Decider
	logger   *zap.Logger
}

// NewLLMDecider creates a decider backed by client. When the model call fails,
// fallback decides instead; a nil fallback yields clarify.
func NewLLMDecider(client llm.Client, fallback Decider, logger *zap.Logger) *LLMDecider {
	return &LLMDecider{client: client, fallback: fallback, logger: utils.OrNop(logger)}
}

type llmLabel struct {
	Target     string  `json:"target"`
	Confidence float64 `json:"confidence"`
	Rationale  string  `json:"rationale"`
}

// Decide returns the model's label validated against the responder set.
func (d *LLMDecider) Decide(ctx context.Context, query string, history []models.Turn) (models.RoutingDirective, error) {
	msgs := []llm.Message{{Role: llm.RoleSystem, Content: deciderPrompt}}
	msgs = append(msgs, llm.Message{Role: llm.RoleUser, Content: routingRequest(query, history)})

	text, err := d.client.Chat(ctx, msgs, llm.Options{MaxTokens: 200})
	if err != nil {
		d.logger.Warn("llm decider unavailable", zap.Error(err))
		if d.fallback != nil {
			return d.fallback.Decide(ctx, query, history)
		}
		return models.Clarify(query, "routing model unavailable"), nil
	}

	label, err := parseLabel(text)
	if err != nil {
		d.logger.Warn("llm decider returned an unparseable label", zap.String("reply", utils.Truncate(text, 200)), zap.Error(err))
		return models.Clarify(query, "unparseable routing label"), nil
	}
	return models.NewDirective(models.ResponderID(label.Target), query, label.Confidence, label.Rationale), nil
}

func routingRequest(query string, history []models.Turn) string {
	var b strings.Builder
	if len(history) > 0 {
		b.WriteString("Recent conversation:\n")
		for _, t := range history[max(0, len(history)-historyTurns):] {
			fmt.Fprintf(&b, "%s: %s\n", t.Role, utils.Truncate(t.Text, 300))
		}
		b.WriteString("\n")
	}
	fmt.Fprintf(&b, "Request: %s", query)
	return b.String()
}

// parseLabel extracts the first JSON object in text.
func parseLabel(text string) (llmLabel, error) {
	var label llmLabel
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end < start {
		return label, fmt.Errorf("no JSON object in reply")
	}
	if err := json.Unmarshal([]byte(text[start:end+1]), &label); err != nil {
		return label, err
	}
	label.Target = strings.ToLower(strings.TrimSpace(label.Target))
	if label.Confidence < 0 || label.Confidence > 1 {
		label.Confidence = 0
	}
	return label, nil
}
