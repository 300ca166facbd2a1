// Package router decides, per request, whether a query takes the keyword fast
// path to search (Tier 1) or is labeled for a specialist responder (Tier 2).
// Neither tier produces an answer.
package router

import (
	"context"
	"fmt"

	"github.com/hyperjump/shiryo/internal/config"
	"github.com/hyperjump/shiryo/internal/llm"
	"github.com/hyperjump/shiryo/internal/metrics"
	"github.com/hyperjump/shiryo/internal/models"
	"go.uber.org/zap"
)

// Decision is exactly one of a fast-path match or a directive.
type Decision struct {
	FastPath  *FastPathResult          `json:"fast_path,omitempty"`
	Directive *models.RoutingDirective `json:"directive,omitempty"`
}

// Tier returns 1 for fast-path decisions and 2 otherwise.
func (d Decision) Tier() int {
	if d.FastPath != nil {
		return 1
	}
	return 2
}

// Target returns the responder that handles the decision.
func (d Decision) Target() models.ResponderID {
	if d.FastPath != nil {
		return models.ResponderFastPath
	}
	return d.Directive.Target
}

// Router combines a classifier and a decider.
type Router struct {
	classifier Classifier
	decider    Decider
	logger     *zap.Logger
}

// Option configures a Router.
type Option func(*Router)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(r *Router) {
		if l != nil {
			r.logger = l
		}
	}
}

// NewRouter creates a router.
func NewRouter(classifier Classifier, decider Decider, opts ...Option) *Router {
	r := &Router{classifier: classifier, decider: decider, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// New builds the router described by cfg. client may be nil unless the LLM decider is selected.
func New(cfg config.RouterConfig, client llm.Client, logger *zap.Logger) (*Router, error) {
	rules, err := NewRuleDecider(cfg.Rules)
	if err != nil {
		return nil, err
	}
	var decider Decider = rules
	switch cfg.Decider {
	case config.DeciderRules, "":
	case config.DeciderLLM:
		if client == nil {
			return nil, fmt.Errorf("router: decider %q needs an llm provider", cfg.Decider)
		}
		decider = NewLLMDecider(client, rules, logger)
	default:
		return nil, fmt.Errorf("router: unknown decider %q", cfg.Decider)
	}
	classifier := NewKeywordClassifier(cfg.FastPathKeywords, cfg.FastPathMinLength, WithTypoTolerance(cfg.FastPathTypos))
	return NewRouter(classifier, decider, WithLogger(logger)), nil
}

// Route classifies query. It never fails: decider errors become a clarify directive.
func (r *Router) Route(ctx context.Context, query string, history []models.Turn) Decision {
	var d Decision
	if fp, ok := r.classifier.Classify(query); ok {
		d.FastPath = fp
	} else {
		directive, err := r.decider.Decide(ctx, query, history)
		if err != nil {
			r.logger.Warn("routing decision failed", zap.Error(err))
			directive = models.Clarify(query, "routing failed")
		}
		d.Directive = &directive
	}
	metrics.RouterDecisions.WithLabelValues(fmt.Sprint(d.Tier()), string(d.Target())).Inc()
	r.logger.Debug("routed query",
		zap.Int("tier", d.Tier()),
		zap.String("target", string(d.Target())))
	return d
}
