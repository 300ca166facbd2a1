package router

import (
	"context"
	"fmt"
	"sort"

	"github.com/hyperjump/shiryo/internal/models"
)

// followUpMaxWords bounds how long a query may be and still be treated as a
// follow-up to the previous responder when no rule matches.
const followUpMaxWords = 8

// Decider is the Tier-2 step. It only classifies and returns pure data.
type Decider interface {
	Decide(ctx context.Context, query string, history []models.Turn) (models.RoutingDirective, error)
}

// RuleDecider scores responders by the configured phrases found in the query.
type RuleDecider struct {
	rules map[models.ResponderID][][]string
}

// NewRuleDecider creates a rule decider. Every key must name a responder.
func NewRuleDecider(rules map[string][]string) (*RuleDecider, error) {
	d := &RuleDecider{rules: make(map[models.ResponderID][][]string, len(rules))}
	for name, phrases := range rules {
		id := models.ResponderID(name)
		if !id.Known() || id == models.ResponderClarify {
			return nil, fmt.Errorf("router rules: unknown responder %q", name)
		}
		for _, p := range phrases {
			if ws := words(p); len(ws) > 0 {
				d.rules[id] = append(d.rules[id], ws)
			}
		}
	}
	return d, nil
}

// Decide picks the responder with the most matching phrases. Ties and misses
// fall back to the previous responder for short follow-ups, else clarify.
func (d *RuleDecider) Decide(ctx context.Context, query string, history []models.Turn) (models.RoutingDirective, error) {
	if err := ctx.Err(); err != nil {
		return models.RoutingDirective{}, err
	}
	qw := words(query)
	if len(qw) == 0 {
		return models.Clarify(query, "empty query"), nil
	}

	type score struct {
		id    models.ResponderID
		count int
	}
	var scores []score
	total := 0
	for _, id := range models.Responders {
		n := 0
		for _, phrase := range d.rules[id] {
			if containsPhrase(qw, phrase, 0) {
				n++
			}
		}
		if n > 0 {
			scores = append(scores, score{id, n})
			total += n
		}
	}
	sort.SliceStable(scores, func(i, j int) bool { return scores[i].count > scores[j].count })

	switch {
	case len(scores) == 1 || (len(scores) > 1 && scores[0].count > scores[1].count):
		best := scores[0]
		return models.NewDirective(best.id, query, float64(best.count)/float64(total),
			fmt.Sprintf("matched %d %s phrase(s)", best.count, best.id)), nil
	case len(scores) > 1:
		if prev, ok := previousResponder(history); ok {
			for _, s := range scores {
				if s.id == prev && s.count == scores[0].count {
					return models.NewDirective(prev, query, 0.5, "tie broken by conversation context"), nil
				}
			}
		}
		return models.Clarify(query, fmt.Sprintf("ambiguous between %s and %s", scores[0].id, scores[1].id)), nil
	}

	if prev, ok := previousResponder(history); ok && len(qw) <= followUpMaxWords {
		return models.NewDirective(prev, query, 0.4, "follow-up to previous answer"), nil
	}
	return models.Clarify(query, "no responder matched"), nil
}

// previousResponder returns the specialist of the latest assistant turn.
func previousResponder(history []models.Turn) (models.ResponderID, bool) {
	for i := len(history) - 1; i >= 0; i-- {
		t := history[i]
		if t.Role != models.RoleAssistant {
			continue
		}
		for _, id := range models.Responders {
			if t.Responder == id {
				return id, true
			}
		}
		if t.Responder == models.ResponderFastPath {
			return models.ResponderDocs, true
		}
		return "", false
	}
	return "", false
}
