package router

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/hyperjump/shiryo/internal/config"
	"github.com/hyperjump/shiryo/internal/llm"
	"github.com/hyperjump/shiryo/internal/models"
)

func defaultRouterConfig() config.RouterConfig {
	cfg := &config.Config{}
	config.ApplyDefaults(cfg)
	return cfg.Router
}

func newDefaultRouter(t *testing.T) *Router {
	t.Helper()
	r, err := New(defaultRouterConfig(), nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	return r
}

func TestRouter_FastPathExample(t *testing.T) {
	r := newDefaultRouter(t)
	d := r.Route(context.Background(), "What is the minimum battery SOC threshold?", nil)
	if d.FastPath == nil {
		t.Fatalf("expected fast path, got directive %+v", d.Directive)
	}
	if d.Directive != nil {
		t.Error("fast path decision must not carry a directive")
	}
	if d.FastPath.Keyword != "threshold" || d.Tier() != 1 || d.Target() != models.ResponderFastPath {
		t.Errorf("unexpected fast path %+v (tier %d)", d.FastPath, d.Tier())
	}
}

func TestKeywordClassifier_Typos(t *testing.T) {
	c := NewKeywordClassifier(config.DefaultFastPathKeywords, 12, WithTypoTolerance(1))
	tests := []struct {
		query   string
		keyword string
	}{
		{"What is the SOC thresold for alarms?", "threshold"},
		{"Where is the charging porcedure?", "procedure"},
		{"Send me the inverter datasheet", "datasheet"},
		{"Can you do it manually please", ""},
		{"Where is the spot for the van?", ""},
		{"The threshold and the manaul", "threshold"},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			res, ok := c.Classify(tt.query)
			if tt.keyword == "" {
				if ok {
					t.Errorf("unexpected match %+v", res)
				}
				return
			}
			if !ok || res.Keyword != tt.keyword {
				t.Errorf("Classify = %+v, %v; want keyword %q", res, ok, tt.keyword)
			}
		})
	}
}

func TestEditDistance(t *testing.T) {
	tests := []struct {
		a, b string
		want int
	}{
		{"", "", 0},
		{"abc", "", 3},
		{"threshold", "thresold", 1},
		{"procedure", "porcedure", 1},
		{"manual", "manually", 2},
		{"café", "cafe", 1},
	}
	for _, tt := range tests {
		if got := editDistance(tt.a, tt.b); got != tt.want {
			t.Errorf("editDistance(%q, %q) = %d, want %d", tt.a, tt.b, got, tt.want)
		}
	}
}

func TestKeywordClassifier(t *testing.T) {
	c := NewKeywordClassifier(config.DefaultFastPathKeywords, 12)
	tests := []struct {
		query   string
		keyword string
	}{
		{"How to replace the inverter fuse", "how to"},
		{"Where is the charging PROCEDURE for cold weather?", "procedure"},
		{"Show me the travel policy", "policy"},
		{"manual?", ""},
		{"Can you do it manually please", ""},
		{"Is the system healthy right now?", ""},
		{"how   to\treset", "how to"},
		{"", ""},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			res, ok := c.Classify(tt.query)
			if tt.keyword == "" {
				if ok {
					t.Errorf("unexpected match %+v", res)
				}
				return
			}
			if !ok || res.Keyword != tt.keyword {
				t.Errorf("Classify = %+v, %v; want keyword %q", res, ok, tt.keyword)
			}
			if res != nil && res.Query != strings.TrimSpace(tt.query) {
				t.Errorf("query = %q", res.Query)
			}
		})
	}
}

func TestRuleDecider(t *testing.T) {
	d, err := NewRuleDecider(config.DefaultRouterRules)
	if err != nil {
		t.Fatal(err)
	}
	telemetryTurn := []models.Turn{
		{Role: models.RoleUser, Text: "What's the battery level?"},
		{Role: models.RoleAssistant, Text: "82%", Responder: models.ResponderTelemetry},
	}
	tests := []struct {
		name    string
		query   string
		history []models.Turn
		want    models.ResponderID
	}{
		{"telemetry", "what is the battery voltage right now", nil, models.ResponderTelemetry},
		{"general", "hello there", nil, models.ResponderGeneral},
		{"docs", "explain the onboarding document", nil, models.ResponderDocs},
		{"no match", "blorp", nil, models.ResponderClarify},
		{"empty", "   ", nil, models.ResponderClarify},
		{"follow-up", "and yesterday?", telemetryTurn, models.ResponderTelemetry},
		{"referring follow-up", "Is that good?", telemetryTurn, models.ResponderTelemetry},
		{"multi-word phrase", "what does the handbook cover", nil, models.ResponderDocs},
		{"long unmatched", "tell me something about the quarterly marketing offsite agenda plans", telemetryTurn, models.ResponderClarify},
		{"tie", "help me find the charge", nil, models.ResponderClarify},
		{"tie with context", "help me find the charge", telemetryTurn, models.ResponderTelemetry},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := d.Decide(context.Background(), tt.query, tt.history)
			if err != nil {
				t.Fatal(err)
			}
			if got.Target != tt.want {
				t.Errorf("target = %s (%s), want %s", got.Target, got.Rationale, tt.want)
			}
			if got.RoleLabel != got.Target.RoleLabel() || got.Query != tt.query {
				t.Errorf("directive fields = %+v", got)
			}
		})
	}
}

func TestNewRuleDecider_UnknownResponder(t *testing.T) {
	for _, name := range []string{"weather", "clarify"} {
		if _, err := NewRuleDecider(map[string][]string{name: {"x"}}); err == nil {
			t.Errorf("expected error for responder %q", name)
		}
	}
}

func TestLLMDecider(t *testing.T) {
	history := []models.Turn{
		{Role: models.RoleUser, Text: "What's the battery level?"},
		{Role: models.RoleAssistant, Text: "82%", Responder: models.ResponderTelemetry},
	}
	rules, err := NewRuleDecider(config.DefaultRouterRules)
	if err != nil {
		t.Fatal(err)
	}
	tests := []struct {
		name     string
		reply    string
		err      error
		fallback Decider
		want     models.ResponderID
	}{
		{"json", `{"target":"telemetry","confidence":0.9,"rationale":"battery"}`, nil, nil, models.ResponderTelemetry},
		{"wrapped", "Sure!\n```json\n{\"target\": \"Docs\"}\n```", nil, nil, models.ResponderDocs},
		{"unknown label", `{"target":"weather"}`, nil, nil, models.ResponderClarify},
		{"garbage", "I think telemetry", nil, nil, models.ResponderClarify},
		{"error no fallback", "", errors.New("503"), nil, models.ResponderClarify},
		{"error with fallback", "", errors.New("503"), rules, models.ResponderTelemetry},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fake := &llm.FakeClient{Reply: func([]llm.Message) (string, error) { return tt.reply, tt.err }}
			d := NewLLMDecider(fake, tt.fallback, nil)
			got, err := d.Decide(context.Background(), "and the voltage?", history)
			if err != nil {
				t.Fatal(err)
			}
			if got.Target != tt.want {
				t.Errorf("target = %s, want %s", got.Target, tt.want)
			}
			calls := fake.Calls()
			if len(calls) != 1 || !strings.Contains(calls[0][1].Content, "battery level") {
				t.Errorf("history not passed to the model: %+v", calls)
			}
		})
	}
}

func TestRouter_Exhaustive(t *testing.T) {
	queries := []string{
		"",
		"?",
		"What is the minimum battery SOC threshold?",
		"hello",
		"what is the battery status",
		"ｗｈａｔ ｉｓ ｔｈｉｓ",
		"電池の残量は？",
		strings.Repeat("very long question ", 200),
		"How to calibrate the sensors",
		"thanks!",
		"find the warranty document",
	}
	labels := []string{`{"target":"docs"}`, `{"target":"nope"}`, "", `{"target":"general"}`, `{"target":"clarify"}`}

	rules, err := New(defaultRouterConfig(), nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	i := 0
	fake := &llm.FakeClient{Reply: func([]llm.Message) (string, error) {
		i++
		return labels[i%len(labels)], nil
	}}
	cfg := defaultRouterConfig()
	cfg.Decider = config.DeciderLLM
	withLLM, err := New(cfg, fake, nil)
	if err != nil {
		t.Fatal(err)
	}

	allowed := map[models.ResponderID]bool{models.ResponderClarify: true}
	for _, id := range models.Responders {
		allowed[id] = true
	}
	for _, r := range []*Router{rules, withLLM} {
		for _, q := range queries {
			d := r.Route(context.Background(), q, nil)
			if (d.FastPath == nil) == (d.Directive == nil) {
				t.Fatalf("query %q: decision must be exactly one of fast path or directive: %+v", q, d)
			}
			if d.Directive != nil && !allowed[d.Directive.Target] {
				t.Errorf("query %q: directive targets %q", q, d.Directive.Target)
			}
		}
	}
}

type failingDecider struct{}

func (failingDecider) Decide(ctx context.Context, query string, history []models.Turn) (models.RoutingDirective, error) {
	return models.RoutingDirective{}, errors.New("boom")
}

func TestRouter_DeciderErrorBecomesClarify(t *testing.T) {
	r := NewRouter(NewKeywordClassifier(nil, 0), failingDecider{})
	d := r.Route(context.Background(), "anything", nil)
	if d.Directive == nil || d.Directive.Target != models.ResponderClarify {
		t.Errorf("decision = %+v", d)
	}
}

func TestNew_Validation(t *testing.T) {
	cfg := defaultRouterConfig()
	cfg.Decider = config.DeciderLLM
	if _, err := New(cfg, nil, nil); err == nil {
		t.Error("expected error for llm decider without client")
	}
	cfg.Decider = "magic"
	if _, err := New(cfg, nil, nil); err == nil {
		t.Error("expected error for unknown decider")
	}
}
