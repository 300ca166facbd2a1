package dispatch

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode"

	"github.com/hyperjump/shiryo/internal/llm"
	"github.com/hyperjump/shiryo/internal/models"
	"github.com/hyperjump/shiryo/internal/telemetry"
	"github.com/hyperjump/shiryo/pkg/utils"
)

const (
	contextFileChars = 2000
	maxContextFiles  = 5
	sourceChars      = 1500
	excerptChars     = 300
	followUpWords    = 8
)

// Searcher is the search tool available to the docs responder.
type Searcher interface {
	Search(ctx context.Context, query string, limit int) (*models.SearchResponse, error)
}

// ContextLoader lists the always-included context documents.
type ContextLoader interface {
	ListContextDocuments(ctx context.Context) ([]*models.Document, error)
}

// Fixed replies.
const (
	ClarifyText   = "I'm not sure what you're asking. Could you rephrase, or say whether you need documentation or the current system status?"
	ApologyText   = "Sorry, I couldn't answer that just now. Please try again in a moment."
	NoResultsText = "I couldn't find anything in the knowledge base about that."
	NoReadingText = "No telemetry reading is available right now."
	GreetingText  = "Hello! I can answer questions from the knowledge base and report the current battery and power status."
)

const docsSystemText = `You are the documentation specialist for a company knowledge base.
Answer only from the numbered sources and the company context below. Cite sources by title in square brackets.
If the sources do not contain the answer, say so.`

const telemetrySystemText = `You are the system status specialist. Answer using only the latest telemetry reading below.
If the reading does not contain what is asked, say so.`

const generalSystemText = `You are a friendly assistant for a company knowledge base and its battery and power system.
Keep answers short. For documentation or live status questions, suggest asking about them directly.`

// DocsResponder answers from search results and context files.
type DocsResponder struct {
	search  Searcher
	loader  ContextLoader
	client  llm.Client
	limit   int
	context ConversationContext
}

// DocsFactory returns a factory for DocsResponder. client may be nil, in which
// case replies are rendered excerpts.
func DocsFactory(search Searcher, loader ContextLoader, client llm.Client, limit int) Factory {
	return func(cc ConversationContext) Responder {
		return &DocsResponder{search: search, loader: loader, client: client, limit: limit, context: cc}
	}
}

// Respond searches for query, widened with the previous user turn for follow-ups.
func (r *DocsResponder) Respond(ctx context.Context, query string) (Reply, error) {
	searchQuery := query
	if prev := r.context.LastUserText(); prev != "" && isFollowUp(query) {
		searchQuery = prev + " " + query
	}
	resp, err := r.search.Search(ctx, searchQuery, r.limit)
	if err != nil {
		return Reply{}, fmt.Errorf("search: %w", err)
	}
	reply := Reply{Responder: models.ResponderDocs, Citations: resp.Citations}
	if r.client == nil {
		reply.Text = RenderResults(resp)
		return reply, nil
	}

	system := docsSystemText
	if r.loader != nil {
		docs, err := r.loader.ListContextDocuments(ctx)
		if err != nil {
			return Reply{}, fmt.Errorf("load context files: %w", err)
		}
		if len(docs) > 0 {
			var b strings.Builder
			b.WriteString(system)
			b.WriteString("\n\nCompany context:\n")
			for _, d := range docs[:min(len(docs), maxContextFiles)] {
				fmt.Fprintf(&b, "## %s\n%s\n", d.Title, utils.Truncate(d.Content, contextFileChars))
			}
			system = b.String()
		}
	}

	var user strings.Builder
	if len(resp.Results) == 0 {
		user.WriteString("Sources: none found.\n")
	} else {
		user.WriteString("Sources:\n")
		for i, res := range resp.Results {
			fmt.Fprintf(&user, "[%d] %s (%s)\n%s\n\n", i+1, res.Source, res.Folder, utils.Truncate(res.Content, sourceChars))
		}
	}
	fmt.Fprintf(&user, "Question: %s", query)

	text, err := r.client.Chat(ctx, chatMessages(system, r.context, user.String()), llm.Options{})
	if err != nil {
		return Reply{}, err
	}
	reply.Text = strings.TrimSpace(text)
	return reply, nil
}

// TelemetryResponder answers from the latest telemetry reading.
type TelemetryResponder struct {
	source  telemetry.Source
	client  llm.Client
	context ConversationContext
}

// TelemetryFactory returns a factory for TelemetryResponder.
func TelemetryFactory(source telemetry.Source, client llm.Client) Factory {
	return func(cc ConversationContext) Responder {
		return &TelemetryResponder{source: source, client: client, context: cc}
	}
}

// Respond reports the reading, or lets the model answer from it.
func (r *TelemetryResponder) Respond(ctx context.Context, query string) (Reply, error) {
	reply := Reply{Responder: models.ResponderTelemetry}
	reading, err := r.source.Latest(ctx)
	if errors.Is(err, telemetry.ErrNoReading) {
		reply.Text = NoReadingText
		return reply, nil
	}
	if err != nil {
		return Reply{}, fmt.Errorf("telemetry: %w", err)
	}
	summary := reading.Summary()
	if r.client == nil {
		reply.Text = r.statusText(query, reading, summary)
		return reply, nil
	}
	system := telemetrySystemText + "\n\nLatest reading:\n" + summary
	text, err := r.client.Chat(ctx, chatMessages(system, r.context, query), llm.Options{})
	if err != nil {
		return Reply{}, err
	}
	reply.Text = strings.TrimSpace(text)
	return reply, nil
}

// statusText answers without a model. A follow-up such as "Is that good?" gets
// the earlier answer set against an assessment of the current reading.
func (r *TelemetryResponder) statusText(query string, reading telemetry.Reading, summary string) string {
	status := "Current system status:\n" + summary
	prev := r.context.LastAssistantText()
	if prev == "" || !isFollowUp(query) {
		return status
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Earlier I reported: %s\n", utils.Truncate(strings.Join(strings.Fields(prev), " "), excerptChars))
	if verdict, ok := reading.Assess(); ok {
		b.WriteString(verdict)
		b.WriteString("\n")
	}
	b.WriteString(status)
	return b.String()
}

// GeneralResponder handles small talk.
type GeneralResponder struct {
	client  llm.Client
	context ConversationContext
}

// GeneralFactory returns a factory for GeneralResponder.
func GeneralFactory(client llm.Client) Factory {
	return func(cc ConversationContext) Responder {
		return &GeneralResponder{client: client, context: cc}
	}
}

// Respond greets, or chats when a model is configured.
func (r *GeneralResponder) Respond(ctx context.Context, query string) (Reply, error) {
	reply := Reply{Responder: models.ResponderGeneral}
	if r.client == nil {
		reply.Text = GreetingText
		if prev := r.context.LastUserText(); prev != "" && isFollowUp(query) {
			reply.Text = fmt.Sprintf("You asked earlier: %q. I need a language model to discuss it further. %s",
				utils.Truncate(prev, excerptChars), GreetingText)
		}
		return reply, nil
	}
	text, err := r.client.Chat(ctx, chatMessages(generalSystemText, r.context, query), llm.Options{})
	if err != nil {
		return Reply{}, err
	}
	reply.Text = strings.TrimSpace(text)
	return reply, nil
}

func chatMessages(system string, cc ConversationContext, user string) []llm.Message {
	msgs := []llm.Message{{Role: llm.RoleSystem, Content: system}}
	msgs = append(msgs, cc.Messages()...)
	return append(msgs, llm.Message{Role: llm.RoleUser, Content: user})
}

// RenderResults formats search results as a plain-text answer with sources.
func RenderResults(resp *models.SearchResponse) string {
	if resp == nil || len(resp.Results) == 0 {
		return NoResultsText
	}
	var b strings.Builder
	b.WriteString("Here is what I found:\n")
	for _, r := range resp.Results {
		excerpt := strings.Join(strings.Fields(r.Content), " ")
		fmt.Fprintf(&b, "\n- %s (%s)", utils.Truncate(excerpt, excerptChars), r.Source)
	}
	fmt.Fprintf(&b, "\n\nSources: %s", strings.Join(resp.Citations, ", "))
	return b.String()
}

var referringWords = map[string]bool{
	"it": true, "its": true, "that": true, "this": true, "they": true,
	"them": true, "those": true, "these": true, "there": true,
}

// isFollowUp reports whether query is short and refers back to earlier turns.
func isFollowUp(query string) bool {
	ws := strings.FieldsFunc(strings.ToLower(query), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	if len(ws) == 0 || len(ws) > followUpWords {
		return false
	}
	if ws[0] == "and" || (len(ws) > 1 && ws[0] == "what" && ws[1] == "about") {
		return true
	}
	for _, w := range ws {
		if referringWords[w] {
			return true
		}
	}
	return false
}
