package llm

import (
	"context"
	"sync"
)

// FakeClient is a scripted Client for tests and offline runs.
type FakeClient struct {
	// Reply computes the response to a call; when nil, Response is returned.
	Reply    func(messages []Message) (string, error)
	Response string

	mu    sync.Mutex
	calls [][]Message
}

var _ Client = (*FakeClient)(nil)

// Chat records the call and returns the scripted reply.
func (f *FakeClient) Chat(ctx context.Context, messages []Message, opts Options) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	f.mu.Lock()
	f.calls = append(f.calls, append([]Message(nil), messages...))
	f.mu.Unlock()
	if f.Reply != nil {
		return f.Reply(messages)
	}
	return f.Response, nil
}

// Model returns "fake".
func (f *FakeClient) Model() string { return "fake" }

// Calls returns every recorded conversation.
func (f *FakeClient) Calls() [][]Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]Message(nil), f.calls...)
}
