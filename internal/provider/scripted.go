package provider

import (
	"context"
	"sync"
)

// ReplyFunc produces a reply for the messages of a request.
type ReplyFunc func(ctx context.Context, msgs []Message) (string, error)

// ScriptedProvider answers from a Go function instead of a remote model.
// It backs offline runs and tests.
type ScriptedProvider struct {
	id    string
	reply ReplyFunc

	mu    sync.Mutex
	calls int
}

// NewScriptedProvider creates a provider that answers with reply.
func NewScriptedProvider(id string, reply ReplyFunc) *ScriptedProvider {
	return &ScriptedProvider{id: id, reply: reply}
}

// StayReply always chooses to wait in place.
func StayReply(context.Context, []Message) (string, error) {
	return "Thought: nothing urgent, hold position.\nAction: stay()", nil
}

func (p *ScriptedProvider) ID() string   { return p.id }
func (p *ScriptedProvider) Name() string { return "scripted:" + p.id }

func (p *ScriptedProvider) Chat(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
	p.mu.Lock()
	p.calls++
	p.mu.Unlock()
	out, err := p.reply(ctx, req.Messages)
	if err != nil {
		return nil, err
	}
	return &ChatResponse{Model: req.Model, Content: out, FinishReason: "stop"}, nil
}

func (p *ScriptedProvider) ListModels(context.Context) ([]Model, error) {
	return []Model{{ID: "scripted", Name: "scripted", Provider: p.id}}, nil
}

func (p *ScriptedProvider) HealthCheck(context.Context) error { return nil }

// Calls returns how many chat requests were served.
func (p *ScriptedProvider) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}
