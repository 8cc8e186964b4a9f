package provider

import (
	"context"
	"fmt"
)

// Completer sends single-prompt requests through a Router on behalf of one
// agent. It satisfies memory.Completer.
type Completer struct {
	router      *Router
	agentID     string
	model       string
	system      string
	temperature float64
	maxTokens   int
}

// CompleterOption customises a Completer.
type CompleterOption func(*Completer)

// WithSystemPrompt prepends a system message to every request.
func WithSystemPrompt(s string) CompleterOption { return func(c *Completer) { c.system = s } }

// WithTemperature sets the sampling temperature.
func WithTemperature(t float64) CompleterOption { return func(c *Completer) { c.temperature = t } }

// WithMaxTokens caps the completion length.
func WithMaxTokens(n int) CompleterOption { return func(c *Completer) { c.maxTokens = n } }

// NewCompleter binds router to agentID and model.
func NewCompleter(router *Router, agentID, model string, opts ...CompleterOption) *Completer {
	c := &Completer{router: router, agentID: agentID, model: model}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Complete returns the model's reply to prompt.
func (c *Completer) Complete(ctx context.Context, prompt string) (string, error) {
	var msgs []Message
	if c.system != "" {
		msgs = append(msgs, Message{Role: RoleSystem, Content: c.system})
	}
	msgs = append(msgs, Message{Role: RoleUser, Content: prompt})

	resp, err := c.router.Route(ctx, c.agentID, &ChatRequest{
		Model:       c.model,
		Messages:    msgs,
		Temperature: c.temperature,
		MaxTokens:   c.maxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("complete for %s: %w", c.agentID, err)
	}
	return resp.Content, nil
}
