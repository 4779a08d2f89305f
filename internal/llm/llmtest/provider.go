// Package llmtest provides a scripted llm.Provider for tests.
package llmtest

import (
	"context"
	"sync"

	"github.com/ppiankov/rebutqc/internal/llm"
)

// Reply is the scripted answer to one completion request
type Reply struct {
	Text string
	Err  error
}

// Provider answers completion requests with a user supplied function and
// records every request it receives.
type Provider struct {
	Respond func(req llm.CompletionRequest) Reply

	mu       sync.Mutex
	requests []llm.CompletionRequest
}

// New returns a provider that answers with respond
func New(respond func(req llm.CompletionRequest) Reply) *Provider {
	return &Provider{Respond: respond}
}

// Fixed returns a provider that answers every request with text
func Fixed(text string) *Provider {
	return New(func(llm.CompletionRequest) Reply { return Reply{Text: text} })
}

func (p *Provider) Name() string {
	return "scripted"
}

func (p *Provider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	p.mu.Lock()
	p.requests = append(p.requests, req)
	p.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	reply := p.Respond(req)
	if reply.Err != nil {
		return nil, reply.Err
	}
	return &llm.CompletionResponse{Text: reply.Text, Model: req.Model}, nil
}

func (p *Provider) IsAvailable(ctx context.Context) bool {
	return true
}

// Requests returns a copy of every request received so far
func (p *Provider) Requests() []llm.CompletionRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]llm.CompletionRequest, len(p.requests))
	copy(out, p.requests)
	return out
}

// Calls returns the number of requests received so far
func (p *Provider) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.requests)
}
