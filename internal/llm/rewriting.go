package llm

import (
	"context"
)

const rewritingSystemPrompt = "You are an experienced podcast script editor. " +
	"Improve only the weaknesses you are told about, keep each speaker's voice, and answer only with JSON."

// RewriteEntry is one item of a rewriting response. Reasoning is optional.
type RewriteEntry struct {
	ID           string `json:"id"`
	ImprovedText string `json:"improved_text"`
	Reasoning    string `json:"reasoning"`
}

// RewriteResult is the parsed response of one rewriting call
type RewriteResult struct {
	Entries    []RewriteEntry
	Raw        string
	Model      string
	TokensUsed int
}

// RewritingClient sends a rendered rewrite prompt to the provider and parses
// the improved texts. It uses the rewrite model when one is configured.
type RewritingClient struct {
	provider    Provider
	model       string
	maxTokens   int
	temperature float32
}

// NewRewritingClient creates a rewriting client on top of provider
func NewRewritingClient(provider Provider, config Config) *RewritingClient {
	m := config.RewriteModel
	if m == "" {
		m = config.Model
	}
	return &RewritingClient{
		provider:    provider,
		model:       m,
		maxTokens:   config.MaxTokens,
		temperature: config.Temperature,
	}
}

// Model returns the model rewrite requests are sent to
func (c *RewritingClient) Model() string {
	return c.model
}

// Rewrite issues one rewriting call. On a ParseError the returned result
// still carries the raw response text.
func (c *RewritingClient) Rewrite(ctx context.Context, prompt string) (*RewriteResult, error) {
	resp, err := c.provider.Complete(ctx, CompletionRequest{
		System:      rewritingSystemPrompt,
		Prompt:      prompt,
		Model:       c.model,
		MaxTokens:   c.maxTokens,
		Temperature: c.temperature,
		JSON:        true,
	})
	if err != nil {
		return nil, err
	}

	result := &RewriteResult{Raw: resp.Text, Model: resp.Model, TokensUsed: resp.TokensUsed}
	entries, err := decodeList[RewriteEntry](resp.Text, "rewrites")
	if err != nil {
		return result, err
	}
	result.Entries = entries
	return result, nil
}
