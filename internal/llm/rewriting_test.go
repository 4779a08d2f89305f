package llm

import (
	"context"
	"errors"
	"testing"
)

func TestRewritingClient_Rewrite(t *testing.T) {
	stub := &stubProvider{text: `{"rewrites": [
		{"id": "r1", "improved_text": "Better text.", "reasoning": "Added a source."},
		{"id": "r2", "improved_text": "Sharper text."}
	]}`}
	client := NewRewritingClient(stub, Config{Model: "gpt-4o-mini", RewriteModel: "gpt-4o"})

	res, err := client.Rewrite(context.Background(), "rewrite these")
	if err != nil {
		t.Fatalf("Rewrite failed: %v", err)
	}

	if stub.last.Model != "gpt-4o" {
		t.Errorf("expected rewrite model gpt-4o, got %q", stub.last.Model)
	}
	if client.Model() != "gpt-4o" {
		t.Errorf("Model() = %q", client.Model())
	}
	if len(res.Entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(res.Entries))
	}
	if res.Entries[0].Reasoning != "Added a source." {
		t.Errorf("unexpected reasoning: %q", res.Entries[0].Reasoning)
	}
	if res.Entries[1].Reasoning != "" {
		t.Errorf("missing reasoning should decode as empty, got %q", res.Entries[1].Reasoning)
	}
}

func TestRewritingClient_DefaultsToScoringModel(t *testing.T) {
	client := NewRewritingClient(&stubProvider{}, Config{Model: "llama3.1"})
	if client.Model() != "llama3.1" {
		t.Errorf("expected fallback to base model, got %q", client.Model())
	}
}

func TestRewritingClient_ParseError(t *testing.T) {
	stub := &stubProvider{text: "I cannot help with that."}
	client := NewRewritingClient(stub, Config{})

	res, err := client.Rewrite(context.Background(), "p")
	var perr *ParseError
	if !errors.As(err, &perr) {
		t.Fatalf("expected ParseError, got %v", err)
	}
	if res.Raw != stub.text {
		t.Errorf("expected raw text to be kept, got %q", res.Raw)
	}
}
