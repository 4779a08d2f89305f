package llm

import (
	"context"
	"errors"
	"testing"

	"github.com/ppiankov/rebutqc/internal/model"
)

// stubProvider answers every request with a fixed text
type stubProvider struct {
	text string
	err  error
	last CompletionRequest
}

func (s *stubProvider) Name() string { return "stub" }

func (s *stubProvider) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	s.last = req
	if s.err != nil {
		return nil, s.err
	}
	return &CompletionResponse{Text: s.text, Model: req.Model, TokensUsed: 42}, nil
}

func (s *stubProvider) IsAvailable(ctx context.Context) bool { return true }

func TestScoringClient_Score(t *testing.T) {
	stub := &stubProvider{text: `{"scores": [
		{"id": "r1", "accuracy": 9, "completeness": 8, "effectiveness": 3},
		{"id": "r2", "accuracy": 7, "completeness": 6, "effectiveness": 6}
	]}`}
	client := NewScoringClient(stub, Config{Model: "gpt-4o-mini", MaxTokens: 500})

	res, err := client.Score(context.Background(), "score these")
	if err != nil {
		t.Fatalf("Score failed: %v", err)
	}

	if !stub.last.JSON {
		t.Error("expected JSON mode request")
	}
	if stub.last.Model != "gpt-4o-mini" {
		t.Errorf("expected scoring model, got %q", stub.last.Model)
	}
	if stub.last.System == "" {
		t.Error("expected a system prompt")
	}
	if len(res.Entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(res.Entries))
	}
	if res.TokensUsed != 42 {
		t.Errorf("expected token usage to be carried, got %d", res.TokensUsed)
	}

	score, err := res.Entries[0].Score()
	if err != nil {
		t.Fatalf("Score() failed: %v", err)
	}
	want := model.AssessmentScore{Accuracy: 9, Completeness: 8, Effectiveness: 3}
	if score != want {
		t.Errorf("got %v, want %v", score, want)
	}
}

func TestScoringClient_BareArrayAndFences(t *testing.T) {
	stub := &stubProvider{text: "Here you go:\n```json\n[{\"id\":\"r1\",\"accuracy\":5,\"completeness\":5,\"effectiveness\":5}]\n```"}
	client := NewScoringClient(stub, Config{})

	res, err := client.Score(context.Background(), "p")
	if err != nil {
		t.Fatalf("Score failed: %v", err)
	}
	if len(res.Entries) != 1 || res.Entries[0].ID != "r1" {
		t.Errorf("unexpected entries: %+v", res.Entries)
	}
}

func TestScoringClient_RepairsTrailingComma(t *testing.T) {
	stub := &stubProvider{text: `{"scores": [{"id": "r1", "accuracy": 8, "completeness": 7, "effectiveness": 9},]}`}
	client := NewScoringClient(stub, Config{})

	res, err := client.Score(context.Background(), "p")
	if err != nil {
		t.Fatalf("expected repaired JSON to parse, got %v", err)
	}
	if len(res.Entries) != 1 {
		t.Errorf("expected 1 entry, got %d", len(res.Entries))
	}
}

func TestScoringClient_ParseErrors(t *testing.T) {
	tests := []struct {
		name string
		text string
	}{
		{name: "empty", text: "   "},
		{name: "missing key", text: `{"results": []}`},
		{name: "wrong shape", text: `{"scores": {"id": "r1"}}`},
		{name: "string score", text: `{"scores": [{"id": "r1", "accuracy": "high"}]}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := NewScoringClient(&stubProvider{text: tt.text}, Config{})
			res, err := client.Score(context.Background(), "p")
			var perr *ParseError
			if !errors.As(err, &perr) {
				t.Fatalf("expected ParseError, got %v", err)
			}
			if res == nil || res.Raw != tt.text {
				t.Error("expected raw response to be kept on parse failure")
			}
			if !IsRetryable(err) {
				t.Error("parse errors should be retryable")
			}
		})
	}
}

func TestScoringClient_ServiceError(t *testing.T) {
	serviceErr := &ServiceError{Provider: "stub", StatusCode: 503, Err: errors.New("unavailable")}
	client := NewScoringClient(&stubProvider{err: serviceErr}, Config{})

	res, err := client.Score(context.Background(), "p")
	if res != nil {
		t.Error("expected no result on service error")
	}
	var serr *ServiceError
	if !errors.As(err, &serr) {
		t.Fatalf("expected ServiceError, got %v", err)
	}
}

func TestScoreEntry_Score(t *testing.T) {
	tests := []struct {
		name  string
		entry ScoreEntry
		ok    bool
	}{
		{name: "bounds", entry: ScoreEntry{Accuracy: 1, Completeness: 10, Effectiveness: 5}, ok: true},
		{name: "zero", entry: ScoreEntry{Accuracy: 0, Completeness: 5, Effectiveness: 5}},
		{name: "eleven", entry: ScoreEntry{Accuracy: 5, Completeness: 11, Effectiveness: 5}},
		{name: "fraction", entry: ScoreEntry{Accuracy: 5, Completeness: 5, Effectiveness: 6.5}},
		{name: "negative", entry: ScoreEntry{Accuracy: -3, Completeness: 5, Effectiveness: 5}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			score, err := tt.entry.Score()
			if tt.ok {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				if !score.Valid() {
					t.Errorf("score %v should be valid", score)
				}
				return
			}
			if err == nil {
				t.Errorf("expected error for %+v", tt.entry)
			}
		})
	}
}
