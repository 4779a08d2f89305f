package llm

import (
	"context"
	"fmt"
	"math"

	"github.com/ppiankov/rebutqc/internal/model"
)

const scoringSystemPrompt = "You are a strict editorial reviewer who scores podcast rebuttals. " +
	"Score every rebuttal you are given, in the order given, and answer only with JSON."

// ScoreEntry is one item of a scoring response. Scores are decoded as numbers
// and checked for integrality and range by Score.
type ScoreEntry struct {
	ID            string  `json:"id"`
	Accuracy      float64 `json:"accuracy"`
	Completeness  float64 `json:"completeness"`
	Effectiveness float64 `json:"effectiveness"`
}

// Score converts the entry into an AssessmentScore. It fails when any
// dimension is not a whole number within the score range.
func (e ScoreEntry) Score() (model.AssessmentScore, error) {
	values := map[model.Dimension]float64{
		model.DimensionAccuracy:      e.Accuracy,
		model.DimensionCompleteness:  e.Completeness,
		model.DimensionEffectiveness: e.Effectiveness,
	}
	for _, d := range model.Dimensions() {
		v := values[d]
		if v != math.Trunc(v) || v < model.MinScore || v > model.MaxScore {
			return model.AssessmentScore{}, fmt.Errorf("%s score %v outside %d-%d", d, v, model.MinScore, model.MaxScore)
		}
	}
	return model.AssessmentScore{
		Accuracy:      int(e.Accuracy),
		Completeness:  int(e.Completeness),
		Effectiveness: int(e.Effectiveness),
	}, nil
}

// ScoreResult is the parsed response of one scoring call
type ScoreResult struct {
	Entries    []ScoreEntry
	Raw        string
	Model      string
	TokensUsed int
}

// ScoringClient sends a rendered evaluation prompt to the provider and parses
// the per-item scores. It does not batch, retry or validate counts.
type ScoringClient struct {
	provider    Provider
	model       string
	maxTokens   int
	temperature float32
}

// NewScoringClient creates a scoring client on top of provider
func NewScoringClient(provider Provider, config Config) *ScoringClient {
	return &ScoringClient{
		provider:    provider,
		model:       config.Model,
		maxTokens:   config.MaxTokens,
		temperature: config.Temperature,
	}
}

// Model returns the model scoring requests are sent to
func (c *ScoringClient) Model() string {
	return c.model
}

// Score issues one scoring call. On a ParseError the returned result still
// carries the raw response text.
func (c *ScoringClient) Score(ctx context.Context, prompt string) (*ScoreResult, error) {
	resp, err := c.provider.Complete(ctx, CompletionRequest{
		System:      scoringSystemPrompt,
		Prompt:      prompt,
		Model:       c.model,
		MaxTokens:   c.maxTokens,
		Temperature: c.temperature,
		JSON:        true,
	})
	if err != nil {
		return nil, err
	}

	result := &ScoreResult{Raw: resp.Text, Model: resp.Model, TokensUsed: resp.TokensUsed}
	entries, err := decodeList[ScoreEntry](resp.Text, "scores")
	if err != nil {
		return result, err
	}
	result.Entries = entries
	return result, nil
}
