package model

import (
	"fmt"
	"time"
)

// Score bounds shared by every assessment dimension
const (
	MinScore = 1
	MaxScore = 10
)

// Dimension names one of the three fixed assessment dimensions
type Dimension string

const (
	DimensionAccuracy      Dimension = "accuracy"
	DimensionCompleteness  Dimension = "completeness"
	DimensionEffectiveness Dimension = "effectiveness"
)

// Dimensions returns the assessment dimensions in their canonical order
func Dimensions() []Dimension {
	return []Dimension{DimensionAccuracy, DimensionCompleteness, DimensionEffectiveness}
}

// RebuttalItem is a single rebuttal extracted from the input script.
// Items are never modified after extraction; later stages refer to them by ID.
type RebuttalItem struct {
	ID      string `json:"id"`
	Text    string `json:"text"`
	Speaker string `json:"speaker"`
	Context string `json:"context"`
	Index   int    `json:"-"` // Position in the input document
}

// AssessmentScore holds the three independent 1-10 scores for one item
type AssessmentScore struct {
	Accuracy      int `json:"accuracy"`
	Completeness  int `json:"completeness"`
	Effectiveness int `json:"effectiveness"`
}

// Get returns the score for a single dimension
func (s AssessmentScore) Get(d Dimension) int {
	switch d {
	case DimensionAccuracy:
		return s.Accuracy
	case DimensionCompleteness:
		return s.Completeness
	case DimensionEffectiveness:
		return s.Effectiveness
	}
	return 0
}

// Valid reports whether every dimension is within [MinScore, MaxScore]
func (s AssessmentScore) Valid() bool {
	for _, d := range Dimensions() {
		v := s.Get(d)
		if v < MinScore || v > MaxScore {
			return false
		}
	}
	return true
}

func (s AssessmentScore) String() string {
	return fmt.Sprintf("(%d,%d,%d)", s.Accuracy, s.Completeness, s.Effectiveness)
}

// RewriteDecision is derived from an AssessmentScore and never stored as input
type RewriteDecision struct {
	NeedsRewrite bool        `json:"needs_rewrite"`
	Failing      []Dimension `json:"failing_dimensions,omitempty"`
}

// Fails reports whether the given dimension triggered the decision
func (d RewriteDecision) Fails(dim Dimension) bool {
	for _, f := range d.Failing {
		if f == dim {
			return true
		}
	}
	return false
}

// ImprovedRebuttal records the before/after state of a rewritten item
type ImprovedRebuttal struct {
	OriginalText string    `json:"original_text"`
	ImprovedText string    `json:"improved_text"`
	Reasoning    string    `json:"reasoning"`
	CreatedAt    time.Time `json:"created_at"`
}

// Assessment is the outcome of the assessment phase for one item.
// Exactly one of Score or Failure is set.
type Assessment struct {
	ItemID  string           `json:"item_id"`
	Score   *AssessmentScore `json:"score,omitempty"`
	Failure string           `json:"failure,omitempty"`
}

// Failed reports whether the item could not be assessed
func (a Assessment) Failed() bool {
	return a.Score == nil
}

// RewriteOutcome is the outcome of the rewrite phase for one flagged item.
// Exactly one of Improvement or Failure is set.
type RewriteOutcome struct {
	ItemID      string            `json:"item_id"`
	Improvement *ImprovedRebuttal `json:"improvement,omitempty"`
	Failure     string            `json:"failure,omitempty"`
}

// Failed reports whether the rewrite did not produce an improvement
func (r RewriteOutcome) Failed() bool {
	return r.Improvement == nil
}
