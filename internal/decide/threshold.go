package decide

import (
	"fmt"

	"github.com/ppiankov/rebutqc/internal/model"
)

// ThresholdConfigError reports an unusable threshold configuration.
// It is raised at startup, never during a run.
type ThresholdConfigError struct {
	Dimension model.Dimension
	Value     int
}

func (e *ThresholdConfigError) Error() string {
	return fmt.Sprintf("invalid threshold for %s: %d (must be between %d and %d)",
		e.Dimension, e.Value, model.MinScore, model.MaxScore)
}

// Engine maps assessment scores to rewrite decisions
type Engine struct {
	thresholds model.Thresholds
}

// NewEngine validates the thresholds and returns a decision engine
func NewEngine(t model.Thresholds) (*Engine, error) {
	if err := Validate(t); err != nil {
		return nil, err
	}
	return &Engine{thresholds: t}, nil
}

// Validate checks every threshold is a reachable score
func Validate(t model.Thresholds) error {
	for _, d := range model.Dimensions() {
		v := t.For(d)
		if v < model.MinScore || v > model.MaxScore {
			return &ThresholdConfigError{Dimension: d, Value: v}
		}
	}
	return nil
}

// Thresholds returns the configured thresholds
func (e *Engine) Thresholds() model.Thresholds {
	return e.thresholds
}

// Decide flags an item for rewrite when any dimension scores below its
// threshold. Failing dimensions are listed in canonical order.
func (e *Engine) Decide(score model.AssessmentScore) model.RewriteDecision {
	var failing []model.Dimension
	for _, d := range model.Dimensions() {
		if score.Get(d) < e.thresholds.For(d) {
			failing = append(failing, d)
		}
	}
	return model.RewriteDecision{
		NeedsRewrite: len(failing) > 0,
		Failing:      failing,
	}
}

// Decide applies the default thresholds
func Decide(score model.AssessmentScore) model.RewriteDecision {
	e := Engine{thresholds: model.DefaultThresholds()}
	return e.Decide(score)
}
