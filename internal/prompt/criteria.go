package prompt

import (
	"fmt"
	"strings"

	"github.com/ppiankov/rebutqc/internal/model"
)

// Criteria describes how each dimension is judged and how to fix a weak one
type Criteria struct {
	Descriptions map[model.Dimension]string
	Guidance     map[model.Dimension]string
}

// DefaultCriteria returns the builtin criteria
func DefaultCriteria() Criteria {
	return Criteria{
		Descriptions: map[model.Dimension]string{
			model.DimensionAccuracy:      "Are the facts, figures and characterizations correct and consistent with the context? Penalize invented statistics and misrepresentations of the original claim.",
			model.DimensionCompleteness:  "Does the rebuttal address the core of the claim it answers, including its main supporting points, rather than a side issue?",
			model.DimensionEffectiveness: "Would a listener find it persuasive? Consider clarity, structure, concrete examples and a natural spoken delivery.",
		},
		Guidance: map[model.Dimension]string{
			model.DimensionAccuracy:      "Correct or remove any statement not supported by the context. Prefer precise, verifiable wording over sweeping claims.",
			model.DimensionCompleteness:  "Address the central point of the claim directly and cover the supporting points the rebuttal skipped.",
			model.DimensionEffectiveness: "Tighten the argument: lead with the strongest point, use a concrete example, and keep sentences short enough to say aloud.",
		},
	}
}

// CriteriaFromConfig applies configured description overrides to the defaults
func CriteriaFromConfig(cfg model.CriteriaConfig) Criteria {
	c := DefaultCriteria()
	overrides := map[model.Dimension]string{
		model.DimensionAccuracy:      cfg.Accuracy,
		model.DimensionCompleteness:  cfg.Completeness,
		model.DimensionEffectiveness: cfg.Effectiveness,
	}
	for d, text := range overrides {
		if strings.TrimSpace(text) != "" {
			c.Descriptions[d] = strings.TrimSpace(text)
		}
	}
	return c
}

// RenderCriteria formats the evaluation criteria block
func (c Criteria) RenderCriteria() string {
	var b strings.Builder
	for _, d := range model.Dimensions() {
		fmt.Fprintf(&b, "- %s: %s\n", d, c.Descriptions[d])
	}
	return strings.TrimRight(b.String(), "\n")
}

// RenderGuidance formats rewrite guidance for the given failing dimensions only
func (c Criteria) RenderGuidance(dims []model.Dimension) string {
	var b strings.Builder
	for _, d := range model.Dimensions() {
		if !containsDimension(dims, d) {
			continue
		}
		fmt.Fprintf(&b, "- %s: %s\n", d, c.Guidance[d])
	}
	return strings.TrimRight(b.String(), "\n")
}

func containsDimension(dims []model.Dimension, d model.Dimension) bool {
	for _, x := range dims {
		if x == d {
			return true
		}
	}
	return false
}
