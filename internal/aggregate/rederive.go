package aggregate

import (
	"fmt"

	"github.com/ppiankov/rebutqc/internal/model"
)

// Rederive rebuilds the aggregation input from a verified document's own
// stored scores, decisions and improvements. Aggregating the result
// reproduces the same items, states and decisions.
func Rederive(doc *model.VerifiedDocument) (Input, error) {
	in := Input{
		RunID:      doc.Verification.RunID,
		Thresholds: doc.Verification.Thresholds,
		Warnings:   doc.Verification.Warnings,
		Decisions:  make(map[string]model.RewriteDecision),
		Document:   &model.ScriptDocument{Extra: doc.Extra},
	}

	for i, r := range doc.Rebuttals {
		v := r.Verification
		original := r.Text
		if v.Improvement != nil {
			original = v.Improvement.OriginalText
		}

		in.Document.Rebuttals = append(in.Document.Rebuttals, model.ScriptRebuttal{
			ID:      r.ID,
			Text:    original,
			Speaker: r.Speaker,
			Context: r.Context,
			Extra:   r.Extra,
		})
		in.Items = append(in.Items, model.RebuttalItem{
			ID:      r.ID,
			Text:    original,
			Speaker: r.Speaker,
			Context: r.Context,
			Index:   i,
		})

		if v.State == model.StateAssessmentFailed {
			in.Assessments = append(in.Assessments, model.Assessment{ItemID: r.ID, Failure: v.Failure})
			continue
		}
		if v.Score == nil || v.Decision == nil {
			return Input{}, fmt.Errorf("rederive %s: %s item has no score or decision", r.ID, v.State)
		}
		score := *v.Score
		in.Assessments = append(in.Assessments, model.Assessment{ItemID: r.ID, Score: &score})
		in.Decisions[r.ID] = *v.Decision

		switch v.State {
		case model.StateRewritten:
			if v.Improvement == nil {
				return Input{}, fmt.Errorf("rederive %s: rewritten item has no improvement", r.ID)
			}
			improvement := *v.Improvement
			in.Rewrites = append(in.Rewrites, model.RewriteOutcome{ItemID: r.ID, Improvement: &improvement})
		case model.StateRewriteFailed:
			in.Rewrites = append(in.Rewrites, model.RewriteOutcome{ItemID: r.ID, Failure: v.Failure})
		}
	}
	return in, nil
}
