// Package aggregate merges items, scores, decisions and rewrites into the
// verified document and records the per-item audit trail.
package aggregate

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/ppiankov/rebutqc/internal/audit"
	"github.com/ppiankov/rebutqc/internal/metrics"
	"github.com/ppiankov/rebutqc/internal/model"
)

// Input is everything one run produced for its items
type Input struct {
	RunID       string
	Document    *model.ScriptDocument
	Items       []model.RebuttalItem
	Assessments []model.Assessment
	Decisions   map[string]model.RewriteDecision
	Rewrites    []model.RewriteOutcome
	Thresholds  model.Thresholds
	Warnings    []string
}

// Aggregator builds verified documents
type Aggregator struct {
	now     func() time.Time
	metrics *metrics.Metrics
}

// New creates an Aggregator; m may be nil
func New(m *metrics.Metrics) *Aggregator {
	return &Aggregator{now: time.Now, metrics: m}
}

// SetClock replaces the time source used for the verification timestamp
func (a *Aggregator) SetClock(now func() time.Time) {
	a.now = now
}

// Aggregate merges the run results by item ID. Every item appears exactly once
// in the output, in input order; failures are explicit states.
func (a *Aggregator) Aggregate(in Input, log *audit.Log) (*model.VerifiedDocument, error) {
	if in.Document == nil {
		return nil, fmt.Errorf("aggregate: no input document")
	}
	if log == nil {
		log = audit.NewLog(in.RunID)
	}

	itemIDs := make(map[string]bool, len(in.Items))
	for _, item := range in.Items {
		if itemIDs[item.ID] {
			return nil, fmt.Errorf("aggregate: duplicate item %q", item.ID)
		}
		itemIDs[item.ID] = true
	}
	assessments, err := indexAssessments(in.Assessments, itemIDs)
	if err != nil {
		return nil, err
	}
	rewrites, err := indexRewrites(in.Rewrites, itemIDs)
	if err != nil {
		return nil, err
	}

	doc := &model.VerifiedDocument{
		Rebuttals: make([]model.VerifiedRebuttal, 0, len(in.Items)),
		Extra:     in.Document.Extra,
	}
	summary := model.RunSummary{
		RunID:      in.RunID,
		VerifiedAt: a.now().UTC(),
		Total:      len(in.Items),
		Thresholds: in.Thresholds,
		Warnings:   in.Warnings,
	}

	for _, item := range in.Items {
		verification, text, err := a.finalize(item, assessments, in.Decisions, rewrites, log)
		if err != nil {
			return nil, err
		}

		switch verification.State {
		case model.StatePassed:
			summary.Passed++
		case model.StateRewritten:
			summary.Rewritten++
		case model.StateRewriteFailed:
			summary.RewriteFailed++
		case model.StateAssessmentFailed:
			summary.AssessmentFailed++
		}
		a.metrics.IncItemState(string(verification.State))

		extra := sourceExtra(in.Document, item)
		doc.Rebuttals = append(doc.Rebuttals, model.VerifiedRebuttal{
			ID:           item.ID,
			Text:         text,
			Speaker:      item.Speaker,
			Context:      item.Context,
			Verification: verification,
			Extra:        extra,
		})
	}

	doc.Verification = summary
	return doc, nil
}

// finalize drives one item through the state machine and returns its
// verification block and output text
func (a *Aggregator) finalize(
	item model.RebuttalItem,
	assessments map[string]model.Assessment,
	decisions map[string]model.RewriteDecision,
	rewrites map[string]model.RewriteOutcome,
	log *audit.Log,
) (model.ItemVerification, string, error) {
	state := model.StateUnassessed
	text := item.Text
	v := model.ItemVerification{}

	step := func(to model.ItemState, action audit.Action, detail string, data any) error {
		next, err := model.Advance(state, to)
		if err != nil {
			return fmt.Errorf("aggregate %s: %w", item.ID, err)
		}
		state = next
		log.Append(audit.Record{
			Phase:  audit.PhaseAggregate,
			Action: action,
			ItemID: item.ID,
			Detail: detail,
			Parsed: data,
		})
		return nil
	}

	assessment, ok := assessments[item.ID]
	if !ok {
		assessment = model.Assessment{ItemID: item.ID, Failure: "no assessment recorded"}
	}

	if assessment.Failed() {
		if err := step(model.StateAssessmentFailed, audit.ActionAssessmentFailed, assessment.Failure, nil); err != nil {
			return v, "", err
		}
		v.Failure = assessment.Failure
	} else {
		score := *assessment.Score
		if err := step(model.StateAssessed, audit.ActionAssessed, score.String(), score); err != nil {
			return v, "", err
		}
		decision, ok := decisions[item.ID]
		if !ok {
			return v, "", fmt.Errorf("aggregate %s: assessed item has no decision", item.ID)
		}
		v.Score = &score
		v.Decision = &decision

		if !decision.NeedsRewrite {
			if err := step(model.StatePassed, audit.ActionPassed, "", nil); err != nil {
				return v, "", err
			}
		} else {
			if err := step(model.StateNeedsRewrite, audit.ActionFlagged, joinDimensions(decision.Failing), nil); err != nil {
				return v, "", err
			}
			rw, ok := rewrites[item.ID]
			if !ok {
				rw = model.RewriteOutcome{ItemID: item.ID, Failure: "no rewrite recorded"}
			}
			if rw.Failed() {
				if err := step(model.StateRewriteFailed, audit.ActionRewriteFailed, rw.Failure, nil); err != nil {
					return v, "", err
				}
				v.Failure = rw.Failure
			} else {
				improvement := *rw.Improvement
				if err := step(model.StateRewritten, audit.ActionRewritten, improvement.Reasoning, improvement); err != nil {
					return v, "", err
				}
				v.Improvement = &improvement
				text = improvement.ImprovedText
			}
		}
	}

	outcome := state
	if err := step(model.StateFinalized, audit.ActionFinalized, string(outcome), nil); err != nil {
		return v, "", err
	}
	v.State = outcome
	return v, text, nil
}

func indexAssessments(list []model.Assessment, known map[string]bool) (map[string]model.Assessment, error) {
	out := make(map[string]model.Assessment, len(list))
	for _, a := range list {
		if !known[a.ItemID] {
			return nil, fmt.Errorf("aggregate: assessment for unknown item %q", a.ItemID)
		}
		if _, dup := out[a.ItemID]; dup {
			return nil, fmt.Errorf("aggregate: duplicate assessment for %q", a.ItemID)
		}
		out[a.ItemID] = a
	}
	return out, nil
}

func indexRewrites(list []model.RewriteOutcome, known map[string]bool) (map[string]model.RewriteOutcome, error) {
	out := make(map[string]model.RewriteOutcome, len(list))
	for _, r := range list {
		if !known[r.ItemID] {
			return nil, fmt.Errorf("aggregate: rewrite for unknown item %q", r.ItemID)
		}
		if _, dup := out[r.ItemID]; dup {
			return nil, fmt.Errorf("aggregate: duplicate rewrite for %q", r.ItemID)
		}
		out[r.ItemID] = r
	}
	return out, nil
}

func sourceExtra(doc *model.ScriptDocument, item model.RebuttalItem) map[string]json.RawMessage {
	if item.Index < 0 || item.Index >= len(doc.Rebuttals) || doc.Rebuttals[item.Index].ID != item.ID {
		return nil
	}
	return doc.Rebuttals[item.Index].Extra
}

func joinDimensions(dims []model.Dimension) string {
	parts := make([]string, len(dims))
	for i, d := range dims {
		parts[i] = string(d)
	}
	return strings.Join(parts, ",")
}
