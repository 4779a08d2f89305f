package model

import "fmt"

// ItemState is the lifecycle state of a rebuttal item within one run
type ItemState string

const (
	StateUnassessed       ItemState = "unassessed"
	StateAssessed         ItemState = "assessed"
	StateAssessmentFailed ItemState = "assessment_failed"
	StatePassed           ItemState = "passed"
	StateNeedsRewrite     ItemState = "needs_rewrite"
	StateRewritten        ItemState = "rewritten"
	StateRewriteFailed    ItemState = "rewrite_failed"
	StateFinalized        ItemState = "finalized"
)

var transitions = map[ItemState][]ItemState{
	StateUnassessed:       {StateAssessed, StateAssessmentFailed},
	StateAssessed:         {StatePassed, StateNeedsRewrite},
	StateNeedsRewrite:     {StateRewritten, StateRewriteFailed},
	StatePassed:           {StateFinalized},
	StateRewritten:        {StateFinalized},
	StateRewriteFailed:    {StateFinalized},
	StateAssessmentFailed: {StateFinalized},
}

// Advance validates a transition and returns the new state
func Advance(from, to ItemState) (ItemState, error) {
	for _, next := range transitions[from] {
		if next == to {
			return to, nil
		}
	}
	return from, fmt.Errorf("invalid item state transition %s -> %s", from, to)
}

// TerminalStates are the states recorded on items of a verified document.
// Finalized is an internal marker; the document keeps the outcome that led to it.
func TerminalStates() []ItemState {
	return []ItemState{StatePassed, StateRewritten, StateRewriteFailed, StateAssessmentFailed}
}

// IsTerminal reports whether s may appear on a verified item
func IsTerminal(s ItemState) bool {
	for _, t := range TerminalStates() {
		if s == t {
			return true
		}
	}
	return false
}
