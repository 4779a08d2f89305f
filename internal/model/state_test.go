package model

import "testing"

func TestAdvance_EveryTerminalStateFinalizes(t *testing.T) {
	for _, s := range TerminalStates() {
		got, err := Advance(s, StateFinalized)
		if err != nil {
			t.Errorf("%s -> finalized: %v", s, err)
		}
		if got != StateFinalized {
			t.Errorf("%s -> finalized returned %s", s, got)
		}
	}
}

func TestAdvance_Paths(t *testing.T) {
	paths := [][]ItemState{
		{StateUnassessed, StateAssessed, StatePassed, StateFinalized},
		{StateUnassessed, StateAssessed, StateNeedsRewrite, StateRewritten, StateFinalized},
		{StateUnassessed, StateAssessed, StateNeedsRewrite, StateRewriteFailed, StateFinalized},
		{StateUnassessed, StateAssessmentFailed, StateFinalized},
	}
	for _, path := range paths {
		state := path[0]
		for _, next := range path[1:] {
			var err error
			state, err = Advance(state, next)
			if err != nil {
				t.Fatalf("path %v: %v", path, err)
			}
		}
	}
}

func TestAdvance_RejectsBackwardsAndSkips(t *testing.T) {
	tests := []struct {
		from, to ItemState
	}{
		{StateAssessed, StateUnassessed},
		{StateUnassessed, StatePassed},
		{StateAssessmentFailed, StateNeedsRewrite},
		{StateFinalized, StatePassed},
		{StatePassed, StateRewritten},
	}
	for _, tt := range tests {
		got, err := Advance(tt.from, tt.to)
		if err == nil {
			t.Errorf("%s -> %s should be rejected", tt.from, tt.to)
		}
		if got != tt.from {
			t.Errorf("%s -> %s: state changed to %s on error", tt.from, tt.to, got)
		}
	}
}
