package models

import "testing"

func TestChangeStateValid(t *testing.T) {
	valid := []ChangeState{
		ChangeStateProposed,
		ChangeStateUnderReview,
		ChangeStateApproved,
		ChangeStateRejected,
		ChangeStateConditional,
		ChangeStateEscalated,
	}
	for _, s := range valid {
		if !s.Valid() {
			t.Errorf("expected %q to be valid", s)
		}
	}
	if ChangeState("merged").Valid() {
		t.Error("expected unknown state to be invalid")
	}
}

func TestChangeStateTerminal(t *testing.T) {
	tests := []struct {
		state    ChangeState
		terminal bool
	}{
		{ChangeStateProposed, false},
		{ChangeStateUnderReview, false},
		{ChangeStateApproved, true},
		{ChangeStateRejected, false},
		{ChangeStateConditional, false},
		{ChangeStateEscalated, true},
	}
	for _, tt := range tests {
		if got := tt.state.Terminal(); got != tt.terminal {
			t.Errorf("%s.Terminal() = %v, want %v", tt.state, got, tt.terminal)
		}
	}
}

func TestVerdictValid(t *testing.T) {
	for _, v := range []Verdict{VerdictApprove, VerdictApproveWithWarning, VerdictReject, VerdictConditional} {
		if !v.Valid() {
			t.Errorf("expected %q to be valid", v)
		}
	}
	if Verdict("veto").Valid() {
		t.Error("expected unknown verdict to be invalid")
	}
}

func TestDecisionOutcomeValid(t *testing.T) {
	for _, o := range []DecisionOutcome{OutcomeApproved, OutcomeRejected, OutcomeEscalated} {
		if !o.Valid() {
			t.Errorf("expected %q to be valid", o)
		}
	}
	if DecisionOutcome("deferred").Valid() {
		t.Error("expected unknown outcome to be invalid")
	}
}
