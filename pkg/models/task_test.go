package models

import "testing"

func TestTaskStatusValid(t *testing.T) {
	valid := []TaskStatus{
		TaskStatusPending,
		TaskStatusInProgress,
		TaskStatusDone,
		TaskStatusFailed,
		TaskStatusAbandoned,
	}
	for _, s := range valid {
		if !s.Valid() {
			t.Errorf("expected %q to be valid", s)
		}
	}

	if TaskStatus("unknown").Valid() {
		t.Error("expected unknown status to be invalid")
	}
	if TaskStatus("").Valid() {
		t.Error("expected empty status to be invalid")
	}
}

func TestTaskStatusTerminal(t *testing.T) {
	tests := []struct {
		status   TaskStatus
		terminal bool
	}{
		{TaskStatusPending, false},
		{TaskStatusInProgress, false},
		{TaskStatusDone, true},
		{TaskStatusFailed, true},
		{TaskStatusAbandoned, true},
	}
	for _, tt := range tests {
		if got := tt.status.Terminal(); got != tt.terminal {
			t.Errorf("%s.Terminal() = %v, want %v", tt.status, got, tt.terminal)
		}
	}
}

func TestPriorityClassRank(t *testing.T) {
	// security > production-incident > active-development > background
	if PrioritySecurity.Rank() >= PriorityIncident.Rank() {
		t.Error("security should outrank production-incident")
	}
	if PriorityIncident.Rank() >= PriorityDevelopment.Rank() {
		t.Error("production-incident should outrank active-development")
	}
	if PriorityDevelopment.Rank() >= PriorityBackground.Rank() {
		t.Error("active-development should outrank background")
	}
	if PriorityClass("bogus").Rank() <= PriorityBackground.Rank() {
		t.Error("unknown class should sort behind background")
	}
}

func TestPriorityClassValid(t *testing.T) {
	for _, p := range []PriorityClass{PrioritySecurity, PriorityIncident, PriorityDevelopment, PriorityBackground} {
		if !p.Valid() {
			t.Errorf("expected %q to be valid", p)
		}
	}
	if PriorityClass("urgent").Valid() {
		t.Error("expected unknown class to be invalid")
	}
}
