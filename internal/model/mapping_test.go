package model

import "testing"

func TestMappingRecordCanTransition(t *testing.T) {
	tests := []struct {
		name string
		from MappingStatus
		to   MappingStatus
		want bool
	}{
		{"pending to approved", StatusPending, StatusApproved, true},
		{"pending to rejected", StatusPending, StatusRejected, true},
		{"pending to pending (re-score)", StatusPending, StatusPending, true},
		{"approved is terminal", StatusApproved, StatusRejected, false},
		{"approved cannot re-pend", StatusApproved, StatusPending, false},
		{"rejected is terminal", StatusRejected, StatusApproved, false},
		{"rejected cannot re-pend", StatusRejected, StatusPending, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			record := MappingRecord{Status: tt.from}
			if got := record.CanTransition(tt.to); got != tt.want {
				t.Errorf("CanTransition(%s→%s) = %v, want %v", tt.from, tt.to, got, tt.want)
			}
		})
	}
}

func TestDecisionTerminalStatus(t *testing.T) {
	if status, err := DecisionApprove.TerminalStatus(); err != nil || status != StatusApproved {
		t.Errorf("approve → (%v, %v), want (approved, nil)", status, err)
	}
	if status, err := DecisionReject.TerminalStatus(); err != nil || status != StatusRejected {
		t.Errorf("reject → (%v, %v), want (rejected, nil)", status, err)
	}
	if _, err := Decision("shred").TerminalStatus(); err == nil {
		t.Error("unknown decision did not error")
	}
}

func TestThresholdsBand(t *testing.T) {
	thresholds := DefaultThresholds()

	tests := []struct {
		want       string
		confidence float64
	}{
		{"high", 0.95},
		{"high", 0.90},
		{"medium", 0.89},
		{"medium", 0.70},
		{"low", 0.69},
		{"low", 0.0},
	}

	for _, tt := range tests {
		if got := thresholds.Band(tt.confidence); got != tt.want {
			t.Errorf("Band(%.2f) = %q, want %q", tt.confidence, got, tt.want)
		}
	}
}
