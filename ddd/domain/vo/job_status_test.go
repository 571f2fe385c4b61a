package vo

import "testing"

func TestJobStatusTransitions(t *testing.T) {
	tests := []struct {
		from    JobStatus
		to      JobStatus
		allowed bool
	}{
		{JobStatusPending, JobStatusQueued, true},
		{JobStatusPending, JobStatusProcessing, false},
		{JobStatusQueued, JobStatusProcessing, true},
		{JobStatusQueued, JobStatusFailed, true},
		{JobStatusQueued, JobStatusCompleted, false},
		{JobStatusProcessing, JobStatusCompleted, true},
		{JobStatusProcessing, JobStatusFailed, true},
		{JobStatusProcessing, JobStatusQueued, true}, // stall recovery
		{JobStatusFailed, JobStatusQueued, true},     // retry
		{JobStatusFailed, JobStatusProcessing, false},
		{JobStatusCompleted, JobStatusQueued, false},
		{JobStatusCompleted, JobStatusProcessing, false},
	}
	for _, tt := range tests {
		if got := tt.from.CanTransitionTo(tt.to); got != tt.allowed {
			t.Errorf("%s -> %s: got %v, want %v", tt.from, tt.to, got, tt.allowed)
		}
	}
}

func TestJobStatusIsTerminal(t *testing.T) {
	if !JobStatusCompleted.IsTerminal() || !JobStatusFailed.IsTerminal() {
		t.Error("completed and failed should be terminal")
	}
	for _, s := range []JobStatus{JobStatusPending, JobStatusQueued, JobStatusProcessing} {
		if s.IsTerminal() {
			t.Errorf("%s should not be terminal", s)
		}
	}
}

func TestJobStatusIsValid(t *testing.T) {
	for _, s := range []JobStatus{JobStatusPending, JobStatusQueued, JobStatusProcessing, JobStatusCompleted, JobStatusFailed} {
		if !s.IsValid() {
			t.Errorf("%s should be valid", s)
		}
	}
	if JobStatus("cancelled").IsValid() {
		t.Error("unknown status should be invalid")
	}
}

func TestStageQueueName(t *testing.T) {
	if StageFast.QueueName() != "fast" || StageBackground.QueueName() != "background" {
		t.Error("stage must map one-to-one onto its queue lane")
	}
	if Stage("hd").IsValid() {
		t.Error("unknown stage should be invalid")
	}
}
