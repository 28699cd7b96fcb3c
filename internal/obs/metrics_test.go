package obs

import "testing"

func TestCreateCommonInstrumentsNonNil(t *testing.T) {
	m := createCommonInstruments()
	if m.TasksDispatched == nil {
		t.Error("expected TasksDispatched counter to be non-nil")
	}
	if m.RetryAttempts == nil {
		t.Error("expected RetryAttempts counter to be non-nil")
	}
	if m.CircuitOpen == nil {
		t.Error("expected CircuitOpen counter to be non-nil")
	}
}
