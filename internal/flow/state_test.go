package flow

import "testing"

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to State
		want     bool
	}{
		{StateIdle, StateScanningGateways, true},
		{StateIdle, StateFetchingInventory, true},
		{StateScanningGateways, StateAwaitingGatewaySelection, true},
		{StateAwaitingGatewaySelection, StateFetchingInventory, true},
		{StateAwaitingGatewaySelection, StateScanningGateways, true},
		{StateFetchingInventory, StateAwaitingEntitySelection, true},
		{StateAwaitingEntitySelection, StatePersisting, true},
		{StatePersisting, StateComplete, true},
		{StateScanningGateways, StateFailed, true},
		{StatePersisting, StateFailed, true},
		{StateIdle, StateComplete, false},
		{StateAwaitingEntitySelection, StateComplete, false},
		{StateFetchingInventory, StatePersisting, false},
		{StateComplete, StateFailed, false},
		{StateFailed, StateIdle, false},
	}

	for _, tt := range tests {
		if got := canTransition(tt.from, tt.to); got != tt.want {
			t.Errorf("canTransition(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestState_Predicates(t *testing.T) {
	if !StateComplete.Terminal() || !StateFailed.Terminal() || StatePersisting.Terminal() {
		t.Error("Terminal() mismatch")
	}
	if !StateScanningGateways.Busy() || StateAwaitingEntitySelection.Busy() {
		t.Error("Busy() mismatch")
	}
	if !StateAwaitingGatewaySelection.Awaiting() || StateIdle.Awaiting() {
		t.Error("Awaiting() mismatch")
	}
}
