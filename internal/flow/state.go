package flow

// State is a flow's position in its state machine.
type State string

// Flow states.
const (
	StateIdle                     State = "idle"
	StateScanningGateways         State = "scanning_gateways"
	StateAwaitingGatewaySelection State = "awaiting_gateway_selection"
	StateFetchingInventory        State = "fetching_inventory"
	StateAwaitingEntitySelection  State = "awaiting_entity_selection"
	StatePersisting               State = "persisting"
	StateComplete                 State = "complete"
	StateFailed                   State = "failed"
)

// Type distinguishes discovery from refresh flows.
type Type string

// Flow types.
const (
	TypeDiscovery Type = "discovery"
	TypeRefresh   Type = "refresh"
)

// transitions lists the legal successors of each state. failed is reachable
// from every non-terminal state and is added by canTransition.
var transitions = map[State][]State{
	StateIdle:                     {StateScanningGateways, StateFetchingInventory},
	StateScanningGateways:         {StateAwaitingGatewaySelection},
	StateAwaitingGatewaySelection: {StateFetchingInventory, StateScanningGateways},
	StateFetchingInventory:        {StateAwaitingEntitySelection},
	StateAwaitingEntitySelection:  {StatePersisting},
	StatePersisting:               {StateComplete},
}

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool {
	return s == StateComplete || s == StateFailed
}

// Busy reports whether a background network or persistence stage owns the
// flow in this state.
func (s State) Busy() bool {
	return s == StateScanningGateways || s == StateFetchingInventory || s == StatePersisting
}

// Awaiting reports whether the flow is waiting for operator input.
func (s State) Awaiting() bool {
	return s == StateAwaitingGatewaySelection || s == StateAwaitingEntitySelection
}

func canTransition(from, to State) bool {
	if from.Terminal() {
		return false
	}
	if to == StateFailed {
		return true
	}
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}
