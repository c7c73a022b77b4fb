// Package flow implements the operator-driven discovery and refresh flows
// that turn a gateway scan into a persisted selection.
//
// A discovery flow walks
//
//	idle → scanning_gateways → awaiting_gateway_selection →
//	fetching_inventory → awaiting_entity_selection → persisting → complete
//
// and a refresh flow starts at fetching_inventory for a gateway that already
// has a selection record. Either can end in failed from any non-terminal
// state; a failed flow never writes a record.
//
// Network stages (scan, connect plus fetch) run in the background once an
// operation has been accepted. While a stage runs, only Cancel and Snapshot
// are valid; every other operation returns ErrInvalidTransition. Wait blocks
// until the running stage has finished.
//
// The Manager owns all flows and guarantees at most one active flow per
// gateway serial.
//
// Usage:
//
//	mgr := flow.NewManager(cfg, flow.Deps{
//	    Scanner:      gw,
//	    Connector:    gw,
//	    Store:        store,
//	    Materializer: host,
//	})
//	f, _ := mgr.StartDiscovery(ctx)
//	f.Wait(ctx)
//	f.SelectGateway(ctx, "A1B2C3")
//	f.Wait(ctx)
//	f.SelectEntities(ctx, f.Snapshot().DefaultSelection)
package flow
