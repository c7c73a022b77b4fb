package flow

import (
	"time"

	"github.com/nerrad567/dali-center/internal/inventory"
)

// Snapshot is the serialisable view of a flow. It carries enough context
// to resume a flow that was waiting for operator input.
type Snapshot struct {
	ID    string `json:"id"`
	Type  Type   `json:"type"`
	State State  `json:"state"`

	GatewaySerial string          `json:"gateway_serial,omitempty"`
	Gateway       *inventory.Item `json:"gateway,omitempty"`

	Candidates   []Candidate `json:"candidates,omitempty"`
	ScanTimedOut bool        `json:"scan_timed_out,omitempty"`

	Scope            []inventory.Kind `json:"scope,omitempty"`
	RefreshAddress   bool             `json:"refresh_address,omitempty"`
	PreviousRevision int              `json:"previous_revision,omitempty"`

	Items                []inventory.Item     `json:"items,omitempty"`
	Changes              *inventory.ChangeSet `json:"changes,omitempty"`
	DefaultSelection     []inventory.Key      `json:"default_selection,omitempty"`
	RequiresConfirmation []inventory.Key      `json:"requires_confirmation,omitempty"`

	Presentation *Presentation `json:"presentation,omitempty"`
	Result       *Result       `json:"result,omitempty"`
	Failure      *Failure      `json:"failure,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Snapshot returns the flow's current view.
func (f *Flow) Snapshot() Snapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.snapshotLocked()
}

func (f *Flow) snapshotLocked() Snapshot {
	snap := Snapshot{
		ID:             f.id,
		Type:           f.typ,
		State:          f.state,
		GatewaySerial:  f.serial,
		ScanTimedOut:   f.scanTimedOut,
		Scope:          append([]inventory.Kind(nil), f.scope...),
		RefreshAddress: f.refreshAddress,
		CreatedAt:      f.createdAt,
		UpdatedAt:      f.updatedAt,
	}
	if f.gateway.Kind != "" {
		gw := f.gateway
		snap.Gateway = &gw
	}
	if f.candidates != nil {
		snap.Candidates = append([]Candidate{}, f.candidates...)
	}
	if f.previous != nil {
		snap.PreviousRevision = f.previous.Revision
	}
	if f.fresh != nil {
		snap.Items = f.fresh.Items()
	}
	if f.changes != nil {
		cs := *f.changes
		snap.Changes = &cs
	}
	if f.defaults != nil {
		snap.DefaultSelection = f.defaults.Sorted()
	}
	if len(f.confirm) > 0 {
		snap.RequiresConfirmation = append([]inventory.Key(nil), f.confirm...)
	}
	if f.result != nil {
		res := *f.result
		snap.Result = &res
	}
	if f.failure != nil {
		fl := *f.failure
		snap.Failure = &fl
	}
	snap.Presentation = f.presentationLocked()
	return snap
}

func (f *Flow) presentationLocked() *Presentation {
	switch f.state {
	case StateAwaitingGatewaySelection:
		return &Presentation{
			Gateways:  GatewayOptions(f.candidates),
			NoneFound: len(f.candidates) == 0,
		}
	case StateAwaitingEntitySelection:
		counts := f.changes.Counts()
		p := &Presentation{Counts: &counts}
		if f.typ == TypeDiscovery {
			p.Groups = DiscoveryOptions(f.fresh.Items())
			return p
		}
		p.Groups = RefreshOptions(f.previous.LastSeen, f.fresh, *f.changes, f.defaults,
			f.m.cfg.RenamePolicy == RenamePolicyConfirm)
		p.Summary = RefreshSummary(f.previous.LastSeen, f.fresh, *f.changes, f.scope)
		return p
	default:
		return nil
	}
}
