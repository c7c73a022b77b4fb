package selection

import (
	"fmt"
	"time"

	"github.com/nerrad567/dali-center/internal/inventory"
)

// Record is the persisted selection for one gateway.
type Record struct {
	GatewaySerial string `json:"gateway_serial"`

	// Gateway is the last-known gateway item, including its address.
	Gateway inventory.Item `json:"gateway"`

	// Selected is the subset of LastSeen the host materialises.
	Selected inventory.KeySet `json:"selected"`

	// LastSeen is the complete inventory from the most recent successful
	// scan, selected or not.
	LastSeen inventory.Snapshot `json:"last_seen"`

	// Revision starts at 1 and is incremented by every Save.
	Revision  int       `json:"revision"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewRecord builds a record from a gateway, a fresh inventory and the
// chosen keys.
func NewRecord(gateway inventory.Item, items []inventory.Item, selected inventory.KeySet) *Record {
	return &Record{
		GatewaySerial: gateway.GatewaySerial,
		Gateway:       gateway,
		Selected:      selected.Clone(),
		LastSeen:      inventory.SnapshotOf(items),
	}
}

// Validate checks the record's invariants: every selected key is part of
// LastSeen, and every item belongs to the record's gateway.
func (r *Record) Validate() error {
	if r.GatewaySerial == "" {
		return fmt.Errorf("%w: gateway serial is required", ErrInvalidRecord)
	}
	if r.Gateway.Kind != inventory.KindGateway {
		return fmt.Errorf("%w: gateway item has kind %q", ErrInvalidRecord, r.Gateway.Kind)
	}
	if r.Gateway.GatewaySerial != r.GatewaySerial {
		return fmt.Errorf("%w: gateway item serial %q does not match %q",
			ErrInvalidRecord, r.Gateway.GatewaySerial, r.GatewaySerial)
	}
	for key, it := range r.LastSeen {
		if key != it.Key() {
			return fmt.Errorf("%w: snapshot entry %s holds item %s", ErrInvalidRecord, key, it.Key())
		}
		if key.GatewaySerial != r.GatewaySerial {
			return fmt.Errorf("%w: item %s belongs to another gateway", ErrInvalidRecord, key)
		}
		if err := it.Validate(); err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidRecord, err)
		}
	}
	for key := range r.Selected {
		if _, ok := r.LastSeen[key]; !ok {
			return fmt.Errorf("%w: selected item %s is not in the last-seen inventory", ErrInvalidRecord, key)
		}
	}
	return nil
}

// SelectedItems returns the selected items in presentation order.
func (r *Record) SelectedItems() []inventory.Item {
	out := make([]inventory.Item, 0, len(r.Selected))
	for _, key := range r.Selected.Sorted() {
		if it, ok := r.LastSeen[key]; ok {
			out = append(out, it)
		}
	}
	return out
}

// IsSelected reports whether key is selected.
func (r *Record) IsSelected(key inventory.Key) bool {
	return r.Selected.Has(key)
}

// Clone returns a deep copy.
func (r *Record) Clone() *Record {
	c := *r
	c.Selected = r.Selected.Clone()
	c.LastSeen = r.LastSeen.Clone()
	return &c
}
