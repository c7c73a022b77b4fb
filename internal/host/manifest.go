package host

import (
	"time"

	"github.com/nerrad567/dali-center/internal/inventory"
)

// Entity is one host entity derived from a selected item.
type Entity struct {
	// UniqueID is the item key; it is stable across renames.
	UniqueID string             `json:"unique_id"`
	Kind     inventory.Kind     `json:"kind"`
	ID       string             `json:"id"`
	Name     string             `json:"name"`
	Label    string             `json:"label"`
	TypeInfo inventory.TypeInfo `json:"type_info"`
}

// Manifest is the retained description of all host entities of a gateway.
type Manifest struct {
	GatewaySerial string    `json:"gateway_serial"`
	Gateway       Entity    `json:"gateway"`
	Entities      []Entity  `json:"entities"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// ChangeEvent is published on every materialisation.
type ChangeEvent struct {
	GatewaySerial  string    `json:"gateway_serial"`
	Created        []string  `json:"created"`
	Updated        []string  `json:"updated"`
	Removed        []string  `json:"removed"`
	GatewayRemoved bool      `json:"gateway_removed,omitempty"`
	Timestamp      time.Time `json:"timestamp"`
}

// EntityOf converts an item to its host entity.
func EntityOf(it inventory.Item) Entity {
	return Entity{
		UniqueID: it.Key().String(),
		Kind:     it.Kind,
		ID:       it.ID,
		Name:     it.DisplayName,
		Label:    it.Label(),
		TypeInfo: it.TypeInfo,
	}
}

func entitiesOf(items []inventory.Item) []Entity {
	sorted := append([]inventory.Item(nil), items...)
	inventory.Sort(sorted)
	out := make([]Entity, 0, len(sorted))
	for _, it := range sorted {
		out = append(out, EntityOf(it))
	}
	return out
}

func itemIDs(items []inventory.Item) []string {
	out := make([]string, 0, len(items))
	for _, it := range items {
		out = append(out, it.Key().String())
	}
	return out
}

func keyIDs(keys []inventory.Key) []string {
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, k.String())
	}
	return out
}
