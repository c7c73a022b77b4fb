package flow

import (
	"fmt"
	"strings"

	"github.com/nerrad567/dali-center/internal/inventory"
)

// Status marks how an option relates to the previous inventory.
type Status string

// Option statuses.
const (
	StatusNew       Status = "new"
	StatusChanged   Status = "changed"
	StatusUnchanged Status = "unchanged"
	StatusRemoved   Status = "removed"
)

// Label prefixes shown in refresh lists.
const (
	PrefixNew     = "[NEW] "
	PrefixChanged = "[CHANGED] "
	PrefixRemoved = "[REMOVED] "
)

// Option is one selectable entry in an entity list.
type Option struct {
	Key    inventory.Key `json:"key"`
	Label  string        `json:"label"`
	Status Status        `json:"status"`

	// Selected is the default selection.
	Selected bool `json:"selected"`

	// Selectable is false for removed items, which are listed for
	// information only.
	Selectable bool `json:"selectable"`

	// RequiresConfirmation is set for changed items under the confirm
	// rename policy.
	RequiresConfirmation bool `json:"requires_confirmation,omitempty"`
}

// OptionGroup holds the options of one kind.
type OptionGroup struct {
	Kind    inventory.Kind `json:"kind"`
	Title   string         `json:"title"`
	Options []Option       `json:"options"`
}

// GatewayOption is one scan candidate offered for selection.
type GatewayOption struct {
	Serial string `json:"serial"`
	Label  string `json:"label"`
}

// Presentation is what the operator sees in an awaiting state.
type Presentation struct {
	Gateways  []GatewayOption `json:"gateways,omitempty"`
	NoneFound bool            `json:"none_found,omitempty"`

	Groups  []OptionGroup     `json:"groups,omitempty"`
	Counts  *inventory.Counts `json:"counts,omitempty"`
	Summary string            `json:"summary,omitempty"`
}

// GatewayOptions lists candidates as "Name (serial)".
func GatewayOptions(candidates []Candidate) []GatewayOption {
	out := make([]GatewayOption, 0, len(candidates))
	for _, c := range candidates {
		out = append(out, GatewayOption{Serial: c.Serial, Label: c.Label()})
	}
	return out
}

// DiscoveryOptions lists a first inventory as a flat selectable list with
// every item selected.
func DiscoveryOptions(items []inventory.Item) []OptionGroup {
	opts := make([]Option, 0, len(items))
	for _, it := range items {
		opts = append(opts, Option{
			Key:        it.Key(),
			Label:      it.Label(),
			Status:     StatusNew,
			Selected:   true,
			Selectable: true,
		})
	}
	return groupOptions(opts)
}

// RefreshOptions lists a refresh diff grouped by kind. Added and changed
// items are prefixed, removed items are shown with their previous name and
// cannot be selected.
func RefreshOptions(previous, fresh inventory.Snapshot, cs inventory.ChangeSet, defaults inventory.KeySet, confirm bool) []OptionGroup {
	opts := make([]Option, 0, len(fresh)+len(cs.Removed))

	for _, it := range cs.Added {
		opts = append(opts, Option{
			Key:        it.Key(),
			Label:      PrefixNew + it.Label(),
			Status:     StatusNew,
			Selected:   defaults.Has(it.Key()),
			Selectable: true,
		})
	}
	for _, c := range cs.Changed {
		opts = append(opts, Option{
			Key:                  c.Key,
			Label:                PrefixChanged + changedLabel(c),
			Status:               StatusChanged,
			Selected:             defaults.Has(c.Key),
			Selectable:           true,
			RequiresConfirmation: confirm,
		})
	}
	for _, key := range cs.Unchanged {
		opts = append(opts, Option{
			Key:        key,
			Label:      fresh[key].Label(),
			Status:     StatusUnchanged,
			Selected:   defaults.Has(key),
			Selectable: true,
		})
	}
	for _, key := range cs.Removed {
		opts = append(opts, Option{
			Key:    key,
			Label:  PrefixRemoved + previous[key].Label(),
			Status: StatusRemoved,
		})
	}
	return groupOptions(opts)
}

func changedLabel(c inventory.Change) string {
	if c.Renamed() && c.Before.DisplayName != "" {
		return fmt.Sprintf("%s, was %q", c.After.Label(), c.Before.DisplayName)
	}
	return c.After.Label()
}

func groupOptions(opts []Option) []OptionGroup {
	byKind := make(map[inventory.Kind][]Option)
	for _, o := range opts {
		byKind[o.Key.Kind] = append(byKind[o.Key.Kind], o)
	}

	var groups []OptionGroup
	for _, kind := range inventory.EntityKinds {
		list := byKind[kind]
		if len(list) == 0 {
			continue
		}
		keys := make([]inventory.Key, len(list))
		idx := make(map[inventory.Key]Option, len(list))
		for i, o := range list {
			keys[i] = o.Key
			idx[o.Key] = o
		}
		inventory.SortKeys(keys)
		sorted := make([]Option, len(keys))
		for i, k := range keys {
			sorted[i] = idx[k]
		}
		groups = append(groups, OptionGroup{Kind: kind, Title: title(kind), Options: sorted})
	}
	return groups
}

func title(kind inventory.Kind) string {
	p := kind.Plural()
	return strings.ToUpper(p[:1]) + p[1:]
}

// RefreshSummary renders per-kind totals and the added and removed items,
// e.g.
//
//	Total Devices: 2
//	Added Devices (1):
//	  - Desk Lamp (3)
//	No devices removed
func RefreshSummary(previous, fresh inventory.Snapshot, cs inventory.ChangeSet, kinds []inventory.Kind) string {
	var sections []string
	for _, kind := range orderedKinds(kinds) {
		part := cs.ByKind(kind)
		var b strings.Builder

		total := 0
		for k := range fresh {
			if k.Kind == kind {
				total++
			}
		}
		fmt.Fprintf(&b, "Total %s: %d\n", title(kind), total)

		if len(part.Added) == 0 {
			fmt.Fprintf(&b, "No %s added\n", kind.Plural())
		} else {
			fmt.Fprintf(&b, "Added %s (%d):\n", title(kind), len(part.Added))
			for _, it := range part.Added {
				fmt.Fprintf(&b, "  - %s (%s)\n", displayName(it), it.ID)
			}
		}

		if len(part.Removed) == 0 {
			fmt.Fprintf(&b, "No %s removed\n", kind.Plural())
		} else {
			fmt.Fprintf(&b, "Removed %s (%d):\n", title(kind), len(part.Removed))
			for _, key := range part.Removed {
				fmt.Fprintf(&b, "  - %s (%s)\n", displayName(previous[key]), key.ID)
			}
		}

		if len(part.Changed) > 0 {
			fmt.Fprintf(&b, "Changed %s (%d):\n", title(kind), len(part.Changed))
			for _, c := range part.Changed {
				fmt.Fprintf(&b, "  - %s (%s)\n", displayName(c.After), c.Key.ID)
			}
		}

		sections = append(sections, strings.TrimSuffix(b.String(), "\n"))
	}
	return strings.Join(sections, "\n\n")
}

// orderedKinds returns the entity kinds of kinds in presentation order, or
// all entity kinds when kinds is empty.
func orderedKinds(kinds []inventory.Kind) []inventory.Kind {
	if len(kinds) == 0 {
		return inventory.EntityKinds
	}
	want := make(map[inventory.Kind]bool, len(kinds))
	for _, k := range kinds {
		want[k] = true
	}
	var out []inventory.Kind
	for _, k := range inventory.EntityKinds {
		if want[k] {
			out = append(out, k)
		}
	}
	return out
}

func displayName(it inventory.Item) string {
	if it.DisplayName == "" {
		return "Unnamed"
	}
	return it.DisplayName
}
