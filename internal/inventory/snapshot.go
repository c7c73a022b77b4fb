package inventory

import (
	"sort"
	"strconv"
)

// Snapshot is an inventory indexed by key.
type Snapshot map[Key]Item

// SnapshotOf indexes items by key. The first item with a key wins, as in
// Diff.
func SnapshotOf(items []Item) Snapshot {
	s := make(Snapshot, len(items))
	for _, it := range items {
		if _, dup := s[it.Key()]; !dup {
			s[it.Key()] = it
		}
	}
	return s
}

// Items returns the snapshot's items in presentation order.
func (s Snapshot) Items() []Item {
	out := make([]Item, 0, len(s))
	for _, it := range s {
		out = append(out, it)
	}
	Sort(out)
	return out
}

// Keys returns the snapshot's keys in presentation order.
func (s Snapshot) Keys() []Key {
	out := make([]Key, 0, len(s))
	for k := range s {
		out = append(out, k)
	}
	SortKeys(out)
	return out
}

// Clone returns a shallow copy. Items are values, so the copy is independent.
func (s Snapshot) Clone() Snapshot {
	out := make(Snapshot, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out
}

// Filter returns the items whose kind is in kinds.
func (s Snapshot) Filter(kinds ...Kind) Snapshot {
	want := make(map[Kind]bool, len(kinds))
	for _, k := range kinds {
		want[k] = true
	}
	out := make(Snapshot)
	for k, v := range s {
		if want[k.Kind] {
			out[k] = v
		}
	}
	return out
}

// Sort orders items by kind, then id.
func Sort(items []Item) {
	sort.SliceStable(items, func(i, j int) bool {
		return items[i].Key().Less(items[j].Key())
	})
}

// SortKeys orders keys by kind, then id.
func SortKeys(keys []Key) {
	sort.SliceStable(keys, func(i, j int) bool {
		return keys[i].Less(keys[j])
	})
}

// lessID compares ids numerically when both are integers so that device 9
// sorts before device 10.
func lessID(a, b string) bool {
	ai, aerr := strconv.Atoi(a)
	bi, berr := strconv.Atoi(b)
	if aerr == nil && berr == nil && ai != bi {
		return ai < bi
	}
	return a < b
}
