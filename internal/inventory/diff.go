package inventory

// Change describes an item present in both scans whose metadata differs.
type Change struct {
	Key    Key  `json:"key"`
	Before Item `json:"before"`
	After  Item `json:"after"`
}

// Renamed reports whether the display name changed.
func (c Change) Renamed() bool {
	return c.Before.DisplayName != c.After.DisplayName
}

// ChangeSet is the result of Diff. Every slice is in presentation order.
type ChangeSet struct {
	Added     []Item   `json:"added"`
	Removed   []Key    `json:"removed"`
	Changed   []Change `json:"changed"`
	Unchanged []Key    `json:"unchanged"`
}

// Counts summarises a ChangeSet.
type Counts struct {
	Added     int `json:"added"`
	Removed   int `json:"removed"`
	Changed   int `json:"changed"`
	Unchanged int `json:"unchanged"`
}

// Diff classifies every key of previous and current.
//
// An item is changed when its display name or type info differs; the online
// flag is ignored. Identity includes kind, so an id that changes kind shows
// up as removed plus added. An empty previous makes everything added.
func Diff(previous Snapshot, current []Item) ChangeSet {
	cs := ChangeSet{
		Added:     []Item{},
		Removed:   []Key{},
		Changed:   []Change{},
		Unchanged: []Key{},
	}

	seen := make(map[Key]bool, len(current))
	for _, it := range current {
		key := it.Key()
		if seen[key] {
			continue
		}
		seen[key] = true

		before, ok := previous[key]
		switch {
		case !ok:
			cs.Added = append(cs.Added, it)
		case before.SameMetadata(it):
			cs.Unchanged = append(cs.Unchanged, key)
		default:
			cs.Changed = append(cs.Changed, Change{Key: key, Before: before, After: it})
		}
	}

	for key := range previous {
		if !seen[key] {
			cs.Removed = append(cs.Removed, key)
		}
	}

	Sort(cs.Added)
	SortKeys(cs.Removed)
	SortKeys(cs.Unchanged)
	sortChanges(cs.Changed)
	return cs
}

func sortChanges(changes []Change) {
	keys := make([]Key, len(changes))
	byKey := make(map[Key]Change, len(changes))
	for i, c := range changes {
		keys[i] = c.Key
		byKey[c.Key] = c
	}
	SortKeys(keys)
	for i, k := range keys {
		changes[i] = byKey[k]
	}
}

// IsEmpty reports whether nothing was added, removed or changed.
func (cs ChangeSet) IsEmpty() bool {
	return len(cs.Added) == 0 && len(cs.Removed) == 0 && len(cs.Changed) == 0
}

// Counts returns the size of each class.
func (cs ChangeSet) Counts() Counts {
	return Counts{
		Added:     len(cs.Added),
		Removed:   len(cs.Removed),
		Changed:   len(cs.Changed),
		Unchanged: len(cs.Unchanged),
	}
}

// ByKind restricts the change set to one kind.
func (cs ChangeSet) ByKind(kind Kind) ChangeSet {
	out := ChangeSet{
		Added:     []Item{},
		Removed:   []Key{},
		Changed:   []Change{},
		Unchanged: []Key{},
	}
	for _, it := range cs.Added {
		if it.Kind == kind {
			out.Added = append(out.Added, it)
		}
	}
	for _, k := range cs.Removed {
		if k.Kind == kind {
			out.Removed = append(out.Removed, k)
		}
	}
	for _, c := range cs.Changed {
		if c.Key.Kind == kind {
			out.Changed = append(out.Changed, c)
		}
	}
	for _, k := range cs.Unchanged {
		if k.Kind == kind {
			out.Unchanged = append(out.Unchanged, k)
		}
	}
	return out
}

// ChangedKeys returns the keys of the changed items.
func (cs ChangeSet) ChangedKeys() []Key {
	out := make([]Key, len(cs.Changed))
	for i, c := range cs.Changed {
		out[i] = c.Key
	}
	return out
}
