package inventory

import (
	"testing"
)

func keysOf(items []Item) []Key {
	out := make([]Key, len(items))
	for i, it := range items {
		out[i] = it.Key()
	}
	return out
}

func sameKeys(t *testing.T, what string, got, want []Key) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("%s = %v, want %v", what, got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("%s[%d] = %v, want %v", what, i, got[i], want[i])
		}
	}
}

func TestDiff_Scenario(t *testing.T) {
	deviceA := device("GW01", "1", "Device A")
	deviceB := device("GW01", "2", "Device B")
	deviceC := device("GW01", "3", "Device C")
	renamedA := deviceA
	renamedA.DisplayName = "Device A (kitchen)"

	cs := Diff(SnapshotOf([]Item{deviceA, deviceB}), []Item{renamedA, deviceC})

	sameKeys(t, "Added", keysOf(cs.Added), []Key{deviceC.Key()})
	sameKeys(t, "Removed", cs.Removed, []Key{deviceB.Key()})
	sameKeys(t, "Changed", cs.ChangedKeys(), []Key{deviceA.Key()})
	if len(cs.Unchanged) != 0 {
		t.Errorf("Unchanged = %v, want empty", cs.Unchanged)
	}
	if !cs.Changed[0].Renamed() {
		t.Error("Changed[0].Renamed() = false")
	}
	if cs.Changed[0].Before.DisplayName != "Device A" || cs.Changed[0].After.DisplayName != "Device A (kitchen)" {
		t.Errorf("Changed[0] = %+v", cs.Changed[0])
	}
}

func TestDiff_EmptyPrevious(t *testing.T) {
	current := []Item{group("GW01", "1", "Hall", 0, 1), device("GW01", "1", "Lamp")}

	cs := Diff(Snapshot{}, current)

	sameKeys(t, "Added", keysOf(cs.Added), []Key{current[1].Key(), current[0].Key()})
	if len(cs.Removed)+len(cs.Changed)+len(cs.Unchanged) != 0 {
		t.Errorf("expected only additions, got %+v", cs.Counts())
	}
}

func TestDiff_SameInventoryIsEmpty(t *testing.T) {
	previous := SnapshotOf([]Item{
		device("GW01", "1", "Lamp"),
		group("GW01", "1", "Hall", 0, 1),
	})

	cs := Diff(previous, previous.Items())

	if !cs.IsEmpty() {
		t.Errorf("Diff(previous, items(previous)) = %+v, want empty", cs.Counts())
	}
	if len(cs.Unchanged) != 2 {
		t.Errorf("Unchanged = %d, want 2", len(cs.Unchanged))
	}
}

func TestDiff_Idempotent(t *testing.T) {
	previous := SnapshotOf([]Item{device("GW01", "1", "Lamp"), device("GW01", "2", "Spot")})
	current := []Item{device("GW01", "1", "Lamp 1"), device("GW01", "3", "Strip")}

	if Diff(previous, current).IsEmpty() {
		t.Fatal("first diff should not be empty")
	}
	// After a save, lastSeen becomes the fresh snapshot.
	if cs := Diff(SnapshotOf(current), current); !cs.IsEmpty() {
		t.Errorf("second diff = %+v, want empty", cs.Counts())
	}
}

func TestDiff_DisjointKeySets(t *testing.T) {
	previous := SnapshotOf([]Item{device("GW01", "1", "A"), device("GW01", "2", "B")})
	current := []Item{device("GW01", "3", "C"), group("GW01", "1", "G", 0, 1)}

	cs := Diff(previous, current)

	sameKeys(t, "Added", keysOf(cs.Added), []Key{current[0].Key(), current[1].Key()})
	sameKeys(t, "Removed", cs.Removed, previous.Keys())
	if len(cs.Changed) != 0 {
		t.Errorf("Changed = %v, want empty", cs.Changed)
	}
}

func TestDiff_KindChangeIsRemovePlusAdd(t *testing.T) {
	asDevice := device("GW01", "5", "Thing")
	asGroup := group("GW01", "5", "Thing", 0, 5)

	cs := Diff(SnapshotOf([]Item{asDevice}), []Item{asGroup})

	sameKeys(t, "Added", keysOf(cs.Added), []Key{asGroup.Key()})
	sameKeys(t, "Removed", cs.Removed, []Key{asDevice.Key()})
	if len(cs.Changed) != 0 {
		t.Errorf("Changed = %v, want empty", cs.Changed)
	}
}

func TestDiff_OnlineIsNotAChange(t *testing.T) {
	before := device("GW01", "1", "Lamp")
	after := before
	after.Online = !before.Online

	cs := Diff(SnapshotOf([]Item{before}), []Item{after})
	if !cs.IsEmpty() {
		t.Errorf("online flip produced %+v", cs.Counts())
	}
}

func TestDiff_TypeInfoChange(t *testing.T) {
	before := device("GW01", "1", "Lamp")
	after := before
	after.TypeInfo = TypeInfo{Device: &DeviceInfo{DevType: "1", Channel: 0, Address: 9}}

	cs := Diff(SnapshotOf([]Item{before}), []Item{after})
	if len(cs.Changed) != 1 || cs.Changed[0].Renamed() {
		t.Errorf("Changed = %+v, want one non-rename change", cs.Changed)
	}
}

func TestDiff_Deterministic(t *testing.T) {
	previous := SnapshotOf([]Item{device("GW01", "1", "A"), device("GW01", "2", "B"), device("GW01", "4", "D")})
	current := []Item{device("GW01", "10", "X"), device("GW01", "4", "D2"), device("GW01", "3", "C"), device("GW01", "1", "A")}
	reversed := []Item{current[3], current[2], current[1], current[0]}

	a := Diff(previous, current)
	b := Diff(previous, reversed)

	sameKeys(t, "Added", keysOf(a.Added), keysOf(b.Added))
	sameKeys(t, "Added order", keysOf(a.Added), []Key{current[2].Key(), current[0].Key()})
	sameKeys(t, "Removed", a.Removed, b.Removed)
	sameKeys(t, "Changed", a.ChangedKeys(), b.ChangedKeys())
	sameKeys(t, "Unchanged", a.Unchanged, b.Unchanged)
}

func TestChangeSet_ByKind(t *testing.T) {
	previous := SnapshotOf([]Item{device("GW01", "1", "A"), group("GW01", "1", "G", 0, 1)})
	current := []Item{device("GW01", "2", "B"), group("GW01", "1", "G2", 0, 1)}

	cs := Diff(previous, current)
	devices := cs.ByKind(KindDevice)
	groups := cs.ByKind(KindGroup)

	if c := devices.Counts(); c.Added != 1 || c.Removed != 1 || c.Changed != 0 {
		t.Errorf("devices = %+v", c)
	}
	if c := groups.Counts(); c.Added != 0 || c.Removed != 0 || c.Changed != 1 {
		t.Errorf("groups = %+v", c)
	}
}

func TestDiff_DuplicatesMatchSnapshotOf(t *testing.T) {
	first := device("GW01", "1", "Desk")
	second := device("GW01", "1", "Window")
	items := []Item{first, second}

	snap := SnapshotOf(items)
	if got := snap[first.Key()].DisplayName; got != "Desk" {
		t.Errorf("SnapshotOf() kept %q, want the first item", got)
	}
	cs := Diff(Snapshot{}, items)
	if len(cs.Added) != 1 || cs.Added[0].DisplayName != snap[first.Key()].DisplayName {
		t.Errorf("Diff() added %+v, want the item SnapshotOf kept", cs.Added)
	}
}
