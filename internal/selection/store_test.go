package selection

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"github.com/nerrad567/dali-center/internal/infrastructure/database"
	"github.com/nerrad567/dali-center/internal/inventory"
	_ "github.com/nerrad567/dali-center/migrations"
)

const testSerial = "GW0001"

func openTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	ctx := context.Background()
	db, err := database.Open(ctx, database.Config{
		Path:        filepath.Join(t.TempDir(), "selection.db"),
		WALMode:     true,
		BusyTimeout: 5,
	})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { db.Close() }) //nolint:errcheck // Test cleanup
	if err := db.Migrate(ctx); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	return NewSQLiteStore(db)
}

func testGateway() inventory.Item {
	return inventory.Item{
		Kind:          inventory.KindGateway,
		ID:            testSerial,
		GatewaySerial: testSerial,
		DisplayName:   "Office Gateway",
		TypeInfo:      inventory.TypeInfo{Gateway: &inventory.GatewayInfo{Host: "192.168.1.40", Port: 1883}},
	}
}

func testItems() []inventory.Item {
	return []inventory.Item{
		{
			Kind: inventory.KindDevice, ID: "1", GatewaySerial: testSerial, DisplayName: "Desk Lamp",
			TypeInfo: inventory.TypeInfo{Device: &inventory.DeviceInfo{DevType: "0101", Channel: 0, Address: 1}},
			Online:   true,
		},
		{
			Kind: inventory.KindDevice, ID: "2", GatewaySerial: testSerial, DisplayName: "Ceiling",
			TypeInfo: inventory.TypeInfo{Device: &inventory.DeviceInfo{DevType: "0101", Channel: 0, Address: 2}},
		},
		{
			Kind: inventory.KindGroup, ID: "0:3", GatewaySerial: testSerial, DisplayName: "Office",
			TypeInfo: inventory.TypeInfo{Group: &inventory.GroupInfo{Channel: 0, Group: 3}},
		},
		{
			Kind: inventory.KindScene, ID: "0:1", GatewaySerial: testSerial, DisplayName: "Evening",
			TypeInfo: inventory.TypeInfo{Scene: &inventory.SceneInfo{Channel: 0, Scene: 1}},
		},
	}
}

func key(kind inventory.Kind, id string) inventory.Key {
	return inventory.Key{GatewaySerial: testSerial, Kind: kind, ID: id}
}

func mustJSON(t *testing.T, v any) string {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	return string(b)
}

func TestRecord_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(r *Record)
		wantErr bool
	}{
		{name: "valid", mutate: func(*Record) {}},
		{name: "missing serial", mutate: func(r *Record) { r.GatewaySerial = "" }, wantErr: true},
		{
			name:    "gateway item of wrong kind",
			mutate:  func(r *Record) { r.Gateway.Kind = inventory.KindDevice },
			wantErr: true,
		},
		{
			name:    "selected key not in last seen",
			mutate:  func(r *Record) { r.Selected.Add(key(inventory.KindDevice, "99")) },
			wantErr: true,
		},
		{
			name: "item from another gateway",
			mutate: func(r *Record) {
				it := testItems()[0]
				it.GatewaySerial = "OTHER"
				r.LastSeen[it.Key()] = it
			},
			wantErr: true,
		},
		{
			name: "snapshot key mismatch",
			mutate: func(r *Record) {
				r.LastSeen[key(inventory.KindDevice, "7")] = testItems()[0]
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewRecord(testGateway(), testItems(), inventory.NewKeySet(key(inventory.KindDevice, "1")))
			tt.mutate(r)
			err := r.Validate()
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidRecord) {
					t.Errorf("Validate() error = %v, want ErrInvalidRecord", err)
				}
				return
			}
			if err != nil {
				t.Errorf("Validate() error = %v", err)
			}
		})
	}
}

func TestRecord_SelectedItems(t *testing.T) {
	r := NewRecord(testGateway(), testItems(), inventory.NewKeySet(
		key(inventory.KindScene, "0:1"),
		key(inventory.KindDevice, "2"),
	))
	got := r.SelectedItems()
	if len(got) != 2 || got[0].ID != "2" || got[1].ID != "0:1" {
		t.Errorf("SelectedItems() = %+v", got)
	}
}

func TestSQLiteStore_SaveAndLoad(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	rec := NewRecord(testGateway(), testItems(), inventory.NewKeySet(
		key(inventory.KindDevice, "1"),
		key(inventory.KindGroup, "0:3"),
	))
	if err := store.Save(ctx, rec); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if rec.Revision != 1 {
		t.Errorf("Revision = %d, want 1", rec.Revision)
	}

	got, err := store.Load(ctx, testSerial)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if mustJSON(t, got) != mustJSON(t, rec) {
		t.Errorf("Load() =\n%s\nwant\n%s", mustJSON(t, got), mustJSON(t, rec))
	}
	if !got.LastSeen[key(inventory.KindDevice, "1")].Online {
		t.Error("online flag not persisted")
	}
	if len(got.LastSeen) != 4 || len(got.Selected) != 2 {
		t.Errorf("LastSeen = %d items, Selected = %d keys", len(got.LastSeen), len(got.Selected))
	}
}

func TestSQLiteStore_SaveReplacesWholeRecord(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	first := NewRecord(testGateway(), testItems(), inventory.NewKeySet(key(inventory.KindDevice, "1")))
	if err := store.Save(ctx, first); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	items := testItems()[1:2]
	second := NewRecord(testGateway(), items, inventory.NewKeySet(key(inventory.KindDevice, "2")))
	if err := store.Save(ctx, second); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if second.Revision != 2 {
		t.Errorf("Revision = %d, want 2", second.Revision)
	}
	if !second.CreatedAt.Equal(first.CreatedAt) {
		t.Errorf("CreatedAt = %v, want %v", second.CreatedAt, first.CreatedAt)
	}

	got, err := store.Load(ctx, testSerial)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(got.LastSeen) != 1 {
		t.Errorf("LastSeen has %d items, want 1", len(got.LastSeen))
	}
	if got.IsSelected(key(inventory.KindDevice, "1")) {
		t.Error("stale selection survived replacement")
	}
}

func TestSQLiteStore_InvalidRecordLeavesStoredRecord(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	rec := NewRecord(testGateway(), testItems(), inventory.NewKeySet(key(inventory.KindDevice, "1")))
	if err := store.Save(ctx, rec); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	before, err := store.Load(ctx, testSerial)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	bad := NewRecord(testGateway(), nil, inventory.NewKeySet(key(inventory.KindDevice, "1")))
	if err := store.Save(ctx, bad); !errors.Is(err, ErrInvalidRecord) {
		t.Fatalf("Save() error = %v, want ErrInvalidRecord", err)
	}

	after, err := store.Load(ctx, testSerial)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if mustJSON(t, before) != mustJSON(t, after) {
		t.Error("stored record changed after a rejected save")
	}
}

func TestSQLiteStore_LoadMissing(t *testing.T) {
	store := openTestStore(t)
	if _, err := store.Load(context.Background(), "NOPE"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Load() error = %v, want ErrNotFound", err)
	}
}

func TestSQLiteStore_Delete(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	rec := NewRecord(testGateway(), testItems(), inventory.NewKeySet())
	if err := store.Save(ctx, rec); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if err := store.Delete(ctx, testSerial); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, err := store.Load(ctx, testSerial); !errors.Is(err, ErrNotFound) {
		t.Errorf("Load() after Delete() error = %v, want ErrNotFound", err)
	}
	if err := store.Delete(ctx, testSerial); !errors.Is(err, ErrNotFound) {
		t.Errorf("second Delete() error = %v, want ErrNotFound", err)
	}
}

func TestSQLiteStore_List(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	empty, err := store.List(ctx)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(empty) != 0 {
		t.Errorf("List() = %d records, want 0", len(empty))
	}

	for _, sn := range []string{"GW0002", "GW0001"} {
		gw := testGateway()
		gw.ID, gw.GatewaySerial = sn, sn
		if err := store.Save(ctx, NewRecord(gw, nil, inventory.NewKeySet())); err != nil {
			t.Fatalf("Save(%s) error = %v", sn, err)
		}
	}

	got, err := store.List(ctx)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(got) != 2 || got[0].GatewaySerial != "GW0001" || got[1].GatewaySerial != "GW0002" {
		t.Errorf("List() = %+v", got)
	}
}

func TestSQLiteStore_ConcurrentLoadSeesWholeRecords(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	all := testItems()
	small := NewRecord(testGateway(), all[:1], inventory.NewKeySet(key(inventory.KindDevice, "1")))
	large := NewRecord(testGateway(), all, inventory.NewKeySet(
		key(inventory.KindDevice, "1"), key(inventory.KindDevice, "2"),
		key(inventory.KindGroup, "0:3"), key(inventory.KindScene, "0:1"),
	))
	if err := store.Save(ctx, small); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 20; i++ {
			rec := small
			if i%2 == 0 {
				rec = large
			}
			if err := store.Save(ctx, rec.Clone()); err != nil {
				t.Errorf("Save() error = %v", err)
				return
			}
		}
	}()

	for i := 0; i < 20; i++ {
		got, err := store.Load(ctx, testSerial)
		if err != nil {
			t.Fatalf("Load() error = %v", err)
		}
		// Every selected key of the large record is present only with its
		// full snapshot, so a mixed read would break this.
		if len(got.Selected) != len(got.LastSeen) {
			t.Fatalf("mixed record: %d selected, %d last seen", len(got.Selected), len(got.LastSeen))
		}
	}
	wg.Wait()
}
