package host

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/nerrad567/dali-center/internal/flow"
	"github.com/nerrad567/dali-center/internal/infrastructure/database"
	"github.com/nerrad567/dali-center/internal/infrastructure/mqtt/mqtttest"
	"github.com/nerrad567/dali-center/internal/inventory"
	"github.com/nerrad567/dali-center/internal/selection"
	_ "github.com/nerrad567/dali-center/migrations"
)

var fixedNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type recordingHub struct {
	events []ChangeEvent
}

func (h *recordingHub) Broadcast(channel string, payload any) {
	if channel == EventEntitiesChanged {
		h.events = append(h.events, payload.(ChangeEvent))
	}
}

func newTestPublisher(b *mqtttest.Broker, hub Broadcaster) *Publisher {
	p := New(b, 1, hub)
	p.now = func() time.Time { return fixedNow }
	return p
}

func gw() inventory.Item {
	return inventory.Item{
		Kind: inventory.KindGateway, ID: "GW1", GatewaySerial: "GW1", DisplayName: "Office",
		TypeInfo: inventory.TypeInfo{Gateway: &inventory.GatewayInfo{Host: "10.0.0.5", Port: 1883}},
	}
}

func device(id, name string) inventory.Item {
	return inventory.Item{
		Kind: inventory.KindDevice, ID: id, GatewaySerial: "GW1", DisplayName: name,
		TypeInfo: inventory.TypeInfo{Device: &inventory.DeviceInfo{DevType: "0101", Address: 1}},
	}
}

func group(id, name string, n int) inventory.Item {
	return inventory.Item{
		Kind: inventory.KindGroup, ID: id, GatewaySerial: "GW1", DisplayName: name,
		TypeInfo: inventory.TypeInfo{Group: &inventory.GroupInfo{Group: n}},
	}
}

func retainedManifest(t *testing.T, b *mqtttest.Broker) Manifest {
	t.Helper()
	raw, ok := b.Retained("dalicenter/core/entities/GW1")
	if !ok {
		t.Fatal("no retained manifest")
	}
	var m Manifest
	if err := json.Unmarshal(raw, &m); err != nil {
		t.Fatalf("manifest not JSON: %v", err)
	}
	return m
}

func TestPublisher_Apply(t *testing.T) {
	b := &mqtttest.Broker{}
	hub := &recordingHub{}
	p := newTestPublisher(b, hub)

	hall := group("3", "Hall", 3)
	err := p.Apply(context.Background(), flow.HostUpdate{
		Gateway:  gw(),
		Entities: []inventory.Item{hall, device("10", "Desk"), device("2", "Lamp")},
		Created:  []inventory.Item{device("10", "Desk")},
		Updated:  []inventory.Item{device("2", "Lamp")},
		Removed:  []inventory.Key{device("4", "").Key()},
	})
	if err != nil {
		t.Fatalf("Apply() error = %v", err)
	}

	m := retainedManifest(t, b)
	if m.GatewaySerial != "GW1" || m.Gateway.Label != "Office (GW1)" || !m.UpdatedAt.Equal(fixedNow) {
		t.Errorf("manifest header = %+v", m)
	}
	wantIDs := []string{"GW1:device:2", "GW1:device:10", "GW1:group:3"}
	if len(m.Entities) != len(wantIDs) {
		t.Fatalf("entities = %+v", m.Entities)
	}
	for i, id := range wantIDs {
		if m.Entities[i].UniqueID != id {
			t.Errorf("entity %d = %s, want %s", i, m.Entities[i].UniqueID, id)
		}
	}
	if m.Entities[2].Label != "Hall (Channel 0, Group 3)" {
		t.Errorf("group label = %q", m.Entities[2].Label)
	}

	events := b.PublishedTo("dalicenter/core/event/entities_changed")
	if len(events) != 1 || events[0].Retained {
		t.Fatalf("change events = %+v", events)
	}
	var ev ChangeEvent
	if err := json.Unmarshal(events[0].Payload, &ev); err != nil {
		t.Fatalf("event not JSON: %v", err)
	}
	if len(ev.Created) != 1 || ev.Created[0] != "GW1:device:10" ||
		len(ev.Updated) != 1 || ev.Updated[0] != "GW1:device:2" ||
		len(ev.Removed) != 1 || ev.Removed[0] != "GW1:device:4" {
		t.Errorf("event = %+v", ev)
	}
	if len(hub.events) != 1 || hub.events[0].GatewaySerial != "GW1" {
		t.Errorf("broadcast events = %+v", hub.events)
	}
}

func TestPublisher_Remove(t *testing.T) {
	b := &mqtttest.Broker{}
	p := newTestPublisher(b, nil)
	ctx := context.Background()

	if err := p.Apply(ctx, flow.HostUpdate{Gateway: gw(), Entities: []inventory.Item{device("1", "Lamp")}}); err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	if err := p.Remove(ctx, "GW1"); err != nil {
		t.Fatalf("Remove() error = %v", err)
	}
	if _, ok := b.Retained("dalicenter/core/entities/GW1"); ok {
		t.Error("manifest still retained after Remove()")
	}

	events := b.PublishedTo("dalicenter/core/event/entities_changed")
	var ev ChangeEvent
	if err := json.Unmarshal(events[len(events)-1].Payload, &ev); err != nil {
		t.Fatal(err)
	}
	if !ev.GatewayRemoved {
		t.Errorf("last event = %+v, want gateway_removed", ev)
	}
}

func TestPublisher_Errors(t *testing.T) {
	b := &mqtttest.Broker{PublishErr: errors.New("not connected")}
	p := newTestPublisher(b, nil)
	ctx := context.Background()

	if err := p.Apply(ctx, flow.HostUpdate{Gateway: gw()}); err == nil {
		t.Error("Apply() error = nil with failing bus")
	}
	if err := p.Remove(ctx, "GW1"); err == nil {
		t.Error("Remove() error = nil with failing bus")
	}
	if err := p.Apply(ctx, flow.HostUpdate{}); err == nil {
		t.Error("Apply() accepted update without gateway")
	}
}

func TestPublisher_Republish(t *testing.T) {
	ctx := context.Background()
	db, err := database.Open(ctx, database.Config{Path: filepath.Join(t.TempDir(), "host.db"), WALMode: true, BusyTimeout: 5})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { db.Close() }) //nolint:errcheck // Test cleanup
	if err := db.Migrate(ctx); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	store := selection.NewSQLiteStore(db)

	items := []inventory.Item{device("1", "Lamp"), device("2", "Desk")}
	rec := selection.NewRecord(gw(), items, inventory.NewKeySet(items[1].Key()))
	if err := store.Save(ctx, rec); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	b := &mqtttest.Broker{}
	p := newTestPublisher(b, nil)
	if err := p.Republish(ctx, store); err != nil {
		t.Fatalf("Republish() error = %v", err)
	}

	m := retainedManifest(t, b)
	if len(m.Entities) != 1 || m.Entities[0].Name != "Desk" {
		t.Errorf("manifest entities = %+v, want only the selected item", m.Entities)
	}
	if n := len(b.PublishedTo("dalicenter/core/event/entities_changed")); n != 0 {
		t.Errorf("change events = %d, want none", n)
	}
}
