package flow

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/dali-center/internal/infrastructure/database"
	"github.com/nerrad567/dali-center/internal/inventory"
	"github.com/nerrad567/dali-center/internal/selection"
	_ "github.com/nerrad567/dali-center/migrations"
)

// fakeScanner returns canned candidates. When block is set it waits for
// the scan context to end before answering, like a real timed scan.
type fakeScanner struct {
	mu         sync.Mutex
	candidates []Candidate
	err        error
	block      bool
	calls      [][]string
}

func (s *fakeScanner) Scan(ctx context.Context, serials ...string) ([]Candidate, error) {
	s.mu.Lock()
	s.calls = append(s.calls, serials)
	cands, err, block := s.candidates, s.err, s.block
	s.mu.Unlock()

	if block {
		<-ctx.Done()
		err = ctx.Err()
	}
	if len(serials) == 0 {
		return cands, err
	}
	var out []Candidate
	for _, c := range cands {
		for _, sn := range serials {
			if c.Serial == sn {
				out = append(out, c)
			}
		}
	}
	return out, err
}

type fakeConnector struct {
	mu         sync.Mutex
	items      map[string][]inventory.Item
	connectErr error
	fetchErr   error
	block      chan struct{}
	connected  []Candidate
	closed     int
}

func (c *fakeConnector) Connect(_ context.Context, cand Candidate) (Connection, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.connectErr != nil {
		return nil, c.connectErr
	}
	c.connected = append(c.connected, cand)
	return &fakeConn{c: c, serial: cand.Serial}, nil
}

func (c *fakeConnector) closedCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

type fakeConn struct {
	c      *fakeConnector
	serial string
}

func (f *fakeConn) FetchInventory(ctx context.Context) ([]inventory.Item, error) {
	f.c.mu.Lock()
	block := f.c.block
	f.c.mu.Unlock()
	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	f.c.mu.Lock()
	defer f.c.mu.Unlock()
	if f.c.fetchErr != nil {
		return nil, f.c.fetchErr
	}
	return append([]inventory.Item(nil), f.c.items[f.serial]...), nil
}

func (f *fakeConn) Close() error {
	f.c.mu.Lock()
	defer f.c.mu.Unlock()
	f.c.closed++
	return nil
}

type fakeMaterializer struct {
	mu      sync.Mutex
	updates []HostUpdate
	removed []string
	err     error
}

func (m *fakeMaterializer) Apply(_ context.Context, u HostUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.updates = append(m.updates, u)
	return m.err
}

func (m *fakeMaterializer) Remove(_ context.Context, serial string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.removed = append(m.removed, serial)
	return m.err
}

func (m *fakeMaterializer) last(t *testing.T) HostUpdate {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.updates) == 0 {
		t.Fatal("materializer was not called")
	}
	return m.updates[len(m.updates)-1]
}

type harness struct {
	mgr       *Manager
	db        *database.DB
	store     *selection.SQLiteStore
	scanner   *fakeScanner
	connector *fakeConnector
	host      *fakeMaterializer
	metrics   *Metrics
}

func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()
	ctx := context.Background()
	db, err := database.Open(ctx, database.Config{
		Path:        filepath.Join(t.TempDir(), "flow.db"),
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

	h := &harness{
		db:        db,
		store:     selection.NewSQLiteStore(db),
		scanner:   &fakeScanner{},
		connector: &fakeConnector{items: map[string][]inventory.Item{}},
		host:      &fakeMaterializer{},
		metrics:   NewMetrics(),
	}
	h.mgr = NewManager(cfg, Deps{
		Scanner:      h.scanner,
		Connector:    h.connector,
		Store:        h.store,
		Materializer: h.host,
		Metrics:      h.metrics,
	})
	t.Cleanup(h.mgr.CancelAll)
	return h
}

func waitCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

// wait waits for the flow's stage and checks the resulting state.
func wait(t *testing.T, f *Flow, want State) Snapshot {
	t.Helper()
	snap, err := f.Wait(waitCtx(t))
	if err != nil && !errors.Is(err, ErrFlowFailed) {
		t.Fatalf("Wait() error = %v", err)
	}
	if snap.State != want {
		t.Fatalf("state = %s, want %s (failure %+v)", snap.State, want, snap.Failure)
	}
	return snap
}

func gatewayCandidate(serial, name string) Candidate {
	return Candidate{Serial: serial, Name: name, Host: "10.0.0.5", Port: 1883}
}

func dev(serial, id, name string, addr int) inventory.Item {
	return inventory.Item{
		Kind:          inventory.KindDevice,
		ID:            id,
		GatewaySerial: serial,
		DisplayName:   name,
		TypeInfo:      inventory.TypeInfo{Device: &inventory.DeviceInfo{DevType: "0101", Channel: 0, Address: addr}},
		Online:        true,
	}
}

func grp(serial, id, name string, n int) inventory.Item {
	return inventory.Item{
		Kind:          inventory.KindGroup,
		ID:            id,
		GatewaySerial: serial,
		DisplayName:   name,
		TypeInfo:      inventory.TypeInfo{Group: &inventory.GroupInfo{Channel: 0, Group: n}},
	}
}

func scn(serial, id, name string, n int) inventory.Item {
	return inventory.Item{
		Kind:          inventory.KindScene,
		ID:            id,
		GatewaySerial: serial,
		DisplayName:   name,
		TypeInfo:      inventory.TypeInfo{Scene: &inventory.SceneInfo{Channel: 0, Scene: n}},
	}
}

// seedRecord stores a record for serial and returns it as loaded.
func (h *harness) seedRecord(t *testing.T, serial string, items []inventory.Item, selected ...inventory.Key) *selection.Record {
	t.Helper()
	ctx := context.Background()
	gw := gatewayCandidate(serial, "Office").Item()
	if err := h.store.Save(ctx, selection.NewRecord(gw, items, inventory.NewKeySet(selected...))); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	rec, err := h.store.Load(ctx, serial)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	return rec
}
