package flow

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/nerrad567/dali-center/internal/infrastructure/config"
	"github.com/nerrad567/dali-center/internal/inventory"
	"github.com/nerrad567/dali-center/internal/selection"
)

func TestManager_ConcurrentStartRejected(t *testing.T) {
	h := newHarness(t, Config{})
	ctx := context.Background()
	h.seedRecord(t, "GW1", []inventory.Item{dev("GW1", "1", "A", 1)})
	h.connector.items["GW1"] = []inventory.Item{dev("GW1", "1", "A", 1)}
	h.connector.block = make(chan struct{})

	first, err := h.mgr.StartRefresh(ctx, "GW1", RefreshRequest{})
	if err != nil {
		t.Fatalf("StartRefresh() error = %v", err)
	}

	if _, err := h.mgr.StartRefresh(ctx, "GW1", RefreshRequest{}); !errors.Is(err, ErrFlowInProgress) {
		t.Fatalf("second StartRefresh() error = %v, want ErrFlowInProgress", err)
	}
	if err := h.mgr.RemoveGateway(ctx, "GW1"); !errors.Is(err, ErrFlowInProgress) {
		t.Errorf("RemoveGateway() during refresh error = %v, want ErrFlowInProgress", err)
	}

	close(h.connector.block)
	wait(t, first, StateAwaitingEntitySelection)
	if err := first.SelectEntities(ctx, []inventory.Key{dev("GW1", "1", "A", 1).Key()}); err != nil {
		t.Fatalf("SelectEntities() error = %v", err)
	}
	if snap := wait(t, first, StateComplete); snap.Result == nil || snap.Result.Revision != 2 {
		t.Errorf("first flow result = %+v, want revision 2", snap.Result)
	}

	h.connector.mu.Lock()
	h.connector.block = nil
	h.connector.mu.Unlock()

	next, err := h.mgr.StartRefresh(ctx, "GW1", RefreshRequest{})
	if err != nil {
		t.Fatalf("StartRefresh() after completion error = %v", err)
	}
	wait(t, next, StateAwaitingEntitySelection)
}

func TestManager_DiscoveryClaimConflict(t *testing.T) {
	h := newHarness(t, Config{})
	ctx := context.Background()
	h.scanner.candidates = []Candidate{gatewayCandidate("GW1", "Office")}
	h.connector.items["GW1"] = []inventory.Item{dev("GW1", "1", "A", 1)}
	h.connector.block = make(chan struct{})

	a, _ := h.mgr.StartDiscovery(ctx)
	b, _ := h.mgr.StartDiscovery(ctx)
	wait(t, a, StateAwaitingGatewaySelection)
	wait(t, b, StateAwaitingGatewaySelection)

	if err := a.SelectGateway(ctx, "GW1"); err != nil {
		t.Fatalf("SelectGateway(a) error = %v", err)
	}
	if err := b.SelectGateway(ctx, "GW1"); !errors.Is(err, ErrFlowInProgress) {
		t.Fatalf("SelectGateway(b) error = %v, want ErrFlowInProgress", err)
	}
	if b.State() != StateAwaitingGatewaySelection {
		t.Errorf("b state = %s, want awaiting_gateway_selection", b.State())
	}

	close(h.connector.block)
	wait(t, a, StateAwaitingEntitySelection)
	if err := a.SelectEntities(ctx, []inventory.Key{dev("GW1", "1", "A", 1).Key()}); err != nil {
		t.Fatalf("SelectEntities(a) error = %v", err)
	}
	wait(t, a, StateComplete)
	if _, err := h.store.Load(ctx, "GW1"); err != nil {
		t.Errorf("Load() after a completed error = %v", err)
	}
	if err := b.SelectGateway(ctx, "GW1"); !errors.Is(err, ErrAlreadyConfigured) {
		t.Errorf("SelectGateway(b) after a completed error = %v, want ErrAlreadyConfigured", err)
	}
}

func TestManager_IdleFlowReleasesGateway(t *testing.T) {
	h := newHarness(t, Config{IdleTimeout: time.Minute})
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	h.mgr.now = func() time.Time { return now }
	h.seedRecord(t, "GW1", []inventory.Item{dev("GW1", "1", "A", 1)})
	h.connector.items["GW1"] = []inventory.Item{dev("GW1", "1", "A", 1)}

	abandoned, err := h.mgr.StartRefresh(ctx, "GW1", RefreshRequest{})
	if err != nil {
		t.Fatalf("StartRefresh() error = %v", err)
	}
	wait(t, abandoned, StateAwaitingEntitySelection)

	if _, err := h.mgr.StartRefresh(ctx, "GW1", RefreshRequest{}); !errors.Is(err, ErrFlowInProgress) {
		t.Fatalf("StartRefresh() before timeout error = %v, want ErrFlowInProgress", err)
	}
	if n := h.mgr.ExpireIdle(); n != 0 {
		t.Errorf("ExpireIdle() before timeout = %d, want 0", n)
	}

	now = now.Add(2 * time.Minute)
	next, err := h.mgr.StartRefresh(ctx, "GW1", RefreshRequest{})
	if err != nil {
		t.Fatalf("StartRefresh() after timeout error = %v", err)
	}
	snap := abandoned.Snapshot()
	if snap.State != StateFailed || snap.Failure == nil || snap.Failure.Reason != ReasonCancelled {
		t.Errorf("abandoned flow = %s %+v, want failed/cancelled", snap.State, snap.Failure)
	}
	wait(t, next, StateAwaitingEntitySelection)
	if owner, _ := h.mgr.ActiveFlow("GW1"); owner != next.ID() {
		t.Errorf("ActiveFlow() = %q, want %q", owner, next.ID())
	}
}

func TestManager_ExpireIdle(t *testing.T) {
	h := newHarness(t, Config{IdleTimeout: time.Minute})
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	h.mgr.now = func() time.Time { return now }

	f, _ := h.mgr.StartDiscovery(ctx)
	wait(t, f, StateAwaitingGatewaySelection)

	now = now.Add(time.Minute)
	if n := h.mgr.ExpireIdle(); n != 1 {
		t.Fatalf("ExpireIdle() = %d, want 1", n)
	}
	if f.State() != StateFailed {
		t.Errorf("state = %s, want failed", f.State())
	}
	if n := h.mgr.ExpireIdle(); n != 0 {
		t.Errorf("second ExpireIdle() = %d, want 0", n)
	}
}

func TestManager_GetAndList(t *testing.T) {
	h := newHarness(t, Config{})
	ctx := context.Background()

	f, _ := h.mgr.StartDiscovery(ctx)
	wait(t, f, StateAwaitingGatewaySelection)

	got, err := h.mgr.Get(f.ID())
	if err != nil || got != f {
		t.Fatalf("Get() = %v, %v", got, err)
	}
	if _, err := h.mgr.Get("missing"); !errors.Is(err, ErrFlowNotFound) {
		t.Errorf("Get(missing) error = %v, want ErrFlowNotFound", err)
	}
	if list := h.mgr.List(); len(list) != 1 || list[0].ID != f.ID() {
		t.Errorf("List() = %+v", list)
	}
}

func TestManager_PrunesFinishedFlows(t *testing.T) {
	h := newHarness(t, Config{Retention: time.Minute})
	ctx := context.Background()

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	h.mgr.now = func() time.Time { return now }

	old, _ := h.mgr.StartDiscovery(ctx)
	wait(t, old, StateAwaitingGatewaySelection)
	if err := old.Cancel(); err != nil {
		t.Fatalf("Cancel() error = %v", err)
	}

	now = now.Add(2 * time.Minute)
	fresh, _ := h.mgr.StartDiscovery(ctx)
	wait(t, fresh, StateAwaitingGatewaySelection)

	if _, err := h.mgr.Get(old.ID()); !errors.Is(err, ErrFlowNotFound) {
		t.Errorf("Get(old) error = %v, want pruned", err)
	}
}

func TestManager_RemoveGateway(t *testing.T) {
	h := newHarness(t, Config{})
	ctx := context.Background()
	h.seedRecord(t, "GW1", []inventory.Item{dev("GW1", "1", "A", 1)}, devKey("GW1", "1"))

	if err := h.mgr.RemoveGateway(ctx, "GW1"); err != nil {
		t.Fatalf("RemoveGateway() error = %v", err)
	}
	if _, err := h.store.Load(ctx, "GW1"); !errors.Is(err, selection.ErrNotFound) {
		t.Errorf("Load() error = %v, want ErrNotFound", err)
	}
	if len(h.host.removed) != 1 || h.host.removed[0] != "GW1" {
		t.Errorf("host removals = %v", h.host.removed)
	}
	if err := h.mgr.RemoveGateway(ctx, "GW1"); !errors.Is(err, selection.ErrNotFound) {
		t.Errorf("second RemoveGateway() error = %v, want ErrNotFound", err)
	}
}

func TestManager_Restore(t *testing.T) {
	h := newHarness(t, Config{})
	ctx := context.Background()
	gw := gatewayCandidate("GW1", "Office").Item()
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	snaps := []Snapshot{
		{
			ID: "waiting-gateway", Type: TypeDiscovery, State: StateAwaitingGatewaySelection,
			Candidates: []Candidate{gatewayCandidate("GW2", "Stairs")},
			CreatedAt:  at, UpdatedAt: at,
		},
		{
			ID: "interrupted", Type: TypeDiscovery, State: StateFetchingInventory,
			GatewaySerial: "GW3", CreatedAt: at, UpdatedAt: at,
		},
		{
			ID: "waiting-entities", Type: TypeDiscovery, State: StateAwaitingEntitySelection,
			GatewaySerial: "GW1", Gateway: &gw,
			Items:     []inventory.Item{dev("GW1", "1", "A", 1), dev("GW1", "2", "B", 2)},
			CreatedAt: at, UpdatedAt: at,
		},
		{
			ID: "done", Type: TypeDiscovery, State: StateComplete,
			Result: &Result{Revision: 1}, CreatedAt: at, UpdatedAt: at,
		},
	}
	h.mgr.Restore(ctx, snaps)

	states := map[string]State{}
	for _, s := range h.mgr.List() {
		states[s.ID] = s.State
	}
	want := map[string]State{
		"waiting-gateway":  StateAwaitingGatewaySelection,
		"interrupted":      StateFailed,
		"waiting-entities": StateAwaitingEntitySelection,
		"done":             StateComplete,
	}
	for id, st := range want {
		if states[id] != st {
			t.Errorf("restored %s state = %s, want %s", id, states[id], st)
		}
	}

	if id, _ := h.mgr.ActiveFlow("GW1"); id != "waiting-entities" {
		t.Errorf("ActiveFlow(GW1) = %q, want the resumed flow", id)
	}

	f, err := h.mgr.Get("waiting-entities")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if err := f.SelectEntities(ctx, []inventory.Key{devKey("GW1", "2")}); err != nil {
		t.Fatalf("SelectEntities() on resumed flow error = %v", err)
	}
	rec, err := h.store.Load(ctx, "GW1")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(rec.LastSeen) != 2 || !rec.IsSelected(devKey("GW1", "2")) {
		t.Errorf("record = %+v", rec)
	}
}

func TestManager_RestoreRefreshWithStaleRevision(t *testing.T) {
	h := newHarness(t, Config{})
	ctx := context.Background()
	rec := h.seedRecord(t, "GW1", []inventory.Item{dev("GW1", "1", "A", 1)})

	h.mgr.Restore(ctx, []Snapshot{{
		ID: "stale", Type: TypeRefresh, State: StateAwaitingEntitySelection,
		GatewaySerial: "GW1", Gateway: &rec.Gateway, Scope: inventory.EntityKinds,
		PreviousRevision: rec.Revision + 1,
		Items:            []inventory.Item{dev("GW1", "1", "A", 1)},
	}})

	f, err := h.mgr.Get("stale")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if f.State() != StateFailed {
		t.Errorf("state = %s, want failed", f.State())
	}
	if _, ok := h.mgr.ActiveFlow("GW1"); ok {
		t.Error("claim kept by failed restore")
	}
}

func TestManager_Metrics(t *testing.T) {
	h := newHarness(t, Config{})
	ctx := context.Background()
	h.scanner.candidates = []Candidate{gatewayCandidate("GW1", "Office")}
	h.connector.items["GW1"] = []inventory.Item{dev("GW1", "1", "A", 1)}

	f, _ := h.mgr.StartDiscovery(ctx)
	wait(t, f, StateAwaitingGatewaySelection)
	if got := testutil.ToFloat64(h.metrics.active.WithLabelValues("discovery")); got != 1 {
		t.Errorf("active = %v, want 1", got)
	}
	_ = f.SelectGateway(ctx, "GW1")
	snap := wait(t, f, StateAwaitingEntitySelection)
	if err := f.SelectEntities(ctx, snap.DefaultSelection); err != nil {
		t.Fatalf("SelectEntities() error = %v", err)
	}

	if got := testutil.ToFloat64(h.metrics.started.WithLabelValues("discovery")); got != 1 {
		t.Errorf("started = %v, want 1", got)
	}
	if got := testutil.ToFloat64(h.metrics.finished.WithLabelValues("discovery", "complete")); got != 1 {
		t.Errorf("finished complete = %v, want 1", got)
	}
	if got := testutil.ToFloat64(h.metrics.active.WithLabelValues("discovery")); got != 0 {
		t.Errorf("active = %v, want 0", got)
	}
	if n := testutil.CollectAndCount(h.metrics.stage); n != 2 {
		t.Errorf("stage histograms = %d, want scan and fetch", n)
	}
}

func TestConfigFrom(t *testing.T) {
	cfg := config.Default()
	cfg.Discovery.RenamePolicy = config.RenamePolicyConfirm
	got := ConfigFrom(cfg)
	if got.ScanTimeout != 3*time.Minute || got.FetchTimeout != 30*time.Second || got.ConnectTimeout != 10*time.Second {
		t.Errorf("ConfigFrom() timeouts = %+v", got)
	}
	if got.RenamePolicy != RenamePolicyConfirm {
		t.Errorf("RenamePolicy = %q, want confirm", got.RenamePolicy)
	}
	if got.IdleTimeout != 30*time.Minute {
		t.Errorf("IdleTimeout = %v, want 30m", got.IdleTimeout)
	}
}
