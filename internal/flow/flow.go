package flow

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/nerrad567/dali-center/internal/inventory"
	"github.com/nerrad567/dali-center/internal/selection"
)

// Flow is one discovery or refresh session.
//
// All methods are safe for concurrent use. Operations are serialised by the
// flow's mutex and by its state: while a background stage runs, only Cancel,
// Snapshot and Wait are accepted.
type Flow struct {
	id  string
	typ Type
	m   *Manager

	mu        sync.Mutex
	state     State
	createdAt time.Time
	updatedAt time.Time

	candidates   []Candidate
	scanTimedOut bool

	// serial is set once the flow holds the gateway claim.
	serial         string
	gateway        inventory.Item
	scope          []inventory.Kind
	refreshAddress bool
	previous       *selection.Record

	fresh    inventory.Snapshot
	changes  *inventory.ChangeSet
	defaults inventory.KeySet
	confirm  []inventory.Key

	result  *Result
	failure *Failure

	cancel context.CancelFunc
	done   chan struct{}
}

// Result describes a completed flow.
type Result struct {
	Revision int              `json:"revision"`
	Selected int              `json:"selected"`
	Counts   inventory.Counts `json:"counts"`
	Summary  string           `json:"summary,omitempty"`

	// Warning is set when the record was saved but the host could not be
	// updated. The host catches up on the next start.
	Warning string `json:"warning,omitempty"`
}

// ID returns the flow id.
func (f *Flow) ID() string { return f.id }

// Type returns the flow type.
func (f *Flow) Type() Type { return f.typ }

// State returns the current state.
func (f *Flow) State() State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

// Wait blocks until no background stage is running and returns the
// resulting snapshot. If the flow has failed, the returned error is its
// *Failure.
func (f *Flow) Wait(ctx context.Context) (Snapshot, error) {
	for {
		f.mu.Lock()
		done := f.done
		if done == nil {
			snap := f.snapshotLocked()
			var err error
			if f.failure != nil {
				err = f.failure
			}
			f.mu.Unlock()
			return snap, err
		}
		f.mu.Unlock()

		select {
		case <-done:
		case <-ctx.Done():
			return f.Snapshot(), ctx.Err()
		}
	}
}

// Cancel aborts the flow. A running network stage is interrupted; the flow
// ends in failed with reason cancelled and writes nothing.
func (f *Flow) Cancel() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.state.Terminal() {
		return fmt.Errorf("%w: flow is %s", ErrInvalidTransition, f.state)
	}
	if f.cancel != nil {
		f.cancel()
	}
	f.fail(failure(ReasonCancelled, "cancelled by operator"))
	return nil
}

// Rescan repeats the gateway scan from awaiting_gateway_selection.
func (f *Flow) Rescan(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.typ != TypeDiscovery || f.state != StateAwaitingGatewaySelection {
		return fmt.Errorf("%w: cannot rescan while %s", ErrInvalidTransition, f.state)
	}
	return f.startScanLocked(ctx)
}

// SelectGateway picks one of the scan candidates, claims its serial and
// starts fetching its inventory in the background.
//
// An unknown serial returns ErrUnknownCandidate and a serial held by another
// flow returns ErrFlowInProgress; in both cases the flow stays in
// awaiting_gateway_selection.
func (f *Flow) SelectGateway(ctx context.Context, serial string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.state != StateAwaitingGatewaySelection {
		return fmt.Errorf("%w: cannot select a gateway while %s", ErrInvalidTransition, f.state)
	}

	var cand *Candidate
	for i := range f.candidates {
		if f.candidates[i].Serial == serial {
			cand = &f.candidates[i]
			break
		}
	}
	if cand == nil {
		return fmt.Errorf("%w: %s", ErrUnknownCandidate, serial)
	}

	if err := f.m.claim(serial, f.id); err != nil {
		return err
	}
	switch _, err := f.m.deps.Store.Load(ctx, serial); {
	case err == nil:
		f.m.release(serial, f.id)
		return fmt.Errorf("%w: %s", ErrAlreadyConfigured, serial)
	case !errors.Is(err, selection.ErrNotFound):
		f.m.release(serial, f.id)
		return fmt.Errorf("checking existing selection: %w", err)
	}

	f.serial = serial
	f.gateway = cand.Item()
	if err := f.setState(StateFetchingInventory); err != nil {
		return err
	}
	f.beginStage(ctx, f.runFetch)
	return nil
}

// SelectEntities persists the chosen keys and completes the flow. Every key
// must be part of the fetched inventory; otherwise ErrUnknownItem is
// returned and the flow stays in awaiting_entity_selection.
//
// If saving fails the flow ends in failed with reason persistence_error and
// the returned error is its *Failure.
func (f *Flow) SelectEntities(ctx context.Context, keys []inventory.Key) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.state != StateAwaitingEntitySelection {
		return fmt.Errorf("%w: cannot select entities while %s", ErrInvalidTransition, f.state)
	}

	chosen := inventory.NewKeySet()
	for _, k := range keys {
		if _, ok := f.fresh[k]; !ok {
			return fmt.Errorf("%w: %s", ErrUnknownItem, k)
		}
		chosen.Add(k)
	}

	if err := f.setState(StatePersisting); err != nil {
		return err
	}

	record := f.buildRecord(chosen)
	if err := f.m.deps.Store.Save(ctx, record); err != nil {
		f.fail(failure(ReasonPersistenceError, "saving selection: %v", err))
		return f.failure
	}

	res := &Result{
		Revision: record.Revision,
		Selected: len(record.Selected),
		Counts:   f.changes.Counts(),
	}
	if f.typ == TypeRefresh {
		res.Summary = RefreshSummary(f.previous.LastSeen, f.fresh, *f.changes, f.scope)
	}

	update := hostUpdate(f.previous, record)
	if err := f.m.deps.Materializer.Apply(ctx, update); err != nil {
		f.m.logger.Warn("host update failed after saving selection",
			"flow_id", f.id, "gateway", f.serial, "error", err)
		res.Warning = fmt.Sprintf("host update failed: %v", err)
	}

	f.result = res
	return f.setState(StateComplete)
}

// startScanLocked enters scanning_gateways and scans in the background.
func (f *Flow) startScanLocked(ctx context.Context) error {
	if err := f.setState(StateScanningGateways); err != nil {
		return err
	}
	f.candidates = nil
	f.scanTimedOut = false
	f.beginStage(ctx, f.runScan)
	return nil
}

// startFetchLocked enters fetching_inventory for a refresh.
func (f *Flow) startFetchLocked(ctx context.Context) error {
	if err := f.setState(StateFetchingInventory); err != nil {
		return err
	}
	f.beginStage(ctx, f.runFetch)
	return nil
}

// beginStage runs fn in the background. Must be called with f.mu held.
//
// The stage outlives the caller's request, so it only inherits ctx's
// values. Cancel interrupts it.
func (f *Flow) beginStage(ctx context.Context, fn func(ctx context.Context)) {
	stageCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	done := make(chan struct{})
	f.cancel, f.done = cancel, done

	go func() {
		defer close(done)
		defer cancel()
		fn(stageCtx)
	}()
}

// endStageLocked clears the running stage. It reports false when the flow
// left the stage's state in the meantime, which only Cancel does.
func (f *Flow) endStageLocked(state State) bool {
	f.cancel, f.done = nil, nil
	return f.state == state
}

func (f *Flow) runScan(ctx context.Context) {
	configured, listErr := f.m.configuredSerials(ctx)

	scanCtx, cancel := context.WithTimeout(ctx, f.m.cfg.ScanTimeout)
	defer cancel()
	start := time.Now()
	found, scanErr := f.m.deps.Scanner.Scan(scanCtx)
	timedOut := errors.Is(scanCtx.Err(), context.DeadlineExceeded)
	f.m.metrics.observeStage("scan", time.Since(start))

	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.endStageLocked(StateScanningGateways) {
		return
	}

	if listErr != nil {
		f.fail(failure(ReasonPersistenceError, "listing configured gateways: %v", listErr))
		return
	}
	if scanErr != nil && !timedOut {
		f.fail(failure(ReasonConnectionError, "scanning for gateways: %v", scanErr))
		return
	}

	f.candidates = filterCandidates(found, configured)
	f.scanTimedOut = timedOut
	if timedOut {
		f.m.logger.Debug("gateway scan ended at timeout",
			"flow_id", f.id, "reason", ReasonScanTimeout, "candidates", len(f.candidates))
	}
	_ = f.setState(StateAwaitingGatewaySelection)
}

// filterCandidates de-duplicates by serial, drops configured gateways and
// sorts by serial.
func filterCandidates(found []Candidate, configured map[string]bool) []Candidate {
	seen := make(map[string]bool, len(found))
	out := make([]Candidate, 0, len(found))
	for _, c := range found {
		if c.Serial == "" || seen[c.Serial] || configured[c.Serial] {
			continue
		}
		seen[c.Serial] = true
		out = append(out, c)
	}
	sortCandidates(out)
	return out
}

func sortCandidates(cs []Candidate) {
	sort.Slice(cs, func(i, j int) bool { return cs[i].Serial < cs[j].Serial })
}

func (f *Flow) runFetch(ctx context.Context) {
	f.mu.Lock()
	cand := CandidateFromItem(f.gateway)
	refreshAddress := f.refreshAddress
	f.mu.Unlock()

	start := time.Now()
	defer func() { f.m.metrics.observeStage("fetch", time.Since(start)) }()

	if refreshAddress {
		located, fl := f.locate(ctx, cand)
		if fl != nil {
			f.finishFetch(nil, cand, fl)
			return
		}
		cand = located
	}

	connCtx, cancel := context.WithTimeout(ctx, f.m.cfg.ConnectTimeout)
	conn, err := f.m.deps.Connector.Connect(connCtx, cand)
	cancel()
	if err != nil {
		f.finishFetch(nil, cand, failure(ReasonConnectionError, "connecting to gateway %s: %v", cand.Serial, err))
		return
	}
	defer func() {
		if err := conn.Close(); err != nil {
			f.m.logger.Warn("closing gateway connection", "gateway", cand.Serial, "error", err)
		}
	}()

	fetchCtx, cancel := context.WithTimeout(ctx, f.m.cfg.FetchTimeout)
	items, err := conn.FetchInventory(fetchCtx)
	cancel()
	switch {
	case err != nil:
		f.finishFetch(nil, cand, failure(ReasonFetchError, "fetching inventory from %s: %v", cand.Serial, err))
	case len(items) == 0:
		f.finishFetch(nil, cand, failure(ReasonFetchError, "no entities found on gateway %s", cand.Serial))
	default:
		f.finishFetch(items, cand, nil)
	}
}

// locate re-scans for the flow's gateway to pick up a changed address.
func (f *Flow) locate(ctx context.Context, cand Candidate) (Candidate, *Failure) {
	scanCtx, cancel := context.WithTimeout(ctx, f.m.cfg.ScanTimeout)
	defer cancel()

	found, err := f.m.deps.Scanner.Scan(scanCtx, cand.Serial)
	for _, c := range found {
		if c.Serial != cand.Serial {
			continue
		}
		if c.Name == "" {
			c.Name = cand.Name
		}
		if c.Host != cand.Host || c.Port != cand.Port {
			f.m.logger.Info("gateway address changed",
				"gateway", cand.Serial, "from", cand.Host, "to", c.Host, "port", c.Port)
		}
		return c, nil
	}
	if err != nil && !errors.Is(scanCtx.Err(), context.DeadlineExceeded) {
		return cand, failure(ReasonConnectionError, "scanning for gateway %s: %v", cand.Serial, err)
	}
	return cand, failure(ReasonConnectionError, "gateway %s did not answer the address scan", cand.Serial)
}

func (f *Flow) finishFetch(items []inventory.Item, cand Candidate, fl *Failure) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.endStageLocked(StateFetchingInventory) {
		return
	}
	if fl != nil {
		f.fail(fl)
		return
	}
	seen := make(map[inventory.Key]bool, len(items))
	for _, it := range items {
		if it.GatewaySerial != cand.Serial || it.Kind == inventory.KindGateway {
			f.fail(failure(ReasonFetchError, "gateway %s reported foreign item %s", cand.Serial, it.Key()))
			return
		}
		if seen[it.Key()] {
			f.fail(failure(ReasonFetchError, "gateway %s reported %s twice", cand.Serial, it.Key()))
			return
		}
		seen[it.Key()] = true
	}

	f.gateway = cand.Item()
	f.prepareSelection(items)
	_ = f.setState(StateAwaitingEntitySelection)
}

// prepareSelection diffs the fetched items against the previous record and
// computes the default selection. Must be called with f.mu held.
func (f *Flow) prepareSelection(items []inventory.Item) {
	if f.typ == TypeDiscovery {
		f.fresh = inventory.SnapshotOf(items)
		cs := inventory.Diff(inventory.Snapshot{}, items)
		f.changes = &cs
		f.defaults = inventory.NewKeySet(f.fresh.Keys()...)
		f.confirm = nil
		return
	}

	inScope := make([]inventory.Item, 0, len(items))
	for _, it := range items {
		if inScopeKind(f.scope, it.Kind) {
			inScope = append(inScope, it)
		}
	}
	f.fresh = inventory.SnapshotOf(inScope)
	cs := inventory.Diff(f.previous.LastSeen.Filter(f.scope...), inScope)
	f.changes = &cs

	f.defaults = inventory.NewKeySet()
	for key := range f.previous.Selected {
		if _, ok := f.fresh[key]; ok {
			f.defaults.Add(key)
		}
	}
	f.confirm = nil
	if f.m.cfg.RenamePolicy == RenamePolicyConfirm {
		for _, key := range cs.ChangedKeys() {
			delete(f.defaults, key)
			f.confirm = append(f.confirm, key)
		}
	}
}

func inScopeKind(scope []inventory.Kind, kind inventory.Kind) bool {
	for _, k := range scope {
		if k == kind {
			return true
		}
	}
	return false
}

// buildRecord assembles the record to persist. Kinds outside a refresh's
// scope keep their previous items and selection verbatim.
func (f *Flow) buildRecord(chosen inventory.KeySet) *selection.Record {
	if f.typ == TypeDiscovery {
		return selection.NewRecord(f.gateway, f.fresh.Items(), chosen)
	}

	lastSeen := make([]inventory.Item, 0, len(f.previous.LastSeen)+len(f.fresh))
	selected := chosen.Clone()
	for key, it := range f.previous.LastSeen {
		if inScopeKind(f.scope, key.Kind) {
			continue
		}
		lastSeen = append(lastSeen, it)
		if f.previous.Selected.Has(key) {
			selected.Add(key)
		}
	}
	lastSeen = append(lastSeen, f.fresh.Items()...)
	return selection.NewRecord(f.gateway, lastSeen, selected)
}

// hostUpdate derives the entity changes between the previously persisted
// record (nil on first discovery) and the new one.
func hostUpdate(previous, next *selection.Record) HostUpdate {
	u := HostUpdate{
		Gateway:  next.Gateway,
		Entities: next.SelectedItems(),
		Created:  []inventory.Item{},
		Updated:  []inventory.Item{},
		Removed:  []inventory.Key{},
	}

	var before inventory.KeySet
	if previous != nil {
		before = previous.Selected
	}
	for _, it := range u.Entities {
		key := it.Key()
		if !before.Has(key) {
			u.Created = append(u.Created, it)
			continue
		}
		if old, ok := previous.LastSeen[key]; ok && !old.SameMetadata(it) {
			u.Updated = append(u.Updated, it)
		}
	}
	for _, key := range before.Sorted() {
		if !next.Selected.Has(key) {
			u.Removed = append(u.Removed, key)
		}
	}
	return u
}

// setState moves the flow to `to` and notifies the manager. Must be called
// with f.mu held.
func (f *Flow) setState(to State) error {
	if !canTransition(f.state, to) {
		return fmt.Errorf("%w: %s to %s", ErrInvalidTransition, f.state, to)
	}
	from := f.state
	f.state = to
	f.updatedAt = f.m.now()
	f.m.transitioned(f, from, to)
	return nil
}

// fail moves the flow to failed. Must be called with f.mu held.
func (f *Flow) fail(fl *Failure) {
	if f.state.Terminal() {
		return
	}
	f.failure = fl
	f.m.logger.Warn("flow failed",
		"flow_id", f.id, "type", f.typ, "state", f.state,
		"reason", fl.Reason, "message", fl.Message)
	_ = f.setState(StateFailed)
}
