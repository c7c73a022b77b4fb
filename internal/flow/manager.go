package flow

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/dali-center/internal/infrastructure/config"
	"github.com/nerrad567/dali-center/internal/inventory"
	"github.com/nerrad567/dali-center/internal/selection"
)

// RenamePolicy decides how renamed or otherwise changed items are handled
// on refresh.
type RenamePolicy string

// Rename policies.
const (
	// RenamePolicyAutoUpdate keeps changed items selected and passes them to
	// the host as updates.
	RenamePolicyAutoUpdate RenamePolicy = config.RenamePolicyAutoUpdate

	// RenamePolicyConfirm defaults changed items to unselected; they stay
	// managed only when the operator selects them again.
	RenamePolicyConfirm RenamePolicy = config.RenamePolicyConfirm
)

// Config holds flow timeouts and policy.
type Config struct {
	ScanTimeout    time.Duration
	ConnectTimeout time.Duration
	FetchTimeout   time.Duration
	RenamePolicy   RenamePolicy

	// Retention is how long finished flows stay inspectable in memory.
	Retention time.Duration

	// IdleTimeout is how long a flow may wait for operator input before it
	// is failed and its gateway claim released.
	IdleTimeout time.Duration
}

// DefaultConfig returns the default flow configuration.
func DefaultConfig() Config {
	return Config{
		ScanTimeout:    3 * time.Minute,
		ConnectTimeout: 10 * time.Second,
		FetchTimeout:   30 * time.Second,
		RenamePolicy:   RenamePolicyAutoUpdate,
		Retention:      time.Hour,
		IdleTimeout:    30 * time.Minute,
	}
}

// ConfigFrom derives the flow configuration from the application config.
func ConfigFrom(cfg *config.Config) Config {
	c := DefaultConfig()
	c.ScanTimeout = cfg.Discovery.ScanTimeout
	c.FetchTimeout = cfg.Discovery.FetchTimeout
	c.ConnectTimeout = cfg.Gateway.RequestTimeout
	c.RenamePolicy = RenamePolicy(cfg.Discovery.RenamePolicy)
	if cfg.Discovery.IdleTimeout > 0 {
		c.IdleTimeout = cfg.Discovery.IdleTimeout
	}
	return c
}

// Deps are the collaborators flows use.
type Deps struct {
	Scanner      Scanner
	Connector    Connector
	Store        selection.Store
	Materializer Materializer

	// Metrics is optional.
	Metrics *Metrics
}

// RefreshRequest parameterises a refresh.
type RefreshRequest struct {
	// Kinds limits the refresh to some entity kinds. Empty means all.
	Kinds []inventory.Kind `json:"kinds,omitempty"`

	// RefreshAddress re-scans for the gateway to update its address before
	// connecting.
	RefreshAddress bool `json:"refresh_address,omitempty"`
}

// Manager owns all flows and holds the per-gateway claims.
//
// At most one non-terminal flow may hold a gateway serial. Discovery flows
// claim the serial when a gateway is selected; refresh flows claim it at
// start.
type Manager struct {
	cfg     Config
	deps    Deps
	logger  Logger
	metrics *Metrics
	now     func() time.Time
	newID   func() string

	mu        sync.Mutex
	flows     map[string]*Flow
	active    map[string]string // gateway serial -> owner
	observers []Observer
}

// NewManager creates a flow manager.
func NewManager(cfg Config, deps Deps) *Manager {
	def := DefaultConfig()
	if cfg.ScanTimeout <= 0 {
		cfg.ScanTimeout = def.ScanTimeout
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = def.ConnectTimeout
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = def.FetchTimeout
	}
	if cfg.RenamePolicy == "" {
		cfg.RenamePolicy = def.RenamePolicy
	}
	if cfg.Retention <= 0 {
		cfg.Retention = def.Retention
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = def.IdleTimeout
	}

	return &Manager{
		cfg:     cfg,
		deps:    deps,
		logger:  noopLogger{},
		metrics: deps.Metrics,
		now:     func() time.Time { return time.Now().UTC() },
		newID:   uuid.NewString,
		flows:   make(map[string]*Flow),
		active:  make(map[string]string),
	}
}

// SetLogger sets the logger for the manager and its flows.
func (m *Manager) SetLogger(logger Logger) {
	m.logger = logger
}

// AddObserver registers an observer for flow transitions.
func (m *Manager) AddObserver(o Observer) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.observers = append(m.observers, o)
}

// Config returns the manager's configuration.
func (m *Manager) Config() Config {
	return m.cfg
}

// StartDiscovery creates a discovery flow and starts scanning in the
// background.
func (m *Manager) StartDiscovery(ctx context.Context) (*Flow, error) {
	f := m.newFlow(TypeDiscovery)

	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.startScanLocked(ctx); err != nil {
		return nil, err
	}
	return f, nil
}

// StartRefresh creates a refresh flow for a configured gateway and starts
// fetching its inventory in the background.
//
// It returns selection.ErrNotFound when the gateway has no record and
// ErrFlowInProgress when another flow holds the gateway.
func (m *Manager) StartRefresh(ctx context.Context, serial string, req RefreshRequest) (*Flow, error) {
	scope, err := refreshScope(req.Kinds)
	if err != nil {
		return nil, err
	}

	id := m.newID()
	if err := m.claim(serial, id); err != nil {
		return nil, err
	}

	record, err := m.deps.Store.Load(ctx, serial)
	if err != nil {
		m.release(serial, id)
		return nil, fmt.Errorf("loading selection for %s: %w", serial, err)
	}

	f := m.register(id, TypeRefresh)
	m.metrics.flowStarted(TypeRefresh)
	f.mu.Lock()
	defer f.mu.Unlock()

	f.serial = serial
	f.previous = record
	f.gateway = record.Gateway
	f.scope = scope
	f.refreshAddress = req.RefreshAddress
	if err := f.startFetchLocked(ctx); err != nil {
		return nil, err
	}
	return f, nil
}

func refreshScope(kinds []inventory.Kind) ([]inventory.Kind, error) {
	if len(kinds) == 0 {
		return append([]inventory.Kind(nil), inventory.EntityKinds...), nil
	}
	for _, k := range kinds {
		if !inScopeKind(inventory.EntityKinds, k) {
			return nil, fmt.Errorf("%w: %q", ErrInvalidScope, k)
		}
	}
	return orderedKinds(kinds), nil
}

// Get returns the flow with the given id.
func (m *Manager) Get(id string) (*Flow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.flows[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrFlowNotFound, id)
	}
	return f, nil
}

// List returns snapshots of all known flows, newest first.
func (m *Manager) List() []Snapshot {
	m.mu.Lock()
	flows := make([]*Flow, 0, len(m.flows))
	for _, f := range m.flows {
		flows = append(flows, f)
	}
	m.mu.Unlock()

	out := make([]Snapshot, 0, len(flows))
	for _, f := range flows {
		out = append(out, f.Snapshot())
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// ActiveFlow returns the id of the flow holding serial, if any.
func (m *Manager) ActiveFlow(serial string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.active[serial]
	return id, ok
}

// RemoveGateway deletes a gateway's selection and its host entities. It
// fails with ErrFlowInProgress while a flow holds the gateway.
func (m *Manager) RemoveGateway(ctx context.Context, serial string) error {
	owner := "remove:" + serial
	if err := m.claim(serial, owner); err != nil {
		return err
	}
	defer m.release(serial, owner)

	if err := m.deps.Store.Delete(ctx, serial); err != nil {
		return fmt.Errorf("deleting selection for %s: %w", serial, err)
	}
	if err := m.deps.Materializer.Remove(ctx, serial); err != nil {
		return fmt.Errorf("removing host entities for %s: %w", serial, err)
	}
	m.logger.Info("gateway removed", "gateway", serial)
	return nil
}

// CancelAll cancels every non-terminal flow. Used at shutdown.
func (m *Manager) CancelAll() {
	m.mu.Lock()
	flows := make([]*Flow, 0, len(m.flows))
	for _, f := range m.flows {
		flows = append(flows, f)
	}
	m.mu.Unlock()

	for _, f := range flows {
		_ = f.Cancel() //nolint:errcheck // terminal flows reject Cancel
	}
}

// Restore re-registers flows from persisted snapshots. Flows waiting for
// operator input are resumed; flows interrupted in a network or persistence
// stage are marked failed.
func (m *Manager) Restore(ctx context.Context, snaps []Snapshot) {
	for _, snap := range snaps {
		m.mu.Lock()
		_, exists := m.flows[snap.ID]
		m.mu.Unlock()
		if exists {
			continue
		}

		f := m.register(snap.ID, snap.Type)
		f.mu.Lock()
		f.state = snap.State
		f.createdAt = snap.CreatedAt
		f.updatedAt = snap.UpdatedAt
		f.candidates = snap.Candidates
		f.scanTimedOut = snap.ScanTimedOut
		f.scope = snap.Scope
		f.refreshAddress = snap.RefreshAddress
		f.result = snap.Result
		f.failure = snap.Failure
		if snap.Gateway != nil {
			f.gateway = *snap.Gateway
		}
		if !f.state.Terminal() {
			m.metrics.flowResumed(f.typ)
			if err := m.resume(ctx, f, snap); err != nil {
				f.fail(failure(ReasonCancelled, "%v", err))
			}
		}
		f.mu.Unlock()
	}
}

// resume rebuilds the live context of a restored flow. Must be called with
// f.mu held.
func (m *Manager) resume(ctx context.Context, f *Flow, snap Snapshot) error {
	switch f.state {
	case StateAwaitingGatewaySelection:
		return nil

	case StateAwaitingEntitySelection:
		if err := m.claim(snap.GatewaySerial, f.id); err != nil {
			return fmt.Errorf("interrupted by restart: %w", err)
		}
		f.serial = snap.GatewaySerial

		record, err := m.deps.Store.Load(ctx, snap.GatewaySerial)
		switch {
		case f.typ == TypeDiscovery && err == nil:
			return fmt.Errorf("interrupted by restart: %w", ErrAlreadyConfigured)
		case f.typ == TypeDiscovery && errors.Is(err, selection.ErrNotFound):
		case err != nil:
			return fmt.Errorf("interrupted by restart: %w", err)
		case record.Revision != snap.PreviousRevision:
			return errors.New("interrupted by restart: selection changed since the flow started")
		default:
			f.previous = record
		}
		f.prepareSelection(snap.Items)
		return nil

	default:
		return errors.New("interrupted by restart")
	}
}

func (m *Manager) newFlow(typ Type) *Flow {
	f := m.register(m.newID(), typ)
	m.metrics.flowStarted(typ)
	return f
}

func (m *Manager) register(id string, typ Type) *Flow {
	now := m.now()
	f := &Flow{
		id:        id,
		typ:       typ,
		m:         m,
		state:     StateIdle,
		createdAt: now,
		updatedAt: now,
	}

	m.mu.Lock()
	m.pruneLocked(now.Add(-m.cfg.Retention))
	m.flows[id] = f
	m.mu.Unlock()
	return f
}

// pruneLocked forgets terminal flows last updated before cutoff. Must be
// called with m.mu held.
func (m *Manager) pruneLocked(cutoff time.Time) {
	for id, f := range m.flows {
		if !f.mu.TryLock() {
			continue
		}
		stale := f.state.Terminal() && f.updatedAt.Before(cutoff)
		f.mu.Unlock()
		if stale {
			delete(m.flows, id)
		}
	}
}

// ExpireIdle fails every flow that has waited for operator input longer
// than the idle timeout and returns how many it failed.
func (m *Manager) ExpireIdle() int {
	now := m.now()
	m.mu.Lock()
	flows := make([]*Flow, 0, len(m.flows))
	for _, f := range m.flows {
		flows = append(flows, f)
	}
	m.mu.Unlock()

	n := 0
	for _, f := range flows {
		if m.expire(f, now) {
			n++
		}
	}
	return n
}

// expire fails f if it is idle past the timeout. A flow whose lock is held
// is in use and therefore not idle.
func (m *Manager) expire(f *Flow, now time.Time) bool {
	if !f.mu.TryLock() {
		return false
	}
	defer f.mu.Unlock()
	if !f.state.Awaiting() || now.Sub(f.updatedAt) < m.cfg.IdleTimeout {
		return false
	}
	f.fail(failure(ReasonCancelled, "no operator input for %s", m.cfg.IdleTimeout))
	return true
}

// claim gives serial to owner. A claim held by a flow that has gone idle
// is taken over.
func (m *Manager) claim(serial, owner string) error {
	m.mu.Lock()
	holder := m.flows[m.active[serial]]
	m.mu.Unlock()
	if holder != nil && holder.id != owner {
		m.expire(holder, m.now())
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if cur, ok := m.active[serial]; ok && cur != owner {
		return fmt.Errorf("%w: %s", ErrFlowInProgress, serial)
	}
	m.active[serial] = owner
	return nil
}

func (m *Manager) release(serial, owner string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active[serial] == owner {
		delete(m.active, serial)
	}
}

func (m *Manager) configuredSerials(ctx context.Context) (map[string]bool, error) {
	records, err := m.deps.Store.List(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[string]bool, len(records))
	for _, r := range records {
		out[r.GatewaySerial] = true
	}
	return out, nil
}

// transitioned is called by Flow.setState with f.mu held.
func (m *Manager) transitioned(f *Flow, from, to State) {
	m.logger.Debug("flow transition", "flow_id", f.id, "type", f.typ, "from", from, "to", to)

	if to.Terminal() {
		if f.serial != "" {
			m.release(f.serial, f.id)
		}
		outcome := string(to)
		if f.failure != nil {
			outcome = string(f.failure.Reason)
		}
		m.metrics.flowFinished(f.typ, outcome)
		if to == StateComplete {
			m.logger.Info("flow complete", "flow_id", f.id, "type", f.typ, "gateway", f.serial)
		}
	}

	m.mu.Lock()
	observers := append([]Observer(nil), m.observers...)
	m.mu.Unlock()

	snap := f.snapshotLocked()
	for _, o := range observers {
		o.FlowChanged(context.Background(), snap)
	}
}
