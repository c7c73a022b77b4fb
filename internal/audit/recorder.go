package audit

import (
	"context"

	"github.com/nerrad567/dali-center/internal/flow"
)

// Audit actions.
const (
	ActionDiscoveryComplete = "discovery_complete"
	ActionRefreshComplete   = "refresh_complete"
	ActionFlowFailed        = "flow_failed"
	ActionGatewayRemoved    = "gateway_removed"
)

// Entity types and sources.
const (
	EntityGateway = "gateway"
	EntityFlow    = "flow"

	SourceFlow = "flow"
	SourceAPI  = "api"
)

// Logger defines the logging interface for the recorder.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Recorder writes audit entries for flow outcomes. It implements
// flow.Observer.
type Recorder struct {
	repo   Repository
	logger Logger
}

// NewRecorder creates a recorder writing to repo.
func NewRecorder(repo Repository) *Recorder {
	return &Recorder{repo: repo, logger: noopLogger{}}
}

// SetLogger sets the logger for the recorder.
func (r *Recorder) SetLogger(logger Logger) {
	r.logger = logger
}

// FlowChanged records terminal transitions. Audit failures are logged, never
// returned to the flow.
func (r *Recorder) FlowChanged(ctx context.Context, snap flow.Snapshot) {
	var entry *Entry
	switch snap.State {
	case flow.StateComplete:
		entry = completed(snap)
	case flow.StateFailed:
		entry = failed(snap)
	default:
		return
	}
	if err := r.repo.Create(ctx, entry); err != nil {
		r.logger.Error("writing audit log failed", "action", entry.Action, "flow_id", snap.ID, "error", err)
	}
}

// GatewayRemoved records the removal of a gateway's configuration.
func (r *Recorder) GatewayRemoved(ctx context.Context, serial, subject string) error {
	return r.repo.Create(ctx, &Entry{
		Action:     ActionGatewayRemoved,
		EntityType: EntityGateway,
		EntityID:   serial,
		Subject:    subject,
		Source:     SourceAPI,
	})
}

func completed(snap flow.Snapshot) *Entry {
	action := ActionDiscoveryComplete
	if snap.Type == flow.TypeRefresh {
		action = ActionRefreshComplete
	}
	details := map[string]any{}
	if res := snap.Result; res != nil {
		details["revision"] = res.Revision
		details["selected"] = res.Selected
		details["added"] = res.Counts.Added
		details["removed"] = res.Counts.Removed
		details["changed"] = res.Counts.Changed
		if res.Warning != "" {
			details["warning"] = res.Warning
		}
	}
	return &Entry{
		Action:     action,
		EntityType: EntityGateway,
		EntityID:   snap.GatewaySerial,
		FlowID:     snap.ID,
		Source:     SourceFlow,
		Details:    details,
	}
}

func failed(snap flow.Snapshot) *Entry {
	entry := &Entry{
		Action:     ActionFlowFailed,
		EntityType: EntityGateway,
		EntityID:   snap.GatewaySerial,
		FlowID:     snap.ID,
		Source:     SourceFlow,
		Details:    map[string]any{"type": string(snap.Type)},
	}
	if snap.GatewaySerial == "" {
		entry.EntityType = EntityFlow
		entry.EntityID = snap.ID
	}
	if f := snap.Failure; f != nil {
		entry.Details["reason"] = string(f.Reason)
		entry.Details["message"] = f.Message
	}
	return entry
}
