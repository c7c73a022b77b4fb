package flow

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nerrad567/dali-center/internal/infrastructure/database"
)

// timeLayout is fixed-width so stored timestamps compare lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// SessionStore persists flow snapshots in the flow_sessions table so that
// flows can be inspected, and resumed where possible, after a restart.
//
// It implements Observer; register it with Manager.AddObserver to record
// every transition.
type SessionStore struct {
	db     *database.DB
	logger Logger
}

// NewSessionStore creates a session store on an open, migrated database.
func NewSessionStore(db *database.DB) *SessionStore {
	return &SessionStore{db: db, logger: noopLogger{}}
}

// SetLogger sets the logger used when recording a transition fails.
func (s *SessionStore) SetLogger(logger Logger) {
	s.logger = logger
}

// FlowChanged implements Observer.
func (s *SessionStore) FlowChanged(ctx context.Context, snap Snapshot) {
	if err := s.Save(ctx, snap); err != nil {
		s.logger.Error("recording flow session", "flow_id", snap.ID, "state", snap.State, "error", err)
	}
}

// Save inserts or replaces a snapshot.
func (s *SessionStore) Save(ctx context.Context, snap Snapshot) error {
	// Presentation is derived from the other fields.
	snap.Presentation = nil
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshalling snapshot: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO flow_sessions (id, flow_type, gateway_serial, state, snapshot, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			gateway_serial = excluded.gateway_serial,
			state = excluded.state,
			snapshot = excluded.snapshot,
			updated_at = excluded.updated_at`,
		snap.ID, string(snap.Type), nullString(snap.GatewaySerial), string(snap.State), string(data),
		snap.CreatedAt.UTC().Format(timeLayout), snap.UpdatedAt.UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("saving flow session: %w", err)
	}
	return nil
}

// Get returns the snapshot with the given id.
func (s *SessionStore) Get(ctx context.Context, id string) (Snapshot, error) {
	var data string
	err := s.db.QueryRowContext(ctx, "SELECT snapshot FROM flow_sessions WHERE id = ?", id).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return Snapshot{}, fmt.Errorf("%w: %s", ErrFlowNotFound, id)
	}
	if err != nil {
		return Snapshot{}, fmt.Errorf("querying flow session: %w", err)
	}

	var snap Snapshot
	if err := json.Unmarshal([]byte(data), &snap); err != nil {
		return Snapshot{}, fmt.Errorf("decoding flow session %s: %w", id, err)
	}
	return snap, nil
}

// Load returns every stored snapshot, oldest first. Rows that fail to
// decode are skipped with a warning.
func (s *SessionStore) Load(ctx context.Context) ([]Snapshot, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, snapshot FROM flow_sessions ORDER BY created_at, id")
	if err != nil {
		return nil, fmt.Errorf("querying flow sessions: %w", err)
	}
	defer rows.Close()

	snaps := []Snapshot{}
	for rows.Next() {
		var id, data string
		if err := rows.Scan(&id, &data); err != nil {
			return nil, fmt.Errorf("scanning flow session: %w", err)
		}
		var snap Snapshot
		if err := json.Unmarshal([]byte(data), &snap); err != nil {
			s.logger.Warn("skipping undecodable flow session", "flow_id", id, "error", err)
			continue
		}
		snaps = append(snaps, snap)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating flow sessions: %w", err)
	}
	return snaps, nil
}

// Prune deletes finished sessions last updated before cutoff and returns
// how many were removed.
func (s *SessionStore) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM flow_sessions
		WHERE state IN (?, ?) AND updated_at < ?`,
		string(StateComplete), string(StateFailed), cutoff.UTC().Format(timeLayout),
	)
	if err != nil {
		return 0, fmt.Errorf("pruning flow sessions: %w", err)
	}
	return res.RowsAffected()
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
