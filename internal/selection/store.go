package selection

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nerrad567/dali-center/internal/infrastructure/database"
	"github.com/nerrad567/dali-center/internal/inventory"
)

// Store defines whole-record persistence for selection records.
type Store interface {
	Load(ctx context.Context, gatewaySerial string) (*Record, error)
	Save(ctx context.Context, record *Record) error
	Delete(ctx context.Context, gatewaySerial string) error
	List(ctx context.Context) ([]*Record, error)
}

// SQLiteStore persists records in the selection_records and
// selection_items tables.
type SQLiteStore struct {
	db  *database.DB
	now func() time.Time
}

// NewSQLiteStore creates a store on an open, migrated database.
func NewSQLiteStore(db *database.DB) *SQLiteStore {
	return &SQLiteStore{db: db, now: func() time.Time { return time.Now().UTC() }}
}

// Load returns the record for gatewaySerial, or ErrNotFound.
func (s *SQLiteStore) Load(ctx context.Context, gatewaySerial string) (*Record, error) {
	var rec *Record
	err := s.db.WithTx(ctx, func(tx *sql.Tx) error {
		var err error
		rec, err = loadTx(ctx, tx, gatewaySerial)
		return err
	})
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// Save validates record and replaces any previous record for the same
// gateway. On success record.Revision, CreatedAt and UpdatedAt reflect the
// stored values.
func (s *SQLiteStore) Save(ctx context.Context, record *Record) error {
	if err := record.Validate(); err != nil {
		return err
	}

	gatewayJSON, err := json.Marshal(record.Gateway)
	if err != nil {
		return fmt.Errorf("marshalling gateway: %w", err)
	}

	now := s.now()
	revision := 1
	createdAt := now

	err = s.db.WithTx(ctx, func(tx *sql.Tx) error {
		var prevRevision int
		var prevCreated string
		err := tx.QueryRowContext(ctx,
			"SELECT revision, created_at FROM selection_records WHERE gateway_serial = ?",
			record.GatewaySerial,
		).Scan(&prevRevision, &prevCreated)
		switch {
		case errors.Is(err, sql.ErrNoRows):
		case err != nil:
			return fmt.Errorf("reading previous revision: %w", err)
		default:
			revision = prevRevision + 1
			if t, perr := time.Parse(time.RFC3339Nano, prevCreated); perr == nil {
				createdAt = t
			}
		}

		if _, err := tx.ExecContext(ctx, `
			INSERT INTO selection_records (gateway_serial, gateway, revision, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(gateway_serial) DO UPDATE SET
				gateway = excluded.gateway,
				revision = excluded.revision,
				updated_at = excluded.updated_at`,
			record.GatewaySerial, string(gatewayJSON), revision,
			createdAt.Format(time.RFC3339Nano), now.Format(time.RFC3339Nano),
		); err != nil {
			return fmt.Errorf("upserting selection record: %w", err)
		}

		if _, err := tx.ExecContext(ctx,
			"DELETE FROM selection_items WHERE gateway_serial = ?", record.GatewaySerial,
		); err != nil {
			return fmt.Errorf("clearing selection items: %w", err)
		}

		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO selection_items
				(gateway_serial, kind, item_id, display_name, type_info, online, selected)
			VALUES (?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return fmt.Errorf("preparing item insert: %w", err)
		}
		defer stmt.Close()

		for _, it := range record.LastSeen.Items() {
			info, err := json.Marshal(it.TypeInfo)
			if err != nil {
				return fmt.Errorf("marshalling type info for %s: %w", it.Key(), err)
			}
			if _, err := stmt.ExecContext(ctx,
				record.GatewaySerial, string(it.Kind), it.ID, it.DisplayName, string(info),
				boolToInt(it.Online), boolToInt(record.Selected.Has(it.Key())),
			); err != nil {
				return fmt.Errorf("inserting item %s: %w", it.Key(), err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	record.Revision = revision
	record.CreatedAt = createdAt
	record.UpdatedAt = now
	return nil
}

// Delete removes the record and its items. Deleting a missing record
// returns ErrNotFound.
func (s *SQLiteStore) Delete(ctx context.Context, gatewaySerial string) error {
	res, err := s.db.ExecContext(ctx,
		"DELETE FROM selection_records WHERE gateway_serial = ?", gatewaySerial)
	if err != nil {
		return fmt.Errorf("deleting selection record: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// List returns every record ordered by gateway serial.
func (s *SQLiteStore) List(ctx context.Context) ([]*Record, error) {
	var records []*Record
	err := s.db.WithTx(ctx, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx,
			"SELECT gateway_serial FROM selection_records ORDER BY gateway_serial")
		if err != nil {
			return fmt.Errorf("listing selection records: %w", err)
		}
		var serials []string
		for rows.Next() {
			var sn string
			if err := rows.Scan(&sn); err != nil {
				rows.Close()
				return fmt.Errorf("scanning serial: %w", err)
			}
			serials = append(serials, sn)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return fmt.Errorf("iterating selection records: %w", err)
		}

		for _, sn := range serials {
			rec, err := loadTx(ctx, tx, sn)
			if err != nil {
				return err
			}
			records = append(records, rec)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if records == nil {
		records = []*Record{}
	}
	return records, nil
}

func loadTx(ctx context.Context, tx *sql.Tx, gatewaySerial string) (*Record, error) {
	var gatewayJSON, createdAt, updatedAt string
	rec := &Record{GatewaySerial: gatewaySerial}

	err := tx.QueryRowContext(ctx, `
		SELECT gateway, revision, created_at, updated_at
		FROM selection_records WHERE gateway_serial = ?`, gatewaySerial,
	).Scan(&gatewayJSON, &rec.Revision, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying selection record: %w", err)
	}

	if err := json.Unmarshal([]byte(gatewayJSON), &rec.Gateway); err != nil {
		return nil, fmt.Errorf("decoding gateway for %s: %w", gatewaySerial, err)
	}
	if rec.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	if rec.UpdatedAt, err = time.Parse(time.RFC3339Nano, updatedAt); err != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", err)
	}

	rows, err := tx.QueryContext(ctx, `
		SELECT kind, item_id, display_name, type_info, online, selected
		FROM selection_items WHERE gateway_serial = ?`, gatewaySerial)
	if err != nil {
		return nil, fmt.Errorf("querying selection items: %w", err)
	}
	defer rows.Close()

	rec.LastSeen = make(inventory.Snapshot)
	rec.Selected = make(inventory.KeySet)
	for rows.Next() {
		var it inventory.Item
		var kind, info string
		var online, selected int
		if err := rows.Scan(&kind, &it.ID, &it.DisplayName, &info, &online, &selected); err != nil {
			return nil, fmt.Errorf("scanning selection item: %w", err)
		}
		it.Kind = inventory.Kind(kind)
		it.GatewaySerial = gatewaySerial
		it.Online = online != 0
		if err := json.Unmarshal([]byte(info), &it.TypeInfo); err != nil {
			return nil, fmt.Errorf("decoding type info for %s: %w", it.Key(), err)
		}
		rec.LastSeen[it.Key()] = it
		if selected != 0 {
			rec.Selected.Add(it.Key())
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating selection items: %w", err)
	}
	return rec, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
