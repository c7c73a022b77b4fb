// Package database provides SQLite connectivity for DALI Center.
//
// This package manages:
//   - The connection, opened in WAL mode with a busy timeout
//   - Schema migrations loaded from an embedded filesystem
//   - Transaction helpers used for whole-record replacement
//
// All queries use parameterised statements. The database file is created
// with 0600 permissions.
//
// Usage:
//
//	db, err := database.Open(ctx, database.ConfigFrom(cfg.Database))
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx); err != nil {
//	    return err
//	}
//
// Migration files are named YYYYMMDD_HHMMSS_description.up.sql with a
// matching .down.sql, and live in the top-level migrations directory.
package database
