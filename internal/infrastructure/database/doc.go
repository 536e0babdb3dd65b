// Package database provides the bridge's SQLite store.
//
// The store keeps two things across restarts: the classification of every
// QLC+ function and widget (so a reconnect does not re-query types the
// controller already told us) and a bounded history of status changes.
//
// This package manages:
//   - Connection with WAL mode and a busy timeout
//   - Schema migrations read from an fs.FS
//   - Health checks and lifecycle
//
// Security Considerations:
//   - All queries use parameterised statements
//   - The database file is restricted to 0600
//
// Usage:
//
//	db, err := database.Open(ctx, cfg.Database)
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx, migrations.FS); err != nil {
//	    return err
//	}
//
// Migrations are named YYYYMMDD_HHMMSS_description.up.sql with a matching
// .down.sql, and are additive: new columns are NULLABLE or have defaults.
package database
