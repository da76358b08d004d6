// Package database provides SQLite connectivity for the pet feeder bridge.
//
// This package manages:
//   - Database connection with WAL mode for concurrent access
//   - Embedded, additive schema migrations
//   - Connection lifecycle and health checks
//
// The database holds the persisted vendor session (so a restart can reuse a
// still-valid token) and the history of control actions sent to feeders.
//
// Usage:
//
//	db, err := database.Open(ctx, database.Config{Path: cfg.Database.Path, WALMode: true, BusyTimeout: 5})
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx); err != nil {
//	    return err
//	}
package database
