// Package database provides SQLite connectivity for heatbridge.
//
// This package manages:
//   - Opening the database with WAL mode and busy-timeout pragmas
//   - Schema migrations from embedded SQL files
//   - Connection health checks and lifecycle
//
// SQLite is configured for a single writer, which matches the bridge's
// orchestration model: all persistent-state writes flow through one
// store instance.
//
// Usage:
//
//	db, err := database.Open(ctx, database.Config{Path: "./data/heatbridge.db", WALMode: true, BusyTimeout: 5})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx); err != nil {
//	    log.Fatal(err)
//	}
package database
