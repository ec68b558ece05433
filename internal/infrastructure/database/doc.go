// Package database provides SQLite connectivity for MicroCoaster Core.
//
// It manages the connection (WAL mode, busy timeout, foreign keys, a single
// writer) and applies the embedded schema migrations from the migrations
// package at startup.
//
// Usage:
//
//	db, err := database.Open(database.Config{Path: cfg.Database.Path, WALMode: true})
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx); err != nil {
//	    return err
//	}
//
// Migration files are named YYYYMMDD_HHMMSS_description.{up,down}.sql and
// each one is applied in its own transaction.
package database
