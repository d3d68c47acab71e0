// Package database provides SQLite connectivity for pglive.
//
// The database holds the subscription audit log and, when storage.driver is
// "sqlite", the application tables that row-level access checks run against.
//
// Usage:
//
//	db, err := database.Open(cfg.Database)
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx); err != nil {
//	    return err
//	}
//
// Migrations are embedded by the migrations package and applied in version
// order, each in its own transaction.
package database
