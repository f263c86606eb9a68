// Package database provides SQLite connectivity for the terrarium history
// store.
//
// This package manages:
//   - The connection, with WAL mode so API reads run beside poller writes
//   - Schema migrations from any fs.FS (the binary embeds them)
//   - Lifecycle and health checks
//
// Usage:
//
//	db, err := database.Open(database.Config{
//	    Path:        cfg.Database.Path,
//	    WALMode:     cfg.Database.WALMode,
//	    BusyTimeout: cfg.Database.BusyTimeout,
//	})
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx, migrations.FS); err != nil {
//	    return err
//	}
//
// Migrations are additive: each version ships an .up.sql and a .down.sql,
// new columns are nullable or defaulted, and tables are declared STRICT.
package database
