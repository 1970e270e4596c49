// Package database provides SQLite connectivity for SnapDog.
//
// This package manages:
//   - the connection pool, with WAL mode for concurrent readers
//   - schema migrations embedded from the migrations package
//   - transactional scopes for the command pipeline (Begin, WithTx, Conn)
//   - the command journal
//
// Only configuration data persists here: the playlist catalog and the
// journal of applied commands. Live zone state is rebuilt from the
// streaming server at start.
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
// Repositories take the connection from Conn(ctx) so that work done inside
// a pipeline transaction joins it.
package database
