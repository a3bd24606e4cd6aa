// Package storage provides storage backends for owners and detection results.
//
// # Storage Backends
//
// Every backend implements detection.Repository:
//
//   - SQLite: embedded database for single-node deployments, with either the
//     cgo driver (mattn/go-sqlite3) or the pure Go driver (modernc.org/sqlite)
//   - PostgreSQL: shared database for multi-replica deployments, through gorm
//   - Memory: in-memory storage for testing
//
// # Basic Usage
//
//	repo, err := storage.NewSQLiteStorage(&storage.SQLiteConfig{
//	    Path:         "data/vigil.db",
//	    Driver:       storage.DriverCGO,
//	    MaxOpenConns: 10,
//	    MaxIdleConns: 5,
//	    WALMode:      true,
//	    BusyTimeout:  5 * time.Second,
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer repo.Close()
//
// # Per-Owner Transactions
//
// WithinOwnerTx is how the retention sweeper reads and evicts an owner's
// results atomically. The backends serialize concurrent scopes differently:
//
//   - SQLite starts every transaction with BEGIN IMMEDIATE, so writers queue
//     on the database lock
//   - PostgreSQL locks the owner row with SELECT ... FOR UPDATE
//   - Memory holds a mutex per owner and applies staged deletes on commit
//
// # Timestamps
//
// SQL backends store timestamps as unix nanoseconds so that ordering by
// (timestamp DESC, id DESC) is exact and identical across drivers.
package storage
