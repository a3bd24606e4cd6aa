// Package detection defines the data model and storage contract for
// per-owner detection results and their bounded retention.
//
// # Data Model
//
// An Owner is a monitored entity, typically a camera configuration registered
// under a username. A ResultRecord is a single timestamped detection event
// that belongs to exactly one Owner:
//
//	Owner "alice"
//	  ├── ResultRecord #101 (2025-03-01T10:00:00Z, result=1, image=...)
//	  ├── ResultRecord #102 (2025-03-01T10:05:00Z, result=0)
//	  └── ...
//
// Results are ordered newest first by timestamp, with ties broken by the
// higher ID. This order is total, so repeated sweeps always pick the same
// records.
//
// # Ownership
//
// A result can only be created for an existing owner, and an owner can only
// be deleted once it owns no results. Neither operation cascades.
//
// # Storage
//
// Repository is implemented by the backends in the storage subpackage
// (SQLite, PostgreSQL and an in-memory store for tests). The retention
// subpackage only needs the RecordStore subset:
//
//	err := repo.WithinOwnerTx(ctx, "alice", func(tx detection.Tx) error {
//	    for record, err := range tx.ListByOwnerOrdered(ctx, "alice") {
//	        if err != nil {
//	            return err
//	        }
//	        // ...
//	    }
//	    _, err := tx.DeleteBatch(ctx, ids)
//	    return err
//	})
//
// # Errors
//
// Storage failures are reported as *StorageError, sweep failures as
// *RetentionError. Lookups of missing entities return the sentinel errors
// ErrOwnerNotFound and ErrResultNotFound so callers can use errors.Is.
package detection
