package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	_ "modernc.org/sqlite"

	"mercator-hq/vigil/pkg/detection"
)

// SQLite driver names accepted by SQLiteConfig.Driver.
const (
	// DriverCGO is the mattn/go-sqlite3 driver.
	DriverCGO = "sqlite3"

	// DriverPure is the modernc.org/sqlite driver, which needs no C toolchain.
	DriverPure = "sqlite"
)

// deleteChunkSize bounds the number of ids bound in a single DELETE statement.
const deleteChunkSize = 500

// SQLiteConfig contains configuration for the SQLite storage backend.
type SQLiteConfig struct {
	// Path is the database file path.
	Path string

	// Driver selects the database/sql driver: "sqlite3" or "sqlite".
	// Default: "sqlite3"
	Driver string

	// MaxOpenConns is the maximum number of open connections to the database.
	// Default: 10
	MaxOpenConns int

	// MaxIdleConns is the maximum number of idle connections.
	// Default: 5
	MaxIdleConns int

	// WALMode enables Write-Ahead Logging mode for better concurrency.
	// Default: true
	WALMode bool

	// BusyTimeout is the duration to wait when the database is locked.
	// Default: 5 seconds
	BusyTimeout time.Duration
}

// DefaultSQLiteConfig returns the default SQLite configuration.
func DefaultSQLiteConfig() *SQLiteConfig {
	return &SQLiteConfig{
		Path:         "data/vigil.db",
		Driver:       DriverCGO,
		MaxOpenConns: 10,
		MaxIdleConns: 5,
		WALMode:      true,
		BusyTimeout:  5 * time.Second,
	}
}

// dsn builds the connection string for the configured driver. Every
// connection enforces foreign keys and starts transactions with
// BEGIN IMMEDIATE so that per-owner scopes take the write lock up front.
func (c *SQLiteConfig) dsn() string {
	busy := c.BusyTimeout.Milliseconds()

	if c.Driver == DriverPure {
		params := []string{
			"_pragma=foreign_keys(1)",
			fmt.Sprintf("_pragma=busy_timeout(%d)", busy),
			"_txlock=immediate",
		}
		if c.WALMode {
			params = append(params, "_pragma=journal_mode(WAL)")
		}
		return c.Path + "?" + strings.Join(params, "&")
	}

	params := []string{
		"_foreign_keys=on",
		fmt.Sprintf("_busy_timeout=%d", busy),
		"_txlock=immediate",
	}
	if c.WALMode {
		params = append(params, "_journal_mode=WAL")
	}
	return c.Path + "?" + strings.Join(params, "&")
}

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// SQLiteStorage implements detection.Repository on SQLite.
type SQLiteStorage struct {
	db     *sql.DB
	config *SQLiteConfig
	logger *slog.Logger
}

// NewSQLiteStorage opens the database and initializes the schema.
func NewSQLiteStorage(config *SQLiteConfig) (*SQLiteStorage, error) {
	if config == nil {
		config = DefaultSQLiteConfig()
	}
	if config.Driver == "" {
		config.Driver = DriverCGO
	}
	if config.Driver != DriverCGO && config.Driver != DriverPure {
		return nil, detection.NewStorageError("sqlite", "open",
			fmt.Errorf("unsupported sqlite driver %q", config.Driver))
	}

	logger := slog.Default().With("component", "detection.storage.sqlite")

	db, err := sql.Open(config.Driver, config.dsn())
	if err != nil {
		return nil, detection.NewStorageError("sqlite", "open", err)
	}

	if config.MaxOpenConns > 0 {
		db.SetMaxOpenConns(config.MaxOpenConns)
	}
	if config.MaxIdleConns > 0 {
		db.SetMaxIdleConns(config.MaxIdleConns)
	}

	s := &SQLiteStorage{
		db:     db,
		config: config,
		logger: logger,
	}

	if err := s.initialize(); err != nil {
		db.Close()
		return nil, err
	}

	logger.Info("SQLite storage initialized",
		"path", config.Path,
		"driver", config.Driver,
		"wal_mode", config.WALMode,
		"max_open_conns", config.MaxOpenConns,
	)

	return s, nil
}

// initialize creates the schema and verifies its version.
func (s *SQLiteStorage) initialize() error {
	if _, err := s.db.Exec(Schema); err != nil {
		return detection.NewStorageError("sqlite", "create_schema", err)
	}

	if _, err := s.db.Exec(InsertSchemaVersion, SchemaVersion); err != nil {
		return detection.NewStorageError("sqlite", "insert_schema_version", err)
	}

	var version int
	err := s.db.QueryRow(GetSchemaVersion).Scan(&version)
	if err != nil && err != sql.ErrNoRows {
		return detection.NewStorageError("sqlite", "get_schema_version", err)
	}
	if version != SchemaVersion {
		return detection.NewStorageError("sqlite", "schema_version_mismatch",
			fmt.Errorf("expected schema version %d, got %d", SchemaVersion, version))
	}

	s.logger.Debug("schema version verified", "version", version)
	return nil
}

// inTx runs fn in a transaction and commits when it returns nil.
func (s *SQLiteStorage) inTx(ctx context.Context, op string, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return detection.NewStorageError("sqlite", op+"_begin", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return detection.NewStorageError("sqlite", op+"_commit", err)
	}
	return nil
}

// CreateOwner inserts a new owner.
func (s *SQLiteStorage) CreateOwner(ctx context.Context, owner *detection.Owner) error {
	now := time.Now().UTC()
	return s.inTx(ctx, "create_owner", func(tx *sql.Tx) error {
		exists, err := ownerExists(ctx, tx, owner.Key)
		if err != nil {
			return err
		}
		if exists {
			return fmt.Errorf("%w: %s", detection.ErrOwnerExists, owner.Key)
		}

		_, err = tx.ExecContext(ctx,
			`INSERT INTO owners (`+ownerColumns+`) VALUES (?, ?, ?, ?, ?, ?)`,
			owner.Key, owner.MonitoringEnabled, owner.StreamingURL, owner.Email,
			now.UnixNano(), now.UnixNano(),
		)
		if err != nil {
			return detection.NewStorageError("sqlite", "create_owner", err)
		}

		owner.CreatedAt = now
		owner.UpdatedAt = now
		return nil
	})
}

// GetOwner returns the owner with the given key.
func (s *SQLiteStorage) GetOwner(ctx context.Context, key string) (*detection.Owner, error) {
	return getOwner(ctx, s.db, key)
}

// ListOwners returns all owners ordered by key.
func (s *SQLiteStorage) ListOwners(ctx context.Context) ([]*detection.Owner, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+ownerColumns+` FROM owners ORDER BY owner_key`)
	if err != nil {
		return nil, detection.NewStorageError("sqlite", "list_owners", err)
	}
	defer rows.Close()

	var owners []*detection.Owner
	for rows.Next() {
		owner, err := scanOwner(rows)
		if err != nil {
			return nil, err
		}
		owners = append(owners, owner)
	}
	if err := rows.Err(); err != nil {
		return nil, detection.NewStorageError("sqlite", "list_owners", err)
	}
	return owners, nil
}

// UpdateOwner applies a partial update to an owner.
func (s *SQLiteStorage) UpdateOwner(ctx context.Context, key string, update detection.OwnerUpdate) (*detection.Owner, error) {
	var updated *detection.Owner
	err := s.inTx(ctx, "update_owner", func(tx *sql.Tx) error {
		owner, err := getOwner(ctx, tx, key)
		if err != nil {
			return err
		}

		update.Apply(owner)
		owner.UpdatedAt = time.Now().UTC()

		_, err = tx.ExecContext(ctx,
			`UPDATE owners SET monitoring_enabled = ?, streaming_url = ?, email = ?, updated_at = ? WHERE owner_key = ?`,
			owner.MonitoringEnabled, owner.StreamingURL, owner.Email, owner.UpdatedAt.UnixNano(), key,
		)
		if err != nil {
			return detection.NewStorageError("sqlite", "update_owner", err)
		}

		updated = owner
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// DeleteOwner removes an owner that has no results.
func (s *SQLiteStorage) DeleteOwner(ctx context.Context, key string) error {
	return s.inTx(ctx, "delete_owner", func(tx *sql.Tx) error {
		exists, err := ownerExists(ctx, tx, key)
		if err != nil {
			return err
		}
		if !exists {
			return fmt.Errorf("%w: %s", detection.ErrOwnerNotFound, key)
		}

		hasRecords, err := ownerHasRecords(ctx, tx, key)
		if err != nil {
			return err
		}
		if hasRecords {
			return fmt.Errorf("%w: %s", detection.ErrOwnerHasRecords, key)
		}

		if _, err := tx.ExecContext(ctx, `DELETE FROM owners WHERE owner_key = ?`, key); err != nil {
			return detection.NewStorageError("sqlite", "delete_owner", err)
		}
		return nil
	})
}

// CreateResult inserts a result and assigns its ID.
func (s *SQLiteStorage) CreateResult(ctx context.Context, record *detection.ResultRecord) error {
	if err := detection.ValidateTimestamp(record.Timestamp); err != nil {
		return err
	}
	now := time.Now().UTC()
	return s.inTx(ctx, "create_result", func(tx *sql.Tx) error {
		exists, err := ownerExists(ctx, tx, record.OwnerKey)
		if err != nil {
			return err
		}
		if !exists {
			return fmt.Errorf("%w: %s", detection.ErrOwnerNotFound, record.OwnerKey)
		}

		res, err := tx.ExecContext(ctx,
			`INSERT INTO results (owner_key, detected_at, result, image_ref, config, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
			record.OwnerKey, record.Timestamp.UnixNano(), record.Result, record.ImageRef, record.Config, now.UnixNano(),
		)
		if err != nil {
			return detection.NewStorageError("sqlite", "create_result", err)
		}

		id, err := res.LastInsertId()
		if err != nil {
			return detection.NewStorageError("sqlite", "create_result", err)
		}

		record.ID = id
		record.CreatedAt = now
		return nil
	})
}

// GetResult returns the result with the given ID.
func (s *SQLiteStorage) GetResult(ctx context.Context, id int64) (*detection.ResultRecord, error) {
	return getResult(ctx, s.db, id)
}

// UpdateResult applies a partial update to a result's payload.
func (s *SQLiteStorage) UpdateResult(ctx context.Context, id int64, update detection.ResultUpdate) (*detection.ResultRecord, error) {
	var updated *detection.ResultRecord
	err := s.inTx(ctx, "update_result", func(tx *sql.Tx) error {
		record, err := getResult(ctx, tx, id)
		if err != nil {
			return err
		}

		update.Apply(record)

		_, err = tx.ExecContext(ctx,
			`UPDATE results SET result = ?, image_ref = ?, config = ? WHERE id = ?`,
			record.Result, record.ImageRef, record.Config, id,
		)
		if err != nil {
			return detection.NewStorageError("sqlite", "update_result", err)
		}

		updated = record
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// DeleteResult removes a single result.
func (s *SQLiteStorage) DeleteResult(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM results WHERE id = ?`, id)
	if err != nil {
		return detection.NewStorageError("sqlite", "delete_result", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return detection.NewStorageError("sqlite", "delete_result", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %d", detection.ErrResultNotFound, id)
	}
	return nil
}

// DeleteResultsByOwner removes every result of an owner.
func (s *SQLiteStorage) DeleteResultsByOwner(ctx context.Context, ownerKey string) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM results WHERE owner_key = ?`, ownerKey)
	if err != nil {
		return 0, detection.NewStorageError("sqlite", "delete_by_owner", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, detection.NewStorageError("sqlite", "delete_by_owner", err)
	}

	s.logger.Debug("deleted results by owner", "owner_key", ownerKey, "deleted_count", n)
	return n, nil
}

// QueryResults lists results matching q, newest first.
func (s *SQLiteStorage) QueryResults(ctx context.Context, q *detection.ResultQuery) ([]*detection.ResultRecord, error) {
	if q == nil {
		q = &detection.ResultQuery{}
	}

	conditions, args := buildWhereClause(q)

	query := `SELECT ` + resultColumns + ` FROM results`
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY detected_at DESC, id DESC"

	if q.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, q.Limit)
	} else if q.Offset > 0 {
		query += " LIMIT -1"
	}
	if q.Offset > 0 {
		query += " OFFSET ?"
		args = append(args, q.Offset)
	}

	return collectResults(ctx, s.db, "query_results", query, args...)
}

// buildWhereClause converts query filters to SQL conditions.
func buildWhereClause(q *detection.ResultQuery) ([]string, []any) {
	var conditions []string
	var args []any

	if q.OwnerKey != "" {
		conditions = append(conditions, "owner_key = ?")
		args = append(args, q.OwnerKey)
	}
	if q.Since != nil {
		conditions = append(conditions, "detected_at >= ?")
		args = append(args, q.Since.UnixNano())
	}
	if q.Until != nil {
		conditions = append(conditions, "detected_at <= ?")
		args = append(args, q.Until.UnixNano())
	}

	return conditions, args
}

// ListRecent returns the most recent results across all owners.
func (s *SQLiteStorage) ListRecent(ctx context.Context, limit int) ([]*detection.ResultRecord, error) {
	if limit <= 0 {
		limit = detection.DefaultWindowSize
	}
	return collectResults(ctx, s.db, "list_recent", selectRecent, limit)
}

// ListByOwnerOrdered streams an owner's results newest first.
func (s *SQLiteStorage) ListByOwnerOrdered(ctx context.Context, ownerKey string) iter.Seq2[*detection.ResultRecord, error] {
	return listByOwnerOrdered(ctx, s.db, ownerKey)
}

// DeleteBatch deletes the given results in a single transaction.
func (s *SQLiteStorage) DeleteBatch(ctx context.Context, ids []int64) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}

	var deleted int64
	err := s.inTx(ctx, "delete_batch", func(tx *sql.Tx) error {
		n, err := deleteBatch(ctx, tx, ids)
		deleted = n
		return err
	})
	if err != nil {
		return 0, err
	}
	return deleted, nil
}

// ListOwnerKeys returns the owners that have at least one result.
func (s *SQLiteStorage) ListOwnerKeys(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT owner_key FROM results ORDER BY owner_key`)
	if err != nil {
		return nil, detection.NewStorageError("sqlite", "list_owner_keys", err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, detection.NewStorageError("sqlite", "list_owner_keys", err)
		}
		keys = append(keys, key)
	}
	if err := rows.Err(); err != nil {
		return nil, detection.NewStorageError("sqlite", "list_owner_keys", err)
	}
	return keys, nil
}

// OwnerHasRecords reports whether the owner has at least one result.
func (s *SQLiteStorage) OwnerHasRecords(ctx context.Context, ownerKey string) (bool, error) {
	return ownerHasRecords(ctx, s.db, ownerKey)
}

// WithinOwnerTx runs fn in an immediate transaction. SQLite serializes
// writers database-wide, which covers per-owner serialization.
func (s *SQLiteStorage) WithinOwnerTx(ctx context.Context, ownerKey string, fn func(tx detection.Tx) error) error {
	return s.inTx(ctx, "owner_tx", func(tx *sql.Tx) error {
		return fn(&sqliteTx{tx: tx})
	})
}

// Ping checks the database connection.
func (s *SQLiteStorage) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return detection.NewStorageError("sqlite", "ping", err)
	}
	return nil
}

// Close closes the database.
func (s *SQLiteStorage) Close() error {
	if err := s.db.Close(); err != nil {
		return detection.NewStorageError("sqlite", "close", err)
	}
	s.logger.Info("SQLite storage closed")
	return nil
}

// sqliteTx binds the retention accessors to an open transaction.
type sqliteTx struct {
	tx *sql.Tx
}

func (t *sqliteTx) ListByOwnerOrdered(ctx context.Context, ownerKey string) iter.Seq2[*detection.ResultRecord, error] {
	return listByOwnerOrdered(ctx, t.tx, ownerKey)
}

func (t *sqliteTx) DeleteBatch(ctx context.Context, ids []int64) (int64, error) {
	return deleteBatch(ctx, t.tx, ids)
}

func listByOwnerOrdered(ctx context.Context, q querier, ownerKey string) iter.Seq2[*detection.ResultRecord, error] {
	return func(yield func(*detection.ResultRecord, error) bool) {
		rows, err := q.QueryContext(ctx, selectByOwnerOrdered, ownerKey)
		if err != nil {
			yield(nil, detection.NewStorageError("sqlite", "list_by_owner", err))
			return
		}
		defer rows.Close()

		for rows.Next() {
			record, err := scanResult(rows)
			if err != nil {
				yield(nil, err)
				return
			}
			if !yield(record, nil) {
				return
			}
		}
		if err := rows.Err(); err != nil {
			yield(nil, detection.NewStorageError("sqlite", "list_by_owner", err))
		}
	}
}

func deleteBatch(ctx context.Context, q querier, ids []int64) (int64, error) {
	var deleted int64
	for start := 0; start < len(ids); start += deleteChunkSize {
		end := min(start+deleteChunkSize, len(ids))
		chunk := ids[start:end]

		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(chunk)), ",")
		args := make([]any, len(chunk))
		for i, id := range chunk {
			args[i] = id
		}

		res, err := q.ExecContext(ctx, `DELETE FROM results WHERE id IN (`+placeholders+`)`, args...)
		if err != nil {
			return deleted, detection.NewStorageError("sqlite", "delete_batch", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return deleted, detection.NewStorageError("sqlite", "delete_batch", err)
		}
		deleted += n
	}
	return deleted, nil
}

func ownerExists(ctx context.Context, q querier, key string) (bool, error) {
	var one int
	err := q.QueryRowContext(ctx, `SELECT 1 FROM owners WHERE owner_key = ?`, key).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, detection.NewStorageError("sqlite", "owner_exists", err)
	}
	return true, nil
}

func ownerHasRecords(ctx context.Context, q querier, key string) (bool, error) {
	var one int
	err := q.QueryRowContext(ctx, `SELECT 1 FROM results WHERE owner_key = ? LIMIT 1`, key).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, detection.NewStorageError("sqlite", "owner_has_records", err)
	}
	return true, nil
}

func getOwner(ctx context.Context, q querier, key string) (*detection.Owner, error) {
	row := q.QueryRowContext(ctx, `SELECT `+ownerColumns+` FROM owners WHERE owner_key = ?`, key)
	owner, err := scanOwner(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", detection.ErrOwnerNotFound, key)
	}
	return owner, err
}

func getResult(ctx context.Context, q querier, id int64) (*detection.ResultRecord, error) {
	row := q.QueryRowContext(ctx, `SELECT `+resultColumns+` FROM results WHERE id = ?`, id)
	record, err := scanResult(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %d", detection.ErrResultNotFound, id)
	}
	return record, err
}

func collectResults(ctx context.Context, q querier, op, query string, args ...any) ([]*detection.ResultRecord, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, detection.NewStorageError("sqlite", op, err)
	}
	defer rows.Close()

	var records []*detection.ResultRecord
	for rows.Next() {
		record, err := scanResult(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, detection.NewStorageError("sqlite", op, err)
	}
	return records, nil
}

// scanner is satisfied by *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanOwner(row scanner) (*detection.Owner, error) {
	var (
		owner            detection.Owner
		created, updated int64
	)
	err := row.Scan(&owner.Key, &owner.MonitoringEnabled, &owner.StreamingURL, &owner.Email, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, detection.NewStorageError("sqlite", "scan_owner", err)
	}
	owner.CreatedAt = time.Unix(0, created).UTC()
	owner.UpdatedAt = time.Unix(0, updated).UTC()
	return &owner, nil
}

func scanResult(row scanner) (*detection.ResultRecord, error) {
	var (
		record            detection.ResultRecord
		detected, created int64
	)
	err := row.Scan(&record.ID, &record.OwnerKey, &detected, &record.Result, &record.ImageRef, &record.Config, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, detection.NewStorageError("sqlite", "scan_result", err)
	}
	record.Timestamp = time.Unix(0, detected).UTC()
	record.CreatedAt = time.Unix(0, created).UTC()
	return &record, nil
}
