package storage

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"mercator-hq/vigil/pkg/detection"
)

// PostgresConfig contains configuration for the PostgreSQL storage backend.
type PostgresConfig struct {
	// DSN is the connection string, e.g.
	// "host=localhost user=vigil password=vigil dbname=vigil sslmode=disable".
	DSN string

	// MaxOpenConns is the maximum number of open connections.
	// Default: 10
	MaxOpenConns int

	// MaxIdleConns is the maximum number of idle connections.
	// Default: 5
	MaxIdleConns int

	// ConnMaxLifetime bounds how long a connection is reused.
	// Default: 30 minutes
	ConnMaxLifetime time.Duration

	// AutoMigrate creates or updates the schema on startup.
	// Default: true
	AutoMigrate bool

	// SlowThreshold is the query duration above which gorm logs a warning.
	// Default: 300ms
	SlowThreshold time.Duration
}

// DefaultPostgresConfig returns the default PostgreSQL configuration.
func DefaultPostgresConfig() *PostgresConfig {
	return &PostgresConfig{
		MaxOpenConns:    10,
		MaxIdleConns:    5,
		ConnMaxLifetime: 30 * time.Minute,
		AutoMigrate:     true,
		SlowThreshold:   300 * time.Millisecond,
	}
}

type ownerModel struct {
	OwnerKey          string `gorm:"column:owner_key;primaryKey"`
	MonitoringEnabled bool   `gorm:"column:monitoring_enabled;not null;default:false"`
	StreamingURL      string `gorm:"column:streaming_url;not null;default:''"`
	Email             string `gorm:"column:email;not null;default:''"`
	CreatedAt         int64  `gorm:"column:created_at;autoCreateTime:nano"`
	UpdatedAt         int64  `gorm:"column:updated_at;autoUpdateTime:nano"`
}

func (ownerModel) TableName() string {
	return "owners"
}

type resultModel struct {
	ID         int64      `gorm:"column:id;primaryKey;autoIncrement;index:idx_results_owner_order,priority:3,sort:desc;index:idx_results_order,priority:2,sort:desc"`
	OwnerKey   string     `gorm:"column:owner_key;not null;index:idx_results_owner_order,priority:1"`
	Owner      ownerModel `gorm:"foreignKey:OwnerKey;references:OwnerKey;constraint:OnUpdate:RESTRICT,OnDelete:RESTRICT"`
	DetectedAt int64      `gorm:"column:detected_at;not null;index:idx_results_owner_order,priority:2,sort:desc;index:idx_results_order,priority:1,sort:desc"`
	Result     int        `gorm:"column:result;not null;default:0"`
	ImageRef   string     `gorm:"column:image_ref;not null;default:''"`
	Config     string     `gorm:"column:config;not null;default:''"`
	CreatedAt  int64      `gorm:"column:created_at;autoCreateTime:nano"`
}

func (resultModel) TableName() string {
	return "results"
}

func (m *ownerModel) toOwner() *detection.Owner {
	return &detection.Owner{
		Key:               m.OwnerKey,
		MonitoringEnabled: m.MonitoringEnabled,
		StreamingURL:      m.StreamingURL,
		Email:             m.Email,
		CreatedAt:         time.Unix(0, m.CreatedAt).UTC(),
		UpdatedAt:         time.Unix(0, m.UpdatedAt).UTC(),
	}
}

func (m *resultModel) toRecord() *detection.ResultRecord {
	return &detection.ResultRecord{
		ID:        m.ID,
		OwnerKey:  m.OwnerKey,
		Timestamp: time.Unix(0, m.DetectedAt).UTC(),
		Result:    m.Result,
		ImageRef:  m.ImageRef,
		Config:    m.Config,
		CreatedAt: time.Unix(0, m.CreatedAt).UTC(),
	}
}

// PostgresStorage implements detection.Repository on PostgreSQL through gorm.
type PostgresStorage struct {
	db     *gorm.DB
	config *PostgresConfig
	logger *slog.Logger
}

// NewPostgresStorage connects to PostgreSQL and migrates the schema.
func NewPostgresStorage(config *PostgresConfig) (*PostgresStorage, error) {
	if config == nil {
		config = DefaultPostgresConfig()
	}
	if config.DSN == "" {
		return nil, detection.NewStorageError("postgres", "open", errors.New("dsn is required"))
	}

	log := slog.Default().With("component", "detection.storage.postgres")

	gormLogger := logger.New(
		slog.NewLogLogger(log.Handler(), slog.LevelWarn),
		logger.Config{
			SlowThreshold:             config.SlowThreshold,
			LogLevel:                  logger.Warn,
			IgnoreRecordNotFoundError: true,
		},
	)

	db, err := gorm.Open(postgres.Open(config.DSN), &gorm.Config{
		TranslateError: true,
		Logger:         gormLogger,
	})
	if err != nil {
		return nil, detection.NewStorageError("postgres", "open", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, detection.NewStorageError("postgres", "open", err)
	}
	if config.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(config.MaxOpenConns)
	}
	if config.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(config.MaxIdleConns)
	}
	if config.ConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(config.ConnMaxLifetime)
	}

	if config.AutoMigrate {
		if err := db.AutoMigrate(&ownerModel{}, &resultModel{}); err != nil {
			sqlDB.Close()
			return nil, detection.NewStorageError("postgres", "migrate", err)
		}
	}

	log.Info("PostgreSQL storage initialized",
		"auto_migrate", config.AutoMigrate,
		"max_open_conns", config.MaxOpenConns,
	)

	return &PostgresStorage{db: db, config: config, logger: log}, nil
}

// CreateOwner inserts a new owner.
func (s *PostgresStorage) CreateOwner(ctx context.Context, owner *detection.Owner) error {
	m := ownerModel{
		OwnerKey:          owner.Key,
		MonitoringEnabled: owner.MonitoringEnabled,
		StreamingURL:      owner.StreamingURL,
		Email:             owner.Email,
	}

	err := s.db.WithContext(ctx).Create(&m).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return fmt.Errorf("%w: %s", detection.ErrOwnerExists, owner.Key)
	}
	if err != nil {
		return detection.NewStorageError("postgres", "create_owner", err)
	}

	created := m.toOwner()
	owner.CreatedAt = created.CreatedAt
	owner.UpdatedAt = created.UpdatedAt
	return nil
}

// GetOwner returns the owner with the given key.
func (s *PostgresStorage) GetOwner(ctx context.Context, key string) (*detection.Owner, error) {
	var m ownerModel
	err := s.db.WithContext(ctx).Where("owner_key = ?", key).Take(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %s", detection.ErrOwnerNotFound, key)
	}
	if err != nil {
		return nil, detection.NewStorageError("postgres", "get_owner", err)
	}
	return m.toOwner(), nil
}

// ListOwners returns all owners ordered by key.
func (s *PostgresStorage) ListOwners(ctx context.Context) ([]*detection.Owner, error) {
	var models []ownerModel
	if err := s.db.WithContext(ctx).Order("owner_key").Find(&models).Error; err != nil {
		return nil, detection.NewStorageError("postgres", "list_owners", err)
	}

	owners := make([]*detection.Owner, 0, len(models))
	for i := range models {
		owners = append(owners, models[i].toOwner())
	}
	return owners, nil
}

// UpdateOwner applies a partial update to an owner.
func (s *PostgresStorage) UpdateOwner(ctx context.Context, key string, update detection.OwnerUpdate) (*detection.Owner, error) {
	var updated *detection.Owner
	err := s.transaction(ctx, "update_owner", func(tx *gorm.DB) error {
		var m ownerModel
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Where("owner_key = ?", key).Take(&m).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("%w: %s", detection.ErrOwnerNotFound, key)
		}
		if err != nil {
			return detection.NewStorageError("postgres", "update_owner", err)
		}

		owner := m.toOwner()
		update.Apply(owner)
		m.MonitoringEnabled = owner.MonitoringEnabled
		m.StreamingURL = owner.StreamingURL
		m.Email = owner.Email

		if err := tx.Save(&m).Error; err != nil {
			return detection.NewStorageError("postgres", "update_owner", err)
		}

		updated = m.toOwner()
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// DeleteOwner removes an owner that has no results.
func (s *PostgresStorage) DeleteOwner(ctx context.Context, key string) error {
	return s.transaction(ctx, "delete_owner", func(tx *gorm.DB) error {
		var m ownerModel
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Where("owner_key = ?", key).Take(&m).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("%w: %s", detection.ErrOwnerNotFound, key)
		}
		if err != nil {
			return detection.NewStorageError("postgres", "delete_owner", err)
		}

		hasRecords, err := pgOwnerHasRecords(tx, key)
		if err != nil {
			return err
		}
		if hasRecords {
			return fmt.Errorf("%w: %s", detection.ErrOwnerHasRecords, key)
		}

		err = tx.Delete(&ownerModel{}, "owner_key = ?", key).Error
		if errors.Is(err, gorm.ErrForeignKeyViolated) {
			return fmt.Errorf("%w: %s", detection.ErrOwnerHasRecords, key)
		}
		if err != nil {
			return detection.NewStorageError("postgres", "delete_owner", err)
		}
		return nil
	})
}

// CreateResult inserts a result and assigns its ID.
func (s *PostgresStorage) CreateResult(ctx context.Context, record *detection.ResultRecord) error {
	if err := detection.ValidateTimestamp(record.Timestamp); err != nil {
		return err
	}
	m := resultModel{
		OwnerKey:   record.OwnerKey,
		DetectedAt: record.Timestamp.UnixNano(),
		Result:     record.Result,
		ImageRef:   record.ImageRef,
		Config:     record.Config,
	}

	err := s.transaction(ctx, "create_result", func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&ownerModel{}).Where("owner_key = ?", record.OwnerKey).Count(&count).Error; err != nil {
			return detection.NewStorageError("postgres", "create_result", err)
		}
		if count == 0 {
			return fmt.Errorf("%w: %s", detection.ErrOwnerNotFound, record.OwnerKey)
		}

		err := tx.Omit(clause.Associations).Create(&m).Error
		if errors.Is(err, gorm.ErrForeignKeyViolated) {
			return fmt.Errorf("%w: %s", detection.ErrOwnerNotFound, record.OwnerKey)
		}
		if err != nil {
			return detection.NewStorageError("postgres", "create_result", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	record.ID = m.ID
	record.CreatedAt = time.Unix(0, m.CreatedAt).UTC()
	return nil
}

// GetResult returns the result with the given ID.
func (s *PostgresStorage) GetResult(ctx context.Context, id int64) (*detection.ResultRecord, error) {
	var m resultModel
	err := s.db.WithContext(ctx).Where("id = ?", id).Take(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %d", detection.ErrResultNotFound, id)
	}
	if err != nil {
		return nil, detection.NewStorageError("postgres", "get_result", err)
	}
	return m.toRecord(), nil
}

// UpdateResult applies a partial update to a result's payload.
func (s *PostgresStorage) UpdateResult(ctx context.Context, id int64, update detection.ResultUpdate) (*detection.ResultRecord, error) {
	var updated *detection.ResultRecord
	err := s.transaction(ctx, "update_result", func(tx *gorm.DB) error {
		var m resultModel
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Where("id = ?", id).Take(&m).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("%w: %d", detection.ErrResultNotFound, id)
		}
		if err != nil {
			return detection.NewStorageError("postgres", "update_result", err)
		}

		record := m.toRecord()
		update.Apply(record)

		err = tx.Model(&resultModel{}).Where("id = ?", id).Updates(map[string]any{
			"result":    record.Result,
			"image_ref": record.ImageRef,
			"config":    record.Config,
		}).Error
		if err != nil {
			return detection.NewStorageError("postgres", "update_result", err)
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
func (s *PostgresStorage) DeleteResult(ctx context.Context, id int64) error {
	res := s.db.WithContext(ctx).Delete(&resultModel{}, "id = ?", id)
	if res.Error != nil {
		return detection.NewStorageError("postgres", "delete_result", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: %d", detection.ErrResultNotFound, id)
	}
	return nil
}

// DeleteResultsByOwner removes every result of an owner.
func (s *PostgresStorage) DeleteResultsByOwner(ctx context.Context, ownerKey string) (int64, error) {
	res := s.db.WithContext(ctx).Delete(&resultModel{}, "owner_key = ?", ownerKey)
	if res.Error != nil {
		return 0, detection.NewStorageError("postgres", "delete_by_owner", res.Error)
	}

	s.logger.Debug("deleted results by owner", "owner_key", ownerKey, "deleted_count", res.RowsAffected)
	return res.RowsAffected, nil
}

// QueryResults lists results matching q, newest first.
func (s *PostgresStorage) QueryResults(ctx context.Context, q *detection.ResultQuery) ([]*detection.ResultRecord, error) {
	if q == nil {
		q = &detection.ResultQuery{}
	}

	tx := s.db.WithContext(ctx).Model(&resultModel{})
	if q.OwnerKey != "" {
		tx = tx.Where("owner_key = ?", q.OwnerKey)
	}
	if q.Since != nil {
		tx = tx.Where("detected_at >= ?", q.Since.UnixNano())
	}
	if q.Until != nil {
		tx = tx.Where("detected_at <= ?", q.Until.UnixNano())
	}
	tx = tx.Order("detected_at DESC, id DESC")
	if q.Limit > 0 {
		tx = tx.Limit(q.Limit)
	}
	if q.Offset > 0 {
		tx = tx.Offset(q.Offset)
	}

	var models []resultModel
	if err := tx.Find(&models).Error; err != nil {
		return nil, detection.NewStorageError("postgres", "query_results", err)
	}
	return toRecords(models), nil
}

// ListRecent returns the most recent results across all owners.
func (s *PostgresStorage) ListRecent(ctx context.Context, limit int) ([]*detection.ResultRecord, error) {
	if limit <= 0 {
		limit = detection.DefaultWindowSize
	}

	var models []resultModel
	err := s.db.WithContext(ctx).
		Order("detected_at DESC, id DESC").
		Limit(limit).
		Find(&models).Error
	if err != nil {
		return nil, detection.NewStorageError("postgres", "list_recent", err)
	}
	return toRecords(models), nil
}

// ListByOwnerOrdered streams an owner's results newest first.
func (s *PostgresStorage) ListByOwnerOrdered(ctx context.Context, ownerKey string) iter.Seq2[*detection.ResultRecord, error] {
	return pgListByOwnerOrdered(s.db.WithContext(ctx), ownerKey)
}

// DeleteBatch deletes the given results in a single transaction.
func (s *PostgresStorage) DeleteBatch(ctx context.Context, ids []int64) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}

	var deleted int64
	err := s.transaction(ctx, "delete_batch", func(tx *gorm.DB) error {
		n, err := pgDeleteBatch(tx, ids)
		deleted = n
		return err
	})
	if err != nil {
		return 0, err
	}
	return deleted, nil
}

// ListOwnerKeys returns the owners that have at least one result.
func (s *PostgresStorage) ListOwnerKeys(ctx context.Context) ([]string, error) {
	var keys []string
	err := s.db.WithContext(ctx).
		Model(&resultModel{}).
		Distinct("owner_key").
		Order("owner_key").
		Pluck("owner_key", &keys).Error
	if err != nil {
		return nil, detection.NewStorageError("postgres", "list_owner_keys", err)
	}
	return keys, nil
}

// OwnerHasRecords reports whether the owner has at least one result.
func (s *PostgresStorage) OwnerHasRecords(ctx context.Context, ownerKey string) (bool, error) {
	return pgOwnerHasRecords(s.db.WithContext(ctx), ownerKey)
}

// WithinOwnerTx runs fn in a transaction holding a row lock on the owner.
// Concurrent scopes on the same owner block on the lock, and inserts for the
// owner wait until the scope ends because their foreign key check conflicts
// with it. Unknown owners run without a lock.
func (s *PostgresStorage) WithinOwnerTx(ctx context.Context, ownerKey string, fn func(tx detection.Tx) error) error {
	var fnErr error
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var owner ownerModel
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("owner_key = ?", ownerKey).
			Take(&owner).Error
		if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			return detection.NewStorageError("postgres", "owner_tx_lock", err)
		}

		fnErr = fn(&postgresTx{db: tx})
		return fnErr
	})
	if fnErr != nil {
		return fnErr
	}
	return wrapTxError("owner_tx", err)
}

// Ping checks the database connection.
func (s *PostgresStorage) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return detection.NewStorageError("postgres", "ping", err)
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		return detection.NewStorageError("postgres", "ping", err)
	}
	return nil
}

// Close closes the connection pool.
func (s *PostgresStorage) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return detection.NewStorageError("postgres", "close", err)
	}
	if err := sqlDB.Close(); err != nil {
		return detection.NewStorageError("postgres", "close", err)
	}
	s.logger.Info("PostgreSQL storage closed")
	return nil
}

// transaction runs fn in a gorm transaction. Errors returned by fn pass
// through untouched, begin and commit failures become StorageErrors.
func (s *PostgresStorage) transaction(ctx context.Context, op string, fn func(tx *gorm.DB) error) error {
	var fnErr error
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		fnErr = fn(tx)
		return fnErr
	})
	if fnErr != nil {
		return fnErr
	}
	return wrapTxError(op, err)
}

func wrapTxError(op string, err error) error {
	if err == nil {
		return nil
	}
	var storageErr *detection.StorageError
	if errors.As(err, &storageErr) {
		return err
	}
	return detection.NewStorageError("postgres", op+"_commit", err)
}

// postgresTx binds the retention accessors to an open transaction.
type postgresTx struct {
	db *gorm.DB
}

func (t *postgresTx) ListByOwnerOrdered(ctx context.Context, ownerKey string) iter.Seq2[*detection.ResultRecord, error] {
	return pgListByOwnerOrdered(t.db.WithContext(ctx), ownerKey)
}

func (t *postgresTx) DeleteBatch(ctx context.Context, ids []int64) (int64, error) {
	return pgDeleteBatch(t.db.WithContext(ctx), ids)
}

func pgListByOwnerOrdered(db *gorm.DB, ownerKey string) iter.Seq2[*detection.ResultRecord, error] {
	return func(yield func(*detection.ResultRecord, error) bool) {
		rows, err := db.Model(&resultModel{}).
			Where("owner_key = ?", ownerKey).
			Order("detected_at DESC, id DESC").
			Rows()
		if err != nil {
			yield(nil, detection.NewStorageError("postgres", "list_by_owner", err))
			return
		}
		defer rows.Close()

		for rows.Next() {
			var m resultModel
			if err := db.ScanRows(rows, &m); err != nil {
				yield(nil, detection.NewStorageError("postgres", "list_by_owner", err))
				return
			}
			if !yield(m.toRecord(), nil) {
				return
			}
		}
		if err := rows.Err(); err != nil {
			yield(nil, detection.NewStorageError("postgres", "list_by_owner", err))
		}
	}
}

func pgDeleteBatch(db *gorm.DB, ids []int64) (int64, error) {
	var deleted int64
	for start := 0; start < len(ids); start += deleteChunkSize {
		end := min(start+deleteChunkSize, len(ids))

		res := db.Where("id IN ?", ids[start:end]).Delete(&resultModel{})
		if res.Error != nil {
			return deleted, detection.NewStorageError("postgres", "delete_batch", res.Error)
		}
		deleted += res.RowsAffected
	}
	return deleted, nil
}

func pgOwnerHasRecords(db *gorm.DB, ownerKey string) (bool, error) {
	var ids []int64
	err := db.Model(&resultModel{}).
		Where("owner_key = ?", ownerKey).
		Limit(1).
		Pluck("id", &ids).Error
	if err != nil {
		return false, detection.NewStorageError("postgres", "owner_has_records", err)
	}
	return len(ids) > 0, nil
}

func toRecords(models []resultModel) []*detection.ResultRecord {
	records := make([]*detection.ResultRecord, 0, len(models))
	for i := range models {
		records = append(records, models[i].toRecord())
	}
	return records
}
