package storage

import (
	"context"
	"fmt"
	"iter"
	"slices"
	"strings"
	"sync"
	"time"

	"mercator-hq/vigil/pkg/detection"
)

// MemoryStorage is an in-memory implementation of detection.Repository.
// It is intended for tests and single-process development setups; nothing
// is persisted.
type MemoryStorage struct {
	mu      sync.RWMutex
	owners  map[string]*detection.Owner
	results map[int64]*detection.ResultRecord
	nextID  int64

	// ownerLocks serializes WithinOwnerTx scopes per owner. Entries are
	// dropped when no scope holds or waits for them.
	locksMu    sync.Mutex
	ownerLocks map[string]*ownerLock
}

type ownerLock struct {
	mu   sync.Mutex
	refs int
}

// NewMemoryStorage creates an empty in-memory store.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		owners:     make(map[string]*detection.Owner),
		results:    make(map[int64]*detection.ResultRecord),
		ownerLocks: make(map[string]*ownerLock),
	}
}

// CreateOwner stores a copy of the owner.
func (m *MemoryStorage) CreateOwner(ctx context.Context, owner *detection.Owner) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.owners[owner.Key]; ok {
		return fmt.Errorf("%w: %s", detection.ErrOwnerExists, owner.Key)
	}

	now := time.Now().UTC()
	owner.CreatedAt = now
	owner.UpdatedAt = now

	stored := *owner
	m.owners[owner.Key] = &stored
	return nil
}

// GetOwner returns a copy of the owner.
func (m *MemoryStorage) GetOwner(ctx context.Context, key string) (*detection.Owner, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	owner, ok := m.owners[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", detection.ErrOwnerNotFound, key)
	}
	out := *owner
	return &out, nil
}

// ListOwners returns copies of all owners ordered by key.
func (m *MemoryStorage) ListOwners(ctx context.Context) ([]*detection.Owner, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	owners := make([]*detection.Owner, 0, len(m.owners))
	for _, owner := range m.owners {
		out := *owner
		owners = append(owners, &out)
	}
	slices.SortFunc(owners, func(a, b *detection.Owner) int {
		return strings.Compare(a.Key, b.Key)
	})
	return owners, nil
}

// UpdateOwner applies a partial update.
func (m *MemoryStorage) UpdateOwner(ctx context.Context, key string, update detection.OwnerUpdate) (*detection.Owner, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	owner, ok := m.owners[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", detection.ErrOwnerNotFound, key)
	}

	update.Apply(owner)
	owner.UpdatedAt = time.Now().UTC()

	out := *owner
	return &out, nil
}

// DeleteOwner removes an owner without results.
func (m *MemoryStorage) DeleteOwner(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.owners[key]; !ok {
		return fmt.Errorf("%w: %s", detection.ErrOwnerNotFound, key)
	}
	for _, r := range m.results {
		if r.OwnerKey == key {
			return fmt.Errorf("%w: %s", detection.ErrOwnerHasRecords, key)
		}
	}

	delete(m.owners, key)
	return nil
}

// CreateResult stores a copy of the record and assigns its ID.
func (m *MemoryStorage) CreateResult(ctx context.Context, record *detection.ResultRecord) error {
	if err := detection.ValidateTimestamp(record.Timestamp); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.owners[record.OwnerKey]; !ok {
		return fmt.Errorf("%w: %s", detection.ErrOwnerNotFound, record.OwnerKey)
	}

	m.nextID++
	record.ID = m.nextID
	record.CreatedAt = time.Now().UTC()

	stored := *record
	m.results[record.ID] = &stored
	return nil
}

// GetResult returns a copy of the record.
func (m *MemoryStorage) GetResult(ctx context.Context, id int64) (*detection.ResultRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	record, ok := m.results[id]
	if !ok {
		return nil, fmt.Errorf("%w: %d", detection.ErrResultNotFound, id)
	}
	out := *record
	return &out, nil
}

// UpdateResult applies a partial payload update.
func (m *MemoryStorage) UpdateResult(ctx context.Context, id int64, update detection.ResultUpdate) (*detection.ResultRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	record, ok := m.results[id]
	if !ok {
		return nil, fmt.Errorf("%w: %d", detection.ErrResultNotFound, id)
	}

	update.Apply(record)

	out := *record
	return &out, nil
}

// DeleteResult removes a single result.
func (m *MemoryStorage) DeleteResult(ctx context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.results[id]; !ok {
		return fmt.Errorf("%w: %d", detection.ErrResultNotFound, id)
	}
	delete(m.results, id)
	return nil
}

// DeleteResultsByOwner removes every result of the owner.
func (m *MemoryStorage) DeleteResultsByOwner(ctx context.Context, ownerKey string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var deleted int64
	for id, r := range m.results {
		if r.OwnerKey == ownerKey {
			delete(m.results, id)
			deleted++
		}
	}
	return deleted, nil
}

// QueryResults lists matching results newest first.
func (m *MemoryStorage) QueryResults(ctx context.Context, q *detection.ResultQuery) ([]*detection.ResultRecord, error) {
	m.mu.RLock()
	records := m.snapshot(func(r *detection.ResultRecord) bool { return q.Matches(r) })
	m.mu.RUnlock()

	if q == nil {
		return records, nil
	}
	if q.Offset > 0 {
		if q.Offset >= len(records) {
			return nil, nil
		}
		records = records[q.Offset:]
	}
	if q.Limit > 0 && len(records) > q.Limit {
		records = records[:q.Limit]
	}
	return records, nil
}

// ListRecent returns the most recent results across all owners.
func (m *MemoryStorage) ListRecent(ctx context.Context, limit int) ([]*detection.ResultRecord, error) {
	if limit <= 0 {
		limit = detection.DefaultWindowSize
	}

	m.mu.RLock()
	records := m.snapshot(nil)
	m.mu.RUnlock()

	if len(records) > limit {
		records = records[:limit]
	}
	return records, nil
}

// ListByOwnerOrdered yields copies of the owner's results newest first. Each
// iteration takes a fresh snapshot.
func (m *MemoryStorage) ListByOwnerOrdered(ctx context.Context, ownerKey string) iter.Seq2[*detection.ResultRecord, error] {
	return func(yield func(*detection.ResultRecord, error) bool) {
		m.mu.RLock()
		records := m.snapshot(func(r *detection.ResultRecord) bool { return r.OwnerKey == ownerKey })
		m.mu.RUnlock()

		for _, r := range records {
			if err := ctx.Err(); err != nil {
				yield(nil, detection.NewStorageError("memory", "list_by_owner", err))
				return
			}
			if !yield(r, nil) {
				return
			}
		}
	}
}

// DeleteBatch removes the given results atomically.
func (m *MemoryStorage) DeleteBatch(ctx context.Context, ids []int64) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, detection.NewStorageError("memory", "delete_batch", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	return m.deleteLocked(ids), nil
}

// ListOwnerKeys returns owners with at least one result, sorted.
func (m *MemoryStorage) ListOwnerKeys(ctx context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	seen := make(map[string]struct{})
	for _, r := range m.results {
		seen[r.OwnerKey] = struct{}{}
	}

	keys := make([]string, 0, len(seen))
	for key := range seen {
		keys = append(keys, key)
	}
	slices.Sort(keys)
	return keys, nil
}

// OwnerHasRecords reports whether the owner has any result.
func (m *MemoryStorage) OwnerHasRecords(ctx context.Context, ownerKey string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, r := range m.results {
		if r.OwnerKey == ownerKey {
			return true, nil
		}
	}
	return false, nil
}

// WithinOwnerTx runs fn with staged deletes that are applied only when fn
// returns nil. Scopes on the same owner run one at a time.
func (m *MemoryStorage) WithinOwnerTx(ctx context.Context, ownerKey string, fn func(tx detection.Tx) error) error {
	m.lockOwner(ownerKey)
	defer m.unlockOwner(ownerKey)

	tx := &memoryTx{store: m, pending: make(map[int64]struct{})}
	if err := fn(tx); err != nil {
		return err
	}

	if err := ctx.Err(); err != nil {
		return detection.NewStorageError("memory", "owner_tx_commit", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]int64, 0, len(tx.pending))
	for id := range tx.pending {
		ids = append(ids, id)
	}
	m.deleteLocked(ids)
	return nil
}

// Ping always succeeds.
func (m *MemoryStorage) Ping(ctx context.Context) error {
	return nil
}

// Close is a no-op.
func (m *MemoryStorage) Close() error {
	return nil
}

// Size returns the number of stored results.
func (m *MemoryStorage) Size() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.results)
}

// Clear removes all owners and results.
func (m *MemoryStorage) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.owners = make(map[string]*detection.Owner)
	m.results = make(map[int64]*detection.ResultRecord)
}

func (m *MemoryStorage) lockOwner(ownerKey string) {
	m.locksMu.Lock()
	lock, ok := m.ownerLocks[ownerKey]
	if !ok {
		lock = &ownerLock{}
		m.ownerLocks[ownerKey] = lock
	}
	lock.refs++
	m.locksMu.Unlock()

	lock.mu.Lock()
}

func (m *MemoryStorage) unlockOwner(ownerKey string) {
	m.locksMu.Lock()
	defer m.locksMu.Unlock()

	lock := m.ownerLocks[ownerKey]
	lock.mu.Unlock()
	lock.refs--
	if lock.refs == 0 {
		delete(m.ownerLocks, ownerKey)
	}
}

// snapshot returns sorted copies of the results accepted by keep.
// Callers must hold m.mu.
func (m *MemoryStorage) snapshot(keep func(*detection.ResultRecord) bool) []*detection.ResultRecord {
	records := make([]*detection.ResultRecord, 0, len(m.results))
	for _, r := range m.results {
		if keep != nil && !keep(r) {
			continue
		}
		out := *r
		records = append(records, &out)
	}
	slices.SortFunc(records, compareNewest)
	return records
}

// deleteLocked removes ids and returns how many existed. Callers must hold m.mu.
func (m *MemoryStorage) deleteLocked(ids []int64) int64 {
	var deleted int64
	for _, id := range ids {
		if _, ok := m.results[id]; ok {
			delete(m.results, id)
			deleted++
		}
	}
	return deleted
}

// memoryTx stages deletes until the enclosing scope commits.
type memoryTx struct {
	store   *MemoryStorage
	pending map[int64]struct{}
}

func (t *memoryTx) ListByOwnerOrdered(ctx context.Context, ownerKey string) iter.Seq2[*detection.ResultRecord, error] {
	return func(yield func(*detection.ResultRecord, error) bool) {
		for r, err := range t.store.ListByOwnerOrdered(ctx, ownerKey) {
			if err != nil {
				yield(nil, err)
				return
			}
			if _, gone := t.pending[r.ID]; gone {
				continue
			}
			if !yield(r, nil) {
				return
			}
		}
	}
}

func (t *memoryTx) DeleteBatch(ctx context.Context, ids []int64) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, detection.NewStorageError("memory", "delete_batch", err)
	}

	t.store.mu.RLock()
	defer t.store.mu.RUnlock()

	var staged int64
	for _, id := range ids {
		if _, ok := t.store.results[id]; !ok {
			continue
		}
		if _, ok := t.pending[id]; ok {
			continue
		}
		t.pending[id] = struct{}{}
		staged++
	}
	return staged, nil
}

func compareNewest(a, b *detection.ResultRecord) int {
	switch {
	case detection.Newer(a, b):
		return -1
	case detection.Newer(b, a):
		return 1
	default:
		return 0
	}
}
