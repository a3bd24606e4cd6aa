package detection

import (
	"context"
	"io"
	"iter"
	"math"
	"time"
)

// DefaultWindowSize is the number of results retained per owner when no
// window is configured.
const DefaultWindowSize = 24

// Owner is a monitored entity (a camera configuration registered under a
// username). The retention engine only relies on Key.
type Owner struct {
	// Key uniquely identifies the owner (the username).
	Key string `json:"key"`

	// MonitoringEnabled reports whether detection is active for the owner.
	MonitoringEnabled bool `json:"monitoring_enabled"`

	// StreamingURL is the camera stream the detector consumes.
	StreamingURL string `json:"streaming_url,omitempty"`

	// Email is the contact address notified about detections.
	Email string `json:"email,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// OwnerUpdate carries a partial owner update. Nil fields are left untouched.
type OwnerUpdate struct {
	MonitoringEnabled *bool   `json:"monitoring_enabled,omitempty"`
	StreamingURL      *string `json:"streaming_url,omitempty"`
	Email             *string `json:"email,omitempty"`
}

// Apply copies the non-nil fields of u onto o.
func (u OwnerUpdate) Apply(o *Owner) {
	if u.MonitoringEnabled != nil {
		o.MonitoringEnabled = *u.MonitoringEnabled
	}
	if u.StreamingURL != nil {
		o.StreamingURL = *u.StreamingURL
	}
	if u.Email != nil {
		o.Email = *u.Email
	}
}

// ResultRecord is one detection event belonging to exactly one owner.
type ResultRecord struct {
	// ID is the surrogate key assigned by the store on creation.
	ID int64 `json:"id"`

	// OwnerKey references the owning Owner. Immutable after creation.
	OwnerKey string `json:"owner_key"`

	// Timestamp is the event time used for retention ordering.
	// Immutable after creation.
	Timestamp time.Time `json:"timestamp"`

	// Result is the detection outcome code reported by the detector.
	Result int `json:"result"`

	// ImageRef points at the processed detection image.
	ImageRef string `json:"image_ref,omitempty"`

	// Config is the detector configuration snapshot at detection time.
	Config string `json:"config,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// Result timestamps are stored as nanoseconds since the Unix epoch, which
// bounds them to roughly the years 1678 through 2262.
var (
	MinTimestamp = time.Unix(0, math.MinInt64).UTC()
	MaxTimestamp = time.Unix(0, math.MaxInt64).UTC()
)

// ValidateTimestamp returns an *InvalidTimestampError when ts falls outside
// [MinTimestamp, MaxTimestamp].
func ValidateTimestamp(ts time.Time) error {
	if ts.Before(MinTimestamp) || ts.After(MaxTimestamp) {
		return NewInvalidTimestampError(ts)
	}
	return nil
}

// ResultUpdate carries a partial update of a result's payload fields.
// The owner key and timestamp cannot be changed.
type ResultUpdate struct {
	Result   *int    `json:"result,omitempty"`
	ImageRef *string `json:"image_ref,omitempty"`
	Config   *string `json:"config,omitempty"`
}

// Apply copies the non-nil fields of u onto r.
func (u ResultUpdate) Apply(r *ResultRecord) {
	if u.Result != nil {
		r.Result = *u.Result
	}
	if u.ImageRef != nil {
		r.ImageRef = *u.ImageRef
	}
	if u.Config != nil {
		r.Config = *u.Config
	}
}

// Newer reports whether a sorts before b in retention order:
// timestamp descending, then id descending.
func Newer(a, b *ResultRecord) bool {
	if !a.Timestamp.Equal(b.Timestamp) {
		return a.Timestamp.After(b.Timestamp)
	}
	return a.ID > b.ID
}

// ResultQuery filters result listings. Results are always returned newest
// first.
type ResultQuery struct {
	// OwnerKey restricts results to a single owner when non-empty.
	OwnerKey string

	// Since and Until bound the event timestamp (inclusive).
	Since *time.Time
	Until *time.Time

	// Limit caps the number of results (0 = no limit).
	Limit int

	// Offset skips the first results of the ordered listing.
	Offset int
}

// Matches reports whether r satisfies the owner and time filters of q.
func (q *ResultQuery) Matches(r *ResultRecord) bool {
	if q == nil {
		return true
	}
	if q.OwnerKey != "" && r.OwnerKey != q.OwnerKey {
		return false
	}
	if q.Since != nil && r.Timestamp.Before(*q.Since) {
		return false
	}
	if q.Until != nil && r.Timestamp.After(*q.Until) {
		return false
	}
	return true
}

// Sweep statuses reported per owner.
const (
	StatusOK     = "ok"
	StatusFailed = "failed"
)

// EvictionReport is the outcome of sweeping one owner.
type EvictionReport struct {
	OwnerKey string `json:"owner_key"`
	Evicted  int    `json:"evicted"`
	Retained int    `json:"retained"`
	Status   string `json:"status"`

	// Error describes the failure when Status is StatusFailed.
	Error string `json:"error,omitempty"`

	// Err is the underlying failure, kept for errors.Is/As by in-process callers.
	Err error `json:"-"`
}

// Failed reports whether the owner's sweep failed.
func (r EvictionReport) Failed() bool {
	return r.Status == StatusFailed
}

// Tx is a transaction scoped to a single owner's sweep. Reads observe the
// transaction's snapshot and deletes become visible on commit only.
type Tx interface {
	// ListByOwnerOrdered returns the owner's results newest first.
	ListByOwnerOrdered(ctx context.Context, ownerKey string) iter.Seq2[*ResultRecord, error]

	// DeleteBatch deletes the given results and returns the number removed.
	DeleteBatch(ctx context.Context, ids []int64) (int64, error)
}

// RecordStore is the retention-facing part of a repository.
type RecordStore interface {
	Tx

	// ListOwnerKeys returns the distinct owner keys that have at least one
	// result, in ascending order.
	ListOwnerKeys(ctx context.Context) ([]string, error)

	// OwnerHasRecords reports whether the owner has at least one result.
	OwnerHasRecords(ctx context.Context, ownerKey string) (bool, error)

	// WithinOwnerTx runs fn inside a transaction that serializes with other
	// scopes on the same owner. The transaction commits when fn returns nil
	// and rolls back otherwise, including when fn panics.
	WithinOwnerTx(ctx context.Context, ownerKey string, fn func(tx Tx) error) error
}

// Repository is the full storage contract implemented by every backend.
// Implementations must be safe for concurrent use.
type Repository interface {
	RecordStore

	CreateOwner(ctx context.Context, owner *Owner) error
	GetOwner(ctx context.Context, key string) (*Owner, error)
	ListOwners(ctx context.Context) ([]*Owner, error)
	UpdateOwner(ctx context.Context, key string, update OwnerUpdate) (*Owner, error)

	// DeleteOwner removes an owner without any results. It fails with
	// ErrOwnerHasRecords otherwise and never cascades.
	DeleteOwner(ctx context.Context, key string) error

	// CreateResult stores a result and assigns its ID. It fails with
	// ErrOwnerNotFound when the owner does not exist and with
	// ErrTimestampOutOfRange when the timestamp is not storable.
	CreateResult(ctx context.Context, record *ResultRecord) error
	GetResult(ctx context.Context, id int64) (*ResultRecord, error)
	UpdateResult(ctx context.Context, id int64, update ResultUpdate) (*ResultRecord, error)
	DeleteResult(ctx context.Context, id int64) error

	// DeleteResultsByOwner removes every result of the owner and returns the
	// number removed.
	DeleteResultsByOwner(ctx context.Context, ownerKey string) (int64, error)

	// QueryResults lists results matching q, newest first.
	QueryResults(ctx context.Context, q *ResultQuery) ([]*ResultRecord, error)

	// ListRecent returns the globally most recent results regardless of owner.
	ListRecent(ctx context.Context, limit int) ([]*ResultRecord, error)

	// Ping checks that the backend is reachable.
	Ping(ctx context.Context) error

	Close() error
}

// Exporter writes result records in a serialization format.
type Exporter interface {
	Export(ctx context.Context, records []*ResultRecord, w io.Writer) error
}
