package detection

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrInvalidWindowSize is returned when a sweep is requested with a
	// window size below one.
	ErrInvalidWindowSize = errors.New("window size must be positive")

	// ErrTimestampOutOfRange is returned when a result timestamp cannot be
	// stored without loss.
	ErrTimestampOutOfRange = errors.New("timestamp out of range")

	// ErrOwnerNotFound indicates the referenced owner does not exist.
	ErrOwnerNotFound = errors.New("owner not found")

	// ErrOwnerExists indicates an owner with the same key already exists.
	ErrOwnerExists = errors.New("owner already exists")

	// ErrOwnerHasRecords indicates an owner still owns results and cannot be deleted.
	ErrOwnerHasRecords = errors.New("owner still has results")

	// ErrResultNotFound indicates the referenced result does not exist.
	ErrResultNotFound = errors.New("result not found")
)

// InvalidWindowSizeError carries the rejected window size.
type InvalidWindowSizeError struct {
	WindowSize int
}

// Error implements the error interface.
func (e *InvalidWindowSizeError) Error() string {
	return fmt.Sprintf("invalid window size %d: %v", e.WindowSize, ErrInvalidWindowSize)
}

// Unwrap returns ErrInvalidWindowSize.
func (e *InvalidWindowSizeError) Unwrap() error {
	return ErrInvalidWindowSize
}

// NewInvalidWindowSizeError creates a new InvalidWindowSizeError.
func NewInvalidWindowSizeError(windowSize int) *InvalidWindowSizeError {
	return &InvalidWindowSizeError{WindowSize: windowSize}
}

// InvalidTimestampError carries the rejected result timestamp.
type InvalidTimestampError struct {
	Timestamp time.Time
}

// Error implements the error interface.
func (e *InvalidTimestampError) Error() string {
	return fmt.Sprintf("invalid timestamp %s: %v (supported range %s to %s)",
		e.Timestamp.Format(time.RFC3339), ErrTimestampOutOfRange,
		MinTimestamp.Format(time.RFC3339), MaxTimestamp.Format(time.RFC3339))
}

// Unwrap returns ErrTimestampOutOfRange.
func (e *InvalidTimestampError) Unwrap() error {
	return ErrTimestampOutOfRange
}

// NewInvalidTimestampError creates a new InvalidTimestampError.
func NewInvalidTimestampError(ts time.Time) *InvalidTimestampError {
	return &InvalidTimestampError{Timestamp: ts}
}

// StorageError represents an error from the storage backend.
type StorageError struct {
	Backend   string // Storage backend type ("sqlite", "postgres", "memory")
	Operation string // Operation that failed ("list_by_owner", "delete_batch", etc.)
	Cause     error  // Underlying error
}

// Error implements the error interface.
func (e *StorageError) Error() string {
	return fmt.Sprintf("storage error [backend=%s, operation=%s]: %v", e.Backend, e.Operation, e.Cause)
}

// Unwrap returns the underlying cause error.
func (e *StorageError) Unwrap() error {
	return e.Cause
}

// NewStorageError creates a new StorageError.
func NewStorageError(backend, operation string, cause error) *StorageError {
	return &StorageError{
		Backend:   backend,
		Operation: operation,
		Cause:     cause,
	}
}

// RetentionError represents a failed sweep of one owner.
type RetentionError struct {
	OwnerKey   string
	WindowSize int
	Cause      error
}

// Error implements the error interface.
func (e *RetentionError) Error() string {
	return fmt.Sprintf("retention error [owner=%s, window=%d]: %v", e.OwnerKey, e.WindowSize, e.Cause)
}

// Unwrap returns the underlying cause error.
func (e *RetentionError) Unwrap() error {
	return e.Cause
}

// NewRetentionError creates a new RetentionError.
func NewRetentionError(ownerKey string, windowSize int, cause error) *RetentionError {
	return &RetentionError{
		OwnerKey:   ownerKey,
		WindowSize: windowSize,
		Cause:      cause,
	}
}

// ExportError represents an error during result export.
type ExportError struct {
	Format      string // Export format ("json", "csv")
	RecordCount int    // Number of records being exported
	Cause       error  // Underlying error
}

// Error implements the error interface.
func (e *ExportError) Error() string {
	return fmt.Sprintf("export error [format=%s, record_count=%d]: %v", e.Format, e.RecordCount, e.Cause)
}

// Unwrap returns the underlying cause error.
func (e *ExportError) Unwrap() error {
	return e.Cause
}

// NewExportError creates a new ExportError.
func NewExportError(format string, recordCount int, cause error) *ExportError {
	return &ExportError{
		Format:      format,
		RecordCount: recordCount,
		Cause:       cause,
	}
}

// PartialSweepError summarizes an all-owner sweep in which some owners failed.
type PartialSweepError struct {
	Failed []EvictionReport
	Total  int
}

// Error implements the error interface.
func (e *PartialSweepError) Error() string {
	owners := make([]string, 0, len(e.Failed))
	for _, r := range e.Failed {
		owners = append(owners, r.OwnerKey)
	}
	return fmt.Sprintf("sweep failed for %d of %d owners: %s",
		len(e.Failed), e.Total, strings.Join(owners, ", "))
}

// Unwrap returns the individual owner failures.
func (e *PartialSweepError) Unwrap() []error {
	errs := make([]error, 0, len(e.Failed))
	for _, r := range e.Failed {
		if r.Err != nil {
			errs = append(errs, r.Err)
		}
	}
	return errs
}

// CheckSweep returns a *PartialSweepError when any report failed, nil otherwise.
func CheckSweep(reports []EvictionReport) error {
	var failed []EvictionReport
	for _, r := range reports {
		if r.Failed() {
			failed = append(failed, r)
		}
	}
	if len(failed) == 0 {
		return nil
	}
	return &PartialSweepError{Failed: failed, Total: len(reports)}
}
