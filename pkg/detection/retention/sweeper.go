package retention

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"mercator-hq/vigil/pkg/detection"
	"mercator-hq/vigil/pkg/detection/export"
)

// Sweep scopes reported to the Recorder.
const (
	ScopeOwner = "owner"
	ScopeAll   = "all"
)

// Config contains configuration for retention sweeps.
type Config struct {
	// WindowSize is the number of most recent results kept per owner.
	WindowSize int

	// Schedule is a cron expression for scheduled sweeps of all owners.
	// Example: "*/15 * * * *" (every 15 minutes). Empty disables scheduling.
	Schedule string

	// ArchiveBeforeEvict writes evicted results to ArchivePath before they
	// are deleted.
	ArchiveBeforeEvict bool

	// ArchivePath is the directory that receives archive files.
	ArchivePath string

	// LockTTL bounds how long a scheduled sweep holds the distributed lock.
	LockTTL time.Duration
}

// DefaultConfig returns the default retention configuration.
func DefaultConfig() *Config {
	return &Config{
		WindowSize:         detection.DefaultWindowSize,
		Schedule:           "*/15 * * * *",
		ArchiveBeforeEvict: false,
		ArchivePath:        "data/archives/",
		LockTTL:            5 * time.Minute,
	}
}

// Recorder receives sweep measurements.
type Recorder interface {
	RecordSweep(scope, status string, duration time.Duration)
	RecordEvicted(count int)
	RecordOwnerFailed()
}

type nopRecorder struct{}

func (nopRecorder) RecordSweep(string, string, time.Duration) {}
func (nopRecorder) RecordEvicted(int)                          {}
func (nopRecorder) RecordOwnerFailed()                         {}

// Option configures a Sweeper.
type Option func(*Sweeper)

// WithRecorder sets the metrics recorder.
func WithRecorder(r Recorder) Option {
	return func(s *Sweeper) {
		if r != nil {
			s.recorder = r
		}
	}
}

// WithTracer sets the tracer used for sweep spans.
func WithTracer(t trace.Tracer) Option {
	return func(s *Sweeper) {
		if t != nil {
			s.tracer = t
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Sweeper) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithProgress sets a callback invoked after each owner of SweepAll with
// the number of owners swept so far and the total.
func WithProgress(fn func(done, total int)) Option {
	return func(s *Sweeper) {
		s.progress = fn
	}
}

// Sweeper evicts results that fall outside each owner's retention window.
// It keeps no state between calls and is safe for concurrent use.
type Sweeper struct {
	store    detection.RecordStore
	config   *Config
	logger   *slog.Logger
	recorder Recorder
	tracer   trace.Tracer
	archiver *export.JSONExporter
	progress func(done, total int)
	now      func() time.Time
}

// NewSweeper creates a new retention sweeper over store.
func NewSweeper(store detection.RecordStore, config *Config, opts ...Option) *Sweeper {
	if config == nil {
		config = DefaultConfig()
	}

	s := &Sweeper{
		store:    store,
		config:   config,
		logger:   slog.Default().With("component", "detection.retention"),
		recorder: nopRecorder{},
		tracer:   otel.Tracer("mercator-hq/vigil/retention"),
		archiver: export.NewJSONExporter(true),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SweepOwner keeps the windowSize most recent results of ownerKey and
// deletes the rest in one transaction. An owner without results, including
// an unknown owner, yields a zero-count report.
//
// On failure nothing is deleted and the error is a *detection.RetentionError.
func (s *Sweeper) SweepOwner(ctx context.Context, ownerKey string, windowSize int) (*detection.EvictionReport, error) {
	if windowSize <= 0 {
		return nil, detection.NewInvalidWindowSizeError(windowSize)
	}

	start := time.Now()
	ctx, span := s.tracer.Start(ctx, "retention.sweep_owner", trace.WithAttributes(
		attribute.String("owner.key", ownerKey),
		attribute.Int("retention.window", windowSize),
	))
	defer span.End()

	report, err := s.sweepOwner(ctx, ownerKey, windowSize)
	if err != nil {
		s.recorder.RecordSweep(ScopeOwner, detection.StatusFailed, time.Since(start))
		span.RecordError(err)
		span.SetStatus(codes.Error, "sweep failed")

		s.logger.Error("owner sweep failed",
			"owner_key", ownerKey,
			"window_size", windowSize,
			"error", err,
		)
		return nil, detection.NewRetentionError(ownerKey, windowSize, err)
	}

	s.recorder.RecordSweep(ScopeOwner, detection.StatusOK, time.Since(start))
	s.recorder.RecordEvicted(report.Evicted)
	span.SetAttributes(
		attribute.Int("retention.evicted", report.Evicted),
		attribute.Int("retention.retained", report.Retained),
	)

	if report.Evicted > 0 {
		s.logger.Info("evicted results outside retention window",
			"owner_key", ownerKey,
			"evicted", report.Evicted,
			"retained", report.Retained,
			"window_size", windowSize,
		)
	} else {
		s.logger.Debug("owner within retention window",
			"owner_key", ownerKey,
			"retained", report.Retained,
			"window_size", windowSize,
		)
	}

	return report, nil
}

// sweepOwner reads the owner's results in retention order and deletes the
// surplus inside a single owner transaction.
func (s *Sweeper) sweepOwner(ctx context.Context, ownerKey string, windowSize int) (*detection.EvictionReport, error) {
	report := &detection.EvictionReport{OwnerKey: ownerKey, Status: detection.StatusOK}

	// A pending archive is published only once the eviction has committed.
	var pending *pendingArchive
	err := s.store.WithinOwnerTx(ctx, ownerKey, func(tx detection.Tx) error {
		var (
			count   int
			surplus []*detection.ResultRecord
		)
		for record, err := range tx.ListByOwnerOrdered(ctx, ownerKey) {
			if err != nil {
				return err
			}
			count++
			if count > windowSize {
				surplus = append(surplus, record)
			}
		}

		report.Retained = count - len(surplus)
		if len(surplus) == 0 {
			return nil
		}

		if s.config.ArchiveBeforeEvict {
			archived, err := s.archive(ctx, ownerKey, surplus)
			if err != nil {
				return err
			}
			pending = archived
		}

		ids := make([]int64, len(surplus))
		for i, record := range surplus {
			ids[i] = record.ID
		}

		deleted, err := tx.DeleteBatch(ctx, ids)
		if err != nil {
			return err
		}
		if deleted != int64(len(ids)) {
			return fmt.Errorf("deleted %d of %d surplus results", deleted, len(ids))
		}

		report.Evicted = len(ids)
		return nil
	})
	if err != nil {
		if pending != nil {
			pending.discard()
		}
		return nil, err
	}

	if pending != nil {
		if err := pending.publish(); err != nil {
			// The results are already gone; keep the staged file for recovery.
			s.logger.Error("failed to publish archive",
				"owner_key", ownerKey,
				"staged_file", pending.staged,
				"error", err,
			)
		} else {
			s.logger.Info("evicted results archived",
				"owner_key", ownerKey,
				"archive_file", pending.path,
				"record_count", report.Evicted,
			)
		}
	}
	return report, nil
}

// SweepAll sweeps every owner that has results, in owner key order. A failed
// owner is reported with StatusFailed and does not stop the others; the call
// itself fails only when the owners cannot be enumerated.
func (s *Sweeper) SweepAll(ctx context.Context, windowSize int) ([]detection.EvictionReport, error) {
	if windowSize <= 0 {
		return nil, detection.NewInvalidWindowSizeError(windowSize)
	}

	start := time.Now()
	ctx, span := s.tracer.Start(ctx, "retention.sweep_all", trace.WithAttributes(
		attribute.Int("retention.window", windowSize),
	))
	defer span.End()

	keys, err := s.store.ListOwnerKeys(ctx)
	if err != nil {
		s.recorder.RecordSweep(ScopeAll, detection.StatusFailed, time.Since(start))
		span.RecordError(err)
		span.SetStatus(codes.Error, "list owners failed")
		return nil, fmt.Errorf("failed to list owners: %w", err)
	}

	reports := make([]detection.EvictionReport, 0, len(keys))
	var evicted, failed int
	for i, key := range keys {
		report, err := s.SweepOwner(ctx, key, windowSize)
		if err != nil {
			s.recorder.RecordOwnerFailed()
			failed++
			reports = append(reports, detection.EvictionReport{
				OwnerKey: key,
				Status:   detection.StatusFailed,
				Error:    err.Error(),
				Err:      err,
			})
		} else {
			evicted += report.Evicted
			reports = append(reports, *report)
		}

		if s.progress != nil {
			s.progress(i+1, len(keys))
		}
	}

	status := detection.StatusOK
	if failed > 0 {
		status = detection.StatusFailed
		span.SetStatus(codes.Error, fmt.Sprintf("%d owners failed", failed))
	}
	s.recorder.RecordSweep(ScopeAll, status, time.Since(start))
	span.SetAttributes(
		attribute.Int("retention.owners", len(keys)),
		attribute.Int("retention.evicted", evicted),
		attribute.Int("retention.failed", failed),
	)

	s.logger.Info("retention sweep completed",
		"owners", len(keys),
		"evicted", evicted,
		"failed", failed,
		"window_size", windowSize,
		"duration", time.Since(start),
	)

	return reports, nil
}

var unsafeFileChars = regexp.MustCompile(`[^A-Za-z0-9._-]`)

// pendingArchive is an archive written under a staging name.
type pendingArchive struct {
	staged string
	path   string
}

func (p *pendingArchive) publish() error {
	return os.Rename(p.staged, p.path)
}

func (p *pendingArchive) discard() {
	_ = os.Remove(p.staged)
}

// archive stages records for <ArchivePath>/<owner>-<timestamp>.json. The
// returned archive must be published after the eviction commits.
func (s *Sweeper) archive(ctx context.Context, ownerKey string, records []*detection.ResultRecord) (*pendingArchive, error) {
	if err := os.MkdirAll(s.config.ArchivePath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create archive directory: %w", err)
	}

	name := fmt.Sprintf("%s-%s.json",
		unsafeFileChars.ReplaceAllString(ownerKey, "_"),
		s.now().UTC().Format("20060102T150405.000000000Z"),
	)
	p := &pendingArchive{path: filepath.Join(s.config.ArchivePath, name)}

	f, err := os.CreateTemp(s.config.ArchivePath, "."+name+".*.tmp")
	if err != nil {
		return nil, fmt.Errorf("failed to create archive file: %w", err)
	}
	p.staged = f.Name()

	if err := s.archiver.Export(ctx, records, f); err != nil {
		f.Close()
		p.discard()
		return nil, fmt.Errorf("failed to export results to archive: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		p.discard()
		return nil, fmt.Errorf("failed to sync archive file: %w", err)
	}
	if err := f.Close(); err != nil {
		p.discard()
		return nil, fmt.Errorf("failed to close archive file: %w", err)
	}
	return p, nil
}
