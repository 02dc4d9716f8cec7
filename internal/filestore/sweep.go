package filestore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/cardvault/filestore/internal/filestore/backend"
	"github.com/cardvault/filestore/internal/filestore/metadata"
	"github.com/cardvault/filestore/internal/observability"
)

// SweepOptions configures the expiry sweeper.
type SweepOptions struct {
	// Interval between sweep rounds when running continuously.
	Interval time.Duration

	// BatchSize bounds how many expired records one round processes.
	BatchSize int

	// OrphanGrace is how long an unregistered blob may exist before the
	// orphan scan reclaims it. Must comfortably exceed the window
	// between a backend write and its registration.
	OrphanGrace time.Duration
}

// SweepReport summarizes one sweep round.
type SweepReport struct {
	Expired        int
	Orphans        int
	Failed         int
	OrphanScanSkip bool // backend has no native listing
}

// Sweeper prunes expired records and reclaims orphaned blobs.
type Sweeper struct {
	store  *Store
	opts   SweepOptions
	logger *slog.Logger
}

// NewSweeper creates a Sweeper over a store.
func NewSweeper(store *Store, opts SweepOptions) *Sweeper {
	if opts.Interval <= 0 {
		opts.Interval = time.Hour
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 500
	}
	if opts.OrphanGrace <= 0 {
		opts.OrphanGrace = 24 * time.Hour
	}
	return &Sweeper{
		store:  store,
		opts:   opts,
		logger: slog.Default().With("component", "sweeper"),
	}
}

// Run sweeps on a ticker until ctx is cancelled.
func (sw *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(sw.opts.Interval)
	defer ticker.Stop()

	sw.logger.Info("sweeper started", "interval", sw.opts.Interval)
	for {
		select {
		case <-ctx.Done():
			sw.logger.Info("sweeper stopped")
			return
		case <-ticker.C:
			report, err := sw.SweepOnce(ctx)
			if err != nil {
				sw.logger.ErrorContext(ctx, "sweep round failed", "error", err)
				continue
			}
			if report.Expired > 0 || report.Orphans > 0 || report.Failed > 0 {
				sw.logger.InfoContext(ctx, "sweep round complete",
					"expired", report.Expired,
					"orphans", report.Orphans,
					"failed", report.Failed)
			}
		}
	}
}

// SweepOnce runs a single sweep round: prune expired records (and their
// blobs), then reclaim orphaned blobs if the backend supports listing.
func (sw *Sweeper) SweepOnce(ctx context.Context) (*SweepReport, error) {
	op, ctx := observability.StartOperation(ctx, sw.store.metrics, "sweep",
		attribute.String("backend", sw.store.backend.Name()))

	report := &SweepReport{}
	err := sw.sweepExpired(ctx, report)
	if err == nil {
		err = sw.sweepOrphans(ctx, report)
	}
	op.End(err)
	return report, err
}

func (sw *Sweeper) sweepExpired(ctx context.Context, report *SweepReport) error {
	now := sw.store.now()
	expired, err := sw.store.registry.ExpiredFiles(ctx, now, sw.opts.BatchSize)
	if err != nil {
		return fmt.Errorf("sweep expired: %w", err)
	}

	for _, f := range expired {
		if err := sw.removeExpired(ctx, f); err != nil {
			report.Failed++
			sw.logger.WarnContext(ctx, "failed to prune expired file",
				"key", f.Key, "error", err)
			continue
		}
		report.Expired++
	}
	return nil
}

func (sw *Sweeper) removeExpired(ctx context.Context, f *metadata.File) error {
	// The backend TTL usually fired already; absence is the happy path.
	if f.Backend == sw.store.backend.Name() {
		if err := sw.store.backend.Delete(ctx, f.Key); err != nil && !errors.Is(err, backend.ErrNotFound) {
			return fmt.Errorf("delete blob: %w", err)
		}
	}
	if err := sw.store.registry.DeleteByKey(ctx, f.Key); err != nil && !errors.Is(err, metadata.ErrNotFound) {
		return fmt.Errorf("delete record: %w", err)
	}
	return nil
}

// sweepOrphans removes blobs that exist on the backend but have no
// registry record. Only backends with native listing are scanned; the
// grace period keeps in-flight uploads (written but not yet registered)
// safe.
func (sw *Sweeper) sweepOrphans(ctx context.Context, report *SweepReport) error {
	lister, ok := sw.store.backend.(backend.Lister)
	if !ok {
		report.OrphanScanSkip = true
		return nil
	}

	cutoff := sw.store.now().Add(-sw.opts.OrphanGrace)
	cursor := ""
	for {
		page, err := lister.List(ctx, backend.ListOptions{
			Limit:  sw.opts.BatchSize,
			Cursor: cursor,
		})
		if err != nil {
			return fmt.Errorf("orphan scan: %w", err)
		}

		for _, entry := range page.Entries {
			if !entry.LastModified.IsZero() && entry.LastModified.After(cutoff) {
				continue
			}
			_, err := sw.store.registry.GetByKey(ctx, entry.Key)
			if err == nil {
				continue
			}
			if !errors.Is(err, metadata.ErrNotFound) {
				return fmt.Errorf("orphan scan: lookup %s: %w", entry.Key, err)
			}

			if err := sw.store.backend.Delete(ctx, entry.Key); err != nil && !errors.Is(err, backend.ErrNotFound) {
				report.Failed++
				sw.logger.WarnContext(ctx, "failed to reclaim orphaned blob",
					"key", entry.Key, "error", err)
				continue
			}
			report.Orphans++
			sw.logger.InfoContext(ctx, "reclaimed orphaned blob", "key", entry.Key)
		}

		if !page.Truncated {
			return nil
		}
		cursor = page.Cursor
	}
}
