package workers

import (
	"context"
	"time"

	"github.com/cbodonnell/gserver/pkg/blobs"
	"github.com/cbodonnell/gserver/pkg/log"
	"github.com/cbodonnell/gserver/pkg/repositories"
)

// DefaultOrphanBatchSize is the number of orphaned blobs reaped per tick.
const DefaultOrphanBatchSize = 100

type OrphanReaperWorker struct {
	orphans   repositories.OrphanRepository
	blobs     blobs.Store
	interval  time.Duration
	batchSize int
}

type NewOrphanReaperWorkerOptions struct {
	Orphans   repositories.OrphanRepository
	Blobs     blobs.Store
	Interval  time.Duration
	BatchSize int
}

// NewOrphanReaperWorker creates a new OrphanReaperWorker.
// The worker periodically retries the blob deletes that failed when a save was deleted.
func NewOrphanReaperWorker(opts NewOrphanReaperWorkerOptions) *OrphanReaperWorker {
	batchSize := opts.BatchSize
	if batchSize <= 0 {
		batchSize = DefaultOrphanBatchSize
	}
	return &OrphanReaperWorker{
		orphans:   opts.Orphans,
		blobs:     opts.Blobs,
		interval:  opts.Interval,
		batchSize: batchSize,
	}
}

func (w *OrphanReaperWorker) Start(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.Reap(ctx)
		}
	}
}

// Reap attempts every listed orphan once and returns how many were removed.
func (w *OrphanReaperWorker) Reap(ctx context.Context) int {
	paths, err := w.orphans.ListOrphanBlobs(ctx, w.batchSize)
	if err != nil {
		log.Error("Failed to list orphaned blobs: %v", err)
		return 0
	}

	reaped := 0
	for _, path := range paths {
		if err := w.blobs.Delete(ctx, path); err != nil && !blobs.IsNotFound(err) {
			log.Warn("Failed to delete orphaned blob %s: %v", path, err)
			continue
		}
		if err := w.orphans.RemoveOrphanBlob(ctx, path); err != nil {
			log.Error("Failed to remove orphan record for %s: %v", path, err)
			continue
		}
		reaped++
	}
	if reaped > 0 {
		log.Info("Reaped %d orphaned blobs", reaped)
	}
	return reaped
}
