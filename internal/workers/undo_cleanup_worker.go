package workers

import (
	"context"
	"time"

	"github.com/caseloop/caseloop/pkg/logger"
)

// PreviousStateCleaner drops undo snapshots from records whose window lapsed
// before the cutoff
type PreviousStateCleaner interface {
	ClearExpiredPreviousState(ctx context.Context, cutoff time.Time) (int64, error)
}

// UndoCleanupWorker periodically frees undo snapshots from expired records.
// Undo expiry itself is passive; this only reclaims storage.
type UndoCleanupWorker struct {
	cleaner       PreviousStateCleaner
	logger        *logger.Logger
	checkInterval time.Duration
	stopCh        chan struct{}
	doneCh        chan struct{}

	now func() time.Time
}

// NewUndoCleanupWorker creates a new undo cleanup worker
func NewUndoCleanupWorker(cleaner PreviousStateCleaner, log *logger.Logger, checkInterval time.Duration) *UndoCleanupWorker {
	if checkInterval == 0 {
		checkInterval = 10 * time.Minute
	}

	return &UndoCleanupWorker{
		cleaner:       cleaner,
		logger:        log,
		checkInterval: checkInterval,
		stopCh:        make(chan struct{}),
		doneCh:        make(chan struct{}),
		now:           time.Now,
	}
}

// Start starts the worker in the background
func (w *UndoCleanupWorker) Start(ctx context.Context) {
	w.logger.Info("Starting undo cleanup worker",
		logger.String("interval", w.checkInterval.String()),
	)

	go w.run(ctx)
}

// Stop stops the worker gracefully
func (w *UndoCleanupWorker) Stop() {
	w.logger.Info("Stopping undo cleanup worker")
	close(w.stopCh)
	<-w.doneCh
	w.logger.Info("Undo cleanup worker stopped")
}

// run is the main worker loop
func (w *UndoCleanupWorker) run(ctx context.Context) {
	defer close(w.doneCh)

	ticker := time.NewTicker(w.checkInterval)
	defer ticker.Stop()

	// Run immediately on start
	w.cleanExpiredSnapshots(ctx)

	for {
		select {
		case <-ticker.C:
			w.cleanExpiredSnapshots(ctx)
		case <-w.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

// cleanExpiredSnapshots drops snapshots from records past their undo window
func (w *UndoCleanupWorker) cleanExpiredSnapshots(ctx context.Context) {
	cleaned, err := w.cleaner.ClearExpiredPreviousState(ctx, w.now())
	if err != nil {
		w.logger.Errorf("Failed to clean expired undo snapshots: %v", err)
		return
	}

	if cleaned > 0 {
		w.logger.Info("Cleaned expired undo snapshots", logger.Int64("count", cleaned))
	}
}
