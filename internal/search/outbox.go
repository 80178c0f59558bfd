package search

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/metric"

	"github.com/kioku-ai/kioku/internal/storage"
	"github.com/kioku-ai/kioku/internal/telemetry"
)

// entryLockInterval must exceed the per-batch timeout so a second
// worker cannot pick up entries whose lock expired while the first is
// still processing them.
const entryLockInterval = 60 * time.Second

// IndexWorker polls the index outbox and syncs decision changes to
// Qdrant.
type IndexWorker struct {
	db           *storage.DB
	index        *QdrantIndex
	logger       *slog.Logger
	pollInterval time.Duration
	batchSize    int

	started     atomic.Bool
	cancelLoop  context.CancelFunc
	done        chan struct{}
	once        sync.Once
	lastCleanup time.Time
	drainCh     chan context.Context // carries the drain context to pollLoop for the final poll
}

// NewIndexWorker creates an index outbox worker.
func NewIndexWorker(db *storage.DB, index *QdrantIndex, logger *slog.Logger, pollInterval time.Duration, batchSize int) *IndexWorker {
	if pollInterval <= 0 {
		pollInterval = 2 * time.Second
	}
	if batchSize <= 0 {
		batchSize = 64
	}
	return &IndexWorker{
		db:           db,
		index:        index,
		logger:       logger,
		pollInterval: pollInterval,
		batchSize:    batchSize,
		done:         make(chan struct{}),
		drainCh:      make(chan context.Context, 1),
	}
}

// Start begins the background poll loop. Safe to call only once;
// subsequent calls are no-ops and log a warning.
func (w *IndexWorker) Start(ctx context.Context) {
	if !w.started.CompareAndSwap(false, true) {
		w.logger.Warn("index outbox: Start called more than once, ignoring")
		return
	}
	w.registerMetrics()
	loopCtx, cancel := context.WithCancel(ctx)
	w.cancelLoop = cancel
	go w.pollLoop(loopCtx)
}

// Drain signals the poll loop to stop, processes remaining entries, and
// blocks until done or the context expires.
func (w *IndexWorker) Drain(ctx context.Context) {
	// Send the drain context before cancelling so pollLoop can receive
	// it on ctx.Done().
	select {
	case w.drainCh <- ctx:
	default:
	}
	if w.cancelLoop != nil {
		w.cancelLoop()
	}
	select {
	case <-w.done:
	case <-ctx.Done():
		w.logger.Warn("index outbox: drain timed out")
	}
}

func (w *IndexWorker) pollLoop(ctx context.Context) {
	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			var drainCtx context.Context
			select {
			case drainCtx = <-w.drainCh:
			default:
			}
			if drainCtx != nil {
				w.processBatch(drainCtx)
			} else {
				fallbackCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				w.processBatch(fallbackCtx)
				cancel()
			}
			w.once.Do(func() { close(w.done) })
			return
		case <-ticker.C:
			batchCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
			w.processBatch(batchCtx)
			cancel()
		}
	}
}

func (w *IndexWorker) processBatch(ctx context.Context) {
	entries, err := w.db.ClaimIndexEntries(ctx, w.batchSize, entryLockInterval)
	if err != nil {
		w.logger.Error("index outbox: claim entries", "error", err)
		return
	}
	if len(entries) == 0 {
		return
	}

	var upserts []storage.IndexEntry
	var deletes []storage.IndexEntry
	for _, e := range entries {
		switch e.Operation {
		case storage.IndexOpUpsert:
			upserts = append(upserts, e)
		case storage.IndexOpDelete:
			deletes = append(deletes, e)
		}
	}

	if len(upserts) > 0 {
		w.processUpserts(ctx, upserts)
	}
	if len(deletes) > 0 {
		w.processDeletes(ctx, deletes)
	}

	// Periodically sweep entries that exhausted their retries.
	if time.Since(w.lastCleanup) > time.Hour {
		if n, err := w.db.CleanupIndexDeadLetters(ctx); err != nil {
			w.logger.Error("index outbox: cleanup dead-letters", "error", err)
		} else if n > 0 {
			w.logger.Info("index outbox: cleaned dead-letter entries", "deleted", n)
		}
		w.lastCleanup = time.Now()
	}
}

func (w *IndexWorker) processUpserts(ctx context.Context, entries []storage.IndexEntry) {
	decisionIDs := make([]uuid.UUID, len(entries))
	for i, e := range entries {
		decisionIDs[i] = e.DecisionID
	}

	decisions, err := w.db.DecisionsForIndex(ctx, decisionIDs)
	if err != nil {
		w.logger.Error("index outbox: fetch decisions", "error", err, "count", len(decisionIDs))
		w.failEntries(ctx, entries, err.Error())
		return
	}

	// Entries whose decision has no embedding yet are retried after
	// the embed worker catches up; entries whose decision was deleted
	// are dropped.
	indexed := make(map[uuid.UUID]bool, len(decisions))
	for _, d := range decisions {
		indexed[d.ID] = true
	}

	if len(decisions) > 0 {
		if err := w.index.Upsert(ctx, decisions); err != nil {
			w.logger.Error("index outbox: qdrant upsert", "error", err, "count", len(decisions))
			w.failEntries(ctx, entries, err.Error())
			return
		}
	}

	var done []int64
	var waiting []storage.IndexEntry
	for _, e := range entries {
		if indexed[e.DecisionID] {
			done = append(done, e.ID)
		} else {
			waiting = append(waiting, e)
		}
	}
	if err := w.db.FinishIndexEntries(ctx, done); err != nil {
		w.logger.Error("index outbox: finish entries", "error", err)
	}
	if len(waiting) > 0 {
		w.failEntries(ctx, waiting, "decision not embedded yet")
	}
	if len(decisions) > 0 {
		w.logger.Info("index outbox: upserted", "count", len(decisions))
	}
}

func (w *IndexWorker) processDeletes(ctx context.Context, entries []storage.IndexEntry) {
	ids := make([]uuid.UUID, len(entries))
	for i, e := range entries {
		ids[i] = e.DecisionID
	}

	if err := w.index.DeleteByIDs(ctx, ids); err != nil {
		w.logger.Error("index outbox: qdrant delete", "error", err, "count", len(ids))
		w.failEntries(ctx, entries, err.Error())
		return
	}

	done := make([]int64, len(entries))
	for i, e := range entries {
		done[i] = e.ID
	}
	if err := w.db.FinishIndexEntries(ctx, done); err != nil {
		w.logger.Error("index outbox: finish entries", "error", err)
	}
	w.logger.Info("index outbox: deleted", "count", len(ids))
}

func (w *IndexWorker) failEntries(ctx context.Context, entries []storage.IndexEntry, errMsg string) {
	ids := make([]int64, len(entries))
	for i, e := range entries {
		ids[i] = e.ID
	}
	if err := w.db.FailIndexEntries(ctx, ids, errMsg); err != nil {
		w.logger.Error("index outbox: update failed entries", "error", err)
	}
}

// registerMetrics registers an observable gauge for outbox depth.
func (w *IndexWorker) registerMetrics() {
	meter := telemetry.Meter("kioku/index_outbox")

	_, _ = meter.Int64ObservableGauge("kioku.index_outbox.depth",
		metric.WithDescription("Number of pending entries in the search index outbox"),
		metric.WithInt64Callback(func(ctx context.Context, o metric.Int64Observer) error {
			n, err := w.db.PendingIndexEntries(ctx)
			if err != nil {
				return nil // skip this observation
			}
			o.Observe(n)
			return nil
		}),
	)
}
