package memory

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/metric"

	"github.com/kioku-ai/kioku/internal/service/embedding"
	"github.com/kioku-ai/kioku/internal/storage"
	"github.com/kioku-ai/kioku/internal/telemetry"
)

// EmbedWorker drains the embed outbox: it claims pending jobs, computes
// vectors, and writes them back. Vectors only land on rows whose
// embedding column is still empty, so a job processed late against
// replaced content is dropped rather than applied.
type EmbedWorker struct {
	db           *storage.DB
	provider     embedding.Provider
	logger       *slog.Logger
	pollInterval time.Duration
	batchSize    int

	started    atomic.Bool
	cancelLoop context.CancelFunc
	done       chan struct{}
	once       sync.Once
	drainCh    chan context.Context // carries the drain context to pollLoop for the final poll
}

// NewEmbedWorker creates an embed outbox worker.
func NewEmbedWorker(db *storage.DB, provider embedding.Provider, logger *slog.Logger, pollInterval time.Duration, batchSize int) *EmbedWorker {
	if pollInterval <= 0 {
		pollInterval = 2 * time.Second
	}
	if batchSize <= 0 {
		batchSize = 32
	}
	return &EmbedWorker{
		db:           db,
		provider:     provider,
		logger:       logger,
		pollInterval: pollInterval,
		batchSize:    batchSize,
		done:         make(chan struct{}),
		drainCh:      make(chan context.Context, 1),
	}
}

// Start begins the background poll loop. Safe to call only once;
// subsequent calls are no-ops and log a warning.
func (w *EmbedWorker) Start(ctx context.Context) {
	if !w.started.CompareAndSwap(false, true) {
		w.logger.Warn("embed outbox: Start called more than once, ignoring")
		return
	}
	w.registerMetrics()
	loopCtx, cancel := context.WithCancel(ctx)
	w.cancelLoop = cancel
	go w.pollLoop(loopCtx)
}

// Drain signals the poll loop to stop, processes remaining jobs, and
// blocks until done or the context expires.
func (w *EmbedWorker) Drain(ctx context.Context) {
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
		w.logger.Warn("embed outbox: drain timed out")
	}
}

func (w *EmbedWorker) pollLoop(ctx context.Context) {
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

func (w *EmbedWorker) processBatch(ctx context.Context) {
	err := w.db.ClaimEmbedJobs(ctx, w.batchSize, func(ctx context.Context, jobs []storage.EmbedJob) error {
		texts := make([]string, len(jobs))
		for i, j := range jobs {
			texts[i] = j.Content
		}
		vecs, err := w.provider.EmbedBatch(ctx, texts)
		if err != nil {
			return err
		}
		for i, j := range jobs {
			if err := w.db.SetEmbedding(ctx, j.Kind, j.TargetID, vecs[i]); err != nil {
				return err
			}
			// Freshly embedded decisions become visible to the
			// external search index via its own outbox.
			if j.Kind == storage.EmbedDecision {
				if err := w.db.EnqueueIndex(ctx, j.TargetID, j.SessionID, storage.IndexOpUpsert); err != nil {
					w.logger.Warn("embed outbox: enqueue index", "error", err, "decision_id", j.TargetID)
				}
			}
		}
		w.logger.Debug("embed outbox: embedded", "count", len(jobs))
		return nil
	})
	if err != nil {
		w.logger.Error("embed outbox: batch failed", "error", err)
	}
}

// registerMetrics registers an observable gauge for outbox depth.
func (w *EmbedWorker) registerMetrics() {
	meter := telemetry.Meter("kioku/embed_outbox")

	_, _ = meter.Int64ObservableGauge("kioku.embed_outbox.depth",
		metric.WithDescription("Number of pending entries in the embed outbox"),
		metric.WithInt64Callback(func(ctx context.Context, o metric.Int64Observer) error {
			n, err := w.db.PendingEmbeds(ctx)
			if err != nil {
				return nil // skip this observation
			}
			o.Observe(int64(n))
			return nil
		}),
	)
}
