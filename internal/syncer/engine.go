// Package syncer reconciles the local pending-sale queue with the remote
// ledger: an immediate attempt right after capture, and a background pass
// that re-attempts everything still unsynced.
package syncer

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"stocksight/internal/ledger"
	"stocksight/internal/queue"
)

// Options tunes per-record retry backoff. A zero BackoffBase disables backoff
// and every unsynced record is attempted on every pass.
type Options struct {
	BackoffBase time.Duration
	BackoffCap  time.Duration
}

// Engine owns the reconciliation of queued sales against the remote ledger.
// Records are borrowed from the queue for the duration of one pass and only
// ever mutated through the queue's own operations.
type Engine struct {
	queue  *queue.Store
	ledger ledger.Client
	logger *zap.Logger
	opts   Options

	// syncing guards against overlapping passes; rerun coalesces triggers
	// that arrive while a pass is in flight into one follow-up pass.
	mu      sync.Mutex
	syncing bool
	rerun   bool
}

// NewEngine creates an Engine over the given queue and ledger client.
func NewEngine(q *queue.Store, client ledger.Client, logger *zap.Logger, opts Options) *Engine {
	if logger == nil {
		logger, _ = zap.NewProduction()
	}
	return &Engine{
		queue:  q,
		ledger: client,
		logger: logger,
		opts:   opts,
	}
}

// CaptureRequest carries one sale as entered at the point of capture.
type CaptureRequest struct {
	ProductID   string
	ProductName string
	UserID      string
	Quantity    int
	UnitPrice   decimal.Decimal
}

// CaptureResult reports what happened to a capture. SavedLocally is true as
// soon as the record is durably queued; SyncedImmediately is true only when
// the one-shot remote attempt succeeded as well.
type CaptureResult struct {
	ID                int64           `json:"id"`
	ClientRef         string          `json:"client_ref"`
	TotalPrice        decimal.Decimal `json:"total_price"`
	SavedLocally      bool            `json:"saved_locally"`
	SyncedImmediately bool            `json:"synced_immediately"`
}

// RecordSale durably enqueues the sale, then tries the three-step remote
// write once for this record only. A remote failure is not an error: the
// record stays queued for the next background pass. An error is returned only
// when the local queue itself cannot store the sale.
func (e *Engine) RecordSale(ctx context.Context, req CaptureRequest) (CaptureResult, error) {
	id, err := e.queue.Enqueue(ctx, queue.NewPendingSale{
		ProductID:   req.ProductID,
		ProductName: req.ProductName,
		UserID:      req.UserID,
		Quantity:    req.Quantity,
		UnitPrice:   req.UnitPrice,
	})
	if err != nil {
		return CaptureResult{}, err
	}

	rec, err := e.queue.Get(ctx, id)
	if err != nil {
		return CaptureResult{}, fmt.Errorf("failed to read back enqueued sale: %w", err)
	}

	result := CaptureResult{
		ID:           rec.ID,
		ClientRef:    rec.ClientRef,
		TotalPrice:   rec.TotalPrice,
		SavedLocally: true,
	}

	e.logger.Info("sale captured",
		zap.Int64("sale_id", rec.ID),
		zap.String("product_id", rec.ProductID),
		zap.Int("quantity", rec.Quantity),
		zap.String("total_price", rec.TotalPrice.String()),
	)

	// The one-shot attempt shares the in-flight slot with background passes
	// so the fresh record can never be pushed by both at once. If a pass is
	// already running, it has been asked to run again and will pick the
	// record up; racing it with a second write sequence would decrement the
	// product's stock twice.
	if !e.acquire() {
		e.logger.Info("sync pass in flight, sale left for it to push", zap.Int64("sale_id", rec.ID))
		return result, nil
	}

	if err := e.push(ctx, rec); err != nil {
		if attemptErr := e.queue.RecordAttempt(ctx, rec.ID); attemptErr != nil {
			e.logger.Error("failed to record sync attempt", zap.Int64("sale_id", rec.ID), zap.Error(attemptErr))
		}
		e.logger.Warn("sale saved offline, will sync on a later pass",
			zap.Int64("sale_id", rec.ID),
			zap.Error(err),
		)
	} else if err := e.queue.MarkSynced(ctx, rec.ID); err != nil {
		e.logger.Error("failed to mark sale synced", zap.Int64("sale_id", rec.ID), zap.Error(err))
	} else {
		result.SyncedImmediately = true
		e.logger.Info("sale synced immediately", zap.Int64("sale_id", rec.ID))
	}

	// Triggers that arrived during the attempt coalesced into a follow-up
	// pass; run it before giving up the slot.
	for more := e.release(ctx.Err() == nil); more; {
		err := e.pass(ctx)
		if err != nil {
			e.logger.Error("sync pass failed", zap.Error(err))
		}
		more = e.release(err == nil && ctx.Err() == nil)
	}

	return result, nil
}

// PendingCount reports how many sales are still waiting to sync.
func (e *Engine) PendingCount(ctx context.Context) (int, error) {
	return e.queue.CountUnsynced(ctx)
}

// SyncNow runs one reconciliation pass over all unsynced records. At most one
// pass is in flight at a time: a call arriving mid-pass returns immediately
// after requesting one follow-up pass, which the in-flight call runs as soon
// as its current pass finishes. Triggers are therefore coalesced, never
// overlapped.
func (e *Engine) SyncNow(ctx context.Context) error {
	if !e.acquire() {
		return nil
	}

	for {
		err := e.pass(ctx)
		if !e.release(err == nil && ctx.Err() == nil) {
			return err
		}
	}
}

// acquire takes the single in-flight slot shared by passes and immediate
// attempts. When the slot is already held, acquire requests a follow-up pass
// from the holder instead and reports false.
func (e *Engine) acquire() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.syncing {
		e.rerun = true
		return false
	}
	e.syncing = true
	return true
}

// release gives the slot back. When a follow-up pass was requested while the
// slot was held and more is true, the slot stays held and release reports
// true: the caller runs the follow-up pass itself.
func (e *Engine) release(more bool) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.rerun && more {
		e.rerun = false
		return true
	}
	e.rerun = false
	e.syncing = false
	return false
}

// pass pushes every eligible unsynced record, oldest first, sequentially. A
// record's failure is logged and skipped, never aborts the batch. Synced
// records are pruned once at the end.
func (e *Engine) pass(ctx context.Context) error {
	unsynced, err := e.queue.ListUnsynced(ctx)
	if err != nil {
		return fmt.Errorf("failed to list unsynced sales: %w", err)
	}
	if len(unsynced) == 0 {
		return nil
	}

	e.logger.Info("sync pass started", zap.Int("unsynced", len(unsynced)))

	now := time.Now().UTC()
	var synced, failed, skipped int

	for _, rec := range unsynced {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if !e.eligible(rec, now) {
			skipped++
			continue
		}

		if err := e.push(ctx, rec); err != nil {
			failed++
			if attemptErr := e.queue.RecordAttempt(ctx, rec.ID); attemptErr != nil {
				e.logger.Error("failed to record sync attempt", zap.Int64("sale_id", rec.ID), zap.Error(attemptErr))
			}
			e.logger.Warn("failed to sync sale",
				zap.Int64("sale_id", rec.ID),
				zap.Int("attempts", rec.Attempts+1),
				zap.Error(err),
			)
			continue
		}

		if err := e.queue.MarkSynced(ctx, rec.ID); err != nil {
			e.logger.Error("failed to mark sale synced", zap.Int64("sale_id", rec.ID), zap.Error(err))
			continue
		}
		synced++
	}

	pruned, err := e.queue.PruneSynced(ctx)
	if err != nil {
		e.logger.Error("failed to prune synced sales", zap.Error(err))
	}

	e.logger.Info("sync pass finished",
		zap.Int("synced", synced),
		zap.Int("failed", failed),
		zap.Int("skipped", skipped),
		zap.Int64("pruned", pruned),
	)
	return nil
}

// maxBackoffDelay bounds the retry delay when no cap is configured, and also
// keeps the doubling below any risk of overflowing time.Duration at high
// attempt counts.
const maxBackoffDelay = 24 * time.Hour

// eligible reports whether a record is outside its backoff window. The delay
// doubles per failed attempt, starting at BackoffBase and capped at
// BackoffCap (or maxBackoffDelay when no cap is set).
func (e *Engine) eligible(rec queue.PendingSale, now time.Time) bool {
	if e.opts.BackoffBase <= 0 || rec.Attempts == 0 || rec.LastAttemptAt.IsZero() {
		return true
	}

	limit := e.opts.BackoffCap
	if limit <= 0 || limit > maxBackoffDelay {
		limit = maxBackoffDelay
	}

	delay := e.opts.BackoffBase
	for i := 1; i < rec.Attempts && delay < limit; i++ {
		delay *= 2
	}
	if delay > limit {
		delay = limit
	}

	return now.Sub(rec.LastAttemptAt) >= delay
}

// push issues the three remote writes for one record, strictly in order:
// sale row, stock decrement, inventory-log row. The stock decrement depends
// on record order, so records are never pushed in parallel.
func (e *Engine) push(ctx context.Context, rec queue.PendingSale) error {
	err := e.ledger.InsertSale(ctx, ledger.SaleRow{
		ClientRef:  rec.ClientRef,
		ProductID:  rec.ProductID,
		UserID:     rec.UserID,
		Quantity:   rec.Quantity,
		UnitPrice:  rec.UnitPrice,
		TotalPrice: rec.TotalPrice,
		CreatedAt:  rec.CreatedAt,
	})
	if err != nil {
		return err
	}

	change, err := e.ledger.DecrementStock(ctx, rec.ProductID, rec.Quantity)
	if err != nil {
		return err
	}

	return e.ledger.InsertInventoryLog(ctx, ledger.LogRow{
		ProductID:      rec.ProductID,
		UserID:         rec.UserID,
		ActionType:     ledger.ActionSale,
		ChangeQuantity: -rec.Quantity,
		PreviousStock:  change.Previous,
		NewStock:       change.New,
	})
}
