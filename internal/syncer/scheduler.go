package syncer

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
)

// Scheduler owns the sync triggers: a fixed-period timer, a startup sync, and
// on-demand kicks from callers (network recovery, manual trigger). All of
// them funnel into the engine's SyncNow, which guarantees passes never
// overlap.
type Scheduler struct {
	engine   *Engine
	interval time.Duration
	logger   *zap.Logger

	kick   chan struct{}
	cancel context.CancelFunc
	done   chan struct{}
}

// NewScheduler creates a Scheduler running a pass every interval.
func NewScheduler(engine *Engine, interval time.Duration, logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger, _ = zap.NewProduction()
	}
	return &Scheduler{
		engine:   engine,
		interval: interval,
		logger:   logger,
		kick:     make(chan struct{}, 1),
	}
}

// Start launches the background loop: one pass right away, then one per tick
// or trigger. Must be paired with Stop.
func (s *Scheduler) Start(parent context.Context) {
	ctx, cancel := context.WithCancel(parent)
	s.cancel = cancel
	s.done = make(chan struct{})
	go s.run(ctx)
	s.logger.Info("sync scheduler started", zap.Duration("interval", s.interval))
}

// Stop halts the background loop and waits for it to exit.
func (s *Scheduler) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	s.logger.Info("sync scheduler stopped")
}

// TriggerSync requests a pass as soon as possible. Fire-and-forget and safe
// to call arbitrarily often: requests arriving while a pass is pending or
// running collapse into one.
func (s *Scheduler) TriggerSync() {
	select {
	case s.kick <- struct{}{}:
	default:
	}
}

// NotifyOnline is the network-recovery trigger.
func (s *Scheduler) NotifyOnline() {
	s.logger.Info("network recovered, scheduling sync")
	s.TriggerSync()
}

func (s *Scheduler) run(ctx context.Context) {
	defer close(s.done)

	s.syncOnce(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-s.kick:
		}
		s.syncOnce(ctx)
	}
}

func (s *Scheduler) syncOnce(ctx context.Context) {
	if err := s.engine.SyncNow(ctx); err != nil && !errors.Is(err, context.Canceled) {
		s.logger.Error("sync pass failed", zap.Error(err))
	}
}
