package worker

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/tutorlane/payroll-engine/internal/domain"
	"github.com/tutorlane/payroll-engine/internal/observability"
	"github.com/tutorlane/payroll-engine/internal/service"
)

// RatesWorker periodically refreshes exchange-rate quotes for the current
// period from every configured source.
type RatesWorker struct {
	svc      *service.CurrencyService
	clock    domain.Clock
	interval time.Duration
	stopCh   chan struct{}
	stopOnce sync.Once
}

func NewRatesWorker(svc *service.CurrencyService, clock domain.Clock) *RatesWorker {
	return &RatesWorker{
		svc:      svc,
		clock:    clock,
		interval: 6 * time.Hour,
		stopCh:   make(chan struct{}),
	}
}

// WithInterval updates the refresh interval.
func (w *RatesWorker) WithInterval(interval time.Duration) *RatesWorker {
	if interval > 0 {
		w.interval = interval
	}
	return w
}

// Start blocks and refreshes quotes at the configured interval.
func (w *RatesWorker) Start(ctx context.Context) {
	zap.L().Info("rates worker starting", zap.Duration("interval", w.interval))
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	// Run once immediately at startup.
	w.runOnce(ctx)

	for {
		select {
		case <-ctx.Done():
			zap.L().Info("rates worker context canceled")
			return
		case <-w.stopCh:
			zap.L().Info("rates worker stop signal received")
			return
		case <-ticker.C:
			w.runOnce(ctx)
		}
	}
}

// Stop stops the running worker loop.
func (w *RatesWorker) Stop() {
	w.stopOnce.Do(func() {
		close(w.stopCh)
	})
}

// Run starts the worker in a goroutine and returns a stop function.
func (w *RatesWorker) Run(ctx context.Context) func() {
	go w.Start(ctx)
	return w.Stop
}

func (w *RatesWorker) runOnce(ctx context.Context) {
	now := w.clock.Now()
	report, err := w.svc.BulkRefresh(ctx, int(now.Month()), now.Year(), service.SystemActor)
	if err != nil {
		observability.IncrementWorkerRun("rates", "failed")
		zap.L().Error("rate refresh failed", zap.Error(err))
		return
	}
	if len(report.Failed) > 0 {
		observability.IncrementWorkerRun("rates", "partial")
	} else {
		observability.IncrementWorkerRun("rates", "success")
	}
	zap.L().Info("rate refresh finished",
		zap.Int("success", len(report.Success)),
		zap.Int("failed", len(report.Failed)))
}
