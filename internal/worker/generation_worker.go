package worker

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/tutorlane/payroll-engine/internal/domain"
	"github.com/tutorlane/payroll-engine/internal/observability"
	"github.com/tutorlane/payroll-engine/internal/service"
)

// GenerationWorker triggers the monthly invoice generation for the
// previous calendar month once per schedule window (a configured day and
// hour). It polls on a coarse ticker and marks a period done only after a
// successful run (or one that lost the distributed lock to another
// process), so a transient failure inside the window is retried on the
// next tick. The lock and per-teacher idempotency inside the service keep
// retries and restarts from running the job twice.
type GenerationWorker struct {
	svc      *service.GenerationService
	clock    domain.Clock
	day      int
	hour     int
	interval time.Duration
	stopCh   chan struct{}
	stopOnce sync.Once

	mu      sync.Mutex
	lastRun string
}

func NewGenerationWorker(svc *service.GenerationService, clock domain.Clock, day, hour int) *GenerationWorker {
	if day < 1 || day > 28 {
		day = 1
	}
	if hour < 0 || hour > 23 {
		hour = 2
	}
	return &GenerationWorker{
		svc:      svc,
		clock:    clock,
		day:      day,
		hour:     hour,
		interval: time.Minute,
		stopCh:   make(chan struct{}),
	}
}

// WithInterval updates the poll interval.
func (w *GenerationWorker) WithInterval(interval time.Duration) *GenerationWorker {
	if interval > 0 {
		w.interval = interval
	}
	return w
}

// Start blocks and polls for the schedule window.
func (w *GenerationWorker) Start(ctx context.Context) {
	zap.L().Info("generation worker starting",
		zap.Int("day", w.day), zap.Int("hour", w.hour))
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			zap.L().Info("generation worker context canceled")
			return
		case <-w.stopCh:
			zap.L().Info("generation worker stop signal received")
			return
		case <-ticker.C:
			w.maybeRun(ctx)
		}
	}
}

// Stop stops the running worker loop.
func (w *GenerationWorker) Stop() {
	w.stopOnce.Do(func() {
		close(w.stopCh)
	})
}

// Run starts the worker in a goroutine and returns a stop function.
func (w *GenerationWorker) Run(ctx context.Context) func() {
	go w.Start(ctx)
	return w.Stop
}

func (w *GenerationWorker) maybeRun(ctx context.Context) {
	now := w.clock.Now()
	if now.Day() != w.day || now.Hour() != w.hour {
		return
	}

	month, year := domain.PreviousPeriod(now)
	period := periodKey(year, month)

	w.mu.Lock()
	done := w.lastRun == period
	w.mu.Unlock()
	if done {
		return
	}

	result, err := w.svc.Generate(ctx, month, year, service.GenerationOptions{Actor: service.SystemActor})
	if err != nil {
		if errors.Is(err, domain.ErrConcurrencyConflict) {
			// Another process holds the period lock; its run counts as ours.
			w.markDone(period)
			zap.L().Info("scheduled generation skipped, another run holds the lock",
				zap.String("period", period))
			return
		}
		// Left unmarked so the next tick inside the window retries.
		observability.IncrementWorkerRun("generation", "failed")
		zap.L().Error("scheduled generation failed", zap.String("period", period), zap.Error(err))
		return
	}
	w.markDone(period)
	observability.IncrementWorkerRun("generation", "success")
	zap.L().Info("scheduled generation finished",
		zap.String("period", period), zap.String("summary", result.Summary))
}

func (w *GenerationWorker) markDone(period string) {
	w.mu.Lock()
	w.lastRun = period
	w.mu.Unlock()
}

func periodKey(year, month int) string {
	return time.Date(year, time.Month(month), 1, 0, 0, 0, 0, time.UTC).Format("2006-01")
}
