package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/groupbuyhq/fulfillment-backend/pkg/logger"
	"github.com/groupbuyhq/fulfillment-backend/pkg/metrics"
	"github.com/groupbuyhq/fulfillment-backend/pkg/outbox"
)

const (
	defaultPollInterval = 15 * time.Second
	cleanupEvery        = time.Hour

	taskDispatch = "outbox_dispatch"
	taskDeliver  = "notification_delivery"
	taskCleanup  = "notification_cleanup"
)

// WorkerParams configure the notification worker loop.
type WorkerParams struct {
	Logger     *logger.Logger
	Service    *Service
	Dispatcher *outbox.Dispatcher
	Lock       Lock
	Metrics    *metrics.WorkerMetrics
	Interval   time.Duration
}

// Worker drains the outbox and the notification retry queue on a fixed
// cadence. One instance holds the lock per cycle; the others skip.
type Worker struct {
	logg       *logger.Logger
	service    *Service
	dispatcher *outbox.Dispatcher
	lock       Lock
	metrics    *metrics.WorkerMetrics
	interval   time.Duration

	lastCleanup time.Time
}

// NewWorker builds the worker loop.
func NewWorker(params WorkerParams) (*Worker, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Service == nil {
		return nil, fmt.Errorf("notification service required")
	}
	if params.Dispatcher == nil {
		return nil, fmt.Errorf("outbox dispatcher required")
	}
	if params.Lock == nil {
		return nil, fmt.Errorf("lock required")
	}
	interval := params.Interval
	if interval <= 0 {
		interval = defaultPollInterval
	}
	return &Worker{
		logg:       params.Logger,
		service:    params.Service,
		dispatcher: params.Dispatcher,
		lock:       params.Lock,
		metrics:    params.Metrics,
		interval:   interval,
	}, nil
}

// Run starts the loop until the context is canceled.
func (w *Worker) Run(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if err := w.runCycle(ctx); err != nil {
		w.logg.Error(ctx, "worker cycle failed", err)
	}
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.logg.Info(ctx, "notification worker context canceled")
			return ctx.Err()
		case <-ticker.C:
			if err := w.runCycle(ctx); err != nil {
				w.logg.Error(ctx, "worker cycle failed", err)
			}
		}
	}
}

func (w *Worker) runCycle(ctx context.Context) error {
	locked, err := w.lock.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("lock acquire: %w", err)
	}
	if !locked {
		w.logg.Debug(ctx, "another worker holds the lock; skipping cycle")
		return nil
	}
	defer func() {
		if relErr := w.lock.Release(ctx); relErr != nil {
			w.logg.Error(ctx, "failed to release worker lock", relErr)
		}
	}()

	w.runTask(ctx, taskDispatch, func(taskCtx context.Context) (int, error) {
		return w.dispatcher.DispatchPending(taskCtx)
	})
	w.runTask(ctx, taskDeliver, func(taskCtx context.Context) (int, error) {
		return w.service.RunDue(taskCtx)
	})
	if time.Since(w.lastCleanup) >= cleanupEvery {
		w.runTask(ctx, taskCleanup, func(taskCtx context.Context) (int, error) {
			removed, cleanErr := w.service.Cleanup(taskCtx)
			return int(removed), cleanErr
		})
		w.lastCleanup = time.Now()
	}
	return nil
}

func (w *Worker) runTask(ctx context.Context, name string, fn func(context.Context) (int, error)) {
	taskCtx := w.logg.WithField(ctx, "task", name)
	start := time.Now()
	processed, err := fn(taskCtx)
	duration := time.Since(start)
	w.metrics.ObserveDuration(name, duration)
	taskCtx = w.logg.WithFields(taskCtx, map[string]any{
		"processed":   processed,
		"duration_ms": duration.Milliseconds(),
	})
	if err != nil {
		w.logg.Error(taskCtx, "worker task failed", err)
		w.metrics.IncFailure(name)
		return
	}
	if processed > 0 {
		w.logg.Info(taskCtx, "worker task completed")
	}
	w.metrics.IncSuccess(name)
}
