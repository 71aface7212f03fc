package events

import (
	"context"
	"log/slog"
	"time"

	"github.com/sokopay/facepay-core/internal/application"
)

// ReconcileWorker periodically resolves intents stuck waiting for a gateway
// confirmation that never arrived.
type ReconcileWorker struct {
	logger   *slog.Logger
	service  *application.Service
	interval time.Duration
}

func NewReconcileWorker(logger *slog.Logger, service *application.Service, interval time.Duration) *ReconcileWorker {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &ReconcileWorker{
		logger:   logger,
		service:  service,
		interval: interval,
	}
}

func (w *ReconcileWorker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		if examined, err := w.service.ReconcilePendingIntents(ctx); err != nil {
			w.logger.ErrorContext(ctx, "reconciliation iteration failed",
				"module", "events.reconcile_worker",
				"layer", "adapter",
				"operation", "reconcile_pending_intents",
				"outcome", "failure",
				"error", err,
			)
		} else if examined > 0 {
			w.logger.InfoContext(ctx, "reconciliation iteration completed",
				"module", "events.reconcile_worker",
				"layer", "adapter",
				"operation", "reconcile_pending_intents",
				"outcome", "success",
				"examined_count", examined,
			)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
