package events

import (
	"context"
	"log/slog"
	"time"

	"github.com/sokopay/facepay-core/internal/application"
)

// SessionSweepWorker expires idle OPEN sessions on a timer.
type SessionSweepWorker struct {
	logger   *slog.Logger
	service  *application.Service
	interval time.Duration
}

func NewSessionSweepWorker(logger *slog.Logger, service *application.Service, interval time.Duration) *SessionSweepWorker {
	if interval <= 0 {
		interval = time.Minute
	}
	return &SessionSweepWorker{
		logger:   logger,
		service:  service,
		interval: interval,
	}
}

func (w *SessionSweepWorker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		if _, err := w.service.ExpireStaleSessions(ctx); err != nil {
			w.logger.ErrorContext(ctx, "session sweep iteration failed",
				"module", "events.session_sweep_worker",
				"layer", "adapter",
				"operation", "expire_stale_sessions",
				"outcome", "failure",
				"error", err,
			)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
