package application

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/sokopay/facepay-core/internal/domain"
)

// reconcileBatchSize caps how many stuck intents one sweep pass touches.
const reconcileBatchSize = 100

// ReconcilePendingIntents polls the gateway for intents stuck in
// PENDING_CONFIRMATION past the confirmation timeout, covering lost
// callbacks. An intent expires only after the configured number of polls has
// produced no terminal answer; expiry abandons the session rather than
// releasing goods against money in an unknown state. Returns the number of
// intents examined.
func (s *Service) ReconcilePendingIntents(ctx context.Context) (int, error) {
	cutoff := s.nowFn().Add(-s.cfg.ConfirmationTimeout)
	stuck, err := s.intents.ListPendingConfirmationBefore(ctx, cutoff, reconcileBatchSize)
	if err != nil {
		return 0, fmt.Errorf("list pending intents: %w", err)
	}

	for _, intent := range stuck {
		if err := s.reconcileIntent(ctx, intent); err != nil {
			slog.Default().ErrorContext(ctx, "failed to reconcile intent",
				"service", serviceName,
				"module", "application",
				"layer", "application",
				"operation", "reconcile",
				"outcome", "failure",
				"intent_id", intent.IntentID,
				"error", err,
			)
		}
		if ctx.Err() != nil {
			return len(stuck), ctx.Err()
		}
	}
	return len(stuck), nil
}

func (s *Service) reconcileIntent(ctx context.Context, intent domain.TransactionIntent) error {
	if intent.CorrelationToken == nil {
		return s.expireIntent(ctx, intent, "MISSING_CORRELATION_TOKEN")
	}

	status, err := s.gateway.QueryStatus(ctx, *intent.CorrelationToken)
	if err != nil {
		return s.recordInconclusivePoll(ctx, intent, fmt.Sprintf("query failed: %v", err))
	}

	switch status.Outcome {
	case domain.GatewayOutcomeSucceeded:
		return s.applySuccess(ctx, intent, status.GatewayReference)
	case domain.GatewayOutcomeFailed:
		reason := status.FailureReason
		if reason == "" {
			reason = "GATEWAY_DECLINED"
		}
		_, err := s.finalizeFailed(ctx, intent, reason)
		return err
	default:
		return s.recordInconclusivePoll(ctx, intent, "gateway still pending")
	}
}

// recordInconclusivePoll counts a poll that produced no terminal answer and
// expires the intent once the poll budget is spent.
func (s *Service) recordInconclusivePoll(ctx context.Context, intent domain.TransactionIntent, detail string) error {
	if intent.ReconcileAttempts+1 >= s.cfg.ReconcileMaxAttempts {
		return s.expireIntent(ctx, intent, "RECONCILIATION_TIMEOUT")
	}
	if err := s.intents.IncrementReconcileAttempts(ctx, intent.IntentID, s.nowFn()); err != nil {
		return fmt.Errorf("increment reconcile attempts: %w", err)
	}
	slog.Default().InfoContext(ctx, "reconciliation poll inconclusive",
		"service", serviceName,
		"module", "application",
		"layer", "application",
		"operation", "reconcile",
		"outcome", "pending",
		"intent_id", intent.IntentID,
		"polls", intent.ReconcileAttempts+1,
		"detail", detail,
	)
	return nil
}

// expireIntent gives up on an intent whose true gateway outcome could not be
// learned. The session is abandoned, never settled: goods are not released
// while the money state is unknown.
func (s *Service) expireIntent(ctx context.Context, intent domain.TransactionIntent, reason string) error {
	now := s.nowFn()
	performed, err := s.intents.Finalize(ctx, intent.IntentID, domain.IntentExpired, "", reason, "", now)
	if err != nil {
		return fmt.Errorf("expire intent: %w", err)
	}
	if !performed {
		return nil
	}

	if _, err := s.sessions.Transition(ctx, intent.SessionID, domain.SessionAwaitingPayment, domain.SessionAbandoned, now); err != nil {
		return fmt.Errorf("abandon session: %w", err)
	}
	slog.Default().WarnContext(ctx, "intent expired after reconciliation budget",
		"service", serviceName,
		"module", "application",
		"layer", "application",
		"operation", "reconcile",
		"outcome", "expired",
		"intent_id", intent.IntentID,
		"session_id", intent.SessionID,
		"reason", reason,
	)
	s.enqueueEvent(ctx, eventTypeSettlementFailed, intent.SessionID.String(), map[string]any{
		"intent_id":        intent.IntentID,
		"session_id":       intent.SessionID,
		"identity_id":      intent.IdentityID,
		"amount":           intent.Amount,
		"currency":         intent.Currency,
		"transaction_code": intent.TransactionCode,
		"failure_reason":   reason,
		"failed_at":        now,
	})
	s.observeSettlement(intent, domain.IntentExpired, now)
	return nil
}
