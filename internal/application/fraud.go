package application

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/sokopay/facepay-core/internal/domain"
	"github.com/sokopay/facepay-core/internal/ports"
)

// fraudQueueDepth bounds the observation buffer. Observe drops rather than
// blocks when the evaluator falls behind: alerting is observational and may
// never delay a verification or settlement.
const fraudQueueDepth = 1024

// FraudEvaluator consumes the security event stream and raises alerts for
// suspicious patterns. It only ever appends alerts and emits events; it
// never blocks, fails or reverses the operation it observes.
type FraudEvaluator struct {
	cfg      Config
	attempts ports.AttemptRepository
	alerts   ports.FraudAlertRepository
	outbox   ports.OutboxRepository
	events   chan ports.SecurityEvent
	nowFn    func() time.Time

	// Single-goroutine state, touched only from Run.
	lastAmbiguous  map[uuid.UUID]time.Time
	lastSweepAlert map[uuid.UUID]time.Time
}

func NewFraudEvaluator(cfg Config, attempts ports.AttemptRepository, alerts ports.FraudAlertRepository, outbox ports.OutboxRepository) *FraudEvaluator {
	return &FraudEvaluator{
		cfg:            cfg,
		attempts:       attempts,
		alerts:         alerts,
		outbox:         outbox,
		events:         make(chan ports.SecurityEvent, fraudQueueDepth),
		nowFn:          func() time.Time { return time.Now().UTC() },
		lastAmbiguous:  make(map[uuid.UUID]time.Time),
		lastSweepAlert: make(map[uuid.UUID]time.Time),
	}
}

// Observe enqueues an event and returns immediately. A full queue drops the
// event; the audit log still holds the underlying attempt.
func (e *FraudEvaluator) Observe(event ports.SecurityEvent) {
	select {
	case e.events <- event:
	default:
		slog.Default().Warn("fraud evaluator queue full, dropping event",
			"service", serviceName,
			"module", "fraud",
			"layer", "application",
			"operation", "observe",
			"outcome", "dropped",
			"kind", event.Kind,
		)
	}
}

// Run drains the event queue until ctx is cancelled.
func (e *FraudEvaluator) Run(ctx context.Context) error {
	slog.Default().InfoContext(ctx, "fraud evaluator started",
		"service", serviceName,
		"module", "fraud",
		"layer", "application",
		"operation", "run",
		"queue_depth", fraudQueueDepth,
	)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event := <-e.events:
			e.handle(ctx, event)
		}
	}
}

func (e *FraudEvaluator) handle(ctx context.Context, event ports.SecurityEvent) {
	switch event.Kind {
	case ports.SecurityEventMatchAttempt:
		e.handleMatchAttempt(ctx, event)
	case ports.SecurityEventSettlementTerminal:
		e.handleSettlementTerminal(ctx, event)
	}
}

func (e *FraudEvaluator) handleMatchAttempt(ctx context.Context, event ports.SecurityEvent) {
	if event.StoreID == nil {
		return
	}
	switch event.Result {
	case domain.AttemptNoMatch:
		e.checkRepeatedFailures(ctx, *event.StoreID, event.OccurredAt)
	case domain.AttemptAmbiguous:
		e.lastAmbiguous[*event.StoreID] = event.OccurredAt
	case domain.AttemptMatched:
		e.checkSuccessAfterAmbiguous(ctx, event)
	}
}

// checkRepeatedFailures fires when failed attempts at one store inside the
// sweep window cross the threshold, the signature of someone walking a store
// probing faces. At most one alert per store per window.
func (e *FraudEvaluator) checkRepeatedFailures(ctx context.Context, storeID uuid.UUID, at time.Time) {
	if last, ok := e.lastSweepAlert[storeID]; ok && at.Sub(last) < e.cfg.SweepWindow {
		return
	}
	count, err := e.attempts.CountFailuresByStoreSince(ctx, storeID, at.Add(-e.cfg.SweepWindow))
	if err != nil {
		slog.Default().WarnContext(ctx, "failed to count store failures",
			"service", serviceName,
			"module", "fraud",
			"layer", "application",
			"operation", "repeated_failure_sweep",
			"outcome", "failure",
			"store_id", storeID,
			"error", err,
		)
		return
	}
	if count < e.cfg.SweepFailureThreshold {
		return
	}

	e.lastSweepAlert[storeID] = at
	evidence, _ := json.Marshal(map[string]any{
		"failed_attempts": count,
		"window_seconds":  int(e.cfg.SweepWindow.Seconds()),
	})
	e.raise(ctx, domain.FraudAlert{
		AlertID:   uuid.New(),
		Rule:      domain.RuleRepeatedFailureSweep,
		Severity:  domain.SeverityHigh,
		StoreID:   &storeID,
		Evidence:  evidence,
		CreatedAt: at,
	})
}

// checkSuccessAfterAmbiguous fires when a match is accepted at a store
// shortly after an ambiguous rejection there: a plausible sign the ambiguity
// was real and the acceptance picked the wrong twin.
func (e *FraudEvaluator) checkSuccessAfterAmbiguous(ctx context.Context, event ports.SecurityEvent) {
	ambiguousAt, ok := e.lastAmbiguous[*event.StoreID]
	if !ok || event.OccurredAt.Sub(ambiguousAt) > e.cfg.SweepWindow {
		return
	}
	delete(e.lastAmbiguous, *event.StoreID)

	evidence, _ := json.Marshal(map[string]any{
		"ambiguous_at": ambiguousAt,
		"matched_at":   event.OccurredAt,
		"confidence":   event.Confidence,
	})
	e.raise(ctx, domain.FraudAlert{
		AlertID:    uuid.New(),
		Rule:       domain.RuleSuccessAfterAmbiguous,
		Severity:   domain.SeverityHigh,
		IdentityID: event.IdentityID,
		StoreID:    event.StoreID,
		Evidence:   evidence,
		CreatedAt:  event.OccurredAt,
	})
}

func (e *FraudEvaluator) handleSettlementTerminal(ctx context.Context, event ports.SecurityEvent) {
	if event.Result != domain.IntentSucceeded || event.Amount < e.cfg.HighValueThreshold {
		return
	}
	evidence, _ := json.Marshal(map[string]any{
		"amount":    event.Amount,
		"threshold": e.cfg.HighValueThreshold,
	})
	e.raise(ctx, domain.FraudAlert{
		AlertID:    uuid.New(),
		Rule:       domain.RuleHighValueSettlement,
		Severity:   domain.SeverityMedium,
		IdentityID: event.IdentityID,
		SessionID:  event.SessionID,
		Evidence:   evidence,
		CreatedAt:  event.OccurredAt,
	})
}

// raise stores the alert and mirrors it onto the event stream. Failures are
// logged and swallowed; a broken alert path must not surface anywhere.
func (e *FraudEvaluator) raise(ctx context.Context, alert domain.FraudAlert) {
	if err := e.alerts.Insert(ctx, alert); err != nil {
		slog.Default().ErrorContext(ctx, "failed to store fraud alert",
			"service", serviceName,
			"module", "fraud",
			"layer", "application",
			"operation", "raise_alert",
			"outcome", "failure",
			"rule", alert.Rule,
			"error", err,
		)
		return
	}
	slog.Default().WarnContext(ctx, "fraud alert raised",
		"service", serviceName,
		"module", "fraud",
		"layer", "application",
		"operation", "raise_alert",
		"outcome", "alert",
		"rule", alert.Rule,
		"severity", alert.Severity,
	)

	payload, _ := json.Marshal(map[string]any{
		"alert_id":    alert.AlertID,
		"rule":        alert.Rule,
		"severity":    alert.Severity,
		"identity_id": alert.IdentityID,
		"session_id":  alert.SessionID,
		"store_id":    alert.StoreID,
		"raised_at":   alert.CreatedAt,
	})
	if err := e.outbox.Enqueue(ctx, ports.OutboxEvent{
		EventID:      uuid.New(),
		EventType:    eventTypeFraudAlertRaised,
		PartitionKey: alert.AlertID.String(),
		Payload:      payload,
		OccurredAt:   alert.CreatedAt,
	}); err != nil {
		slog.Default().WarnContext(ctx, "failed to enqueue fraud alert event",
			"service", serviceName,
			"module", "fraud",
			"layer", "application",
			"operation", "raise_alert",
			"outcome", "warning",
			"error", err,
		)
	}
}
