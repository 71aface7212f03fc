package application

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/sokopay/facepay-core/internal/domain"
	"github.com/sokopay/facepay-core/internal/ports"
)

// BeginSettlement creates a transaction intent for a session awaiting
// payment and submits it to the gateway. clientKey is the caller-supplied
// Idempotency-Key header; a replay with the same key and payload returns the
// original intent instead of charging twice. Independently of the header the
// gateway-side idempotency key is derived from the session id and attempt
// counter, so even a replay that slips past the header cannot double-charge.
//
// No repository row locks are held across the gateway call: the intent is
// committed first, the submission runs, and the outcome is applied as a
// guarded update.
func (s *Service) BeginSettlement(ctx context.Context, clientKey string, req BeginSettlementRequest) (IntentView, error) {
	if req.SessionID == uuid.Nil {
		return IntentView{}, fmt.Errorf("%w: session_id is required", domain.ErrInvalidInput)
	}

	if clientKey != "" {
		if view, done, err := s.replaySettlement(ctx, clientKey, req); done {
			return view, err
		}
	}

	session, err := s.sessions.GetByID(ctx, req.SessionID)
	if err != nil {
		return IntentView{}, err
	}
	if session.Status != domain.SessionAwaitingPayment {
		return IntentView{}, fmt.Errorf("%w: session is %s, not %s", domain.ErrInvalidState, session.Status, domain.SessionAwaitingPayment)
	}
	if session.IdentityID == nil {
		return IntentView{}, fmt.Errorf("%w: session has no bound identity", domain.ErrInvalidState)
	}

	method, err := s.resolvePaymentMethod(ctx, *session.IdentityID, req.PaymentMethodID)
	if err != nil {
		return IntentView{}, err
	}

	lines, err := s.sessions.ListLines(ctx, req.SessionID)
	if err != nil {
		return IntentView{}, fmt.Errorf("list cart lines: %w", err)
	}
	amount := domain.CartTotal(lines)
	if amount <= 0 {
		return IntentView{}, fmt.Errorf("%w: cart total must be positive", domain.ErrInvalidAmount)
	}

	now := s.nowFn()
	attempt, err := s.intents.CountBySession(ctx, req.SessionID)
	if err != nil {
		return IntentView{}, fmt.Errorf("count attempts: %w", err)
	}
	attempt++

	intent, err := s.intents.Create(ctx, ports.CreateIntentParams{
		IntentID:        uuid.New(),
		SessionID:       req.SessionID,
		IdentityID:      *session.IdentityID,
		MethodID:        method.MethodID,
		Amount:          amount,
		Currency:        s.cfg.Currency,
		IdempotencyKey:  settlementIdempotencyKey(req.SessionID, attempt),
		TransactionCode: transactionCode(now),
		Attempt:         attempt,
		CreatedAtUTC:    now,
	})
	if errors.Is(err, domain.ErrIdempotencyConflict) {
		// A racing call already created this attempt; hand back its intent.
		existing, getErr := s.intents.GetByIdempotencyKey(ctx, settlementIdempotencyKey(req.SessionID, attempt))
		if getErr != nil {
			return IntentView{}, getErr
		}
		return toIntentView(existing), nil
	}
	if err != nil {
		return IntentView{}, err
	}

	view, err := s.submitIntent(ctx, intent, method)
	if err != nil {
		return view, err
	}
	if clientKey != "" {
		s.completeIdempotency(ctx, clientKey, view)
	}
	return view, nil
}

// resolvePaymentMethod returns the named method after checking ownership, or
// the identity's highest-priority active method when the request names none.
func (s *Service) resolvePaymentMethod(ctx context.Context, identityID, methodID uuid.UUID) (domain.PaymentMethod, error) {
	if methodID != uuid.Nil {
		method, err := s.identities.GetPaymentMethod(ctx, methodID)
		if err != nil {
			return domain.PaymentMethod{}, err
		}
		if method.IdentityID != identityID || !method.IsActive {
			return domain.PaymentMethod{}, fmt.Errorf("%w: payment method does not belong to the session identity", domain.ErrInvalidInput)
		}
		return method, nil
	}

	methods, err := s.identities.ListPaymentMethods(ctx, identityID)
	if err != nil {
		return domain.PaymentMethod{}, fmt.Errorf("list payment methods: %w", err)
	}
	var best *domain.PaymentMethod
	for i := range methods {
		if !methods[i].IsActive {
			continue
		}
		if best == nil || methods[i].Priority < best.Priority {
			best = &methods[i]
		}
	}
	if best == nil {
		return domain.PaymentMethod{}, fmt.Errorf("%w: identity has no active payment method", domain.ErrInvalidInput)
	}
	return *best, nil
}

// replaySettlement resolves the client idempotency key. done=true means the
// caller gets the returned view/err and skips normal processing.
func (s *Service) replaySettlement(ctx context.Context, clientKey string, req BeginSettlementRequest) (IntentView, bool, error) {
	record, err := s.idempotency.Get(ctx, clientKey)
	if err != nil {
		return IntentView{}, true, fmt.Errorf("idempotency lookup: %w", err)
	}
	if record != nil {
		if record.RequestHash != hashRequest(req) {
			return IntentView{}, true, fmt.Errorf("%w: idempotency key reused with a different payload", domain.ErrIdempotencyConflict)
		}
		if record.ResponseCode == 0 {
			return IntentView{}, true, fmt.Errorf("%w: original request still in flight", domain.ErrConflict)
		}
		var view IntentView
		if err := json.Unmarshal(record.ResponseBody, &view); err != nil {
			return IntentView{}, true, fmt.Errorf("decode stored response: %w", err)
		}
		return view, true, nil
	}
	if err := s.idempotency.Reserve(ctx, clientKey, hashRequest(req), s.nowFn().Add(24*time.Hour)); err != nil {
		if errors.Is(err, domain.ErrConflict) {
			return IntentView{}, true, fmt.Errorf("%w: original request still in flight", domain.ErrConflict)
		}
		return IntentView{}, true, fmt.Errorf("idempotency reserve: %w", err)
	}
	return IntentView{}, false, nil
}

func (s *Service) completeIdempotency(ctx context.Context, clientKey string, view IntentView) {
	body, _ := json.Marshal(view)
	if err := s.idempotency.Complete(ctx, clientKey, http.StatusCreated, body, s.nowFn()); err != nil {
		slog.Default().WarnContext(ctx, "failed to complete idempotency record",
			"service", serviceName,
			"module", "application",
			"layer", "application",
			"operation", "begin_settlement",
			"outcome", "warning",
			"error", err,
		)
	}
}

// submitIntent pushes the committed intent to the gateway with bounded
// exponential backoff on transient failures. An explicit rejection or
// exhausted retries finalize the intent FAILED; acceptance parks it in
// PENDING_CONFIRMATION until the callback or reconciliation resolves it.
func (s *Service) submitIntent(ctx context.Context, intent domain.TransactionIntent, method domain.PaymentMethod) (IntentView, error) {
	submitReq := ports.GatewaySubmitRequest{
		IdempotencyKey: intent.IdempotencyKey,
		Amount:         intent.Amount,
		Currency:       intent.Currency,
		Provider:       method.Provider,
		AccountRef:     method.AccountRef,
		TransactionRef: intent.TransactionCode,
		CallbackURL:    s.cfg.GatewayCallbackURL,
	}

	var result ports.GatewaySubmitResult
	var err error
	for try := 0; try < s.cfg.SubmitMaxAttempts; try++ {
		if try > 0 {
			if waitErr := sleepWithContext(ctx, s.cfg.SubmitBackoffBase<<(try-1)); waitErr != nil {
				err = waitErr
				break
			}
		}
		result, err = s.gateway.Submit(ctx, submitReq)
		if err == nil || !errors.Is(err, domain.ErrGatewayTransient) {
			break
		}
		slog.Default().WarnContext(ctx, "gateway submission failed, will retry",
			"service", serviceName,
			"module", "application",
			"layer", "application",
			"operation", "begin_settlement",
			"outcome", "retry",
			"intent_id", intent.IntentID,
			"try", try+1,
			"error", err,
		)
	}
	if err != nil {
		reason := "GATEWAY_UNAVAILABLE"
		if errors.Is(err, domain.ErrGatewayRejected) {
			reason = "GATEWAY_REJECTED"
		}
		if finalized, finErr := s.finalizeFailed(ctx, intent, reason); finErr != nil {
			return IntentView{}, finErr
		} else if finalized {
			intent.Status = domain.IntentFailed
			intent.FailureReason = reason
		}
		return toIntentView(intent), err
	}

	now := s.nowFn()
	if err := s.intents.MarkSubmitted(ctx, intent.IntentID, result.CorrelationToken, now); err != nil {
		return IntentView{}, fmt.Errorf("mark submitted: %w", err)
	}
	intent.Status = domain.IntentPendingConfirmation
	intent.CorrelationToken = &result.CorrelationToken
	intent.SubmittedAt = &now
	return toIntentView(intent), nil
}

// HandleGatewayCallback applies an asynchronous gateway confirmation.
// Callbacks may arrive duplicated, late or out of order: the terminal
// transition is a guarded update and side effects fire only on the call that
// performed it, so replays are no-ops.
func (s *Service) HandleGatewayCallback(ctx context.Context, cb GatewayCallback) error {
	if cb.CorrelationToken == "" {
		return fmt.Errorf("%w: correlation_token is required", domain.ErrInvalidInput)
	}
	intent, err := s.intents.GetByCorrelationToken(ctx, cb.CorrelationToken)
	if err != nil {
		return err
	}

	switch cb.Outcome {
	case domain.GatewayOutcomeSucceeded:
		return s.applySuccess(ctx, intent, cb.GatewayReference)
	case domain.GatewayOutcomeFailed:
		reason := cb.FailureReason
		if reason == "" {
			reason = "GATEWAY_DECLINED"
		}
		_, err := s.finalizeFailed(ctx, intent, reason)
		return err
	default:
		slog.Default().InfoContext(ctx, "ignoring non-terminal gateway callback",
			"service", serviceName,
			"module", "application",
			"layer", "application",
			"operation", "gateway_callback",
			"outcome", "ignored",
			"intent_id", intent.IntentID,
			"callback_outcome", cb.Outcome,
		)
		return nil
	}
}

// GetIntent returns the current view of a transaction intent.
func (s *Service) GetIntent(ctx context.Context, intentID uuid.UUID) (IntentView, error) {
	intent, err := s.intents.GetByID(ctx, intentID)
	if err != nil {
		return IntentView{}, err
	}
	return toIntentView(intent), nil
}

// applySuccess finalizes an intent SUCCEEDED, settles the session and emits
// the settlement, loyalty and receipt events. A success landing on an
// already-abandoned session is money held without goods released: it is
// logged and raised as a critical fraud alert for manual refund, never
// silently dropped.
func (s *Service) applySuccess(ctx context.Context, intent domain.TransactionIntent, gatewayReference string) error {
	now := s.nowFn()
	receipt := receiptNumber(now)
	performed, err := s.intents.Finalize(ctx, intent.IntentID, domain.IntentSucceeded, gatewayReference, "", receipt, now)
	if err != nil {
		return fmt.Errorf("finalize intent: %w", err)
	}
	if !performed {
		return nil
	}

	settled, err := s.sessions.Transition(ctx, intent.SessionID, domain.SessionAwaitingPayment, domain.SessionSettled, now)
	if err != nil {
		return fmt.Errorf("settle session: %w", err)
	}
	if !settled {
		s.handleLateSuccess(ctx, intent, gatewayReference, now)
	}

	s.enqueueEvent(ctx, eventTypeSettlementSucceeded, intent.SessionID.String(), map[string]any{
		"intent_id":         intent.IntentID,
		"session_id":        intent.SessionID,
		"identity_id":       intent.IdentityID,
		"amount":            intent.Amount,
		"currency":          intent.Currency,
		"transaction_code":  intent.TransactionCode,
		"receipt_number":    receipt,
		"gateway_reference": gatewayReference,
		"settled_at":        now,
	})
	s.enqueueEvent(ctx, eventTypeLoyaltyAccrue, intent.IdentityID.String(), map[string]any{
		"identity_id": intent.IdentityID,
		"amount":      intent.Amount,
		"currency":    intent.Currency,
		"settled_at":  now,
	})
	s.enqueueEvent(ctx, eventTypeNotificationReceipt, intent.IdentityID.String(), map[string]any{
		"identity_id":      intent.IdentityID,
		"session_id":       intent.SessionID,
		"amount":           intent.Amount,
		"currency":         intent.Currency,
		"transaction_code": intent.TransactionCode,
		"receipt_number":   receipt,
	})
	s.observeSettlement(intent, domain.IntentSucceeded, now)
	return nil
}

// finalizeFailed moves an intent to FAILED and reports whether this call
// performed the move. A failed payment abandons its session, same as expiry:
// goods are never released and the shopper starts over with a fresh session.
func (s *Service) finalizeFailed(ctx context.Context, intent domain.TransactionIntent, reason string) (bool, error) {
	now := s.nowFn()
	performed, err := s.intents.Finalize(ctx, intent.IntentID, domain.IntentFailed, "", reason, "", now)
	if err != nil {
		return false, fmt.Errorf("finalize intent: %w", err)
	}
	if !performed {
		return false, nil
	}
	if _, err := s.sessions.Transition(ctx, intent.SessionID, domain.SessionAwaitingPayment, domain.SessionAbandoned, now); err != nil {
		return false, fmt.Errorf("abandon session: %w", err)
	}
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
	s.observeSettlement(intent, domain.IntentFailed, now)
	return true, nil
}

func (s *Service) handleLateSuccess(ctx context.Context, intent domain.TransactionIntent, gatewayReference string, now time.Time) {
	slog.Default().ErrorContext(ctx, "settlement succeeded on a closed session; manual refund required",
		"service", serviceName,
		"module", "application",
		"layer", "application",
		"operation", "gateway_callback",
		"outcome", "refund_required",
		"intent_id", intent.IntentID,
		"session_id", intent.SessionID,
		"amount", intent.Amount,
	)
	evidence, _ := json.Marshal(map[string]any{
		"intent_id":         intent.IntentID,
		"amount":            intent.Amount,
		"currency":          intent.Currency,
		"gateway_reference": gatewayReference,
	})
	identityID := intent.IdentityID
	sessionID := intent.SessionID
	alert := domain.FraudAlert{
		AlertID:    uuid.New(),
		Rule:       domain.RuleLateSuccessAbandoned,
		Severity:   domain.SeverityCritical,
		IdentityID: &identityID,
		SessionID:  &sessionID,
		Evidence:   evidence,
		CreatedAt:  now,
	}
	if err := s.fraudAlerts.Insert(ctx, alert); err != nil {
		slog.Default().ErrorContext(ctx, "failed to store late-success fraud alert",
			"service", serviceName,
			"module", "application",
			"layer", "application",
			"operation", "gateway_callback",
			"outcome", "failure",
			"intent_id", intent.IntentID,
			"error", err,
		)
		return
	}
	s.enqueueEvent(ctx, eventTypeFraudAlertRaised, alert.AlertID.String(), map[string]any{
		"alert_id":   alert.AlertID,
		"rule":       alert.Rule,
		"severity":   alert.Severity,
		"session_id": sessionID,
	})
}

func (s *Service) observeSettlement(intent domain.TransactionIntent, result string, at time.Time) {
	if s.fraud == nil {
		return
	}
	identityID := intent.IdentityID
	sessionID := intent.SessionID
	s.fraud.Observe(ports.SecurityEvent{
		Kind:       ports.SecurityEventSettlementTerminal,
		Result:     result,
		IdentityID: &identityID,
		SessionID:  &sessionID,
		Amount:     intent.Amount,
		OccurredAt: at,
	})
}

// sleepWithContext blocks for d or until ctx is done, whichever comes first.
func sleepWithContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
