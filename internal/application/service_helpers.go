package application

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/sokopay/facepay-core/internal/domain"
	"github.com/sokopay/facepay-core/internal/ports"
)

// settlementIdempotencyKey derives the gateway idempotency key from the
// session id and the checkout attempt counter. A retry of the same attempt
// reuses the key; only a fresh attempt (after a terminal intent) changes it.
func settlementIdempotencyKey(sessionID uuid.UUID, attempt int) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s:%d", sessionID, attempt)))
	return hex.EncodeToString(sum[:])
}

// transactionCode generates the human-facing reference, e.g. TXN-20260831-1a2b3c4d.
func transactionCode(now time.Time) string {
	return "TXN-" + now.Format("20060102") + "-" + randomHex(4)
}

// receiptNumber generates the receipt reference issued on settle.
func receiptNumber(now time.Time) string {
	return "RCP-" + now.Format("20060102") + "-" + randomHex(4)
}

// hashRequest computes deterministic request fingerprint for idempotency conflict detection.
func hashRequest(req any) string {
	raw, _ := json.Marshal(req)
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}

// randomHex returns a cryptographically random hex token.
func randomHex(bytesLen int) string {
	raw := make([]byte, bytesLen)
	_, _ = rand.Read(raw)
	return hex.EncodeToString(raw)
}

// lockoutKey namespaces per-identity lockout state in the shared store.
func lockoutKey(identityID uuid.UUID) string {
	return "identity:" + identityID.String()
}

// recordAttempt appends to the verification audit log before the match call
// returns. A failed insert is logged but does not change the match outcome:
// the attempt has already been counted in the lockout store.
func (s *Service) recordAttempt(ctx context.Context, identityID *uuid.UUID, req MatchRequest, result string, confidence float64) {
	if err := s.attempts.Insert(ctx, domain.VerificationAttempt{
		IdentityID: identityID,
		StoreID:    req.StoreID,
		TerminalID: req.TerminalID,
		Result:     result,
		Confidence: confidence,
		AttemptAt:  s.nowFn(),
	}); err != nil {
		slog.Default().WarnContext(ctx, "failed to persist verification attempt",
			"service", serviceName,
			"module", "application",
			"layer", "application",
			"operation", "record_attempt",
			"outcome", "failure",
			"result", result,
			"error", err,
		)
	}
}

// enqueueEvent writes an outbox event, logging rather than failing the
// calling operation when the enqueue itself fails.
func (s *Service) enqueueEvent(ctx context.Context, eventType, partitionKey string, payload map[string]any) {
	raw, _ := json.Marshal(payload)
	event := ports.OutboxEvent{
		EventID:      uuid.New(),
		EventType:    eventType,
		PartitionKey: partitionKey,
		Payload:      raw,
		OccurredAt:   s.nowFn(),
	}
	if err := s.outbox.Enqueue(ctx, event); err != nil {
		slog.Default().WarnContext(ctx, "failed to enqueue outbox event",
			"service", serviceName,
			"module", "application",
			"layer", "application",
			"operation", "enqueue_event",
			"outcome", "failure",
			"event_type", eventType,
			"error", err,
		)
	}
}
