package ports

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// EventPublisher is the outbound domain-event publish port. The partition
// key keeps per-session and per-identity event ordering on the broker.
// The application uses this abstraction to keep broker/client concerns in adapters.
type EventPublisher interface {
	Publish(ctx context.Context, eventType string, payload []byte, partitionKey string) error
}

// Security event kinds observed by the fraud evaluator.
const (
	SecurityEventMatchAttempt       = "MATCH_ATTEMPT"
	SecurityEventLockoutTriggered   = "LOCKOUT_TRIGGERED"
	SecurityEventSettlementTerminal = "SETTLEMENT_TERMINAL"
)

// SecurityEvent is one observation on the verification/settlement stream.
// Result carries the attempt result or terminal intent status depending on
// the kind.
type SecurityEvent struct {
	Kind       string
	Result     string
	IdentityID *uuid.UUID
	SessionID  *uuid.UUID
	StoreID    *uuid.UUID
	Amount     int64
	Confidence float64
	OccurredAt time.Time
}

// FraudObserver receives security events. Implementations must return
// immediately: alerting is observational and must never delay or fail the
// operation it observes.
type FraudObserver interface {
	Observe(event SecurityEvent)
}
