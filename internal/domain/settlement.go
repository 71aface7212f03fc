package domain

import (
	"time"

	"github.com/google/uuid"
)

// Transaction intent statuses. SUCCEEDED, FAILED and EXPIRED are terminal;
// an intent row is never deleted once created.
const (
	IntentCreated             = "CREATED"
	IntentSubmitted           = "SUBMITTED"
	IntentPendingConfirmation = "PENDING_CONFIRMATION"
	IntentSucceeded           = "SUCCEEDED"
	IntentFailed              = "FAILED"
	IntentExpired             = "EXPIRED"
)

// Gateway callback / reconciliation outcomes.
const (
	GatewayOutcomeSucceeded = "SUCCEEDED"
	GatewayOutcomeFailed    = "FAILED"
	GatewayOutcomePending   = "PENDING"
)

// TransactionIntent binds a verified identity, a frozen cart total and a
// payment method, and drives the amount to a terminal state against the
// external gateway. The idempotency key is a deterministic function of
// session id and attempt counter so a retried submission of the same attempt
// is recognized by the gateway as one logical operation.
type TransactionIntent struct {
	IntentID           uuid.UUID
	SessionID          uuid.UUID
	IdentityID         uuid.UUID
	MethodID           uuid.UUID
	Amount             int64
	Currency           string
	IdempotencyKey     string
	TransactionCode    string
	ReceiptNumber      string
	Status             string
	CorrelationToken   *string
	GatewayReference   string
	Attempt            int
	ReconcileAttempts  int
	FailureReason      string
	SubmittedAt        *time.Time
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// IntentTerminal reports whether an intent status permits no further
// transitions.
func IntentTerminal(status string) bool {
	switch status {
	case IntentSucceeded, IntentFailed, IntentExpired:
		return true
	default:
		return false
	}
}
