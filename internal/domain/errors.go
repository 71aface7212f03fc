package domain

import "errors"

var (
	// ErrNotFound is returned when the requested resource does not exist.
	// Keeping this sentinel in domain allows adapters to map it consistently to 404/NOT_FOUND.
	ErrNotFound = errors.New("resource not found")
	// ErrInvalidState signals an operation attempted against a session or
	// intent whose current status does not permit it.
	ErrInvalidState = errors.New("invalid state for operation")
	// ErrLocked signals the identity is under lockout. The HTTP adapter
	// collapses this into the generic verification-failed response so callers
	// cannot distinguish a locked identity from an unknown probe.
	ErrLocked = errors.New("identity locked")
	// ErrNoMatch means no enrolled candidate scored at or above the threshold.
	ErrNoMatch = errors.New("no matching identity")
	// ErrAmbiguousMatch means two distinct identities tied for the top score.
	// Ambiguity fails closed and is itself a security signal.
	ErrAmbiguousMatch = errors.New("ambiguous match")
	// ErrVerificationUnavailable is the fail-closed outcome when matching
	// infrastructure (template store, lockout state) is unreachable.
	ErrVerificationUnavailable = errors.New("verification unavailable")
	// ErrInvalidAmount rejects zero or negative settlement amounts.
	ErrInvalidAmount = errors.New("invalid amount")
	// ErrSettlementInProgress rejects a second settlement while another intent
	// for the same session is still non-terminal.
	ErrSettlementInProgress = errors.New("settlement already in progress")
	// ErrGatewayTransient marks a retryable gateway submission failure.
	ErrGatewayTransient = errors.New("gateway transient failure")
	// ErrGatewayRejected marks an explicit, terminal gateway rejection.
	ErrGatewayRejected = errors.New("gateway rejected request")
	// ErrReconciliationTimeout is terminal after exhausted status polling.
	ErrReconciliationTimeout = errors.New("reconciliation timeout")
	// ErrIdentityRevoked blocks operations against a revoked identity.
	ErrIdentityRevoked     = errors.New("identity revoked")
	ErrUnauthorized        = errors.New("unauthorized")
	ErrInvalidInput        = errors.New("invalid input")
	ErrConflict            = errors.New("conflict")
	ErrIdempotencyConflict = errors.New("idempotency conflict")
	ErrRateLimited         = errors.New("rate limited")
)
