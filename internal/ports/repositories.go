package ports

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/sokopay/facepay-core/internal/domain"
)

// EnrolledTemplate is the scoring unit the matcher iterates: one active
// template of one active identity. Revoked identities and inactive templates
// never appear here.
type EnrolledTemplate struct {
	IdentityID uuid.UUID
	TemplateID uuid.UUID
	Vector     []float64
}

// EnrollIdentityParams captures atomic enrollment inputs. The initial
// template and payment methods are written with the identity in one
// transaction so a half-enrolled shopper can never match.
type EnrollIdentityParams struct {
	FullName       string
	Template       []float64
	PaymentMethods []domain.PaymentMethod
	EnrolledAtUTC  time.Time
}

// IdentityRepository defines persistence for identities, their templates and
// linked payment methods.
type IdentityRepository interface {
	EnrollWithOutboxTx(ctx context.Context, params EnrollIdentityParams, outboxEvent OutboxEvent) (domain.Identity, error)
	GetByID(ctx context.Context, identityID uuid.UUID) (domain.Identity, error)
	ListActiveTemplates(ctx context.Context) ([]EnrolledTemplate, error)
	AddTemplate(ctx context.Context, identityID uuid.UUID, vector []float64, enrolledAt time.Time) (domain.Template, error)
	Revoke(ctx context.Context, identityID uuid.UUID, revokedAt time.Time) error
	ListPaymentMethods(ctx context.Context, identityID uuid.UUID) ([]domain.PaymentMethod, error)
	GetPaymentMethod(ctx context.Context, methodID uuid.UUID) (domain.PaymentMethod, error)
}

// AddLineParams captures a cart line insert with its price snapshot.
type AddLineParams struct {
	SessionID uuid.UUID
	ProductID uuid.UUID
	Quantity  int
	UnitPrice int64
	AddedAt   time.Time
}

// SessionRepository manages shopping sessions and their cart lines.
// Transition is a guarded update: it succeeds only when the row is currently
// in the expected status, which makes status changes atomic against
// concurrent callers without read-then-write races.
type SessionRepository interface {
	Create(ctx context.Context, storeID uuid.UUID, openedAt time.Time) (domain.ShoppingSession, error)
	GetByID(ctx context.Context, sessionID uuid.UUID) (domain.ShoppingSession, error)
	ListLines(ctx context.Context, sessionID uuid.UUID) ([]domain.CartLine, error)
	// AddLine inserts a line only while the session is OPEN; the status check
	// and insert run in one transaction.
	AddLine(ctx context.Context, params AddLineParams) (domain.CartLine, error)
	// Transition moves sessionID from one status to another and reports
	// whether this call performed the move.
	Transition(ctx context.Context, sessionID uuid.UUID, fromStatus, toStatus string, at time.Time) (bool, error)
	// BindIdentity sets the identity reference while transitioning
	// OPEN -> AWAITING_PAYMENT in one guarded update.
	BindIdentity(ctx context.Context, sessionID, identityID uuid.UUID, at time.Time) (bool, error)
	// ExpireOpenBefore sweeps OPEN sessions idle past the cutoff into EXPIRED
	// and returns the swept session ids. Rows persist for audit.
	ExpireOpenBefore(ctx context.Context, cutoff, at time.Time) ([]uuid.UUID, error)
}

// CreateIntentParams captures a new transaction intent. The repository
// enforces the one-non-terminal-intent-per-session invariant at insert time.
type CreateIntentParams struct {
	IntentID        uuid.UUID
	SessionID       uuid.UUID
	IdentityID      uuid.UUID
	MethodID        uuid.UUID
	Amount          int64
	Currency        string
	IdempotencyKey  string
	TransactionCode string
	Attempt         int
	CreatedAtUTC    time.Time
}

// IntentRepository owns the transaction intent lifecycle. Status moves are
// guarded updates keyed on the current status so duplicate callbacks and
// racing finalizers converge on one terminal state.
type IntentRepository interface {
	// Create inserts a CREATED intent. A non-terminal intent already present
	// for the session surfaces domain.ErrSettlementInProgress; a duplicate
	// idempotency key surfaces domain.ErrIdempotencyConflict.
	Create(ctx context.Context, params CreateIntentParams) (domain.TransactionIntent, error)
	GetByID(ctx context.Context, intentID uuid.UUID) (domain.TransactionIntent, error)
	GetByIdempotencyKey(ctx context.Context, key string) (domain.TransactionIntent, error)
	GetByCorrelationToken(ctx context.Context, token string) (domain.TransactionIntent, error)
	CountBySession(ctx context.Context, sessionID uuid.UUID) (int, error)
	// MarkSubmitted records gateway acceptance: SUBMITTED status, correlation
	// token and submission time, then PENDING_CONFIRMATION.
	MarkSubmitted(ctx context.Context, intentID uuid.UUID, correlationToken string, at time.Time) error
	// Finalize moves a non-terminal intent to a terminal status and reports
	// whether this call performed the move (false means another caller
	// already finalized it).
	Finalize(ctx context.Context, intentID uuid.UUID, toStatus, gatewayReference, failureReason, receiptNumber string, at time.Time) (bool, error)
	IncrementReconcileAttempts(ctx context.Context, intentID uuid.UUID, at time.Time) error
	ListPendingConfirmationBefore(ctx context.Context, cutoff time.Time, limit int) ([]domain.TransactionIntent, error)
}

// AttemptRepository stores the append-only verification audit log.
type AttemptRepository interface {
	Insert(ctx context.Context, attempt domain.VerificationAttempt) error
	// CountFailuresByStoreSince counts NO_MATCH attempts at one store inside
	// the sweep window, for the repeated-failure fraud rule.
	CountFailuresByStoreSince(ctx context.Context, storeID uuid.UUID, since time.Time) (int, error)
}

// FraudAlertRepository stores append-only fraud alerts.
type FraudAlertRepository interface {
	Insert(ctx context.Context, alert domain.FraudAlert) error
	List(ctx context.Context, limit, offset int, severity string) ([]domain.FraudAlert, error)
}

// TerminalRepository resolves checkout terminals for API authentication.
type TerminalRepository interface {
	GetByID(ctx context.Context, terminalID string) (domain.Terminal, error)
}

// OutboxEvent is the write-side event payload prior to storage.
// It is adapter-neutral to keep application code independent of broker specifics.
type OutboxEvent struct {
	EventID      uuid.UUID
	EventType    string
	PartitionKey string
	Payload      []byte
	OccurredAt   time.Time
}

// OutboxRecord represents durable outbox state, including retry/error metadata.
type OutboxRecord struct {
	OutboxID       uuid.UUID
	EventType      string
	PartitionKey   string
	Payload        []byte
	RetryCount     int
	LastError      *string
	CreatedAt      time.Time
	PublishedAt    *time.Time
	LastErrorAt    *time.Time
	FirstSeenAt    time.Time
	ClaimToken     *string
	ClaimUntil     *time.Time
	DeadLetteredAt *time.Time
}

// OutboxRepository controls publish-retry workflow for domain events.
// This explicit contract enables transactional outbox patterns without leaking DB details.
type OutboxRepository interface {
	Enqueue(ctx context.Context, event OutboxEvent) error
	ClaimUnpublished(ctx context.Context, limit int, claimToken string, claimUntil time.Time) ([]OutboxRecord, error)
	MarkPublished(ctx context.Context, outboxID uuid.UUID, claimToken string, at time.Time) error
	MarkFailed(ctx context.Context, outboxID uuid.UUID, claimToken, errMsg string, at time.Time) error
	MarkDeadLettered(ctx context.Context, outboxID uuid.UUID, claimToken, errMsg string, at time.Time) error
}

// IdempotencyRecord tracks a previously accepted mutating request.
// Storing response metadata lets handlers return stable replay responses.
type IdempotencyRecord struct {
	Key          string
	RequestHash  string
	Status       string
	ResponseCode int
	ResponseBody []byte
	ExpiresAt    time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// IdempotencyRepository enforces idempotent mutation semantics.
type IdempotencyRepository interface {
	Get(ctx context.Context, key string) (*IdempotencyRecord, error)
	Reserve(ctx context.Context, key, requestHash string, expiresAt time.Time) error
	Complete(ctx context.Context, key string, responseCode int, responseBody []byte, at time.Time) error
}
