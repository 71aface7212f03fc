package postgres

import (
	"time"

	"github.com/google/uuid"
)

type identityModel struct {
	IdentityID uuid.UUID  `gorm:"column:identity_id;type:uuid;default:gen_random_uuid();primaryKey"`
	FullName   string     `gorm:"column:full_name"`
	Status     string     `gorm:"column:status"`
	CreatedAt  time.Time  `gorm:"column:created_at"`
	UpdatedAt  time.Time  `gorm:"column:updated_at"`
	RevokedAt  *time.Time `gorm:"column:revoked_at"`
}

func (identityModel) TableName() string { return "identities" }

type templateModel struct {
	TemplateID uuid.UUID `gorm:"column:template_id;type:uuid;default:gen_random_uuid();primaryKey"`
	IdentityID uuid.UUID `gorm:"column:identity_id"`
	Vector     string    `gorm:"column:vector;type:jsonb"`
	IsActive   bool      `gorm:"column:is_active"`
	EnrolledAt time.Time `gorm:"column:enrolled_at"`
}

func (templateModel) TableName() string { return "biometric_templates" }

type paymentMethodModel struct {
	MethodID   uuid.UUID `gorm:"column:method_id;type:uuid;default:gen_random_uuid();primaryKey"`
	IdentityID uuid.UUID `gorm:"column:identity_id"`
	Provider   string    `gorm:"column:provider"`
	AccountRef string    `gorm:"column:account_ref"`
	Priority   int       `gorm:"column:priority"`
	IsActive   bool      `gorm:"column:is_active"`
	CreatedAt  time.Time `gorm:"column:created_at"`
}

func (paymentMethodModel) TableName() string { return "payment_methods" }

type productModel struct {
	ProductID uuid.UUID `gorm:"column:product_id;type:uuid;default:gen_random_uuid();primaryKey"`
	Name      string    `gorm:"column:name"`
	UnitPrice int64     `gorm:"column:unit_price"`
	Currency  string    `gorm:"column:currency"`
	IsActive  bool      `gorm:"column:is_active"`
	CreatedAt time.Time `gorm:"column:created_at"`
	UpdatedAt time.Time `gorm:"column:updated_at"`
}

func (productModel) TableName() string { return "products" }

type shoppingSessionModel struct {
	SessionID  uuid.UUID  `gorm:"column:session_id;type:uuid;default:gen_random_uuid();primaryKey"`
	StoreID    uuid.UUID  `gorm:"column:store_id"`
	Status     string     `gorm:"column:status"`
	IdentityID *uuid.UUID `gorm:"column:identity_id"`
	OpenedAt   time.Time  `gorm:"column:opened_at"`
	UpdatedAt  time.Time  `gorm:"column:updated_at"`
}

func (shoppingSessionModel) TableName() string { return "shopping_sessions" }

type cartLineModel struct {
	LineID    uuid.UUID `gorm:"column:line_id;type:uuid;default:gen_random_uuid();primaryKey"`
	SessionID uuid.UUID `gorm:"column:session_id"`
	ProductID uuid.UUID `gorm:"column:product_id"`
	Quantity  int       `gorm:"column:quantity"`
	UnitPrice int64     `gorm:"column:unit_price"`
	AddedAt   time.Time `gorm:"column:added_at"`
}

func (cartLineModel) TableName() string { return "cart_lines" }

type transactionIntentModel struct {
	IntentID          uuid.UUID  `gorm:"column:intent_id;type:uuid;primaryKey"`
	SessionID         uuid.UUID  `gorm:"column:session_id"`
	IdentityID        uuid.UUID  `gorm:"column:identity_id"`
	MethodID          uuid.UUID  `gorm:"column:method_id"`
	Amount            int64      `gorm:"column:amount"`
	Currency          string     `gorm:"column:currency"`
	IdempotencyKey    string     `gorm:"column:idempotency_key"`
	TransactionCode   string     `gorm:"column:transaction_code"`
	ReceiptNumber     *string    `gorm:"column:receipt_number"`
	Status            string     `gorm:"column:status"`
	CorrelationToken  *string    `gorm:"column:correlation_token"`
	GatewayReference  *string    `gorm:"column:gateway_reference"`
	Attempt           int        `gorm:"column:attempt"`
	ReconcileAttempts int        `gorm:"column:reconcile_attempts"`
	FailureReason     *string    `gorm:"column:failure_reason"`
	SubmittedAt       *time.Time `gorm:"column:submitted_at"`
	CreatedAt         time.Time  `gorm:"column:created_at"`
	UpdatedAt         time.Time  `gorm:"column:updated_at"`
}

func (transactionIntentModel) TableName() string { return "transaction_intents" }

type verificationAttemptModel struct {
	ID         int64      `gorm:"column:id;primaryKey"`
	IdentityID *uuid.UUID `gorm:"column:identity_id"`
	StoreID    uuid.UUID  `gorm:"column:store_id"`
	TerminalID string     `gorm:"column:terminal_id"`
	Result     string     `gorm:"column:result"`
	Confidence float64    `gorm:"column:confidence"`
	AttemptAt  time.Time  `gorm:"column:attempt_at"`
}

func (verificationAttemptModel) TableName() string { return "verification_attempts" }

type fraudAlertModel struct {
	AlertID    uuid.UUID  `gorm:"column:alert_id;type:uuid;primaryKey"`
	Rule       string     `gorm:"column:rule"`
	Severity   string     `gorm:"column:severity"`
	IdentityID *uuid.UUID `gorm:"column:identity_id"`
	SessionID  *uuid.UUID `gorm:"column:session_id"`
	StoreID    *uuid.UUID `gorm:"column:store_id"`
	Evidence   string     `gorm:"column:evidence;type:jsonb"`
	CreatedAt  time.Time  `gorm:"column:created_at"`
}

func (fraudAlertModel) TableName() string { return "fraud_alerts" }

type terminalModel struct {
	TerminalID string    `gorm:"column:terminal_id;primaryKey"`
	StoreID    uuid.UUID `gorm:"column:store_id"`
	SecretHash string    `gorm:"column:secret_hash"`
	IsActive   bool      `gorm:"column:is_active"`
	IsOperator bool      `gorm:"column:is_operator"`
	CreatedAt  time.Time `gorm:"column:created_at"`
}

func (terminalModel) TableName() string { return "terminals" }

type facepayOutboxModel struct {
	OutboxID       uuid.UUID  `gorm:"column:outbox_id;type:uuid;primaryKey"`
	EventType      string     `gorm:"column:event_type"`
	PartitionKey   string     `gorm:"column:partition_key"`
	Payload        string     `gorm:"column:payload;type:jsonb"`
	CreatedAt      time.Time  `gorm:"column:created_at"`
	FirstSeenAt    time.Time  `gorm:"column:first_seen_at"`
	PublishedAt    *time.Time `gorm:"column:published_at"`
	RetryCount     int        `gorm:"column:retry_count"`
	LastError      *string    `gorm:"column:last_error"`
	LastErrorAt    *time.Time `gorm:"column:last_error_at"`
	ClaimToken     *string    `gorm:"column:claim_token"`
	ClaimUntil     *time.Time `gorm:"column:claim_until"`
	DeadLetteredAt *time.Time `gorm:"column:dead_lettered_at"`
}

func (facepayOutboxModel) TableName() string { return "facepay_outbox" }

type facepayIdempotencyModel struct {
	IdempotencyKey string    `gorm:"column:idempotency_key;primaryKey"`
	RequestHash    string    `gorm:"column:request_hash"`
	Status         string    `gorm:"column:status"`
	ResponseCode   int       `gorm:"column:response_code"`
	ResponseBody   *string   `gorm:"column:response_body;type:jsonb"`
	ExpiresAt      time.Time `gorm:"column:expires_at"`
	CreatedAt      time.Time `gorm:"column:created_at"`
	UpdatedAt      time.Time `gorm:"column:updated_at"`
}

func (facepayIdempotencyModel) TableName() string { return "facepay_idempotency" }
