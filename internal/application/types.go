package application

import (
	"time"

	"github.com/google/uuid"
	"github.com/sokopay/facepay-core/internal/domain"
)

// Config carries the tunables the core must accept from outside rather than
// embed. Defaults live in bootstrap, not here.
type Config struct {
	Currency             string
	ConfidenceThreshold  float64
	FailedMatchThreshold int
	LockoutDuration      time.Duration
	SessionIdleTimeout   time.Duration

	SubmitMaxAttempts    int
	SubmitBackoffBase    time.Duration
	ConfirmationTimeout  time.Duration
	ReconcileMaxAttempts int
	GatewayCallbackURL   string

	HighValueThreshold    int64
	SweepWindow           time.Duration
	SweepFailureThreshold int

	TerminalTokenTTL time.Duration
}

// Match outcome statuses returned to the terminal adapter. The HTTP layer
// collapses the three refusal statuses into one generic response; the full
// status is kept for internal consumers and the event stream.
const (
	MatchStatusMatched   = "MATCHED"
	MatchStatusNoMatch   = "NO_MATCH"
	MatchStatusLocked    = "LOCKED"
	MatchStatusAmbiguous = "AMBIGUOUS"
)

type MatchRequest struct {
	ProbeTemplate []float64 `json:"probe_template"`
	StoreID       uuid.UUID `json:"store_id"`
	TerminalID    string    `json:"terminal_id"`
}

// MatchResult is a tagged variant: IdentityID/Confidence/PaymentMethods are
// populated only when Status is MATCHED.
type MatchResult struct {
	Status         string              `json:"status"`
	IdentityID     uuid.UUID           `json:"identity_id,omitempty"`
	Confidence     float64             `json:"confidence,omitempty"`
	PaymentMethods []PaymentMethodItem `json:"payment_methods,omitempty"`
}

type PaymentMethodItem struct {
	MethodID uuid.UUID `json:"method_id"`
	Provider string    `json:"provider"`
	Priority int       `json:"priority"`
}

type EnrollRequest struct {
	FullName       string                `json:"full_name"`
	Template       []float64             `json:"template"`
	PaymentMethods []EnrollPaymentMethod `json:"payment_methods"`
}

type EnrollPaymentMethod struct {
	Provider   string `json:"provider"`
	AccountRef string `json:"account_ref"`
	Priority   int    `json:"priority"`
}

type EnrollResponse struct {
	IdentityID uuid.UUID `json:"identity_id"`
}

type OpenSessionRequest struct {
	StoreID uuid.UUID `json:"store_id"`
}

type AddLineRequest struct {
	ProductID uuid.UUID `json:"product_id"`
	Quantity  int       `json:"quantity"`
}

type CheckoutRequest struct {
	IdentityID uuid.UUID `json:"identity_id"`
}

type SessionView struct {
	SessionID  uuid.UUID      `json:"session_id"`
	StoreID    uuid.UUID      `json:"store_id"`
	Status     string         `json:"status"`
	IdentityID *uuid.UUID     `json:"identity_id,omitempty"`
	OpenedAt   time.Time      `json:"opened_at"`
	Lines      []CartLineItem `json:"lines"`
	Total      int64          `json:"total"`
	Currency   string         `json:"currency"`
}

type CartLineItem struct {
	LineID    uuid.UUID `json:"line_id"`
	ProductID uuid.UUID `json:"product_id"`
	Quantity  int       `json:"quantity"`
	UnitPrice int64     `json:"unit_price"`
	Subtotal  int64     `json:"subtotal"`
}

type BeginSettlementRequest struct {
	SessionID       uuid.UUID `json:"session_id"`
	PaymentMethodID uuid.UUID `json:"payment_method_id"`
}

type IntentView struct {
	IntentID        uuid.UUID `json:"intent_id"`
	SessionID       uuid.UUID `json:"session_id"`
	Status          string    `json:"status"`
	Amount          int64     `json:"amount"`
	Currency        string    `json:"currency"`
	TransactionCode string    `json:"transaction_code"`
	ReceiptNumber   string    `json:"receipt_number,omitempty"`
	Attempt         int       `json:"attempt"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// GatewayCallback is the asynchronous confirmation delivered by the payment
// gateway, potentially late, duplicated or out of order.
type GatewayCallback struct {
	CorrelationToken string `json:"correlation_token"`
	Outcome          string `json:"outcome"`
	GatewayReference string `json:"gateway_reference"`
	FailureReason    string `json:"failure_reason,omitempty"`
}

type TerminalTokenRequest struct {
	TerminalID string `json:"terminal_id"`
	Secret     string `json:"secret"`
}

type TerminalTokenResponse struct {
	Token     string `json:"token"`
	ExpiresIn int64  `json:"expires_in"`
}

type FraudAlertItem struct {
	AlertID    uuid.UUID  `json:"alert_id"`
	Rule       string     `json:"rule"`
	Severity   string     `json:"severity"`
	IdentityID *uuid.UUID `json:"identity_id,omitempty"`
	SessionID  *uuid.UUID `json:"session_id,omitempty"`
	StoreID    *uuid.UUID `json:"store_id,omitempty"`
	Evidence   string     `json:"evidence,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

func toIntentView(it domain.TransactionIntent) IntentView {
	return IntentView{
		IntentID:        it.IntentID,
		SessionID:       it.SessionID,
		Status:          it.Status,
		Amount:          it.Amount,
		Currency:        it.Currency,
		TransactionCode: it.TransactionCode,
		ReceiptNumber:   it.ReceiptNumber,
		Attempt:         it.Attempt,
		CreatedAt:       it.CreatedAt,
		UpdatedAt:       it.UpdatedAt,
	}
}

func toSessionView(s domain.ShoppingSession, lines []domain.CartLine, currency string) SessionView {
	items := make([]CartLineItem, 0, len(lines))
	for _, line := range lines {
		items = append(items, CartLineItem{
			LineID:    line.LineID,
			ProductID: line.ProductID,
			Quantity:  line.Quantity,
			UnitPrice: line.UnitPrice,
			Subtotal:  line.UnitPrice * int64(line.Quantity),
		})
	}
	return SessionView{
		SessionID:  s.SessionID,
		StoreID:    s.StoreID,
		Status:     s.Status,
		IdentityID: s.IdentityID,
		OpenedAt:   s.OpenedAt,
		Lines:      items,
		Total:      domain.CartTotal(lines),
		Currency:   currency,
	}
}
