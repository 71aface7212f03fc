package ports

import (
	"context"

	"github.com/google/uuid"
	"github.com/sokopay/facepay-core/internal/domain"
)

// GatewaySubmitRequest is a push-payment submission. The idempotency key
// tags the request so a retried submission of the same attempt is recognized
// by the gateway as one logical charge.
type GatewaySubmitRequest struct {
	IdempotencyKey string
	Amount         int64
	Currency       string
	Provider       string
	AccountRef     string
	TransactionRef string
	CallbackURL    string
}

// GatewaySubmitResult is the synchronous acceptance envelope. The final
// outcome arrives later via callback or reconciliation poll.
type GatewaySubmitResult struct {
	CorrelationToken string
}

// GatewayStatus is the reconciliation answer for an accepted submission.
// Outcome is one of domain.GatewayOutcome*.
type GatewayStatus struct {
	Outcome          string
	GatewayReference string
	FailureReason    string
}

// PaymentGateway is the outbound port to the external mobile-money API.
// Implementations map transport failures and 5xx responses to
// domain.ErrGatewayTransient and explicit rejections to
// domain.ErrGatewayRejected.
type PaymentGateway interface {
	Submit(ctx context.Context, req GatewaySubmitRequest) (GatewaySubmitResult, error)
	QueryStatus(ctx context.Context, correlationToken string) (GatewayStatus, error)
}

// PriceQuote is the catalog answer at add-to-cart time. The quoted price is
// captured on the cart line and never re-read.
type PriceQuote struct {
	UnitPrice int64
	Currency  string
}

// PriceCatalog reads current product prices from the catalog collaborator.
type PriceCatalog interface {
	GetPrice(ctx context.Context, productID uuid.UUID) (PriceQuote, error)
}

// CatalogRepository extends the read side with the write the merchandising
// event stream drives.
type CatalogRepository interface {
	PriceCatalog
	UpsertProduct(ctx context.Context, product domain.Product) error
}
