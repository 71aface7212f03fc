package domain

import (
	"time"

	"github.com/google/uuid"
)

// Identity status values.
const (
	IdentityActive  = "ACTIVE"
	IdentityRevoked = "REVOKED"
)

// Mobile-money providers accepted for settlement.
const (
	ProviderMpesa       = "MPESA"
	ProviderAirtelMoney = "AIRTEL_MONEY"
	ProviderTkash       = "TKASH"
)

// Identity is an enrolled shopper. Only verification-relevant state lives
// here; profile data belongs to upstream services.
type Identity struct {
	IdentityID uuid.UUID
	FullName   string
	Status     string
	CreatedAt  time.Time
	UpdatedAt  time.Time
	RevokedAt  *time.Time
}

// Template is a fixed-length numeric vector derived from a biometric sample.
// The raw image never reaches this service.
type Template struct {
	TemplateID uuid.UUID
	IdentityID uuid.UUID
	Vector     []float64
	IsActive   bool
	EnrolledAt time.Time
}

// PaymentMethod links an identity to a mobile-money account. Priority orders
// method selection when a settlement does not name one explicitly (lower
// value wins).
type PaymentMethod struct {
	MethodID   uuid.UUID
	IdentityID uuid.UUID
	Provider   string
	AccountRef string
	Priority   int
	IsActive   bool
	CreatedAt  time.Time
}

// ValidProvider reports whether the provider name is one this core settles
// against.
func ValidProvider(provider string) bool {
	switch provider {
	case ProviderMpesa, ProviderAirtelMoney, ProviderTkash:
		return true
	default:
		return false
	}
}
