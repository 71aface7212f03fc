package domain

import (
	"time"

	"github.com/google/uuid"
)

// Terminal is a checkout point (kiosk or camera lane) authorized to call the
// verification and settlement API. Secrets are stored hashed.
type Terminal struct {
	TerminalID string
	StoreID    uuid.UUID
	SecretHash string
	IsActive   bool
	IsOperator bool
	CreatedAt  time.Time
}
