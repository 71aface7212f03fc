package domain

import (
	"time"

	"github.com/google/uuid"
)

// Product is a catalog entry replicated from the merchandising system.
// Prices are KES cents.
type Product struct {
	ProductID uuid.UUID
	Name      string
	UnitPrice int64
	Currency  string
	IsActive  bool
	CreatedAt time.Time
	UpdatedAt time.Time
}
