package domain

import (
	"time"

	"github.com/google/uuid"
)

// Shopping session statuses. SETTLED, ABANDONED and EXPIRED are terminal.
const (
	SessionOpen            = "OPEN"
	SessionAwaitingPayment = "AWAITING_PAYMENT"
	SessionSettled         = "SETTLED"
	SessionAbandoned       = "ABANDONED"
	SessionExpired         = "EXPIRED"
)

// ShoppingSession is the unit a settlement acts on. The identity reference
// is bound at checkout, not at open, since unmanned-store sessions begin
// before any verification.
type ShoppingSession struct {
	SessionID  uuid.UUID
	StoreID    uuid.UUID
	Status     string
	IdentityID *uuid.UUID
	OpenedAt   time.Time
	UpdatedAt  time.Time
}

// CartLine captures the unit price at add time. A later catalog price change
// never alters an in-progress total.
type CartLine struct {
	LineID    uuid.UUID
	SessionID uuid.UUID
	ProductID uuid.UUID
	Quantity  int
	UnitPrice int64
	AddedAt   time.Time
}

// CartTotal sums line subtotals at captured prices, in KES cents.
func CartTotal(lines []CartLine) int64 {
	var total int64
	for _, line := range lines {
		total += line.UnitPrice * int64(line.Quantity)
	}
	return total
}

// SessionTerminal reports whether a session status permits no further
// transitions.
func SessionTerminal(status string) bool {
	switch status {
	case SessionSettled, SessionAbandoned, SessionExpired:
		return true
	default:
		return false
	}
}
