package ports

import (
	"context"
	"time"
)

// LockoutState is the current lockout envelope for an identity key.
// It is cache-backed so every failed attempt avoids a hot relational write.
type LockoutState struct {
	FailedCount int
	LockedUntil *time.Time
}

// LockoutStore handles per-identity brute-force protection state.
// RecordFailure must be atomic per key: two near-simultaneous failures may
// never both observe threshold-1 and produce no lock.
type LockoutStore interface {
	Get(ctx context.Context, key string) (LockoutState, error)
	RecordFailure(ctx context.Context, key string, now time.Time, threshold int, lockoutWindow time.Duration) (LockoutState, error)
	Clear(ctx context.Context, key string) error
}
