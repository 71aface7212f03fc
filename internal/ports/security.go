package ports

import (
	"time"

	"github.com/google/uuid"
)

// SecretHasher hashes and verifies terminal secrets at rest.
type SecretHasher interface {
	Hash(secret string) (string, error)
	Compare(hash, secret string) error
}

// TerminalClaims identify an authenticated checkout terminal.
type TerminalClaims struct {
	TerminalID string    `json:"terminal_id"`
	StoreID    uuid.UUID `json:"store_id"`
	Operator   bool      `json:"operator"`
	IssuedAt   time.Time `json:"issued_at"`
	ExpiresAt  time.Time `json:"expires_at"`
	KeyID      string    `json:"kid"`
}

// TokenSigner signs and validates terminal access tokens.
type TokenSigner interface {
	Sign(claims TerminalClaims) (string, error)
	ParseAndValidate(token string) (TerminalClaims, error)
	PublicJWKs() ([]map[string]any, error)
}
