package domain

import (
	"math"
	"time"

	"github.com/google/uuid"
)

// Match attempt results recorded in the verification audit log.
const (
	AttemptMatched   = "MATCHED"
	AttemptNoMatch   = "NO_MATCH"
	AttemptLocked    = "LOCKED"
	AttemptAmbiguous = "AMBIGUOUS"
)

// VerificationAttempt records the outcome of a single match attempt for
// audit and fraud-signal generation. Rows are append-only.
type VerificationAttempt struct {
	ID         int64
	IdentityID *uuid.UUID
	StoreID    uuid.UUID
	TerminalID string
	Result     string
	Confidence float64
	AttemptAt  time.Time
}

// CosineSimilarity scores two templates on a 0..1 scale. Vectors of unequal
// dimension or zero magnitude score 0 so malformed probes can never match.
func CosineSimilarity(a, b []float64) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	score := dot / (math.Sqrt(normA) * math.Sqrt(normB))
	if score < 0 {
		return 0
	}
	if score > 1 {
		return 1
	}
	return score
}
