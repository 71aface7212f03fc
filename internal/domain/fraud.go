package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Fraud rule kinds. Rules observe the event stream and never alter the
// outcome they fire on.
const (
	RuleRepeatedFailureSweep  = "REPEATED_FAILURE_SWEEP"
	RuleHighValueSettlement   = "HIGH_VALUE_SETTLEMENT"
	RuleSuccessAfterAmbiguous = "SUCCESS_AFTER_AMBIGUOUS"
	RuleLateSuccessAbandoned  = "LATE_SUCCESS_ON_ABANDONED"
)

// Fraud alert severities.
const (
	SeverityLow      = "LOW"
	SeverityMedium   = "MEDIUM"
	SeverityHigh     = "HIGH"
	SeverityCritical = "CRITICAL"
)

// FraudAlert is an append-only record of a fired rule. Evidence is a
// free-form payload preserved verbatim for investigators.
type FraudAlert struct {
	AlertID    uuid.UUID
	Rule       string
	Severity   string
	IdentityID *uuid.UUID
	SessionID  *uuid.UUID
	StoreID    *uuid.UUID
	Evidence   json.RawMessage
	CreatedAt  time.Time
}
