package postgres

import (
	"encoding/json"
	"errors"
	"strings"

	"github.com/sokopay/facepay-core/internal/domain"
	"gorm.io/gorm"
)

func toDomainIdentity(row identityModel) domain.Identity {
	return domain.Identity{
		IdentityID: row.IdentityID,
		FullName:   row.FullName,
		Status:     row.Status,
		CreatedAt:  row.CreatedAt,
		UpdatedAt:  row.UpdatedAt,
		RevokedAt:  row.RevokedAt,
	}
}

func toDomainPaymentMethod(row paymentMethodModel) domain.PaymentMethod {
	return domain.PaymentMethod{
		MethodID:   row.MethodID,
		IdentityID: row.IdentityID,
		Provider:   row.Provider,
		AccountRef: row.AccountRef,
		Priority:   row.Priority,
		IsActive:   row.IsActive,
		CreatedAt:  row.CreatedAt,
	}
}

func toDomainSession(row shoppingSessionModel) domain.ShoppingSession {
	return domain.ShoppingSession{
		SessionID:  row.SessionID,
		StoreID:    row.StoreID,
		Status:     row.Status,
		IdentityID: row.IdentityID,
		OpenedAt:   row.OpenedAt,
		UpdatedAt:  row.UpdatedAt,
	}
}

func toDomainCartLine(row cartLineModel) domain.CartLine {
	return domain.CartLine{
		LineID:    row.LineID,
		SessionID: row.SessionID,
		ProductID: row.ProductID,
		Quantity:  row.Quantity,
		UnitPrice: row.UnitPrice,
		AddedAt:   row.AddedAt,
	}
}

func toDomainIntent(row transactionIntentModel) domain.TransactionIntent {
	return domain.TransactionIntent{
		IntentID:          row.IntentID,
		SessionID:         row.SessionID,
		IdentityID:        row.IdentityID,
		MethodID:          row.MethodID,
		Amount:            row.Amount,
		Currency:          row.Currency,
		IdempotencyKey:    row.IdempotencyKey,
		TransactionCode:   row.TransactionCode,
		ReceiptNumber:     derefString(row.ReceiptNumber),
		Status:            row.Status,
		CorrelationToken:  row.CorrelationToken,
		GatewayReference:  derefString(row.GatewayReference),
		Attempt:           row.Attempt,
		ReconcileAttempts: row.ReconcileAttempts,
		FailureReason:     derefString(row.FailureReason),
		SubmittedAt:       row.SubmittedAt,
		CreatedAt:         row.CreatedAt,
		UpdatedAt:         row.UpdatedAt,
	}
}

func toDomainFraudAlert(row fraudAlertModel) domain.FraudAlert {
	return domain.FraudAlert{
		AlertID:    row.AlertID,
		Rule:       row.Rule,
		Severity:   row.Severity,
		IdentityID: row.IdentityID,
		SessionID:  row.SessionID,
		StoreID:    row.StoreID,
		Evidence:   json.RawMessage(row.Evidence),
		CreatedAt:  row.CreatedAt,
	}
}

func toDomainTerminal(row terminalModel) domain.Terminal {
	return domain.Terminal{
		TerminalID: row.TerminalID,
		StoreID:    row.StoreID,
		SecretHash: row.SecretHash,
		IsActive:   row.IsActive,
		IsOperator: row.IsOperator,
		CreatedAt:  row.CreatedAt,
	}
}

func encodeVector(vector []float64) (string, error) {
	raw, err := json.Marshal(vector)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

func decodeVector(raw string) ([]float64, error) {
	var vector []float64
	if err := json.Unmarshal([]byte(raw), &vector); err != nil {
		return nil, err
	}
	return vector, nil
}

func derefString(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}

func nullableString(v string) *string {
	trimmed := strings.TrimSpace(v)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}

func isUniqueViolation(err error) bool {
	return errors.Is(err, gorm.ErrDuplicatedKey)
}
