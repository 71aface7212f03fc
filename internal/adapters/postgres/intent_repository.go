package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/sokopay/facepay-core/internal/domain"
	"github.com/sokopay/facepay-core/internal/ports"
	"gorm.io/gorm"
)

// nonTerminalStatuses gates the partial unique index on session_id; it must
// match the predicate in the migration.
var nonTerminalStatuses = []string{
	domain.IntentCreated,
	domain.IntentSubmitted,
	domain.IntentPendingConfirmation,
}

type intentRepository struct {
	db *gorm.DB
}

// Create relies on two unique constraints: the partial index on session_id
// over non-terminal rows enforces one live intent per session, and the
// unique idempotency_key catches a racing duplicate of the same attempt.
// The insert is the test-and-set; there is no separate existence check.
func (r *intentRepository) Create(ctx context.Context, params ports.CreateIntentParams) (domain.TransactionIntent, error) {
	rec := transactionIntentModel{
		IntentID:        params.IntentID,
		SessionID:       params.SessionID,
		IdentityID:      params.IdentityID,
		MethodID:        params.MethodID,
		Amount:          params.Amount,
		Currency:        params.Currency,
		IdempotencyKey:  params.IdempotencyKey,
		TransactionCode: params.TransactionCode,
		Status:          domain.IntentCreated,
		Attempt:         params.Attempt,
		CreatedAt:       params.CreatedAtUTC,
		UpdatedAt:       params.CreatedAtUTC,
	}
	if err := r.db.WithContext(ctx).Create(&rec).Error; err != nil {
		if isUniqueViolation(err) {
			// Disambiguate which constraint fired: an existing row with this
			// idempotency key means a duplicate of the same attempt, anything
			// else means another live intent holds the session.
			if _, lookupErr := r.GetByIdempotencyKey(ctx, params.IdempotencyKey); lookupErr == nil {
				return domain.TransactionIntent{}, domain.ErrIdempotencyConflict
			}
			return domain.TransactionIntent{}, domain.ErrSettlementInProgress
		}
		return domain.TransactionIntent{}, err
	}
	return toDomainIntent(rec), nil
}

func (r *intentRepository) GetByID(ctx context.Context, intentID uuid.UUID) (domain.TransactionIntent, error) {
	return r.getOne(ctx, "intent_id = ?", intentID)
}

func (r *intentRepository) GetByIdempotencyKey(ctx context.Context, key string) (domain.TransactionIntent, error) {
	return r.getOne(ctx, "idempotency_key = ?", key)
}

func (r *intentRepository) GetByCorrelationToken(ctx context.Context, token string) (domain.TransactionIntent, error) {
	return r.getOne(ctx, "correlation_token = ?", token)
}

func (r *intentRepository) getOne(ctx context.Context, query string, arg any) (domain.TransactionIntent, error) {
	var rec transactionIntentModel
	if err := r.db.WithContext(ctx).Where(query, arg).Take(&rec).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.TransactionIntent{}, domain.ErrNotFound
		}
		return domain.TransactionIntent{}, err
	}
	return toDomainIntent(rec), nil
}

func (r *intentRepository) CountBySession(ctx context.Context, sessionID uuid.UUID) (int, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&transactionIntentModel{}).
		Where("session_id = ?", sessionID).
		Count(&count).Error
	if err != nil {
		return 0, err
	}
	return int(count), nil
}

// MarkSubmitted walks a CREATED intent through SUBMITTED into
// PENDING_CONFIRMATION, recording the gateway correlation token.
func (r *intentRepository) MarkSubmitted(ctx context.Context, intentID uuid.UUID, correlationToken string, at time.Time) error {
	res := r.db.WithContext(ctx).
		Model(&transactionIntentModel{}).
		Where("intent_id = ?", intentID).
		Where("status = ?", domain.IntentCreated).
		Updates(map[string]any{
			"status":            domain.IntentPendingConfirmation,
			"correlation_token": correlationToken,
			"submitted_at":      at,
			"updated_at":        at,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return domain.ErrInvalidState
	}
	return nil
}

// Finalize moves a non-terminal intent to a terminal status. The status
// guard makes the update idempotent: only one caller ever sees
// RowsAffected > 0, and duplicate callbacks become no-ops.
func (r *intentRepository) Finalize(ctx context.Context, intentID uuid.UUID, toStatus, gatewayReference, failureReason, receiptNumber string, at time.Time) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&transactionIntentModel{}).
		Where("intent_id = ?", intentID).
		Where("status IN ?", nonTerminalStatuses).
		Updates(map[string]any{
			"status":            toStatus,
			"gateway_reference": nullableString(gatewayReference),
			"failure_reason":    nullableString(failureReason),
			"receipt_number":    nullableString(receiptNumber),
			"updated_at":        at,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *intentRepository) IncrementReconcileAttempts(ctx context.Context, intentID uuid.UUID, at time.Time) error {
	return r.db.WithContext(ctx).
		Model(&transactionIntentModel{}).
		Where("intent_id = ?", intentID).
		Updates(map[string]any{
			"reconcile_attempts": gorm.Expr("reconcile_attempts + 1"),
			"updated_at":         at,
		}).Error
}

func (r *intentRepository) ListPendingConfirmationBefore(ctx context.Context, cutoff time.Time, limit int) ([]domain.TransactionIntent, error) {
	var rows []transactionIntentModel
	err := r.db.WithContext(ctx).
		Where("status = ?", domain.IntentPendingConfirmation).
		Where("submitted_at < ?", cutoff).
		Order("submitted_at ASC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	result := make([]domain.TransactionIntent, 0, len(rows))
	for _, row := range rows {
		result = append(result, toDomainIntent(row))
	}
	return result, nil
}
