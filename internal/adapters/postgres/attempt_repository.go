package postgres

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/sokopay/facepay-core/internal/domain"
	"gorm.io/gorm"
)

type attemptRepository struct {
	db *gorm.DB
}

func (r *attemptRepository) Insert(ctx context.Context, attempt domain.VerificationAttempt) error {
	rec := verificationAttemptModel{
		IdentityID: attempt.IdentityID,
		StoreID:    attempt.StoreID,
		TerminalID: attempt.TerminalID,
		Result:     attempt.Result,
		Confidence: attempt.Confidence,
		AttemptAt:  attempt.AttemptAt,
	}
	return r.db.WithContext(ctx).Create(&rec).Error
}

func (r *attemptRepository) CountFailuresByStoreSince(ctx context.Context, storeID uuid.UUID, since time.Time) (int, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&verificationAttemptModel{}).
		Where("store_id = ?", storeID).
		Where("result = ?", domain.AttemptNoMatch).
		Where("attempt_at >= ?", since).
		Count(&count).Error
	if err != nil {
		return 0, err
	}
	return int(count), nil
}
