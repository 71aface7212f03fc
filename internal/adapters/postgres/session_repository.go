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

type sessionRepository struct {
	db *gorm.DB
}

func (r *sessionRepository) Create(ctx context.Context, storeID uuid.UUID, openedAt time.Time) (domain.ShoppingSession, error) {
	rec := shoppingSessionModel{
		StoreID:   storeID,
		Status:    domain.SessionOpen,
		OpenedAt:  openedAt,
		UpdatedAt: openedAt,
	}
	if err := r.db.WithContext(ctx).Create(&rec).Error; err != nil {
		return domain.ShoppingSession{}, err
	}
	return toDomainSession(rec), nil
}

func (r *sessionRepository) GetByID(ctx context.Context, sessionID uuid.UUID) (domain.ShoppingSession, error) {
	var rec shoppingSessionModel
	if err := r.db.WithContext(ctx).Where("session_id = ?", sessionID).Take(&rec).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.ShoppingSession{}, domain.ErrNotFound
		}
		return domain.ShoppingSession{}, err
	}
	return toDomainSession(rec), nil
}

func (r *sessionRepository) ListLines(ctx context.Context, sessionID uuid.UUID) ([]domain.CartLine, error) {
	var rows []cartLineModel
	err := r.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("added_at ASC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	result := make([]domain.CartLine, 0, len(rows))
	for _, row := range rows {
		result = append(result, toDomainCartLine(row))
	}
	return result, nil
}

// AddLine re-checks the OPEN status inside the insert transaction so a line
// cannot land on a session that expired or checked out between the caller's
// read and the write.
func (r *sessionRepository) AddLine(ctx context.Context, params ports.AddLineParams) (domain.CartLine, error) {
	var result domain.CartLine
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var current shoppingSessionModel
		if err := tx.Where("session_id = ?", params.SessionID).Take(&current).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return domain.ErrNotFound
			}
			return err
		}
		if current.Status != domain.SessionOpen {
			return domain.ErrInvalidState
		}

		rec := cartLineModel{
			SessionID: params.SessionID,
			ProductID: params.ProductID,
			Quantity:  params.Quantity,
			UnitPrice: params.UnitPrice,
			AddedAt:   params.AddedAt,
		}
		if err := tx.Create(&rec).Error; err != nil {
			return err
		}
		if err := tx.Model(&shoppingSessionModel{}).
			Where("session_id = ?", params.SessionID).
			Update("updated_at", params.AddedAt).Error; err != nil {
			return err
		}
		result = toDomainCartLine(rec)
		return nil
	})
	if err != nil {
		return domain.CartLine{}, err
	}
	return result, nil
}

func (r *sessionRepository) Transition(ctx context.Context, sessionID uuid.UUID, fromStatus, toStatus string, at time.Time) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&shoppingSessionModel{}).
		Where("session_id = ?", sessionID).
		Where("status = ?", fromStatus).
		Updates(map[string]any{
			"status":     toStatus,
			"updated_at": at,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *sessionRepository) BindIdentity(ctx context.Context, sessionID, identityID uuid.UUID, at time.Time) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&shoppingSessionModel{}).
		Where("session_id = ?", sessionID).
		Where("status = ?", domain.SessionOpen).
		Updates(map[string]any{
			"status":      domain.SessionAwaitingPayment,
			"identity_id": identityID,
			"updated_at":  at,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *sessionRepository) ExpireOpenBefore(ctx context.Context, cutoff, at time.Time) ([]uuid.UUID, error) {
	var swept []uuid.UUID
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var rows []shoppingSessionModel
		if err := tx.Select("session_id").
			Where("status = ?", domain.SessionOpen).
			Where("updated_at < ?", cutoff).
			Find(&rows).Error; err != nil {
			return err
		}
		if len(rows) == 0 {
			return nil
		}
		ids := make([]uuid.UUID, 0, len(rows))
		for _, row := range rows {
			ids = append(ids, row.SessionID)
		}
		res := tx.Model(&shoppingSessionModel{}).
			Where("session_id IN ?", ids).
			Where("status = ?", domain.SessionOpen).
			Updates(map[string]any{
				"status":     domain.SessionExpired,
				"updated_at": at,
			})
		if res.Error != nil {
			return res.Error
		}
		swept = ids
		return nil
	})
	if err != nil {
		return nil, err
	}
	return swept, nil
}
