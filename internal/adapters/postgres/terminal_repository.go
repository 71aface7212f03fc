package postgres

import (
	"context"
	"errors"

	"github.com/sokopay/facepay-core/internal/domain"
	"gorm.io/gorm"
)

type terminalRepository struct {
	db *gorm.DB
}

func (r *terminalRepository) GetByID(ctx context.Context, terminalID string) (domain.Terminal, error) {
	var rec terminalModel
	if err := r.db.WithContext(ctx).Where("terminal_id = ?", terminalID).Take(&rec).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Terminal{}, domain.ErrNotFound
		}
		return domain.Terminal{}, err
	}
	return toDomainTerminal(rec), nil
}
