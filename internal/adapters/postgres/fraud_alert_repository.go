package postgres

import (
	"context"

	"github.com/sokopay/facepay-core/internal/domain"
	"gorm.io/gorm"
)

type fraudAlertRepository struct {
	db *gorm.DB
}

func (r *fraudAlertRepository) Insert(ctx context.Context, alert domain.FraudAlert) error {
	evidence := string(alert.Evidence)
	if evidence == "" {
		evidence = "{}"
	}
	rec := fraudAlertModel{
		AlertID:    alert.AlertID,
		Rule:       alert.Rule,
		Severity:   alert.Severity,
		IdentityID: alert.IdentityID,
		SessionID:  alert.SessionID,
		StoreID:    alert.StoreID,
		Evidence:   evidence,
		CreatedAt:  alert.CreatedAt,
	}
	return r.db.WithContext(ctx).Create(&rec).Error
}

func (r *fraudAlertRepository) List(ctx context.Context, limit, offset int, severity string) ([]domain.FraudAlert, error) {
	query := r.db.WithContext(ctx).
		Model(&fraudAlertModel{}).
		Order("created_at DESC").
		Limit(limit).
		Offset(offset)
	if severity != "" {
		query = query.Where("severity = ?", severity)
	}
	var rows []fraudAlertModel
	if err := query.Find(&rows).Error; err != nil {
		return nil, err
	}
	result := make([]domain.FraudAlert, 0, len(rows))
	for _, row := range rows {
		result = append(result, toDomainFraudAlert(row))
	}
	return result, nil
}
