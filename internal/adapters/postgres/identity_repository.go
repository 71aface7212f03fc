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

type identityRepository struct {
	db *gorm.DB
}

// EnrollWithOutboxTx writes the identity, its first template, its payment
// methods and the enrollment event in one transaction.
func (r *identityRepository) EnrollWithOutboxTx(ctx context.Context, params ports.EnrollIdentityParams, outboxEvent ports.OutboxEvent) (domain.Identity, error) {
	vector, err := encodeVector(params.Template)
	if err != nil {
		return domain.Identity{}, err
	}

	var result domain.Identity
	err = r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		rec := identityModel{
			FullName:  params.FullName,
			Status:    domain.IdentityActive,
			CreatedAt: params.EnrolledAtUTC,
			UpdatedAt: params.EnrolledAtUTC,
		}
		if err := tx.Create(&rec).Error; err != nil {
			return err
		}

		tpl := templateModel{
			IdentityID: rec.IdentityID,
			Vector:     vector,
			IsActive:   true,
			EnrolledAt: params.EnrolledAtUTC,
		}
		if err := tx.Create(&tpl).Error; err != nil {
			return err
		}

		for _, m := range params.PaymentMethods {
			row := paymentMethodModel{
				MethodID:   m.MethodID,
				IdentityID: rec.IdentityID,
				Provider:   m.Provider,
				AccountRef: m.AccountRef,
				Priority:   m.Priority,
				IsActive:   m.IsActive,
				CreatedAt:  m.CreatedAt,
			}
			if err := tx.Create(&row).Error; err != nil {
				return err
			}
		}

		outbox := facepayOutboxModel{
			OutboxID:     outboxEvent.EventID,
			EventType:    outboxEvent.EventType,
			PartitionKey: rec.IdentityID.String(),
			Payload:      string(outboxEvent.Payload),
			CreatedAt:    outboxEvent.OccurredAt,
			FirstSeenAt:  outboxEvent.OccurredAt,
		}
		if err := tx.Create(&outbox).Error; err != nil {
			return err
		}

		result = toDomainIdentity(rec)
		return nil
	})
	if err != nil {
		return domain.Identity{}, err
	}
	return result, nil
}

func (r *identityRepository) GetByID(ctx context.Context, identityID uuid.UUID) (domain.Identity, error) {
	var rec identityModel
	if err := r.db.WithContext(ctx).Where("identity_id = ?", identityID).Take(&rec).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Identity{}, domain.ErrNotFound
		}
		return domain.Identity{}, err
	}
	return toDomainIdentity(rec), nil
}

// ListActiveTemplates returns the matcher's candidate set: active templates
// of active identities only.
func (r *identityRepository) ListActiveTemplates(ctx context.Context) ([]ports.EnrolledTemplate, error) {
	var rows []templateModel
	err := r.db.WithContext(ctx).
		Joins("JOIN identities ON identities.identity_id = biometric_templates.identity_id").
		Where("biometric_templates.is_active = ?", true).
		Where("identities.status = ?", domain.IdentityActive).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}

	result := make([]ports.EnrolledTemplate, 0, len(rows))
	for _, row := range rows {
		vector, decErr := decodeVector(row.Vector)
		if decErr != nil {
			return nil, decErr
		}
		result = append(result, ports.EnrolledTemplate{
			IdentityID: row.IdentityID,
			TemplateID: row.TemplateID,
			Vector:     vector,
		})
	}
	return result, nil
}

func (r *identityRepository) AddTemplate(ctx context.Context, identityID uuid.UUID, vector []float64, enrolledAt time.Time) (domain.Template, error) {
	encoded, err := encodeVector(vector)
	if err != nil {
		return domain.Template{}, err
	}
	rec := templateModel{
		IdentityID: identityID,
		Vector:     encoded,
		IsActive:   true,
		EnrolledAt: enrolledAt,
	}
	if err := r.db.WithContext(ctx).Create(&rec).Error; err != nil {
		return domain.Template{}, err
	}
	return domain.Template{
		TemplateID: rec.TemplateID,
		IdentityID: rec.IdentityID,
		Vector:     vector,
		IsActive:   rec.IsActive,
		EnrolledAt: rec.EnrolledAt,
	}, nil
}

// Revoke deactivates the identity and all its templates together so a
// concurrent matcher read cannot see a revoked identity with live templates.
func (r *identityRepository) Revoke(ctx context.Context, identityID uuid.UUID, revokedAt time.Time) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&identityModel{}).
			Where("identity_id = ?", identityID).
			Where("status = ?", domain.IdentityActive).
			Updates(map[string]any{
				"status":     domain.IdentityRevoked,
				"revoked_at": revokedAt,
				"updated_at": revokedAt,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return domain.ErrNotFound
		}
		return tx.Model(&templateModel{}).
			Where("identity_id = ?", identityID).
			Update("is_active", false).Error
	})
}

func (r *identityRepository) ListPaymentMethods(ctx context.Context, identityID uuid.UUID) ([]domain.PaymentMethod, error) {
	var rows []paymentMethodModel
	err := r.db.WithContext(ctx).
		Where("identity_id = ?", identityID).
		Order("priority ASC, created_at ASC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	result := make([]domain.PaymentMethod, 0, len(rows))
	for _, row := range rows {
		result = append(result, toDomainPaymentMethod(row))
	}
	return result, nil
}

func (r *identityRepository) GetPaymentMethod(ctx context.Context, methodID uuid.UUID) (domain.PaymentMethod, error) {
	var rec paymentMethodModel
	if err := r.db.WithContext(ctx).Where("method_id = ?", methodID).Take(&rec).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.PaymentMethod{}, domain.ErrNotFound
		}
		return domain.PaymentMethod{}, err
	}
	return toDomainPaymentMethod(rec), nil
}
