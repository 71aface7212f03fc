package postgres

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/sokopay/facepay-core/internal/domain"
	"github.com/sokopay/facepay-core/internal/ports"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// productRepository answers price lookups from the local catalog table,
// replicated from the merchandising system.
type productRepository struct {
	db *gorm.DB
}

func (r *productRepository) GetPrice(ctx context.Context, productID uuid.UUID) (ports.PriceQuote, error) {
	var rec productModel
	err := r.db.WithContext(ctx).
		Where("product_id = ?", productID).
		Where("is_active = ?", true).
		Take(&rec).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ports.PriceQuote{}, domain.ErrNotFound
		}
		return ports.PriceQuote{}, err
	}
	return ports.PriceQuote{UnitPrice: rec.UnitPrice, Currency: rec.Currency}, nil
}

// UpsertProduct applies a merchandising catalog event. Existing rows keep
// their created_at; captured cart-line prices are never touched.
func (r *productRepository) UpsertProduct(ctx context.Context, product domain.Product) error {
	rec := productModel{
		ProductID: product.ProductID,
		Name:      product.Name,
		UnitPrice: product.UnitPrice,
		Currency:  product.Currency,
		IsActive:  product.IsActive,
		CreatedAt: product.UpdatedAt,
		UpdatedAt: product.UpdatedAt,
	}
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "product_id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"name", "unit_price", "currency", "is_active", "updated_at",
			}),
		}).
		Create(&rec).Error
}
