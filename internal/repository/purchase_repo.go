package repository

import (
	"context"

	"doodles/internal/models"

	"gorm.io/gorm"
)

type PurchaseRepository struct {
	db *gorm.DB
}

func NewPurchaseRepository(db *gorm.DB) *PurchaseRepository {
	return &PurchaseRepository{db: db}
}

// Create inserts a purchase record. It returns gorm.ErrDuplicatedKey when the
// checkout session was already recorded.
func (r *PurchaseRepository) Create(ctx context.Context, p *models.CreditPurchase) error {
	return r.db.WithContext(ctx).Create(p).Error
}

func (r *PurchaseRepository) HasPurchased(ctx context.Context, userID string) (bool, error) {
	var rows []models.CreditPurchase
	err := r.db.WithContext(ctx).Select("id").Where("user_id = ?", userID).Limit(1).Find(&rows).Error
	return len(rows) > 0, err
}
