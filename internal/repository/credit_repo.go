package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"doodles/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var ErrInvalidAmount = errors.New("credit amount must be positive")

// DeductResult reports a conditional debit. NewBalance is only meaningful when Success is true.
type DeductResult struct {
	Success    bool
	NewBalance int
}

// CreditRepository is the credit ledger. Every mutation is a single
// conditional or additive statement so concurrent requests never race.
type CreditRepository struct {
	db *gorm.DB
}

func NewCreditRepository(db *gorm.DB) *CreditRepository {
	return &CreditRepository{db: db}
}

// BalanceOf returns 0 for users that never had credits.
func (r *CreditRepository) BalanceOf(ctx context.Context, userID string) (int, error) {
	var rows []models.UserCredits
	err := r.db.WithContext(ctx).Where("user_id = ?", userID).Limit(1).Find(&rows).Error
	if err != nil {
		return 0, err
	}
	if len(rows) == 0 {
		return 0, nil
	}
	return rows[0].Balance, nil
}

// Deduct decrements the balance only if it covers amount. The balance check
// and the decrement are one UPDATE, so N parallel deducts against a balance
// of K < N succeed exactly K times. NewBalance is read after the UPDATE and
// may already reflect later movements.
func (r *CreditRepository) Deduct(ctx context.Context, userID string, amount int) (DeductResult, error) {
	if amount <= 0 {
		return DeductResult{}, ErrInvalidAmount
	}
	q := r.db.WithContext(ctx).Model(&models.UserCredits{}).
		Where("user_id = ? AND balance >= ?", userID, amount).
		Updates(map[string]interface{}{
			"balance":    gorm.Expr("balance - ?", amount),
			"updated_at": time.Now().UTC(),
		})
	if q.Error != nil {
		return DeductResult{}, fmt.Errorf("deduct credits: %w", q.Error)
	}
	if q.RowsAffected == 0 {
		return DeductResult{}, nil
	}
	balance, err := r.BalanceOf(ctx, userID)
	if err != nil {
		return DeductResult{}, fmt.Errorf("read balance after deduct: %w", err)
	}
	return DeductResult{Success: true, NewBalance: balance}, nil
}

// Refund returns credits taken by a prior Deduct.
func (r *CreditRepository) Refund(ctx context.Context, userID string, amount int) error {
	if err := r.add(ctx, userID, amount); err != nil {
		return fmt.Errorf("refund credits: %w", err)
	}
	return nil
}

// Grant adds purchased credits, creating the balance row on first grant.
func (r *CreditRepository) Grant(ctx context.Context, userID string, amount int) error {
	if err := r.add(ctx, userID, amount); err != nil {
		return fmt.Errorf("grant credits: %w", err)
	}
	return nil
}

func (r *CreditRepository) add(ctx context.Context, userID string, amount int) error {
	if amount <= 0 {
		return ErrInvalidAmount
	}
	now := time.Now().UTC()
	row := models.UserCredits{UserID: userID, Balance: amount, CreatedAt: now, UpdatedAt: now}
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "user_id"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"balance":    gorm.Expr("user_credits.balance + ?", amount),
			"updated_at": now,
		}),
	}).Create(&row).Error
}
