package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// CreditPurchase records one reconciled checkout session. The unique session
// id is the idempotency key for the credit grant.
type CreditPurchase struct {
	ID                      string    `gorm:"primaryKey;size:36" json:"id"`
	UserID                  string    `gorm:"size:128;not null;index" json:"userId"`
	AmountCents             int       `gorm:"not null" json:"amountCents"`
	CreditsGranted          int       `gorm:"not null" json:"creditsGranted"`
	StripeCheckoutSessionID string    `gorm:"size:255;not null;uniqueIndex" json:"stripeCheckoutSessionId"`
	CreatedAt               time.Time `json:"createdAt"`
}

func (CreditPurchase) TableName() string {
	return "credit_purchases"
}

func (p *CreditPurchase) BeforeCreate(tx *gorm.DB) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	return nil
}
