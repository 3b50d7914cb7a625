package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// UserCredits holds the per-user credit balance. One row per user, created on first grant.
type UserCredits struct {
	ID        string    `gorm:"primaryKey;size:36" json:"id"`
	UserID    string    `gorm:"size:128;not null;uniqueIndex" json:"userId"`
	Balance   int       `gorm:"not null;default:0" json:"balance"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func (UserCredits) TableName() string {
	return "user_credits"
}

func (u *UserCredits) BeforeCreate(tx *gorm.DB) error {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	return nil
}
