package repository

import (
	"context"

	"gorm.io/gorm"
)

// Store bundles the repositories over one connection, or over one transaction
// inside Transaction.
type Store struct {
	db        *gorm.DB
	Credits   *CreditRepository
	Doodles   *DoodleRepository
	Purchases *PurchaseRepository
}

func NewStore(db *gorm.DB) *Store {
	return &Store{
		db:        db,
		Credits:   NewCreditRepository(db),
		Doodles:   NewDoodleRepository(db),
		Purchases: NewPurchaseRepository(db),
	}
}

// Transaction runs fn with repositories bound to a single database
// transaction. Returning an error rolls everything back.
func (s *Store) Transaction(ctx context.Context, fn func(tx *Store) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(NewStore(tx))
	})
}

// DB exposes the underlying handle for health checks and tests.
func (s *Store) DB() *gorm.DB {
	return s.db
}
