package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"doodles/internal/domain"
	"doodles/internal/events"
	"doodles/internal/metrics"
	"doodles/internal/models"
	"doodles/internal/repository"
	"doodles/pkg/payment"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// CreditsSummary is what the client shows next to the generate button.
type CreditsSummary struct {
	Balance      int  `json:"balance"`
	HasPurchased bool `json:"hasPurchased"`
}

// PaymentService sells credit packs and grants them once payment completes.
type PaymentService struct {
	store    *repository.Store
	provider payment.Provider
	env      string
	log      *logrus.Logger
	notify   *notifier
}

func NewPaymentService(
	store *repository.Store,
	provider payment.Provider,
	env string,
	publisher events.Publisher,
	m *metrics.Metrics,
	log *logrus.Logger,
) *PaymentService {
	now := func() time.Time { return time.Now().UTC() }
	return &PaymentService{
		store:    store,
		provider: provider,
		env:      env,
		log:      log,
		notify:   &notifier{publisher: publisher, metrics: m, log: log, now: now},
	}
}

func (s *PaymentService) Credits(ctx context.Context, userID string) (*CreditsSummary, error) {
	balance, err := s.store.Credits.BalanceOf(ctx, userID)
	if err != nil {
		return nil, err
	}
	purchased, err := s.store.Purchases.HasPurchased(ctx, userID)
	if err != nil {
		return nil, err
	}
	return &CreditsSummary{Balance: balance, HasPurchased: purchased}, nil
}

// CreateCheckout starts a hosted checkout for the pack sold under priceID and
// returns the URL to redirect the user to.
func (s *PaymentService) CreateCheckout(ctx context.Context, userID, email, priceID, prompt string) (string, error) {
	pack, ok := domain.CreditPackByPriceID(s.env, priceID)
	if !ok {
		return "", domain.ErrUnknownPrice
	}
	sess, err := s.provider.CreateCheckout(ctx, payment.CheckoutRequest{
		UserID:      userID,
		Email:       email,
		PriceID:     pack.PriceID,
		Credits:     pack.Credits,
		AmountCents: pack.AmountCents,
		Prompt:      prompt,
	})
	if err != nil {
		return "", fmt.Errorf("create checkout session: %w", err)
	}
	s.log.WithFields(logrus.Fields{"user_id": userID, "price_id": priceID, "session_id": sess.ID}).
		Info("[Checkout] session created")
	return sess.URL, nil
}

// GrantPurchase credits a completed checkout exactly once. The purchase row is
// keyed by the checkout session id; a repeated delivery hits the unique key,
// rolls back and reports granted=false. A checkout carrying no credits is
// acknowledged without a grant.
func (s *PaymentService) GrantPurchase(ctx context.Context, c payment.CompletedCheckout) (granted bool, err error) {
	if c.Credits <= 0 || c.AmountCents < 0 {
		// Signed by Stripe, so a retry would carry the same metadata.
		s.log.WithFields(logrus.Fields{
			"user_id":      c.UserID,
			"session_id":   c.SessionID,
			"credits":      c.Credits,
			"amount_cents": c.AmountCents,
		}).Warn("[Stripe Webhook] nothing to grant, acknowledging")
		return false, nil
	}
	err = s.store.Transaction(ctx, func(tx *repository.Store) error {
		if err := tx.Purchases.Create(ctx, &models.CreditPurchase{
			UserID:                  c.UserID,
			AmountCents:             c.AmountCents,
			CreditsGranted:          c.Credits,
			StripeCheckoutSessionID: c.SessionID,
		}); err != nil {
			return err
		}
		return tx.Credits.Grant(ctx, c.UserID, c.Credits)
	})
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		s.log.WithField("session_id", c.SessionID).Info("[Stripe Webhook] checkout session already granted")
		return false, nil
	}
	if err != nil {
		return false, err
	}
	s.log.WithFields(logrus.Fields{
		"user_id":    c.UserID,
		"session_id": c.SessionID,
		"credits":    c.Credits,
	}).Info("[Stripe Webhook] credits granted")
	s.notify.granted(ctx, c.UserID, c.Credits)
	return true, nil
}
