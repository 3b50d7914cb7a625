package payment

import (
	"context"
	"errors"
	"strconv"

	"github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/client"
)

// StripeProvider creates Stripe Checkout sessions in payment mode.
type StripeProvider struct {
	api         *client.API
	frontendURL string
}

func NewStripeProvider(api *client.API, frontendURL string) *StripeProvider {
	return &StripeProvider{api: api, frontendURL: frontendURL}
}

func (p *StripeProvider) CreateCheckout(ctx context.Context, req CheckoutRequest) (*CheckoutSession, error) {
	successURL, cancelURL := ReturnURLs(p.frontendURL, req.Prompt)
	params := &stripe.CheckoutSessionParams{
		Mode:               stripe.String(string(stripe.CheckoutSessionModePayment)),
		PaymentMethodTypes: stripe.StringSlice([]string{"card"}),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				Price:    stripe.String(req.PriceID),
				Quantity: stripe.Int64(1),
			},
		},
		SuccessURL: stripe.String(successURL),
		CancelURL:  stripe.String(cancelURL),
		Metadata: map[string]string{
			MetadataUserID:      req.UserID,
			MetadataCredits:     strconv.Itoa(req.Credits),
			MetadataAmountCents: strconv.Itoa(req.AmountCents),
		},
	}
	if req.Email != "" {
		params.CustomerEmail = stripe.String(req.Email)
	}
	params.Context = ctx

	sess, err := p.api.CheckoutSessions.New(params)
	if err != nil {
		return nil, err
	}
	if sess.URL == "" {
		return nil, errors.New("stripe returned a checkout session without url")
	}
	return &CheckoutSession{ID: sess.ID, URL: sess.URL}, nil
}
