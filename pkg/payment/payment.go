package payment

import (
	"context"
	"net/url"
)

// CheckoutRequest describes a one-off credit pack purchase.
type CheckoutRequest struct {
	UserID      string
	Email       string
	PriceID     string
	Credits     int
	AmountCents int
	// Prompt is carried back to the frontend on the success and cancel URLs.
	Prompt string
}

type CheckoutSession struct {
	ID  string
	URL string
}

// Provider creates hosted checkout sessions.
type Provider interface {
	CreateCheckout(ctx context.Context, req CheckoutRequest) (*CheckoutSession, error)
}

// Metadata keys stamped on a session and read back by the webhook.
const (
	MetadataUserID      = "userId"
	MetadataCredits     = "credits"
	MetadataAmountCents = "amountCents"
)

// ReturnURLs builds the success and cancel URLs for a checkout started from frontendURL.
func ReturnURLs(frontendURL, prompt string) (success, cancel string) {
	success = frontendURL + "/?purchase=success"
	cancel = frontendURL + "/?purchase=cancel"
	if prompt != "" {
		q := "&prompt=" + url.QueryEscape(prompt)
		success += q
		cancel += q
	}
	return success, cancel
}
