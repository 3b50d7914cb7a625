package payment

import (
	"context"
	"fmt"
	"time"
)

// StubProvider skips the hosted checkout in local development: the returned
// URL is the success page. No credits are granted since no webhook follows.
type StubProvider struct {
	FrontendURL string
}

func (s *StubProvider) CreateCheckout(ctx context.Context, req CheckoutRequest) (*CheckoutSession, error) {
	success, _ := ReturnURLs(s.FrontendURL, req.Prompt)
	return &CheckoutSession{
		ID:  fmt.Sprintf("stub_%d_%s", time.Now().UnixNano(), req.UserID),
		URL: success,
	}, nil
}
