package payment

import (
	"encoding/json"
	"fmt"
	"strconv"

	"doodles/internal/domain"

	"github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/webhook"
)

// MaxWebhookBodyBytes caps how much of a webhook body is read.
const MaxWebhookBodyBytes = int64(65536)

const EventCheckoutSessionCompleted = "checkout.session.completed"

// CompletedCheckout is a paid credit purchase recovered from a webhook.
type CompletedCheckout struct {
	SessionID   string
	UserID      string
	Credits     int
	AmountCents int
}

// VerifyEvent checks the Stripe-Signature header against secret and decodes the event.
func VerifyEvent(body []byte, signature, secret string) (stripe.Event, error) {
	event, err := webhook.ConstructEventWithOptions(body, signature, secret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return stripe.Event{}, fmt.Errorf("%w: %v", domain.ErrInvalidSignature, err)
	}
	return event, nil
}

// CompletedCheckoutFromEvent extracts the purchase from a
// checkout.session.completed event. ok is false for other event types and for
// sessions not created by this service (any metadata key missing).
func CompletedCheckoutFromEvent(event stripe.Event) (c CompletedCheckout, ok bool, err error) {
	if string(event.Type) != EventCheckoutSessionCompleted {
		return CompletedCheckout{}, false, nil
	}
	var sess stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &sess); err != nil {
		return CompletedCheckout{}, false, fmt.Errorf("%w: %v", domain.ErrInvalidPayload, err)
	}
	userID := sess.Metadata[MetadataUserID]
	credits := sess.Metadata[MetadataCredits]
	amount := sess.Metadata[MetadataAmountCents]
	if userID == "" || credits == "" || amount == "" {
		return CompletedCheckout{}, false, nil
	}

	creditsN, err := strconv.Atoi(credits)
	if err != nil {
		return CompletedCheckout{}, false, fmt.Errorf("%w: credits %q", domain.ErrInvalidPayload, credits)
	}
	amountN, err := strconv.Atoi(amount)
	if err != nil {
		return CompletedCheckout{}, false, fmt.Errorf("%w: amountCents %q", domain.ErrInvalidPayload, amount)
	}
	return CompletedCheckout{
		SessionID:   sess.ID,
		UserID:      userID,
		Credits:     creditsN,
		AmountCents: amountN,
	}, true, nil
}
