package handler

import (
	"io"
	"net/http"

	"doodles/internal/metrics"
	"doodles/internal/service"
	"doodles/pkg/payment"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// StripeWebhookHandler grants credits for completed checkout sessions.
type StripeWebhookHandler struct {
	payments      *service.PaymentService
	webhookSecret string
	metrics       *metrics.Metrics
	log           *logrus.Logger
}

func NewStripeWebhookHandler(payments *service.PaymentService, webhookSecret string, m *metrics.Metrics, log *logrus.Logger) *StripeWebhookHandler {
	return &StripeWebhookHandler{payments: payments, webhookSecret: webhookSecret, metrics: m, log: log}
}

func (h *StripeWebhookHandler) Handle(c *gin.Context) {
	if h.webhookSecret == "" {
		h.log.Error("[Stripe Webhook] STRIPE_WEBHOOK_SECRET is not configured")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Webhook not configured"})
		return
	}
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, payment.MaxWebhookBodyBytes))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid payload"})
		return
	}
	signature := c.GetHeader("Stripe-Signature")
	if signature == "" {
		h.metrics.Webhooks.WithLabelValues("stripe", "invalid").Inc()
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing stripe-signature header"})
		return
	}

	event, err := payment.VerifyEvent(body, signature, h.webhookSecret)
	if err != nil {
		h.log.WithError(err).Warn("[Stripe Webhook] signature verification failed")
		h.metrics.Webhooks.WithLabelValues("stripe", "invalid").Inc()
		respondError(c, h.log, err)
		return
	}

	checkout, ok, err := payment.CompletedCheckoutFromEvent(event)
	if err != nil {
		h.log.WithError(err).WithField("event_id", event.ID).Error("[Stripe Webhook] invalid metadata values")
		h.metrics.Webhooks.WithLabelValues("stripe", "invalid").Inc()
		respondError(c, h.log, err)
		return
	}
	if !ok {
		h.metrics.Webhooks.WithLabelValues("stripe", "ignored").Inc()
		c.JSON(http.StatusOK, gin.H{"received": true})
		return
	}

	if _, err := h.payments.GrantPurchase(c.Request.Context(), checkout); err != nil {
		h.metrics.Webhooks.WithLabelValues("stripe", "error").Inc()
		respondError(c, h.log, err)
		return
	}
	h.metrics.Webhooks.WithLabelValues("stripe", "ok").Inc()
	c.JSON(http.StatusOK, gin.H{"received": true})
}
