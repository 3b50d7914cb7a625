package handler

import (
	"net/http"

	"doodles/internal/middleware"
	"doodles/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

type CheckoutHandler struct {
	payments *service.PaymentService
	log      *logrus.Logger
}

func NewCheckoutHandler(payments *service.PaymentService, log *logrus.Logger) *CheckoutHandler {
	return &CheckoutHandler{payments: payments, log: log}
}

type checkoutRequest struct {
	PriceID string `json:"priceId" binding:"required"`
	Prompt  string `json:"prompt"`
}

// Create starts a hosted checkout for a credit pack and returns its URL.
func (h *CheckoutHandler) Create(c *gin.Context) {
	var req checkoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}
	url, err := h.payments.CreateCheckout(c.Request.Context(), middleware.GetUserID(c), middleware.GetEmail(c), req.PriceID, req.Prompt)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"url": url})
}
