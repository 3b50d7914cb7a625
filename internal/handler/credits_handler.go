package handler

import (
	"net/http"

	"doodles/internal/middleware"
	"doodles/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

type CreditsHandler struct {
	payments *service.PaymentService
	log      *logrus.Logger
}

func NewCreditsHandler(payments *service.PaymentService, log *logrus.Logger) *CreditsHandler {
	return &CreditsHandler{payments: payments, log: log}
}

// Get returns the current user's balance and whether they ever bought credits.
func (h *CreditsHandler) Get(c *gin.Context) {
	sum, err := h.payments.Credits(c.Request.Context(), middleware.GetUserID(c))
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, sum)
}
