package handler

import (
	"errors"
	"net/http"

	"doodles/internal/domain"
	"doodles/pkg/pipeline"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// respondError maps service errors to HTTP responses. Unknown errors are
// logged and reported as a generic 500.
func respondError(c *gin.Context, log *logrus.Logger, err error) {
	var gwErr *pipeline.GatewayError
	switch {
	case errors.Is(err, domain.ErrInsufficientCredits):
		c.JSON(http.StatusPaymentRequired, gin.H{"error": "Insufficient credits"})
	case errors.Is(err, domain.ErrAlreadyGenerating):
		c.JSON(http.StatusConflict, gin.H{"error": "Model already generating"})
	case errors.Is(err, domain.ErrAlreadyGenerated):
		c.JSON(http.StatusConflict, gin.H{"error": "Model already exists"})
	case errors.Is(err, domain.ErrDoodleNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Doodle not found"})
	case errors.Is(err, domain.ErrNoImage):
		c.JSON(http.StatusBadRequest, gin.H{"error": "Doodle has no image"})
	case errors.Is(err, domain.ErrInvalidPrompt):
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid prompt"})
	case errors.Is(err, domain.ErrUnknownPrice):
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid price ID"})
	case errors.Is(err, domain.ErrInvalidPagination):
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid pagination"})
	case errors.Is(err, domain.ErrInvalidPayload):
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid payload"})
	case errors.Is(err, domain.ErrInvalidSignature):
		c.JSON(http.StatusBadRequest, gin.H{"error": "Webhook signature verification failed"})
	case errors.As(err, &gwErr):
		log.WithError(err).Error("[Pipeline] gateway error")
		c.JSON(http.StatusBadGateway, gin.H{"error": "Pipeline API error"})
	default:
		log.WithError(err).WithField("path", c.Request.URL.Path).Error("unhandled error")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
	}
}
