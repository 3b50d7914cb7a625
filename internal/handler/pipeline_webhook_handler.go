package handler

import (
	"io"
	"net/http"

	"doodles/internal/metrics"
	"doodles/internal/service"
	"doodles/pkg/pipeline"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

const maxPipelineBodyBytes = 1 << 20

// PipelineWebhookHandler receives run results from the generation pipeline.
type PipelineWebhookHandler struct {
	reconciler *service.ReconcileService
	metrics    *metrics.Metrics
	log        *logrus.Logger
}

func NewPipelineWebhookHandler(reconciler *service.ReconcileService, m *metrics.Metrics, log *logrus.Logger) *PipelineWebhookHandler {
	return &PipelineWebhookHandler{reconciler: reconciler, metrics: m, log: log}
}

func (h *PipelineWebhookHandler) Handle(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxPipelineBodyBytes))
	if err != nil {
		h.metrics.Webhooks.WithLabelValues("pipeline", "invalid").Inc()
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid webhook payload"})
		return
	}
	ev, err := pipeline.ParseEvent(body)
	if err != nil {
		h.log.WithError(err).Error("[Pipeline Webhook] failed to parse payload")
		h.metrics.Webhooks.WithLabelValues("pipeline", "invalid").Inc()
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid webhook payload"})
		return
	}
	if err := h.reconciler.HandlePipelineEvent(c.Request.Context(), ev); err != nil {
		h.metrics.Webhooks.WithLabelValues("pipeline", "error").Inc()
		respondError(c, h.log, err)
		return
	}
	h.metrics.Webhooks.WithLabelValues("pipeline", "ok").Inc()
	c.JSON(http.StatusOK, gin.H{"received": true})
}
