package handler

import (
	"net/http"
	"strconv"

	"doodles/internal/domain"
	"doodles/internal/middleware"
	"doodles/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

type DoodleHandler struct {
	generation *service.GenerationService
	doodles    *service.DoodleService
	log        *logrus.Logger
}

func NewDoodleHandler(generation *service.GenerationService, doodles *service.DoodleService, log *logrus.Logger) *DoodleHandler {
	return &DoodleHandler{generation: generation, doodles: doodles, log: log}
}

type createDoodleRequest struct {
	Prompt *string `json:"prompt"`
}

// Create charges one credit and starts a sketch for the prompt.
func (h *DoodleHandler) Create(c *gin.Context) {
	var req createDoodleRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Prompt == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid prompt"})
		return
	}
	id, err := h.generation.CreateSketch(c.Request.Context(), middleware.GetUserID(c), *req.Prompt)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"doodleId": id})
}

// Generate3D charges the model cost and starts a 3D model job for the doodle.
func (h *DoodleHandler) Generate3D(c *gin.Context) {
	runID, err := h.generation.RequestModel(c.Request.Context(), middleware.GetUserID(c), c.Param("id"))
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "modelRunId": runID})
}

// Status is polled by the client while a job is generating.
func (h *DoodleHandler) Status(c *gin.Context) {
	st, err := h.doodles.Status(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, st)
}

func (h *DoodleHandler) Get(c *gin.Context) {
	d, err := h.doodles.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, d)
}

// List returns the public gallery of generated doodles.
func (h *DoodleHandler) List(c *gin.Context) {
	page, err := strconv.Atoi(c.DefaultQuery("page", "0"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid page"})
		return
	}
	pageSize, err := strconv.Atoi(c.DefaultQuery("pageSize", strconv.Itoa(domain.DefaultPageSize)))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid pageSize"})
		return
	}
	g, err := h.doodles.List(c.Request.Context(), page, pageSize)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, g)
}

func (h *DoodleHandler) Similar(c *gin.Context) {
	list, err := h.doodles.Similar(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"doodles": list})
}
