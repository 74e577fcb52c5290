package handler

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"transcode-service/config"
	"transcode-service/dto"
	"transcode-service/service"
)

// Http exposes the submission and status surface to the web layer.
type Http struct {
	svc service.Service
	cfg *config.Config
}

func NewHttp(svc service.Service, cfg *config.Config) *Http {
	return &Http{svc: svc, cfg: cfg}
}

func (h *Http) Register(r *gin.Engine) {
	api := r.Group("/api")
	api.POST("/videos", h.createMedia)
	api.DELETE("/videos/:id", h.deleteMedia)
	api.POST("/videos/:id/transcode", h.submitTranscode)
	api.GET("/videos/:id/status", h.getStatus)
	api.POST("/jobs/:id/cancel", h.cancelJob)
	api.POST("/maintenance/requeue-stale", h.requeueStale)

	if h.cfg.Transcode.MediaRoot != "" {
		r.Static("/media", h.cfg.Transcode.MediaRoot)
	}
}

func (h *Http) createMedia(c *gin.Context) {
	var req dto.CreateMediaRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: err.Error()})
		return
	}

	item, err := h.svc.CreateMedia(c.Request.Context(), req)
	if err != nil {
		if errors.Is(err, service.ErrNotMp4) {
			c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, dto.ErrorResponse{Error: err.Error()})
		return
	}

	c.JSON(http.StatusCreated, item)
}

func (h *Http) deleteMedia(c *gin.Context) {
	id, ok := parseId(c)
	if !ok {
		return
	}

	if err := h.svc.DeleteMedia(c.Request.Context(), id); err != nil {
		if errors.Is(err, service.ErrMediaNotFound) {
			c.JSON(http.StatusNotFound, dto.ErrorResponse{Error: err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, dto.ErrorResponse{Error: err.Error()})
		return
	}

	c.Status(http.StatusNoContent)
}

func (h *Http) submitTranscode(c *gin.Context) {
	id, ok := parseId(c)
	if !ok {
		return
	}

	jobId, err := h.svc.Submit(c.Request.Context(), id)
	switch {
	case err == nil:
		c.JSON(http.StatusAccepted, dto.SubmitResponse{JobId: jobId})
	case errors.Is(err, service.ErrAlreadyConverted):
		// Success no-op for the caller.
		c.JSON(http.StatusOK, gin.H{"detail": "already converted"})
	case errors.Is(err, service.ErrJobAlreadyActive):
		c.JSON(http.StatusConflict, dto.SubmitResponse{JobId: jobId})
	case errors.Is(err, service.ErrMediaNotFound):
		c.JSON(http.StatusNotFound, dto.ErrorResponse{Error: err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, dto.ErrorResponse{Error: err.Error()})
	}
}

func (h *Http) getStatus(c *gin.Context) {
	id, ok := parseId(c)
	if !ok {
		return
	}

	status, err := h.svc.GetStatus(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, service.ErrMediaNotFound) {
			c.JSON(http.StatusNotFound, dto.ErrorResponse{Error: err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, dto.ErrorResponse{Error: err.Error()})
		return
	}

	c.JSON(http.StatusOK, status)
}

func (h *Http) cancelJob(c *gin.Context) {
	id, ok := parseId(c)
	if !ok {
		return
	}

	err := h.svc.Cancel(c.Request.Context(), id)
	switch {
	case err == nil:
		c.Status(http.StatusNoContent)
	case errors.Is(err, service.ErrJobNotFound):
		c.JSON(http.StatusNotFound, dto.ErrorResponse{Error: err.Error()})
	case errors.Is(err, service.ErrJobNotActive):
		c.JSON(http.StatusConflict, dto.ErrorResponse{Error: err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, dto.ErrorResponse{Error: err.Error()})
	}
}

func (h *Http) requeueStale(c *gin.Context) {
	olderThan := time.Duration(h.cfg.Transcode.StaleAfterSeconds) * time.Second

	var req dto.RequeueStaleRequest
	if err := c.ShouldBindJSON(&req); err == nil && req.OlderThanSeconds > 0 {
		olderThan = time.Duration(req.OlderThanSeconds) * time.Second
	}

	requeued, err := h.svc.RequeueStale(c.Request.Context(), olderThan)
	if err != nil {
		c.JSON(http.StatusInternalServerError, dto.ErrorResponse{Error: err.Error()})
		return
	}

	c.JSON(http.StatusOK, dto.RequeueStaleResponse{Requeued: requeued})
}

func parseId(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "invalid id"})
		return uuid.Nil, false
	}
	return id, true
}
