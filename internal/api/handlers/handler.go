package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/leozw/health-guardian/internal/health"
	"github.com/leozw/health-guardian/internal/incidents"
	"github.com/leozw/health-guardian/internal/performance"
	"github.com/leozw/health-guardian/internal/realtime"
	"github.com/leozw/health-guardian/internal/remediation"
)

// Pinger reports whether a backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

type Handler struct {
	health      *health.Service
	incidents   *incidents.Tracker
	store       Pinger
	hub         *realtime.Hub
	remediation *remediation.Engine
	performance *performance.Monitor
	logger      *zap.Logger
}

// NewHandler builds the API handlers. tracker, store and hub may be nil.
func NewHandler(svc *health.Service, tracker *incidents.Tracker, store Pinger, hub *realtime.Hub, logger *zap.Logger) *Handler {
	return &Handler{
		health:    svc,
		incidents: tracker,
		store:     store,
		hub:       hub,
		logger:    logger,
	}
}

func (h *Handler) SetRemediation(e *remediation.Engine)  { h.remediation = e }
func (h *Handler) SetPerformance(m *performance.Monitor) { h.performance = m }

func success(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    data,
	})
}

func fail(c *gin.Context, status int, message string) {
	c.JSON(status, gin.H{
		"success": false,
		"error":   message,
	})
}

// respondError maps service errors to HTTP statuses.
func (h *Handler) respondError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, health.ErrSweepInProgress):
		fail(c, http.StatusConflict, err.Error())
	case errors.Is(err, health.ErrUnknownModule):
		fail(c, http.StatusNotFound, err.Error())
	case errors.Is(err, health.ErrUnsupportedFormat), errors.Is(err, health.ErrInvalidPeriod):
		fail(c, http.StatusBadRequest, err.Error())
	case errors.Is(err, health.ErrNoHistory):
		fail(c, http.StatusNotFound, err.Error())
	case errors.Is(err, remediation.ErrUnknownRule):
		fail(c, http.StatusNotFound, err.Error())
	case errors.Is(err, health.ErrNoScheduler):
		fail(c, http.StatusServiceUnavailable, err.Error())
	default:
		h.logger.Error("Request failed",
			zap.String("path", c.FullPath()),
			zap.Error(err),
		)
		fail(c, http.StatusInternalServerError, "Internal server error")
	}
}
