package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
)

type ruleUpdate struct {
	Enabled *bool `json:"enabled" binding:"required"`
}

// parseLimit reads an optional non-negative limit query parameter.
func parseLimit(c *gin.Context, def int) (int, bool) {
	raw := c.Query("limit")
	if raw == "" {
		return def, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		fail(c, http.StatusBadRequest, "invalid limit")
		return 0, false
	}
	return n, true
}

func (h *Handler) GetRemediation(c *gin.Context) {
	if h.remediation == nil {
		fail(c, http.StatusServiceUnavailable, "auto-remediation disabled")
		return
	}
	limit, ok := parseLimit(c, 50)
	if !ok {
		return
	}

	history, err := h.remediation.History(c.Request.Context(), limit)
	if err != nil {
		h.respondError(c, err)
		return
	}
	success(c, gin.H{
		"rules":   h.remediation.Rules(),
		"history": history,
	})
}

func (h *Handler) UpdateRemediationRule(c *gin.Context) {
	if h.remediation == nil {
		fail(c, http.StatusServiceUnavailable, "auto-remediation disabled")
		return
	}
	var req ruleUpdate
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "enabled is required")
		return
	}
	if err := h.remediation.SetEnabled(c.Param("id"), *req.Enabled); err != nil {
		h.respondError(c, err)
		return
	}
	success(c, gin.H{"id": c.Param("id"), "enabled": *req.Enabled})
}

func (h *Handler) GetPerformance(c *gin.Context) {
	if h.performance == nil {
		fail(c, http.StatusServiceUnavailable, "performance monitoring disabled")
		return
	}
	limit, ok := parseLimit(c, 60)
	if !ok {
		return
	}

	resp := gin.H{
		"history":   h.performance.History(limit),
		"aggregate": h.performance.Aggregate(),
		"current":   nil,
	}
	if cur, ok := h.performance.Current(); ok {
		resp["current"] = cur
	}
	success(c, resp)
}
