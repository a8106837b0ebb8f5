package handlers

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/leozw/health-guardian/internal/core"
)

type RunRequest struct {
	Module string `json:"module"`
}

type ExportRequest struct {
	Format    string     `json:"format"`
	StartDate *time.Time `json:"startDate"`
	EndDate   *time.Time `json:"endDate"`
}

type ReportRequest struct {
	StartDate *time.Time `json:"startDate"`
	EndDate   *time.Time `json:"endDate"`
}

// bindOptionalJSON accepts an empty body.
func bindOptionalJSON(c *gin.Context, dest interface{}) error {
	if err := c.ShouldBindJSON(dest); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func (h *Handler) ListModules(c *gin.Context) {
	success(c, h.health.Modules())
}

func (h *Handler) GetStatus(c *gin.Context) {
	summary, err := h.health.LastSummary(c.Request.Context())
	if err != nil {
		h.respondError(c, err)
		return
	}
	success(c, summary)
}

func (h *Handler) RunChecks(c *gin.Context) {
	var req RunRequest
	if err := bindOptionalJSON(c, &req); err != nil {
		fail(c, http.StatusBadRequest, err.Error())
		return
	}

	var (
		summary *core.SystemHealthSummary
		err     error
	)
	if module := strings.TrimSpace(req.Module); module != "" {
		summary, err = h.health.RunSingle(c.Request.Context(), module)
	} else {
		summary, err = h.health.RunAll(c.Request.Context())
	}
	if err != nil {
		h.respondError(c, err)
		return
	}
	success(c, summary)
}

func (h *Handler) StartScheduler(c *gin.Context) {
	changed, err := h.health.Start()
	if err != nil {
		h.respondError(c, err)
		return
	}
	success(c, gin.H{"changed": changed, "running": h.health.Running()})
}

func (h *Handler) StopScheduler(c *gin.Context) {
	changed, err := h.health.Stop()
	if err != nil {
		h.respondError(c, err)
		return
	}
	success(c, gin.H{"changed": changed, "running": h.health.Running()})
}

func (h *Handler) GetHistory(c *gin.Context) {
	q, ok := historyQuery(c)
	if !ok {
		return
	}
	q.Module = c.Query("module")

	results, err := h.health.History(c.Request.Context(), q)
	if err != nil {
		h.respondError(c, err)
		return
	}
	success(c, results)
}

func (h *Handler) GetModuleHistory(c *gin.Context) {
	q, ok := historyQuery(c)
	if !ok {
		return
	}

	results, err := h.health.ModuleHistory(c.Request.Context(), c.Param("module"), q)
	if err != nil {
		h.respondError(c, err)
		return
	}
	success(c, results)
}

func (h *Handler) Export(c *gin.Context) {
	var req ExportRequest
	if err := bindOptionalJSON(c, &req); err != nil {
		fail(c, http.StatusBadRequest, err.Error())
		return
	}

	blob, err := h.health.Export(c.Request.Context(), req.Format, req.StartDate, req.EndDate)
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.Header("Content-Disposition", `attachment; filename="`+blob.Filename+`"`)
	c.Data(http.StatusOK, blob.ContentType, blob.Data)
}

func (h *Handler) GenerateReport(c *gin.Context) {
	var req ReportRequest
	if err := bindOptionalJSON(c, &req); err != nil {
		fail(c, http.StatusBadRequest, err.Error())
		return
	}

	var start, end time.Time
	if req.StartDate != nil {
		start = *req.StartDate
	}
	if req.EndDate != nil {
		end = *req.EndDate
	}

	report, err := h.health.GenerateReport(c.Request.Context(), start, end)
	if err != nil {
		h.respondError(c, err)
		return
	}
	success(c, report)
}

func (h *Handler) LatestReport(c *gin.Context) {
	report, ok := h.health.LatestReport()
	if !ok {
		fail(c, http.StatusNotFound, "no report generated yet")
		return
	}
	success(c, report)
}

func (h *Handler) ListIncidents(c *gin.Context) {
	if h.incidents == nil {
		fail(c, http.StatusServiceUnavailable, "incident tracking disabled")
		return
	}

	limit, ok := parseLimit(c, 20)
	if !ok {
		return
	}

	success(c, gin.H{
		"active":   h.incidents.Active(),
		"resolved": h.incidents.Resolved(limit),
	})
}

func (h *Handler) Subscribe(c *gin.Context) {
	if h.hub == nil {
		fail(c, http.StatusServiceUnavailable, "realtime updates disabled")
		return
	}
	h.hub.ServeWS(c.Writer, c.Request)
}

// historyQuery parses limit, start and end. It writes a 400 and reports
// false on invalid input.
func historyQuery(c *gin.Context) (core.HistoryQuery, bool) {
	var q core.HistoryQuery

	if raw := c.Query("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			fail(c, http.StatusBadRequest, "invalid limit")
			return q, false
		}
		q.Limit = limit
	}

	for _, p := range []struct {
		name string
		dest **time.Time
	}{
		{"start", &q.Start},
		{"end", &q.End},
	} {
		raw := c.Query(p.name)
		if raw == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			fail(c, http.StatusBadRequest, "invalid "+p.name+" date, expected RFC3339")
			return q, false
		}
		*p.dest = &t
	}
	return q, true
}
