package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/leozw/health-guardian/internal/checks"
	"github.com/leozw/health-guardian/internal/config"
	"github.com/leozw/health-guardian/internal/core"
	"github.com/leozw/health-guardian/internal/db"
	"github.com/leozw/health-guardian/internal/health"
	"github.com/leozw/health-guardian/internal/incidents"
	"github.com/leozw/health-guardian/internal/performance"
	"github.com/leozw/health-guardian/internal/remediation"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type stubProbe struct {
	id     string
	status core.ModuleStatus
	score  int
}

func (p *stubProbe) Name() string         { return p.id }
func (p *stubProbe) DisplayName() string  { return strings.ToUpper(p.id) }
func (p *stubProbe) Description() string  { return "stub" }
func (p *stubProbe) CheckNames() []string { return []string{"Stub"} }

func (p *stubProbe) Run(ctx context.Context) *core.ModuleResult {
	return &core.ModuleResult{Module: p.id, DisplayName: p.DisplayName(), Status: p.status, Score: p.score}
}

type pinger struct{ err error }

func (p pinger) Ping(context.Context) error { return p.err }

type togglePeriodic struct{ running bool }

func (f *togglePeriodic) Start() bool {
	if f.running {
		return false
	}
	f.running = true
	return true
}

func (f *togglePeriodic) Stop() bool {
	if !f.running {
		return false
	}
	f.running = false
	return true
}

func (f *togglePeriodic) Running() bool { return f.running }

func (f *togglePeriodic) NextRun() (t time.Time, ok bool) { return t, false }

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
}

func newTestServer(t *testing.T, cfg *config.Config, store *db.MemoryStore) *Server {
	t.Helper()
	reg, err := checks.NewRegistry(
		&stubProbe{id: "database", status: core.StatusHealthy, score: 100},
		&stubProbe{id: "cache", status: core.StatusWarning, score: 70},
	)
	require.NoError(t, err)

	logger := zaptest.NewLogger(t)
	svc := health.NewService(reg, store, logger, health.Options{})
	svc.SetPeriodic(&togglePeriodic{})
	tracker := incidents.NewTracker(logger, nil, 0)
	svc.AddPublisher(tracker)

	engine := remediation.NewEngine([]remediation.Rule{{
		ID:          "cache-degraded",
		Module:      "cache",
		Condition:   remediation.Condition{ScoreBelow: 80},
		Actions:     []remediation.Action{{Type: remediation.ActionNotifyOnly, Description: "Alert"}},
		Enabled:     true,
		MaxAttempts: 1,
		Cooldown:    time.Hour,
	}}, store, logger, remediation.Options{})
	svc.AddPublisher(engine)
	engine.Start()
	t.Cleanup(engine.Close)

	auto := Automation{
		Remediation: engine,
		Performance: performance.NewMonitor(prometheus.NewRegistry(), svc, logger, performance.Options{}),
	}

	if cfg == nil {
		cfg = &config.Config{}
		cfg.Auth.RateLimit = 100
		cfg.Auth.RateBurst = 100
	}
	return NewServer(cfg, svc, tracker, pinger{}, nil, http.NotFoundHandler(), auto, logger)
}

func do(t *testing.T, s *Server, method, path, body string) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	rec := httptest.NewRecorder()
	s.Router.ServeHTTP(rec, req)

	var env envelope
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		_ = json.Unmarshal(rec.Body.Bytes(), &env)
	}
	return rec, env
}

func TestHealthAndReady(t *testing.T) {
	s := newTestServer(t, nil, db.NewMemoryStore())

	rec, _ := do(t, s, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec, _ = do(t, s, http.MethodGet, "/ready", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	s.Store = pinger{err: errors.New("down")}
	s.Router = gin.New()
	s.setupRoutes()
	rec, _ = do(t, s, http.MethodGet, "/ready", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestListModules(t *testing.T) {
	s := newTestServer(t, nil, db.NewMemoryStore())

	rec, env := do(t, s, http.MethodGet, "/api/v1/health-check/modules", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, env.Success)

	var modules []checks.ModuleInfo
	require.NoError(t, json.Unmarshal(env.Data, &modules))
	require.Len(t, modules, 2)
	assert.Equal(t, "database", modules[0].ID)
}

func TestStatusAndRun(t *testing.T) {
	s := newTestServer(t, nil, db.NewMemoryStore())

	rec, env := do(t, s, http.MethodGet, "/api/v1/health-check/status", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var summary core.SystemHealthSummary
	require.NoError(t, json.Unmarshal(env.Data, &summary))
	assert.Equal(t, 85, summary.OverallScore)
	assert.Equal(t, core.StatusWarning, summary.Overall)
	assert.Len(t, summary.Modules, 2)

	rec, env = do(t, s, http.MethodPost, "/api/v1/health-check/run", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(env.Data, &summary))
	assert.Len(t, summary.Modules, 2)

	rec, env = do(t, s, http.MethodPost, "/api/v1/health-check/run", `{"module":"redis"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(env.Data, &summary))
	assert.Len(t, summary.Modules, 2)

	rec, env = do(t, s, http.MethodPost, "/api/v1/health-check/run", `{"module":"ftp"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.False(t, env.Success)

	rec, _ = do(t, s, http.MethodPost, "/api/v1/health-check/run", `{"module":`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStartStop(t *testing.T) {
	s := newTestServer(t, nil, db.NewMemoryStore())

	type toggle struct {
		Changed bool `json:"changed"`
		Running bool `json:"running"`
	}
	check := func(path string, want toggle) {
		rec, env := do(t, s, http.MethodPost, path, "")
		require.Equal(t, http.StatusOK, rec.Code)
		var got toggle
		require.NoError(t, json.Unmarshal(env.Data, &got))
		assert.Equal(t, want, got, path)
	}

	check("/api/v1/health-check/start", toggle{Changed: true, Running: true})
	check("/api/v1/health-check/start", toggle{Changed: false, Running: true})
	check("/api/v1/health-check/stop", toggle{Changed: true, Running: false})
	check("/api/v1/health-check/stop", toggle{Changed: false, Running: false})
}

func TestHistoryEndpoints(t *testing.T) {
	s := newTestServer(t, nil, db.NewMemoryStore())
	do(t, s, http.MethodPost, "/api/v1/health-check/run", "")
	do(t, s, http.MethodPost, "/api/v1/health-check/run", "")

	rec, env := do(t, s, http.MethodGet, "/api/v1/health-check/history?limit=3", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var results []core.PersistedResult
	require.NoError(t, json.Unmarshal(env.Data, &results))
	assert.Len(t, results, 3)

	rec, env = do(t, s, http.MethodGet, "/api/v1/health-check/history/redis", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(env.Data, &results))
	assert.Len(t, results, 2)
	for _, r := range results {
		assert.Equal(t, "cache", r.Module)
	}

	rec, _ = do(t, s, http.MethodGet, "/api/v1/health-check/history/ftp", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec, _ = do(t, s, http.MethodGet, "/api/v1/health-check/history?limit=abc", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = do(t, s, http.MethodGet, "/api/v1/health-check/history?start=yesterday", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, env = do(t, s, http.MethodGet, "/api/v1/health-check/history?start=2000-01-01T00:00:00Z&end=2000-01-02T00:00:00Z", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(env.Data, &results))
	assert.Empty(t, results)
}

func TestExportEndpoint(t *testing.T) {
	s := newTestServer(t, nil, db.NewMemoryStore())
	do(t, s, http.MethodPost, "/api/v1/health-check/run", "")

	rec, _ := do(t, s, http.MethodPost, "/api/v1/health-check/export", `{"format":"csv"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/csv", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "health-check-export.csv")
	lines := strings.Split(strings.TrimSpace(rec.Body.String()), "\n")
	assert.Len(t, lines, 3)

	rec, _ = do(t, s, http.MethodPost, "/api/v1/health-check/export", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var records []core.PersistedResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &records))
	assert.Len(t, records, 2)

	rec, _ = do(t, s, http.MethodPost, "/api/v1/health-check/export", `{"format":"xml"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestReportEndpoints(t *testing.T) {
	s := newTestServer(t, nil, db.NewMemoryStore())

	rec, _ := do(t, s, http.MethodGet, "/api/v1/health-check/report/latest", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec, _ = do(t, s, http.MethodPost, "/api/v1/health-check/report", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	do(t, s, http.MethodPost, "/api/v1/health-check/run", "")

	rec, env := do(t, s, http.MethodPost, "/api/v1/health-check/report", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var report core.HealthReport
	require.NoError(t, json.Unmarshal(env.Data, &report))
	assert.Equal(t, 2, report.TotalSamples)

	rec, _ = do(t, s, http.MethodGet, "/api/v1/health-check/report/latest", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec, _ = do(t, s, http.MethodPost, "/api/v1/health-check/report",
		`{"startDate":"2026-01-02T00:00:00Z","endDate":"2026-01-01T00:00:00Z"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestIncidentsEndpoint(t *testing.T) {
	s := newTestServer(t, nil, db.NewMemoryStore())
	do(t, s, http.MethodPost, "/api/v1/health-check/run", "")

	rec, env := do(t, s, http.MethodGet, "/api/v1/health-check/incidents", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Active   []incidents.Incident `json:"active"`
		Resolved []incidents.Incident `json:"resolved"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &body))
	require.Len(t, body.Active, 1)
	assert.Equal(t, "cache", body.Active[0].Module)
	assert.Empty(t, body.Resolved)

	rec, _ = do(t, s, http.MethodGet, "/api/v1/health-check/incidents?limit=x", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRemediationEndpoints(t *testing.T) {
	s := newTestServer(t, nil, db.NewMemoryStore())
	do(t, s, http.MethodPost, "/api/v1/health-check/run", "")

	var body struct {
		Rules   []remediation.Rule       `json:"rules"`
		History []core.RemediationRecord `json:"history"`
	}
	require.Eventually(t, func() bool {
		rec, env := do(t, s, http.MethodGet, "/api/v1/health-check/remediation", "")
		require.Equal(t, http.StatusOK, rec.Code)
		require.NoError(t, json.Unmarshal(env.Data, &body))
		return len(body.History) == 1
	}, time.Second, 10*time.Millisecond)
	require.Len(t, body.Rules, 1)
	assert.Equal(t, "cache-degraded", body.History[0].RuleID)
	assert.True(t, body.History[0].Success)

	rec, env := do(t, s, http.MethodPut, "/api/v1/health-check/remediation/rules/cache-degraded", `{"enabled":false}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"id":"cache-degraded","enabled":false}`, string(env.Data))
	assert.False(t, s.Automation.Remediation.Rules()[0].Enabled)

	rec, _ = do(t, s, http.MethodPut, "/api/v1/health-check/remediation/rules/missing", `{"enabled":true}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec, _ = do(t, s, http.MethodPut, "/api/v1/health-check/remediation/rules/cache-degraded", `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = do(t, s, http.MethodGet, "/api/v1/health-check/remediation?limit=-1", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPerformanceEndpoint(t *testing.T) {
	s := newTestServer(t, nil, db.NewMemoryStore())

	rec, env := do(t, s, http.MethodGet, "/api/v1/health-check/performance", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Current *performance.Sample  `json:"current"`
		History []performance.Sample `json:"history"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &body))
	assert.Nil(t, body.Current)
	assert.Empty(t, body.History)

	do(t, s, http.MethodPost, "/api/v1/health-check/run", "")
	_, err := s.Automation.Performance.Sample(context.Background())
	require.NoError(t, err)

	rec, env = do(t, s, http.MethodGet, "/api/v1/health-check/performance", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(env.Data, &body))
	require.NotNil(t, body.Current)
	assert.Equal(t, 2, body.Current.Checks.Runs)
	assert.Len(t, body.History, 1)
}

func TestAutomationDisabled(t *testing.T) {
	logger := zaptest.NewLogger(t)
	reg, err := checks.NewRegistry(&stubProbe{id: "database", status: core.StatusHealthy, score: 100})
	require.NoError(t, err)
	cfg := &config.Config{}
	cfg.Auth.RateLimit = 100
	cfg.Auth.RateBurst = 100
	svc := health.NewService(reg, db.NewMemoryStore(), logger, health.Options{})
	s := NewServer(cfg, svc, nil, nil, nil, nil, Automation{}, logger)

	for _, path := range []string{"/api/v1/health-check/remediation", "/api/v1/health-check/performance"} {
		rec, _ := do(t, s, http.MethodGet, path, "")
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code, path)
	}
}

func TestSubscribeWithoutHub(t *testing.T) {
	s := newTestServer(t, nil, db.NewMemoryStore())
	rec, _ := do(t, s, http.MethodGet, "/api/v1/health-check/ws", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestAuthEnabled(t *testing.T) {
	cfg := &config.Config{}
	cfg.Auth.JWTSecret = "0123456789abcdef0123456789abcdef"
	cfg.Auth.RateLimit = 10
	cfg.Auth.RateBurst = 10
	s := newTestServer(t, cfg, db.NewMemoryStore())

	rec, _ := do(t, s, http.MethodGet, "/api/v1/health-check/modules", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec, _ = do(t, s, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}
