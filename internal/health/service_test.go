package health

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/leozw/health-guardian/internal/checks"
	"github.com/leozw/health-guardian/internal/core"
	"github.com/leozw/health-guardian/internal/db"
)

type stubProbe struct {
	id  string
	run func(ctx context.Context) *core.ModuleResult
}

func (p *stubProbe) Name() string         { return p.id }
func (p *stubProbe) DisplayName() string  { return "Module " + p.id }
func (p *stubProbe) Description() string  { return "stub " + p.id }
func (p *stubProbe) CheckNames() []string { return []string{"Stub Check"} }

func (p *stubProbe) Run(ctx context.Context) *core.ModuleResult {
	return p.run(ctx)
}

func fixed(id string, status core.ModuleStatus, score int) func(context.Context) *core.ModuleResult {
	return func(context.Context) *core.ModuleResult {
		r := moduleResult(id, status, score)
		r.Checks = []core.CheckOutcome{{Description: "Stub Check", Status: core.CheckPass}}
		return &r
	}
}

var moduleIDs = []string{"auth", "database", "cache", "websocket", "email", "notification", "backup", "chat", "payment", "ai", "request"}

func stubProbes() map[string]*stubProbe {
	out := make(map[string]*stubProbe, len(moduleIDs))
	for _, id := range moduleIDs {
		out[id] = &stubProbe{id: id, run: fixed(id, core.StatusHealthy, 100)}
	}
	return out
}

func newTestService(t *testing.T, probes map[string]*stubProbe, sink Sink, opts Options) *Service {
	t.Helper()
	list := make([]checks.Probe, 0, len(moduleIDs))
	for _, id := range moduleIDs {
		list = append(list, probes[id])
	}
	reg, err := checks.NewRegistry(list...)
	require.NoError(t, err)
	return NewService(reg, sink, zaptest.NewLogger(t), opts)
}

type recordingPublisher struct {
	mu        sync.Mutex
	summaries []*core.SystemHealthSummary
}

func (p *recordingPublisher) Publish(ctx context.Context, s *core.SystemHealthSummary) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.summaries = append(p.summaries, s)
	return nil
}

type failingSink struct{ *db.MemoryStore }

func (f *failingSink) SaveResult(context.Context, *core.ModuleResult) error {
	return errors.New("disk full")
}

func (f *failingSink) SaveSummary(context.Context, *core.SystemHealthSummary) error {
	return errors.New("disk full")
}

func TestLastSummaryBootstrapsFullSweep(t *testing.T) {
	reg := checks.DefaultRegistry(checks.Deps{CheckTimeout: time.Second})
	svc := NewService(reg, db.NewMemoryStore(), zaptest.NewLogger(t), Options{})

	s, err := svc.LastSummary(context.Background())
	require.NoError(t, err)
	assert.Len(t, s.Modules, 11)
	assert.Equal(t, 11, s.Statistics.TotalModules)
	assert.NotEmpty(t, s.SweepID)

	again, err := svc.LastSummary(context.Background())
	require.NoError(t, err)
	assert.Equal(t, s.SweepID, again.SweepID)
}

func TestRunAllSingleCriticalModule(t *testing.T) {
	probes := stubProbes()
	probes["database"].run = fixed("database", core.StatusCritical, 30)
	svc := newTestService(t, probes, db.NewMemoryStore(), Options{})

	s, err := svc.RunAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, core.StatusCritical, s.Overall)
	require.Len(t, s.Alerts, 1)
	assert.Equal(t, "database", s.Alerts[0].Module)

	for i, m := range s.Modules {
		assert.Equal(t, moduleIDs[i], m.Module)
	}
}

func TestRunSinglePatchesOnlyTargetModule(t *testing.T) {
	probes := stubProbes()
	store := db.NewMemoryStore()
	svc := newTestService(t, probes, store, Options{})
	ctx := context.Background()

	before, err := svc.RunAll(ctx)
	require.NoError(t, err)
	require.Equal(t, core.StatusHealthy, before.Overall)

	probes["cache"].run = func(ctx context.Context) *core.ModuleResult {
		return checks.ErrorResult("cache", "Redis Cache", errors.New("connection refused"))
	}
	after, err := svc.RunSingle(ctx, "cache")
	require.NoError(t, err)

	require.Len(t, after.Modules, len(before.Modules))
	for i, m := range after.Modules {
		if m.Module == "cache" {
			assert.Equal(t, core.StatusError, m.Status)
			continue
		}
		assert.Equal(t, before.Modules[i], m)
	}
	assert.Equal(t, core.StatusCritical, after.Overall)
	require.Len(t, after.Alerts, 1)
	assert.Equal(t, "cache", after.Alerts[0].Module)

	last, err := svc.LastSummary(ctx)
	require.NoError(t, err)
	assert.Equal(t, after.SweepID, last.SweepID)

	cached, ok := svc.cache.Get("cache")
	require.True(t, ok)
	assert.Equal(t, core.StatusError, cached.Status)
}

func TestRunSingleIsIdempotent(t *testing.T) {
	svc := newTestService(t, stubProbes(), db.NewMemoryStore(), Options{})
	ctx := context.Background()

	first, err := svc.RunSingle(ctx, "chat")
	require.NoError(t, err)
	second, err := svc.RunSingle(ctx, "chat")
	require.NoError(t, err)

	assert.Len(t, first.Modules, 11)
	assert.Len(t, second.Modules, 11)
	count := 0
	for _, m := range second.Modules {
		if m.Module == "chat" {
			count++
		}
	}
	assert.Equal(t, 1, count)
	assert.Equal(t, first.OverallScore, second.OverallScore)
	assert.Equal(t, first.Statistics, second.Statistics)
}

func TestRunSingleAcceptsAliases(t *testing.T) {
	svc := newTestService(t, stubProbes(), db.NewMemoryStore(), Options{})

	s, err := svc.RunSingle(context.Background(), "redis")
	require.NoError(t, err)
	_, ok := s.Module("cache")
	assert.True(t, ok)
}

func TestRunSingleUnknownModule(t *testing.T) {
	store := db.NewMemoryStore()
	svc := newTestService(t, stubProbes(), store, Options{})

	_, err := svc.RunSingle(context.Background(), "nonexistent")
	assert.ErrorIs(t, err, ErrUnknownModule)

	results, err := store.ListResults(context.Background(), core.HistoryQuery{Limit: 100})
	require.NoError(t, err)
	assert.Empty(t, results)
	assert.Equal(t, 0, svc.cache.Len())
}

func TestConcurrentRunAllConflicts(t *testing.T) {
	probes := stubProbes()
	started := make(chan struct{})
	release := make(chan struct{})
	probes["auth"].run = func(ctx context.Context) *core.ModuleResult {
		close(started)
		<-release
		return fixed("auth", core.StatusHealthy, 100)(ctx)
	}
	svc := newTestService(t, probes, db.NewMemoryStore(), Options{})
	ctx := context.Background()

	type outcome struct {
		s   *core.SystemHealthSummary
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		s, err := svc.RunAll(ctx)
		done <- outcome{s, err}
	}()
	<-started

	_, err := svc.RunAll(ctx)
	assert.ErrorIs(t, err, ErrSweepInProgress)
	_, err = svc.RunSingle(ctx, "chat")
	assert.ErrorIs(t, err, ErrSweepInProgress)

	close(release)
	first := <-done
	require.NoError(t, first.err)

	last, err := svc.LastSummary(ctx)
	require.NoError(t, err)
	assert.Equal(t, first.s.SweepID, last.SweepID)
	assert.Len(t, last.Modules, 11)
}

func TestCancelledCallerDoesNotAbortSweep(t *testing.T) {
	probes := stubProbes()
	for _, id := range moduleIDs {
		healthy := fixed(id, core.StatusHealthy, 100)
		probes[id].run = func(ctx context.Context) *core.ModuleResult {
			if err := ctx.Err(); err != nil {
				return checks.ErrorResult(id, "Module "+id, err)
			}
			return healthy(ctx)
		}
	}
	store := db.NewMemoryStore()
	pub := &recordingPublisher{}
	svc := newTestService(t, probes, store, Options{})
	svc.AddPublisher(pub)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	s, err := svc.RunAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, core.StatusHealthy, s.Overall)
	assert.Equal(t, 0, s.Statistics.ErrorModules)

	s, err = svc.RunSingle(ctx, "cache")
	require.NoError(t, err)
	assert.Equal(t, core.StatusHealthy, s.Overall)

	last, err := svc.LastSummary(context.Background())
	require.NoError(t, err)
	assert.Equal(t, core.StatusHealthy, last.Overall)
	assert.Empty(t, last.Alerts)

	results, err := store.ListResults(context.Background(), core.HistoryQuery{Limit: 100})
	require.NoError(t, err)
	assert.Len(t, results, 12)
	for _, r := range results {
		assert.Equal(t, core.StatusHealthy, r.Status)
	}
	require.Len(t, pub.summaries, 2)
}

func TestLastSummaryWaitsForRunInFlight(t *testing.T) {
	probes := stubProbes()
	started := make(chan struct{})
	release := make(chan struct{})
	probes["auth"].run = func(ctx context.Context) *core.ModuleResult {
		close(started)
		<-release
		return fixed("auth", core.StatusHealthy, 100)(ctx)
	}
	svc := newTestService(t, probes, db.NewMemoryStore(), Options{})

	swept := make(chan *core.SystemHealthSummary, 1)
	go func() {
		s, err := svc.RunScheduled(context.Background())
		assert.NoError(t, err)
		swept <- s
	}()
	<-started

	waitCtx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := svc.LastSummary(waitCtx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	type outcome struct {
		s   *core.SystemHealthSummary
		err error
	}
	waited := make(chan outcome, 1)
	go func() {
		s, err := svc.LastSummary(context.Background())
		waited <- outcome{s, err}
	}()

	select {
	case <-waited:
		t.Fatal("LastSummary returned while the sweep was still running")
	case <-time.After(20 * time.Millisecond):
	}

	close(release)
	first := <-swept
	got := <-waited
	require.NoError(t, got.err)
	assert.Equal(t, first.SweepID, got.s.SweepID)
	assert.Len(t, got.s.Modules, 11)
}

func TestProbeTimeoutBecomesErrorResult(t *testing.T) {
	probes := stubProbes()
	probes["ai"].run = func(ctx context.Context) *core.ModuleResult {
		<-ctx.Done()
		time.Sleep(10 * time.Millisecond)
		return fixed("ai", core.StatusHealthy, 100)(ctx)
	}
	svc := newTestService(t, probes, db.NewMemoryStore(), Options{ProbeTimeout: 20 * time.Millisecond})

	s, err := svc.RunAll(context.Background())
	require.NoError(t, err)
	m, ok := s.Module("ai")
	require.True(t, ok)
	assert.Equal(t, core.StatusError, m.Status)
	assert.Equal(t, 0, m.Score)
	require.Len(t, m.Checks, 1)
	assert.Equal(t, "Module Check", m.Checks[0].Description)
	assert.Equal(t, core.SeverityCritical, m.Checks[0].Severity)
}

func TestProbePanicBecomesErrorResult(t *testing.T) {
	probes := stubProbes()
	probes["payment"].run = func(context.Context) *core.ModuleResult { panic("nil provider") }
	probes["backup"].run = func(context.Context) *core.ModuleResult { return nil }
	svc := newTestService(t, probes, db.NewMemoryStore(), Options{Concurrency: 1})

	s, err := svc.RunAll(context.Background())
	require.NoError(t, err)
	for _, id := range []string{"payment", "backup"} {
		m, ok := s.Module(id)
		require.True(t, ok)
		assert.Equal(t, core.StatusError, m.Status)
	}
	assert.Equal(t, 2, s.Statistics.ErrorModules)
	assert.Len(t, s.Modules, 11)
}

func TestPersistenceFailureIsSwallowed(t *testing.T) {
	sink := &failingSink{MemoryStore: db.NewMemoryStore()}
	svc := newTestService(t, stubProbes(), sink, Options{})

	s, err := svc.RunAll(context.Background())
	require.NoError(t, err)
	assert.Len(t, s.Modules, 11)
}

func TestPublishersReceiveSummaries(t *testing.T) {
	pub := &recordingPublisher{}
	svc := newTestService(t, stubProbes(), db.NewMemoryStore(), Options{})
	svc.AddPublisher(pub)
	ctx := context.Background()

	_, err := svc.RunAll(ctx)
	require.NoError(t, err)
	_, err = svc.RunSingle(ctx, "auth")
	require.NoError(t, err)

	require.Len(t, pub.summaries, 2)
	for _, s := range pub.summaries {
		assert.Len(t, s.Modules, 11)
	}
}

func TestHistoryLimits(t *testing.T) {
	svc := newTestService(t, stubProbes(), db.NewMemoryStore(), Options{HistoryLimit: 5})
	ctx := context.Background()
	for i := 0; i < 2; i++ {
		_, err := svc.RunAll(ctx)
		require.NoError(t, err)
	}

	all, err := svc.History(ctx, core.HistoryQuery{})
	require.NoError(t, err)
	assert.Len(t, all, 5)

	cache, err := svc.History(ctx, core.HistoryQuery{Module: "redis", Limit: 50})
	require.NoError(t, err)
	assert.Len(t, cache, 2)
	for _, r := range cache {
		assert.Equal(t, "cache", r.Module)
	}

	byModule, err := svc.ModuleHistory(ctx, "REDIS", core.HistoryQuery{})
	require.NoError(t, err)
	assert.Equal(t, cache, byModule)

	_, err = svc.ModuleHistory(ctx, "ftp", core.HistoryQuery{})
	assert.ErrorIs(t, err, ErrUnknownModule)
}

func TestExportJSONMatchesHistory(t *testing.T) {
	probes := stubProbes()
	probes["ai"].run = func(context.Context) *core.ModuleResult {
		r := moduleResult("ai", core.StatusHealthy, 100)
		r.Metrics = core.Metrics{
			"estimated_cost_24h": core.Float(0),
			"requests_24h":       core.Int(0),
			"usage_percent":      core.Float(12.5),
			"provider":           core.String("openai"),
			"configured":         core.Bool(true),
		}
		return &r
	}
	svc := newTestService(t, probes, db.NewMemoryStore(), Options{})
	ctx := context.Background()
	_, err := svc.RunAll(ctx)
	require.NoError(t, err)
	_, err = svc.RunSingle(ctx, "chat")
	require.NoError(t, err)

	blob, err := svc.Export(ctx, "json", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "application/json", blob.ContentType)
	assert.Equal(t, "health-check-export.json", blob.Filename)

	var exported []core.PersistedResult
	require.NoError(t, json.Unmarshal(blob.Data, &exported))

	history, err := svc.History(ctx, core.HistoryQuery{Limit: MaxHistoryLimit})
	require.NoError(t, err)
	require.Len(t, history, 12)
	assert.Equal(t, history, exported)
}

func TestExportReadsWholeWindow(t *testing.T) {
	svc := newTestService(t, stubProbes(), db.NewMemoryStore(), Options{PageSize: 5})
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_, err := svc.RunAll(ctx)
		require.NoError(t, err)
	}

	blob, err := svc.Export(ctx, "json", nil, nil)
	require.NoError(t, err)
	var exported []core.PersistedResult
	require.NoError(t, json.Unmarshal(blob.Data, &exported))
	require.Len(t, exported, 33)

	seen := make(map[int64]bool, len(exported))
	for i, r := range exported {
		assert.False(t, seen[r.ID], "duplicate row %d", r.ID)
		seen[r.ID] = true
		if i > 0 {
			assert.Greater(t, exported[i-1].ID, r.ID)
		}
	}
}

func TestExportCSV(t *testing.T) {
	svc := newTestService(t, stubProbes(), db.NewMemoryStore(), Options{})
	ctx := context.Background()
	_, err := svc.RunAll(ctx)
	require.NoError(t, err)

	blob, err := svc.Export(ctx, "CSV", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "text/csv", blob.ContentType)

	rows, err := csv.NewReader(strings.NewReader(string(blob.Data))).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 12)
	header := rows[0]
	assert.Equal(t, []string{"id", "module", "displayName", "status", "score", "checks", "metrics", "warnings", "errors", "recommendations", "executionTime", "timestamp", "createdAt"}, header)
	assert.Equal(t, "request", rows[1][1])
	assert.Equal(t, `[{"description":"Stub Check","status":"pass","message":""}]`, rows[1][5])
	assert.Equal(t, "{}", rows[1][6])
}

func TestExportUnsupportedFormat(t *testing.T) {
	svc := newTestService(t, stubProbes(), db.NewMemoryStore(), Options{})
	_, err := svc.Export(context.Background(), "xml", nil, nil)
	assert.ErrorIs(t, err, ErrUnsupportedFormat)
}

func TestEncodeCSVEmpty(t *testing.T) {
	data, err := EncodeCSV(nil)
	require.NoError(t, err)
	assert.Empty(t, data)
}

type fakePeriodic struct {
	running bool
	next    time.Time
}

func (f *fakePeriodic) Start() bool {
	if f.running {
		return false
	}
	f.running = true
	return true
}

func (f *fakePeriodic) Stop() bool {
	if !f.running {
		return false
	}
	f.running = false
	return true
}

func (f *fakePeriodic) Running() bool { return f.running }

func (f *fakePeriodic) NextRun() (time.Time, bool) { return f.next, f.running }

func TestStartStopAreIdempotent(t *testing.T) {
	svc := newTestService(t, stubProbes(), db.NewMemoryStore(), Options{})

	_, err := svc.Start()
	assert.ErrorIs(t, err, ErrNoScheduler)

	p := &fakePeriodic{next: time.Date(2025, 1, 1, 0, 5, 0, 0, time.UTC)}
	svc.SetPeriodic(p)

	changed, err := svc.Start()
	require.NoError(t, err)
	assert.True(t, changed)
	changed, err = svc.Start()
	require.NoError(t, err)
	assert.False(t, changed)
	assert.True(t, svc.Running())

	s, err := svc.RunAll(context.Background())
	require.NoError(t, err)
	require.NotNil(t, s.NextCheck)
	assert.Equal(t, p.next, *s.NextCheck)

	changed, err = svc.Stop()
	require.NoError(t, err)
	assert.True(t, changed)
	changed, err = svc.Stop()
	require.NoError(t, err)
	assert.False(t, changed)
}
