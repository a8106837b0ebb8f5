package remediation

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/leozw/health-guardian/internal/core"
	"github.com/leozw/health-guardian/internal/db"
	"github.com/leozw/health-guardian/internal/realtime"
)

type fakeCache struct {
	patterns []string
	err      error
}

func (c *fakeCache) DeleteMatching(_ context.Context, pattern string) (int64, error) {
	c.patterns = append(c.patterns, pattern)
	return 3, c.err
}

type fakeChecker struct {
	mu    sync.Mutex
	after core.ModuleResult
	err   error
	calls int
}

func (c *fakeChecker) RunSingle(_ context.Context, module string) (*core.SystemHealthSummary, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	if c.err != nil {
		return nil, c.err
	}
	return &core.SystemHealthSummary{Modules: []core.ModuleResult{c.after}}, nil
}

func (c *fakeChecker) Calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

type sentEvent struct {
	kind string
	data interface{}
}

type fakeNotifier struct {
	mu     sync.Mutex
	events []sentEvent
}

func (n *fakeNotifier) Broadcast(_ context.Context, eventType string, data interface{}) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, sentEvent{eventType, data})
	return nil
}

type fakeRecorder struct {
	results map[string]bool
}

func (r *fakeRecorder) RemediationFinished(rule, _ string, success bool) {
	r.results[rule] = success
}

func cacheRule() Rule {
	return Rule{
		ID:              "cache-pressure",
		Module:          "cache",
		Condition:       Condition{ErrorContains: "memory almost full"},
		Actions:         []Action{{Type: ActionClearCache, Target: "sessions", Description: "Clear sessions"}},
		Enabled:         true,
		MaxAttempts:     2,
		Cooldown:        time.Hour,
		NotifyOnSuccess: true,
		NotifyOnFailure: true,
	}
}

func pressured(score int) core.ModuleResult {
	return core.ModuleResult{
		Module: "cache",
		Status: core.StatusCritical,
		Score:  score,
		Errors: []string{"Redis memory almost full"},
	}
}

func newTestEngine(t *testing.T, rules ...Rule) (*Engine, *db.MemoryStore) {
	store := db.NewMemoryStore()
	e := NewEngine(rules, store, zaptest.NewLogger(t), Options{})
	return e, store
}

func TestEngineRunsActionsAndVerifies(t *testing.T) {
	e, store := newTestEngine(t, cacheRule())
	cache := &fakeCache{}
	checker := &fakeChecker{after: core.ModuleResult{Module: "cache", Status: core.StatusHealthy, Score: 100}}
	notifier := &fakeNotifier{}
	recorder := &fakeRecorder{results: map[string]bool{}}
	e.SetCache(cache)
	e.SetRechecker(checker)
	e.SetNotifier(notifier)
	e.SetRecorder(recorder)
	ctx := context.Background()

	records := e.Handle(ctx, pressured(40))
	require.Len(t, records, 1)
	rec := records[0]
	assert.True(t, rec.Success)
	assert.Equal(t, core.StringSlice{"Clear sessions"}, rec.Actions)
	assert.Equal(t, 40, rec.ScoreBefore)
	require.NotNil(t, rec.ScoreAfter)
	assert.Equal(t, 100, *rec.ScoreAfter)

	assert.Equal(t, []string{"sess:*"}, cache.patterns)
	assert.Equal(t, 1, checker.Calls())
	assert.True(t, recorder.results["cache-pressure"])
	require.Len(t, notifier.events, 1)
	assert.Equal(t, realtime.MessageRemediation, notifier.events[0].kind)

	history, err := e.History(ctx, 0)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, "cache-pressure", history[0].RuleID)
	assert.Equal(t, time.UTC, history[0].Timestamp.Location())
	assert.Len(t, mustList(t, store), 1)
}

func mustList(t *testing.T, store *db.MemoryStore) []core.RemediationRecord {
	t.Helper()
	out, err := store.ListRemediations(context.Background(), 10)
	require.NoError(t, err)
	return out
}

func TestEngineFailsWhenScoreDoesNotImprove(t *testing.T) {
	e, _ := newTestEngine(t, cacheRule())
	e.SetCache(&fakeCache{})
	e.SetRechecker(&fakeChecker{after: pressured(40)})
	recorder := &fakeRecorder{results: map[string]bool{}}
	e.SetRecorder(recorder)

	records := e.Handle(context.Background(), pressured(40))
	require.Len(t, records, 1)
	assert.False(t, records[0].Success)
	assert.False(t, recorder.results["cache-pressure"])
}

func TestEngineActionErrorStopsRule(t *testing.T) {
	rule := cacheRule()
	rule.Actions = append(rule.Actions, Action{Type: ActionNotifyOnly, Description: "Alert"})
	e, _ := newTestEngine(t, rule)
	e.SetCache(&fakeCache{err: errors.New("redis down")})
	checker := &fakeChecker{}
	e.SetRechecker(checker)
	notifier := &fakeNotifier{}
	e.SetNotifier(notifier)

	records := e.Handle(context.Background(), pressured(40))
	require.Len(t, records, 1)
	assert.False(t, records[0].Success)
	assert.Contains(t, records[0].Error, "redis down")
	assert.Empty(t, records[0].Actions)
	assert.Zero(t, checker.Calls())
	// only the failure notification; the notify_only action never ran
	require.Len(t, notifier.events, 1)
}

func TestEngineUnverifiedRecheckCountsAsSuccess(t *testing.T) {
	e, _ := newTestEngine(t, cacheRule())
	e.SetCache(&fakeCache{})
	e.SetRechecker(&fakeChecker{err: errors.New("health checks are already running")})

	records := e.Handle(context.Background(), pressured(40))
	require.Len(t, records, 1)
	assert.True(t, records[0].Success)
	assert.Nil(t, records[0].ScoreAfter)
}

func TestEngineCooldownLimitsAttempts(t *testing.T) {
	e, _ := newTestEngine(t, cacheRule())
	now := time.Date(2026, 10, 18, 9, 0, 0, 0, time.UTC)
	e.now = func() time.Time { return now }
	e.SetCache(&fakeCache{})
	ctx := context.Background()

	assert.Len(t, e.Handle(ctx, pressured(40)), 1)
	assert.Len(t, e.Handle(ctx, pressured(40)), 1)
	assert.Empty(t, e.Handle(ctx, pressured(40)))

	now = now.Add(61 * time.Minute)
	assert.Len(t, e.Handle(ctx, pressured(40)), 1)
}

func TestEngineDatabaseCleanupPrunesHistory(t *testing.T) {
	rule := Rule{
		ID:      "history",
		Module:  "database",
		Enabled: true,
		Condition: Condition{
			WarningContains: "database size is large",
		},
		Actions:     []Action{{Type: ActionDatabaseCleanup, Target: TargetHealthHistory, Description: "Prune"}},
		MaxAttempts: 1,
		Cooldown:    time.Hour,
	}
	e, store := newTestEngine(t, rule)
	ctx := context.Background()
	require.NoError(t, store.SaveResult(ctx, &core.ModuleResult{Module: "database", Timestamp: time.Now()}))

	e.opts.Retention = time.Hour
	e.now = func() time.Time { return time.Now().Add(2 * time.Hour) }

	records := e.Handle(ctx, core.ModuleResult{
		Module:   "database",
		Status:   core.StatusWarning,
		Score:    80,
		Warnings: []string{"Database size is large: 12GB"},
	})
	require.Len(t, records, 1)
	assert.True(t, records[0].Success)

	left, err := store.ListResults(ctx, core.HistoryQuery{Limit: 10})
	require.NoError(t, err)
	assert.Empty(t, left)
}

func TestEngineNotifyOnlySkipsRecheck(t *testing.T) {
	rule := Rule{
		ID:          "ai",
		Module:      "ai",
		Enabled:     true,
		Condition:   Condition{WarningContains: "approaching ai rate limit"},
		Actions:     []Action{{Type: ActionNotifyOnly, Description: "Alert"}},
		MaxAttempts: 1,
		Cooldown:    time.Hour,
	}
	e, _ := newTestEngine(t, rule)
	checker := &fakeChecker{}
	e.SetRechecker(checker)
	notifier := &fakeNotifier{}
	e.SetNotifier(notifier)

	records := e.Handle(context.Background(), core.ModuleResult{
		Module:   "ai",
		Status:   core.StatusWarning,
		Warnings: []string{"Approaching AI rate limit (85%)"},
	})
	require.Len(t, records, 1)
	assert.True(t, records[0].Success)
	assert.Zero(t, checker.Calls())
	require.Len(t, notifier.events, 1)
	assert.Equal(t, realtime.MessageRemediation, notifier.events[0].kind)
}

func TestEngineSetEnabled(t *testing.T) {
	e, _ := newTestEngine(t, cacheRule())

	require.NoError(t, e.SetEnabled("cache-pressure", false))
	assert.False(t, e.Rules()[0].Enabled)
	assert.Empty(t, e.Evaluate(pressured(40)))

	assert.ErrorIs(t, e.SetEnabled("missing", true), ErrUnknownRule)
}

func TestEnginePublishQueuesOncePerModule(t *testing.T) {
	e, store := newTestEngine(t, cacheRule())
	e.SetCache(&fakeCache{})
	checker := &fakeChecker{after: core.ModuleResult{Module: "cache", Status: core.StatusHealthy, Score: 100}}
	e.SetRechecker(checker)
	ctx := context.Background()

	summary := &core.SystemHealthSummary{Modules: []core.ModuleResult{
		pressured(40),
		{Module: "ai", Status: core.StatusHealthy, Score: 100},
	}}
	require.NoError(t, e.Publish(ctx, summary))
	require.NoError(t, e.Publish(ctx, summary))
	assert.Len(t, e.queue, 1)

	e.Start()
	defer e.Close()
	require.Eventually(t, func() bool {
		return len(mustList(t, store)) == 1
	}, time.Second, 10*time.Millisecond)
	assert.Equal(t, 1, checker.Calls())
}
