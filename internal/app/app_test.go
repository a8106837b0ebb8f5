package app

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/leozw/health-guardian/internal/config"
	"github.com/leozw/health-guardian/internal/core"
)

func memoryConfig() *config.Config {
	cfg := &config.Config{}
	cfg.Scheduler.ReportWeekday = "monday"
	cfg.Scheduler.ReportHour = 9
	cfg.AI.HourlyLimit = 1000
	cfg.Backup.Dir = "/nonexistent/backups"
	return cfg
}

func TestNewInMemory(t *testing.T) {
	a, err := New(memoryConfig(), zaptest.NewLogger(t))
	require.NoError(t, err)
	defer a.Close()

	assert.Nil(t, a.DB)
	assert.Nil(t, a.Store())
	require.NotNil(t, a.Memory)
	assert.Len(t, a.Registry.IDs(), 11)

	summary, err := a.Health.RunAll(context.Background())
	require.NoError(t, err)
	assert.Len(t, summary.Modules, 11)

	db, ok := summary.Module("database")
	require.True(t, ok)
	assert.Equal(t, core.StatusCritical, db.Status)

	ws, ok := summary.Module("websocket")
	require.True(t, ok)
	assert.Equal(t, core.StatusHealthy, ws.Status)

	active := a.Incidents.Active()
	assert.NotEmpty(t, active)

	history, err := a.Health.History(context.Background(), core.HistoryQuery{Limit: 50})
	require.NoError(t, err)
	assert.Len(t, history, 11)
}

func TestNewInvalidWeekday(t *testing.T) {
	cfg := memoryConfig()
	cfg.Scheduler.ReportWeekday = "caturday"
	_, err := New(cfg, zaptest.NewLogger(t))
	assert.Error(t, err)
}

func TestNewWithAutomation(t *testing.T) {
	cfg := memoryConfig()
	cfg.Remediation.Enabled = true
	cfg.Performance.Enabled = true
	cfg.Performance.Interval = time.Hour
	a, err := New(cfg, zaptest.NewLogger(t))
	require.NoError(t, err)
	defer a.Close()

	require.NotNil(t, a.Remediation)
	assert.Len(t, a.Remediation.Rules(), 6)
	require.NotNil(t, a.Performance)
	require.Eventually(t, func() bool {
		_, ok := a.Performance.Current()
		return ok
	}, time.Second, 10*time.Millisecond)
}

func TestNewRemediationRuleUnknownModule(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.yaml")
	rules := "- id: x\n  module: mainframe\n  actions: [{type: notify_only, description: hi}]\n  enabled: true\n"
	require.NoError(t, os.WriteFile(path, []byte(rules), 0o600))

	cfg := memoryConfig()
	cfg.Remediation.Enabled = true
	cfg.Remediation.RulesFile = path
	_, err := New(cfg, zaptest.NewLogger(t))
	assert.ErrorContains(t, err, "mainframe")
}

func TestNewModuleSchedules(t *testing.T) {
	cfg := memoryConfig()
	cfg.Scheduler.Modules = map[string]time.Duration{"redis": time.Minute}
	a, err := New(cfg, zaptest.NewLogger(t))
	require.NoError(t, err)
	defer a.Close()
	assert.Equal(t, map[string]time.Duration{"cache": time.Minute}, a.Scheduler.Modules())

	cfg.Scheduler.Modules = map[string]time.Duration{"mainframe": time.Minute}
	_, err = New(cfg, zaptest.NewLogger(t))
	assert.ErrorContains(t, err, "mainframe")
}
