package health

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leozw/health-guardian/internal/core"
)

func moduleResult(id string, status core.ModuleStatus, score int) core.ModuleResult {
	return core.ModuleResult{
		Module:      id,
		DisplayName: "Module " + id,
		Status:      status,
		Score:       score,
		Timestamp:   time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestCalculateEmpty(t *testing.T) {
	s := Calculate(nil)
	assert.Equal(t, 0, s.OverallScore)
	assert.Equal(t, core.StatusHealthy, s.Overall)
	assert.Equal(t, core.Statistics{}, s.Statistics)
	assert.Empty(t, s.Alerts)
	assert.NotNil(t, s.Alerts)
	assert.NotNil(t, s.Modules)
}

func TestCalculateSingleCritical(t *testing.T) {
	results := []core.ModuleResult{
		moduleResult("auth", core.StatusHealthy, 100),
		moduleResult("database", core.StatusCritical, 40),
		moduleResult("cache", core.StatusHealthy, 95),
	}
	s := Calculate(results)

	assert.Equal(t, core.StatusCritical, s.Overall)
	assert.Equal(t, 78, s.OverallScore)
	require.Len(t, s.Alerts, 1)
	assert.Equal(t, "database", s.Alerts[0].Module)
	assert.Equal(t, core.StatusCritical, s.Alerts[0].Severity)
	assert.Equal(t, "Module database is in critical state (40/100)", s.Alerts[0].Message)
	assert.Equal(t, core.Statistics{TotalModules: 3, HealthyModules: 2, CriticalModules: 1}, s.Statistics)
}

func TestCalculateWarning(t *testing.T) {
	s := Calculate([]core.ModuleResult{
		moduleResult("auth", core.StatusHealthy, 100),
		moduleResult("chat", core.StatusWarning, 70),
	})
	assert.Equal(t, core.StatusWarning, s.Overall)
	assert.Equal(t, 85, s.OverallScore)
	require.Len(t, s.Alerts, 1)
	assert.Equal(t, "Module chat needs attention (70/100)", s.Alerts[0].Message)
}

func TestCalculateLowAverageWithoutBadModules(t *testing.T) {
	// Statuses are taken as given; the average alone can lower the verdict.
	s := Calculate([]core.ModuleResult{
		moduleResult("auth", core.StatusHealthy, 50),
		moduleResult("chat", core.StatusHealthy, 60),
	})
	assert.Equal(t, core.StatusCritical, s.Overall)
	assert.Empty(t, s.Alerts)
}

func TestCalculateRoundsAverage(t *testing.T) {
	s := Calculate([]core.ModuleResult{
		moduleResult("a", core.StatusHealthy, 90),
		moduleResult("b", core.StatusHealthy, 91),
	})
	assert.Equal(t, 91, s.OverallScore)
}

func TestCalculateErrorModuleIsCritical(t *testing.T) {
	s := Calculate([]core.ModuleResult{
		moduleResult("auth", core.StatusHealthy, 100),
		moduleResult("payment", core.StatusError, 0),
	})
	assert.Equal(t, core.StatusCritical, s.Overall)
	assert.Equal(t, 1, s.Statistics.ErrorModules)
	require.Len(t, s.Alerts, 1)
	assert.Equal(t, core.StatusCritical, s.Alerts[0].Severity)
}

func TestCalculateNormalizesWithoutMutating(t *testing.T) {
	in := []core.ModuleResult{moduleResult("auth", core.StatusHealthy, 100)}
	s := Calculate(in)

	assert.Nil(t, in[0].Checks)
	assert.NotNil(t, s.Modules[0].Checks)
	assert.NotNil(t, s.Modules[0].Metrics)
}

func TestCalculateAtStampsLastCheck(t *testing.T) {
	now := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
	assert.Equal(t, now, CalculateAt(nil, now).LastCheck)
}

func TestPatchModules(t *testing.T) {
	modules := []core.ModuleResult{
		moduleResult("auth", core.StatusHealthy, 100),
		moduleResult("cache", core.StatusHealthy, 100),
	}
	patched := patchModules(modules, moduleResult("cache", core.StatusCritical, 20))
	require.Len(t, patched, 2)
	assert.Equal(t, 20, patched[1].Score)
	assert.Equal(t, 100, modules[1].Score)

	appended := patchModules(modules, moduleResult("ai", core.StatusHealthy, 90))
	require.Len(t, appended, 3)
	assert.Equal(t, "ai", appended[2].Module)
}

func TestResultCacheSnapshot(t *testing.T) {
	c := NewResultCache()
	c.Put("auth", moduleResult("auth", core.StatusHealthy, 100))
	c.Put("auth", moduleResult("auth", core.StatusWarning, 70))

	got, ok := c.Get("auth")
	require.True(t, ok)
	assert.Equal(t, 70, got.Score)

	results, complete := c.Snapshot([]string{"auth", "cache"})
	assert.False(t, complete)
	assert.Len(t, results, 1)

	c.Put("cache", moduleResult("cache", core.StatusHealthy, 100))
	results, complete = c.Snapshot([]string{"cache", "auth"})
	assert.True(t, complete)
	assert.Equal(t, "cache", results[0].Module)
	assert.Equal(t, 2, c.Len())
}
