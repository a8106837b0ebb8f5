package health

import (
	"fmt"
	"math"
	"time"

	"github.com/leozw/health-guardian/internal/checks"
	"github.com/leozw/health-guardian/internal/core"
)

// Calculate folds module results into a system summary stamped with the
// current time.
func Calculate(results []core.ModuleResult) core.SystemHealthSummary {
	return CalculateAt(results, time.Now())
}

// CalculateAt is Calculate with an explicit LastCheck. It does not modify
// results.
func CalculateAt(results []core.ModuleResult, now time.Time) core.SystemHealthSummary {
	summary := core.SystemHealthSummary{
		Overall:   core.StatusHealthy,
		Modules:   make([]core.ModuleResult, 0, len(results)),
		LastCheck: now,
		Alerts:    []core.Alert{},
	}
	if len(results) == 0 {
		return summary
	}

	total := 0
	for _, r := range results {
		r = r.Normalized()
		summary.Modules = append(summary.Modules, r)
		total += r.Score

		stats := &summary.Statistics
		stats.TotalModules++
		switch r.Status {
		case core.StatusHealthy:
			stats.HealthyModules++
		case core.StatusWarning:
			stats.WarningModules++
			summary.Alerts = append(summary.Alerts, core.Alert{
				Module:    r.Module,
				Severity:  core.StatusWarning,
				Message:   fmt.Sprintf("%s needs attention (%d/100)", r.DisplayName, r.Score),
				Timestamp: r.Timestamp,
			})
		case core.StatusCritical:
			stats.CriticalModules++
			summary.Alerts = append(summary.Alerts, criticalAlert(r, "is in critical state"))
		default:
			stats.ErrorModules++
			summary.Alerts = append(summary.Alerts, criticalAlert(r, "could not be checked"))
		}
	}

	summary.OverallScore = int(math.Round(float64(total) / float64(len(results))))

	s := summary.Statistics
	switch {
	case s.CriticalModules > 0 || s.ErrorModules > 0 || summary.OverallScore < checks.WarningThreshold:
		summary.Overall = core.StatusCritical
	case s.WarningModules > 0 || summary.OverallScore < checks.HealthyThreshold:
		summary.Overall = core.StatusWarning
	}
	return summary
}

func criticalAlert(r core.ModuleResult, state string) core.Alert {
	return core.Alert{
		Module:    r.Module,
		Severity:  core.StatusCritical,
		Message:   fmt.Sprintf("%s %s (%d/100)", r.DisplayName, state, r.Score),
		Timestamp: r.Timestamp,
	}
}

// patchModules returns a copy of modules with the entry for r.Module
// replaced, or r appended when absent.
func patchModules(modules []core.ModuleResult, r core.ModuleResult) []core.ModuleResult {
	out := make([]core.ModuleResult, 0, len(modules)+1)
	replaced := false
	for _, m := range modules {
		if m.Module == r.Module {
			out = append(out, r)
			replaced = true
			continue
		}
		out = append(out, m)
	}
	if !replaced {
		out = append(out, r)
	}
	return out
}

func cloneSummary(s *core.SystemHealthSummary) *core.SystemHealthSummary {
	if s == nil {
		return nil
	}
	c := *s
	c.Modules = append(make([]core.ModuleResult, 0, len(s.Modules)), s.Modules...)
	c.Alerts = append([]core.Alert{}, s.Alerts...)
	if s.NextCheck != nil {
		next := *s.NextCheck
		c.NextCheck = &next
	}
	return &c
}
