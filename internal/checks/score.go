package checks

import "github.com/leozw/health-guardian/internal/core"

const (
	HealthyThreshold = 80
	WarningThreshold = 60
	maxScore         = 100
)

var severityPoints = map[core.Severity]int{
	core.SeverityInfo:     0,
	core.SeverityLow:      5,
	core.SeverityMedium:   10,
	core.SeverityHigh:     15,
	core.SeverityCritical: 25,
}

var statusFactor = map[core.CheckStatus]int{
	core.CheckPass:  0,
	core.CheckWarn:  1,
	core.CheckError: 1,
	core.CheckFail:  2,
}

// DefaultSeverity is applied to non-passing outcomes that carry none.
func DefaultSeverity(status core.CheckStatus) core.Severity {
	switch status {
	case core.CheckWarn:
		return core.SeverityMedium
	case core.CheckFail:
		return core.SeverityHigh
	case core.CheckError:
		return core.SeverityLow
	default:
		return ""
	}
}

// Penalty is the number of points an outcome subtracts from a module score.
func Penalty(o core.CheckOutcome) int {
	factor, ok := statusFactor[o.Status]
	if !ok || factor == 0 {
		return 0
	}
	sev := o.Severity
	if sev == "" {
		sev = DefaultSeverity(o.Status)
	}
	return severityPoints[sev] * factor
}

// Score folds outcomes into a 0-100 score starting from 100.
func Score(outcomes []core.CheckOutcome) int {
	score := maxScore
	for _, o := range outcomes {
		score -= Penalty(o)
	}
	return max(0, min(maxScore, score))
}

func StatusForScore(score int) core.ModuleStatus {
	switch {
	case score >= HealthyThreshold:
		return core.StatusHealthy
	case score >= WarningThreshold:
		return core.StatusWarning
	default:
		return core.StatusCritical
	}
}
