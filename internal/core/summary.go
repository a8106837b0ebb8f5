package core

import (
	"database/sql/driver"
	"encoding/json"
	"time"
)

type Alert struct {
	Module    string       `json:"module"`
	Severity  ModuleStatus `json:"severity"`
	Message   string       `json:"message"`
	Timestamp time.Time    `json:"timestamp"`
}

type Statistics struct {
	TotalModules    int `json:"totalModules"`
	HealthyModules  int `json:"healthyModules"`
	WarningModules  int `json:"warningModules"`
	CriticalModules int `json:"criticalModules"`
	ErrorModules    int `json:"errorModules"`
}

// SystemHealthSummary is the aggregate snapshot across all modules. Modules
// holds at most one entry per module id.
type SystemHealthSummary struct {
	SweepID      string         `json:"sweepId,omitempty"`
	Overall      ModuleStatus   `json:"overall"`
	OverallScore int            `json:"overallScore"`
	Modules      []ModuleResult `json:"modules"`
	LastCheck    time.Time      `json:"lastCheck"`
	NextCheck    *time.Time     `json:"nextCheck,omitempty"`
	Alerts       []Alert        `json:"alerts"`
	Statistics   Statistics     `json:"statistics"`
}

// Module returns the entry for the given module id.
func (s *SystemHealthSummary) Module(id string) (ModuleResult, bool) {
	for _, m := range s.Modules {
		if m.Module == id {
			return m, true
		}
	}
	return ModuleResult{}, false
}

// HistoryQuery filters persisted module results.
type HistoryQuery struct {
	Module string
	Limit  int
	Offset int
	Start  *time.Time
	End    *time.Time
}

// PersistedResult mirrors a ModuleResult as stored by the persistence sink.
type PersistedResult struct {
	ID              int64        `json:"id" db:"id"`
	Module          string       `json:"module" db:"module"`
	DisplayName     string       `json:"displayName" db:"display_name"`
	Status          ModuleStatus `json:"status" db:"status"`
	Score           int          `json:"score" db:"score"`
	Checks          Checks       `json:"checks" db:"checks"`
	Metrics         Metrics      `json:"metrics" db:"metrics"`
	Warnings        StringSlice  `json:"warnings" db:"warnings"`
	Errors          StringSlice  `json:"errors" db:"errors"`
	Recommendations StringSlice  `json:"recommendations" db:"recommendations"`
	ExecutionTime   int64        `json:"executionTime" db:"execution_time_ms"`
	Timestamp       time.Time    `json:"timestamp" db:"timestamp"`
	CreatedAt       time.Time    `json:"createdAt" db:"created_at"`
}

// NewPersistedResult copies a module result into its storage shape.
func NewPersistedResult(r *ModuleResult) PersistedResult {
	n := r.Normalized()
	return PersistedResult{
		Module:          n.Module,
		DisplayName:     n.DisplayName,
		Status:          n.Status,
		Score:           n.Score,
		Checks:          append(Checks{}, n.Checks...),
		Metrics:         copyMetrics(n.Metrics),
		Warnings:        append(StringSlice{}, n.Warnings...),
		Errors:          append(StringSlice{}, n.Errors...),
		Recommendations: append(StringSlice{}, n.Recommendations...),
		ExecutionTime:   n.ExecutionTime,
		Timestamp:       n.Timestamp.UTC(),
	}
}

type PersistedSummary struct {
	ID            int64        `json:"id" db:"id"`
	SweepID       string       `json:"sweepId" db:"sweep_id"`
	OverallStatus ModuleStatus `json:"overallStatus" db:"overall_status"`
	OverallScore  int          `json:"overallScore" db:"overall_score"`
	Data          SummaryData  `json:"data" db:"data"`
	CreatedAt     time.Time    `json:"createdAt" db:"created_at"`
}

// SummaryData is the JSONB column holding a full summary.
type SummaryData SystemHealthSummary

func (d SummaryData) Value() (driver.Value, error) {
	return json.Marshal(SystemHealthSummary(d))
}

func (d *SummaryData) Scan(value interface{}) error {
	if value == nil {
		return nil
	}
	data, err := jsonBytes(value)
	if err != nil {
		return err
	}
	var s SystemHealthSummary
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	*d = SummaryData(s)
	return nil
}

func copyMetrics(m Metrics) Metrics {
	out := make(Metrics, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
