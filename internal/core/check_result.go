package core

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"
)

type CheckStatus string

const (
	CheckPass  CheckStatus = "pass"
	CheckWarn  CheckStatus = "warn"
	CheckFail  CheckStatus = "fail"
	CheckError CheckStatus = "error"
)

type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

type ModuleStatus string

const (
	StatusHealthy  ModuleStatus = "healthy"
	StatusWarning  ModuleStatus = "warning"
	StatusCritical ModuleStatus = "critical"
	StatusUnknown  ModuleStatus = "unknown"
	StatusError    ModuleStatus = "error"
)

// CheckOutcome is one atomic assertion made by a probe.
type CheckOutcome struct {
	Description string      `json:"description"`
	Status      CheckStatus `json:"status"`
	Message     string      `json:"message"`
	Severity    Severity    `json:"severity,omitempty"`
}

// ModuleResult is the output of one probe invocation. It is never mutated
// after being returned; the next run of the same module supersedes it.
type ModuleResult struct {
	Module          string         `json:"module"`
	DisplayName     string         `json:"displayName"`
	Timestamp       time.Time      `json:"timestamp"`
	Status          ModuleStatus   `json:"status"`
	Score           int            `json:"score"`
	Checks          []CheckOutcome `json:"checks"`
	Metrics         Metrics        `json:"metrics"`
	Warnings        []string       `json:"warnings"`
	Errors          []string       `json:"errors"`
	Recommendations []string       `json:"recommendations"`
	ExecutionTime   int64          `json:"executionTime"`
}

// Normalized returns a shallow copy whose slices and maps are non-nil.
func (r ModuleResult) Normalized() ModuleResult {
	if r.Checks == nil {
		r.Checks = []CheckOutcome{}
	}
	if r.Metrics == nil {
		r.Metrics = Metrics{}
	}
	if r.Warnings == nil {
		r.Warnings = []string{}
	}
	if r.Errors == nil {
		r.Errors = []string{}
	}
	if r.Recommendations == nil {
		r.Recommendations = []string{}
	}
	return r
}

// Checks is the JSONB column type for a list of outcomes.
type Checks []CheckOutcome

func (c Checks) Value() (driver.Value, error) {
	if c == nil {
		c = Checks{}
	}
	return json.Marshal(c)
}

func (c *Checks) Scan(value interface{}) error {
	if value == nil {
		*c = Checks{}
		return nil
	}
	data, err := jsonBytes(value)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, c)
}

// StringSlice is stored as a JSONB array.
type StringSlice []string

func (s StringSlice) Value() (driver.Value, error) {
	if s == nil {
		s = StringSlice{}
	}
	return json.Marshal(s)
}

func (s *StringSlice) Scan(value interface{}) error {
	if value == nil {
		*s = StringSlice{}
		return nil
	}
	data, err := jsonBytes(value)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, s)
}

func jsonBytes(value interface{}) ([]byte, error) {
	switch v := value.(type) {
	case []byte:
		return v, nil
	case string:
		return []byte(v), nil
	default:
		return nil, errors.New("unsupported JSON column type")
	}
}
