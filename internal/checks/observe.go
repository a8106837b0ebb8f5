package checks

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/leozw/health-guardian/internal/core"
)

const DefaultCheckTimeout = 5 * time.Second

// CheckFunc performs one measurement. The returned outcome's Description is
// filled in by Observe.
type CheckFunc func(ctx context.Context) (core.CheckOutcome, error)

func Pass(format string, args ...interface{}) core.CheckOutcome {
	return core.CheckOutcome{Status: core.CheckPass, Message: fmt.Sprintf(format, args...)}
}

func Warn(sev core.Severity, format string, args ...interface{}) core.CheckOutcome {
	return core.CheckOutcome{Status: core.CheckWarn, Severity: sev, Message: fmt.Sprintf(format, args...)}
}

func Fail(sev core.Severity, format string, args ...interface{}) core.CheckOutcome {
	return core.CheckOutcome{Status: core.CheckFail, Severity: sev, Message: fmt.Sprintf(format, args...)}
}

// Observe runs fn under timeout and turns an error, panic or deadline into
// an error outcome with severity onError. It never propagates a failure.
func Observe(ctx context.Context, timeout time.Duration, description string, onError core.Severity, fn CheckFunc) (outcome core.CheckOutcome) {
	if timeout <= 0 {
		timeout = DefaultCheckTimeout
	}
	if onError == "" {
		onError = core.SeverityLow
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	defer func() {
		if p := recover(); p != nil {
			outcome = core.CheckOutcome{
				Description: description,
				Status:      core.CheckError,
				Message:     fmt.Sprintf("check panicked: %v", p),
				Severity:    onError,
			}
		}
	}()

	var err error
	outcome, err = fn(ctx)
	if err == nil && ctx.Err() != nil {
		err = ctx.Err()
	}
	if err != nil {
		msg := err.Error()
		if errors.Is(err, context.DeadlineExceeded) {
			msg = fmt.Sprintf("timed out after %s", timeout)
		}
		outcome = core.CheckOutcome{Status: core.CheckError, Message: msg, Severity: onError}
	}
	outcome.Description = description
	if outcome.Status == "" {
		outcome.Status = core.CheckPass
	}
	if outcome.Status == core.CheckPass {
		outcome.Severity = ""
	} else if outcome.Severity == "" {
		outcome.Severity = DefaultSeverity(outcome.Status)
	}
	return outcome
}

// Recorder accumulates the pieces of a ModuleResult while a probe runs.
type Recorder struct {
	info            info
	start           time.Time
	checkTimeout    time.Duration
	checks          []core.CheckOutcome
	metrics         core.Metrics
	warnings        []string
	errors          []string
	recommendations []string
}

func newRecorder(i info, checkTimeout time.Duration) *Recorder {
	return &Recorder{
		info:         i,
		start:        time.Now(),
		checkTimeout: checkTimeout,
		checks:       []core.CheckOutcome{},
		metrics:      core.Metrics{},
	}
}

// Observe runs one sub-check and appends its outcome.
func (r *Recorder) Observe(ctx context.Context, description string, onError core.Severity, fn CheckFunc) core.CheckOutcome {
	o := Observe(ctx, r.checkTimeout, description, onError, fn)
	r.checks = append(r.checks, o)
	return o
}

// Add appends an outcome produced without an external call.
func (r *Recorder) Add(description string, o core.CheckOutcome) {
	o.Description = description
	if o.Status != core.CheckPass && o.Severity == "" {
		o.Severity = DefaultSeverity(o.Status)
	}
	r.checks = append(r.checks, o)
}

func (r *Recorder) Metric(key string, v core.MetricValue) { r.metrics[key] = v }
func (r *Recorder) Warning(msg string)                    { r.warnings = append(r.warnings, msg) }
func (r *Recorder) Error(msg string)                      { r.errors = append(r.errors, msg) }
func (r *Recorder) Recommend(msg string)                  { r.recommendations = append(r.recommendations, msg) }

// Result scores the accumulated outcomes.
func (r *Recorder) Result() *core.ModuleResult {
	score := Score(r.checks)
	return &core.ModuleResult{
		Module:          r.info.name,
		DisplayName:     r.info.displayName,
		Timestamp:       r.start,
		Status:          StatusForScore(score),
		Score:           score,
		Checks:          r.checks,
		Metrics:         r.metrics,
		Warnings:        nonNil(r.warnings),
		Errors:          nonNil(r.errors),
		Recommendations: nonNil(r.recommendations),
		ExecutionTime:   time.Since(r.start).Milliseconds(),
	}
}

// ErrorResult is the degenerate result for a probe that could not run.
func ErrorResult(module, displayName string, cause error) *core.ModuleResult {
	if displayName == "" {
		displayName = module
	}
	return &core.ModuleResult{
		Module:      module,
		DisplayName: displayName,
		Timestamp:   time.Now(),
		Status:      core.StatusError,
		Score:       0,
		Checks: []core.CheckOutcome{{
			Description: "Module Check",
			Status:      core.CheckError,
			Message:     fmt.Sprintf("Failed: %v", cause),
			Severity:    core.SeverityCritical,
		}},
		Metrics:         core.Metrics{},
		Warnings:        []string{},
		Errors:          []string{fmt.Sprintf("Failed to run health check: %v", cause)},
		Recommendations: []string{},
	}
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
