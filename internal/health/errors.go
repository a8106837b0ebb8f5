package health

import "errors"

var (
	ErrSweepInProgress   = errors.New("health checks are already running")
	ErrUnknownModule     = errors.New("unknown health check module")
	ErrUnsupportedFormat = errors.New("unsupported export format")
	ErrNoScheduler       = errors.New("periodic scheduler not configured")
	ErrNoHistory         = errors.New("no health checks found in period")
	ErrInvalidPeriod     = errors.New("invalid report period")
)
