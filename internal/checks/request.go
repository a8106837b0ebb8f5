package checks

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/leozw/health-guardian/internal/core"
)

const (
	queryActiveRequests    = `SELECT count(*) FROM assistance_requests WHERE status IN ('PENDING', 'ASSIGNED', 'IN_PROGRESS')`
	queryCompleted24h      = `SELECT count(*) FROM assistance_requests WHERE status = 'COMPLETED' AND completed_date >= now() - interval '24 hours'`
	queryPendingAssignment = `SELECT count(*) FROM assistance_requests WHERE status = 'PENDING'`
	queryAvgCompletion     = `SELECT COALESCE(AVG(EXTRACT(EPOCH FROM (completed_date - created_at)) / 3600), 0) FROM assistance_requests WHERE status = 'COMPLETED' AND completed_date >= now() - interval '30 days'`
	queryQuotes24h         = `SELECT count(*) FROM quotes WHERE created_at >= now() - interval '24 hours'`
	queryAcceptedQuotes24h = `SELECT count(*) FROM quotes WHERE status = 'ACCEPTED' AND created_at >= now() - interval '24 hours'`

	maxPendingAssignment = 20
)

type RequestProbe struct {
	info
	db           Querier
	checkTimeout time.Duration
}

func NewRequestProbe(db Querier, checkTimeout time.Duration) *RequestProbe {
	return &RequestProbe{
		info: info{
			name:        "request",
			displayName: "Request System",
			description: "Assistance request flow, assignment backlog and quote acceptance",
			checkNames:  []string{"Active Requests Count", "Completed Requests (24h)", "Pending Assignment Queue", "Average Completion Time", "Quote Acceptance Rate (24h)"},
		},
		db:           db,
		checkTimeout: checkTimeout,
	}
}

func (p *RequestProbe) Run(ctx context.Context) *core.ModuleResult {
	rec := newRecorder(p.info, p.checkTimeout)

	count := func(description, metric, query, format string) {
		rec.Observe(ctx, description, core.SeverityLow, func(ctx context.Context) (core.CheckOutcome, error) {
			var n int64
			if err := p.db.GetContext(ctx, &n, query); err != nil {
				return core.CheckOutcome{}, fmt.Errorf("could not query %s: %w", metric, err)
			}
			rec.Metric(metric, core.Int(n))
			return Pass(format, n), nil
		})
	}
	count("Active Requests Count", "active_requests", queryActiveRequests, "%d active requests")
	count("Completed Requests (24h)", "completed_24h", queryCompleted24h, "%d requests completed")

	rec.Observe(ctx, "Pending Assignment Queue", core.SeverityLow, func(ctx context.Context) (core.CheckOutcome, error) {
		var pending int64
		if err := p.db.GetContext(ctx, &pending, queryPendingAssignment); err != nil {
			return core.CheckOutcome{}, fmt.Errorf("could not check pending queue: %w", err)
		}
		rec.Metric("pending_assignment", core.Int(pending))
		if pending > maxPendingAssignment {
			rec.Warning("Many requests waiting for assignment")
			rec.Recommend("Assign pending requests to professionals")
			return Warn(core.SeverityHigh, "%d requests pending assignment", pending), nil
		}
		return Pass("%d requests pending assignment", pending), nil
	})

	rec.Observe(ctx, "Average Completion Time", core.SeverityLow, func(ctx context.Context) (core.CheckOutcome, error) {
		var hours float64
		if err := p.db.GetContext(ctx, &hours, queryAvgCompletion); err != nil {
			return core.CheckOutcome{}, fmt.Errorf("could not calculate completion time: %w", err)
		}
		h := int64(math.Round(hours))
		rec.Metric("avg_completion_hours", core.Int(h))
		return Pass("Average: %d hours", h), nil
	})

	rec.Observe(ctx, "Quote Acceptance Rate (24h)", core.SeverityLow, func(ctx context.Context) (core.CheckOutcome, error) {
		var total, accepted int64
		if err := p.db.GetContext(ctx, &total, queryQuotes24h); err != nil {
			return core.CheckOutcome{}, fmt.Errorf("could not calculate acceptance rate: %w", err)
		}
		if err := p.db.GetContext(ctx, &accepted, queryAcceptedQuotes24h); err != nil {
			return core.CheckOutcome{}, fmt.Errorf("could not calculate acceptance rate: %w", err)
		}
		var rate int64
		if total > 0 {
			rate = percent(accepted, total)
		}
		rec.Metric("quote_acceptance_rate", core.Int(rate))
		return Pass("%d%% acceptance rate (%d/%d)", rate, accepted, total), nil
	})

	return rec.Result()
}
