package checks

import (
	"context"
	"fmt"
	"time"

	"github.com/leozw/health-guardian/internal/core"
)

type paymentStats struct {
	Total     int64   `db:"total"`
	Completed int64   `db:"completed"`
	Failed    int64   `db:"failed"`
	Amount    float64 `db:"amount"`
}

const (
	queryPaymentStats24h = `
		SELECT count(*) AS total,
			count(*) FILTER (WHERE status = 'COMPLETED') AS completed,
			count(*) FILTER (WHERE status = 'FAILED') AS failed,
			COALESCE(SUM(amount) FILTER (WHERE status = 'COMPLETED'), 0) AS amount
		FROM payments WHERE created_at >= now() - interval '24 hours'`
	queryPendingPayments = `SELECT count(*) FROM payments WHERE status = 'PENDING'`

	minPaymentSuccessRate = 95
	maxPendingPayments    = 10
)

type PaymentProbe struct {
	info
	keys         KeyProvider
	db           Querier
	checkTimeout time.Duration
}

func NewPaymentProbe(keys KeyProvider, db Querier, checkTimeout time.Duration) *PaymentProbe {
	return &PaymentProbe{
		info: info{
			name:        "payment",
			displayName: "Payment System",
			description: "Payment provider configuration, success rate and pending backlog",
			checkNames:  []string{"Stripe API Configuration", "Payment Success Rate (24h)", "Pending Payments"},
		},
		keys:         keys,
		db:           db,
		checkTimeout: checkTimeout,
	}
}

func (p *PaymentProbe) Run(ctx context.Context) *core.ModuleResult {
	rec := newRecorder(p.info, p.checkTimeout)

	observeProviderKey(ctx, rec, p.keys, "STRIPE", "Stripe", core.SeverityCritical)

	rec.Observe(ctx, "Payment Success Rate (24h)", core.SeverityMedium, func(ctx context.Context) (core.CheckOutcome, error) {
		var s paymentStats
		if err := p.db.GetContext(ctx, &s, queryPaymentStats24h); err != nil {
			return core.CheckOutcome{}, fmt.Errorf("could not check payment statistics: %w", err)
		}
		rate := percent(s.Completed, s.Total)
		rec.Metric("transactions_24h", core.Int(s.Total))
		rec.Metric("successful_24h", core.Int(s.Completed))
		rec.Metric("failed_24h", core.Int(s.Failed))
		rec.Metric("success_rate", core.Int(rate))
		rec.Metric("total_processed_24h", core.Float(s.Amount))
		if s.Total > 0 && rate < minPaymentSuccessRate {
			rec.Warning("Low payment success rate")
			rec.Recommend("Review failed payments with the provider")
			return Warn(core.SeverityHigh, "Success rate: %d%%", rate), nil
		}
		return Pass("Success rate: %d%% (%d/%d)", rate, s.Completed, s.Total), nil
	})

	rec.Observe(ctx, "Pending Payments", core.SeverityLow, func(ctx context.Context) (core.CheckOutcome, error) {
		var pending int64
		if err := p.db.GetContext(ctx, &pending, queryPendingPayments); err != nil {
			return core.CheckOutcome{}, fmt.Errorf("could not count pending payments: %w", err)
		}
		rec.Metric("pending_payments", core.Int(pending))
		if pending > maxPendingPayments {
			rec.Warning("Many pending payments")
			return Warn(core.SeverityMedium, "%d pending payments", pending), nil
		}
		return Pass("%d pending payments", pending), nil
	})

	return rec.Result()
}
