package checks

import (
	"context"
	"fmt"
	"time"

	"github.com/leozw/health-guardian/internal/core"
)

const (
	queryEmailsSent24h      = `SELECT count(*) FROM notification_logs WHERE channel = 'email' AND created_at >= now() - interval '24 hours'`
	queryEmailsDelivered24h = `SELECT count(*) FROM notification_logs WHERE channel = 'email' AND status = 'delivered' AND created_at >= now() - interval '24 hours'`
	queryEmailTemplates     = `SELECT count(*) FROM email_templates WHERE is_active = true`

	minEmailDeliveryRate = 95
)

type EmailProbe struct {
	info
	keys         KeyProvider
	db           Querier
	checkTimeout time.Duration
}

func NewEmailProbe(keys KeyProvider, db Querier, checkTimeout time.Duration) *EmailProbe {
	return &EmailProbe{
		info: info{
			name:        "email",
			displayName: "Email Service",
			description: "Email provider configuration, delivery rate and templates",
			checkNames:  []string{"Brevo API Configuration", "Email Delivery Rate (24h)", "Email Templates"},
		},
		keys:         keys,
		db:           db,
		checkTimeout: checkTimeout,
	}
}

func (p *EmailProbe) Run(ctx context.Context) *core.ModuleResult {
	rec := newRecorder(p.info, p.checkTimeout)

	if !observeProviderKey(ctx, rec, p.keys, "BREVO", "Brevo", core.SeverityCritical) {
		return rec.Result()
	}

	rec.Observe(ctx, "Email Delivery Rate (24h)", core.SeverityLow, func(ctx context.Context) (core.CheckOutcome, error) {
		var sent, delivered int64
		if err := p.db.GetContext(ctx, &sent, queryEmailsSent24h); err != nil {
			return core.CheckOutcome{}, fmt.Errorf("could not fetch statistics: %w", err)
		}
		if err := p.db.GetContext(ctx, &delivered, queryEmailsDelivered24h); err != nil {
			return core.CheckOutcome{}, fmt.Errorf("could not fetch statistics: %w", err)
		}
		rate := percent(delivered, sent)
		rec.Metric("emails_sent_24h", core.Int(sent))
		rec.Metric("delivered_24h", core.Int(delivered))
		rec.Metric("delivery_rate", core.Int(rate))
		if sent > 0 && rate < minEmailDeliveryRate {
			rec.Warning("Low email delivery rate")
			rec.Recommend("Check bounced emails")
			return Warn(core.SeverityMedium, "Delivery rate: %d%%", rate), nil
		}
		return Pass("Delivery rate: %d%%", rate), nil
	})

	rec.Observe(ctx, "Email Templates", core.SeverityLow, func(ctx context.Context) (core.CheckOutcome, error) {
		var n int64
		if err := p.db.GetContext(ctx, &n, queryEmailTemplates); err != nil {
			return core.CheckOutcome{}, fmt.Errorf("could not check templates: %w", err)
		}
		rec.Metric("email_templates", core.Int(n))
		if n == 0 {
			rec.Warning("No email templates")
			rec.Recommend("Create email templates")
			return Warn(core.SeverityMedium, "No templates configured"), nil
		}
		return Pass("%d templates configured", n), nil
	})

	return rec.Result()
}
