package checks

import (
	"context"
	"fmt"
	"time"

	"github.com/leozw/health-guardian/internal/core"
)

const (
	queryNotifications24h = `SELECT count(*) FROM notification_logs WHERE created_at >= now() - interval '24 hours'`
	queryDelivered24h     = `SELECT count(*) FROM notification_logs WHERE status = 'delivered' AND created_at >= now() - interval '24 hours'`
	queryUnreadNotices    = `SELECT count(*) FROM notifications WHERE is_read = false`
	queryPendingNotices   = `SELECT count(*) FROM notification_logs WHERE status = 'pending'`

	minNotificationRate = 90
	maxUnreadNotices    = 1000
	maxPendingNotices   = 500
)

type NotificationProbe struct {
	info
	db           Querier
	checkTimeout time.Duration
}

func NewNotificationProbe(db Querier, checkTimeout time.Duration) *NotificationProbe {
	return &NotificationProbe{
		info: info{
			name:        "notification",
			displayName: "Notification System",
			description: "Notification delivery rate, unread volume and pending backlog",
			checkNames:  []string{"Notification Delivery Rate (24h)", "Unread Notifications Count", "Pending Notification Queue"},
		},
		db:           db,
		checkTimeout: checkTimeout,
	}
}

func (p *NotificationProbe) Run(ctx context.Context) *core.ModuleResult {
	rec := newRecorder(p.info, p.checkTimeout)

	rec.Observe(ctx, "Notification Delivery Rate (24h)", core.SeverityMedium, func(ctx context.Context) (core.CheckOutcome, error) {
		var total, delivered int64
		if err := p.db.GetContext(ctx, &total, queryNotifications24h); err != nil {
			return core.CheckOutcome{}, fmt.Errorf("could not check delivery rate: %w", err)
		}
		if err := p.db.GetContext(ctx, &delivered, queryDelivered24h); err != nil {
			return core.CheckOutcome{}, fmt.Errorf("could not check delivery rate: %w", err)
		}
		rate := percent(delivered, total)
		rec.Metric("notifications_24h", core.Int(total))
		rec.Metric("successful_24h", core.Int(delivered))
		rec.Metric("success_rate", core.Int(rate))
		if total > 0 && rate < minNotificationRate {
			rec.Warning("Low notification delivery rate")
			rec.Recommend("Check notification channel configuration")
			return Warn(core.SeverityMedium, "Success rate: %d%%", rate), nil
		}
		return Pass("Success rate: %d%% (%d/%d)", rate, delivered, total), nil
	})

	rec.Observe(ctx, "Unread Notifications Count", core.SeverityLow, func(ctx context.Context) (core.CheckOutcome, error) {
		var unread int64
		if err := p.db.GetContext(ctx, &unread, queryUnreadNotices); err != nil {
			return core.CheckOutcome{}, fmt.Errorf("could not count unread notifications: %w", err)
		}
		rec.Metric("unread_notifications", core.Int(unread))
		if unread > maxUnreadNotices {
			rec.Warning("High number of unread notifications")
			return Warn(core.SeverityLow, "%d unread notifications", unread), nil
		}
		return Pass("%d unread notifications", unread), nil
	})

	rec.Observe(ctx, "Pending Notification Queue", core.SeverityLow, func(ctx context.Context) (core.CheckOutcome, error) {
		var pending int64
		if err := p.db.GetContext(ctx, &pending, queryPendingNotices); err != nil {
			return core.CheckOutcome{}, fmt.Errorf("could not check pending queue: %w", err)
		}
		rec.Metric("pending_notifications", core.Int(pending))
		if pending > maxPendingNotices {
			rec.Warning("Notification backlog is growing")
			rec.Recommend("Check the notification workers")
			return Warn(core.SeverityMedium, "%d notifications pending", pending), nil
		}
		return Pass("%d notifications pending", pending), nil
	})

	return rec.Result()
}
