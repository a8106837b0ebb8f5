package checks

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/leozw/health-guardian/internal/core"
)

const (
	queryChatMessages24h = `SELECT count(*) FROM request_chat_messages WHERE is_deleted = false AND created_at >= now() - interval '24 hours'`
	queryActiveChats     = `SELECT count(*) FROM assistance_requests WHERE status IN ('PENDING', 'ASSIGNED', 'IN_PROGRESS')`
	queryChatResponse    = `
		SELECT COALESCE(AVG(gap), 0) FROM (
			SELECT EXTRACT(EPOCH FROM (created_at - LAG(created_at) OVER (PARTITION BY request_id ORDER BY created_at))) AS gap
			FROM request_chat_messages
			WHERE created_at >= now() - interval '24 hours'
		) gaps WHERE gap IS NOT NULL`
	queryUnreadMessages = `SELECT count(*) FROM request_chat_messages WHERE is_read = false`

	slowChatResponseSecs = 300
	maxUnreadMessages    = 100
)

type ChatProbe struct {
	info
	db           Querier
	checkTimeout time.Duration
}

func NewChatProbe(db Querier, checkTimeout time.Duration) *ChatProbe {
	return &ChatProbe{
		info: info{
			name:        "chat",
			displayName: "Chat System",
			description: "Message volume, active conversations, response latency and unread backlog",
			checkNames:  []string{"Chat Messages Volume (24h)", "Active Chats Count", "Average Response Time", "Unread Messages Count"},
		},
		db:           db,
		checkTimeout: checkTimeout,
	}
}

func (p *ChatProbe) Run(ctx context.Context) *core.ModuleResult {
	rec := newRecorder(p.info, p.checkTimeout)

	rec.Observe(ctx, "Chat Messages Volume (24h)", core.SeverityLow, func(ctx context.Context) (core.CheckOutcome, error) {
		var n int64
		if err := p.db.GetContext(ctx, &n, queryChatMessages24h); err != nil {
			return core.CheckOutcome{}, fmt.Errorf("could not count messages: %w", err)
		}
		rec.Metric("messages_24h", core.Int(n))
		return Pass("%d messages in the last 24h", n), nil
	})

	rec.Observe(ctx, "Active Chats Count", core.SeverityLow, func(ctx context.Context) (core.CheckOutcome, error) {
		var n int64
		if err := p.db.GetContext(ctx, &n, queryActiveChats); err != nil {
			return core.CheckOutcome{}, fmt.Errorf("could not count active chats: %w", err)
		}
		rec.Metric("active_chats", core.Int(n))
		return Pass("%d active chats", n), nil
	})

	rec.Observe(ctx, "Average Response Time", core.SeverityLow, func(ctx context.Context) (core.CheckOutcome, error) {
		var avg float64
		if err := p.db.GetContext(ctx, &avg, queryChatResponse); err != nil {
			return core.CheckOutcome{}, fmt.Errorf("could not calculate response time: %w", err)
		}
		secs := int64(math.Round(avg))
		rec.Metric("avg_response_time_seconds", core.Int(secs))
		if secs > slowChatResponseSecs {
			rec.Warning("Slow chat response time")
			rec.Recommend("Review professional response times")
			return Warn(core.SeverityMedium, "Average: %d minutes", (secs+30)/60), nil
		}
		return Pass("Average: %d seconds", secs), nil
	})

	rec.Observe(ctx, "Unread Messages Count", core.SeverityLow, func(ctx context.Context) (core.CheckOutcome, error) {
		var n int64
		if err := p.db.GetContext(ctx, &n, queryUnreadMessages); err != nil {
			return core.CheckOutcome{}, fmt.Errorf("could not count unread messages: %w", err)
		}
		rec.Metric("unread_messages", core.Int(n))
		if n > maxUnreadMessages {
			rec.Warning("High number of unread messages")
			return Warn(core.SeverityLow, "%d unread messages", n), nil
		}
		return Pass("%d unread messages", n), nil
	})

	return rec.Result()
}
