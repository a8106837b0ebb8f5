package checks

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/leozw/health-guardian/internal/core"
)

const (
	queryConversations24h = `SELECT count(*) FROM ai_conversations WHERE created_at >= now() - interval '24 hours'`
	queryTokens24h        = `SELECT COALESCE(SUM(total_tokens), 0) FROM ai_conversations WHERE created_at >= now() - interval '24 hours'`
	queryAIResponse       = `SELECT COALESCE(AVG(EXTRACT(EPOCH FROM (ended_at - started_at))), 0) FROM ai_conversations WHERE created_at >= now() - interval '24 hours' AND ended_at IS NOT NULL`

	maxDailyTokens      = 100000
	costPerKiloToken    = 0.002
	slowAIResponse      = 5 * time.Second
	DefaultAIHourlyRate = 1000
)

type AIProbe struct {
	info
	keys         KeyProvider
	db           Querier
	cache        CacheClient
	hourlyLimit  int64
	now          func() time.Time
	checkTimeout time.Duration
}

func NewAIProbe(keys KeyProvider, db Querier, cache CacheClient, hourlyLimit int64, checkTimeout time.Duration) *AIProbe {
	if hourlyLimit <= 0 {
		hourlyLimit = DefaultAIHourlyRate
	}
	return &AIProbe{
		info: info{
			name:        "ai",
			displayName: "AI System",
			description: "AI provider configuration, usage, cost, latency and rate limiting",
			checkNames:  []string{"OpenAI API Configuration", "AI Conversations (24h)", "Token Usage (24h)", "AI Response Time", "AI Rate Limiting"},
		},
		keys:         keys,
		db:           db,
		cache:        cache,
		hourlyLimit:  hourlyLimit,
		now:          time.Now,
		checkTimeout: checkTimeout,
	}
}

// RateLimitKey is the cache counter of AI requests for the hour of t.
func RateLimitKey(t time.Time) string {
	return fmt.Sprintf("ai:ratelimit:%d", t.Hour())
}

func (p *AIProbe) Run(ctx context.Context) *core.ModuleResult {
	rec := newRecorder(p.info, p.checkTimeout)

	observeProviderKey(ctx, rec, p.keys, "OPENAI", "OpenAI", core.SeverityCritical)

	rec.Observe(ctx, "AI Conversations (24h)", core.SeverityLow, func(ctx context.Context) (core.CheckOutcome, error) {
		var n int64
		if err := p.db.GetContext(ctx, &n, queryConversations24h); err != nil {
			return core.CheckOutcome{}, fmt.Errorf("could not count conversations: %w", err)
		}
		rec.Metric("conversations_24h", core.Int(n))
		return Pass("%d conversations in the last 24h", n), nil
	})

	rec.Observe(ctx, "Token Usage (24h)", core.SeverityLow, func(ctx context.Context) (core.CheckOutcome, error) {
		var tokens int64
		if err := p.db.GetContext(ctx, &tokens, queryTokens24h); err != nil {
			return core.CheckOutcome{}, fmt.Errorf("could not check token usage: %w", err)
		}
		cost := float64(tokens) / 1000 * costPerKiloToken
		rec.Metric("tokens_used_24h", core.Int(tokens))
		rec.Metric("estimated_cost_24h", core.Float(math.Round(cost*100)/100))
		if tokens > maxDailyTokens {
			rec.Warning("High token usage")
			rec.Recommend("Monitor API costs")
			return Warn(core.SeverityMedium, "%d tokens used ($%.2f)", tokens, cost), nil
		}
		return Pass("%d tokens used ($%.2f)", tokens, cost), nil
	})

	rec.Observe(ctx, "AI Response Time", core.SeverityLow, func(ctx context.Context) (core.CheckOutcome, error) {
		var secs float64
		if err := p.db.GetContext(ctx, &secs, queryAIResponse); err != nil {
			return core.CheckOutcome{}, fmt.Errorf("could not check response time: %w", err)
		}
		ms := int64(math.Round(secs * 1000))
		rec.Metric("avg_response_time", core.Int(ms))
		if ms > slowAIResponse.Milliseconds() {
			rec.Warning("Slow AI responses")
			return Warn(core.SeverityMedium, "Average: %dms", ms), nil
		}
		return Pass("Average: %dms", ms), nil
	})

	rec.Observe(ctx, "AI Rate Limiting", core.SeverityLow, func(ctx context.Context) (core.CheckOutcome, error) {
		if p.cache == nil {
			return core.CheckOutcome{}, fmt.Errorf("rate limit store not configured")
		}
		n, err := p.cache.GetInt(ctx, RateLimitKey(p.now()))
		if err != nil {
			return core.CheckOutcome{}, fmt.Errorf("could not check rate limiting: %w", err)
		}
		rec.Metric("requests_this_hour", core.Int(n))
		rec.Metric("rate_limit_per_hour", core.Int(p.hourlyLimit))
		if n*10 > p.hourlyLimit*8 {
			rec.Warning("Approaching AI rate limit")
			return Warn(core.SeverityMedium, "Near limit: %d/%d", n, p.hourlyLimit), nil
		}
		return Pass("%d/%d requests this hour", n, p.hourlyLimit), nil
	})

	return rec.Result()
}
