package checks

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/leozw/health-guardian/internal/core"
)

const (
	slowPing          = 50 * time.Millisecond
	memoryCritical    = 90
	memoryHigh        = 75
	highKeyCount      = 100000
	highClientCount   = 100
	staleCacheSaveHrs = 24
)

type CacheProbe struct {
	info
	cache        CacheClient
	checkTimeout time.Duration
}

func NewCacheProbe(cache CacheClient, checkTimeout time.Duration) *CacheProbe {
	return &CacheProbe{
		info: info{
			name:        "cache",
			displayName: "Redis Cache",
			description: "Redis availability, latency, memory and persistence",
			checkNames:  []string{"Redis Connection", "Memory Usage", "Key Count", "Client Connections", "Operations Performance", "Data Persistence"},
		},
		cache:        cache,
		checkTimeout: checkTimeout,
	}
}

func (p *CacheProbe) Run(ctx context.Context) *core.ModuleResult {
	rec := newRecorder(p.info, p.checkTimeout)

	rec.Observe(ctx, "Redis Connection", core.SeverityCritical, func(ctx context.Context) (core.CheckOutcome, error) {
		start := time.Now()
		if err := p.cache.PingContext(ctx); err != nil {
			rec.Error("Redis is not available")
			return Fail(core.SeverityCritical, "Cannot connect to Redis: %v", err), nil
		}
		elapsed := time.Since(start)
		rec.Metric("ping_time_ms", core.Int(elapsed.Milliseconds()))
		if elapsed > slowPing {
			rec.Warning("Redis connection is slow")
			return Warn(core.SeverityMedium, "Connection slow: %dms", elapsed.Milliseconds()), nil
		}
		return Pass("Connected in %dms", elapsed.Milliseconds()), nil
	})

	rec.Observe(ctx, "Memory Usage", core.SeverityLow, func(ctx context.Context) (core.CheckOutcome, error) {
		info, err := p.cache.ServerInfo(ctx, "memory")
		if err != nil {
			return core.CheckOutcome{}, fmt.Errorf("could not check memory: %w", err)
		}
		used := info["used_memory_human"]
		if used == "" {
			used = "unknown"
		}
		rec.Metric("memory_used", core.String(used))
		usedBytes := infoInt(info, "used_memory")
		maxBytes := infoInt(info, "maxmemory")
		if maxBytes <= 0 {
			rec.Metric("memory_max", core.String("unlimited"))
			return Pass("Using %s (no limit set)", used), nil
		}
		rec.Metric("memory_max", core.String(info["maxmemory_human"]))
		pct := usedBytes * 100 / maxBytes
		rec.Metric("memory_usage_percent", core.Int(pct))
		switch {
		case pct > memoryCritical:
			rec.Error("Redis memory almost full")
			return Fail(core.SeverityCritical, "Critical: %d%% used", pct), nil
		case pct > memoryHigh:
			rec.Warning("Redis memory usage is high")
			rec.Recommend("Consider increasing Redis memory limit")
			return Warn(core.SeverityMedium, "High usage: %d%%", pct), nil
		}
		return Pass("Normal: %s used", used), nil
	})

	rec.Observe(ctx, "Key Count", core.SeverityLow, func(ctx context.Context) (core.CheckOutcome, error) {
		n, err := p.cache.KeyCount(ctx)
		if err != nil {
			return core.CheckOutcome{}, fmt.Errorf("could not count keys: %w", err)
		}
		rec.Metric("total_keys", core.Int(n))
		if n > highKeyCount {
			rec.Warning("Large number of keys in Redis")
			rec.Recommend("Review key expiration policies")
			return Warn(core.SeverityMedium, "High key count: %d", n), nil
		}
		return Pass("%d keys stored", n), nil
	})

	rec.Observe(ctx, "Client Connections", core.SeverityLow, func(ctx context.Context) (core.CheckOutcome, error) {
		info, err := p.cache.ServerInfo(ctx, "clients")
		if err != nil {
			return core.CheckOutcome{}, fmt.Errorf("could not check connections: %w", err)
		}
		clients := infoInt(info, "connected_clients")
		rec.Metric("connected_clients", core.Int(clients))
		if clients > highClientCount {
			rec.Warning("Many Redis connections")
			return Warn(core.SeverityLow, "High connections: %d", clients), nil
		}
		return Pass("%d clients connected", clients), nil
	})

	rec.Observe(ctx, "Operations Performance", core.SeverityLow, func(ctx context.Context) (core.CheckOutcome, error) {
		info, err := p.cache.ServerInfo(ctx, "stats")
		if err != nil {
			return core.CheckOutcome{}, fmt.Errorf("could not check performance: %w", err)
		}
		ops := infoInt(info, "instantaneous_ops_per_sec")
		rec.Metric("ops_per_second", core.Int(ops))
		return Pass("%d ops/second", ops), nil
	})

	rec.Observe(ctx, "Data Persistence", core.SeverityLow, func(ctx context.Context) (core.CheckOutcome, error) {
		info, err := p.cache.ServerInfo(ctx, "persistence")
		if err != nil {
			return core.CheckOutcome{}, fmt.Errorf("could not check persistence: %w", err)
		}
		lastSave := infoInt(info, "rdb_last_save_time")
		if lastSave <= 0 {
			return Pass("No RDB snapshot recorded"), nil
		}
		hours := int64(time.Since(time.Unix(lastSave, 0)).Hours())
		rec.Metric("last_save_hours_ago", core.Int(hours))
		if hours > staleCacheSaveHrs {
			rec.Warning("Redis backup is old")
			return Warn(core.SeverityMedium, "Last save %dh ago", hours), nil
		}
		return Pass("Last save %dh ago", hours), nil
	})

	return rec.Result()
}

func infoInt(info map[string]string, key string) int64 {
	v, err := strconv.ParseInt(info[key], 10, 64)
	if err != nil {
		return 0
	}
	return v
}
