package checks

import (
	"context"
	"fmt"
	"time"

	"github.com/leozw/health-guardian/internal/core"
)

const (
	queryActiveConnections = `SELECT count(*) FROM pg_stat_activity WHERE datname = current_database()`
	queryDatabaseSize      = `SELECT pg_database_size(current_database())`
	queryCountUsers        = `SELECT count(*) FROM users`
	queryCountRequests     = `SELECT count(*) FROM assistance_requests`
	queryCountQuotes       = `SELECT count(*) FROM quotes`
	querySlowQueries       = `SELECT count(*) FROM pg_stat_statements WHERE mean_exec_time > 1000`

	slowConnection    = time.Second
	largeDatabaseMB   = 5000
	slowQueryWarnings = 10
)

type DatabaseProbe struct {
	info
	db           Querier
	checkTimeout time.Duration
}

func NewDatabaseProbe(db Querier, checkTimeout time.Duration) *DatabaseProbe {
	return &DatabaseProbe{
		info: info{
			name:        "database",
			displayName: "Database System",
			description: "PostgreSQL connectivity, latency, size and query performance",
			checkNames:  []string{"Database Connection Speed", "Active Database Connections", "Database Size", "Database Statistics", "Slow Query Detection"},
		},
		db:           db,
		checkTimeout: checkTimeout,
	}
}

func (p *DatabaseProbe) Run(ctx context.Context) *core.ModuleResult {
	rec := newRecorder(p.info, p.checkTimeout)

	o := rec.Observe(ctx, "Database Connection Speed", core.SeverityCritical, func(ctx context.Context) (core.CheckOutcome, error) {
		start := time.Now()
		if err := p.db.PingContext(ctx); err != nil {
			return Fail(core.SeverityCritical, "Cannot connect to database: %v", err), nil
		}
		elapsed := time.Since(start)
		rec.Metric("connection_time_ms", core.Int(elapsed.Milliseconds()))
		if elapsed > slowConnection {
			rec.Warning("Database connection is slow")
			return Warn(core.SeverityMedium, "Connection slow: %dms", elapsed.Milliseconds()), nil
		}
		return Pass("Connected in %dms", elapsed.Milliseconds()), nil
	})
	if o.Status != core.CheckPass && o.Status != core.CheckWarn {
		rec.Error("Database connection failed")
	}

	rec.Observe(ctx, "Active Database Connections", core.SeverityLow, func(ctx context.Context) (core.CheckOutcome, error) {
		var n int64
		if err := p.db.GetContext(ctx, &n, queryActiveConnections); err != nil {
			return core.CheckOutcome{}, fmt.Errorf("could not check connections: %w", err)
		}
		rec.Metric("active_connections", core.Int(n))
		return Pass("%d active connections", n), nil
	})

	rec.Observe(ctx, "Database Size", core.SeverityLow, func(ctx context.Context) (core.CheckOutcome, error) {
		var size int64
		if err := p.db.GetContext(ctx, &size, queryDatabaseSize); err != nil {
			return core.CheckOutcome{}, fmt.Errorf("could not check database size: %w", err)
		}
		mb := size / 1024 / 1024
		rec.Metric("database_size_mb", core.Int(mb))
		if mb > largeDatabaseMB {
			rec.Warning("Database size is large")
			rec.Recommend("Consider archiving old data")
			return Warn(core.SeverityLow, "Database is %dMB", mb), nil
		}
		return Pass("Database size: %dMB", mb), nil
	})

	rec.Observe(ctx, "Database Statistics", core.SeverityLow, func(ctx context.Context) (core.CheckOutcome, error) {
		var users, requests, quotes int64
		if err := p.db.GetContext(ctx, &users, queryCountUsers); err != nil {
			return core.CheckOutcome{}, fmt.Errorf("could not retrieve statistics: %w", err)
		}
		if err := p.db.GetContext(ctx, &requests, queryCountRequests); err != nil {
			return core.CheckOutcome{}, fmt.Errorf("could not retrieve statistics: %w", err)
		}
		if err := p.db.GetContext(ctx, &quotes, queryCountQuotes); err != nil {
			return core.CheckOutcome{}, fmt.Errorf("could not retrieve statistics: %w", err)
		}
		rec.Metric("total_users", core.Int(users))
		rec.Metric("total_requests", core.Int(requests))
		rec.Metric("total_quotes", core.Int(quotes))
		return Pass("%d users, %d requests, %d quotes", users, requests, quotes), nil
	})

	// pg_stat_statements is an optional extension.
	rec.Observe(ctx, "Slow Query Detection", core.SeverityInfo, func(ctx context.Context) (core.CheckOutcome, error) {
		var slow int64
		if err := p.db.GetContext(ctx, &slow, querySlowQueries); err != nil {
			return core.CheckOutcome{}, fmt.Errorf("pg_stat_statements not enabled: %w", err)
		}
		rec.Metric("slow_queries", core.Int(slow))
		if slow > slowQueryWarnings {
			rec.Warning("Multiple slow queries detected")
			rec.Recommend("Optimize slow queries")
			return Warn(core.SeverityMedium, "%d slow queries detected", slow), nil
		}
		return Pass("No slow queries detected"), nil
	})

	return rec.Result()
}
