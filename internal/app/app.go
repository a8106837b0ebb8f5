// Package app wires the health engine from configuration.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/leozw/health-guardian/internal/checks"
	"github.com/leozw/health-guardian/internal/config"
	"github.com/leozw/health-guardian/internal/db"
	"github.com/leozw/health-guardian/internal/health"
	"github.com/leozw/health-guardian/internal/incidents"
	"github.com/leozw/health-guardian/internal/metrics"
	"github.com/leozw/health-guardian/internal/performance"
	"github.com/leozw/health-guardian/internal/providers"
	"github.com/leozw/health-guardian/internal/realtime"
	"github.com/leozw/health-guardian/internal/remediation"
	"github.com/leozw/health-guardian/internal/scheduler"
	"github.com/leozw/health-guardian/internal/storage/redis"
)

const connectTimeout = 5 * time.Second

type App struct {
	Config      *config.Config
	Logger      *zap.Logger
	DB          *sqlx.DB
	Repo        *db.Repository
	Memory      *db.MemoryStore
	Cache       *redis.Client
	Hub         *realtime.Hub
	Metrics     *metrics.Collector
	Registry    *checks.Registry
	Health      *health.Service
	Incidents   *incidents.Tracker
	Remediation *remediation.Engine
	Performance *performance.Monitor
	Scheduler   *scheduler.Scheduler
}

// New connects the stores and builds the service graph. Without a database
// URL results are kept in memory; without a Redis URL the cache probe
// reports the cache as unavailable.
func New(cfg *config.Config, logger *zap.Logger) (*App, error) {
	a := &App{Config: cfg, Logger: logger}

	deps := checks.Deps{
		JWTSecret:     cfg.Auth.JWTSecret,
		BackupDir:     cfg.Backup.Dir,
		AIHourlyLimit: cfg.AI.HourlyLimit,
		CheckTimeout:  cfg.Health.CheckTimeout,
	}

	// Database
	var (
		sink     health.Sink
		keyStore providers.Store
		fixes    remediation.Store
	)
	if cfg.Database.URL != "" {
		conn, err := db.NewConnection(cfg.Database.URL, cfg.Database.MaxConnections, cfg.Database.MaxIdleConns)
		if err != nil {
			return nil, err
		}
		a.DB = conn
		if cfg.Database.AutoMigrate {
			if err := db.Migrate(conn); err != nil {
				conn.Close()
				return nil, err
			}
		}
		a.Repo = db.NewRepository(conn)
		sink, keyStore, fixes = a.Repo, a.Repo, a.Repo
		deps.DB = conn
	} else {
		logger.Warn("DATABASE_URL not set, results are kept in memory")
		a.Memory = db.NewMemoryStore()
		sink, keyStore, fixes = a.Memory, a.Memory, a.Memory
	}

	// Redis
	if cfg.Redis.URL != "" {
		a.Cache = redis.NewClient(cfg.Redis.URL)
		ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
		if err := a.Cache.PingContext(ctx); err != nil {
			logger.Warn("Redis not reachable at startup", zap.Error(err))
		}
		cancel()
		deps.Cache = a.Cache
	}

	a.Hub = realtime.NewHub(cfg.Server.AllowedOrigins, logger)
	deps.Connections = a.Hub
	deps.Keys = providers.NewKeys(cfg.Providers, keyStore)

	a.Registry = checks.DefaultRegistry(deps)
	a.Health = health.NewService(a.Registry, sink, logger, health.Options{
		Concurrency:  cfg.Health.Concurrency,
		ProbeTimeout: cfg.Health.ProbeTimeout,
		HistoryLimit: cfg.Health.HistoryLimit,
		PageSize:     cfg.Health.PageSize,
	})

	// Publishers
	a.Metrics = metrics.NewCollector(cfg.Mimir)
	a.Health.SetRecorder(a.Metrics)
	a.Health.AddPublisher(a.Metrics)
	a.Health.AddPublisher(a.Hub)
	a.Hub.OnChange(a.Metrics.SetRealtimeClients)
	a.Incidents = incidents.NewTracker(logger, a.Metrics, incidents.DefaultRetention)
	a.Health.AddPublisher(a.Incidents)
	if a.Cache != nil {
		a.Health.AddPublisher(redis.SummaryMirror{Client: a.Cache})
	}

	if cfg.Remediation.Enabled {
		if err := a.setupRemediation(fixes); err != nil {
			a.Close()
			return nil, err
		}
	}

	if cfg.Performance.Enabled {
		p := cfg.Performance
		a.Performance = performance.NewMonitor(a.Metrics.Registry(), a.Health, logger, performance.Options{
			Interval:     p.Interval,
			HistoryLimit: p.HistoryLimit,
			Thresholds: performance.Thresholds{
				CPUPercent:    p.CPUPercent,
				MemoryMB:      p.MemoryMB,
				Goroutines:    p.Goroutines,
				FailureRate:   p.FailureRate,
				ExecutionTime: p.ExecutionTime,
			},
		})
		a.Performance.SetNotifier(a.Hub)
		a.Performance.SetRecorder(a.Metrics)
		a.Performance.Start()
	}

	schedCfg := cfg.Scheduler
	modules, err := a.canonicalSchedules(schedCfg.Modules)
	if err != nil {
		a.Close()
		return nil, err
	}
	schedCfg.Modules = modules
	sched, err := scheduler.NewScheduler(a.Health, schedCfg, logger)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Scheduler = sched
	a.Health.SetPeriodic(sched)

	logger.Info("Health engine ready",
		zap.Strings("modules", a.Registry.IDs()),
		zap.Bool("database", a.DB != nil),
		zap.Bool("redis", a.Cache != nil),
		zap.Bool("remediation", a.Remediation != nil),
		zap.Bool("performance", a.Performance != nil),
	)
	return a, nil
}

func (a *App) setupRemediation(store remediation.Store) error {
	cfg := a.Config.Remediation
	rules, err := remediation.LoadRules(cfg.RulesFile)
	if err != nil {
		return err
	}
	for i := range rules {
		p, ok := a.Registry.Lookup(rules[i].Module)
		if !ok {
			return fmt.Errorf("remediation rule %q: %w: %s", rules[i].ID, health.ErrUnknownModule, rules[i].Module)
		}
		rules[i].Module = p.Name()
	}

	a.Remediation = remediation.NewEngine(rules, store, a.Logger, remediation.Options{
		SettleDelay: cfg.SettleDelay,
		Retention:   cfg.Retention,
	})
	if a.Cache != nil {
		a.Remediation.SetCache(a.Cache)
	}
	a.Remediation.SetRechecker(a.Health)
	a.Remediation.SetNotifier(a.Hub)
	a.Remediation.SetRecorder(a.Metrics)
	a.Health.AddPublisher(a.Remediation)
	a.Remediation.Start()
	a.Logger.Info("Auto-remediation enabled", zap.Int("rules", len(rules)))
	return nil
}

// canonicalSchedules resolves module aliases in per-module schedules.
func (a *App) canonicalSchedules(in map[string]time.Duration) (map[string]time.Duration, error) {
	out := make(map[string]time.Duration, len(in))
	for id, every := range in {
		p, ok := a.Registry.Lookup(id)
		if !ok {
			return nil, fmt.Errorf("scheduler: %w: %s", health.ErrUnknownModule, id)
		}
		out[p.Name()] = every
	}
	return out, nil
}

// Store returns the readiness target, nil when running in memory.
func (a *App) Store() interface{ Ping(context.Context) error } {
	if a.Repo == nil {
		return nil
	}
	return a.Repo
}

func (a *App) Close() {
	if a.Scheduler != nil {
		a.Scheduler.Close()
	}
	if a.Performance != nil {
		a.Performance.Close()
	}
	if a.Remediation != nil {
		a.Remediation.Close()
	}
	if a.Hub != nil {
		a.Hub.Close()
	}
	if a.Cache != nil {
		a.Cache.Close()
	}
	if a.DB != nil {
		a.DB.Close()
	}
}
