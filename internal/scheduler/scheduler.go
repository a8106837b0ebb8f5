package scheduler

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/leozw/health-guardian/internal/config"
	"github.com/leozw/health-guardian/internal/core"
	"github.com/leozw/health-guardian/internal/health"
)

const DefaultInterval = 5 * time.Minute

// Runner is the work the scheduler triggers.
type Runner interface {
	RunScheduled(ctx context.Context) (*core.SystemHealthSummary, error)
	RunSingle(ctx context.Context, module string) (*core.SystemHealthSummary, error)
	GenerateReport(ctx context.Context, start, end time.Time) (*core.HealthReport, error)
}

// Scheduler runs periodic sweeps, per-module refreshes and the weekly
// report. Stopping it only prevents future runs; a sweep already in flight
// completes.
type Scheduler struct {
	runner     Runner
	logger     *zap.Logger
	interval   time.Duration
	modules    map[string]time.Duration
	runOnStart bool
	weekday    time.Weekday
	hour       int
	now        func() time.Time

	base   context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu         sync.Mutex
	stop       context.CancelFunc
	nextSweep  time.Time
	nextReport time.Time
}

func NewScheduler(runner Runner, cfg config.SchedulerConfig, logger *zap.Logger) (*Scheduler, error) {
	weekday, err := cfg.Weekday()
	if err != nil {
		return nil, err
	}
	interval := cfg.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}

	base, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		runner:     runner,
		logger:     logger,
		interval:   interval,
		modules:    cfg.Modules,
		runOnStart: cfg.RunOnStart,
		weekday:    weekday,
		hour:       cfg.ReportHour,
		now:        time.Now,
		base:       base,
		cancel:     cancel,
	}, nil
}

// Start begins periodic execution. It reports false if already running.
func (s *Scheduler) Start() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stop != nil {
		return false
	}

	ctx, stop := context.WithCancel(s.base)
	s.stop = stop
	now := s.now()
	s.nextSweep = now.Add(s.interval)
	s.nextReport = nextWeekly(now, s.weekday, s.hour)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop(ctx)
	}()
	for _, module := range s.moduleIDs() {
		every := s.modules[module]
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.moduleLoop(ctx, module, every)
		}()
	}

	s.logger.Info("Scheduler started",
		zap.Duration("interval", s.interval),
		zap.Int("module_schedules", len(s.modules)),
		zap.Time("next_report", s.nextReport),
	)
	return true
}

// Stop halts periodic execution. It reports false if not running.
func (s *Scheduler) Stop() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stop == nil {
		return false
	}
	s.stop()
	s.stop = nil
	s.logger.Info("Scheduler stopped")
	return true
}

func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stop != nil
}

// NextRun is the time of the next scheduled sweep.
func (s *Scheduler) NextRun() (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stop == nil {
		return time.Time{}, false
	}
	return s.nextSweep, true
}

func (s *Scheduler) NextReport() (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stop == nil {
		return time.Time{}, false
	}
	return s.nextReport, true
}

// Close stops the scheduler, cancels in-flight work and waits for it.
func (s *Scheduler) Close() {
	s.Stop()
	s.cancel()
	s.wg.Wait()
}

func (s *Scheduler) loop(ctx context.Context) {
	if s.runOnStart {
		s.sweep()
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	report := time.NewTimer(s.untilReport())
	defer report.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.mu.Lock()
			s.nextSweep = s.now().Add(s.interval)
			s.mu.Unlock()
			s.sweep()
		case <-report.C:
			s.generateReport()
			s.mu.Lock()
			s.nextReport = nextWeekly(s.now(), s.weekday, s.hour)
			s.mu.Unlock()
			report.Reset(s.untilReport())
		}
	}
}

// Modules returns the per-module refresh intervals.
func (s *Scheduler) Modules() map[string]time.Duration {
	out := make(map[string]time.Duration, len(s.modules))
	for k, v := range s.modules {
		out[k] = v
	}
	return out
}

func (s *Scheduler) moduleIDs() []string {
	ids := make([]string, 0, len(s.modules))
	for id := range s.modules {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (s *Scheduler) moduleLoop(ctx context.Context, module string, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.refresh(module)
		}
	}
}

func (s *Scheduler) refresh(module string) {
	summary, err := s.runner.RunSingle(s.base, module)
	switch {
	case errors.Is(err, health.ErrSweepInProgress):
		s.logger.Debug("Skipping module refresh, another run is in flight", zap.String("module", module))
	case err != nil:
		s.logger.Error("Scheduled module refresh failed", zap.String("module", module), zap.Error(err))
	default:
		s.logger.Debug("Scheduled module refresh completed",
			zap.String("module", module),
			zap.Int("score", summary.OverallScore),
		)
	}
}

func (s *Scheduler) untilReport() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return max(s.nextReport.Sub(s.now()), 0)
}

// sweep runs on the base context so stopping the loop does not abort it.
func (s *Scheduler) sweep() {
	summary, err := s.runner.RunScheduled(s.base)
	switch {
	case errors.Is(err, health.ErrSweepInProgress):
		s.logger.Warn("Skipping scheduled sweep, another sweep is running")
	case err != nil:
		s.logger.Error("Scheduled sweep failed", zap.Error(err))
	default:
		s.logger.Debug("Scheduled sweep completed",
			zap.String("sweep_id", summary.SweepID),
			zap.Int("score", summary.OverallScore),
		)
	}
}

func (s *Scheduler) generateReport() {
	report, err := s.runner.GenerateReport(s.base, time.Time{}, time.Time{})
	switch {
	case errors.Is(err, health.ErrNoHistory):
		s.logger.Info("Skipping weekly report, no history in period")
	case err != nil:
		s.logger.Error("Weekly report failed", zap.Error(err))
	default:
		s.logger.Info("Weekly report generated",
			zap.String("report_id", report.ID),
			zap.Float64("average", report.OverallAverage),
		)
	}
}

// nextWeekly returns the first weekday at hour:00 strictly after now.
func nextWeekly(now time.Time, weekday time.Weekday, hour int) time.Time {
	days := (int(weekday) - int(now.Weekday()) + 7) % 7
	next := time.Date(now.Year(), now.Month(), now.Day()+days, hour, 0, 0, 0, now.Location())
	if !next.After(now) {
		next = next.AddDate(0, 0, 7)
	}
	return next
}
