package health

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/leozw/health-guardian/internal/checks"
	"github.com/leozw/health-guardian/internal/core"
)

const (
	DefaultHistoryLimit = 100
	MaxHistoryLimit     = 1000
	DefaultPageSize     = 1000
	DefaultProbeTimeout = 30 * time.Second
	DefaultConcurrency  = 4
)

// Sink stores module results and summaries. Writes are append-only.
type Sink interface {
	SaveResult(ctx context.Context, r *core.ModuleResult) error
	SaveSummary(ctx context.Context, s *core.SystemHealthSummary) error
	ListResults(ctx context.Context, q core.HistoryQuery) ([]core.PersistedResult, error)
	ListSummaries(ctx context.Context, limit int) ([]core.PersistedSummary, error)
}

// Publisher receives every completed summary.
type Publisher interface {
	Publish(ctx context.Context, s *core.SystemHealthSummary) error
}

// Recorder receives execution telemetry.
type Recorder interface {
	ProbeFinished(module string, status core.ModuleStatus, d time.Duration)
	SweepFinished(trigger string, d time.Duration, err error)
	PersistFailed(kind string)
}

// Periodic is the background trigger toggled by Start and Stop.
type Periodic interface {
	Start() bool
	Stop() bool
	Running() bool
	NextRun() (time.Time, bool)
}

type Options struct {
	Concurrency  int
	ProbeTimeout time.Duration
	HistoryLimit int
	// PageSize is the number of rows read per sink query when export and
	// report walk a whole window.
	PageSize int
}

func (o Options) withDefaults() Options {
	if o.Concurrency <= 0 {
		o.Concurrency = DefaultConcurrency
	}
	if o.ProbeTimeout <= 0 {
		o.ProbeTimeout = DefaultProbeTimeout
	}
	if o.HistoryLimit <= 0 {
		o.HistoryLimit = DefaultHistoryLimit
	}
	if o.PageSize <= 0 {
		o.PageSize = DefaultPageSize
	}
	return o
}

// Service orchestrates probe execution, caching, persistence and
// publication of health summaries.
type Service struct {
	registry   *checks.Registry
	sink       Sink
	cache      *ResultCache
	logger     *zap.Logger
	opts       Options
	publishers []Publisher
	recorder   Recorder
	periodic   Periodic
	now        func() time.Time

	mu         sync.Mutex
	// busy is non-nil while a run holds the in-flight slot and is closed
	// when it releases it.
	busy       chan struct{}
	last       *core.SystemHealthSummary
	lastReport *core.HealthReport
}

func NewService(registry *checks.Registry, sink Sink, logger *zap.Logger, opts Options) *Service {
	return &Service{
		registry: registry,
		sink:     sink,
		cache:    NewResultCache(),
		logger:   logger,
		opts:     opts.withDefaults(),
		now:      time.Now,
	}
}

func (s *Service) AddPublisher(p Publisher) {
	s.publishers = append(s.publishers, p)
}

func (s *Service) SetRecorder(r Recorder) {
	s.recorder = r
}

func (s *Service) SetPeriodic(p Periodic) {
	s.periodic = p
}

func (s *Service) Modules() []checks.ModuleInfo {
	return s.registry.Modules()
}

func (s *Service) acquire() bool {
	_, ok := s.tryAcquire()
	return ok
}

// tryAcquire takes the in-flight slot. When it is taken, it returns a
// channel closed once the current holder releases it.
func (s *Service) tryAcquire() (<-chan struct{}, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.busy != nil {
		return s.busy, false
	}
	s.busy = make(chan struct{})
	return nil, true
}

func (s *Service) release() {
	s.mu.Lock()
	close(s.busy)
	s.busy = nil
	s.mu.Unlock()
}

// RunAll runs every registered probe and returns the new summary. A call
// made while another run is in flight fails with ErrSweepInProgress.
// Cancelling ctx does not abort the sweep; each probe is bounded by the
// probe timeout instead.
func (s *Service) RunAll(ctx context.Context) (*core.SystemHealthSummary, error) {
	if !s.acquire() {
		s.logger.Warn("Health checks are already running")
		return nil, ErrSweepInProgress
	}
	defer s.release()
	return s.sweep(ctx, "manual")
}

// RunScheduled is RunAll tagged as a periodic run.
func (s *Service) RunScheduled(ctx context.Context) (*core.SystemHealthSummary, error) {
	if !s.acquire() {
		return nil, ErrSweepInProgress
	}
	defer s.release()
	return s.sweep(ctx, "scheduled")
}

func (s *Service) sweep(ctx context.Context, trigger string) (*core.SystemHealthSummary, error) {
	ctx = context.WithoutCancel(ctx)
	start := time.Now()
	sweepID := uuid.NewString()
	logger := s.logger.With(zap.String("sweep_id", sweepID), zap.String("trigger", trigger))
	logger.Info("Starting health check sweep")

	probes := s.registry.Probes()
	results := make([]*core.ModuleResult, len(probes))

	var g errgroup.Group
	g.SetLimit(s.opts.Concurrency)
	for i, p := range probes {
		g.Go(func() error {
			results[i] = s.runProbe(ctx, p)
			return nil
		})
	}
	_ = g.Wait()

	modules := make([]core.ModuleResult, 0, len(results))
	for _, r := range results {
		s.cache.Put(r.Module, *r)
		s.persistResult(ctx, logger, r)
		modules = append(modules, *r)
	}

	summary := CalculateAt(modules, s.now())
	summary.SweepID = sweepID
	s.finish(ctx, logger, &summary)

	d := time.Since(start)
	if s.recorder != nil {
		s.recorder.SweepFinished(trigger, d, nil)
	}
	logger.Info("Health check sweep completed",
		zap.String("overall", string(summary.Overall)),
		zap.Int("score", summary.OverallScore),
		zap.Duration("duration", d),
	)
	return cloneSummary(&summary), nil
}

// RunSingle refreshes one module and patches it into the last summary
// without touching the other modules' results.
func (s *Service) RunSingle(ctx context.Context, module string) (*core.SystemHealthSummary, error) {
	p, ok := s.registry.Lookup(module)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownModule, module)
	}
	if !s.acquire() {
		s.logger.Warn("Health checks are already running", zap.String("module", p.Name()))
		return nil, ErrSweepInProgress
	}
	defer s.release()
	ctx = context.WithoutCancel(ctx)

	base, complete := s.lastComplete()
	if !complete {
		var err error
		if base, err = s.sweep(ctx, "bootstrap"); err != nil {
			return nil, err
		}
	}

	sweepID := uuid.NewString()
	logger := s.logger.With(zap.String("sweep_id", sweepID), zap.String("module", p.Name()))

	r := s.runProbe(ctx, p)
	s.cache.Put(r.Module, *r)
	s.persistResult(ctx, logger, r)

	summary := CalculateAt(patchModules(base.Modules, *r), s.now())
	summary.SweepID = sweepID
	s.finish(ctx, logger, &summary)

	logger.Info("Single health check completed",
		zap.String("status", string(r.Status)),
		zap.Int("score", r.Score),
	)
	return cloneSummary(&summary), nil
}

// LastSummary returns the cached summary when every module has a cached
// result and otherwise runs a full sweep. If another run is in flight it
// waits for that run instead.
func (s *Service) LastSummary(ctx context.Context) (*core.SystemHealthSummary, error) {
	for {
		if last, ok := s.lastComplete(); ok {
			return last, nil
		}
		busy, ok := s.tryAcquire()
		if ok {
			defer s.release()
			if last, ok := s.lastComplete(); ok {
				return last, nil
			}
			return s.sweep(ctx, "bootstrap")
		}
		select {
		case <-busy:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func (s *Service) lastComplete() (*core.SystemHealthSummary, bool) {
	s.mu.Lock()
	last := cloneSummary(s.last)
	s.mu.Unlock()
	if last == nil {
		return nil, false
	}
	if _, complete := s.cache.Snapshot(s.registry.IDs()); !complete {
		return nil, false
	}
	s.stampNext(last)
	return last, true
}

// runProbe executes p under the probe timeout. Panics and overruns become
// error results.
func (s *Service) runProbe(ctx context.Context, p checks.Probe) *core.ModuleResult {
	ctx, cancel := context.WithTimeout(ctx, s.opts.ProbeTimeout)
	defer cancel()

	start := time.Now()
	done := make(chan *core.ModuleResult, 1)
	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				done <- checks.ErrorResult(p.Name(), p.DisplayName(), fmt.Errorf("probe panicked: %v", rec))
			}
		}()
		done <- p.Run(ctx)
	}()

	var r *core.ModuleResult
	select {
	case r = <-done:
		if r == nil {
			r = checks.ErrorResult(p.Name(), p.DisplayName(), errors.New("probe returned no result"))
		}
	case <-ctx.Done():
		cause := ctx.Err()
		if errors.Is(cause, context.DeadlineExceeded) {
			cause = fmt.Errorf("timed out after %s", s.opts.ProbeTimeout)
		}
		r = checks.ErrorResult(p.Name(), p.DisplayName(), cause)
		s.logger.Warn("Health probe did not finish", zap.String("module", p.Name()), zap.Error(cause))
	}

	n := r.Normalized()
	n.Module = p.Name()
	if n.DisplayName == "" {
		n.DisplayName = p.DisplayName()
	}
	d := time.Since(start)
	if n.ExecutionTime == 0 {
		n.ExecutionTime = d.Milliseconds()
	}
	if s.recorder != nil {
		s.recorder.ProbeFinished(n.Module, n.Status, d)
	}
	return &n
}

func (s *Service) persistResult(ctx context.Context, logger *zap.Logger, r *core.ModuleResult) {
	if s.sink == nil {
		return
	}
	if err := s.sink.SaveResult(ctx, r); err != nil {
		logger.Error("Failed to persist health check result", zap.String("module", r.Module), zap.Error(err))
		if s.recorder != nil {
			s.recorder.PersistFailed("result")
		}
	}
}

// finish stores, persists and publishes a completed summary.
func (s *Service) finish(ctx context.Context, logger *zap.Logger, summary *core.SystemHealthSummary) {
	s.stampNext(summary)

	s.mu.Lock()
	s.last = cloneSummary(summary)
	s.mu.Unlock()

	if s.sink != nil {
		if err := s.sink.SaveSummary(ctx, summary); err != nil {
			logger.Error("Failed to persist health summary", zap.Error(err))
			if s.recorder != nil {
				s.recorder.PersistFailed("summary")
			}
		}
	}

	for _, p := range s.publishers {
		if err := p.Publish(ctx, cloneSummary(summary)); err != nil {
			logger.Warn("Failed to publish health summary", zap.Error(err))
		}
	}
}

func (s *Service) stampNext(summary *core.SystemHealthSummary) {
	summary.NextCheck = nil
	if s.periodic == nil {
		return
	}
	if next, ok := s.periodic.NextRun(); ok {
		summary.NextCheck = &next
	}
}

// History returns persisted results, most recent first.
func (s *Service) History(ctx context.Context, q core.HistoryQuery) ([]core.PersistedResult, error) {
	if s.sink == nil {
		return []core.PersistedResult{}, nil
	}
	if q.Module != "" {
		q.Module = s.registry.Canonical(q.Module)
	}
	switch {
	case q.Limit <= 0:
		q.Limit = s.opts.HistoryLimit
	case q.Limit > MaxHistoryLimit:
		q.Limit = MaxHistoryLimit
	}
	results, err := s.sink.ListResults(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("failed to load history: %w", err)
	}
	if results == nil {
		results = []core.PersistedResult{}
	}
	return results, nil
}

// walkHistory reads every persisted result in [start, end], most recent
// first, one page at a time. A nil end is pinned to the current time so
// rows written during the walk do not shift the pages.
func (s *Service) walkHistory(ctx context.Context, start, end *time.Time, fn func([]core.PersistedResult) error) error {
	if s.sink == nil {
		return nil
	}
	if end == nil {
		now := s.now()
		end = &now
	}
	q := core.HistoryQuery{Limit: s.opts.PageSize, Start: start, End: end}
	for {
		page, err := s.sink.ListResults(ctx, q)
		if err != nil {
			return fmt.Errorf("failed to load history: %w", err)
		}
		if len(page) > 0 {
			if err := fn(page); err != nil {
				return err
			}
		}
		if len(page) < q.Limit {
			return nil
		}
		q.Offset += len(page)
	}
}

// ModuleHistory is History for a single registered module.
func (s *Service) ModuleHistory(ctx context.Context, module string, q core.HistoryQuery) ([]core.PersistedResult, error) {
	p, ok := s.registry.Lookup(module)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownModule, module)
	}
	q.Module = p.Name()
	return s.History(ctx, q)
}

// Summaries returns the most recent persisted summaries.
func (s *Service) Summaries(ctx context.Context, limit int) ([]core.PersistedSummary, error) {
	if s.sink == nil {
		return []core.PersistedSummary{}, nil
	}
	if limit <= 0 || limit > MaxHistoryLimit {
		limit = s.opts.HistoryLimit
	}
	out, err := s.sink.ListSummaries(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to load summaries: %w", err)
	}
	return out, nil
}

// Start enables periodic execution. It reports whether the state changed.
func (s *Service) Start() (bool, error) {
	if s.periodic == nil {
		return false, ErrNoScheduler
	}
	if !s.periodic.Start() {
		s.logger.Warn("Health check scheduler already running")
		return false, nil
	}
	s.logger.Info("Health check scheduler started")
	return true, nil
}

// Stop disables periodic execution; an in-flight sweep still completes.
func (s *Service) Stop() (bool, error) {
	if s.periodic == nil {
		return false, ErrNoScheduler
	}
	if !s.periodic.Stop() {
		s.logger.Warn("Health check scheduler not running")
		return false, nil
	}
	s.logger.Info("Health check scheduler stopped")
	return true, nil
}

func (s *Service) Running() bool {
	return s.periodic != nil && s.periodic.Running()
}
