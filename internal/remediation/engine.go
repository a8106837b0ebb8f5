package remediation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/leozw/health-guardian/internal/core"
	"github.com/leozw/health-guardian/internal/realtime"
)

const (
	DefaultSettleDelay = 5 * time.Second
	DefaultRetention   = 30 * 24 * time.Hour
	DefaultQueueSize   = 32
	DefaultHistory     = 50
)

var ErrUnknownRule = errors.New("unknown remediation rule")

// CacheCleaner deletes cache keys by pattern.
type CacheCleaner interface {
	DeleteMatching(ctx context.Context, pattern string) (int64, error)
}

type Store interface {
	SaveRemediation(ctx context.Context, rec *core.RemediationRecord) error
	ListRemediations(ctx context.Context, limit int) ([]core.RemediationRecord, error)
	PruneHistory(ctx context.Context, before time.Time) (int64, error)
}

// Rechecker refreshes one module after actions ran.
type Rechecker interface {
	RunSingle(ctx context.Context, module string) (*core.SystemHealthSummary, error)
}

type Notifier interface {
	Broadcast(ctx context.Context, eventType string, data interface{}) error
}

type Recorder interface {
	RemediationFinished(rule, module string, success bool)
}

type Options struct {
	SettleDelay time.Duration
	Retention   time.Duration
	QueueSize   int
}

func (o Options) withDefaults() Options {
	if o.SettleDelay < 0 {
		o.SettleDelay = 0
	}
	if o.Retention <= 0 {
		o.Retention = DefaultRetention
	}
	if o.QueueSize <= 0 {
		o.QueueSize = DefaultQueueSize
	}
	return o
}

// Engine matches published module results against rules and runs the
// matching rules' actions on a single worker.
type Engine struct {
	store    Store
	cache    CacheCleaner
	checker  Rechecker
	notifier Notifier
	recorder Recorder
	logger   *zap.Logger
	opts     Options
	now      func() time.Time

	mu       sync.Mutex
	rules    []Rule
	pending  map[string]bool
	attempts map[string][]time.Time

	queue  chan core.ModuleResult
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewEngine(rules []Rule, store Store, logger *zap.Logger, opts Options) *Engine {
	opts = opts.withDefaults()
	return &Engine{
		store:    store,
		logger:   logger,
		opts:     opts,
		now:      time.Now,
		rules:    append([]Rule(nil), rules...),
		pending:  make(map[string]bool),
		attempts: make(map[string][]time.Time),
		queue:    make(chan core.ModuleResult, opts.QueueSize),
	}
}

func (e *Engine) SetCache(c CacheCleaner)  { e.cache = c }
func (e *Engine) SetRechecker(r Rechecker) { e.checker = r }
func (e *Engine) SetNotifier(n Notifier)   { e.notifier = n }
func (e *Engine) SetRecorder(r Recorder)   { e.recorder = r }

// Start launches the worker. It is a no-op when already started.
func (e *Engine) Start() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	e.cancel = cancel
	e.wg.Add(1)
	go e.loop(ctx)
}

func (e *Engine) Close() {
	e.mu.Lock()
	cancel := e.cancel
	e.cancel = nil
	e.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	e.wg.Wait()
}

func (e *Engine) loop(ctx context.Context) {
	defer e.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case r := <-e.queue:
			e.Handle(ctx, r)
			e.mu.Lock()
			delete(e.pending, r.Module)
			e.mu.Unlock()
		}
	}
}

// Publish queues every unhealthy module that has a matching rule. A module
// already queued or being remediated is skipped, so the summary published
// by the follow-up check does not queue it again.
func (e *Engine) Publish(_ context.Context, s *core.SystemHealthSummary) error {
	for _, m := range s.Modules {
		if m.Status == core.StatusHealthy {
			continue
		}
		e.mu.Lock()
		if e.pending[m.Module] || !e.hasMatch(m) {
			e.mu.Unlock()
			continue
		}
		select {
		case e.queue <- m:
			e.pending[m.Module] = true
		default:
			e.logger.Warn("Remediation queue is full", zap.String("module", m.Module))
		}
		e.mu.Unlock()
	}
	return nil
}

func (e *Engine) hasMatch(m core.ModuleResult) bool {
	for _, r := range e.rules {
		if r.Matches(m) {
			return true
		}
	}
	return false
}

// Evaluate returns the rules that match r and still have attempts left
// within their cooldown window.
func (e *Engine) Evaluate(r core.ModuleResult) []Rule {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.now()
	var out []Rule
	for _, rule := range e.rules {
		if !rule.Matches(r) {
			continue
		}
		if e.recentAttempts(rule, now) >= rule.MaxAttempts {
			e.logger.Debug("Remediation rule is cooling down",
				zap.String("rule", rule.ID),
				zap.String("module", r.Module),
			)
			continue
		}
		out = append(out, rule)
	}
	return out
}

// recentAttempts drops attempts older than the rule's cooldown and counts
// the rest. Callers hold e.mu.
func (e *Engine) recentAttempts(rule Rule, now time.Time) int {
	kept := e.attempts[rule.ID][:0]
	for _, at := range e.attempts[rule.ID] {
		if now.Sub(at) < rule.Cooldown {
			kept = append(kept, at)
		}
	}
	e.attempts[rule.ID] = kept
	return len(kept)
}

// Handle runs every applicable rule for r and returns the records written.
func (e *Engine) Handle(ctx context.Context, r core.ModuleResult) []core.RemediationRecord {
	var records []core.RemediationRecord
	for _, rule := range e.Evaluate(r) {
		rec := e.execute(ctx, rule, r)
		records = append(records, rec)
		if ctx.Err() != nil {
			break
		}
	}
	return records
}

func (e *Engine) execute(ctx context.Context, rule Rule, r core.ModuleResult) core.RemediationRecord {
	e.mu.Lock()
	e.attempts[rule.ID] = append(e.attempts[rule.ID], e.now())
	e.mu.Unlock()

	logger := e.logger.With(zap.String("rule", rule.ID), zap.String("module", r.Module))
	logger.Info("Running remediation", zap.Int("score", r.Score))

	rec := core.RemediationRecord{
		RuleID:      rule.ID,
		Module:      r.Module,
		Actions:     core.StringSlice{},
		ScoreBefore: r.Score,
	}

	var err error
	for _, a := range rule.Actions {
		if err = e.runAction(ctx, rule, a, r); err != nil {
			break
		}
		rec.Actions = append(rec.Actions, a.Description)
	}

	switch {
	case err != nil:
		rec.Error = err.Error()
	case rule.notifyOnly():
		rec.Success = true
	default:
		rec.ScoreAfter, rec.Success = e.recheck(ctx, logger, r)
	}
	rec.Timestamp = e.now().UTC()

	if (rec.Success && rule.NotifyOnSuccess) || (!rec.Success && rule.NotifyOnFailure) {
		e.notify(ctx, logger, rec)
	}
	if err := e.store.SaveRemediation(ctx, &rec); err != nil {
		logger.Error("Failed to persist remediation", zap.Error(err))
	}
	if e.recorder != nil {
		e.recorder.RemediationFinished(rule.ID, r.Module, rec.Success)
	}

	if rec.Success {
		logger.Info("Remediation completed", zap.Strings("actions", rec.Actions))
	} else {
		logger.Warn("Remediation failed", zap.Strings("actions", rec.Actions), zap.String("error", rec.Error))
	}
	return rec
}

func (e *Engine) runAction(ctx context.Context, rule Rule, a Action, r core.ModuleResult) error {
	switch a.Type {
	case ActionClearCache:
		if e.cache == nil {
			return errors.New("no cache configured")
		}
		n, err := e.cache.DeleteMatching(ctx, cacheTargets[a.Target])
		if err != nil {
			return fmt.Errorf("failed to clear %s cache: %w", a.Target, err)
		}
		e.logger.Info("Cleared cache keys", zap.String("target", a.Target), zap.Int64("keys", n))
	case ActionDatabaseCleanup:
		n, err := e.store.PruneHistory(ctx, e.now().Add(-e.opts.Retention))
		if err != nil {
			return fmt.Errorf("failed to prune %s: %w", a.Target, err)
		}
		e.logger.Info("Pruned health history", zap.Int64("rows", n), zap.Duration("retention", e.opts.Retention))
	case ActionNotifyOnly:
		if e.notifier == nil {
			return nil
		}
		return e.notifier.Broadcast(ctx, realtime.MessageRemediation, map[string]interface{}{
			"ruleId":  rule.ID,
			"module":  r.Module,
			"status":  r.Status,
			"score":   r.Score,
			"message": a.Description,
		})
	default:
		return fmt.Errorf("unknown action type %q", a.Type)
	}
	return nil
}

// recheck waits for the settle delay and runs the module again. A result
// that cannot be verified counts as success.
func (e *Engine) recheck(ctx context.Context, logger *zap.Logger, before core.ModuleResult) (*int, bool) {
	if e.checker == nil {
		return nil, true
	}
	if e.opts.SettleDelay > 0 {
		t := time.NewTimer(e.opts.SettleDelay)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil, true
		case <-t.C:
		}
	}

	s, err := e.checker.RunSingle(ctx, before.Module)
	if err != nil {
		logger.Warn("Could not verify remediation", zap.Error(err))
		return nil, true
	}
	after, ok := s.Module(before.Module)
	if !ok {
		return nil, true
	}
	score := after.Score
	return &score, score > before.Score || after.Status == core.StatusHealthy
}

func (e *Engine) notify(ctx context.Context, logger *zap.Logger, rec core.RemediationRecord) {
	if e.notifier == nil {
		return
	}
	if err := e.notifier.Broadcast(ctx, realtime.MessageRemediation, rec); err != nil {
		logger.Warn("Failed to send remediation notification", zap.Error(err))
	}
}

func (e *Engine) Rules() []Rule {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]Rule, len(e.rules))
	copy(out, e.rules)
	return out
}

func (e *Engine) SetEnabled(id string, enabled bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	for i := range e.rules {
		if e.rules[i].ID == id {
			e.rules[i].Enabled = enabled
			e.logger.Info("Remediation rule updated", zap.String("rule", id), zap.Bool("enabled", enabled))
			return nil
		}
	}
	return fmt.Errorf("%w: %s", ErrUnknownRule, id)
}

func (e *Engine) History(ctx context.Context, limit int) ([]core.RemediationRecord, error) {
	if limit <= 0 {
		limit = DefaultHistory
	}
	return e.store.ListRemediations(ctx, limit)
}
