// Package performance samples the process and the health check pipeline
// on an interval and raises alerts when a sample crosses a threshold.
package performance

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"go.uber.org/zap"

	"github.com/leozw/health-guardian/internal/core"
	"github.com/leozw/health-guardian/internal/realtime"
)

const (
	DefaultInterval     = time.Minute
	DefaultHistoryLimit = 1440
	// checkWindow is how far back check statistics look.
	checkWindow = time.Hour
	checkLimit  = 1000
)

const (
	metricCPU        = "process_cpu_seconds_total"
	metricResident   = "process_resident_memory_bytes"
	metricHeap       = "go_memstats_heap_alloc_bytes"
	metricGoroutines = "go_goroutines"
)

// HistorySource lists persisted results.
type HistorySource interface {
	History(ctx context.Context, q core.HistoryQuery) ([]core.PersistedResult, error)
}

type Notifier interface {
	Broadcast(ctx context.Context, eventType string, data interface{}) error
}

type Recorder interface {
	PerformanceSampled(cpuPercent float64, alerts int)
}

type Thresholds struct {
	CPUPercent    float64
	MemoryMB      int
	Goroutines    int
	FailureRate   float64
	ExecutionTime time.Duration
}

type Options struct {
	Interval     time.Duration
	HistoryLimit int
	Thresholds   Thresholds
}

func (o Options) withDefaults() Options {
	if o.Interval <= 0 {
		o.Interval = DefaultInterval
	}
	if o.HistoryLimit <= 0 {
		o.HistoryLimit = DefaultHistoryLimit
	}
	return o
}

// CheckStats summarizes the health checks persisted in the last hour.
type CheckStats struct {
	Runs           int     `json:"runs"`
	Failures       int     `json:"failures"`
	FailureRate    float64 `json:"failureRate"`
	AvgExecutionMs float64 `json:"avgExecutionMs"`
	MaxExecutionMs int64   `json:"maxExecutionMs"`
}

type Alert struct {
	Metric    string  `json:"metric"`
	Value     float64 `json:"value"`
	Threshold float64 `json:"threshold"`
	Message   string  `json:"message"`
}

type Sample struct {
	Timestamp   time.Time  `json:"timestamp"`
	CPUPercent  float64    `json:"cpuPercent"`
	MemoryBytes uint64     `json:"memoryBytes"`
	HeapBytes   uint64     `json:"heapBytes"`
	Goroutines  int        `json:"goroutines"`
	Checks      CheckStats `json:"checks"`
	Alerts      []Alert    `json:"alerts"`
}

type Stat struct {
	Avg float64 `json:"avg"`
	Max float64 `json:"max"`
}

// Aggregate is computed over the retained samples.
type Aggregate struct {
	Samples     int  `json:"samples"`
	CPU         Stat `json:"cpu"`
	MemoryMB    Stat `json:"memoryMb"`
	ExecutionMs Stat `json:"executionMs"`
	FailureRate Stat `json:"failureRate"`
}

type Monitor struct {
	gatherer prometheus.Gatherer
	history  HistorySource
	notifier Notifier
	recorder Recorder
	logger   *zap.Logger
	opts     Options
	now      func() time.Time

	mu      sync.Mutex
	samples []Sample
	lastCPU float64
	lastAt  time.Time

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewMonitor(gatherer prometheus.Gatherer, history HistorySource, logger *zap.Logger, opts Options) *Monitor {
	return &Monitor{
		gatherer: gatherer,
		history:  history,
		logger:   logger,
		opts:     opts.withDefaults(),
		now:      time.Now,
	}
}

func (m *Monitor) SetNotifier(n Notifier) { m.notifier = n }
func (m *Monitor) SetRecorder(r Recorder) { m.recorder = r }

func (m *Monitor) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	m.wg.Add(1)
	go m.loop(ctx)
	m.logger.Info("Performance monitor started", zap.Duration("interval", m.opts.Interval))
}

func (m *Monitor) Close() {
	m.mu.Lock()
	cancel := m.cancel
	m.cancel = nil
	m.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	m.wg.Wait()
}

func (m *Monitor) loop(ctx context.Context) {
	defer m.wg.Done()
	ticker := time.NewTicker(m.opts.Interval)
	defer ticker.Stop()

	for {
		if _, err := m.Sample(ctx); err != nil && ctx.Err() == nil {
			m.logger.Warn("Failed to sample performance", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Sample takes one measurement, stores it and reports its alerts.
func (m *Monitor) Sample(ctx context.Context) (Sample, error) {
	families, err := m.gatherer.Gather()
	if err != nil {
		return Sample{}, fmt.Errorf("failed to gather metrics: %w", err)
	}
	now := m.now()
	s := Sample{
		Timestamp:   now.UTC(),
		MemoryBytes: uint64(gaugeValue(families, metricResident)),
		HeapBytes:   uint64(gaugeValue(families, metricHeap)),
		Goroutines:  int(gaugeValue(families, metricGoroutines)),
	}

	if m.history != nil {
		start := now.Add(-checkWindow)
		results, err := m.history.History(ctx, core.HistoryQuery{Start: &start, End: &now, Limit: checkLimit})
		if err != nil {
			return Sample{}, fmt.Errorf("failed to read check history: %w", err)
		}
		s.Checks = checkStats(results)
	}

	cpu := counterValue(families, metricCPU)
	m.mu.Lock()
	if !m.lastAt.IsZero() {
		s.CPUPercent = cpuPercent(cpu-m.lastCPU, now.Sub(m.lastAt))
	}
	m.lastCPU, m.lastAt = cpu, now
	m.mu.Unlock()

	s.Alerts = m.evaluate(s)

	m.mu.Lock()
	m.samples = append(m.samples, s)
	if over := len(m.samples) - m.opts.HistoryLimit; over > 0 {
		m.samples = append([]Sample(nil), m.samples[over:]...)
	}
	m.mu.Unlock()

	if m.recorder != nil {
		m.recorder.PerformanceSampled(s.CPUPercent, len(s.Alerts))
	}
	for _, a := range s.Alerts {
		m.logger.Warn("Performance threshold exceeded",
			zap.String("metric", a.Metric),
			zap.Float64("value", a.Value),
			zap.Float64("threshold", a.Threshold),
		)
	}
	if len(s.Alerts) > 0 && m.notifier != nil {
		if err := m.notifier.Broadcast(ctx, realtime.MessagePerformance, s); err != nil {
			m.logger.Warn("Failed to send performance alert", zap.Error(err))
		}
	}
	return s, nil
}

func (m *Monitor) evaluate(s Sample) []Alert {
	t := m.opts.Thresholds
	alerts := []Alert{}
	add := func(metric string, value, threshold float64, format string) {
		if threshold > 0 && value > threshold {
			alerts = append(alerts, Alert{
				Metric:    metric,
				Value:     value,
				Threshold: threshold,
				Message:   fmt.Sprintf(format, value, threshold),
			})
		}
	}
	add("cpu", s.CPUPercent, t.CPUPercent, "CPU usage %.1f%% exceeds %.0f%%")
	add("memory", float64(s.MemoryBytes)/(1<<20), float64(t.MemoryMB), "Resident memory %.0fMB exceeds %.0fMB")
	add("goroutines", float64(s.Goroutines), float64(t.Goroutines), "%.0f goroutines exceed %.0f")
	if s.Checks.Runs > 0 {
		add("failure_rate", s.Checks.FailureRate, t.FailureRate, "Check failure rate %.1f%% exceeds %.1f%%")
		add("execution_time", s.Checks.AvgExecutionMs, float64(t.ExecutionTime.Milliseconds()), "Average check time %.0fms exceeds %.0fms")
	}
	return alerts
}

func (m *Monitor) Current() (Sample, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.samples) == 0 {
		return Sample{}, false
	}
	return m.samples[len(m.samples)-1], true
}

// History returns up to limit samples, oldest first.
func (m *Monitor) History(limit int) []Sample {
	m.mu.Lock()
	defer m.mu.Unlock()
	from := 0
	if limit > 0 && len(m.samples) > limit {
		from = len(m.samples) - limit
	}
	return append([]Sample{}, m.samples[from:]...)
}

func (m *Monitor) Aggregate() Aggregate {
	m.mu.Lock()
	defer m.mu.Unlock()

	a := Aggregate{Samples: len(m.samples)}
	if a.Samples == 0 {
		return a
	}
	for _, s := range m.samples {
		observe(&a.CPU, s.CPUPercent)
		observe(&a.MemoryMB, float64(s.MemoryBytes)/(1<<20))
		observe(&a.ExecutionMs, s.Checks.AvgExecutionMs)
		observe(&a.FailureRate, s.Checks.FailureRate)
	}
	n := float64(a.Samples)
	for _, st := range []*Stat{&a.CPU, &a.MemoryMB, &a.ExecutionMs, &a.FailureRate} {
		st.Avg /= n
	}
	return a
}

// observe accumulates the sum into Avg; Aggregate divides afterwards.
func observe(st *Stat, v float64) {
	st.Avg += v
	if v > st.Max {
		st.Max = v
	}
}

func checkStats(results []core.PersistedResult) CheckStats {
	var st CheckStats
	var total int64
	for _, r := range results {
		st.Runs++
		total += r.ExecutionTime
		if r.ExecutionTime > st.MaxExecutionMs {
			st.MaxExecutionMs = r.ExecutionTime
		}
		if r.Status == core.StatusCritical || r.Status == core.StatusError {
			st.Failures++
		}
	}
	if st.Runs > 0 {
		st.AvgExecutionMs = float64(total) / float64(st.Runs)
		st.FailureRate = float64(st.Failures) * 100 / float64(st.Runs)
	}
	return st
}

func cpuPercent(cpuSeconds float64, wall time.Duration) float64 {
	if wall <= 0 || cpuSeconds < 0 {
		return 0
	}
	return cpuSeconds / wall.Seconds() / float64(runtime.NumCPU()) * 100
}

func findMetric(families []*dto.MetricFamily, name string) *dto.Metric {
	for _, f := range families {
		if f.GetName() == name && len(f.GetMetric()) > 0 {
			return f.GetMetric()[0]
		}
	}
	return nil
}

func gaugeValue(families []*dto.MetricFamily, name string) float64 {
	return findMetric(families, name).GetGauge().GetValue()
}

func counterValue(families []*dto.MetricFamily, name string) float64 {
	return findMetric(families, name).GetCounter().GetValue()
}
