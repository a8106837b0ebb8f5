package health

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/leozw/health-guardian/internal/core"
)

const ReportPeriod = 7 * 24 * time.Hour

// GenerateReport builds a trend report from the results persisted in
// [start, end] and keeps it as the latest report.
func (s *Service) GenerateReport(ctx context.Context, start, end time.Time) (*core.HealthReport, error) {
	if end.IsZero() {
		end = s.now()
	}
	if start.IsZero() {
		start = end.Add(-ReportPeriod)
	}
	if !start.Before(end) {
		return nil, fmt.Errorf("%w: %s - %s", ErrInvalidPeriod, start.Format(time.RFC3339), end.Format(time.RFC3339))
	}
	if s.sink == nil {
		return nil, ErrNoHistory
	}

	b := newTrendBuilder()
	err := s.walkHistory(ctx, &start, &end, func(page []core.PersistedResult) error {
		b.add(page)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get check results: %w", err)
	}
	if b.samples == 0 {
		return nil, ErrNoHistory
	}

	report := b.build(s.registry.IDs(), start, end, s.now())
	s.mu.Lock()
	s.lastReport = report
	s.mu.Unlock()

	s.logger.Info("Health report generated",
		zap.String("report_id", report.ID),
		zap.Int("samples", report.TotalSamples),
		zap.Float64("average", report.OverallAverage),
	)
	return report, nil
}

func (s *Service) LatestReport() (*core.HealthReport, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastReport, s.lastReport != nil
}

// BuildReport aggregates results (most recent first) per module. Modules
// follow order; unlisted modules come last, sorted by id.
func BuildReport(results []core.PersistedResult, order []string, start, end, now time.Time) *core.HealthReport {
	b := newTrendBuilder()
	b.add(results)
	return b.build(order, start, end, now)
}

// trendBuilder accumulates per-module trends across pages of results
// delivered most recent first.
type trendBuilder struct {
	trends  map[string]*core.ModuleTrend
	sums    map[string]int
	total   int
	samples int
}

func newTrendBuilder() *trendBuilder {
	return &trendBuilder{
		trends: make(map[string]*core.ModuleTrend),
		sums:   make(map[string]int),
	}
}

func (b *trendBuilder) add(results []core.PersistedResult) {
	for _, r := range results {
		t, ok := b.trends[r.Module]
		if !ok {
			t = &core.ModuleTrend{
				Module:       r.Module,
				DisplayName:  r.DisplayName,
				MinScore:     r.Score,
				MaxScore:     r.Score,
				StatusCounts: make(map[core.ModuleStatus]int),
				LastStatus:   r.Status,
				LastScore:    r.Score,
				LastCheck:    r.Timestamp,
			}
			b.trends[r.Module] = t
		}
		t.Samples++
		t.StatusCounts[r.Status]++
		t.MinScore = min(t.MinScore, r.Score)
		t.MaxScore = max(t.MaxScore, r.Score)
		b.sums[r.Module] += r.Score
		b.total += r.Score
		b.samples++
	}
}

func (b *trendBuilder) build(order []string, start, end, now time.Time) *core.HealthReport {
	ids := make([]string, 0, len(b.trends))
	seen := make(map[string]bool, len(order))
	for _, id := range order {
		seen[id] = true
		if _, ok := b.trends[id]; ok {
			ids = append(ids, id)
		}
	}
	var extra []string
	for id := range b.trends {
		if !seen[id] {
			extra = append(extra, id)
		}
	}
	sort.Strings(extra)
	ids = append(ids, extra...)

	report := &core.HealthReport{
		ID:           uuid.New().String(),
		PeriodStart:  start,
		PeriodEnd:    end,
		GeneratedAt:  now,
		TotalSamples: b.samples,
		Modules:      make([]core.ModuleTrend, 0, len(ids)),
	}
	for _, id := range ids {
		t := b.trends[id]
		t.AverageScore = round2(float64(b.sums[id]) / float64(t.Samples))
		report.Modules = append(report.Modules, *t)
	}
	if b.samples > 0 {
		report.OverallAverage = round2(float64(b.total) / float64(b.samples))
	}
	return report
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
