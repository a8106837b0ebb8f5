package db

import (
	"context"
	"sync"
	"time"

	"github.com/leozw/health-guardian/internal/core"
)

// MemoryStore is an in-process, append-only sink used when no database is
// configured.
type MemoryStore struct {
	mu        sync.RWMutex
	results   []core.PersistedResult
	summaries []core.PersistedSummary
	fixes     []core.RemediationRecord
	keys      map[string]core.APIKey
	nextID    int64
	now       func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		keys: make(map[string]core.APIKey),
		now:  time.Now,
	}
}

func (m *MemoryStore) SaveResult(ctx context.Context, res *core.ModuleResult) error {
	p := core.NewPersistedResult(res)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	p.ID = m.nextID
	p.CreatedAt = m.now().UTC()
	m.results = append(m.results, p)
	return nil
}

func (m *MemoryStore) ListResults(ctx context.Context, q core.HistoryQuery) ([]core.PersistedResult, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := []core.PersistedResult{}
	skip := q.Offset
	for i := len(m.results) - 1; i >= 0; i-- {
		if q.Limit > 0 && len(out) >= q.Limit {
			break
		}
		r := m.results[i]
		if q.Module != "" && r.Module != q.Module {
			continue
		}
		if q.Start != nil && r.CreatedAt.Before(*q.Start) {
			continue
		}
		if q.End != nil && r.CreatedAt.After(*q.End) {
			continue
		}
		if skip > 0 {
			skip--
			continue
		}
		out = append(out, r)
	}
	return out, nil
}

func (m *MemoryStore) SaveSummary(ctx context.Context, s *core.SystemHealthSummary) error {
	data := *s
	data.Modules = append([]core.ModuleResult{}, s.Modules...)
	data.Alerts = append([]core.Alert{}, s.Alerts...)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	m.summaries = append(m.summaries, core.PersistedSummary{
		ID:            m.nextID,
		SweepID:       s.SweepID,
		OverallStatus: s.Overall,
		OverallScore:  s.OverallScore,
		Data:          core.SummaryData(data),
		CreatedAt:     m.now(),
	})
	return nil
}

func (m *MemoryStore) ListSummaries(ctx context.Context, limit int) ([]core.PersistedSummary, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := []core.PersistedSummary{}
	for i := len(m.summaries) - 1; i >= 0; i-- {
		if limit > 0 && len(out) >= limit {
			break
		}
		out = append(out, m.summaries[i])
	}
	return out, nil
}

// SetAPIKey stores a provider credential for GetAPIKey.
func (m *MemoryStore) SetAPIKey(key core.APIKey) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.keys[key.Provider] = key
}

func (m *MemoryStore) GetAPIKey(ctx context.Context, provider string) (*core.APIKey, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	key, ok := m.keys[provider]
	if !ok {
		return nil, nil
	}
	return &key, nil
}

func (m *MemoryStore) SaveRemediation(ctx context.Context, rec *core.RemediationRecord) error {
	r := *rec
	r.Actions = append(core.StringSlice{}, rec.Actions...)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	r.ID = m.nextID
	m.fixes = append(m.fixes, r)
	return nil
}

func (m *MemoryStore) ListRemediations(ctx context.Context, limit int) ([]core.RemediationRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := []core.RemediationRecord{}
	for i := len(m.fixes) - 1; i >= 0; i-- {
		if limit > 0 && len(out) >= limit {
			break
		}
		out = append(out, m.fixes[i])
	}
	return out, nil
}

// PruneHistory drops results and summaries created before the cutoff.
func (m *MemoryStore) PruneHistory(ctx context.Context, before time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var removed int64
	results := m.results[:0]
	for _, r := range m.results {
		if r.CreatedAt.Before(before) {
			removed++
			continue
		}
		results = append(results, r)
	}
	m.results = results

	summaries := m.summaries[:0]
	for _, s := range m.summaries {
		if s.CreatedAt.Before(before) {
			removed++
			continue
		}
		summaries = append(summaries, s)
	}
	m.summaries = summaries
	return removed, nil
}
