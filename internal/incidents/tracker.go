// Package incidents turns module status changes into incidents.
package incidents

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/leozw/health-guardian/internal/core"
)

const DefaultRetention = 100

type EventType string

const (
	EventDetected    EventType = "detected"
	EventEscalated   EventType = "escalated"
	EventResolved    EventType = "resolved"
	EventDeescalated EventType = "deescalated"
)

type Event struct {
	Type        EventType         `json:"type"`
	Time        time.Time         `json:"time"`
	Status      core.ModuleStatus `json:"status"`
	Score       int               `json:"score"`
	Description string            `json:"description"`
}

// Incident spans the sweeps during which a module was not healthy.
type Incident struct {
	ID              string            `json:"id"`
	Module          string            `json:"module"`
	DisplayName     string            `json:"displayName"`
	Severity        core.ModuleStatus `json:"severity"`
	StartedAt       time.Time         `json:"startedAt"`
	ResolvedAt      *time.Time        `json:"resolvedAt,omitempty"`
	DurationMinutes int               `json:"durationMinutes"`
	AffectedChecks  int               `json:"affectedChecks"`
	LowestScore     int               `json:"lowestScore"`
	Events          []Event           `json:"events"`
}

func (i Incident) Active() bool { return i.ResolvedAt == nil }

// Recorder receives incident lifecycle counts.
type Recorder interface {
	IncidentOpened(module string, severity core.ModuleStatus)
	IncidentResolved(module string, d time.Duration)
}

// Tracker keeps at most one open incident per module plus a bounded list of
// resolved ones. It is fed every published summary.
type Tracker struct {
	logger    *zap.Logger
	recorder  Recorder
	retention int

	mu       sync.Mutex
	open     map[string]*Incident
	resolved []Incident
}

func NewTracker(logger *zap.Logger, recorder Recorder, retention int) *Tracker {
	if retention <= 0 {
		retention = DefaultRetention
	}
	return &Tracker{
		logger:    logger,
		recorder:  recorder,
		retention: retention,
		open:      make(map[string]*Incident),
	}
}

func (t *Tracker) Publish(_ context.Context, s *core.SystemHealthSummary) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, m := range s.Modules {
		at := m.Timestamp
		if at.IsZero() {
			at = s.LastCheck
		}
		t.observe(m, at)
	}
	return nil
}

func (t *Tracker) observe(m core.ModuleResult, at time.Time) {
	inc, isOpen := t.open[m.Module]

	if m.Status == core.StatusHealthy {
		if !isOpen {
			return
		}
		inc.ResolvedAt = &at
		inc.DurationMinutes = int(at.Sub(inc.StartedAt).Minutes())
		inc.Events = append(inc.Events, Event{
			Type:        EventResolved,
			Time:        at,
			Status:      m.Status,
			Score:       m.Score,
			Description: fmt.Sprintf("%s recovered (%d/100)", m.DisplayName, m.Score),
		})
		delete(t.open, m.Module)
		t.resolved = append(t.resolved, *inc)
		if len(t.resolved) > t.retention {
			t.resolved = t.resolved[len(t.resolved)-t.retention:]
		}

		if t.recorder != nil {
			t.recorder.IncidentResolved(m.Module, at.Sub(inc.StartedAt))
		}
		t.logger.Info("Resolved incident",
			zap.String("incident_id", inc.ID),
			zap.String("module", m.Module),
			zap.Int("duration_minutes", inc.DurationMinutes),
		)
		return
	}

	severity := severityOf(m.Status)
	if !isOpen {
		inc = &Incident{
			ID:             uuid.NewString(),
			Module:         m.Module,
			DisplayName:    m.DisplayName,
			Severity:       severity,
			StartedAt:      at,
			AffectedChecks: 1,
			LowestScore:    m.Score,
			Events: []Event{{
				Type:        EventDetected,
				Time:        at,
				Status:      m.Status,
				Score:       m.Score,
				Description: fmt.Sprintf("%s is %s (%d/100)", m.DisplayName, m.Status, m.Score),
			}},
		}
		t.open[m.Module] = inc

		if t.recorder != nil {
			t.recorder.IncidentOpened(m.Module, severity)
		}
		t.logger.Warn("Created new incident",
			zap.String("incident_id", inc.ID),
			zap.String("module", m.Module),
			zap.String("severity", string(severity)),
		)
		return
	}

	inc.AffectedChecks++
	inc.DurationMinutes = int(at.Sub(inc.StartedAt).Minutes())
	inc.LowestScore = min(inc.LowestScore, m.Score)
	if severity != inc.Severity {
		event := EventDeescalated
		if severity == core.StatusCritical {
			event = EventEscalated
		}
		inc.Severity = severity
		inc.Events = append(inc.Events, Event{
			Type:        event,
			Time:        at,
			Status:      m.Status,
			Score:       m.Score,
			Description: fmt.Sprintf("%s is now %s (%d/100)", m.DisplayName, m.Status, m.Score),
		})
	}
}

// Active returns open incidents ordered by start time.
func (t *Tracker) Active() []Incident {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]Incident, 0, len(t.open))
	for _, inc := range t.open {
		out = append(out, copyIncident(*inc))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].Module < out[j].Module
		}
		return out[i].StartedAt.Before(out[j].StartedAt)
	})
	return out
}

// Resolved returns up to limit resolved incidents, most recent first.
func (t *Tracker) Resolved(limit int) []Incident {
	t.mu.Lock()
	defer t.mu.Unlock()

	if limit <= 0 || limit > len(t.resolved) {
		limit = len(t.resolved)
	}
	out := make([]Incident, 0, limit)
	for i := len(t.resolved) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, copyIncident(t.resolved[i]))
	}
	return out
}

func severityOf(s core.ModuleStatus) core.ModuleStatus {
	if s == core.StatusWarning {
		return core.StatusWarning
	}
	return core.StatusCritical
}

func copyIncident(i Incident) Incident {
	i.Events = append([]Event(nil), i.Events...)
	return i
}
