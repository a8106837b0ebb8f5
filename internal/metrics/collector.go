package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/leozw/health-guardian/internal/config"
	"github.com/leozw/health-guardian/internal/core"
)

var moduleStatuses = []core.ModuleStatus{
	core.StatusHealthy,
	core.StatusWarning,
	core.StatusCritical,
	core.StatusError,
	core.StatusUnknown,
}

type Collector struct {
	config   *config.MimirConfig
	registry *prometheus.Registry

	// Module metrics
	moduleScore    *prometheus.GaugeVec
	moduleStatus   *prometheus.GaugeVec
	moduleWarnings *prometheus.GaugeVec
	moduleErrors   *prometheus.GaugeVec
	probeDuration  *prometheus.HistogramVec
	probeRuns      *prometheus.CounterVec

	// System metrics
	overallScore    prometheus.Gauge
	overallStatus   *prometheus.GaugeVec
	activeAlerts    prometheus.Gauge
	lastCheck       prometheus.Gauge
	sweepsTotal     *prometheus.CounterVec
	sweepDuration   *prometheus.HistogramVec
	persistFailures *prometheus.CounterVec

	// Incidents
	incidentsOpened   *prometheus.CounterVec
	incidentsActive   prometheus.Gauge
	incidentDurations *prometheus.HistogramVec

	// Realtime
	realtimeClients prometheus.Gauge

	// Remediation and process performance
	remediations      *prometheus.CounterVec
	performanceCPU    prometheus.Gauge
	performanceAlerts prometheus.Gauge
}

func NewCollector(cfg config.MimirConfig) *Collector {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	factory := promauto.With(reg)

	return &Collector{
		config:   &cfg,
		registry: reg,

		moduleScore: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "health_module_score",
				Help: "Latest health score of a module (0-100)",
			},
			[]string{"module"},
		),

		moduleStatus: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "health_module_status",
				Help: "Current status of a module (1 for the active status)",
			},
			[]string{"module", "status"},
		),

		moduleWarnings: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "health_module_warnings",
				Help: "Number of warnings raised by the last module check",
			},
			[]string{"module"},
		),

		moduleErrors: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "health_module_errors",
				Help: "Number of errors raised by the last module check",
			},
			[]string{"module"},
		),

		probeDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "health_probe_duration_seconds",
				Help:    "Duration of module probes in seconds",
				Buckets: []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
			},
			[]string{"module"},
		),

		probeRuns: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "health_probe_runs_total",
				Help: "Total number of module probe runs",
			},
			[]string{"module", "status"},
		),

		overallScore: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "health_overall_score",
				Help: "Average score across all modules",
			},
		),

		overallStatus: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "health_overall_status",
				Help: "Overall system status (1 for the active status)",
			},
			[]string{"status"},
		),

		activeAlerts: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "health_active_alerts",
				Help: "Number of alerts in the latest summary",
			},
		),

		lastCheck: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "health_last_check_timestamp_seconds",
				Help: "Unix time of the latest summary",
			},
		),

		sweepsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "health_sweeps_total",
				Help: "Total number of full health check sweeps",
			},
			[]string{"trigger", "result"},
		),

		sweepDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "health_sweep_duration_seconds",
				Help:    "Duration of full health check sweeps in seconds",
				Buckets: []float64{.1, .25, .5, 1, 2.5, 5, 10, 30, 60},
			},
			[]string{"trigger"},
		),

		persistFailures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "health_persist_failures_total",
				Help: "Total number of failed writes to the persistence sink",
			},
			[]string{"kind"},
		),

		incidentsOpened: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "health_incidents_total",
				Help: "Total number of incidents opened",
			},
			[]string{"module", "severity"},
		),

		incidentsActive: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "health_incidents_active",
				Help: "Number of open incidents",
			},
		),

		incidentDurations: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "health_incident_duration_seconds",
				Help:    "Duration of resolved incidents in seconds",
				Buckets: []float64{60, 300, 900, 1800, 3600, 4 * 3600, 12 * 3600, 24 * 3600},
			},
			[]string{"module"},
		),

		realtimeClients: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "health_realtime_clients",
				Help: "Number of connected realtime subscribers",
			},
		),

		remediations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "health_remediations_total",
				Help: "Total number of remediation attempts",
			},
			[]string{"rule", "module", "result"},
		),

		performanceCPU: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "health_performance_cpu_percent",
				Help: "Process CPU usage over the last sampling interval",
			},
		),

		performanceAlerts: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "health_performance_alerts",
				Help: "Number of thresholds exceeded by the latest performance sample",
			},
		),
	}
}

// Handler serves the collector's registry in the Prometheus text format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}

func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

func (c *Collector) ProbeFinished(module string, status core.ModuleStatus, d time.Duration) {
	c.probeDuration.WithLabelValues(module).Observe(d.Seconds())
	c.probeRuns.WithLabelValues(module, string(status)).Inc()
}

func (c *Collector) SweepFinished(trigger string, d time.Duration, err error) {
	result := "success"
	if err != nil {
		result = "error"
	}
	c.sweepsTotal.WithLabelValues(trigger, result).Inc()
	c.sweepDuration.WithLabelValues(trigger).Observe(d.Seconds())
}

func (c *Collector) PersistFailed(kind string) {
	c.persistFailures.WithLabelValues(kind).Inc()
}

func (c *Collector) IncidentOpened(module string, severity core.ModuleStatus) {
	c.incidentsOpened.WithLabelValues(module, string(severity)).Inc()
	c.incidentsActive.Inc()
}

func (c *Collector) IncidentResolved(module string, d time.Duration) {
	c.incidentDurations.WithLabelValues(module).Observe(d.Seconds())
	c.incidentsActive.Dec()
}

func (c *Collector) RemediationFinished(rule, module string, success bool) {
	result := "success"
	if !success {
		result = "failure"
	}
	c.remediations.WithLabelValues(rule, module, result).Inc()
}

func (c *Collector) PerformanceSampled(cpuPercent float64, alerts int) {
	c.performanceCPU.Set(cpuPercent)
	c.performanceAlerts.Set(float64(alerts))
}

func (c *Collector) SetRealtimeClients(n int) {
	c.realtimeClients.Set(float64(n))
}

// Publish updates the summary gauges.
func (c *Collector) Publish(_ context.Context, s *core.SystemHealthSummary) error {
	for _, m := range s.Modules {
		c.moduleScore.WithLabelValues(m.Module).Set(float64(m.Score))
		c.moduleWarnings.WithLabelValues(m.Module).Set(float64(len(m.Warnings)))
		c.moduleErrors.WithLabelValues(m.Module).Set(float64(len(m.Errors)))
		for _, st := range moduleStatuses {
			c.moduleStatus.WithLabelValues(m.Module, string(st)).Set(boolValue(m.Status == st))
		}
	}

	c.overallScore.Set(float64(s.OverallScore))
	for _, st := range moduleStatuses[:3] {
		c.overallStatus.WithLabelValues(string(st)).Set(boolValue(s.Overall == st))
	}
	c.activeAlerts.Set(float64(len(s.Alerts)))
	c.lastCheck.Set(float64(s.LastCheck.Unix()))
	return nil
}

func boolValue(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
