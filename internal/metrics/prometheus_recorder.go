package metrics

import (
	"sync"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
)

// PrometheusRecorder implements Recorder using Prometheus metrics.
type PrometheusRecorder struct {
	once            sync.Once
	outcomes        *prom.CounterVec
	compileDuration prom.Histogram
	passDuration    prom.Histogram
	queueDepth      prom.Gauge
	statusRecords   prom.Gauge
	maintenanceRuns *prom.CounterVec
	sweepRemovals   prom.Counter
	notifications   *prom.CounterVec
}

// NewPrometheusRecorder constructs and registers Prometheus metrics (idempotent).
func NewPrometheusRecorder(reg *prom.Registry) *PrometheusRecorder {
	if reg == nil {
		reg = prom.NewRegistry()
	}
	pr := &PrometheusRecorder{}
	pr.once.Do(func() {
		pr.outcomes = prom.NewCounterVec(prom.CounterOpts{
			Namespace: "buildwatch",
			Name:      "job_outcomes_total",
			Help:      "Terminal job outcomes by classification",
		}, []string{"outcome"})
		pr.compileDuration = prom.NewHistogram(prom.HistogramOpts{
			Namespace: "buildwatch",
			Name:      "compile_duration_seconds",
			Help:      "Wall time from submission to terminal outcome per target",
			Buckets:   prom.ExponentialBuckets(1, 2, 12),
		})
		pr.passDuration = prom.NewHistogram(prom.HistogramOpts{
			Namespace: "buildwatch",
			Name:      "pass_duration_seconds",
			Help:      "Duration of one full catalog pass",
			Buckets:   prom.ExponentialBuckets(60, 2, 12),
		})
		pr.queueDepth = prom.NewGauge(prom.GaugeOpts{
			Namespace: "buildwatch",
			Name:      "queue_depth",
			Help:      "Last sampled backend queue depth",
		})
		pr.statusRecords = prom.NewGauge(prom.GaugeOpts{
			Namespace: "buildwatch",
			Name:      "status_records",
			Help:      "Number of build status records held",
		})
		pr.maintenanceRuns = prom.NewCounterVec(prom.CounterOpts{
			Namespace: "buildwatch",
			Name:      "maintenance_runs_total",
			Help:      "Maintenance task runs by task and outcome",
		}, []string{"task", "outcome"})
		pr.sweepRemovals = prom.NewCounter(prom.CounterOpts{
			Namespace: "buildwatch",
			Name:      "sweep_removals_total",
			Help:      "Status records removed by the staleness sweep",
		})
		pr.notifications = prom.NewCounterVec(prom.CounterOpts{
			Namespace: "buildwatch",
			Name:      "notifications_total",
			Help:      "Notifications emitted by level",
		}, []string{"level"})
		reg.MustRegister(pr.outcomes, pr.compileDuration, pr.passDuration, pr.queueDepth,
			pr.statusRecords, pr.maintenanceRuns, pr.sweepRemovals, pr.notifications)
	})
	return pr
}

func (p *PrometheusRecorder) IncOutcome(outcome string) {
	if p == nil || p.outcomes == nil {
		return
	}
	p.outcomes.WithLabelValues(outcome).Inc()
}

func (p *PrometheusRecorder) ObserveCompileDuration(d time.Duration) {
	if p == nil || p.compileDuration == nil {
		return
	}
	p.compileDuration.Observe(d.Seconds())
}

func (p *PrometheusRecorder) ObservePassDuration(d time.Duration) {
	if p == nil || p.passDuration == nil {
		return
	}
	p.passDuration.Observe(d.Seconds())
}

func (p *PrometheusRecorder) SetQueueDepth(n int) {
	if p == nil || p.queueDepth == nil {
		return
	}
	p.queueDepth.Set(float64(n))
}

func (p *PrometheusRecorder) SetStatusRecords(n int) {
	if p == nil || p.statusRecords == nil {
		return
	}
	p.statusRecords.Set(float64(n))
}

func (p *PrometheusRecorder) IncMaintenanceRun(task, outcome string) {
	if p == nil || p.maintenanceRuns == nil {
		return
	}
	p.maintenanceRuns.WithLabelValues(task, outcome).Inc()
}

func (p *PrometheusRecorder) IncSweepRemovals(n int) {
	if p == nil || p.sweepRemovals == nil {
		return
	}
	p.sweepRemovals.Add(float64(n))
}

func (p *PrometheusRecorder) IncNotifications(level string) {
	if p == nil || p.notifications == nil {
		return
	}
	p.notifications.WithLabelValues(level).Inc()
}
