package metrics

import (
	"net/http"
	"sync"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
	promhttp "github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "packsync"

// PrometheusRecorder implements Recorder using Prometheus metrics.
type PrometheusRecorder struct {
	once            sync.Once
	reg             *prom.Registry
	stepDuration    *prom.HistogramVec
	packageResults  *prom.CounterVec
	batchDuration   prom.Histogram
	batchOutcomes   *prom.CounterVec
	enabledPackages prom.Gauge
	sessionStates   *prom.CounterVec
}

// NewPrometheusRecorder constructs and registers Prometheus metrics (idempotent).
func NewPrometheusRecorder(reg *prom.Registry) *PrometheusRecorder {
	if reg == nil {
		reg = prom.NewRegistry()
	}
	pr := &PrometheusRecorder{reg: reg}
	pr.once.Do(func() {
		pr.stepDuration = prom.NewHistogramVec(prom.HistogramOpts{
			Namespace: namespace,
			Name:      "step_duration_seconds",
			Help:      "Duration of repository steps (clone, reset, fetch, checkout)",
			Buckets:   prom.DefBuckets,
		}, []string{"step", "result"})
		pr.packageResults = prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "package_results_total",
			Help:      "Per-package synchronization outcomes",
		}, []string{"result"})
		pr.batchDuration = prom.NewHistogram(prom.HistogramOpts{
			Namespace: namespace,
			Name:      "batch_duration_seconds",
			Help:      "Total synchronization pass duration",
			Buckets:   prom.DefBuckets,
		})
		pr.batchOutcomes = prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "batch_outcomes_total",
			Help:      "Synchronization passes by outcome",
		}, []string{"outcome"})
		pr.enabledPackages = prom.NewGauge(prom.GaugeOpts{
			Namespace: namespace,
			Name:      "enabled_packages",
			Help:      "Enabled packages after the last pass",
		})
		pr.sessionStates = prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "session_transitions_total",
			Help:      "Update session transitions by target state",
		}, []string{"state"})
		reg.MustRegister(pr.stepDuration, pr.packageResults, pr.batchDuration, pr.batchOutcomes, pr.enabledPackages, pr.sessionStates)
	})
	return pr
}

// Registry returns the registry the metrics are registered with.
func (p *PrometheusRecorder) Registry() *prom.Registry { return p.reg }

// Handler serves the recorder's registry in the Prometheus exposition format.
func (p *PrometheusRecorder) Handler() http.Handler {
	return promhttp.HandlerFor(p.reg, promhttp.HandlerOpts{EnableOpenMetrics: true})
}

func resultLabel(success bool) string {
	if success {
		return "success"
	}
	return "failed"
}

func (p *PrometheusRecorder) ObserveStepDuration(step string, d time.Duration, success bool) {
	if p == nil || p.stepDuration == nil {
		return
	}
	p.stepDuration.WithLabelValues(step, resultLabel(success)).Observe(d.Seconds())
}

func (p *PrometheusRecorder) IncPackageResult(result ResultLabel) {
	if p == nil || p.packageResults == nil {
		return
	}
	p.packageResults.WithLabelValues(string(result)).Inc()
}

func (p *PrometheusRecorder) ObserveBatchDuration(d time.Duration) {
	if p == nil || p.batchDuration == nil {
		return
	}
	p.batchDuration.Observe(d.Seconds())
}

func (p *PrometheusRecorder) IncBatchOutcome(success bool) {
	if p == nil || p.batchOutcomes == nil {
		return
	}
	p.batchOutcomes.WithLabelValues(resultLabel(success)).Inc()
}

func (p *PrometheusRecorder) SetEnabledPackages(n int) {
	if p == nil || p.enabledPackages == nil {
		return
	}
	p.enabledPackages.Set(float64(n))
}

func (p *PrometheusRecorder) IncSessionTransition(state string) {
	if p == nil || p.sessionStates == nil {
		return
	}
	p.sessionStates.WithLabelValues(state).Inc()
}
