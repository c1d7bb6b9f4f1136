// Package metrics exposes the counters the job lifecycle reports. A nil
// *Metrics is valid and records nothing.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "archgen"

type Metrics struct {
	registry *prometheus.Registry

	jobsFinished   *prometheus.CounterVec
	refunds        *prometheus.CounterVec
	refundFailures *prometheus.CounterVec
	assetsPersist  *prometheus.CounterVec
	jobsReaped     *prometheus.CounterVec
	unitsFailed    prometheus.Counter
}

// New registers all collectors on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		jobsFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_finished_total",
			Help:      "Generation jobs that reached a terminal status.",
		}, []string{"tool", "status"}),
		refunds: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "refunds_total",
			Help:      "Credit refunds issued.",
		}, []string{"reason"}),
		refundFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "refund_failures_total",
			Help:      "Credit refunds that could not be issued.",
		}, []string{"reason"}),
		assetsPersist: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "assets_persisted_total",
			Help:      "Asset persistence attempts by outcome.",
		}, []string{"outcome"}),
		jobsReaped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_reaped_total",
			Help:      "Stuck jobs force-failed by the reaper.",
		}, []string{"tool"}),
		unitsFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "generation_units_failed_total",
			Help:      "Generation units that failed inside a request.",
		}),
	}
	m.registry.MustRegister(
		m.jobsFinished,
		m.refunds,
		m.refundFailures,
		m.assetsPersist,
		m.jobsReaped,
		m.unitsFailed,
		collectors.NewGoCollector(),
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) JobFinished(tool, status string) {
	if m == nil {
		return
	}
	m.jobsFinished.WithLabelValues(tool, status).Inc()
}

func (m *Metrics) Refunded(reason string) {
	if m == nil {
		return
	}
	m.refunds.WithLabelValues(reason).Inc()
}

func (m *Metrics) RefundFailed(reason string) {
	if m == nil {
		return
	}
	m.refundFailures.WithLabelValues(reason).Inc()
}

// AssetPersisted records a persister outcome: stored, skipped or failed.
func (m *Metrics) AssetPersisted(outcome string) {
	if m == nil {
		return
	}
	m.assetsPersist.WithLabelValues(outcome).Inc()
}

func (m *Metrics) JobReaped(tool string) {
	if m == nil {
		return
	}
	m.jobsReaped.WithLabelValues(tool).Inc()
}

func (m *Metrics) UnitsFailed(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.unitsFailed.Add(float64(n))
}
