// Package metrics exposes the Prometheus instruments of the scanner.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "tenderscanner"

// Metrics groups every collector. A nil *Metrics is valid and records nothing.
type Metrics struct {
	SourcesTotal      *prometheus.CounterVec
	SourceDuration    *prometheus.HistogramVec
	CandidatesTotal   *prometheus.CounterVec
	UpsertsTotal      *prometheus.CounterVec
	EnrichmentTotal   *prometheus.CounterVec
	ClassifierLatency prometheus.Histogram
	CreditBalance     prometheus.Gauge
	WaitingJobs       prometheus.Gauge
	TasksRunning      *prometheus.GaugeVec
}

// New registers all collectors on reg; nil means the default registerer.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		SourcesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scrape",
			Name:      "sources_total",
			Help:      "Sources processed by scrape runs, by outcome",
		}, []string{"source", "status"}),
		SourceDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "scrape",
			Name:      "source_duration_seconds",
			Help:      "Wall time spent scraping one source",
			Buckets:   prometheus.ExponentialBuckets(0.5, 2, 12),
		}, []string{"source"}),
		CandidatesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scrape",
			Name:      "candidates_total",
			Help:      "Extracted candidates, by validation verdict",
		}, []string{"source", "verdict"}),
		UpsertsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "storage",
			Name:      "upserts_total",
			Help:      "Tender upserts, by result",
		}, []string{"source", "result"}),
		EnrichmentTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "enrichment",
			Name:      "items_total",
			Help:      "Enrichment attempts, by outcome",
		}, []string{"status"}),
		ClassifierLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "enrichment",
			Name:      "classifier_latency_seconds",
			Help:      "Latency of classifier calls",
			Buckets:   prometheus.DefBuckets,
		}),
		CreditBalance: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "credits",
			Name:      "balance",
			Help:      "Last observed balance of the metered service",
		}),
		WaitingJobs: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "credits",
			Name:      "waiting_jobs",
			Help:      "Enrichment requests parked until credits allow them",
		}),
		TasksRunning: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "tasks",
			Name:      "running",
			Help:      "Background tasks currently running, by kind",
		}, []string{"kind"}),
	}
}

// SourceDone records the outcome of one source.
func (m *Metrics) SourceDone(source string, ok bool, d time.Duration) {
	if m == nil {
		return
	}
	status := "success"
	if !ok {
		status = "failed"
	}
	m.SourcesTotal.WithLabelValues(source, status).Inc()
	m.SourceDuration.WithLabelValues(source).Observe(d.Seconds())
}

// Candidate records one validated candidate.
func (m *Metrics) Candidate(source string, relevant bool) {
	if m == nil {
		return
	}
	verdict := "valid"
	if !relevant {
		verdict = "rejected"
	}
	m.CandidatesTotal.WithLabelValues(source, verdict).Inc()
}

// Upsert records a persistence attempt; result is created, updated or failed.
func (m *Metrics) Upsert(source, result string) {
	if m == nil {
		return
	}
	m.UpsertsTotal.WithLabelValues(source, result).Inc()
}

// Enriched records one enrichment attempt and its classifier latency.
func (m *Metrics) Enriched(ok bool, latency time.Duration) {
	if m == nil {
		return
	}
	status := "success"
	if !ok {
		status = "failed"
	}
	m.EnrichmentTotal.WithLabelValues(status).Inc()
	m.ClassifierLatency.Observe(latency.Seconds())
}

// Balance stores the last balance reading.
func (m *Metrics) Balance(v float64) {
	if m == nil {
		return
	}
	m.CreditBalance.Set(v)
}

// Waiting stores the waiting-job queue depth.
func (m *Metrics) Waiting(n int) {
	if m == nil {
		return
	}
	m.WaitingJobs.Set(float64(n))
}

// TaskStarted increments the running gauge for kind.
func (m *Metrics) TaskStarted(kind string) {
	if m == nil {
		return
	}
	m.TasksRunning.WithLabelValues(kind).Inc()
}

// TaskFinished decrements the running gauge for kind.
func (m *Metrics) TaskFinished(kind string) {
	if m == nil {
		return
	}
	m.TasksRunning.WithLabelValues(kind).Dec()
}
