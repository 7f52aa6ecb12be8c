// Package metrics holds the Prometheus collectors shared by the verifier,
// the pipeline and the ops server. A nil *Metrics is valid and records
// nothing.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/hamed0406/proxyscore/internal/domain"
)

const namespace = "proxyscore"

// Candidate results.
const (
	ResultAlive   = "alive"
	ResultDead    = "dead"
	ResultSkipped = "skipped"
	ResultPartial = "partial"
)

type Metrics struct {
	registry *prometheus.Registry

	probes       *prometheus.CounterVec
	inFlight     prometheus.Gauge
	candidates   *prometheus.CounterVec
	upserts      *prometheus.CounterVec
	passDuration prometheus.Histogram
}

// New registers every collector on a fresh registry, together with the Go
// runtime and process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		probes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "probes_total",
			Help:      "Probe rounds by outcome (ok, timeout, connection, protocol).",
		}, []string{"outcome"}),
		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "probes_in_flight",
			Help:      "Candidates currently holding a verification slot.",
		}),
		candidates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "candidates_total",
			Help:      "Verified candidates by result.",
		}, []string{"result"}),
		upserts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upserts_total",
			Help:      "Repository upserts by result.",
		}, []string{"result"}),
		passDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "pass_duration_seconds",
			Help:      "Wall time of one fetch-verify-store pass.",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 12),
		}),
	}
	m.registry.MustRegister(
		m.probes, m.inFlight, m.candidates, m.upserts, m.passDuration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Gatherer exposes the registry to the ops server.
func (m *Metrics) Gatherer() prometheus.Gatherer {
	if m == nil {
		return prometheus.NewRegistry()
	}
	return m.registry
}

func (m *Metrics) ObserveRound(o domain.RoundOutcome) {
	if m == nil {
		return
	}
	outcome := "ok"
	if !o.OK() {
		outcome = string(o.Failure)
	}
	m.probes.WithLabelValues(outcome).Inc()
}

func (m *Metrics) SlotAcquired() {
	if m != nil {
		m.inFlight.Inc()
	}
}

func (m *Metrics) SlotReleased() {
	if m != nil {
		m.inFlight.Dec()
	}
}

func (m *Metrics) Candidate(result string) {
	if m != nil {
		m.candidates.WithLabelValues(result).Inc()
	}
}

func (m *Metrics) Upsert(err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.upserts.WithLabelValues("error").Inc()
		return
	}
	m.upserts.WithLabelValues("ok").Inc()
}

func (m *Metrics) PassDone(d time.Duration) {
	if m != nil {
		m.passDuration.Observe(d.Seconds())
	}
}
