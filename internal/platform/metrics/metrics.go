// Package metrics holds the Prometheus instruments of the trust core. Each
// Collector owns its registry, so tests can create as many as they like.
// All methods are safe on a nil *Collector.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "search"

type Collector struct {
	registry *prometheus.Registry

	namingLookups   *prometheus.CounterVec
	namingRefreshes *prometheus.CounterVec
	namingEntries   prometheus.Gauge

	carteOutcomes *prometheus.CounterVec

	verifications   *prometheus.CounterVec
	verifyDuration  *prometheus.HistogramVec
	digestCacheHits *prometheus.CounterVec
	remoteFetches   *prometheus.CounterVec
}

func NewCollector() *Collector {
	registry := prometheus.NewRegistry()

	c := &Collector{
		registry: registry,
		namingLookups: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "naming",
				Name:      "lookups_total",
				Help:      "Naming cache lookups by mode and result",
			},
			[]string{"mode", "result"},
		),
		namingRefreshes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "naming",
				Name:      "refreshes_total",
				Help:      "Naming service refreshes by outcome",
			},
			[]string{"outcome"},
		),
		namingEntries: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "naming",
				Name:      "entries",
				Help:      "Distinct name records currently cached",
			},
		),
		carteOutcomes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "carte",
				Name:      "authentications_total",
				Help:      "Carte authentications by result code",
			},
			[]string{"code"},
		),
		verifications: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "verify",
				Name:      "requests_total",
				Help:      "Signature verifications by entry kind and outcome",
			},
			[]string{"kind", "outcome"},
		),
		verifyDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "verify",
				Name:      "duration_seconds",
				Help:      "Signature verification duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"kind"},
		),
		digestCacheHits: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "verify",
				Name:      "digest_cache_total",
				Help:      "Digest cache lookups by result",
			},
			[]string{"result"},
		),
		remoteFetches: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "verify",
				Name:      "remote_fetches_total",
				Help:      "Fetches from remote nodes by entry kind and outcome",
			},
			[]string{"kind", "outcome"},
		),
	}

	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		c.namingLookups,
		c.namingRefreshes,
		c.namingEntries,
		c.carteOutcomes,
		c.verifications,
		c.verifyDuration,
		c.digestCacheHits,
		c.remoteFetches,
	)
	return c
}

// Registry exposes the underlying registry, mainly for tests.
func (c *Collector) Registry() *prometheus.Registry {
	if c == nil {
		return nil
	}
	return c.registry
}

// Handler serves the collected metrics in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	if c == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

func (c *Collector) NamingLookup(mode, result string) {
	if c == nil {
		return
	}
	c.namingLookups.WithLabelValues(mode, result).Inc()
}

func (c *Collector) NamingRefresh(outcome string) {
	if c == nil {
		return
	}
	c.namingRefreshes.WithLabelValues(outcome).Inc()
}

func (c *Collector) NamingEntries(n int) {
	if c == nil {
		return
	}
	c.namingEntries.Set(float64(n))
}

func (c *Collector) CarteOutcome(code string) {
	if c == nil {
		return
	}
	c.carteOutcomes.WithLabelValues(code).Inc()
}

func (c *Collector) Verification(kind, outcome string, seconds float64) {
	if c == nil {
		return
	}
	c.verifications.WithLabelValues(kind, outcome).Inc()
	c.verifyDuration.WithLabelValues(kind).Observe(seconds)
}

func (c *Collector) DigestCache(hit bool) {
	if c == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	c.digestCacheHits.WithLabelValues(result).Inc()
}

func (c *Collector) RemoteFetch(kind, outcome string) {
	if c == nil {
		return
	}
	c.remoteFetches.WithLabelValues(kind, outcome).Inc()
}
