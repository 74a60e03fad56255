// Package observability provides Prometheus metrics and OpenTelemetry
// tracing for the memory subsystem.
package observability

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	globalCollector *Collector
	collectorMutex  sync.Mutex
)

// Collector holds all Prometheus metrics for the memory subsystem.
type Collector struct {
	registry *prometheus.Registry

	// Gateway metrics
	GatewayRequests *prometheus.CounterVec
	GatewayDuration *prometheus.HistogramVec
	GatewayRetries  prometheus.Counter
	CircuitRejects  *prometheus.CounterVec

	// Memory lifecycle metrics
	EntriesStored       *prometheus.CounterVec
	EntriesPurged       prometheus.Counter
	FactsPromoted       prometheus.Counter
	ConsolidationRuns   *prometheus.CounterVec
	ConsolidationGroups prometheus.Histogram

	// Access control metrics
	AccessDecisions *prometheus.CounterVec

	// Cache metrics
	CacheHits   prometheus.Counter
	CacheMisses prometheus.Counter
}

// NewCollector creates the metrics collector for the given namespace. A
// singleton avoids duplicate registration when tests construct the stack
// repeatedly.
func NewCollector(namespace string) *Collector {
	collectorMutex.Lock()
	defer collectorMutex.Unlock()

	if globalCollector != nil {
		return globalCollector
	}

	registry := prometheus.NewRegistry()

	c := &Collector{
		registry: registry,
		GatewayRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "gateway_requests_total",
				Help:      "Total gateway operations by name and outcome",
			},
			[]string{"operation", "status"},
		),
		GatewayDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "gateway_request_duration_seconds",
				Help:      "Gateway operation duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
		GatewayRetries: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "gateway_retries_total",
				Help:      "Total retried backend attempts",
			},
		),
		CircuitRejects: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "circuit_rejections_total",
				Help:      "Requests rejected by an open circuit, per backend",
			},
			[]string{"backend"},
		),
		EntriesStored: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "entries_stored_total",
				Help:      "Memory entries written to the episodic store, per domain",
			},
			[]string{"domain"},
		),
		EntriesPurged: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "entries_purged_total",
				Help:      "Memory entries dropped by retention",
			},
		),
		FactsPromoted: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "facts_promoted_total",
				Help:      "Consolidated facts promoted to the semantic store",
			},
		),
		ConsolidationRuns: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "consolidation_runs_total",
				Help:      "Consolidation runs by trigger",
			},
			[]string{"trigger"},
		),
		ConsolidationGroups: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "consolidation_groups",
				Help:      "Groups formed per consolidation run",
				Buckets:   []float64{0, 1, 2, 5, 10, 25, 50, 100},
			},
		),
		AccessDecisions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "access_decisions_total",
				Help:      "Cross-domain validation decisions by outcome",
			},
			[]string{"decision"},
		),
		CacheHits: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cache_hits_total",
				Help:      "Gateway read cache hits",
			},
		),
		CacheMisses: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cache_misses_total",
				Help:      "Gateway read cache misses",
			},
		),
	}

	registry.MustRegister(
		c.GatewayRequests,
		c.GatewayDuration,
		c.GatewayRetries,
		c.CircuitRejects,
		c.EntriesStored,
		c.EntriesPurged,
		c.FactsPromoted,
		c.ConsolidationRuns,
		c.ConsolidationGroups,
		c.AccessDecisions,
		c.CacheHits,
		c.CacheMisses,
	)

	globalCollector = c
	return c
}

// Registry returns the Prometheus registry backing this collector.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}
