// Package metrics provides internal metrics collection for the memory
// pipeline. This package is internal and should not be imported by external
// projects.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// Collector aggregates the prometheus instruments of the memory pipeline.
// A nil *Collector is safe to use; every method no-ops.
type Collector struct {
	assembliesTotal  *prometheus.CounterVec
	assemblyDuration prometheus.Histogram
	compressionRatio prometheus.Histogram
	memoriesKept     prometheus.Counter
	memoriesRemoved  prometheus.Counter
	cacheHits        prometheus.Counter
	cacheMisses      prometheus.Counter
	extractionTotal  *prometheus.CounterVec

	logger *zap.Logger
}

// NewCollector creates and registers the collectors on reg. Pass
// prometheus.DefaultRegisterer for the default registry.
func NewCollector(namespace string, reg prometheus.Registerer, logger *zap.Logger) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	c := &Collector{
		logger: logger.With(zap.String("component", "metrics")),
		assembliesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "context_assemblies_total",
				Help:      "Total number of working-context assemblies",
			},
			[]string{"outcome"},
		),
		assemblyDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "assembly_duration_seconds",
				Help:      "Working-context assembly duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
		),
		compressionRatio: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "compression_ratio",
				Help:      "Fraction of candidate memories retained after compression",
				Buckets:   prometheus.LinearBuckets(0, 0.1, 11),
			},
		),
		memoriesKept: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "memories_kept_total",
				Help:      "Memories admitted into assembled contexts",
			},
		),
		memoriesRemoved: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "memories_removed_total",
				Help:      "Memories dropped or summarized away during compression",
			},
		),
		cacheHits: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "embed_cache_hits_total",
				Help:      "Embedding cache hits",
			},
		),
		cacheMisses: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "embed_cache_misses_total",
				Help:      "Embedding cache misses",
			},
		),
		extractionTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "extraction_concepts_total",
				Help:      "Distilled concept proposals by outcome",
			},
			[]string{"outcome"},
		),
	}

	for _, col := range []prometheus.Collector{
		c.assembliesTotal, c.assemblyDuration, c.compressionRatio,
		c.memoriesKept, c.memoriesRemoved,
		c.cacheHits, c.cacheMisses, c.extractionTotal,
	} {
		if err := reg.Register(col); err != nil {
			c.logger.Warn("metric registration failed", zap.Error(err))
		}
	}

	return c
}

// ObserveAssembly records one GetContext call.
func (c *Collector) ObserveAssembly(outcome string, seconds float64) {
	if c == nil {
		return
	}
	c.assembliesTotal.WithLabelValues(outcome).Inc()
	c.assemblyDuration.Observe(seconds)
}

// ObserveCompression records one compression result.
func (c *Collector) ObserveCompression(ratio float64, kept, removed int) {
	if c == nil {
		return
	}
	c.compressionRatio.Observe(ratio)
	c.memoriesKept.Add(float64(kept))
	c.memoriesRemoved.Add(float64(removed))
}

// EmbedCacheHit records an embedding cache hit.
func (c *Collector) EmbedCacheHit() {
	if c == nil {
		return
	}
	c.cacheHits.Inc()
}

// EmbedCacheMiss records an embedding cache miss.
func (c *Collector) EmbedCacheMiss() {
	if c == nil {
		return
	}
	c.cacheMisses.Inc()
}

// ExtractionConcept records one distilled concept proposal outcome:
// "accepted", "rejected", or "parse_failure".
func (c *Collector) ExtractionConcept(outcome string) {
	if c == nil {
		return
	}
	c.extractionTotal.WithLabelValues(outcome).Inc()
}
