package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestCollector_RecordsWithoutPanic(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	c := NewCollector("memtest", reg, zap.NewNop())

	c.ObserveAssembly("ok", 0.05)
	c.ObserveAssembly("degraded", 0.2)
	c.ObserveCompression(0.6, 3, 2)
	c.EmbedCacheHit()
	c.EmbedCacheMiss()
	c.ExtractionConcept("accepted")
	c.ExtractionConcept("parse_failure")

	families, err := reg.Gather()
	require.NoError(t, err)
	require.NotEmpty(t, families)

	names := make(map[string]bool, len(families))
	for _, f := range families {
		names[f.GetName()] = true
	}
	require.True(t, names["memtest_context_assemblies_total"])
	require.True(t, names["memtest_compression_ratio"])
	require.True(t, names["memtest_embed_cache_hits_total"])
}

func TestCollector_NilSafe(t *testing.T) {
	t.Parallel()

	var c *Collector
	c.ObserveAssembly("ok", 0.1)
	c.ObserveCompression(1, 1, 0)
	c.EmbedCacheHit()
	c.EmbedCacheMiss()
	c.ExtractionConcept("accepted")
}
