package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDefault_IsValid(t *testing.T) {
	t.Parallel()

	cfg := Default()
	require.NoError(t, cfg.Validate())
	require.Equal(t, 0.7, cfg.SimilarityThreshold)
	require.Equal(t, 8000, cfg.MaxContextTokens)
	require.Equal(t, 0.5, cfg.RelevanceFloor)
	require.Equal(t, float64(24), cfg.RecencyHalfLifeHours)
	require.Equal(t, 5, cfg.ExtractionBatchSize)
	require.Equal(t, 0.7, cfg.ExtractionMinConfidence)
}

func TestLoad_OverridesDefaults(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "memory.yaml")
	data := []byte("embedding_dimensions: 768\nmax_context_tokens: 4000\nrecency_half_life_hours: 12\nextraction_interval: 1m\n")
	require.NoError(t, os.WriteFile(path, data, 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 768, cfg.EmbeddingDimensions)
	require.Equal(t, 4000, cfg.MaxContextTokens)
	require.Equal(t, float64(12), cfg.RecencyHalfLifeHours)
	require.Equal(t, time.Minute, cfg.ExtractionInterval)
	// Untouched options keep defaults.
	require.Equal(t, 0.7, cfg.SimilarityThreshold)
}

func TestLoad_MissingFile(t *testing.T) {
	t.Parallel()

	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}

func TestValidate_Ranges(t *testing.T) {
	t.Parallel()

	cases := []func(*Config){
		func(c *Config) { c.EmbeddingDimensions = 0 },
		func(c *Config) { c.SimilarityThreshold = 1.5 },
		func(c *Config) { c.MaxContextTokens = -1 },
		func(c *Config) { c.RelevanceFloor = 2 },
		func(c *Config) { c.RecencyHalfLifeHours = 0 },
		func(c *Config) { c.ExtractionBatchSize = 0 },
		func(c *Config) { c.ExtractionMinConfidence = -0.1 },
		func(c *Config) { c.ExtractionMaxConcepts = 0 },
		func(c *Config) { c.RetryMaxAttempts = -1 },
	}
	for _, mutate := range cases {
		cfg := Default()
		mutate(&cfg)
		require.Error(t, cfg.Validate())
	}
}
