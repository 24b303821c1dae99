// Package config defines the structured configuration surface of the memory
// subsystem. Every recognized option is enumerated here with its default;
// there are no loosely-typed option bags.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config enumerates every recognized option of the memory subsystem.
type Config struct {
	// EmbeddingDimensions is the fixed vector dimensionality of the
	// deployment. It is validated against the embedding provider and the
	// semantic store at startup; a mismatch is fatal.
	EmbeddingDimensions int `yaml:"embedding_dimensions" json:"embedding_dimensions"`

	// SimilarityThreshold is the minimum cosine similarity for semantic
	// query results. Filtering happens before top-K truncation.
	SimilarityThreshold float64 `yaml:"similarity_threshold" json:"similarity_threshold"`

	// MaxContextTokens is the default token budget for assembled contexts.
	MaxContextTokens int `yaml:"max_context_tokens" json:"max_context_tokens"`

	// RelevanceFloor is the minimum relevance for a memory to consume
	// budget, even when space remains.
	RelevanceFloor float64 `yaml:"relevance_floor" json:"relevance_floor"`

	// RecencyHalfLifeHours controls the exponential recency decay.
	RecencyHalfLifeHours float64 `yaml:"recency_half_life_hours" json:"recency_half_life_hours"`

	// ExtractionBatchSize is how many un-distilled episodic memories one
	// extraction run consumes.
	ExtractionBatchSize int `yaml:"extraction_batch_size" json:"extraction_batch_size"`

	// ExtractionMinConfidence discards distilled concepts below this
	// confidence.
	ExtractionMinConfidence float64 `yaml:"extraction_min_confidence" json:"extraction_min_confidence"`

	// ExtractionMaxConcepts caps proposed concepts per episodic memory.
	ExtractionMaxConcepts int `yaml:"extraction_max_concepts" json:"extraction_max_concepts"`

	// ExtractionInterval is the cadence of the background extraction runner.
	ExtractionInterval time.Duration `yaml:"extraction_interval" json:"extraction_interval"`

	// RecentTurns is how many recent episodic memories the assembler pulls
	// per request.
	RecentTurns int `yaml:"recent_turns" json:"recent_turns"`

	// SemanticTopK is how many semantic candidates the assembler requests.
	SemanticTopK int `yaml:"semantic_top_k" json:"semantic_top_k"`

	// EmbedCacheSize bounds the embedding cache entry count.
	EmbedCacheSize int64 `yaml:"embed_cache_size" json:"embed_cache_size"`

	// EmbedRatePerSec rate-limits embedding provider calls. 0 disables.
	EmbedRatePerSec float64 `yaml:"embed_rate_per_sec" json:"embed_rate_per_sec"`

	// RetryMaxAttempts bounds retries of transient store/provider errors.
	RetryMaxAttempts int `yaml:"retry_max_attempts" json:"retry_max_attempts"`

	// RetryInitialDelay is the first backoff delay.
	RetryInitialDelay time.Duration `yaml:"retry_initial_delay" json:"retry_initial_delay"`

	// RetryMaxDelay caps the backoff delay.
	RetryMaxDelay time.Duration `yaml:"retry_max_delay" json:"retry_max_delay"`

	// TokenizerModel selects the tiktoken encoding for exact token costing.
	// When the encoding cannot be initialized the compressor falls back to
	// the chars/4 estimator.
	TokenizerModel string `yaml:"tokenizer_model" json:"tokenizer_model"`
}

// Default returns the documented defaults.
func Default() Config {
	return Config{
		EmbeddingDimensions:     1536,
		SimilarityThreshold:     0.7,
		MaxContextTokens:        8000,
		RelevanceFloor:          0.5,
		RecencyHalfLifeHours:    24,
		ExtractionBatchSize:     5,
		ExtractionMinConfidence: 0.7,
		ExtractionMaxConcepts:   3,
		ExtractionInterval:      5 * time.Minute,
		RecentTurns:             20,
		SemanticTopK:            10,
		EmbedCacheSize:          10000,
		EmbedRatePerSec:         0,
		RetryMaxAttempts:        3,
		RetryInitialDelay:       500 * time.Millisecond,
		RetryMaxDelay:           10 * time.Second,
		TokenizerModel:          "gpt-4o",
	}
}

// Load reads a YAML config file over the defaults. Options absent from the
// file keep their default values.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate checks ranges and cross-field consistency.
func (c Config) Validate() error {
	if c.EmbeddingDimensions <= 0 {
		return fmt.Errorf("embedding_dimensions must be > 0, got %d", c.EmbeddingDimensions)
	}
	if c.SimilarityThreshold < -1 || c.SimilarityThreshold > 1 {
		return fmt.Errorf("similarity_threshold must be in [-1,1], got %v", c.SimilarityThreshold)
	}
	if c.MaxContextTokens <= 0 {
		return fmt.Errorf("max_context_tokens must be > 0, got %d", c.MaxContextTokens)
	}
	if c.RelevanceFloor < 0 || c.RelevanceFloor > 1 {
		return fmt.Errorf("relevance_floor must be in [0,1], got %v", c.RelevanceFloor)
	}
	if c.RecencyHalfLifeHours <= 0 {
		return fmt.Errorf("recency_half_life_hours must be > 0, got %v", c.RecencyHalfLifeHours)
	}
	if c.ExtractionBatchSize <= 0 {
		return fmt.Errorf("extraction_batch_size must be > 0, got %d", c.ExtractionBatchSize)
	}
	if c.ExtractionMinConfidence < 0 || c.ExtractionMinConfidence > 1 {
		return fmt.Errorf("extraction_min_confidence must be in [0,1], got %v", c.ExtractionMinConfidence)
	}
	if c.ExtractionMaxConcepts <= 0 {
		return fmt.Errorf("extraction_max_concepts must be > 0, got %d", c.ExtractionMaxConcepts)
	}
	if c.RetryMaxAttempts < 0 {
		return fmt.Errorf("retry_max_attempts must be >= 0, got %d", c.RetryMaxAttempts)
	}
	return nil
}
