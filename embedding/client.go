// Package embedding provides the caching, batching embedding client that
// fronts the external embedding provider.
package embedding

import (
	"context"
	"crypto/sha256"
	"encoding/hex"

	"github.com/dgraph-io/ristretto"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/wsyeabsera/clear-ai-sub003/internal/metrics"
	"github.com/wsyeabsera/clear-ai-sub003/providers"
	"github.com/wsyeabsera/clear-ai-sub003/types"
)

// Config configures the embedding client.
type Config struct {
	// ExpectedDimensions is validated against the provider at construction;
	// a disagreement is a fatal configuration error.
	ExpectedDimensions int

	// CacheSize bounds the cache entry count. <= 0 uses 10000.
	CacheSize int64

	// RatePerSec limits provider calls. 0 disables limiting.
	RatePerSec float64
}

// Client wraps an EmbeddingProvider with a bounded LRU-style cache,
// order-preserving batch splitting, retry, and rate limiting. It is safe for
// concurrent use.
type Client struct {
	provider providers.EmbeddingProvider
	retryer  *providers.Retryer
	cache    *ristretto.Cache
	limiter  *rate.Limiter
	mc       *metrics.Collector
	logger   *zap.Logger
}

// NewClient creates a Client and validates the provider's dimensionality
// against the configured one.
func NewClient(
	provider providers.EmbeddingProvider,
	cfg Config,
	retryer *providers.Retryer,
	mc *metrics.Collector,
	logger *zap.Logger,
) (*Client, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if provider == nil {
		return nil, types.NewError(types.ErrInvalidInput, "embedding provider is required")
	}
	if cfg.ExpectedDimensions > 0 && provider.Dimensions() > 0 && provider.Dimensions() != cfg.ExpectedDimensions {
		return nil, types.Errorf(types.ErrDimensionMismatch,
			"provider produces %d-dimensional vectors, configured %d; reindex before use",
			provider.Dimensions(), cfg.ExpectedDimensions)
	}
	if retryer == nil {
		retryer = providers.NewRetryer(providers.DefaultRetryPolicy(), logger)
	}

	size := cfg.CacheSize
	if size <= 0 {
		size = 10000
	}
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: size * 10,
		MaxCost:     size,
		BufferItems: 64,
	})
	if err != nil {
		return nil, types.NewError(types.ErrInvalidInput, "create embedding cache").WithCause(err)
	}

	var limiter *rate.Limiter
	if cfg.RatePerSec > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), 1)
	}

	return &Client{
		provider: provider,
		retryer:  retryer,
		cache:    cache,
		limiter:  limiter,
		mc:       mc,
		logger:   logger.With(zap.String("component", "embedding_client")),
	}, nil
}

// Dimensions returns the provider's vector dimensionality.
func (c *Client) Dimensions() int { return c.provider.Dimensions() }

// Embed returns the embedding for one text, hitting the cache first.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := c.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch returns embeddings in input order. Cached texts never reach the
// provider; the rest are sent in provider-sized chunks.
func (c *Client) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	out := make([][]float32, len(texts))
	var missIdx []int
	var missTexts []string

	for i, text := range texts {
		if vec, ok := c.lookup(text); ok {
			c.mc.EmbedCacheHit()
			out[i] = vec
			continue
		}
		c.mc.EmbedCacheMiss()
		missIdx = append(missIdx, i)
		missTexts = append(missTexts, text)
	}

	if len(missTexts) == 0 {
		return out, nil
	}

	chunkSize := c.provider.MaxBatchSize()
	if chunkSize <= 0 {
		chunkSize = len(missTexts)
	}

	for start := 0; start < len(missTexts); start += chunkSize {
		end := start + chunkSize
		if end > len(missTexts) {
			end = len(missTexts)
		}
		chunk := missTexts[start:end]

		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return nil, types.NewError(types.ErrEmbeddingFailure, "rate limit wait").WithCause(err)
			}
		}

		var vecs [][]float32
		err := c.retryer.Do(ctx, "embed_batch", func() error {
			var embedErr error
			vecs, embedErr = c.provider.EmbedBatch(ctx, chunk)
			return embedErr
		})
		if err != nil {
			return nil, err
		}
		if len(vecs) != len(chunk) {
			return nil, types.Errorf(types.ErrEmbeddingFailure,
				"provider returned %d vectors for %d texts", len(vecs), len(chunk))
		}

		for j, vec := range vecs {
			idx := missIdx[start+j]
			out[idx] = vec
			c.store(texts[idx], vec)
		}
	}

	return out, nil
}

// Clear drops every cached embedding.
func (c *Client) Clear() {
	c.cache.Clear()
}

// Close releases the cache. The client must not be used afterwards.
func (c *Client) Close() {
	c.cache.Close()
}

func (c *Client) lookup(text string) ([]float32, bool) {
	v, ok := c.cache.Get(cacheKey(text))
	if !ok {
		return nil, false
	}
	vec, ok := v.([]float32)
	if !ok {
		return nil, false
	}
	return append([]float32(nil), vec...), true
}

func (c *Client) store(text string, vec []float32) {
	copied := append([]float32(nil), vec...)
	c.cache.Set(cacheKey(text), copied, 1)
}

func cacheKey(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}
