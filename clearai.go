// Package clearai assembles the memory subsystem from its parts with
// minimal boilerplate: providers, stores, scorer, compressor, extractor,
// and the orchestrating context service behind one constructor.
//
// Usage:
//
//	sys, err := clearai.New(
//		clearai.WithOpenAI(os.Getenv("OPENAI_API_KEY")),
//	)
//	if err != nil { ... }
//	defer sys.Close()
//
//	wmc, err := sys.Service.GetContext(ctx, userID, sessionID, msg, 0)
package clearai

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/wsyeabsera/clear-ai-sub003/compress"
	"github.com/wsyeabsera/clear-ai-sub003/config"
	"github.com/wsyeabsera/clear-ai-sub003/embedding"
	"github.com/wsyeabsera/clear-ai-sub003/episodic"
	"github.com/wsyeabsera/clear-ai-sub003/extract"
	"github.com/wsyeabsera/clear-ai-sub003/internal/metrics"
	"github.com/wsyeabsera/clear-ai-sub003/memctx"
	"github.com/wsyeabsera/clear-ai-sub003/providers"
	"github.com/wsyeabsera/clear-ai-sub003/scoring"
	"github.com/wsyeabsera/clear-ai-sub003/semantic"
	"github.com/wsyeabsera/clear-ai-sub003/session"
	"github.com/wsyeabsera/clear-ai-sub003/types"
)

// System is the wired memory subsystem.
type System struct {
	Service   *memctx.Service
	Extractor *extract.Extractor
	Runner    *extract.Runner
	Embedding *embedding.Client

	Episodic episodic.Store
	Semantic semantic.Store
	Session  session.Store

	logger *zap.Logger
}

type options struct {
	cfg        config.Config
	logger     *zap.Logger
	embedding  providers.EmbeddingProvider
	completion providers.CompletionProvider
	episodic   episodic.Store
	semantic   semantic.Store
	session    session.Store
	collector  *metrics.Collector
	userLister extract.UserLister
	useChromem bool
}

// Option configures the system created by [New].
type Option func(*options) error

// WithConfig replaces the default configuration.
func WithConfig(cfg config.Config) Option {
	return func(o *options) error {
		if err := cfg.Validate(); err != nil {
			return err
		}
		o.cfg = cfg
		return nil
	}
}

// WithConfigFile loads configuration from a YAML file over the defaults.
func WithConfigFile(path string) Option {
	return func(o *options) error {
		cfg, err := config.Load(path)
		if err != nil {
			return err
		}
		o.cfg = cfg
		return nil
	}
}

// WithLogger sets a custom zap logger.
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) error {
		o.logger = logger
		return nil
	}
}

// WithOpenAI wires OpenAI-backed embedding and completion providers.
func WithOpenAI(apiKey string) Option {
	return func(o *options) error {
		cfg := providers.OpenAIConfig{APIKey: apiKey}
		o.embedding = providers.NewOpenAIEmbedding(cfg, o.logger)
		o.completion = providers.NewOpenAICompletion(cfg, o.logger)
		return nil
	}
}

// WithEmbeddingProvider sets a pre-built embedding provider.
func WithEmbeddingProvider(p providers.EmbeddingProvider) Option {
	return func(o *options) error {
		o.embedding = p
		return nil
	}
}

// WithCompletionProvider sets a pre-built completion provider.
func WithCompletionProvider(p providers.CompletionProvider) Option {
	return func(o *options) error {
		o.completion = p
		return nil
	}
}

// WithSQLiteEpisodic stores episodic memories in a SQLite file instead of
// process memory.
func WithSQLiteEpisodic(path string) Option {
	return func(o *options) error {
		store, err := episodic.NewSQLStore(episodic.SQLStoreConfig{Path: path}, o.logger)
		if err != nil {
			return err
		}
		o.episodic = store
		return nil
	}
}

// WithChromemSemantic indexes semantic memories with the embedded chromem
// vector database.
func WithChromemSemantic() Option {
	return func(o *options) error {
		o.semantic = nil // resolved in New once dimensions are known
		o.useChromem = true
		return nil
	}
}

// WithRedisSessions persists session state in redis.
func WithRedisSessions(client redis.UniversalClient, ttl time.Duration) Option {
	return func(o *options) error {
		o.session = session.NewRedisStore(client, session.RedisStoreConfig{TTL: ttl}, o.logger)
		return nil
	}
}

// WithEpisodicStore sets a pre-built episodic store.
func WithEpisodicStore(s episodic.Store) Option {
	return func(o *options) error {
		o.episodic = s
		return nil
	}
}

// WithSemanticStore sets a pre-built semantic store.
func WithSemanticStore(s semantic.Store) Option {
	return func(o *options) error {
		o.semantic = s
		return nil
	}
}

// WithSessionStore sets a pre-built session store.
func WithSessionStore(s session.Store) Option {
	return func(o *options) error {
		o.session = s
		return nil
	}
}

// WithMetrics registers prometheus metrics on the collector's registerer.
func WithMetrics(c *metrics.Collector) Option {
	return func(o *options) error {
		o.collector = c
		return nil
	}
}

// WithUserLister enables the background extraction runner over the listed
// users.
func WithUserLister(list extract.UserLister) Option {
	return func(o *options) error {
		o.userLister = list
		return nil
	}
}

// New wires a complete memory subsystem. An embedding provider and a
// completion provider are required; stores default to in-memory backends.
func New(opts ...Option) (*System, error) {
	o := &options{cfg: config.Default(), logger: zap.NewNop()}
	for _, opt := range opts {
		if err := opt(o); err != nil {
			return nil, err
		}
	}

	if o.embedding == nil || o.completion == nil {
		return nil, types.NewError(types.ErrInvalidInput,
			"embedding and completion providers are required; use WithOpenAI or WithEmbeddingProvider/WithCompletionProvider")
	}

	cfg := o.cfg
	logger := o.logger
	retryer := providers.NewRetryer(providers.RetryPolicy{
		MaxAttempts:  cfg.RetryMaxAttempts,
		InitialDelay: cfg.RetryInitialDelay,
		MaxDelay:     cfg.RetryMaxDelay,
		Multiplier:   2,
		Jitter:       true,
	}, logger)

	embedClient, err := embedding.NewClient(o.embedding, embedding.Config{
		ExpectedDimensions: cfg.EmbeddingDimensions,
		CacheSize:          cfg.EmbedCacheSize,
		RatePerSec:         cfg.EmbedRatePerSec,
	}, retryer, o.collector, logger)
	if err != nil {
		return nil, err
	}

	epStore := o.episodic
	if epStore == nil {
		epStore = episodic.NewMemoryStore(episodic.MemoryStoreConfig{}, logger)
	}
	semStore := o.semantic
	if semStore == nil {
		if o.useChromem {
			semStore = semantic.NewChromemStore(semantic.ChromemStoreConfig{
				Dimensions: cfg.EmbeddingDimensions,
			}, logger)
		} else {
			semStore = semantic.NewMemoryStore(semantic.MemoryStoreConfig{
				Dimensions: cfg.EmbeddingDimensions,
			}, logger)
		}
	}
	sessStore := o.session
	if sessStore == nil {
		sessStore = session.NewMemoryStore(session.MemoryStoreConfig{}, logger)
	}

	scorer := scoring.NewScorer(scoring.ScorerConfig{
		RecencyHalfLife: time.Duration(cfg.RecencyHalfLifeHours * float64(time.Hour)),
	}, logger)
	compressor := compress.NewCompressor(
		compress.NewTokenizer(cfg.TokenizerModel, logger),
		o.completion,
		compress.Config{RelevanceFloor: cfg.RelevanceFloor},
		logger,
	)

	service := memctx.NewService(epStore, semStore, sessStore, embedClient, scorer, compressor, retryer, o.collector, memctx.Config{
		MaxContextTokens:    cfg.MaxContextTokens,
		SimilarityThreshold: cfg.SimilarityThreshold,
		SemanticTopK:        cfg.SemanticTopK,
		RecentTurns:         cfg.RecentTurns,
	}, logger)

	extractor := extract.New(epStore, semStore, embedClient, o.completion, extract.Config{
		BatchSize:            cfg.ExtractionBatchSize,
		MaxConceptsPerMemory: cfg.ExtractionMaxConcepts,
		MinConfidence:        cfg.ExtractionMinConfidence,
	}, o.collector, logger)

	sys := &System{
		Service:   service,
		Extractor: extractor,
		Embedding: embedClient,
		Episodic:  epStore,
		Semantic:  semStore,
		Session:   sessStore,
		logger:    logger,
	}
	if o.userLister != nil {
		sys.Runner = extract.NewRunner(extractor, o.userLister, cfg.ExtractionInterval, 0, logger)
	}
	return sys, nil
}

// Start launches background work (the extraction runner, when configured).
func (s *System) Start() {
	if s.Runner != nil {
		s.Runner.Start()
	}
}

// Close stops background work and releases resources.
func (s *System) Close() {
	if s.Runner != nil {
		s.Runner.Stop()
	}
	if s.Embedding != nil {
		s.Embedding.Close()
	}
}

// ExtractOnce runs one synchronous extraction pass for a user.
func (s *System) ExtractOnce(ctx context.Context, userID string) (extract.Stats, error) {
	_, stats, err := s.Extractor.ExtractBatch(ctx, userID, "")
	return stats, err
}
