// Package memctx is the orchestration boundary of the memory subsystem: it
// fans out reads, scores and compresses candidates, and assembles the
// token-bounded working context for one conversation turn. No business
// logic beyond composition lives here.
package memctx

import (
	"context"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/wsyeabsera/clear-ai-sub003/compress"
	"github.com/wsyeabsera/clear-ai-sub003/episodic"
	"github.com/wsyeabsera/clear-ai-sub003/internal/metrics"
	"github.com/wsyeabsera/clear-ai-sub003/providers"
	"github.com/wsyeabsera/clear-ai-sub003/scoring"
	"github.com/wsyeabsera/clear-ai-sub003/semantic"
	"github.com/wsyeabsera/clear-ai-sub003/session"
	"github.com/wsyeabsera/clear-ai-sub003/types"
)

// Embedder is the slice of the embedding client the service needs.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Config tunes the context service.
type Config struct {
	// MaxContextTokens is the default token budget when the caller passes
	// none. Defaults to 8000.
	MaxContextTokens int

	// SimilarityThreshold gates semantic query results. Defaults to 0.7.
	SimilarityThreshold float64

	// SemanticTopK caps semantic query results. Defaults to 10.
	SemanticTopK int

	// RecentTurns is how many recent episodic memories seed the context.
	// Defaults to 20.
	RecentTurns int

	// TurnImportance is the importance assigned to recorded turns.
	// Defaults to 0.5.
	TurnImportance float64
}

func (c Config) withDefaults() Config {
	if c.MaxContextTokens <= 0 {
		c.MaxContextTokens = 8000
	}
	if c.SimilarityThreshold <= 0 {
		c.SimilarityThreshold = 0.7
	}
	if c.SemanticTopK <= 0 {
		c.SemanticTopK = 10
	}
	if c.RecentTurns <= 0 {
		c.RecentTurns = 20
	}
	if c.TurnImportance <= 0 {
		c.TurnImportance = 0.5
	}
	return c
}

// Service orchestrates episodic, semantic, and session state into working
// memory contexts.
type Service struct {
	episodic   episodic.Store
	semantic   semantic.Store
	session    session.Store
	embedder   Embedder
	scorer     *scoring.Scorer
	compressor *compress.Compressor
	retryer    *providers.Retryer
	metrics    *metrics.Collector
	tracer     trace.Tracer
	cfg        Config
	logger     *zap.Logger
}

// NewService wires the orchestrator. collector may be nil; retryer defaults
// to the standard policy.
func NewService(
	epStore episodic.Store,
	semStore semantic.Store,
	sessStore session.Store,
	embedder Embedder,
	scorer *scoring.Scorer,
	compressor *compress.Compressor,
	retryer *providers.Retryer,
	collector *metrics.Collector,
	cfg Config,
	logger *zap.Logger,
) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	if retryer == nil {
		retryer = providers.NewRetryer(providers.DefaultRetryPolicy(), logger)
	}
	return &Service{
		episodic:   epStore,
		semantic:   semStore,
		session:    sessStore,
		embedder:   embedder,
		scorer:     scorer,
		compressor: compressor,
		retryer:    retryer,
		metrics:    collector,
		tracer:     otel.Tracer("memctx"),
		cfg:        cfg.withDefaults(),
		logger:     logger.With(zap.String("component", "memctx_service")),
	}
}

// GetContext assembles the working memory context for one turn and records
// the new message as an episodic memory. Transient backend failures degrade
// the context instead of failing the turn; data-integrity errors abort.
func (s *Service) GetContext(ctx context.Context, userID, sessionID, newMessage string, maxTokens int) (*types.WorkingMemoryContext, error) {
	if userID == "" || sessionID == "" {
		return nil, types.NewError(types.ErrInvalidInput, "user_id and session_id are required")
	}
	if maxTokens <= 0 {
		maxTokens = s.cfg.MaxContextTokens
	}

	ctx, span := s.tracer.Start(ctx, "memctx.GetContext", trace.WithAttributes(
		attribute.String("session_id", sessionID),
		attribute.Int("max_tokens", maxTokens),
	))
	defer span.End()

	started := time.Now()
	wmc, err := s.getContext(ctx, userID, sessionID, newMessage, maxTokens)
	elapsed := time.Since(started).Seconds()
	switch {
	case err != nil:
		span.RecordError(err)
		s.observeAssembly("error", elapsed)
		return nil, err
	case wmc.Degraded:
		s.observeAssembly("degraded", elapsed)
	default:
		s.observeAssembly("ok", elapsed)
	}
	return wmc, nil
}

func (s *Service) getContext(ctx context.Context, userID, sessionID, newMessage string, maxTokens int) (*types.WorkingMemoryContext, error) {
	var (
		recent    []*types.EpisodicMemory
		state     session.State
		embedding []float32
		matches   []semantic.Match
		degraded  atomic.Bool
	)

	// Fan-out: episodic recency, session state, and embed-then-query run
	// concurrently and join before scoring. Branches return an error only
	// for data-integrity failures; transient ones mark the context
	// degraded and the turn carries on with what it has.
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		err := s.retryer.Do(gctx, "episodic.Recent", func() error {
			var e error
			recent, e = s.episodic.Recent(gctx, userID, sessionID, s.cfg.RecentTurns)
			return e
		})
		return s.noteDegraded(err, &degraded, "recent episodic read failed")
	})
	g.Go(func() error {
		err := s.retryer.Do(gctx, "session.GetState", func() error {
			var e error
			state, e = s.session.GetState(gctx, userID, sessionID)
			return e
		})
		return s.noteDegraded(err, &degraded, "session state read failed")
	})
	g.Go(func() error {
		vec, err := s.embedder.Embed(gctx, newMessage)
		if err != nil {
			// Degraded relevance, not failure: scoring redistributes the
			// semantic weight when no embedding is available.
			return s.noteDegraded(err, &degraded, "message embedding failed")
		}
		embedding = vec
		err = s.retryer.Do(gctx, "semantic.Query", func() error {
			var e error
			matches, e = s.semantic.Query(gctx, userID, vec, semantic.QueryOptions{
				TopK:      s.cfg.SemanticTopK,
				Threshold: s.cfg.SimilarityThreshold,
			})
			return e
		})
		return s.noteDegraded(err, &degraded, "semantic query failed")
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	topic := deriveTopic(recent, newMessage)

	candidates := make([]types.ScoredMemory, 0, len(recent)+len(matches))
	for _, m := range recent {
		candidates = append(candidates, types.ScoredMemory{Episodic: m})
	}
	for _, match := range matches {
		candidates = append(candidates, types.ScoredMemory{Semantic: match.Memory})
	}

	scored, err := s.scorer.ScoreAll(candidates, scoring.Query{
		Embedding:   embedding,
		ContextText: topic + " " + newMessage,
	})
	if err != nil {
		return nil, err
	}

	compressed, err := s.compressor.Compress(ctx, scored, maxTokens)
	if err != nil {
		return nil, err
	}
	s.observeCompression(compressed)

	// Access bookkeeping for retained concepts, off the critical path.
	for _, m := range compressed.Kept {
		if m.Semantic == nil {
			continue
		}
		if err := s.semantic.TouchAccess(ctx, userID, m.Semantic.ID); err != nil {
			s.logger.Debug("access touch failed",
				zap.String("memory_id", m.Semantic.ID), zap.Error(err))
		}
	}

	// The new message becomes part of the episodic record only after its
	// own context is assembled.
	if _, err := s.RecordTurn(ctx, userID, sessionID, newMessage, embedding); err != nil {
		s.logger.Warn("turn recording failed",
			zap.String("session_id", sessionID), zap.Error(err))
		degraded.Store(true)
	}

	// Persist the derived topic for the next turn.
	if topic != "" && topic != state.CurrentTopic {
		updated := state
		updated.CurrentTopic = topic
		if err := s.session.PutState(ctx, userID, sessionID, updated); err != nil {
			s.logger.Debug("topic persistence failed", zap.Error(err))
		}
	}

	return Assemble(AssembleInput{
		SessionID:   sessionID,
		Topic:       topic,
		State:       state,
		TokenBudget: maxTokens,
		Compressed:  compressed,
		Degraded:    degraded.Load(),
	}), nil
}

// RecordTurn stores one conversation turn as an episodic memory. embedding
// may be nil; the turn is stored either way.
func (s *Service) RecordTurn(ctx context.Context, userID, sessionID, content string, embedding []float32) (string, error) {
	if content == "" {
		return "", types.NewError(types.ErrInvalidInput, "content is required")
	}
	var id string
	err := s.retryer.Do(ctx, "episodic.Store", func() error {
		var e error
		id, e = s.episodic.Store(ctx, &types.EpisodicMemory{
			UserID:     userID,
			SessionID:  sessionID,
			Content:    content,
			Importance: s.cfg.TurnImportance,
			Embedding:  embedding,
		})
		return e
	})
	return id, err
}

// UpdateGoal upserts a goal in the session state.
func (s *Service) UpdateGoal(ctx context.Context, userID, sessionID string, goal types.Goal) error {
	return s.session.UpdateGoal(ctx, userID, sessionID, goal)
}

// ClearUser removes every trace of the user across all stores.
func (s *Service) ClearUser(ctx context.Context, userID string) error {
	if err := s.episodic.ClearUser(ctx, userID); err != nil {
		return err
	}
	if err := s.semantic.DeleteUser(ctx, userID); err != nil {
		return err
	}
	return s.session.ClearUser(ctx, userID)
}

// noteDegraded converts transient failures into a degraded-context marker
// and lets data-integrity failures abort the fan-out.
func (s *Service) noteDegraded(err error, degraded *atomic.Bool, msg string) error {
	if err == nil {
		return nil
	}
	switch types.GetErrorCode(err) {
	case types.ErrDimensionMismatch, types.ErrUserIsolation:
		return err
	}
	s.logger.Warn(msg, zap.Error(err))
	degraded.Store(true)
	return nil
}

func (s *Service) observeAssembly(outcome string, seconds float64) {
	if s.metrics != nil {
		s.metrics.ObserveAssembly(outcome, seconds)
	}
}

func (s *Service) observeCompression(result types.CompressionResult) {
	if s.metrics != nil {
		s.metrics.ObserveCompression(result.CompressionRatio, len(result.Kept), len(result.RemovedIDs))
	}
}
