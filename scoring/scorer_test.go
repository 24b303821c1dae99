package scoring

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/wsyeabsera/clear-ai-sub003/types"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestScorer() *Scorer {
	return NewScorer(ScorerConfig{
		RecencyHalfLife: 24 * time.Hour,
		Now:             func() time.Time { return testNow },
	}, nil)
}

func episodicAt(id string, age time.Duration, importance float64, content string, embedding []float32, tags ...string) types.ScoredMemory {
	return types.ScoredMemory{Episodic: &types.EpisodicMemory{
		ID:         id,
		UserID:     "u1",
		SessionID:  "sess-1",
		Timestamp:  testNow.Add(-age),
		Content:    content,
		Importance: importance,
		Embedding:  embedding,
		Tags:       tags,
	}}
}

func TestRecencyDecay(t *testing.T) {
	t.Parallel()
	s := newTestScorer()

	fresh := s.recency(testNow)
	oneDay := s.recency(testNow.Add(-24 * time.Hour))
	hour := s.recency(testNow.Add(-time.Hour))
	twoDays := s.recency(testNow.Add(-48 * time.Hour))

	require.InDelta(t, 1.0, fresh, 1e-9)
	require.InDelta(t, math.Exp(-1), oneDay, 1e-9)
	require.InDelta(t, math.Exp(-2), twoDays, 1e-9)
	require.Greater(t, fresh, hour)
	require.Greater(t, hour, twoDays)
	require.Less(t, twoDays, 0.15)

	// Future timestamps clamp instead of exceeding 1.
	require.InDelta(t, 1.0, s.recency(testNow.Add(time.Hour)), 1e-9)
	require.Zero(t, s.recency(time.Time{}))
}

func TestScoreWeighting(t *testing.T) {
	t.Parallel()
	s := newTestScorer()

	// Identical embedding, fresh, max importance, full topic overlap with
	// the tags: every component is 1, so the weighted sum is 1.
	m := episodicAt("ep_1", 0, 1.0, "discussed the budget meeting", []float32{1, 0, 0}, "budget", "meeting")
	score, err := s.Score(m, Query{
		Embedding:   []float32{1, 0, 0},
		ContextText: "budget meeting",
	})
	require.NoError(t, err)
	require.InDelta(t, 1.0, score.Semantic, 1e-9)
	require.InDelta(t, 1.0, score.Recency, 1e-9)
	require.InDelta(t, 1.0, score.Importance, 1e-9)
	require.InDelta(t, 1.0, score.ContextRelevance, 1e-9)
	require.InDelta(t, 1.0, score.Relevance, 1e-9)

	// Zero out everything except importance: relevance is exactly the
	// importance weight.
	old := episodicAt("ep_2", 1000*24*time.Hour, 1.0, "zzz", []float32{0, 1, 0})
	score, err = s.Score(old, Query{Embedding: []float32{1, 0, 0}, ContextText: "unrelated words"})
	require.NoError(t, err)
	require.InDelta(t, 0.2, score.Relevance, 1e-6)
}

func TestScoreWithoutEmbeddingRedistributesWeight(t *testing.T) {
	t.Parallel()
	s := newTestScorer()

	// Fresh, max importance, full overlap, but no embedding: the semantic
	// weight spreads over the other components and relevance still
	// reaches 1 instead of capping at 0.6.
	m := episodicAt("ep_1", 0, 1.0, "planning the trip to Lisbon", nil, "trip", "lisbon")
	score, err := s.Score(m, Query{
		Embedding:   []float32{1, 0, 0},
		ContextText: "trip lisbon",
	})
	require.NoError(t, err)
	require.Zero(t, score.Semantic)
	require.InDelta(t, 1.0, score.Relevance, 1e-9)
}

func TestScoreDimensionMismatch(t *testing.T) {
	t.Parallel()
	s := newTestScorer()

	m := episodicAt("ep_1", 0, 0.5, "text", []float32{1, 0})
	_, err := s.Score(m, Query{Embedding: []float32{1, 0, 0}})
	require.Equal(t, types.ErrDimensionMismatch, types.GetErrorCode(err))
}

func TestContextRelevance(t *testing.T) {
	t.Parallel()

	require.InDelta(t, 1.0, contextRelevance("budget review meeting", "budget meeting"), 1e-9)
	require.InDelta(t, 0.5, contextRelevance("budget spreadsheet", "budget meeting"), 1e-9)
	require.Zero(t, contextRelevance("completely different", "budget meeting"))
	require.Zero(t, contextRelevance("anything", ""))
	// Short tokens are noise, not signal.
	require.Zero(t, contextRelevance("a to of", "is an it"))
}

func TestContextRelevanceMatchesLabelsNotContent(t *testing.T) {
	t.Parallel()
	s := newTestScorer()

	// Topic words appearing only in the content do not count; the match
	// surface is tags, category, concept, and keywords.
	contentOnly := episodicAt("ep_1", 0, 0.5, "long chat about the budget meeting", nil)
	score, err := s.Score(contentOnly, Query{ContextText: "budget meeting"})
	require.NoError(t, err)
	require.Zero(t, score.ContextRelevance)

	tagged := episodicAt("ep_2", 0, 0.5, "unrelated words", nil, "budget", "meeting")
	score, err = s.Score(tagged, Query{ContextText: "budget meeting"})
	require.NoError(t, err)
	require.InDelta(t, 1.0, score.ContextRelevance, 1e-9)

	concept := types.ScoredMemory{Semantic: &types.SemanticMemory{
		ID:         "sem_1",
		UserID:     "u1",
		Concept:    "travel planning",
		Category:   "plans",
		Keywords:   []string{"lisbon"},
		Confidence: 0.8,
		UpdatedAt:  testNow,
	}}
	score, err = s.Score(concept, Query{ContextText: "travel plans lisbon"})
	require.NoError(t, err)
	require.InDelta(t, 1.0, score.ContextRelevance, 1e-9)
}

func TestScoreAllOrdersByRelevance(t *testing.T) {
	t.Parallel()
	s := newTestScorer()

	memories := []types.ScoredMemory{
		episodicAt("ep_low", 72*time.Hour, 0.1, "noise", nil),
		episodicAt("ep_high", time.Hour, 0.9, "budget meeting notes", nil, "budget", "meeting"),
		episodicAt("ep_mid", 24*time.Hour, 0.5, "budget follow-up", nil, "budget"),
	}

	scored, err := s.ScoreAll(memories, Query{ContextText: "budget meeting"})
	require.NoError(t, err)
	require.Len(t, scored, 3)
	require.Equal(t, "ep_high", scored[0].ID())
	require.Equal(t, "ep_low", scored[2].ID())
	require.GreaterOrEqual(t, scored[0].Score.Relevance, scored[1].Score.Relevance)
}

func TestSortScoredTieBreaksByTimestamp(t *testing.T) {
	t.Parallel()

	older := episodicAt("ep_older", 2*time.Hour, 0.5, "x", nil)
	older.Score = types.RelevanceScore{MemoryID: "ep_older", Relevance: 0.700}
	newer := episodicAt("ep_newer", time.Hour, 0.5, "x", nil)
	newer.Score = types.RelevanceScore{MemoryID: "ep_newer", Relevance: 0.695}
	distinct := episodicAt("ep_top", 10*time.Hour, 0.5, "x", nil)
	distinct.Score = types.RelevanceScore{MemoryID: "ep_top", Relevance: 0.9}

	memories := []types.ScoredMemory{older, newer, distinct}
	SortScored(memories)

	require.Equal(t, "ep_top", memories[0].ID())
	// 0.700 vs 0.695 is within the tie window: the newer memory wins.
	require.Equal(t, "ep_newer", memories[1].ID())
	require.Equal(t, "ep_older", memories[2].ID())
}
