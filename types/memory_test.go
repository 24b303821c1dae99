package types

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestEpisodicMemory_Clone(t *testing.T) {
	t.Parallel()

	orig := &EpisodicMemory{
		ID:        "ep_1",
		UserID:    "u1",
		SessionID: "s1",
		Content:   "hello",
		Tags:      []string{"greeting"},
		Embedding: []float32{0.1, 0.2},
		Relationships: Relationships{
			Previous: "ep_0",
			Related:  []string{"ep_9"},
		},
		Metadata: map[string]any{"k": "v"},
	}

	c := orig.Clone()
	c.Tags[0] = "changed"
	c.Embedding[0] = 9
	c.Relationships.Related[0] = "other"
	c.Metadata["k"] = "w"

	require.Equal(t, "greeting", orig.Tags[0])
	require.Equal(t, float32(0.1), orig.Embedding[0])
	require.Equal(t, "ep_9", orig.Relationships.Related[0])
	require.Equal(t, "v", orig.Metadata["k"])
}

func TestScoredMemory_Accessors(t *testing.T) {
	t.Parallel()

	ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	ep := ScoredMemory{Episodic: &EpisodicMemory{
		ID: "ep_1", Content: "went hiking", Importance: 0.8,
		Tags: []string{"outdoors", "exercise"}, Timestamp: ts,
	}}
	require.Equal(t, "ep_1", ep.ID())
	require.Equal(t, "went hiking", ep.Content())
	require.Equal(t, "outdoors", ep.Category())
	require.Equal(t, 0.8, ep.Importance())
	require.Equal(t, ts, ep.Timestamp())

	sem := ScoredMemory{Semantic: &SemanticMemory{
		ID: "sm_1", Concept: "likes hiking", Description: "prefers outdoor trips",
		Confidence: 0.9, Category: "preference", UpdatedAt: ts,
	}}
	require.Equal(t, "sm_1", sem.ID())
	require.Equal(t, "likes hiking: prefers outdoor trips", sem.Content())
	require.Equal(t, "preference", sem.Category())
	require.Equal(t, 0.9, sem.Importance())

	require.Equal(t, "general", ScoredMemory{Episodic: &EpisodicMemory{ID: "x"}}.Category())
	require.Equal(t, "", ScoredMemory{}.ID())
}

func TestGoal_Active(t *testing.T) {
	t.Parallel()

	require.True(t, Goal{Status: GoalPending}.Active())
	require.True(t, Goal{Status: GoalInProgress}.Active())
	require.False(t, Goal{Status: GoalCompleted}.Active())
	require.False(t, Goal{Status: GoalCancelled}.Active())
}

func TestClamp01(t *testing.T) {
	t.Parallel()

	require.Equal(t, 0.0, Clamp01(-0.5))
	require.Equal(t, 1.0, Clamp01(1.5))
	require.Equal(t, 0.42, Clamp01(0.42))
}

func TestEstimateTokenizer(t *testing.T) {
	t.Parallel()

	tok := NewEstimateTokenizer()
	require.Equal(t, 0, tok.CountTokens(""))
	require.Equal(t, 1, tok.CountTokens("hi"))
	// 40 ASCII chars ≈ 10 tokens.
	require.Equal(t, 10, tok.CountTokens(strings.Repeat("a", 40)))
	// Fractions round up, never down.
	require.Equal(t, 11, tok.CountTokens(strings.Repeat("a", 41)))
	require.Equal(t, 2, tok.CountTokens("你你你")) // 3 CJK chars / 1.5
}
