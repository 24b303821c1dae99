package compress

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/wsyeabsera/clear-ai-sub003/providers"
	"github.com/wsyeabsera/clear-ai-sub003/types"
)

// wordTokenizer costs one token per whitespace-separated word, which makes
// budget arithmetic exact in tests.
type wordTokenizer struct{}

func (wordTokenizer) CountTokens(text string) int {
	return len(strings.Fields(text))
}

type fakeCompletion struct {
	out string
	err error
}

func (f *fakeCompletion) Complete(_ context.Context, _ string, _ providers.CompleteOptions) (string, error) {
	return f.out, f.err
}

func words(n int) string {
	parts := make([]string, n)
	for i := range parts {
		parts[i] = "w"
	}
	return strings.Join(parts, " ")
}

func scoredAt(id string, relevance, importance float64, content, category string) types.ScoredMemory {
	return types.ScoredMemory{
		Episodic: &types.EpisodicMemory{
			ID:         id,
			UserID:     "u1",
			SessionID:  "sess-1",
			Timestamp:  time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
			Content:    content,
			Importance: importance,
			Tags:       []string{category},
		},
		Score: types.RelevanceScore{MemoryID: id, Relevance: relevance},
	}
}

func TestCompressGreedyAdmissionWithFloor(t *testing.T) {
	t.Parallel()

	c := NewCompressor(wordTokenizer{}, &fakeCompletion{out: "condensed work notes"}, Config{}, nil)

	// Five candidates of 40 tokens each against a 100-token budget. The top
	// two fit; two more are evicted on budget; the 0.5 memory sits at the
	// floor, not above it, and is excluded outright.
	memories := []types.ScoredMemory{
		scoredAt("m1", 0.9, 0.5, words(40), "work"),
		scoredAt("m2", 0.8, 0.5, words(40), "work"),
		scoredAt("m3", 0.7, 0.5, words(40), "travel"),
		scoredAt("m4", 0.6, 0.5, words(40), "travel"),
		scoredAt("m5", 0.5, 0.5, words(40), "travel"),
	}

	result, err := c.Compress(context.Background(), memories, 100)
	require.NoError(t, err)

	require.Len(t, result.Kept, 2)
	require.Equal(t, "m1", result.Kept[0].ID())
	require.Equal(t, "m2", result.Kept[1].ID())
	require.ElementsMatch(t, []string{"m3", "m4", "m5"}, result.RemovedIDs)

	// m3+m4 share a category and collapse into one summary in the leftover
	// 20 tokens.
	require.Contains(t, result.Summary, "travel")
	require.LessOrEqual(t, result.TokensUsed, 100)
	require.InDelta(t, 0.4, result.CompressionRatio, 1e-9)
}

func TestCompressEmptyAndInvalidInput(t *testing.T) {
	t.Parallel()

	c := NewCompressor(wordTokenizer{}, nil, Config{}, nil)

	result, err := c.Compress(context.Background(), nil, 100)
	require.NoError(t, err)
	require.Empty(t, result.Kept)
	require.Equal(t, 1.0, result.CompressionRatio)

	_, err = c.Compress(context.Background(), []types.ScoredMemory{scoredAt("m1", 0.9, 0.5, "x", "c")}, 0)
	require.Equal(t, types.ErrInvalidInput, types.GetErrorCode(err))
}

func TestCompressOversizedSingleMemory(t *testing.T) {
	t.Parallel()

	c := NewCompressor(wordTokenizer{}, nil, Config{}, nil)

	// One memory larger than the entire budget: it is truncated before
	// admission rather than failing or blowing the budget.
	m := scoredAt("m1", 0.9, 0.9, words(50), "notes")
	result, err := c.Compress(context.Background(), []types.ScoredMemory{m}, 10)
	require.NoError(t, err)

	require.Len(t, result.Kept, 1)
	require.LessOrEqual(t, result.TokensUsed, 10)
	require.Less(t, len(result.Kept[0].Content()), len(m.Content()))
	// The caller's record is untouched.
	require.Equal(t, words(50), m.Content())
}

func TestCompressSummaryFailureFallsBackToImportance(t *testing.T) {
	t.Parallel()

	c := NewCompressor(wordTokenizer{}, &fakeCompletion{err: types.NewError(types.ErrCompletionFailure, "down")}, Config{}, nil)

	memories := []types.ScoredMemory{
		scoredAt("m1", 0.9, 0.5, words(40), "work"),
		scoredAt("m2", 0.8, 0.3, words(20), "travel"),
		scoredAt("m3", 0.7, 0.9, words(20), "travel"),
	}

	// Budget 45: m1 fits (40 tokens); m2 and m3 are both evicted. The
	// summary provider is down, so the highest-importance travel memory
	// (m3) takes its place, truncated to the five leftover tokens.
	result, err := c.Compress(context.Background(), memories, 45)
	require.NoError(t, err)

	keptIDs := make([]string, 0, len(result.Kept))
	for _, m := range result.Kept {
		keptIDs = append(keptIDs, m.ID())
	}
	require.Contains(t, keptIDs, "m1")
	require.Contains(t, keptIDs, "m3")
	require.NotContains(t, keptIDs, "m2")
	require.Empty(t, result.Summary)
	require.LessOrEqual(t, result.TokensUsed, 45)

	// The admitted fallback is a truncation, not the full record.
	for _, m := range result.Kept {
		if m.ID() == "m3" {
			require.Less(t, len(m.Content()), len(words(20)))
		}
	}
}

func TestCompressOverlongSummaryIsRejected(t *testing.T) {
	t.Parallel()

	// The provider returns a summary longer than the leftover budget; the
	// compressor must not admit it.
	c := NewCompressor(wordTokenizer{}, &fakeCompletion{out: words(50)}, Config{}, nil)

	memories := []types.ScoredMemory{
		scoredAt("m1", 0.9, 0.5, words(40), "work"),
		scoredAt("m2", 0.8, 0.2, words(30), "travel"),
		scoredAt("m3", 0.7, 0.4, words(30), "travel"),
	}

	result, err := c.Compress(context.Background(), memories, 50)
	require.NoError(t, err)
	require.Empty(t, result.Summary)
	require.LessOrEqual(t, result.TokensUsed, 50)
}

func TestCompressBudgetInvariant(t *testing.T) {
	t.Parallel()

	// Property: for any candidate set and any positive budget, the result
	// never exceeds the budget.
	rapid.Check(t, func(t *rapid.T) {
		budget := rapid.IntRange(1, 200).Draw(t, "budget")
		n := rapid.IntRange(0, 12).Draw(t, "memories")

		memories := make([]types.ScoredMemory, 0, n)
		for i := 0; i < n; i++ {
			memories = append(memories, scoredAt(
				"m"+strings.Repeat("x", i+1),
				rapid.Float64Range(0, 1).Draw(t, "relevance"),
				rapid.Float64Range(0, 1).Draw(t, "importance"),
				words(rapid.IntRange(0, 80).Draw(t, "size")),
				rapid.SampledFrom([]string{"work", "travel", "food"}).Draw(t, "category"),
			))
		}

		c := NewCompressor(wordTokenizer{}, &fakeCompletion{out: words(rapid.IntRange(0, 60).Draw(t, "summaryLen"))}, Config{}, nil)
		result, err := c.Compress(context.Background(), memories, budget)
		require.NoError(t, err)
		require.LessOrEqual(t, result.TokensUsed, budget)
	})
}

func TestTruncateRuneSafety(t *testing.T) {
	t.Parallel()

	c := NewCompressor(types.NewEstimateTokenizer(), nil, Config{}, nil)

	// Multi-byte content must be cut at rune boundaries.
	text := strings.Repeat("记忆系统", 100)
	cut, cost := c.truncate(text, 20)
	require.LessOrEqual(t, cost, 20)
	require.True(t, strings.HasPrefix(text, cut))
	for _, r := range cut {
		require.NotEqual(t, '�', r)
	}
}

func TestNewTokenizerFallsBack(t *testing.T) {
	t.Parallel()

	tok := NewTokenizer("definitely-not-a-model", nil)
	require.NotNil(t, tok)
	require.Positive(t, tok.CountTokens("hello world"))
}
