// Package compress selects the subset of scored memories that fits a token
// budget, summarizing what it evicts. The budget is a hard ceiling: the
// result never exceeds it, under any input.
package compress

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/wsyeabsera/clear-ai-sub003/providers"
	"github.com/wsyeabsera/clear-ai-sub003/scoring"
	"github.com/wsyeabsera/clear-ai-sub003/types"
)

// Config tunes the compressor.
type Config struct {
	// RelevanceFloor excludes memories scoring at or below it even when
	// budget remains. Defaults to 0.5.
	RelevanceFloor float64

	// SummaryTemperature is passed to the completion provider. Low by
	// default: summaries should be faithful, not creative.
	SummaryTemperature float32
}

// Compressor performs budget-constrained selection.
type Compressor struct {
	tokenizer   types.Tokenizer
	completions providers.CompletionProvider
	floor       float64
	temperature float32
	logger      *zap.Logger
}

// NewCompressor creates a compressor. completions may be nil, in which case
// evicted categories fall back to keeping their highest-importance memory
// instead of a generated summary.
func NewCompressor(tokenizer types.Tokenizer, completions providers.CompletionProvider, cfg Config, logger *zap.Logger) *Compressor {
	if logger == nil {
		logger = zap.NewNop()
	}
	if tokenizer == nil {
		tokenizer = types.NewEstimateTokenizer()
	}
	floor := cfg.RelevanceFloor
	if floor <= 0 {
		floor = 0.5
	}
	return &Compressor{
		tokenizer:   tokenizer,
		completions: completions,
		floor:       floor,
		temperature: cfg.SummaryTemperature,
		logger:      logger.With(zap.String("component", "compressor")),
	}
}

// Compress admits memories in relevance order while they fit maxTokens and
// clear the relevance floor, then condenses the budget-evicted remainder
// into per-category summaries within the leftover budget.
func (c *Compressor) Compress(ctx context.Context, scored []types.ScoredMemory, maxTokens int) (types.CompressionResult, error) {
	if maxTokens <= 0 {
		return types.CompressionResult{}, types.NewError(types.ErrInvalidInput, "maxTokens must be positive")
	}
	if len(scored) == 0 {
		return types.CompressionResult{CompressionRatio: 1}, nil
	}

	candidates := append([]types.ScoredMemory(nil), scored...)
	scoring.SortScored(candidates)

	var (
		kept    []types.ScoredMemory
		evicted []types.ScoredMemory // above floor, out of budget
		used    int
	)
	for _, m := range candidates {
		if m.Score.Relevance <= c.floor {
			// At or below the floor: filler never consumes budget, even
			// when space remains.
			continue
		}
		cost := c.tokenizer.CountTokens(m.Content())
		if used+cost <= maxTokens {
			kept = append(kept, m)
			used += cost
			continue
		}
		evicted = append(evicted, m)
	}

	// Pathological case: the single most relevant memory alone exceeds the
	// whole budget. Truncate it rather than returning nothing.
	if len(kept) == 0 && len(evicted) > 0 {
		head := evicted[0]
		truncated, cost := c.truncate(head.Content(), maxTokens)
		if cost > 0 {
			head = replaceContent(head, truncated)
			kept = append(kept, head)
			used = cost
			evicted = evicted[1:]
			c.logger.Warn("oversized memory truncated to fit budget",
				zap.String("memory_id", head.ID()),
				zap.Int("max_tokens", maxTokens))
		}
	}

	summary := c.summarizeEvicted(ctx, evicted, maxTokens-used, &kept, &used)

	keptIDs := make(map[string]bool, len(kept))
	for _, m := range kept {
		keptIDs[m.ID()] = true
	}
	var removed []string
	for _, m := range candidates {
		if !keptIDs[m.ID()] {
			removed = append(removed, m.ID())
		}
	}

	tokensUsed := used
	if summary != "" {
		tokensUsed += c.tokenizer.CountTokens(summary)
	}
	result := types.CompressionResult{
		Kept:             kept,
		Summary:          summary,
		CompressionRatio: float64(len(kept)) / float64(len(candidates)),
		RemovedIDs:       removed,
		TokensUsed:       tokensUsed,
	}

	// The budget is never allowed to fail open. Exceeding it here is a
	// programming error, not a recoverable condition.
	if result.TokensUsed > maxTokens {
		return types.CompressionResult{}, types.Errorf(types.ErrBudgetViolation,
			"compressed context uses %d tokens, budget is %d", result.TokensUsed, maxTokens)
	}
	return result, nil
}

// summarizeEvicted condenses budget-evicted memories per category. A
// category needs at least two evictions to earn a summary; when the summary
// cannot be generated or does not fit, the category's highest-importance
// memory is admitted instead, truncated to whatever budget is left.
func (c *Compressor) summarizeEvicted(ctx context.Context, evicted []types.ScoredMemory, remaining int, kept *[]types.ScoredMemory, used *int) string {
	if len(evicted) == 0 || remaining <= 0 {
		return ""
	}

	groups := make(map[string][]types.ScoredMemory)
	order := make([]string, 0)
	for _, m := range evicted {
		cat := m.Category()
		if _, ok := groups[cat]; !ok {
			order = append(order, cat)
		}
		groups[cat] = append(groups[cat], m)
	}
	sort.Strings(order)

	var summary string
	for _, cat := range order {
		group := groups[cat]
		if len(group) < 2 {
			continue
		}
		leftover := remaining - c.tokenizer.CountTokens(summary)
		if leftover <= 0 {
			break
		}

		text, err := c.summarizeGroup(ctx, cat, group)
		if err == nil {
			// Cost is measured on the joined text, so separators can never
			// push the total past the budget.
			candidate := text
			if summary != "" {
				candidate = summary + "\n" + text
			}
			if c.tokenizer.CountTokens(candidate) <= remaining {
				summary = candidate
				continue
			}
			c.logger.Debug("category summary over leftover budget",
				zap.String("category", cat), zap.Int("remaining", leftover))
		} else {
			c.logger.Warn("category summary failed",
				zap.String("category", cat), zap.Error(err))
		}

		// Fallback: admit the single highest-importance memory of the
		// category, cut down to the leftover budget.
		best := group[0]
		for _, m := range group[1:] {
			if m.Importance() > best.Importance() {
				best = m
			}
		}
		truncated, cost := c.truncate(best.Content(), leftover)
		if cost > 0 {
			*kept = append(*kept, replaceContent(best, truncated))
			*used += cost
			remaining -= cost
		}
	}
	return summary
}

func (c *Compressor) summarizeGroup(ctx context.Context, category string, group []types.ScoredMemory) (string, error) {
	if c.completions == nil {
		return "", types.NewError(types.ErrCompletionFailure, "no completion provider configured")
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Condense the following %q notes into one short factual sentence. Keep concrete details, drop filler.\n\n", category)
	for _, m := range group {
		fmt.Fprintf(&sb, "- %s\n", m.Content())
	}

	out, err := c.completions.Complete(ctx, sb.String(), providers.CompleteOptions{
		Temperature: c.temperature,
		MaxTokens:   256,
	})
	if err != nil {
		return "", err
	}
	out = strings.TrimSpace(out)
	if out == "" {
		return "", types.NewError(types.ErrCompletionFailure, "empty summary")
	}
	return "[" + category + "] " + out, nil
}

// truncate returns the longest prefix of text whose token cost fits budget,
// found by binary search on byte length (cut at a rune boundary).
func (c *Compressor) truncate(text string, budget int) (string, int) {
	if budget <= 0 {
		return "", 0
	}
	if cost := c.tokenizer.CountTokens(text); cost <= budget {
		return text, cost
	}

	lo, hi := 0, len(text)
	for lo < hi {
		mid := (lo + hi + 1) / 2
		if c.tokenizer.CountTokens(text[:runeBoundary(text, mid)]) <= budget {
			lo = mid
		} else {
			hi = mid - 1
		}
	}
	cut := text[:runeBoundary(text, lo)]
	return cut, c.tokenizer.CountTokens(cut)
}

// runeBoundary rounds n down to the nearest rune start in s.
func runeBoundary(s string, n int) int {
	if n >= len(s) {
		return len(s)
	}
	for n > 0 && s[n]&0xC0 == 0x80 {
		n--
	}
	return n
}

// replaceContent swaps the visible content of a memory without mutating the
// caller's record.
func replaceContent(m types.ScoredMemory, content string) types.ScoredMemory {
	if m.Episodic != nil {
		clone := m.Episodic.Clone()
		clone.Content = content
		m.Episodic = clone
	} else if m.Semantic != nil {
		clone := m.Semantic.Clone()
		clone.Concept = content
		clone.Description = ""
		m.Semantic = clone
	}
	return m
}
