// Package scoring computes per-request relevance for candidate memories.
// Scores are derived state: recomputed every request, never persisted.
package scoring

import (
	"math"
	"sort"
	"strings"
	"time"
	"unicode"

	"go.uber.org/zap"

	"github.com/wsyeabsera/clear-ai-sub003/semantic"
	"github.com/wsyeabsera/clear-ai-sub003/types"
)

// Component weights. Semantic similarity dominates; when a memory carries
// no embedding, its weight is redistributed across the remaining
// components instead of silently scoring zero.
const (
	weightSemantic   = 0.4
	weightRecency    = 0.2
	weightImportance = 0.2
	weightContext    = 0.2
)

// tieEpsilon is the relevance distance under which two memories count as
// tied and fall back to recency ordering.
const tieEpsilon = 0.01

// ScorerConfig configures a Scorer.
type ScorerConfig struct {
	// RecencyHalfLife is the time constant of the recency decay
	// exp(-age/halfLife). Defaults to 24h.
	RecencyHalfLife time.Duration

	// Now overrides the clock for tests.
	Now func() time.Time
}

// Query carries the request-side inputs to scoring.
type Query struct {
	// Embedding is the current query's embedding. May be empty, in which
	// case no memory receives a semantic component.
	Embedding []float32

	// ContextText is the current topic plus recent conversation text,
	// matched against memory content term-by-term.
	ContextText string
}

// Scorer computes relevance scores.
type Scorer struct {
	halfLife time.Duration
	now      func() time.Time
	logger   *zap.Logger
}

// NewScorer creates a scorer.
func NewScorer(cfg ScorerConfig, logger *zap.Logger) *Scorer {
	if logger == nil {
		logger = zap.NewNop()
	}
	halfLife := cfg.RecencyHalfLife
	if halfLife <= 0 {
		halfLife = 24 * time.Hour
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Scorer{
		halfLife: halfLife,
		now:      now,
		logger:   logger.With(zap.String("component", "scorer")),
	}
}

// Score computes the weighted relevance of one memory against the query.
func (s *Scorer) Score(m types.ScoredMemory, q Query) (types.RelevanceScore, error) {
	score := types.RelevanceScore{
		MemoryID:         m.ID(),
		Recency:          s.recency(m.Timestamp()),
		Importance:       types.Clamp01(m.Importance()),
		ContextRelevance: contextRelevance(labelText(m), q.ContextText),
	}

	embedding := memoryEmbedding(m)
	hasSemantic := len(embedding) > 0 && len(q.Embedding) > 0
	if hasSemantic {
		sim, err := semantic.CosineSimilarity(q.Embedding, embedding)
		if err != nil {
			return types.RelevanceScore{}, err
		}
		score.Semantic = types.Clamp01(sim)
	}

	wSem, wRec, wImp, wCtx := weights(hasSemantic)
	score.Relevance = types.Clamp01(
		wSem*score.Semantic +
			wRec*score.Recency +
			wImp*score.Importance +
			wCtx*score.ContextRelevance)
	return score, nil
}

// ScoreAll scores a batch and returns it sorted by relevance descending.
func (s *Scorer) ScoreAll(memories []types.ScoredMemory, q Query) ([]types.ScoredMemory, error) {
	out := make([]types.ScoredMemory, 0, len(memories))
	for _, m := range memories {
		score, err := s.Score(m, q)
		if err != nil {
			return nil, err
		}
		m.Score = score
		out = append(out, m)
	}
	SortScored(out)
	return out, nil
}

// weights returns the component weights, renormalized when the semantic
// component is unavailable.
func weights(hasSemantic bool) (sem, rec, imp, ctx float64) {
	if hasSemantic {
		return weightSemantic, weightRecency, weightImportance, weightContext
	}
	rest := weightRecency + weightImportance + weightContext
	return 0, weightRecency / rest, weightImportance / rest, weightContext / rest
}

// recency decays as exp(-age/halfLife): 1.0 now, ~0.37 at one half-life,
// ~0.14 at two. Future timestamps clamp to 1.
func (s *Scorer) recency(ts time.Time) float64 {
	if ts.IsZero() {
		return 0
	}
	age := s.now().Sub(ts)
	if age <= 0 {
		return 1
	}
	return math.Exp(-age.Hours() / s.halfLife.Hours())
}

// labelText gathers the memory's topical labels: tags for episodic turns,
// concept name plus category and keywords for semantic concepts.
func labelText(m types.ScoredMemory) string {
	var parts []string
	if m.Episodic != nil {
		parts = append(parts, m.Episodic.Tags...)
	}
	if m.Semantic != nil {
		parts = append(parts, m.Semantic.Concept, m.Semantic.Category)
		parts = append(parts, m.Semantic.Keywords...)
	}
	return strings.Join(parts, " ")
}

// contextRelevance is the fraction of context terms present in the
// memory's labels. No embeddings are involved, keeping it cheap on the
// hot path.
func contextRelevance(labels, contextText string) float64 {
	ctxTerms := terms(contextText)
	if len(ctxTerms) == 0 {
		return 0
	}
	memTerms := terms(labels)
	if len(memTerms) == 0 {
		return 0
	}
	have := make(map[string]bool, len(memTerms))
	for _, term := range memTerms {
		have[term] = true
	}
	hit := 0
	for _, term := range ctxTerms {
		if have[term] {
			hit++
		}
	}
	return float64(hit) / float64(len(ctxTerms))
}

// terms lowercases and splits text into deduplicated word tokens, dropping
// one- and two-letter noise.
func terms(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
	seen := make(map[string]bool, len(fields))
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if len([]rune(f)) < 3 || seen[f] {
			continue
		}
		seen[f] = true
		out = append(out, f)
	}
	return out
}

func memoryEmbedding(m types.ScoredMemory) []float32 {
	if m.Episodic != nil {
		return m.Episodic.Embedding
	}
	if m.Semantic != nil {
		return m.Semantic.Embedding
	}
	return nil
}

// SortScored orders memories by relevance descending. Scores within
// tieEpsilon of each other count as tied and order by timestamp, newest
// first.
func SortScored(memories []types.ScoredMemory) {
	sort.SliceStable(memories, func(i, j int) bool {
		a, b := memories[i], memories[j]
		if math.Abs(a.Score.Relevance-b.Score.Relevance) < tieEpsilon {
			return a.Timestamp().After(b.Timestamp())
		}
		return a.Score.Relevance > b.Score.Relevance
	})
}
