// Package extract distills episodic memories into semantic concepts. It
// runs off the request path: extraction is additive and idempotent, so it
// may freely race with context assembly over the same episodic records.
package extract

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/wsyeabsera/clear-ai-sub003/episodic"
	"github.com/wsyeabsera/clear-ai-sub003/internal/metrics"
	"github.com/wsyeabsera/clear-ai-sub003/providers"
	"github.com/wsyeabsera/clear-ai-sub003/semantic"
	"github.com/wsyeabsera/clear-ai-sub003/types"
)

// Embedder is the slice of the embedding client the extractor needs.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Config tunes extraction.
type Config struct {
	// BatchSize is how many un-extracted episodic memories one
	// ExtractBatch call processes. Defaults to 5.
	BatchSize int

	// MaxConceptsPerMemory caps proposals per episodic memory. Defaults
	// to 3.
	MaxConceptsPerMemory int

	// MinConfidence discards proposals below it. Defaults to 0.7.
	MinConfidence float64

	// Temperature for the completion provider.
	Temperature float32
}

func (c Config) withDefaults() Config {
	if c.BatchSize <= 0 {
		c.BatchSize = 5
	}
	if c.MaxConceptsPerMemory <= 0 {
		c.MaxConceptsPerMemory = 3
	}
	if c.MinConfidence <= 0 {
		c.MinConfidence = 0.7
	}
	return c
}

// Stats summarizes one extraction run.
type Stats struct {
	Scanned       int `json:"scanned"`
	Created       int `json:"created"`
	Merged        int `json:"merged"`
	Discarded     int `json:"discarded"`
	ParseFailures int `json:"parse_failures"`
}

// Extractor turns batches of episodic memories into semantic concepts via
// the completion provider.
type Extractor struct {
	episodic    episodic.Store
	semantic    semantic.Store
	embedder    Embedder
	completions providers.CompletionProvider
	cfg         Config
	metrics     *metrics.Collector
	logger      *zap.Logger
}

// New creates an extractor. collector may be nil.
func New(epStore episodic.Store, semStore semantic.Store, embedder Embedder, completions providers.CompletionProvider, cfg Config, collector *metrics.Collector, logger *zap.Logger) *Extractor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Extractor{
		episodic:    epStore,
		semantic:    semStore,
		embedder:    embedder,
		completions: completions,
		cfg:         cfg.withDefaults(),
		metrics:     collector,
		logger:      logger.With(zap.String("component", "extractor")),
	}
}

// conceptProposal is the shape the completion provider is asked for. Model
// output is untrusted text: everything is validated after parsing.
type conceptProposal struct {
	Concept     string   `json:"concept"`
	Description string   `json:"description"`
	Category    string   `json:"category"`
	Confidence  float64  `json:"confidence"`
	Keywords    []string `json:"keywords"`
}

// ExtractBatch processes up to BatchSize of the user's episodic memories
// that no semantic concept references yet. sessionID narrows the scan to
// one session; empty scans the whole user. Running it twice over an
// unchanged episodic set creates nothing new.
func (e *Extractor) ExtractBatch(ctx context.Context, userID, sessionID string) ([]*types.SemanticMemory, Stats, error) {
	var stats Stats
	if userID == "" {
		return nil, stats, types.NewError(types.ErrInvalidInput, "user_id is required")
	}

	batch, err := e.unextracted(ctx, userID, sessionID)
	if err != nil {
		return nil, stats, err
	}
	stats.Scanned = len(batch)
	if len(batch) == 0 {
		return nil, stats, nil
	}

	var created []*types.SemanticMemory
	for _, mem := range batch {
		if err := ctx.Err(); err != nil {
			return created, stats, err
		}

		proposals, err := e.propose(ctx, mem)
		if err != nil {
			// Malformed output is local: skip the memory, never retry
			// forever, never fail the batch.
			stats.ParseFailures++
			e.observe("parse_failure")
			e.logger.Warn("extraction output discarded",
				zap.String("memory_id", mem.ID),
				zap.Error(err))
			continue
		}

		for _, p := range proposals {
			p.Confidence = types.Clamp01(p.Confidence)
			if p.Concept == "" || p.Description == "" {
				stats.Discarded++
				e.observe("invalid")
				continue
			}
			if p.Confidence < e.cfg.MinConfidence {
				stats.Discarded++
				e.observe("low_confidence")
				continue
			}

			sem, fresh, err := e.upsertConcept(ctx, userID, mem.ID, p)
			if err != nil {
				e.logger.Warn("concept store failed",
					zap.String("concept", p.Concept),
					zap.Error(err))
				continue
			}
			if fresh {
				stats.Created++
				e.observe("created")
				created = append(created, sem)
			} else {
				stats.Merged++
				e.observe("merged")
			}
		}
	}

	e.logger.Info("extraction batch finished",
		zap.String("user_id", userID),
		zap.Int("scanned", stats.Scanned),
		zap.Int("created", stats.Created),
		zap.Int("merged", stats.Merged),
		zap.Int("discarded", stats.Discarded),
		zap.Int("parse_failures", stats.ParseFailures))
	return created, stats, nil
}

// unextracted returns the oldest episodic memories of the user that no
// semantic memory references, capped at the batch size.
func (e *Extractor) unextracted(ctx context.Context, userID, sessionID string) ([]*types.EpisodicMemory, error) {
	concepts, err := e.semantic.ListByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	referenced := make(map[string]bool)
	for _, c := range concepts {
		for _, src := range c.SourceEpisodicIDs {
			referenced[src] = true
		}
	}

	var all []*types.EpisodicMemory
	if sessionID != "" {
		all, err = e.episodic.Recent(ctx, userID, sessionID, 0)
	} else {
		all, err = e.episodic.Search(ctx, userID, episodic.Filter{}, 0)
	}
	if err != nil {
		return nil, err
	}

	// Oldest first: concepts should stabilize in the order the user
	// produced them.
	sort.Slice(all, func(i, j int) bool { return all[i].Timestamp.Before(all[j].Timestamp) })

	batch := make([]*types.EpisodicMemory, 0, e.cfg.BatchSize)
	for _, m := range all {
		if referenced[m.ID] {
			continue
		}
		batch = append(batch, m)
		if len(batch) >= e.cfg.BatchSize {
			break
		}
	}
	return batch, nil
}

// propose asks the completion provider for concepts and strictly parses the
// answer.
func (e *Extractor) propose(ctx context.Context, mem *types.EpisodicMemory) ([]conceptProposal, error) {
	prompt := fmt.Sprintf(`Distill up to %d durable concepts from this conversation memory. Reply with a JSON array only, no prose. Each element: {"concept": string, "description": string, "category": string, "confidence": number 0..1, "keywords": [string]}. Reply [] if nothing is worth keeping.

Memory: %s`, e.cfg.MaxConceptsPerMemory, mem.Content)

	out, err := e.completions.Complete(ctx, prompt, providers.CompleteOptions{
		Temperature: e.cfg.Temperature,
		MaxTokens:   512,
	})
	if err != nil {
		return nil, types.NewError(types.ErrCompletionFailure, "concept proposal").WithCause(err)
	}

	var proposals []conceptProposal
	if err := json.Unmarshal([]byte(stripFences(out)), &proposals); err != nil {
		return nil, types.NewError(types.ErrExtractionParse, "unparsable concept proposal").WithCause(err)
	}
	if len(proposals) > e.cfg.MaxConceptsPerMemory {
		proposals = proposals[:e.cfg.MaxConceptsPerMemory]
	}
	return proposals, nil
}

// upsertConcept stores a proposal, merging into an existing concept of the
// same name instead of duplicating it. The bool result reports whether a
// new concept was created.
func (e *Extractor) upsertConcept(ctx context.Context, userID, sourceID string, p conceptProposal) (*types.SemanticMemory, bool, error) {
	existing, err := e.semantic.FindByConcept(ctx, userID, p.Concept)
	switch {
	case err == nil:
		conf := p.Confidence
		if existing.Confidence > conf {
			conf = existing.Confidence
		}
		merged, err := e.semantic.Update(ctx, userID, existing.ID, semantic.Patch{
			Confidence:   &conf,
			Keywords:     mergeKeywords(existing.Keywords, p.Keywords),
			AddSourceIDs: []string{sourceID},
		})
		if err != nil {
			return nil, false, err
		}
		return merged, false, nil

	case types.IsNotFound(err):
		vec, err := e.embedder.Embed(ctx, p.Concept+": "+p.Description)
		if err != nil {
			return nil, false, err
		}
		sem := &types.SemanticMemory{
			UserID:            userID,
			Concept:           p.Concept,
			Description:       p.Description,
			Embedding:         vec,
			Confidence:        p.Confidence,
			Category:          p.Category,
			Keywords:          p.Keywords,
			SourceEpisodicIDs: []string{sourceID},
		}
		id, err := e.semantic.Upsert(ctx, sem)
		if err != nil {
			return nil, false, err
		}
		sem.ID = id
		return sem, true, nil

	default:
		return nil, false, err
	}
}

func (e *Extractor) observe(outcome string) {
	if e.metrics != nil {
		e.metrics.ExtractionConcept(outcome)
	}
}

// stripFences removes a markdown code fence around a JSON payload, a common
// completion-provider tic.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

func mergeKeywords(a, b []string) []string {
	out := append([]string(nil), a...)
	seen := make(map[string]bool, len(a))
	for _, k := range a {
		seen[k] = true
	}
	for _, k := range b {
		if !seen[k] {
			seen[k] = true
			out = append(out, k)
		}
	}
	return out
}
