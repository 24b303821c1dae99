package semantic

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	chromem "github.com/philippgille/chromem-go"
	"go.uber.org/zap"

	"github.com/wsyeabsera/clear-ai-sub003/types"
)

// ChromemStoreConfig configures the chromem-backed semantic store.
type ChromemStoreConfig struct {
	Dimensions int
	Now        func() time.Time
}

// ChromemStore keeps authoritative semantic records in the in-memory store
// and maintains a per-user chromem-go collection as the similarity index.
// chromem is embedded and pure Go, so the backend needs no external vector
// database process.
type ChromemStore struct {
	base *MemoryStore
	db   *chromem.DB

	mu          sync.Mutex
	collections map[string]*chromem.Collection

	logger *zap.Logger
}

// NewChromemStore creates a chromem-indexed semantic store.
func NewChromemStore(cfg ChromemStoreConfig, logger *zap.Logger) *ChromemStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ChromemStore{
		base:        NewMemoryStore(MemoryStoreConfig{Dimensions: cfg.Dimensions, Now: cfg.Now}, logger),
		db:          chromem.NewDB(),
		collections: make(map[string]*chromem.Collection),
		logger:      logger.With(zap.String("component", "semantic_store_chromem")),
	}
}

// collection returns the user's chromem collection, creating it lazily.
// Per-user collections give namespace isolation at the index level on top
// of the record-level ownership checks.
func (s *ChromemStore) collection(userID string) (*chromem.Collection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if col, ok := s.collections[userID]; ok {
		return col, nil
	}
	col, err := s.db.GetOrCreateCollection("user_"+userID, nil, nil)
	if err != nil {
		return nil, types.NewError(types.ErrStoreUnavailable, "create chromem collection").WithCause(err)
	}
	s.collections[userID] = col
	return col, nil
}

func (s *ChromemStore) indexDocument(ctx context.Context, m *types.SemanticMemory) error {
	col, err := s.collection(m.UserID)
	if err != nil {
		return err
	}
	content := m.Concept
	if m.Description != "" {
		content += ": " + m.Description
	}
	doc := chromem.Document{
		ID:        m.ID,
		Content:   content,
		Embedding: m.Embedding,
		Metadata:  map[string]string{"category": m.Category},
	}
	if err := col.AddDocument(ctx, doc); err != nil {
		return types.NewError(types.ErrStoreUnavailable, "index semantic memory").WithCause(err)
	}
	return nil
}

// Upsert implements Store.
func (s *ChromemStore) Upsert(ctx context.Context, m *types.SemanticMemory) (string, error) {
	id, err := s.base.Upsert(ctx, m)
	if err != nil {
		return "", err
	}
	stored, err := s.base.Get(ctx, m.UserID, id)
	if err != nil {
		return "", err
	}
	if err := s.indexDocument(ctx, stored); err != nil {
		return "", err
	}
	return id, nil
}

// Get implements Store.
func (s *ChromemStore) Get(ctx context.Context, userID, id string) (*types.SemanticMemory, error) {
	return s.base.Get(ctx, userID, id)
}

// FindByConcept implements Store.
func (s *ChromemStore) FindByConcept(ctx context.Context, userID, concept string) (*types.SemanticMemory, error) {
	return s.base.FindByConcept(ctx, userID, concept)
}

// Query implements Store.
func (s *ChromemStore) Query(ctx context.Context, userID string, embedding []float32, opts QueryOptions) ([]Match, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(embedding) == 0 {
		return nil, types.NewError(types.ErrInvalidInput, "query embedding is required")
	}
	if s.base.dims > 0 && len(embedding) != s.base.dims {
		return nil, types.Errorf(types.ErrDimensionMismatch,
			"query embedding has %d dimensions, store expects %d", len(embedding), s.base.dims)
	}

	col, err := s.collection(userID)
	if err != nil {
		return nil, err
	}
	count := col.Count()
	if count == 0 {
		return nil, nil
	}

	var where map[string]string
	if opts.Category != "" {
		where = map[string]string{"category": opts.Category}
	}

	// chromem rejects nResults larger than the candidate set, and the
	// post-filter candidate count is not observable up front. Walk the
	// limit down until the query is accepted.
	var results []chromem.Result
	for n := count; n >= 1; n-- {
		results, err = col.QueryEmbedding(ctx, embedding, n, where, nil)
		if err == nil {
			break
		}
		msg := err.Error()
		if strings.Contains(msg, "no documents") || strings.Contains(msg, "empty") {
			return nil, nil
		}
		if strings.Contains(msg, "nResults") {
			if n == 1 {
				return nil, nil
			}
			continue
		}
		return nil, types.NewError(types.ErrStoreUnavailable, "chromem query").WithCause(err)
	}

	matches := make([]Match, 0, len(results))
	for _, res := range results {
		sim := float64(res.Similarity)
		if sim < opts.Threshold {
			continue
		}
		m, err := s.base.Get(ctx, userID, res.ID)
		if err != nil {
			// Index and record store drifted; skip the orphan.
			s.logger.Warn("chromem result has no backing record",
				zap.String("id", res.ID), zap.Error(err))
			continue
		}
		// Keyword and confidence filters live on the backing record, not
		// the index.
		if !opts.matchesFilter(m) {
			continue
		}
		matches = append(matches, Match{Memory: m, Similarity: sim})
	}

	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Similarity != matches[j].Similarity {
			return matches[i].Similarity > matches[j].Similarity
		}
		return matches[i].Memory.ID < matches[j].Memory.ID
	})
	if opts.TopK > 0 && len(matches) > opts.TopK {
		matches = matches[:opts.TopK]
	}
	return matches, nil
}

// Update implements Store. Patches that change the embedding or text are
// re-indexed.
func (s *ChromemStore) Update(ctx context.Context, userID, id string, patch Patch) (*types.SemanticMemory, error) {
	updated, err := s.base.Update(ctx, userID, id, patch)
	if err != nil {
		return nil, err
	}
	if patch.Embedding != nil || patch.Description != nil || patch.Category != nil {
		if err := s.indexDocument(ctx, updated); err != nil {
			return nil, err
		}
	}
	return updated, nil
}

// TouchAccess implements Store.
func (s *ChromemStore) TouchAccess(ctx context.Context, userID, id string) error {
	return s.base.TouchAccess(ctx, userID, id)
}

// Link implements Store.
func (s *ChromemStore) Link(ctx context.Context, userID, id, otherID string, kind RelationKind) error {
	return s.base.Link(ctx, userID, id, otherID, kind)
}

// ListByUser implements Store.
func (s *ChromemStore) ListByUser(ctx context.Context, userID string) ([]*types.SemanticMemory, error) {
	return s.base.ListByUser(ctx, userID)
}

// Delete implements Store.
func (s *ChromemStore) Delete(ctx context.Context, userID, id string) error {
	if err := s.base.Delete(ctx, userID, id); err != nil {
		return err
	}
	col, err := s.collection(userID)
	if err != nil {
		return err
	}
	if err := col.Delete(ctx, nil, nil, id); err != nil {
		return types.NewError(types.ErrStoreUnavailable, "deindex semantic memory").WithCause(err)
	}
	return nil
}

// DeleteUser implements Store.
func (s *ChromemStore) DeleteUser(ctx context.Context, userID string) error {
	if err := s.base.DeleteUser(ctx, userID); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.collections[userID]; ok {
		if err := s.db.DeleteCollection("user_" + userID); err != nil {
			return types.NewError(types.ErrStoreUnavailable, "drop chromem collection").WithCause(err)
		}
		delete(s.collections, userID)
	}
	return nil
}
