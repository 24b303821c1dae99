package semantic

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/wsyeabsera/clear-ai-sub003/types"
)

// MemoryStoreConfig configures the in-memory semantic store.
type MemoryStoreConfig struct {
	// Dimensions is the expected embedding width. Zero disables the check
	// at write time; queries still require matching lengths.
	Dimensions int

	// Now overrides the clock for tests.
	Now func() time.Time
}

// MemoryStore is the in-memory semantic backend: records by ID plus a
// per-user concept-name index, queried by exhaustive cosine scan.
type MemoryStore struct {
	mu        sync.RWMutex
	items     map[string]*types.SemanticMemory
	byConcept map[string]string // userID \x00 concept -> id

	dims   int
	now    func() time.Time
	logger *zap.Logger
}

// NewMemoryStore creates an in-memory semantic store.
func NewMemoryStore(cfg MemoryStoreConfig, logger *zap.Logger) *MemoryStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &MemoryStore{
		items:     make(map[string]*types.SemanticMemory),
		byConcept: make(map[string]string),
		dims:      cfg.Dimensions,
		now:       now,
		logger:    logger.With(zap.String("component", "semantic_store_inmemory")),
	}
}

func conceptKey(userID, concept string) string {
	return userID + "\x00" + strings.ToLower(concept)
}

// Upsert implements Store.
func (s *MemoryStore) Upsert(ctx context.Context, m *types.SemanticMemory) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if m == nil {
		return "", types.NewError(types.ErrInvalidInput, "memory is nil")
	}
	if m.UserID == "" || m.Concept == "" {
		return "", types.NewError(types.ErrInvalidInput, "user_id and concept are required")
	}
	if len(m.Embedding) == 0 {
		return "", types.NewError(types.ErrInvalidInput, "embedding is required")
	}
	if s.dims > 0 && len(m.Embedding) != s.dims {
		return "", types.Errorf(types.ErrDimensionMismatch,
			"embedding has %d dimensions, store expects %d", len(m.Embedding), s.dims)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	copied := m.Clone()
	if copied.ID == "" {
		copied.ID = "sem_" + uuid.NewString()
	}
	copied.Confidence = types.Clamp01(copied.Confidence)

	key := conceptKey(copied.UserID, copied.Concept)
	if existingID, ok := s.byConcept[key]; ok && existingID != copied.ID {
		return "", types.Errorf(types.ErrInvalidInput,
			"concept %q already exists for user %q; merge via Update", copied.Concept, copied.UserID)
	}

	if prev, ok := s.items[copied.ID]; ok {
		if prev.UserID != copied.UserID {
			return "", s.isolationErr(copied.UserID, copied.ID)
		}
		delete(s.byConcept, conceptKey(prev.UserID, prev.Concept))
		copied.CreatedAt = prev.CreatedAt
	} else {
		copied.CreatedAt = s.now()
	}
	copied.UpdatedAt = s.now()

	s.items[copied.ID] = copied
	s.byConcept[key] = copied.ID

	s.logger.Debug("semantic memory upserted",
		zap.String("id", copied.ID),
		zap.String("user_id", copied.UserID),
		zap.String("concept", copied.Concept))
	return copied.ID, nil
}

// Get implements Store.
func (s *MemoryStore) Get(ctx context.Context, userID, id string) (*types.SemanticMemory, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	m, err := s.getLocked(userID, id)
	if err != nil {
		return nil, err
	}
	return m.Clone(), nil
}

func (s *MemoryStore) getLocked(userID, id string) (*types.SemanticMemory, error) {
	m, ok := s.items[id]
	if !ok {
		return nil, types.Errorf(types.ErrNotFound, "semantic memory %q not found", id)
	}
	if m.UserID != userID {
		return nil, s.isolationErr(userID, id)
	}
	return m, nil
}

func (s *MemoryStore) isolationErr(userID, id string) error {
	s.logger.Error("cross-user semantic access rejected",
		zap.String("security", "user_isolation"),
		zap.String("requesting_user", userID),
		zap.String("memory_id", id))
	return types.Errorf(types.ErrUserIsolation, "memory %q does not belong to user %q", id, userID)
}

// FindByConcept implements Store.
func (s *MemoryStore) FindByConcept(ctx context.Context, userID, concept string) (*types.SemanticMemory, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byConcept[conceptKey(userID, concept)]
	if !ok {
		return nil, types.Errorf(types.ErrNotFound, "concept %q not found for user %q", concept, userID)
	}
	return s.items[id].Clone(), nil
}

// Query implements Store.
func (s *MemoryStore) Query(ctx context.Context, userID string, embedding []float32, opts QueryOptions) ([]Match, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(embedding) == 0 {
		return nil, types.NewError(types.ErrInvalidInput, "query embedding is required")
	}
	if s.dims > 0 && len(embedding) != s.dims {
		return nil, types.Errorf(types.ErrDimensionMismatch,
			"query embedding has %d dimensions, store expects %d", len(embedding), s.dims)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	matches := make([]Match, 0)
	for _, m := range s.items {
		if m.UserID != userID {
			continue
		}
		if !opts.matchesFilter(m) {
			continue
		}
		sim, err := CosineSimilarity(embedding, m.Embedding)
		if err != nil {
			return nil, err
		}
		if sim < opts.Threshold {
			continue
		}
		matches = append(matches, Match{Memory: m.Clone(), Similarity: sim})
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

// Update implements Store.
func (s *MemoryStore) Update(ctx context.Context, userID, id string, patch Patch) (*types.SemanticMemory, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	m, err := s.getLocked(userID, id)
	if err != nil {
		return nil, err
	}
	applyPatch(m, patch)
	m.UpdatedAt = s.now()
	return m.Clone(), nil
}

// TouchAccess implements Store.
func (s *MemoryStore) TouchAccess(ctx context.Context, userID, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	m, err := s.getLocked(userID, id)
	if err != nil {
		return err
	}
	m.AccessCount++
	return nil
}

// Link implements Store.
func (s *MemoryStore) Link(ctx context.Context, userID, id, otherID string, kind RelationKind) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if id == otherID {
		return types.NewError(types.ErrInvalidInput, "cannot link a concept to itself")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	m, err := s.getLocked(userID, id)
	if err != nil {
		return err
	}
	other, err := s.getLocked(userID, otherID)
	if err != nil {
		return err
	}

	switch kind {
	case RelationSimilar:
		m.Relationships.Similar = appendUnique(m.Relationships.Similar, otherID)
		other.Relationships.Similar = appendUnique(other.Relationships.Similar, id)
	case RelationParent:
		m.Relationships.Parent = otherID
		other.Relationships.Children = appendUnique(other.Relationships.Children, id)
	default:
		return types.Errorf(types.ErrInvalidInput, "unknown relation kind %q", kind)
	}
	return nil
}

// ListByUser implements Store.
func (s *MemoryStore) ListByUser(ctx context.Context, userID string) ([]*types.SemanticMemory, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*types.SemanticMemory, 0)
	for _, m := range s.items {
		if m.UserID == userID {
			out = append(out, m.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].UpdatedAt.After(out[j].UpdatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// Delete implements Store.
func (s *MemoryStore) Delete(ctx context.Context, userID, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	m, err := s.getLocked(userID, id)
	if err != nil {
		return err
	}
	delete(s.byConcept, conceptKey(m.UserID, m.Concept))
	delete(s.items, id)
	return nil
}

// DeleteUser implements Store.
func (s *MemoryStore) DeleteUser(ctx context.Context, userID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for id, m := range s.items {
		if m.UserID != userID {
			continue
		}
		delete(s.byConcept, conceptKey(m.UserID, m.Concept))
		delete(s.items, id)
		removed++
	}

	s.logger.Info("user semantic memories cleared",
		zap.String("user_id", userID),
		zap.Int("removed", removed))
	return nil
}

func applyPatch(m *types.SemanticMemory, patch Patch) {
	if patch.Description != nil {
		m.Description = *patch.Description
	}
	if patch.Confidence != nil {
		m.Confidence = types.Clamp01(*patch.Confidence)
	}
	if patch.Category != nil {
		m.Category = *patch.Category
	}
	if patch.Keywords != nil {
		m.Keywords = append([]string(nil), patch.Keywords...)
	}
	if patch.Embedding != nil {
		m.Embedding = append([]float32(nil), patch.Embedding...)
	}
	for _, src := range patch.AddSourceIDs {
		m.SourceEpisodicIDs = appendUnique(m.SourceEpisodicIDs, src)
	}
}

func appendUnique(list []string, id string) []string {
	for _, existing := range list {
		if existing == id {
			return list
		}
	}
	return append(list, id)
}
