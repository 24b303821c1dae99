package episodic

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

// MemoryStoreConfig configures the in-memory episodic store.
type MemoryStoreConfig struct {
	// Now overrides the clock for tests. Defaults to time.Now.
	Now func() time.Time
}

// MemoryStore is the in-memory episodic backend: an arena of records by ID
// with per-session chain serialization. Suitable for local development,
// tests, and small deployments.
type MemoryStore struct {
	mu            sync.RWMutex
	items         map[string]*types.EpisodicMemory
	tombstones    map[string]string // id -> owning user
	lastInSession map[string]string // session key -> most recent memory id

	sessMu       sync.Mutex
	sessionLocks map[string]*sync.Mutex

	now    func() time.Time
	logger *zap.Logger
}

// NewMemoryStore creates an in-memory episodic store.
func NewMemoryStore(cfg MemoryStoreConfig, logger *zap.Logger) *MemoryStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &MemoryStore{
		items:         make(map[string]*types.EpisodicMemory),
		tombstones:    make(map[string]string),
		lastInSession: make(map[string]string),
		sessionLocks:  make(map[string]*sync.Mutex),
		now:           now,
		logger:        logger.With(zap.String("component", "episodic_store_inmemory")),
	}
}

func sessionKey(userID, sessionID string) string {
	return userID + "\x00" + sessionID
}

// sessionLock returns the serialization mutex for one session, creating it
// lazily. Distinct sessions never share a lock.
func (s *MemoryStore) sessionLock(userID, sessionID string) *sync.Mutex {
	key := sessionKey(userID, sessionID)
	s.sessMu.Lock()
	defer s.sessMu.Unlock()
	l, ok := s.sessionLocks[key]
	if !ok {
		l = &sync.Mutex{}
		s.sessionLocks[key] = l
	}
	return l
}

// Store implements Store.
func (s *MemoryStore) Store(ctx context.Context, m *types.EpisodicMemory) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if m == nil {
		return "", types.NewError(types.ErrInvalidInput, "memory is nil")
	}
	if m.UserID == "" || m.SessionID == "" {
		return "", types.NewError(types.ErrInvalidInput, "user_id and session_id are required")
	}

	lock := s.sessionLock(m.UserID, m.SessionID)
	lock.Lock()
	defer lock.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()

	copied := m.Clone()
	if copied.ID == "" {
		copied.ID = "ep_" + uuid.NewString()
	}
	if _, exists := s.items[copied.ID]; exists {
		return "", types.Errorf(types.ErrInvalidInput, "memory %q already exists", copied.ID)
	}

	tsAssigned := copied.Timestamp.IsZero()
	if tsAssigned {
		copied.Timestamp = s.now()
	}
	copied.Importance = types.Clamp01(copied.Importance)
	copied.CreatedAt = s.now()
	copied.UpdatedAt = copied.CreatedAt
	copied.Relationships.Previous = ""
	copied.Relationships.Next = ""

	key := sessionKey(copied.UserID, copied.SessionID)
	if lastID, ok := s.lastInSession[key]; ok {
		last := s.items[lastID]
		if !copied.Timestamp.After(last.Timestamp) {
			if !tsAssigned {
				return "", types.Errorf(types.ErrInvalidInput,
					"timestamp %s does not advance the session chain past %s",
					copied.Timestamp.Format(time.RFC3339Nano), last.Timestamp.Format(time.RFC3339Nano))
			}
			// Clock granularity collision: nudge forward to keep the chain
			// strictly monotonic.
			copied.Timestamp = last.Timestamp.Add(time.Nanosecond)
		}
		copied.Relationships.Previous = lastID
		last.Relationships.Next = copied.ID
	}

	s.items[copied.ID] = copied
	s.lastInSession[key] = copied.ID

	s.logger.Debug("episodic memory stored",
		zap.String("id", copied.ID),
		zap.String("user_id", copied.UserID),
		zap.String("session_id", copied.SessionID))

	return copied.ID, nil
}

// Get implements Store.
func (s *MemoryStore) Get(ctx context.Context, userID, id string) (*types.EpisodicMemory, error) {
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

// getLocked resolves one record with ownership enforcement. Caller holds at
// least a read lock.
func (s *MemoryStore) getLocked(userID, id string) (*types.EpisodicMemory, error) {
	m, ok := s.items[id]
	if !ok {
		return nil, types.Errorf(types.ErrNotFound, "episodic memory %q not found", id)
	}
	if m.UserID != userID {
		s.logger.Error("cross-user episodic access rejected",
			zap.String("security", "user_isolation"),
			zap.String("requesting_user", userID),
			zap.String("memory_id", id))
		return nil, types.Errorf(types.ErrUserIsolation, "memory %q does not belong to user %q", id, userID)
	}
	return m, nil
}

// Search implements Store.
func (s *MemoryStore) Search(ctx context.Context, userID string, filter Filter, limit int) ([]*types.EpisodicMemory, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	results := make([]*types.EpisodicMemory, 0)
	for _, m := range s.items {
		if m.UserID != userID {
			continue
		}
		if !matchesFilter(m, filter) {
			continue
		}
		results = append(results, m.Clone())
	}

	sort.Slice(results, func(i, j int) bool {
		return results[i].Timestamp.After(results[j].Timestamp)
	})

	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

// Recent implements Store.
func (s *MemoryStore) Recent(ctx context.Context, userID, sessionID string, limit int) ([]*types.EpisodicMemory, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	results := make([]*types.EpisodicMemory, 0)
	for _, m := range s.items {
		if m.UserID != userID || m.SessionID != sessionID {
			continue
		}
		results = append(results, m.Clone())
	}
	sort.Slice(results, func(i, j int) bool {
		return results[i].Timestamp.After(results[j].Timestamp)
	})
	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

// Update implements Store.
func (s *MemoryStore) Update(ctx context.Context, userID, id string, patch Patch) (*types.EpisodicMemory, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	m, err := s.getLocked(userID, id)
	if err != nil {
		return nil, err
	}

	if patch.Content != nil {
		m.Content = *patch.Content
	}
	if patch.Importance != nil {
		m.Importance = types.Clamp01(*patch.Importance)
	}
	if patch.Tags != nil {
		m.Tags = append([]string(nil), patch.Tags...)
	}
	if patch.Metadata != nil {
		if m.Metadata == nil {
			m.Metadata = make(map[string]any, len(patch.Metadata))
		}
		for k, v := range patch.Metadata {
			m.Metadata[k] = v
		}
	}
	m.UpdatedAt = s.now()

	return m.Clone(), nil
}

// Delete implements Store. The neighbours of the removed memory are
// re-linked so the chain stays intact.
func (s *MemoryStore) Delete(ctx context.Context, userID, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.RLock()
	m, err := s.getLocked(userID, id)
	if err != nil {
		s.mu.RUnlock()
		return err
	}
	sessUser, sessID := m.UserID, m.SessionID
	s.mu.RUnlock()

	lock := s.sessionLock(sessUser, sessID)
	lock.Lock()
	defer lock.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()

	// Re-resolve under the write lock; a concurrent delete may have won.
	m, err = s.getLocked(userID, id)
	if err != nil {
		return err
	}

	prevID := m.Relationships.Previous
	nextID := m.Relationships.Next
	if prev, ok := s.items[prevID]; ok {
		prev.Relationships.Next = nextID
	}
	if next, ok := s.items[nextID]; ok {
		next.Relationships.Previous = prevID
	}

	key := sessionKey(m.UserID, m.SessionID)
	if s.lastInSession[key] == id {
		if prevID != "" {
			s.lastInSession[key] = prevID
		} else {
			delete(s.lastInSession, key)
		}
	}

	delete(s.items, id)
	s.tombstones[id] = userID

	return nil
}

// LinkRelated implements Store.
func (s *MemoryStore) LinkRelated(ctx context.Context, userID, id, relatedID string, kind LinkKind) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if id == relatedID {
		return types.NewError(types.ErrInvalidInput, "cannot link a memory to itself")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	m, err := s.getLocked(userID, id)
	if err != nil {
		return err
	}
	other, err := s.getLocked(userID, relatedID)
	if err != nil {
		return err
	}

	switch kind {
	case LinkRelated:
		m.Relationships.Related = appendUnique(m.Relationships.Related, relatedID)
		other.Relationships.Related = appendUnique(other.Relationships.Related, id)
	case LinkPrevious:
		if !other.Timestamp.Before(m.Timestamp) {
			return types.NewError(types.ErrInvalidInput, "previous link must point earlier in time")
		}
		m.Relationships.Previous = relatedID
	case LinkNext:
		if !other.Timestamp.After(m.Timestamp) {
			return types.NewError(types.ErrInvalidInput, "next link must point later in time")
		}
		m.Relationships.Next = relatedID
	default:
		return types.Errorf(types.ErrInvalidInput, "unknown link kind %q", kind)
	}
	return nil
}

// Stats implements Store.
func (s *MemoryStore) Stats(ctx context.Context, userID string) (Stats, error) {
	if err := ctx.Err(); err != nil {
		return Stats{}, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var st Stats
	var total float64
	for _, m := range s.items {
		if m.UserID != userID {
			continue
		}
		st.Count++
		total += m.Importance
	}
	if st.Count > 0 {
		st.AvgImportance = total / float64(st.Count)
	}
	return st, nil
}

// ClearUser implements Store.
func (s *MemoryStore) ClearUser(ctx context.Context, userID string) error {
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
		delete(s.items, id)
		s.tombstones[id] = userID
		removed++
	}
	for key := range s.lastInSession {
		if strings.HasPrefix(key, userID+"\x00") {
			delete(s.lastInSession, key)
		}
	}

	s.logger.Info("user episodic memories cleared",
		zap.String("user_id", userID),
		zap.Int("removed", removed))
	return nil
}

func matchesFilter(m *types.EpisodicMemory, filter Filter) bool {
	if len(filter.Tags) > 0 {
		have := make(map[string]bool, len(m.Tags))
		for _, tag := range m.Tags {
			have[tag] = true
		}
		for _, tag := range filter.Tags {
			if !have[tag] {
				return false
			}
		}
	}
	if !filter.Start.IsZero() && m.Timestamp.Before(filter.Start) {
		return false
	}
	if !filter.End.IsZero() && m.Timestamp.After(filter.End) {
		return false
	}
	if filter.TextContains != "" &&
		!strings.Contains(strings.ToLower(m.Content), strings.ToLower(filter.TextContains)) {
		return false
	}
	return true
}

func appendUnique(list []string, id string) []string {
	for _, existing := range list {
		if existing == id {
			return list
		}
	}
	return append(list, id)
}
