package session

import (
	"context"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/wsyeabsera/clear-ai-sub003/types"
)

// MemoryStoreConfig configures the in-memory session store.
type MemoryStoreConfig struct {
	// TTL expires idle sessions. Zero disables expiry.
	TTL time.Duration

	// MaxSessions bounds the number of retained sessions; the stalest is
	// evicted first. Zero means unbounded.
	MaxSessions int

	// Now overrides the clock for tests.
	Now func() time.Time
}

type memoryEntry struct {
	state   State
	touched time.Time
}

// MemoryStore keeps session state in process memory with TTL and capacity
// eviction.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]*memoryEntry

	ttl    time.Duration
	cap    int
	now    func() time.Time
	logger *zap.Logger
}

// NewMemoryStore creates an in-memory session store.
func NewMemoryStore(cfg MemoryStoreConfig, logger *zap.Logger) *MemoryStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &MemoryStore{
		entries: make(map[string]*memoryEntry),
		ttl:     cfg.TTL,
		cap:     cfg.MaxSessions,
		now:     now,
		logger:  logger.With(zap.String("component", "session_store_inmemory")),
	}
}

func stateKey(userID, sessionID string) string {
	return userID + "\x00" + sessionID
}

// GetState implements Store.
func (s *MemoryStore) GetState(ctx context.Context, userID, sessionID string) (State, error) {
	if err := ctx.Err(); err != nil {
		return State{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[stateKey(userID, sessionID)]
	if !ok {
		return State{}, nil
	}
	if s.expired(entry) {
		delete(s.entries, stateKey(userID, sessionID))
		return State{}, nil
	}
	entry.touched = s.now()
	return cloneState(entry.state), nil
}

// PutState implements Store.
func (s *MemoryStore) PutState(ctx context.Context, userID, sessionID string, state State) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if userID == "" || sessionID == "" {
		return types.NewError(types.ErrInvalidInput, "user_id and session_id are required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	state.UpdatedAt = s.now()
	s.entries[stateKey(userID, sessionID)] = &memoryEntry{
		state:   cloneState(state),
		touched: s.now(),
	}
	s.evictLocked()
	return nil
}

// UpdateGoal implements Store.
func (s *MemoryStore) UpdateGoal(ctx context.Context, userID, sessionID string, goal types.Goal) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if goal.ID == "" {
		return types.NewError(types.ErrInvalidInput, "goal id is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := stateKey(userID, sessionID)
	entry, ok := s.entries[key]
	if !ok || s.expired(entry) {
		entry = &memoryEntry{}
		s.entries[key] = entry
	}
	entry.state.ActiveGoals = upsertGoal(entry.state.ActiveGoals, goal)
	entry.state.UpdatedAt = s.now()
	entry.touched = s.now()
	s.evictLocked()
	return nil
}

// ClearSession implements Store.
func (s *MemoryStore) ClearSession(ctx context.Context, userID, sessionID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.entries, stateKey(userID, sessionID))
	return nil
}

// ClearUser implements Store.
func (s *MemoryStore) ClearUser(ctx context.Context, userID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	prefix := userID + "\x00"
	for key := range s.entries {
		if strings.HasPrefix(key, prefix) {
			delete(s.entries, key)
		}
	}
	return nil
}

func (s *MemoryStore) expired(entry *memoryEntry) bool {
	return s.ttl > 0 && s.now().Sub(entry.touched) > s.ttl
}

// evictLocked drops the stalest entries once the capacity is exceeded.
func (s *MemoryStore) evictLocked() {
	if s.cap <= 0 {
		return
	}
	for len(s.entries) > s.cap {
		var oldestKey string
		var oldest time.Time
		for key, entry := range s.entries {
			if oldestKey == "" || entry.touched.Before(oldest) {
				oldestKey, oldest = key, entry.touched
			}
		}
		delete(s.entries, oldestKey)
		s.logger.Debug("session state evicted", zap.String("key", oldestKey))
	}
}

func cloneState(in State) State {
	out := in
	out.ActiveGoals = append([]types.Goal(nil), in.ActiveGoals...)
	out.UserProfile.Facts = append([]string(nil), in.UserProfile.Facts...)
	if in.UserProfile.Preferences != nil {
		prefs := make(map[string]string, len(in.UserProfile.Preferences))
		for k, v := range in.UserProfile.Preferences {
			prefs[k] = v
		}
		out.UserProfile.Preferences = prefs
	}
	return out
}
