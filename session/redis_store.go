package session

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/wsyeabsera/clear-ai-sub003/types"
)

// RedisStoreConfig configures the redis-backed session store.
type RedisStoreConfig struct {
	// KeyPrefix namespaces the session keys. Defaults to "memctx:session".
	KeyPrefix string

	// TTL expires idle sessions. Zero keeps them forever.
	TTL time.Duration

	// Now overrides the clock for tests.
	Now func() time.Time
}

// RedisStore persists session state as JSON values in redis, one key per
// user+session, refreshed with a sliding TTL on every write.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
	now    func() time.Time
	logger *zap.Logger
}

// NewRedisStore creates a redis session store on an existing client.
func NewRedisStore(client redis.UniversalClient, cfg RedisStoreConfig, logger *zap.Logger) *RedisStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = "memctx:session"
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &RedisStore{
		client: client,
		prefix: prefix,
		ttl:    cfg.TTL,
		now:    now,
		logger: logger.With(zap.String("component", "session_store_redis")),
	}
}

func (s *RedisStore) key(userID, sessionID string) string {
	return s.prefix + ":" + userID + ":" + sessionID
}

// GetState implements Store.
func (s *RedisStore) GetState(ctx context.Context, userID, sessionID string) (State, error) {
	raw, err := s.client.Get(ctx, s.key(userID, sessionID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return State{}, nil
	}
	if err != nil {
		return State{}, types.NewError(types.ErrStoreUnavailable, "load session state").
			WithCause(err).WithRetryable(true)
	}

	var state State
	if err := json.Unmarshal(raw, &state); err != nil {
		// A corrupt value is unrecoverable; drop it rather than poisoning
		// every subsequent turn.
		s.logger.Error("corrupt session state dropped",
			zap.String("user_id", userID),
			zap.String("session_id", sessionID),
			zap.Error(err))
		_ = s.client.Del(ctx, s.key(userID, sessionID)).Err()
		return State{}, nil
	}
	return state, nil
}

// PutState implements Store.
func (s *RedisStore) PutState(ctx context.Context, userID, sessionID string, state State) error {
	if userID == "" || sessionID == "" {
		return types.NewError(types.ErrInvalidInput, "user_id and session_id are required")
	}

	state.UpdatedAt = s.now()
	raw, err := json.Marshal(state)
	if err != nil {
		return types.NewError(types.ErrInvalidInput, "encode session state").WithCause(err)
	}
	if err := s.client.Set(ctx, s.key(userID, sessionID), raw, s.ttl).Err(); err != nil {
		return types.NewError(types.ErrStoreUnavailable, "store session state").
			WithCause(err).WithRetryable(true)
	}
	return nil
}

// UpdateGoal implements Store.
func (s *RedisStore) UpdateGoal(ctx context.Context, userID, sessionID string, goal types.Goal) error {
	if goal.ID == "" {
		return types.NewError(types.ErrInvalidInput, "goal id is required")
	}

	state, err := s.GetState(ctx, userID, sessionID)
	if err != nil {
		return err
	}
	state.ActiveGoals = upsertGoal(state.ActiveGoals, goal)
	return s.PutState(ctx, userID, sessionID, state)
}

// ClearSession implements Store.
func (s *RedisStore) ClearSession(ctx context.Context, userID, sessionID string) error {
	if err := s.client.Del(ctx, s.key(userID, sessionID)).Err(); err != nil {
		return types.NewError(types.ErrStoreUnavailable, "clear session state").
			WithCause(err).WithRetryable(true)
	}
	return nil
}

// ClearUser implements Store. Keys are discovered with SCAN to stay
// cursor-bounded on large keyspaces.
func (s *RedisStore) ClearUser(ctx context.Context, userID string) error {
	pattern := s.prefix + ":" + userID + ":*"
	iter := s.client.Scan(ctx, 0, pattern, 100).Iterator()
	for iter.Next(ctx) {
		if err := s.client.Del(ctx, iter.Val()).Err(); err != nil {
			return types.NewError(types.ErrStoreUnavailable, "clear user sessions").
				WithCause(err).WithRetryable(true)
		}
	}
	if err := iter.Err(); err != nil {
		return types.NewError(types.ErrStoreUnavailable, "scan user sessions").
			WithCause(err).WithRetryable(true)
	}
	return nil
}
