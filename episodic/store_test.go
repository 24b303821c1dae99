package episodic

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/wsyeabsera/clear-ai-sub003/types"
)

// fakeClock is a manually advanced clock shared by store tests.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// backends returns every episodic Store implementation under test.
func backends(t *testing.T, clock *fakeClock) map[string]Store {
	t.Helper()

	sqlStore, err := NewSQLStore(SQLStoreConfig{Path: ":memory:", Now: clock.Now}, nil)
	require.NoError(t, err)

	return map[string]Store{
		"memory": NewMemoryStore(MemoryStoreConfig{Now: clock.Now}, nil),
		"sqlite": sqlStore,
	}
}

func storeTurn(t *testing.T, s Store, userID, sessionID, content string, importance float64, tags ...string) string {
	t.Helper()
	id, err := s.Store(context.Background(), &types.EpisodicMemory{
		UserID:     userID,
		SessionID:  sessionID,
		Content:    content,
		Importance: importance,
		Tags:       tags,
	})
	require.NoError(t, err)
	return id
}

func TestStoreRoundTrip(t *testing.T) {
	t.Parallel()
	clock := newFakeClock()
	for name, s := range backends(t, clock) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			id, err := s.Store(ctx, &types.EpisodicMemory{
				UserID:     "u1",
				SessionID:  "sess-1",
				Content:    "booked a table for Friday",
				Importance: 0.8,
				Tags:       []string{"booking", "restaurant"},
				Metadata:   map[string]any{"channel": "chat"},
			})
			require.NoError(t, err)
			require.Contains(t, id, "ep_")

			got, err := s.Get(ctx, "u1", id)
			require.NoError(t, err)
			require.Equal(t, "booked a table for Friday", got.Content)
			require.Equal(t, 0.8, got.Importance)
			require.Equal(t, []string{"booking", "restaurant"}, got.Tags)
			require.Equal(t, "chat", got.Metadata["channel"])
			require.False(t, got.Timestamp.IsZero())
		})
	}
}

func TestGetReturnsCopy(t *testing.T) {
	t.Parallel()
	clock := newFakeClock()
	for name, s := range backends(t, clock) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			id := storeTurn(t, s, "u1", "sess-1", "original content", 0.5, "tag-a")

			got, err := s.Get(ctx, "u1", id)
			require.NoError(t, err)
			got.Content = "mutated by caller"
			got.Tags[0] = "hacked"
			got.Relationships.Next = "ep_forged"

			again, err := s.Get(ctx, "u1", id)
			require.NoError(t, err)
			require.Equal(t, "original content", again.Content)
			require.Equal(t, []string{"tag-a"}, again.Tags)
			require.Empty(t, again.Relationships.Next)
		})
	}
}

func TestStoreValidation(t *testing.T) {
	t.Parallel()
	clock := newFakeClock()
	for name, s := range backends(t, clock) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			_, err := s.Store(ctx, nil)
			require.Equal(t, types.ErrInvalidInput, types.GetErrorCode(err))

			_, err = s.Store(ctx, &types.EpisodicMemory{Content: "no owner"})
			require.Equal(t, types.ErrInvalidInput, types.GetErrorCode(err))

			_, err = s.Get(ctx, "u1", "ep_missing")
			require.True(t, types.IsNotFound(err))
		})
	}
}

func TestSessionChain(t *testing.T) {
	t.Parallel()
	clock := newFakeClock()
	for name, s := range backends(t, clock) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			a := storeTurn(t, s, "u1", "sess-1", "first", 0.5)
			clock.Advance(time.Second)
			b := storeTurn(t, s, "u1", "sess-1", "second", 0.5)
			clock.Advance(time.Second)
			c := storeTurn(t, s, "u1", "sess-1", "third", 0.5)

			first, err := s.Get(ctx, "u1", a)
			require.NoError(t, err)
			require.Empty(t, first.Relationships.Previous)
			require.Equal(t, b, first.Relationships.Next)

			second, err := s.Get(ctx, "u1", b)
			require.NoError(t, err)
			require.Equal(t, a, second.Relationships.Previous)
			require.Equal(t, c, second.Relationships.Next)

			third, err := s.Get(ctx, "u1", c)
			require.NoError(t, err)
			require.Equal(t, b, third.Relationships.Previous)
			require.Empty(t, third.Relationships.Next)
		})
	}
}

func TestSessionChainClockCollision(t *testing.T) {
	t.Parallel()
	// Frozen clock: every auto-assigned timestamp collides and must be
	// nudged forward so the chain stays strictly monotonic.
	clock := newFakeClock()
	for name, s := range backends(t, clock) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			a := storeTurn(t, s, "u1", "sess-1", "first", 0.5)
			b := storeTurn(t, s, "u1", "sess-1", "second", 0.5)

			first, err := s.Get(ctx, "u1", a)
			require.NoError(t, err)
			second, err := s.Get(ctx, "u1", b)
			require.NoError(t, err)

			require.Equal(t, a, second.Relationships.Previous)
			require.True(t, first.Timestamp.Before(second.Timestamp))
		})
	}
}

func TestCallerTimestampMustAdvance(t *testing.T) {
	t.Parallel()
	clock := newFakeClock()
	for name, s := range backends(t, clock) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			storeTurn(t, s, "u1", "sess-1", "first", 0.5)

			_, err := s.Store(ctx, &types.EpisodicMemory{
				UserID:    "u1",
				SessionID: "sess-1",
				Content:   "stale",
				Timestamp: clock.Now().Add(-time.Hour),
			})
			require.Equal(t, types.ErrInvalidInput, types.GetErrorCode(err))
		})
	}
}

func TestUserIsolation(t *testing.T) {
	t.Parallel()
	clock := newFakeClock()
	for name, s := range backends(t, clock) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			id := storeTurn(t, s, "alice", "sess-1", "private note", 0.9)

			_, err := s.Get(ctx, "mallory", id)
			require.Equal(t, types.ErrUserIsolation, types.GetErrorCode(err))

			err = s.Delete(ctx, "mallory", id)
			require.Equal(t, types.ErrUserIsolation, types.GetErrorCode(err))

			_, err = s.Update(ctx, "mallory", id, Patch{})
			require.Equal(t, types.ErrUserIsolation, types.GetErrorCode(err))

			// The rightful owner still sees the memory.
			_, err = s.Get(ctx, "alice", id)
			require.NoError(t, err)
		})
	}
}

func TestSearchFilters(t *testing.T) {
	t.Parallel()
	clock := newFakeClock()
	for name, s := range backends(t, clock) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			storeTurn(t, s, "u1", "sess-1", "ordered Thai food", 0.4, "food", "order")
			clock.Advance(time.Minute)
			cutoff := clock.Now()
			storeTurn(t, s, "u1", "sess-1", "asked about the weather", 0.2, "smalltalk")
			clock.Advance(time.Minute)
			storeTurn(t, s, "u1", "sess-2", "ordered pizza", 0.5, "food", "order")
			storeTurn(t, s, "u2", "sess-1", "ordered sushi", 0.5, "food")

			// All listed tags must be present.
			byTags, err := s.Search(ctx, "u1", Filter{Tags: []string{"food", "order"}}, 0)
			require.NoError(t, err)
			require.Len(t, byTags, 2)

			// Newest first.
			require.Equal(t, "ordered pizza", byTags[0].Content)
			require.Equal(t, "ordered Thai food", byTags[1].Content)

			byText, err := s.Search(ctx, "u1", Filter{TextContains: "WEATHER"}, 0)
			require.NoError(t, err)
			require.Len(t, byText, 1)

			byTime, err := s.Search(ctx, "u1", Filter{Start: cutoff}, 0)
			require.NoError(t, err)
			require.Len(t, byTime, 2)

			limited, err := s.Search(ctx, "u1", Filter{}, 1)
			require.NoError(t, err)
			require.Len(t, limited, 1)

			// Other users' memories never leak into results.
			all, err := s.Search(ctx, "u1", Filter{}, 0)
			require.NoError(t, err)
			for _, m := range all {
				require.Equal(t, "u1", m.UserID)
			}
		})
	}
}

func TestRecent(t *testing.T) {
	t.Parallel()
	clock := newFakeClock()
	for name, s := range backends(t, clock) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			for _, content := range []string{"one", "two", "three"} {
				storeTurn(t, s, "u1", "sess-1", content, 0.5)
				clock.Advance(time.Second)
			}
			storeTurn(t, s, "u1", "sess-2", "elsewhere", 0.5)

			recent, err := s.Recent(ctx, "u1", "sess-1", 2)
			require.NoError(t, err)
			require.Len(t, recent, 2)
			require.Equal(t, "three", recent[0].Content)
			require.Equal(t, "two", recent[1].Content)
		})
	}
}

func TestUpdatePatch(t *testing.T) {
	t.Parallel()
	clock := newFakeClock()
	for name, s := range backends(t, clock) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			id := storeTurn(t, s, "u1", "sess-1", "draft", 0.3, "old")

			content := "final"
			importance := 1.7 // clamped to 1
			updated, err := s.Update(ctx, "u1", id, Patch{
				Content:    &content,
				Importance: &importance,
				Tags:       []string{"new"},
				Metadata:   map[string]any{"edited": true},
			})
			require.NoError(t, err)
			require.Equal(t, "final", updated.Content)
			require.Equal(t, 1.0, updated.Importance)
			require.Equal(t, []string{"new"}, updated.Tags)
			require.Equal(t, true, updated.Metadata["edited"])

			got, err := s.Get(ctx, "u1", id)
			require.NoError(t, err)
			require.Equal(t, "final", got.Content)
		})
	}
}

func TestDeleteRelinksChain(t *testing.T) {
	t.Parallel()
	clock := newFakeClock()
	for name, s := range backends(t, clock) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			a := storeTurn(t, s, "u1", "sess-1", "first", 0.5)
			clock.Advance(time.Second)
			b := storeTurn(t, s, "u1", "sess-1", "second", 0.5)
			clock.Advance(time.Second)
			c := storeTurn(t, s, "u1", "sess-1", "third", 0.5)

			require.NoError(t, s.Delete(ctx, "u1", b))

			_, err := s.Get(ctx, "u1", b)
			require.True(t, types.IsNotFound(err))

			first, err := s.Get(ctx, "u1", a)
			require.NoError(t, err)
			require.Equal(t, c, first.Relationships.Next)

			third, err := s.Get(ctx, "u1", c)
			require.NoError(t, err)
			require.Equal(t, a, third.Relationships.Previous)
		})
	}
}

func TestLinkRelated(t *testing.T) {
	t.Parallel()
	clock := newFakeClock()
	for name, s := range backends(t, clock) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			a := storeTurn(t, s, "u1", "sess-1", "first", 0.5)
			clock.Advance(time.Second)
			b := storeTurn(t, s, "u1", "sess-1", "second", 0.5)

			require.NoError(t, s.LinkRelated(ctx, "u1", a, b, LinkRelated))
			// Re-linking is a no-op, not a duplicate.
			require.NoError(t, s.LinkRelated(ctx, "u1", a, b, LinkRelated))

			first, err := s.Get(ctx, "u1", a)
			require.NoError(t, err)
			require.Equal(t, []string{b}, first.Relationships.Related)

			second, err := s.Get(ctx, "u1", b)
			require.NoError(t, err)
			require.Equal(t, []string{a}, second.Relationships.Related)

			err = s.LinkRelated(ctx, "u1", a, a, LinkRelated)
			require.Equal(t, types.ErrInvalidInput, types.GetErrorCode(err))

			// A manual previous link must point earlier in time.
			err = s.LinkRelated(ctx, "u1", a, b, LinkPrevious)
			require.Equal(t, types.ErrInvalidInput, types.GetErrorCode(err))
		})
	}
}

func TestStatsAndClearUser(t *testing.T) {
	t.Parallel()
	clock := newFakeClock()
	for name, s := range backends(t, clock) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			storeTurn(t, s, "u1", "sess-1", "one", 0.2)
			clock.Advance(time.Second)
			storeTurn(t, s, "u1", "sess-1", "two", 0.8)
			storeTurn(t, s, "u2", "sess-1", "other", 1.0)

			st, err := s.Stats(ctx, "u1")
			require.NoError(t, err)
			require.Equal(t, 2, st.Count)
			require.InDelta(t, 0.5, st.AvgImportance, 1e-9)

			require.NoError(t, s.ClearUser(ctx, "u1"))

			st, err = s.Stats(ctx, "u1")
			require.NoError(t, err)
			require.Equal(t, 0, st.Count)

			// Unaffected user keeps their memories.
			other, err := s.Stats(ctx, "u2")
			require.NoError(t, err)
			require.Equal(t, 1, other.Count)
		})
	}
}

func TestConcurrentSessionWrites(t *testing.T) {
	t.Parallel()
	clock := newFakeClock()
	for name, s := range backends(t, clock) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			const writers = 8
			errs := make(chan error, writers)
			var wg sync.WaitGroup
			for i := 0; i < writers; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					_, err := s.Store(ctx, &types.EpisodicMemory{
						UserID:    "u1",
						SessionID: "sess-1",
						Content:   "concurrent turn",
					})
					errs <- err
				}()
			}
			wg.Wait()
			close(errs)
			for err := range errs {
				require.NoError(t, err)
			}

			// The chain survives the race: walking Previous from the newest
			// memory visits every record exactly once.
			recent, err := s.Recent(ctx, "u1", "sess-1", 0)
			require.NoError(t, err)
			require.Len(t, recent, writers)

			seen := map[string]bool{}
			cur := recent[0]
			for {
				require.False(t, seen[cur.ID])
				seen[cur.ID] = true
				if cur.Relationships.Previous == "" {
					break
				}
				next, err := s.Get(ctx, "u1", cur.Relationships.Previous)
				require.NoError(t, err)
				cur = next
			}
			require.Len(t, seen, writers)
		})
	}
}
