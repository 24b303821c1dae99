// Package session persists cross-turn conversation state: the current
// topic, active goals, and the user profile. Everything else in the working
// context is rebuilt from the memory stores each turn; this is the only
// state that must round-trip between turns.
package session

import (
	"context"
	"time"

	"github.com/wsyeabsera/clear-ai-sub003/types"
)

// State is the per-session cross-turn state.
type State struct {
	CurrentTopic string            `json:"current_topic,omitempty"`
	ActiveGoals  []types.Goal      `json:"active_goals,omitempty"`
	UserProfile  types.UserProfile `json:"user_profile"`
	UpdatedAt    time.Time         `json:"updated_at"`
}

// Store is the session state contract, keyed by user and session.
type Store interface {
	// GetState loads the session state. A session with no state yet
	// returns a zero State, not an error.
	GetState(ctx context.Context, userID, sessionID string) (State, error)

	// PutState replaces the session state.
	PutState(ctx context.Context, userID, sessionID string, state State) error

	// UpdateGoal upserts one goal by ID within the session state.
	UpdateGoal(ctx context.Context, userID, sessionID string, goal types.Goal) error

	// ClearSession drops the session state.
	ClearSession(ctx context.Context, userID, sessionID string) error

	// ClearUser drops every session of the user.
	ClearUser(ctx context.Context, userID string) error
}

// ActiveOnly filters the state's goals down to those still pending or in
// progress, preserving order.
func (s State) ActiveOnly() []types.Goal {
	out := make([]types.Goal, 0, len(s.ActiveGoals))
	for _, g := range s.ActiveGoals {
		if g.Active() {
			out = append(out, g)
		}
	}
	return out
}

func upsertGoal(goals []types.Goal, goal types.Goal) []types.Goal {
	for i, g := range goals {
		if g.ID == goal.ID {
			goals[i] = goal
			return goals
		}
	}
	return append(goals, goal)
}
