// Package episodic provides the temporally ordered event store of the
// memory subsystem.
//
// Memories are held as records addressed by ID; previous/next references
// form a strictly monotonic-in-time chain per session, maintained by the
// store itself under per-session write serialization. Two backends exist: an
// in-memory arena for tests and small deployments, and a SQLite-backed store
// with a first-class relationship edge table.
package episodic

import (
	"context"
	"time"

	"github.com/wsyeabsera/clear-ai-sub003/types"
)

// LinkKind names a relationship edge kind.
type LinkKind string

const (
	// LinkRelated is symmetric: both memories reference each other.
	LinkRelated LinkKind = "related"
	// LinkPrevious and LinkNext are asymmetric temporal pointers. They are
	// normally store-assigned; manual links must keep the chain monotonic.
	LinkPrevious LinkKind = "previous"
	LinkNext     LinkKind = "next"
)

// Filter narrows a Search. Zero-valued fields are ignored. All listed tags
// must be present on a matching memory.
type Filter struct {
	Tags         []string
	Start        time.Time
	End          time.Time
	TextContains string
}

// Patch is an explicit partial update. Nil fields are left untouched.
type Patch struct {
	Content    *string
	Importance *float64
	Tags       []string
	Metadata   map[string]any
}

// Stats summarizes one user's episodic memories.
type Stats struct {
	Count         int     `json:"count"`
	AvgImportance float64 `json:"avg_importance"`
}

// Store is the episodic store contract. Every operation is scoped to a
// user; addressing another user's memory is a USER_ISOLATION_VIOLATION,
// never silently corrected. Operations on unknown user/session combinations
// succeed (memories are created lazily); only Get/Update/Delete on an
// unknown ID fail with NOT_FOUND.
type Store interface {
	// Store persists a memory, assigning ID and timestamp when absent and
	// chaining it to the most recent memory of the same session. Writes to
	// one session are serialized; distinct sessions never contend.
	Store(ctx context.Context, m *types.EpisodicMemory) (string, error)

	// Get returns a copy of the memory.
	Get(ctx context.Context, userID, id string) (*types.EpisodicMemory, error)

	// Search returns the user's memories matching the filter, ordered by
	// timestamp descending, truncated to limit (<=0 means no limit).
	Search(ctx context.Context, userID string, filter Filter, limit int) ([]*types.EpisodicMemory, error)

	// Recent returns up to limit most recent memories of a session,
	// timestamp descending.
	Recent(ctx context.Context, userID, sessionID string, limit int) ([]*types.EpisodicMemory, error)

	// Update applies an explicit patch.
	Update(ctx context.Context, userID, id string, patch Patch) (*types.EpisodicMemory, error)

	// Delete removes one memory, leaving a tombstone so that semantic
	// back-references never dangle into thin air.
	Delete(ctx context.Context, userID, id string) error

	// LinkRelated records a relationship edge. Related links are symmetric;
	// previous/next links are asymmetric and must respect chain order.
	LinkRelated(ctx context.Context, userID, id, relatedID string, kind LinkKind) error

	// Stats summarizes the user's memories.
	Stats(ctx context.Context, userID string) (Stats, error)

	// ClearUser removes every memory of one user.
	ClearUser(ctx context.Context, userID string) error
}
