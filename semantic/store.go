// Package semantic stores distilled concepts retrievable by vector
// similarity. Two backends share one contract: a plain in-memory store with
// exhaustive cosine scan, and an embedded chromem-go vector index.
package semantic

import (
	"context"
	"math"

	"github.com/wsyeabsera/clear-ai-sub003/types"
)

// QueryOptions narrows a similarity query. Threshold is applied BEFORE
// TopK: a query never pads its result with sub-threshold matches just
// because fewer than TopK memories qualify.
type QueryOptions struct {
	// TopK caps the number of matches. Zero means no cap.
	TopK int

	// Threshold is the minimum cosine similarity, in [0,1]. Matches below
	// it are excluded even when that leaves fewer than TopK results.
	Threshold float64

	// Category, when set, restricts matches to one category.
	Category string

	// Tags, when set, restricts matches to concepts carrying every listed
	// keyword.
	Tags []string

	// MinConfidence excludes concepts below this confidence.
	MinConfidence float64
}

// matchesFilter reports whether a concept passes the non-similarity
// filters: category, keyword tags, and minimum confidence.
func (o QueryOptions) matchesFilter(m *types.SemanticMemory) bool {
	if o.Category != "" && m.Category != o.Category {
		return false
	}
	if m.Confidence < o.MinConfidence {
		return false
	}
	for _, want := range o.Tags {
		found := false
		for _, kw := range m.Keywords {
			if kw == want {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// Match is one similarity query hit.
type Match struct {
	Memory     *types.SemanticMemory
	Similarity float64
}

// Patch is a partial semantic update. Nil pointer fields are untouched.
type Patch struct {
	Description *string
	Confidence  *float64
	Category    *string
	Keywords    []string
	Embedding   []float32

	// AddSourceIDs appends episodic back-references, deduplicated.
	AddSourceIDs []string
}

// Store is the semantic store contract. All operations are user-scoped.
type Store interface {
	// Upsert stores a new concept or replaces an existing one by ID.
	// An empty ID is assigned. The embedding is required.
	Upsert(ctx context.Context, m *types.SemanticMemory) (string, error)

	// Get returns one concept by ID.
	Get(ctx context.Context, userID, id string) (*types.SemanticMemory, error)

	// FindByConcept returns the user's concept with the exact given name,
	// or a NOT_FOUND error. Concept names are unique per user.
	FindByConcept(ctx context.Context, userID, concept string) (*types.SemanticMemory, error)

	// Query returns matches by cosine similarity against the query
	// embedding, threshold-filtered first, then capped at TopK, ordered by
	// similarity descending.
	Query(ctx context.Context, userID string, embedding []float32, opts QueryOptions) ([]Match, error)

	// Update applies a partial patch.
	Update(ctx context.Context, userID, id string, patch Patch) (*types.SemanticMemory, error)

	// TouchAccess increments the concept's access counter.
	TouchAccess(ctx context.Context, userID, id string) error

	// Link records a relationship between two of the user's concepts.
	Link(ctx context.Context, userID, id, otherID string, kind RelationKind) error

	// ListByUser returns every concept of the user, newest first.
	ListByUser(ctx context.Context, userID string) ([]*types.SemanticMemory, error)

	// Delete removes one concept.
	Delete(ctx context.Context, userID, id string) error

	// DeleteUser removes every concept of the user.
	DeleteUser(ctx context.Context, userID string) error
}

// RelationKind names a semantic relationship edge.
type RelationKind string

const (
	// RelationSimilar is symmetric: both concepts list each other.
	RelationSimilar RelationKind = "similar"
	// RelationParent sets the parent on the first concept and adds the
	// first to the parent's children.
	RelationParent RelationKind = "parent"
)

// CosineSimilarity computes cosine similarity of two equal-length vectors,
// accumulated in float64 for stability. A zero vector yields 0.
func CosineSimilarity(a, b []float32) (float64, error) {
	if len(a) != len(b) {
		return 0, types.Errorf(types.ErrDimensionMismatch,
			"vector length %d does not match %d", len(a), len(b))
	}
	var dot, normA, normB float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		normA += x * x
		normB += y * y
	}
	if normA == 0 || normB == 0 {
		return 0, nil
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB)), nil
}
