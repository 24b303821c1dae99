package types

import "time"

// MemoryCategory distinguishes the two persistent memory kinds.
type MemoryCategory string

const (
	// MemoryEpisodic represents time-ordered event records.
	// Storage: graph-oriented episodic backend.
	MemoryEpisodic MemoryCategory = "episodic"

	// MemorySemantic represents distilled concepts and durable facts.
	// Storage: vector similarity backend.
	MemorySemantic MemoryCategory = "semantic"
)

// Relationships links an episodic memory to its temporal neighbours and
// related events. Previous/Next form a strictly monotonic-in-time chain per
// session; Related is symmetric and unordered.
type Relationships struct {
	Previous string   `json:"previous,omitempty"`
	Next     string   `json:"next,omitempty"`
	Related  []string `json:"related,omitempty"`
}

// EpisodicMemory is a timestamped record of a specific interaction turn.
// Content is immutable after creation except via an explicit Update.
type EpisodicMemory struct {
	ID            string         `json:"id"`
	UserID        string         `json:"user_id"`
	SessionID     string         `json:"session_id"`
	Timestamp     time.Time      `json:"timestamp"`
	Content       string         `json:"content"`
	Importance    float64        `json:"importance"`
	Tags          []string       `json:"tags,omitempty"`
	Embedding     []float32      `json:"embedding,omitempty"`
	Relationships Relationships  `json:"relationships"`
	Metadata      map[string]any `json:"metadata,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
}

// Clone returns a deep copy so stored records can never be mutated through
// aliased slices or maps.
func (m *EpisodicMemory) Clone() *EpisodicMemory {
	if m == nil {
		return nil
	}
	out := *m
	out.Tags = append([]string(nil), m.Tags...)
	out.Embedding = append([]float32(nil), m.Embedding...)
	out.Relationships.Related = append([]string(nil), m.Relationships.Related...)
	out.Metadata = cloneMap(m.Metadata)
	return &out
}

// SemanticRelationships links a concept to similar, parent, and child
// concepts by ID.
type SemanticRelationships struct {
	Similar  []string `json:"similar,omitempty"`
	Parent   string   `json:"parent,omitempty"`
	Children []string `json:"children,omitempty"`
}

// SemanticMemory is a distilled, reusable concept retrievable by meaning.
// SourceEpisodicIDs point back at the episodic records it was distilled
// from; the raw content is never duplicated here.
type SemanticMemory struct {
	ID                string                `json:"id"`
	UserID            string                `json:"user_id"`
	Concept           string                `json:"concept"`
	Description       string                `json:"description"`
	Embedding         []float32             `json:"embedding,omitempty"`
	Confidence        float64               `json:"confidence"`
	Category          string                `json:"category,omitempty"`
	Keywords          []string              `json:"keywords,omitempty"`
	SourceEpisodicIDs []string              `json:"source_episodic_ids,omitempty"`
	AccessCount       int                   `json:"access_count,omitempty"`
	Relationships     SemanticRelationships `json:"relationships"`
	CreatedAt         time.Time             `json:"created_at"`
	UpdatedAt         time.Time             `json:"updated_at"`
}

// Clone returns a deep copy of the semantic memory.
func (m *SemanticMemory) Clone() *SemanticMemory {
	if m == nil {
		return nil
	}
	out := *m
	out.Embedding = append([]float32(nil), m.Embedding...)
	out.Keywords = append([]string(nil), m.Keywords...)
	out.SourceEpisodicIDs = append([]string(nil), m.SourceEpisodicIDs...)
	out.Relationships.Similar = append([]string(nil), m.Relationships.Similar...)
	out.Relationships.Children = append([]string(nil), m.Relationships.Children...)
	return &out
}

// RelevanceScore is the per-request scoring breakdown for one memory.
// It is derived state, recomputed on every request and never persisted.
type RelevanceScore struct {
	MemoryID         string  `json:"memory_id"`
	Relevance        float64 `json:"relevance"`
	Semantic         float64 `json:"semantic"`
	Recency          float64 `json:"recency"`
	Importance       float64 `json:"importance"`
	ContextRelevance float64 `json:"context_relevance"`
}

// ScoredMemory pairs one memory (episodic or semantic, exactly one set) with
// its relevance score. It is the unit flowing from the scorer into the
// compressor.
type ScoredMemory struct {
	Episodic *EpisodicMemory `json:"episodic,omitempty"`
	Semantic *SemanticMemory `json:"semantic,omitempty"`
	Score    RelevanceScore  `json:"score"`
}

// ID returns the underlying memory's ID.
func (s ScoredMemory) ID() string {
	if s.Episodic != nil {
		return s.Episodic.ID
	}
	if s.Semantic != nil {
		return s.Semantic.ID
	}
	return ""
}

// Content returns the text that would enter the assembled context.
func (s ScoredMemory) Content() string {
	if s.Episodic != nil {
		return s.Episodic.Content
	}
	if s.Semantic != nil {
		if s.Semantic.Description != "" {
			return s.Semantic.Concept + ": " + s.Semantic.Description
		}
		return s.Semantic.Concept
	}
	return ""
}

// Category returns the grouping key used for compression summaries.
// Episodic memories group by their first tag, semantic ones by category.
func (s ScoredMemory) Category() string {
	if s.Semantic != nil && s.Semantic.Category != "" {
		return s.Semantic.Category
	}
	if s.Episodic != nil && len(s.Episodic.Tags) > 0 {
		return s.Episodic.Tags[0]
	}
	return "general"
}

// Importance returns the stored importance (episodic) or confidence
// (semantic) field.
func (s ScoredMemory) Importance() float64 {
	if s.Episodic != nil {
		return s.Episodic.Importance
	}
	if s.Semantic != nil {
		return s.Semantic.Confidence
	}
	return 0
}

// Timestamp returns the memory's reference time, used for recency scoring
// and tie-breaks.
func (s ScoredMemory) Timestamp() time.Time {
	if s.Episodic != nil {
		return s.Episodic.Timestamp
	}
	if s.Semantic != nil {
		return s.Semantic.UpdatedAt
	}
	return time.Time{}
}

// CompressionResult is the output of budget-constrained selection.
type CompressionResult struct {
	Kept             []ScoredMemory `json:"kept"`
	Summary          string         `json:"summary,omitempty"`
	CompressionRatio float64        `json:"compression_ratio"`
	RemovedIDs       []string       `json:"removed_ids,omitempty"`
	TokensUsed       int            `json:"tokens_used"`
}

// GoalStatus enumerates goal lifecycle states.
type GoalStatus string

const (
	GoalPending    GoalStatus = "pending"
	GoalInProgress GoalStatus = "in_progress"
	GoalCompleted  GoalStatus = "completed"
	GoalCancelled  GoalStatus = "cancelled"
)

// Goal is a user objective tracked across turns.
type Goal struct {
	ID              string     `json:"id"`
	Description     string     `json:"description"`
	Priority        int        `json:"priority"`
	Status          GoalStatus `json:"status"`
	Subgoals        []Goal     `json:"subgoals,omitempty"`
	SuccessCriteria []string   `json:"success_criteria,omitempty"`
}

// Active reports whether the goal still needs attention.
func (g Goal) Active() bool {
	return g.Status == GoalPending || g.Status == GoalInProgress
}

// UserProfile captures durable facts about the user surfaced into the
// working context.
type UserProfile struct {
	UserID      string            `json:"user_id"`
	Summary     string            `json:"summary,omitempty"`
	Preferences map[string]string `json:"preferences,omitempty"`
	Facts       []string          `json:"facts,omitempty"`
}

// WorkingMemoryContext is the token-bounded context assembled for one turn.
// It is rebuilt from the stores on every call; only goals survive across
// turns via the session store round-trip.
type WorkingMemoryContext struct {
	ConversationID    string         `json:"conversation_id"`
	CurrentTopic      string         `json:"current_topic,omitempty"`
	ActiveGoals       []Goal         `json:"active_goals,omitempty"`
	UserProfile       UserProfile    `json:"user_profile"`
	TokenBudget       int            `json:"token_budget"`
	CompressedContent string         `json:"compressed_content"`
	Memories          []ScoredMemory `json:"memories,omitempty"`
	CompressionRatio  float64        `json:"compression_ratio"`
	Degraded          bool           `json:"degraded,omitempty"`
}

// Clamp01 clamps v into [0,1]. Importance, confidence, and every score
// component live in that range.
func Clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}

func cloneMap(in map[string]any) map[string]any {
	if in == nil {
		return nil
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
