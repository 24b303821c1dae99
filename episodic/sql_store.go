package episodic

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/wsyeabsera/clear-ai-sub003/types"
)

// memoryRow is the relational shape of one episodic memory. Slice and map
// fields are stored as JSON columns; relationship edges other than the
// temporal chain live in linkRow.
type memoryRow struct {
	ID         string    `gorm:"primaryKey"`
	UserID     string    `gorm:"index;index:idx_user_session"`
	SessionID  string    `gorm:"index:idx_user_session"`
	Timestamp  time.Time `gorm:"index"`
	Content    string
	Importance float64
	Tags       string
	Embedding  string
	Metadata   string
	PreviousID string
	NextID     string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

func (memoryRow) TableName() string { return "episodic_memories" }

// linkRow is one directed relationship edge.
type linkRow struct {
	ID     uint   `gorm:"primaryKey;autoIncrement"`
	FromID string `gorm:"index:idx_from_kind"`
	ToID   string `gorm:"index"`
	Kind   string `gorm:"index:idx_from_kind"`
}

func (linkRow) TableName() string { return "episodic_links" }

// tombstoneRow records a deleted memory ID so semantic back-references can
// be distinguished from IDs that never existed.
type tombstoneRow struct {
	ID     string `gorm:"primaryKey"`
	UserID string `gorm:"index"`
}

func (tombstoneRow) TableName() string { return "episodic_tombstones" }

// SQLStoreConfig configures the SQLite-backed episodic store.
type SQLStoreConfig struct {
	// Path is the SQLite database file. ":memory:" works for tests.
	Path string

	// Now overrides the clock for tests.
	Now func() time.Time
}

// SQLStore is the SQLite-backed episodic backend. Chain writes are
// serialized per session with in-process striped locks; the store assumes a
// single writing process, which is the embedded-database deployment model.
type SQLStore struct {
	db *gorm.DB

	sessMu       sync.Mutex
	sessionLocks map[string]*sync.Mutex

	now    func() time.Time
	logger *zap.Logger
}

// NewSQLStore opens (or creates) the database and migrates the schema.
func NewSQLStore(cfg SQLStoreConfig, logger *zap.Logger) (*SQLStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	db, err := gorm.Open(sqlite.Open(cfg.Path), &gorm.Config{})
	if err != nil {
		return nil, types.NewError(types.ErrStoreUnavailable, "open episodic database").
			WithCause(err).WithRetryable(true)
	}
	if err := db.AutoMigrate(&memoryRow{}, &linkRow{}, &tombstoneRow{}); err != nil {
		return nil, types.NewError(types.ErrStoreUnavailable, "migrate episodic schema").WithCause(err)
	}

	return &SQLStore{
		db:           db,
		sessionLocks: make(map[string]*sync.Mutex),
		now:          now,
		logger:       logger.With(zap.String("component", "episodic_store_sqlite")),
	}, nil
}

func (s *SQLStore) sessionLock(userID, sessionID string) *sync.Mutex {
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
func (s *SQLStore) Store(ctx context.Context, m *types.EpisodicMemory) (string, error) {
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

	copied := m.Clone()
	if copied.ID == "" {
		copied.ID = "ep_" + uuid.NewString()
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

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var last memoryRow
		err := tx.Where("user_id = ? AND session_id = ?", copied.UserID, copied.SessionID).
			Order("timestamp DESC").
			First(&last).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			// First memory of the session.
		case err != nil:
			return err
		default:
			if !copied.Timestamp.After(last.Timestamp) {
				if !tsAssigned {
					return types.Errorf(types.ErrInvalidInput,
						"timestamp %s does not advance the session chain past %s",
						copied.Timestamp.Format(time.RFC3339Nano), last.Timestamp.Format(time.RFC3339Nano))
				}
				copied.Timestamp = last.Timestamp.Add(time.Nanosecond)
			}
			copied.Relationships.Previous = last.ID
			if err := tx.Model(&memoryRow{}).Where("id = ?", last.ID).
				Update("next_id", copied.ID).Error; err != nil {
				return err
			}
		}

		row, err := toRow(copied)
		if err != nil {
			return err
		}
		return tx.Create(&row).Error
	})
	if err != nil {
		return "", wrapDBErr("store episodic memory", err)
	}

	s.logger.Debug("episodic memory stored",
		zap.String("id", copied.ID),
		zap.String("user_id", copied.UserID),
		zap.String("session_id", copied.SessionID))
	return copied.ID, nil
}

// Get implements Store.
func (s *SQLStore) Get(ctx context.Context, userID, id string) (*types.EpisodicMemory, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var row memoryRow
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, types.Errorf(types.ErrNotFound, "episodic memory %q not found", id)
	}
	if err != nil {
		return nil, wrapDBErr("get episodic memory", err)
	}
	if row.UserID != userID {
		s.logger.Error("cross-user episodic access rejected",
			zap.String("security", "user_isolation"),
			zap.String("requesting_user", userID),
			zap.String("memory_id", id))
		return nil, types.Errorf(types.ErrUserIsolation, "memory %q does not belong to user %q", id, userID)
	}

	return s.fromRowWithLinks(ctx, row)
}

// Search implements Store.
func (s *SQLStore) Search(ctx context.Context, userID string, filter Filter, limit int) ([]*types.EpisodicMemory, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	q := s.db.WithContext(ctx).Where("user_id = ?", userID).Order("timestamp DESC")
	if !filter.Start.IsZero() {
		q = q.Where("timestamp >= ?", filter.Start)
	}
	if !filter.End.IsZero() {
		q = q.Where("timestamp <= ?", filter.End)
	}
	if filter.TextContains != "" {
		q = q.Where("LOWER(content) LIKE ?", "%"+strings.ToLower(filter.TextContains)+"%")
	}

	var rows []memoryRow
	if err := q.Find(&rows).Error; err != nil {
		return nil, wrapDBErr("search episodic memories", err)
	}

	results := make([]*types.EpisodicMemory, 0, len(rows))
	for _, row := range rows {
		m, err := s.fromRowWithLinks(ctx, row)
		if err != nil {
			return nil, err
		}
		if !matchesFilter(m, Filter{Tags: filter.Tags}) {
			continue
		}
		results = append(results, m)
		if limit > 0 && len(results) >= limit {
			break
		}
	}
	return results, nil
}

// Recent implements Store.
func (s *SQLStore) Recent(ctx context.Context, userID, sessionID string, limit int) ([]*types.EpisodicMemory, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	q := s.db.WithContext(ctx).
		Where("user_id = ? AND session_id = ?", userID, sessionID).
		Order("timestamp DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}

	var rows []memoryRow
	if err := q.Find(&rows).Error; err != nil {
		return nil, wrapDBErr("load recent episodic memories", err)
	}

	results := make([]*types.EpisodicMemory, 0, len(rows))
	for _, row := range rows {
		m, err := s.fromRowWithLinks(ctx, row)
		if err != nil {
			return nil, err
		}
		results = append(results, m)
	}
	return results, nil
}

// Update implements Store.
func (s *SQLStore) Update(ctx context.Context, userID, id string, patch Patch) (*types.EpisodicMemory, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	current, err := s.Get(ctx, userID, id)
	if err != nil {
		return nil, err
	}

	if patch.Content != nil {
		current.Content = *patch.Content
	}
	if patch.Importance != nil {
		current.Importance = types.Clamp01(*patch.Importance)
	}
	if patch.Tags != nil {
		current.Tags = append([]string(nil), patch.Tags...)
	}
	if patch.Metadata != nil {
		if current.Metadata == nil {
			current.Metadata = make(map[string]any, len(patch.Metadata))
		}
		for k, v := range patch.Metadata {
			current.Metadata[k] = v
		}
	}
	current.UpdatedAt = s.now()

	row, err := toRow(current)
	if err != nil {
		return nil, err
	}
	if err := s.db.WithContext(ctx).Save(&row).Error; err != nil {
		return nil, wrapDBErr("update episodic memory", err)
	}
	return current, nil
}

// Delete implements Store.
func (s *SQLStore) Delete(ctx context.Context, userID, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	current, err := s.Get(ctx, userID, id)
	if err != nil {
		return err
	}

	lock := s.sessionLock(current.UserID, current.SessionID)
	lock.Lock()
	defer lock.Unlock()

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if current.Relationships.Previous != "" {
			if err := tx.Model(&memoryRow{}).Where("id = ?", current.Relationships.Previous).
				Update("next_id", current.Relationships.Next).Error; err != nil {
				return err
			}
		}
		if current.Relationships.Next != "" {
			if err := tx.Model(&memoryRow{}).Where("id = ?", current.Relationships.Next).
				Update("previous_id", current.Relationships.Previous).Error; err != nil {
				return err
			}
		}
		if err := tx.Where("from_id = ? OR to_id = ?", id, id).Delete(&linkRow{}).Error; err != nil {
			return err
		}
		if err := tx.Create(&tombstoneRow{ID: id, UserID: userID}).Error; err != nil {
			return err
		}
		return tx.Where("id = ?", id).Delete(&memoryRow{}).Error
	})
	return wrapDBErr("delete episodic memory", err)
}

// LinkRelated implements Store.
func (s *SQLStore) LinkRelated(ctx context.Context, userID, id, relatedID string, kind LinkKind) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if id == relatedID {
		return types.NewError(types.ErrInvalidInput, "cannot link a memory to itself")
	}

	m, err := s.Get(ctx, userID, id)
	if err != nil {
		return err
	}
	other, err := s.Get(ctx, userID, relatedID)
	if err != nil {
		return err
	}

	switch kind {
	case LinkRelated:
		err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			for _, edge := range []linkRow{
				{FromID: id, ToID: relatedID, Kind: string(LinkRelated)},
				{FromID: relatedID, ToID: id, Kind: string(LinkRelated)},
			} {
				var count int64
				if err := tx.Model(&linkRow{}).
					Where("from_id = ? AND to_id = ? AND kind = ?", edge.FromID, edge.ToID, edge.Kind).
					Count(&count).Error; err != nil {
					return err
				}
				if count > 0 {
					continue
				}
				if err := tx.Create(&edge).Error; err != nil {
					return err
				}
			}
			return nil
		})
	case LinkPrevious:
		if !other.Timestamp.Before(m.Timestamp) {
			return types.NewError(types.ErrInvalidInput, "previous link must point earlier in time")
		}
		err = s.db.WithContext(ctx).Model(&memoryRow{}).Where("id = ?", id).
			Update("previous_id", relatedID).Error
	case LinkNext:
		if !other.Timestamp.After(m.Timestamp) {
			return types.NewError(types.ErrInvalidInput, "next link must point later in time")
		}
		err = s.db.WithContext(ctx).Model(&memoryRow{}).Where("id = ?", id).
			Update("next_id", relatedID).Error
	default:
		return types.Errorf(types.ErrInvalidInput, "unknown link kind %q", kind)
	}
	return wrapDBErr("link episodic memories", err)
}

// Stats implements Store.
func (s *SQLStore) Stats(ctx context.Context, userID string) (Stats, error) {
	if err := ctx.Err(); err != nil {
		return Stats{}, err
	}

	var result struct {
		Count int
		Avg   float64
	}
	err := s.db.WithContext(ctx).Model(&memoryRow{}).
		Select("COUNT(*) AS count, COALESCE(AVG(importance), 0) AS avg").
		Where("user_id = ?", userID).
		Scan(&result).Error
	if err != nil {
		return Stats{}, wrapDBErr("episodic stats", err)
	}
	return Stats{Count: result.Count, AvgImportance: result.Avg}, nil
}

// ClearUser implements Store.
func (s *SQLStore) ClearUser(ctx context.Context, userID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var ids []string
		if err := tx.Model(&memoryRow{}).Where("user_id = ?", userID).
			Pluck("id", &ids).Error; err != nil {
			return err
		}
		if len(ids) == 0 {
			return nil
		}
		for _, id := range ids {
			if err := tx.Create(&tombstoneRow{ID: id, UserID: userID}).Error; err != nil {
				return err
			}
		}
		if err := tx.Where("from_id IN ? OR to_id IN ?", ids, ids).Delete(&linkRow{}).Error; err != nil {
			return err
		}
		return tx.Where("user_id = ?", userID).Delete(&memoryRow{}).Error
	})
	if err != nil {
		return wrapDBErr("clear user episodic memories", err)
	}

	s.logger.Info("user episodic memories cleared", zap.String("user_id", userID))
	return nil
}

func (s *SQLStore) fromRowWithLinks(ctx context.Context, row memoryRow) (*types.EpisodicMemory, error) {
	m, err := fromRow(row)
	if err != nil {
		return nil, err
	}

	var edges []linkRow
	if err := s.db.WithContext(ctx).
		Where("from_id = ? AND kind = ?", row.ID, string(LinkRelated)).
		Find(&edges).Error; err != nil {
		return nil, wrapDBErr("load relationship edges", err)
	}
	related := make([]string, 0, len(edges))
	for _, e := range edges {
		related = append(related, e.ToID)
	}
	sort.Strings(related)
	if len(related) > 0 {
		m.Relationships.Related = related
	}
	return m, nil
}

func toRow(m *types.EpisodicMemory) (memoryRow, error) {
	tags, err := json.Marshal(m.Tags)
	if err != nil {
		return memoryRow{}, types.NewError(types.ErrInvalidInput, "encode tags").WithCause(err)
	}
	emb, err := json.Marshal(m.Embedding)
	if err != nil {
		return memoryRow{}, types.NewError(types.ErrInvalidInput, "encode embedding").WithCause(err)
	}
	meta, err := json.Marshal(m.Metadata)
	if err != nil {
		return memoryRow{}, types.NewError(types.ErrInvalidInput, "encode metadata").WithCause(err)
	}
	return memoryRow{
		ID:         m.ID,
		UserID:     m.UserID,
		SessionID:  m.SessionID,
		Timestamp:  m.Timestamp,
		Content:    m.Content,
		Importance: m.Importance,
		Tags:       string(tags),
		Embedding:  string(emb),
		Metadata:   string(meta),
		PreviousID: m.Relationships.Previous,
		NextID:     m.Relationships.Next,
		CreatedAt:  m.CreatedAt,
		UpdatedAt:  m.UpdatedAt,
	}, nil
}

func fromRow(row memoryRow) (*types.EpisodicMemory, error) {
	m := &types.EpisodicMemory{
		ID:         row.ID,
		UserID:     row.UserID,
		SessionID:  row.SessionID,
		Timestamp:  row.Timestamp,
		Content:    row.Content,
		Importance: row.Importance,
		Relationships: types.Relationships{
			Previous: row.PreviousID,
			Next:     row.NextID,
		},
		CreatedAt: row.CreatedAt,
		UpdatedAt: row.UpdatedAt,
	}
	if row.Tags != "" {
		if err := json.Unmarshal([]byte(row.Tags), &m.Tags); err != nil {
			return nil, types.NewError(types.ErrStoreUnavailable, "decode tags").WithCause(err)
		}
	}
	if row.Embedding != "" {
		if err := json.Unmarshal([]byte(row.Embedding), &m.Embedding); err != nil {
			return nil, types.NewError(types.ErrStoreUnavailable, "decode embedding").WithCause(err)
		}
	}
	if row.Metadata != "" {
		if err := json.Unmarshal([]byte(row.Metadata), &m.Metadata); err != nil {
			return nil, types.NewError(types.ErrStoreUnavailable, "decode metadata").WithCause(err)
		}
	}
	return m, nil
}

// wrapDBErr keeps structured errors intact and classifies raw driver errors
// as transient store failures.
func wrapDBErr(op string, err error) error {
	if err == nil {
		return nil
	}
	var typed *types.Error
	if errors.As(err, &typed) {
		return err
	}
	return types.NewError(types.ErrStoreUnavailable, op).WithCause(err).WithRetryable(true)
}
