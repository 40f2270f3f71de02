package storage

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"github.com/pburglin/EpicSagaBuilder/pkg/storage"
	"github.com/pburglin/EpicSagaBuilder/pkg/story"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// SQLStore implements the Storage interface on SQLite through gorm.
type SQLStore struct {
	db     *gorm.DB
	logger *slog.Logger

	idMu    sync.Mutex
	entropy *ulid.MonotonicEntropy
}

// Ensure SQLStore implements Storage interface
var _ storage.Storage = (*SQLStore)(nil)

// NewSQLStore opens (or creates) the database at path and migrates the schema.
func NewSQLStore(path string, logger *slog.Logger) (*SQLStore, error) {
	dsn := path
	if !strings.Contains(dsn, "?") {
		dsn += "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	}

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:  gormlogger.Discard,
		NowFunc: func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w: %w", storage.ErrStoreFailure, err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database handle: %w: %w", storage.ErrStoreFailure, err)
	}
	// SQLite allows a single writer.
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(
		&storyRecord{},
		&characterRecord{},
		&messageRecord{},
		&roundRecord{},
		&roundActionRecord{},
		&karmaRecord{},
	); err != nil {
		return nil, fmt.Errorf("failed to migrate schema: %w: %w", storage.ErrStoreFailure, err)
	}

	logger.Info("SQL store ready", "path", path)

	return &SQLStore{
		db:      db,
		logger:  logger,
		entropy: ulid.Monotonic(rand.Reader, 0),
	}, nil
}

// wrapErr maps driver errors onto the storage sentinels.
func wrapErr(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return fmt.Errorf("failed to %s: %w", op, storage.ErrNotFound)
	case errors.Is(err, storage.ErrNotFound),
		errors.Is(err, storage.ErrStoryFull),
		errors.Is(err, storage.ErrAlreadyJoined),
		errors.Is(err, storage.ErrNoKarma):
		return err
	default:
		return fmt.Errorf("failed to %s: %w: %w", op, storage.ErrStoreFailure, err)
	}
}

func (s *SQLStore) newMessageID(t time.Time) string {
	s.idMu.Lock()
	defer s.idMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(t), s.entropy).String()
}

// Health and lifecycle methods

func (s *SQLStore) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return wrapErr("get database handle", err)
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		return wrapErr("ping database", err)
	}
	return nil
}

func (s *SQLStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	if err := sqlDB.Close(); err != nil {
		s.logger.Error("Failed to close database", "error", err)
		return err
	}
	s.logger.Info("Database connection closed")
	return nil
}

// Story operations

func (s *SQLStore) CreateStory(ctx context.Context, st *story.Story) error {
	if st.ID == uuid.Nil {
		st.ID = uuid.New()
	}
	if st.Status == "" {
		st.Status = story.StatusActive
	}
	if st.CreatedAt.IsZero() {
		st.CreatedAt = time.Now().UTC()
	}

	rec := newStoryRecord(st)
	if err := s.db.WithContext(ctx).Create(&rec).Error; err != nil {
		return wrapErr("create story", err)
	}

	s.logger.Debug("Story created", "story_id", st.ID.String(), "title", st.Title)
	return nil
}

func (s *SQLStore) LoadStory(ctx context.Context, storyID uuid.UUID) (*story.Story, error) {
	var rec storyRecord
	if err := s.db.WithContext(ctx).First(&rec, "id = ?", storyID).Error; err != nil {
		return nil, wrapErr("load story", err)
	}

	var chars []characterRecord
	if err := s.db.WithContext(ctx).
		Where("story_id = ?", storyID).
		Order("created_at ASC").
		Find(&chars).Error; err != nil {
		return nil, wrapErr("load characters", err)
	}

	return rec.toStory(chars), nil
}

func (s *SQLStore) ListStories(ctx context.Context, status story.Status) ([]story.Story, error) {
	q := s.db.WithContext(ctx).Order("created_at DESC")
	if status != "" {
		q = q.Where("status = ?", string(status))
	}

	var recs []storyRecord
	if err := q.Find(&recs).Error; err != nil {
		return nil, wrapErr("list stories", err)
	}
	return s.attachCharacters(ctx, recs)
}

// attachCharacters loads the characters for a batch of stories in one query.
func (s *SQLStore) attachCharacters(ctx context.Context, recs []storyRecord) ([]story.Story, error) {
	if len(recs) == 0 {
		return []story.Story{}, nil
	}

	ids := make([]uuid.UUID, len(recs))
	for i, r := range recs {
		ids[i] = r.ID
	}

	var chars []characterRecord
	if err := s.db.WithContext(ctx).
		Where("story_id IN ?", ids).
		Order("created_at ASC").
		Find(&chars).Error; err != nil {
		return nil, wrapErr("load characters", err)
	}

	byStory := make(map[uuid.UUID][]characterRecord)
	for _, c := range chars {
		byStory[c.StoryID] = append(byStory[c.StoryID], c)
	}

	out := make([]story.Story, 0, len(recs))
	for _, r := range recs {
		out = append(out, *r.toStory(byStory[r.ID]))
	}
	return out, nil
}

func (s *SQLStore) SetStoryStatus(ctx context.Context, storyID uuid.UUID, status story.Status) error {
	res := s.db.WithContext(ctx).
		Model(&storyRecord{}).
		Where("id = ?", storyID).
		Update("status", string(status))
	if res.Error != nil {
		return wrapErr("set story status", res.Error)
	}
	if res.RowsAffected == 0 {
		return wrapErr("set story status", gorm.ErrRecordNotFound)
	}
	return nil
}

func (s *SQLStore) LoadStoryContextFacts(ctx context.Context, storyID uuid.UUID) (string, error) {
	var rec storyRecord
	if err := s.db.WithContext(ctx).Select("id", "story_context").First(&rec, "id = ?", storyID).Error; err != nil {
		return "", wrapErr("load story context", err)
	}
	return rec.StoryContext, nil
}

func (s *SQLStore) SaveStoryContextFacts(ctx context.Context, storyID uuid.UUID, facts string) error {
	res := s.db.WithContext(ctx).
		Model(&storyRecord{}).
		Where("id = ?", storyID).
		Update("story_context", facts)
	if res.Error != nil {
		return wrapErr("save story context", res.Error)
	}
	if res.RowsAffected == 0 {
		return wrapErr("save story context", gorm.ErrRecordNotFound)
	}
	return nil
}

// Character operations

func (s *SQLStore) CreateCharacter(ctx context.Context, c *story.Character) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var st storyRecord
		if err := tx.First(&st, "id = ?", c.StoryID).Error; err != nil {
			return err
		}

		var existing int64
		if err := tx.Model(&characterRecord{}).
			Where("story_id = ? AND user_id = ? AND status = ?", c.StoryID, c.UserID, string(story.CharacterActive)).
			Count(&existing).Error; err != nil {
			return err
		}
		if existing > 0 {
			return storage.ErrAlreadyJoined
		}
		if st.CurrentAuthors >= st.MaxAuthors {
			return storage.ErrStoryFull
		}

		if c.ID == uuid.Nil {
			c.ID = uuid.New()
		}
		c.Status = story.CharacterActive

		rec := newCharacterRecord(c)
		if err := tx.Create(&rec).Error; err != nil {
			return err
		}
		return tx.Model(&storyRecord{}).
			Where("id = ?", c.StoryID).
			UpdateColumn("current_authors", gorm.Expr("current_authors + 1")).Error
	})
	if err != nil {
		return wrapErr("create character", err)
	}

	s.logger.Debug("Character joined", "story_id", c.StoryID.String(), "character_id", c.ID.String())
	return nil
}

func (s *SQLStore) GetCharacter(ctx context.Context, characterID uuid.UUID) (*story.Character, error) {
	var rec characterRecord
	if err := s.db.WithContext(ctx).First(&rec, "id = ?", characterID).Error; err != nil {
		return nil, wrapErr("get character", err)
	}
	c := rec.toCharacter()
	return &c, nil
}

func (s *SQLStore) FindActiveCharacter(ctx context.Context, storyID uuid.UUID, userID string) (*story.Character, error) {
	var rec characterRecord
	if err := s.db.WithContext(ctx).
		Where("story_id = ? AND user_id = ? AND status = ?", storyID, userID, string(story.CharacterActive)).
		First(&rec).Error; err != nil {
		return nil, wrapErr("find active character", err)
	}
	c := rec.toCharacter()
	return &c, nil
}

func (s *SQLStore) ArchiveCharacter(ctx context.Context, characterID, storyID uuid.UUID) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&characterRecord{}).
			Where("id = ? AND story_id = ? AND status = ?", characterID, storyID, string(story.CharacterActive)).
			Update("status", string(story.CharacterArchived))
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			// Either unknown or already archived; only the former is an error.
			var rec characterRecord
			return tx.First(&rec, "id = ? AND story_id = ?", characterID, storyID).Error
		}
		return tx.Model(&storyRecord{}).
			Where("id = ? AND current_authors > 0", storyID).
			UpdateColumn("current_authors", gorm.Expr("current_authors - 1")).Error
	})
	return wrapErr("archive character", err)
}

// Message operations

func (s *SQLStore) LoadMessages(ctx context.Context, storyID uuid.UUID) ([]story.Message, error) {
	var recs []messageRecord
	if err := s.db.WithContext(ctx).
		Where("story_id = ?", storyID).
		Order("created_at ASC, id ASC").
		Find(&recs).Error; err != nil {
		return nil, wrapErr("load messages", err)
	}

	msgs := make([]story.Message, 0, len(recs))
	for _, r := range recs {
		msgs = append(msgs, r.toMessage())
	}
	return msgs, nil
}

func (s *SQLStore) AppendMessage(ctx context.Context, storyID uuid.UUID, msg story.NewMessage) (*story.Message, error) {
	now := time.Now().UTC()
	kind, text, imageURL := story.SplitContent(msg.Content)
	rec := messageRecord{
		ID:          s.newMessageID(now),
		StoryID:     storyID,
		Type:        string(msg.Type),
		CharacterID: msg.CharacterID,
		Kind:        string(kind),
		Content:     text,
		ImageURL:    imageURL,
		CreatedAt:   now,
	}
	if err := s.db.WithContext(ctx).Create(&rec).Error; err != nil {
		return nil, wrapErr("append message", err)
	}

	out := rec.toMessage()
	return &out, nil
}

func (s *SQLStore) RestartStory(ctx context.Context, storyID uuid.UUID, keep int) (int, error) {
	var removed int64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var keepIDs []string
		if keep > 0 {
			if err := tx.Model(&messageRecord{}).
				Where("story_id = ?", storyID).
				Order("created_at ASC, id ASC").
				Limit(keep).
				Pluck("id", &keepIDs).Error; err != nil {
				return err
			}
		}

		q := tx.Where("story_id = ?", storyID)
		if len(keepIDs) > 0 {
			q = q.Where("id NOT IN ?", keepIDs)
		}
		res := q.Delete(&messageRecord{})
		removed = res.RowsAffected
		return res.Error
	})
	if err != nil {
		return 0, wrapErr("restart story", err)
	}

	s.logger.Info("Story restarted", "story_id", storyID.String(), "messages_removed", removed)
	return int(removed), nil
}

// Round operations

func (s *SQLStore) StartRound(ctx context.Context, storyID uuid.UUID) (uuid.UUID, error) {
	now := time.Now().UTC()
	rec := roundRecord{ID: uuid.New(), StoryID: storyID, OpenedAt: now}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&roundRecord{}).
			Where("story_id = ? AND closed_at IS NULL", storyID).
			Update("closed_at", now).Error; err != nil {
			return err
		}
		return tx.Create(&rec).Error
	})
	if err != nil {
		return uuid.Nil, wrapErr("start round", err)
	}
	return rec.ID, nil
}

func (s *SQLStore) RecordRoundAction(ctx context.Context, roundID, characterID uuid.UUID) error {
	var round roundRecord
	if err := s.db.WithContext(ctx).First(&round, "id = ?", roundID).Error; err != nil {
		return wrapErr("record round action", err)
	}

	rec := roundActionRecord{RoundID: roundID, CharacterID: characterID, RecordedAt: time.Now().UTC()}
	if err := s.db.WithContext(ctx).Create(&rec).Error; err != nil {
		return wrapErr("record round action", err)
	}
	return nil
}

// Karma operations

func (s *SQLStore) AddKarma(ctx context.Context, characterID uuid.UUID, points int, reason string, createdBy uuid.UUID) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&characterRecord{}).
			Where("id = ?", characterID).
			UpdateColumn("karma_points", gorm.Expr("karma_points + ?", points))
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return gorm.ErrRecordNotFound
		}
		return tx.Create(&karmaRecord{
			ID:          uuid.New(),
			CharacterID: characterID,
			Points:      points,
			Reason:      reason,
			CreatedBy:   createdBy,
			CreatedAt:   time.Now().UTC(),
		}).Error
	})
	return wrapErr("add karma", err)
}

func (s *SQLStore) Vote(ctx context.Context, v story.Vote) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&characterRecord{}).
			Where("id = ? AND karma_points > 0", v.VoterID).
			UpdateColumn("karma_points", gorm.Expr("karma_points - 1"))
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			var n int64
			if err := tx.Model(&characterRecord{}).Where("id = ?", v.VoterID).Count(&n).Error; err != nil {
				return err
			}
			if n == 0 {
				return gorm.ErrRecordNotFound
			}
			return storage.ErrNoKarma
		}

		res = tx.Model(&characterRecord{}).
			Where("id = ?", v.TargetID).
			UpdateColumn("karma_points", gorm.Expr("karma_points + ?", v.Points))
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return gorm.ErrRecordNotFound
		}

		now := time.Now().UTC()
		return tx.Create([]karmaRecord{
			{ID: uuid.New(), CharacterID: v.TargetID, Points: v.Points, Reason: v.Reason, CreatedBy: v.VoterID, CreatedAt: now},
			{ID: uuid.New(), CharacterID: v.VoterID, Points: -1, Reason: v.CostReason, CreatedBy: v.VoterID, CreatedAt: now},
		}).Error
	})
	return wrapErr("record vote", err)
}

// StoryLeaderboard ranks the most populated stories by their characters'
// combined karma.
func (s *SQLStore) StoryLeaderboard(ctx context.Context, limit int) ([]story.StoryStanding, error) {
	q := s.db.WithContext(ctx).Order("current_authors DESC, created_at ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}

	var recs []storyRecord
	if err := q.Find(&recs).Error; err != nil {
		return nil, wrapErr("load story leaderboard", err)
	}

	stories, err := s.attachCharacters(ctx, recs)
	if err != nil {
		return nil, err
	}

	out := make([]story.StoryStanding, 0, len(stories))
	for _, st := range stories {
		total := 0
		for _, c := range st.Characters {
			total += c.KarmaPoints
		}
		out = append(out, story.StoryStanding{Story: st, TotalKarma: total})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].TotalKarma > out[j].TotalKarma })
	return out, nil
}

func (s *SQLStore) UserLeaderboard(ctx context.Context, limit int) ([]story.UserStanding, error) {
	q := s.db.WithContext(ctx).
		Model(&characterRecord{}).
		Select("user_id, SUM(karma_points) AS total_karma, COUNT(DISTINCT story_id) AS stories_count").
		Group("user_id").
		Order("total_karma DESC, user_id ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}

	var rows []story.UserStanding
	if err := q.Scan(&rows).Error; err != nil {
		return nil, wrapErr("load user leaderboard", err)
	}
	return rows, nil
}
