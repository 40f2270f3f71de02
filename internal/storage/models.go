package storage

import (
	"time"

	"github.com/google/uuid"
	"github.com/pburglin/EpicSagaBuilder/pkg/story"
)

type storyRecord struct {
	ID               uuid.UUID `gorm:"type:text;primaryKey"`
	Title            string    `gorm:"not null"`
	Description      string
	MainQuest        string
	StartingScene    string
	CharacterClasses []string `gorm:"serializer:json"`
	CharacterRaces   []string `gorm:"serializer:json"`
	MaxAuthors       int
	CurrentAuthors   int
	Status           string `gorm:"size:16;index"`
	StoryMechanics   string
	ImageStyle       string
	StoryContext     string
	CreatedBy        string `gorm:"index"`
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

func (storyRecord) TableName() string { return "stories" }

type characterRecord struct {
	ID          uuid.UUID `gorm:"type:text;primaryKey"`
	StoryID     uuid.UUID `gorm:"type:text;index"`
	UserID      string    `gorm:"index"`
	Name        string
	Class       string
	Race        string
	Description string
	ImageURL    string
	Status      string `gorm:"size:16;index"`
	KarmaPoints int
	CreatedAt   time.Time
}

func (characterRecord) TableName() string { return "characters" }

// messageRecord ids are ULIDs so that (created_at, id) is a stable order
// even when timestamps collide.
type messageRecord struct {
	ID          string     `gorm:"size:26;primaryKey"`
	StoryID     uuid.UUID  `gorm:"type:text;index:idx_messages_story_created,priority:1"`
	Type        string     `gorm:"size:16"`
	CharacterID *uuid.UUID `gorm:"type:text"`
	Kind        string     `gorm:"size:16;not null;default:plain"`
	Content     string
	ImageURL    string
	CreatedAt   time.Time `gorm:"index:idx_messages_story_created,priority:2"`
}

func (messageRecord) TableName() string { return "messages" }

type roundRecord struct {
	ID       uuid.UUID  `gorm:"type:text;primaryKey"`
	StoryID  uuid.UUID  `gorm:"type:text;index"`
	OpenedAt time.Time
	ClosedAt *time.Time
}

func (roundRecord) TableName() string { return "rounds" }

type roundActionRecord struct {
	ID          uint      `gorm:"primaryKey;autoIncrement"`
	RoundID     uuid.UUID `gorm:"type:text;index"`
	CharacterID uuid.UUID `gorm:"type:text"`
	RecordedAt  time.Time
}

func (roundActionRecord) TableName() string { return "round_actions" }

type karmaRecord struct {
	ID          uuid.UUID `gorm:"type:text;primaryKey"`
	CharacterID uuid.UUID `gorm:"type:text;index"`
	Points      int
	Reason      string
	CreatedBy   uuid.UUID `gorm:"type:text"`
	CreatedAt   time.Time
}

func (karmaRecord) TableName() string { return "karma_events" }

func newStoryRecord(s *story.Story) storyRecord {
	return storyRecord{
		ID:               s.ID,
		Title:            s.Title,
		Description:      s.Description,
		MainQuest:        s.MainQuest,
		StartingScene:    s.StartingScene,
		CharacterClasses: s.CharacterClasses,
		CharacterRaces:   s.CharacterRaces,
		MaxAuthors:       s.MaxAuthors,
		CurrentAuthors:   s.CurrentAuthors,
		Status:           string(s.Status),
		StoryMechanics:   s.StoryMechanics,
		ImageStyle:       s.ImageStyle,
		StoryContext:     s.StoryContext,
		CreatedBy:        s.CreatedBy,
		CreatedAt:        s.CreatedAt,
	}
}

func (r storyRecord) toStory(chars []characterRecord) *story.Story {
	s := &story.Story{
		ID:               r.ID,
		Title:            r.Title,
		Description:      r.Description,
		MainQuest:        r.MainQuest,
		StartingScene:    r.StartingScene,
		CharacterClasses: r.CharacterClasses,
		CharacterRaces:   r.CharacterRaces,
		MaxAuthors:       r.MaxAuthors,
		CurrentAuthors:   r.CurrentAuthors,
		Status:           story.Status(r.Status),
		StoryMechanics:   r.StoryMechanics,
		ImageStyle:       r.ImageStyle,
		StoryContext:     r.StoryContext,
		CreatedBy:        r.CreatedBy,
		CreatedAt:        r.CreatedAt,
	}
	for _, c := range chars {
		s.Characters = append(s.Characters, c.toCharacter())
	}
	return s
}

func newCharacterRecord(c *story.Character) characterRecord {
	return characterRecord{
		ID:          c.ID,
		StoryID:     c.StoryID,
		UserID:      c.UserID,
		Name:        c.Name,
		Class:       c.Class,
		Race:        c.Race,
		Description: c.Description,
		ImageURL:    c.ImageURL,
		Status:      string(c.Status),
		KarmaPoints: c.KarmaPoints,
	}
}

func (r characterRecord) toCharacter() story.Character {
	return story.Character{
		ID:          r.ID,
		StoryID:     r.StoryID,
		UserID:      r.UserID,
		Name:        r.Name,
		Class:       r.Class,
		Race:        r.Race,
		Description: r.Description,
		ImageURL:    r.ImageURL,
		Status:      story.CharacterStatus(r.Status),
		KarmaPoints: r.KarmaPoints,
	}
}

func (r messageRecord) toMessage() story.Message {
	return story.Message{
		ID:          r.ID,
		StoryID:     r.StoryID,
		Type:        story.MessageType(r.Type),
		CharacterID: r.CharacterID,
		Content:     story.JoinContent(story.ContentKind(r.Kind), r.Content, r.ImageURL),
		CreatedAt:   r.CreatedAt,
	}
}
