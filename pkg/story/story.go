package story

import (
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
)

type CharacterStatus string

const (
	CharacterActive   CharacterStatus = "active"
	CharacterArchived CharacterStatus = "archived"
)

// Story is a shared fictional setting that characters join.
// MainQuest and StartingScene are the immutable narrative seed.
type Story struct {
	ID               uuid.UUID   `json:"id"`
	Title            string      `json:"title"`
	Description      string      `json:"description"`
	MainQuest        string      `json:"main_quest"`
	StartingScene    string      `json:"starting_scene"`
	CharacterClasses []string    `json:"character_classes"`
	CharacterRaces   []string    `json:"character_races"`
	MaxAuthors       int         `json:"max_authors"`
	CurrentAuthors   int         `json:"current_authors"`
	Status           Status      `json:"status"`
	StoryMechanics   string      `json:"-"` // narrator-only instructions
	ImageStyle       string      `json:"image_style,omitempty"`
	StoryContext     string      `json:"-"`
	CreatedBy        string      `json:"created_by"`
	CreatedAt        time.Time   `json:"created_at"`
	Characters       []Character `json:"characters,omitempty"`
}

// Validate checks the fields a story cannot be created without.
func (s *Story) Validate() error {
	if strings.TrimSpace(s.Title) == "" {
		return errors.New("title is required")
	}
	if strings.TrimSpace(s.StartingScene) == "" {
		return errors.New("starting scene is required")
	}
	if s.MaxAuthors < 1 {
		return errors.New("max authors must be at least 1")
	}
	return nil
}

// IsCompleted reports whether the story has reached its terminal status.
func (s *Story) IsCompleted() bool {
	return s.Status == StatusCompleted
}

// ActiveCharacters returns the characters that still take part in rounds.
func (s *Story) ActiveCharacters() []Character {
	active := make([]Character, 0, len(s.Characters))
	for _, c := range s.Characters {
		if c.Status == CharacterActive {
			active = append(active, c)
		}
	}
	return active
}

// FindCharacter returns the character with the given id, if present.
func (s *Story) FindCharacter(id uuid.UUID) (Character, bool) {
	for _, c := range s.Characters {
		if c.ID == id {
			return c, true
		}
	}
	return Character{}, false
}

// Introduction returns the narrator messages that open a new story's
// transcript. A restart keeps exactly these.
func (s *Story) Introduction() []string {
	opening := strings.TrimSpace(s.Description)
	if opening == "" {
		opening = s.Title
	}
	return []string{
		opening,
		"Main Quest: " + s.MainQuest,
		"Starting Scene: " + s.StartingScene,
	}
}

// StartingKarma is the karma a new character can spend on votes.
const StartingKarma = 3

// Character is a player's persona within one story.
type Character struct {
	ID          uuid.UUID       `json:"id"`
	StoryID     uuid.UUID       `json:"story_id"`
	UserID      string          `json:"user_id"`
	Name        string          `json:"name"`
	Class       string          `json:"class"`
	Race        string          `json:"race"`
	Description string          `json:"description"`
	ImageURL    string          `json:"image_url,omitempty"`
	Status      CharacterStatus `json:"status"`
	KarmaPoints int             `json:"karma_points"`
}

func (c Character) IsActive() bool {
	return c.Status == CharacterActive
}

// Round is the server-tracked unit of synchronisation for a story.
type Round struct {
	ID       uuid.UUID  `json:"id"`
	StoryID  uuid.UUID  `json:"story_id"`
	OpenedAt time.Time  `json:"opened_at"`
	ClosedAt *time.Time `json:"closed_at,omitempty"`
}

// KarmaEvent is one adjustment of a character's karma.
type KarmaEvent struct {
	ID          uuid.UUID `json:"id"`
	CharacterID uuid.UUID `json:"character_id"`
	Points      int       `json:"points"`
	Reason      string    `json:"reason"`
	CreatedBy   uuid.UUID `json:"created_by"`
	CreatedAt   time.Time `json:"created_at"`
}

// Vote moves Points onto Target and charges the voter one karma point.
type Vote struct {
	VoterID    uuid.UUID
	TargetID   uuid.UUID
	Points     int
	Reason     string
	CostReason string
}

// StoryStanding is a leaderboard row for a story.
type StoryStanding struct {
	Story      Story `json:"story"`
	TotalKarma int   `json:"total_karma"`
}

// UserStanding is a leaderboard row for a user.
type UserStanding struct {
	UserID       string `json:"user_id"`
	TotalKarma   int    `json:"total_karma"`
	StoriesCount int    `json:"stories_count"`
}
