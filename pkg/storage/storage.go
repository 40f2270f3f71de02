package storage

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/pburglin/EpicSagaBuilder/pkg/story"
)

var (
	// ErrStoreFailure wraps any failure of the underlying store.
	ErrStoreFailure = errors.New("store failure")
	ErrNotFound     = errors.New("not found")
	ErrStoryFull    = errors.New("story has no free author slots")
	// ErrAlreadyJoined is returned when a user already has an active
	// character in the story.
	ErrAlreadyJoined = errors.New("user already has an active character in this story")
	// ErrNoKarma is returned by Vote when the voter has no points left.
	ErrNoKarma = errors.New("voter has no karma points left")
)

// Storage is the single source of truth for stories, characters, messages,
// rounds and karma.
type Storage interface {
	// Health and lifecycle
	Ping(ctx context.Context) error
	Close() error

	// Stories. LoadStory includes the story's characters.
	CreateStory(ctx context.Context, s *story.Story) error
	LoadStory(ctx context.Context, storyID uuid.UUID) (*story.Story, error)
	ListStories(ctx context.Context, status story.Status) ([]story.Story, error)
	SetStoryStatus(ctx context.Context, storyID uuid.UUID, status story.Status) error

	// Persisted core facts for the narrator's context
	LoadStoryContextFacts(ctx context.Context, storyID uuid.UUID) (string, error)
	SaveStoryContextFacts(ctx context.Context, storyID uuid.UUID, facts string) error

	// Characters. CreateCharacter and ArchiveCharacter keep the story's
	// CurrentAuthors counter in step.
	CreateCharacter(ctx context.Context, c *story.Character) error
	GetCharacter(ctx context.Context, characterID uuid.UUID) (*story.Character, error)
	FindActiveCharacter(ctx context.Context, storyID uuid.UUID, userID string) (*story.Character, error)
	ArchiveCharacter(ctx context.Context, characterID, storyID uuid.UUID) error

	// Messages, ordered by creation time then insertion order
	LoadMessages(ctx context.Context, storyID uuid.UUID) ([]story.Message, error)
	AppendMessage(ctx context.Context, storyID uuid.UUID, msg story.NewMessage) (*story.Message, error)
	// RestartStory deletes every message but the first keep and returns
	// how many were removed.
	RestartStory(ctx context.Context, storyID uuid.UUID, keep int) (int, error)

	// Rounds. StartRound closes any open round before opening a new one.
	StartRound(ctx context.Context, storyID uuid.UUID) (uuid.UUID, error)
	RecordRoundAction(ctx context.Context, roundID, characterID uuid.UUID) error

	// Karma
	AddKarma(ctx context.Context, characterID uuid.UUID, points int, reason string, createdBy uuid.UUID) error
	// Vote charges the voter and credits the target atomically, failing
	// with ErrNoKarma when the voter's balance is not positive.
	Vote(ctx context.Context, v story.Vote) error
	StoryLeaderboard(ctx context.Context, limit int) ([]story.StoryStanding, error)
	UserLeaderboard(ctx context.Context, limit int) ([]story.UserStanding, error)
}
