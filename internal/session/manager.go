package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pburglin/EpicSagaBuilder/pkg/storage"
	"github.com/pburglin/EpicSagaBuilder/pkg/story"
	"github.com/pburglin/EpicSagaBuilder/pkg/textfilter"
)

var (
	ErrInvalidCharacter = errors.New("invalid character")
	ErrInvalidVote      = errors.New("invalid vote")
	ErrNotOwner         = errors.New("character belongs to another user")
)

const (
	// RestartKeepMessages is how many opening messages survive a restart.
	RestartKeepMessages = 3

	lockKeyPrefix = "story-lock:"

	// sessionAttempts bounds how often an operation moves to a fresh
	// coordinator after a concurrent restart retired the one it held.
	sessionAttempts = 3

	reasonUpvote   = "Action upvoted"
	reasonDownvote = "Action downvoted"
	reasonVoteCost = "Used karma point to vote"
)

// NarratorFactory builds the narrator, with its own context store and
// latency estimator, for a story session.
type NarratorFactory func(ctx context.Context, s *story.Story) (Narrator, error)

// Locker serialises round closing for a story across API replicas.
type Locker interface {
	WithLock(ctx context.Context, key string, fn func(ctx context.Context) error) error
}

// JoinRequest describes a new character.
type JoinRequest struct {
	Name        string `json:"name"`
	Class       string `json:"class"`
	Race        string `json:"race"`
	Description string `json:"description"`
	ImageURL    string `json:"image_url,omitempty"`
}

// Manager owns one Coordinator per story and is the entry point for every
// story operation.
type Manager struct {
	store   storage.Storage
	factory NarratorFactory
	events  Publisher
	locker  Locker
	logger  *slog.Logger

	mu       sync.RWMutex
	sessions map[uuid.UUID]*Coordinator
}

// NewManager creates a manager. locker may be nil for a single replica.
func NewManager(store storage.Storage, factory NarratorFactory, events Publisher, locker Locker, logger *slog.Logger) *Manager {
	if events == nil {
		events = NopPublisher{}
	}
	return &Manager{
		store:    store,
		factory:  factory,
		events:   events,
		locker:   locker,
		logger:   logger,
		sessions: make(map[uuid.UUID]*Coordinator),
	}
}

// Session returns the started coordinator for a story, building it on
// first use.
func (m *Manager) Session(ctx context.Context, storyID uuid.UUID) (*Coordinator, error) {
	for attempt := 1; ; attempt++ {
		c, err := m.coordinator(ctx, storyID)
		if err != nil {
			return nil, err
		}
		err = c.Start(ctx)
		if err == nil {
			return c, nil
		}
		if !errors.Is(err, errSessionClosed) || attempt == sessionAttempts {
			return nil, err
		}
		m.evictIf(storyID, c)
	}
}

// coordinator returns the story's coordinator without starting it.
func (m *Manager) coordinator(ctx context.Context, storyID uuid.UUID) (*Coordinator, error) {
	m.mu.RLock()
	c, ok := m.sessions[storyID]
	m.mu.RUnlock()
	if ok {
		return c, nil
	}
	return m.create(ctx, storyID)
}

// withSession runs fn under the story lock against a started coordinator.
// When a restart retired that coordinator first, fn runs again on its
// replacement.
func (m *Manager) withSession(ctx context.Context, storyID uuid.UUID, fn func(ctx context.Context, c *Coordinator) error) error {
	for attempt := 1; ; attempt++ {
		c, err := m.Session(ctx, storyID)
		if err != nil {
			return err
		}
		err = m.withLock(ctx, storyID, func(ctx context.Context) error {
			return fn(ctx, c)
		})
		if !errors.Is(err, errSessionClosed) || attempt == sessionAttempts {
			return err
		}
		m.logger.Debug("Session retired mid-operation, retrying", "story_id", storyID.String())
	}
}

func (m *Manager) create(ctx context.Context, storyID uuid.UUID) (*Coordinator, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if c, ok := m.sessions[storyID]; ok {
		return c, nil
	}

	s, err := m.store.LoadStory(ctx, storyID)
	if err != nil {
		return nil, fmt.Errorf("failed to load story: %w", err)
	}
	narrator, err := m.factory(ctx, s)
	if err != nil {
		return nil, fmt.Errorf("failed to create narrator: %w", err)
	}

	c := NewCoordinator(s, m.store, narrator, m.events, m.logger)
	m.sessions[storyID] = c
	m.logger.Debug("Session created", "story_id", storyID.String())
	return c, nil
}

// evictIf drops the story's session if it is still c.
func (m *Manager) evictIf(storyID uuid.UUID, c *Coordinator) {
	m.mu.Lock()
	if m.sessions[storyID] == c {
		delete(m.sessions, storyID)
	}
	m.mu.Unlock()
}

func (m *Manager) withLock(ctx context.Context, storyID uuid.UUID, fn func(ctx context.Context) error) error {
	if m.locker == nil {
		return fn(ctx)
	}
	return m.locker.WithLock(ctx, lockKeyPrefix+storyID.String(), fn)
}

// activeCharacter resolves the user's active character in a story.
func (m *Manager) activeCharacter(ctx context.Context, storyID uuid.UUID, userID string) (*story.Character, error) {
	c, err := m.store.FindActiveCharacter(ctx, storyID, userID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("%w: %w", ErrCharacterInactive, err)
	}
	return c, err
}

// Submit records the user's action for the story's open round.
func (m *Manager) Submit(ctx context.Context, storyID uuid.UUID, userID, text string) (*RoundResult, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyAction
	}
	character, err := m.activeCharacter(ctx, storyID, userID)
	if err != nil {
		return nil, err
	}

	var result *RoundResult
	err = m.withSession(ctx, storyID, func(ctx context.Context, c *Coordinator) error {
		var err error
		result, err = c.SubmitAction(ctx, character.ID, text)
		return err
	})
	return result, err
}

// Retry re-runs narration for a round whose narration fell back.
func (m *Manager) Retry(ctx context.Context, storyID uuid.UUID) (*RoundResult, error) {
	var result *RoundResult
	err := m.withSession(ctx, storyID, func(ctx context.Context, c *Coordinator) error {
		var err error
		result, err = c.RetryRound(ctx)
		return err
	})
	return result, err
}

// Complete narrates the finale and marks the story completed.
func (m *Manager) Complete(ctx context.Context, storyID uuid.UUID, userID string) (*RoundResult, error) {
	character, err := m.activeCharacter(ctx, storyID, userID)
	if err != nil {
		return nil, err
	}

	var result *RoundResult
	err = m.withSession(ctx, storyID, func(ctx context.Context, c *Coordinator) error {
		var err error
		if result, err = c.CompleteStory(ctx, character.ID); err != nil {
			return err
		}
		if result.Fallback {
			return nil
		}
		if err := m.events.PublishStoryCompleted(ctx, storyID); err != nil {
			m.logger.Warn("Failed to publish event", "event", "story.completed", "error", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	m.logger.Info("Story completed", "story_id", storyID.String(), "fallback", result.Fallback)
	return result, nil
}

// Join creates the user's character. Class and race must match the story's
// allowed lists, ignoring case.
func (m *Manager) Join(ctx context.Context, storyID uuid.UUID, userID string, req JoinRequest) (*story.Character, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, fmt.Errorf("%w: name is required", ErrInvalidCharacter)
	}
	if strings.TrimSpace(userID) == "" {
		return nil, fmt.Errorf("%w: user is required", ErrInvalidCharacter)
	}

	s, err := m.store.LoadStory(ctx, storyID)
	if err != nil {
		return nil, fmt.Errorf("failed to load story: %w", err)
	}
	if s.IsCompleted() {
		return nil, ErrStoryCompleted
	}

	class, ok := textfilter.MatchAllowed(req.Class, s.CharacterClasses)
	if !ok {
		return nil, fmt.Errorf("%w: class %q is not allowed in this story", ErrInvalidCharacter, req.Class)
	}
	race, ok := textfilter.MatchAllowed(req.Race, s.CharacterRaces)
	if !ok {
		return nil, fmt.Errorf("%w: race %q is not allowed in this story", ErrInvalidCharacter, req.Race)
	}

	c := &story.Character{
		ID:          uuid.New(),
		StoryID:     storyID,
		UserID:      userID,
		Name:        name,
		Class:       class,
		Race:        race,
		Description: strings.TrimSpace(req.Description),
		ImageURL:    req.ImageURL,
		Status:      story.CharacterActive,
		KarmaPoints: story.StartingKarma,
	}
	if err := m.store.CreateCharacter(ctx, c); err != nil {
		return nil, fmt.Errorf("failed to create character: %w", err)
	}

	if err := m.events.PublishCharacterJoined(ctx, c); err != nil {
		m.logger.Warn("Failed to publish event", "event", "character.joined", "error", err)
	}
	m.logger.Info("Character joined", "story_id", storyID.String(), "character_id", c.ID.String())
	return c, nil
}

// Leave archives the character and closes the round if everyone still
// present has already acted.
func (m *Manager) Leave(ctx context.Context, storyID, characterID uuid.UUID, userID string) (*RoundResult, error) {
	character, err := m.store.GetCharacter(ctx, characterID)
	if err != nil {
		return nil, fmt.Errorf("failed to load character: %w", err)
	}
	if character.StoryID != storyID {
		return nil, fmt.Errorf("character %s: %w", characterID, storage.ErrNotFound)
	}
	if character.UserID != userID {
		return nil, ErrNotOwner
	}

	var (
		result   *RoundResult
		archived bool
	)
	err = m.withSession(ctx, storyID, func(ctx context.Context, c *Coordinator) error {
		if !archived {
			if err := m.store.ArchiveCharacter(ctx, characterID, storyID); err != nil {
				return fmt.Errorf("failed to archive character: %w", err)
			}
			archived = true
			if err := m.events.PublishCharacterLeft(ctx, storyID, characterID); err != nil {
				m.logger.Warn("Failed to publish event", "event", "character.left", "error", err)
			}
		}
		var err error
		result, err = c.CheckRound(ctx)
		return err
	})
	return result, err
}

// Restart trims the transcript back to its opening messages and retires
// the in-memory session so the next access rebuilds the narrator's context.
// The trim waits for any narration in flight; operations that queued
// behind it move to the rebuilt session.
func (m *Manager) Restart(ctx context.Context, storyID uuid.UUID) (int, error) {
	var removed int
	for attempt := 1; ; attempt++ {
		c, err := m.coordinator(ctx, storyID)
		if err != nil {
			return 0, err
		}
		err = m.withLock(ctx, storyID, func(ctx context.Context) error {
			return c.Retire(ctx, func(ctx context.Context) error {
				s, err := m.store.LoadStory(ctx, storyID)
				if err != nil {
					return fmt.Errorf("failed to load story: %w", err)
				}
				if s.IsCompleted() {
					return ErrStoryCompleted
				}
				if removed, err = m.store.RestartStory(ctx, storyID, RestartKeepMessages); err != nil {
					return fmt.Errorf("failed to restart story: %w", err)
				}
				m.evictIf(storyID, c)
				return nil
			})
		})
		if err == nil {
			break
		}
		if !errors.Is(err, errSessionClosed) || attempt == sessionAttempts {
			return 0, err
		}
		m.evictIf(storyID, c)
	}

	if err := m.events.PublishStoryRestarted(ctx, storyID, removed); err != nil {
		m.logger.Warn("Failed to publish event", "event", "story.restarted", "error", err)
	}
	m.logger.Info("Story restarted", "story_id", storyID.String(), "removed_messages", removed)
	return removed, nil
}

// Vote moves one karma point from the voter to (or against) another
// character in the same story.
func (m *Manager) Vote(ctx context.Context, storyID uuid.UUID, userID string, targetID uuid.UUID, upvote bool) error {
	voter, err := m.activeCharacter(ctx, storyID, userID)
	if err != nil {
		return err
	}
	if voter.ID == targetID {
		return fmt.Errorf("%w: characters cannot vote for themselves", ErrInvalidVote)
	}

	target, err := m.store.GetCharacter(ctx, targetID)
	if err != nil {
		return fmt.Errorf("failed to load target character: %w", err)
	}
	if target.StoryID != storyID {
		return fmt.Errorf("%w: target is not part of this story", ErrInvalidVote)
	}

	points, reason := 1, reasonUpvote
	if !upvote {
		points, reason = -1, reasonDownvote
	}
	err = m.store.Vote(ctx, story.Vote{
		VoterID:    voter.ID,
		TargetID:   target.ID,
		Points:     points,
		Reason:     reason,
		CostReason: reasonVoteCost,
	})
	switch {
	case errors.Is(err, storage.ErrNoKarma):
		return fmt.Errorf("%w: no karma points left to vote with", ErrInvalidVote)
	case err != nil:
		return fmt.Errorf("failed to record vote: %w", err)
	}

	m.logger.Info("Vote recorded", "story_id", storyID.String(), "voter_id", voter.ID.String(), "target_id", target.ID.String(), "upvote", upvote)
	return nil
}

// Progress estimates how far along the story's running narration is.
func (m *Manager) Progress(ctx context.Context, storyID uuid.UUID, waitStart time.Time) (float64, error) {
	c, err := m.coordinator(ctx, storyID)
	if err != nil {
		return 0, err
	}
	return c.Progress(waitStart), nil
}

// RoundStatus reports the open round without starting a session.
func (m *Manager) RoundStatus(ctx context.Context, storyID uuid.UUID) (*RoundStatus, error) {
	c, err := m.coordinator(ctx, storyID)
	if err != nil {
		return nil, err
	}
	return c.Status(ctx)
}
