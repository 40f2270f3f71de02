package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pburglin/EpicSagaBuilder/pkg/story"
)

// MockStorage is an in-memory implementation of Storage for testing.
// Errors can be injected per method with SetError.
type MockStorage struct {
	mu         sync.RWMutex
	stories    map[uuid.UUID]*story.Story
	characters map[uuid.UUID]*story.Character
	messages   map[uuid.UUID][]story.Message
	facts      map[uuid.UUID]string
	rounds     map[uuid.UUID]*story.Round
	openRound  map[uuid.UUID]uuid.UUID
	actions    map[uuid.UUID][]uuid.UUID
	karma      []story.KarmaEvent
	errors     map[string]error
	calls      map[string]int
	seq        int
	pingError  error
}

// Ensure MockStorage implements Storage interface
var _ Storage = (*MockStorage)(nil)

// NewMockStorage creates a new mock storage
func NewMockStorage() *MockStorage {
	return &MockStorage{
		stories:    make(map[uuid.UUID]*story.Story),
		characters: make(map[uuid.UUID]*story.Character),
		messages:   make(map[uuid.UUID][]story.Message),
		facts:      make(map[uuid.UUID]string),
		rounds:     make(map[uuid.UUID]*story.Round),
		openRound:  make(map[uuid.UUID]uuid.UUID),
		actions:    make(map[uuid.UUID][]uuid.UUID),
		errors:     make(map[string]error),
		calls:      make(map[string]int),
	}
}

// SetPingError configures the mock to fail on ping with the given error
func (m *MockStorage) SetPingError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pingError = err
}

// SetError makes the named method fail with err. A nil err clears it.
func (m *MockStorage) SetError(method string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		delete(m.errors, method)
		return
	}
	m.errors[method] = err
}

// Calls returns how many times the named method was invoked.
func (m *MockStorage) Calls(method string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.calls[method]
}

// RoundActions returns the characters recorded against a round.
func (m *MockStorage) RoundActions(roundID uuid.UUID) []uuid.UUID {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]uuid.UUID(nil), m.actions[roundID]...)
}

// OpenRound returns the currently open round for a story.
func (m *MockStorage) OpenRound(storyID uuid.UUID) (uuid.UUID, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.openRound[storyID]
	return id, ok
}

// KarmaEvents returns every recorded karma adjustment.
func (m *MockStorage) KarmaEvents() []story.KarmaEvent {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]story.KarmaEvent(nil), m.karma...)
}

// enter records a call and returns the injected error, if any.
// Callers must hold m.mu.
func (m *MockStorage) enter(method string) error {
	m.calls[method]++
	return m.errors[method]
}

func (m *MockStorage) Ping(ctx context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.pingError
}

// Close mocks storage close
func (m *MockStorage) Close() error {
	return nil
}

func (m *MockStorage) CreateStory(ctx context.Context, s *story.Story) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("CreateStory"); err != nil {
		return err
	}
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	if s.Status == "" {
		s.Status = story.StatusActive
	}
	if s.CreatedAt.IsZero() {
		s.CreatedAt = time.Now()
	}
	for i := range s.Characters {
		c := s.Characters[i]
		c.StoryID = s.ID
		m.characters[c.ID] = &c
	}
	cp := *s
	cp.Characters = nil
	m.stories[s.ID] = &cp
	return nil
}

func (m *MockStorage) LoadStory(ctx context.Context, storyID uuid.UUID) (*story.Story, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("LoadStory"); err != nil {
		return nil, err
	}
	return m.loadStoryLocked(storyID)
}

func (m *MockStorage) loadStoryLocked(storyID uuid.UUID) (*story.Story, error) {
	s, ok := m.stories[storyID]
	if !ok {
		return nil, fmt.Errorf("story %s: %w", storyID, ErrNotFound)
	}
	cp := *s
	cp.Characters = m.storyCharactersLocked(storyID)
	return &cp, nil
}

func (m *MockStorage) storyCharactersLocked(storyID uuid.UUID) []story.Character {
	var chars []story.Character
	for _, c := range m.characters {
		if c.StoryID == storyID {
			chars = append(chars, *c)
		}
	}
	sort.Slice(chars, func(i, j int) bool { return chars[i].Name < chars[j].Name })
	return chars
}

func (m *MockStorage) ListStories(ctx context.Context, status story.Status) ([]story.Story, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("ListStories"); err != nil {
		return nil, err
	}
	var out []story.Story
	for id, s := range m.stories {
		if status != "" && s.Status != status {
			continue
		}
		cp := *s
		cp.Characters = m.storyCharactersLocked(id)
		out = append(out, cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (m *MockStorage) SetStoryStatus(ctx context.Context, storyID uuid.UUID, status story.Status) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("SetStoryStatus"); err != nil {
		return err
	}
	s, ok := m.stories[storyID]
	if !ok {
		return fmt.Errorf("story %s: %w", storyID, ErrNotFound)
	}
	s.Status = status
	return nil
}

func (m *MockStorage) LoadStoryContextFacts(ctx context.Context, storyID uuid.UUID) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("LoadStoryContextFacts"); err != nil {
		return "", err
	}
	return m.facts[storyID], nil
}

func (m *MockStorage) SaveStoryContextFacts(ctx context.Context, storyID uuid.UUID, facts string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("SaveStoryContextFacts"); err != nil {
		return err
	}
	m.facts[storyID] = facts
	if s, ok := m.stories[storyID]; ok {
		s.StoryContext = facts
	}
	return nil
}

func (m *MockStorage) CreateCharacter(ctx context.Context, c *story.Character) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("CreateCharacter"); err != nil {
		return err
	}
	s, ok := m.stories[c.StoryID]
	if !ok {
		return fmt.Errorf("story %s: %w", c.StoryID, ErrNotFound)
	}
	for _, existing := range m.characters {
		if existing.StoryID == c.StoryID && existing.UserID == c.UserID && existing.IsActive() {
			return ErrAlreadyJoined
		}
	}
	if s.CurrentAuthors >= s.MaxAuthors {
		return ErrStoryFull
	}
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	c.Status = story.CharacterActive
	cp := *c
	m.characters[c.ID] = &cp
	s.CurrentAuthors++
	return nil
}

func (m *MockStorage) GetCharacter(ctx context.Context, characterID uuid.UUID) (*story.Character, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("GetCharacter"); err != nil {
		return nil, err
	}
	c, ok := m.characters[characterID]
	if !ok {
		return nil, fmt.Errorf("character %s: %w", characterID, ErrNotFound)
	}
	cp := *c
	return &cp, nil
}

func (m *MockStorage) FindActiveCharacter(ctx context.Context, storyID uuid.UUID, userID string) (*story.Character, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("FindActiveCharacter"); err != nil {
		return nil, err
	}
	for _, c := range m.characters {
		if c.StoryID == storyID && c.UserID == userID && c.IsActive() {
			cp := *c
			return &cp, nil
		}
	}
	return nil, fmt.Errorf("active character for user %s: %w", userID, ErrNotFound)
}

func (m *MockStorage) ArchiveCharacter(ctx context.Context, characterID, storyID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("ArchiveCharacter"); err != nil {
		return err
	}
	c, ok := m.characters[characterID]
	if !ok || c.StoryID != storyID {
		return fmt.Errorf("character %s: %w", characterID, ErrNotFound)
	}
	if !c.IsActive() {
		return nil
	}
	c.Status = story.CharacterArchived
	if s, ok := m.stories[storyID]; ok && s.CurrentAuthors > 0 {
		s.CurrentAuthors--
	}
	return nil
}

func (m *MockStorage) LoadMessages(ctx context.Context, storyID uuid.UUID) ([]story.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("LoadMessages"); err != nil {
		return nil, err
	}
	return append([]story.Message(nil), m.messages[storyID]...), nil
}

func (m *MockStorage) AppendMessage(ctx context.Context, storyID uuid.UUID, msg story.NewMessage) (*story.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("AppendMessage"); err != nil {
		return nil, err
	}
	if _, ok := m.stories[storyID]; !ok {
		return nil, fmt.Errorf("story %s: %w", storyID, ErrNotFound)
	}
	m.seq++
	stored := story.Message{
		ID:          fmt.Sprintf("%020d", m.seq),
		StoryID:     storyID,
		Type:        msg.Type,
		CharacterID: msg.CharacterID,
		Content:     msg.Content,
		CreatedAt:   time.Now(),
	}
	m.messages[storyID] = append(m.messages[storyID], stored)
	return &stored, nil
}

func (m *MockStorage) RestartStory(ctx context.Context, storyID uuid.UUID, keep int) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("RestartStory"); err != nil {
		return 0, err
	}
	msgs := m.messages[storyID]
	if len(msgs) <= keep {
		return 0, nil
	}
	m.messages[storyID] = append([]story.Message(nil), msgs[:keep]...)
	return len(msgs) - keep, nil
}

func (m *MockStorage) StartRound(ctx context.Context, storyID uuid.UUID) (uuid.UUID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("StartRound"); err != nil {
		return uuid.Nil, err
	}
	now := time.Now()
	if open, ok := m.openRound[storyID]; ok {
		m.rounds[open].ClosedAt = &now
	}
	r := &story.Round{ID: uuid.New(), StoryID: storyID, OpenedAt: now}
	m.rounds[r.ID] = r
	m.openRound[storyID] = r.ID
	return r.ID, nil
}

func (m *MockStorage) RecordRoundAction(ctx context.Context, roundID, characterID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("RecordRoundAction"); err != nil {
		return err
	}
	if _, ok := m.rounds[roundID]; !ok {
		return fmt.Errorf("round %s: %w", roundID, ErrNotFound)
	}
	m.actions[roundID] = append(m.actions[roundID], characterID)
	return nil
}

func (m *MockStorage) AddKarma(ctx context.Context, characterID uuid.UUID, points int, reason string, createdBy uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("AddKarma"); err != nil {
		return err
	}
	c, ok := m.characters[characterID]
	if !ok {
		return fmt.Errorf("character %s: %w", characterID, ErrNotFound)
	}
	c.KarmaPoints += points
	m.karma = append(m.karma, story.KarmaEvent{
		ID:          uuid.New(),
		CharacterID: characterID,
		Points:      points,
		Reason:      reason,
		CreatedBy:   createdBy,
		CreatedAt:   time.Now(),
	})
	return nil
}

func (m *MockStorage) Vote(ctx context.Context, v story.Vote) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("Vote"); err != nil {
		return err
	}
	voter, ok := m.characters[v.VoterID]
	if !ok {
		return fmt.Errorf("character %s: %w", v.VoterID, ErrNotFound)
	}
	target, ok := m.characters[v.TargetID]
	if !ok {
		return fmt.Errorf("character %s: %w", v.TargetID, ErrNotFound)
	}
	if voter.KarmaPoints <= 0 {
		return ErrNoKarma
	}
	voter.KarmaPoints--
	target.KarmaPoints += v.Points
	now := time.Now()
	m.karma = append(m.karma,
		story.KarmaEvent{ID: uuid.New(), CharacterID: v.TargetID, Points: v.Points, Reason: v.Reason, CreatedBy: v.VoterID, CreatedAt: now},
		story.KarmaEvent{ID: uuid.New(), CharacterID: v.VoterID, Points: -1, Reason: v.CostReason, CreatedBy: v.VoterID, CreatedAt: now},
	)
	return nil
}

func (m *MockStorage) StoryLeaderboard(ctx context.Context, limit int) ([]story.StoryStanding, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("StoryLeaderboard"); err != nil {
		return nil, err
	}
	var out []story.StoryStanding
	for id := range m.stories {
		s, _ := m.loadStoryLocked(id)
		total := 0
		for _, c := range s.Characters {
			total += c.KarmaPoints
		}
		out = append(out, story.StoryStanding{Story: *s, TotalKarma: total})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Story.CurrentAuthors > out[j].Story.CurrentAuthors })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].TotalKarma > out[j].TotalKarma })
	return out, nil
}

func (m *MockStorage) UserLeaderboard(ctx context.Context, limit int) ([]story.UserStanding, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("UserLeaderboard"); err != nil {
		return nil, err
	}
	totals := make(map[string]int)
	stories := make(map[string]map[uuid.UUID]bool)
	for _, c := range m.characters {
		totals[c.UserID] += c.KarmaPoints
		if stories[c.UserID] == nil {
			stories[c.UserID] = make(map[uuid.UUID]bool)
		}
		stories[c.UserID][c.StoryID] = true
	}
	out := make([]story.UserStanding, 0, len(totals))
	for user, total := range totals {
		out = append(out, story.UserStanding{UserID: user, TotalKarma: total, StoriesCount: len(stories[user])})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].TotalKarma != out[j].TotalKarma {
			return out[i].TotalKarma > out[j].TotalKarma
		}
		return out[i].UserID < out[j].UserID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
