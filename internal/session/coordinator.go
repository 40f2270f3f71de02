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

	"github.com/pburglin/EpicSagaBuilder/internal/narration"
	"github.com/pburglin/EpicSagaBuilder/pkg/prompts"
	"github.com/pburglin/EpicSagaBuilder/pkg/storage"
	"github.com/pburglin/EpicSagaBuilder/pkg/story"
)

var (
	// ErrInvalidRoundState is returned for actions the round state machine
	// cannot accept.
	ErrInvalidRoundState = errors.New("invalid round state")
	ErrStoryCompleted    = fmt.Errorf("%w: story is completed", ErrInvalidRoundState)
	ErrCharacterInactive = fmt.Errorf("%w: character is not active in this story", ErrInvalidRoundState)
	ErrNothingToRetry    = fmt.Errorf("%w: no complete round is waiting for narration", ErrInvalidRoundState)
	ErrEmptyAction       = errors.New("action text is empty")

	// errSessionClosed marks a coordinator retired by a restart. The
	// manager answers it by moving to a fresh coordinator.
	errSessionClosed = fmt.Errorf("%w: session closed", ErrInvalidRoundState)
)

type State int

const (
	Idle State = iota
	AwaitingActions
	Narrating
	Completed
	Closed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case AwaitingActions:
		return "awaiting_actions"
	case Narrating:
		return "narrating"
	case Completed:
		return "completed"
	case Closed:
		return "closed"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Narrator produces narrator turns for one story.
type Narrator interface {
	GenerateNarration(ctx context.Context, prompt, imageStyle string) narration.Result
	EstimateProgress(waitStart time.Time) float64
	// Forget drops the last narrated exchange from the narrator's context.
	Forget()
}

// RoundResult reports what a coordinator operation did.
type RoundResult struct {
	State         string         `json:"state"`
	Message       *story.Message `json:"message,omitempty"`
	RoundClosed   bool           `json:"round_closed"`
	Narration     *story.Message `json:"narration,omitempty"`
	Fallback      bool           `json:"fallback"`
	Notice        string         `json:"notice,omitempty"`
	PendingCount  int            `json:"pending_count"`
	RequiredCount int            `json:"required_count"`
}

// RoundStatus is a read-only view of the open round.
type RoundStatus struct {
	State         string      `json:"state"`
	PendingCount  int         `json:"pending_count"`
	RequiredCount int         `json:"required_count"`
	Submitted     []uuid.UUID `json:"submitted"`
	Waiting       []uuid.UUID `json:"waiting"`
}

type pendingAction struct {
	character story.Character
	text      string
}

// Coordinator runs the round state machine for one story. opMu serialises
// whole operations, narration included, so a submission that arrives while
// a round is being narrated waits and then joins the next round. stateMu
// guards the fields read by the query helpers.
type Coordinator struct {
	storyID  uuid.UUID
	store    storage.Storage
	narrator Narrator
	events   Publisher
	logger   *slog.Logger

	opMu sync.Mutex

	stateMu      sync.RWMutex
	state        State
	pending      map[uuid.UUID]pendingAction
	order        []uuid.UUID
	roundID      uuid.UUID
	currentScene string
}

func NewCoordinator(s *story.Story, store storage.Storage, narrator Narrator, events Publisher, logger *slog.Logger) *Coordinator {
	if events == nil {
		events = NopPublisher{}
	}
	state := Idle
	if s.IsCompleted() {
		state = Completed
	}
	return &Coordinator{
		storyID:      s.ID,
		store:        store,
		narrator:     narrator,
		events:       events,
		logger:       logger.With("story_id", s.ID.String()),
		state:        state,
		pending:      make(map[uuid.UUID]pendingAction),
		currentScene: s.StartingScene,
	}
}

// Start opens the first round. The scene is the last narration on record,
// or the starting scene for a new story. Start is a no-op unless Idle.
func (c *Coordinator) Start(ctx context.Context) error {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	switch c.State() {
	case Idle:
	case Closed:
		return errSessionClosed
	default:
		return nil
	}

	messages, err := c.store.LoadMessages(ctx, c.storyID)
	if err != nil {
		return fmt.Errorf("failed to load messages: %w", err)
	}
	scene := ""
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Type == story.MessageNarrator {
			scene = messages[i].Text()
			break
		}
	}

	roundID, err := c.store.StartRound(ctx, c.storyID)
	if err != nil {
		return fmt.Errorf("failed to start round: %w", err)
	}

	c.stateMu.Lock()
	if scene != "" {
		c.currentScene = scene
	}
	c.roundID = roundID
	c.state = AwaitingActions
	c.stateMu.Unlock()

	c.logger.Info("Session started", "round_id", roundID.String())
	return nil
}

// SubmitAction records a character's action for the open round and
// narrates the round once every active character has acted.
func (c *Coordinator) SubmitAction(ctx context.Context, characterID uuid.UUID, text string) (*RoundResult, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, ErrEmptyAction
	}

	c.opMu.Lock()
	defer c.opMu.Unlock()

	s, err := c.loadForAction(ctx)
	if err != nil {
		return nil, err
	}
	character, ok := s.FindCharacter(characterID)
	if !ok || !character.IsActive() {
		return nil, ErrCharacterInactive
	}

	// Persist first: a store failure must leave the pending map untouched.
	msg, err := c.store.AppendMessage(ctx, c.storyID, story.NewMessage{
		Type:        story.MessageCharacter,
		CharacterID: &character.ID,
		Content:     story.PlainText(text),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to persist action: %w", err)
	}
	c.publish("message.created", c.events.PublishMessageCreated(ctx, msg))

	active := s.ActiveCharacters()
	c.stateMu.Lock()
	if _, seen := c.pending[character.ID]; !seen {
		c.order = append(c.order, character.ID)
	}
	c.pending[character.ID] = pendingAction{character: character, text: text}
	roundID := c.roundID
	c.stateMu.Unlock()

	if err := c.store.RecordRoundAction(ctx, roundID, character.ID); err != nil {
		c.logger.Warn("Failed to record round action", "round_id", roundID.String(), "character_id", character.ID.String(), "error", err)
	}

	result := &RoundResult{Message: msg}
	return c.closeIfComplete(ctx, s, active, result, false)
}

// CheckRound narrates the round if the pending actions already cover every
// active character. It is called after a departure so the party never
// waits on someone who left.
func (c *Coordinator) CheckRound(ctx context.Context) (*RoundResult, error) {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	switch c.State() {
	case AwaitingActions:
	case Closed:
		return nil, errSessionClosed
	default:
		return c.snapshotResult(&RoundResult{}, 0), nil
	}
	s, err := c.store.LoadStory(ctx, c.storyID)
	if err != nil {
		return nil, fmt.Errorf("failed to load story: %w", err)
	}
	if s.IsCompleted() {
		c.setState(Completed)
		return c.snapshotResult(&RoundResult{}, 0), nil
	}
	return c.closeIfComplete(ctx, s, s.ActiveCharacters(), &RoundResult{}, false)
}

// RetryRound narrates a complete round whose previous narration fell back.
func (c *Coordinator) RetryRound(ctx context.Context) (*RoundResult, error) {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	s, err := c.loadForAction(ctx)
	if err != nil {
		return nil, err
	}
	return c.closeIfComplete(ctx, s, s.ActiveCharacters(), &RoundResult{}, true)
}

// loadForAction checks the state and reloads the story, noticing a
// completion made by another replica.
func (c *Coordinator) loadForAction(ctx context.Context) (*story.Story, error) {
	switch state := c.State(); state {
	case AwaitingActions:
	case Completed:
		return nil, ErrStoryCompleted
	case Closed:
		return nil, errSessionClosed
	default:
		return nil, fmt.Errorf("%w: %s", ErrInvalidRoundState, state)
	}

	s, err := c.store.LoadStory(ctx, c.storyID)
	if err != nil {
		return nil, fmt.Errorf("failed to load story: %w", err)
	}
	if s.IsCompleted() {
		c.setState(Completed)
		return nil, ErrStoryCompleted
	}
	return s, nil
}

// closeIfComplete prunes departed characters from the pending set and runs
// round processing when the set covers every active character. Callers
// hold opMu.
func (c *Coordinator) closeIfComplete(ctx context.Context, s *story.Story, active []story.Character, result *RoundResult, mustClose bool) (*RoundResult, error) {
	c.stateMu.Lock()
	c.pruneLocked(active)
	pending := len(c.pending)
	c.stateMu.Unlock()

	if pending == 0 || pending < len(active) {
		if mustClose {
			return nil, ErrNothingToRetry
		}
		return c.snapshotResult(result, len(active)), nil
	}
	return c.processRound(ctx, s, result, len(active))
}

func (c *Coordinator) pruneLocked(active []story.Character) {
	keep := make(map[uuid.UUID]bool, len(active))
	for _, a := range active {
		keep[a.ID] = true
	}
	order := c.order[:0]
	for _, id := range c.order {
		if keep[id] {
			order = append(order, id)
			continue
		}
		delete(c.pending, id)
		c.logger.Debug("Dropped pending action of departed character", "character_id", id.String())
	}
	c.order = order
}

// processRound narrates the pending actions. A fallback narration keeps the
// pending actions so the round can be retried.
func (c *Coordinator) processRound(ctx context.Context, s *story.Story, result *RoundResult, required int) (*RoundResult, error) {
	c.stateMu.Lock()
	c.state = Narrating
	scene := c.currentScene
	actions := make([]prompts.CharacterAction, 0, len(c.order))
	for _, id := range c.order {
		p := c.pending[id]
		actions = append(actions, prompts.CharacterAction{Name: p.character.Name, Action: p.text})
	}
	c.stateMu.Unlock()

	c.logger.Info("Round complete, narrating", "actions", len(actions))
	res := c.narrator.GenerateNarration(ctx, prompts.Action(scene, actions), s.ImageStyle)

	if res.Fallback {
		c.setState(AwaitingActions)
		c.publish("narration.failed", c.events.PublishNarrationFailed(ctx, c.storyID, res.Text))
		result.Fallback = true
		result.Notice = res.Text
		return c.snapshotResult(result, required), nil
	}

	msg, err := c.store.AppendMessage(ctx, c.storyID, story.NewMessage{
		Type:    story.MessageNarrator,
		Content: story.NewContent(res.Text, res.ImageURL),
	})
	if err != nil {
		c.setState(AwaitingActions)
		c.narrator.Forget()
		return nil, fmt.Errorf("failed to persist narration: %w", err)
	}
	c.publish("message.created", c.events.PublishMessageCreated(ctx, msg))

	roundID, err := c.store.StartRound(ctx, c.storyID)
	if err != nil {
		// The narration is already on record; keep auditing against the old round.
		c.logger.Error("Failed to open next round", "error", err)
	}

	c.stateMu.Lock()
	c.currentScene = res.Text
	c.pending = make(map[uuid.UUID]pendingAction)
	c.order = nil
	if err == nil {
		c.roundID = roundID
	}
	c.state = AwaitingActions
	c.stateMu.Unlock()

	c.publish("round.completed", c.events.PublishRoundCompleted(ctx, c.storyID, len(actions)))

	result.RoundClosed = true
	result.Narration = msg
	return c.snapshotResult(result, required), nil
}

// CompleteStory narrates the finale and marks the stored story completed.
// A fallback or a failed write leaves the state as it was.
func (c *Coordinator) CompleteStory(ctx context.Context, characterID uuid.UUID) (*RoundResult, error) {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	prev := c.State()
	switch prev {
	case Completed:
		return nil, ErrStoryCompleted
	case Closed:
		return nil, errSessionClosed
	}
	s, err := c.store.LoadStory(ctx, c.storyID)
	if err != nil {
		return nil, fmt.Errorf("failed to load story: %w", err)
	}
	if s.IsCompleted() {
		c.setState(Completed)
		return nil, ErrStoryCompleted
	}
	character, ok := s.FindCharacter(characterID)
	if !ok || !character.IsActive() {
		return nil, ErrCharacterInactive
	}

	announcement, err := c.store.AppendMessage(ctx, c.storyID, story.NewMessage{
		Type:        story.MessageCharacter,
		CharacterID: &character.ID,
		Content:     story.PlainText(story.CompletionAnnouncement(character.Name)),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to persist completion announcement: %w", err)
	}
	c.publish("message.created", c.events.PublishMessageCreated(ctx, announcement))

	c.setState(Narrating)
	c.logger.Info("Narrating finale", "character_id", character.ID.String())
	res := c.narrator.GenerateNarration(ctx, prompts.Finale(s), s.ImageStyle)

	result := &RoundResult{Message: announcement}
	if res.Fallback {
		c.setState(prev)
		c.publish("narration.failed", c.events.PublishNarrationFailed(ctx, c.storyID, res.Text))
		result.Fallback = true
		result.Notice = res.Text
		return c.snapshotResult(result, len(s.ActiveCharacters())), nil
	}

	finale, err := c.store.AppendMessage(ctx, c.storyID, story.NewMessage{
		Type:    story.MessageNarrator,
		Content: story.NewContent(story.FormatFinale(res.Text), res.ImageURL),
	})
	if err != nil {
		c.setState(prev)
		c.narrator.Forget()
		return nil, fmt.Errorf("failed to persist finale: %w", err)
	}
	c.publish("message.created", c.events.PublishMessageCreated(ctx, finale))

	if err := c.store.SetStoryStatus(ctx, c.storyID, story.StatusCompleted); err != nil {
		c.setState(prev)
		c.narrator.Forget()
		return nil, fmt.Errorf("failed to mark story completed: %w", err)
	}

	c.stateMu.Lock()
	c.state = Completed
	c.pending = make(map[uuid.UUID]pendingAction)
	c.order = nil
	c.currentScene = res.Text
	c.stateMu.Unlock()

	result.Narration = finale
	result.RoundClosed = true
	return c.snapshotResult(result, len(s.ActiveCharacters())), nil
}

// Retire runs fn, typically a transcript rewrite, once no operation is in
// flight and then closes the coordinator for good. Every later operation
// fails with errSessionClosed. A failing fn leaves the coordinator open.
func (c *Coordinator) Retire(ctx context.Context, fn func(ctx context.Context) error) error {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	if c.State() == Closed {
		return errSessionClosed
	}
	if err := fn(ctx); err != nil {
		return err
	}

	c.stateMu.Lock()
	c.state = Closed
	c.pending = make(map[uuid.UUID]pendingAction)
	c.order = nil
	c.stateMu.Unlock()

	c.logger.Info("Session retired")
	return nil
}

// IsWaitingForAction reports whether the character still owes an action
// for the open round.
func (c *Coordinator) IsWaitingForAction(characterID uuid.UUID) bool {
	c.stateMu.RLock()
	defer c.stateMu.RUnlock()
	if c.state != AwaitingActions {
		return false
	}
	_, submitted := c.pending[characterID]
	return !submitted
}

func (c *Coordinator) PendingCount() int {
	c.stateMu.RLock()
	defer c.stateMu.RUnlock()
	return len(c.pending)
}

// RequiredCount recomputes the number of active characters from the store.
func (c *Coordinator) RequiredCount(ctx context.Context) (int, error) {
	s, err := c.store.LoadStory(ctx, c.storyID)
	if err != nil {
		return 0, fmt.Errorf("failed to load story: %w", err)
	}
	return len(s.ActiveCharacters()), nil
}

func (c *Coordinator) State() State {
	c.stateMu.RLock()
	defer c.stateMu.RUnlock()
	return c.state
}

// Progress estimates how far along a narration that began at waitStart is.
func (c *Coordinator) Progress(waitStart time.Time) float64 {
	return c.narrator.EstimateProgress(waitStart)
}

// Status describes the open round for UI feedback. It only reads; an Idle
// coordinator reports every active character as waiting.
func (c *Coordinator) Status(ctx context.Context) (*RoundStatus, error) {
	s, err := c.store.LoadStory(ctx, c.storyID)
	if err != nil {
		return nil, fmt.Errorf("failed to load story: %w", err)
	}
	active := s.ActiveCharacters()

	c.stateMu.RLock()
	defer c.stateMu.RUnlock()

	status := &RoundStatus{
		State:         c.state.String(),
		RequiredCount: len(active),
		Submitted:     make([]uuid.UUID, 0, len(c.order)),
		Waiting:       make([]uuid.UUID, 0, len(active)),
	}
	for _, a := range active {
		if _, ok := c.pending[a.ID]; ok {
			status.Submitted = append(status.Submitted, a.ID)
		} else if c.state == AwaitingActions || c.state == Idle {
			status.Waiting = append(status.Waiting, a.ID)
		}
	}
	status.PendingCount = len(status.Submitted)
	return status, nil
}

func (c *Coordinator) setState(s State) {
	c.stateMu.Lock()
	c.state = s
	c.stateMu.Unlock()
}

func (c *Coordinator) snapshotResult(r *RoundResult, required int) *RoundResult {
	c.stateMu.RLock()
	defer c.stateMu.RUnlock()
	r.State = c.state.String()
	r.PendingCount = len(c.pending)
	r.RequiredCount = required
	return r
}

func (c *Coordinator) publish(event string, err error) {
	if err != nil {
		c.logger.Warn("Failed to publish event", "event", event, "error", err)
	}
}
