package session

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pburglin/EpicSagaBuilder/internal/narration"
	"github.com/pburglin/EpicSagaBuilder/pkg/storage"
	"github.com/pburglin/EpicSagaBuilder/pkg/story"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

// mockNarrator returns scripted narrations and records every prompt.
type mockNarrator struct {
	mu           sync.Mutex
	Prompts      []string
	ForgetCalls  int
	GenerateFunc func(ctx context.Context, prompt, style string) narration.Result
}

func (m *mockNarrator) GenerateNarration(ctx context.Context, prompt, style string) narration.Result {
	m.mu.Lock()
	m.Prompts = append(m.Prompts, prompt)
	fn := m.GenerateFunc
	m.mu.Unlock()
	if fn != nil {
		return fn(ctx, prompt, style)
	}
	return narration.Result{Text: "The story moves forward."}
}

func (m *mockNarrator) EstimateProgress(time.Time) float64 { return 0.5 }

func (m *mockNarrator) Forget() {
	m.mu.Lock()
	m.ForgetCalls++
	m.mu.Unlock()
}

func (m *mockNarrator) Forgotten() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ForgetCalls
}

func (m *mockNarrator) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Prompts)
}

// recordingPublisher keeps the names of published events in order.
type recordingPublisher struct {
	mu     sync.Mutex
	events []string
}

func (r *recordingPublisher) add(name string) error {
	r.mu.Lock()
	r.events = append(r.events, name)
	r.mu.Unlock()
	return nil
}

func (r *recordingPublisher) Events() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

func (r *recordingPublisher) PublishMessageCreated(ctx context.Context, msg *story.Message) error {
	return r.add("message.created")
}
func (r *recordingPublisher) PublishRoundCompleted(ctx context.Context, storyID uuid.UUID, actions int) error {
	return r.add("round.completed")
}
func (r *recordingPublisher) PublishNarrationFailed(ctx context.Context, storyID uuid.UUID, reason string) error {
	return r.add("narration.failed")
}
func (r *recordingPublisher) PublishStoryCompleted(ctx context.Context, storyID uuid.UUID) error {
	return r.add("story.completed")
}
func (r *recordingPublisher) PublishCharacterJoined(ctx context.Context, c *story.Character) error {
	return r.add("character.joined")
}
func (r *recordingPublisher) PublishCharacterLeft(ctx context.Context, storyID, characterID uuid.UUID) error {
	return r.add("character.left")
}
func (r *recordingPublisher) PublishStoryRestarted(ctx context.Context, storyID uuid.UUID, removed int) error {
	return r.add("story.restarted")
}

func (r *recordingPublisher) count(name string) int {
	n := 0
	for _, e := range r.Events() {
		if e == name {
			n++
		}
	}
	return n
}

type coordFixture struct {
	store      *storage.MockStorage
	narrator   *mockNarrator
	events     *recordingPublisher
	story      *story.Story
	characters []story.Character
	coord      *Coordinator
}

func newCoordFixture(t *testing.T, names ...string) *coordFixture {
	t.Helper()
	ctx := context.Background()
	store := storage.NewMockStorage()

	s := &story.Story{
		ID:            uuid.New(),
		Title:         "The Sunken Keep",
		MainQuest:     "Recover the drowned crown",
		StartingScene: "Rain hammers the causeway.",
		MaxAuthors:    len(names) + 2,
		ImageStyle:    "ink",
	}
	for i, name := range names {
		s.Characters = append(s.Characters, story.Character{
			ID:     uuid.New(),
			UserID: "user-" + name,
			Name:   name,
			Status: story.CharacterActive,
		})
		s.Characters[i].StoryID = s.ID
	}
	require.NoError(t, store.CreateStory(ctx, s))

	f := &coordFixture{
		store:      store,
		narrator:   &mockNarrator{},
		events:     &recordingPublisher{},
		story:      s,
		characters: s.Characters,
	}
	f.coord = NewCoordinator(s, store, f.narrator, f.events, testLogger())
	require.NoError(t, f.coord.Start(ctx))
	return f
}

func (f *coordFixture) id(i int) uuid.UUID { return f.characters[i].ID }

func TestCoordinator_Start(t *testing.T) {
	f := newCoordFixture(t, "Aria")

	assert.Equal(t, AwaitingActions, f.coord.State())
	_, open := f.store.OpenRound(f.story.ID)
	assert.True(t, open)

	// A second start is a no-op.
	require.NoError(t, f.coord.Start(context.Background()))
	assert.Equal(t, 1, f.store.Calls("StartRound"))
}

func TestCoordinator_Start_UsesLastNarration(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMockStorage()
	s := &story.Story{ID: uuid.New(), Title: "T", StartingScene: "Opening.", MaxAuthors: 2}
	c := story.Character{ID: uuid.New(), StoryID: s.ID, UserID: "u", Name: "Aria", Status: story.CharacterActive}
	s.Characters = []story.Character{c}
	require.NoError(t, store.CreateStory(ctx, s))
	_, err := store.AppendMessage(ctx, s.ID, story.NewMessage{Type: story.MessageNarrator, Content: story.PlainText("The gate opens.")})
	require.NoError(t, err)

	narrator := &mockNarrator{}
	coord := NewCoordinator(s, store, narrator, nil, testLogger())
	require.NoError(t, coord.Start(ctx))

	_, err = coord.SubmitAction(ctx, c.ID, "I step through.")
	require.NoError(t, err)
	require.Len(t, narrator.Prompts, 1)
	assert.Contains(t, narrator.Prompts[0], "The gate opens.")
	assert.NotContains(t, narrator.Prompts[0], "Opening.")
}

func TestCoordinator_RoundClosesWhenAllActed(t *testing.T) {
	ctx := context.Background()
	f := newCoordFixture(t, "Aria", "Borin", "Cade")

	for i := 0; i < 2; i++ {
		res, err := f.coord.SubmitAction(ctx, f.id(i), "action")
		require.NoError(t, err)
		assert.False(t, res.RoundClosed)
		assert.Equal(t, i+1, res.PendingCount)
		assert.Equal(t, 3, res.RequiredCount)
	}
	assert.Equal(t, 0, f.narrator.CallCount())
	assert.True(t, f.coord.IsWaitingForAction(f.id(2)))
	assert.False(t, f.coord.IsWaitingForAction(f.id(0)))

	res, err := f.coord.SubmitAction(ctx, f.id(2), "final action")
	require.NoError(t, err)
	assert.True(t, res.RoundClosed)
	require.NotNil(t, res.Narration)
	assert.Equal(t, story.MessageNarrator, res.Narration.Type)
	assert.Equal(t, 0, res.PendingCount)
	assert.Equal(t, 1, f.narrator.CallCount())
	assert.Equal(t, AwaitingActions, f.coord.State())
	assert.Equal(t, 1, f.events.count("round.completed"))
	assert.Equal(t, 4, f.events.count("message.created"))

	messages, err := f.store.LoadMessages(ctx, f.story.ID)
	require.NoError(t, err)
	require.Len(t, messages, 4)
	assert.Equal(t, story.MessageNarrator, messages[3].Type)

	// A new round was opened.
	assert.Equal(t, 2, f.store.Calls("StartRound"))
}

func TestCoordinator_ResubmissionReplacesAction(t *testing.T) {
	ctx := context.Background()
	f := newCoordFixture(t, "Aria", "Borin")

	_, err := f.coord.SubmitAction(ctx, f.id(0), "I draw my sword.")
	require.NoError(t, err)
	res, err := f.coord.SubmitAction(ctx, f.id(0), "I sheathe it again.")
	require.NoError(t, err)
	assert.False(t, res.RoundClosed)
	assert.Equal(t, 1, res.PendingCount)

	_, err = f.coord.SubmitAction(ctx, f.id(1), "I watch.")
	require.NoError(t, err)
	require.Len(t, f.narrator.Prompts, 1)
	assert.Contains(t, f.narrator.Prompts[0], "I sheathe it again.")
	assert.NotContains(t, f.narrator.Prompts[0], "I draw my sword.")
}

func TestCoordinator_SubmitAction_Rejections(t *testing.T) {
	ctx := context.Background()
	f := newCoordFixture(t, "Aria", "Borin")

	_, err := f.coord.SubmitAction(ctx, f.id(0), "   ")
	assert.ErrorIs(t, err, ErrEmptyAction)

	_, err = f.coord.SubmitAction(ctx, uuid.New(), "who am I")
	assert.ErrorIs(t, err, ErrCharacterInactive)
	assert.ErrorIs(t, err, ErrInvalidRoundState)

	require.NoError(t, f.store.ArchiveCharacter(ctx, f.id(1), f.story.ID))
	_, err = f.coord.SubmitAction(ctx, f.id(1), "I am gone")
	assert.ErrorIs(t, err, ErrCharacterInactive)
}

func TestCoordinator_StoreFailureLeavesPendingUntouched(t *testing.T) {
	ctx := context.Background()
	f := newCoordFixture(t, "Aria", "Borin")

	f.store.SetError("AppendMessage", storage.ErrStoreFailure)
	_, err := f.coord.SubmitAction(ctx, f.id(0), "I climb.")
	assert.ErrorIs(t, err, storage.ErrStoreFailure)
	assert.Equal(t, 0, f.coord.PendingCount())
	assert.Empty(t, f.events.Events())

	f.store.SetError("AppendMessage", nil)
	res, err := f.coord.SubmitAction(ctx, f.id(0), "I climb.")
	require.NoError(t, err)
	assert.Equal(t, 1, res.PendingCount)
}

func TestCoordinator_DepartureCompletesRound(t *testing.T) {
	ctx := context.Background()
	f := newCoordFixture(t, "Aria", "Borin", "Cade")

	_, err := f.coord.SubmitAction(ctx, f.id(0), "I hold the door.")
	require.NoError(t, err)
	_, err = f.coord.SubmitAction(ctx, f.id(1), "I light a torch.")
	require.NoError(t, err)

	require.NoError(t, f.store.ArchiveCharacter(ctx, f.id(2), f.story.ID))
	res, err := f.coord.CheckRound(ctx)
	require.NoError(t, err)
	assert.True(t, res.RoundClosed)
	assert.Equal(t, 2, res.RequiredCount)
	assert.Equal(t, 1, f.narrator.CallCount())
}

func TestCoordinator_DepartedPendingActionIsDropped(t *testing.T) {
	ctx := context.Background()
	f := newCoordFixture(t, "Aria", "Borin", "Cade")

	_, err := f.coord.SubmitAction(ctx, f.id(0), "I vanish into the mist.")
	require.NoError(t, err)
	require.NoError(t, f.store.ArchiveCharacter(ctx, f.id(0), f.story.ID))

	res, err := f.coord.CheckRound(ctx)
	require.NoError(t, err)
	assert.False(t, res.RoundClosed)
	assert.Equal(t, 0, res.PendingCount)

	_, err = f.coord.SubmitAction(ctx, f.id(1), "I search.")
	require.NoError(t, err)
	res, err = f.coord.SubmitAction(ctx, f.id(2), "I wait.")
	require.NoError(t, err)
	assert.True(t, res.RoundClosed)
	require.Len(t, f.narrator.Prompts, 1)
	assert.NotContains(t, f.narrator.Prompts[0], "I vanish into the mist.")
}

func TestCoordinator_FallbackKeepsPendingAndRetries(t *testing.T) {
	ctx := context.Background()
	f := newCoordFixture(t, "Aria", "Borin")

	f.narrator.GenerateFunc = func(ctx context.Context, prompt, style string) narration.Result {
		return narration.Result{Text: narration.DefaultFallbackText, Fallback: true}
	}
	_, err := f.coord.SubmitAction(ctx, f.id(0), "I leap.")
	require.NoError(t, err)
	res, err := f.coord.SubmitAction(ctx, f.id(1), "I follow.")
	require.NoError(t, err)

	assert.True(t, res.Fallback)
	assert.False(t, res.RoundClosed)
	assert.Equal(t, narration.DefaultFallbackText, res.Notice)
	assert.Equal(t, 2, res.PendingCount)
	assert.Equal(t, AwaitingActions, f.coord.State())
	assert.Equal(t, 1, f.events.count("narration.failed"))

	messages, err := f.store.LoadMessages(ctx, f.story.ID)
	require.NoError(t, err)
	assert.Len(t, messages, 2, "fallback text is never persisted")

	f.narrator.GenerateFunc = nil
	res, err = f.coord.RetryRound(ctx)
	require.NoError(t, err)
	assert.True(t, res.RoundClosed)
	assert.Equal(t, 0, res.PendingCount)
	assert.Equal(t, 2, f.narrator.CallCount())
}

func TestCoordinator_RetryWithoutCompleteRound(t *testing.T) {
	ctx := context.Background()
	f := newCoordFixture(t, "Aria", "Borin")

	_, err := f.coord.RetryRound(ctx)
	assert.ErrorIs(t, err, ErrNothingToRetry)

	_, err = f.coord.SubmitAction(ctx, f.id(0), "I leap.")
	require.NoError(t, err)
	_, err = f.coord.RetryRound(ctx)
	assert.ErrorIs(t, err, ErrNothingToRetry)
	assert.Equal(t, 0, f.narrator.CallCount())
}

func TestCoordinator_NarrationPersistFailure(t *testing.T) {
	ctx := context.Background()
	f := newCoordFixture(t, "Aria")

	f.narrator.GenerateFunc = func(ctx context.Context, prompt, style string) narration.Result {
		f.store.SetError("AppendMessage", storage.ErrStoreFailure)
		return narration.Result{Text: "The roof caves in."}
	}
	_, err := f.coord.SubmitAction(ctx, f.id(0), "I pull the lever.")
	assert.ErrorIs(t, err, storage.ErrStoreFailure)
	assert.Equal(t, AwaitingActions, f.coord.State())
	assert.Equal(t, 1, f.coord.PendingCount())
	assert.Equal(t, 1, f.narrator.Forgotten(), "unsaved narration is dropped from the context")

	f.store.SetError("AppendMessage", nil)
	f.narrator.GenerateFunc = nil
	res, err := f.coord.RetryRound(ctx)
	require.NoError(t, err)
	assert.True(t, res.RoundClosed)
}

func TestCoordinator_LateSubmissionJoinsNextRound(t *testing.T) {
	ctx := context.Background()
	f := newCoordFixture(t, "Aria", "Borin")

	started := make(chan struct{})
	release := make(chan struct{})
	f.narrator.GenerateFunc = func(ctx context.Context, prompt, style string) narration.Result {
		close(started)
		<-release
		return narration.Result{Text: "The tide rises."}
	}

	_, err := f.coord.SubmitAction(ctx, f.id(0), "I swim.")
	require.NoError(t, err)

	done := make(chan *RoundResult, 1)
	go func() {
		res, err := f.coord.SubmitAction(ctx, f.id(1), "I dive.")
		assert.NoError(t, err)
		done <- res
	}()
	<-started
	assert.Equal(t, Narrating, f.coord.State())

	late := make(chan *RoundResult, 1)
	go func() {
		res, err := f.coord.SubmitAction(ctx, f.id(0), "I surface.")
		assert.NoError(t, err)
		late <- res
	}()

	close(release)
	first := <-done
	assert.True(t, first.RoundClosed)

	second := <-late
	assert.False(t, second.RoundClosed)
	assert.Equal(t, 1, second.PendingCount)
	assert.True(t, f.coord.IsWaitingForAction(f.id(1)))
}

func TestCoordinator_RoundActionsAudited(t *testing.T) {
	ctx := context.Background()
	f := newCoordFixture(t, "Aria", "Borin")
	roundID, ok := f.store.OpenRound(f.story.ID)
	require.True(t, ok)

	_, err := f.coord.SubmitAction(ctx, f.id(0), "one")
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{f.id(0)}, f.store.RoundActions(roundID))

	// An audit failure does not block the submission.
	f.store.SetError("RecordRoundAction", errors.New("audit down"))
	res, err := f.coord.SubmitAction(ctx, f.id(1), "two")
	require.NoError(t, err)
	assert.True(t, res.RoundClosed)
}

func TestCoordinator_CompleteStory(t *testing.T) {
	ctx := context.Background()
	f := newCoordFixture(t, "Aria", "Borin")
	f.narrator.GenerateFunc = func(ctx context.Context, prompt, style string) narration.Result {
		return narration.Result{Text: "And so the crown was returned.", ImageURL: "https://img.example/finale"}
	}

	_, err := f.coord.SubmitAction(ctx, f.id(1), "pending action")
	require.NoError(t, err)

	res, err := f.coord.CompleteStory(ctx, f.id(0))
	require.NoError(t, err)
	assert.Equal(t, Completed, f.coord.State())
	assert.Equal(t, "completed", res.State)
	assert.Equal(t, 0, res.PendingCount)
	require.NotNil(t, res.Message)
	assert.Equal(t, story.CompletionAnnouncement("Aria"), res.Message.Text())
	require.NotNil(t, res.Narration)
	assert.True(t, story.IsFinale(res.Narration.Text()))
	assert.Equal(t, "https://img.example/finale", res.Narration.Content.Image())

	stored, err := f.store.LoadStory(ctx, f.story.ID)
	require.NoError(t, err)
	assert.True(t, stored.IsCompleted())

	_, err = f.coord.SubmitAction(ctx, f.id(1), "too late")
	assert.ErrorIs(t, err, ErrStoryCompleted)
	_, err = f.coord.CompleteStory(ctx, f.id(0))
	assert.ErrorIs(t, err, ErrStoryCompleted)
	_, err = f.coord.RetryRound(ctx)
	assert.ErrorIs(t, err, ErrStoryCompleted)
	assert.False(t, f.coord.IsWaitingForAction(f.id(1)))
}

func TestCoordinator_CompleteStory_FallbackKeepsState(t *testing.T) {
	ctx := context.Background()
	f := newCoordFixture(t, "Aria")
	f.narrator.GenerateFunc = func(ctx context.Context, prompt, style string) narration.Result {
		return narration.Result{Text: narration.DefaultFallbackText, Fallback: true}
	}

	res, err := f.coord.CompleteStory(ctx, f.id(0))
	require.NoError(t, err)
	assert.True(t, res.Fallback)
	assert.Nil(t, res.Narration)
	assert.Equal(t, AwaitingActions, f.coord.State())

	messages, err := f.store.LoadMessages(ctx, f.story.ID)
	require.NoError(t, err)
	require.Len(t, messages, 1)
	assert.False(t, story.IsFinale(messages[0].Text()))
}

func TestCoordinator_CompleteStory_StatusWriteFailure(t *testing.T) {
	ctx := context.Background()
	f := newCoordFixture(t, "Aria")
	f.store.SetError("SetStoryStatus", storage.ErrStoreFailure)

	_, err := f.coord.CompleteStory(ctx, f.id(0))
	assert.ErrorIs(t, err, storage.ErrStoreFailure)
	assert.Equal(t, AwaitingActions, f.coord.State())
	assert.Equal(t, 1, f.narrator.Forgotten())

	stored, err := f.store.LoadStory(ctx, f.story.ID)
	require.NoError(t, err)
	assert.False(t, stored.IsCompleted())

	f.store.SetError("SetStoryStatus", nil)
	res, err := f.coord.SubmitAction(ctx, f.id(0), "I keep going.")
	require.NoError(t, err)
	assert.True(t, res.RoundClosed)
}

func TestCoordinator_ConcurrentSubmissions(t *testing.T) {
	ctx := context.Background()
	names := []string{"Aria", "Borin", "Cade", "Dara", "Eld", "Fenn", "Gro", "Hale"}
	f := newCoordFixture(t, names...)

	var wg sync.WaitGroup
	for i := range names {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := f.coord.SubmitAction(ctx, f.id(i), "I act.")
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, f.narrator.CallCount(), "exactly one narration per round")
	assert.Equal(t, 0, f.coord.PendingCount())
	assert.Equal(t, AwaitingActions, f.coord.State())
	assert.Equal(t, 1, f.events.count("round.completed"))

	messages, err := f.store.LoadMessages(ctx, f.story.ID)
	require.NoError(t, err)
	narrations := 0
	for _, m := range messages {
		if m.Type == story.MessageNarrator {
			narrations++
		}
	}
	assert.Equal(t, 1, narrations)
}

func TestCoordinator_Retire(t *testing.T) {
	ctx := context.Background()
	f := newCoordFixture(t, "Aria", "Borin")
	_, err := f.coord.SubmitAction(ctx, f.id(0), "I wait.")
	require.NoError(t, err)

	failed := errors.New("trim failed")
	err = f.coord.Retire(ctx, func(context.Context) error { return failed })
	assert.ErrorIs(t, err, failed)
	assert.Equal(t, AwaitingActions, f.coord.State(), "a failed retire keeps the session")

	ran := false
	require.NoError(t, f.coord.Retire(ctx, func(context.Context) error {
		ran = true
		return nil
	}))
	assert.True(t, ran)
	assert.Equal(t, Closed, f.coord.State())
	assert.Equal(t, 0, f.coord.PendingCount())

	_, err = f.coord.SubmitAction(ctx, f.id(1), "hello?")
	assert.ErrorIs(t, err, errSessionClosed)
	_, err = f.coord.CheckRound(ctx)
	assert.ErrorIs(t, err, errSessionClosed)
	_, err = f.coord.CompleteStory(ctx, f.id(0))
	assert.ErrorIs(t, err, errSessionClosed)
	assert.ErrorIs(t, f.coord.Start(ctx), errSessionClosed)
	assert.ErrorIs(t, f.coord.Retire(ctx, func(context.Context) error { return nil }), errSessionClosed)
}

func TestCoordinator_RetireWaitsForNarration(t *testing.T) {
	ctx := context.Background()
	f := newCoordFixture(t, "Aria")

	started := make(chan struct{})
	release := make(chan struct{})
	f.narrator.GenerateFunc = func(ctx context.Context, prompt, style string) narration.Result {
		close(started)
		<-release
		return narration.Result{Text: "The vault opens."}
	}

	done := make(chan error, 1)
	go func() {
		_, err := f.coord.SubmitAction(ctx, f.id(0), "I turn the key.")
		done <- err
	}()
	<-started

	retired := make(chan struct{})
	go func() {
		assert.NoError(t, f.coord.Retire(ctx, func(context.Context) error {
			messages, err := f.store.LoadMessages(ctx, f.story.ID)
			assert.NoError(t, err)
			assert.Len(t, messages, 2, "the round finished before the retire ran")
			return nil
		}))
		close(retired)
	}()

	select {
	case <-retired:
		t.Fatal("retire ran while narration was in flight")
	case <-time.After(20 * time.Millisecond):
	}
	close(release)
	require.NoError(t, <-done)
	<-retired
	assert.Equal(t, Closed, f.coord.State())
}

func TestCoordinator_NoticesCompletionElsewhere(t *testing.T) {
	ctx := context.Background()
	f := newCoordFixture(t, "Aria")
	require.NoError(t, f.store.SetStoryStatus(ctx, f.story.ID, story.StatusCompleted))

	_, err := f.coord.SubmitAction(ctx, f.id(0), "hello?")
	assert.ErrorIs(t, err, ErrStoryCompleted)
	assert.Equal(t, Completed, f.coord.State())
}

func TestCoordinator_CompletedStoryStartsCompleted(t *testing.T) {
	s := &story.Story{ID: uuid.New(), Status: story.StatusCompleted}
	coord := NewCoordinator(s, storage.NewMockStorage(), &mockNarrator{}, nil, testLogger())
	require.NoError(t, coord.Start(context.Background()))
	assert.Equal(t, Completed, coord.State())
}

func TestCoordinator_Status(t *testing.T) {
	ctx := context.Background()
	f := newCoordFixture(t, "Aria", "Borin")

	_, err := f.coord.SubmitAction(ctx, f.id(1), "I wait.")
	require.NoError(t, err)

	status, err := f.coord.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, "awaiting_actions", status.State)
	assert.Equal(t, 1, status.PendingCount)
	assert.Equal(t, 2, status.RequiredCount)
	assert.Equal(t, []uuid.UUID{f.id(1)}, status.Submitted)
	assert.Equal(t, []uuid.UUID{f.id(0)}, status.Waiting)

	idle := NewCoordinator(f.story, f.store, f.narrator, nil, testLogger())
	status, err = idle.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, "idle", status.State)
	assert.Len(t, status.Waiting, 2)

	required, err := f.coord.RequiredCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, required)
	assert.Equal(t, 0.5, f.coord.Progress(time.Now()))
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "idle", Idle.String())
	assert.Equal(t, "awaiting_actions", AwaitingActions.String())
	assert.Equal(t, "narrating", Narrating.String())
	assert.Equal(t, "completed", Completed.String())
	assert.Equal(t, "closed", Closed.String())
	assert.Equal(t, "state(9)", State(9).String())
}
