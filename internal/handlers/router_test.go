package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pburglin/EpicSagaBuilder/internal/narration"
	"github.com/pburglin/EpicSagaBuilder/internal/services"
	"github.com/pburglin/EpicSagaBuilder/internal/services/lock"
	"github.com/pburglin/EpicSagaBuilder/internal/session"
	"github.com/pburglin/EpicSagaBuilder/pkg/storage"
	"github.com/pburglin/EpicSagaBuilder/pkg/story"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelError, // Reduce noise in tests
	}))
}

type fakeNarrator struct {
	result narration.Result
}

func (f *fakeNarrator) GenerateNarration(ctx context.Context, prompt, style string) narration.Result {
	if f.result.Text == "" {
		return narration.Result{Text: "The party presses on."}
	}
	return f.result
}

func (f *fakeNarrator) EstimateProgress(time.Time) float64 { return 42 }

func (f *fakeNarrator) Forget() {}

type fakeOptimizer struct {
	calls []string
	err   error
}

func (f *fakeOptimizer) Optimize(ctx context.Context, input string) (string, error) {
	f.calls = append(f.calls, input)
	if f.err != nil {
		return "", f.err
	}
	if strings.TrimSpace(input) == "" {
		return "", narration.ErrEmptyInput
	}
	return "Sharper: " + input, nil
}

type apiFixture struct {
	store     *storage.MockStorage
	cache     *services.MockCache
	narrator  *fakeNarrator
	optimizer *fakeOptimizer
	handler   http.Handler
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()
	f := &apiFixture{
		store:     storage.NewMockStorage(),
		cache:     services.NewMockCache(),
		narrator:  &fakeNarrator{},
		optimizer: &fakeOptimizer{},
	}
	manager := session.NewManager(f.store, func(ctx context.Context, s *story.Story) (session.Narrator, error) {
		return f.narrator, nil
	}, nil, nil, testLogger())

	f.handler = NewRouter(Dependencies{
		Store:             f.store,
		Manager:           manager,
		Optimizer:         f.optimizer,
		Cache:             f.cache,
		DefaultImageStyle: "digital painting",
		Logger:            testLogger(),
	})
	return f
}

func (f *apiFixture) do(t *testing.T, method, path, user string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if user != "" {
		req.Header.Set(UserHeader, user)
	}
	rr := httptest.NewRecorder()
	f.handler.ServeHTTP(rr, req)
	return rr
}

func (f *apiFixture) createStory(t *testing.T, maxAuthors int) story.Story {
	t.Helper()
	rr := f.do(t, http.MethodPost, "/v1/stories", "owner", CreateStoryRequest{
		Title:            "The Sunken Keep",
		Description:      "A drowned fortress.",
		MainQuest:        "Recover the crown",
		StartingScene:    "Rain hammers the causeway.",
		CharacterClasses: []string{"Warrior", "Mage"},
		CharacterRaces:   []string{"Human", "Elf"},
		MaxAuthors:       maxAuthors,
	})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	var s story.Story
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&s))
	return s
}

func (f *apiFixture) join(t *testing.T, storyID uuid.UUID, user, name string) story.Character {
	t.Helper()
	rr := f.do(t, http.MethodPost, "/v1/stories/"+storyID.String()+"/characters", user,
		session.JoinRequest{Name: name, Class: "mage", Race: "elf"})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	var c story.Character
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&c))
	return c
}

func decodeError(t *testing.T, rr *httptest.ResponseRecorder) string {
	t.Helper()
	var resp ErrorResponse
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))
	return resp.Error
}

func TestStories_CreateAndGet(t *testing.T) {
	f := newAPIFixture(t)
	s := f.createStory(t, 3)

	assert.NotEqual(t, uuid.Nil, s.ID)
	assert.Equal(t, "owner", s.CreatedBy)
	assert.Equal(t, "digital painting", s.ImageStyle)

	rr := f.do(t, http.MethodGet, "/v1/stories/"+s.ID.String(), "", nil)
	assert.Equal(t, http.StatusOK, rr.Code)

	rr = f.do(t, http.MethodGet, "/v1/stories/"+s.ID.String()+"/messages", "", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var msgs MessagesResponse
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&msgs))
	require.Len(t, msgs.Messages, 3)
	assert.Equal(t, "Starting Scene: Rain hammers the causeway.", msgs.Messages[2].Text())

	rr = f.do(t, http.MethodGet, "/v1/stories", "", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var list []story.Story
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&list))
	assert.Len(t, list, 1)
}

func TestStories_CreateRejections(t *testing.T) {
	f := newAPIFixture(t)

	rr := f.do(t, http.MethodPost, "/v1/stories", "", CreateStoryRequest{Title: "T", StartingScene: "S", MaxAuthors: 1})
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	rr = f.do(t, http.MethodPost, "/v1/stories", "owner", CreateStoryRequest{Title: "T", MaxAuthors: 1})
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Contains(t, decodeError(t, rr), "starting scene")

	rr = f.do(t, http.MethodPost, "/v1/stories", "owner", map[string]string{"bogus": "field"})
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestStories_NotFoundAndBadID(t *testing.T) {
	f := newAPIFixture(t)

	rr := f.do(t, http.MethodGet, "/v1/stories/"+uuid.New().String(), "", nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)

	rr = f.do(t, http.MethodGet, "/v1/stories/not-a-uuid", "", nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestRounds_SubmitFlow(t *testing.T) {
	f := newAPIFixture(t)
	s := f.createStory(t, 3)
	f.join(t, s.ID, "u1", "Aria")
	f.join(t, s.ID, "u2", "Borin")
	base := "/v1/stories/" + s.ID.String()

	rr := f.do(t, http.MethodPost, base+"/actions", "u1", SubmitActionRequest{Action: "I light the torch."})
	require.Equal(t, http.StatusAccepted, rr.Code, rr.Body.String())

	rr = f.do(t, http.MethodGet, base+"/round", "", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var status session.RoundStatus
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&status))
	assert.Equal(t, 1, status.PendingCount)
	assert.Equal(t, 2, status.RequiredCount)
	assert.Len(t, status.Waiting, 1)

	rr = f.do(t, http.MethodPost, base+"/actions", "u2", SubmitActionRequest{Action: "I follow."})
	require.Equal(t, http.StatusOK, rr.Code)
	var result session.RoundResult
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&result))
	assert.True(t, result.RoundClosed)
	require.NotNil(t, result.Narration)
	assert.Equal(t, "The party presses on.", result.Narration.Text())
}

func TestRounds_SubmitRejections(t *testing.T) {
	f := newAPIFixture(t)
	s := f.createStory(t, 2)
	f.join(t, s.ID, "u1", "Aria")
	path := "/v1/stories/" + s.ID.String() + "/actions"

	rr := f.do(t, http.MethodPost, path, "u1", SubmitActionRequest{Action: "  "})
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = f.do(t, http.MethodPost, path, "stranger", SubmitActionRequest{Action: "hi"})
	assert.Equal(t, http.StatusConflict, rr.Code)

	rr = f.do(t, http.MethodPost, path, "", SubmitActionRequest{Action: "hi"})
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestRounds_FallbackAndRetry(t *testing.T) {
	f := newAPIFixture(t)
	s := f.createStory(t, 2)
	f.join(t, s.ID, "u1", "Aria")
	base := "/v1/stories/" + s.ID.String()

	f.narrator.result = narration.Result{Text: narration.DefaultFallbackText, Fallback: true}
	rr := f.do(t, http.MethodPost, base+"/actions", "u1", SubmitActionRequest{Action: "I open the door."})
	require.Equal(t, http.StatusAccepted, rr.Code)
	var result session.RoundResult
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&result))
	assert.True(t, result.Fallback)
	assert.Equal(t, narration.DefaultFallbackText, result.Notice)

	f.narrator.result = narration.Result{}
	rr = f.do(t, http.MethodPost, base+"/round/retry", "", nil)
	require.Equal(t, http.StatusOK, rr.Code)

	rr = f.do(t, http.MethodPost, base+"/round/retry", "", nil)
	assert.Equal(t, http.StatusConflict, rr.Code)
}

func TestRounds_Progress(t *testing.T) {
	f := newAPIFixture(t)
	s := f.createStory(t, 2)
	base := "/v1/stories/" + s.ID.String()

	rr := f.do(t, http.MethodGet, fmt.Sprintf("%s/progress?since=%d", base, time.Now().UnixMilli()), "", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var p ProgressResponse
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&p))
	assert.Equal(t, 42.0, p.Percent)

	rr = f.do(t, http.MethodGet, base+"/progress?since=yesterday", "", nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestRounds_CompleteAndRestart(t *testing.T) {
	f := newAPIFixture(t)
	s := f.createStory(t, 2)
	f.join(t, s.ID, "u1", "Aria")
	base := "/v1/stories/" + s.ID.String()

	rr := f.do(t, http.MethodPost, base+"/actions", "u1", SubmitActionRequest{Action: "I dive."})
	require.Equal(t, http.StatusOK, rr.Code)

	rr = f.do(t, http.MethodPost, base+"/restart", "", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var restart RestartResponse
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&restart))
	assert.Equal(t, 2, restart.RemovedMessages)

	rr = f.do(t, http.MethodPost, base+"/complete", "u1", nil)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	var result session.RoundResult
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&result))
	require.NotNil(t, result.Narration)
	assert.True(t, story.IsFinale(result.Narration.Text()))

	rr = f.do(t, http.MethodPost, base+"/actions", "u1", SubmitActionRequest{Action: "encore"})
	assert.Equal(t, http.StatusConflict, rr.Code)
	rr = f.do(t, http.MethodPost, base+"/restart", "", nil)
	assert.Equal(t, http.StatusConflict, rr.Code)

	rr = f.do(t, http.MethodGet, "/v1/stories?status=completed", "", nil)
	var list []story.Story
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&list))
	assert.Len(t, list, 1)
}

func TestStories_JoinAndLeave(t *testing.T) {
	f := newAPIFixture(t)
	s := f.createStory(t, 1)
	c := f.join(t, s.ID, "u1", "Aria")
	assert.Equal(t, story.StartingKarma, c.KarmaPoints)
	base := "/v1/stories/" + s.ID.String()

	rr := f.do(t, http.MethodPost, base+"/characters", "u2", session.JoinRequest{Name: "Borin", Class: "Mage", Race: "Elf"})
	assert.Equal(t, http.StatusConflict, rr.Code, "story is full")

	rr = f.do(t, http.MethodPost, base+"/characters", "u2", session.JoinRequest{Name: "Borin", Class: "Bard", Race: "Elf"})
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = f.do(t, http.MethodDelete, base+"/characters/"+c.ID.String(), "u2", nil)
	assert.Equal(t, http.StatusForbidden, rr.Code)

	rr = f.do(t, http.MethodDelete, base+"/characters/"+c.ID.String(), "u1", nil)
	assert.Equal(t, http.StatusOK, rr.Code)

	f.join(t, s.ID, "u2", "Borin")
}

func TestStories_Export(t *testing.T) {
	f := newAPIFixture(t)
	s := f.createStory(t, 2)
	f.join(t, s.ID, "u1", "Aria")

	rr := f.do(t, http.MethodPost, "/v1/stories/"+s.ID.String()+"/actions", "u1", SubmitActionRequest{Action: "I sing."})
	require.Equal(t, http.StatusOK, rr.Code)

	rr = f.do(t, http.MethodGet, "/v1/stories/"+s.ID.String()+"/export?width=60", "", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "text/plain; charset=utf-8", rr.Header().Get("Content-Type"))
	assert.Contains(t, rr.Body.String(), "Aria: I sing.")
	assert.Contains(t, rr.Body.String(), "The party presses on.")

	rr = f.do(t, http.MethodGet, "/v1/stories/"+s.ID.String()+"/export?width=wide", "", nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestOptimize(t *testing.T) {
	f := newAPIFixture(t)

	rr := f.do(t, http.MethodPost, "/v1/optimize", "", OptimizeRequest{Text: "i hit orc"})
	require.Equal(t, http.StatusOK, rr.Code)
	var resp OptimizeResponse
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))
	assert.Equal(t, "Sharper: i hit orc", resp.Text)

	rr = f.do(t, http.MethodPost, "/v1/optimize", "", OptimizeRequest{Text: ""})
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	f.optimizer.err = fmt.Errorf("%w: deadline", narration.ErrNarrationTimeout)
	rr = f.do(t, http.MethodPost, "/v1/optimize", "", OptimizeRequest{Text: "x"})
	assert.Equal(t, http.StatusGatewayTimeout, rr.Code)

	f.optimizer.err = fmt.Errorf("failed: %w", services.ErrCompletionFailed)
	rr = f.do(t, http.MethodPost, "/v1/optimize", "", OptimizeRequest{Text: "x"})
	assert.Equal(t, http.StatusBadGateway, rr.Code)
}

func TestKarma_VoteAndLeaderboard(t *testing.T) {
	f := newAPIFixture(t)
	s := f.createStory(t, 3)
	f.join(t, s.ID, "u1", "Aria")
	borin := f.join(t, s.ID, "u2", "Borin")

	rr := f.do(t, http.MethodGet, "/v1/leaderboard/stories", "", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "miss", rr.Header().Get("X-Cache"))

	rr = f.do(t, http.MethodGet, "/v1/leaderboard/stories", "", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "hit", rr.Header().Get("X-Cache"))

	rr = f.do(t, http.MethodPost, "/v1/karma/votes", "u1", VoteRequest{StoryID: s.ID, TargetCharacterID: borin.ID, Upvote: true})
	require.Equal(t, http.StatusNoContent, rr.Code, rr.Body.String())
	require.Len(t, f.cache.DelCalls, 1)
	assert.Contains(t, f.cache.DelCalls[0], "leaderboard:stories:10")

	rr = f.do(t, http.MethodGet, "/v1/leaderboard/users?limit=5", "", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var users []story.UserStanding
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&users))
	require.NotEmpty(t, users)

	rr = f.do(t, http.MethodGet, "/v1/leaderboard/users?limit=0", "", nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestKarma_VoteRejections(t *testing.T) {
	f := newAPIFixture(t)
	s := f.createStory(t, 2)
	aria := f.join(t, s.ID, "u1", "Aria")

	rr := f.do(t, http.MethodPost, "/v1/karma/votes", "u1", VoteRequest{StoryID: s.ID, TargetCharacterID: aria.ID, Upvote: true})
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = f.do(t, http.MethodPost, "/v1/karma/votes", "u1", map[string]string{"story_id": s.ID.String()})
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Empty(t, f.cache.DelCalls)
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{session.ErrEmptyAction, http.StatusBadRequest},
		{fmt.Errorf("x: %w", storage.ErrNotFound), http.StatusNotFound},
		{session.ErrStoryCompleted, http.StatusConflict},
		{storage.ErrStoryFull, http.StatusConflict},
		{narration.ErrNarrationTimeout, http.StatusGatewayTimeout},
		{context.DeadlineExceeded, http.StatusGatewayTimeout},
		{services.ErrCompletionFailed, http.StatusBadGateway},
		{lock.ErrNotAcquired, http.StatusServiceUnavailable},
		{fmt.Errorf("wrapped: %w", storage.ErrStoreFailure), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			assert.Equal(t, tt.want, statusFor(tt.err))
		})
	}
}
