package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pburglin/EpicSagaBuilder/pkg/storage"
	"github.com/pburglin/EpicSagaBuilder/pkg/story"
)

func seedStory(t *testing.T, s *storage.MockStorage, title string, karma ...int) *story.Story {
	t.Helper()
	st := &story.Story{
		Title:         title,
		Description:   "A drowned kingdom stirs.",
		MainQuest:     "Recover the crown.",
		StartingScene: "A flooded hall.",
		MaxAuthors:    4,
	}
	for _, k := range karma {
		st.Characters = append(st.Characters, story.Character{
			ID:          uuid.New(),
			UserID:      title + "-user",
			Name:        title + "-hero",
			Status:      story.CharacterActive,
			KarmaPoints: k,
		})
	}
	require.NoError(t, s.CreateStory(context.Background(), st))
	return st
}

func run(t *testing.T, s storage.Storage, args ...string) (string, error) {
	t.Helper()
	var openedPath string
	root := newRootCmd("default.db", func(path string) (storage.Storage, error) {
		openedPath = path
		return s, nil
	})
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(io.Discard)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	if err == nil {
		assert.NotEmpty(t, openedPath)
	}
	return out.String(), err
}

func TestStoriesList(t *testing.T) {
	store := storage.NewMockStorage()
	st := seedStory(t, store, "Sunken Crown")

	out, err := run(t, store, "stories", "list")
	require.NoError(t, err)
	assert.Contains(t, out, st.ID.String())
	assert.Contains(t, out, "Sunken Crown")

	out, err = run(t, store, "--format", "json", "stories", "list")
	require.NoError(t, err)
	var listed []story.Story
	require.NoError(t, json.Unmarshal([]byte(out), &listed))
	require.Len(t, listed, 1)
	assert.Equal(t, st.ID, listed[0].ID)
}

func TestRestart(t *testing.T) {
	store := storage.NewMockStorage()
	st := seedStory(t, store, "Sunken Crown")
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		_, err := store.AppendMessage(ctx, st.ID, story.NewMessage{Type: story.MessageNarrator, Content: story.PlainText("line")})
		require.NoError(t, err)
	}

	out, err := run(t, store, "restart", st.ID.String())
	require.NoError(t, err)
	assert.Contains(t, out, "removed 2 messages")

	msgs, err := store.LoadMessages(ctx, st.ID)
	require.NoError(t, err)
	assert.Len(t, msgs, 3)
}

func TestRestart_Rejections(t *testing.T) {
	store := storage.NewMockStorage()
	st := seedStory(t, store, "Sunken Crown")
	require.NoError(t, store.SetStoryStatus(context.Background(), st.ID, story.StatusCompleted))

	_, err := run(t, store, "restart", st.ID.String())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "completed")

	_, err = run(t, store, "restart", "not-a-uuid")
	require.Error(t, err)

	_, err = run(t, store, "restart", uuid.NewString())
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestExport(t *testing.T) {
	store := storage.NewMockStorage()
	st := seedStory(t, store, "Sunken Crown")
	_, err := store.AppendMessage(context.Background(), st.ID, story.NewMessage{
		Type:    story.MessageNarrator,
		Content: story.PlainText("The tide pulls back to reveal a stair."),
	})
	require.NoError(t, err)

	out, err := run(t, store, "export", st.ID.String(), "--width", "40")
	require.NoError(t, err)
	assert.Contains(t, out, "Sunken Crown")
	assert.Contains(t, out, "stair.")
}

func TestLeaderboard(t *testing.T) {
	store := storage.NewMockStorage()
	seedStory(t, store, "Low", 1)
	seedStory(t, store, "High", 7)

	out, err := run(t, store, "leaderboard", "stories")
	require.NoError(t, err)
	assert.Less(t, bytes.Index([]byte(out), []byte("High")), bytes.Index([]byte(out), []byte("Low")))

	out, err = run(t, store, "--format", "json", "leaderboard", "users", "--limit", "1")
	require.NoError(t, err)
	var rows []story.UserStanding
	require.NoError(t, json.Unmarshal([]byte(out), &rows))
	require.Len(t, rows, 1)
	assert.Equal(t, "High-user", rows[0].UserID)

	_, err = run(t, store, "leaderboard", "planets")
	require.Error(t, err)

	_, err = run(t, store, "leaderboard", "users", "--limit", "0")
	require.Error(t, err)
}

func TestOpenFailure(t *testing.T) {
	root := newRootCmd("default.db", func(string) (storage.Storage, error) {
		return nil, errors.New("disk gone")
	})
	root.SetOut(io.Discard)
	root.SetErr(io.Discard)
	root.SetArgs([]string{"stories", "list"})

	err := root.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk gone")
}
