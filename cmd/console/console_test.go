package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pburglin/EpicSagaBuilder/internal/session"
	"github.com/pburglin/EpicSagaBuilder/pkg/story"
)

func TestReadSSE(t *testing.T) {
	stream := strings.Join([]string{
		"event: connected",
		`data: {"story_id":"abc"}`,
		"",
		": keepalive",
		"",
		"event: message.created",
		`data: {"message":{"id":"01","type":"narrator","content":"The gate opens."}}`,
		"",
		"",
	}, "\n")

	ch := make(chan SSEEvent, 4)
	require.NoError(t, readSSE(context.Background(), strings.NewReader(stream), ch))
	close(ch)

	var got []SSEEvent
	for ev := range ch {
		got = append(got, ev)
	}
	require.Len(t, got, 2)
	assert.Equal(t, "connected", got[0].Type)
	assert.Equal(t, "message.created", got[1].Type)

	msg, ok := messageFromEvent(got[1])
	require.True(t, ok)
	assert.Equal(t, "01", msg.ID)
	assert.Equal(t, "The gate opens.", msg.Text())

	_, ok = messageFromEvent(got[0])
	assert.False(t, ok)
}

func TestReadSSE_CancelledWhileSending(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	stream := "event: round.completed\ndata: {}\n\n"
	err := readSSE(ctx, strings.NewReader(stream), make(chan SSEEvent))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestAppendMessages_SkipsDuplicates(t *testing.T) {
	first := &story.Message{ID: "1", Content: story.PlainText("a")}
	second := &story.Message{ID: "2", Content: story.PlainText("b")}

	msgs := appendMessages(nil, first, nil, second)
	msgs = appendMessages(msgs, second)

	require.Len(t, msgs, 2)
	assert.Equal(t, "2", msgs[1].ID)
}

func TestParseCommand(t *testing.T) {
	tests := []struct {
		input, name, arg string
	}{
		{"/help", "/help", ""},
		{"  /OPTIMIZE  I draw my sword ", "/optimize", "I draw my sword"},
		{"/leave now", "/leave", "now"},
	}
	for _, tt := range tests {
		name, arg := parseCommand(tt.input)
		assert.Equal(t, tt.name, name, tt.input)
		assert.Equal(t, tt.arg, arg, tt.input)
	}
}

func TestLastNarration(t *testing.T) {
	charID := uuid.New()
	msgs := []story.Message{
		{Type: story.MessageNarrator, Content: story.PlainText("first")},
		{Type: story.MessageNarrator, Content: story.PlainText("second")},
		{Type: story.MessageCharacter, CharacterID: &charID, Content: story.PlainText("I wave.")},
	}
	assert.Equal(t, "second", lastNarration(msgs))
	assert.Equal(t, "", lastNarration(nil))
}

func TestOwnCharacter(t *testing.T) {
	mine := story.Character{ID: uuid.New(), UserID: "ana", Name: "Lyra", Status: story.CharacterActive}
	s := &story.Story{Characters: []story.Character{
		{ID: uuid.New(), UserID: "ana", Name: "Old", Status: story.CharacterArchived},
		{ID: uuid.New(), UserID: "bo", Name: "Bram", Status: story.CharacterActive},
		mine,
	}}

	got := ownCharacter(s, "ana")
	require.NotNil(t, got)
	assert.Equal(t, mine.ID, got.ID)
	assert.Nil(t, ownCharacter(s, "cy"))
}

func TestRenderTranscript(t *testing.T) {
	self := story.Character{ID: uuid.New(), Name: "Lyra", Status: story.CharacterActive}
	s := &story.Story{Title: "The Sunken Crown", Characters: []story.Character{self}}
	msgs := []story.Message{
		{Type: story.MessageNarrator, Content: story.PlainText("Rain falls on the harbor.")},
		{Type: story.MessageCharacter, CharacterID: &self.ID, Content: story.PlainText("I light a lantern.")},
		{Type: story.MessageNarrator, Content: story.NewContent(story.FormatFinale("The crown is found."), "https://img/x.png")},
	}

	out := renderTranscript(s, &self, msgs, 60)
	assert.Contains(t, out, "THE SUNKEN CROWN")
	assert.Contains(t, out, "Rain falls on the harbor.")
	assert.Contains(t, out, "Lyra:")
	assert.Contains(t, out, "The crown is found.")
	assert.Contains(t, out, story.FinaleEnd)
	assert.Contains(t, out, "Illustration: https://img/x.png")
}

func TestWriteMetadata(t *testing.T) {
	a := story.Character{ID: uuid.New(), Name: "Lyra", Class: "Mage", Race: "Elf", Status: story.CharacterActive, KarmaPoints: 3}
	b := story.Character{ID: uuid.New(), Name: "Bram", Status: story.CharacterActive}
	s := &story.Story{ID: uuid.New(), Status: story.StatusActive, MaxAuthors: 4, CurrentAuthors: 2, Characters: []story.Character{a, b}}
	round := &session.RoundStatus{State: "waiting", PendingCount: 1, RequiredCount: 2, Waiting: []uuid.UUID{b.ID}}

	out := writeMetadata(s, &a, round)
	assert.Contains(t, out, "Elf Mage")
	assert.Contains(t, out, "Karma: 3")
	assert.Contains(t, out, "waiting, 1/2 acted")
	assert.Contains(t, out, "• Bram")
	assert.Contains(t, out, "Cast (2/4)")
}

func TestAPIClient_SendsUserAndMapsErrors(t *testing.T) {
	storyID := uuid.New()
	var gotUser string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUser = r.Header.Get(userHeader)
		switch r.URL.Path {
		case "/v1/stories/" + storyID.String() + "/actions":
			var body map[string]string
			_ = json.NewDecoder(r.Body).Decode(&body)
			w.Header().Set("Content-Type", "application/json")
			if body["action"] == "wait" {
				w.WriteHeader(http.StatusAccepted)
				_ = json.NewEncoder(w).Encode(session.RoundResult{State: "waiting", PendingCount: 1, RequiredCount: 2})
				return
			}
			_ = json.NewEncoder(w).Encode(session.RoundResult{State: "waiting", RoundClosed: true})
		default:
			w.WriteHeader(http.StatusConflict)
			_ = json.NewEncoder(w).Encode(ErrorResponse{Error: "Story is full."})
		}
	}))
	defer srv.Close()

	api := NewAPIClient(&http.Client{Timeout: 5 * time.Second}, srv.URL+"/", "ana")
	ctx := context.Background()

	open, err := api.submitAction(ctx, storyID, "wait")
	require.NoError(t, err)
	assert.False(t, open.RoundClosed)
	assert.Equal(t, "ana", gotUser)

	closed, err := api.submitAction(ctx, storyID, "go")
	require.NoError(t, err)
	assert.True(t, closed.RoundClosed)

	_, err = api.joinStory(ctx, &story.Story{ID: storyID}, "Lyra")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Story is full.")
}

func TestAPIClient_JoinReusesActiveCharacter(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	mine := story.Character{ID: uuid.New(), UserID: "ana", Status: story.CharacterActive}
	api := NewAPIClient(srv.Client(), srv.URL, "ana")

	got, err := api.joinStory(context.Background(), &story.Story{Characters: []story.Character{mine}}, "ignored")
	require.NoError(t, err)
	assert.Equal(t, mine.ID, got.ID)
	assert.Zero(t, calls)
}
