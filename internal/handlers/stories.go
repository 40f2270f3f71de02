package handlers

import (
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/pburglin/EpicSagaBuilder/internal/session"
	"github.com/pburglin/EpicSagaBuilder/pkg/storage"
	"github.com/pburglin/EpicSagaBuilder/pkg/story"
	"github.com/pburglin/EpicSagaBuilder/pkg/transcript"
)

// CreateStoryRequest is the body of POST /v1/stories.
type CreateStoryRequest struct {
	Title            string   `json:"title"`
	Description      string   `json:"description"`
	MainQuest        string   `json:"main_quest"`
	StartingScene    string   `json:"starting_scene"`
	CharacterClasses []string `json:"character_classes"`
	CharacterRaces   []string `json:"character_races"`
	MaxAuthors       int      `json:"max_authors"`
	StoryMechanics   string   `json:"story_mechanics"`
	ImageStyle       string   `json:"image_style"`
}

// MessagesResponse is the ordered transcript of a story.
type MessagesResponse struct {
	StoryID  uuid.UUID       `json:"story_id"`
	Messages []story.Message `json:"messages"`
}

type RestartResponse struct {
	RemovedMessages int `json:"removed_messages"`
}

// StoryHandler serves story and character lifecycle routes.
type StoryHandler struct {
	store        storage.Storage
	manager      *session.Manager
	defaultStyle string
	logger       *slog.Logger
}

func NewStoryHandler(store storage.Storage, manager *session.Manager, defaultImageStyle string, logger *slog.Logger) *StoryHandler {
	return &StoryHandler{
		store:        store,
		manager:      manager,
		defaultStyle: defaultImageStyle,
		logger:       logger,
	}
}

// List handles GET /v1/stories. ?status=completed lists finished stories.
func (h *StoryHandler) List(w http.ResponseWriter, r *http.Request) {
	status := story.StatusActive
	if r.URL.Query().Get("status") == string(story.StatusCompleted) {
		status = story.StatusCompleted
	}
	stories, err := h.store.ListStories(r.Context(), status)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	if stories == nil {
		stories = []story.Story{}
	}
	writeJSON(w, h.logger, http.StatusOK, stories)
}

// Create handles POST /v1/stories.
func (h *StoryHandler) Create(w http.ResponseWriter, r *http.Request) {
	user, err := userID(r)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	var req CreateStoryRequest
	if err := decodeJSON(r, &req); err != nil {
		h.logger.Warn("Invalid request body", "error", err)
		writeMessage(w, h.logger, http.StatusBadRequest, "Invalid request body.")
		return
	}

	s := &story.Story{
		ID:               uuid.New(),
		Title:            strings.TrimSpace(req.Title),
		Description:      strings.TrimSpace(req.Description),
		MainQuest:        strings.TrimSpace(req.MainQuest),
		StartingScene:    strings.TrimSpace(req.StartingScene),
		CharacterClasses: req.CharacterClasses,
		CharacterRaces:   req.CharacterRaces,
		MaxAuthors:       req.MaxAuthors,
		Status:           story.StatusActive,
		StoryMechanics:   req.StoryMechanics,
		ImageStyle:       req.ImageStyle,
		CreatedBy:        user,
	}
	if s.ImageStyle == "" {
		s.ImageStyle = h.defaultStyle
	}
	if err := s.Validate(); err != nil {
		writeMessage(w, h.logger, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.store.CreateStory(r.Context(), s); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	for _, text := range s.Introduction() {
		if _, err := h.store.AppendMessage(r.Context(), s.ID, story.NewMessage{
			Type:    story.MessageNarrator,
			Content: story.PlainText(text),
		}); err != nil {
			writeError(w, r, h.logger, err)
			return
		}
	}

	h.logger.Info("Story created", "story_id", s.ID.String(), "created_by", user)
	writeJSON(w, h.logger, http.StatusCreated, s)
}

// Get handles GET /v1/stories/{storyID}.
func (h *StoryHandler) Get(w http.ResponseWriter, r *http.Request) {
	storyID, ok := uuidParam(w, r, h.logger, "storyID")
	if !ok {
		return
	}
	s, err := h.store.LoadStory(r.Context(), storyID)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, h.logger, http.StatusOK, s)
}

// Messages handles GET /v1/stories/{storyID}/messages.
func (h *StoryHandler) Messages(w http.ResponseWriter, r *http.Request) {
	storyID, ok := uuidParam(w, r, h.logger, "storyID")
	if !ok {
		return
	}
	if _, err := h.store.LoadStory(r.Context(), storyID); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	messages, err := h.store.LoadMessages(r.Context(), storyID)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	if messages == nil {
		messages = []story.Message{}
	}
	writeJSON(w, h.logger, http.StatusOK, MessagesResponse{StoryID: storyID, Messages: messages})
}

// Join handles POST /v1/stories/{storyID}/characters.
func (h *StoryHandler) Join(w http.ResponseWriter, r *http.Request) {
	storyID, ok := uuidParam(w, r, h.logger, "storyID")
	if !ok {
		return
	}
	user, err := userID(r)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	var req session.JoinRequest
	if err := decodeJSON(r, &req); err != nil {
		writeMessage(w, h.logger, http.StatusBadRequest, "Invalid request body.")
		return
	}

	c, err := h.manager.Join(r.Context(), storyID, user, req)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, h.logger, http.StatusCreated, c)
}

// Leave handles DELETE /v1/stories/{storyID}/characters/{characterID}.
func (h *StoryHandler) Leave(w http.ResponseWriter, r *http.Request) {
	storyID, ok := uuidParam(w, r, h.logger, "storyID")
	if !ok {
		return
	}
	characterID, ok := uuidParam(w, r, h.logger, "characterID")
	if !ok {
		return
	}
	user, err := userID(r)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	result, err := h.manager.Leave(r.Context(), storyID, characterID, user)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, h.logger, http.StatusOK, result)
}

// Restart handles POST /v1/stories/{storyID}/restart.
func (h *StoryHandler) Restart(w http.ResponseWriter, r *http.Request) {
	storyID, ok := uuidParam(w, r, h.logger, "storyID")
	if !ok {
		return
	}
	removed, err := h.manager.Restart(r.Context(), storyID)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, h.logger, http.StatusOK, RestartResponse{RemovedMessages: removed})
}

// Export handles GET /v1/stories/{storyID}/export?width=N.
func (h *StoryHandler) Export(w http.ResponseWriter, r *http.Request) {
	storyID, ok := uuidParam(w, r, h.logger, "storyID")
	if !ok {
		return
	}
	width := transcript.DefaultWidth
	if v := r.URL.Query().Get("width"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			writeMessage(w, h.logger, http.StatusBadRequest, "Invalid width.")
			return
		}
		width = n
	}

	s, err := h.store.LoadStory(r.Context(), storyID)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	messages, err := h.store.LoadMessages(r.Context(), storyID)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="story-`+storyID.String()+`.txt"`)
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte(transcript.Render(s, messages, s.Characters, width))); err != nil {
		h.logger.Error("Failed to write transcript", "error", err)
	}
}
