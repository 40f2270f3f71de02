package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/pburglin/EpicSagaBuilder/internal/services"
	"github.com/pburglin/EpicSagaBuilder/internal/session"
	"github.com/pburglin/EpicSagaBuilder/pkg/storage"
)

const (
	defaultLeaderboardLimit = 10
	maxLeaderboardLimit     = 100
	leaderboardTTL          = time.Minute

	storyBoardKey = "leaderboard:stories:"
	userBoardKey  = "leaderboard:users:"
)

// VoteRequest is the body of POST /v1/karma/votes.
type VoteRequest struct {
	StoryID           uuid.UUID `json:"story_id"`
	TargetCharacterID uuid.UUID `json:"target_character_id"`
	Upvote            bool      `json:"upvote"`
}

// KarmaHandler serves votes and leaderboards. Leaderboards are cached for
// a minute when a cache is configured; a vote invalidates them.
type KarmaHandler struct {
	store   storage.Storage
	manager *session.Manager
	cache   services.Cache
	logger  *slog.Logger
}

func NewKarmaHandler(store storage.Storage, manager *session.Manager, cache services.Cache, logger *slog.Logger) *KarmaHandler {
	return &KarmaHandler{store: store, manager: manager, cache: cache, logger: logger}
}

// Vote handles POST /v1/karma/votes.
func (h *KarmaHandler) Vote(w http.ResponseWriter, r *http.Request) {
	user, err := userID(r)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	var req VoteRequest
	if err := decodeJSON(r, &req); err != nil || req.StoryID == uuid.Nil || req.TargetCharacterID == uuid.Nil {
		writeMessage(w, h.logger, http.StatusBadRequest, "Invalid request body. Expected story_id, target_character_id and upvote.")
		return
	}

	if err := h.manager.Vote(r.Context(), req.StoryID, user, req.TargetCharacterID, req.Upvote); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	h.invalidate(r.Context())
	w.WriteHeader(http.StatusNoContent)
}

// Stories handles GET /v1/leaderboard/stories?limit=N.
func (h *KarmaHandler) Stories(w http.ResponseWriter, r *http.Request) {
	h.serveBoard(w, r, storyBoardKey, func(ctx context.Context, limit int) (interface{}, error) {
		return h.store.StoryLeaderboard(ctx, limit)
	})
}

// Users handles GET /v1/leaderboard/users?limit=N.
func (h *KarmaHandler) Users(w http.ResponseWriter, r *http.Request) {
	h.serveBoard(w, r, userBoardKey, func(ctx context.Context, limit int) (interface{}, error) {
		return h.store.UserLeaderboard(ctx, limit)
	})
}

func (h *KarmaHandler) serveBoard(w http.ResponseWriter, r *http.Request, prefix string, load func(context.Context, int) (interface{}, error)) {
	limit := defaultLeaderboardLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > maxLeaderboardLimit {
			writeMessage(w, h.logger, http.StatusBadRequest, "Invalid limit.")
			return
		}
		limit = n
	}
	key := prefix + strconv.Itoa(limit)

	data, hit, err := services.ReadThrough(r.Context(), h.cache, h.logger, key, leaderboardTTL,
		func(ctx context.Context) (interface{}, error) { return load(ctx, limit) })
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if hit {
		w.Header().Set("X-Cache", "hit")
	} else {
		w.Header().Set("X-Cache", "miss")
	}
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(data); err != nil {
		h.logger.Error("Failed to write leaderboard", "error", err)
	}
}

// invalidate drops the cached boards for the default limit. Boards for
// other limits expire on their own.
func (h *KarmaHandler) invalidate(ctx context.Context) {
	if h.cache == nil {
		return
	}
	limit := strconv.Itoa(defaultLeaderboardLimit)
	if err := h.cache.Del(ctx, storyBoardKey+limit, userBoardKey+limit); err != nil {
		h.logger.Warn("Leaderboard cache invalidation failed", "error", err)
	}
}
