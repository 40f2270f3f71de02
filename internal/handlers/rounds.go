package handlers

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/pburglin/EpicSagaBuilder/internal/session"
)

// SubmitActionRequest is the body of POST /v1/stories/{storyID}/actions.
type SubmitActionRequest struct {
	Action string `json:"action"`
}

// ProgressResponse reports narration progress as a percentage.
type ProgressResponse struct {
	Percent float64 `json:"percent"`
}

// RoundHandler serves the round lifecycle: actions, status, retry,
// progress and the finale.
type RoundHandler struct {
	manager *session.Manager
	logger  *slog.Logger
	now     func() time.Time
}

func NewRoundHandler(manager *session.Manager, logger *slog.Logger) *RoundHandler {
	return &RoundHandler{manager: manager, logger: logger, now: time.Now}
}

// Submit handles POST /v1/stories/{storyID}/actions. The response is sent
// once the action is recorded, and after narration when it closed the round.
func (h *RoundHandler) Submit(w http.ResponseWriter, r *http.Request) {
	storyID, ok := uuidParam(w, r, h.logger, "storyID")
	if !ok {
		return
	}
	user, err := userID(r)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	var req SubmitActionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeMessage(w, h.logger, http.StatusBadRequest, "Invalid request body. Expected JSON with 'action' field.")
		return
	}

	result, err := h.manager.Submit(r.Context(), storyID, user, req.Action)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	status := http.StatusAccepted
	if result.RoundClosed {
		status = http.StatusOK
	}
	writeJSON(w, h.logger, status, result)
}

// Status handles GET /v1/stories/{storyID}/round.
func (h *RoundHandler) Status(w http.ResponseWriter, r *http.Request) {
	storyID, ok := uuidParam(w, r, h.logger, "storyID")
	if !ok {
		return
	}
	status, err := h.manager.RoundStatus(r.Context(), storyID)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, h.logger, http.StatusOK, status)
}

// Retry handles POST /v1/stories/{storyID}/round/retry.
func (h *RoundHandler) Retry(w http.ResponseWriter, r *http.Request) {
	storyID, ok := uuidParam(w, r, h.logger, "storyID")
	if !ok {
		return
	}
	result, err := h.manager.Retry(r.Context(), storyID)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, h.logger, http.StatusOK, result)
}

// Progress handles GET /v1/stories/{storyID}/progress?since=<unix ms>.
// A missing since means the wait starts now.
func (h *RoundHandler) Progress(w http.ResponseWriter, r *http.Request) {
	storyID, ok := uuidParam(w, r, h.logger, "storyID")
	if !ok {
		return
	}
	since := h.now()
	if v := r.URL.Query().Get("since"); v != "" {
		ms, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			writeMessage(w, h.logger, http.StatusBadRequest, "Invalid since parameter. Expected unix milliseconds.")
			return
		}
		since = time.UnixMilli(ms)
	}

	p, err := h.manager.Progress(r.Context(), storyID, since)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, h.logger, http.StatusOK, ProgressResponse{Percent: p})
}

// Complete handles POST /v1/stories/{storyID}/complete.
func (h *RoundHandler) Complete(w http.ResponseWriter, r *http.Request) {
	storyID, ok := uuidParam(w, r, h.logger, "storyID")
	if !ok {
		return
	}
	user, err := userID(r)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	result, err := h.manager.Complete(r.Context(), storyID, user)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, h.logger, http.StatusOK, result)
}
