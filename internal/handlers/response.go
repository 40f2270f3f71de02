package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/pburglin/EpicSagaBuilder/internal/narration"
	"github.com/pburglin/EpicSagaBuilder/internal/services"
	"github.com/pburglin/EpicSagaBuilder/internal/services/lock"
	"github.com/pburglin/EpicSagaBuilder/internal/session"
	"github.com/pburglin/EpicSagaBuilder/pkg/storage"
)

// UserHeader identifies the caller. There is no authentication.
const UserHeader = "X-User-ID"

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error string `json:"error"`
}

var errMissingUser = errors.New("missing " + UserHeader + " header")

func writeJSON(w http.ResponseWriter, logger *slog.Logger, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Error("Error encoding response", "error", err)
	}
}

func writeMessage(w http.ResponseWriter, logger *slog.Logger, status int, msg string) {
	writeJSON(w, logger, status, ErrorResponse{Error: msg})
}

// writeError maps domain errors to HTTP statuses.
func writeError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	status := statusFor(err)
	msg := err.Error()
	if status >= http.StatusInternalServerError {
		logger.Error("Request failed", "method", r.Method, "path", r.URL.Path, "status", status, "error", err)
		if status == http.StatusInternalServerError {
			msg = "Internal server error"
		}
	} else {
		logger.Debug("Request rejected", "method", r.Method, "path", r.URL.Path, "status", status, "error", err)
	}
	writeMessage(w, logger, status, msg)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, errMissingUser):
		return http.StatusUnauthorized
	case errors.Is(err, session.ErrEmptyAction),
		errors.Is(err, session.ErrInvalidCharacter),
		errors.Is(err, session.ErrInvalidVote),
		errors.Is(err, narration.ErrEmptyInput):
		return http.StatusBadRequest
	case errors.Is(err, session.ErrNotOwner):
		return http.StatusForbidden
	case errors.Is(err, storage.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, session.ErrInvalidRoundState),
		errors.Is(err, storage.ErrStoryFull),
		errors.Is(err, storage.ErrAlreadyJoined):
		return http.StatusConflict
	case errors.Is(err, narration.ErrNarrationTimeout),
		errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, services.ErrCompletionFailed):
		return http.StatusBadGateway
	case errors.Is(err, lock.ErrNotAcquired):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func decodeJSON(r *http.Request, v interface{}) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

func userID(r *http.Request) (string, error) {
	id := strings.TrimSpace(r.Header.Get(UserHeader))
	if id == "" {
		return "", errMissingUser
	}
	return id, nil
}

// uuidParam parses a chi URL parameter. ok is false once a 400 was written.
func uuidParam(w http.ResponseWriter, r *http.Request, logger *slog.Logger, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		writeMessage(w, logger, http.StatusBadRequest, "Invalid "+name+" format.")
		return uuid.Nil, false
	}
	return id, true
}
