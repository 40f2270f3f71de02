package services

import (
	"context"
	"errors"

	"github.com/pburglin/EpicSagaBuilder/pkg/chat"
)

// ErrCompletionFailed is returned for any non-success response from a
// completion backend: transport errors, API errors and empty output.
var ErrCompletionFailed = errors.New("completion failed")

// CompletionService defines the interface for interacting with a chat
// completion API.
type CompletionService interface {
	// InitModel prepares the backend for the given model on startup.
	InitModel(ctx context.Context, modelName string) error

	// Complete performs a single completion call. It never retries.
	Complete(ctx context.Context, req chat.CompletionRequest) (*chat.CompletionResponse, error)
}
