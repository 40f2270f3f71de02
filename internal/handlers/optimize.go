package handlers

import (
	"context"
	"log/slog"
	"net/http"
)

// Optimizer rewrites author input into tighter prose.
type Optimizer interface {
	Optimize(ctx context.Context, input string) (string, error)
}

type OptimizeRequest struct {
	Text string `json:"text"`
}

type OptimizeResponse struct {
	Text string `json:"text"`
}

// OptimizeHandler serves POST /v1/optimize.
type OptimizeHandler struct {
	optimizer Optimizer
	logger    *slog.Logger
}

func NewOptimizeHandler(optimizer Optimizer, logger *slog.Logger) *OptimizeHandler {
	return &OptimizeHandler{optimizer: optimizer, logger: logger}
}

func (h *OptimizeHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var req OptimizeRequest
	if err := decodeJSON(r, &req); err != nil {
		writeMessage(w, h.logger, http.StatusBadRequest, "Invalid request body. Expected JSON with 'text' field.")
		return
	}
	out, err := h.optimizer.Optimize(r.Context(), req.Text)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, h.logger, http.StatusOK, OptimizeResponse{Text: out})
}
