package narration

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/pburglin/EpicSagaBuilder/internal/services"
	"github.com/pburglin/EpicSagaBuilder/pkg/chat"
	"github.com/pburglin/EpicSagaBuilder/pkg/contextstore"
	"github.com/pburglin/EpicSagaBuilder/pkg/prompts"
)

const (
	summaryTemperature = 0.3
	summaryMaxTokens   = 512
)

// Summarizer implements contextstore.Summarizer on a completion backend,
// usually with a cheaper backend model.
type Summarizer struct {
	completion services.CompletionService
	model      string
	timeout    time.Duration
	logger     *slog.Logger
}

var _ contextstore.Summarizer = (*Summarizer)(nil)

func NewSummarizer(completion services.CompletionService, model string, timeout time.Duration, logger *slog.Logger) *Summarizer {
	return &Summarizer{
		completion: completion,
		model:      model,
		timeout:    timeout,
		logger:     logger,
	}
}

func (s *Summarizer) Summarize(ctx context.Context, transcript string) (string, error) {
	return s.ask(ctx, prompts.SummaryInstructions, prompts.Summary(transcript))
}

func (s *Summarizer) ExtractFacts(ctx context.Context, currentFacts, material string) (string, error) {
	return s.ask(ctx, prompts.FactsInstructions, prompts.Facts(currentFacts, material))
}

func (s *Summarizer) ask(ctx context.Context, instructions, content string) (string, error) {
	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()

	resp, err := s.completion.Complete(ctx, chat.CompletionRequest{
		Model: s.model,
		Messages: []chat.ChatMessage{
			{Role: chat.ChatRoleSystem, Content: instructions},
			{Role: chat.ChatRoleUser, Content: content},
		},
		MaxTokens:   summaryMaxTokens,
		Temperature: summaryTemperature,
	})
	if err != nil {
		return "", classify(ctx, err)
	}

	text := strings.TrimSpace(resp.Text)
	if text == "" {
		return "", fmt.Errorf("%w: empty summary", services.ErrCompletionFailed)
	}
	if resp.Truncated() {
		s.logger.Debug("Summary truncated by token limit", "model", s.model)
	}
	return text, nil
}
