package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/sashabaranov/go-openai"

	"github.com/pburglin/EpicSagaBuilder/pkg/chat"
)

const (
	// VeniceBaseURL is the OpenAI-compatible endpoint of the Venice API.
	VeniceBaseURL = "https://api.venice.ai/api/v1"

	DefaultOpenAITemperature = 0.7
	DefaultOpenAIMaxTokens   = 1024
)

// OpenAIService implements CompletionService for OpenAI and any
// OpenAI-compatible endpoint (Venice, local gateways).
type OpenAIService struct {
	client    *openai.Client
	baseURL   string
	modelName string
	logger    *slog.Logger
}

var _ CompletionService = (*OpenAIService)(nil)

// NewOpenAIService creates a client for the given endpoint. An empty baseURL
// uses the OpenAI default.
func NewOpenAIService(apiKey, baseURL, modelName string, logger *slog.Logger) *OpenAIService {
	config := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		config.BaseURL = strings.TrimRight(baseURL, "/")
	}

	return &OpenAIService{
		client:    openai.NewClientWithConfig(config),
		baseURL:   config.BaseURL,
		modelName: modelName,
		logger:    logger,
	}
}

// InitModel is a no-op: hosted endpoints have no model loading step.
func (o *OpenAIService) InitModel(ctx context.Context, modelName string) error {
	o.logger.Debug("Using hosted completion endpoint", "base_url", o.baseURL, "model", modelName)
	return nil
}

func (o *OpenAIService) Complete(ctx context.Context, req chat.CompletionRequest) (*chat.CompletionResponse, error) {
	model := req.Model
	if model == "" {
		model = o.modelName
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = DefaultOpenAIMaxTokens
	}
	temperature := req.Temperature
	if temperature <= 0 {
		temperature = DefaultOpenAITemperature
	}

	resp, err := o.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       model,
		Messages:    toOpenAIMessages(req.Messages),
		MaxTokens:   maxTokens,
		Temperature: float32(temperature),
	})
	if err != nil {
		// Deadline errors pass through so callers can tell a timeout apart.
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return nil, err
		}
		var apiErr *openai.APIError
		if errors.As(err, &apiErr) {
			o.logger.Warn("Completion API error", "status", apiErr.HTTPStatusCode, "error", apiErr.Message)
		}
		return nil, fmt.Errorf("%w: %w", ErrCompletionFailed, err)
	}

	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("%w: no choices returned", ErrCompletionFailed)
	}

	choice := resp.Choices[0]
	if strings.TrimSpace(choice.Message.Content) == "" {
		return nil, fmt.Errorf("%w: empty content", ErrCompletionFailed)
	}

	o.logger.Debug("Completion received",
		"model", model,
		"finish_reason", choice.FinishReason,
		"completion_tokens", resp.Usage.CompletionTokens)

	return &chat.CompletionResponse{
		Text:         choice.Message.Content,
		FinishReason: mapOpenAIFinishReason(choice.FinishReason),
	}, nil
}

func toOpenAIMessages(messages []chat.ChatMessage) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(messages))
	for _, m := range messages {
		out = append(out, openai.ChatCompletionMessage{Role: m.Role, Content: m.Content})
	}
	return out
}

func mapOpenAIFinishReason(reason openai.FinishReason) chat.FinishReason {
	if reason == openai.FinishReasonLength {
		return chat.FinishReasonLength
	}
	return chat.FinishReasonStop
}
