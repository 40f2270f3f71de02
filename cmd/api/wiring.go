package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/pburglin/EpicSagaBuilder/internal/config"
	"github.com/pburglin/EpicSagaBuilder/internal/narration"
	"github.com/pburglin/EpicSagaBuilder/internal/services"
	"github.com/pburglin/EpicSagaBuilder/internal/session"
	"github.com/pburglin/EpicSagaBuilder/pkg/contextstore"
	"github.com/pburglin/EpicSagaBuilder/pkg/imageurl"
	"github.com/pburglin/EpicSagaBuilder/pkg/progress"
	"github.com/pburglin/EpicSagaBuilder/pkg/prompts"
	"github.com/pburglin/EpicSagaBuilder/pkg/storage"
	"github.com/pburglin/EpicSagaBuilder/pkg/story"
)

func newCompletionService(cfg *config.Config, log *slog.Logger) (services.CompletionService, error) {
	switch cfg.LLMProvider {
	case config.ProviderOpenAI:
		if cfg.LLMAPIKey == "" && cfg.LLMBaseURL == "" {
			return nil, fmt.Errorf("LLM_API_KEY is required for provider %s", cfg.LLMProvider)
		}
		return services.NewOpenAIService(cfg.LLMAPIKey, cfg.LLMBaseURL, cfg.ModelName, log), nil
	case config.ProviderVenice:
		if cfg.LLMAPIKey == "" {
			return nil, fmt.Errorf("LLM_API_KEY is required for provider %s", cfg.LLMProvider)
		}
		base := cfg.LLMBaseURL
		if base == "" {
			base = services.VeniceBaseURL
		}
		return services.NewOpenAIService(cfg.LLMAPIKey, base, cfg.ModelName, log), nil
	case config.ProviderAnthropic:
		if cfg.LLMAPIKey == "" {
			return nil, fmt.Errorf("LLM_API_KEY is required for provider %s", cfg.LLMProvider)
		}
		return services.NewAnthropicService(cfg.LLMAPIKey, cfg.LLMBaseURL, cfg.ModelName, log), nil
	case config.ProviderMock:
		log.Warn("Using canned narrations; no completion API will be called")
		return services.NewCannedCompletionService(), nil
	}
	return nil, fmt.Errorf("unsupported llm provider %q", cfg.LLMProvider)
}

func narrationConfig(cfg *config.Config) narration.Config {
	c := narration.DefaultConfig()
	c.Model = cfg.ModelName
	c.Temperature = cfg.Temperature
	c.MaxTokens = cfg.MaxResponseTokens
	c.MaxContinuations = cfg.MaxContinuations
	c.OptimizeMaxChars = cfg.OptimizeMaxChars
	c.Timeout = cfg.NarrationTimeout
	return c
}

func contextConfig(cfg *config.Config) contextstore.Config {
	return contextstore.Config{
		MaxTokens:            cfg.ContextMaxTokens,
		Headroom:             cfg.ContextHeadroom,
		MaxRecentMessages:    cfg.MaxRecentMessages,
		RetainRecentMessages: cfg.RetainRecentMessages,
		MaxSummaryChunks:     cfg.MaxSummaryChunks,
		FactsRefreshInterval: cfg.FactsRefreshInterval,
	}
}

// newNarratorFactory gives each story session its own context store and
// latency estimator over the shared completion service.
func newNarratorFactory(cfg *config.Config, completion services.CompletionService, store storage.Storage, log *slog.Logger) session.NarratorFactory {
	summarizer := narration.NewSummarizer(completion, cfg.SummaryModel(), cfg.NarrationTimeout, log)
	images := imageurl.NewComposer(cfg.ImageBaseURL, cfg.ImagePromptMaxChars)
	ncfg := narrationConfig(cfg)
	ccfg := contextConfig(cfg)

	return func(ctx context.Context, s *story.Story) (session.Narrator, error) {
		storyLog := log.With("story_id", s.ID.String())
		memory := contextstore.New(ccfg, summarizer, store, storyLog)
		if err := memory.Initialize(ctx, prompts.System(cfg.SystemPrompt, s), s.ID); err != nil {
			return nil, err
		}
		return narration.NewClient(completion, memory, progress.NewEstimator(), images, ncfg, storyLog), nil
	}
}
