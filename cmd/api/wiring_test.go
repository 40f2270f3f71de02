package main

import (
	"context"
	"log/slog"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pburglin/EpicSagaBuilder/internal/config"
	"github.com/pburglin/EpicSagaBuilder/internal/services"
	"github.com/pburglin/EpicSagaBuilder/pkg/storage"
	"github.com/pburglin/EpicSagaBuilder/pkg/story"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestNewCompletionService(t *testing.T) {
	tests := []struct {
		name     string
		provider string
		key      string
		wantErr  bool
	}{
		{name: "openai", provider: config.ProviderOpenAI, key: "k"},
		{name: "openai without key", provider: config.ProviderOpenAI, wantErr: true},
		{name: "venice", provider: config.ProviderVenice, key: "k"},
		{name: "anthropic", provider: config.ProviderAnthropic, key: "k"},
		{name: "anthropic without key", provider: config.ProviderAnthropic, wantErr: true},
		{name: "mock", provider: config.ProviderMock},
		{name: "unknown", provider: "telegraph", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.Default()
			cfg.LLMProvider = tt.provider
			cfg.LLMAPIKey = tt.key
			svc, err := newCompletionService(cfg, testLogger())
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.NotNil(t, svc)
		})
	}
}

func TestNarratorFactory_MockProvider(t *testing.T) {
	ctx := context.Background()
	cfg := config.Default()
	cfg.LLMProvider = config.ProviderMock
	completion, err := newCompletionService(cfg, testLogger())
	require.NoError(t, err)

	store := storage.NewMockStorage()
	s := &story.Story{ID: uuid.New(), Title: "Canned", StartingScene: "A quiet inn.", MaxAuthors: 1}
	require.NoError(t, store.CreateStory(ctx, s))

	narrator, err := newNarratorFactory(cfg, completion, store, testLogger())(ctx, s)
	require.NoError(t, err)

	res := narrator.GenerateNarration(ctx, "Pip: I order an ale.", "ink")
	assert.False(t, res.Fallback)
	assert.NotEmpty(t, res.Text)
	assert.NotEmpty(t, res.ImageURL)
}

func TestNarratorFactory_StoreFailure(t *testing.T) {
	store := storage.NewMockStorage()
	store.SetError("LoadStoryContextFacts", storage.ErrStoreFailure)
	s := &story.Story{ID: uuid.New(), Title: "Broken"}

	_, err := newNarratorFactory(config.Default(), services.NewMockCompletionService(), store, testLogger())(context.Background(), s)
	assert.ErrorIs(t, err, storage.ErrStoreFailure)
}
