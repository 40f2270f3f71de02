package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("CONFIG_FILE", "")
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, slog.LevelInfo, cfg.LogLevel)
	assert.Equal(t, ProviderOpenAI, cfg.LLMProvider)
	assert.Equal(t, 8192, cfg.ContextMaxTokens)
	assert.Equal(t, 90*time.Second, cfg.NarrationTimeout)
	assert.Equal(t, "gpt-4o-mini", cfg.SummaryModel())
}

func TestLoad_Env(t *testing.T) {
	t.Setenv("CONFIG_FILE", "")
	t.Setenv("PORT", "9000")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("LLM_PROVIDER", "Anthropic")
	t.Setenv("BACKEND_MODEL_NAME", "small-model")
	t.Setenv("CONTEXT_HEADROOM", "0.75")
	t.Setenv("NARRATION_TIMEOUT", "30s")
	t.Setenv("REDIS_URL", "")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "9000", cfg.Port)
	assert.Equal(t, slog.LevelDebug, cfg.LogLevel)
	assert.Equal(t, ProviderAnthropic, cfg.LLMProvider)
	assert.Equal(t, "small-model", cfg.SummaryModel())
	assert.Equal(t, 0.75, cfg.ContextHeadroom)
	assert.Equal(t, 30*time.Second, cfg.NarrationTimeout)
	assert.Empty(t, cfg.RedisURL)
}

func TestLoad_FileOverlay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
port: "7000"
model_name: file-model
context_max_tokens: 4096
narration_timeout: 45s
`), 0o600))
	t.Setenv("CONFIG_FILE", path)
	t.Setenv("PORT", "7100")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "7100", cfg.Port, "environment wins over the file")
	assert.Equal(t, "file-model", cfg.ModelName)
	assert.Equal(t, 4096, cfg.ContextMaxTokens)
	assert.Equal(t, 45*time.Second, cfg.NarrationTimeout)
	assert.Equal(t, 20, cfg.MaxRecentMessages)
}

func TestLoad_Errors(t *testing.T) {
	t.Run("missing file", func(t *testing.T) {
		t.Setenv("CONFIG_FILE", filepath.Join(t.TempDir(), "nope.yaml"))
		_, err := Load()
		assert.Error(t, err)
	})
	t.Run("bad number", func(t *testing.T) {
		t.Setenv("CONFIG_FILE", "")
		t.Setenv("CONTEXT_MAX_TOKENS", "lots")
		_, err := Load()
		assert.ErrorContains(t, err, "CONTEXT_MAX_TOKENS")
	})
	t.Run("invalid value", func(t *testing.T) {
		t.Setenv("CONFIG_FILE", "")
		t.Setenv("CONTEXT_RETAIN_RECENT", "40")
		_, err := Load()
		assert.ErrorContains(t, err, "retain recent messages")
	})
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		ok     bool
	}{
		{name: "defaults", mutate: func(*Config) {}, ok: true},
		{name: "headroom zero", mutate: func(c *Config) { c.ContextHeadroom = 0 }},
		{name: "headroom above one", mutate: func(c *Config) { c.ContextHeadroom = 1.5 }},
		{name: "headroom one", mutate: func(c *Config) { c.ContextHeadroom = 1 }, ok: true},
		{name: "no buffer", mutate: func(c *Config) { c.MaxRecentMessages = 0 }},
		{name: "unknown provider", mutate: func(c *Config) { c.LLMProvider = "carrier-pigeon" }},
		{name: "negative continuations", mutate: func(c *Config) { c.MaxContinuations = -1 }},
		{name: "mock provider", mutate: func(c *Config) { c.LLMProvider = ProviderMock }, ok: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}
