package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Supported completion providers.
const (
	ProviderOpenAI    = "openai"
	ProviderVenice    = "venice"
	ProviderAnthropic = "anthropic"
	ProviderMock      = "mock"
)

type Config struct {
	Port         string     `yaml:"port"`
	Environment  string     `yaml:"environment"`
	LogLevelName string     `yaml:"log_level"`
	LogLevel     slog.Level `yaml:"-"`

	DatabasePath string `yaml:"database_path"`
	RedisURL     string `yaml:"redis_url"`

	LLMProvider       string  `yaml:"llm_provider"`
	LLMBaseURL        string  `yaml:"llm_base_url"`
	LLMAPIKey         string  `yaml:"llm_api_key"`
	ModelName         string  `yaml:"model_name"`
	BackendModelName  string  `yaml:"backend_model_name"`
	Temperature       float64 `yaml:"temperature"`
	MaxResponseTokens int     `yaml:"max_response_tokens"`
	SystemPrompt      string  `yaml:"system_prompt"`

	ContextMaxTokens     int     `yaml:"context_max_tokens"`
	ContextHeadroom      float64 `yaml:"context_headroom"`
	MaxRecentMessages    int     `yaml:"max_recent_messages"`
	RetainRecentMessages int     `yaml:"retain_recent_messages"`
	MaxSummaryChunks     int     `yaml:"max_summary_chunks"`
	FactsRefreshInterval int     `yaml:"facts_refresh_interval"`

	MaxContinuations int           `yaml:"max_continuations"`
	NarrationTimeout time.Duration `yaml:"narration_timeout"`

	ImageBaseURL        string `yaml:"image_base_url"`
	ImagePromptMaxChars int    `yaml:"image_prompt_max_chars"`
	DefaultImageStyle   string `yaml:"default_image_style"`

	OptimizeMaxChars int           `yaml:"optimize_max_chars"`
	LockTTL          time.Duration `yaml:"lock_ttl"`
}

// Default returns the configuration used when nothing is set.
func Default() *Config {
	return &Config{
		Port:                 "8080",
		Environment:          "development",
		LogLevelName:         "info",
		DatabasePath:         "epicsaga.db",
		RedisURL:             "localhost:6379",
		LLMProvider:          ProviderOpenAI,
		ModelName:            "gpt-4o-mini",
		Temperature:          0.7,
		MaxResponseTokens:    1024,
		ContextMaxTokens:     8192,
		ContextHeadroom:      0.9,
		MaxRecentMessages:    20,
		RetainRecentMessages: 10,
		MaxSummaryChunks:     5,
		FactsRefreshInterval: 8,
		MaxContinuations:     3,
		NarrationTimeout:     90 * time.Second,
		ImageBaseURL:         "https://image.pollinations.ai/prompt/",
		ImagePromptMaxChars:  1000,
		DefaultImageStyle:    "digital painting",
		OptimizeMaxChars:     500,
		LockTTL:              2 * time.Minute,
	}
}

// Load builds the configuration from defaults, the optional YAML file named
// by CONFIG_FILE, and the environment, in that order of precedence.
func Load() (*Config, error) {
	cfg := Default()

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	cfg.Port = getEnv("PORT", cfg.Port)
	cfg.Environment = getEnv("ENVIRONMENT", cfg.Environment)
	cfg.LogLevelName = getEnv("LOG_LEVEL", cfg.LogLevelName)
	cfg.DatabasePath = getEnv("DATABASE_PATH", cfg.DatabasePath)
	if v, ok := os.LookupEnv("REDIS_URL"); ok {
		// An explicitly empty value disables Redis.
		cfg.RedisURL = v
	}

	cfg.LLMProvider = strings.ToLower(getEnv("LLM_PROVIDER", cfg.LLMProvider))
	cfg.LLMBaseURL = getEnv("LLM_BASE_URL", cfg.LLMBaseURL)
	cfg.LLMAPIKey = getEnv("LLM_API_KEY", cfg.LLMAPIKey)
	cfg.ModelName = getEnv("MODEL_NAME", cfg.ModelName)
	cfg.BackendModelName = getEnv("BACKEND_MODEL_NAME", cfg.BackendModelName)
	cfg.SystemPrompt = getEnv("LLM_SYSTEM_PROMPT", cfg.SystemPrompt)
	cfg.ImageBaseURL = getEnv("IMAGE_BASE_URL", cfg.ImageBaseURL)
	cfg.DefaultImageStyle = getEnv("DEFAULT_IMAGE_STYLE", cfg.DefaultImageStyle)

	var errs []error
	parse := func(key string, fn func(string) error) {
		if v := os.Getenv(key); v != "" {
			if err := fn(v); err != nil {
				errs = append(errs, fmt.Errorf("invalid %s: %w", key, err))
			}
		}
	}
	parse("LLM_TEMPERATURE", floatVar(&cfg.Temperature))
	parse("LLM_MAX_TOKENS", intVar(&cfg.MaxResponseTokens))
	parse("CONTEXT_MAX_TOKENS", intVar(&cfg.ContextMaxTokens))
	parse("CONTEXT_HEADROOM", floatVar(&cfg.ContextHeadroom))
	parse("CONTEXT_MAX_RECENT", intVar(&cfg.MaxRecentMessages))
	parse("CONTEXT_RETAIN_RECENT", intVar(&cfg.RetainRecentMessages))
	parse("CONTEXT_MAX_SUMMARIES", intVar(&cfg.MaxSummaryChunks))
	parse("CONTEXT_FACTS_INTERVAL", intVar(&cfg.FactsRefreshInterval))
	parse("LLM_MAX_CONTINUATIONS", intVar(&cfg.MaxContinuations))
	parse("NARRATION_TIMEOUT", durationVar(&cfg.NarrationTimeout))
	parse("IMAGE_PROMPT_MAX_CHARS", intVar(&cfg.ImagePromptMaxChars))
	parse("OPTIMIZE_MAX_CHARS", intVar(&cfg.OptimizeMaxChars))
	parse("STORY_LOCK_TTL", durationVar(&cfg.LockTTL))
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}

	cfg.LogLevel = parseLogLevel(cfg.LogLevelName)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

// Validate rejects settings the service cannot run with.
func (c *Config) Validate() error {
	var errs []error
	switch c.LLMProvider {
	case ProviderOpenAI, ProviderVenice, ProviderAnthropic, ProviderMock:
	default:
		errs = append(errs, fmt.Errorf("unknown llm provider %q", c.LLMProvider))
	}
	if c.ModelName == "" {
		errs = append(errs, errors.New("model name is required"))
	}
	if c.ContextMaxTokens <= 0 {
		errs = append(errs, errors.New("context max tokens must be positive"))
	}
	if c.ContextHeadroom <= 0 || c.ContextHeadroom > 1 {
		errs = append(errs, errors.New("context headroom must be in (0, 1]"))
	}
	if c.MaxRecentMessages <= 0 {
		errs = append(errs, errors.New("max recent messages must be positive"))
	}
	if c.RetainRecentMessages < 0 || c.RetainRecentMessages >= c.MaxRecentMessages {
		errs = append(errs, errors.New("retain recent messages must be below max recent messages"))
	}
	if c.MaxSummaryChunks <= 0 {
		errs = append(errs, errors.New("max summary chunks must be positive"))
	}
	if c.FactsRefreshInterval <= 0 {
		errs = append(errs, errors.New("facts refresh interval must be positive"))
	}
	if c.MaxContinuations < 0 {
		errs = append(errs, errors.New("max continuations cannot be negative"))
	}
	if c.NarrationTimeout <= 0 {
		errs = append(errs, errors.New("narration timeout must be positive"))
	}
	if c.Temperature < 0 || c.Temperature > 2 {
		errs = append(errs, errors.New("temperature must be in [0, 2]"))
	}
	if c.MaxResponseTokens <= 0 {
		errs = append(errs, errors.New("max response tokens must be positive"))
	}
	if c.LockTTL <= 0 {
		errs = append(errs, errors.New("lock ttl must be positive"))
	}
	return errors.Join(errs...)
}

// SummaryModel is the model used for summaries and fact extraction.
func (c *Config) SummaryModel() string {
	if c.BackendModelName != "" {
		return c.BackendModelName
	}
	return c.ModelName
}

func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func intVar(dst *int) func(string) error {
	return func(s string) error {
		v, err := strconv.Atoi(s)
		if err == nil {
			*dst = v
		}
		return err
	}
}

func floatVar(dst *float64) func(string) error {
	return func(s string) error {
		v, err := strconv.ParseFloat(s, 64)
		if err == nil {
			*dst = v
		}
		return err
	}
}

func durationVar(dst *time.Duration) func(string) error {
	return func(s string) error {
		v, err := time.ParseDuration(s)
		if err == nil {
			*dst = v
		}
		return err
	}
}
