package narration

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/pburglin/EpicSagaBuilder/internal/services"
	"github.com/pburglin/EpicSagaBuilder/pkg/chat"
	"github.com/pburglin/EpicSagaBuilder/pkg/contextstore"
	"github.com/pburglin/EpicSagaBuilder/pkg/imageurl"
	"github.com/pburglin/EpicSagaBuilder/pkg/progress"
	"github.com/pburglin/EpicSagaBuilder/pkg/prompts"
)

var (
	// ErrNarrationTimeout is returned when a completion call exceeds its deadline.
	ErrNarrationTimeout = errors.New("narration timed out")
	ErrEmptyInput       = errors.New("input is empty")
)

const (
	DefaultFallbackText     = "The storyteller is overwhelmed by high traffic right now. Please try again in a moment."
	DefaultMaxContinuations = 3
	DefaultOptimizeMaxChars = 500
	DefaultTimeout          = 90 * time.Second
)

type Config struct {
	Model            string
	Temperature      float64
	MaxTokens        int
	MaxContinuations int
	OptimizeMaxChars int
	Timeout          time.Duration
	FallbackText     string
}

func DefaultConfig() Config {
	return Config{
		Temperature:      0.7,
		MaxTokens:        1024,
		MaxContinuations: DefaultMaxContinuations,
		OptimizeMaxChars: DefaultOptimizeMaxChars,
		Timeout:          DefaultTimeout,
		FallbackText:     DefaultFallbackText,
	}
}

// Result is one narrator turn. Fallback is set when Text is the
// retry-later message instead of a narration.
type Result struct {
	Text     string
	ImageURL string
	Fallback bool
}

// Client produces narrator turns for one story session.
type Client struct {
	completion services.CompletionService
	memory     *contextstore.Store
	latency    *progress.Estimator
	images     imageurl.Composer
	cfg        Config
	logger     *slog.Logger
	now        func() time.Time
}

func NewClient(completion services.CompletionService, ctxStore *contextstore.Store, latency *progress.Estimator, images imageurl.Composer, cfg Config, logger *slog.Logger) *Client {
	if cfg.FallbackText == "" {
		cfg.FallbackText = DefaultFallbackText
	}
	if cfg.MaxContinuations < 0 {
		cfg.MaxContinuations = 0
	}
	return &Client{
		completion: completion,
		memory:     ctxStore,
		latency:    latency,
		images:     images,
		cfg:        cfg,
		logger:     logger,
		now:        time.Now,
	}
}

// GenerateNarration narrates prompt and never fails: errors become the
// fallback result and the prompt is rolled back out of the context.
func (c *Client) GenerateNarration(ctx context.Context, prompt, imageStyle string) Result {
	res, err := c.Narrate(ctx, prompt, imageStyle)
	if err != nil {
		c.logger.Error("Narration failed, returning fallback", "error", err)
		return Result{Text: c.cfg.FallbackText, Fallback: true}
	}
	return res
}

// Narrate is GenerateNarration with the error exposed.
func (c *Client) Narrate(ctx context.Context, prompt, imageStyle string) (Result, error) {
	start := c.now()

	c.memory.AppendUserMessage(ctx, prompt)

	text, err := c.complete(ctx)
	if err != nil {
		c.memory.PopLastUser()
		return Result{}, err
	}

	c.memory.AppendAssistantMessage(ctx, text)
	c.latency.RecordLatency(start, c.now())

	res := Result{Text: text}
	url, err := c.images.Build(imageStyle, text)
	if err != nil {
		c.logger.Warn("Failed to compose illustration URL", "error", err)
	} else {
		res.ImageURL = url
	}
	return res, nil
}

// Forget drops the last narrated exchange from the context, for callers
// that could not keep the narration on record.
func (c *Client) Forget() {
	if !c.memory.PopLastExchange() {
		c.logger.Warn("Last exchange already compacted, cannot forget it")
	}
}

// EstimateProgress reports how far along a wait that began at waitStart
// probably is, from this session's last narration latency.
func (c *Client) EstimateProgress(waitStart time.Time) float64 {
	return c.latency.EstimateProgress(waitStart)
}

// complete runs the first request plus at most MaxContinuations follow-ups
// while the backend reports truncation.
func (c *Client) complete(ctx context.Context) (string, error) {
	ctx, cancel := withTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	var (
		full  strings.Builder
		extra []chat.ChatMessage
	)
	for hop := 0; ; hop++ {
		resp, err := c.completion.Complete(ctx, chat.CompletionRequest{
			Model:       c.cfg.Model,
			Messages:    c.memory.BuildRequestMessages(extra...),
			MaxTokens:   c.cfg.MaxTokens,
			Temperature: c.cfg.Temperature,
		})
		if err != nil {
			return "", classify(ctx, err)
		}
		full.WriteString(resp.Text)

		if !resp.Truncated() {
			break
		}
		if hop >= c.cfg.MaxContinuations {
			c.logger.Warn("Narration still truncated after continuation limit", "continuations", hop)
			break
		}
		extra = []chat.ChatMessage{
			{Role: chat.ChatRoleAgent, Content: full.String()},
			{Role: chat.ChatRoleUser, Content: prompts.ContinueInstruction},
		}
	}
	return full.String(), nil
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}

func classify(ctx context.Context, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", ErrNarrationTimeout, err)
	}
	return fmt.Errorf("failed to complete narration: %w", err)
}

// Optimizer rewrites author input to be more engaging. It keeps no history.
type Optimizer struct {
	completion services.CompletionService
	cfg        Config
	logger     *slog.Logger
}

func NewOptimizer(completion services.CompletionService, cfg Config, logger *slog.Logger) *Optimizer {
	if cfg.OptimizeMaxChars <= 0 {
		cfg.OptimizeMaxChars = DefaultOptimizeMaxChars
	}
	return &Optimizer{completion: completion, cfg: cfg, logger: logger}
}

func (o *Optimizer) Optimize(ctx context.Context, input string) (string, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return "", ErrEmptyInput
	}

	ctx, cancel := withTimeout(ctx, o.cfg.Timeout)
	defer cancel()

	resp, err := o.completion.Complete(ctx, chat.CompletionRequest{
		Model: o.cfg.Model,
		Messages: []chat.ChatMessage{
			{Role: chat.ChatRoleSystem, Content: prompts.Optimize(o.cfg.OptimizeMaxChars)},
			{Role: chat.ChatRoleUser, Content: input},
		},
		MaxTokens:   o.cfg.MaxTokens,
		Temperature: o.cfg.Temperature,
	})
	if err != nil {
		return "", classify(ctx, err)
	}

	out := strings.TrimSpace(resp.Text)
	if runes := []rune(out); len(runes) > o.cfg.OptimizeMaxChars {
		out = strings.TrimSpace(string(runes[:o.cfg.OptimizeMaxChars]))
	}
	o.logger.Debug("Optimized author input", "input_len", len(input), "output_len", len(out))
	return out, nil
}
