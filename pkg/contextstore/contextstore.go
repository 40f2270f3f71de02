// Package contextstore keeps everything the narrator needs to remember
// about one story inside a bounded token budget.
//
// Memory has three tiers. Core facts are durable and re-extracted
// periodically. Summary chunks are compacted older history. The recent
// buffer holds verbatim entries. Older material degrades into summaries,
// and names and places survive in the facts.
package contextstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/pburglin/EpicSagaBuilder/pkg/chat"
	"github.com/pburglin/EpicSagaBuilder/pkg/prompts"
	"github.com/pburglin/EpicSagaBuilder/pkg/story"
	"github.com/pburglin/EpicSagaBuilder/pkg/tokens"
)

// ErrSummarizationFailed marks a failed compaction or fact refresh. It is
// logged and never returned to callers of the store.
var ErrSummarizationFailed = errors.New("summarization failed")

// Summarizer produces summaries and core facts through a completion backend.
type Summarizer interface {
	Summarize(ctx context.Context, transcript string) (string, error)
	ExtractFacts(ctx context.Context, currentFacts, material string) (string, error)
}

// FactStore is the slice of storage.Storage the store reads and writes.
type FactStore interface {
	LoadStoryContextFacts(ctx context.Context, storyID uuid.UUID) (string, error)
	SaveStoryContextFacts(ctx context.Context, storyID uuid.UUID, facts string) error
	LoadMessages(ctx context.Context, storyID uuid.UUID) ([]story.Message, error)
}

type Config struct {
	MaxTokens int
	// Headroom is the fraction of MaxTokens a request may use.
	Headroom             float64
	MaxRecentMessages    int
	RetainRecentMessages int
	MaxSummaryChunks     int
	// FactsRefreshInterval counts appended entries between fact refreshes.
	// Zero disables refreshing.
	FactsRefreshInterval int
}

func DefaultConfig() Config {
	return Config{
		MaxTokens:            8192,
		Headroom:             0.9,
		MaxRecentMessages:    20,
		RetainRecentMessages: 10,
		MaxSummaryChunks:     5,
		FactsRefreshInterval: 8,
	}
}

func (c Config) Validate() error {
	if c.MaxTokens <= 0 {
		return fmt.Errorf("max tokens must be positive, got %d", c.MaxTokens)
	}
	if c.Headroom <= 0 || c.Headroom > 1 {
		return fmt.Errorf("headroom must be in (0, 1], got %g", c.Headroom)
	}
	if c.MaxRecentMessages < 2 {
		return fmt.Errorf("max recent messages must be at least 2, got %d", c.MaxRecentMessages)
	}
	if c.RetainRecentMessages < 1 || c.RetainRecentMessages >= c.MaxRecentMessages {
		return fmt.Errorf("retain recent messages must be in [1, %d), got %d", c.MaxRecentMessages, c.RetainRecentMessages)
	}
	if c.MaxSummaryChunks < 1 {
		return fmt.Errorf("max summary chunks must be at least 1, got %d", c.MaxSummaryChunks)
	}
	if c.FactsRefreshInterval < 0 {
		return fmt.Errorf("facts refresh interval must not be negative, got %d", c.FactsRefreshInterval)
	}
	return nil
}

// Budget is the token ceiling for one request.
func (c Config) Budget() int {
	return int(float64(c.MaxTokens) * c.Headroom)
}

// State is a copy of the store's tiers.
type State struct {
	SystemPrompt string
	CoreFacts    string
	Chunks       []string
	Recent       []chat.ChatMessage
}

// Store is owned by exactly one session. Appends may block on the
// summarizer.
type Store struct {
	cfg        Config
	summarizer Summarizer
	facts      FactStore
	logger     *slog.Logger

	mu           sync.Mutex
	storyID      uuid.UUID
	systemPrompt string
	coreFacts    string
	chunks       []string
	recent       []chat.ChatMessage
	sinceFacts   int
}

func New(cfg Config, summarizer Summarizer, facts FactStore, logger *slog.Logger) *Store {
	return &Store{
		cfg:        cfg,
		summarizer: summarizer,
		facts:      facts,
		logger:     logger,
	}
}

// Initialize loads the persisted facts and prior narrations for storyID.
func (s *Store) Initialize(ctx context.Context, systemPrompt string, storyID uuid.UUID) error {
	facts, err := s.facts.LoadStoryContextFacts(ctx, storyID)
	if err != nil {
		return fmt.Errorf("failed to load story facts: %w", err)
	}
	messages, err := s.facts.LoadMessages(ctx, storyID)
	if err != nil {
		return fmt.Errorf("failed to load messages: %w", err)
	}

	recent := make([]chat.ChatMessage, 0, len(messages))
	for _, m := range messages {
		if m.Type != story.MessageNarrator {
			continue
		}
		recent = append(recent, chat.ChatMessage{Role: chat.ChatRoleAgent, Content: m.Text()})
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.storyID = storyID
	s.systemPrompt = systemPrompt
	s.coreFacts = facts
	s.chunks = nil
	s.recent = recent
	s.sinceFacts = 0

	s.logger.Debug("Context initialized",
		"story_id", storyID.String(),
		"narrations", len(recent),
		"has_facts", facts != "")
	return nil
}

func (s *Store) AppendUserMessage(ctx context.Context, text string) {
	s.append(ctx, chat.ChatMessage{Role: chat.ChatRoleUser, Content: text})
}

func (s *Store) AppendAssistantMessage(ctx context.Context, text string) {
	s.append(ctx, chat.ChatMessage{Role: chat.ChatRoleAgent, Content: text})
}

func (s *Store) append(ctx context.Context, entry chat.ChatMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.recent = append(s.recent, entry)
	s.sinceFacts++

	if err := s.compactLocked(ctx); err != nil {
		s.logger.Warn("Compaction failed, keeping uncompacted buffer",
			"story_id", s.storyID.String(),
			"buffer_len", s.bufferLenLocked(),
			"error", err)
	}

	if s.cfg.FactsRefreshInterval > 0 && s.sinceFacts >= s.cfg.FactsRefreshInterval {
		s.sinceFacts = 0
		if err := s.refreshFactsLocked(ctx); err != nil {
			s.logger.Warn("Fact refresh failed",
				"story_id", s.storyID.String(),
				"error", err)
		}
	}
}

// bufferLenLocked counts the system prompt entry.
func (s *Store) bufferLenLocked() int {
	return len(s.recent) + 1
}

// compactLocked runs once the buffer outgrows MaxRecentMessages and
// summarizes everything older than the retained tail, one window of at most
// MaxRecentMessages entries per call. Entries are only
// removed from the buffer once their summary exists.
func (s *Store) compactLocked(ctx context.Context) error {
	if s.bufferLenLocked() <= s.cfg.MaxRecentMessages {
		return nil
	}
	for len(s.recent) > s.cfg.RetainRecentMessages {
		n := min(len(s.recent)-s.cfg.RetainRecentMessages, s.cfg.MaxRecentMessages)

		summary, err := s.summarizer.Summarize(ctx, Transcript(s.recent[:n]))
		if err != nil {
			return fmt.Errorf("%w: %w", ErrSummarizationFailed, err)
		}
		summary = strings.TrimSpace(summary)
		if summary == "" {
			return fmt.Errorf("%w: empty summary", ErrSummarizationFailed)
		}

		s.chunks = append(s.chunks, summary)
		if over := len(s.chunks) - s.cfg.MaxSummaryChunks; over > 0 {
			s.chunks = append([]string(nil), s.chunks[over:]...)
			s.logger.Debug("Evicted oldest summary chunks", "story_id", s.storyID.String(), "count", over)
		}
		s.recent = append([]chat.ChatMessage(nil), s.recent[n:]...)

		s.logger.Info("Compacted history",
			"story_id", s.storyID.String(),
			"entries", n,
			"chunks", len(s.chunks))
	}
	return nil
}

func (s *Store) refreshFactsLocked(ctx context.Context) error {
	material := make([]string, 0, len(s.chunks)+1)
	for _, c := range s.chunks {
		material = append(material, prompts.SummaryHeader+"\n"+c)
	}
	material = append(material, Transcript(s.recent))

	facts, err := s.summarizer.ExtractFacts(ctx, s.coreFacts, strings.Join(material, "\n\n"))
	if err != nil {
		return fmt.Errorf("%w: %w", ErrSummarizationFailed, err)
	}
	facts = strings.TrimSpace(facts)
	if facts == "" || facts == s.coreFacts {
		return nil
	}

	s.coreFacts = facts
	if err := s.facts.SaveStoryContextFacts(ctx, s.storyID, facts); err != nil {
		return fmt.Errorf("failed to save story facts: %w", err)
	}
	s.logger.Info("Core facts refreshed", "story_id", s.storyID.String(), "length", len(facts))
	return nil
}

// PopLastUser removes the newest entry if it is a user entry. Narration
// uses it to roll back a prompt whose narration failed.
func (s *Store) PopLastUser() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.recent) == 0 || s.recent[len(s.recent)-1].Role != chat.ChatRoleUser {
		return false
	}
	s.recent = s.recent[:len(s.recent)-1]
	if s.sinceFacts > 0 {
		s.sinceFacts--
	}
	return true
}

// PopLastExchange removes the newest prompt and its narration when they are
// still the last two recent entries. It returns false if compaction has
// already folded them into a summary.
func (s *Store) PopLastExchange() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := len(s.recent)
	if n < 2 || s.recent[n-1].Role != chat.ChatRoleAgent || s.recent[n-2].Role != chat.ChatRoleUser {
		return false
	}
	s.recent = s.recent[:n-2]
	s.sinceFacts = max(s.sinceFacts-2, 0)
	return true
}

// BuildRequestMessages assembles the request in the order system prompt,
// core facts, summaries, recent entries, extra. The system prompt is always
// included. Extra is reserved first but cut from the front to fit beside
// the system prompt and the newest recent entry. Everything else is
// included only while the running estimate stays within Config.Budget,
// newest first within a tier.
func (s *Store) BuildRequestMessages(extra ...chat.ChatMessage) []chat.ChatMessage {
	s.mu.Lock()
	defer s.mu.Unlock()

	budget := s.cfg.Budget()
	system := chat.ChatMessage{Role: chat.ChatRoleSystem, Content: s.systemPrompt}
	used := tokens.Estimate(system.Content)

	if len(extra) > 0 {
		allowance := budget - used
		if n := len(s.recent); n > 0 {
			reserved := allowance - tokens.Estimate(s.recent[n-1].Content)
			if reserved >= tokens.Estimate(extra[len(extra)-1].Content) {
				allowance = reserved
			}
		}
		fitted := fitTail(extra, allowance)
		if tokens.EstimateMessages(fitted) < tokens.EstimateMessages(extra) {
			s.logger.Warn("Context budget exceeded, trimming continuation",
				"story_id", s.storyID.String(), "budget", budget)
		}
		extra = fitted
		used += tokens.EstimateMessages(extra)
	}

	out := make([]chat.ChatMessage, 0, 2+len(s.chunks)+len(s.recent)+len(extra))
	out = append(out, system)

	if s.coreFacts != "" {
		facts := chat.ChatMessage{Role: chat.ChatRoleSystem, Content: prompts.CoreFactsHeader + "\n" + s.coreFacts}
		if cost := tokens.Estimate(facts.Content); used+cost <= budget {
			used += cost
			out = append(out, facts)
		} else {
			s.logger.Warn("Context budget exceeded, dropping core facts",
				"story_id", s.storyID.String(), "budget", budget)
		}
	}

	chunks := make([]chat.ChatMessage, len(s.chunks))
	for i, c := range s.chunks {
		chunks[i] = chat.ChatMessage{Role: chat.ChatRoleSystem, Content: prompts.SummaryHeader + "\n" + c}
	}
	var kept []chat.ChatMessage
	kept, used = newestThatFit(chunks, used, budget)
	if dropped := len(chunks) - len(kept); dropped > 0 {
		s.logger.Warn("Context budget exceeded, dropping summaries",
			"story_id", s.storyID.String(), "dropped", dropped, "budget", budget)
	}
	out = append(out, kept...)

	kept, _ = newestThatFit(s.recent, used, budget)
	if dropped := len(s.recent) - len(kept); dropped > 0 {
		s.logger.Warn("Context budget exceeded, dropping recent messages",
			"story_id", s.storyID.String(), "dropped", dropped, "budget", budget)
	}
	out = append(out, kept...)

	return append(out, extra...)
}

// newestThatFit returns the longest tail of entries that fits the budget,
// in chronological order.
func newestThatFit(entries []chat.ChatMessage, used, budget int) ([]chat.ChatMessage, int) {
	first := len(entries)
	for i := len(entries) - 1; i >= 0; i-- {
		cost := tokens.Estimate(entries[i].Content)
		if used+cost > budget {
			break
		}
		used += cost
		first = i
	}
	return append([]chat.ChatMessage(nil), entries[first:]...), used
}

// fitTail keeps the newest entries that fit within allowance tokens. The
// first entry that does not fit whole is cut from the front at a rune
// boundary; anything older is dropped.
func fitTail(entries []chat.ChatMessage, allowance int) []chat.ChatMessage {
	var out []chat.ChatMessage
	used := 0
	for i := len(entries) - 1; i >= 0; i-- {
		cost := tokens.Estimate(entries[i].Content)
		if used+cost <= allowance {
			out = append([]chat.ChatMessage{entries[i]}, out...)
			used += cost
			continue
		}
		if rest := allowance - used; rest > 0 {
			if cut := tailBytes(entries[i].Content, rest*4); cut != "" {
				out = append([]chat.ChatMessage{{Role: entries[i].Role, Content: cut}}, out...)
			}
		}
		break
	}
	return out
}

// tailBytes returns at most n trailing bytes of s without splitting a rune.
func tailBytes(s string, n int) string {
	if len(s) <= n {
		return s
	}
	cut := s[len(s)-n:]
	for len(cut) > 0 && !utf8.RuneStart(cut[0]) {
		cut = cut[1:]
	}
	return cut
}

func (s *Store) Snapshot() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return State{
		SystemPrompt: s.systemPrompt,
		CoreFacts:    s.coreFacts,
		Chunks:       append([]string(nil), s.chunks...),
		Recent:       append([]chat.ChatMessage(nil), s.recent...),
	}
}

// Transcript renders entries as "Players:" and "Narrator:" paragraphs for
// the summarizer.
func Transcript(entries []chat.ChatMessage) string {
	var b strings.Builder
	for i, e := range entries {
		if i > 0 {
			b.WriteString("\n\n")
		}
		switch e.Role {
		case chat.ChatRoleUser:
			b.WriteString("Players: ")
		case chat.ChatRoleAgent:
			b.WriteString("Narrator: ")
		}
		b.WriteString(e.Content)
	}
	return b.String()
}
