package services

import (
	"context"
	"strings"
	"sync"

	"github.com/pburglin/EpicSagaBuilder/pkg/chat"
	"github.com/pburglin/EpicSagaBuilder/pkg/prompts"
)

// MockCompletionService is a mock implementation of CompletionService for testing
type MockCompletionService struct {
	InitModelFunc func(ctx context.Context, modelName string) error
	CompleteFunc  func(ctx context.Context, req chat.CompletionRequest) (*chat.CompletionResponse, error)

	// Track calls for testing
	InitModelCalls []string
	CompleteCalls  []chat.CompletionRequest

	mu sync.Mutex // protects all fields above
}

var _ CompletionService = (*MockCompletionService)(nil)

// NewMockCompletionService creates a new mock completion service
func NewMockCompletionService() *MockCompletionService {
	return &MockCompletionService{
		InitModelCalls: make([]string, 0),
		CompleteCalls:  make([]chat.CompletionRequest, 0),
	}
}

// InitModel mocks model initialization
func (m *MockCompletionService) InitModel(ctx context.Context, modelName string) error {
	m.mu.Lock()
	m.InitModelCalls = append(m.InitModelCalls, modelName)
	fn := m.InitModelFunc
	m.mu.Unlock()

	if fn != nil {
		return fn(ctx, modelName)
	}
	return nil
}

// Complete mocks a completion call. The request messages are copied so tests
// can inspect them after the caller mutates its buffers.
func (m *MockCompletionService) Complete(ctx context.Context, req chat.CompletionRequest) (*chat.CompletionResponse, error) {
	m.mu.Lock()
	recorded := req
	recorded.Messages = append([]chat.ChatMessage(nil), req.Messages...)
	m.CompleteCalls = append(m.CompleteCalls, recorded)
	fn := m.CompleteFunc
	m.mu.Unlock()

	// The func runs unlocked so it may block on ctx.
	if fn != nil {
		return fn(ctx, req)
	}

	return &chat.CompletionResponse{
		Text:         "The story moves forward.",
		FinishReason: chat.FinishReasonStop,
	}, nil
}

// CallCount returns the number of Complete calls so far.
func (m *MockCompletionService) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.CompleteCalls)
}

// LastRequest returns the most recent Complete request.
func (m *MockCompletionService) LastRequest() (chat.CompletionRequest, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.CompleteCalls) == 0 {
		return chat.CompletionRequest{}, false
	}
	return m.CompleteCalls[len(m.CompleteCalls)-1], true
}

// Reset clears all call tracking
func (m *MockCompletionService) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.InitModelCalls = make([]string, 0)
	m.CompleteCalls = make([]chat.CompletionRequest, 0)
}

var cannedNarrations = []string{
	"The party's actions echo through the chamber. The fighters engage the enemies head-on while the others provide support from the back. Healing magic flows where needed, keeping the group's strength up. The battle is intense but controlled, with each member playing their role.",
	"As the dust settles from the recent skirmish, the party finds a moment of relative calm. The enemies have been dealt with, but signs of more trouble lurk in the shadows ahead. The air is thick with tension, and everyone remains alert.",
	"The group's cautious approach pays off. Careful scouting reveals several hidden traps, which they manage to avoid. The dungeon's secrets slowly unveil themselves as the party works together, combining their skills.",
}

const (
	cannedFinale  = "After countless challenges and memorable moments, our heroes emerge victorious. The quest that brought them together is complete, but the bonds forged along the way will last a lifetime. Their names will be remembered in tavern tales and bards' songs for generations to come."
	cannedFacts   = "- The heroes travel together on a shared quest."
	cannedSummary = "The party pressed on through danger, working together and growing closer to their goal."
)

// NewCannedCompletionService returns a mock that answers every request with
// rotating canned narrations. It backs the "mock" provider for offline play.
func NewCannedCompletionService() *MockCompletionService {
	m := NewMockCompletionService()
	var (
		next int
		mu   sync.Mutex
	)
	m.CompleteFunc = func(ctx context.Context, req chat.CompletionRequest) (*chat.CompletionResponse, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		text := cannedText(req.Messages, func() string {
			mu.Lock()
			defer mu.Unlock()
			s := cannedNarrations[next%len(cannedNarrations)]
			next++
			return s
		})
		return &chat.CompletionResponse{Text: text, FinishReason: chat.FinishReasonStop}, nil
	}
	return m
}

func cannedText(messages []chat.ChatMessage, nextNarration func() string) string {
	if len(messages) == 0 {
		return nextNarration()
	}
	first := messages[0].Content
	last := messages[len(messages)-1].Content
	switch {
	case first == prompts.SummaryInstructions:
		return cannedSummary
	case first == prompts.FactsInstructions:
		// Echo the current facts so nothing is lost offline.
		head := strings.SplitN(last, "\n\n", 2)[0]
		facts := strings.TrimSpace(strings.TrimPrefix(head, "Existing facts:"))
		if facts == "" || facts == "(none yet)" {
			return cannedFacts
		}
		return facts
	case strings.Contains(last, "memorable finale"):
		return cannedFinale
	}
	return nextNarration()
}
