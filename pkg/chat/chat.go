package chat

const (
	ChatRoleUser   = "user"      // Player actions and instructions
	ChatRoleAgent  = "assistant" // Narrator
	ChatRoleSystem = "system"    // System prompt, facts and summaries
)

// FinishReason reports why a completion stopped.
type FinishReason string

const (
	FinishReasonStop   FinishReason = "stop"
	FinishReasonLength FinishReason = "length"
)

// ChatMessage represents a single role-tagged message in the conversation
// sent to a completion API.
type ChatMessage struct {
	Role    string `json:"role"` // "user", "assistant", "system"
	Content string `json:"content"`
}

// CompletionRequest is a single request to a completion backend.
// Zero values for Model, MaxTokens and Temperature mean "use the
// backend's configured default".
type CompletionRequest struct {
	Model       string        `json:"model,omitempty"`
	Messages    []ChatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature float64       `json:"temperature,omitempty"`
}

// CompletionResponse carries the generated text and the reason the
// backend stopped generating.
type CompletionResponse struct {
	Text         string       `json:"text"`
	FinishReason FinishReason `json:"finish_reason"`
}

// Truncated reports whether the backend stopped because it ran out of tokens.
func (r *CompletionResponse) Truncated() bool {
	return r.FinishReason == FinishReasonLength
}
