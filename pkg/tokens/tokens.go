// Package tokens approximates the token cost of text sent to a completion API.
//
// The estimate is ceil(bytes/4). It is deliberately coarse: it is only used
// to keep requests under a budget with headroom, and it makes no attempt to
// match any particular tokenizer.
package tokens

import "github.com/pburglin/EpicSagaBuilder/pkg/chat"

// Estimate returns the approximate token count of text.
func Estimate(text string) int {
	return (len(text) + 3) / 4
}

// EstimateMessages sums Estimate over the content of each message.
func EstimateMessages(messages []chat.ChatMessage) int {
	total := 0
	for _, m := range messages {
		total += Estimate(m.Content)
	}
	return total
}
