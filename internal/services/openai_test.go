package services

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pburglin/EpicSagaBuilder/pkg/chat"
)

func TestOpenAIService_Complete(t *testing.T) {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	tests := []struct {
		name           string
		status         int
		body           string
		expectedText   string
		expectedFinish chat.FinishReason
		expectErr      bool
	}{
		{
			name:           "stop",
			status:         http.StatusOK,
			body:           `{"id":"c1","object":"chat.completion","choices":[{"index":0,"message":{"role":"assistant","content":"The dragon sleeps."},"finish_reason":"stop"}]}`,
			expectedText:   "The dragon sleeps.",
			expectedFinish: chat.FinishReasonStop,
		},
		{
			name:           "length",
			status:         http.StatusOK,
			body:           `{"id":"c2","object":"chat.completion","choices":[{"index":0,"message":{"role":"assistant","content":"The dragon"},"finish_reason":"length"}]}`,
			expectedText:   "The dragon",
			expectedFinish: chat.FinishReasonLength,
		},
		{
			name:      "no choices",
			status:    http.StatusOK,
			body:      `{"id":"c3","object":"chat.completion","choices":[]}`,
			expectErr: true,
		},
		{
			name:      "empty content",
			status:    http.StatusOK,
			body:      `{"id":"c4","object":"chat.completion","choices":[{"index":0,"message":{"role":"assistant","content":"  "},"finish_reason":"stop"}]}`,
			expectErr: true,
		},
		{
			name:      "api error",
			status:    http.StatusInternalServerError,
			body:      `{"error":{"message":"boom","type":"server_error"}}`,
			expectErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got map[string]any
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "/chat/completions", r.URL.Path)
				require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer server.Close()

			service := NewOpenAIService("test-key", server.URL, "gpt-4o-mini", log)
			resp, err := service.Complete(context.Background(), chat.CompletionRequest{
				Messages: []chat.ChatMessage{{Role: chat.ChatRoleUser, Content: "Aria: I wake the dragon."}},
			})

			assert.Equal(t, "gpt-4o-mini", got["model"])

			if tt.expectErr {
				assert.ErrorIs(t, err, ErrCompletionFailed)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expectedText, resp.Text)
			assert.Equal(t, tt.expectedFinish, resp.FinishReason)
			assert.Equal(t, tt.expectedFinish == chat.FinishReasonLength, resp.Truncated())
		})
	}
}
