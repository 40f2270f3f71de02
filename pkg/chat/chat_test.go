package chat

import "testing"

func TestCompletionResponse_Truncated(t *testing.T) {
	tests := []struct {
		name   string
		reason FinishReason
		want   bool
	}{
		{name: "natural stop", reason: FinishReasonStop, want: false},
		{name: "length limit", reason: FinishReasonLength, want: true},
		{name: "unknown reason", reason: "content_filter", want: false},
		{name: "empty reason", reason: "", want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := &CompletionResponse{Text: "x", FinishReason: tt.reason}
			if got := r.Truncated(); got != tt.want {
				t.Errorf("Truncated() = %v, want %v", got, tt.want)
			}
		})
	}
}
