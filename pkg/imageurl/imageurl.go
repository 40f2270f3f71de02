// Package imageurl composes illustration URLs for prompt-in-path image
// generators such as pollinations.ai. Nothing here touches the network.
package imageurl

import (
	"errors"
	"net/url"
	"strings"

	"github.com/pburglin/EpicSagaBuilder/pkg/textfilter"
)

const (
	DefaultBaseURL  = "https://image.pollinations.ai/prompt/"
	DefaultMaxChars = 1000
)

var ErrEmptyPrompt = errors.New("image prompt is empty")

type Composer struct {
	BaseURL  string
	MaxChars int
}

// NewComposer returns a Composer, filling in defaults for zero values.
func NewComposer(baseURL string, maxChars int) Composer {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if maxChars <= 0 {
		maxChars = DefaultMaxChars
	}
	return Composer{BaseURL: baseURL, MaxChars: maxChars}
}

// Build returns the image URL for narration text drawn in the given style.
func (c Composer) Build(style, text string) (string, error) {
	text = textfilter.ForImagePrompt(text)
	if text == "" {
		return "", ErrEmptyPrompt
	}

	if c.MaxChars > 0 {
		if runes := []rune(text); len(runes) > c.MaxChars {
			text = strings.TrimSpace(string(runes[:c.MaxChars]))
		}
	}

	prompt := text
	if style = textfilter.ForImagePrompt(style); style != "" {
		prompt = style + " " + text
	}

	base := c.BaseURL
	if base == "" {
		base = DefaultBaseURL
	}
	if !strings.HasSuffix(base, "/") {
		base += "/"
	}
	return base + url.PathEscape(prompt), nil
}
