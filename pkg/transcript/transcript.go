// Package transcript renders a story's messages as plain text for export.
package transcript

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/muesli/reflow/indent"
	"github.com/muesli/reflow/wordwrap"

	"github.com/pburglin/EpicSagaBuilder/pkg/story"
)

const (
	DefaultWidth = 80
	minWidth     = 20
)

// Render writes the transcript of s. Character messages are attributed by
// name; narration is wrapped to width and the finale is set off by rules.
func Render(s *story.Story, messages []story.Message, characters []story.Character, width int) string {
	if width < minWidth {
		width = DefaultWidth
	}
	names := make(map[uuid.UUID]string, len(characters))
	for _, c := range characters {
		names[c.ID] = c.Name
	}

	var b strings.Builder
	rule := strings.Repeat("=", width)

	b.WriteString(rule + "\n")
	b.WriteString(wordwrap.String(s.Title, width) + "\n")
	b.WriteString(rule + "\n")
	if s.Description != "" {
		b.WriteString(wordwrap.String(s.Description, width) + "\n")
	}
	if s.MainQuest != "" {
		b.WriteString(wordwrap.String("Quest: "+s.MainQuest, width) + "\n")
	}
	if len(characters) > 0 {
		b.WriteString("\nCast:\n")
		for _, c := range characters {
			line := fmt.Sprintf("- %s, %s %s", c.Name, c.Race, c.Class)
			if !c.IsActive() {
				line += " (departed)"
			}
			b.WriteString(line + "\n")
		}
	}
	b.WriteString("\n")

	for _, m := range messages {
		b.WriteString(renderMessage(m, names, width))
		b.WriteString("\n")
	}
	return b.String()
}

func renderMessage(m story.Message, names map[uuid.UUID]string, width int) string {
	text := strings.TrimSpace(m.Text())
	var b strings.Builder

	switch m.Type {
	case story.MessageCharacter:
		name := "Unknown"
		if m.CharacterID != nil {
			if n, ok := names[*m.CharacterID]; ok {
				name = n
			}
		}
		wrap := width - len([]rune(name)) - 2
		if wrap < minWidth/2 {
			wrap = minWidth / 2
		}
		body := wordwrap.String(text, wrap)
		// Continuation lines hang under the speaker.
		lines := strings.SplitN(body, "\n", 2)
		b.WriteString(name + ": " + lines[0] + "\n")
		if len(lines) > 1 {
			b.WriteString(indent.String(lines[1], 2) + "\n")
		}
	default:
		if story.IsFinale(text) {
			rule := strings.Repeat("*", width)
			b.WriteString(rule + "\n")
			b.WriteString(story.FinaleBanner + "\n\n")
			b.WriteString(wordwrap.String(story.FinaleBody(text), width) + "\n\n")
			b.WriteString(story.FinaleEnd + "\n")
			b.WriteString(rule + "\n")
		} else {
			b.WriteString(wordwrap.String(text, width) + "\n")
		}
	}

	if url := m.Content.Image(); url != "" {
		b.WriteString("Illustration: " + url + "\n")
	}
	return b.String()
}
