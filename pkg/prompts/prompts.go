package prompts

import (
	"fmt"
	"strings"

	"github.com/pburglin/EpicSagaBuilder/pkg/story"
)

// DefaultSystemPrompt is used when no base prompt is configured.
const DefaultSystemPrompt = `You are the narrator of a collaborative storytelling game. Several players each control one character, and every round you receive all of their actions at once. Describe what happens as a result and set the scene for the next round.

### Writing rules:
- Write in the third person.
- The total response must be between 2 and 4 paragraphs.
- Every character whose action you received must appear in the narration.
- Do not invent actions for the characters beyond what their players wrote. You control the world and everyone else in it.
- Move the main quest forward gradually. Reward clever ideas and let reckless ones have consequences.
- Do not break the fourth wall. Do not acknowledge that you are an AI.
- End with the scene open for the characters' next actions.`

// ContinueInstruction asks the model to finish a response that was cut off.
const ContinueInstruction = "Continue and complete the last message with role assistant."

const (
	CoreFactsHeader = "Core story facts:"
	SummaryHeader   = "Summary of earlier events:"
)

// SummaryInstructions is the system prompt for compacting older history.
const SummaryInstructions = `You compress the history of a collaborative story so it can be remembered later. Summarize the transcript you are given in one short paragraph of narrative prose.
- Preserve plot developments, decisions, and unresolved threads.
- Preserve the names of characters, places, items and factions exactly.
- Do not add anything that did not happen.
- Respond with the summary only.`

// FactsInstructions is the system prompt for extracting durable facts.
const FactsInstructions = `You maintain the list of core facts for a long-running collaborative story. Core facts rarely change: who the characters are, their relationships, important places, named entities, artifacts, and the state of the main quest.
- Merge the existing facts with anything new in the material.
- Drop facts the material clearly contradicts.
- Respond with a compact bullet list of at most 15 lines, nothing else.`

// CharacterAction is one character's contribution to a round.
type CharacterAction struct {
	Name   string
	Action string
}

// System builds the per-story system prompt from a base prompt.
func System(base string, s *story.Story) string {
	if strings.TrimSpace(base) == "" {
		base = DefaultSystemPrompt
	}

	var b strings.Builder
	b.WriteString(base)
	b.WriteString("\n\nTitle: ")
	b.WriteString(s.Title)
	if s.Description != "" {
		b.WriteString("\n\nStory: ")
		b.WriteString(s.Description)
	}
	if s.MainQuest != "" {
		b.WriteString("\n\nMain Quest: ")
		b.WriteString(s.MainQuest)
	}
	if s.StoryMechanics != "" {
		b.WriteString("\n\n### Story mechanics:\n")
		b.WriteString(s.StoryMechanics)
	}

	b.WriteString("\n\nCharacters:\n")
	for _, c := range s.ActiveCharacters() {
		fmt.Fprintf(&b, "%s (%s %s): %s\n", c.Name, c.Race, c.Class, c.Description)
	}
	return strings.TrimRight(b.String(), "\n")
}

// Action builds the round prompt from the current scene and every pending
// action, in the order they were submitted.
func Action(scene string, actions []CharacterAction) string {
	lines := make([]string, 0, len(actions))
	for _, a := range actions {
		lines = append(lines, fmt.Sprintf("%s: %s", a.Name, a.Action))
	}

	return fmt.Sprintf(`Current Scene:
%s

Character Actions:

%s

Describe the outcome of these actions and the resulting scene.`, scene, strings.Join(lines, "\n"))
}

// Finale builds the prompt for the story's closing narration.
func Finale(s *story.Story) string {
	heroes := make([]string, 0, len(s.Characters))
	for _, c := range s.ActiveCharacters() {
		heroes = append(heroes, fmt.Sprintf("- %s (%s %s)", c.Name, c.Race, c.Class))
	}

	return fmt.Sprintf(`Create an epic and memorable finale for the story "%s".

Context:
- Story: %s
- Main Quest: %s

Active Heroes:
%s

Create a dramatic conclusion that:
1. Resolves the main quest
2. Acknowledges each character's unique contributions
3. Provides a satisfying ending worthy of legend
4. Leaves a lasting impact on the world

Make it epic, emotional, and memorable!

Do not include emojis, hashtags or other special characters in your response.`,
		s.Title, s.Description, s.MainQuest, strings.Join(heroes, "\n"))
}

// Summary wraps a transcript excerpt for the summarizer.
func Summary(transcript string) string {
	return "Transcript:\n\n" + transcript
}

// Facts combines the current facts with new material for extraction.
func Facts(current, material string) string {
	if strings.TrimSpace(current) == "" {
		current = "(none yet)"
	}
	return fmt.Sprintf("Existing facts:\n%s\n\nNew material:\n\n%s", current, material)
}

// Optimize is the system prompt for the author-assist rewrite.
func Optimize(maxChars int) string {
	return fmt.Sprintf("Expand the text you are given and make it more engaging, vivid and descriptive. Keep the author's intent, point of view and names. Respond with the rewritten text only, in fewer than %d characters.", maxChars)
}
