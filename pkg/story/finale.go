package story

import (
	"fmt"
	"strings"
)

const (
	FinaleBanner = "🌟 EPIC FINALE 🌟"
	FinaleEnd    = "THE END"
)

// FormatFinale wraps finale narration so that consumers can detect it.
func FormatFinale(text string) string {
	return fmt.Sprintf("%s\n\n%s\n\n%s", FinaleBanner, strings.TrimSpace(text), FinaleEnd)
}

// IsFinale reports whether content was produced by FormatFinale.
func IsFinale(content string) bool {
	return strings.HasPrefix(content, FinaleBanner)
}

// FinaleBody strips the banner and end marker from finale content.
func FinaleBody(content string) string {
	if !IsFinale(content) {
		return content
	}
	body := strings.TrimPrefix(content, FinaleBanner)
	body = strings.TrimSuffix(strings.TrimSpace(body), FinaleEnd)
	return strings.TrimSpace(body)
}

// CompletionAnnouncement is the character message posted when a player
// ends the story.
func CompletionAnnouncement(name string) string {
	return fmt.Sprintf("%s has marked the story as complete. Preparing the grand finale...", name)
}
