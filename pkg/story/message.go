package story

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type MessageType string

const (
	MessageCharacter MessageType = "character"
	MessageNarrator  MessageType = "narrator"
)

// Content is the body of a message: either PlainText or Illustrated.
type Content interface {
	Text() string
	Image() string
	isContent()
}

// PlainText is message content with no illustration.
type PlainText string

func (p PlainText) Text() string  { return string(p) }
func (p PlainText) Image() string { return "" }
func (PlainText) isContent()      {}

// Illustrated is narrator content that carries an image URL.
type Illustrated struct {
	Body     string
	ImageURL string
}

func (i Illustrated) Text() string  { return i.Body }
func (i Illustrated) Image() string { return i.ImageURL }
func (Illustrated) isContent()      {}

// NewContent picks the variant that fits: Illustrated when imageURL is set.
func NewContent(text, imageURL string) Content {
	if imageURL == "" {
		return PlainText(text)
	}
	return Illustrated{Body: text, ImageURL: imageURL}
}

// ContentKind records which Content variant a stored message holds, so
// the body column can keep the text verbatim.
type ContentKind string

const (
	ContentPlain       ContentKind = "plain"
	ContentIllustrated ContentKind = "illustrated"
)

// SplitContent breaks content into the columns it is stored in.
func SplitContent(c Content) (kind ContentKind, text, imageURL string) {
	switch v := c.(type) {
	case Illustrated:
		return ContentIllustrated, v.Body, v.ImageURL
	case nil:
		return ContentPlain, "", ""
	default:
		return ContentPlain, c.Text(), ""
	}
}

// JoinContent rebuilds content from its stored columns. Only an
// illustrated kind with an image yields Illustrated; the text itself is
// never inspected.
func JoinContent(kind ContentKind, text, imageURL string) Content {
	if kind == ContentIllustrated && imageURL != "" {
		return Illustrated{Body: text, ImageURL: imageURL}
	}
	return PlainText(text)
}

// Message is one entry of a story's transcript. CharacterID is nil for
// narrator messages.
type Message struct {
	ID          string
	StoryID     uuid.UUID
	Type        MessageType
	CharacterID *uuid.UUID
	Content     Content
	CreatedAt   time.Time
}

// NewMessage is what callers hand the store when appending.
type NewMessage struct {
	Type        MessageType
	CharacterID *uuid.UUID
	Content     Content
}

type messageJSON struct {
	ID          string      `json:"id"`
	StoryID     uuid.UUID   `json:"story_id"`
	Type        MessageType `json:"type"`
	CharacterID *uuid.UUID  `json:"character_id,omitempty"`
	Content     string      `json:"content"`
	ImageURL    string      `json:"image_url,omitempty"`
	CreatedAt   time.Time   `json:"created_at"`
}

func (m Message) MarshalJSON() ([]byte, error) {
	out := messageJSON{
		ID:          m.ID,
		StoryID:     m.StoryID,
		Type:        m.Type,
		CharacterID: m.CharacterID,
		CreatedAt:   m.CreatedAt,
	}
	if m.Content != nil {
		out.Content = m.Content.Text()
		out.ImageURL = m.Content.Image()
	}
	return json.Marshal(out)
}

func (m *Message) UnmarshalJSON(data []byte) error {
	var in messageJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	m.ID = in.ID
	m.StoryID = in.StoryID
	m.Type = in.Type
	m.CharacterID = in.CharacterID
	m.Content = NewContent(in.Content, in.ImageURL)
	m.CreatedAt = in.CreatedAt
	return nil
}

// Text returns the message text, or "" when there is no content.
func (m Message) Text() string {
	if m.Content == nil {
		return ""
	}
	return m.Content.Text()
}
