package session

import (
	"context"

	"github.com/google/uuid"

	"github.com/pburglin/EpicSagaBuilder/internal/services/events"
	"github.com/pburglin/EpicSagaBuilder/pkg/story"
)

// Publisher fans story events out to connected clients.
type Publisher interface {
	PublishMessageCreated(ctx context.Context, msg *story.Message) error
	PublishRoundCompleted(ctx context.Context, storyID uuid.UUID, actions int) error
	PublishNarrationFailed(ctx context.Context, storyID uuid.UUID, reason string) error
	PublishStoryCompleted(ctx context.Context, storyID uuid.UUID) error
	PublishCharacterJoined(ctx context.Context, c *story.Character) error
	PublishCharacterLeft(ctx context.Context, storyID, characterID uuid.UUID) error
	PublishStoryRestarted(ctx context.Context, storyID uuid.UUID, removed int) error
}

var _ Publisher = (*events.Broadcaster)(nil)

// NopPublisher drops every event. Used when Redis is not configured.
type NopPublisher struct{}

func (NopPublisher) PublishMessageCreated(context.Context, *story.Message) error      { return nil }
func (NopPublisher) PublishRoundCompleted(context.Context, uuid.UUID, int) error      { return nil }
func (NopPublisher) PublishNarrationFailed(context.Context, uuid.UUID, string) error  { return nil }
func (NopPublisher) PublishStoryCompleted(context.Context, uuid.UUID) error           { return nil }
func (NopPublisher) PublishCharacterJoined(context.Context, *story.Character) error   { return nil }
func (NopPublisher) PublishCharacterLeft(context.Context, uuid.UUID, uuid.UUID) error { return nil }
func (NopPublisher) PublishStoryRestarted(context.Context, uuid.UUID, int) error      { return nil }
