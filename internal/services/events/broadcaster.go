package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/pburglin/EpicSagaBuilder/pkg/story"
)

// EventType represents the type of event being broadcast
type EventType string

const (
	EventTypeMessageCreated  EventType = "message.created"
	EventTypeRoundCompleted  EventType = "round.completed"
	EventTypeNarrationFailed EventType = "narration.failed"
	EventTypeStoryCompleted  EventType = "story.completed"
	EventTypeCharacterJoined EventType = "character.joined"
	EventTypeCharacterLeft   EventType = "character.left"
	EventTypeStoryRestarted  EventType = "story.restarted"
	EventTypeConnected       EventType = "connected"
)

const channelPrefix = "story-events:"

// Event represents a generic event structure
type Event struct {
	Type    EventType              `json:"type"`
	StoryID string                 `json:"story_id"`
	Data    map[string]interface{} `json:"data,omitempty"`
}

// Channel returns the pub/sub channel for a story.
func Channel(storyID uuid.UUID) string {
	return channelPrefix + storyID.String()
}

// Broadcaster publishes events to Redis Pub/Sub for SSE distribution
type Broadcaster struct {
	redisClient *redis.Client
	logger      *slog.Logger
}

// NewBroadcaster creates a new event broadcaster
func NewBroadcaster(redisClient *redis.Client, logger *slog.Logger) *Broadcaster {
	return &Broadcaster{
		redisClient: redisClient,
		logger:      logger,
	}
}

// PublishMessageCreated publishes a message.created event carrying the
// persisted message.
func (b *Broadcaster) PublishMessageCreated(ctx context.Context, msg *story.Message) error {
	return b.publish(ctx, msg.StoryID, EventTypeMessageCreated, map[string]interface{}{
		"message": msg,
	})
}

// PublishRoundCompleted publishes a round.completed event
func (b *Broadcaster) PublishRoundCompleted(ctx context.Context, storyID uuid.UUID, actions int) error {
	return b.publish(ctx, storyID, EventTypeRoundCompleted, map[string]interface{}{
		"actions": actions,
	})
}

// PublishNarrationFailed publishes a narration.failed event
func (b *Broadcaster) PublishNarrationFailed(ctx context.Context, storyID uuid.UUID, reason string) error {
	return b.publish(ctx, storyID, EventTypeNarrationFailed, map[string]interface{}{
		"error": reason,
	})
}

// PublishStoryCompleted publishes a story.completed event
func (b *Broadcaster) PublishStoryCompleted(ctx context.Context, storyID uuid.UUID) error {
	return b.publish(ctx, storyID, EventTypeStoryCompleted, map[string]interface{}{
		"status": string(story.StatusCompleted),
	})
}

// PublishCharacterJoined publishes a character.joined event
func (b *Broadcaster) PublishCharacterJoined(ctx context.Context, c *story.Character) error {
	return b.publish(ctx, c.StoryID, EventTypeCharacterJoined, map[string]interface{}{
		"character_id": c.ID.String(),
		"name":         c.Name,
	})
}

// PublishCharacterLeft publishes a character.left event
func (b *Broadcaster) PublishCharacterLeft(ctx context.Context, storyID, characterID uuid.UUID) error {
	return b.publish(ctx, storyID, EventTypeCharacterLeft, map[string]interface{}{
		"character_id": characterID.String(),
	})
}

// PublishStoryRestarted publishes a story.restarted event
func (b *Broadcaster) PublishStoryRestarted(ctx context.Context, storyID uuid.UUID, removed int) error {
	return b.publish(ctx, storyID, EventTypeStoryRestarted, map[string]interface{}{
		"removed_messages": removed,
	})
}

// publish publishes an event to the story-specific channel
func (b *Broadcaster) publish(ctx context.Context, storyID uuid.UUID, eventType EventType, data map[string]interface{}) error {
	channel := Channel(storyID)
	event := Event{Type: eventType, StoryID: storyID.String(), Data: data}

	payload, err := json.Marshal(event)
	if err != nil {
		b.logger.Error("Failed to marshal event", "error", err, "event_type", eventType)
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	if err := b.redisClient.Publish(ctx, channel, payload).Err(); err != nil {
		b.logger.Error("Failed to publish event", "error", err, "channel", channel)
		return fmt.Errorf("failed to publish event: %w", err)
	}

	b.logger.Debug("Event published", "channel", channel, "event_type", eventType)
	return nil
}
