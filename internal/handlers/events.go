package handlers

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/pburglin/EpicSagaBuilder/internal/services/events"
)

// DefaultKeepalive is how often an idle event stream sends a comment line.
const DefaultKeepalive = 30 * time.Second

// EventsHandler handles Server-Sent Events (SSE) for real-time story updates
type EventsHandler struct {
	redisClient *redis.Client
	keepalive   time.Duration
	logger      *slog.Logger
}

// NewEventsHandler creates a new events handler. A nil client disables
// the stream.
func NewEventsHandler(redisClient *redis.Client, logger *slog.Logger) *EventsHandler {
	return &EventsHandler{
		redisClient: redisClient,
		keepalive:   DefaultKeepalive,
		logger:      logger,
	}
}

// ServeHTTP handles SSE requests for story events
// GET /v1/events/stories/{storyID}
func (h *EventsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	storyID, ok := uuidParam(w, r, h.logger, "storyID")
	if !ok {
		return
	}
	if h.redisClient == nil {
		writeMessage(w, h.logger, http.StatusServiceUnavailable, "Realtime events are disabled.")
		return
	}

	// Subscribe before sending headers so a failed subscription is a 503.
	channel := events.Channel(storyID)
	pubsub := h.redisClient.Subscribe(r.Context(), channel)
	defer func() {
		if err := pubsub.Close(); err != nil {
			h.logger.Error("Failed to close pubsub", "error", err)
		}
	}()
	if _, err := pubsub.Receive(r.Context()); err != nil {
		h.logger.Error("Failed to subscribe", "channel", channel, "error", err)
		writeMessage(w, h.logger, http.StatusServiceUnavailable, "Failed to subscribe to story events.")
		return
	}

	h.logger.Info("SSE connection established",
		"story_id", storyID.String(),
		"remote_addr", r.RemoteAddr)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.WriteHeader(http.StatusOK)

	msgChan := pubsub.Channel()

	keepaliveTicker := time.NewTicker(h.keepalive)
	defer keepaliveTicker.Stop()

	h.sendSSE(w, string(events.EventTypeConnected), map[string]interface{}{
		"story_id": storyID.String(),
		"message":  "Connected to event stream",
	})

	for {
		select {
		case <-r.Context().Done():
			h.logger.Info("SSE client disconnected",
				"story_id", storyID.String())
			return

		case msg, ok := <-msgChan:
			if !ok {
				return
			}
			var event events.Event
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
				h.logger.Error("Failed to unmarshal event", "error", err, "payload", msg.Payload)
				continue
			}
			h.sendSSE(w, string(event.Type), event.Data)

		case <-keepaliveTicker.C:
			if _, err := fmt.Fprintf(w, ": keepalive\n\n"); err != nil {
				h.logger.Error("Failed to write keepalive", "error", err)
				return
			}
			if flusher, ok := w.(http.Flusher); ok {
				flusher.Flush()
			}
		}
	}
}

// sendSSE sends a Server-Sent Event to the client
func (h *EventsHandler) sendSSE(w http.ResponseWriter, eventType string, data interface{}) {
	dataJSON, err := json.Marshal(data)
	if err != nil {
		h.logger.Error("Failed to marshal SSE data", "error", err)
		return
	}

	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", eventType, dataJSON); err != nil {
		h.logger.Error("Failed to write event", "error", err)
		return
	}

	if flusher, ok := w.(http.Flusher); ok {
		flusher.Flush()
	}
}
