package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"slices"
	"strings"

	"github.com/google/uuid"

	"github.com/pburglin/EpicSagaBuilder/internal/session"
	"github.com/pburglin/EpicSagaBuilder/pkg/story"
)

const userHeader = "X-User-ID"

type ErrorResponse struct {
	Error string `json:"error"`
}

// APIClient talks to the story API on behalf of one user.
type APIClient struct {
	http    *http.Client
	baseURL string
	userID  string
}

func NewAPIClient(client *http.Client, baseURL, userID string) *APIClient {
	return &APIClient{
		http:    client,
		baseURL: strings.TrimRight(baseURL, "/"),
		userID:  userID,
	}
}

// do sends a JSON request and decodes the response into out when the
// status is one of want. A nil out discards the body.
func (c *APIClient) do(ctx context.Context, method, path string, body, out interface{}, want ...int) error {
	var reader io.Reader
	if body != nil {
		jsonData, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(jsonData)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set(userHeader, c.userID)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer func() {
		_ = resp.Body.Close() // Ignore error in defer
	}()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if !slices.Contains(want, resp.StatusCode) {
		var errorResp ErrorResponse
		if err := json.Unmarshal(respBody, &errorResp); err != nil || errorResp.Error == "" {
			return fmt.Errorf("API returned status %d: %s", resp.StatusCode, string(respBody))
		}
		return errors.New(errorResp.Error)
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}

func (c *APIClient) testConnection(ctx context.Context) bool {
	return c.do(ctx, http.MethodGet, "/health", nil, nil, http.StatusOK) == nil
}

func (c *APIClient) listStories(ctx context.Context) ([]story.Story, error) {
	var stories []story.Story
	if err := c.do(ctx, http.MethodGet, "/v1/stories", nil, &stories, http.StatusOK); err != nil {
		return nil, fmt.Errorf("failed to list stories: %w", err)
	}
	return stories, nil
}

func (c *APIClient) getStory(ctx context.Context, storyID uuid.UUID) (*story.Story, error) {
	var s story.Story
	if err := c.do(ctx, http.MethodGet, "/v1/stories/"+storyID.String(), nil, &s, http.StatusOK); err != nil {
		return nil, fmt.Errorf("failed to get story: %w", err)
	}
	return &s, nil
}

func (c *APIClient) loadMessages(ctx context.Context, storyID uuid.UUID) ([]story.Message, error) {
	var resp struct {
		Messages []story.Message `json:"messages"`
	}
	path := fmt.Sprintf("/v1/stories/%s/messages", storyID)
	if err := c.do(ctx, http.MethodGet, path, nil, &resp, http.StatusOK); err != nil {
		return nil, fmt.Errorf("failed to load messages: %w", err)
	}
	return resp.Messages, nil
}

// joinStory returns the user's active character in the story, creating one
// with the given name when there is none.
func (c *APIClient) joinStory(ctx context.Context, s *story.Story, name string) (*story.Character, error) {
	if existing := ownCharacter(s, c.userID); existing != nil {
		return existing, nil
	}

	req := session.JoinRequest{Name: name}
	if len(s.CharacterClasses) > 0 {
		req.Class = s.CharacterClasses[0]
	}
	if len(s.CharacterRaces) > 0 {
		req.Race = s.CharacterRaces[0]
	}

	var ch story.Character
	path := fmt.Sprintf("/v1/stories/%s/characters", s.ID)
	if err := c.do(ctx, http.MethodPost, path, req, &ch, http.StatusCreated); err != nil {
		return nil, fmt.Errorf("failed to join story: %w", err)
	}
	return &ch, nil
}

// ownCharacter finds the user's active character, if any.
func ownCharacter(s *story.Story, userID string) *story.Character {
	for _, ch := range s.ActiveCharacters() {
		if ch.UserID == userID {
			found := ch
			return &found
		}
	}
	return nil
}

// submitAction posts an action. The API answers 202 while the round is
// still open and 200 once it closed.
func (c *APIClient) submitAction(ctx context.Context, storyID uuid.UUID, action string) (*session.RoundResult, error) {
	path := fmt.Sprintf("/v1/stories/%s/actions", storyID)
	body := map[string]string{"action": action}

	var result session.RoundResult
	if err := c.do(ctx, http.MethodPost, path, body, &result, http.StatusOK, http.StatusAccepted); err != nil {
		return nil, fmt.Errorf("failed to submit action: %w", err)
	}
	return &result, nil
}

func (c *APIClient) roundStatus(ctx context.Context, storyID uuid.UUID) (*session.RoundStatus, error) {
	var status session.RoundStatus
	path := fmt.Sprintf("/v1/stories/%s/round", storyID)
	if err := c.do(ctx, http.MethodGet, path, nil, &status, http.StatusOK); err != nil {
		return nil, fmt.Errorf("failed to get round status: %w", err)
	}
	return &status, nil
}

func (c *APIClient) optimize(ctx context.Context, text string) (string, error) {
	var resp struct {
		Text string `json:"text"`
	}
	if err := c.do(ctx, http.MethodPost, "/v1/optimize", map[string]string{"text": text}, &resp, http.StatusOK); err != nil {
		return "", fmt.Errorf("failed to optimize text: %w", err)
	}
	return resp.Text, nil
}

func (c *APIClient) complete(ctx context.Context, storyID uuid.UUID) (*session.RoundResult, error) {
	var result session.RoundResult
	path := fmt.Sprintf("/v1/stories/%s/complete", storyID)
	if err := c.do(ctx, http.MethodPost, path, nil, &result, http.StatusOK); err != nil {
		return nil, fmt.Errorf("failed to complete story: %w", err)
	}
	return &result, nil
}

func (c *APIClient) leave(ctx context.Context, storyID, characterID uuid.UUID) error {
	path := fmt.Sprintf("/v1/stories/%s/characters/%s", storyID, characterID)
	if err := c.do(ctx, http.MethodDelete, path, nil, nil, http.StatusOK); err != nil {
		return fmt.Errorf("failed to leave story: %w", err)
	}
	return nil
}

// SSEEvent represents an event from the SSE stream
type SSEEvent struct {
	Type string
	Data json.RawMessage
}

// listenToSSE connects to the story's event stream and forwards events to
// eventChan until ctx is cancelled or the stream ends.
func (c *APIClient) listenToSSE(ctx context.Context, storyID uuid.UUID, eventChan chan<- SSEEvent) error {
	url := fmt.Sprintf("%s/v1/events/stories/%s", c.baseURL, storyID)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")
	req.Header.Set(userHeader, c.userID)

	// The stream outlives the request timeout used for regular calls.
	streamClient := &http.Client{Transport: c.http.Transport}
	resp, err := streamClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to connect to SSE: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("SSE connection failed with status %d: %s", resp.StatusCode, string(body))
	}

	return readSSE(ctx, resp.Body, eventChan)
}

// readSSE parses "event:" and "data:" lines; a blank line ends an event.
// Comment lines are keepalives and are skipped.
func readSSE(ctx context.Context, r io.Reader, eventChan chan<- SSEEvent) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	var currentEvent SSEEvent

	for scanner.Scan() {
		line := scanner.Text()

		switch {
		case line == "":
			if currentEvent.Type != "" {
				select {
				case eventChan <- currentEvent:
				case <-ctx.Done():
					return ctx.Err()
				}
			}
			currentEvent = SSEEvent{}
		case strings.HasPrefix(line, ":"):
		case strings.HasPrefix(line, "event: "):
			currentEvent.Type = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			currentEvent.Data = json.RawMessage(strings.TrimPrefix(line, "data: "))
		}
	}

	if err := scanner.Err(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("error reading SSE stream: %w", err)
	}
	return nil
}

// messageFromEvent extracts the message carried by a message.created event.
func messageFromEvent(ev SSEEvent) (*story.Message, bool) {
	if ev.Type != "message.created" || len(ev.Data) == 0 {
		return nil, false
	}
	var payload struct {
		Message *story.Message `json:"message"`
	}
	if err := json.Unmarshal(ev.Data, &payload); err != nil || payload.Message == nil {
		return nil, false
	}
	return payload.Message, true
}
