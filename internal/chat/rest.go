package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const apiVersion = "2024-03-07"

// RESTClient calls the chat gateway. Every client is scoped by the bearer
// token it was constructed with; the backend authorizes thread operations
// against the token's identity.
type RESTClient struct {
	gatewayURL string
	token      string
	httpClient *http.Client
}

// RESTFactory builds token-scoped clients for one gateway.
type RESTFactory struct {
	gatewayURL string
}

func NewRESTFactory(gatewayURL string) *RESTFactory {
	return &RESTFactory{gatewayURL: strings.TrimSuffix(gatewayURL, "/")}
}

// WithToken returns a client whose calls are authorized by token.
func (f *RESTFactory) WithToken(token string) *RESTClient {
	return &RESTClient{
		gatewayURL: f.gatewayURL,
		token:      token,
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}
}

// CreateThread creates a thread with the given topic and initial
// participants and returns its id.
func (c *RESTClient) CreateThread(ctx context.Context, topic string, participants []Participant) (string, error) {
	body := map[string]any{
		"topic":        topic,
		"participants": encodeParticipants(participants),
	}
	var response struct {
		ChatThread struct {
			ID string `json:"id"`
		} `json:"chatThread"`
	}
	if err := c.call(ctx, http.MethodPost, "/chat/threads", body, &response); err != nil {
		return "", fmt.Errorf("create thread: %w", err)
	}
	if response.ChatThread.ID == "" {
		return "", fmt.Errorf("create thread: backend returned no thread id")
	}
	return response.ChatThread.ID, nil
}

// ThreadProperties fetches the backend-owned attributes of a thread.
func (c *RESTClient) ThreadProperties(ctx context.Context, threadID string) (ThreadProperties, error) {
	var response struct {
		ID        string    `json:"id"`
		Topic     string    `json:"topic"`
		CreatedOn time.Time `json:"createdOn"`
	}
	path := "/chat/threads/" + url.PathEscape(threadID)
	if err := c.call(ctx, http.MethodGet, path, nil, &response); err != nil {
		return ThreadProperties{}, fmt.Errorf("get thread properties: %w", err)
	}
	return ThreadProperties{ID: response.ID, Topic: response.Topic, CreatedOn: response.CreatedOn}, nil
}

// AddParticipant adds a participant to an existing thread.
func (c *RESTClient) AddParticipant(ctx context.Context, threadID string, participant Participant) error {
	body := map[string]any{
		"participants": encodeParticipants([]Participant{participant}),
	}
	path := "/chat/threads/" + url.PathEscape(threadID) + "/participants/:add"
	if err := c.call(ctx, http.MethodPost, path, body, nil); err != nil {
		return fmt.Errorf("add participant: %w", err)
	}
	return nil
}

func encodeParticipants(participants []Participant) []map[string]any {
	encoded := make([]map[string]any, 0, len(participants))
	for _, p := range participants {
		entry := map[string]any{
			"communicationIdentifier": map[string]any{"rawId": p.UserID},
		}
		if p.DisplayName != "" {
			entry["displayName"] = p.DisplayName
		}
		if !p.ShareHistoryTime.IsZero() {
			entry["shareHistoryTime"] = p.ShareHistoryTime.UTC().Format(time.RFC3339)
		}
		encoded = append(encoded, entry)
	}
	return encoded
}

func (c *RESTClient) call(ctx context.Context, method, path string, body, target any) error {
	var payload io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		payload = bytes.NewReader(encoded)
	}

	requestURL := c.gatewayURL + path + "?api-version=" + apiVersion
	req, err := http.NewRequestWithContext(ctx, method, requestURL, payload)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("chat gateway: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("chat gateway returned %d: %s", resp.StatusCode, snippet)
	}
	if target == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(target); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
