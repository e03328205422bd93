package cli

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/caseloop/caseloop/internal/agent"
	"github.com/caseloop/caseloop/internal/models"
)

type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

func NewClient(baseURL, token string) *Client {
	return &Client{
		baseURL: baseURL,
		token:   token,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

func (c *Client) doRequest(method, path string, body interface{}) (*http.Response, error) {
	var bodyReader io.Reader
	if body != nil {
		jsonData, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request body: %w", err)
		}
		bodyReader = bytes.NewBuffer(jsonData)
	}

	req, err := http.NewRequest(method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute request: %w", err)
	}

	return resp, nil
}

// ActionDescription mirrors the catalog view returned by the API
type ActionDescription struct {
	ID              string                `json:"id"`
	Name            string                `json:"name"`
	Description     string                `json:"description"`
	Category        models.ActionCategory `json:"category"`
	EntityTypes     []string              `json:"entity_types"`
	RequiresPreview bool                  `json:"requires_preview"`
	Undoable        bool                  `json:"undoable"`
	UndoWindowSecs  int                   `json:"undo_window_seconds"`
}

// ListActions retrieves the actions available to the caller
func (c *Client) ListActions(entityType string) ([]ActionDescription, error) {
	path := "/api/v1/actions"
	if entityType != "" {
		path += "?entity_type=" + url.QueryEscape(entityType)
	}

	resp, err := c.doRequest("GET", path, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("failed to list actions: %s (status: %d)", string(body), resp.StatusCode)
	}

	var result struct {
		Actions []ActionDescription `json:"actions"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	return result.Actions, nil
}

// ExecutePayload is the body for preview and execute calls
type ExecutePayload struct {
	EntityType  string         `json:"entity_type"`
	EntityID    string         `json:"entity_id"`
	Input       map[string]any `json:"input"`
	SkipPreview bool           `json:"skip_preview,omitempty"`
}

// Preview asks the server what an action would do
func (c *Client) Preview(actionID string, payload *ExecutePayload) (*models.ActionPreview, error) {
	resp, err := c.doRequest("POST", "/api/v1/actions/"+actionID+"/preview", payload)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("failed to preview action: %s (status: %d)", string(body), resp.StatusCode)
	}

	var preview models.ActionPreview
	if err := json.NewDecoder(resp.Body).Decode(&preview); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	return &preview, nil
}

// Execute runs an action
func (c *Client) Execute(actionID string, payload *ExecutePayload) (*models.ExecutionResult, error) {
	resp, err := c.doRequest("POST", "/api/v1/actions/"+actionID+"/execute", payload)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("failed to execute action: %s (status: %d)", string(body), resp.StatusCode)
	}

	var result models.ExecutionResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	return &result, nil
}

// History retrieves action records, newest first
func (c *Client) History(query url.Values) ([]models.ActionRecord, error) {
	path := "/api/v1/action-records"
	if len(query) > 0 {
		path += "?" + query.Encode()
	}

	resp, err := c.doRequest("GET", path, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("failed to get history: %s (status: %d)", string(body), resp.StatusCode)
	}

	var result struct {
		Records []models.ActionRecord `json:"records"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	return result.Records, nil
}

// UndoState reports whether a record can still be undone
func (c *Client) UndoState(recordID string) (*models.UndoState, error) {
	resp, err := c.doRequest("GET", "/api/v1/action-records/"+recordID+"/undo-state", nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("failed to get undo state: %s (status: %d)", string(body), resp.StatusCode)
	}

	var state models.UndoState
	if err := json.NewDecoder(resp.Body).Decode(&state); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	return &state, nil
}

// Undo reverses a completed action record
func (c *Client) Undo(recordID string) error {
	resp, err := c.doRequest("POST", "/api/v1/action-records/"+recordID+"/undo", nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("failed to undo action: %s (status: %d)", string(body), resp.StatusCode)
	}

	return nil
}

// ChatPayload is the body for agent chat turns
type ChatPayload struct {
	ConversationID string `json:"conversation_id,omitempty"`
	Message        string `json:"message"`
	EntityType     string `json:"entity_type"`
	EntityID       string `json:"entity_id"`
}

// Chat runs one agent turn and invokes handle for every streamed event.
// It blocks until the stream completes.
func (c *Client) Chat(payload *ChatPayload, handle func(event *agent.StreamEvent) error) error {
	jsonData, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal request body: %w", err)
	}

	req, err := http.NewRequest("POST", c.baseURL+"/api/v1/agent/chat", bytes.NewBuffer(jsonData))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	// Streaming turns outlive the default client timeout
	streamClient := &http.Client{}
	resp, err := streamClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("chat request failed: %s (status: %d)", string(body), resp.StatusCode)
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}

		var event agent.StreamEvent
		if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &event); err != nil {
			return fmt.Errorf("failed to decode stream event: %w", err)
		}
		if err := handle(&event); err != nil {
			return err
		}
	}

	return scanner.Err()
}

// HealthCheck checks if the API is healthy
func (c *Client) HealthCheck() error {
	resp, err := c.doRequest("GET", "/health", nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("API is not healthy (status: %d)", resp.StatusCode)
	}

	return nil
}
