package anthropic

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/caseloop/caseloop/pkg/llm"
	"github.com/liushuangls/go-anthropic/v2"
)

const defaultModel = "claude-3-5-sonnet-20241022"

// Client implements the LLM Client interface for Anthropic
type Client struct {
	client *anthropic.Client
	config *llm.Config
}

// NewClient creates a new Anthropic client
func NewClient(config *llm.Config) (*Client, error) {
	if config.APIKey == "" {
		return nil, llm.ErrInvalidAPIKey
	}

	opts := []anthropic.ClientOption{}

	if config.BaseURL != "" {
		opts = append(opts, anthropic.WithBaseURL(config.BaseURL))
	}

	if config.Timeout > 0 {
		httpClient := &http.Client{
			Timeout: config.Timeout,
		}
		opts = append(opts, anthropic.WithHTTPClient(httpClient))
	}

	return &Client{
		client: anthropic.NewClient(config.APIKey, opts...),
		config: config,
	}, nil
}

// Chat sends a chat completion request
func (c *Client) Chat(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
	if err := c.validateRequest(req); err != nil {
		return nil, err
	}

	anthropicReq := c.buildRequest(req)

	var resp anthropic.MessagesResponse
	var err error

	for attempt := 0; attempt <= c.config.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(c.config.RetryDelay * time.Duration(attempt)):
			}
		}

		resp, err = c.client.CreateMessages(ctx, anthropicReq)
		if err == nil {
			break
		}

		if !llm.IsRetryable(c.mapError(err)) {
			break
		}
	}

	if err != nil {
		return nil, c.mapError(err)
	}

	return c.mapResponse(&resp), nil
}

// StreamChat sends a streaming chat completion request. Text deltas are
// forwarded to handler as they arrive; tool_use blocks are assembled by the
// SDK and surface on the returned response.
func (c *Client) StreamChat(ctx context.Context, req *llm.ChatRequest, handler llm.StreamHandler) (*llm.ChatResponse, error) {
	if err := c.validateRequest(req); err != nil {
		return nil, err
	}

	var handlerErr error

	streamReq := anthropic.MessagesStreamRequest{
		MessagesRequest: c.buildRequest(req),
		OnContentBlockDelta: func(data anthropic.MessagesEventContentBlockDeltaData) {
			if handlerErr != nil {
				return
			}
			text, ok := deltaText(data)
			if !ok {
				return
			}
			handlerErr = handler(&llm.StreamChunk{Delta: text})
		},
	}

	resp, err := c.client.CreateMessagesStream(ctx, streamReq)
	if err != nil {
		return nil, c.mapError(err)
	}
	if handlerErr != nil {
		return nil, handlerErr
	}

	if err := handler(&llm.StreamChunk{IsComplete: true}); err != nil {
		return nil, err
	}

	return c.mapResponse(&resp), nil
}

// deltaText extracts the text fragment from a content_block_delta event.
// Tool-use deltas carry partial JSON instead of text and are skipped.
func deltaText(data anthropic.MessagesEventContentBlockDeltaData) (string, bool) {
	if data.Delta.Text == nil || *data.Delta.Text == "" {
		return "", false
	}
	return *data.Delta.Text, true
}

// GetProvider returns the provider type
func (c *Client) GetProvider() llm.Provider {
	return llm.ProviderAnthropic
}

// Close closes the client
func (c *Client) Close() error {
	// Anthropic client doesn't require explicit cleanup
	return nil
}

// buildRequest converts our request to Anthropic format
func (c *Client) buildRequest(req *llm.ChatRequest) anthropic.MessagesRequest {
	model := req.Model
	if model == "" {
		model = c.config.DefaultModel
	}
	if model == "" {
		model = defaultModel
	}

	messages := make([]anthropic.Message, 0, len(req.Messages))
	for _, msg := range req.Messages {
		// System messages travel in the dedicated field
		if msg.Role == llm.RoleSystem {
			continue
		}
		messages = append(messages, buildMessage(msg))
	}

	anthropicReq := anthropic.MessagesRequest{
		Model:    anthropic.Model(model),
		Messages: messages,
	}

	if req.SystemPrompt != "" {
		anthropicReq.System = req.SystemPrompt
	}

	if req.MaxTokens > 0 {
		anthropicReq.MaxTokens = req.MaxTokens
	} else if c.config.MaxTokens > 0 {
		anthropicReq.MaxTokens = c.config.MaxTokens
	} else {
		anthropicReq.MaxTokens = 4096
	}

	if req.Temperature > 0 {
		temp := float32(req.Temperature)
		anthropicReq.Temperature = &temp
	}

	for _, tool := range req.Tools {
		anthropicReq.Tools = append(anthropicReq.Tools, anthropic.ToolDefinition{
			Name:        tool.Name,
			Description: tool.Description,
			InputSchema: tool.InputSchema,
		})
	}

	return anthropicReq
}

// buildMessage converts a single message, expanding tool calls and results
// into the content blocks the API expects
func buildMessage(msg llm.Message) anthropic.Message {
	content := []anthropic.MessageContent{}

	if msg.Content != "" {
		content = append(content, anthropic.NewTextMessageContent(msg.Content))
	}

	for _, call := range msg.ToolCalls {
		content = append(content, anthropic.MessageContent{
			Type: anthropic.MessagesContentTypeToolUse,
			MessageContentToolUse: &anthropic.MessageContentToolUse{
				ID:    call.ID,
				Name:  call.Name,
				Input: call.Input,
			},
		})
	}

	for _, result := range msg.ToolResults {
		content = append(content, anthropic.NewToolResultMessageContent(result.ToolCallID, result.Content, result.IsError))
	}

	return anthropic.Message{
		Role:    anthropic.ChatRole(msg.Role),
		Content: content,
	}
}

// mapResponse converts Anthropic response to our format
func (c *Client) mapResponse(resp *anthropic.MessagesResponse) *llm.ChatResponse {
	var content string
	var toolCalls []llm.ToolCall

	for _, block := range resp.Content {
		switch block.Type {
		case anthropic.MessagesContentTypeText:
			content += block.GetText()
		case anthropic.MessagesContentTypeToolUse:
			if block.MessageContentToolUse == nil {
				continue
			}
			toolCalls = append(toolCalls, llm.ToolCall{
				ID:    block.MessageContentToolUse.ID,
				Name:  block.MessageContentToolUse.Name,
				Input: block.MessageContentToolUse.Input,
			})
		}
	}

	return &llm.ChatResponse{
		ID:        resp.ID,
		Content:   content,
		ToolCalls: toolCalls,
		Model:     string(resp.Model),
		Provider:  llm.ProviderAnthropic,
		Usage: &llm.TokenUsage{
			PromptTokens:     resp.Usage.InputTokens,
			CompletionTokens: resp.Usage.OutputTokens,
			TotalTokens:      resp.Usage.InputTokens + resp.Usage.OutputTokens,
		},
		FinishReason: string(resp.StopReason),
		CreatedAt:    time.Now(),
	}
}

// mapError converts Anthropic errors to our error format
func (c *Client) mapError(err error) error {
	if err == nil {
		return nil
	}

	var apiErr *anthropic.APIError
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.IsInvalidRequestErr():
			return llm.NewError(llm.ProviderAnthropic, llm.ErrorTypeInvalidRequest, apiErr.Message, err)
		case apiErr.IsAuthenticationErr():
			return llm.NewError(llm.ProviderAnthropic, llm.ErrorTypeAuthentication, apiErr.Message, err)
		case apiErr.IsRateLimitErr():
			return llm.NewError(llm.ProviderAnthropic, llm.ErrorTypeRateLimit, apiErr.Message, err)
		case apiErr.IsOverloadedErr():
			return llm.NewError(llm.ProviderAnthropic, llm.ErrorTypeServiceUnavailable, apiErr.Message, err)
		default:
			return llm.NewError(llm.ProviderAnthropic, llm.ErrorTypeUnknown, apiErr.Message, err)
		}
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return llm.NewError(llm.ProviderAnthropic, llm.ErrorTypeTimeout, "request timeout", err)
	}

	return llm.NewError(llm.ProviderAnthropic, llm.ErrorTypeUnknown, err.Error(), err)
}

// validateRequest validates the request
func (c *Client) validateRequest(req *llm.ChatRequest) error {
	if len(req.Messages) == 0 {
		return llm.NewError(llm.ProviderAnthropic, llm.ErrorTypeInvalidRequest, "messages cannot be empty", nil)
	}
	return nil
}
