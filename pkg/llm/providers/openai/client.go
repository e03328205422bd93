package openai

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/caseloop/caseloop/pkg/llm"
	"github.com/sashabaranov/go-openai"
)

// Client implements the LLM Client interface for OpenAI
type Client struct {
	client *openai.Client
	config *llm.Config
}

// NewClient creates a new OpenAI client
func NewClient(config *llm.Config) (*Client, error) {
	if config.APIKey == "" {
		return nil, llm.ErrInvalidAPIKey
	}

	clientConfig := openai.DefaultConfig(config.APIKey)

	if config.BaseURL != "" {
		clientConfig.BaseURL = config.BaseURL
	}

	if config.Timeout > 0 {
		clientConfig.HTTPClient = &http.Client{
			Timeout: config.Timeout,
		}
	}

	return &Client{
		client: openai.NewClientWithConfig(clientConfig),
		config: config,
	}, nil
}

// Chat sends a chat completion request
func (c *Client) Chat(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
	if err := c.validateRequest(req); err != nil {
		return nil, err
	}

	openaiReq := c.buildRequest(req, false)

	var resp openai.ChatCompletionResponse
	var err error

	for attempt := 0; attempt <= c.config.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(c.config.RetryDelay * time.Duration(attempt)):
			}
		}

		resp, err = c.client.CreateChatCompletion(ctx, openaiReq)
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

// StreamChat sends a streaming chat completion request. Text deltas go to
// handler; tool call fragments are accumulated by index and surface complete
// on the returned response.
func (c *Client) StreamChat(ctx context.Context, req *llm.ChatRequest, handler llm.StreamHandler) (*llm.ChatResponse, error) {
	if err := c.validateRequest(req); err != nil {
		return nil, err
	}

	stream, err := c.client.CreateChatCompletionStream(ctx, c.buildRequest(req, true))
	if err != nil {
		return nil, c.mapError(err)
	}
	defer stream.Close()

	var (
		content      string
		finishReason string
		usage        *llm.TokenUsage
		id           string
		model        string
		calls        []openai.ToolCall
	)

	for {
		response, err := stream.Recv()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, c.mapError(err)
		}

		if response.ID != "" {
			id = response.ID
		}
		if response.Model != "" {
			model = response.Model
		}

		if len(response.Choices) > 0 {
			choice := response.Choices[0]

			if choice.Delta.Content != "" {
				content += choice.Delta.Content
				if err := handler(&llm.StreamChunk{Delta: choice.Delta.Content}); err != nil {
					return nil, err
				}
			}

			for _, fragment := range choice.Delta.ToolCalls {
				calls = accumulateToolCall(calls, fragment)
			}

			if choice.FinishReason != "" {
				finishReason = string(choice.FinishReason)
			}
		}

		// Usage arrives on the final chunk when stream_options requests it
		if response.Usage != nil && response.Usage.TotalTokens > 0 {
			usage = &llm.TokenUsage{
				PromptTokens:     response.Usage.PromptTokens,
				CompletionTokens: response.Usage.CompletionTokens,
				TotalTokens:      response.Usage.TotalTokens,
			}
		}
	}

	if err := handler(&llm.StreamChunk{IsComplete: true}); err != nil {
		return nil, err
	}

	return &llm.ChatResponse{
		ID:           id,
		Content:      content,
		ToolCalls:    mapToolCalls(calls),
		Model:        model,
		Provider:     llm.ProviderOpenAI,
		Usage:        usage,
		FinishReason: finishReason,
		CreatedAt:    time.Now(),
	}, nil
}

// accumulateToolCall merges one streamed fragment into the call list. The
// first fragment for an index carries id and name; later ones append
// argument text.
func accumulateToolCall(calls []openai.ToolCall, fragment openai.ToolCall) []openai.ToolCall {
	idx := 0
	if fragment.Index != nil {
		idx = *fragment.Index
	}
	for len(calls) <= idx {
		calls = append(calls, openai.ToolCall{})
	}

	call := &calls[idx]
	if fragment.ID != "" {
		call.ID = fragment.ID
	}
	if fragment.Type != "" {
		call.Type = fragment.Type
	}
	if fragment.Function.Name != "" {
		call.Function.Name = fragment.Function.Name
	}
	call.Function.Arguments += fragment.Function.Arguments

	return calls
}

// GetProvider returns the provider type
func (c *Client) GetProvider() llm.Provider {
	return llm.ProviderOpenAI
}

// Close closes the client
func (c *Client) Close() error {
	// OpenAI client doesn't require explicit cleanup
	return nil
}

// buildRequest converts our request to OpenAI format
func (c *Client) buildRequest(req *llm.ChatRequest, streaming bool) openai.ChatCompletionRequest {
	model := req.Model
	if model == "" {
		model = c.config.DefaultModel
	}
	if model == "" {
		model = openai.GPT4o
	}

	messages := make([]openai.ChatCompletionMessage, 0, len(req.Messages)+1)

	if req.SystemPrompt != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: req.SystemPrompt,
		})
	}

	for _, msg := range req.Messages {
		messages = append(messages, buildMessages(msg)...)
	}

	openaiReq := openai.ChatCompletionRequest{
		Model:    model,
		Messages: messages,
	}

	if req.MaxTokens > 0 {
		openaiReq.MaxTokens = req.MaxTokens
	} else if c.config.MaxTokens > 0 {
		openaiReq.MaxTokens = c.config.MaxTokens
	}

	if req.Temperature > 0 {
		openaiReq.Temperature = float32(req.Temperature)
	}

	for _, tool := range req.Tools {
		openaiReq.Tools = append(openaiReq.Tools, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        tool.Name,
				Description: tool.Description,
				Parameters:  tool.InputSchema,
			},
		})
	}

	if streaming {
		openaiReq.StreamOptions = &openai.StreamOptions{IncludeUsage: true}
	}

	if userID, ok := req.Metadata["user_id"]; ok {
		openaiReq.User = userID
	}

	return openaiReq
}

// buildMessages expands one of our messages into OpenAI chat messages. Tool
// results become separate role=tool messages.
func buildMessages(msg llm.Message) []openai.ChatCompletionMessage {
	out := []openai.ChatCompletionMessage{}

	m := openai.ChatCompletionMessage{
		Role:    string(msg.Role),
		Content: msg.Content,
	}
	for _, call := range msg.ToolCalls {
		m.ToolCalls = append(m.ToolCalls, openai.ToolCall{
			ID:   call.ID,
			Type: openai.ToolTypeFunction,
			Function: openai.FunctionCall{
				Name:      call.Name,
				Arguments: string(call.Input),
			},
		})
	}
	if m.Content != "" || len(m.ToolCalls) > 0 {
		out = append(out, m)
	}

	for _, result := range msg.ToolResults {
		out = append(out, openai.ChatCompletionMessage{
			Role:       openai.ChatMessageRoleTool,
			Content:    result.Content,
			ToolCallID: result.ToolCallID,
		})
	}

	return out
}

// mapResponse converts OpenAI response to our format
func (c *Client) mapResponse(resp *openai.ChatCompletionResponse) *llm.ChatResponse {
	var content string
	var finishReason string
	var toolCalls []llm.ToolCall

	if len(resp.Choices) > 0 {
		content = resp.Choices[0].Message.Content
		finishReason = string(resp.Choices[0].FinishReason)
		toolCalls = mapToolCalls(resp.Choices[0].Message.ToolCalls)
	}

	return &llm.ChatResponse{
		ID:        resp.ID,
		Content:   content,
		ToolCalls: toolCalls,
		Model:     resp.Model,
		Provider:  llm.ProviderOpenAI,
		Usage: &llm.TokenUsage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		},
		FinishReason: finishReason,
		CreatedAt:    time.Unix(int64(resp.Created), 0),
	}
}

func mapToolCalls(calls []openai.ToolCall) []llm.ToolCall {
	if len(calls) == 0 {
		return nil
	}
	out := make([]llm.ToolCall, 0, len(calls))
	for _, call := range calls {
		if call.Function.Name == "" {
			continue
		}
		out = append(out, llm.ToolCall{
			ID:    call.ID,
			Name:  call.Function.Name,
			Input: json.RawMessage(call.Function.Arguments),
		})
	}
	return out
}

// mapError converts OpenAI errors to our error format
func (c *Client) mapError(err error) error {
	if err == nil {
		return nil
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.HTTPStatusCode {
		case http.StatusUnauthorized:
			return llm.NewError(llm.ProviderOpenAI, llm.ErrorTypeAuthentication, apiErr.Message, err)
		case http.StatusTooManyRequests:
			return llm.NewError(llm.ProviderOpenAI, llm.ErrorTypeRateLimit, apiErr.Message, err)
		case http.StatusBadRequest:
			if apiErr.Code == "context_length_exceeded" {
				return llm.NewError(llm.ProviderOpenAI, llm.ErrorTypeContextLengthExceeded, apiErr.Message, err)
			}
			return llm.NewError(llm.ProviderOpenAI, llm.ErrorTypeInvalidRequest, apiErr.Message, err)
		case http.StatusNotFound:
			return llm.NewError(llm.ProviderOpenAI, llm.ErrorTypeModelNotFound, apiErr.Message, err)
		case http.StatusServiceUnavailable, http.StatusBadGateway:
			return llm.NewError(llm.ProviderOpenAI, llm.ErrorTypeServiceUnavailable, apiErr.Message, err)
		default:
			return llm.NewError(llm.ProviderOpenAI, llm.ErrorTypeUnknown, apiErr.Message, err)
		}
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return llm.NewError(llm.ProviderOpenAI, llm.ErrorTypeTimeout, "request timeout", err)
	}

	return llm.NewError(llm.ProviderOpenAI, llm.ErrorTypeUnknown, err.Error(), err)
}

// validateRequest validates the request
func (c *Client) validateRequest(req *llm.ChatRequest) error {
	if len(req.Messages) == 0 {
		return llm.NewError(llm.ProviderOpenAI, llm.ErrorTypeInvalidRequest, "messages cannot be empty", nil)
	}
	return nil
}
