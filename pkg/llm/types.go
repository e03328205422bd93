package llm

import (
	"context"
	"encoding/json"
	"time"
)

// Provider represents the LLM provider type
type Provider string

const (
	ProviderAnthropic Provider = "anthropic"
	ProviderOpenAI    Provider = "openai"
)

// Client defines the interface for LLM providers
type Client interface {
	// Chat sends a chat completion request and returns the response
	Chat(ctx context.Context, req *ChatRequest) (*ChatResponse, error)

	// StreamChat sends a chat completion request, invoking handler for each
	// text delta as it arrives. The returned response carries the assembled
	// content, token usage, and any tool calls the model requested.
	StreamChat(ctx context.Context, req *ChatRequest, handler StreamHandler) (*ChatResponse, error)

	// GetProvider returns the provider type
	GetProvider() Provider

	// Close closes the client and releases resources
	Close() error
}

// ChatRequest represents a chat completion request
type ChatRequest struct {
	// Messages contains the conversation history
	Messages []Message `json:"messages"`

	// Model specifies which model to use
	Model string `json:"model,omitempty"`

	// MaxTokens is the maximum number of tokens to generate
	MaxTokens int `json:"max_tokens,omitempty"`

	// Temperature controls randomness (0.0 to 1.0)
	Temperature float64 `json:"temperature,omitempty"`

	// SystemPrompt is the system message (for providers that support it)
	SystemPrompt string `json:"system_prompt,omitempty"`

	// Tools the model may invoke during this turn
	Tools []ToolDefinition `json:"tools,omitempty"`

	// Metadata for tracking and debugging
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Message represents a single message in a conversation. Assistant messages
// may carry tool calls; the user message that follows carries their results.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`

	ToolCalls   []ToolCall   `json:"tool_calls,omitempty"`
	ToolResults []ToolResult `json:"tool_results,omitempty"`
}

// Role represents the role of a message sender
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// ToolDefinition describes a tool offered to the model. InputSchema is a
// JSON Schema object in the shape both providers accept.
type ToolDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"input_schema"`
}

// ToolCall is a tool invocation requested by the model
type ToolCall struct {
	ID    string          `json:"id"`
	Name  string          `json:"name"`
	Input json.RawMessage `json:"input"`
}

// ToolResult is the outcome of a dispatched tool call, fed back to the model
type ToolResult struct {
	ToolCallID string `json:"tool_call_id"`
	Content    string `json:"content"`
	IsError    bool   `json:"is_error,omitempty"`
}

// ChatResponse represents a chat completion response
type ChatResponse struct {
	// ID is the unique identifier for this completion
	ID string `json:"id"`

	// Content is the generated text
	Content string `json:"content"`

	// ToolCalls are the tool invocations the model requested, in order
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`

	// Model is the model that was used
	Model string `json:"model"`

	// Provider is the LLM provider
	Provider Provider `json:"provider"`

	// Usage contains token usage information
	Usage *TokenUsage `json:"usage"`

	// FinishReason indicates why generation stopped
	FinishReason string `json:"finish_reason"`

	// CreatedAt is when the completion was created
	CreatedAt time.Time `json:"created_at"`
}

// StoppedForTools reports whether generation stopped to wait for tool results
func (r *ChatResponse) StoppedForTools() bool {
	return len(r.ToolCalls) > 0
}

// TokenUsage represents token usage statistics
type TokenUsage struct {
	// PromptTokens is the number of tokens in the prompt
	PromptTokens int `json:"prompt_tokens"`

	// CompletionTokens is the number of tokens in the completion
	CompletionTokens int `json:"completion_tokens"`

	// TotalTokens is the total number of tokens used
	TotalTokens int `json:"total_tokens"`
}

// Add accumulates usage from one provider round into the receiver
func (u *TokenUsage) Add(other *TokenUsage) {
	if other == nil {
		return
	}
	u.PromptTokens += other.PromptTokens
	u.CompletionTokens += other.CompletionTokens
	u.TotalTokens += other.TotalTokens
}

// StreamHandler is called for each text delta in a streaming response
type StreamHandler func(chunk *StreamChunk) error

// StreamChunk represents a chunk of a streaming response
type StreamChunk struct {
	// Delta is the incremental text content
	Delta string `json:"delta"`

	// IsComplete indicates if this is the final chunk
	IsComplete bool `json:"is_complete"`
}

// Config represents LLM client configuration
type Config struct {
	// Provider specifies which LLM provider to use
	Provider Provider `json:"provider"`

	// APIKey is the authentication key
	APIKey string `json:"api_key"`

	// BaseURL is the API base URL (optional, for custom endpoints)
	BaseURL string `json:"base_url,omitempty"`

	// DefaultModel is the model to use if not specified in requests
	DefaultModel string `json:"default_model,omitempty"`

	// MaxTokens is the default generation cap when a request does not set one
	MaxTokens int `json:"max_tokens,omitempty"`

	// Timeout for API requests
	Timeout time.Duration `json:"timeout"`

	// MaxRetries for failed requests
	MaxRetries int `json:"max_retries"`

	// RetryDelay between retries
	RetryDelay time.Duration `json:"retry_delay"`
}
