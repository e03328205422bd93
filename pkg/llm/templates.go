package llm

import (
	"bytes"
	"fmt"
	"strings"
	"text/template"
)

// Template represents a prompt template
type Template struct {
	name     string
	content  string
	template *template.Template
}

// TemplateManager manages prompt templates
type TemplateManager struct {
	templates map[string]*Template
}

// NewTemplateManager creates a new template manager
func NewTemplateManager() *TemplateManager {
	return &TemplateManager{
		templates: make(map[string]*Template),
	}
}

// Register registers a new template
func (tm *TemplateManager) Register(name, content string) error {
	tmpl, err := template.New(name).Parse(content)
	if err != nil {
		return fmt.Errorf("failed to parse template %s: %w", name, err)
	}

	tm.templates[name] = &Template{
		name:     name,
		content:  content,
		template: tmpl,
	}

	return nil
}

// Execute executes a template with the given data
func (tm *TemplateManager) Execute(name string, data interface{}) (string, error) {
	tmpl, ok := tm.templates[name]
	if !ok {
		return "", fmt.Errorf("template %s not found", name)
	}

	var buf bytes.Buffer
	if err := tmpl.template.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to execute template %s: %w", name, err)
	}

	return buf.String(), nil
}

// Exists checks if a template exists
func (tm *TemplateManager) Exists(name string) bool {
	_, ok := tm.templates[name]
	return ok
}

// List returns all template names
func (tm *TemplateManager) List() []string {
	names := make([]string, 0, len(tm.templates))
	for name := range tm.templates {
		names = append(names, name)
	}
	return names
}

// PromptBuilder helps build complex prompts
type PromptBuilder struct {
	systemPrompt strings.Builder
	messages     []Message
	tools        []ToolDefinition
}

// NewPromptBuilder creates a new prompt builder
func NewPromptBuilder() *PromptBuilder {
	return &PromptBuilder{
		messages: make([]Message, 0),
	}
}

// SetSystemPrompt sets the system prompt
func (pb *PromptBuilder) SetSystemPrompt(prompt string) *PromptBuilder {
	pb.systemPrompt.Reset()
	pb.systemPrompt.WriteString(prompt)
	return pb
}

// AppendSystemPrompt appends to the system prompt
func (pb *PromptBuilder) AppendSystemPrompt(prompt string) *PromptBuilder {
	if pb.systemPrompt.Len() > 0 {
		pb.systemPrompt.WriteString("\n\n")
	}
	pb.systemPrompt.WriteString(prompt)
	return pb
}

// AddUserMessage adds a user message
func (pb *PromptBuilder) AddUserMessage(content string) *PromptBuilder {
	pb.messages = append(pb.messages, Message{
		Role:    RoleUser,
		Content: content,
	})
	return pb
}

// AddAssistantMessage adds an assistant message
func (pb *PromptBuilder) AddAssistantMessage(content string) *PromptBuilder {
	pb.messages = append(pb.messages, Message{
		Role:    RoleAssistant,
		Content: content,
	})
	return pb
}

// AddMessages adds multiple messages
func (pb *PromptBuilder) AddMessages(messages ...Message) *PromptBuilder {
	pb.messages = append(pb.messages, messages...)
	return pb
}

// AddTools adds tool definitions
func (pb *PromptBuilder) AddTools(tools ...ToolDefinition) *PromptBuilder {
	pb.tools = append(pb.tools, tools...)
	return pb
}

// Build builds a ChatRequest
func (pb *PromptBuilder) Build() *ChatRequest {
	return &ChatRequest{
		Messages:     pb.messages,
		SystemPrompt: pb.systemPrompt.String(),
		Tools:        pb.tools,
	}
}

// BuildWithOptions builds a ChatRequest with additional options
func (pb *PromptBuilder) BuildWithOptions(opts ...RequestOption) *ChatRequest {
	req := pb.Build()
	for _, opt := range opts {
		opt(req)
	}
	return req
}

// RequestOption is a function that modifies a ChatRequest
type RequestOption func(*ChatRequest)

// WithModel sets the model
func WithModel(model string) RequestOption {
	return func(req *ChatRequest) {
		req.Model = model
	}
}

// WithMaxTokens sets the max tokens
func WithMaxTokens(maxTokens int) RequestOption {
	return func(req *ChatRequest) {
		req.MaxTokens = maxTokens
	}
}

// WithTemperature sets the temperature
func WithTemperature(temperature float64) RequestOption {
	return func(req *ChatRequest) {
		req.Temperature = temperature
	}
}

// WithMetadata sets metadata
func WithMetadata(metadata map[string]string) RequestOption {
	return func(req *ChatRequest) {
		req.Metadata = metadata
	}
}

// Common prompt templates

const (
	// ComplianceAssistantTemplate is the base system prompt for the case
	// assistant. Context layers render top-down: organization, team, user,
	// then the entity the conversation is focused on.
	ComplianceAssistantTemplate = `You are a compliance case assistant for {{.OrgName}}.

You help investigators and case managers review cases, summarize activity, and
carry out case-management operations through the tools provided to you. Only
use the tools offered in this conversation; never invent tool names. When a
tool call fails, relay the reason to the user rather than retrying blindly.
{{if .OrgGuidelines}}
Organization guidelines:
{{.OrgGuidelines}}
{{end}}
{{if .TeamName}}
The user works on the {{.TeamName}} team.
{{- if .TeamFocus}} Team focus: {{.TeamFocus}}{{end}}
{{end}}
{{if .UserName}}
You are assisting {{.UserName}} ({{.UserRole}}).
{{end}}
{{if .EntityType}}
Current {{.EntityType}}: "{{.EntityTitle}}" (status {{.EntityStatus}}).
{{end}}
Be concise. Cite case facts you were given; do not speculate about facts you
were not given.`

	// CaseSummaryTemplate renders a case digest for the get_case_summary skill
	CaseSummaryTemplate = `Case {{.ID}}: {{.Title}}
Status: {{.Status}}
Opened: {{.CreatedAt}}
Last updated: {{.UpdatedAt}}
{{if .Description}}
{{.Description}}
{{end}}`

	// ActivityDigestTemplate renders recent audit entries for the
	// list_recent_activity skill
	ActivityDigestTemplate = `Recent activity:
{{range .Entries}}
- [{{.OccurredAt}}] {{.Actor}}: {{.Summary}}
{{else}}
(no recent activity)
{{end}}`
)

// GetDefaultTemplates returns a template manager with common templates pre-registered
func GetDefaultTemplates() (*TemplateManager, error) {
	tm := NewTemplateManager()

	templates := map[string]string{
		"compliance_assistant": ComplianceAssistantTemplate,
		"case_summary":         CaseSummaryTemplate,
		"activity_digest":      ActivityDigestTemplate,
	}

	for name, content := range templates {
		if err := tm.Register(name, content); err != nil {
			return nil, fmt.Errorf("failed to register default template %s: %w", name, err)
		}
	}

	return tm, nil
}
