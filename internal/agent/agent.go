package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/caseloop/caseloop/internal/engine"
	"github.com/caseloop/caseloop/internal/models"
	"github.com/caseloop/caseloop/pkg/llm"
	"github.com/caseloop/caseloop/pkg/logger"
	"github.com/caseloop/caseloop/pkg/metrics"
)

// RateLimiter meters organization token budgets. It is a best-effort
// collaborator: implementations degrade to allowing traffic when their
// backing store is down.
type RateLimiter interface {
	CheckBudget(ctx context.Context, orgID uuid.UUID, estimatedTokens int) error
	RecordUsage(ctx context.Context, orgID uuid.UUID, usage llm.TokenUsage)
}

// ConversationStore persists chat history
type ConversationStore interface {
	CreateConversation(ctx context.Context, conv *models.Conversation) error
	GetConversation(ctx context.Context, orgID, id uuid.UUID) (*models.Conversation, error)
	AppendMessage(ctx context.Context, msg *models.ChatMessage) error
	RecentMessages(ctx context.Context, conversationID uuid.UUID, limit int) ([]models.ChatMessage, error)
}

// Config tunes one agent instance
type Config struct {
	AgentType     string
	HistoryLimit  int
	MaxToolRounds int

	// RequirePreviewCategories lists categories whose actions the agent may
	// NOT execute with the preview guard skipped. Empty means the agent
	// executes its own tool decisions directly.
	RequirePreviewCategories []string
}

// Agent drives streamed conversations with the model provider, exposing
// skills and catalog actions as tools. Agents are immutable after
// construction; all per-turn state lives on the stack of Chat.
type Agent struct {
	cfg       Config
	llm       llm.Client
	executor  *engine.Executor
	toolset   *Toolset
	contexts  *ContextLoader
	store     ConversationStore
	limiter   RateLimiter
	templates *llm.TemplateManager
	metrics   *metrics.Metrics
	logger    *logger.Logger

	requirePreview map[models.ActionCategory]bool
}

// New creates an agent. limiter and m may be nil in tests.
func New(cfg Config, client llm.Client, executor *engine.Executor, toolset *Toolset, contexts *ContextLoader, store ConversationStore, limiter RateLimiter, templates *llm.TemplateManager, m *metrics.Metrics, log *logger.Logger) *Agent {
	requirePreview := make(map[models.ActionCategory]bool, len(cfg.RequirePreviewCategories))
	for _, category := range cfg.RequirePreviewCategories {
		requirePreview[models.ActionCategory(category)] = true
	}

	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = 20
	}
	if cfg.MaxToolRounds <= 0 {
		cfg.MaxToolRounds = 5
	}

	return &Agent{
		cfg:            cfg,
		llm:            client,
		executor:       executor,
		toolset:        toolset,
		contexts:       contexts,
		store:          store,
		limiter:        limiter,
		templates:      templates,
		metrics:        m,
		logger:         log,
		requirePreview: requirePreview,
	}
}

// TurnRequest is one user message. A zero ConversationID starts a new
// conversation.
type TurnRequest struct {
	ConversationID uuid.UUID
	Message        string
}

// Chat runs one streamed turn. Rate-limit rejection and persistence of the
// user message happen synchronously; the returned channel then yields the
// turn's events and is closed exactly once when the turn ends.
func (a *Agent) Chat(ctx context.Context, actx *models.ActionContext, turn TurnRequest) (<-chan StreamEvent, error) {
	if strings.TrimSpace(turn.Message) == "" {
		return nil, fmt.Errorf("message must not be empty")
	}

	if a.limiter != nil {
		if err := a.limiter.CheckBudget(ctx, actx.OrganizationID, estimateTokens(turn.Message)); err != nil {
			return nil, err
		}
	}

	conv, err := a.ensureConversation(ctx, actx, turn.ConversationID)
	if err != nil {
		return nil, err
	}

	userMsg := &models.ChatMessage{
		ID:             uuid.New(),
		ConversationID: conv.ID,
		Role:           models.MessageRoleUser,
		Content:        turn.Message,
	}
	if err := a.store.AppendMessage(ctx, userMsg); err != nil {
		return nil, fmt.Errorf("failed to persist user message: %w", err)
	}

	events := make(chan StreamEvent, 64)
	go a.runTurn(ctx, actx, conv, events)

	return events, nil
}

func (a *Agent) ensureConversation(ctx context.Context, actx *models.ActionContext, id uuid.UUID) (*models.Conversation, error) {
	if id != uuid.Nil {
		conv, err := a.store.GetConversation(ctx, actx.OrganizationID, id)
		if err != nil {
			return nil, err
		}
		if conv == nil {
			return nil, fmt.Errorf("conversation %s not found", id)
		}
		return conv, nil
	}

	conv := &models.Conversation{
		ID:             uuid.New(),
		OrganizationID: actx.OrganizationID,
		UserID:         actx.UserID,
		AgentType:      a.cfg.AgentType,
		EntityType:     actx.EntityType,
	}
	if actx.EntityID != uuid.Nil {
		entityID := actx.EntityID
		conv.EntityID = &entityID
	}
	if err := a.store.CreateConversation(ctx, conv); err != nil {
		return nil, fmt.Errorf("failed to create conversation: %w", err)
	}
	return conv, nil
}

// runTurn drives the provider stream and tool dispatch for one turn.
// Tool dispatch is synchronous: no two tool calls of the same turn run
// concurrently, so action_executed events keep the model's requested order.
func (a *Agent) runTurn(ctx context.Context, actx *models.ActionContext, conv *models.Conversation, events chan<- StreamEvent) {
	defer close(events)

	started := time.Now()
	outcome := "success"
	defer func() {
		a.observeTurn(outcome, time.Since(started))
	}()

	req, err := a.buildRequest(ctx, actx, conv)
	if err != nil {
		outcome = "error"
		events <- errorEvent("prompt_build_failed", err.Error())
		return
	}

	var assistant strings.Builder
	var usage llm.TokenUsage

	handler := func(chunk *llm.StreamChunk) error {
		if chunk.Delta != "" {
			assistant.WriteString(chunk.Delta)
			events <- textDeltaEvent(chunk.Delta)
		}
		return nil
	}

	for round := 0; ; round++ {
		resp, err := a.llm.StreamChat(ctx, req, handler)
		if err != nil {
			// Partial text already streamed stays with the client, but the
			// turn is not persisted as a completed message
			outcome = "error"
			events <- errorEvent("provider_error", err.Error())
			a.recordUsage(actx, usage)
			return
		}
		usage.Add(resp.Usage)

		if !resp.StoppedForTools() {
			break
		}
		if round+1 >= a.cfg.MaxToolRounds {
			notice := "\n(stopping here: tool budget for this turn is exhausted)\n"
			assistant.WriteString(notice)
			events <- textDeltaEvent(notice)
			break
		}

		results := make([]llm.ToolResult, 0, len(resp.ToolCalls))
		for _, call := range resp.ToolCalls {
			events <- StreamEvent{Type: EventTypeToolUse, ToolUse: &ToolUseEvent{
				ID:    call.ID,
				Name:  call.Name,
				Input: call.Input,
			}}
			results = append(results, a.dispatchTool(ctx, actx, call, events, &assistant))
		}

		req.Messages = append(req.Messages,
			llm.Message{Role: llm.RoleAssistant, Content: resp.Content, ToolCalls: resp.ToolCalls},
			llm.Message{Role: llm.RoleUser, ToolResults: results},
		)
	}

	a.recordUsage(actx, usage)

	assistantMsg := &models.ChatMessage{
		ID:             uuid.New(),
		ConversationID: conv.ID,
		Role:           models.MessageRoleAssistant,
		Content:        assistant.String(),
		TokensUsed:     usage.CompletionTokens,
	}
	if err := a.store.AppendMessage(ctx, assistantMsg); err != nil {
		outcome = "error"
		events <- errorEvent("persistence_failed", err.Error())
		return
	}

	events <- StreamEvent{Type: EventTypeDone, ConversationID: conv.ID.String()}
}

func (a *Agent) buildRequest(ctx context.Context, actx *models.ActionContext, conv *models.Conversation) (*llm.ChatRequest, error) {
	history, err := a.store.RecentMessages(ctx, conv.ID, a.cfg.HistoryLimit)
	if err != nil {
		return nil, fmt.Errorf("failed to load history: %w", err)
	}

	pc, err := a.contexts.Load(ctx, actx)
	if err != nil {
		return nil, err
	}
	systemPrompt, err := a.templates.Execute("compliance_assistant", pc)
	if err != nil {
		return nil, err
	}

	builder := llm.NewPromptBuilder().SetSystemPrompt(systemPrompt)
	for _, msg := range history {
		switch msg.Role {
		case models.MessageRoleAssistant:
			builder.AddAssistantMessage(msg.Content)
		default:
			builder.AddUserMessage(msg.Content)
		}
	}
	builder.AddTools(a.toolset.Definitions(actx)...)

	return builder.Build(), nil
}

// dispatchTool runs one tool call and splices the outcome back into the
// stream. A failing tool never aborts the turn: the failure travels back to
// the model as an error tool result and to the client as an inline notice.
func (a *Agent) dispatchTool(ctx context.Context, actx *models.ActionContext, call llm.ToolCall, events chan<- StreamEvent, assistant *strings.Builder) llm.ToolResult {
	input := map[string]any{}
	if len(call.Input) > 0 {
		if err := json.Unmarshal(call.Input, &input); err != nil {
			a.observeToolCall(call.Name, "invalid_input")
			return llm.ToolResult{ToolCallID: call.ID, Content: fmt.Sprintf("invalid tool input: %v", err), IsError: true}
		}
	}

	if actionID, ok := ParseActionToolName(call.Name); ok {
		return a.dispatchAction(ctx, actx, call, actionID, input, events, assistant)
	}

	skill, ok := a.toolset.Skill(call.Name)
	if !ok {
		a.observeToolCall(call.Name, "unknown")
		return llm.ToolResult{ToolCallID: call.ID, Content: fmt.Sprintf("unknown tool %q", call.Name), IsError: true}
	}

	output, err := skill.Run(ctx, actx, input)
	if err != nil {
		a.observeToolCall(call.Name, "failure")
		a.logger.Warn("skill failed",
			logger.String("skill", call.Name),
			logger.Err(err))
		return llm.ToolResult{ToolCallID: call.ID, Content: err.Error(), IsError: true}
	}

	a.observeToolCall(call.Name, "success")
	return llm.ToolResult{ToolCallID: call.ID, Content: output}
}

func (a *Agent) dispatchAction(ctx context.Context, actx *models.ActionContext, call llm.ToolCall, actionID string, input map[string]any, events chan<- StreamEvent, assistant *strings.Builder) llm.ToolResult {
	skipPreview := true
	if def, ok := a.executor.Catalog().Get(actionID); ok && a.requirePreview[def.Category] {
		skipPreview = false
	}

	dispatchCtx := *actx
	dispatchCtx.ActorType = models.ActorTypeAgent

	result, err := a.executor.Execute(ctx, actionID, input, &dispatchCtx, skipPreview)
	if err != nil {
		// Pre-execution rejection: no record was created
		a.observeToolCall(call.Name, "rejected")
		evt := &ActionExecutedEvent{ActionID: actionID, Success: false, Error: err.Error()}
		events <- StreamEvent{Type: EventTypeActionExecuted, ActionExecuted: evt}
		a.inlineNotice(events, assistant, fmt.Sprintf("✗ %s: %s", actionID, rejectionReason(err)))
		return llm.ToolResult{ToolCallID: call.ID, Content: err.Error(), IsError: true}
	}

	if !result.Success {
		a.observeToolCall(call.Name, "failure")
		evt := &ActionExecutedEvent{
			ActionID: actionID,
			RecordID: result.RecordID.String(),
			Success:  false,
			Error:    result.Error,
		}
		events <- StreamEvent{Type: EventTypeActionExecuted, ActionExecuted: evt}
		a.inlineNotice(events, assistant, fmt.Sprintf("✗ %s failed: %s", actionID, result.Error))
		return llm.ToolResult{ToolCallID: call.ID, Content: result.Error, IsError: true}
	}

	a.observeToolCall(call.Name, "success")
	summary := actionID
	if result.Result != nil && result.Result.Summary != "" {
		summary = result.Result.Summary
	}
	evt := &ActionExecutedEvent{
		ActionID:      actionID,
		RecordID:      result.RecordID.String(),
		Success:       true,
		Summary:       summary,
		UndoAvailable: result.UndoAvailable,
		UndoExpiresAt: result.UndoExpiresAt,
	}
	events <- StreamEvent{Type: EventTypeActionExecuted, ActionExecuted: evt}
	a.inlineNotice(events, assistant, "✓ "+summary)

	content, _ := json.Marshal(map[string]any{
		"record_id":       result.RecordID.String(),
		"summary":         summary,
		"undo_available":  result.UndoAvailable,
		"undo_expires_at": result.UndoExpiresAt,
	})
	return llm.ToolResult{ToolCallID: call.ID, Content: string(content)}
}

// inlineNotice renders a tool outcome inside the assistant's message so it
// reads naturally in the client's transcript
func (a *Agent) inlineNotice(events chan<- StreamEvent, assistant *strings.Builder, notice string) {
	delta := "\n" + notice + "\n"
	assistant.WriteString(delta)
	events <- textDeltaEvent(delta)
}

func rejectionReason(err error) string {
	if errors.Is(err, engine.ErrPreviewRequired) {
		return "this action requires a human-confirmed preview"
	}
	return err.Error()
}

func (a *Agent) recordUsage(actx *models.ActionContext, usage llm.TokenUsage) {
	if a.limiter == nil || usage.TotalTokens == 0 {
		return
	}
	// Detached context: metering should outlive a cancelled turn
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	a.limiter.RecordUsage(ctx, actx.OrganizationID, usage)
}

func (a *Agent) observeTurn(outcome string, duration time.Duration) {
	if a.metrics == nil {
		return
	}
	a.metrics.AgentTurnsTotal.WithLabelValues(a.cfg.AgentType, outcome).Inc()
	a.metrics.AgentTurnDuration.WithLabelValues(a.cfg.AgentType).Observe(duration.Seconds())
}

func (a *Agent) observeToolCall(tool, outcome string) {
	if a.metrics == nil {
		return
	}
	a.metrics.AgentToolCallsTotal.WithLabelValues(tool, outcome).Inc()
}

// estimateTokens is the rough heuristic used for the pre-flight budget
// check; exact usage comes back from the provider afterwards
func estimateTokens(message string) int {
	return len(message)/4 + 1
}
