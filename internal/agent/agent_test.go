package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/caseloop/caseloop/internal/actions"
	"github.com/caseloop/caseloop/internal/engine"
	"github.com/caseloop/caseloop/internal/models"
	"github.com/caseloop/caseloop/pkg/llm"
	"github.com/caseloop/caseloop/pkg/logger"
)

// scriptedLLM replays a fixed sequence of provider rounds
type scriptedLLM struct {
	rounds []scriptedRound
	calls  int
}

type scriptedRound struct {
	deltas    []string
	toolCalls []llm.ToolCall
	err       error
}

func (s *scriptedLLM) Chat(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
	return nil, errors.New("not used")
}

func (s *scriptedLLM) StreamChat(ctx context.Context, req *llm.ChatRequest, handler llm.StreamHandler) (*llm.ChatResponse, error) {
	if s.calls >= len(s.rounds) {
		return nil, fmt.Errorf("unexpected provider round %d", s.calls)
	}
	round := s.rounds[s.calls]
	s.calls++

	for _, delta := range round.deltas {
		if err := handler(&llm.StreamChunk{Delta: delta}); err != nil {
			return nil, err
		}
	}
	if round.err != nil {
		return nil, round.err
	}
	handler(&llm.StreamChunk{IsComplete: true})

	return &llm.ChatResponse{
		Content:   strings.Join(round.deltas, ""),
		ToolCalls: round.toolCalls,
		Usage:     &llm.TokenUsage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15},
	}, nil
}

func (s *scriptedLLM) GetProvider() llm.Provider { return llm.Provider("scripted") }
func (s *scriptedLLM) Close() error              { return nil }

// memoryStore is an in-memory ConversationStore
type memoryStore struct {
	mu            sync.Mutex
	conversations map[uuid.UUID]*models.Conversation
	messages      map[uuid.UUID][]models.ChatMessage
}

func newMemoryStore() *memoryStore {
	return &memoryStore{
		conversations: make(map[uuid.UUID]*models.Conversation),
		messages:      make(map[uuid.UUID][]models.ChatMessage),
	}
}

func (s *memoryStore) CreateConversation(ctx context.Context, conv *models.Conversation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conversations[conv.ID] = conv
	return nil
}

func (s *memoryStore) GetConversation(ctx context.Context, orgID, id uuid.UUID) (*models.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv, ok := s.conversations[id]
	if !ok || conv.OrganizationID != orgID {
		return nil, nil
	}
	return conv, nil
}

func (s *memoryStore) AppendMessage(ctx context.Context, msg *models.ChatMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages[msg.ConversationID] = append(s.messages[msg.ConversationID], *msg)
	return nil
}

func (s *memoryStore) RecentMessages(ctx context.Context, conversationID uuid.UUID, limit int) ([]models.ChatMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	msgs := s.messages[conversationID]
	if len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	out := make([]models.ChatMessage, len(msgs))
	copy(out, msgs)
	return out, nil
}

func (s *memoryStore) messagesFor(conversationID uuid.UUID) []models.ChatMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.ChatMessage(nil), s.messages[conversationID]...)
}

// memoryRecords is a minimal in-memory ActionRecordRepository
type memoryRecords struct {
	mu      sync.Mutex
	records map[uuid.UUID]*models.ActionRecord
}

func newMemoryRecords() *memoryRecords {
	return &memoryRecords{records: make(map[uuid.UUID]*models.ActionRecord)}
}

func (r *memoryRecords) Create(ctx context.Context, record *models.ActionRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	clone := *record
	r.records[record.ID] = &clone
	return nil
}

func (r *memoryRecords) GetByID(ctx context.Context, orgID, id uuid.UUID) (*models.ActionRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	record, ok := r.records[id]
	if !ok || record.OrganizationID != orgID {
		return nil, nil
	}
	clone := *record
	return &clone, nil
}

func (r *memoryRecords) MarkCompleted(ctx context.Context, id uuid.UUID, result, previousState models.JSONB, undoable bool, undoExpiresAt *time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	record := r.records[id]
	record.Status = models.RecordStatusCompleted
	record.Result = result
	record.PreviousState = previousState
	record.Undoable = undoable
	record.UndoExpiresAt = undoExpiresAt
	return nil
}

func (r *memoryRecords) MarkFailed(ctx context.Context, id uuid.UUID, errMsg string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	record := r.records[id]
	record.Status = models.RecordStatusFailed
	record.Error = &errMsg
	return nil
}

func (r *memoryRecords) MarkUndone(ctx context.Context, id, undoneBy uuid.UUID) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	record, ok := r.records[id]
	if !ok || record.Status != models.RecordStatusCompleted {
		return false, nil
	}
	record.Status = models.RecordStatusUndone
	return true, nil
}

func (r *memoryRecords) List(ctx context.Context, orgID uuid.UUID, filter models.ActionRecordFilter) ([]*models.ActionRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.ActionRecord
	for _, record := range r.records {
		if record.OrganizationID == orgID {
			clone := *record
			out = append(out, &clone)
		}
	}
	return out, nil
}

func (r *memoryRecords) byStatus(status models.RecordStatus) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	count := 0
	for _, record := range r.records {
		if record.Status == status {
			count++
		}
	}
	return count
}

type nopEmitter struct{}

func (nopEmitter) ActionCompleted(ctx context.Context, record *models.ActionRecord) {}
func (nopEmitter) ActionUndone(ctx context.Context, record *models.ActionRecord)    {}

// fakeLimiter scripts the budget decision and records metered usage
type fakeLimiter struct {
	mu      sync.Mutex
	reject  error
	metered llm.TokenUsage
}

func (l *fakeLimiter) CheckBudget(ctx context.Context, orgID uuid.UUID, estimatedTokens int) error {
	return l.reject
}

func (l *fakeLimiter) RecordUsage(ctx context.Context, orgID uuid.UUID, usage llm.TokenUsage) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.metered.Add(&usage)
}

type fakeCaseReader struct {
	c *models.Case
}

func (f *fakeCaseReader) GetCase(ctx context.Context, orgID, id uuid.UUID) (*models.Case, error) {
	if f.c == nil || f.c.ID != id {
		return nil, fmt.Errorf("case %s not found", id)
	}
	return f.c, nil
}

func (f *fakeCaseReader) GetInvestigation(ctx context.Context, orgID, id uuid.UUID) (*models.Investigation, error) {
	return nil, fmt.Errorf("investigation %s not found", id)
}

type fakeAuditReader struct {
	entries []models.AuditLog
}

func (f *fakeAuditReader) List(ctx context.Context, orgID uuid.UUID, filter models.AuditFilter) ([]models.AuditLog, error) {
	return f.entries, nil
}

// notifyAction is an EXTERNAL-category worked action for dispatch tests
func notifyAction(failWith string) *actions.Definition {
	return &actions.Definition{
		ID:          "notify-regulator",
		Name:        "Notify regulator",
		Description: "Send a case notification to the regulator",
		Category:    models.CategoryExternal,
		EntityTypes: []string{models.EntityTypeCase},
		RequiredPermissions: []string{
			"case.notify",
		},
		InputSchema: actions.MustSchema(map[string]any{
			"type": "object",
			"properties": map[string]any{
				"reason": map[string]any{"type": "string"},
			},
			"required":             []any{"reason"},
			"additionalProperties": false,
		}),
		Preview: func(ctx context.Context, actx *models.ActionContext, input map[string]any) (*models.ActionPreview, error) {
			return &models.ActionPreview{ActionID: "notify-regulator", Summary: "would notify the regulator"}, nil
		},
		Execute: func(ctx context.Context, actx *models.ActionContext, input map[string]any) (*models.ActionResult, error) {
			if failWith != "" {
				return nil, errors.New(failWith)
			}
			return &models.ActionResult{
				Summary: "Notified the regulator",
				Output:  models.JSONB{"sent": true},
			}, nil
		},
	}
}

type agentFixture struct {
	agent   *Agent
	store   *memoryStore
	records *memoryRecords
	limiter *fakeLimiter
	actx    *models.ActionContext
	caseID  uuid.UUID
}

func newAgentFixture(t *testing.T, client llm.Client, def *actions.Definition, cfg Config) *agentFixture {
	t.Helper()
	log := logger.NewForTesting()

	catalog := actions.NewCatalog(log)
	if def != nil {
		if err := catalog.Register(def); err != nil {
			t.Fatalf("Register() error = %v", err)
		}
	}

	records := newMemoryRecords()
	executor := engine.NewExecutor(catalog, records, nopEmitter{}, nil, log)

	orgID := uuid.New()
	caseID := uuid.New()
	cases := &fakeCaseReader{c: &models.Case{
		ID:             caseID,
		OrganizationID: orgID,
		Title:          "Suspicious wire transfers",
		Status:         models.CaseStatusNew,
	}}

	templates, err := llm.GetDefaultTemplates()
	if err != nil {
		t.Fatalf("GetDefaultTemplates() error = %v", err)
	}

	toolset, err := NewToolset(catalog, []Skill{
		NewCaseSummarySkill(cases, templates),
		NewRecentActivitySkill(&fakeAuditReader{}, templates),
	})
	if err != nil {
		t.Fatalf("NewToolset() error = %v", err)
	}

	contexts := NewContextLoader(cases, nil, "Acme Compliance", time.Minute, log)
	store := newMemoryStore()
	limiter := &fakeLimiter{}

	if cfg.AgentType == "" {
		cfg.AgentType = "case_assistant"
	}

	return &agentFixture{
		agent:   New(cfg, client, executor, toolset, contexts, store, limiter, templates, nil, log),
		store:   store,
		records: records,
		limiter: limiter,
		caseID:  caseID,
		actx: &models.ActionContext{
			OrganizationID: orgID,
			UserID:         uuid.New(),
			Role:           "investigator",
			Permissions:    []string{"case.notify", "status.update"},
			ActorType:      models.ActorTypeUser,
			EntityType:     models.EntityTypeCase,
			EntityID:       caseID,
		},
	}
}

func collect(t *testing.T, events <-chan StreamEvent) []StreamEvent {
	t.Helper()
	var out []StreamEvent
	timeout := time.After(5 * time.Second)
	for {
		select {
		case evt, ok := <-events:
			if !ok {
				return out
			}
			out = append(out, evt)
		case <-timeout:
			t.Fatalf("timed out draining events, got %d so far", len(out))
		}
	}
}

func eventTypes(events []StreamEvent) []EventType {
	types := make([]EventType, len(events))
	for i, evt := range events {
		types[i] = evt.Type
	}
	return types
}

func TestChatStreamsTextAndPersists(t *testing.T) {
	client := &scriptedLLM{rounds: []scriptedRound{
		{deltas: []string{"Hello", ", investigator."}},
	}}
	fx := newAgentFixture(t, client, notifyAction(""), Config{})

	events, err := fx.agent.Chat(context.Background(), fx.actx, TurnRequest{Message: "hi"})
	if err != nil {
		t.Fatalf("Chat() error = %v", err)
	}
	got := collect(t, events)

	want := []EventType{EventTypeTextDelta, EventTypeTextDelta, EventTypeDone}
	if fmt.Sprint(eventTypes(got)) != fmt.Sprint(want) {
		t.Fatalf("event order = %v, want %v", eventTypes(got), want)
	}

	convID := uuid.MustParse(got[len(got)-1].ConversationID)
	msgs := fx.store.messagesFor(convID)
	if len(msgs) != 2 {
		t.Fatalf("persisted %d messages, want 2", len(msgs))
	}
	if msgs[0].Role != models.MessageRoleUser || msgs[0].Content != "hi" {
		t.Errorf("first message = %+v, want the user message", msgs[0])
	}
	if msgs[1].Role != models.MessageRoleAssistant || msgs[1].Content != "Hello, investigator." {
		t.Errorf("assistant message content = %q", msgs[1].Content)
	}
}

func TestChatExternalActionEventOrdering(t *testing.T) {
	input, _ := json.Marshal(map[string]any{"reason": "sanctions match"})
	client := &scriptedLLM{rounds: []scriptedRound{
		{toolCalls: []llm.ToolCall{{ID: "tu_1", Name: ActionToolName("notify-regulator"), Input: input}}},
		{deltas: []string{"The regulator has been ", "notified."}},
	}}
	fx := newAgentFixture(t, client, notifyAction(""), Config{})

	events, err := fx.agent.Chat(context.Background(), fx.actx, TurnRequest{Message: "please notify the regulator"})
	if err != nil {
		t.Fatalf("Chat() error = %v", err)
	}
	got := collect(t, events)

	want := []EventType{
		EventTypeToolUse,
		EventTypeActionExecuted,
		EventTypeTextDelta, // inline ✓ notice
		EventTypeTextDelta,
		EventTypeTextDelta,
		EventTypeDone,
	}
	if fmt.Sprint(eventTypes(got)) != fmt.Sprint(want) {
		t.Fatalf("event order = %v, want %v", eventTypes(got), want)
	}

	if got[0].ToolUse.Name != ActionToolName("notify-regulator") {
		t.Errorf("tool_use name = %q", got[0].ToolUse.Name)
	}
	executed := got[1].ActionExecuted
	if !executed.Success || executed.ActionID != "notify-regulator" || executed.RecordID == "" {
		t.Errorf("action_executed = %+v", executed)
	}
	if !strings.Contains(got[2].Delta, "✓") || !strings.Contains(got[2].Delta, "Notified the regulator") {
		t.Errorf("inline delta = %q", got[2].Delta)
	}

	if n := fx.records.byStatus(models.RecordStatusCompleted); n != 1 {
		t.Errorf("completed records = %d, want 1", n)
	}

	convID := uuid.MustParse(got[len(got)-1].ConversationID)
	msgs := fx.store.messagesFor(convID)
	last := msgs[len(msgs)-1]
	if last.Role != models.MessageRoleAssistant || !strings.Contains(last.Content, "notified.") {
		t.Errorf("persisted assistant message = %+v", last)
	}
	if !strings.Contains(last.Content, "✓") {
		t.Errorf("inline notice missing from persisted message: %q", last.Content)
	}
}

func TestChatActionRecordsAgentActor(t *testing.T) {
	input, _ := json.Marshal(map[string]any{"reason": "audit"})
	client := &scriptedLLM{rounds: []scriptedRound{
		{toolCalls: []llm.ToolCall{{ID: "tu_1", Name: ActionToolName("notify-regulator"), Input: input}}},
		{deltas: []string{"Done."}},
	}}
	fx := newAgentFixture(t, client, notifyAction(""), Config{})

	events, err := fx.agent.Chat(context.Background(), fx.actx, TurnRequest{Message: "notify"})
	if err != nil {
		t.Fatalf("Chat() error = %v", err)
	}
	collect(t, events)

	records, _ := fx.records.List(context.Background(), fx.actx.OrganizationID, models.ActionRecordFilter{})
	if len(records) != 1 {
		t.Fatalf("records = %d, want 1", len(records))
	}
	if records[0].ActorType != models.ActorTypeAgent {
		t.Errorf("ActorType = %q, want %q", records[0].ActorType, models.ActorTypeAgent)
	}
}

func TestChatSkillDispatch(t *testing.T) {
	client := &scriptedLLM{rounds: []scriptedRound{
		{toolCalls: []llm.ToolCall{{ID: "tu_1", Name: "get_case_summary", Input: json.RawMessage(`{}`)}}},
		{deltas: []string{"The case concerns suspicious wire transfers."}},
	}}
	fx := newAgentFixture(t, client, notifyAction(""), Config{})

	events, err := fx.agent.Chat(context.Background(), fx.actx, TurnRequest{Message: "summarize this case"})
	if err != nil {
		t.Fatalf("Chat() error = %v", err)
	}
	got := collect(t, events)

	// Skills never emit action_executed events or inline notices
	want := []EventType{EventTypeToolUse, EventTypeTextDelta, EventTypeDone}
	if fmt.Sprint(eventTypes(got)) != fmt.Sprint(want) {
		t.Fatalf("event order = %v, want %v", eventTypes(got), want)
	}
	if n := fx.records.byStatus(models.RecordStatusCompleted); n != 0 {
		t.Errorf("skill dispatch created %d action records", n)
	}
}

func TestChatRateLimitedFailsFast(t *testing.T) {
	client := &scriptedLLM{}
	fx := newAgentFixture(t, client, notifyAction(""), Config{})
	fx.limiter.reject = &engine.RateLimitError{RetryAfter: 42 * time.Second}

	_, err := fx.agent.Chat(context.Background(), fx.actx, TurnRequest{Message: "hello"})
	if !errors.Is(err, engine.ErrRateLimited) {
		t.Fatalf("Chat() error = %v, want ErrRateLimited", err)
	}
	if client.calls != 0 {
		t.Errorf("provider called %d times after rate-limit rejection", client.calls)
	}

	var rle *engine.RateLimitError
	if !errors.As(err, &rle) || rle.RetryAfter != 42*time.Second {
		t.Errorf("retry-after hint missing from %v", err)
	}
}

func TestChatProviderErrorIsTerminal(t *testing.T) {
	client := &scriptedLLM{rounds: []scriptedRound{
		{deltas: []string{"partial "}, err: errors.New("stream reset")},
	}}
	fx := newAgentFixture(t, client, notifyAction(""), Config{})

	events, err := fx.agent.Chat(context.Background(), fx.actx, TurnRequest{Message: "hi"})
	if err != nil {
		t.Fatalf("Chat() error = %v", err)
	}
	got := collect(t, events)

	last := got[len(got)-1]
	if last.Type != EventTypeError {
		t.Fatalf("last event = %v, want error", last.Type)
	}

	// Only the user message is persisted; the partial assistant text is not
	for _, msgs := range fx.store.messages {
		for _, msg := range msgs {
			if msg.Role == models.MessageRoleAssistant {
				t.Errorf("assistant message persisted after stream failure: %q", msg.Content)
			}
		}
	}
}

func TestChatToolFailureDoesNotAbortStream(t *testing.T) {
	input, _ := json.Marshal(map[string]any{"reason": "x"})
	client := &scriptedLLM{rounds: []scriptedRound{
		{toolCalls: []llm.ToolCall{{ID: "tu_1", Name: ActionToolName("notify-regulator"), Input: input}}},
		{deltas: []string{"I could not reach the regulator."}},
	}}
	fx := newAgentFixture(t, client, notifyAction("gateway unreachable"), Config{})

	events, err := fx.agent.Chat(context.Background(), fx.actx, TurnRequest{Message: "notify"})
	if err != nil {
		t.Fatalf("Chat() error = %v", err)
	}
	got := collect(t, events)

	if got[len(got)-1].Type != EventTypeDone {
		t.Fatalf("turn did not complete after tool failure: %v", eventTypes(got))
	}

	var executed *ActionExecutedEvent
	for _, evt := range got {
		if evt.Type == EventTypeActionExecuted {
			executed = evt.ActionExecuted
		}
	}
	if executed == nil || executed.Success || executed.Error != "gateway unreachable" {
		t.Errorf("action_executed = %+v", executed)
	}
	if n := fx.records.byStatus(models.RecordStatusFailed); n != 1 {
		t.Errorf("failed records = %d, want 1", n)
	}
}

func TestChatRequirePreviewCategoryRejectsDispatch(t *testing.T) {
	input, _ := json.Marshal(map[string]any{"reason": "x"})
	client := &scriptedLLM{rounds: []scriptedRound{
		{toolCalls: []llm.ToolCall{{ID: "tu_1", Name: ActionToolName("notify-regulator"), Input: input}}},
		{deltas: []string{"That action needs a human preview first."}},
	}}
	fx := newAgentFixture(t, client, notifyAction(""), Config{
		RequirePreviewCategories: []string{string(models.CategoryExternal)},
	})

	events, err := fx.agent.Chat(context.Background(), fx.actx, TurnRequest{Message: "notify"})
	if err != nil {
		t.Fatalf("Chat() error = %v", err)
	}
	got := collect(t, events)

	var executed *ActionExecutedEvent
	for _, evt := range got {
		if evt.Type == EventTypeActionExecuted {
			executed = evt.ActionExecuted
		}
	}
	if executed == nil || executed.Success {
		t.Fatalf("dispatch was not rejected: %+v", executed)
	}
	if executed.RecordID != "" {
		t.Errorf("preview-gated rejection created record %s", executed.RecordID)
	}
	if n := fx.records.byStatus(models.RecordStatusCompleted) + fx.records.byStatus(models.RecordStatusFailed); n != 0 {
		t.Errorf("records created despite preview gate: %d", n)
	}
}

func TestChatMetersUsageAcrossRounds(t *testing.T) {
	input, _ := json.Marshal(map[string]any{"reason": "x"})
	client := &scriptedLLM{rounds: []scriptedRound{
		{toolCalls: []llm.ToolCall{{ID: "tu_1", Name: ActionToolName("notify-regulator"), Input: input}}},
		{deltas: []string{"done"}},
	}}
	fx := newAgentFixture(t, client, notifyAction(""), Config{})

	events, err := fx.agent.Chat(context.Background(), fx.actx, TurnRequest{Message: "notify"})
	if err != nil {
		t.Fatalf("Chat() error = %v", err)
	}
	collect(t, events)

	fx.limiter.mu.Lock()
	defer fx.limiter.mu.Unlock()
	if fx.limiter.metered.TotalTokens != 30 {
		t.Errorf("metered tokens = %d, want 30 (two rounds of 15)", fx.limiter.metered.TotalTokens)
	}
}
