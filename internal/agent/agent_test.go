package agent

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/sirupsen/logrus/hooks/test"
)

type scriptedModel struct {
	mu       sync.Mutex
	replies  []Message
	requests []Request
	err      error
}

func (m *scriptedModel) Generate(_ context.Context, req Request) (Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = append(m.requests, Request{
		System:   req.System,
		Messages: append([]Message(nil), req.Messages...),
		Tools:    req.Tools,
	})
	if m.err != nil {
		return Message{}, m.err
	}
	if len(m.replies) == 0 {
		return AssistantMessage("done"), nil
	}
	reply := m.replies[0]
	m.replies = m.replies[1:]
	return reply, nil
}

type echoTool struct {
	name  string
	calls []map[string]any
	out   any
	err   error
}

func (t *echoTool) Name() string        { return t.name }
func (t *echoTool) Description() string { return "echoes its input" }
func (t *echoTool) Schema() *JSONSchema {
	return &JSONSchema{
		Type: "object",
		Properties: map[string]any{
			"value": map[string]any{"type": "string"},
		},
		Required: []string{"value"},
	}
}

func (t *echoTool) Execute(_ context.Context, args map[string]any) (any, error) {
	t.calls = append(t.calls, args)
	if t.err != nil {
		return nil, t.err
	}
	if t.out != nil {
		return t.out, nil
	}
	return args["value"], nil
}

func newTestAgent(t *testing.T, model Model, maxTurns int, tools ...Tool) *Agent {
	t.Helper()
	log, _ := test.NewNullLogger()
	a, err := New(Config{
		Name:     "tester",
		Prompt:   "be helpful",
		Model:    model,
		Tools:    tools,
		MaxTurns: maxTurns,
		Logger:   log,
	})
	if err != nil {
		t.Fatalf("new agent: %v", err)
	}
	return a
}

func TestRunReturnsFinalAnswerWithoutTools(t *testing.T) {
	model := &scriptedModel{replies: []Message{AssistantMessage("olá")}}
	a := newTestAgent(t, model, 0)

	res, err := a.Run(context.Background(), []Message{HumanMessage("oi")})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.Output != "olá" || res.Turns != 1 {
		t.Fatalf("unexpected result: %+v", res)
	}
	if len(res.Messages) != 1 || res.Messages[0].Role != RoleAssistant {
		t.Fatalf("messages = %+v", res.Messages)
	}
	if model.requests[0].System != "be helpful" {
		t.Fatalf("system prompt = %q", model.requests[0].System)
	}
}

func TestRunExecutesToolsAndFeedsResultsBack(t *testing.T) {
	tool := &echoTool{name: "echo"}
	model := &scriptedModel{replies: []Message{
		{Role: RoleAssistant, ToolCalls: []ToolCall{{ID: "c1", Name: "echo", Arguments: `{"value":"abc"}`}}},
		AssistantMessage("final"),
	}}
	a := newTestAgent(t, model, 0, tool)

	res, err := a.Run(context.Background(), []Message{HumanMessage("go")})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.Output != "final" || res.Turns != 2 {
		t.Fatalf("unexpected result: %+v", res)
	}
	if len(tool.calls) != 1 || tool.calls[0]["value"] != "abc" {
		t.Fatalf("tool calls = %+v", tool.calls)
	}
	if len(res.ToolCalls) != 1 || res.ToolCalls[0].Output != "abc" || res.ToolCalls[0].Failed() {
		t.Fatalf("records = %+v", res.ToolCalls)
	}

	second := model.requests[1].Messages
	last := second[len(second)-1]
	if last.Role != RoleTool || last.ToolCallID != "c1" || last.Name != "echo" || last.Content != "abc" {
		t.Fatalf("tool message = %+v", last)
	}
	if len(res.Messages) != 3 {
		t.Fatalf("expected 3 new messages, got %d", len(res.Messages))
	}
	if len(model.requests[0].Tools) != 1 || model.requests[0].Tools[0].Name != "echo" {
		t.Fatalf("tool specs = %+v", model.requests[0].Tools)
	}
}

func TestRunFailsOnUnknownTool(t *testing.T) {
	tool := &echoTool{name: "echo"}
	model := &scriptedModel{replies: []Message{
		{Role: RoleAssistant, ToolCalls: []ToolCall{
			{ID: "c1", Name: "echo", Arguments: `{"value":"x"}`},
			{ID: "c2", Name: "missing", Arguments: `{}`},
		}},
	}}
	a := newTestAgent(t, model, 0, tool)

	_, err := a.Run(context.Background(), []Message{HumanMessage("go")})
	if !errors.Is(err, ErrToolNotFound) {
		t.Fatalf("expected ErrToolNotFound, got %v", err)
	}
	var notFound *ToolNotFoundError
	if !errors.As(err, &notFound) || notFound.Name != "missing" {
		t.Fatalf("expected ToolNotFoundError for missing, got %v", err)
	}
	if len(tool.calls) != 0 {
		t.Fatalf("no tool should run when any requested tool is unknown")
	}
}

func TestRunStopsAtMaxTurns(t *testing.T) {
	call := Message{Role: RoleAssistant, ToolCalls: []ToolCall{{Name: "echo", Arguments: `{"value":"x"}`}}}
	model := &scriptedModel{replies: []Message{call, call, call, call}}
	a := newTestAgent(t, model, 2, &echoTool{name: "echo"})

	res, err := a.Run(context.Background(), nil)
	if !errors.Is(err, ErrMaxTurns) {
		t.Fatalf("expected ErrMaxTurns, got %v", err)
	}
	if res.Turns != 2 || len(model.requests) != 2 {
		t.Fatalf("turns = %d, requests = %d", res.Turns, len(model.requests))
	}
}

func TestRunTurnsToolFailuresIntoText(t *testing.T) {
	tests := []struct {
		name      string
		tool      *echoTool
		arguments string
		want      string
	}{
		{name: "execute error", tool: &echoTool{name: "echo", err: errors.New("store down")}, arguments: `{"value":"x"}`, want: "Error: store down"},
		{name: "bad json", tool: &echoTool{name: "echo"}, arguments: `{not json`, want: "Error: invalid arguments"},
		{name: "schema", tool: &echoTool{name: "echo"}, arguments: `{"value":1}`, want: "validation failed"},
		{name: "missing field", tool: &echoTool{name: "echo"}, arguments: `{}`, want: "missing required field: value"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			model := &scriptedModel{replies: []Message{
				{Role: RoleAssistant, ToolCalls: []ToolCall{{ID: "c1", Name: "echo", Arguments: tt.arguments}}},
				AssistantMessage("recovered"),
			}}
			a := newTestAgent(t, model, 0, tt.tool)

			res, err := a.Run(context.Background(), nil)
			if err != nil {
				t.Fatalf("run: %v", err)
			}
			if res.Output != "recovered" {
				t.Fatalf("output = %q", res.Output)
			}
			record := res.ToolCalls[0]
			if !record.Failed() || !strings.Contains(record.Output, tt.want) {
				t.Fatalf("record = %+v", record)
			}
		})
	}
}

func TestRunCoercesStructuredOutputToJSON(t *testing.T) {
	tool := &echoTool{name: "echo", out: map[string]any{"id": "1"}}
	model := &scriptedModel{replies: []Message{
		{Role: RoleAssistant, ToolCalls: []ToolCall{{ID: "c1", Name: "echo", Arguments: `{"value":"x"}`}}},
		AssistantMessage("ok"),
	}}
	a := newTestAgent(t, model, 0, tool)

	res, err := a.Run(context.Background(), nil)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.ToolCalls[0].Output != `{"id":"1"}` {
		t.Fatalf("output = %q", res.ToolCalls[0].Output)
	}
}

func TestRunSynthesizesMissingCallIDs(t *testing.T) {
	model := &scriptedModel{replies: []Message{
		{Role: RoleAssistant, ToolCalls: []ToolCall{{Name: "echo", Arguments: `{"value":"x"}`}}},
		AssistantMessage("ok"),
	}}
	a := newTestAgent(t, model, 0, &echoTool{name: "echo"})

	res, err := a.Run(context.Background(), nil)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	assistant := res.Messages[0]
	toolMsg := res.Messages[1]
	if !strings.HasPrefix(assistant.ToolCalls[0].ID, "call_") {
		t.Fatalf("id = %q", assistant.ToolCalls[0].ID)
	}
	if toolMsg.ToolCallID != assistant.ToolCalls[0].ID {
		t.Fatalf("tool message id %q does not match call %q", toolMsg.ToolCallID, assistant.ToolCalls[0].ID)
	}
}

func TestRunPropagatesModelErrors(t *testing.T) {
	model := &scriptedModel{err: errors.New("boom")}
	a := newTestAgent(t, model, 0)

	_, err := a.Run(context.Background(), []Message{HumanMessage("x")})
	if err == nil || !strings.Contains(err.Error(), "boom") {
		t.Fatalf("expected model error, got %v", err)
	}
}

func TestRunHonoursCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	a := newTestAgent(t, &scriptedModel{}, 0)

	if _, err := a.Run(ctx, nil); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestNewValidatesConfig(t *testing.T) {
	if _, err := New(Config{Model: &scriptedModel{}}); err == nil {
		t.Fatal("expected error for missing name")
	}
	if _, err := New(Config{Name: "x"}); err == nil {
		t.Fatal("expected error for missing model")
	}
	dup := &echoTool{name: "echo"}
	if _, err := New(Config{Name: "x", Model: &scriptedModel{}, Tools: []Tool{dup, dup}}); err == nil {
		t.Fatal("expected error for duplicate tool")
	}
}
