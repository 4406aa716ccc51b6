package multiagent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/haasonsaas/valet/internal/agent"
	"github.com/haasonsaas/valet/internal/tools"
	"github.com/haasonsaas/valet/pkg/models"
)

// fakeProvider replays one scripted event sequence per round and records the
// requests it saw. Safe for concurrent runs.
type fakeProvider struct {
	mu       sync.Mutex
	rounds   [][]agent.StreamEvent
	requests []*agent.Request
}

func (p *fakeProvider) Name() string          { return "fake" }
func (p *fakeProvider) Models() []agent.Model { return nil }

func (p *fakeProvider) Stream(ctx context.Context, req *agent.Request) (<-chan agent.StreamEvent, error) {
	p.mu.Lock()
	p.requests = append(p.requests, req)
	round := len(p.requests) - 1
	p.mu.Unlock()
	if round >= len(p.rounds) {
		round = len(p.rounds) - 1
	}
	events := p.rounds[round]

	out := make(chan agent.StreamEvent, len(events))
	for _, ev := range events {
		out <- ev
	}
	close(out)
	return out, nil
}

func newFakeRouter(provider agent.Provider) *agent.Router {
	r := agent.NewRouter("fake", "fake-model")
	r.RegisterProvider("fake", func() (agent.Provider, error) { return provider, nil })
	return r
}

func newEchoRegistry(t *testing.T) *tools.Registry {
	t.Helper()
	perms := tools.NewPermissionManager(nil, true, nil, nil)
	registry := tools.NewRegistry(perms, tools.NewSanitizer(""), nil, nil)
	registry.Register(tools.Definition{
		Name:        "echo",
		Description: "Echoes text.",
		Category:    tools.CategoryRead,
		Handler: func(ctx context.Context, input map[string]any) (string, error) {
			text, _ := input["text"].(string)
			return "Echo: " + text, nil
		},
	})
	return registry
}

func TestRunnerForegroundDelegation(t *testing.T) {
	call := models.ToolCall{ID: "c1", Name: "echo", Input: json.RawMessage(`{"text":"hi"}`)}
	provider := &fakeProvider{rounds: [][]agent.StreamEvent{
		{
			agent.ToolUseStart("echo"),
			agent.ToolUseComplete(&call),
		},
		{
			agent.TextDelta("The echo said hi."),
			agent.MessageComplete("The echo said hi."),
		},
	}}

	runner := NewRunner(newFakeRouter(provider), newEchoRegistry(t), "", nil)
	def := &AgentDefinition{Name: "echo", AllowedTools: []string{"echo"}}

	result := runner.Run(context.Background(), def, "say hi", "", nil)

	if result.Err != "" {
		t.Fatalf("unexpected error: %s", result.Err)
	}
	if result.Response != "The echo said hi." {
		t.Errorf("response = %q", result.Response)
	}
	if len(result.ToolCallsMade) != 1 || result.ToolCallsMade[0].Name != "echo" {
		t.Errorf("tool calls made = %+v", result.ToolCallsMade)
	}

	// The echo result fed the second round.
	secondRound := provider.requests[1].Messages
	toolResults := secondRound[len(secondRound)-1].ToolResults
	if len(toolResults) != 1 || toolResults[0].Content != "Echo: hi" {
		t.Errorf("tool results = %+v", toolResults)
	}
}

func TestRunnerBuildsPromptAndContext(t *testing.T) {
	provider := &fakeProvider{rounds: [][]agent.StreamEvent{{agent.MessageComplete("ok")}}}
	runner := NewRunner(newFakeRouter(provider), newEchoRegistry(t), "Base rules.", nil)
	def := &AgentDefinition{Name: "scout", SystemPrompt: "You scout ahead."}

	runner.Run(context.Background(), def, "find the path", "forest map", nil)

	req := provider.requests[0]
	if !strings.Contains(req.System, "Base rules.") {
		t.Error("base system prompt missing")
	}
	if !strings.Contains(req.System, "# Agent Role: scout") {
		t.Errorf("agent role header missing from %q", req.System)
	}
	wantContent := "Context:\nforest map\n\nTask:\nfind the path"
	if req.Messages[0].Content != wantContent {
		t.Errorf("content = %q, want %q", req.Messages[0].Content, wantContent)
	}
}

func TestRunnerScopesTools(t *testing.T) {
	provider := &fakeProvider{rounds: [][]agent.StreamEvent{{agent.MessageComplete("ok")}}}
	registry := newEchoRegistry(t)
	registry.Register(tools.Definition{
		Name:     "delegate_to_agent",
		Category: tools.CategoryRead,
		Handler:  func(ctx context.Context, input map[string]any) (string, error) { return "", nil },
	})
	registry.Register(tools.Definition{
		Name:     "shell",
		Category: tools.CategoryWrite,
		Handler:  func(ctx context.Context, input map[string]any) (string, error) { return "", nil },
	})

	runner := NewRunner(newFakeRouter(provider), registry, "", nil)
	def := &AgentDefinition{Name: "limited", DeniedTools: []string{"shell"}}

	runner.Run(context.Background(), def, "work", "", nil)

	var names []string
	for _, spec := range provider.requests[0].Tools {
		names = append(names, spec.Name)
	}
	if fmt.Sprint(names) != fmt.Sprint([]string{"echo"}) {
		t.Errorf("scoped tools = %v, want [echo] (delegation and denied tools removed)", names)
	}
}

func TestRunnerRejectsOutOfScopeCall(t *testing.T) {
	call := models.ToolCall{ID: "c1", Name: "shell", Input: json.RawMessage(`{"command":"ls"}`)}
	provider := &fakeProvider{rounds: [][]agent.StreamEvent{
		{agent.ToolUseComplete(&call)},
		{agent.MessageComplete("done")},
	}}

	runner := NewRunner(newFakeRouter(provider), newEchoRegistry(t), "", nil)
	def := &AgentDefinition{Name: "echo", AllowedTools: []string{"echo"}}

	runner.Run(context.Background(), def, "misbehave", "", nil)

	secondRound := provider.requests[1].Messages
	results := secondRound[len(secondRound)-1].ToolResults
	if len(results) != 1 {
		t.Fatalf("tool results = %+v", results)
	}
	if !results[0].IsError {
		t.Error("out-of-scope call not flagged as error")
	}
	want := "Tool 'shell' is not available to this agent."
	if results[0].Content != want {
		t.Errorf("content = %q, want %q", results[0].Content, want)
	}
}

func TestRunnerSurfacesStreamError(t *testing.T) {
	provider := &fakeProvider{rounds: [][]agent.StreamEvent{{
		agent.ErrorEvent(fmt.Errorf("upstream down")),
	}}}
	runner := NewRunner(newFakeRouter(provider), newEchoRegistry(t), "", nil)

	result := runner.Run(context.Background(), &AgentDefinition{Name: "x"}, "task", "", nil)
	if result.Err == "" || !strings.Contains(result.Err, "upstream down") {
		t.Errorf("error not surfaced: %+v", result)
	}
}
