package multiagent

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/haasonsaas/valet/internal/agent"
	"github.com/haasonsaas/valet/internal/tools"
)

func newTestOrchestrator(t *testing.T, provider agent.Provider) (*Orchestrator, *tools.Registry) {
	t.Helper()
	loader := NewLoader(t.TempDir(), nil)
	loader.Put(&AgentDefinition{Name: "echo", Description: "Echoes.", AllowedTools: []string{"echo"}})

	registry := newEchoRegistry(t)
	runner := NewRunner(newFakeRouter(provider), registry, "", nil)
	o := NewOrchestrator(loader, runner, NewTaskManager(10), nil)
	o.RegisterTools(registry)
	return o, registry
}

func TestOrchestratorRegistersDelegationTools(t *testing.T) {
	provider := &fakeProvider{rounds: [][]agent.StreamEvent{{agent.MessageComplete("ok")}}}
	_, registry := newTestOrchestrator(t, provider)

	for _, name := range []string{"list_agents", "delegate_to_agent", "delegate_parallel", "task_status"} {
		def, ok := registry.Get(name)
		if !ok {
			t.Errorf("%s not registered", name)
			continue
		}
		if def.Category != tools.CategoryRead {
			t.Errorf("%s category = %s, want %s", name, def.Category, tools.CategoryRead)
		}
	}
}

func TestListAgents(t *testing.T) {
	provider := &fakeProvider{rounds: [][]agent.StreamEvent{{agent.MessageComplete("ok")}}}
	o, _ := newTestOrchestrator(t, provider)

	out, err := o.handleListAgents(context.Background(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "echo: Echoes.") {
		t.Errorf("list output = %q", out)
	}
}

func TestDelegateForeground(t *testing.T) {
	provider := &fakeProvider{rounds: [][]agent.StreamEvent{{agent.MessageComplete("agent says hi")}}}
	o, _ := newTestOrchestrator(t, provider)

	out, err := o.handleDelegate(context.Background(), map[string]any{
		"agent_name": "echo",
		"task":       "say hi",
	})
	if err != nil {
		t.Fatal(err)
	}
	if out != "agent says hi" {
		t.Errorf("response = %q", out)
	}
}

func TestDelegateDepthBoundary(t *testing.T) {
	provider := &fakeProvider{rounds: [][]agent.StreamEvent{{agent.MessageComplete("ok")}}}
	o, _ := newTestOrchestrator(t, provider)
	input := map[string]any{"agent_name": "echo", "task": "go"}

	// At depth MAX-1 the next hop lands exactly on the limit.
	atLimit := WithDepth(context.Background(), MaxDelegationDepth-1)
	if _, err := o.handleDelegate(atLimit, input); err != nil {
		t.Errorf("delegation at limit failed: %v", err)
	}

	// One level deeper must be rejected.
	overLimit := WithDepth(context.Background(), MaxDelegationDepth)
	if _, err := o.handleDelegate(overLimit, input); err == nil {
		t.Error("delegation past limit succeeded")
	}
}

func TestDelegateUnknownAgent(t *testing.T) {
	provider := &fakeProvider{rounds: [][]agent.StreamEvent{{agent.MessageComplete("ok")}}}
	o, _ := newTestOrchestrator(t, provider)

	_, err := o.handleDelegate(context.Background(), map[string]any{
		"agent_name": "ghost",
		"task":       "boo",
	})
	if err == nil || !strings.Contains(err.Error(), "unknown agent") {
		t.Errorf("err = %v", err)
	}
}

func TestDelegateParallelPreservesOrder(t *testing.T) {
	provider := &fakeProvider{rounds: [][]agent.StreamEvent{{agent.MessageComplete("ok")}}}
	o, _ := newTestOrchestrator(t, provider)

	out, err := o.handleDelegateParallel(context.Background(), map[string]any{
		"tasks": []any{
			map[string]any{"agent_name": "echo", "task": "one"},
			map[string]any{"agent_name": "ghost", "task": "two"},
			map[string]any{"agent_name": "echo", "task": "three"},
		},
	})
	if err != nil {
		t.Fatal(err)
	}

	var results []AgentResult
	if err := json.Unmarshal([]byte(out), &results); err != nil {
		t.Fatalf("output not JSON: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("got %d results, want 3", len(results))
	}
	wantNames := []string{"echo", "ghost", "echo"}
	for i, r := range results {
		if r.AgentName != wantNames[i] {
			t.Errorf("results[%d].agent = %s, want %s", i, r.AgentName, wantNames[i])
		}
	}
	if results[1].Err == "" {
		t.Error("unknown agent in fan-out did not error")
	}
	if results[0].Response != "ok" || results[2].Response != "ok" {
		t.Errorf("fan-out responses = %+v", results)
	}
}

func TestDelegateBackground(t *testing.T) {
	provider := &fakeProvider{rounds: [][]agent.StreamEvent{{agent.MessageComplete("background result")}}}
	o, _ := newTestOrchestrator(t, provider)

	var mu sync.Mutex
	var delivered []string
	ctx := WithDelivery(context.Background(), func(msg string) {
		mu.Lock()
		delivered = append(delivered, msg)
		mu.Unlock()
	})

	out, err := o.handleDelegate(ctx, map[string]any{
		"agent_name": "echo",
		"task":       "work late",
		"background": true,
	})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(out, "Background task started: ") {
		t.Fatalf("start message = %q", out)
	}
	id := strings.TrimPrefix(out, "Background task started: ")
	id = id[:8]

	deadline := time.After(2 * time.Second)
	for {
		mu.Lock()
		n := len(delivered)
		mu.Unlock()
		if n > 0 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("delivery callback never invoked")
		case <-time.After(10 * time.Millisecond):
		}
	}

	mu.Lock()
	msg := delivered[0]
	mu.Unlock()
	wantPrefix := "Background task " + id + " (echo) completed"
	if !strings.HasPrefix(msg, wantPrefix) {
		t.Errorf("delivery = %q, want prefix %q", msg, wantPrefix)
	}

	task, ok := o.Tasks().Get(id)
	if !ok {
		t.Fatal("task not resident")
	}
	if task.Status != TaskDone || task.Result != "background result" {
		t.Errorf("task = %+v", task)
	}
}

func TestTaskStatus(t *testing.T) {
	provider := &fakeProvider{rounds: [][]agent.StreamEvent{{agent.MessageComplete("ok")}}}
	o, _ := newTestOrchestrator(t, provider)

	if out, err := o.handleTaskStatus(context.Background(), map[string]any{}); err != nil || out != "No background tasks." {
		t.Errorf("empty status = %q, %v", out, err)
	}

	task := o.Tasks().Create("echo", "probe", nil)
	out, err := o.handleTaskStatus(context.Background(), map[string]any{"task_id": task.ID})
	if err != nil {
		t.Fatal(err)
	}
	var got BackgroundTask
	if err := json.Unmarshal([]byte(out), &got); err != nil {
		t.Fatalf("status not JSON: %v", err)
	}
	if got.ID != task.ID || got.Status != TaskPending {
		t.Errorf("status = %+v", got)
	}

	if _, err := o.handleTaskStatus(context.Background(), map[string]any{"task_id": "ffffffff"}); err == nil {
		t.Error("unknown task id did not error")
	}
}
