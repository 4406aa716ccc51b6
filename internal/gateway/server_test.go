package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/haasonsaas/valet/internal/notify"
	"github.com/haasonsaas/valet/internal/workflow"
)

// fakeWorkflows routes Run calls by name.
type fakeWorkflows struct {
	lastCtx map[string]any
}

func (f *fakeWorkflows) Run(ctx context.Context, name string, workflowCtx map[string]any) ([]workflow.StepResult, error) {
	f.lastCtx = workflowCtx
	switch name {
	case "deploy":
		return []workflow.StepResult{
			{Step: "build", Status: workflow.StepSuccess, Output: "built"},
		}, nil
	case "dark":
		return nil, &workflow.ErrWorkflowDisabled{Name: name}
	default:
		return nil, &workflow.ErrUnknownWorkflow{Name: name}
	}
}

func newTestServer(workflows WorkflowService, secret string) *Server {
	return NewServer(Config{
		Host:          "127.0.0.1",
		Port:          0,
		Version:       "test",
		WebhookSecret: secret,
	}, workflows, nil, nil, nil)
}

func postWebhook(t *testing.T, handler http.Handler, path, token, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestHealthEndpoint(t *testing.T) {
	handler := newTestServer(&fakeWorkflows{}, "").Handler()

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body["status"] != "ok" || body["version"] != "test" {
		t.Errorf("body = %v", body)
	}
}

func TestWebhookSuccess(t *testing.T) {
	workflows := &fakeWorkflows{}
	handler := newTestServer(workflows, "s3cret").Handler()

	rec := postWebhook(t, handler, "/webhooks/deploy", "s3cret", `{"branch":"main"}`)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var body struct {
		Status   string                `json:"status"`
		Workflow string                `json:"workflow"`
		Results  []workflow.StepResult `json:"results"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body.Status != "ok" || body.Workflow != "deploy" {
		t.Errorf("body = %+v", body)
	}
	if len(body.Results) != 1 || body.Results[0].Output != "built" {
		t.Errorf("results = %+v", body.Results)
	}

	// The JSON body became the workflow context.
	if workflows.lastCtx["branch"] != "main" {
		t.Errorf("workflow context = %v", workflows.lastCtx)
	}
}

func TestWebhookAuthFailures(t *testing.T) {
	handler := newTestServer(&fakeWorkflows{}, "s3cret").Handler()

	// Missing header.
	if rec := postWebhook(t, handler, "/webhooks/deploy", "", "{}"); rec.Code != http.StatusUnauthorized {
		t.Errorf("missing token status = %d, want 401", rec.Code)
	}

	// Wrong token.
	if rec := postWebhook(t, handler, "/webhooks/deploy", "wrong", "{}"); rec.Code != http.StatusForbidden {
		t.Errorf("bad token status = %d, want 403", rec.Code)
	}
}

func TestWebhookNoSecretSkipsAuth(t *testing.T) {
	handler := newTestServer(&fakeWorkflows{}, "").Handler()
	if rec := postWebhook(t, handler, "/webhooks/deploy", "", "{}"); rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
}

func TestWebhookUnknownWorkflow(t *testing.T) {
	handler := newTestServer(&fakeWorkflows{}, "").Handler()
	if rec := postWebhook(t, handler, "/webhooks/ghost", "", "{}"); rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestWebhookDisabledWorkflow(t *testing.T) {
	handler := newTestServer(&fakeWorkflows{}, "").Handler()
	if rec := postWebhook(t, handler, "/webhooks/dark", "", "{}"); rec.Code != http.StatusConflict {
		t.Errorf("status = %d, want 409", rec.Code)
	}
}

func TestWebhookWorkflowsUnwired(t *testing.T) {
	handler := newTestServer(nil, "").Handler()
	if rec := postWebhook(t, handler, "/webhooks/deploy", "", "{}"); rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", rec.Code)
	}
}

func TestWebhookRejectsBadMethodAndBody(t *testing.T) {
	handler := newTestServer(&fakeWorkflows{}, "").Handler()

	req := httptest.NewRequest(http.MethodGet, "/webhooks/deploy", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("GET status = %d, want 405", rec.Code)
	}

	if rec := postWebhook(t, handler, "/webhooks/deploy", "", "{not json"); rec.Code != http.StatusBadRequest {
		t.Errorf("bad body status = %d, want 400", rec.Code)
	}
}

func TestWebhookSuccessNotifiesDispatcher(t *testing.T) {
	var messages []string
	dispatcher := notify.NewDispatcher()
	dispatcher.AddSink(func(msg string) error {
		messages = append(messages, msg)
		return nil
	})

	server := NewServer(Config{Version: "test"}, &fakeWorkflows{}, dispatcher, nil, nil)
	rec := postWebhook(t, server.Handler(), "/webhooks/deploy", "", "{}")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	if len(messages) != 1 || !strings.Contains(messages[0], `Workflow "deploy" finished`) {
		t.Errorf("dispatcher messages = %v", messages)
	}
}
