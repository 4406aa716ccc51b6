package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/haasonsaas/valet/internal/audit"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name       string
		tool       string
		input      map[string]any
		registered ActionCategory
		want       ActionCategory
	}{
		{"shell read", "shell_exec", map[string]any{"command": "ls -la /tmp"}, "", CategoryRead},
		{"shell write", "shell_exec", map[string]any{"command": "touch /tmp/x"}, "", CategoryWrite},
		{"shell delete", "shell_exec", map[string]any{"command": "rm -rf /tmp/x"}, "", CategoryDelete},
		{"shell empty", "shell_exec", map[string]any{"command": ""}, "", CategoryWrite},
		{"http get", "http_request", map[string]any{"method": "GET", "url": "https://example.com"}, "", CategoryNetworkRead},
		{"http default method", "http_request", map[string]any{"url": "https://example.com"}, "", CategoryNetworkRead},
		{"http post", "http_request", map[string]any{"method": "POST", "url": "https://example.com"}, "", CategoryNetworkWrite},
		{"web fetch", "web_fetch", map[string]any{"url": "https://example.com"}, "", CategoryNetworkRead},
		{"calendar list", "calendar", map[string]any{"action": "list"}, "", CategoryRead},
		{"calendar delete", "calendar", map[string]any{"action": "remove"}, "", CategoryDelete},
		{"memory write", "memory", map[string]any{"action": "store"}, "", CategoryWrite},
		{"registered category wins", "custom_tool", nil, CategoryNetworkRead, CategoryNetworkRead},
		{"unknown defaults to write", "mystery", nil, "", CategoryWrite},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := Classify(tt.tool, tt.input, tt.registered)
			if req.Category != tt.want {
				t.Errorf("Classify(%s) category = %s, want %s", tt.tool, req.Category, tt.want)
			}
		})
	}
}

func TestAutoAllowed(t *testing.T) {
	allowed := []ActionCategory{CategoryRead, CategoryNetworkRead}
	denied := []ActionCategory{CategoryWrite, CategoryDelete, CategoryNetworkWrite}

	for _, c := range allowed {
		if !c.AutoAllowed() {
			t.Errorf("%s should auto-allow", c)
		}
	}
	for _, c := range denied {
		if c.AutoAllowed() {
			t.Errorf("%s should not auto-allow", c)
		}
	}
}

func TestCheckAutoAllowsReadsWithoutApprover(t *testing.T) {
	// An approver that fails the test proves it was never consulted.
	tripwire := func(ctx context.Context, req *PermissionRequest) bool {
		t.Errorf("approver consulted for %s/%s", req.ToolName, req.Category)
		return false
	}
	m := NewPermissionManager(tripwire, true, nil, nil)

	for _, category := range []ActionCategory{CategoryRead, CategoryNetworkRead} {
		req := &PermissionRequest{ToolName: "probe", Category: category}
		if !m.Check(context.Background(), req, nil) {
			t.Errorf("category %s denied, want auto-allow", category)
		}
	}
}

func TestCheckConsultsApproverForWrites(t *testing.T) {
	m := NewPermissionManager(DenyAll, true, nil, nil)
	req := &PermissionRequest{ToolName: "probe", Category: CategoryWrite}
	if m.Check(context.Background(), req, nil) {
		t.Error("write allowed by DenyAll approver")
	}

	if !m.Check(context.Background(), req, AutoApprove) {
		t.Error("override approver not consulted")
	}
}

func TestCheckNilApproverDenies(t *testing.T) {
	m := NewPermissionManager(nil, true, nil, nil)
	req := &PermissionRequest{ToolName: "probe", Category: CategoryDelete}
	if m.Check(context.Background(), req, nil) {
		t.Error("delete allowed with no approver")
	}
}

func TestCheckRecordsApproverVerdicts(t *testing.T) {
	var buf bytes.Buffer
	auditLog := audit.NewWriterLogger(&buf, nil)

	grant := true
	approver := func(ctx context.Context, req *PermissionRequest) bool { return grant }
	m := NewPermissionManager(approver, true, auditLog, nil)

	// Auto-allowed reads never reach the approver and leave no decision entry.
	m.Check(context.Background(), &PermissionRequest{ToolName: "notes_read", Category: CategoryRead}, nil)

	m.Check(context.Background(), &PermissionRequest{ToolName: "notes_write", Category: CategoryWrite}, nil)
	grant = false
	m.Check(context.Background(), &PermissionRequest{ToolName: "notes_purge", Category: CategoryDelete}, nil)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("got %d audit lines, want 2: %q", len(lines), buf.String())
	}

	var entries []audit.Entry
	for _, line := range lines {
		var e audit.Entry
		if err := json.Unmarshal([]byte(line), &e); err != nil {
			t.Fatalf("bad audit line %q: %v", line, err)
		}
		if e.EventType != audit.EventPermissionDecision {
			t.Errorf("event_type = %s", e.EventType)
		}
		entries = append(entries, e)
	}
	if entries[0].ToolName != "notes_write" || entries[0].Output != "allowed" {
		t.Errorf("granted verdict = %+v", entries[0])
	}
	if entries[1].ToolName != "notes_purge" || entries[1].Output != "denied" {
		t.Errorf("denied verdict = %+v", entries[1])
	}
}
