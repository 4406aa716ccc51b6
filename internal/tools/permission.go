package tools

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/haasonsaas/valet/internal/audit"
)

// ActionCategory classifies a tool call's side-effect surface.
type ActionCategory string

const (
	CategoryRead         ActionCategory = "read"
	CategoryWrite        ActionCategory = "write"
	CategoryDelete       ActionCategory = "delete"
	CategoryNetworkRead  ActionCategory = "network_read"
	CategoryNetworkWrite ActionCategory = "network_write"
)

// AutoAllowed reports whether the category passes without an approver.
func (c ActionCategory) AutoAllowed() bool {
	return c == CategoryRead || c == CategoryNetworkRead
}

// PermissionRequest describes one pending tool call for an approver.
// Created per call, consumed by the approver or auto-decided, then discarded.
type PermissionRequest struct {
	ToolName    string
	Category    ActionCategory
	Details     string
	Description string
}

// Approver decides a permission request. Implementations that time out MUST
// return false.
type Approver func(ctx context.Context, req *PermissionRequest) bool

// AutoApprove allows everything; used for background agent runs.
func AutoApprove(context.Context, *PermissionRequest) bool { return true }

// DenyAll refuses everything; used in tests and as the safe default.
func DenyAll(context.Context, *PermissionRequest) bool { return false }

// readOnlyShellPrefixes are shell commands classified as read.
var readOnlyShellPrefixes = map[string]bool{
	"ls": true, "cat": true, "head": true, "tail": true, "pwd": true,
	"echo": true, "grep": true, "find": true, "which": true, "date": true,
	"whoami": true, "df": true, "du": true, "ps": true, "wc": true,
	"stat": true, "file": true, "env": true,
}

// deleteShellPrefixes are shell commands classified as delete.
var deleteShellPrefixes = map[string]bool{
	"rm": true, "rmdir": true, "unlink": true, "shred": true,
}

// Classify maps (tool name, input) to a permission request. A handful of
// built-in names have bespoke rules; everything else uses the category the
// tool declared at registration (fallback when the tool is unknown: write).
func Classify(name string, input map[string]any, registered ActionCategory) *PermissionRequest {
	req := &PermissionRequest{
		ToolName: name,
		Category: registered,
	}
	if req.Category == "" {
		req.Category = CategoryWrite
	}

	switch name {
	case "shell_exec", "shell":
		command := stringField(input, "command")
		req.Category = classifyShellCommand(command)
		req.Details = command
		req.Description = fmt.Sprintf("Run shell command: %s", command)

	case "http_request":
		method := strings.ToUpper(stringField(input, "method"))
		url := stringField(input, "url")
		if method == "" || method == "GET" || method == "HEAD" {
			req.Category = CategoryNetworkRead
		} else {
			req.Category = CategoryNetworkWrite
		}
		req.Details = method + " " + url
		req.Description = fmt.Sprintf("HTTP %s to %s", method, url)

	case "web_fetch", "web_search":
		req.Category = CategoryNetworkRead
		req.Details = stringField(input, "url") + stringField(input, "query")
		req.Description = "Fetch web content"

	case "calendar", "memory", "skills":
		action := strings.ToLower(stringField(input, "action"))
		req.Category = classifyAction(action)
		req.Details = action
		req.Description = fmt.Sprintf("%s %s", name, action)

	default:
		req.Description = fmt.Sprintf("Execute tool %s", name)
	}

	return req
}

func classifyShellCommand(command string) ActionCategory {
	fields := strings.Fields(strings.TrimSpace(command))
	if len(fields) == 0 {
		return CategoryWrite
	}
	prefix := fields[0]
	switch {
	case deleteShellPrefixes[prefix]:
		return CategoryDelete
	case readOnlyShellPrefixes[prefix]:
		return CategoryRead
	default:
		return CategoryWrite
	}
}

func classifyAction(action string) ActionCategory {
	switch action {
	case "list", "get", "search", "read", "show":
		return CategoryRead
	case "delete", "remove", "clear":
		return CategoryDelete
	default:
		return CategoryWrite
	}
}

func stringField(input map[string]any, key string) string {
	if input == nil {
		return ""
	}
	if v, ok := input[key].(string); ok {
		return v
	}
	return ""
}

// PermissionManager gates tool calls. Read categories short-circuit without
// consulting the approver; everything else awaits it.
type PermissionManager struct {
	approver         Approver
	autoApproveReads bool
	audit            *audit.Logger
	logger           *slog.Logger
}

// NewPermissionManager builds a manager. A nil approver denies everything
// that is not auto-allowed; approver verdicts are recorded on auditLog.
func NewPermissionManager(approver Approver, autoApproveReads bool, auditLog *audit.Logger, logger *slog.Logger) *PermissionManager {
	if auditLog == nil {
		auditLog = audit.Nop()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &PermissionManager{
		approver:         approver,
		autoApproveReads: autoApproveReads,
		audit:            auditLog,
		logger:           logger,
	}
}

// Check decides the request, optionally with an approver override for this
// call. Returns the verdict. Every decision that reaches the approver path is
// written to the audit log; auto-allowed reads are not.
func (m *PermissionManager) Check(ctx context.Context, req *PermissionRequest, override Approver) bool {
	if req.Category.AutoAllowed() && m.autoApproveReads {
		return true
	}

	approver := m.approver
	if override != nil {
		approver = override
	}
	if approver == nil {
		m.logger.Debug("no approver configured, denying", "tool", req.ToolName, "category", req.Category)
		m.audit.PermissionDecision(req.ToolName, string(req.Category), false)
		return false
	}
	allowed := approver(ctx, req)
	m.audit.PermissionDecision(req.ToolName, string(req.Category), allowed)
	return allowed
}
