package tools

import (
	"fmt"
	"time"

	json "github.com/goccy/go-json"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/jamesprial/netio-mcp/internal/safety"
)

// Audit outcomes recorded for a tool call.
const (
	OutcomeOK     = "ok"
	OutcomeDenied = "denied"
)

// JSONResult marshals v to indented JSON. A value with no JSON form yields an
// error result.
func JSONResult(v any) *mcp.CallToolResult {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return ErrorResult(fmt.Sprintf("marshaling result: %v", err))
	}
	return mcp.NewToolResultText(string(data))
}

// ErrorResult returns a result flagged as a tool error so clients can tell a
// refused or failed call from data.
func ErrorResult(msg string) *mcp.CallToolResult {
	result := mcp.NewToolResultText("error: " + msg)
	result.IsError = true
	return result
}

// LogAudit logs a tool invocation to the audit logger, silently ignoring a nil logger.
func LogAudit(audit *safety.AuditLogger, toolName string, params map[string]any, result string, start time.Time) {
	if audit == nil {
		return
	}
	_ = audit.Log(safety.AuditEntry{
		Timestamp: start,
		Tool:      toolName,
		Params:    params,
		Result:    result,
		Duration:  time.Since(start),
	})
}

// Invocation tracks one tool call so that every way out of a handler is
// audited exactly once with the call's parameters and duration.
type Invocation struct {
	audit  *safety.AuditLogger
	tool   string
	params map[string]any
	start  time.Time
}

// Begin starts timing a call of toolName. audit may be nil.
func Begin(audit *safety.AuditLogger, toolName string, params map[string]any) *Invocation {
	if params == nil {
		params = map[string]any{}
	}
	return &Invocation{audit: audit, tool: toolName, params: params, start: time.Now()}
}

// JSON records success and returns v as JSON.
func (c *Invocation) JSON(v any) *mcp.CallToolResult {
	LogAudit(c.audit, c.tool, c.params, OutcomeOK, c.start)
	return JSONResult(v)
}

// Text records success and returns msg.
func (c *Invocation) Text(msg string) *mcp.CallToolResult {
	LogAudit(c.audit, c.tool, c.params, OutcomeOK, c.start)
	return mcp.NewToolResultText(msg)
}

// Fail records err as the outcome and returns it as an error result.
func (c *Invocation) Fail(err error) *mcp.CallToolResult {
	LogAudit(c.audit, c.tool, c.params, "error: "+err.Error(), c.start)
	return ErrorResult(err.Error())
}

// Deny records a safety refusal. The reason goes to the caller only; the
// audit log keeps the fixed "denied" outcome.
func (c *Invocation) Deny(reason error) *mcp.CallToolResult {
	LogAudit(c.audit, c.tool, c.params, OutcomeDenied, c.start)
	return ErrorResult(reason.Error())
}

// ConfirmPrompt issues a confirmation token bound to toolName and target and
// returns the prompt result telling the caller how to proceed. Prompts are
// not audited; the confirmed call is.
func ConfirmPrompt(confirm *safety.ConfirmationTracker, toolName, target, description string) *mcp.CallToolResult {
	token := confirm.RequestConfirmation(toolName, target, description)
	return mcp.NewToolResultText(fmt.Sprintf(
		"Confirmation required for %s on %q.\n\n%s\n\n"+
			"To proceed, call %s again with the same arguments and confirmation_token=%q. "+
			"The token is single-use and expires in %s.",
		toolName, target, description, toolName, token, confirm.TTL(),
	))
}
