package core

import (
	"encoding/json"
	"fmt"
)

// Role tags a conversation message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Message is one entry of a stage conversation or of the shared
// conversation log. An assistant message carries either Content or a
// non-empty ToolRequests batch; a tool message answers exactly one request.
type Message struct {
	Role         Role          `json:"role"`
	Content      string        `json:"content,omitempty"`
	Stage        StageName     `json:"stage,omitempty"`
	ToolRequests []ToolRequest `json:"tool_requests,omitempty"`
	ToolCallID   string        `json:"tool_call_id,omitempty"`
	ToolName     string        `json:"tool_name,omitempty"`
	Status       ResultStatus  `json:"status,omitempty"`
}

// HasToolRequests reports whether the message asks for tool invocations.
func (m Message) HasToolRequests() bool {
	return len(m.ToolRequests) > 0
}

// SystemMessage builds a system prompt message.
func SystemMessage(content string) Message {
	return Message{Role: RoleSystem, Content: content}
}

// UserMessage builds a user message.
func UserMessage(content string) Message {
	return Message{Role: RoleUser, Content: content}
}

// AssistantMessage builds a final assistant text message.
func AssistantMessage(content string) Message {
	return Message{Role: RoleAssistant, Content: content}
}

// ToolRequest is a single tool invocation requested by the reasoning engine.
type ToolRequest struct {
	ID   string         `json:"id"`
	Name string         `json:"name"`
	Args map[string]any `json:"args,omitempty"`
	// ArgsError records why the raw arguments could not be decoded.
	ArgsError string `json:"args_error,omitempty"`
}

// StringArg returns a string argument or "" when absent or mistyped.
func (r ToolRequest) StringArg(key string) string {
	if v, ok := r.Args[key].(string); ok {
		return v
	}
	return ""
}

// ResultStatus is the explicit outcome of a tool invocation.
type ResultStatus string

const (
	StatusOK     ResultStatus = "ok"
	StatusFailed ResultStatus = "failed"
)

// ToolResult is the structured response to a ToolRequest. Consumers branch
// on Status; Payload is free text meant for the reasoning engine.
type ToolResult struct {
	ID      string       `json:"id"`
	Name    string       `json:"name"`
	Status  ResultStatus `json:"status"`
	Payload string       `json:"payload"`
	// Code is set for failures synthesized outside the tool itself, such as
	// an unknown tool name or arguments rejected by the input schema.
	Code string `json:"code,omitempty"`
	// Data carries tool-specific structured output (metrics, compile flags).
	Data any `json:"data,omitempty"`
	// Request echoes the originating request so stage merge rules can read
	// the arguments (for example the content of a file write).
	Request ToolRequest `json:"-"`
}

// OK reports whether the tool succeeded.
func (r ToolResult) OK() bool {
	return r.Status == StatusOK
}

// Message converts the result into a tool message tagged with the request id.
func (r ToolResult) Message() Message {
	return Message{
		Role:       RoleTool,
		Content:    r.Payload,
		ToolCallID: r.ID,
		ToolName:   r.Name,
		Status:     r.Status,
	}
}

// String renders the result for logs and error_logs entries.
func (r ToolResult) String() string {
	return fmt.Sprintf("%s [%s]: %s", r.Name, r.Status, r.Payload)
}

// OKResult builds a successful result for req.
func OKResult(req ToolRequest, payload string, data any) ToolResult {
	return ToolResult{ID: req.ID, Name: req.Name, Status: StatusOK, Payload: payload, Data: data, Request: req}
}

// FailedResult builds a failed result for req.
func FailedResult(req ToolRequest, code, payload string) ToolResult {
	return ToolResult{ID: req.ID, Name: req.Name, Status: StatusFailed, Code: code, Payload: payload, Request: req}
}

// ToolSpec describes a tool to the reasoning engine.
type ToolSpec struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// Usage counts reasoning tokens.
type Usage struct {
	InputTokens  int64 `json:"input_tokens"`
	OutputTokens int64 `json:"output_tokens"`
	CachedTokens int64 `json:"cached_tokens"`
	TotalTokens  int64 `json:"total_tokens"`
}

// Add returns the sum of u and o.
func (u Usage) Add(o Usage) Usage {
	return Usage{
		InputTokens:  u.InputTokens + o.InputTokens,
		OutputTokens: u.OutputTokens + o.OutputTokens,
		CachedTokens: u.CachedTokens + o.CachedTokens,
		TotalTokens:  u.TotalTokens + o.TotalTokens,
	}
}

// IsZero reports whether no tokens were counted.
func (u Usage) IsZero() bool {
	return u == Usage{}
}

// Completion is one reasoning engine response.
type Completion struct {
	Message Message
	Usage   Usage
	Model   string
}

// ArgsJSON renders tool request arguments as compact JSON.
func ArgsJSON(args map[string]any) string {
	if len(args) == 0 {
		return "{}"
	}
	data, err := json.Marshal(args)
	if err != nil {
		return "{}"
	}
	return string(data)
}
