// Package llm provides the model-provider abstraction for the
// investigation loop: provider-neutral message types, the Client
// interface, and adapters for Anthropic, Azure OpenAI, and OpenAI.
package llm

import "encoding/json"

// Roles in a conversation. RoleTool carries a function result back to
// the model and must reference the tool call it answers.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Message is one conversation turn.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
	// ToolCalls echoes the model's function requests on assistant
	// turns, so providers that require the request/result pairing
	// (all of them) can reconstruct it.
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
	// ToolCallID links a RoleTool message to the call it answers.
	ToolCallID string `json:"tool_call_id,omitempty"`
	// ToolName is the function name on RoleTool messages.
	ToolName string `json:"tool_name,omitempty"`
}

// ToolCall is a function invocation requested by the model.
type ToolCall struct {
	ID        string         `json:"id,omitempty"`
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

// ToolDefinition describes one callable function to the model.
// Parameters is a JSON-schema object in the map form used across the
// registry.
type ToolDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// Response is the model's answer for one round. Exactly one of
// FunctionCall and Text is set: a round either requests a function or
// concludes with a final answer, never both. Adapters enforce this by
// preferring the function call when a provider returns both.
type Response struct {
	FunctionCall *ToolCall
	Text         string
}

// ParseArguments decodes a JSON argument string into the map form.
// Malformed input yields an empty map rather than an error: a garbled
// argument payload downgrades to "no arguments" instead of killing the
// round.
func ParseArguments(raw string) map[string]any {
	if raw == "" {
		return map[string]any{}
	}
	var args map[string]any
	if err := json.Unmarshal([]byte(raw), &args); err != nil {
		return map[string]any{}
	}
	if args == nil {
		return map[string]any{}
	}
	return args
}
