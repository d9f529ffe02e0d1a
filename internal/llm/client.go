package llm

import "context"

// Client is the interface all model providers implement.
type Client interface {
	// Complete sends the conversation and the function catalogue and
	// returns either a function-call request or a final text answer.
	Complete(ctx context.Context, messages []Message, tools []ToolDefinition) (*Response, error)
}
