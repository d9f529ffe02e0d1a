package llm

import (
	"context"
	"fmt"
	"strings"
)

// RulesClient is a deterministic, offline provider. It follows a fixed
// investigation ordering (discover subscriptions, then analyze the
// error pattern, then conclude) so the service runs with no API
// credentials and end-to-end tests stay hermetic.
type RulesClient struct{}

// NewRulesClient returns the rule-based provider.
func NewRulesClient() *RulesClient { return &RulesClient{} }

// Complete inspects the conversation so far and either requests the
// next function in the fixed ordering or concludes.
func (c *RulesClient) Complete(ctx context.Context, messages []Message, tools []ToolDefinition) (*Response, error) {
	description := ""
	called := map[string]int{}
	calls := 0

	for _, m := range messages {
		if m.Role == RoleUser && description == "" && len(m.ToolCalls) == 0 && m.ToolCallID == "" {
			description = strings.ToLower(m.Content)
		}
		for _, tc := range m.ToolCalls {
			called[tc.Name]++
			calls++
		}
	}

	request := func(name string, args map[string]any) *Response {
		return &Response{FunctionCall: &ToolCall{
			ID:        fmt.Sprintf("call_%d", calls+1),
			Name:      name,
			Arguments: args,
		}}
	}

	switch {
	case strings.Contains(description, "storage") && called["get_azure_resource_status"] == 0 && called["get_subscriptions"] == 0:
		return request("get_subscriptions", map[string]any{}), nil
	case strings.Contains(description, "app service") || strings.Contains(description, "web"):
		if called["get_subscriptions"] == 0 {
			return request("get_subscriptions", map[string]any{}), nil
		}
		if called["analyze_error_pattern"] == 0 {
			return request("analyze_error_pattern", map[string]any{"error_text": description}), nil
		}
	case calls == 0:
		return request("get_subscriptions", map[string]any{}), nil
	case calls == 1 && called["analyze_error_pattern"] == 0:
		return request("analyze_error_pattern", map[string]any{"error_text": description}), nil
	}

	return &Response{Text: "Based on my analysis, I have identified the issue and can provide recommendations."}, nil
}
