package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

const defaultAnthropicModel = "claude-sonnet-4-20250514"

// anthropicMessages is the slice of the Anthropic SDK used by the
// adapter. *sdk.MessageService satisfies it; tests pass a fake.
type anthropicMessages interface {
	New(ctx context.Context, body sdk.MessageNewParams, opts ...option.RequestOption) (*sdk.Message, error)
}

// AnthropicClient adapts the Anthropic Messages API to Client.
type AnthropicClient struct {
	messages anthropicMessages
	model    string
	logger   *slog.Logger
}

// NewAnthropicClient builds an adapter around the Anthropic SDK.
func NewAnthropicClient(apiKey, model string, logger *slog.Logger) (*AnthropicClient, error) {
	if apiKey == "" {
		return nil, errors.New("anthropic: api key is required")
	}
	if model == "" {
		model = defaultAnthropicModel
	}
	if logger == nil {
		logger = slog.Default()
	}
	ac := sdk.NewClient(option.WithAPIKey(apiKey))
	return &AnthropicClient{messages: &ac.Messages, model: model, logger: logger}, nil
}

// Complete sends one round to the Messages API. Tool-use blocks in the
// response win over text blocks, upholding the one-of contract.
func (c *AnthropicClient) Complete(ctx context.Context, messages []Message, tools []ToolDefinition) (*Response, error) {
	params, err := c.encodeRequest(messages, tools)
	if err != nil {
		return nil, err
	}

	msg, err := c.messages.New(ctx, *params)
	if err != nil {
		return nil, fmt.Errorf("anthropic messages.new: %w", err)
	}

	resp := &Response{}
	for _, block := range msg.Content {
		switch block.Type {
		case "tool_use":
			args := map[string]any{}
			if len(block.Input) > 0 {
				if err := json.Unmarshal(block.Input, &args); err != nil {
					c.logger.Warn("unparseable tool_use input, treating as empty", "tool", block.Name)
					args = map[string]any{}
				}
			}
			resp.FunctionCall = &ToolCall{ID: block.ID, Name: block.Name, Arguments: args}
		case "text":
			resp.Text += block.Text
		}
	}
	if resp.FunctionCall != nil {
		resp.Text = ""
	}
	return resp, nil
}

func (c *AnthropicClient) encodeRequest(messages []Message, tools []ToolDefinition) (*sdk.MessageNewParams, error) {
	var system []sdk.TextBlockParam
	var conversation []sdk.MessageParam

	for _, m := range messages {
		switch m.Role {
		case RoleSystem:
			system = append(system, sdk.TextBlockParam{Text: m.Content})
		case RoleUser:
			conversation = append(conversation, sdk.NewUserMessage(sdk.NewTextBlock(m.Content)))
		case RoleAssistant:
			var blocks []sdk.ContentBlockParamUnion
			if m.Content != "" {
				blocks = append(blocks, sdk.NewTextBlock(m.Content))
			}
			for _, tc := range m.ToolCalls {
				blocks = append(blocks, sdk.NewToolUseBlock(tc.ID, tc.Arguments, tc.Name))
			}
			if len(blocks) == 0 {
				continue
			}
			conversation = append(conversation, sdk.NewAssistantMessage(blocks...))
		case RoleTool:
			conversation = append(conversation, sdk.NewUserMessage(
				sdk.NewToolResultBlock(m.ToolCallID, m.Content, false),
			))
		default:
			return nil, fmt.Errorf("anthropic: unsupported message role %q", m.Role)
		}
	}
	if len(conversation) == 0 {
		return nil, errors.New("anthropic: at least one user message is required")
	}

	params := &sdk.MessageNewParams{
		Model:     sdk.Model(c.model),
		MaxTokens: 4096,
		Messages:  conversation,
	}
	if len(system) > 0 {
		params.System = system
	}

	for _, def := range tools {
		u := sdk.ToolUnionParamOfTool(sdk.ToolInputSchemaParam{ExtraFields: def.Parameters}, def.Name)
		if u.OfTool != nil {
			u.OfTool.Description = sdk.String(def.Description)
		}
		params.Tools = append(params.Tools, u)
	}

	return params, nil
}
