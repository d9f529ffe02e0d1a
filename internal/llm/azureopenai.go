package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/Azure/azure-sdk-for-go/sdk/ai/azopenai"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/to"
)

const openAIEndpoint = "https://api.openai.com/v1"

// OpenAIChatClient adapts Azure OpenAI chat completions to Client.
// The same adapter serves plain OpenAI: azopenai speaks both wire
// dialects, differing only in client construction.
type OpenAIChatClient struct {
	client     *azopenai.Client
	deployment string
	logger     *slog.Logger
}

// NewAzureOpenAIClient builds an adapter for an Azure OpenAI
// deployment (endpoint like https://<resource>.openai.azure.com).
func NewAzureOpenAIClient(endpoint, apiKey, deployment string, logger *slog.Logger) (*OpenAIChatClient, error) {
	if endpoint == "" || apiKey == "" || deployment == "" {
		return nil, errors.New("azure openai: endpoint, api key, and deployment are required")
	}
	client, err := azopenai.NewClientWithKeyCredential(endpoint, azcore.NewKeyCredential(apiKey), nil)
	if err != nil {
		return nil, fmt.Errorf("azure openai client: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &OpenAIChatClient{client: client, deployment: deployment, logger: logger}, nil
}

// NewOpenAIClient builds an adapter for the public OpenAI API. The
// model name takes the place of the Azure deployment name.
func NewOpenAIClient(apiKey, model string, logger *slog.Logger) (*OpenAIChatClient, error) {
	if apiKey == "" {
		return nil, errors.New("openai: api key is required")
	}
	if model == "" {
		model = "gpt-4o"
	}
	client, err := azopenai.NewClientForOpenAI(openAIEndpoint, azcore.NewKeyCredential(apiKey), nil)
	if err != nil {
		return nil, fmt.Errorf("openai client: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &OpenAIChatClient{client: client, deployment: model, logger: logger}, nil
}

// Complete sends one round of chat completion. A tool call in the
// response wins over content, upholding the one-of contract.
func (c *OpenAIChatClient) Complete(ctx context.Context, messages []Message, tools []ToolDefinition) (*Response, error) {
	opts := azopenai.ChatCompletionsOptions{
		DeploymentName: to.Ptr(c.deployment),
		Messages:       encodeChatMessages(messages),
		Tools:          encodeChatTools(tools),
	}

	resp, err := c.client.GetChatCompletions(ctx, opts, nil)
	if err != nil {
		return nil, fmt.Errorf("chat completions: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, errors.New("chat completions: no choices returned")
	}

	choice := resp.Choices[0]
	out := &Response{}
	for _, tc := range choice.Message.ToolCalls {
		fc, ok := tc.(*azopenai.ChatCompletionsFunctionToolCall)
		if !ok || fc.Function == nil {
			continue
		}
		name := ""
		if fc.Function.Name != nil {
			name = *fc.Function.Name
		}
		rawArgs := ""
		if fc.Function.Arguments != nil {
			rawArgs = *fc.Function.Arguments
		}
		id := ""
		if fc.ID != nil {
			id = *fc.ID
		}
		out.FunctionCall = &ToolCall{ID: id, Name: name, Arguments: ParseArguments(rawArgs)}
		break // one function per round
	}
	if out.FunctionCall == nil && choice.Message.Content != nil {
		out.Text = *choice.Message.Content
	}
	return out, nil
}

func encodeChatMessages(messages []Message) []azopenai.ChatRequestMessageClassification {
	encoded := make([]azopenai.ChatRequestMessageClassification, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case RoleSystem:
			encoded = append(encoded, &azopenai.ChatRequestSystemMessage{
				Content: azopenai.NewChatRequestSystemMessageContent(m.Content),
			})
		case RoleUser:
			encoded = append(encoded, &azopenai.ChatRequestUserMessage{
				Content: azopenai.NewChatRequestUserMessageContent(m.Content),
			})
		case RoleAssistant:
			assistant := &azopenai.ChatRequestAssistantMessage{}
			if m.Content != "" {
				assistant.Content = azopenai.NewChatRequestAssistantMessageContent(m.Content)
			}
			for _, tc := range m.ToolCalls {
				args, _ := json.Marshal(tc.Arguments)
				assistant.ToolCalls = append(assistant.ToolCalls, &azopenai.ChatCompletionsFunctionToolCall{
					ID:   to.Ptr(tc.ID),
					Type: to.Ptr("function"),
					Function: &azopenai.FunctionCall{
						Name:      to.Ptr(tc.Name),
						Arguments: to.Ptr(string(args)),
					},
				})
			}
			encoded = append(encoded, assistant)
		case RoleTool:
			encoded = append(encoded, &azopenai.ChatRequestToolMessage{
				Content:    azopenai.NewChatRequestToolMessageContent(m.Content),
				ToolCallID: to.Ptr(m.ToolCallID),
			})
		}
	}
	return encoded
}

func encodeChatTools(tools []ToolDefinition) []azopenai.ChatCompletionsToolDefinitionClassification {
	encoded := make([]azopenai.ChatCompletionsToolDefinitionClassification, 0, len(tools))
	for _, def := range tools {
		schema, _ := json.Marshal(def.Parameters)
		encoded = append(encoded, &azopenai.ChatCompletionsFunctionToolDefinition{
			Type: to.Ptr("function"),
			Function: &azopenai.ChatCompletionsFunctionToolDefinitionFunction{
				Name:        to.Ptr(def.Name),
				Description: to.Ptr(def.Description),
				Parameters:  schema,
			},
		})
	}
	return encoded
}
