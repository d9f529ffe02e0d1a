package agent

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aztriage/aztriage/internal/llm"
	"github.com/aztriage/aztriage/internal/safety"
	"github.com/aztriage/aztriage/internal/session"
)

const systemPrompt = `You are an Azure infrastructure error investigator.
You diagnose errors by calling read-only investigation functions, one per round.
Start broad (subscriptions, resource groups) and narrow down to the failing resource.
Never guess resource IDs; discover them through the functions.
When you have enough evidence, conclude with a plain-text diagnosis and concrete remediation steps.`

// contextFileLimit bounds how much of each context file is quoted into
// the prompt.
const contextFileLimit = 4 * 1024

// run drives rounds until the model concludes, the governor pauses the
// session, or the model call degrades. It owns the conversation; the
// session only records what happened.
func (a *Agent) run(ctx context.Context, s *session.Session) *Result {
	messages := a.buildConversation(s)
	blocked := 0

	for round := 1; ; round++ {
		if a.governor.ShouldStop(s) {
			s.MarkPaused()
			return a.pausedResult(s)
		}

		resp, err := a.completeWithRetry(ctx, messages)
		if err != nil {
			if ctx.Err() != nil {
				s.MarkFailed("context cancelled: " + ctx.Err().Error())
				return &Result{
					Status:   StatusFail,
					TraceID:  s.TraceID,
					Message:  "Investigation cancelled",
					Progress: s.Progress(),
				}
			}
			s.AddLog("Model completion failed: "+err.Error(), "error")
			fb := safety.CreateFallbackResponse("llm_completion", s.ContextForLLM(), s)
			return a.degradedResult(s, fb)
		}

		if resp.FunctionCall == nil {
			return a.concludeResult(s, resp.Text)
		}

		fc := *resp.FunctionCall
		if fc.ID == "" {
			fc.ID = fmt.Sprintf("call_%d", round)
		}
		messages = append(messages, llm.Message{
			Role:      llm.RoleAssistant,
			ToolCalls: []llm.ToolCall{fc},
		})

		var result map[string]any
		if ok, reason := a.governor.CheckFunctionSafety(fc.Name, fc.Arguments, s); !ok {
			blocked++
			s.AddLog(fmt.Sprintf("Function blocked: %s (%s)", fc.Name, reason), "warning")
			result = map[string]any{
				"error":    "function call blocked",
				"function": fc.Name,
				"reason":   reason,
			}
			// A model stuck requesting denied calls burns no counters,
			// so cap the blocked rounds per run explicitly.
			if blocked > a.governor.Limits().MaxFunctionCalls {
				s.MarkPaused()
				return a.pausedResult(s)
			}
		} else {
			result = a.executeFunction(ctx, s, fc)
		}

		payload, _ := json.Marshal(result)
		messages = append(messages, llm.Message{
			Role:       llm.RoleTool,
			Content:    string(payload),
			ToolCallID: fc.ID,
			ToolName:   fc.Name,
		})
	}
}

// executeFunction runs one admitted call under the per-function
// timeout, records it, and converts failures into degraded payloads the
// loop can feed back to the model.
func (a *Agent) executeFunction(ctx context.Context, s *session.Session, fc llm.ToolCall) map[string]any {
	execCtx, cancel := context.WithTimeout(ctx, a.governor.Limits().MaxFunctionTime)
	start := a.now()
	out, err := a.registry.Execute(execCtx, fc.Name, fc.Arguments)
	duration := a.now().Sub(start)
	cancel()

	result := out
	if err != nil {
		result = safety.HandleFunctionFailure(fc.Name, err, s)
	}

	a.governor.RecordFunctionCall(s, fc.Name, duration, result)
	s.AddFunctionResult(fc.Name, result, duration)
	a.noteFindings(s, fc, result)

	progress := 10 + s.CallCount()*10
	if progress > 90 {
		progress = 90
	}
	s.UpdateProgress(progress)

	return result
}

// completeWithRetry calls the model, retrying transient failures up to
// the configured attempt budget.
func (a *Agent) completeWithRetry(ctx context.Context, messages []llm.Message) (*llm.Response, error) {
	attempts := a.governor.Limits().MaxRetryAttempts + 1
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		resp, err := a.client.Complete(ctx, messages, a.registry.Definitions())
		if err == nil {
			return resp, nil
		}
		lastErr = err
		a.logger.Warn("model call failed", "attempt", attempt, "max_attempts", attempts, "error", err)
		if ctx.Err() != nil {
			break
		}
	}
	return nil, lastErr
}

// buildConversation assembles the prompt for a run. Resumed sessions
// get their accumulated state summarized in, since the original
// conversation is not retained between runs.
func (a *Agent) buildConversation(s *session.Session) []llm.Message {
	messages := []llm.Message{
		{Role: llm.RoleSystem, Content: systemPrompt},
		{Role: llm.RoleUser, Content: "Please analyze this Azure error:\n\n" + s.ErrorDescription + renderContext(s.Context)},
	}

	if s.CallCount() > 0 {
		state, _ := json.Marshal(s.ContextForLLM())
		messages = append(messages, llm.Message{
			Role:    llm.RoleUser,
			Content: "Resuming a prior investigation. State so far:\n" + string(state),
		})
	}
	return messages
}

// renderContext quotes submitted context files into the prompt, each
// truncated to contextFileLimit.
func renderContext(context map[string]any) string {
	files, ok := context["files"].([]any)
	if !ok || len(files) == 0 {
		return ""
	}

	out := fmt.Sprintf("\n\nThe user provided %d context file(s):\n", len(files))
	for _, f := range files {
		entry, ok := f.(map[string]any)
		if !ok {
			continue
		}
		name, _ := entry["name"].(string)
		content, _ := entry["content"].(string)
		if len(content) > contextFileLimit {
			content = content[:contextFileLimit] + "\n[truncated]"
		}
		out += fmt.Sprintf("\n--- %s ---\n%s\n", name, content)
	}
	return out
}
