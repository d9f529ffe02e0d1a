package agent

import (
	"fmt"

	"github.com/aztriage/aztriage/internal/safety"
	"github.com/aztriage/aztriage/internal/session"
)

// concludeResult finalizes a session after the model delivered its
// diagnosis.
func (a *Agent) concludeResult(s *session.Session, summary string) *Result {
	actions := safety.SuggestManualSteps(s)
	s.SetNextSteps(actions)
	s.UpdateProgress(100)
	s.MarkCompleted()
	a.logger.Info("investigation concluded", "trace_id", s.TraceID, "calls", s.CallCount(), "findings", len(s.Findings()))

	return &Result{
		Status:           StatusDone,
		TraceID:          s.TraceID,
		Message:          "Analysis complete",
		Progress:         s.Progress(),
		AnalysisResults:  a.analysisResults(s, summary),
		DebuggingProcess: recentLogMessages(s, 10),
		ActionsToTake:    actions,
		SessionContext:   s.ContextForLLM(),
	}
}

// summaryResult rebuilds the done result for a completed session that
// gets submitted again.
func (a *Agent) summaryResult(s *session.Session) *Result {
	return &Result{
		Status:           StatusDone,
		TraceID:          s.TraceID,
		Message:          "Analysis already complete",
		Progress:         s.Progress(),
		AnalysisResults:  a.analysisResults(s, ""),
		DebuggingProcess: recentLogMessages(s, 10),
		ActionsToTake:    s.NextSteps(),
		SessionContext:   s.ContextForLLM(),
	}
}

// pausedResult reports a safety pause. The session stays resumable by
// trace ID.
func (a *Agent) pausedResult(s *session.Session) *Result {
	a.logger.Info("investigation paused", "trace_id", s.TraceID, "calls", s.CallCount(), "depth", s.Depth())
	return &Result{
		Status:           StatusContinue,
		TraceID:          s.TraceID,
		Message:          "Analysis paused by safety limits; resubmit with this trace ID to resume",
		Progress:         s.Progress(),
		DebuggingProcess: recentLogMessages(s, 10),
		ActionsToTake:    safety.SuggestManualSteps(s),
		SessionContext:   s.ContextForLLM(),
	}
}

// degradedResult reports a run whose model calls failed. The fallback
// payload carries whatever the session gathered before the failure.
func (a *Agent) degradedResult(s *session.Session, fallback map[string]any) *Result {
	message, _ := fallback["message"].(string)
	steps, _ := fallback["manual_steps"].([]string)
	return &Result{
		Status:           StatusContinue,
		TraceID:          s.TraceID,
		Message:          message,
		Progress:         s.Progress(),
		AnalysisResults:  fallback,
		DebuggingProcess: recentLogMessages(s, 10),
		ActionsToTake:    steps,
		SessionContext:   s.ContextForLLM(),
	}
}

// analysisResults assembles the structured diagnosis from session state.
func (a *Agent) analysisResults(s *session.Session, summary string) map[string]any {
	findings := s.Findings()
	texts := make([]string, 0, len(findings))
	for _, f := range findings {
		texts = append(texts, f.Text)
	}

	confidence := "medium"
	if len(findings) > 2 {
		confidence = "high"
	}

	results := map[string]any{
		"error_category":     deriveCategory(findings),
		"confidence":         confidence,
		"findings":           texts,
		"resources_analyzed": s.Resources(),
	}
	if summary != "" {
		results["summary"] = summary
	}
	return results
}

// deriveCategory picks the diagnosis category: the most recent finding
// carrying a classification wins.
func deriveCategory(findings []session.Finding) string {
	for i := len(findings) - 1; i >= 0; i-- {
		switch findings[i].Category {
		case "authentication", "permission", "network", "storage", "compute":
			return findings[i].Category
		}
	}
	return "unknown"
}

// recentLogMessages formats the newest n session log entries.
func recentLogMessages(s *session.Session, n int) []string {
	logs := s.Logs()
	if len(logs) > n {
		logs = logs[len(logs)-n:]
	}
	out := make([]string, 0, len(logs))
	for _, entry := range logs {
		out = append(out, fmt.Sprintf("[%s] %s", entry.Level, entry.Message))
	}
	return out
}
