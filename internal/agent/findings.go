package agent

import (
	"fmt"

	"github.com/aztriage/aztriage/internal/llm"
	"github.com/aztriage/aztriage/internal/session"
)

// noteFindings distills notable facts from a function result onto the
// session. Findings feed the final diagnosis and the manual-step
// suggestions, so only facts worth surfacing land here.
func (a *Agent) noteFindings(s *session.Session, fc llm.ToolCall, result map[string]any) {
	if rid, ok := fc.Arguments["resource_id"].(string); ok && rid != "" {
		s.AddResource(rid)
	}

	switch fc.Name {
	case "analyze_error_pattern":
		category, _ := result["category"].(string)
		confidence, _ := result["confidence"].(string)
		if category != "" {
			s.AddFinding(fmt.Sprintf("Error classified as %s (confidence: %s)", category, confidence), "info", category)
		}

	case "query_azure_logs":
		if failed := asInt(result["failed_count"]); failed > 0 {
			s.AddFinding(fmt.Sprintf("%d failed operations in the activity log", failed), "warning", "logs")
		}

	case "check_resource_permissions":
		if count, ok := result["assignment_count"]; ok && asInt(count) == 0 {
			s.AddFinding("No role assignments visible on the resource", "warning", "permission")
		}

	case "get_azure_resource_status":
		if state, ok := result["provisioning_state"].(string); ok && state != "Succeeded" {
			s.AddFinding(fmt.Sprintf("Resource provisioning state is %s", state), "warning", "deployment")
		}

	case "get_subscriptions":
		if count, ok := result["subscription_count"]; ok {
			n := asInt(count)
			if n == 0 {
				s.AddFinding("No Azure subscriptions accessible with current credentials", "warning", "permission")
			} else {
				s.AddFinding(fmt.Sprintf("%d subscription(s) accessible", n), "info", "scope")
			}
		}
	}
}

// asInt normalizes the numeric types that reach result maps: native
// ints from handlers and float64 from JSON round trips.
func asInt(v any) int {
	switch n := v.(type) {
	case int:
		return n
	case float64:
		return int(n)
	default:
		return 0
	}
}
