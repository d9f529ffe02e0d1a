package safety

import (
	"strings"

	"github.com/aztriage/aztriage/internal/session"
)

// manualAlternatives maps each investigation function to the manual
// steps a user can take when that function fails.
var manualAlternatives = map[string][]string{
	"get_azure_resource_status": {
		"Check Azure portal for resource health",
		"Use Azure CLI: az resource show --ids <resource_id>",
		"Review Azure Activity Log for recent changes",
	},
	"query_azure_logs": {
		"Check logs directly in Azure portal",
		"Use Azure CLI: az monitor log-analytics query",
		"Review application-specific logs",
	},
	"check_resource_permissions": {
		"Check Azure RBAC in portal",
		"Use Azure CLI: az role assignment list",
		"Verify user permissions with an administrator",
	},
	"get_resource_group_resources": {
		"List resources in the Azure portal",
		"Use Azure CLI: az resource list --resource-group <name>",
	},
	"get_subscriptions": {
		"Use Azure CLI: az account list",
		"Verify the account has at least one active subscription",
	},
}

var genericAlternatives = []string{
	"Try manual troubleshooting steps",
	"Check Azure portal for resource status",
	"Contact support if issue persists",
}

// HandleFunctionFailure turns a failed function execution into a
// usable fallback payload: the error, manual alternatives for that
// function, and the session context. It never returns nil, so the loop
// can always append the payload and continue.
func HandleFunctionFailure(function string, err error, s *session.Session) map[string]any {
	errMsg := err.Error()
	s.AddLog("Function "+function+" failed: "+errMsg, "error")

	alternatives, ok := manualAlternatives[function]
	if !ok {
		alternatives = genericAlternatives
	}

	return map[string]any{
		"status":            "partial_failure",
		"function":          function,
		"error":             errMsg,
		"message":           "Function " + function + " failed, but analysis can continue.",
		"alternative_steps": alternatives,
		"session_progress":  s.ContextForLLM(),
		"recommendations": []string{
			"Continue with available analysis tools",
			"Use manual verification steps provided",
			"Check error logs for detailed information",
		},
	}
}

// SuggestManualSteps builds manual debugging steps from whatever the
// session has found so far. Findings steer the list: network findings
// surface network steps, permission findings surface RBAC steps, and
// so on, ahead of the generic baseline.
func SuggestManualSteps(s *session.Session) []string {
	baseSteps := []string{
		"Check Azure portal for resource health indicators",
		"Review Azure Monitor alerts and metrics",
		"Verify network security group rules",
		"Check Azure AD permissions and role assignments",
		"Review resource configuration for recent changes",
	}

	var sb strings.Builder
	for _, f := range s.Findings() {
		sb.WriteString(strings.ToLower(f.Text))
		sb.WriteByte(' ')
	}
	findingsText := sb.String()

	var steps []string
	if strings.Contains(findingsText, "network") {
		steps = append(steps, "Focus on network connectivity and firewall rules")
	}
	if strings.Contains(findingsText, "permission") || strings.Contains(findingsText, "access") {
		steps = append(steps, "Review access permissions and authentication settings")
	}
	if strings.Contains(findingsText, "deployment") {
		steps = append(steps, "Check deployment logs and configuration")
	}
	if strings.Contains(findingsText, "storage") {
		steps = append(steps, "Verify storage account access and configuration")
	}
	if strings.Contains(findingsText, "app service") || strings.Contains(findingsText, "web") {
		steps = append(steps, "Review App Service configuration and logs")
	}

	return append(steps, baseSteps...)
}

// CreateFallbackResponse builds a partial-success payload when a whole
// subsystem fails (for example the LLM call itself). It carries the
// findings accumulated so far plus customized manual steps, so the
// caller still receives something actionable.
func CreateFallbackResponse(failedOperation string, availableData map[string]any, s *session.Session) map[string]any {
	return map[string]any{
		"status":           "partial_success",
		"failed_operation": failedOperation,
		"message":          "Primary analysis for " + failedOperation + " failed, but partial results are available.",
		"available_data":   availableData,
		"manual_steps":     SuggestManualSteps(s),
		"session_context":  s.ContextForLLM(),
		"next_actions": []string{
			"Review available analysis data",
			"Follow manual debugging steps",
			"Use Azure portal for detailed investigation",
		},
	}
}
