package tools

import (
	"context"
	"fmt"
	"strings"
)

// errorPatterns maps an error category to the lowercase substrings
// that indicate it. Order in categoryOrder decides ties: the first
// category with the most matches wins.
var errorPatterns = map[string][]string{
	"authentication": {"unauthorized", "401", "token expired", "invalid credentials", "authentication failed", "aadsts"},
	"permission":     {"forbidden", "403", "access denied", "authorizationfailed", "insufficient privileges", "does not have authorization"},
	"network":        {"timeout", "timed out", "connection refused", "dns", "could not resolve", "no route", "network unreachable", "503"},
	"storage":        {"blob", "container not found", "storage account", "404 the specified", "quota exceeded", "account is disabled"},
	"compute":        {"vm", "virtual machine", "allocation failed", "overconstrained", "skunotavailable", "provisioning failed"},
}

var categoryOrder = []string{"authentication", "permission", "network", "storage", "compute"}

func (r *Registry) handleAnalyzeErrorPattern(ctx context.Context, args map[string]any) (map[string]any, error) {
	errorText, _ := args["error_text"].(string)
	if errorText == "" {
		return nil, fmt.Errorf("error_text is required")
	}

	lower := strings.ToLower(errorText)
	bestCategory := "unknown"
	bestCount := 0
	matched := []string{}
	for _, category := range categoryOrder {
		count := 0
		var hits []string
		for _, pattern := range errorPatterns[category] {
			if strings.Contains(lower, pattern) {
				count++
				hits = append(hits, pattern)
			}
		}
		if count > bestCount {
			bestCategory = category
			bestCount = count
			matched = hits
		}
	}

	confidence := "low"
	switch {
	case bestCount >= 2:
		confidence = "high"
	case bestCount == 1:
		confidence = "medium"
	}

	return map[string]any{
		"category":         bestCategory,
		"confidence":       confidence,
		"matched_patterns": matched,
		"match_count":      bestCount,
	}, nil
}

// solutions holds the remediation catalogue per error category.
var solutions = map[string][]string{
	"authentication": {
		"Refresh the credential: run 'az login' or renew the service principal secret",
		"Check the token audience matches the target resource",
		"Verify the tenant ID in the connection configuration",
	},
	"permission": {
		"Check role assignments on the resource with 'az role assignment list --scope <resource-id>'",
		"Request the missing role (Reader for inspection, Contributor for changes) from the subscription owner",
		"Verify resource locks are not blocking the operation",
	},
	"network": {
		"Check NSG rules and firewall settings on the resource",
		"Verify private endpoint and DNS configuration resolve to the expected address",
		"Test connectivity from the same virtual network with 'az network watcher test-connectivity'",
	},
	"storage": {
		"Verify the storage account exists and is not disabled: 'az storage account show'",
		"Check the container or blob path for typos",
		"Review network rules on the storage account (default action Deny blocks public access)",
	},
	"compute": {
		"Check the VM provisioning state and recent operations: 'az vm get-instance-view'",
		"Retry allocation in another availability zone or VM size if allocation failed",
		"Review quota usage for the VM family: 'az vm list-usage --location <region>'",
	},
}

var genericSolutions = []string{
	"Review the resource's activity log for recent failed operations",
	"Check Azure service health for outages in the resource's region",
	"Reproduce the operation with the Azure CLI in debug mode ('az ... --debug') to capture the full error",
}

func (r *Registry) handleSuggestSolution(ctx context.Context, args map[string]any) (map[string]any, error) {
	category, _ := args["category"].(string)
	if category == "" {
		return nil, fmt.Errorf("category is required")
	}
	resourceType, _ := args["resource_type"].(string)

	steps, ok := solutions[strings.ToLower(category)]
	if !ok {
		steps = genericSolutions
	}

	result := map[string]any{
		"category": strings.ToLower(category),
		"steps":    steps,
	}
	if resourceType != "" {
		result["resource_type"] = resourceType
		result["documentation"] = "https://learn.microsoft.com/azure/" + docSlug(resourceType)
	}
	return result, nil
}

// docSlug maps an ARM resource type to its documentation area.
func docSlug(resourceType string) string {
	lower := strings.ToLower(resourceType)
	switch {
	case strings.HasPrefix(lower, "microsoft.storage"):
		return "storage"
	case strings.HasPrefix(lower, "microsoft.compute"):
		return "virtual-machines"
	case strings.HasPrefix(lower, "microsoft.web"):
		return "app-service"
	case strings.HasPrefix(lower, "microsoft.network"):
		return "networking"
	case strings.HasPrefix(lower, "microsoft.keyvault"):
		return "key-vault"
	default:
		return "troubleshoot"
	}
}
