package agent

import (
	"strings"

	"github.com/aztriage/aztriage/internal/session"
)

// technologyKeywords maps an Azure service label to the description
// substrings that indicate it.
var technologyKeywords = map[string][]string{
	"Storage":          {"storage account", "storage", "blob", "queue", "table", "file share"},
	"App Service":      {"app service", "web app", "webapp", "azurewebsites"},
	"Virtual Machines": {"virtual machine", "vm ", " vm", "vmss"},
	"Networking":       {"vnet", "nsg", "network", "dns", "load balancer", "firewall"},
	"Key Vault":        {"key vault", "keyvault"},
	"Databases":        {"sql", "cosmos", "database", "postgres", "mysql"},
	"Functions":        {"function app", "azure function"},
	"Kubernetes":       {"aks", "kubernetes"},
}

var technologyOrder = []string{
	"Storage", "App Service", "Virtual Machines", "Networking",
	"Key Vault", "Databases", "Functions", "Kubernetes",
}

// detectTechnologies scans the error description for the Azure services
// it mentions, in a stable order.
func detectTechnologies(description string) []string {
	lower := strings.ToLower(description)
	var found []string
	for _, tech := range technologyOrder {
		for _, kw := range technologyKeywords[tech] {
			if strings.Contains(lower, kw) {
				found = append(found, tech)
				break
			}
		}
	}
	return found
}

// logAnalysisPlan records the initial plan on a fresh session so the
// debugging process explains itself even if the run pauses early.
func (a *Agent) logAnalysisPlan(s *session.Session) {
	if techs := detectTechnologies(s.ErrorDescription); len(techs) > 0 {
		s.AddLog("Identified technologies: "+strings.Join(techs, ", "), "info")
	}
	steps := []string{
		"Discover accessible subscriptions",
		"Classify the error pattern",
		"Inspect the implicated resources",
		"Check permissions and recent activity",
		"Conclude with findings and remediation steps",
	}
	s.AddLog("Analysis plan: "+strings.Join(steps, "; "), "info")
}
