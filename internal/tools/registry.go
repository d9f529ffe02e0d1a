package tools

import (
	"context"
	"log/slog"
	"sort"

	"github.com/aztriage/aztriage/internal/azure"
	"github.com/aztriage/aztriage/internal/llm"
)

// Function is one callable investigation function. All functions are
// read-only: they observe Azure state or analyze text, never change
// anything.
type Function struct {
	Name        string
	Description string
	Parameters  map[string]any
	Handler     func(ctx context.Context, args map[string]any) (map[string]any, error)
}

// Registry holds the investigation functions. It is immutable after
// construction, so concurrent sessions share one instance safely.
type Registry struct {
	functions map[string]*Function
	arm       *azure.Client
	logger    *slog.Logger
}

// NewRegistry creates the registry with the full function catalogue.
// The ARM client may be nil; Azure-backed functions then report that
// Azure access is not configured instead of failing the session.
func NewRegistry(arm *azure.Client, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Registry{
		functions: make(map[string]*Function),
		arm:       arm,
		logger:    logger,
	}
	r.registerBuiltins()
	return r
}

func (r *Registry) registerBuiltins() {
	r.register(&Function{
		Name:        "get_azure_resource_status",
		Description: "Get the current status and configuration of a specific Azure resource. Use this to check provisioning state, location, and key properties.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"resource_id": map[string]any{
					"type":        "string",
					"description": "Full ARM resource ID (/subscriptions/.../resourceGroups/.../providers/.../...)",
				},
			},
			"required": []string{"resource_id"},
		},
		Handler: r.handleResourceStatus,
	})

	r.register(&Function{
		Name:        "query_azure_logs",
		Description: "Query recent activity-log events for an Azure resource. Use this to find failed operations, who performed them, and when.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"resource_id": map[string]any{
					"type":        "string",
					"description": "Full ARM resource ID to query events for",
				},
				"hours": map[string]any{
					"type":        "integer",
					"description": "How many trailing hours of events to return (default 24)",
				},
			},
			"required": []string{"resource_id"},
		},
		Handler: r.handleQueryLogs,
	})

	r.register(&Function{
		Name:        "check_resource_permissions",
		Description: "List role assignments in effect on an Azure resource. Use this to diagnose authorization and access-denied errors.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"resource_id": map[string]any{
					"type":        "string",
					"description": "Full ARM resource ID to inspect permissions on",
				},
			},
			"required": []string{"resource_id"},
		},
		Handler: r.handleCheckPermissions,
	})

	r.register(&Function{
		Name:        "get_resource_group_resources",
		Description: "List all resources in a resource group. Use this to discover related resources that may be involved in the error.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"subscription_id": map[string]any{
					"type":        "string",
					"description": "Subscription ID containing the resource group",
				},
				"resource_group": map[string]any{
					"type":        "string",
					"description": "Resource group name",
				},
			},
			"required": []string{"subscription_id", "resource_group"},
		},
		Handler: r.handleResourceGroupResources,
	})

	r.register(&Function{
		Name:        "get_subscriptions",
		Description: "List the Azure subscriptions visible to the current credentials. Use this first to establish scope before drilling into resources.",
		Parameters: map[string]any{
			"type":       "object",
			"properties": map[string]any{},
		},
		Handler: r.handleSubscriptions,
	})

	r.register(&Function{
		Name:        "analyze_error_pattern",
		Description: "Analyze an error message for known Azure failure patterns and classify its category (authentication, permission, network, storage, compute).",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"error_text": map[string]any{
					"type":        "string",
					"description": "The error message or log excerpt to analyze",
				},
			},
			"required": []string{"error_text"},
		},
		Handler: r.handleAnalyzeErrorPattern,
	})

	r.register(&Function{
		Name:        "suggest_solution",
		Description: "Suggest remediation steps for a classified error category, optionally tailored to a resource type.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"category": map[string]any{
					"type":        "string",
					"description": "Error category (authentication, permission, network, storage, compute, unknown)",
				},
				"resource_type": map[string]any{
					"type":        "string",
					"description": "Optional ARM resource type (e.g. Microsoft.Storage/storageAccounts)",
				},
			},
			"required": []string{"category"},
		},
		Handler: r.handleSuggestSolution,
	})
}

func (r *Registry) register(f *Function) {
	r.functions[f.Name] = f
}

// Get retrieves a function by name, or nil.
func (r *Registry) Get(name string) *Function {
	return r.functions[name]
}

// Names returns the registered function names, sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.functions))
	for name := range r.functions {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Definitions returns the catalogue in the form the model providers
// consume, in stable name order.
func (r *Registry) Definitions() []llm.ToolDefinition {
	defs := make([]llm.ToolDefinition, 0, len(r.functions))
	for _, name := range r.Names() {
		f := r.functions[name]
		defs = append(defs, llm.ToolDefinition{
			Name:        f.Name,
			Description: f.Description,
			Parameters:  f.Parameters,
		})
	}
	return defs
}

// Execute runs a function by name. An unregistered name yields
// *ErrUnknownFunction so callers can distinguish the contract error
// from an execution failure.
func (r *Registry) Execute(ctx context.Context, name string, args map[string]any) (map[string]any, error) {
	f := r.functions[name]
	if f == nil {
		return nil, &ErrUnknownFunction{Function: name}
	}
	if args == nil {
		args = map[string]any{}
	}
	return f.Handler(ctx, args)
}
