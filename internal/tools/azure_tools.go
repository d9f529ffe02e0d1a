package tools

import (
	"context"
	"fmt"
	"time"
)

// notConfigured is returned by Azure-backed functions when no ARM
// client was wired in. It is a valid result, not an error, so an
// offline deployment still completes investigations.
func notConfigured() map[string]any {
	return map[string]any{
		"status":  "unavailable",
		"message": "Azure management access is not configured",
	}
}

func (r *Registry) handleResourceStatus(ctx context.Context, args map[string]any) (map[string]any, error) {
	if r.arm == nil {
		return notConfigured(), nil
	}

	resourceID, _ := args["resource_id"].(string)
	if resourceID == "" {
		return nil, fmt.Errorf("resource_id is required")
	}

	res, err := r.arm.GetResource(ctx, resourceID)
	if err != nil {
		return nil, fmt.Errorf("get resource: %w", err)
	}

	result := map[string]any{
		"resource_id": res.ID,
		"name":        res.Name,
		"type":        res.Type,
		"location":    res.Location,
	}
	if state, ok := res.Properties["provisioningState"]; ok {
		result["provisioning_state"] = state
	}
	if len(res.Properties) > 0 {
		result["properties"] = res.Properties
	}
	return result, nil
}

func (r *Registry) handleQueryLogs(ctx context.Context, args map[string]any) (map[string]any, error) {
	if r.arm == nil {
		return notConfigured(), nil
	}

	resourceID, _ := args["resource_id"].(string)
	if resourceID == "" {
		return nil, fmt.Errorf("resource_id is required")
	}

	hours := 24
	if h, ok := args["hours"].(float64); ok && h > 0 {
		hours = int(h)
	}

	events, err := r.arm.QueryActivityLog(ctx, resourceID, time.Duration(hours)*time.Hour)
	if err != nil {
		return nil, fmt.Errorf("query activity log: %w", err)
	}

	entries := make([]map[string]any, 0, len(events))
	failed := 0
	for _, ev := range events {
		if ev.Status.Value == "Failed" {
			failed++
		}
		entries = append(entries, map[string]any{
			"timestamp": ev.EventTimestamp.Format(time.RFC3339),
			"level":     ev.Level,
			"operation": ev.OperationName.Value,
			"status":    ev.Status.Value,
			"caller":    ev.Caller,
		})
	}

	return map[string]any{
		"resource_id":  resourceID,
		"window_hours": hours,
		"event_count":  len(entries),
		"failed_count": failed,
		"events":       entries,
	}, nil
}

func (r *Registry) handleCheckPermissions(ctx context.Context, args map[string]any) (map[string]any, error) {
	if r.arm == nil {
		return notConfigured(), nil
	}

	resourceID, _ := args["resource_id"].(string)
	if resourceID == "" {
		return nil, fmt.Errorf("resource_id is required")
	}

	assignments, err := r.arm.ListRoleAssignments(ctx, resourceID)
	if err != nil {
		return nil, fmt.Errorf("list role assignments: %w", err)
	}

	entries := make([]map[string]any, 0, len(assignments))
	for _, a := range assignments {
		entries = append(entries, map[string]any{
			"principal_id":       a.Properties.PrincipalID,
			"principal_type":     a.Properties.PrincipalType,
			"role_definition_id": a.Properties.RoleDefinitionID,
			"scope":              a.Properties.Scope,
		})
	}

	return map[string]any{
		"resource_id":      resourceID,
		"assignment_count": len(entries),
		"role_assignments": entries,
	}, nil
}

func (r *Registry) handleResourceGroupResources(ctx context.Context, args map[string]any) (map[string]any, error) {
	if r.arm == nil {
		return notConfigured(), nil
	}

	subscriptionID, _ := args["subscription_id"].(string)
	resourceGroup, _ := args["resource_group"].(string)
	if subscriptionID == "" || resourceGroup == "" {
		return nil, fmt.Errorf("subscription_id and resource_group are required")
	}

	resources, err := r.arm.ListResourceGroupResources(ctx, subscriptionID, resourceGroup)
	if err != nil {
		return nil, fmt.Errorf("list resources: %w", err)
	}

	entries := make([]map[string]any, 0, len(resources))
	for _, res := range resources {
		entries = append(entries, map[string]any{
			"resource_id": res.ID,
			"name":        res.Name,
			"type":        res.Type,
			"location":    res.Location,
		})
	}

	return map[string]any{
		"subscription_id": subscriptionID,
		"resource_group":  resourceGroup,
		"resource_count":  len(entries),
		"resources":       entries,
	}, nil
}

func (r *Registry) handleSubscriptions(ctx context.Context, args map[string]any) (map[string]any, error) {
	if r.arm == nil {
		return notConfigured(), nil
	}

	subs, err := r.arm.ListSubscriptions(ctx)
	if err != nil {
		return nil, fmt.Errorf("list subscriptions: %w", err)
	}

	entries := make([]map[string]any, 0, len(subs))
	for _, sub := range subs {
		entries = append(entries, map[string]any{
			"subscription_id": sub.SubscriptionID,
			"display_name":    sub.DisplayName,
			"state":           sub.State,
		})
	}

	return map[string]any{
		"subscription_count": len(entries),
		"subscriptions":      entries,
	}, nil
}
