package azure

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(StaticToken("test-token"), slog.Default(),
		WithEndpoint(srv.URL),
		WithRequestsPerSecond(1000),
	)
}

func TestListSubscriptions(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/subscriptions" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-token" {
			t.Errorf("authorization = %q", got)
		}
		if got := r.URL.Query().Get("api-version"); got != "2022-12-01" {
			t.Errorf("api-version = %q", got)
		}
		w.Write([]byte(`{"value":[{"subscriptionId":"sub-1","displayName":"Production","state":"Enabled"}]}`))
	})

	subs, err := c.ListSubscriptions(context.Background())
	if err != nil {
		t.Fatalf("ListSubscriptions error: %v", err)
	}
	if len(subs) != 1 || subs[0].SubscriptionID != "sub-1" || subs[0].DisplayName != "Production" {
		t.Errorf("subs = %+v", subs)
	}
}

func TestGetResource_ProviderAPIVersion(t *testing.T) {
	const resourceID = "/subscriptions/s/resourceGroups/g/providers/Microsoft.Storage/storageAccounts/acct"

	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != resourceID {
			t.Errorf("path = %s", r.URL.Path)
		}
		if got := r.URL.Query().Get("api-version"); got != "2023-01-01" {
			t.Errorf("api-version = %q, want the storage provider version", got)
		}
		w.Write([]byte(`{"id":"` + resourceID + `","name":"acct","type":"Microsoft.Storage/storageAccounts","location":"eastus","properties":{"provisioningState":"Succeeded"}}`))
	})

	res, err := c.GetResource(context.Background(), resourceID)
	if err != nil {
		t.Fatalf("GetResource error: %v", err)
	}
	if res.Name != "acct" || res.Properties["provisioningState"] != "Succeeded" {
		t.Errorf("resource = %+v", res)
	}
}

func TestListRoleAssignments(t *testing.T) {
	const resourceID = "/subscriptions/s/resourceGroups/g/providers/Microsoft.Web/sites/app"

	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		want := resourceID + "/providers/Microsoft.Authorization/roleAssignments"
		if r.URL.Path != want {
			t.Errorf("path = %s, want %s", r.URL.Path, want)
		}
		w.Write([]byte(`{"value":[{"name":"ra1","properties":{"principalId":"p1","principalType":"User","roleDefinitionId":"rd1","scope":"/subscriptions/s"}}]}`))
	})

	assignments, err := c.ListRoleAssignments(context.Background(), resourceID)
	if err != nil {
		t.Fatalf("ListRoleAssignments error: %v", err)
	}
	if len(assignments) != 1 || assignments[0].Properties.PrincipalID != "p1" {
		t.Errorf("assignments = %+v", assignments)
	}
}

func TestQueryActivityLog(t *testing.T) {
	const resourceID = "/subscriptions/sub-9/resourceGroups/g/providers/Microsoft.Compute/virtualMachines/vm1"

	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.URL.Path, "/subscriptions/sub-9/providers/Microsoft.Insights/") {
			t.Errorf("path = %s", r.URL.Path)
		}
		filter := r.URL.Query().Get("$filter")
		if !strings.Contains(filter, "resourceUri eq '"+resourceID+"'") {
			t.Errorf("filter = %q", filter)
		}
		w.Write([]byte(`{"value":[{"level":"Error","operationName":{"value":"Microsoft.Compute/virtualMachines/start/action"},"status":{"value":"Failed"},"caller":"ops@example.com"}]}`))
	})

	events, err := c.QueryActivityLog(context.Background(), resourceID, 24*time.Hour)
	if err != nil {
		t.Fatalf("QueryActivityLog error: %v", err)
	}
	if len(events) != 1 || events[0].Status.Value != "Failed" {
		t.Errorf("events = %+v", events)
	}
}

func TestQueryActivityLog_BadResourceID(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("no request expected for a malformed resource ID")
	})
	if _, err := c.QueryActivityLog(context.Background(), "not-a-resource-id", time.Hour); err == nil {
		t.Error("malformed resource ID should error before any request")
	}
}

func TestErrorStatusIsReported(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		w.Write([]byte(`{"error":{"code":"AuthorizationFailed"}}`))
	})

	_, err := c.ListSubscriptions(context.Background())
	if err == nil {
		t.Fatal("expected an error for a 403 response")
	}
	if !strings.Contains(err.Error(), "403") || !strings.Contains(err.Error(), "AuthorizationFailed") {
		t.Errorf("error = %v", err)
	}
}

func TestSubscriptionOf(t *testing.T) {
	sub, err := SubscriptionOf("/subscriptions/abc/resourceGroups/g/providers/P/T/N")
	if err != nil || sub != "abc" {
		t.Errorf("SubscriptionOf = %q, %v", sub, err)
	}
	if _, err := SubscriptionOf("/resourceGroups/g"); err == nil {
		t.Error("missing subscription segment should error")
	}
}

func TestPrincipalContext(t *testing.T) {
	ctx := WithPrincipal(context.Background(), "user@example.com")
	if got := PrincipalFrom(ctx); got != "user@example.com" {
		t.Errorf("PrincipalFrom = %q", got)
	}
	if got := PrincipalFrom(context.Background()); got != "" {
		t.Errorf("PrincipalFrom(empty) = %q", got)
	}
}
