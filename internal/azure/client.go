// Package azure provides a read-only client for the Azure Resource
// Manager REST API. Every call is a GET or a documented read-only POST;
// the investigation loop never mutates infrastructure through it.
package azure

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/aztriage/aztriage/internal/httpkit"
)

// DefaultEndpoint is the public Azure Resource Manager endpoint.
const DefaultEndpoint = "https://management.azure.com"

// defaultRequestsPerSecond bounds outbound ARM traffic when the
// configuration does not say otherwise.
const defaultRequestsPerSecond = 5

type ctxKey int

const principalKey ctxKey = iota

// WithPrincipal stamps the acting principal onto the context so a
// shared TokenSource can look up that caller's Azure token.
func WithPrincipal(ctx context.Context, upn string) context.Context {
	return context.WithValue(ctx, principalKey, upn)
}

// PrincipalFrom returns the principal stamped by WithPrincipal, or "".
func PrincipalFrom(ctx context.Context) string {
	upn, _ := ctx.Value(principalKey).(string)
	return upn
}

// TokenSource supplies a bearer token for the management plane. The
// auth vault satisfies it; tests use a static function.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// TokenFunc adapts a plain function to TokenSource.
type TokenFunc func(ctx context.Context) (string, error)

func (f TokenFunc) Token(ctx context.Context) (string, error) { return f(ctx) }

// StaticToken returns a TokenSource that always yields tok.
func StaticToken(tok string) TokenSource {
	return TokenFunc(func(context.Context) (string, error) { return tok, nil })
}

// Client talks to the Azure Resource Manager API.
type Client struct {
	baseURL    string
	tokens     TokenSource
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithEndpoint overrides the management endpoint. Used for sovereign
// clouds and for tests pointing at a local server.
func WithEndpoint(endpoint string) Option {
	return func(c *Client) { c.baseURL = strings.TrimRight(endpoint, "/") }
}

// WithRequestsPerSecond sets the outbound rate limit.
func WithRequestsPerSecond(rps float64) Option {
	return func(c *Client) {
		if rps > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(rps), int(rps)+1)
		}
	}
}

// WithHTTPClient overrides the HTTP client. Used by tests.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// NewClient creates an ARM client that authenticates with tokens from ts.
func NewClient(ts TokenSource, logger *slog.Logger, opts ...Option) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Client{
		baseURL: DefaultEndpoint,
		tokens:  ts,
		httpClient: httpkit.NewClient(
			httpkit.WithTimeout(30*time.Second),
			httpkit.WithRetry(2, time.Second),
			httpkit.WithLogger(logger),
		),
		limiter: rate.NewLimiter(rate.Limit(defaultRequestsPerSecond), defaultRequestsPerSecond+1),
		logger:  logger,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Subscription is one entry from the subscriptions list.
type Subscription struct {
	ID             string `json:"id"`
	SubscriptionID string `json:"subscriptionId"`
	DisplayName    string `json:"displayName"`
	State          string `json:"state"`
	TenantID       string `json:"tenantId"`
}

// ListSubscriptions retrieves the subscriptions visible to the token.
func (c *Client) ListSubscriptions(ctx context.Context) ([]Subscription, error) {
	var page struct {
		Value []Subscription `json:"value"`
	}
	if err := c.get(ctx, "/subscriptions", "2022-12-01", nil, &page); err != nil {
		return nil, err
	}
	return page.Value, nil
}

// Resource is the generic ARM resource envelope.
type Resource struct {
	ID         string         `json:"id"`
	Name       string         `json:"name"`
	Type       string         `json:"type"`
	Location   string         `json:"location"`
	Tags       map[string]any `json:"tags,omitempty"`
	Properties map[string]any `json:"properties,omitempty"`
}

// GetResource retrieves a single resource by its full ARM ID, using
// the API version registered for its provider namespace.
func (c *Client) GetResource(ctx context.Context, resourceID string) (*Resource, error) {
	var res Resource
	if err := c.get(ctx, resourceID, apiVersionFor(resourceID), nil, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// ListResourceGroupResources lists all resources in a resource group.
func (c *Client) ListResourceGroupResources(ctx context.Context, subscriptionID, resourceGroup string) ([]Resource, error) {
	path := fmt.Sprintf("/subscriptions/%s/resourceGroups/%s/resources",
		url.PathEscape(subscriptionID), url.PathEscape(resourceGroup))
	var page struct {
		Value []Resource `json:"value"`
	}
	if err := c.get(ctx, path, "2021-04-01", nil, &page); err != nil {
		return nil, err
	}
	return page.Value, nil
}

// RoleAssignment is one Microsoft.Authorization role assignment.
type RoleAssignment struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Properties struct {
		RoleDefinitionID string `json:"roleDefinitionId"`
		PrincipalID      string `json:"principalId"`
		PrincipalType    string `json:"principalType"`
		Scope            string `json:"scope"`
	} `json:"properties"`
}

// ListRoleAssignments lists role assignments scoped at or above the
// resource, the raw material for a permission check.
func (c *Client) ListRoleAssignments(ctx context.Context, resourceID string) ([]RoleAssignment, error) {
	path := resourceID + "/providers/Microsoft.Authorization/roleAssignments"
	var page struct {
		Value []RoleAssignment `json:"value"`
	}
	if err := c.get(ctx, path, "2022-04-01", nil, &page); err != nil {
		return nil, err
	}
	return page.Value, nil
}

// ActivityEvent is one entry from the subscription activity log.
type ActivityEvent struct {
	EventTimestamp time.Time `json:"eventTimestamp"`
	Level          string    `json:"level"`
	OperationName  struct {
		Value          string `json:"value"`
		LocalizedValue string `json:"localizedValue"`
	} `json:"operationName"`
	Status struct {
		Value string `json:"value"`
	} `json:"status"`
	ResourceID string         `json:"resourceId"`
	Caller     string         `json:"caller"`
	Properties map[string]any `json:"properties,omitempty"`
}

// QueryActivityLog retrieves activity-log events for a resource over
// the trailing window. The subscription is parsed out of the resource ID.
func (c *Client) QueryActivityLog(ctx context.Context, resourceID string, window time.Duration) ([]ActivityEvent, error) {
	sub, err := SubscriptionOf(resourceID)
	if err != nil {
		return nil, err
	}
	since := time.Now().UTC().Add(-window).Format(time.RFC3339)
	filter := fmt.Sprintf("eventTimestamp ge '%s' and resourceUri eq '%s'", since, resourceID)

	path := fmt.Sprintf("/subscriptions/%s/providers/Microsoft.Insights/eventtypes/management/values", url.PathEscape(sub))
	var page struct {
		Value []ActivityEvent `json:"value"`
	}
	if err := c.get(ctx, path, "2015-04-01", url.Values{"$filter": {filter}}, &page); err != nil {
		return nil, err
	}
	return page.Value, nil
}

// SubscriptionOf extracts the subscription ID from a full ARM resource ID.
func SubscriptionOf(resourceID string) (string, error) {
	parts := strings.Split(strings.TrimPrefix(resourceID, "/"), "/")
	if len(parts) < 2 || !strings.EqualFold(parts[0], "subscriptions") || parts[1] == "" {
		return "", fmt.Errorf("no subscription in resource ID %q", resourceID)
	}
	return parts[1], nil
}

// apiVersionFor maps a provider namespace to the API version this
// client speaks for it. Unknown providers fall back to the generic
// resources version, which serves the common envelope fields.
func apiVersionFor(resourceID string) string {
	lower := strings.ToLower(resourceID)
	switch {
	case strings.Contains(lower, "/providers/microsoft.storage/"):
		return "2023-01-01"
	case strings.Contains(lower, "/providers/microsoft.compute/"):
		return "2023-03-01"
	case strings.Contains(lower, "/providers/microsoft.web/"):
		return "2022-03-01"
	case strings.Contains(lower, "/providers/microsoft.network/"):
		return "2023-04-01"
	case strings.Contains(lower, "/providers/microsoft.keyvault/"):
		return "2023-02-01"
	default:
		return "2021-04-01"
	}
}

// get performs a rate-limited GET against the management endpoint.
func (c *Client) get(ctx context.Context, path, apiVersion string, query url.Values, result any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}

	token, err := c.tokens.Token(ctx)
	if err != nil {
		return fmt.Errorf("acquire token: %w", err)
	}

	if query == nil {
		query = url.Values{}
	}
	query.Set("api-version", apiVersion)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path+"?"+query.Encode(), nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request %s: %w", path, err)
	}
	// Drain and close to ensure connection reuse even when result is nil.
	defer httpkit.DrainAndClose(resp.Body, 4096)

	if resp.StatusCode != http.StatusOK {
		body := httpkit.ReadErrorBody(resp.Body, 512)
		return fmt.Errorf("ARM error %d on %s: %s", resp.StatusCode, path, body)
	}

	if result != nil {
		if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}

	return nil
}
