package mcpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// Config holds the configuration for connecting to the Storeloft platform.
type Config struct {
	APIURL string // Base URL, e.g. "http://localhost:8080"
	APIKey string // API key, e.g. "sk_..."
}

// StoreloftClient is a pure HTTP client for the Storeloft platform API.
type StoreloftClient struct {
	cfg        Config
	httpClient *http.Client
}

// NewStoreloftClient creates a new client for the Storeloft platform.
func NewStoreloftClient(cfg Config) *StoreloftClient {
	return &StoreloftClient{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// apiError represents an error response from the platform.
type apiError struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// doRequest makes an HTTP request to the platform and returns the response body.
func (c *StoreloftClient) doRequest(ctx context.Context, method, path string, query url.Values, body any) (json.RawMessage, error) {
	u, err := url.Parse(c.cfg.APIURL + path)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}
	if query != nil {
		u.RawQuery = query.Encode()
	}

	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), reqBody)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		var apiErr apiError
		if json.Unmarshal(respBody, &apiErr) == nil && apiErr.Message != "" {
			return nil, fmt.Errorf("API error (%d): %s", resp.StatusCode, apiErr.Message)
		}
		return nil, fmt.Errorf("API error (%d): %s", resp.StatusCode, string(respBody))
	}

	return json.RawMessage(respBody), nil
}

// CheckAccess evaluates a single access question against the decision engine.
// The access check endpoint returns the decision body on denials too, so the
// raw body is returned alongside any transport-level error.
func (c *StoreloftClient) CheckAccess(ctx context.Context, tenantID, feature, permission, role string) (json.RawMessage, error) {
	body := map[string]string{
		"tenant_id":  tenantID,
		"feature":    feature,
		"permission": permission,
	}
	if role != "" {
		body["role"] = role
	}
	return c.doRequest(ctx, http.MethodPost, "/v1/access/check", nil, body)
}

// GetTenant returns a tenant record.
func (c *StoreloftClient) GetTenant(ctx context.Context, tenantID string) (json.RawMessage, error) {
	return c.doRequest(ctx, http.MethodGet, "/v1/tenants/"+tenantID, nil, nil)
}

// GetTenantStatus returns the tenant's derived operational status.
func (c *StoreloftClient) GetTenantStatus(ctx context.Context, tenantID string) (json.RawMessage, error) {
	return c.doRequest(ctx, http.MethodGet, "/v1/tenants/"+tenantID+"/status", nil, nil)
}

// GetEntitlements returns the read-access answer for every catalog feature.
func (c *StoreloftClient) GetEntitlements(ctx context.Context, tenantID string) (json.RawMessage, error) {
	return c.doRequest(ctx, http.MethodGet, "/v1/tenants/"+tenantID+"/entitlements", nil, nil)
}

// ListOverrides lists the tenant's feature overrides.
func (c *StoreloftClient) ListOverrides(ctx context.Context, tenantID string) (json.RawMessage, error) {
	return c.doRequest(ctx, http.MethodGet, "/v1/tenants/"+tenantID+"/overrides", nil, nil)
}

// GrantOverride creates or replaces a feature override for a tenant.
func (c *StoreloftClient) GrantOverride(ctx context.Context, tenantID, feature string, granted bool, reason string) (json.RawMessage, error) {
	body := map[string]any{
		"granted": granted,
		"reason":  reason,
	}
	path := "/v1/tenants/" + tenantID + "/overrides/" + feature
	return c.doRequest(ctx, http.MethodPut, path, nil, body)
}

// RemoveOverride deletes a feature override, returning the feature to its
// tier default.
func (c *StoreloftClient) RemoveOverride(ctx context.Context, tenantID, feature string) (json.RawMessage, error) {
	path := "/v1/tenants/" + tenantID + "/overrides/" + feature
	return c.doRequest(ctx, http.MethodDelete, path, nil, nil)
}

// ListTiers returns the tier catalog with pricing and feature sets.
func (c *StoreloftClient) ListTiers(ctx context.Context) (json.RawMessage, error) {
	return c.doRequest(ctx, http.MethodGet, "/v1/tiers", nil, nil)
}
