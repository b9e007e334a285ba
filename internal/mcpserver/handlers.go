package mcpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
)

// Handlers holds the handler functions for each MCP tool.
type Handlers struct {
	client *StoreloftClient
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(client *StoreloftClient) *Handlers {
	return &Handlers{client: client}
}

// HandleCheckAccess evaluates one access question.
func (h *Handlers) HandleCheckAccess(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	tenantID := req.GetString("tenant_id", "")
	if tenantID == "" {
		return mcp.NewToolResultError("tenant_id is required"), nil
	}
	feature := req.GetString("feature", "")
	if feature == "" {
		return mcp.NewToolResultError("feature is required"), nil
	}
	permission := req.GetString("permission", "")
	if permission == "" {
		return mcp.NewToolResultError("permission is required"), nil
	}
	role := req.GetString("role", "")

	raw, err := h.client.CheckAccess(ctx, tenantID, feature, permission, role)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Access check failed: %v", err)), nil
	}

	text, err := formatDecision(raw, feature)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse decision: %v", err)), nil
	}

	return mcp.NewToolResultText(text), nil
}

// HandleGetTenantStatus returns the derived operational status.
func (h *Handlers) HandleGetTenantStatus(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	tenantID := req.GetString("tenant_id", "")
	if tenantID == "" {
		return mcp.NewToolResultError("tenant_id is required"), nil
	}

	raw, err := h.client.GetTenantStatus(ctx, tenantID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to get status: %v", err)), nil
	}

	text, err := formatStatus(raw)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse status: %v", err)), nil
	}

	return mcp.NewToolResultText(text), nil
}

// HandleGetTenant fetches a tenant record.
func (h *Handlers) HandleGetTenant(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	tenantID := req.GetString("tenant_id", "")
	if tenantID == "" {
		return mcp.NewToolResultError("tenant_id is required"), nil
	}

	raw, err := h.client.GetTenant(ctx, tenantID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to get tenant: %v", err)), nil
	}

	return mcp.NewToolResultText(formatJSON(raw)), nil
}

// HandleGetEntitlements lists the read-access answer for every feature.
func (h *Handlers) HandleGetEntitlements(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	tenantID := req.GetString("tenant_id", "")
	if tenantID == "" {
		return mcp.NewToolResultError("tenant_id is required"), nil
	}

	raw, err := h.client.GetEntitlements(ctx, tenantID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to get entitlements: %v", err)), nil
	}

	text, err := formatEntitlements(raw)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse entitlements: %v", err)), nil
	}

	return mcp.NewToolResultText(text), nil
}

// HandleGrantOverride sets a per-tenant feature override.
func (h *Handlers) HandleGrantOverride(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	tenantID := req.GetString("tenant_id", "")
	if tenantID == "" {
		return mcp.NewToolResultError("tenant_id is required"), nil
	}
	feature := req.GetString("feature", "")
	if feature == "" {
		return mcp.NewToolResultError("feature is required"), nil
	}
	reason := req.GetString("reason", "")
	if reason == "" {
		return mcp.NewToolResultError("reason is required"), nil
	}
	granted := req.GetBool("granted", true)

	_, err := h.client.GrantOverride(ctx, tenantID, feature, granted, reason)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Override write failed: %v", err)), nil
	}

	verb := "granted to"
	if !granted {
		verb = "blocked for"
	}
	return mcp.NewToolResultText(fmt.Sprintf(
		"Feature '%s' %s tenant %s.\n"+
			"Reason: %s\n"+
			"The override beats the tier default until removed with remove_override.",
		feature, verb, tenantID, reason)), nil
}

// HandleRemoveOverride deletes an override.
func (h *Handlers) HandleRemoveOverride(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	tenantID := req.GetString("tenant_id", "")
	if tenantID == "" {
		return mcp.NewToolResultError("tenant_id is required"), nil
	}
	feature := req.GetString("feature", "")
	if feature == "" {
		return mcp.NewToolResultError("feature is required"), nil
	}

	_, err := h.client.RemoveOverride(ctx, tenantID, feature)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Override removal failed: %v", err)), nil
	}

	return mcp.NewToolResultText(fmt.Sprintf(
		"Override on '%s' removed for tenant %s. The feature now follows the subscription tier.",
		feature, tenantID)), nil
}

// HandleListOverrides lists a tenant's overrides.
func (h *Handlers) HandleListOverrides(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	tenantID := req.GetString("tenant_id", "")
	if tenantID == "" {
		return mcp.NewToolResultError("tenant_id is required"), nil
	}

	raw, err := h.client.ListOverrides(ctx, tenantID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to list overrides: %v", err)), nil
	}

	text, err := formatOverrides(raw)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse overrides: %v", err)), nil
	}

	return mcp.NewToolResultText(text), nil
}

// HandleListTiers lists the tier catalog.
func (h *Handlers) HandleListTiers(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	raw, err := h.client.ListTiers(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to list tiers: %v", err)), nil
	}

	text, err := formatTiers(raw)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse tiers: %v", err)), nil
	}

	return mcp.NewToolResultText(text), nil
}

// --- Formatting helpers ---

func formatDecision(raw json.RawMessage, feature string) (string, error) {
	var dec struct {
		Allowed       bool   `json:"allowed"`
		Reason        string `json:"reason"`
		TierIssue     bool   `json:"tierIssue"`
		RoleIssue     bool   `json:"roleIssue"`
		SuggestedTier string `json:"suggestedTier"`
		Status        string `json:"status"`
	}
	if err := json.Unmarshal(raw, &dec); err != nil {
		return "", err
	}

	var sb strings.Builder
	if dec.Allowed {
		fmt.Fprintf(&sb, "ALLOWED: '%s' is available to this tenant.\n", feature)
		fmt.Fprintf(&sb, "Tenant status: %s\n", dec.Status)
		return sb.String(), nil
	}

	fmt.Fprintf(&sb, "DENIED: '%s' is not available.\n", feature)
	fmt.Fprintf(&sb, "Reason: %s\n", dec.Reason)
	fmt.Fprintf(&sb, "Tenant status: %s\n", dec.Status)
	switch {
	case dec.TierIssue && dec.SuggestedTier != "":
		fmt.Fprintf(&sb, "Fix: upgrade the subscription to the '%s' tier.\n", dec.SuggestedTier)
	case dec.TierIssue:
		sb.WriteString("Fix: this is a subscription problem, not a role problem.\n")
	case dec.RoleIssue:
		sb.WriteString("Fix: a more senior role is required for this operation.\n")
	default:
		sb.WriteString("The platform could not answer reliably; retry shortly.\n")
	}
	return sb.String(), nil
}

func formatStatus(raw json.RawMessage) (string, error) {
	var resp struct {
		TenantID     string `json:"tenant_id"`
		Status       string `json:"status"`
		ReadOnly     bool   `json:"read_only"`
		Inactive     bool   `json:"inactive"`
		NextBoundary string `json:"next_boundary"`
		Raw          struct {
			SubscriptionStatus string `json:"subscription_status"`
			SubscriptionTier   string `json:"subscription_tier"`
			TrialEndsAt        string `json:"trial_ends_at"`
			SubscriptionEndsAt string `json:"subscription_ends_at"`
		} `json:"raw"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return "", err
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Tenant %s is %s.\n", resp.TenantID, resp.Status)
	if resp.ReadOnly {
		sb.WriteString("The tenant is read-only: existing data serves, writes are blocked.\n")
	}
	if resp.Inactive {
		sb.WriteString("The tenant is inactive: all feature access is denied.\n")
	}
	fmt.Fprintf(&sb, "Subscription: %s on the '%s' tier\n", resp.Raw.SubscriptionStatus, resp.Raw.SubscriptionTier)
	if resp.Raw.TrialEndsAt != "" {
		fmt.Fprintf(&sb, "Trial ends: %s\n", resp.Raw.TrialEndsAt)
	}
	if resp.Raw.SubscriptionEndsAt != "" {
		fmt.Fprintf(&sb, "Subscription ends: %s\n", resp.Raw.SubscriptionEndsAt)
	}
	if resp.NextBoundary != "" {
		fmt.Fprintf(&sb, "Status can next change at: %s\n", resp.NextBoundary)
	}
	return sb.String(), nil
}

func formatEntitlements(raw json.RawMessage) (string, error) {
	var resp struct {
		TenantID     string `json:"tenant_id"`
		Entitlements []struct {
			Feature string `json:"feature"`
			Allowed bool   `json:"allowed"`
			Reason  string `json:"reason"`
		} `json:"entitlements"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return "", err
	}
	if len(resp.Entitlements) == 0 {
		return "No catalog features found.", nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Entitlements for tenant %s:\n\n", resp.TenantID)
	for _, e := range resp.Entitlements {
		if e.Allowed {
			fmt.Fprintf(&sb, "  [x] %s\n", e.Feature)
		} else {
			fmt.Fprintf(&sb, "  [ ] %s (%s)\n", e.Feature, e.Reason)
		}
	}
	return sb.String(), nil
}

func formatOverrides(raw json.RawMessage) (string, error) {
	var resp struct {
		Overrides []struct {
			Feature   string `json:"feature"`
			Granted   bool   `json:"granted"`
			Reason    string `json:"reason"`
			GrantedBy string `json:"grantedBy"`
		} `json:"overrides"`
		Count int `json:"count"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return "", err
	}
	if len(resp.Overrides) == 0 {
		return "No overrides set; every feature follows the subscription tier.", nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "%d override(s):\n\n", len(resp.Overrides))
	for i, ov := range resp.Overrides {
		verb := "GRANT"
		if !ov.Granted {
			verb = "BLOCK"
		}
		fmt.Fprintf(&sb, "%d. %s %s\n", i+1, verb, ov.Feature)
		if ov.Reason != "" {
			fmt.Fprintf(&sb, "   Reason: %s\n", ov.Reason)
		}
		if ov.GrantedBy != "" {
			fmt.Fprintf(&sb, "   Set by: %s\n", ov.GrantedBy)
		}
	}
	return sb.String(), nil
}

func formatTiers(raw json.RawMessage) (string, error) {
	var resp struct {
		Tiers []struct {
			Tier         string   `json:"tier"`
			DisplayName  string   `json:"displayName"`
			PriceCents   int      `json:"priceCents"`
			Features     []string `json:"features"`
			MaxSKUs      int      `json:"maxSkus"`
			MaxLocations int      `json:"maxLocations"`
		} `json:"tiers"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return "", err
	}
	if len(resp.Tiers) == 0 {
		return "No tiers found.", nil
	}

	var sb strings.Builder
	for i, d := range resp.Tiers {
		fmt.Fprintf(&sb, "%s (%s): $%d.%02d/month\n", d.DisplayName, d.Tier, d.PriceCents/100, d.PriceCents%100)
		fmt.Fprintf(&sb, "  Features: %s\n", strings.Join(d.Features, ", "))
		fmt.Fprintf(&sb, "  Limits: %s SKUs, %s locations\n", limitString(d.MaxSKUs), limitString(d.MaxLocations))
		if i < len(resp.Tiers)-1 {
			sb.WriteString("\n")
		}
	}
	return sb.String(), nil
}

func limitString(n int) string {
	if n == 0 {
		return "unlimited"
	}
	return fmt.Sprintf("%d", n)
}

func formatJSON(raw json.RawMessage) string {
	var pretty bytes.Buffer
	if err := json.Indent(&pretty, raw, "", "  "); err != nil {
		return string(raw)
	}
	return pretty.String()
}
