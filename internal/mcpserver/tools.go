package mcpserver

import "github.com/mark3labs/mcp-go/mcp"

// Tool definitions for the Storeloft MCP server.
// Descriptions are what the LLM reads to decide which tool to use.

var ToolCheckAccess = mcp.NewTool("check_access",
	mcp.WithDescription(
		"Check whether a tenant can use a feature on Storeloft. "+
			"Returns the full decision: allowed or denied, the deny reason, "+
			"whether the problem is the subscription tier or the actor's role, "+
			"and the cheapest tier that would unlock the feature."),
	mcp.WithString("tenant_id",
		mcp.Required(),
		mcp.Description("The tenant's ID (e.g. 'ten_1a2b...')")),
	mcp.WithString("feature",
		mcp.Required(),
		mcp.Description("Feature to check (e.g. 'storefront', 'bulk_upload', 'analytics_dashboard')")),
	mcp.WithString("permission",
		mcp.Required(),
		mcp.Description("Permission type being exercised"),
		mcp.Enum("read", "write", "admin")),
	mcp.WithString("role",
		mcp.Description("Role to check as. Omit to use your API key's own role. "+
			"You can only check with roles at or below your own."),
		mcp.Enum("tenant_user", "tenant_manager", "tenant_admin", "org_admin", "platform_admin")),
)

var ToolGetTenantStatus = mcp.NewTool("get_tenant_status",
	mcp.WithDescription(
		"Get a tenant's derived operational status: active, trial, maintenance "+
			"(read-only), frozen, or canceled. Also shows the raw subscription "+
			"signals and the next timestamp at which the status can change."),
	mcp.WithString("tenant_id",
		mcp.Required(),
		mcp.Description("The tenant's ID")),
)

var ToolGetTenant = mcp.NewTool("get_tenant",
	mcp.WithDescription(
		"Fetch a tenant record: name, slug, subscription tier and status, "+
			"trial and subscription end dates."),
	mcp.WithString("tenant_id",
		mcp.Required(),
		mcp.Description("The tenant's ID")),
)

var ToolGetEntitlements = mcp.NewTool("get_entitlements",
	mcp.WithDescription(
		"List every catalog feature with whether this tenant can currently "+
			"read it. Use this to get the whole entitlement picture in one call."),
	mcp.WithString("tenant_id",
		mcp.Required(),
		mcp.Description("The tenant's ID")),
)

var ToolGrantOverride = mcp.NewTool("grant_override",
	mcp.WithDescription(
		"Grant or revoke a single feature for a tenant regardless of its tier. "+
			"An override beats the tier default until it is removed. "+
			"Requires an org admin API key and an audit reason."),
	mcp.WithString("tenant_id",
		mcp.Required(),
		mcp.Description("The tenant's ID")),
	mcp.WithString("feature",
		mcp.Required(),
		mcp.Description("Feature to override (e.g. 'bulk_upload')")),
	mcp.WithBoolean("granted",
		mcp.Required(),
		mcp.Description("true to grant the feature, false to block it")),
	mcp.WithString("reason",
		mcp.Required(),
		mcp.Description("Why the override is being set (kept for audit)")),
)

var ToolRemoveOverride = mcp.NewTool("remove_override",
	mcp.WithDescription(
		"Remove a feature override from a tenant, returning the feature to "+
			"its subscription tier default. Requires an org admin API key."),
	mcp.WithString("tenant_id",
		mcp.Required(),
		mcp.Description("The tenant's ID")),
	mcp.WithString("feature",
		mcp.Required(),
		mcp.Description("Feature whose override should be removed")),
)

var ToolListOverrides = mcp.NewTool("list_overrides",
	mcp.WithDescription(
		"List all feature overrides currently set on a tenant, with who set "+
			"them and why."),
	mcp.WithString("tenant_id",
		mcp.Required(),
		mcp.Description("The tenant's ID")),
)

var ToolListTiers = mcp.NewTool("list_tiers",
	mcp.WithDescription(
		"List the Storeloft subscription tiers with monthly pricing, seat and "+
			"product limits, and the features each tier includes. Use this to "+
			"recommend an upgrade path."),
)
