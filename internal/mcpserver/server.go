package mcpserver

import (
	"github.com/mark3labs/mcp-go/server"
)

// NewMCPServer creates a configured MCP server with all Storeloft tools registered.
func NewMCPServer(cfg Config) *server.MCPServer {
	s := server.NewMCPServer("storeloft", "1.0.0")
	client := NewStoreloftClient(cfg)
	h := NewHandlers(client)

	s.AddTool(ToolCheckAccess, h.HandleCheckAccess)
	s.AddTool(ToolGetTenantStatus, h.HandleGetTenantStatus)
	s.AddTool(ToolGetTenant, h.HandleGetTenant)
	s.AddTool(ToolGetEntitlements, h.HandleGetEntitlements)
	s.AddTool(ToolGrantOverride, h.HandleGrantOverride)
	s.AddTool(ToolRemoveOverride, h.HandleRemoveOverride)
	s.AddTool(ToolListOverrides, h.HandleListOverrides)
	s.AddTool(ToolListTiers, h.HandleListTiers)

	return s
}
