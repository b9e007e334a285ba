package access

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/storeloft/storeloft/internal/auth"
	"github.com/storeloft/storeloft/internal/catalog"
	"github.com/storeloft/storeloft/internal/rbac"
	"github.com/storeloft/storeloft/internal/tenant"
)

// Handler exposes access checks over HTTP.
type Handler struct {
	engine *Engine
	cat    *catalog.Catalog
}

// NewHandler creates an access check handler.
func NewHandler(engine *Engine, cat *catalog.Catalog) *Handler {
	return &Handler{engine: engine, cat: cat}
}

// RegisterRoutes registers access endpoints on the router group.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/access/check", h.Check)
	r.GET("/tenants/:id/entitlements", h.Entitlements)
}

type checkRequest struct {
	TenantID   string `json:"tenant_id" binding:"required"`
	Feature    string `json:"feature" binding:"required"`
	Permission string `json:"permission" binding:"required"`
	// Role is optional; when omitted the authenticated actor's role is used.
	Role string `json:"role"`
}

// Check evaluates a single access question and returns the Decision.
// POST /v1/access/check
func (h *Handler) Check(c *gin.Context) {
	var req checkRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": err.Error(),
		})
		return
	}

	feature := catalog.Feature(req.Feature)
	if !h.cat.ValidFeature(feature) {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "unknown_feature",
			"message": "feature is not part of the catalog",
		})
		return
	}

	perm := rbac.Permission(req.Permission)
	if !perm.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "unknown_permission",
			"message": "permission must be read, write, or admin",
		})
		return
	}

	role := auth.ActorRole(c)
	if req.Role != "" {
		// Only a more senior actor may probe with an explicit role, so a
		// tenant user cannot answer questions as an admin.
		requested := rbac.Role(req.Role)
		if !requested.Valid() || !role.Covers(requested) {
			c.JSON(http.StatusForbidden, gin.H{
				"error":   "role_not_permitted",
				"message": "cannot check with a role above your own",
			})
			return
		}
		role = requested
	}

	// Tenant-level actors may only ask about their own tenant.
	if actorTenant := auth.ActorTenantID(c); actorTenant != "" && actorTenant != req.TenantID &&
		!auth.ActorRole(c).Covers(rbac.RoleOrgAdmin) {
		c.JSON(http.StatusForbidden, gin.H{
			"error":   "forbidden",
			"message": "cannot check access for another tenant",
		})
		return
	}

	dec, err := h.engine.Evaluate(c.Request.Context(), req.TenantID, feature, perm, role)
	if err != nil {
		if errors.Is(err, tenant.ErrTenantNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error":   "tenant_not_found",
				"message": "tenant does not exist",
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "access check failed",
		})
		return
	}

	c.JSON(http.StatusOK, dec)
}

type entitlement struct {
	Feature catalog.Feature `json:"feature"`
	Allowed bool            `json:"allowed"`
	Reason  string          `json:"reason,omitempty"`
}

// Entitlements evaluates read access for every catalog feature at once,
// for storefront bootstrapping.
// GET /v1/tenants/:id/entitlements
func (h *Handler) Entitlements(c *gin.Context) {
	tenantID := c.Param("id")
	role := auth.ActorRole(c)

	features := h.cat.Features()
	out := make([]entitlement, 0, len(features))
	for _, feature := range features {
		dec, err := h.engine.Evaluate(c.Request.Context(), tenantID, feature, rbac.PermissionRead, role)
		if err != nil {
			if errors.Is(err, tenant.ErrTenantNotFound) {
				c.JSON(http.StatusNotFound, gin.H{
					"error":   "tenant_not_found",
					"message": "tenant does not exist",
				})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{
				"error":   "internal_error",
				"message": "access check failed",
			})
			return
		}
		out = append(out, entitlement{Feature: feature, Allowed: dec.Allowed, Reason: dec.Reason})
	}

	c.JSON(http.StatusOK, gin.H{
		"tenant_id":    tenantID,
		"entitlements": out,
	})
}
