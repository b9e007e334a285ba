package auth

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/storeloft/storeloft/internal/rbac"
)

const (
	// ContextKeyAPIKey is the gin context key for the validated API key.
	ContextKeyAPIKey = "apiKey"
	// ContextKeyActorRole is the gin context key for the actor's role.
	ContextKeyActorRole = "actorRole"
	// ContextKeyTenantID is the gin context key for the actor's tenant.
	ContextKeyTenantID = "actorTenantID"
)

// Middleware extracts and validates the API key from the request, or
// recognizes the platform admin secret. It never rejects; pair it with
// RequireAuth/RequireRole on routes that need enforcement.
func Middleware(m *Manager, adminSecret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if secret := c.GetHeader("X-Admin-Secret"); secret != "" && adminSecret != "" {
			if subtle.ConstantTimeCompare([]byte(secret), []byte(adminSecret)) == 1 {
				c.Set(ContextKeyActorRole, rbac.RolePlatformAdmin)
				c.Next()
				return
			}
		}

		apiKey := c.GetHeader("Authorization")
		if apiKey == "" {
			apiKey = c.GetHeader("X-API-Key")
		}
		apiKey = strings.TrimSpace(strings.TrimPrefix(apiKey, "Bearer "))

		if apiKey != "" {
			key, err := m.ValidateKey(c.Request.Context(), apiKey)
			if err == nil {
				c.Set(ContextKeyAPIKey, key)
				c.Set(ContextKeyActorRole, key.Role)
				c.Set(ContextKeyTenantID, key.TenantID)
			}
		}

		c.Next()
	}
}

// RequireAuth rejects requests that did not authenticate.
func RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, ok := c.Get(ContextKeyActorRole); !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   "unauthorized",
				"message": "API key required. Include 'Authorization: Bearer sk_...' header.",
			})
			return
		}
		c.Next()
	}
}

// RequireRole rejects authenticated requests whose role is below min.
func RequireRole(min rbac.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		role, ok := actorRole(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   "unauthorized",
				"message": "API key required.",
			})
			return
		}
		if !role.Covers(min) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error":   "forbidden",
				"message": "insufficient role for this operation",
			})
			return
		}
		c.Next()
	}
}

// RequireTenant rejects requests whose actor does not belong to the :id
// tenant. Org and platform admins pass regardless.
func RequireTenant(paramName string) gin.HandlerFunc {
	return func(c *gin.Context) {
		role, ok := actorRole(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   "unauthorized",
				"message": "API key required.",
			})
			return
		}
		if role.Covers(rbac.RoleOrgAdmin) {
			c.Next()
			return
		}
		if ActorTenantID(c) != c.Param(paramName) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error":   "forbidden",
				"message": "not your tenant",
			})
			return
		}
		c.Next()
	}
}

func actorRole(c *gin.Context) (rbac.Role, bool) {
	v, ok := c.Get(ContextKeyActorRole)
	if !ok {
		return "", false
	}
	role, ok := v.(rbac.Role)
	return role, ok
}

// ActorRole returns the authenticated actor's role, or tenant_user when the
// request is unauthenticated (the weakest authority, never an escalation).
func ActorRole(c *gin.Context) rbac.Role {
	if role, ok := actorRole(c); ok {
		return role
	}
	return rbac.RoleTenantUser
}

// ActorTenantID returns the authenticated actor's tenant, or "".
func ActorTenantID(c *gin.Context) string {
	v, ok := c.Get(ContextKeyTenantID)
	if !ok {
		return ""
	}
	id, _ := v.(string)
	return id
}

// ActorID returns a stable identifier for the acting principal, for
// attribution fields like FeatureOverride.GrantedBy.
func ActorID(c *gin.Context) string {
	if v, ok := c.Get(ContextKeyAPIKey); ok {
		if key, ok := v.(*APIKey); ok {
			return key.ID
		}
	}
	if role, ok := actorRole(c); ok && role == rbac.RolePlatformAdmin {
		return "platform-admin"
	}
	return "anonymous"
}

// IsAuthenticated reports whether the request carries a valid principal.
func IsAuthenticated(c *gin.Context) bool {
	_, ok := c.Get(ContextKeyActorRole)
	return ok
}
