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

// RequireFeature returns middleware that gates a route group on a feature
// and permission type. The tenant is taken from the :id route param when
// present, otherwise from the authenticated actor's key. Denials mirror
// the Decision so clients can branch on tierIssue vs roleIssue.
func RequireFeature(engine *Engine, feature catalog.Feature, perm rbac.Permission) gin.HandlerFunc {
	return func(c *gin.Context) {
		tenantID := c.Param("id")
		if tenantID == "" {
			tenantID = auth.ActorTenantID(c)
		}
		if tenantID == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   "unauthorized",
				"message": "authentication required",
			})
			return
		}

		dec, err := engine.Evaluate(c.Request.Context(), tenantID, feature, perm, auth.ActorRole(c))
		if err != nil {
			if errors.Is(err, tenant.ErrTenantNotFound) {
				c.AbortWithStatusJSON(http.StatusNotFound, gin.H{
					"error":   "tenant_not_found",
					"message": "tenant does not exist",
				})
				return
			}
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
				"error":   "internal_error",
				"message": "access check failed",
			})
			return
		}

		if !dec.Allowed {
			c.AbortWithStatusJSON(denyStatus(dec), denyBody(dec))
			return
		}

		c.Next()
	}
}

func denyStatus(dec Decision) int {
	if dec.Reason == ReasonUnavailable {
		return http.StatusServiceUnavailable
	}
	if dec.TierIssue {
		// Tier and billing denials are payment problems, not permission ones.
		return http.StatusPaymentRequired
	}
	return http.StatusForbidden
}

func denyBody(dec Decision) gin.H {
	body := gin.H{
		"error":      denyCode(dec),
		"message":    dec.Reason,
		"tier_issue": dec.TierIssue,
		"role_issue": dec.RoleIssue,
	}
	if dec.SuggestedTier != nil {
		body["suggested_tier"] = *dec.SuggestedTier
	}
	return body
}

func denyCode(dec Decision) string {
	switch dec.Reason {
	case ReasonSubscriptionInactive:
		return "subscription_inactive"
	case ReasonUpgradeRequired:
		return "upgrade_required"
	case ReasonInsufficientRole:
		return "insufficient_role"
	default:
		return "access_unavailable"
	}
}
