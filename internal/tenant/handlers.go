package tenant

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/storeloft/storeloft/internal/auth"
	"github.com/storeloft/storeloft/internal/catalog"
	"github.com/storeloft/storeloft/internal/idgen"
	"github.com/storeloft/storeloft/internal/lifecycle"
	"github.com/storeloft/storeloft/internal/logging"
	"github.com/storeloft/storeloft/internal/rbac"
	"github.com/storeloft/storeloft/internal/validation"
)

// Invalidator drops cached access decisions for a tenant after its
// subscription fields change.
type Invalidator interface {
	InvalidateTenant(tenantID string)
}

// EventSink receives tenant change notifications for realtime fan-out.
type EventSink interface {
	Publish(event string, tenantID string, payload any)
}

// Handler provides HTTP endpoints for tenant management.
type Handler struct {
	store       Store
	cat         *catalog.Catalog
	authMgr     *auth.Manager
	invalidator Invalidator
	events      EventSink
}

// NewHandler creates a new tenant handler. invalidator and events may be nil.
func NewHandler(store Store, cat *catalog.Catalog, authMgr *auth.Manager, invalidator Invalidator, events EventSink) *Handler {
	return &Handler{store: store, cat: cat, authMgr: authMgr, invalidator: invalidator, events: events}
}

// RegisterAdminRoutes sets up tenant routes requiring org-admin authority.
func (h *Handler) RegisterAdminRoutes(r *gin.RouterGroup) {
	r.POST("/tenants", h.CreateTenant)
	r.GET("/tenants", h.ListTenants)
	r.PATCH("/tenants/:id/subscription", h.UpdateSubscription)
}

// RegisterProtectedRoutes sets up tenant routes that require API key auth.
// Access is checked per-handler: tenant members see their own tenant only.
func (h *Handler) RegisterProtectedRoutes(r *gin.RouterGroup) {
	r.GET("/tenants/:id", h.GetTenant)
	r.PATCH("/tenants/:id", h.UpdateTenant)
	r.GET("/tenants/:id/status", h.GetStatus)
	r.POST("/tenants/:id/keys", h.CreateKey)
	r.GET("/tenants/:id/keys", h.ListKeys)
	r.DELETE("/tenants/:id/keys/:keyId", h.RevokeKey)
}

// ---------- Admin endpoints ----------

// CreateTenant handles POST /v1/tenants (org admin or above).
func (h *Handler) CreateTenant(c *gin.Context) {
	var req struct {
		Name      string `json:"name" binding:"required"`
		Slug      string `json:"slug" binding:"required"`
		Tier      string `json:"tier"`
		TrialDays int    `json:"trial_days"`
		StripeID  string `json:"stripe_customer_id"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "name and slug required"})
		return
	}

	req.Slug = validation.SanitizeSlug(req.Slug)
	if !validation.IsValidSlug(req.Slug) {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_slug",
			"message": "slug must be 3-63 lowercase alphanumeric/hyphens, start/end with alphanumeric",
		})
		return
	}

	tier := catalog.Tier(req.Tier)
	if req.Tier == "" {
		tier = catalog.TierStarter
	}
	if !h.cat.Known(tier) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_tier", "message": "unknown tier"})
		return
	}

	now := time.Now()
	t := &Tenant{
		ID:                 idgen.WithPrefix("ten_"),
		Name:               validation.SanitizeString(req.Name, 200),
		Slug:               req.Slug,
		SubscriptionStatus: lifecycle.RawActive,
		SubscriptionTier:   tier,
		StripeCustomerID:   req.StripeID,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	if req.TrialDays > 0 {
		t.SubscriptionStatus = lifecycle.RawTrial
		trialEnd := now.AddDate(0, 0, req.TrialDays)
		t.TrialEndsAt = &trialEnd
	}

	if err := h.store.Create(c.Request.Context(), t); err != nil {
		if errors.Is(err, ErrSlugTaken) {
			c.JSON(http.StatusConflict, gin.H{"error": "slug_taken", "message": "slug already in use"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "failed to create tenant"})
		return
	}

	h.publish("tenant_created", t.ID, gin.H{"slug": t.Slug, "tier": t.SubscriptionTier})

	// Issue a tenant admin key so the new tenant can bootstrap itself.
	rawKey, keyInfo, err := h.authMgr.GenerateKey(c.Request.Context(), t.ID, rbac.RoleTenantAdmin, "Tenant admin key")
	if err != nil {
		logging.L(c.Request.Context()).Error("admin key generation failed", "tenant_id", t.ID, "error", err)
		c.JSON(http.StatusCreated, gin.H{
			"tenant":  t,
			"warning": "Tenant created but admin key generation failed. Use the keys API to create one.",
		})
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"tenant":  t,
		"apiKey":  rawKey,
		"keyId":   keyInfo.ID,
		"warning": "Store this API key securely. It will not be shown again.",
	})
}

// ListTenants handles GET /v1/tenants (org admin or above).
func (h *Handler) ListTenants(c *gin.Context) {
	limit := 50
	afterID := c.Query("after")

	tenants, err := h.store.List(c.Request.Context(), limit+1, afterID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": err.Error()})
		return
	}

	hasMore := len(tenants) > limit
	if hasMore {
		tenants = tenants[:limit]
	}
	next := ""
	if hasMore {
		next = tenants[len(tenants)-1].ID
	}

	c.JSON(http.StatusOK, gin.H{
		"tenants":  tenants,
		"count":    len(tenants),
		"has_more": hasMore,
		"next":     next,
	})
}

// UpdateSubscription handles PATCH /v1/tenants/:id/subscription (org admin
// or above). This is the admin-side mirror of the billing webhook: it writes
// the raw subscription signals and never a derived status.
func (h *Handler) UpdateSubscription(c *gin.Context) {
	t, ok := h.load(c)
	if !ok {
		return
	}

	var req struct {
		Status             *string    `json:"status"`
		Tier               *string    `json:"tier"`
		TrialEndsAt        *time.Time `json:"trial_ends_at"`
		SubscriptionEndsAt *time.Time `json:"subscription_ends_at"`
		ClearTrialEnd      bool       `json:"clear_trial_end"`
		ClearSubEnd        bool       `json:"clear_subscription_end"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "invalid body"})
		return
	}

	if req.Status != nil {
		t.SubscriptionStatus = lifecycle.RawStatus(*req.Status)
	}
	if req.Tier != nil {
		tier := catalog.Tier(*req.Tier)
		if !h.cat.Known(tier) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_tier", "message": "unknown tier"})
			return
		}
		t.SubscriptionTier = tier
	}
	if req.TrialEndsAt != nil {
		t.TrialEndsAt = req.TrialEndsAt
	}
	if req.SubscriptionEndsAt != nil {
		t.SubscriptionEndsAt = req.SubscriptionEndsAt
	}
	if req.ClearTrialEnd {
		t.TrialEndsAt = nil
	}
	if req.ClearSubEnd {
		t.SubscriptionEndsAt = nil
	}
	t.UpdatedAt = time.Now()

	if err := h.store.Update(c.Request.Context(), t); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "failed to update tenant"})
		return
	}

	h.invalidate(t.ID)
	h.publish("subscription_changed", t.ID, gin.H{
		"status": t.SubscriptionStatus,
		"tier":   t.SubscriptionTier,
	})

	c.JSON(http.StatusOK, gin.H{"tenant": t})
}

// ---------- Tenant-scoped endpoints ----------

// GetTenant handles GET /v1/tenants/:id
func (h *Handler) GetTenant(c *gin.Context) {
	t, ok := h.load(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{"tenant": t})
}

// UpdateTenant handles PATCH /v1/tenants/:id — display fields only.
// Subscription fields go through UpdateSubscription or the billing webhook.
func (h *Handler) UpdateTenant(c *gin.Context) {
	t, ok := h.load(c)
	if !ok {
		return
	}

	var req struct {
		Name *string `json:"name"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "invalid body"})
		return
	}

	if req.Name != nil {
		t.Name = validation.SanitizeString(*req.Name, 200)
	}
	t.UpdatedAt = time.Now()

	if err := h.store.Update(c.Request.Context(), t); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "failed to update tenant"})
		return
	}

	h.publish("tenant_updated", t.ID, gin.H{"name": t.Name})

	c.JSON(http.StatusOK, gin.H{"tenant": t})
}

// GetStatus handles GET /v1/tenants/:id/status — the derived operational
// status at the current instant, plus the raw signals it came from.
func (h *Handler) GetStatus(c *gin.Context) {
	t, ok := h.load(c)
	if !ok {
		return
	}

	now := time.Now()
	status := t.OperationalStatus(now)

	resp := gin.H{
		"tenant_id": t.ID,
		"status":    status,
		"read_only": status.ReadOnly(),
		"inactive":  status.Inactive(),
		"raw": gin.H{
			"subscription_status":  t.SubscriptionStatus,
			"subscription_tier":    t.SubscriptionTier,
			"trial_ends_at":        t.TrialEndsAt,
			"subscription_ends_at": t.SubscriptionEndsAt,
		},
	}
	if boundary := t.NextBoundary(now); !boundary.IsZero() {
		resp["next_boundary"] = boundary
	}

	c.JSON(http.StatusOK, resp)
}

// CreateKey handles POST /v1/tenants/:id/keys — issue a tenant-scoped API key.
func (h *Handler) CreateKey(c *gin.Context) {
	tenantID := c.Param("id")

	var req struct {
		Role string `json:"role" binding:"required"`
		Name string `json:"name"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "role required"})
		return
	}
	if req.Name == "" {
		req.Name = "Tenant key"
	}

	role := rbac.Role(req.Role)
	if !role.Valid() || role == rbac.RolePlatformAdmin {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_role", "message": "unknown or non-issuable role"})
		return
	}
	// No key may carry more authority than the actor issuing it.
	if !auth.ActorRole(c).Covers(role) {
		c.JSON(http.StatusForbidden, gin.H{"error": "forbidden", "message": "cannot issue a key above your own role"})
		return
	}

	rawKey, keyInfo, err := h.authMgr.GenerateKey(c.Request.Context(), tenantID, role, req.Name)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "failed to create key"})
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"apiKey":  rawKey,
		"keyId":   keyInfo.ID,
		"role":    keyInfo.Role,
		"name":    keyInfo.Name,
		"warning": "Store this key securely. It will not be shown again.",
	})
}

// ListKeys handles GET /v1/tenants/:id/keys
func (h *Handler) ListKeys(c *gin.Context) {
	keys, err := h.authMgr.ListKeys(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"keys": keys, "count": len(keys)})
}

// RevokeKey handles DELETE /v1/tenants/:id/keys/:keyId
func (h *Handler) RevokeKey(c *gin.Context) {
	keyID := c.Param("keyId")
	if err := h.authMgr.RevokeKey(c.Request.Context(), keyID, c.Param("id")); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "key_not_found", "message": "key not found in this tenant"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "key revoked", "keyId": keyID})
}

// ---------- helpers ----------

func (h *Handler) load(c *gin.Context) (*Tenant, bool) {
	t, err := h.store.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, ErrTenantNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": "tenant not found"})
			return nil, false
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": err.Error()})
		return nil, false
	}
	return t, true
}

func (h *Handler) invalidate(tenantID string) {
	if h.invalidator != nil {
		h.invalidator.InvalidateTenant(tenantID)
	}
}

func (h *Handler) publish(event, tenantID string, payload any) {
	if h.events != nil {
		h.events.Publish(event, tenantID, payload)
	}
}
