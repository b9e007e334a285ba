package admin

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/storeloft/storeloft/internal/auth"
	"github.com/storeloft/storeloft/internal/catalog"
	"github.com/storeloft/storeloft/internal/idgen"
	"github.com/storeloft/storeloft/internal/lifecycle"
	"github.com/storeloft/storeloft/internal/metrics"
	"github.com/storeloft/storeloft/internal/override"
	"github.com/storeloft/storeloft/internal/pagination"
	"github.com/storeloft/storeloft/internal/tenant"
	"github.com/storeloft/storeloft/internal/validation"
)

// Invalidator drops cached access decisions for a tenant.
type Invalidator interface {
	InvalidateTenant(tenantID string)
}

// Handler provides platform-admin HTTP endpoints.
type Handler struct {
	tenants     tenant.Store
	overrides   override.Store
	cat         *catalog.Catalog
	invalidator Invalidator
}

// NewHandler creates a new admin handler. invalidator may be nil.
func NewHandler(tenants tenant.Store, overrides override.Store, cat *catalog.Catalog, invalidator Invalidator) *Handler {
	return &Handler{tenants: tenants, overrides: overrides, cat: cat, invalidator: invalidator}
}

// RegisterRoutes sets up admin routes. Mount on a platform-admin group.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/admin/showcase", h.provisionShowcase)
	r.GET("/admin/tenants", h.listTenants)
	r.GET("/admin/tenants/:id/inspect", h.inspectTenant)
	r.POST("/admin/status-sweep", h.statusSweep)
}

// listTenants pages through the tenant directory with an opaque cursor.
func (h *Handler) listTenants(c *gin.Context) {
	limit := 50
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > 200 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_limit", "message": "limit must be between 1 and 200"})
			return
		}
		limit = n
	}

	cur, err := pagination.Decode(c.Query("cursor"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_cursor", "message": "invalid cursor"})
		return
	}
	afterID := ""
	if cur != nil {
		afterID = cur.ID
	}

	page, err := h.tenants.List(c.Request.Context(), limit+1, afterID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": err.Error()})
		return
	}

	page, next, hasMore := pagination.ComputePage(page, limit, func(t *tenant.Tenant) (time.Time, string) {
		return t.CreatedAt, t.ID
	})
	if page == nil {
		page = []*tenant.Tenant{}
	}

	c.JSON(http.StatusOK, gin.H{
		"tenants":    page,
		"count":      len(page),
		"nextCursor": next,
		"hasMore":    hasMore,
	})
}

// provisionShowcase creates a demo tenant on the directory tier and grants
// it the fixed showcase feature list via overrides, so the storefront demo
// shows paid capability without a paid subscription.
func (h *Handler) provisionShowcase(c *gin.Context) {
	var req struct {
		Name string `json:"name" binding:"required"`
		Slug string `json:"slug" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "name and slug required"})
		return
	}

	req.Slug = validation.SanitizeSlug(req.Slug)
	if !validation.IsValidSlug(req.Slug) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_slug", "message": "invalid slug"})
		return
	}

	now := time.Now()
	t := &tenant.Tenant{
		ID:                 idgen.WithPrefix("ten_"),
		Name:               validation.SanitizeString(req.Name, 200),
		Slug:               req.Slug,
		SubscriptionStatus: lifecycle.RawActive,
		SubscriptionTier:   catalog.TierDirectoryOnly,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	if err := h.tenants.Create(c.Request.Context(), t); err != nil {
		if errors.Is(err, tenant.ErrSlugTaken) {
			c.JSON(http.StatusConflict, gin.H{"error": "slug_taken", "message": "slug already in use"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "failed to create tenant"})
		return
	}

	actor := auth.ActorID(c)
	granted := make([]catalog.Feature, 0, len(ShowcaseFeatures))
	for _, f := range ShowcaseFeatures {
		ov := &override.FeatureOverride{
			TenantID:  t.ID,
			Feature:   f,
			Granted:   true,
			Reason:    "showcase tenant",
			GrantedBy: actor,
			UpdatedAt: now,
		}
		if err := h.overrides.Upsert(c.Request.Context(), ov); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{
				"error":   "internal_error",
				"message": "tenant created but override grant failed",
				"tenant":  t,
			})
			return
		}
		metrics.OverrideWritesTotal.WithLabelValues("upsert").Inc()
		granted = append(granted, f)
	}

	if h.invalidator != nil {
		h.invalidator.InvalidateTenant(t.ID)
	}

	c.JSON(http.StatusCreated, gin.H{"tenant": t, "granted": granted})
}

// inspectTenant reports, for every catalog feature, how the tier default
// and any override combine into the effective tier-gate answer.
func (h *Handler) inspectTenant(c *gin.Context) {
	t, err := h.tenants.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, tenant.ErrTenantNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": "tenant not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": err.Error()})
		return
	}

	ovs, err := h.overrides.ListByTenant(c.Request.Context(), t.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": err.Error()})
		return
	}
	byFeature := make(map[catalog.Feature]*override.FeatureOverride, len(ovs))
	for _, ov := range ovs {
		byFeature[ov.Feature] = ov
	}

	def := h.cat.Lookup(t.SubscriptionTier)
	report := InspectionReport{
		TenantID:  t.ID,
		Tier:      t.SubscriptionTier,
		Status:    t.OperationalStatus(time.Now()),
		Timestamp: time.Now(),
	}
	for _, f := range h.cat.Features() {
		row := FeatureInspection{
			Feature: f,
			InTier:  def.HasFeature(f),
		}
		if ov, ok := byFeature[f]; ok {
			row.Overridden = true
			row.OverrideGrant = ov.Granted
			row.Effective = ov.Granted
		} else {
			row.Effective = row.InTier
		}
		report.Features = append(report.Features, row)
	}

	c.JSON(http.StatusOK, report)
}

// statusSweep derives the operational status of every tenant and refreshes
// the tenants_by_status gauge.
func (h *Handler) statusSweep(c *gin.Context) {
	start := time.Now()
	counts := make(map[lifecycle.Status]int)
	total := 0

	afterID := ""
	for {
		page, err := h.tenants.List(c.Request.Context(), 500, afterID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": err.Error()})
			return
		}
		if len(page) == 0 {
			break
		}
		for _, t := range page {
			counts[t.OperationalStatus(start)]++
			total++
		}
		afterID = page[len(page)-1].ID
	}

	for status, n := range counts {
		metrics.TenantsByStatus.WithLabelValues(string(status)).Set(float64(n))
	}

	c.JSON(http.StatusOK, SweepReport{
		Counts:    counts,
		Total:     total,
		Duration:  time.Since(start) / time.Millisecond,
		Timestamp: start,
	})
}
