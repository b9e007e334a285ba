package override

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/storeloft/storeloft/internal/auth"
	"github.com/storeloft/storeloft/internal/catalog"
	"github.com/storeloft/storeloft/internal/metrics"
	"github.com/storeloft/storeloft/internal/validation"
)

// Invalidator drops cached access decisions for a tenant after an
// override write.
type Invalidator interface {
	InvalidateTenant(tenantID string)
}

// EventSink receives override change notifications for realtime fan-out.
type EventSink interface {
	Publish(event string, tenantID string, payload any)
}

// Handler provides the override administration surface: per-tenant
// feature grants and revocations.
type Handler struct {
	store       Store
	cat         *catalog.Catalog
	invalidator Invalidator
	events      EventSink
}

// NewHandler creates an override handler. invalidator and events may be nil.
func NewHandler(store Store, cat *catalog.Catalog, invalidator Invalidator, events EventSink) *Handler {
	return &Handler{store: store, cat: cat, invalidator: invalidator, events: events}
}

// RegisterRoutes sets up override routes. Mount on an org-admin group:
// overrides are platform/org tooling, not tenant self-service.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/tenants/:id/overrides", h.List)
	r.PUT("/tenants/:id/overrides/:feature", h.Upsert)
	r.DELETE("/tenants/:id/overrides/:feature", h.Delete)
}

// List handles GET /v1/tenants/:id/overrides
func (h *Handler) List(c *gin.Context) {
	tenantID := c.Param("id")

	overrides, err := h.store.ListByTenant(c.Request.Context(), tenantID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"overrides": overrides, "count": len(overrides)})
}

// Upsert handles PUT /v1/tenants/:id/overrides/:feature — create or
// replace the override for this (tenant, feature) key. Last writer wins;
// no history is kept here.
func (h *Handler) Upsert(c *gin.Context) {
	tenantID := c.Param("id")
	feature := catalog.Feature(c.Param("feature"))
	if !h.cat.ValidFeature(feature) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown_feature", "message": "feature is not part of the catalog"})
		return
	}

	var req struct {
		Granted bool   `json:"granted"`
		Reason  string `json:"reason" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "granted and reason required"})
		return
	}

	ov := &FeatureOverride{
		TenantID:  tenantID,
		Feature:   feature,
		Granted:   req.Granted,
		Reason:    validation.SanitizeString(req.Reason, 500),
		GrantedBy: auth.ActorID(c),
		UpdatedAt: time.Now(),
	}

	if err := h.store.Upsert(c.Request.Context(), ov); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "failed to write override"})
		return
	}

	metrics.OverrideWritesTotal.WithLabelValues("upsert").Inc()
	h.invalidate(tenantID)

	event := "override_granted"
	if !req.Granted {
		event = "override_revoked"
	}
	h.publish(event, tenantID, gin.H{"feature": feature, "granted": req.Granted})

	c.JSON(http.StatusOK, gin.H{"override": ov})
}

// Delete handles DELETE /v1/tenants/:id/overrides/:feature — remove the
// override entirely, returning the feature to its tier default.
func (h *Handler) Delete(c *gin.Context) {
	tenantID := c.Param("id")
	feature := catalog.Feature(c.Param("feature"))

	if err := h.store.Delete(c.Request.Context(), tenantID, feature); err != nil {
		if errors.Is(err, ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": "no override for this feature"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "failed to delete override"})
		return
	}

	metrics.OverrideWritesTotal.WithLabelValues("delete").Inc()
	h.invalidate(tenantID)
	h.publish("override_removed", tenantID, gin.H{"feature": feature})

	c.JSON(http.StatusOK, gin.H{"message": "override removed", "feature": feature})
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
