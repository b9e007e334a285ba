// Package billing ingests Stripe webhook events and writes the raw
// subscription signals on tenant records. It never writes a derived
// operational status; the access engine recomputes that on read.
package billing

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/storeloft/storeloft/internal/catalog"
	"github.com/storeloft/storeloft/internal/lifecycle"
	"github.com/storeloft/storeloft/internal/logging"
	"github.com/storeloft/storeloft/internal/metrics"
	"github.com/storeloft/storeloft/internal/syncutil"
	"github.com/storeloft/storeloft/internal/tenant"
	"github.com/stripe/stripe-go/v81"
	"github.com/stripe/stripe-go/v81/webhook"
)

// DowngradeGraceWindow is how long a tenant keeps maintenance access
// after its paid subscription ends, before freezing.
const DowngradeGraceWindow = 30 * 24 * time.Hour

const maxWebhookBody = 64 * 1024

// Invalidator drops cached access decisions for a tenant.
type Invalidator interface {
	InvalidateTenant(tenantID string)
}

// EventSink receives subscription change notifications.
type EventSink interface {
	Publish(event string, tenantID string, payload any)
}

// Handler processes Stripe webhook deliveries.
type Handler struct {
	tenants       tenant.Store
	webhookSecret string
	invalidator   Invalidator
	events        EventSink

	// Stripe retries and delivers events concurrently; updates for the
	// same customer are read-modify-write, so serialize them per key.
	locks *syncutil.ContextShardedMutex
}

// NewHandler creates a billing webhook handler. invalidator and events
// may be nil.
func NewHandler(tenants tenant.Store, webhookSecret string, invalidator Invalidator, events EventSink) *Handler {
	return &Handler{
		tenants:       tenants,
		webhookSecret: webhookSecret,
		invalidator:   invalidator,
		events:        events,
		locks:         syncutil.NewContextShardedMutex(),
	}
}

// RegisterRoutes mounts the webhook endpoint. Mount on an unauthenticated
// group; the Stripe signature is the authentication.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/billing/webhook", h.Webhook)
}

// Webhook handles POST /v1/billing/webhook.
func (h *Handler) Webhook(c *gin.Context) {
	payload, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "cannot read body"})
		return
	}

	event, err := webhook.ConstructEventWithOptions(payload, c.GetHeader("Stripe-Signature"), h.webhookSecret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
	if err != nil {
		metrics.BillingEventsTotal.WithLabelValues("unknown", "bad_signature").Inc()
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_signature", "message": "webhook signature verification failed"})
		return
	}

	result, err := h.process(c, event)
	if err != nil {
		if errors.Is(err, tenant.ErrTenantNotFound) {
			// Unknown customer: acknowledge so Stripe stops retrying, but
			// record it. Provisioning may still be in flight.
			metrics.BillingEventsTotal.WithLabelValues(string(event.Type), "unknown_customer").Inc()
			logging.L(c.Request.Context()).Warn("billing event for unknown customer", "event_type", event.Type)
			c.JSON(http.StatusOK, gin.H{"received": true, "result": "unknown_customer"})
			return
		}
		metrics.BillingEventsTotal.WithLabelValues(string(event.Type), "error").Inc()
		logging.L(c.Request.Context()).Error("billing event processing failed", "event_type", event.Type, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "event processing failed"})
		return
	}

	metrics.BillingEventsTotal.WithLabelValues(string(event.Type), result).Inc()
	c.JSON(http.StatusOK, gin.H{"received": true, "result": result})
}

func (h *Handler) process(c *gin.Context, event stripe.Event) (string, error) {
	switch event.Type {
	case "customer.subscription.created", "customer.subscription.updated":
		var sub stripe.Subscription
		if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
			return "", err
		}
		return h.applySubscription(c, &sub)

	case "customer.subscription.deleted":
		var sub stripe.Subscription
		if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
			return "", err
		}
		return h.applyDowngrade(c, &sub)

	case "invoice.payment_failed":
		var inv stripe.Invoice
		if err := json.Unmarshal(event.Data.Raw, &inv); err != nil {
			return "", err
		}
		return h.applyStatus(c, customerID(inv.Customer), lifecycle.RawPastDue)

	case "invoice.payment_succeeded":
		var inv stripe.Invoice
		if err := json.Unmarshal(event.Data.Raw, &inv); err != nil {
			return "", err
		}
		return h.applyStatus(c, customerID(inv.Customer), lifecycle.RawActive)

	default:
		return "ignored", nil
	}
}

// applySubscription writes status, tier, and boundaries from a live
// subscription object.
func (h *Handler) applySubscription(c *gin.Context, sub *stripe.Subscription) (string, error) {
	unlock, err := h.locks.LockContext(c.Request.Context(), customerID(sub.Customer))
	if err != nil {
		return "", err
	}
	defer unlock()

	t, err := h.tenants.GetByStripeCustomer(c.Request.Context(), customerID(sub.Customer))
	if err != nil {
		return "", err
	}

	t.SubscriptionStatus = rawStatus(sub.Status)
	if tier, ok := tierFromSubscription(sub); ok {
		t.SubscriptionTier = tier
	}
	t.TrialEndsAt = unixPtr(sub.TrialEnd)
	if sub.CancelAtPeriodEnd {
		t.SubscriptionEndsAt = unixPtr(sub.CurrentPeriodEnd)
	} else {
		t.SubscriptionEndsAt = nil
	}
	t.UpdatedAt = time.Now()

	if err := h.tenants.Update(c.Request.Context(), t); err != nil {
		return "", err
	}
	h.changed(t)
	return "applied", nil
}

// applyDowngrade handles the end of a paid subscription: the tenant drops
// to the directory-only tier with a maintenance grace window.
func (h *Handler) applyDowngrade(c *gin.Context, sub *stripe.Subscription) (string, error) {
	unlock, err := h.locks.LockContext(c.Request.Context(), customerID(sub.Customer))
	if err != nil {
		return "", err
	}
	defer unlock()

	t, err := h.tenants.GetByStripeCustomer(c.Request.Context(), customerID(sub.Customer))
	if err != nil {
		return "", err
	}

	grace := time.Now().Add(DowngradeGraceWindow)
	t.SubscriptionStatus = lifecycle.RawExpired
	t.SubscriptionTier = catalog.TierDirectoryOnly
	t.TrialEndsAt = &grace // end of the maintenance window
	t.SubscriptionEndsAt = nil
	t.UpdatedAt = time.Now()

	if err := h.tenants.Update(c.Request.Context(), t); err != nil {
		return "", err
	}
	h.changed(t)
	return "downgraded", nil
}

func (h *Handler) applyStatus(c *gin.Context, custID string, status lifecycle.RawStatus) (string, error) {
	if custID == "" {
		return "ignored", nil
	}
	unlock, err := h.locks.LockContext(c.Request.Context(), custID)
	if err != nil {
		return "", err
	}
	defer unlock()

	t, err := h.tenants.GetByStripeCustomer(c.Request.Context(), custID)
	if err != nil {
		return "", err
	}

	t.SubscriptionStatus = status
	t.UpdatedAt = time.Now()

	if err := h.tenants.Update(c.Request.Context(), t); err != nil {
		return "", err
	}
	h.changed(t)
	return "applied", nil
}

func (h *Handler) changed(t *tenant.Tenant) {
	if h.invalidator != nil {
		h.invalidator.InvalidateTenant(t.ID)
	}
	if h.events != nil {
		h.events.Publish("subscription_changed", t.ID, gin.H{
			"status": t.SubscriptionStatus,
			"tier":   t.SubscriptionTier,
		})
	}
}

// rawStatus maps a Stripe subscription status onto the raw status
// vocabulary billing owns.
func rawStatus(s stripe.SubscriptionStatus) lifecycle.RawStatus {
	switch s {
	case stripe.SubscriptionStatusTrialing:
		return lifecycle.RawTrial
	case stripe.SubscriptionStatusActive:
		return lifecycle.RawActive
	case stripe.SubscriptionStatusPastDue, stripe.SubscriptionStatusUnpaid:
		return lifecycle.RawPastDue
	case stripe.SubscriptionStatusCanceled:
		return lifecycle.RawCanceled
	case stripe.SubscriptionStatusIncompleteExpired:
		return lifecycle.RawExpired
	default:
		return lifecycle.RawActive
	}
}

// tierFromSubscription resolves the catalog tier from the price lookup
// key on the first subscription item.
func tierFromSubscription(sub *stripe.Subscription) (catalog.Tier, bool) {
	if sub.Items == nil || len(sub.Items.Data) == 0 {
		return "", false
	}
	price := sub.Items.Data[0].Price
	if price == nil || price.LookupKey == "" {
		return "", false
	}
	return catalog.Tier(price.LookupKey), true
}

func customerID(c *stripe.Customer) string {
	if c == nil {
		return ""
	}
	return c.ID
}

func unixPtr(ts int64) *time.Time {
	if ts == 0 {
		return nil
	}
	v := time.Unix(ts, 0).UTC()
	return &v
}
