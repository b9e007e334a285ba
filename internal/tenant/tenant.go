// Package tenant provides multi-tenancy for the Storeloft platform.
//
// A tenant's four subscription fields (status, tier, trial end, subscription
// end) are raw billing signals owned by the billing integration; everything
// downstream derives the operational status from them on read. No derived
// status is ever persisted here.
package tenant

import (
	"errors"
	"time"

	"github.com/storeloft/storeloft/internal/catalog"
	"github.com/storeloft/storeloft/internal/lifecycle"
)

// Errors
var (
	ErrTenantNotFound = errors.New("tenant: not found")
	ErrSlugTaken      = errors.New("tenant: slug already taken")
)

// Tenant represents a billed customer account.
type Tenant struct {
	ID                 string              `json:"id"`
	Name               string              `json:"name"`
	Slug               string              `json:"slug"`
	SubscriptionStatus lifecycle.RawStatus `json:"subscriptionStatus"`
	SubscriptionTier   catalog.Tier        `json:"subscriptionTier"`
	TrialEndsAt        *time.Time          `json:"trialEndsAt,omitempty"`
	SubscriptionEndsAt *time.Time          `json:"subscriptionEndsAt,omitempty"`
	StripeCustomerID   string              `json:"stripeCustomerId,omitempty"`
	CreatedAt          time.Time           `json:"createdAt"`
	UpdatedAt          time.Time           `json:"updatedAt"`
}

// OperationalStatus derives the tenant's lifecycle classification at now.
func (t *Tenant) OperationalStatus(now time.Time) lifecycle.Status {
	return lifecycle.Derive(t.SubscriptionStatus, t.SubscriptionTier, t.TrialEndsAt, t.SubscriptionEndsAt, now)
}

// NextBoundary returns the earliest future temporal boundary of the tenant
// (trial or subscription end), or the zero time when none is ahead of now.
// Decision caches use it to bound entry freshness.
func (t *Tenant) NextBoundary(now time.Time) time.Time {
	var next time.Time
	for _, b := range []*time.Time{t.TrialEndsAt, t.SubscriptionEndsAt} {
		if b == nil || !b.After(now) {
			continue
		}
		if next.IsZero() || b.Before(next) {
			next = *b
		}
	}
	return next
}
