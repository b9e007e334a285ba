// Package admin provides platform-admin endpoints: showcase tenant
// provisioning, entitlement inspection, and status sweeps.
package admin

import (
	"time"

	"github.com/storeloft/storeloft/internal/catalog"
	"github.com/storeloft/storeloft/internal/lifecycle"
)

// ShowcaseFeatures is the fixed feature list granted to showcase tenants,
// independent of their tier.
var ShowcaseFeatures = []catalog.Feature{
	catalog.FeatureStorefront,
	catalog.FeatureInventory,
	catalog.FeatureBulkUpload,
	catalog.FeatureAnalyticsDashboard,
	catalog.FeaturePromotions,
	catalog.FeatureCustomDomain,
}

// FeatureInspection is one row of a tenant entitlement inspection.
type FeatureInspection struct {
	Feature       catalog.Feature `json:"feature"`
	InTier        bool            `json:"inTier"`
	Overridden    bool            `json:"overridden"`
	OverrideGrant bool            `json:"overrideGrant,omitempty"`
	Effective     bool            `json:"effective"`
}

// InspectionReport is the full entitlement picture for one tenant.
type InspectionReport struct {
	TenantID  string              `json:"tenantId"`
	Tier      catalog.Tier        `json:"tier"`
	Status    lifecycle.Status    `json:"status"`
	Features  []FeatureInspection `json:"features"`
	Timestamp time.Time           `json:"timestamp"`
}

// SweepReport summarizes a status sweep across all tenants.
type SweepReport struct {
	Counts    map[lifecycle.Status]int `json:"counts"`
	Total     int                      `json:"total"`
	Duration  time.Duration            `json:"durationMs"`
	Timestamp time.Time                `json:"timestamp"`
}
