// Package catalog defines the subscription tier catalog: which features and
// limits each purchasable tier includes. The catalog is static configuration,
// loaded once at startup and injected into consumers; nothing mutates it at
// evaluation time.
package catalog

import "sort"

// Feature is a named capability gated by the access engine.
type Feature string

// Features gated across the platform.
const (
	FeatureDirectoryListing   Feature = "directory_listing"
	FeatureStoreHours         Feature = "store_hours"
	FeatureStorefront         Feature = "storefront"
	FeatureInventory          Feature = "inventory"
	FeatureBulkUpload         Feature = "bulk_upload"
	FeatureAnalyticsDashboard Feature = "analytics_dashboard"
	FeaturePromotions         Feature = "promotions"
	FeatureAPIAccess          Feature = "api_access"
	FeatureCustomDomain       Feature = "custom_domain"
	FeatureMultiLocation      Feature = "multi_location"
	// FeaturePlatformShowcase is platform tooling, not purchasable by tenants.
	// It appears in the organization tier but is additionally role-scoped to
	// platform admins.
	FeaturePlatformShowcase Feature = "platform_showcase"
)

// Tier identifies a subscription tier.
type Tier string

const (
	// TierDirectoryOnly is the degraded tier tenants are auto-downgraded to
	// when a paid term lapses. Existing data stays visible; growth is gated.
	TierDirectoryOnly Tier = "directory_only"
	TierStarter       Tier = "starter"
	TierProfessional  Tier = "professional"
	TierEnterprise    Tier = "enterprise"
	TierOrganization  Tier = "organization"
)

// Unlimited marks a numeric limit as uncapped.
const Unlimited = 0

// Definition describes one tier: its feature set, limits, and display metadata.
type Definition struct {
	Tier         Tier      `json:"tier"`
	DisplayName  string    `json:"displayName"`
	PriceCents   int       `json:"priceCents"`
	Features     []Feature `json:"features"`
	MaxSKUs      int       `json:"maxSkus"`      // 0 = unlimited
	MaxLocations int       `json:"maxLocations"` // 0 = unlimited

	featureSet map[Feature]struct{}
}

// HasFeature reports whether the tier includes a feature by default.
func (d *Definition) HasFeature(f Feature) bool {
	_, ok := d.featureSet[f]
	return ok
}

// Catalog is an immutable set of tier definitions ordered by price.
type Catalog struct {
	byTier       map[Tier]*Definition
	ordered      []*Definition // ascending PriceCents
	fallbackTier Tier
}

// New builds a catalog from tier definitions. The fallback tier is used for
// unknown tier IDs; it should be the lowest paid tier so data-quality issues
// degrade tenants conservatively instead of hard-denying them.
func New(defs []Definition, fallback Tier) *Catalog {
	c := &Catalog{
		byTier:       make(map[Tier]*Definition, len(defs)),
		fallbackTier: fallback,
	}
	for i := range defs {
		d := defs[i]
		d.featureSet = make(map[Feature]struct{}, len(d.Features))
		for _, f := range d.Features {
			d.featureSet[f] = struct{}{}
		}
		c.byTier[d.Tier] = &d
		c.ordered = append(c.ordered, &d)
	}
	sort.SliceStable(c.ordered, func(i, j int) bool {
		return c.ordered[i].PriceCents < c.ordered[j].PriceCents
	})
	return c
}

// Lookup returns the definition for a tier. Unknown tiers resolve to the
// fallback tier rather than failing.
func (c *Catalog) Lookup(t Tier) *Definition {
	if d, ok := c.byTier[t]; ok {
		return d
	}
	return c.byTier[c.fallbackTier]
}

// Known reports whether the tier exists in the catalog.
func (c *Catalog) Known(t Tier) bool {
	_, ok := c.byTier[t]
	return ok
}

// TiersOrderedByPrice returns all tier definitions, cheapest first.
func (c *Catalog) TiersOrderedByPrice() []*Definition {
	out := make([]*Definition, len(c.ordered))
	copy(out, c.ordered)
	return out
}

// MinimalTierWithFeature returns the cheapest tier that includes the feature,
// or nil when no current tier sells it. Callers must treat nil as "not
// purchasable", not as an error.
func (c *Catalog) MinimalTierWithFeature(f Feature) *Definition {
	for _, d := range c.ordered {
		if d.HasFeature(f) {
			return d
		}
	}
	return nil
}

// Default returns the production catalog.
func Default() *Catalog {
	return New([]Definition{
		{
			Tier:         TierDirectoryOnly,
			DisplayName:  "Directory Only",
			PriceCents:   0,
			Features:     []Feature{FeatureDirectoryListing, FeatureStoreHours},
			MaxSKUs:      25,
			MaxLocations: 1,
		},
		{
			Tier:        TierStarter,
			DisplayName: "Starter",
			PriceCents:  2900,
			Features: []Feature{
				FeatureDirectoryListing, FeatureStoreHours,
				FeatureStorefront, FeatureInventory,
			},
			MaxSKUs:      100,
			MaxLocations: 1,
		},
		{
			Tier:        TierProfessional,
			DisplayName: "Professional",
			PriceCents:  7900,
			Features: []Feature{
				FeatureDirectoryListing, FeatureStoreHours,
				FeatureStorefront, FeatureInventory,
				FeatureBulkUpload, FeatureAnalyticsDashboard, FeaturePromotions,
			},
			MaxSKUs:      2500,
			MaxLocations: 3,
		},
		{
			Tier:        TierEnterprise,
			DisplayName: "Enterprise",
			PriceCents:  19900,
			Features: []Feature{
				FeatureDirectoryListing, FeatureStoreHours,
				FeatureStorefront, FeatureInventory,
				FeatureBulkUpload, FeatureAnalyticsDashboard, FeaturePromotions,
				FeatureAPIAccess, FeatureCustomDomain, FeatureMultiLocation,
			},
			MaxSKUs:      Unlimited,
			MaxLocations: 25,
		},
		{
			Tier:        TierOrganization,
			DisplayName: "Organization",
			PriceCents:  49900,
			Features: []Feature{
				FeatureDirectoryListing, FeatureStoreHours,
				FeatureStorefront, FeatureInventory,
				FeatureBulkUpload, FeatureAnalyticsDashboard, FeaturePromotions,
				FeatureAPIAccess, FeatureCustomDomain, FeatureMultiLocation,
				FeaturePlatformShowcase,
			},
			MaxSKUs:      Unlimited,
			MaxLocations: Unlimited,
		},
	}, TierStarter)
}

// Features returns every feature sold by at least one tier, ordered by the
// cheapest tier that introduces it.
func (c *Catalog) Features() []Feature {
	seen := make(map[Feature]struct{})
	var out []Feature
	for _, d := range c.ordered {
		for _, f := range d.Features {
			if _, ok := seen[f]; ok {
				continue
			}
			seen[f] = struct{}{}
			out = append(out, f)
		}
	}
	return out
}

// ValidFeature reports whether the feature is sold by at least one tier.
func (c *Catalog) ValidFeature(f Feature) bool {
	return c.MinimalTierWithFeature(f) != nil
}
