package access

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/storeloft/storeloft/internal/catalog"
	"github.com/storeloft/storeloft/internal/lifecycle"
	"github.com/storeloft/storeloft/internal/override"
	"github.com/storeloft/storeloft/internal/rbac"
	"github.com/storeloft/storeloft/internal/tenant"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)

func newTestEngine(t *testing.T, ttl time.Duration) (*Engine, tenant.Store, override.Store) {
	t.Helper()
	tenants := tenant.NewMemoryStore()
	overrides := override.NewMemoryStore()
	e := NewEngine(tenants, overrides, catalog.Default(), rbac.NewResolver(), ttl)
	e.now = func() time.Time { return testNow }
	return e, tenants, overrides
}

func seedTenant(t *testing.T, store tenant.Store, tn *tenant.Tenant) {
	t.Helper()
	if tn.Name == "" {
		tn.Name = "Test Shop"
	}
	if tn.Slug == "" {
		tn.Slug = tn.ID
	}
	tn.CreatedAt = testNow
	tn.UpdatedAt = testNow
	require.NoError(t, store.Create(context.Background(), tn))
}

func ts(d time.Duration) *time.Time {
	v := testNow.Add(d)
	return &v
}

func TestEvaluate_Allowed(t *testing.T) {
	e, tenants, _ := newTestEngine(t, 0)
	seedTenant(t, tenants, &tenant.Tenant{
		ID:                 "ten_000000000000000000000001",
		SubscriptionStatus: lifecycle.RawActive,
		SubscriptionTier:   catalog.TierStarter,
	})

	dec, err := e.Evaluate(context.Background(), "ten_000000000000000000000001",
		catalog.FeatureStorefront, rbac.PermissionRead, rbac.RoleTenantUser)
	require.NoError(t, err)
	assert.True(t, dec.Allowed)
	assert.False(t, dec.TierIssue)
	assert.False(t, dec.RoleIssue)
	assert.Empty(t, dec.Reason)
	assert.Equal(t, lifecycle.StatusActive, dec.Status)
}

func TestEvaluate_UpgradeRequired(t *testing.T) {
	// bulk_upload is not in the starter tier; no override; the denial is a
	// tier problem even for the tenant's own admin.
	e, tenants, _ := newTestEngine(t, 0)
	seedTenant(t, tenants, &tenant.Tenant{
		ID:                 "ten_000000000000000000000002",
		SubscriptionStatus: lifecycle.RawActive,
		SubscriptionTier:   catalog.TierStarter,
	})

	dec, err := e.Evaluate(context.Background(), "ten_000000000000000000000002",
		catalog.FeatureBulkUpload, rbac.PermissionWrite, rbac.RoleTenantAdmin)
	require.NoError(t, err)
	assert.False(t, dec.Allowed)
	assert.True(t, dec.TierIssue)
	assert.False(t, dec.RoleIssue)
	assert.Equal(t, ReasonUpgradeRequired, dec.Reason)
	require.NotNil(t, dec.SuggestedTier)
	assert.Equal(t, catalog.TierProfessional, *dec.SuggestedTier)
}

func TestEvaluate_OverrideGrantThenRoleDenies(t *testing.T) {
	// An override grants bulk_upload to a starter tenant, so the tier gate
	// passes, but a tenant user still lacks write permission.
	e, tenants, overrides := newTestEngine(t, 0)
	seedTenant(t, tenants, &tenant.Tenant{
		ID:                 "ten_000000000000000000000003",
		SubscriptionStatus: lifecycle.RawActive,
		SubscriptionTier:   catalog.TierStarter,
	})
	require.NoError(t, overrides.Upsert(context.Background(), &override.FeatureOverride{
		TenantID:  "ten_000000000000000000000003",
		Feature:   catalog.FeatureBulkUpload,
		Granted:   true,
		GrantedBy: "platform-admin",
		UpdatedAt: testNow,
	}))

	dec, err := e.Evaluate(context.Background(), "ten_000000000000000000000003",
		catalog.FeatureBulkUpload, rbac.PermissionWrite, rbac.RoleTenantUser)
	require.NoError(t, err)
	assert.False(t, dec.Allowed)
	assert.False(t, dec.TierIssue)
	assert.True(t, dec.RoleIssue)
	assert.Equal(t, ReasonInsufficientRole, dec.Reason)
	assert.Nil(t, dec.SuggestedTier)
}

func TestEvaluate_OverrideRevokesTierDefault(t *testing.T) {
	// The professional tier includes promotions by default; a granted:false
	// override takes it away.
	e, tenants, overrides := newTestEngine(t, 0)
	seedTenant(t, tenants, &tenant.Tenant{
		ID:                 "ten_000000000000000000000004",
		SubscriptionStatus: lifecycle.RawActive,
		SubscriptionTier:   catalog.TierProfessional,
	})
	require.NoError(t, overrides.Upsert(context.Background(), &override.FeatureOverride{
		TenantID:  "ten_000000000000000000000004",
		Feature:   catalog.FeaturePromotions,
		Granted:   false,
		Reason:    "abuse hold",
		GrantedBy: "platform-admin",
		UpdatedAt: testNow,
	}))

	dec, err := e.Evaluate(context.Background(), "ten_000000000000000000000004",
		catalog.FeaturePromotions, rbac.PermissionRead, rbac.RoleTenantAdmin)
	require.NoError(t, err)
	assert.False(t, dec.Allowed)
	assert.True(t, dec.TierIssue)
	assert.False(t, dec.RoleIssue, "tier denial must never report a role issue")
}

func TestEvaluate_InactiveDeniesPlatformAdmin(t *testing.T) {
	e, tenants, _ := newTestEngine(t, 0)
	seedTenant(t, tenants, &tenant.Tenant{
		ID:                 "ten_000000000000000000000005",
		SubscriptionStatus: lifecycle.RawCanceled,
		SubscriptionTier:   catalog.TierEnterprise,
	})
	seedTenant(t, tenants, &tenant.Tenant{
		ID:                 "ten_000000000000000000000006",
		SubscriptionStatus: lifecycle.RawExpired,
		SubscriptionTier:   catalog.TierDirectoryOnly,
		TrialEndsAt:        ts(-48 * time.Hour), // grace window closed, frozen
	})

	for _, id := range []string{"ten_000000000000000000000005", "ten_000000000000000000000006"} {
		dec, err := e.Evaluate(context.Background(), id,
			catalog.FeatureDirectoryListing, rbac.PermissionRead, rbac.RolePlatformAdmin)
		require.NoError(t, err)
		assert.False(t, dec.Allowed, "tenant %s", id)
		assert.True(t, dec.TierIssue)
		assert.False(t, dec.RoleIssue)
		assert.Equal(t, ReasonSubscriptionInactive, dec.Reason)
	}
}

func TestEvaluate_MaintenanceStillServes(t *testing.T) {
	// Inside the post-downgrade grace window the directory tier keeps its
	// listing features.
	e, tenants, _ := newTestEngine(t, 0)
	seedTenant(t, tenants, &tenant.Tenant{
		ID:                 "ten_000000000000000000000007",
		SubscriptionStatus: lifecycle.RawExpired,
		SubscriptionTier:   catalog.TierDirectoryOnly,
		TrialEndsAt:        ts(24 * time.Hour),
	})

	dec, err := e.Evaluate(context.Background(), "ten_000000000000000000000007",
		catalog.FeatureDirectoryListing, rbac.PermissionRead, rbac.RoleTenantUser)
	require.NoError(t, err)
	assert.True(t, dec.Allowed)
	assert.Equal(t, lifecycle.StatusMaintenance, dec.Status)
}

func TestEvaluate_PlatformScopedFeature(t *testing.T) {
	e, tenants, _ := newTestEngine(t, 0)
	seedTenant(t, tenants, &tenant.Tenant{
		ID:                 "ten_000000000000000000000008",
		SubscriptionStatus: lifecycle.RawActive,
		SubscriptionTier:   catalog.TierOrganization,
	})

	dec, err := e.Evaluate(context.Background(), "ten_000000000000000000000008",
		catalog.FeaturePlatformShowcase, rbac.PermissionAdmin, rbac.RoleOrgAdmin)
	require.NoError(t, err)
	assert.False(t, dec.Allowed)
	assert.True(t, dec.RoleIssue)

	dec, err = e.Evaluate(context.Background(), "ten_000000000000000000000008",
		catalog.FeaturePlatformShowcase, rbac.PermissionAdmin, rbac.RolePlatformAdmin)
	require.NoError(t, err)
	assert.True(t, dec.Allowed)
}

func TestEvaluate_TenantNotFound(t *testing.T) {
	e, _, _ := newTestEngine(t, 0)
	_, err := e.Evaluate(context.Background(), "ten_00000000000000000000dead",
		catalog.FeatureStorefront, rbac.PermissionRead, rbac.RoleTenantUser)
	assert.ErrorIs(t, err, tenant.ErrTenantNotFound)
}

type failingOverrideStore struct{}

func (failingOverrideStore) Get(context.Context, string, catalog.Feature) (*override.FeatureOverride, error) {
	return nil, errors.New("connection refused")
}
func (failingOverrideStore) Upsert(context.Context, *override.FeatureOverride) error {
	return errors.New("connection refused")
}
func (failingOverrideStore) Delete(context.Context, string, catalog.Feature) error {
	return errors.New("connection refused")
}
func (failingOverrideStore) ListByTenant(context.Context, string) ([]*override.FeatureOverride, error) {
	return nil, errors.New("connection refused")
}

func TestEvaluate_FailsClosedOnOverrideStoreFailure(t *testing.T) {
	tenants := tenant.NewMemoryStore()
	e := NewEngine(tenants, failingOverrideStore{}, catalog.Default(), rbac.NewResolver(), 0)
	e.now = func() time.Time { return testNow }
	seedTenant(t, tenants, &tenant.Tenant{
		ID:                 "ten_000000000000000000000009",
		SubscriptionStatus: lifecycle.RawActive,
		SubscriptionTier:   catalog.TierEnterprise,
	})

	dec, err := e.Evaluate(context.Background(), "ten_000000000000000000000009",
		catalog.FeatureStorefront, rbac.PermissionRead, rbac.RolePlatformAdmin)
	require.NoError(t, err)
	assert.False(t, dec.Allowed)
	assert.Equal(t, ReasonUnavailable, dec.Reason)
	// An infrastructure fault is neither a tier nor a role problem.
	assert.False(t, dec.TierIssue)
	assert.False(t, dec.RoleIssue)
}

type countingFailingOverrideStore struct {
	calls atomic.Int32
}

func (s *countingFailingOverrideStore) Get(context.Context, string, catalog.Feature) (*override.FeatureOverride, error) {
	s.calls.Add(1)
	return nil, errors.New("connection refused")
}
func (s *countingFailingOverrideStore) Upsert(context.Context, *override.FeatureOverride) error {
	return errors.New("connection refused")
}
func (s *countingFailingOverrideStore) Delete(context.Context, string, catalog.Feature) error {
	return errors.New("connection refused")
}
func (s *countingFailingOverrideStore) ListByTenant(context.Context, string) ([]*override.FeatureOverride, error) {
	return nil, errors.New("connection refused")
}

func TestEvaluate_BreakerStopsHammeringFailingStore(t *testing.T) {
	tenants := tenant.NewMemoryStore()
	failing := &countingFailingOverrideStore{}
	e := NewEngine(tenants, failing, catalog.Default(), rbac.NewResolver(), 0)
	e.now = func() time.Time { return testNow }
	seedTenant(t, tenants, &tenant.Tenant{
		ID:                 "ten_00000000000000000000000d",
		SubscriptionStatus: lifecycle.RawActive,
		SubscriptionTier:   catalog.TierStarter,
	})

	// Every evaluation fails closed; after the breaker trips, the store
	// stops being hit at all.
	for i := 0; i < 8; i++ {
		dec, err := e.Evaluate(context.Background(), "ten_00000000000000000000000d",
			catalog.FeatureStorefront, rbac.PermissionRead, rbac.RoleTenantUser)
		require.NoError(t, err)
		assert.Equal(t, ReasonUnavailable, dec.Reason)
	}
	assert.Equal(t, int32(5), failing.calls.Load())
}

func TestEvaluate_CacheServesRepeatLookups(t *testing.T) {
	e, tenants, overrides := newTestEngine(t, 15*time.Second)
	seedTenant(t, tenants, &tenant.Tenant{
		ID:                 "ten_00000000000000000000000a",
		SubscriptionStatus: lifecycle.RawActive,
		SubscriptionTier:   catalog.TierStarter,
	})

	dec, err := e.Evaluate(context.Background(), "ten_00000000000000000000000a",
		catalog.FeatureStorefront, rbac.PermissionRead, rbac.RoleTenantUser)
	require.NoError(t, err)
	assert.True(t, dec.Allowed)

	// A revoking override lands but the cache has not been invalidated, so
	// the stale allow is still served inside the TTL.
	require.NoError(t, overrides.Upsert(context.Background(), &override.FeatureOverride{
		TenantID: "ten_00000000000000000000000a",
		Feature:  catalog.FeatureStorefront,
		Granted:  false,
	}))
	dec, err = e.Evaluate(context.Background(), "ten_00000000000000000000000a",
		catalog.FeatureStorefront, rbac.PermissionRead, rbac.RoleTenantUser)
	require.NoError(t, err)
	assert.True(t, dec.Allowed)

	// Invalidation drops the entry and the override takes effect.
	e.InvalidateTenant("ten_00000000000000000000000a")
	dec, err = e.Evaluate(context.Background(), "ten_00000000000000000000000a",
		catalog.FeatureStorefront, rbac.PermissionRead, rbac.RoleTenantUser)
	require.NoError(t, err)
	assert.False(t, dec.Allowed)
	assert.True(t, dec.TierIssue)
}

func TestEvaluate_CacheClampedToTemporalBoundary(t *testing.T) {
	// A decision computed just before the grace window closes must not be
	// served just after it, even within the TTL.
	e, tenants, _ := newTestEngine(t, time.Hour)
	seedTenant(t, tenants, &tenant.Tenant{
		ID:                 "ten_00000000000000000000000b",
		SubscriptionStatus: lifecycle.RawExpired,
		SubscriptionTier:   catalog.TierDirectoryOnly,
		TrialEndsAt:        ts(5 * time.Second),
	})

	dec, err := e.Evaluate(context.Background(), "ten_00000000000000000000000b",
		catalog.FeatureDirectoryListing, rbac.PermissionRead, rbac.RoleTenantUser)
	require.NoError(t, err)
	assert.True(t, dec.Allowed)
	assert.Equal(t, lifecycle.StatusMaintenance, dec.Status)

	e.now = func() time.Time { return testNow.Add(6 * time.Second) }
	dec, err = e.Evaluate(context.Background(), "ten_00000000000000000000000b",
		catalog.FeatureDirectoryListing, rbac.PermissionRead, rbac.RoleTenantUser)
	require.NoError(t, err)
	assert.False(t, dec.Allowed)
	assert.Equal(t, lifecycle.StatusFrozen, dec.Status)
	assert.Equal(t, ReasonSubscriptionInactive, dec.Reason)
}

func TestEvaluate_CacheExpiresAtBoundaryInstant(t *testing.T) {
	// Derive flips trialing to expired when now equals trialEndsAt, so a
	// cached entry clamped to that instant must already be stale at it.
	e, tenants, _ := newTestEngine(t, time.Hour)
	seedTenant(t, tenants, &tenant.Tenant{
		ID:                 "ten_00000000000000000000000e",
		SubscriptionStatus: lifecycle.RawTrial,
		SubscriptionTier:   catalog.TierStarter,
		TrialEndsAt:        ts(5 * time.Second),
	})

	dec, err := e.Evaluate(context.Background(), "ten_00000000000000000000000e",
		catalog.FeatureStorefront, rbac.PermissionRead, rbac.RoleTenantUser)
	require.NoError(t, err)
	assert.True(t, dec.Allowed)
	assert.Equal(t, lifecycle.StatusTrialing, dec.Status)

	e.now = func() time.Time { return testNow.Add(5 * time.Second) }
	dec, err = e.Evaluate(context.Background(), "ten_00000000000000000000000e",
		catalog.FeatureStorefront, rbac.PermissionRead, rbac.RoleTenantUser)
	require.NoError(t, err)
	assert.False(t, dec.Allowed)
	assert.Equal(t, lifecycle.StatusExpired, dec.Status)
}

func TestEvaluate_UnavailableDecisionsNotCached(t *testing.T) {
	tenants := tenant.NewMemoryStore()
	e := NewEngine(tenants, failingOverrideStore{}, catalog.Default(), rbac.NewResolver(), time.Hour)
	e.now = func() time.Time { return testNow }
	seedTenant(t, tenants, &tenant.Tenant{
		ID:                 "ten_00000000000000000000000c",
		SubscriptionStatus: lifecycle.RawActive,
		SubscriptionTier:   catalog.TierStarter,
	})

	dec, err := e.Evaluate(context.Background(), "ten_00000000000000000000000c",
		catalog.FeatureStorefront, rbac.PermissionRead, rbac.RoleTenantUser)
	require.NoError(t, err)
	assert.Equal(t, ReasonUnavailable, dec.Reason)

	e.mu.RLock()
	assert.Empty(t, e.cache)
	e.mu.RUnlock()
}
