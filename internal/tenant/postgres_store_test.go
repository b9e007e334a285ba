package tenant_test

import (
	"context"
	"testing"
	"time"

	"github.com/storeloft/storeloft/internal/catalog"
	"github.com/storeloft/storeloft/internal/lifecycle"
	"github.com/storeloft/storeloft/internal/tenant"
	"github.com/storeloft/storeloft/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPostgresStore_CRUD(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	s := tenant.NewPostgresStore(db)
	ctx := context.Background()

	now := time.Now().UTC().Truncate(time.Microsecond)
	trialEnd := now.Add(14 * 24 * time.Hour)
	tn := &tenant.Tenant{
		ID:                 "ten_000000000000000000000001",
		Name:               "Corner Books",
		Slug:               "corner-books",
		SubscriptionStatus: lifecycle.RawTrial,
		SubscriptionTier:   catalog.TierProfessional,
		TrialEndsAt:        &trialEnd,
		StripeCustomerID:   "cus_123",
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	require.NoError(t, s.Create(ctx, tn))

	got, err := s.Get(ctx, tn.ID)
	require.NoError(t, err)
	assert.Equal(t, "corner-books", got.Slug)
	assert.Equal(t, lifecycle.RawTrial, got.SubscriptionStatus)
	assert.Equal(t, catalog.TierProfessional, got.SubscriptionTier)
	require.NotNil(t, got.TrialEndsAt)
	assert.WithinDuration(t, trialEnd, *got.TrialEndsAt, time.Second)
	assert.Nil(t, got.SubscriptionEndsAt)

	bySlug, err := s.GetBySlug(ctx, "corner-books")
	require.NoError(t, err)
	assert.Equal(t, tn.ID, bySlug.ID)

	byCust, err := s.GetByStripeCustomer(ctx, "cus_123")
	require.NoError(t, err)
	assert.Equal(t, tn.ID, byCust.ID)

	got.SubscriptionStatus = lifecycle.RawActive
	got.SubscriptionTier = catalog.TierEnterprise
	got.TrialEndsAt = nil
	got.UpdatedAt = time.Now().UTC()
	require.NoError(t, s.Update(ctx, got))

	got, err = s.Get(ctx, tn.ID)
	require.NoError(t, err)
	assert.Equal(t, lifecycle.RawActive, got.SubscriptionStatus)
	assert.Equal(t, catalog.TierEnterprise, got.SubscriptionTier)
	assert.Nil(t, got.TrialEndsAt)
}

func TestPostgresStore_SlugConflict(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	s := tenant.NewPostgresStore(db)
	ctx := context.Background()
	now := time.Now().UTC()

	mk := func(id string) *tenant.Tenant {
		return &tenant.Tenant{
			ID:                 id,
			Name:               "Shop",
			Slug:               "same-slug",
			SubscriptionStatus: lifecycle.RawActive,
			SubscriptionTier:   catalog.TierStarter,
			CreatedAt:          now,
			UpdatedAt:          now,
		}
	}

	require.NoError(t, s.Create(ctx, mk("ten_000000000000000000000001")))
	assert.ErrorIs(t, s.Create(ctx, mk("ten_000000000000000000000002")), tenant.ErrSlugTaken)
}

func TestPostgresStore_NotFound(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	s := tenant.NewPostgresStore(db)
	ctx := context.Background()

	_, err := s.Get(ctx, "ten_00000000000000000000dead")
	assert.ErrorIs(t, err, tenant.ErrTenantNotFound)

	err = s.Update(ctx, &tenant.Tenant{ID: "ten_00000000000000000000dead"})
	assert.ErrorIs(t, err, tenant.ErrTenantNotFound)
}

func TestPostgresStore_List(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	s := tenant.NewPostgresStore(db)
	ctx := context.Background()
	now := time.Now().UTC()

	for _, id := range []string{"ten_a", "ten_b", "ten_c"} {
		require.NoError(t, s.Create(ctx, &tenant.Tenant{
			ID:                 id,
			Name:               "Shop " + id,
			Slug:               "slug-" + id,
			SubscriptionStatus: lifecycle.RawActive,
			SubscriptionTier:   catalog.TierStarter,
			CreatedAt:          now,
			UpdatedAt:          now,
		}))
	}

	page, err := s.List(ctx, 2, "")
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, "ten_a", page[0].ID)

	page, err = s.List(ctx, 10, "ten_a")
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, "ten_b", page[0].ID)
	assert.Equal(t, "ten_c", page[1].ID)
}
