package override

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/storeloft/storeloft/internal/catalog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore_UpsertAndGet(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	ov := &FeatureOverride{
		TenantID:  "ten_1",
		Feature:   catalog.FeatureBulkUpload,
		Granted:   true,
		Reason:    "pilot customer",
		GrantedBy: "ak_abc",
		UpdatedAt: time.Now(),
	}
	require.NoError(t, s.Upsert(ctx, ov))

	got, err := s.Get(ctx, "ten_1", catalog.FeatureBulkUpload)
	require.NoError(t, err)
	assert.True(t, got.Granted)
	assert.Equal(t, "pilot customer", got.Reason)

	// Same key again updates in place, no duplicate record.
	ov.Granted = false
	ov.Reason = "pilot ended"
	require.NoError(t, s.Upsert(ctx, ov))

	got, err = s.Get(ctx, "ten_1", catalog.FeatureBulkUpload)
	require.NoError(t, err)
	assert.False(t, got.Granted)
	assert.Equal(t, "pilot ended", got.Reason)

	list, err := s.ListByTenant(ctx, "ten_1")
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestMemoryStore_GetMissing(t *testing.T) {
	s := NewMemoryStore()
	_, err := s.Get(context.Background(), "ten_1", catalog.FeaturePromotions)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStore_Delete(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, s.Upsert(ctx, &FeatureOverride{
		TenantID: "ten_1",
		Feature:  catalog.FeaturePromotions,
		Granted:  true,
	}))
	require.NoError(t, s.Delete(ctx, "ten_1", catalog.FeaturePromotions))

	_, err := s.Get(ctx, "ten_1", catalog.FeaturePromotions)
	assert.ErrorIs(t, err, ErrNotFound)

	assert.ErrorIs(t, s.Delete(ctx, "ten_1", catalog.FeaturePromotions), ErrNotFound)
}

func TestMemoryStore_ListSortedByFeature(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	for _, f := range []catalog.Feature{catalog.FeaturePromotions, catalog.FeatureAPIAccess, catalog.FeatureBulkUpload} {
		require.NoError(t, s.Upsert(ctx, &FeatureOverride{TenantID: "ten_1", Feature: f, Granted: true}))
	}
	require.NoError(t, s.Upsert(ctx, &FeatureOverride{TenantID: "ten_2", Feature: catalog.FeatureInventory, Granted: true}))

	list, err := s.ListByTenant(ctx, "ten_1")
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, catalog.FeatureAPIAccess, list[0].Feature)
	assert.Equal(t, catalog.FeatureBulkUpload, list[1].Feature)
	assert.Equal(t, catalog.FeaturePromotions, list[2].Feature)
}

func TestMemoryStore_ConcurrentUpsertSameKey(t *testing.T) {
	// Racing writers on one key must serialize to a single committed write,
	// never a torn record mixing fields from two writers.
	s := NewMemoryStore()
	ctx := context.Background()

	const writers = 32
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			granted := i%2 == 0
			_ = s.Upsert(ctx, &FeatureOverride{
				TenantID:  "ten_race",
				Feature:   catalog.FeatureBulkUpload,
				Granted:   granted,
				Reason:    fmt.Sprintf("granted=%v", granted),
				GrantedBy: fmt.Sprintf("writer-%d", i),
			})
		}(i)
	}
	wg.Wait()

	got, err := s.Get(ctx, "ten_race", catalog.FeatureBulkUpload)
	require.NoError(t, err)
	assert.Equal(t, fmt.Sprintf("granted=%v", got.Granted), got.Reason)

	list, err := s.ListByTenant(ctx, "ten_race")
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestMemoryStore_CopySemantics(t *testing.T) {
	// Mutating a returned record must not leak back into the store.
	s := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, s.Upsert(ctx, &FeatureOverride{
		TenantID: "ten_1",
		Feature:  catalog.FeatureBulkUpload,
		Granted:  true,
	}))

	got, err := s.Get(ctx, "ten_1", catalog.FeatureBulkUpload)
	require.NoError(t, err)
	got.Granted = false

	again, err := s.Get(ctx, "ten_1", catalog.FeatureBulkUpload)
	require.NoError(t, err)
	assert.True(t, again.Granted)
}
