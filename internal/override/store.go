package override

import (
	"context"

	"github.com/storeloft/storeloft/internal/catalog"
)

// Store persists feature overrides.
//
// Upsert must be atomic per (tenantID, feature) key: concurrent writers racing
// on the same key serialize to the last committed write, never a torn record.
// No ordering is guaranteed across different keys.
type Store interface {
	Get(ctx context.Context, tenantID string, feature catalog.Feature) (*FeatureOverride, error)
	Upsert(ctx context.Context, ov *FeatureOverride) error
	Delete(ctx context.Context, tenantID string, feature catalog.Feature) error
	ListByTenant(ctx context.Context, tenantID string) ([]*FeatureOverride, error)
}
