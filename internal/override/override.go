// Package override stores per-tenant, per-feature entitlement exceptions.
// An override is the only mechanism that can grant a feature the tier catalog
// denies, or revoke one it grants, without changing the tenant's tier —
// comped features and abuse revocations both live here.
package override

import (
	"errors"
	"time"

	"github.com/storeloft/storeloft/internal/catalog"
)

// Errors
var (
	ErrNotFound = errors.New("override: not found")
)

// FeatureOverride is one exception, keyed uniquely by (TenantID, Feature).
// Repeated grants/revokes for the same key update the row in place; this
// component keeps no history (audit trails belong to the admin tooling).
type FeatureOverride struct {
	TenantID  string          `json:"tenantId"`
	Feature   catalog.Feature `json:"feature"`
	Granted   bool            `json:"granted"`
	Reason    string          `json:"reason"`
	GrantedBy string          `json:"grantedBy"`
	UpdatedAt time.Time       `json:"updatedAt"`
}
