// Package rbac maps (role, feature, permission type) to an allow/deny answer.
// The resolver is a static authorization matrix: it knows nothing about tiers
// or subscription state, only about organizational authority. Higher roles
// inherit everything lower roles can do for the same feature, except for
// features explicitly scoped to the platform itself.
package rbac

import (
	"github.com/storeloft/storeloft/internal/catalog"
)

// Role is an actor's authority level, attached to a membership rather than to
// the tenant itself.
type Role string

const (
	RolePlatformAdmin Role = "platform_admin"
	RoleOrgAdmin      Role = "org_admin"
	RoleTenantAdmin   Role = "tenant_admin"
	RoleTenantManager Role = "tenant_manager"
	RoleTenantUser    Role = "tenant_user"
)

// roleLevels orders roles by authority, highest first.
var roleLevels = map[Role]int{
	RolePlatformAdmin: 5,
	RoleOrgAdmin:      4,
	RoleTenantAdmin:   3,
	RoleTenantManager: 2,
	RoleTenantUser:    1,
}

// Level returns the numeric authority of a role; unknown roles rank below
// every real role.
func (r Role) Level() int {
	return roleLevels[r]
}

// Valid reports whether the role is one of the defined authority levels.
func (r Role) Valid() bool {
	_, ok := roleLevels[r]
	return ok
}

// Covers reports whether r has at least the authority of other.
func (r Role) Covers(other Role) bool {
	return r.Level() >= other.Level()
}

// Permission is the kind of action attempted against a feature.
type Permission string

const (
	PermissionRead  Permission = "read"
	PermissionWrite Permission = "write"
	PermissionAdmin Permission = "admin"
)

// Valid reports whether the permission type is recognized.
func (p Permission) Valid() bool {
	switch p {
	case PermissionRead, PermissionWrite, PermissionAdmin:
		return true
	}
	return false
}

type matrixKey struct {
	feature catalog.Feature
	perm    Permission
}

// Resolver answers role checks from a fixed minimum-role matrix.
type Resolver struct {
	minRole map[matrixKey]Role
	// platformOnly features are reachable only by the platform admin role,
	// regardless of how senior the actor is within a tenant.
	platformOnly map[catalog.Feature]struct{}
	defaults     map[Permission]Role
}

// NewResolver returns the production permission matrix.
func NewResolver() *Resolver {
	r := &Resolver{
		minRole:      make(map[matrixKey]Role),
		platformOnly: make(map[catalog.Feature]struct{}),
		// Anyone in the tenant can look; mutating takes a manager; feature
		// administration takes a tenant admin.
		defaults: map[Permission]Role{
			PermissionRead:  RoleTenantUser,
			PermissionWrite: RoleTenantManager,
			PermissionAdmin: RoleTenantAdmin,
		},
	}

	// Feature-specific tightenings beyond the defaults.
	r.set(catalog.FeatureBulkUpload, PermissionWrite, RoleTenantManager)
	r.set(catalog.FeatureAnalyticsDashboard, PermissionRead, RoleTenantManager)
	r.set(catalog.FeatureAPIAccess, PermissionWrite, RoleTenantAdmin)
	r.set(catalog.FeatureAPIAccess, PermissionAdmin, RoleTenantAdmin)
	r.set(catalog.FeatureCustomDomain, PermissionWrite, RoleTenantAdmin)
	r.set(catalog.FeatureMultiLocation, PermissionAdmin, RoleOrgAdmin)

	// Platform tooling: no tenant-level role reaches it.
	r.scopeToPlatform(catalog.FeaturePlatformShowcase)

	return r
}

func (r *Resolver) set(f catalog.Feature, p Permission, min Role) {
	r.minRole[matrixKey{feature: f, perm: p}] = min
}

func (r *Resolver) scopeToPlatform(f catalog.Feature) {
	r.platformOnly[f] = struct{}{}
}

// Check reports whether the role may perform the permission type on the
// feature. Authority is monotonic: a role passes every check a lower role
// passes, except on platform-scoped features.
func (r *Resolver) Check(role Role, feature catalog.Feature, perm Permission) bool {
	if !role.Valid() || !perm.Valid() {
		return false
	}
	if _, ok := r.platformOnly[feature]; ok {
		return role == RolePlatformAdmin
	}
	if min, ok := r.minRole[matrixKey{feature: feature, perm: perm}]; ok {
		return role.Covers(min)
	}
	return role.Covers(r.defaults[perm])
}
