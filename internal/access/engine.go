package access

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/storeloft/storeloft/internal/catalog"
	"github.com/storeloft/storeloft/internal/circuitbreaker"
	"github.com/storeloft/storeloft/internal/lifecycle"
	"github.com/storeloft/storeloft/internal/logging"
	"github.com/storeloft/storeloft/internal/metrics"
	"github.com/storeloft/storeloft/internal/override"
	"github.com/storeloft/storeloft/internal/rbac"
	"github.com/storeloft/storeloft/internal/tenant"
	"github.com/storeloft/storeloft/internal/traces"
)

// DefaultCacheTTL bounds decision staleness. Operational status is
// time-dependent, so entries are additionally clamped to the tenant's
// next trial/subscription boundary (see cacheDeadline).
const DefaultCacheTTL = 15 * time.Second

// Store keys for the circuit breaker.
const (
	breakerTenants   = "tenant_store"
	breakerOverrides = "override_store"
)

// Engine evaluates feature access for tenants.
type Engine struct {
	tenants   tenant.Store
	overrides override.Store
	cat       *catalog.Catalog
	resolver  *rbac.Resolver
	breaker   *circuitbreaker.Breaker

	cacheTTL time.Duration
	mu       sync.RWMutex
	cache    map[string]cacheEntry

	now func() time.Time // injectable clock for tests
}

type cacheEntry struct {
	dec     Decision
	expires time.Time
}

// NewEngine creates an access decision engine. A zero or negative
// cacheTTL disables decision caching.
func NewEngine(tenants tenant.Store, overrides override.Store, cat *catalog.Catalog, resolver *rbac.Resolver, cacheTTL time.Duration) *Engine {
	return &Engine{
		tenants:   tenants,
		overrides: overrides,
		cat:       cat,
		resolver:  resolver,
		breaker:   circuitbreaker.New(5, 30*time.Second),
		cacheTTL:  cacheTTL,
		cache:     make(map[string]cacheEntry),
		now:       time.Now,
	}
}

// Evaluate loads the tenant and evaluates access for the given feature,
// permission type, and role. Returns tenant.ErrTenantNotFound when the
// tenant does not exist; any other store failure fails closed with a
// denied Decision and a nil error.
func (e *Engine) Evaluate(ctx context.Context, tenantID string, feature catalog.Feature, perm rbac.Permission, role rbac.Role) (Decision, error) {
	ctx, span := traces.StartSpan(ctx, "access.evaluate",
		traces.TenantID(tenantID),
		traces.Feature(string(feature)),
		traces.Permission(string(perm)),
	)
	defer span.End()

	key := cacheKey(tenantID, feature, perm, role)
	if dec, ok := e.cached(key); ok {
		metrics.DecisionCacheHitsTotal.WithLabelValues("hit").Inc()
		span.SetAttributes(traces.Decision(dec.Allowed))
		return dec, nil
	}
	metrics.DecisionCacheHitsTotal.WithLabelValues("miss").Inc()

	// When the tenant store has been failing repeatedly, fail closed
	// without hammering it further.
	if !e.breaker.Allow(breakerTenants) {
		logging.L(ctx).Warn("tenant store circuit open, denying", "tenant_id", tenantID)
		dec := denyUnavailable("")
		e.record(dec)
		return dec, nil
	}

	t, err := e.tenants.Get(ctx, tenantID)
	if err != nil {
		if errors.Is(err, tenant.ErrTenantNotFound) {
			e.breaker.RecordSuccess(breakerTenants)
			return Decision{}, err
		}
		e.breaker.RecordFailure(breakerTenants)
		logging.L(ctx).Error("tenant lookup failed, denying", "tenant_id", tenantID, "error", err)
		dec := denyUnavailable("")
		e.record(dec)
		return dec, nil
	}
	e.breaker.RecordSuccess(breakerTenants)

	dec := e.EvaluateTenant(ctx, t, feature, perm, role)
	span.SetAttributes(traces.Decision(dec.Allowed))
	if !dec.Allowed {
		span.SetAttributes(traces.DenyReason(dec.Reason))
	}

	// Unavailable decisions reflect a transient fault, never cache them.
	if dec.Reason != ReasonUnavailable {
		e.store(key, dec, t)
	}
	return dec, nil
}

// EvaluateTenant evaluates access for an already-loaded tenant record.
// Pure apart from the override lookup; an override store failure fails
// closed rather than defaulting to allowed.
func (e *Engine) EvaluateTenant(ctx context.Context, t *tenant.Tenant, feature catalog.Feature, perm rbac.Permission, role rbac.Role) Decision {
	now := e.now()
	status := t.OperationalStatus(now)

	// An inactive subscription denies everyone, including platform
	// admins. Billing state precedes authorization state.
	if status.Inactive() {
		dec := denyInactive(status)
		e.record(dec)
		return dec
	}

	hasTierAccess, err := e.tierAccess(ctx, t, feature)
	if err != nil {
		logging.L(ctx).Error("override lookup failed, denying", "tenant_id", t.ID, "feature", feature, "error", err)
		dec := denyUnavailable(status)
		e.record(dec)
		return dec
	}

	if !hasTierAccess {
		var suggested *catalog.Tier
		if d := e.cat.MinimalTierWithFeature(feature); d != nil {
			suggested = &d.Tier
		}
		dec := denyTier(status, suggested)
		e.record(dec)
		return dec
	}

	if !e.resolver.Check(role, feature, perm) {
		dec := denyRole(status)
		e.record(dec)
		return dec
	}

	dec := allow(status)
	e.record(dec)
	return dec
}

// errStoreUnavailable marks an override lookup rejected by the circuit
// breaker before reaching the store.
var errStoreUnavailable = errors.New("access: override store unavailable")

// tierAccess resolves the tier gate: an override, when present, takes
// precedence over the catalog entry in both directions.
func (e *Engine) tierAccess(ctx context.Context, t *tenant.Tenant, feature catalog.Feature) (bool, error) {
	if !e.breaker.Allow(breakerOverrides) {
		return false, errStoreUnavailable
	}

	ov, err := e.overrides.Get(ctx, t.ID, feature)
	if err == nil {
		e.breaker.RecordSuccess(breakerOverrides)
		return ov.Granted, nil
	}
	if !errors.Is(err, override.ErrNotFound) {
		e.breaker.RecordFailure(breakerOverrides)
		return false, err
	}
	e.breaker.RecordSuccess(breakerOverrides)
	return e.cat.Lookup(t.SubscriptionTier).HasFeature(feature), nil
}

// Status derives the tenant's operational status without a full
// access evaluation.
func (e *Engine) Status(ctx context.Context, tenantID string) (lifecycle.Status, error) {
	t, err := e.tenants.Get(ctx, tenantID)
	if err != nil {
		return "", err
	}
	return t.OperationalStatus(e.now()), nil
}

// InvalidateTenant drops all cached decisions for a tenant. Called when
// overrides or subscription fields change.
func (e *Engine) InvalidateTenant(tenantID string) {
	prefix := tenantID + "|"
	e.mu.Lock()
	for k := range e.cache {
		if strings.HasPrefix(k, prefix) {
			delete(e.cache, k)
		}
	}
	e.mu.Unlock()
}

func (e *Engine) cached(key string) (Decision, bool) {
	if e.cacheTTL <= 0 {
		return Decision{}, false
	}
	e.mu.RLock()
	entry, ok := e.cache[key]
	e.mu.RUnlock()
	// Expire at the boundary instant itself: Derive treats now == trialEndsAt
	// as expired, so a decision cached until that instant must not be served.
	if !ok || !e.now().Before(entry.expires) {
		return Decision{}, false
	}
	return entry.dec, true
}

func (e *Engine) store(key string, dec Decision, t *tenant.Tenant) {
	if e.cacheTTL <= 0 {
		return
	}
	expires := e.cacheDeadline(t)
	if !expires.After(e.now()) {
		return
	}
	e.mu.Lock()
	e.cache[key] = cacheEntry{dec: dec, expires: expires}
	e.mu.Unlock()
}

// cacheDeadline clamps the TTL to the tenant's next temporal boundary.
// A decision computed just before a trial or subscription expiry must
// not be served just after it.
func (e *Engine) cacheDeadline(t *tenant.Tenant) time.Time {
	now := e.now()
	expires := now.Add(e.cacheTTL)
	if boundary := t.NextBoundary(now); !boundary.IsZero() && boundary.Before(expires) {
		expires = boundary
	}
	return expires
}

func (e *Engine) record(dec Decision) {
	outcome := "denied"
	reason := dec.Reason
	if dec.Allowed {
		outcome = "allowed"
		reason = ""
	}
	metrics.AccessDecisionsTotal.WithLabelValues(outcome, reason).Inc()
}

func cacheKey(tenantID string, feature catalog.Feature, perm rbac.Permission, role rbac.Role) string {
	return tenantID + "|" + string(feature) + "|" + string(perm) + "|" + string(role)
}
