// Package access implements the access decision engine.
//
// Evaluate combines the tenant's derived operational status, the tier
// catalog, per-tenant feature overrides, and the role permission matrix
// into a single Decision. The engine only reads from its collaborators;
// it never mutates tenant, override, or permission state.
package access

import (
	"github.com/storeloft/storeloft/internal/catalog"
	"github.com/storeloft/storeloft/internal/lifecycle"
)

// Deny reasons. Consumers branch on TierIssue/RoleIssue rather than
// parsing these strings; the reason is for humans and logs.
const (
	ReasonSubscriptionInactive = "subscription inactive"
	ReasonUpgradeRequired      = "upgrade required"
	ReasonInsufficientRole     = "insufficient role"
	ReasonUnavailable          = "access check unavailable"
)

// Decision is the engine's output. Ephemeral, never persisted.
//
// When Allowed is false, at most one of TierIssue/RoleIssue is true.
// An inactive subscription reports TierIssue (billing, not authorization,
// is what blocks the caller); a collaborator failure reports neither, so
// consumers never render an upgrade prompt for an infrastructure fault.
// Allowed=true implies both are false.
type Decision struct {
	Allowed       bool             `json:"allowed"`
	Reason        string           `json:"reason,omitempty"`
	TierIssue     bool             `json:"tierIssue"`
	RoleIssue     bool             `json:"roleIssue"`
	SuggestedTier *catalog.Tier    `json:"suggestedTier,omitempty"`

	// Status is the derived operational status at evaluation time.
	// Informational for gates; it carries no contract beyond the fields above.
	Status lifecycle.Status `json:"status"`
}

func allow(status lifecycle.Status) Decision {
	return Decision{Allowed: true, Status: status}
}

func denyInactive(status lifecycle.Status) Decision {
	return Decision{Allowed: false, Reason: ReasonSubscriptionInactive, TierIssue: true, Status: status}
}

func denyTier(status lifecycle.Status, suggested *catalog.Tier) Decision {
	return Decision{Allowed: false, Reason: ReasonUpgradeRequired, TierIssue: true, SuggestedTier: suggested, Status: status}
}

func denyRole(status lifecycle.Status) Decision {
	return Decision{Allowed: false, Reason: ReasonInsufficientRole, RoleIssue: true, Status: status}
}

func denyUnavailable(status lifecycle.Status) Decision {
	return Decision{Allowed: false, Reason: ReasonUnavailable, Status: status}
}
