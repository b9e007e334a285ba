// Package lifecycle derives a tenant's operational status from its raw
// subscription fields. Nothing here is persisted or cached: status is a pure
// function of the four billing signals and the current instant, so every
// caller sees the same classification for the same inputs.
package lifecycle

import (
	"strings"
	"time"

	"github.com/storeloft/storeloft/internal/catalog"
)

// RawStatus is the subscription status as written by billing events. It is an
// input signal, not the engine's output vocabulary.
type RawStatus string

const (
	RawTrial    RawStatus = "trial"
	RawActive   RawStatus = "active"
	RawPastDue  RawStatus = "past_due"
	RawCanceled RawStatus = "canceled"
	RawExpired  RawStatus = "expired"
)

// Status is the derived operational classification of a tenant at a point in
// time. It is recomputed on every evaluation and never stored.
type Status string

const (
	StatusTrialing    Status = "trialing"
	StatusActive      Status = "active"
	StatusPastDue     Status = "past_due"
	StatusMaintenance Status = "maintenance"
	StatusFrozen      Status = "frozen"
	StatusCanceled    Status = "canceled"
	StatusExpired     Status = "expired"
)

// Inactive reports whether the status denies all access regardless of tier,
// override, or role.
func (s Status) Inactive() bool {
	return s == StatusFrozen || s == StatusCanceled
}

// ReadOnly reports whether the tenant may view existing data but not mutate it.
func (s Status) ReadOnly() bool {
	return s == StatusFrozen
}

// Derive classifies a tenant. The branch order is the design: several raw
// signals can be true at once, and the first match wins.
//
//  1. canceled is terminal and beats everything, including an unexpired term.
//  2. past_due is reported as-is; grace countdown is billing's job.
//  3. trial compares the clock against trialEndsAt; a stale trial flag past
//     its boundary derives expired even before billing flips the raw status.
//  4. expired on the directory-only tier splits into maintenance vs frozen.
//  5. active with a passed subscriptionEndsAt derives expired; a stale
//     "active" flag does not survive a hard end-date.
//  6. anything unrecognized derives active. Unknown input must never silently
//     deny service.
func Derive(status RawStatus, tier catalog.Tier, trialEndsAt, subscriptionEndsAt *time.Time, now time.Time) Status {
	switch normalize(status) {
	case RawCanceled:
		return StatusCanceled

	case RawPastDue:
		return StatusPastDue

	case RawTrial:
		if trialEndsAt == nil || trialEndsAt.After(now) {
			return StatusTrialing
		}
		return StatusExpired

	case RawExpired:
		if tier == catalog.TierDirectoryOnly {
			return maintenanceState(trialEndsAt, now)
		}
		return StatusExpired

	case RawActive:
		if subscriptionEndsAt != nil && subscriptionEndsAt.Before(now) {
			return StatusExpired
		}
		if tier == catalog.TierDirectoryOnly {
			// directory_only should not normally co-occur with active, but a
			// mid-downgrade record must still classify sanely.
			return maintenanceState(trialEndsAt, now)
		}
		return StatusActive

	default:
		return StatusActive
	}
}

// maintenanceState decides the maintenance/freeze split for the directory-only
// tier. trialEndsAt doubles as the end of the post-downgrade grace window; no
// boundary means the window never closes.
func maintenanceState(trialEndsAt *time.Time, now time.Time) Status {
	if trialEndsAt == nil || now.Before(*trialEndsAt) {
		return StatusMaintenance
	}
	return StatusFrozen
}

func normalize(s RawStatus) RawStatus {
	return RawStatus(strings.ToLower(strings.TrimSpace(string(s))))
}
