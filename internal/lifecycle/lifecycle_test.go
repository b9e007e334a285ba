package lifecycle

import (
	"testing"
	"time"

	"github.com/storeloft/storeloft/internal/catalog"
	"github.com/stretchr/testify/assert"
)

var now = time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)

func ts(d time.Duration) *time.Time {
	t := now.Add(d)
	return &t
}

func TestDerive(t *testing.T) {
	tests := []struct {
		name   string
		status RawStatus
		tier   catalog.Tier
		trial  *time.Time
		subEnd *time.Time
		want   Status
	}{
		{"active starter, no boundaries", RawActive, catalog.TierStarter, nil, nil, StatusActive},
		{"trialing with future boundary", RawTrial, catalog.TierProfessional, ts(5 * 24 * time.Hour), nil, StatusTrialing},
		{"trial with no boundary stays trialing", RawTrial, catalog.TierStarter, nil, nil, StatusTrialing},
		{"trial one second past boundary", RawTrial, catalog.TierStarter, ts(-time.Second), nil, StatusExpired},
		{"trial one second before boundary", RawTrial, catalog.TierStarter, ts(time.Second), nil, StatusTrialing},
		{"canceled beats unexpired trial", RawCanceled, catalog.TierEnterprise, ts(48 * time.Hour), nil, StatusCanceled},
		{"canceled beats unexpired term", RawCanceled, catalog.TierEnterprise, nil, ts(48 * time.Hour), StatusCanceled},
		{"canceled on directory tier never reaches maintenance", RawCanceled, catalog.TierDirectoryOnly, ts(24 * time.Hour), nil, StatusCanceled},
		{"past_due reported as-is", RawPastDue, catalog.TierStarter, nil, ts(48 * time.Hour), StatusPastDue},
		{"expired paid tier", RawExpired, catalog.TierProfessional, nil, nil, StatusExpired},
		{"expired directory tier inside window", RawExpired, catalog.TierDirectoryOnly, ts(24 * time.Hour), nil, StatusMaintenance},
		{"expired directory tier past window", RawExpired, catalog.TierDirectoryOnly, ts(-48 * time.Hour), nil, StatusFrozen},
		{"expired directory tier without boundary", RawExpired, catalog.TierDirectoryOnly, nil, nil, StatusMaintenance},
		{"stale active past hard end-date", RawActive, catalog.TierEnterprise, nil, ts(-time.Hour), StatusExpired},
		{"stale active past end-date ignores trial field", RawActive, catalog.TierEnterprise, ts(24 * time.Hour), ts(-time.Hour), StatusExpired},
		{"active with future end-date", RawActive, catalog.TierEnterprise, nil, ts(time.Hour), StatusActive},
		{"active on directory tier inside window", RawActive, catalog.TierDirectoryOnly, ts(time.Hour), nil, StatusMaintenance},
		{"active on directory tier past window", RawActive, catalog.TierDirectoryOnly, ts(-time.Hour), nil, StatusFrozen},
		{"unknown raw status defaults to active", RawStatus("suspended"), catalog.TierStarter, nil, nil, StatusActive},
		{"empty raw status defaults to active", RawStatus(""), catalog.TierStarter, nil, nil, StatusActive},
		{"raw status is case and whitespace insensitive", RawStatus(" Canceled "), catalog.TierStarter, nil, nil, StatusCanceled},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Derive(tt.status, tt.tier, tt.trial, tt.subEnd, now)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDerive_Pure(t *testing.T) {
	trial := ts(30 * time.Minute)
	subEnd := ts(-10 * time.Minute)
	first := Derive(RawActive, catalog.TierDirectoryOnly, trial, subEnd, now)
	for i := 0; i < 100; i++ {
		assert.Equal(t, first, Derive(RawActive, catalog.TierDirectoryOnly, trial, subEnd, now))
	}
}

func TestDerive_BoundaryInstant(t *testing.T) {
	// Exactly at the boundary the trial is over: trialEndsAt > now is the
	// trialing condition, and now == trialEndsAt fails it.
	boundary := now
	assert.Equal(t, StatusExpired, Derive(RawTrial, catalog.TierStarter, &boundary, nil, now))
	// Same instant on the maintenance window: now < trialEndsAt fails, so frozen.
	assert.Equal(t, StatusFrozen, Derive(RawExpired, catalog.TierDirectoryOnly, &boundary, nil, now))
}

func TestStatusPredicates(t *testing.T) {
	assert.True(t, StatusFrozen.Inactive())
	assert.True(t, StatusCanceled.Inactive())
	assert.False(t, StatusMaintenance.Inactive())
	assert.False(t, StatusPastDue.Inactive())
	assert.True(t, StatusFrozen.ReadOnly())
	assert.False(t, StatusCanceled.ReadOnly())
}
