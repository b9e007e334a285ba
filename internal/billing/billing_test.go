package billing

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/storeloft/storeloft/internal/catalog"
	"github.com/storeloft/storeloft/internal/lifecycle"
	"github.com/storeloft/storeloft/internal/tenant"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "whsec_test"

type recordingInvalidator struct {
	tenantIDs []string
}

func (r *recordingInvalidator) InvalidateTenant(id string) {
	r.tenantIDs = append(r.tenantIDs, id)
}

func newBillingRouter(t *testing.T) (*gin.Engine, tenant.Store, *recordingInvalidator) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	tenants := tenant.NewMemoryStore()
	inv := &recordingInvalidator{}
	h := NewHandler(tenants, testSecret, inv, nil)

	r := gin.New()
	h.RegisterRoutes(r.Group("/v1"))
	return r, tenants, inv
}

func seedStripeTenant(t *testing.T, store tenant.Store) *tenant.Tenant {
	t.Helper()
	now := time.Now()
	tn := &tenant.Tenant{
		ID:                 "ten_000000000000000000000001",
		Name:               "Corner Books",
		Slug:               "corner-books",
		SubscriptionStatus: lifecycle.RawActive,
		SubscriptionTier:   catalog.TierProfessional,
		StripeCustomerID:   "cus_123",
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	require.NoError(t, store.Create(context.Background(), tn))
	return tn
}

// signedHeader builds a valid Stripe-Signature header for the payload.
func signedHeader(payload []byte) string {
	ts := time.Now().Unix()
	mac := hmac.New(sha256.New, []byte(testSecret))
	fmt.Fprintf(mac, "%d.%s", ts, payload)
	return fmt.Sprintf("t=%d,v1=%s", ts, hex.EncodeToString(mac.Sum(nil)))
}

func deliver(t *testing.T, r *gin.Engine, payload []byte, sig string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/v1/billing/webhook", bytes.NewReader(payload))
	req.Header.Set("Stripe-Signature", sig)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestWebhook_RejectsBadSignature(t *testing.T) {
	r, _, _ := newBillingRouter(t)

	payload := []byte(`{"type":"customer.subscription.updated","data":{"object":{}}}`)
	w := deliver(t, r, payload, "t=1,v1=deadbeef")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestWebhook_SubscriptionUpdated(t *testing.T) {
	r, tenants, inv := newBillingRouter(t)
	seedStripeTenant(t, tenants)

	trialEnd := time.Now().Add(14 * 24 * time.Hour).Unix()
	payload := []byte(fmt.Sprintf(`{
		"type": "customer.subscription.updated",
		"data": {"object": {
			"customer": "cus_123",
			"status": "trialing",
			"trial_end": %d,
			"items": {"data": [{"price": {"lookup_key": "enterprise"}}]}
		}}
	}`, trialEnd))

	w := deliver(t, r, payload, signedHeader(payload))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	tn, err := tenants.Get(context.Background(), "ten_000000000000000000000001")
	require.NoError(t, err)
	assert.Equal(t, lifecycle.RawTrial, tn.SubscriptionStatus)
	assert.Equal(t, catalog.TierEnterprise, tn.SubscriptionTier)
	require.NotNil(t, tn.TrialEndsAt)
	assert.Equal(t, trialEnd, tn.TrialEndsAt.Unix())
	assert.Equal(t, []string{"ten_000000000000000000000001"}, inv.tenantIDs)
}

func TestWebhook_SubscriptionDeletedDowngrades(t *testing.T) {
	r, tenants, _ := newBillingRouter(t)
	seedStripeTenant(t, tenants)

	payload := []byte(`{
		"type": "customer.subscription.deleted",
		"data": {"object": {"customer": "cus_123", "status": "canceled"}}
	}`)

	w := deliver(t, r, payload, signedHeader(payload))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	tn, err := tenants.Get(context.Background(), "ten_000000000000000000000001")
	require.NoError(t, err)
	assert.Equal(t, lifecycle.RawExpired, tn.SubscriptionStatus)
	assert.Equal(t, catalog.TierDirectoryOnly, tn.SubscriptionTier)
	require.NotNil(t, tn.TrialEndsAt, "downgrade must open a grace window")
	assert.True(t, tn.TrialEndsAt.After(time.Now()))

	// Inside the window the tenant is in maintenance, not frozen.
	assert.Equal(t, lifecycle.StatusMaintenance, tn.OperationalStatus(time.Now()))
	assert.Equal(t, lifecycle.StatusFrozen, tn.OperationalStatus(tn.TrialEndsAt.Add(time.Hour)))
}

func TestWebhook_PaymentFailedAndRecovered(t *testing.T) {
	r, tenants, _ := newBillingRouter(t)
	seedStripeTenant(t, tenants)

	payload := []byte(`{
		"type": "invoice.payment_failed",
		"data": {"object": {"customer": "cus_123"}}
	}`)
	w := deliver(t, r, payload, signedHeader(payload))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	tn, err := tenants.Get(context.Background(), "ten_000000000000000000000001")
	require.NoError(t, err)
	assert.Equal(t, lifecycle.RawPastDue, tn.SubscriptionStatus)

	payload = []byte(`{
		"type": "invoice.payment_succeeded",
		"data": {"object": {"customer": "cus_123"}}
	}`)
	w = deliver(t, r, payload, signedHeader(payload))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	tn, err = tenants.Get(context.Background(), "ten_000000000000000000000001")
	require.NoError(t, err)
	assert.Equal(t, lifecycle.RawActive, tn.SubscriptionStatus)
}

func TestWebhook_UnknownCustomerAcknowledged(t *testing.T) {
	r, _, _ := newBillingRouter(t)

	payload := []byte(`{
		"type": "customer.subscription.updated",
		"data": {"object": {"customer": "cus_ghost", "status": "active"}}
	}`)
	w := deliver(t, r, payload, signedHeader(payload))
	// Acknowledged so Stripe stops retrying.
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "unknown_customer")
}

func TestWebhook_UnhandledEventIgnored(t *testing.T) {
	r, _, _ := newBillingRouter(t)

	payload := []byte(`{"type": "charge.refunded", "data": {"object": {}}}`)
	w := deliver(t, r, payload, signedHeader(payload))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "ignored")
}
