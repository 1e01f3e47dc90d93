package webhook_test

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/shipmark-io/shipmark/internal/tenant"
	"github.com/shipmark-io/shipmark/internal/webhook"
)

type fakeTenantSource struct {
	tenants map[string]*tenant.Tenant
}

func (f *fakeTenantSource) GetByID(_ context.Context, id string) (*tenant.Tenant, error) {
	if t, ok := f.tenants[id]; ok {
		return t, nil
	}
	return nil, tenant.ErrTenantNotFound
}

func newPushHandler(tenants map[string]*tenant.Tenant) *webhook.Handler {
	return webhook.NewHandler(nil, &fakeTenantSource{tenants: tenants}, nil,
		webhook.NewMemoryReplayCache(), webhook.VerifierConfig{})
}

func pushRequest(t *testing.T, tenantID, body, secret string) *http.Request {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/orders/"+tenantID, strings.NewReader(body))
	req.SetPathValue("tenantID", tenantID)

	ts := strconv.FormatInt(time.Now().Unix(), 10)
	nonce := "nonce-" + tenantID
	req.Header.Set(webhook.TimestampHeader, ts)
	req.Header.Set(webhook.NonceHeader, nonce)

	payload := ts + "." + nonce + "." + body
	req.Header.Set(webhook.SignatureHeader, hex.EncodeToString(computeMAC(t, payload, secret)))
	return req
}

func TestHandleOrderPushUnknownTenant(t *testing.T) {
	handler := newPushHandler(nil)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/orders/t-404", strings.NewReader("{}"))
	req.SetPathValue("tenantID", "t-404")
	w := httptest.NewRecorder()

	handler.HandleOrderPush(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHandleOrderPushEnforcedRejectsUnsigned(t *testing.T) {
	handler := newPushHandler(map[string]*tenant.Tenant{
		"t-1": {ID: "t-1", WebhookSecret: "s3cret", WebhookMode: "enforced"},
	})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/orders/t-1", strings.NewReader(`{"external_id":"ORD-1"}`))
	req.SetPathValue("tenantID", "t-1")
	w := httptest.NewRecorder()

	handler.HandleOrderPush(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)

	var resp map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "missing_signature", resp["reason"])
}

func TestHandleOrderPushTamperedBody(t *testing.T) {
	handler := newPushHandler(map[string]*tenant.Tenant{
		"t-1": {ID: "t-1", WebhookSecret: "s3cret", WebhookMode: "enforced"},
	})

	req := pushRequest(t, "t-1", `{"external_id":"ORD-1"}`, "wrong-secret")
	w := httptest.NewRecorder()

	handler.HandleOrderPush(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, w.Body.String(), "bad_mac")
}

func TestHandleOrderPushVerifiedBadJSON(t *testing.T) {
	handler := newPushHandler(map[string]*tenant.Tenant{
		"t-1": {ID: "t-1", WebhookSecret: "s3cret", WebhookMode: "enforced"},
	})

	// Correctly signed garbage passes the signature gate and fails at the
	// decode step, before any database work.
	req := pushRequest(t, "t-1", `not-json`, "s3cret")
	w := httptest.NewRecorder()

	handler.HandleOrderPush(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "invalid request body")
}

func TestHandleOrderPushMissingExternalID(t *testing.T) {
	handler := newPushHandler(map[string]*tenant.Tenant{
		"t-1": {ID: "t-1", WebhookSecret: "s3cret", WebhookMode: "enforced"},
	})

	req := pushRequest(t, "t-1", `{"customer_name":"Maria P"}`, "s3cret")
	w := httptest.NewRecorder()

	handler.HandleOrderPush(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "external_id is required")
}
