package tenant_test

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/shipmark-io/shipmark/internal/tenant"
)

func TestHandleCreateValidation(t *testing.T) {
	handler := tenant.NewHandler(tenant.NewStore(nil))

	cases := []struct {
		name string
		body string
	}{
		{"invalid json", `{`},
		{"missing name", `{"slug": "acme"}`},
		{"missing slug", `{"name": "Acme"}`},
		{"bad webhook mode", `{"name": "Acme", "slug": "acme", "webhook_mode": "strict"}`},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/v1/tenants", strings.NewReader(tc.body))
			req.Header.Set("Content-Type", "application/json")
			w := httptest.NewRecorder()

			handler.HandleCreate(w, req)

			assert.Equal(t, http.StatusBadRequest, w.Code)
		})
	}
}

func TestHandleSetWebhookModeValidation(t *testing.T) {
	handler := tenant.NewHandler(tenant.NewStore(nil))

	req := httptest.NewRequest(http.MethodPut, "/api/v1/tenants/t-1/webhook-mode",
		strings.NewReader(`{"webhook_mode": "sometimes"}`))
	req.SetPathValue("id", "t-1")
	w := httptest.NewRecorder()

	handler.HandleSetWebhookMode(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "permissive or enforced")
}
