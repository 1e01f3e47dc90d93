package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shipmark-io/shipmark/internal/platform/database"
	"github.com/shipmark-io/shipmark/internal/platform/metrics"
	"github.com/shipmark-io/shipmark/internal/shipment"
	"github.com/shipmark-io/shipmark/internal/tenant"
)

// maxOrderBodyBytes caps order-push payloads.
const maxOrderBodyBytes = 1 << 20

// TenantSource resolves the tenant whose secret signs the request.
type TenantSource interface {
	GetByID(ctx context.Context, id string) (*tenant.Tenant, error)
}

// OrderStore is the slice of the shipment store the handler writes through.
type OrderStore interface {
	UpsertOrder(ctx context.Context, q database.Querier, externalID, customerName, customerRef string, totalAmount float64, currency string) (*shipment.Order, error)
	UpsertShipment(ctx context.Context, q database.Querier, orderID uuid.UUID, courierCode, trackingNumber, courierTrackingID string) (*shipment.Shipment, error)
}

// Handler receives signed order pushes from store plugins. The endpoint is
// unauthenticated at the HTTP layer; the HMAC signature is the auth.
type Handler struct {
	pool    *pgxpool.Pool
	tenants TenantSource
	orders  OrderStore
	replay  ReplayCache
	cfg     VerifierConfig
	now     func() time.Time
}

// NewHandler creates a new order-push handler. cfg.Mode acts as the
// platform default; a tenant's own webhook mode takes precedence.
func NewHandler(pool *pgxpool.Pool, tenants TenantSource, orders OrderStore, replay ReplayCache, cfg VerifierConfig) *Handler {
	return &Handler{
		pool:    pool,
		tenants: tenants,
		orders:  orders,
		replay:  replay,
		cfg:     cfg,
		now:     time.Now,
	}
}

// orderPush is the JSON shape store plugins send.
type orderPush struct {
	ExternalID        string  `json:"external_id"`
	CustomerName      string  `json:"customer_name"`
	CustomerRef       string  `json:"customer_ref"`
	TotalAmount       float64 `json:"total_amount"`
	Currency          string  `json:"currency"`
	CourierCode       string  `json:"courier_code"`
	TrackingNumber    string  `json:"tracking_number"`
	CourierTrackingID string  `json:"courier_tracking_id"`
}

// HandleOrderPush verifies and ingests one order.
// POST /api/v1/webhooks/orders/{tenantID}
func (h *Handler) HandleOrderPush(w http.ResponseWriter, r *http.Request) {
	tenantID := r.PathValue("tenantID")
	if tenantID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "missing tenant id"})
		return
	}

	tn, err := h.tenants.GetByID(r.Context(), tenantID)
	if err != nil {
		if errors.Is(err, tenant.ErrTenantNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "unknown tenant"})
			return
		}
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "tenant lookup failed"})
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxOrderBodyBytes))
	if err != nil {
		writeJSON(w, http.StatusRequestEntityTooLarge, map[string]string{"error": "payload too large"})
		return
	}

	// A verifier per request keeps the failure reason call-scoped under
	// concurrent pushes.
	cfg := h.cfg
	if tn.WebhookMode != "" {
		cfg.Mode = ParseMode(tn.WebhookMode)
	}
	verifier := NewVerifier(h.replay, cfg)

	ok := verifier.Verify(r.Context(), Request{
		TenantID:     tenantID,
		Headers:      r.Header,
		Body:         body,
		Query:        r.URL.Query(),
		TenantSecret: tn.WebhookSecret,
	}, h.now())
	if !ok {
		reason := verifier.LastFailureReason()
		metrics.WebhookDecisionsTotal.WithLabelValues(string(reason)).Inc()
		slog.Warn("order push rejected",
			"tenant_id", tenantID,
			"reason", reason,
		)
		writeJSON(w, http.StatusUnauthorized, map[string]string{
			"error":  "signature verification failed",
			"reason": string(reason),
		})
		return
	}
	metrics.WebhookDecisionsTotal.WithLabelValues("accepted").Inc()

	var push orderPush
	if err := json.Unmarshal(body, &push); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	if push.ExternalID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "external_id is required"})
		return
	}

	var (
		order *shipment.Order
		ship  *shipment.Shipment
	)
	err = database.WithTenantConnection(r.Context(), h.pool, tenantID, func(ctx context.Context, q database.Querier) error {
		var opErr error
		order, opErr = h.orders.UpsertOrder(ctx, q, push.ExternalID, push.CustomerName, push.CustomerRef, push.TotalAmount, push.Currency)
		if opErr != nil {
			return opErr
		}
		if push.TrackingNumber != "" {
			ship, opErr = h.orders.UpsertShipment(ctx, q, order.ID, push.CourierCode, push.TrackingNumber, push.CourierTrackingID)
		}
		return opErr
	})
	if err != nil {
		slog.Error("order ingestion failed", "tenant_id", tenantID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "order ingestion failed"})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"order":    order,
		"shipment": ship,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
