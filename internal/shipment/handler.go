package shipment

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shipmark-io/shipmark/internal/platform/database"
	"github.com/shipmark-io/shipmark/internal/platform/middleware"
)

// Handler handles shipment HTTP endpoints.
type Handler struct {
	pool  *pgxpool.Pool
	store *Store
}

// NewHandler creates a new shipment handler.
func NewHandler(pool *pgxpool.Pool, store *Store) *Handler {
	return &Handler{pool: pool, store: store}
}

// RegisterRoutes registers shipment routes on the given mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/v1/shipments", h.HandleList)
	mux.HandleFunc("GET /api/v1/shipments/{id}", h.HandleGet)
	mux.HandleFunc("GET /api/v1/shipments/{id}/history", h.HandleHistory)
}

// HandleList returns the tenant's shipments, optionally filtered by status.
// GET /api/v1/shipments?status=in_transit
func (h *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	tenantID := middleware.GetTenantID(r.Context())
	if tenantID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "tenant context required"})
		return
	}

	status := Status(r.URL.Query().Get("status"))

	var list []Shipment
	err := database.WithTenantConnection(r.Context(), h.pool, tenantID, func(ctx context.Context, q database.Querier) error {
		var listErr error
		list, listErr = h.store.ListByStatus(ctx, q, status)
		return listErr
	})
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "listing shipments failed"})
		return
	}

	if list == nil {
		list = []Shipment{}
	}
	writeJSON(w, http.StatusOK, list)
}

// HandleGet returns a shipment together with its latest status entry.
// GET /api/v1/shipments/{id}
func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	tenantID, id, ok := h.resolve(w, r)
	if !ok {
		return
	}

	var (
		sh     *Shipment
		latest *StatusHistoryEntry
	)
	err := database.WithTenantConnection(r.Context(), h.pool, tenantID, func(ctx context.Context, q database.Querier) error {
		var getErr error
		sh, getErr = h.store.GetByID(ctx, q, id)
		if getErr != nil {
			return getErr
		}
		latest, getErr = h.store.LatestHistoryEntry(ctx, q, id)
		return getErr
	})
	if err != nil {
		if errors.Is(err, ErrShipmentNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "shipment not found"})
			return
		}
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "fetching shipment failed"})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"shipment":     sh,
		"latest_event": latest,
	})
}

// HandleHistory returns the full status history of a shipment.
// GET /api/v1/shipments/{id}/history
func (h *Handler) HandleHistory(w http.ResponseWriter, r *http.Request) {
	tenantID, id, ok := h.resolve(w, r)
	if !ok {
		return
	}

	var history []StatusHistoryEntry
	err := database.WithTenantConnection(r.Context(), h.pool, tenantID, func(ctx context.Context, q database.Querier) error {
		if _, getErr := h.store.GetByID(ctx, q, id); getErr != nil {
			return getErr
		}
		var histErr error
		history, histErr = h.store.HistoryForShipment(ctx, q, id)
		return histErr
	})
	if err != nil {
		if errors.Is(err, ErrShipmentNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "shipment not found"})
			return
		}
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "fetching shipment history failed"})
		return
	}

	if history == nil {
		history = []StatusHistoryEntry{}
	}
	writeJSON(w, http.StatusOK, history)
}

func (h *Handler) resolve(w http.ResponseWriter, r *http.Request) (string, uuid.UUID, bool) {
	tenantID := middleware.GetTenantID(r.Context())
	if tenantID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "tenant context required"})
		return "", uuid.Nil, false
	}

	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid shipment id"})
		return "", uuid.Nil, false
	}

	return tenantID, id, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
