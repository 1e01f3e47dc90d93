package courier

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

// Handler handles courier HTTP endpoints.
type Handler struct {
	pool  *pgxpool.Pool
	store *Store
}

// NewHandler creates a new courier handler.
func NewHandler(pool *pgxpool.Pool, store *Store) *Handler {
	return &Handler{pool: pool, store: store}
}

// RegisterRoutes registers courier routes on the given mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/v1/couriers", h.HandleCreate)
	mux.HandleFunc("GET /api/v1/couriers", h.HandleList)
	mux.HandleFunc("GET /api/v1/couriers/{id}", h.HandleGet)
	mux.HandleFunc("PUT /api/v1/couriers/{id}", h.HandleUpdate)
	mux.HandleFunc("DELETE /api/v1/couriers/{id}", h.HandleDelete)
}

type courierRequest struct {
	Code        string `json:"code"`
	Name        string `json:"name"`
	APIEndpoint string `json:"api_endpoint"`
	APIKey      string `json:"api_key"`
	Active      bool   `json:"active"`
}

// HandleCreate registers a courier for the tenant.
// POST /api/v1/couriers
func (h *Handler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 10<<10)

	tenantID := middleware.GetTenantID(r.Context())
	if tenantID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "tenant context required"})
		return
	}

	var req courierRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	var c *Courier
	err := database.WithTenantConnection(r.Context(), h.pool, tenantID, func(ctx context.Context, q database.Querier) error {
		var createErr error
		c, createErr = h.store.Create(ctx, q, req.Code, req.Name, req.APIEndpoint, req.APIKey, req.Active)
		return createErr
	})
	if err != nil {
		switch {
		case errors.Is(err, ErrCodeEmpty), errors.Is(err, ErrNameEmpty):
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		case errors.Is(err, ErrCodeTaken):
			writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
		default:
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "courier creation failed"})
		}
		return
	}

	writeJSON(w, http.StatusCreated, c)
}

// HandleList returns all couriers for the tenant.
// GET /api/v1/couriers
func (h *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	tenantID := middleware.GetTenantID(r.Context())
	if tenantID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "tenant context required"})
		return
	}

	var list []Courier
	err := database.WithTenantConnection(r.Context(), h.pool, tenantID, func(ctx context.Context, q database.Querier) error {
		var listErr error
		list, listErr = h.store.List(ctx, q)
		return listErr
	})
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "listing couriers failed"})
		return
	}

	if list == nil {
		list = []Courier{}
	}
	writeJSON(w, http.StatusOK, list)
}

// HandleGet returns a courier by ID.
// GET /api/v1/couriers/{id}
func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	tenantID, id, ok := h.resolve(w, r)
	if !ok {
		return
	}

	var c *Courier
	err := database.WithTenantConnection(r.Context(), h.pool, tenantID, func(ctx context.Context, q database.Querier) error {
		var getErr error
		c, getErr = h.store.GetByID(ctx, q, id)
		return getErr
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "courier not found"})
			return
		}
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "fetching courier failed"})
		return
	}

	writeJSON(w, http.StatusOK, c)
}

// HandleUpdate updates a courier's name, credentials, or active flag. The
// code is immutable; shipments reference it.
// PUT /api/v1/couriers/{id}
func (h *Handler) HandleUpdate(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 10<<10)

	tenantID, id, ok := h.resolve(w, r)
	if !ok {
		return
	}

	var req courierRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	var c *Courier
	err := database.WithTenantConnection(r.Context(), h.pool, tenantID, func(ctx context.Context, q database.Querier) error {
		var updateErr error
		c, updateErr = h.store.Update(ctx, q, id, req.Name, req.APIEndpoint, req.APIKey, req.Active)
		return updateErr
	})
	if err != nil {
		switch {
		case errors.Is(err, ErrNotFound):
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "courier not found"})
		case errors.Is(err, ErrNameEmpty):
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		default:
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "updating courier failed"})
		}
		return
	}

	writeJSON(w, http.StatusOK, c)
}

// HandleDelete removes a courier.
// DELETE /api/v1/couriers/{id}
func (h *Handler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	tenantID, id, ok := h.resolve(w, r)
	if !ok {
		return
	}

	err := database.WithTenantConnection(r.Context(), h.pool, tenantID, func(ctx context.Context, q database.Querier) error {
		return h.store.Delete(ctx, q, id)
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "courier not found"})
			return
		}
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "deleting courier failed"})
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) resolve(w http.ResponseWriter, r *http.Request) (string, uuid.UUID, bool) {
	tenantID := middleware.GetTenantID(r.Context())
	if tenantID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "tenant context required"})
		return "", uuid.Nil, false
	}

	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid courier id"})
		return "", uuid.Nil, false
	}

	return tenantID, id, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
