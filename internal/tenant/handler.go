package tenant

import (
	"encoding/json"
	"errors"
	"net/http"
)

// Handler handles tenant HTTP endpoints.
type Handler struct {
	store *Store
}

// NewHandler creates a new tenant handler.
func NewHandler(store *Store) *Handler {
	return &Handler{store: store}
}

// RegisterRoutes registers tenant routes on the given mux.
// All routes require admin auth (applied externally via middleware).
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/v1/tenants", h.HandleCreate)
	mux.HandleFunc("GET /api/v1/tenants", h.HandleList)
	mux.HandleFunc("GET /api/v1/tenants/{id}", h.HandleGet)
	mux.HandleFunc("GET /api/v1/tenants/{id}/webhook-secret", h.HandleGetWebhookSecret)
	mux.HandleFunc("POST /api/v1/tenants/{id}/webhook-secret/rotate", h.HandleRotateWebhookSecret)
	mux.HandleFunc("PUT /api/v1/tenants/{id}/webhook-mode", h.HandleSetWebhookMode)
}

// HandleCreate creates a new tenant. The generated webhook secret is
// returned once in the creation response and never again through the
// tenant resource itself.
func (h *Handler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 10<<10)

	var req struct {
		Name        string `json:"name"`
		Slug        string `json:"slug"`
		WebhookMode string `json:"webhook_mode"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	if req.Name == "" || req.Slug == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "name and slug are required"})
		return
	}
	if req.WebhookMode == "" {
		req.WebhookMode = "permissive"
	}
	if req.WebhookMode != "permissive" && req.WebhookMode != "enforced" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "webhook_mode must be permissive or enforced"})
		return
	}

	t, err := h.store.Create(r.Context(), req.Name, req.Slug, req.WebhookMode)
	if err != nil {
		if errors.Is(err, ErrInvalidSlug) {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
			return
		}
		if errors.Is(err, ErrSlugTaken) {
			writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
			return
		}
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "tenant creation failed"})
		return
	}

	writeJSON(w, http.StatusCreated, struct {
		*Tenant
		WebhookSecret string `json:"webhook_secret"`
	}{t, t.WebhookSecret})
}

// HandleGet returns a tenant by ID.
func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	t, ok := h.loadTenant(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, t)
}

// HandleList returns all tenants.
func (h *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	tenants, err := h.store.List(r.Context())
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "listing tenants failed"})
		return
	}

	if tenants == nil {
		tenants = []Tenant{}
	}
	writeJSON(w, http.StatusOK, tenants)
}

// HandleGetWebhookSecret returns the tenant's current signing secret.
func (h *Handler) HandleGetWebhookSecret(w http.ResponseWriter, r *http.Request) {
	t, ok := h.loadTenant(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"webhook_secret": t.WebhookSecret})
}

// HandleRotateWebhookSecret replaces the tenant's signing secret.
func (h *Handler) HandleRotateWebhookSecret(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "missing tenant id"})
		return
	}

	t, err := h.store.RotateWebhookSecret(r.Context(), id)
	if err != nil {
		if errors.Is(err, ErrTenantNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "tenant not found"})
			return
		}
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "rotating webhook secret failed"})
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"webhook_secret": t.WebhookSecret})
}

// HandleSetWebhookMode switches the tenant's verification mode.
func (h *Handler) HandleSetWebhookMode(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "missing tenant id"})
		return
	}

	var req struct {
		WebhookMode string `json:"webhook_mode"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	if req.WebhookMode != "permissive" && req.WebhookMode != "enforced" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "webhook_mode must be permissive or enforced"})
		return
	}

	t, err := h.store.SetWebhookMode(r.Context(), id, req.WebhookMode)
	if err != nil {
		if errors.Is(err, ErrTenantNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "tenant not found"})
			return
		}
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "setting webhook mode failed"})
		return
	}

	writeJSON(w, http.StatusOK, t)
}

func (h *Handler) loadTenant(w http.ResponseWriter, r *http.Request) (*Tenant, bool) {
	id := r.PathValue("id")
	if id == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "missing tenant id"})
		return nil, false
	}

	t, err := h.store.GetByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, ErrTenantNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "tenant not found"})
			return nil, false
		}
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "fetching tenant failed"})
		return nil, false
	}
	return t, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
