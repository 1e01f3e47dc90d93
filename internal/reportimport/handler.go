package reportimport

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shipmark-io/shipmark/internal/auth"
	"github.com/shipmark-io/shipmark/internal/platform/database"
	"github.com/shipmark-io/shipmark/internal/platform/middleware"
)

// maxUploadBytes caps report uploads. Courier settlement files are a few
// hundred KB at most; 20MB leaves plenty of headroom.
const maxUploadBytes = 20 << 20

// TokenValidator validates a raw JWT string and returns the identity.
// WebSocket clients authenticate via query parameter since browsers cannot
// set headers on the upgrade request.
type TokenValidator interface {
	ValidateToken(token string) (*auth.Identity, error)
}

// Handler handles import run HTTP endpoints.
type Handler struct {
	pool      *pgxpool.Pool
	store     *Store
	uploadDir string
	tokens    TokenValidator
}

// NewHandler creates a new import run handler.
func NewHandler(pool *pgxpool.Pool, store *Store, uploadDir string, tokens TokenValidator) *Handler {
	return &Handler{pool: pool, store: store, uploadDir: uploadDir, tokens: tokens}
}

// HandleCreate accepts a multipart report upload and queues a pending run.
// POST /api/v1/imports
func (h *Handler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	tenantID := middleware.GetTenantID(r.Context())
	if tenantID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "tenant context required"})
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid multipart request"})
		return
	}

	courierCode := strings.ToLower(strings.TrimSpace(r.FormValue("courier_code")))
	if courierCode == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "courier_code is required"})
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "file is required"})
		return
	}
	defer file.Close()

	path, err := h.saveUpload(tenantID, file)
	if err != nil {
		slog.Error("storing report upload failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "storing upload failed"})
		return
	}

	var run *Run
	err = database.WithTenantConnection(r.Context(), h.pool, tenantID, func(ctx context.Context, q database.Querier) error {
		var createErr error
		run, createErr = h.store.Create(ctx, q, courierCode, header.Filename, path)
		return createErr
	})
	if err != nil {
		_ = os.Remove(path)
		slog.Error("creating import run failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "creating import run failed"})
		return
	}

	writeJSON(w, http.StatusCreated, run)
}

// saveUpload copies the report into the upload directory under a fresh
// name. The original filename only survives as metadata on the run.
func (h *Handler) saveUpload(tenantID string, src io.Reader) (string, error) {
	dir := filepath.Join(h.uploadDir, tenantID)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return "", err
	}
	path := filepath.Join(dir, uuid.NewString()+".csv")
	dst, err := os.Create(path)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		_ = os.Remove(path)
		return "", err
	}
	return path, dst.Close()
}

// HandleList returns the tenant's import runs, newest first.
// GET /api/v1/imports
func (h *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	tenantID := middleware.GetTenantID(r.Context())
	if tenantID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "tenant context required"})
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, _ = strconv.Atoi(raw)
	}

	var list []Run
	err := database.WithTenantConnection(r.Context(), h.pool, tenantID, func(ctx context.Context, q database.Querier) error {
		var listErr error
		list, listErr = h.store.List(ctx, q, limit)
		return listErr
	})
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "listing import runs failed"})
		return
	}

	if list == nil {
		list = []Run{}
	}
	writeJSON(w, http.StatusOK, list)
}

// HandleGet returns a single import run.
// GET /api/v1/imports/{id}
func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	h.withRun(w, r, func(ctx context.Context, q database.Querier, id uuid.UUID) (*Run, error) {
		return h.store.GetByID(ctx, q, id)
	})
}

// HandleCancel requests cancellation of a pending or processing run.
// POST /api/v1/imports/{id}/cancel
func (h *Handler) HandleCancel(w http.ResponseWriter, r *http.Request) {
	h.withRun(w, r, func(ctx context.Context, q database.Querier, id uuid.UUID) (*Run, error) {
		return h.store.RequestCancel(ctx, q, id)
	})
}

func (h *Handler) withRun(w http.ResponseWriter, r *http.Request, op func(context.Context, database.Querier, uuid.UUID) (*Run, error)) {
	tenantID := middleware.GetTenantID(r.Context())
	if tenantID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "tenant context required"})
		return
	}

	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid import run id"})
		return
	}

	var run *Run
	err = database.WithTenantConnection(r.Context(), h.pool, tenantID, func(ctx context.Context, q database.Querier) error {
		var opErr error
		run, opErr = op(ctx, q, id)
		return opErr
	})
	if err != nil {
		switch {
		case errors.Is(err, ErrRunNotFound):
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "import run not found"})
		case errors.Is(err, ErrRunFinished):
			writeJSON(w, http.StatusConflict, map[string]string{"error": "import run already finished"})
		default:
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "import run operation failed"})
		}
		return
	}

	writeJSON(w, http.StatusOK, run)
}

// wsProgressMessage is the JSON shape sent to WebSocket progress watchers.
type wsProgressMessage struct {
	RunID    string   `json:"run_id"`
	State    State    `json:"state"`
	Progress Progress `json:"progress"`
	Summary  *Summary `json:"summary,omitempty"`
	Done     bool     `json:"done,omitempty"`
}

// wsPollInterval is how often the progress stream re-reads the run.
const wsPollInterval = time.Second

// HandleProgressWS upgrades to a WebSocket and streams progress snapshots
// until the run reaches a terminal state. Auth is performed via
// access_token query parameter since browsers cannot set headers on
// WebSocket upgrade.
// GET /api/v1/imports/{id}/ws
func (h *Handler) HandleProgressWS(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		http.Error(w, `{"error":"invalid import run id"}`, http.StatusBadRequest)
		return
	}

	rawToken := r.URL.Query().Get("access_token")
	if rawToken == "" {
		http.Error(w, `{"error":"missing access_token"}`, http.StatusUnauthorized)
		return
	}
	identity, err := h.tokens.ValidateToken(rawToken)
	if err != nil {
		http.Error(w, `{"error":"invalid token"}`, http.StatusUnauthorized)
		return
	}

	// Verify the run exists for this tenant before upgrading.
	if _, err := h.loadRun(r.Context(), identity.TenantID, id); err != nil {
		if errors.Is(err, ErrRunNotFound) {
			http.Error(w, `{"error":"import run not found"}`, http.StatusNotFound)
		} else {
			http.Error(w, `{"error":"loading import run failed"}`, http.StatusInternalServerError)
		}
		return
	}

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		slog.Error("websocket upgrade failed", "error", err)
		return
	}
	defer func() { _ = conn.CloseNow() }()

	// Long-lived connection; lift the server write deadline.
	rc := http.NewResponseController(w)
	_ = rc.SetWriteDeadline(time.Time{})

	h.streamProgress(r.Context(), conn, identity.TenantID, id)
}

func (h *Handler) streamProgress(ctx context.Context, conn *websocket.Conn, tenantID string, id uuid.UUID) {
	ticker := time.NewTicker(wsPollInterval)
	defer ticker.Stop()

	for {
		run, err := h.loadRun(ctx, tenantID, id)
		if err != nil {
			_ = conn.Close(websocket.StatusInternalError, "loading import run failed")
			return
		}

		msg := wsProgressMessage{
			RunID:    run.ID.String(),
			State:    run.State,
			Progress: run.Progress,
		}
		if run.State.Terminal() {
			msg.Summary = run.Summary
			msg.Done = true
		}
		if err := wsjson.Write(ctx, conn, msg); err != nil {
			return
		}
		if msg.Done {
			_ = conn.Close(websocket.StatusNormalClosure, "")
			return
		}

		select {
		case <-ctx.Done():
			_ = conn.Close(websocket.StatusGoingAway, "")
			return
		case <-ticker.C:
		}
	}
}

func (h *Handler) loadRun(ctx context.Context, tenantID string, id uuid.UUID) (*Run, error) {
	var run *Run
	err := database.WithTenantConnection(ctx, h.pool, tenantID, func(ctx context.Context, q database.Querier) error {
		var getErr error
		run, getErr = h.store.GetByID(ctx, q, id)
		return getErr
	})
	return run, err
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
