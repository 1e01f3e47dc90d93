// Package server assembles the HTTP surface: public health, metrics, and
// webhook routes, plus the authenticated tenant-scoped API.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shipmark-io/shipmark/internal/auth"
	"github.com/shipmark-io/shipmark/internal/courier"
	"github.com/shipmark-io/shipmark/internal/platform/middleware"
	"github.com/shipmark-io/shipmark/internal/reportimport"
	"github.com/shipmark-io/shipmark/internal/shipment"
	"github.com/shipmark-io/shipmark/internal/tenant"
	"github.com/shipmark-io/shipmark/internal/webhook"
)

// Dependencies holds all injected dependencies for the server.
type Dependencies struct {
	Pool               *pgxpool.Pool
	Auth               *auth.TokenService
	TenantHandler      *tenant.Handler
	CourierHandler     *courier.Handler
	ShipmentHandler    *shipment.Handler
	ImportHandler      *reportimport.Handler
	WebhookHandler     *webhook.Handler
	DevMode            bool
	DevIdentity        *auth.Identity
	Logger             *slog.Logger
	CORSAllowedOrigins []string
}

type Server struct {
	httpServer   *http.Server
	protectedMux *http.ServeMux
	pool         *pgxpool.Pool
	handler      http.Handler
}

func New(addr string, deps Dependencies) *Server {
	// Protected routes mux — wrapped with auth middleware
	protectedMux := http.NewServeMux()

	var protectedHandler http.Handler = protectedMux
	protectedHandler = middleware.TenantContext(protectedHandler)
	if deps.Auth != nil {
		if deps.DevMode && deps.DevIdentity != nil {
			protectedHandler = auth.MiddlewareWithDevMode(deps.Auth, deps.DevIdentity)(protectedHandler)
		} else {
			protectedHandler = auth.Middleware(deps.Auth)(protectedHandler)
		}
	}

	topMux := http.NewServeMux()

	s := &Server{
		httpServer: &http.Server{
			Addr:         addr,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		protectedMux: protectedMux,
		pool:         deps.Pool,
	}

	// Public routes (no auth required)
	topMux.HandleFunc("GET /healthz", s.handleHealth)
	topMux.HandleFunc("GET /readyz", s.handleReadiness)
	topMux.Handle("GET /metrics", promhttp.Handler())

	// Order pushes authenticate via HMAC signature, not bearer token.
	if deps.WebhookHandler != nil {
		topMux.Handle("POST /api/v1/webhooks/orders/{tenantID}",
			http.HandlerFunc(deps.WebhookHandler.HandleOrderPush),
		)
	}

	// WebSocket progress stream authenticates via access_token query
	// parameter inside the handler.
	if deps.ImportHandler != nil {
		topMux.Handle("GET /api/v1/imports/{id}/ws",
			http.HandlerFunc(deps.ImportHandler.HandleProgressWS),
		)
	}

	// Admin routes (tenant provisioning)
	if deps.TenantHandler != nil {
		adminOnly := auth.RequireRole("admin")
		protectedMux.Handle("POST /api/v1/tenants",
			adminOnly(http.HandlerFunc(deps.TenantHandler.HandleCreate)))
		protectedMux.Handle("GET /api/v1/tenants",
			adminOnly(http.HandlerFunc(deps.TenantHandler.HandleList)))
		protectedMux.Handle("GET /api/v1/tenants/{id}",
			adminOnly(http.HandlerFunc(deps.TenantHandler.HandleGet)))
		protectedMux.Handle("GET /api/v1/tenants/{id}/webhook-secret",
			adminOnly(http.HandlerFunc(deps.TenantHandler.HandleGetWebhookSecret)))
		protectedMux.Handle("POST /api/v1/tenants/{id}/webhook-secret/rotate",
			adminOnly(http.HandlerFunc(deps.TenantHandler.HandleRotateWebhookSecret)))
		protectedMux.Handle("PUT /api/v1/tenants/{id}/webhook-mode",
			adminOnly(http.HandlerFunc(deps.TenantHandler.HandleSetWebhookMode)))
	}

	// Tenant-scoped routes
	if deps.CourierHandler != nil {
		deps.CourierHandler.RegisterRoutes(protectedMux)
	}
	if deps.ShipmentHandler != nil {
		deps.ShipmentHandler.RegisterRoutes(protectedMux)
	}
	if deps.ImportHandler != nil {
		protectedMux.HandleFunc("POST /api/v1/imports", deps.ImportHandler.HandleCreate)
		protectedMux.HandleFunc("GET /api/v1/imports", deps.ImportHandler.HandleList)
		protectedMux.HandleFunc("GET /api/v1/imports/{id}", deps.ImportHandler.HandleGet)
		protectedMux.HandleFunc("POST /api/v1/imports/{id}/cancel", deps.ImportHandler.HandleCancel)
	}

	// All other routes go through auth middleware
	topMux.Handle("/", protectedHandler)

	// Wrap top-level mux with observability middleware
	var handler http.Handler = topMux
	if deps.Logger != nil {
		handler = middleware.Logging(deps.Logger)(handler)
	}
	handler = middleware.RequestID(handler)
	if len(deps.CORSAllowedOrigins) > 0 {
		handler = middleware.CORS(deps.CORSAllowedOrigins)(handler)
	}

	s.handler = handler
	s.httpServer.Handler = handler
	return s
}

// Handler returns the full middleware-wrapped handler chain (for testing).
func (s *Server) Handler() http.Handler {
	return s.handler
}

// ProtectedMux returns the mux for authenticated routes.
func (s *Server) ProtectedMux() *http.ServeMux {
	return s.protectedMux
}

func (s *Server) Start(ctx context.Context) error {
	lc := net.ListenConfig{}
	listener, err := lc.Listen(ctx, "tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.httpServer.Addr, err)
	}

	slog.Info("server starting", "addr", listener.Addr().String())

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		slog.Info("server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.httpServer.Shutdown(shutdownCtx)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleReadiness(w http.ResponseWriter, r *http.Request) {
	if s.pool == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "not ready",
			"reason": "database not connected",
		})
		return
	}

	if err := s.pool.Ping(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "not ready",
			"reason": "database ping failed",
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
