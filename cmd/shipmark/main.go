package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/shipmark-io/shipmark/internal/auth"
	"github.com/shipmark-io/shipmark/internal/courier"
	"github.com/shipmark-io/shipmark/internal/platform/config"
	"github.com/shipmark-io/shipmark/internal/platform/database"
	"github.com/shipmark-io/shipmark/internal/platform/metrics"
	"github.com/shipmark-io/shipmark/internal/platform/server"
	"github.com/shipmark-io/shipmark/internal/platform/telemetry"
	"github.com/shipmark-io/shipmark/internal/reportimport"
	"github.com/shipmark-io/shipmark/internal/shipment"
	"github.com/shipmark-io/shipmark/internal/tenant"
	"github.com/shipmark-io/shipmark/internal/webhook"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// Load configuration
	cfg, err := config.Load("config.yaml")
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	// Setup logging
	logger := telemetry.NewLogger(cfg.Log.Level, cfg.Log.Format)
	telemetry.SetDefault(logger)

	slog.Info("shipmark starting",
		"version", "0.3.0",
		"port", cfg.Server.Port,
	)

	metrics.Register()

	// Connect to database (optional for startup — will retry)
	ctx := context.Background()
	var pool *database.Pool

	if cfg.Database.URL != "" {
		slog.Info("connecting to database")
		p, err := database.Connect(ctx, cfg.Database.URL, cfg.Database.MaxConns)
		if err != nil {
			slog.Warn("database connection failed, starting without DB", "error", err)
		} else {
			pool = p
			defer pool.Close()

			if err := database.RunMigrations(ctx, pool, cfg.Database.MigrationsPath); err != nil {
				return fmt.Errorf("running migrations: %w", err)
			}
			slog.Info("migrations complete")
		}
	}

	// Replay cache — Redis when configured, in-process fallback otherwise.
	// The fallback only dedupes nonces within one instance.
	replayCache := buildReplayCache(ctx, cfg.Redis)

	// Auth
	tokenSvc := auth.NewTokenService(
		cfg.Auth.JWT.SigningKey,
		cfg.Auth.JWT.Issuer,
		cfg.Auth.JWT.ExpiryHours,
	)

	verifierCfg := webhook.VerifierConfig{
		Mode:         webhook.ParseMode(cfg.Webhook.Mode),
		GlobalSecret: cfg.Webhook.GlobalSecret,
		MaxSkew:      time.Duration(cfg.Webhook.MaxSkewSeconds) * time.Second,
		ReplayTTL:    time.Duration(cfg.Webhook.ReplayTTLSeconds) * time.Second,
	}

	// Courier integrations
	registry := courier.DefaultRegistry(
		courier.NewACSStrategy(time.Duration(cfg.Poller.FetchTimeoutSeconds) * time.Second),
	)

	// Stores and handlers
	var (
		tenantHandler   *tenant.Handler
		tenantStore     *tenant.Store
		courierHandler  *courier.Handler
		shipmentHandler *shipment.Handler
		importHandler   *reportimport.Handler
		webhookHandler  *webhook.Handler
	)
	if pool != nil {
		tenantStore = tenant.NewStore(pool)
		tenantHandler = tenant.NewHandler(tenantStore)
		courierHandler = courier.NewHandler(pool, courier.NewStore())
		shipmentHandler = shipment.NewHandler(pool, shipment.NewStore())
		importHandler = reportimport.NewHandler(pool, reportimport.NewStore(), cfg.Importer.UploadDir, tokenSvc)
		webhookHandler = webhook.NewHandler(pool, tenantStore, shipment.NewStore(), replayCache, verifierCfg)

		if err := os.MkdirAll(cfg.Importer.UploadDir, 0o750); err != nil {
			return fmt.Errorf("creating upload dir: %w", err)
		}
	}

	// Dev mode identity
	var devIdentity *auth.Identity
	if cfg.Auth.DevMode {
		slog.Warn("running in dev mode — authentication bypassed with 'Bearer dev'")
		devIdentity = &auth.Identity{
			UserID:   "dev-user",
			TenantID: "dev-tenant",
			Roles:    []string{"admin"},
		}
	}

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := server.New(addr, server.Dependencies{
		Pool:               pool,
		Auth:               tokenSvc,
		TenantHandler:      tenantHandler,
		CourierHandler:     courierHandler,
		ShipmentHandler:    shipmentHandler,
		ImportHandler:      importHandler,
		WebhookHandler:     webhookHandler,
		DevMode:            cfg.Auth.DevMode,
		DevIdentity:        devIdentity,
		Logger:             logger,
		CORSAllowedOrigins: cfg.Server.CORSOrigins,
	})

	// Graceful shutdown on SIGINT/SIGTERM
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	group, ctx := errgroup.WithContext(ctx)

	if worker := buildCourierPollWorker(pool, registry, cfg.Poller); worker != nil {
		group.Go(func() error { return worker.Run(ctx) })
		slog.Info("courier poll worker started", "interval_seconds", cfg.Poller.IntervalSeconds)
	}
	if worker := buildReportImportWorker(pool, cfg.Importer); worker != nil {
		group.Go(func() error { return worker.Run(ctx) })
		slog.Info("report import worker started", "poll_interval_seconds", cfg.Importer.PollIntervalSeconds)
	}

	group.Go(func() error { return srv.Start(ctx) })

	slog.Info("server ready", "addr", addr, "dev_mode", cfg.Auth.DevMode)
	return group.Wait()
}

// buildReplayCache prefers Redis so nonce replay protection spans
// instances; without it the in-memory cache still protects a single
// instance.
func buildReplayCache(ctx context.Context, cfg config.RedisConfig) webhook.ReplayCache {
	if cfg.Addr == "" {
		slog.Warn("redis not configured, using in-memory replay cache")
		return webhook.NewMemoryReplayCache()
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		slog.Warn("redis ping failed, using in-memory replay cache", "error", err)
		return webhook.NewMemoryReplayCache()
	}

	slog.Info("redis replay cache connected", "addr", cfg.Addr)
	return webhook.NewRedisReplayCache(client)
}
