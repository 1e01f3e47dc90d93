package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shipmark-io/shipmark/internal/courier"
	"github.com/shipmark-io/shipmark/internal/platform/config"
	"github.com/shipmark-io/shipmark/internal/platform/database"
	"github.com/shipmark-io/shipmark/internal/shipment"
)

const (
	defaultPollInterval       = 15 * time.Minute
	defaultTenantScanPageSize = 100
)

// courierPollWorker periodically sweeps every tenant's pollable couriers
// and ingests fresh tracking events.
type courierPollWorker struct {
	pool     *database.Pool
	ingester *courier.Ingester
	interval time.Duration
	pageSize int
}

func buildCourierPollWorker(pool *database.Pool, registry *courier.Registry, cfg config.PollerConfig) *courierPollWorker {
	if pool == nil || !cfg.Enabled {
		return nil
	}

	interval := time.Duration(cfg.IntervalSeconds) * time.Second
	if interval <= 0 {
		interval = defaultPollInterval
	}

	pageSize := cfg.TenantScanPageSize
	if pageSize <= 0 {
		pageSize = defaultTenantScanPageSize
	}

	ingester := courier.NewIngester(
		courier.NewStore(),
		shipment.NewStore(),
		registry,
		courier.IngesterConfig{
			Lookback:      time.Duration(cfg.LookbackDays) * 24 * time.Hour,
			ShipmentDelay: time.Duration(cfg.ShipmentDelayMillis) * time.Millisecond,
		},
	)

	return &courierPollWorker{
		pool:     pool,
		ingester: ingester,
		interval: interval,
		pageSize: pageSize,
	}
}

func (w *courierPollWorker) Run(ctx context.Context) error {
	if w == nil || w.pool == nil {
		return nil
	}

	w.sweep(ctx)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			w.sweep(ctx)
		}
	}
}

func (w *courierPollWorker) sweep(ctx context.Context) {
	tenantIDs, err := listTenantIDs(ctx, w.pool, w.pageSize)
	if err != nil {
		slog.Error("courier poll worker failed to list tenants", "error", err)
		return
	}

	for _, tenantID := range tenantIDs {
		if ctx.Err() != nil {
			return
		}

		tenantErr := database.WithTenantConnection(ctx, w.pool, tenantID, func(ctx context.Context, q database.Querier) error {
			return w.ingester.RunTenant(ctx, q)
		})
		if tenantErr != nil {
			slog.Error("courier poll worker tenant sweep failed",
				"tenant_id", tenantID,
				"error", tenantErr,
			)
		}
	}
}

func listTenantIDs(ctx context.Context, pool *database.Pool, pageSize int) ([]string, error) {
	if pageSize <= 0 {
		return nil, fmt.Errorf("tenant scan page size must be positive")
	}

	tenantIDs := make([]string, 0, pageSize)
	var cursor uuid.UUID
	hasCursor := false

	for {
		var (
			rows pgx.Rows
			err  error
		)
		if hasCursor {
			rows, err = pool.Query(ctx,
				`SELECT id::text
				 FROM tenants
				 WHERE id > $1
				 ORDER BY id ASC
				 LIMIT $2`,
				cursor,
				pageSize,
			)
		} else {
			rows, err = pool.Query(ctx,
				`SELECT id::text
				 FROM tenants
				 ORDER BY id ASC
				 LIMIT $1`,
				pageSize,
			)
		}
		if err != nil {
			return nil, err
		}

		pageCount := 0
		lastCursor := cursor
		for rows.Next() {
			var tenantID string
			if scanErr := rows.Scan(&tenantID); scanErr != nil {
				rows.Close()
				return nil, scanErr
			}
			parsed, parseErr := uuid.Parse(tenantID)
			if parseErr != nil {
				rows.Close()
				return nil, parseErr
			}
			tenantIDs = append(tenantIDs, tenantID)
			lastCursor = parsed
			pageCount++
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return nil, err
		}

		if pageCount < pageSize {
			return tenantIDs, nil
		}
		cursor = lastCursor
		hasCursor = true
	}
}
