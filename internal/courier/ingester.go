package courier

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shipmark-io/shipmark/internal/platform/database"
	"github.com/shipmark-io/shipmark/internal/platform/metrics"
	"github.com/shipmark-io/shipmark/internal/shipment"
)

// CourierLister lists the couriers eligible for polling.
type CourierLister interface {
	ListPollable(ctx context.Context, q database.Querier) ([]Courier, error)
}

// ShipmentStore is the slice of the shipment store the ingester needs.
type ShipmentStore interface {
	ListPollable(ctx context.Context, q database.Querier, courierCode string, lookback time.Duration, now time.Time) ([]shipment.Shipment, error)
	InsertHistoryEntry(ctx context.Context, q database.Querier, entry shipment.StatusHistoryEntry) (bool, error)
	LatestHistoryEntry(ctx context.Context, q database.Querier, shipmentID uuid.UUID) (*shipment.StatusHistoryEntry, error)
	UpdateStatus(ctx context.Context, q database.Querier, shipmentID uuid.UUID, status shipment.Status, raw json.RawMessage, actualDelivery *time.Time) error
}

// IngesterConfig bounds the polling sweep.
type IngesterConfig struct {
	// Lookback excludes shipments whose updated_at is older; stalled
	// shipments are not re-polled by this path.
	Lookback time.Duration
	// ShipmentDelay paces requests to one courier's API.
	ShipmentDelay time.Duration
}

// Ingester polls courier APIs for a tenant's in-flight shipments and folds
// new tracking events into status history. The caller must guarantee that
// no two sweeps process the same shipment concurrently; within a sweep,
// shipments of one courier are processed strictly sequentially.
type Ingester struct {
	couriers  CourierLister
	shipments ShipmentStore
	registry  *Registry
	cfg       IngesterConfig
	now       func() time.Time
}

func NewIngester(couriers CourierLister, shipments ShipmentStore, registry *Registry, cfg IngesterConfig) *Ingester {
	if cfg.Lookback <= 0 {
		cfg.Lookback = 14 * 24 * time.Hour
	}
	return &Ingester{
		couriers:  couriers,
		shipments: shipments,
		registry:  registry,
		cfg:       cfg,
		now:       time.Now,
	}
}

// RunTenant sweeps every pollable courier of the current tenant. A failure
// on one shipment is logged and never aborts the courier's remaining
// shipments; it is retried on the next scheduled sweep.
func (i *Ingester) RunTenant(ctx context.Context, q database.Querier) error {
	couriers, err := i.couriers.ListPollable(ctx, q)
	if err != nil {
		return err
	}

	for _, c := range couriers {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		i.sweepCourier(ctx, q, c)
	}
	return nil
}

func (i *Ingester) sweepCourier(ctx context.Context, q database.Querier, c Courier) {
	shipments, err := i.shipments.ListPollable(ctx, q, c.Code, i.cfg.Lookback, i.now())
	if err != nil {
		slog.Error("listing pollable shipments failed", "courier", c.Code, "error", err)
		return
	}

	strategy := i.registry.Resolve(c.Code)

	for idx, sh := range shipments {
		if ctx.Err() != nil {
			return
		}
		if idx > 0 && i.cfg.ShipmentDelay > 0 {
			select {
			case <-ctx.Done():
				return
			case <-time.After(i.cfg.ShipmentDelay):
			}
		}

		start := time.Now()
		events, err := strategy.FetchStatus(ctx, c, sh)
		metrics.CourierFetchDuration.Observe(time.Since(start).Seconds())
		if err != nil {
			metrics.CourierFetchesTotal.WithLabelValues(c.Code, "error").Inc()
			slog.Warn("courier status fetch failed",
				"courier", c.Code,
				"shipment_id", sh.ID,
				"tracking_number", sh.TrackingNumber,
				"error", err,
			)
			continue
		}
		metrics.CourierFetchesTotal.WithLabelValues(c.Code, "ok").Inc()

		if err := i.ingestEvents(ctx, q, sh, events); err != nil {
			slog.Error("ingesting tracking events failed",
				"courier", c.Code,
				"shipment_id", sh.ID,
				"error", err,
			)
		}
	}
}

// ingestEvents appends new history entries and applies latest-by-time-wins
// to the shipment's current status.
func (i *Ingester) ingestEvents(ctx context.Context, q database.Querier, sh shipment.Shipment, events []TrackingEvent) error {
	insertedAny := false

	for _, event := range events {
		if event.HappenedAt.IsZero() {
			metrics.TrackingEventsSkippedTotal.Inc()
			slog.Warn("dropping tracking event without parseable datetime",
				"shipment_id", sh.ID,
				"action", event.Action,
			)
			continue
		}

		inserted, err := i.shipments.InsertHistoryEntry(ctx, q, shipment.StatusHistoryEntry{
			ShipmentID:  sh.ID,
			Status:      event.Status,
			Description: event.Action,
			Location:    event.Location,
			HappenedAt:  event.HappenedAt,
			RawResponse: event.Raw,
		})
		if err != nil {
			return err
		}
		if !inserted {
			metrics.TrackingEventsSkippedTotal.Inc()
			continue
		}
		metrics.TrackingEventsIngestedTotal.Inc()
		insertedAny = true
	}

	if !insertedAny {
		return nil
	}

	// The max-happened_at entry decides the current status; a late-arriving
	// older event must not override a newer one.
	latest, err := i.shipments.LatestHistoryEntry(ctx, q, sh.ID)
	if err != nil {
		return err
	}
	if latest == nil || latest.Status == sh.Status {
		return nil
	}

	var actualDelivery *time.Time
	if latest.Status == shipment.StatusDelivered {
		t := latest.HappenedAt
		actualDelivery = &t
	}

	return i.shipments.UpdateStatus(ctx, q, sh.ID, latest.Status, latest.RawResponse, actualDelivery)
}
